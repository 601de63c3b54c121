// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/daypilot/internal/app"
	"github.com/jeranaias/daypilot/internal/capture"
	"github.com/jeranaias/daypilot/internal/config"
	"github.com/jeranaias/daypilot/internal/location"
	"github.com/jeranaias/daypilot/internal/plan"
	"github.com/jeranaias/daypilot/internal/providers"
	"github.com/jeranaias/daypilot/internal/reasoning"
	"github.com/jeranaias/daypilot/internal/ui/styles"
	"github.com/jeranaias/daypilot/internal/whoop"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAuthError     = 4
	ExitNetworkError  = 5
	ExitNotFoundError = 7
	ExitTimeoutError  = 8
	ExitInterrupted   = 130
)

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	var (
		empty     *plan.EmptyInputError
		transport *reasoning.TransportError
		invalid   config.ValidationErrors
		usage     *UsageError
	)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeoutError
	case errors.As(err, &empty), errors.As(err, &usage), errors.Is(err, capture.ErrEmptyMessage):
		return ExitUsageError
	case errors.As(err, &invalid), errors.Is(err, reasoning.ErrNoAPIKey), errors.Is(err, reasoning.ErrUnknownBackend),
		errors.Is(err, location.ErrNoAPIKey), errors.Is(err, whoop.ErrMissingClient):
		return ExitConfigError
	case errors.Is(err, providers.ErrUnauthorized), errors.Is(err, whoop.ErrNotConnected), errors.Is(err, whoop.ErrStateMismatch):
		return ExitAuthError
	case errors.As(err, &transport):
		return ExitNetworkError
	case errors.Is(err, app.ErrNoLocation), errors.Is(err, location.ErrNoMatch):
		return ExitNotFoundError
	default:
		return ExitGeneralError
	}
}

// UsageError is a problem with how a command was invoked.
type UsageError struct {
	Reason string
}

func (e *UsageError) Error() string { return e.Reason }

func usageErrorf(format string, args ...any) error {
	return &UsageError{Reason: fmt.Sprintf(format, args...)}
}

// =============================================================================
// ERROR DISPLAY
// =============================================================================

// DisplayError prints err once. Pipeline failures name the stage and say
// whether running the plan again may help.
func DisplayError(w io.Writer, err error) {
	if err == nil {
		return
	}
	var pe *plan.PipelineError
	if errors.As(err, &pe) {
		fmt.Fprintln(w, styles.RenderError(fmt.Sprintf("Planning failed at the %s stage: %v", stageName(pe.Stage), pe.Err)))
		fmt.Fprintln(w, styles.RenderMuted(pe.Hint()))
		return
	}
	fmt.Fprintln(w, styles.RenderError(err.Error()))
}

func stageName(s plan.Stage) string {
	switch s {
	case plan.StageCreate:
		return "create schedule"
	default:
		return string(s)
	}
}
