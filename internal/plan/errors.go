// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/daypilot/internal/reasoning"
)

// EmptyInputError is returned by Gather for missing or unusable input.
type EmptyInputError struct {
	Reason string
}

func (e *EmptyInputError) Error() string {
	return "empty input: " + e.Reason
}

// ReasoningFormatError means the reasoning output could not be decoded
// into the expected shape, even after the corrective retry.
type ReasoningFormatError struct {
	Stage    Stage
	Attempts int
	Problems []string
}

func (e *ReasoningFormatError) Error() string {
	return fmt.Sprintf("%s: malformed reasoning output after %d attempt(s): %s",
		e.Stage, e.Attempts, strings.Join(e.Problems, "; "))
}

// ScheduleInvariantError means the proposed schedule broke a block
// invariant on both attempts. Violations come from the last attempt.
type ScheduleInvariantError struct {
	Attempts   int
	Violations []string
}

func (e *ScheduleInvariantError) Error() string {
	return fmt.Sprintf("schedule invalid after %d attempt(s): %s",
		e.Attempts, strings.Join(e.Violations, "; "))
}

// PipelineError wraps the fatal error of a run with the stage that failed.
type PipelineError struct {
	Stage     Stage
	Err       error
	Retryable bool
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Hint is the user-facing advice for the failure.
func (e *PipelineError) Hint() string {
	switch {
	case errors.Is(e.Err, context.Canceled), errors.Is(e.Err, context.DeadlineExceeded):
		return "The run was canceled before it finished."
	case e.Retryable:
		return "Running the plan again may succeed."
	default:
		return "Fix the input and try again."
	}
}

func newPipelineError(stage Stage, err error) *PipelineError {
	return &PipelineError{Stage: stage, Err: err, Retryable: retryable(err)}
}

// retryable reports whether re-running the pipeline could plausibly
// succeed: reasoning failures yes, bad input and cancellation no.
func retryable(err error) bool {
	var (
		empty     *EmptyInputError
		format    *ReasoningFormatError
		invariant *ScheduleInvariantError
		transport *reasoning.TransportError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.As(err, &empty):
		return false
	case errors.As(err, &format), errors.As(err, &invariant), errors.As(err, &transport):
		return true
	default:
		return false
	}
}

// StageOf returns the stage a pipeline error came from.
func StageOf(err error) (Stage, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage, true
	}
	return "", false
}
