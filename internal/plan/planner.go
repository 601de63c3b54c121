// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"context"
	"errors"
	"strings"

	"github.com/jeranaias/daypilot/internal/logging"
	"github.com/jeranaias/daypilot/internal/reasoning"
	"github.com/jeranaias/daypilot/internal/util"
)

const (
	// maxAttempts is the first call plus one corrective retry.
	maxAttempts = 2
	// maxReplySize bounds the reasoning text we are willing to decode.
	maxReplySize = 1 << 20
)

// Planner runs the two reasoning stages against a Reasoner.
type Planner struct {
	reasoner reasoning.Reasoner
	logger   *logging.Logger
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithPlannerLogger sets the logger used for retry events.
func WithPlannerLogger(l *logging.Logger) PlannerOption {
	return func(p *Planner) { p.logger = l }
}

// NewPlanner creates a Planner.
func NewPlanner(r reasoning.Reasoner, opts ...PlannerOption) *Planner {
	p := &Planner{reasoner: r, logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// attemptResult is one validated (or rejected) reasoning reply.
type attemptResult[T any] struct {
	value     T
	problems  []string // format problems, or invariant violations when invariant is set
	invariant bool
}

// consult asks the reasoner, validates the reply with check, and retries
// once with a corrective prompt. The last attempt decides the error.
func consult[T any](ctx context.Context, p *Planner, stage Stage, prompt string, check func(string) attemptResult[T]) (T, *attemptResult[T], error) {
	var zero T
	if p.reasoner == nil {
		return zero, nil, &reasoning.TransportError{Backend: "none", Err: errors.New("no reasoning backend configured")}
	}

	current := prompt
	var last attemptResult[T]
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, err := p.reasoner.Reason(ctx, current)
		if ctx.Err() != nil {
			// Best effort: whatever came back after cancellation is discarded.
			return zero, nil, ctx.Err()
		}
		if err != nil {
			return zero, nil, asTransportError(err)
		}

		last = check(text)
		if len(last.problems) == 0 {
			return last.value, nil, nil
		}
		if attempt < maxAttempts {
			p.logger.Warn("REASONING_RETRY",
				"stage", string(stage),
				"invariant", last.invariant,
				"problems", strings.Join(last.problems, "; "))
			current = correctivePrompt(prompt, last.problems)
		}
	}
	return zero, &last, nil
}

func asTransportError(err error) error {
	var te *reasoning.TransportError
	if errors.As(err, &te) {
		return err
	}
	return &reasoning.TransportError{Backend: "reasoner", Attempts: 1, Err: err}
}

// stripFences removes markdown code fences and any prose around the
// outermost JSON object.
func stripFences(text string) string {
	return util.JSONObject(text)
}
