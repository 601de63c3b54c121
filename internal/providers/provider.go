// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package providers defines optional context providers and the collector
// that runs them.
//
// A provider enriches a planning run with location, weather or recovery
// data. Providers are never required: the Collector runs them concurrently
// under a per-provider timeout with bounded retry, and any failure becomes
// an Unavailable marker in the resulting Set instead of an error.
package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeranaias/daypilot/internal/profile"
)

// Kind names a context provider.
type Kind string

// Provider kinds.
const (
	KindLocation Kind = "location"
	KindWeather  Kind = "weather"
	KindRecovery Kind = "recovery"
)

// Kinds lists every kind in presentation order.
var Kinds = []Kind{KindLocation, KindWeather, KindRecovery}

// Request carries the run parameters providers need.
type Request struct {
	Now      time.Time
	Zone     *time.Location
	Location *profile.Location // nil when no location is confirmed
}

// LocalMidnight returns the end of the planning day for r.Now in r.Zone.
func (r Request) LocalMidnight() time.Time {
	zone := r.Zone
	if zone == nil {
		zone = time.Local
	}
	n := r.Now.In(zone)
	return time.Date(n.Year(), n.Month(), n.Day()+1, 0, 0, 0, 0, zone)
}

// Payload is inert provider data merged into the planning state.
type Payload interface {
	Kind() Kind
	// PromptText renders the payload for the reasoning prompt.
	PromptText() string
}

// Presenter is implemented by payloads that contribute to the final
// presentation (the weather table, the recovery line).
type Presenter interface {
	PresentMarkdown() string
}

// Provider fetches one kind of context.
type Provider interface {
	Kind() Kind
	Fetch(ctx context.Context, req Request) (Payload, error)
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConfigured means the provider lacks a key, token or location.
	ErrNotConfigured = errors.New("provider not configured")
	// ErrUnauthorized means stored credentials were rejected.
	ErrUnauthorized = errors.New("provider unauthorized")
)

// permanentError marks an error that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the collector does not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p) || errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrUnauthorized)
}

// Reasons recorded on Unavailable entries.
const (
	ReasonTimeout       = "timeout"
	ReasonCanceled      = "canceled"
	ReasonNotConfigured = "not configured"
	ReasonUnauthorized  = "unauthorized"
	ReasonFailed        = "failed"
)

// Unavailable records why a provider produced no data. It is the absent
// value merged into context; stages treat it exactly like a missing key.
type Unavailable struct {
	Kind     Kind
	Reason   string
	Attempts int
	Err      error
}

func (u *Unavailable) Error() string {
	if u.Err == nil {
		return fmt.Sprintf("%s unavailable: %s", u.Kind, u.Reason)
	}
	return fmt.Sprintf("%s unavailable: %s: %v", u.Kind, u.Reason, u.Err)
}

func (u *Unavailable) Unwrap() error { return u.Err }

// reasonFor classifies a terminal fetch error.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.Is(err, ErrNotConfigured):
		return ReasonNotConfigured
	case errors.Is(err, ErrUnauthorized):
		return ReasonUnauthorized
	default:
		return ReasonFailed
	}
}
