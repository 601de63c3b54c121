// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reasoning provides the natural-language reasoning backends the
// planner delegates prioritization and scheduling judgment to.
//
// A Reasoner turns a prompt into text. Backends handle transport concerns
// only (auth, bounded retry, response limits); interpreting and validating
// the text is the caller's job.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jeranaias/daypilot/internal/config"
	"github.com/jeranaias/daypilot/internal/logging"
)

// Reasoner is an external reasoning capability.
type Reasoner interface {
	Reason(ctx context.Context, prompt string) (string, error)
}

// Func adapts a function to Reasoner.
type Func func(ctx context.Context, prompt string) (string, error)

// Reason implements Reasoner.
func (f Func) Reason(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

// Backend names.
const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

// SystemPrompt frames every request.
const SystemPrompt = "You are a careful personal planning assistant. " +
	"Respond with a single valid JSON object and nothing else."

const (
	maxResponseSize = 4 << 20
	maxBackoff      = 10 * time.Second
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoAPIKey means the hosted backend has no API key.
	ErrNoAPIKey = errors.New("reasoning: API key not configured")
	// ErrUnknownBackend means the configured backend name is not supported.
	ErrUnknownBackend = errors.New("reasoning: unknown backend")
	// ErrEmptyResponse means the backend answered without any content.
	ErrEmptyResponse = errors.New("reasoning: empty response")
)

// StatusError is a non-200 reply from a backend.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

// TransportError is the terminal failure of a reasoning call after the
// bounded retry budget is spent or a non-retryable error occurred.
type TransportError struct {
	Backend    string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s reasoning failed after %d attempt(s): %v", e.Backend, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable reports whether a single attempt's error is worth retrying:
// network failures, 429 and 5xx are; cancellation and other 4xx are not.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrNoAPIKey) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true
}

// =============================================================================
// SHARED CLIENT SETTINGS
// =============================================================================

type settings struct {
	baseURL    string
	model      string
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
}

// Option configures a backend client.
type Option func(*settings)

// WithBaseURL overrides the endpoint root.
func WithBaseURL(u string) Option {
	return func(s *settings) {
		if u != "" {
			s.baseURL = u
		}
	}
}

// WithModel overrides the model name.
func WithModel(m string) Option {
	return func(s *settings) {
		if m != "" {
			s.model = m
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(s *settings) { s.httpClient = h }
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRetry sets how many times a retryable failure is retried and the
// initial backoff, which doubles per attempt.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(s *settings) {
		if maxRetries >= 0 {
			s.maxRetries = maxRetries
		}
		if backoff > 0 {
			s.backoff = backoff
		}
	}
}

// WithLogger sets the logger for retry events.
func WithLogger(l *logging.Logger) Option {
	return func(s *settings) { s.logger = l }
}

func newSettings(baseURL, model string, opts []Option) settings {
	s := settings{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{},
		timeout:    120 * time.Second,
		maxRetries: 3,
		backoff:    time.Second,
		logger:     logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (s *settings) delay(attempt int) time.Duration {
	d := s.backoff << (attempt - 1)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return d
}

// call runs one logical request with bounded retry and exponential backoff.
func (s *settings) call(ctx context.Context, backend string, attempt func(ctx context.Context) (string, error)) (string, error) {
	var lastErr error
	attempts := 0
	for i := 0; i <= s.maxRetries; i++ {
		if i > 0 {
			s.logger.Warn("REASONING_TRANSPORT_RETRY", "backend", backend, "attempt", i+1, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", transportError(backend, attempts, ctx.Err())
			case <-time.After(s.delay(i)):
			}
		}

		attempts++
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		text, err := attempt(callCtx)
		cancel()
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", transportError(backend, attempts, ctx.Err())
		}
		if !IsRetryable(err) {
			break
		}
	}
	return "", transportError(backend, attempts, lastErr)
}

func transportError(backend string, attempts int, err error) *TransportError {
	te := &TransportError{Backend: backend, Attempts: attempts, Err: err}
	var se *StatusError
	if errors.As(err, &se) {
		te.StatusCode = se.Code
	}
	return te
}

// =============================================================================
// CONSTRUCTION FROM CONFIG
// =============================================================================

// New builds the backend selected by cfg.
func New(cfg config.ReasoningConfig, logger *logging.Logger) (Reasoner, error) {
	opts := []Option{
		WithTimeout(cfg.Timeout.Duration),
		WithRetry(cfg.MaxRetries, cfg.RetryBackoff.Duration),
		WithLogger(logger),
	}
	switch cfg.Backend {
	case BackendOpenAI, "":
		if cfg.APIKey == "" {
			return nil, ErrNoAPIKey
		}
		opts = append(opts, WithBaseURL(cfg.BaseURL), WithModel(cfg.Model))
		return NewOpenAI(cfg.APIKey, opts...), nil
	case BackendOllama:
		opts = append(opts, WithBaseURL(cfg.OllamaURL), WithModel(cfg.OllamaModel))
		return NewOllama(opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
