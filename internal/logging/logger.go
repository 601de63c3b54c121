// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging provides structured logging for daypilot.
//
// It wraps log/slog with the child-logger helpers the pipeline uses
// (WithRun, WithStage, WithProvider) and a NopLogger for tests.
// Messages are EVENT_NAME style constants, e.g. "STAGE_DONE".
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log levels accepted by New.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Output formats accepted by New.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Options configure a Logger.
type Options struct {
	Level  string // DEBUG, INFO, WARN, ERROR (default INFO)
	Format string // json or text (default text)
	File   string // optional log file; empty means the writer passed to New
}

// Logger is a structured logger. It is safe for concurrent use.
type Logger struct {
	logger *slog.Logger
	closer io.Closer
	mu     *sync.Mutex
}

// New creates a Logger writing to w, or to opts.File when set.
func New(w io.Writer, opts Options) (*Logger, error) {
	var closer io.Closer
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = f
		closer = f
	}
	if w == nil {
		w = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var handler slog.Handler
	if strings.EqualFold(opts.Format, FormatJSON) {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	return &Logger{logger: slog.New(handler), closer: closer, mu: &sync.Mutex{}}, nil
}

// NopLogger returns a Logger that discards everything.
func NopLogger() *Logger {
	return &Logger{
		logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1})),
		mu:     &sync.Mutex{},
	}
}

// ParseLevel converts a level name to a slog.Level, defaulting to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn, "WARNING":
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRun returns a child logger tagged with a planning run ID.
func (l *Logger) WithRun(runID string) *Logger {
	return l.With("run_id", runID)
}

// WithStage returns a child logger tagged with a pipeline stage name.
func (l *Logger) WithStage(stage string) *Logger {
	return l.With("stage", stage)
}

// WithProvider returns a child logger tagged with a context provider name.
func (l *Logger) WithProvider(provider string) *Logger {
	return l.With("provider", provider)
}

// With returns a child logger with extra key/value attributes.
func (l *Logger) With(args ...any) *Logger {
	if l == nil || len(args) == 0 {
		return l
	}
	return &Logger{logger: l.logger.With(args...), closer: l.closer, mu: l.mu}
}

// Slog exposes the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}

func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	if l == nil {
		return
	}
	l.logger.Log(context.Background(), level, msg, args...)
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.closer.Close()
	l.closer = nil
	return err
}
