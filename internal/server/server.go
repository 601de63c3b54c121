// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/daypilot/internal/app"
	"github.com/jeranaias/daypilot/internal/config"
	"github.com/jeranaias/daypilot/internal/logging"
	"github.com/jeranaias/daypilot/internal/plan"
	"github.com/jeranaias/daypilot/internal/providers"
	"github.com/jeranaias/daypilot/internal/reasoning"
)

const (
	// DefaultRunTimeout bounds a single planning request.
	DefaultRunTimeout = 3 * time.Minute

	maxRequestBody = 64 << 10

	// StatusClientClosedRequest is the de facto status for a request the
	// client abandoned before the run finished.
	StatusClientClosedRequest = 499
)

// Version is reported by /healthz.
var Version = "dev"

// Planner runs one planning request. *app.App implements it.
type Planner interface {
	Plan(ctx context.Context, req app.Request, progress plan.ProgressCallback) (plan.State, error)
}

// ============================================================================
// RUN STATS
// ============================================================================

// Stats counts planning requests since start.
type Stats struct {
	Runs      int64     `json:"runs"`
	Succeeded int64     `json:"succeeded"`
	Failed    int64     `json:"failed"`
	StartTime time.Time `json:"start_time"`
}

type runStats struct {
	runs      atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	start     time.Time
}

func (s *runStats) record(err error) {
	s.runs.Add(1)
	if err != nil {
		s.failed.Add(1)
		return
	}
	s.succeeded.Add(1)
}

func (s *runStats) snapshot() Stats {
	return Stats{
		Runs:      s.runs.Load(),
		Succeeded: s.succeeded.Load(),
		Failed:    s.failed.Load(),
		StartTime: s.start,
	}
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP front end for planning runs.
type Server struct {
	planner Planner
	logger  *logging.Logger
	limiter *RateLimiter
	stats   *runStats
	handler http.Handler

	mu         sync.RWMutex
	cfg        config.ServerConfig
	authToken  string
	runTimeout time.Duration

	server *http.Server
}

// New creates a Server. Call Reload to apply a changed config later.
func New(cfg config.ServerConfig, planner Planner, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	s := &Server{
		planner: planner,
		logger:  logger,
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		stats:   &runStats{start: time.Now()},
	}
	s.apply(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/plan", s.handlePlan)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.handler = Chain(
		RecoveryMiddleware(logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(logger),
		RateLimitMiddleware(s.limiter, logger),
		AuthMiddleware(s.token, logger),
	)(mux)
	return s
}

func (s *Server) apply(cfg config.ServerConfig) {
	timeout := cfg.RunTimeout.Duration
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	s.mu.Lock()
	s.cfg = cfg
	s.authToken = cfg.AuthToken
	s.runTimeout = timeout
	s.mu.Unlock()
}

// Reload applies new auth, rate limit and timeout settings. The listen
// address only changes on restart.
func (s *Server) Reload(cfg config.ServerConfig) {
	s.apply(cfg)
	s.limiter.SetLimit(cfg.RateLimit, cfg.RateBurst)
	s.logger.Info("SERVER_RELOADED", "auth", cfg.AuthToken != "", "rate_limit", cfg.RateLimit)
}

func (s *Server) token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authToken
}

// Handler returns the full middleware chain around the routes.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
}

// ============================================================================
// PLAN HANDLER
// ============================================================================

// PlanRequest is the body of POST /v1/plan.
type PlanRequest struct {
	Input       string   `json:"input"`
	WorkHours   string   `json:"work_hours,omitempty"`
	Commitments []string `json:"commitments,omitempty"`
	NoWeather   bool     `json:"no_weather,omitempty"`
	NoRecovery  bool     `json:"no_recovery,omitempty"`
}

// Block is one scheduled block on the wire.
type Block struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Task      string    `json:"task"`
	Rationale string    `json:"rationale,omitempty"`
	Fixed     bool      `json:"is_fixed"`
}

// ContextEntry reports one context provider's outcome.
type ContextEntry struct {
	Kind      string `json:"kind"`
	Available bool   `json:"available"`
	Text      string `json:"text,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// PlanResponse is the body of a successful POST /v1/plan.
type PlanResponse struct {
	RunID        string          `json:"run_id"`
	Presentation string          `json:"presentation"`
	Priorities   []plan.Priority `json:"priorities"`
	Schedule     []Block         `json:"schedule"`
	Strategy     string          `json:"strategy"`
	Context      []ContextEntry  `json:"context"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Message   string `json:"message"`
	Stage     string `json:"stage,omitempty"`
	Retryable bool   `json:"retryable"`
	Hint      string `json:"hint,omitempty"`
	Code      int    `json:"code"`
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req PlanRequest
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), nil)
		return
	}

	s.mu.RLock()
	timeout := s.runTimeout
	s.mu.RUnlock()
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	state, err := s.planner.Plan(ctx, app.Request{
		Input:       req.Input,
		WorkHours:   req.WorkHours,
		Commitments: req.Commitments,
		NoWeather:   req.NoWeather,
		NoRecovery:  req.NoRecovery,
	}, nil)
	s.stats.record(err)
	if err != nil {
		status := statusFor(r.Context(), err)
		var pe *plan.PipelineError
		if errors.As(err, &pe) {
			s.logger.WithRun(state.RunID).Warn("PLAN_FAILED", "stage", pe.Stage, "status", status, "error", err)
		} else {
			s.logger.Error("PLAN_FAILED", "status", status, "error", err)
		}
		writeError(w, status, err.Error(), err)
		return
	}

	writeJSON(w, http.StatusOK, NewPlanResponse(state))
}

// statusFor maps a run error to an HTTP status. reqCtx distinguishes a
// client that went away from a run that hit its own deadline.
func statusFor(reqCtx context.Context, err error) int {
	var (
		empty     *plan.EmptyInputError
		format    *plan.ReasoningFormatError
		invariant *plan.ScheduleInvariantError
		transport *reasoning.TransportError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if reqCtx.Err() != nil {
			return StatusClientClosedRequest
		}
		return http.StatusServiceUnavailable
	case errors.As(err, &empty):
		return http.StatusBadRequest
	case errors.As(err, &format), errors.As(err, &invariant):
		return http.StatusUnprocessableEntity
	case errors.As(err, &transport):
		return http.StatusBadGateway
	case errors.Is(err, reasoning.ErrNoAPIKey), errors.Is(err, reasoning.ErrUnknownBackend):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewPlanResponse converts a finished run to its wire form.
func NewPlanResponse(s plan.State) PlanResponse {
	resp := PlanResponse{
		RunID:        s.RunID,
		Presentation: s.Presentation,
		Priorities:   s.Priorities,
		Schedule:     make([]Block, 0, len(s.Schedule)),
		Strategy:     s.Strategy,
	}
	if resp.Priorities == nil {
		resp.Priorities = []plan.Priority{}
	}
	for _, b := range s.Schedule {
		resp.Schedule = append(resp.Schedule, Block{
			Start:     b.Start,
			End:       b.End,
			Task:      b.Task,
			Rationale: b.Rationale,
			Fixed:     b.Fixed,
		})
	}
	for _, kind := range providers.Kinds {
		entry, ok := s.Context[kind]
		if !ok {
			continue
		}
		ce := ContextEntry{Kind: string(kind), Available: entry.Available()}
		if ce.Available {
			ce.Text = entry.Payload.PromptText()
		} else if entry.Unavailable != nil {
			ce.Reason = entry.Unavailable.Reason
		}
		resp.Context = append(resp.Context, ce)
	}
	return resp
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Stats   Stats  `json:"stats"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.stats.snapshot()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: Version,
		Uptime:  time.Since(stats.StartTime).Truncate(time.Second).String(),
		Stats:   stats,
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.runTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Info("SERVER_START", "addr", ln.Addr().String(), "version", Version)
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for runs in flight.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	s.logger.Info("SERVER_SHUTDOWN")
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": ErrorBody}. Pipeline errors add their stage
// and retry advice.
func writeError(w http.ResponseWriter, status int, message string, err error) {
	body := ErrorBody{Message: message, Code: status}
	var pe *plan.PipelineError
	if errors.As(err, &pe) {
		body.Stage = string(pe.Stage)
		body.Retryable = pe.Retryable
		body.Hint = pe.Hint()
	}
	writeJSON(w, status, map[string]ErrorBody{"error": body})
}
