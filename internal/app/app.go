// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app wires configuration, the profile store, the context providers
// and the reasoning backend into planning runs. The CLI and the HTTP server
// both plan through an App.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jeranaias/daypilot/internal/config"
	"github.com/jeranaias/daypilot/internal/location"
	"github.com/jeranaias/daypilot/internal/logging"
	"github.com/jeranaias/daypilot/internal/plan"
	"github.com/jeranaias/daypilot/internal/profile"
	"github.com/jeranaias/daypilot/internal/providers"
	"github.com/jeranaias/daypilot/internal/reasoning"
	"github.com/jeranaias/daypilot/internal/storage"
	"github.com/jeranaias/daypilot/internal/weather"
	"github.com/jeranaias/daypilot/internal/whoop"
)

// PassphraseEnv selects a passphrase-derived sealing key instead of the
// random key file.
const PassphraseEnv = "DAYPILOT_PASSPHRASE"

// ErrNoLocation means the profile holds no confirmed location.
var ErrNoLocation = errors.New("no confirmed location (run: daypilot location set <place>)")

// Request is one planning request from a user surface.
type Request struct {
	Input       string
	WorkHours   string
	Commitments []string
	NoWeather   bool
	NoRecovery  bool
}

// App owns the long-lived dependencies of daypilot. Every Plan call reads a
// fresh profile snapshot and commits provider changes when it returns.
type App struct {
	store  *storage.Store
	logger *logging.Logger
	clock  func() time.Time

	runnerOpts []plan.RunnerOption
	whoopOpts  []whoop.Option

	mu        sync.RWMutex
	cfg       *config.Config
	planner   *plan.Planner
	backend   reasoning.Reasoner
	reasonErr error
	weather   *weather.Client
	reasoner  reasoning.Reasoner
}

// Option configures an App.
type Option func(*App)

// WithClock overrides the clock for runs and token expiry.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.clock = now }
}

// WithReasoner replaces the configured reasoning backend.
func WithReasoner(r reasoning.Reasoner) Option {
	return func(a *App) { a.reasoner = r }
}

// WithRunnerOptions adds options to every runner the App builds.
func WithRunnerOptions(opts ...plan.RunnerOption) Option {
	return func(a *App) { a.runnerOpts = append(a.runnerOpts, opts...) }
}

// WithWhoopOptions adds options to every WHOOP client the App builds.
func WithWhoopOptions(opts ...whoop.Option) Option {
	return func(a *App) { a.whoopOpts = append(a.whoopOpts, opts...) }
}

// New creates an App around an open store.
func New(cfg *config.Config, store *storage.Store, logger *logging.Logger, opts ...Option) *App {
	if logger == nil {
		logger = logging.NopLogger()
	}
	a := &App{store: store, logger: logger, clock: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	a.configure(cfg)
	return a
}

// Open opens the profile store named by cfg and creates an App.
func Open(cfg *config.Config, logger *logging.Logger, opts ...Option) (*App, error) {
	sealer, err := openSealer(cfg)
	if err != nil {
		return nil, fmt.Errorf("open credential key: %w", err)
	}
	path, err := cfg.DatabasePath()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(path, sealer)
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}
	return New(cfg, store, logger, opts...), nil
}

func openSealer(cfg *config.Config) (*storage.Sealer, error) {
	keyPath, err := cfg.KeyFilePath()
	if err != nil {
		return nil, err
	}
	if pass := os.Getenv(PassphraseEnv); pass != "" {
		return storage.SealerFromPassphrase(pass, filepath.Join(filepath.Dir(keyPath), "secret.salt"))
	}
	return storage.SealerFromKeyFile(keyPath)
}

// Reload swaps in a new configuration. Runs already in flight keep the
// configuration they started with.
func (a *App) Reload(cfg *config.Config) {
	a.configure(cfg)
	a.logger.Info("CONFIG_RELOADED", "backend", cfg.Reasoning.Backend)
}

func (a *App) configure(cfg *config.Config) {
	var (
		planner   *plan.Planner
		reasonErr error
	)
	r := a.reasoner
	if r == nil {
		r, reasonErr = reasoning.New(cfg.Reasoning, a.logger)
	}
	if reasonErr == nil {
		planner = plan.NewPlanner(r, plan.WithPlannerLogger(a.logger))
	}

	wx := weather.NewClient(
		weather.WithBaseURL(cfg.Providers.WeatherURL),
		weather.WithCache(a.store, cfg.Providers.WeatherTTL.Duration),
	)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg.Clone()
	a.planner = planner
	a.backend = r
	a.reasonErr = reasonErr
	a.weather = wx
}

// Config returns a copy of the active configuration.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg.Clone()
}

// Reasoner returns the active reasoning backend.
func (a *App) Reasoner() (reasoning.Reasoner, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.reasonErr != nil {
		return nil, fmt.Errorf("reasoning backend: %w", a.reasonErr)
	}
	return a.backend, nil
}

// Logger returns the application logger.
func (a *App) Logger() *logging.Logger { return a.logger }

// Store returns the profile store.
func (a *App) Store() *storage.Store { return a.store }

// Close releases the profile store.
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// =============================================================================
// PLANNING
// =============================================================================

// Plan runs the pipeline once. The profile is read before the run and
// refreshed credentials are written after it, whatever the outcome.
func (a *App) Plan(ctx context.Context, req Request, progress plan.ProgressCallback) (plan.State, error) {
	a.mu.RLock()
	cfg, planner, reasonErr, wx := a.cfg, a.planner, a.reasonErr, a.weather
	a.mu.RUnlock()

	if reasonErr != nil {
		return plan.State{}, fmt.Errorf("reasoning backend: %w", reasonErr)
	}

	prof, err := a.store.Snapshot(ctx)
	if err != nil {
		return plan.State{}, fmt.Errorf("load profile: %w", err)
	}

	ps := []providers.Provider{location.NewProvider(prof.Location)}
	if cfg.Providers.Weather && !req.NoWeather {
		ps = append(ps, weather.NewProvider(wx))
	}
	var recovery *whoop.Provider
	if cfg.Providers.Recovery && !req.NoRecovery {
		recovery = whoop.NewProvider(a.whoopClient(cfg, prof))
		ps = append(ps, recovery)
	}

	opts := append(a.baseRunnerOptions(cfg), a.runnerOpts...)
	if progress != nil {
		opts = append(opts, plan.WithProgress(progress))
	}
	s, runErr := plan.NewRunner(planner, opts...).Run(ctx, plan.Request{
		Input:       req.Input,
		WorkHours:   req.WorkHours,
		Commitments: req.Commitments,
		Place:       prof.Location,
		Providers:   ps,
	})

	if recovery != nil {
		a.commit(ctx, s.RunID, recovery.Commit())
	}
	return s, runErr
}

func (a *App) commit(ctx context.Context, runID string, c profile.Commit) {
	if c.Empty() {
		return
	}
	// The refreshed tokens must be kept even if the run itself was canceled.
	if err := a.store.CommitRun(context.WithoutCancel(ctx), c); err != nil {
		a.logger.WithRun(runID).Warn("PROFILE_COMMIT_FAILED", "error", err)
		return
	}
	a.logger.WithRun(runID).Debug("PROFILE_COMMITTED", "credentials", len(c.Credentials))
}

func (a *App) baseRunnerOptions(cfg *config.Config) []plan.RunnerOption {
	p := cfg.Providers
	return []plan.RunnerOption{
		plan.WithClock(a.clock),
		plan.WithLogger(a.logger),
		plan.WithDefaultWorkHours(cfg.Planning.WorkHours),
		plan.WithMaxInputRunes(cfg.Planning.MaxInputRunes),
		plan.WithCollectorOptions(
			providers.WithTimeout(p.Timeout.Duration),
			providers.WithRetry(providers.RetryPolicy{Attempts: p.Attempts, Backoff: p.Backoff.Duration}),
			providers.WithRateLimit(p.RatePerSecond, len(providers.Kinds)),
		),
	}
}

// whoopClient returns nil when no account is connected.
func (a *App) whoopClient(cfg *config.Config, prof profile.Profile) *whoop.Client {
	cred, ok := prof.Credential(profile.ProviderWhoop)
	if !ok {
		return nil
	}
	opts := append([]whoop.Option{whoop.WithBaseURL(cfg.Whoop.APIURL), whoop.WithClock(a.clock)}, a.whoopOpts...)
	return whoop.NewClient(cred, oauthConfig(cfg), opts...)
}

func oauthConfig(cfg *config.Config) whoop.OAuthConfig {
	w := cfg.Whoop
	return whoop.OAuthConfig{
		ClientID:     w.ClientID,
		ClientSecret: w.ClientSecret,
		AuthURL:      w.AuthURL,
		TokenURL:     w.TokenURL,
		RedirectHost: w.RedirectHost,
		RedirectPort: w.RedirectPort,
		Scope:        w.Scope,
	}
}
