// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeranaias/daypilot/internal/logging"
	"github.com/jeranaias/daypilot/internal/profile"
	"github.com/jeranaias/daypilot/internal/providers"
)

const instrumentationName = "github.com/jeranaias/daypilot/internal/plan"

// =============================================================================
// REQUEST
// =============================================================================

// Request is everything one run needs from its caller.
type Request struct {
	// Input is free text describing the day's tasks, often one per line.
	Input string
	// WorkHours is free text such as "9am-6pm". Empty uses the runner default.
	WorkHours string
	// Commitments are fixed appointments, one per entry.
	Commitments []string

	// Place is the confirmed location from the profile snapshot, if any.
	// It sets the planning time zone and is passed to providers.
	Place *profile.Location
	// Providers are collected concurrently with Gather.
	Providers []providers.Provider
	// Context is context gathered before the run; collected entries are
	// layered over it.
	Context providers.Set
}

// =============================================================================
// PROGRESS
// =============================================================================

// Progress reports a stage transition.
type Progress struct {
	Stage Stage
	Index int // 1-based position in Stages
	Total int
	Done  bool
	Err   error
}

// ProgressCallback is called from the goroutine running the pipeline.
type ProgressCallback func(Progress)

// =============================================================================
// RUNNER
// =============================================================================

// Runner sequences the stages. It keeps no per-run state, so one Runner
// may serve concurrent runs.
type Runner struct {
	planner          *Planner
	now              func() time.Time
	zone             *time.Location
	defaultWorkHours string
	maxInputRunes    int
	collectorOpts    []providers.Option
	logger           *logging.Logger
	tracer           trace.Tracer
	stageDuration    metric.Float64Histogram
	runs             metric.Int64Counter
	onProgress       ProgressCallback
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithClock overrides the clock.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// WithZone sets the zone used when a request has no confirmed place.
func WithZone(z *time.Location) RunnerOption {
	return func(r *Runner) {
		if z != nil {
			r.zone = z
		}
	}
}

// WithDefaultWorkHours sets the work hours used when a request has none.
func WithDefaultWorkHours(h string) RunnerOption {
	return func(r *Runner) { r.defaultWorkHours = h }
}

// WithMaxInputRunes bounds the raw input.
func WithMaxInputRunes(n int) RunnerOption {
	return func(r *Runner) { r.maxInputRunes = n }
}

// WithCollectorOptions configures provider collection for every run.
func WithCollectorOptions(opts ...providers.Option) RunnerOption {
	return func(r *Runner) { r.collectorOpts = append(r.collectorOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithTracerProvider sets where stage spans go.
func WithTracerProvider(tp trace.TracerProvider) RunnerOption {
	return func(r *Runner) { r.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider sets where stage metrics go.
func WithMeterProvider(mp metric.MeterProvider) RunnerOption {
	return func(r *Runner) { r.initMetrics(mp.Meter(instrumentationName)) }
}

// WithProgress registers a progress callback.
func WithProgress(cb ProgressCallback) RunnerOption {
	return func(r *Runner) { r.onProgress = cb }
}

// NewRunner creates a Runner around planner. Tracing and metrics default
// to the global OpenTelemetry providers.
func NewRunner(planner *Planner, opts ...RunnerOption) *Runner {
	r := &Runner{
		planner:       planner,
		now:           time.Now,
		zone:          time.Local,
		maxInputRunes: DefaultMaxInputRunes,
		logger:        logging.NopLogger(),
		tracer:        otel.GetTracerProvider().Tracer(instrumentationName),
	}
	r.initMetrics(otel.GetMeterProvider().Meter(instrumentationName))
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) initMetrics(meter metric.Meter) {
	// Instrument creation only fails on invalid names; a nil instrument
	// simply records nothing.
	r.stageDuration, _ = meter.Float64Histogram(
		"daypilot.stage.duration",
		metric.WithDescription("Planning stage duration"),
		metric.WithUnit("s"),
	)
	r.runs, _ = meter.Int64Counter(
		"daypilot.runs",
		metric.WithDescription("Planning runs by outcome"),
		metric.WithUnit("1"),
	)
}

// Run executes one planning run. On failure it returns a *PipelineError
// naming the stage; the returned State then holds whatever earlier stages
// produced and never a presentation.
func (r *Runner) Run(ctx context.Context, req Request) (State, error) {
	runID := uuid.NewString()
	log := r.logger.WithRun(runID)

	ctx, span := r.tracer.Start(ctx, "daypilot.plan", trace.WithAttributes(attribute.String("daypilot.run_id", runID)))
	defer span.End()

	zone := r.zone
	if req.Place != nil {
		zone = req.Place.TimeZone()
	}
	now := r.now()
	if req.WorkHours == "" {
		req.WorkHours = r.defaultWorkHours
	}

	s := State{RunID: runID, Location: zone}
	log.Info("PIPELINE_START", "providers", len(req.Providers), "zone", zone.String())

	// Context collection runs alongside Gather and is joined before Analyze.
	collectCtx, cancelCollect := context.WithCancel(ctx)
	defer cancelCollect()
	var (
		collected providers.Set
		wg        conc.WaitGroup
	)
	collector := providers.NewCollector(req.Providers, append([]providers.Option{providers.WithLogger(log)}, r.collectorOpts...)...)
	wg.Go(func() {
		collected = collector.Collect(collectCtx, providers.Request{Now: now, Zone: zone, Location: req.Place})
	})
	// Never leave the collection goroutine behind, whatever the outcome.
	defer wg.Wait()

	var err error
	s, err = r.stage(ctx, s, StageGather, log, func(_ context.Context, s State) (State, error) {
		return Gather(s, Request{Input: req.Input, WorkHours: req.WorkHours, Commitments: req.Commitments}, now, r.maxInputRunes)
	})
	if err != nil {
		cancelCollect()
		return r.finish(ctx, span, log, s, err)
	}

	wg.Wait()
	s = s.clone()
	s.Context = req.Context.Merge(collected)
	for _, kind := range s.Context.Unavailable() {
		span.AddEvent("context unavailable", trace.WithAttributes(attribute.String("daypilot.provider", string(kind))))
	}

	steps := []struct {
		stage Stage
		fn    func(context.Context, State) (State, error)
	}{
		{StageAnalyze, r.planner.Analyze},
		{StageCreate, r.planner.CreateSchedule},
		{StagePresent, func(_ context.Context, s State) (State, error) { return Present(s), nil }},
	}
	for _, step := range steps {
		s, err = r.stage(ctx, s, step.stage, log, step.fn)
		if err != nil {
			return r.finish(ctx, span, log, s, err)
		}
	}
	return r.finish(ctx, span, log, s, nil)
}

// stage runs one stage inside its own span after checking for cancellation.
func (r *Runner) stage(ctx context.Context, s State, stage Stage, log *logging.Logger, fn func(context.Context, State) (State, error)) (State, error) {
	if err := ctx.Err(); err != nil {
		return s, newPipelineError(stage, err)
	}

	index := stageIndex(stage)
	r.progress(Progress{Stage: stage, Index: index, Total: len(Stages)})

	ctx, span := r.tracer.Start(ctx, "daypilot.stage."+string(stage), trace.WithAttributes(attribute.String("daypilot.stage", string(stage))))
	defer span.End()

	start := time.Now()
	next, err := fn(ctx, s)
	elapsed := time.Since(start)

	if r.stageDuration != nil {
		r.stageDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
			attribute.String("stage", string(stage)),
			attribute.Bool("ok", err == nil),
		))
	}

	if err != nil {
		pe := newPipelineError(stage, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("daypilot.retryable", pe.Retryable))
		r.progress(Progress{Stage: stage, Index: index, Total: len(Stages), Done: true, Err: pe})
		log.WithStage(string(stage)).Error("STAGE_FAILED", "duration_ms", elapsed.Milliseconds(), "retryable", pe.Retryable, "error", err)
		return s, pe
	}

	span.SetStatus(codes.Ok, "")
	r.progress(Progress{Stage: stage, Index: index, Total: len(Stages), Done: true})
	log.WithStage(string(stage)).Info("STAGE_DONE", "duration_ms", elapsed.Milliseconds())
	return next, nil
}

func (r *Runner) finish(ctx context.Context, span trace.Span, log *logging.Logger, s State, err error) (State, error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if r.runs != nil {
		r.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	if err != nil {
		return s, err
	}
	log.Info("PIPELINE_DONE", "blocks", len(s.Schedule), "priorities", len(s.Priorities))
	return s, nil
}

func (r *Runner) progress(p Progress) {
	if r.onProgress != nil {
		r.onProgress(p)
	}
}

func stageIndex(stage Stage) int {
	for i, s := range Stages {
		if s == stage {
			return i + 1
		}
	}
	return 0
}
