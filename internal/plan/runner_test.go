// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jeranaias/daypilot/internal/providers"
	"github.com/jeranaias/daypilot/internal/reasoning"
	"github.com/jeranaias/daypilot/internal/reasoning/reasoningtest"
)

func newTestRunner(r reasoning.Reasoner, opts ...RunnerOption) *Runner {
	base := []RunnerOption{
		WithClock(fixedClock),
		WithZone(time.UTC),
		WithMeterProvider(noop.NewMeterProvider()),
		WithCollectorOptions(
			providers.WithTimeout(100*time.Millisecond),
			providers.WithRetry(providers.RetryPolicy{Attempts: 1}),
		),
	}
	return NewRunner(NewPlanner(r), append(base, opts...)...)
}

func assertWithinDay(t *testing.T, s State) {
	t.Helper()
	assert.Empty(t, ValidateSchedule(s.Schedule, s.Now, s.LocalMidnight()))
	for _, b := range s.Schedule {
		assert.False(t, b.Start.Before(s.Now))
		assert.False(t, b.End.After(s.LocalMidnight()))
	}
}

// Scenario: three comma separated tasks, no context providers at all.
func TestRunThreeTasksWithoutContext(t *testing.T) {
	script := reasoningtest.New(analysisReply, scheduleReply)
	s, err := newTestRunner(script).Run(context.Background(), Request{Input: threeTasks})
	require.NoError(t, err)

	assert.NotEmpty(t, s.RunID)
	assert.Equal(t, threeTasks, s.RawInput)
	assert.Len(t, s.Priorities, 3)
	assert.Len(t, s.Schedule, 3)
	assertWithinDay(t, s)
	assert.Contains(t, s.Presentation, "| 10:00 - 12:00 | Finish report |")
	assert.Equal(t, 2, script.Calls())
}

// Scenario: the weather provider times out and the plan is still presented.
func TestRunWeatherTimeoutOmitsWeather(t *testing.T) {
	script := reasoningtest.New(analysisReply, scheduleReply)
	s, err := newTestRunner(script).Run(context.Background(), Request{
		Input:     threeTasks,
		Providers: []providers.Provider{hangingProvider{kind: providers.KindWeather}},
	})
	require.NoError(t, err)

	entry, ok := s.Context[providers.KindWeather]
	require.True(t, ok)
	require.NotNil(t, entry.Unavailable)
	assert.Equal(t, providers.ReasonTimeout, entry.Unavailable.Reason)

	assert.NotContains(t, s.Presentation, "Weather")
	assert.Contains(t, s.Presentation, "| 12:30 - 13:30 | Gym |")
	assert.Contains(t, script.Prompts()[0], "Weather: unavailable.")
}

// Scenario: overlapping blocks first, valid blocks on the retry.
func TestRunUsesRetriedSchedule(t *testing.T) {
	script := reasoningtest.New(analysisReply, overlappingReply, scheduleReply)
	s, err := newTestRunner(script).Run(context.Background(), Request{Input: threeTasks})
	require.NoError(t, err)

	assert.Equal(t, 3, script.Calls())
	assert.Equal(t, "Deep work early, movement at noon.", s.Strategy)
	assertWithinDay(t, s)
	assert.Contains(t, script.Prompts()[2], "overlaps")
}

// Scenario: overlapping blocks on both attempts fail the run.
func TestRunFailsOnPersistentOverlap(t *testing.T) {
	script := reasoningtest.New(analysisReply, overlappingReply, overlappingReply)
	s, err := newTestRunner(script).Run(context.Background(), Request{Input: threeTasks})
	require.Error(t, err)

	var pe *PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, StageCreate, pe.Stage)
	assert.True(t, pe.Retryable)

	var ie *ScheduleInvariantError
	assert.True(t, errors.As(err, &ie))
	assert.Empty(t, s.Presentation)
	assert.Empty(t, s.Schedule)
	assert.Equal(t, 3, script.Calls())

	stage, ok := StageOf(err)
	assert.True(t, ok)
	assert.Equal(t, StageCreate, stage)
}

func TestRunEmptyInput(t *testing.T) {
	script := reasoningtest.New()
	_, err := newTestRunner(script).Run(context.Background(), Request{Input: "   \n  "})

	var pe *PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, StageGather, pe.Stage)
	assert.False(t, pe.Retryable)
	assert.Equal(t, "Fix the input and try again.", pe.Hint())

	var empty *EmptyInputError
	assert.True(t, errors.As(err, &empty))
	assert.Zero(t, script.Calls())
}

func TestRunWithAnyProviderSubsetReachesPresent(t *testing.T) {
	failing := map[providers.Kind]providers.Provider{
		providers.KindLocation: staticProvider{kind: providers.KindLocation, err: providers.ErrNotConfigured},
		providers.KindWeather:  hangingProvider{kind: providers.KindWeather},
		providers.KindRecovery: staticProvider{kind: providers.KindRecovery, err: fmt.Errorf("whoop: %w", providers.ErrUnauthorized)},
	}
	working := map[providers.Kind]providers.Provider{
		providers.KindWeather:  staticProvider{kind: providers.KindWeather, payload: weatherPayload()},
		providers.KindRecovery: staticProvider{kind: providers.KindRecovery, payload: recoveryPayload()},
	}

	// Every combination of missing, failing and working providers.
	for mask := 0; mask < 27; mask++ {
		var ps []providers.Provider
		m := mask
		for _, kind := range providers.Kinds {
			switch m % 3 {
			case 1:
				ps = append(ps, failing[kind])
			case 2:
				if p, ok := working[kind]; ok {
					ps = append(ps, p)
				}
			}
			m /= 3
		}
		script := reasoningtest.New(analysisReply, scheduleReply)
		s, err := newTestRunner(script).Run(context.Background(), Request{Input: threeTasks, Providers: ps})
		require.NoError(t, err, "mask %d", mask)
		assert.NotEmpty(t, s.Presentation, "mask %d", mask)
	}
}

func TestRunPresentsAvailableContext(t *testing.T) {
	script := reasoningtest.New(analysisReply, scheduleReply)
	s, err := newTestRunner(script).Run(context.Background(), Request{
		Input: threeTasks,
		Providers: []providers.Provider{
			staticProvider{kind: providers.KindWeather, payload: weatherPayload()},
			staticProvider{kind: providers.KindRecovery, payload: recoveryPayload()},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, s.Presentation, "### Weather")
	assert.Contains(t, s.Presentation, "**Recovery:** Recovery 34%")
	assert.Contains(t, script.Prompts()[0], "Recovery: 34%")
	assert.Contains(t, script.Prompts()[1], "Recovery: 34%")
}

func TestRunCanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	script := reasoningtest.New(analysisReply, scheduleReply)
	_, err := newTestRunner(script).Run(ctx, Request{Input: threeTasks})

	var pe *PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, StageGather, pe.Stage)
	assert.False(t, pe.Retryable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, script.Calls())
}

func TestRunCanceledDuringReasoning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	script := reasoningtest.New()
	script.Block = true

	done := make(chan error, 1)
	go func() {
		_, err := newTestRunner(script).Run(ctx, Request{Input: threeTasks})
		done <- err
	}()

	require.Eventually(t, func() bool { return script.Calls() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		var pe *PipelineError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, StageAnalyze, pe.Stage)
		assert.False(t, pe.Retryable)
		assert.Equal(t, "The run was canceled before it finished.", pe.Hint())
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
}

func TestRunConcurrentRunsAreIndependent(t *testing.T) {
	// One reasoner serves every run and answers from the prompt content.
	reasoner := reasoning.Func(func(_ context.Context, prompt string) (string, error) {
		name := "alpha"
		if strings.Contains(prompt, "bravo") {
			name = "bravo"
		}
		if strings.HasPrefix(prompt, "Create a time-blocked schedule") {
			return fmt.Sprintf(`{"blocks":[{"start":"10:00","end":"11:00","task":"%s errand","is_fixed":false}],"strategy":"%s"}`, name, name), nil
		}
		return fmt.Sprintf(`{"priorities":[{"task":"%s errand","urgency":3,"importance":3,"duration_hours":1,"non_negotiable":true}],"total_available_hours":8}`, name), nil
	})
	runner := newTestRunner(reasoner)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 40; i++ {
		name := "alpha"
		if i%2 == 1 {
			name = "bravo"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := runner.Run(context.Background(), Request{Input: name + " errand"})
			if err != nil {
				errs <- err
				return
			}
			other := map[string]string{"alpha": "bravo", "bravo": "alpha"}[name]
			if s.Priorities[0].Task != name+" errand" || s.Schedule[0].Task != name+" errand" || s.Strategy != name ||
				strings.Contains(s.Presentation, other) {
				errs <- fmt.Errorf("run for %s saw foreign state: %+v", name, s.Priorities)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestRunTracesEveryStage(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	script := reasoningtest.New(analysisReply, overlappingReply, overlappingReply)
	_, err := newTestRunner(script, WithTracerProvider(tp)).Run(context.Background(), Request{Input: threeTasks})
	require.Error(t, err)

	names := map[string]sdktrace.ReadOnlySpan{}
	for _, span := range recorder.Ended() {
		names[span.Name()] = span
	}
	for _, want := range []string{"daypilot.plan", "daypilot.stage.gather", "daypilot.stage.analyze", "daypilot.stage.create_schedule"} {
		assert.Contains(t, names, want)
	}
	assert.NotContains(t, names, "daypilot.stage.present")
	assert.Equal(t, "Error", names["daypilot.stage.create_schedule"].Status().Code.String())
}

func TestRunReportsProgress(t *testing.T) {
	var (
		mu     sync.Mutex
		events []Progress
	)
	script := reasoningtest.New(analysisReply, scheduleReply)
	_, err := newTestRunner(script, WithProgress(func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, p)
	})).Run(context.Background(), Request{Input: threeTasks})
	require.NoError(t, err)

	require.Len(t, events, 8)
	for i, stage := range Stages {
		start, done := events[2*i], events[2*i+1]
		assert.Equal(t, stage, start.Stage)
		assert.False(t, start.Done)
		assert.Equal(t, i+1, start.Index)
		assert.Equal(t, 4, start.Total)
		assert.True(t, done.Done)
		assert.NoError(t, done.Err)
	}
}

func TestRunAppliesDefaultWorkHours(t *testing.T) {
	script := reasoningtest.New(analysisReply, scheduleReply)
	s, err := newTestRunner(script, WithDefaultWorkHours("8am-4pm")).Run(context.Background(), Request{Input: threeTasks})
	require.NoError(t, err)
	assert.Equal(t, "8am-4pm", s.WorkHours)
	assert.Contains(t, script.Prompts()[0], "Work hours: 8am-4pm")
}
