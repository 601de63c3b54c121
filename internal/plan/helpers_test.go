// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/daypilot/internal/providers"
)

// 09:30:27 UTC on a Monday; Gather truncates it to 09:30.
var testClock = time.Date(2026, 10, 19, 9, 30, 27, 0, time.UTC)

func fixedClock() time.Time { return testClock }

const threeTasks = "finish report, gym, call mom"

const analysisReply = "```json\n" + `{
  "priorities": [
    {"task": "Finish report", "urgency": 5, "importance": 5, "duration_hours": 2, "non_negotiable": true, "reasoning": "Due today"},
    {"task": "Gym", "urgency": 2, "importance": 4, "duration_hours": 1, "non_negotiable": false, "reasoning": "Energy"},
    {"task": "Call mom", "urgency": 3, "importance": 4, "duration_hours": 0.5, "non_negotiable": true, "reasoning": "Promised"}
  ],
  "total_available_hours": 7.5,
  "strategy_note": "Report first while fresh."
}` + "\n```"

const scheduleReply = `{
  "blocks": [
    {"start": "10:00", "end": "12:00", "task": "Finish report", "rationale": "Peak focus", "is_fixed": false},
    {"start": "12:30", "end": "13:30", "task": "Gym", "rationale": "Midday reset", "is_fixed": false},
    {"start": "17:00", "end": "17:30", "task": "Call mom", "rationale": "After work", "is_fixed": true}
  ],
  "strategy": "Deep work early, movement at noon."
}`

const overlappingReply = `{
  "blocks": [
    {"start": "10:00", "end": "12:00", "task": "Finish report", "is_fixed": false},
    {"start": "11:00", "end": "12:30", "task": "Gym", "is_fixed": false},
    {"start": "17:00", "end": "17:30", "task": "Call mom", "is_fixed": false}
  ],
  "strategy": "Overbooked."
}`

// fakePayload is a context payload with fixed renderings.
type fakePayload struct {
	kind     providers.Kind
	prompt   string
	markdown string
}

func (p fakePayload) Kind() providers.Kind    { return p.kind }
func (p fakePayload) PromptText() string      { return p.prompt }
func (p fakePayload) PresentMarkdown() string { return p.markdown }

// staticProvider returns its payload or error immediately.
type staticProvider struct {
	kind    providers.Kind
	payload providers.Payload
	err     error
}

func (p staticProvider) Kind() providers.Kind { return p.kind }

func (p staticProvider) Fetch(context.Context, providers.Request) (providers.Payload, error) {
	return p.payload, p.err
}

// hangingProvider never answers before its context ends.
type hangingProvider struct {
	kind providers.Kind
}

func (p hangingProvider) Kind() providers.Kind { return p.kind }

func (p hangingProvider) Fetch(ctx context.Context, _ providers.Request) (providers.Payload, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func weatherPayload() fakePayload {
	return fakePayload{
		kind:     providers.KindWeather,
		prompt:   "Weather overview:\nToday: Clear sky | 12/21C | Precip max 0% | Wind max 9 km/h",
		markdown: "### Weather\n\nToday: Clear sky | 12/21C | Precip max 0% | Wind max 9 km/h",
	}
}

func recoveryPayload() fakePayload {
	return fakePayload{
		kind:     providers.KindRecovery,
		prompt:   "WHOOP recovery:\nRecovery: 34% (HRV 30 ms, resting HR 60 bpm)",
		markdown: "**Recovery:** Recovery 34%",
	}
}

// gathered returns a state as Gather would leave it for input.
func gathered(input string, commitments ...string) State {
	s, err := Gather(State{Location: time.UTC}, Request{Input: input, WorkHours: "9am-6pm", Commitments: commitments}, testClock, 0)
	if err != nil {
		panic(fmt.Sprintf("gather fixture: %v", err))
	}
	return s
}

func clock(s State, hhmm string) time.Time {
	t, err := parseClock(s.Now.In(s.Zone()), hhmm)
	if err != nil {
		panic(err)
	}
	return t
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
