// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/daypilot/internal/reasoning/reasoningtest"
)

func analyzed(t *testing.T) State {
	t.Helper()
	s, err := NewPlanner(reasoningtest.New(analysisReply)).Analyze(context.Background(), gathered(threeTasks))
	require.NoError(t, err)
	return s
}

func TestCreateSchedule(t *testing.T) {
	s := analyzed(t)
	script := reasoningtest.New(scheduleReply)
	out, err := NewPlanner(script).CreateSchedule(context.Background(), s)
	require.NoError(t, err)

	require.Len(t, out.Schedule, 3)
	assert.Equal(t, clock(s, "10:00"), out.Schedule[0].Start)
	assert.Equal(t, clock(s, "12:00"), out.Schedule[0].End)
	assert.Equal(t, "Peak focus", out.Schedule[0].Rationale)
	assert.True(t, out.Schedule[2].Fixed)
	assert.Equal(t, "Deep work early, movement at noon.", out.Strategy)
	assert.Empty(t, ValidateSchedule(out.Schedule, s.Now, s.LocalMidnight()))

	// Earlier stages' fields are untouched.
	assert.Equal(t, s.Priorities, out.Priorities)
	assert.Equal(t, s.RawInput, out.RawInput)

	prompt := script.Prompts()[0]
	assert.True(t, containsAll(prompt, `"task": "Finish report"`, "starts at 09:30 or later", "Available hours: 7.5"))
}

func TestCreateScheduleRetriesWithViolations(t *testing.T) {
	script := reasoningtest.New(overlappingReply, scheduleReply)
	out, err := NewPlanner(script).CreateSchedule(context.Background(), analyzed(t))
	require.NoError(t, err)
	assert.Equal(t, "Deep work early, movement at noon.", out.Strategy)

	prompts := script.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], `block 1 (10:00-12:00 "Finish report") overlaps block 2 (11:00-12:30 "Gym")`)
}

func TestCreateScheduleInvariantErrorAfterRetry(t *testing.T) {
	script := reasoningtest.New(overlappingReply, overlappingReply)
	_, err := NewPlanner(script).CreateSchedule(context.Background(), analyzed(t))

	var ie *ScheduleInvariantError
	require.True(t, errors.As(err, &ie), "got %v", err)
	assert.Equal(t, 2, ie.Attempts)
	require.Len(t, ie.Violations, 1)
	assert.Contains(t, ie.Violations[0], "overlaps")
	assert.Equal(t, 2, script.Calls())
}

func TestCreateScheduleFormatError(t *testing.T) {
	bad := `{"blocks": [{"start": "10am", "end": "11:00", "task": "Gym"}]}`
	script := reasoningtest.New(bad, bad)
	_, err := NewPlanner(script).CreateSchedule(context.Background(), analyzed(t))

	var fe *ReasoningFormatError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, StageCreate, fe.Stage)
	assert.Contains(t, fe.Error(), `"10am" is not HH:MM`)
}

func TestCreateScheduleLastAttemptDecidesError(t *testing.T) {
	script := reasoningtest.New(overlappingReply, "not json")
	_, err := NewPlanner(script).CreateSchedule(context.Background(), analyzed(t))

	var fe *ReasoningFormatError
	assert.True(t, errors.As(err, &fe), "got %v", err)
}

func TestCreateScheduleAcceptsEmptySchedule(t *testing.T) {
	script := reasoningtest.New(`{"blocks": [], "strategy": "Rest."}`)
	out, err := NewPlanner(script).CreateSchedule(context.Background(), analyzed(t))
	require.NoError(t, err)
	assert.Empty(t, out.Schedule)
}

func TestValidateSchedule(t *testing.T) {
	s := gathered("gym")
	now, midnight := s.Now, s.LocalMidnight()
	block := func(start, end, task string) TimeBlock {
		return TimeBlock{Start: clock(s, start), End: clock(s, end), Task: task}
	}

	tests := []struct {
		name   string
		blocks []TimeBlock
		want   []string
	}{
		{
			name:   "adjacent blocks are fine",
			blocks: []TimeBlock{block("09:30", "10:00", "a"), block("10:00", "11:00", "b")},
		},
		{
			name:   "block may end at midnight",
			blocks: []TimeBlock{block("23:00", "24:00", "late")},
		},
		{
			name:   "starts before now",
			blocks: []TimeBlock{block("09:00", "10:00", "early")},
			want:   []string{`block 1 (09:00-10:00 "early"): starts before the current time 09:30`},
		},
		{
			name:   "inverted",
			blocks: []TimeBlock{block("11:00", "10:00", "x")},
			want:   []string{`block 1 (11:00-10:00 "x"): start is not before end`},
		},
		{
			name:   "zero length",
			blocks: []TimeBlock{block("11:00", "11:00", "x")},
			want:   []string{`block 1 (11:00-11:00 "x"): start is not before end`},
		},
		{
			name:   "unsorted",
			blocks: []TimeBlock{block("12:00", "13:00", "b"), block("10:00", "11:00", "a")},
			want:   []string{`block 2 (10:00-11:00 "a"): starts before block 1 (12:00-13:00 "b"); blocks must be in start-time order`},
		},
		{
			name:   "overlap",
			blocks: []TimeBlock{block("10:00", "11:00", "a"), block("10:30", "11:30", "b")},
			want:   []string{`block 1 (10:00-11:00 "a") overlaps block 2 (10:30-11:30 "b")`},
		},
		{
			name: "non-adjacent overlap",
			blocks: []TimeBlock{
				block("10:00", "14:00", "long"),
				block("14:00", "15:00", "b"),
				block("13:00", "13:30", "c"),
			},
			want: []string{
				`block 3 (13:00-13:30 "c"): starts before block 2 (14:00-15:00 "b"); blocks must be in start-time order`,
				`block 1 (10:00-14:00 "long") overlaps block 3 (13:00-13:30 "c")`,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateSchedule(tt.blocks, now, midnight))
		})
	}

	t.Run("ends after midnight", func(t *testing.T) {
		b := TimeBlock{Start: clock(s, "23:00"), End: midnight.Add(30 * time.Minute), Task: "late"}
		got := ValidateSchedule([]TimeBlock{b}, now, midnight)
		require.Len(t, got, 1)
		assert.Contains(t, got[0], "ends after midnight")
	})
}

func TestParseClock(t *testing.T) {
	day := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	for in, want := range map[string]time.Time{
		"00:00":   time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
		"9:05":    time.Date(2026, 10, 19, 9, 5, 0, 0, time.UTC),
		" 17:45 ": time.Date(2026, 10, 19, 17, 45, 0, 0, time.UTC),
		"24:00":   time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC),
	} {
		got, err := parseClock(day, in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "9", "9:5", "25:00", "24:30", "12:60", "ab:cd", "-1:00", "9am"} {
		_, err := parseClock(day, in)
		assert.Error(t, err, in)
	}
}

const wrongKeyReply = `{"schedule": [{"start": "10:00", "end": "11:00", "task": "Finish report"}], "strategy": "x"}`

func TestCreateScheduleRetriesMissingBlocks(t *testing.T) {
	script := reasoningtest.New(wrongKeyReply, scheduleReply)
	out, err := NewPlanner(script).CreateSchedule(context.Background(), analyzed(t))
	require.NoError(t, err)
	assert.Len(t, out.Schedule, 3)

	prompts := script.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], `response has no "blocks" list`)
}

func TestCreateScheduleMissingBlocksIsFormatError(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"wrong key", wrongKeyReply},
		{"empty object", `{}`},
		{"null blocks", `{"blocks": null, "strategy": "x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := reasoningtest.New(tt.reply, tt.reply)
			_, err := NewPlanner(script).CreateSchedule(context.Background(), analyzed(t))

			var fe *ReasoningFormatError
			require.True(t, errors.As(err, &fe), "got %v", err)
			assert.Equal(t, StageCreate, fe.Stage)
			assert.Contains(t, fe.Error(), `no "blocks" list`)
			assert.Equal(t, 2, script.Calls())
		})
	}
}
