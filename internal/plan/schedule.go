// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type scheduleResult struct {
	blocks   []TimeBlock
	strategy string
}

// CreateSchedule asks the reasoner for time blocks covering the priorities
// and validates them against the planning day. Invalid output is rejected,
// never repaired.
func (p *Planner) CreateSchedule(ctx context.Context, s State) (State, error) {
	prompt := buildSchedulePrompt(s)
	result, rejected, err := consult(ctx, p, StageCreate, prompt, func(text string) attemptResult[scheduleResult] {
		blocks, strategy, problems := parseSchedule(text, s)
		if len(problems) > 0 {
			return attemptResult[scheduleResult]{problems: problems}
		}
		if violations := ValidateSchedule(blocks, s.Now, s.LocalMidnight()); len(violations) > 0 {
			return attemptResult[scheduleResult]{problems: violations, invariant: true}
		}
		return attemptResult[scheduleResult]{value: scheduleResult{blocks: blocks, strategy: strategy}}
	})
	if err != nil {
		return s, err
	}
	if rejected != nil {
		if rejected.invariant {
			return s, &ScheduleInvariantError{Attempts: maxAttempts, Violations: rejected.problems}
		}
		return s, &ReasoningFormatError{Stage: StageCreate, Attempts: maxAttempts, Problems: rejected.problems}
	}

	next := s.clone()
	next.Schedule = result.blocks
	next.Strategy = result.strategy
	return next, nil
}

type blockWire struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Task      string `json:"task"`
	Rationale string `json:"rationale"`
	IsFixed   bool   `json:"is_fixed"`
}

// scheduleWire is the reply shape. Blocks is a pointer so a missing or
// null "blocks" key is told apart from an explicitly empty list.
type scheduleWire struct {
	Blocks   *[]blockWire `json:"blocks"`
	Strategy string       `json:"strategy"`
}

// parseSchedule decodes a reply into blocks on the planning day. It only
// reports shape problems; time invariants are ValidateSchedule's job.
func parseSchedule(text string, s State) ([]TimeBlock, string, []string) {
	if len(text) > maxReplySize {
		return nil, "", []string{fmt.Sprintf("response too large: %d bytes", len(text))}
	}
	var reply scheduleWire
	if err := json.Unmarshal([]byte(stripFences(text)), &reply); err != nil {
		return nil, "", []string{"response is not the requested JSON object: " + err.Error()}
	}
	if reply.Blocks == nil {
		return nil, "", []string{`response has no "blocks" list`}
	}

	day := s.Now.In(s.Zone())
	var problems []string
	blocks := make([]TimeBlock, 0, len(*reply.Blocks))
	for i, r := range *reply.Blocks {
		label := fmt.Sprintf("block %d", i+1)
		task := strings.TrimSpace(r.Task)
		if task == "" {
			problems = append(problems, label+": task is empty")
		}
		start, err := parseClock(day, r.Start)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: start %v", label, err))
		}
		end, err := parseClock(day, r.End)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: end %v", label, err))
		}
		blocks = append(blocks, TimeBlock{
			Start:     start,
			End:       end,
			Task:      task,
			Rationale: strings.TrimSpace(r.Rationale),
			Fixed:     r.IsFixed,
		})
	}
	if len(problems) > 0 {
		return nil, "", problems
	}
	return blocks, strings.TrimSpace(reply.Strategy), nil
}

// parseClock reads "HH:MM" (or "H:MM") on day's date in day's zone.
// "24:00" is the following midnight.
func parseClock(day time.Time, clock string) (time.Time, error) {
	clock = strings.TrimSpace(clock)
	h, m, ok := strings.Cut(clock, ":")
	if !ok || len(m) != 2 || len(h) < 1 || len(h) > 2 {
		return time.Time{}, fmt.Errorf("%q is not HH:MM", clock)
	}
	hour, err1 := strconv.Atoi(h)
	minute, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hour < 0 || minute < 0 || minute > 59 || hour > 24 || (hour == 24 && minute != 0) {
		return time.Time{}, fmt.Errorf("%q is not a valid time of day", clock)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location()), nil
}

// ValidateSchedule checks blocks against the planning day [now, midnight)
// and returns every violation found: empty or inverted blocks, blocks
// outside the day, out-of-order blocks and overlapping pairs.
func ValidateSchedule(blocks []TimeBlock, now, midnight time.Time) []string {
	var violations []string
	for i, b := range blocks {
		label := blockLabel(i, b)
		if !b.Start.Before(b.End) {
			violations = append(violations, label+": start is not before end")
		}
		if b.Start.Before(now) {
			violations = append(violations, fmt.Sprintf("%s: starts before the current time %s", label, now.Format(clockLayout)))
		}
		if b.End.After(midnight) {
			violations = append(violations, label+": ends after midnight")
		}
		if i > 0 && b.Start.Before(blocks[i-1].Start) {
			violations = append(violations, fmt.Sprintf("%s: starts before %s; blocks must be in start-time order", label, blockLabel(i-1, blocks[i-1])))
		}
	}
	for i := 0; i < len(blocks); i++ {
		for j := i + 1; j < len(blocks); j++ {
			if blocks[i].Overlaps(blocks[j]) {
				violations = append(violations, fmt.Sprintf("%s overlaps %s", blockLabel(i, blocks[i]), blockLabel(j, blocks[j])))
			}
		}
	}
	return violations
}

func blockLabel(i int, b TimeBlock) string {
	return fmt.Sprintf("block %d (%s-%s %q)", i+1, b.Start.Format(clockLayout), endClock(b), b.Task)
}

// endClock prints a block's end as HH:MM, with the following midnight
// shown as 24:00.
func endClock(b TimeBlock) string {
	if b.End.After(b.Start) && b.End.Hour() == 0 && b.End.Minute() == 0 && b.End.YearDay() != b.Start.YearDay() {
		return "24:00"
	}
	return b.End.Format(clockLayout)
}
