// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jeranaias/daypilot/internal/providers"
	"github.com/jeranaias/daypilot/internal/util"
)

const (
	nowLayout   = "Monday, January 02, 2006 at 03:04 PM"
	clockLayout = "15:04"
)

// Prompt builders are pure functions of State.

func buildAnalyzePrompt(s State) string {
	var b strings.Builder
	b.WriteString("You are a productivity assistant helping someone plan their day.\n\n")
	writeHeader(&b, s)
	b.WriteString("\nPriorities, as written by the user:\n")
	b.WriteString(s.RawInput)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, `Your task:
1. Identify the 2-3 non-negotiable tasks that MUST be completed today.
2. Mark every remaining task as nice-to-have.
3. Rate urgency and importance from 1 (lowest) to 5 (highest).
4. Estimate realistic time needed for each task in hours.
5. Calculate the total available work hours after accounting for fixed commitments.
Only use tasks the user wrote, keeping their wording. Never invent tasks.
List at most %d tasks.

Respond with JSON only, in exactly this shape:
{"priorities": [{"task": "string", "urgency": 1, "importance": 1, "duration_hours": 0.5, "non_negotiable": true, "reasoning": "string"}], "total_available_hours": 0.0, "strategy_note": "string"}
`, maxPriorities)
	return b.String()
}

func buildSchedulePrompt(s State) string {
	var b strings.Builder
	b.WriteString("Create a time-blocked schedule for the rest of today.\n\n")
	writeHeader(&b, s)
	fmt.Fprintf(&b, "Available hours: %s\n", formatHours(s.AvailableHours))
	if s.StrategyNote != "" {
		fmt.Fprintf(&b, "Planning note: %s\n", s.StrategyNote)
	}

	tasks, _ := json.MarshalIndent(s.Priorities, "", "  ")
	b.WriteString("\nTasks to schedule:\n")
	b.Write(tasks)
	b.WriteString("\n\n")

	local := s.Now.In(s.Zone())
	fmt.Fprintf(&b, `Rules:
1. Schedule non-negotiables in prime focus time.
2. Add buffer time for unexpected issues.
3. Include breaks (lunch, short breaks).
4. Work around fixed commitments and mark them with "is_fixed": true.
5. Be realistic about energy levels throughout the day.
6. Use 24-hour HH:MM times. The first block starts at %s or later; the last block ends at 24:00 or earlier.
7. List blocks in start-time order. Blocks must not overlap; one block may start when the previous one ends.

Respond with JSON only, in exactly this shape:
{"blocks": [{"start": "HH:MM", "end": "HH:MM", "task": "string", "rationale": "string", "is_fixed": false}], "strategy": "string"}
`, local.Format(clockLayout))
	return b.String()
}

// correctivePrompt repeats the original request with the reasons the
// previous answer was rejected.
func correctivePrompt(original string, problems []string) string {
	var b strings.Builder
	b.WriteString(original)
	b.WriteString("\nYour previous response was rejected for these reasons:\n")
	for _, p := range problems {
		b.WriteString("- ")
		b.WriteString(p)
		b.WriteString("\n")
	}
	b.WriteString("Return a corrected response that fixes every problem above, as JSON only.\n")
	return b.String()
}

func writeHeader(b *strings.Builder, s State) {
	local := s.Now.In(s.Zone())
	fmt.Fprintf(b, "Current date and time: %s (%s)\n", local.Format(nowLayout), s.Zone())
	workHours := s.WorkHours
	if workHours == "" {
		workHours = "not specified"
	}
	fmt.Fprintf(b, "Work hours: %s\n", workHours)

	b.WriteString("Fixed commitments:\n")
	if len(s.Commitments) == 0 {
		b.WriteString("None\n")
	}
	for _, c := range s.Commitments {
		fmt.Fprintf(b, "- %s\n", c)
	}

	b.WriteString("\nContext:\n")
	b.WriteString(contextPrompt(s.Context))
	b.WriteString("\n")
}

// contextPrompt renders every provider kind in a fixed order. Missing and
// unavailable entries are stated as such so the model does not guess.
func contextPrompt(set providers.Set) string {
	var parts []string
	for _, kind := range providers.Kinds {
		if payload, ok := set.Get(kind); ok {
			parts = append(parts, strings.TrimRight(payload.PromptText(), "\n"))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: unavailable.", util.TitleWord(string(kind))))
	}
	return strings.Join(parts, "\n")
}

func formatHours(h float64) string {
	return fmt.Sprintf("%.1f", h)
}
