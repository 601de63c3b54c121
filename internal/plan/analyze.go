// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/jeranaias/daypilot/internal/util"
)

const maxPriorities = 20

type analysis struct {
	priorities     []Priority
	availableHours float64
	strategyNote   string
}

// Analyze asks the reasoner to prioritize s.RawInput and stores the result.
// The priority order is the reasoner's, verbatim.
func (p *Planner) Analyze(ctx context.Context, s State) (State, error) {
	prompt := buildAnalyzePrompt(s)
	result, rejected, err := consult(ctx, p, StageAnalyze, prompt, func(text string) attemptResult[analysis] {
		a, problems := parseAnalysis(text, s)
		return attemptResult[analysis]{value: a, problems: problems}
	})
	if err != nil {
		return s, err
	}
	if rejected != nil {
		return s, &ReasoningFormatError{Stage: StageAnalyze, Attempts: maxAttempts, Problems: rejected.problems}
	}

	next := s.clone()
	next.Priorities = result.priorities
	next.AvailableHours = result.availableHours
	next.StrategyNote = result.strategyNote
	return next, nil
}

type analysisWire struct {
	Priorities []struct {
		Task          string   `json:"task"`
		Urgency       *int     `json:"urgency"`
		Importance    *int     `json:"importance"`
		DurationHours *float64 `json:"duration_hours"`
		NonNegotiable bool     `json:"non_negotiable"`
		Reasoning     string   `json:"reasoning"`
	} `json:"priorities"`
	TotalAvailableHours *float64 `json:"total_available_hours"`
	StrategyNote        string   `json:"strategy_note"`
}

// parseAnalysis decodes and validates a reply. Every problem found is
// reported so the corrective prompt can address them all at once.
func parseAnalysis(text string, s State) (analysis, []string) {
	if len(text) > maxReplySize {
		return analysis{}, []string{fmt.Sprintf("response too large: %d bytes", len(text))}
	}
	var reply analysisWire
	if err := json.Unmarshal([]byte(stripFences(text)), &reply); err != nil {
		return analysis{}, []string{"response is not the requested JSON object: " + err.Error()}
	}

	var problems []string
	switch n := len(reply.Priorities); {
	case n == 0:
		problems = append(problems, "priorities list is empty")
	case n > maxPriorities:
		problems = append(problems, fmt.Sprintf("too many priorities: %d (max %d)", n, maxPriorities))
	}

	source := groundingSource(s)
	seen := make(map[string]bool, len(reply.Priorities))
	out := make([]Priority, 0, len(reply.Priorities))
	for i, r := range reply.Priorities {
		label := fmt.Sprintf("priority %d", i+1)
		task := strings.TrimSpace(r.Task)
		if task == "" {
			problems = append(problems, label+": task is empty")
		} else {
			label = fmt.Sprintf("priority %d (%q)", i+1, task)
			key := util.Fold(task)
			if seen[key] {
				problems = append(problems, label+": duplicate task")
			}
			seen[key] = true
			if !source.grounds(task) {
				problems = append(problems, label+": task does not appear in the user's input")
			}
		}
		if r.Urgency == nil || *r.Urgency < 1 || *r.Urgency > 5 {
			problems = append(problems, label+": urgency must be an integer from 1 to 5")
		}
		if r.Importance == nil || *r.Importance < 1 || *r.Importance > 5 {
			problems = append(problems, label+": importance must be an integer from 1 to 5")
		}
		if r.DurationHours == nil || *r.DurationHours < 0 || math.IsNaN(*r.DurationHours) {
			problems = append(problems, label+": duration_hours must be a non-negative number")
		}
		if len(problems) > 0 {
			continue
		}
		out = append(out, Priority{
			Task:          task,
			Urgency:       *r.Urgency,
			Importance:    *r.Importance,
			DurationHours: *r.DurationHours,
			NonNegotiable: r.NonNegotiable,
			Reasoning:     strings.TrimSpace(r.Reasoning),
		})
	}

	hours := 0.0
	if reply.TotalAvailableHours != nil {
		hours = *reply.TotalAvailableHours
		if hours < 0 || hours > 24 {
			problems = append(problems, "total_available_hours must be between 0 and 24")
		}
	}
	if len(problems) > 0 {
		return analysis{}, problems
	}
	return analysis{
		priorities:     out,
		availableHours: hours,
		strategyNote:   strings.TrimSpace(reply.StrategyNote),
	}, nil
}

// grounding is the vocabulary of what the user actually wrote.
type grounding struct {
	words  map[string]bool
	folded string
}

func groundingSource(s State) grounding {
	text := s.RawInput + "\n" + strings.Join(s.Commitments, "\n")
	g := grounding{words: make(map[string]bool), folded: util.Fold(text)}
	for _, w := range util.Words(text) {
		g.words[w] = true
	}
	return g
}

// fillerWords never count toward grounding a task.
var fillerWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "your": true,
	"from": true, "into": true, "about": true, "this": true, "that": true,
}

// grounds reports whether most of task's significant words appear in the
// input. Tasks made only of short or filler words must appear verbatim.
func (g grounding) grounds(task string) bool {
	var words []string
	for _, w := range util.Words(task) {
		if !fillerWords[w] {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return strings.Contains(g.folded, util.Fold(strings.TrimSpace(task)))
	}
	matched := 0
	for _, w := range words {
		if g.words[w] {
			matched++
		}
	}
	return matched*2 > len(words)
}
