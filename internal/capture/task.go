// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package capture

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// DueLayout is the calendar date format of Task.Due.
const DueLayout = "2006-01-02"

// Area is the part of life a task belongs to.
type Area string

// Task areas.
const (
	AreaWork     Area = "work"
	AreaPersonal Area = "personal"
)

// Depth is how much focus a task needs.
type Depth string

// Task depths.
const (
	DepthShallow Depth = "shallow"
	DepthDeep    Depth = "deep"
)

// Confidence is how sure the assistant is about a task's estimate and depth.
type Confidence string

// Confidence levels.
const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "med"
	ConfidenceHigh   Confidence = "high"
)

// Estimates are the allowed task sizes in minutes.
var Estimates = []int{10, 25, 45, 90}

// Task is one captured candidate task.
type Task struct {
	ID         int        `json:"id"`
	Title      string     `json:"title"`
	Area       Area       `json:"context"`
	Minutes    int        `json:"est"`
	Depth      Depth      `json:"depth"`
	Due        string     `json:"due,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	Confidence Confidence `json:"confidence"`
}

// Patch is a partial update to a Task. Nil fields are left alone.
type Patch struct {
	Title      *string     `json:"title,omitempty"`
	Area       *Area       `json:"context,omitempty"`
	Minutes    *int        `json:"est,omitempty"`
	Depth      *Depth      `json:"depth,omitempty"`
	Due        *string     `json:"due,omitempty"`
	Notes      *string     `json:"notes,omitempty"`
	Confidence *Confidence `json:"confidence,omitempty"`
}

// Empty reports whether p changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Area == nil && p.Minutes == nil && p.Depth == nil &&
		p.Due == nil && p.Notes == nil && p.Confidence == nil
}

// apply returns t with p's fields set.
func (t Task) apply(p Patch) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Area != nil {
		t.Area = *p.Area
	}
	if p.Minutes != nil {
		t.Minutes = *p.Minutes
	}
	if p.Depth != nil {
		t.Depth = *p.Depth
	}
	if p.Due != nil {
		t.Due = *p.Due
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.Confidence != nil {
		t.Confidence = *p.Confidence
	}
	return t.normalize()
}

func (t Task) normalize() Task {
	t.Title = strings.TrimSpace(t.Title)
	t.Notes = strings.TrimSpace(t.Notes)
	t.Due = strings.TrimSpace(t.Due)
	t.Area = Area(strings.ToLower(strings.TrimSpace(string(t.Area))))
	t.Depth = Depth(strings.ToLower(strings.TrimSpace(string(t.Depth))))
	t.Confidence = Confidence(strings.ToLower(strings.TrimSpace(string(t.Confidence))))
	return t
}

// Problems lists every field that breaks a task rule. The ID is not checked.
func (t Task) Problems() []string {
	var problems []string
	if t.Title == "" {
		problems = append(problems, "title is empty")
	}
	if t.Area != AreaWork && t.Area != AreaPersonal {
		problems = append(problems, fmt.Sprintf("context %q must be work or personal", t.Area))
	}
	if !slices.Contains(Estimates, t.Minutes) {
		problems = append(problems, fmt.Sprintf("est %d must be one of 10, 25, 45, 90", t.Minutes))
	}
	if t.Depth != DepthShallow && t.Depth != DepthDeep {
		problems = append(problems, fmt.Sprintf("depth %q must be shallow or deep", t.Depth))
	}
	switch t.Confidence {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
	default:
		problems = append(problems, fmt.Sprintf("confidence %q must be low, med or high", t.Confidence))
	}
	if t.Due != "" {
		if _, err := time.Parse(DueLayout, t.Due); err != nil {
			problems = append(problems, fmt.Sprintf("due %q must be a YYYY-MM-DD date", t.Due))
		}
	}
	return problems
}

// Line renders t as one line of planner input, e.g.
// "Write essay (90 min, deep, work, due 2026-10-20)".
func (t Task) Line() string {
	details := []string{fmt.Sprintf("%d min", t.Minutes), string(t.Depth), string(t.Area)}
	if t.Due != "" {
		details = append(details, "due "+t.Due)
	}
	line := fmt.Sprintf("%s (%s)", t.Title, strings.Join(details, ", "))
	if t.Notes != "" {
		line += ": " + t.Notes
	}
	return line
}

// promptLine renders t for the assistant's view of the current list.
func (t Task) promptLine() string {
	due := t.Due
	if due == "" {
		due = "none"
	}
	line := fmt.Sprintf("- %d: %s | %s | %dm | %s | due %s | confidence %s",
		t.ID, t.Title, t.Area, t.Minutes, t.Depth, due, t.Confidence)
	if t.Notes != "" {
		line += " | notes " + t.Notes
	}
	return line
}
