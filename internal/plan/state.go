// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"time"

	"github.com/jeranaias/daypilot/internal/providers"
)

// =============================================================================
// STAGES
// =============================================================================

// Stage names a pipeline stage.
type Stage string

// Pipeline stages in execution order.
const (
	StageGather  Stage = "gather"
	StageAnalyze Stage = "analyze"
	StageCreate  Stage = "create_schedule"
	StagePresent Stage = "present"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageGather, StageAnalyze, StageCreate, StagePresent}

// =============================================================================
// PLANNING STATE
// =============================================================================

// Priority is one analyzed task.
type Priority struct {
	Task          string  `json:"task"`
	Urgency       int     `json:"urgency"`
	Importance    int     `json:"importance"`
	DurationHours float64 `json:"duration_hours"`
	NonNegotiable bool    `json:"non_negotiable"`
	Reasoning     string  `json:"reasoning,omitempty"`
}

// TimeBlock is one scheduled block, half-open [Start, End).
type TimeBlock struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Task      string    `json:"task"`
	Rationale string    `json:"rationale,omitempty"`
	Fixed     bool      `json:"fixed"`
}

// Duration returns End - Start.
func (b TimeBlock) Duration() time.Duration {
	return b.End.Sub(b.Start)
}

// Overlaps reports whether the two half-open blocks share any instant.
func (b TimeBlock) Overlaps(o TimeBlock) bool {
	return b.Start.Before(o.End) && o.Start.Before(b.End)
}

// State is the record threaded through one planning run.
//
// Field ownership:
//
//	runner:          RunID, Location
//	Gather:          Now, RawInput, WorkHours, Commitments
//	collection:      Context
//	Analyze:         Priorities, AvailableHours, StrategyNote
//	CreateSchedule:  Schedule, Strategy
//	Present:         Presentation
type State struct {
	RunID    string
	Now      time.Time
	Location *time.Location

	RawInput    string
	WorkHours   string
	Commitments []string

	Priorities     []Priority
	AvailableHours float64
	StrategyNote   string

	Schedule []TimeBlock
	Strategy string

	Presentation string

	Context providers.Set
}

// Zone returns the planning time zone, defaulting to time.Local.
func (s State) Zone() *time.Location {
	if s.Location == nil {
		return time.Local
	}
	return s.Location
}

// LocalMidnight is the end of the planning day.
func (s State) LocalMidnight() time.Time {
	n := s.Now.In(s.Zone())
	return time.Date(n.Year(), n.Month(), n.Day()+1, 0, 0, 0, 0, s.Zone())
}

// NonNegotiables returns the priorities that must happen today.
func (s State) NonNegotiables() []Priority {
	var out []Priority
	for _, p := range s.Priorities {
		if p.NonNegotiable {
			out = append(out, p)
		}
	}
	return out
}

// NiceToHaves returns the remaining priorities.
func (s State) NiceToHaves() []Priority {
	var out []Priority
	for _, p := range s.Priorities {
		if !p.NonNegotiable {
			out = append(out, p)
		}
	}
	return out
}

// clone copies s so the caller can hand it to the next stage without
// aliasing slices the previous owner still holds.
func (s State) clone() State {
	s.Commitments = append([]string(nil), s.Commitments...)
	s.Priorities = append([]Priority(nil), s.Priorities...)
	s.Schedule = append([]TimeBlock(nil), s.Schedule...)
	if s.Context != nil {
		s.Context = s.Context.Clone()
	}
	return s
}
