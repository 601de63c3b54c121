// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package whoop

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/daypilot/internal/providers"
)

// Score states reported by the API.
const (
	ScoreStateScored     = "SCORED"
	ScoreStatePending    = "PENDING_SCORE"
	ScoreStateUnscorable = "UNSCORABLE"
)

// Cycle is one physiological day.
type Cycle struct {
	ID         int64       `json:"id"`
	Start      time.Time   `json:"start"`
	End        *time.Time  `json:"end"`
	ScoreState string      `json:"score_state"`
	Score      *CycleScore `json:"score"`
}

// CycleScore is the strain summary of a cycle.
type CycleScore struct {
	Strain           float64 `json:"strain"`
	Kilojoule        float64 `json:"kilojoule"`
	AverageHeartRate int     `json:"average_heart_rate"`
	MaxHeartRate     int     `json:"max_heart_rate"`
}

// Recovery is the morning recovery assessment for a cycle.
type Recovery struct {
	CycleID    int64          `json:"cycle_id"`
	SleepID    string         `json:"sleep_id"`
	ScoreState string         `json:"score_state"`
	Score      *RecoveryScore `json:"score"`
}

// RecoveryScore holds the recovery metrics.
type RecoveryScore struct {
	UserCalibrating  bool    `json:"user_calibrating"`
	RecoveryScore    float64 `json:"recovery_score"`
	RestingHeartRate float64 `json:"resting_heart_rate"`
	HRVRmssdMilli    float64 `json:"hrv_rmssd_milli"`
	SpO2Percentage   float64 `json:"spo2_percentage"`
	SkinTempCelsius  float64 `json:"skin_temp_celsius"`
}

// Sleep is one sleep activity.
type Sleep struct {
	ID         string      `json:"id"`
	Start      time.Time   `json:"start"`
	End        time.Time   `json:"end"`
	Nap        bool        `json:"nap"`
	ScoreState string      `json:"score_state"`
	Score      *SleepScore `json:"score"`
}

// SleepScore holds sleep metrics.
type SleepScore struct {
	StageSummary struct {
		TotalInBedTimeMilli int64 `json:"total_in_bed_time_milli"`
		TotalAwakeTimeMilli int64 `json:"total_awake_time_milli"`
	} `json:"stage_summary"`
	RespiratoryRate            float64 `json:"respiratory_rate"`
	SleepPerformancePercentage float64 `json:"sleep_performance_percentage"`
	SleepEfficiencyPercentage  float64 `json:"sleep_efficiency_percentage"`
}

// AsleepHours is time in bed minus time awake.
func (s SleepScore) AsleepHours() float64 {
	ms := s.StageSummary.TotalInBedTimeMilli - s.StageSummary.TotalAwakeTimeMilli
	if ms < 0 {
		ms = 0
	}
	return float64(ms) / float64(time.Hour/time.Millisecond)
}

// Workout is one recorded workout.
type Workout struct {
	ID         string        `json:"id"`
	SportName  string        `json:"sport_name"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	ScoreState string        `json:"score_state"`
	Score      *WorkoutScore `json:"score"`
}

// WorkoutScore holds workout metrics.
type WorkoutScore struct {
	Strain           float64 `json:"strain"`
	AverageHeartRate int     `json:"average_heart_rate"`
}

// page is the paginated collection envelope.
type page[T any] struct {
	Records   []T    `json:"records"`
	NextToken string `json:"next_token"`
}

// =============================================================================
// SNAPSHOT PAYLOAD
// =============================================================================

// Snapshot is the recovery context for one planning run. Any part may be
// missing when WHOOP has not scored it yet.
type Snapshot struct {
	Cycle    *Cycle
	Recovery *Recovery
	Sleep    *Sleep
	Workouts []Workout
}

// Kind implements providers.Payload.
func (Snapshot) Kind() providers.Kind { return providers.KindRecovery }

// RecoveryScore returns the recovery percentage when scored.
func (s Snapshot) RecoveryScore() (float64, bool) {
	if s.Recovery == nil || s.Recovery.Score == nil {
		return 0, false
	}
	return s.Recovery.Score.RecoveryScore, true
}

// Strain returns the current cycle's strain when scored.
func (s Snapshot) Strain() (float64, bool) {
	if s.Cycle == nil || s.Cycle.Score == nil {
		return 0, false
	}
	return s.Cycle.Score.Strain, true
}

// SleepSummary renders last night's sleep, or "" when unscored.
func (s Snapshot) SleepSummary() string {
	if s.Sleep == nil || s.Sleep.Score == nil {
		return ""
	}
	return fmt.Sprintf("%.1f h asleep, performance %.0f%%",
		s.Sleep.Score.AsleepHours(), s.Sleep.Score.SleepPerformancePercentage)
}

// PromptText implements providers.Payload.
func (s Snapshot) PromptText() string {
	lines := []string{"WHOOP recovery:"}
	if score, ok := s.RecoveryScore(); ok {
		r := s.Recovery.Score
		lines = append(lines, fmt.Sprintf("Recovery: %.0f%% (HRV %.0f ms, resting HR %.0f bpm)",
			score, r.HRVRmssdMilli, r.RestingHeartRate))
	} else {
		lines = append(lines, "Recovery: not scored yet")
	}
	if sleep := s.SleepSummary(); sleep != "" {
		lines = append(lines, "Sleep: "+sleep)
	} else {
		lines = append(lines, "Sleep: not scored yet")
	}
	if strain, ok := s.Strain(); ok {
		lines = append(lines, fmt.Sprintf("Day strain so far: %.1f", strain))
	}
	if len(s.Workouts) > 0 {
		parts := make([]string, 0, len(s.Workouts))
		for _, w := range s.Workouts {
			if w.Score != nil {
				parts = append(parts, fmt.Sprintf("%s (strain %.1f)", w.SportName, w.Score.Strain))
			} else {
				parts = append(parts, w.SportName)
			}
		}
		lines = append(lines, "Recent workouts: "+strings.Join(parts, ", "))
	}
	return strings.Join(lines, "\n")
}

// PresentMarkdown implements providers.Presenter.
func (s Snapshot) PresentMarkdown() string {
	parts := []string{}
	if score, ok := s.RecoveryScore(); ok {
		parts = append(parts, fmt.Sprintf("Recovery %.0f%%", score))
	}
	if sleep := s.SleepSummary(); sleep != "" {
		parts = append(parts, "Sleep "+sleep)
	}
	if strain, ok := s.Strain(); ok {
		parts = append(parts, fmt.Sprintf("Strain %.1f", strain))
	}
	if len(parts) == 0 {
		return "**Recovery:** not scored yet"
	}
	return "**Recovery:** " + strings.Join(parts, " | ")
}
