// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package weather fetches today's forecast from Open-Meteo.
//
// A Report covers only the planning day: a daily overview plus hourly
// entries from now until local midnight. Raw responses are cached (one hour
// by default) so repeated runs do not refetch.
package weather

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/daypilot/internal/providers"
)

// Hour is one hourly forecast entry. Nil values were missing upstream.
type Hour struct {
	Time      time.Time
	TempC     *float64
	PrecipPct *float64
	WindKph   *float64
	Condition string
}

// Overview summarizes the whole day.
type Overview struct {
	Summary      string
	MinC         *float64
	MaxC         *float64
	PrecipMaxPct *float64
	WindMaxKph   *float64
}

// Report is the bounded weather context for one planning run.
type Report struct {
	Overview Overview
	Hourly   []Hour
	Timezone string
}

// Kind implements providers.Payload.
func (Report) Kind() providers.Kind { return providers.KindWeather }

// OverviewLine renders the one-line daily summary.
func (r Report) OverviewLine() string {
	o := r.Overview
	return fmt.Sprintf("Today: %s | %sC | Precip max %.0f%% | Wind max %.0f km/h",
		o.Summary, formatRange(o.MinC, o.MaxC), valueOr(o.PrecipMaxPct, 0), valueOr(o.WindMaxKph, 0))
}

// PromptText implements providers.Payload.
func (r Report) PromptText() string {
	lines := []string{
		"Weather overview:",
		r.OverviewLine(),
		"",
		"Hourly forecast (local time, now -> midnight):",
		"Hour | Temp | Precip | Wind | Condition",
	}
	for _, h := range r.Hourly {
		lines = append(lines, strings.Join(h.cells(), " | "))
	}
	return strings.Join(lines, "\n")
}

// PresentMarkdown implements providers.Presenter.
func (r Report) PresentMarkdown() string {
	var b strings.Builder
	b.WriteString("### Weather\n\n")
	b.WriteString(r.OverviewLine())
	b.WriteString("\n")
	if len(r.Hourly) == 0 {
		return b.String()
	}
	b.WriteString("\n| Hour | Temp | Precip | Wind | Condition |\n")
	b.WriteString("|------|------|--------|------|-----------|\n")
	for _, h := range r.Hourly {
		b.WriteString("| ")
		b.WriteString(strings.Join(h.cells(), " | "))
		b.WriteString(" |\n")
	}
	return b.String()
}

func (h Hour) cells() []string {
	cond := h.Condition
	if cond == "" {
		cond = "Unknown"
	}
	return []string{
		h.Time.Format("15:04"),
		formatOptional(h.TempC, "%.0fC"),
		formatOptional(h.PrecipPct, "%.0f%%"),
		formatOptional(h.WindKph, "%.0f km/h"),
		cond,
	}
}

func formatRange(min, max *float64) string {
	switch {
	case min == nil && max == nil:
		return "--"
	case min == nil:
		return fmt.Sprintf("--/%.0f", *max)
	case max == nil:
		return fmt.Sprintf("%.0f/--", *min)
	default:
		return fmt.Sprintf("%.0f/%.0f", *min, *max)
	}
}

func formatOptional(v *float64, format string) string {
	if v == nil {
		return "--"
	}
	return fmt.Sprintf(format, *v)
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// codeLabels maps WMO weather interpretation codes to labels.
var codeLabels = map[int]string{
	0:  "Clear sky",
	1:  "Mainly clear",
	2:  "Partly cloudy",
	3:  "Overcast",
	45: "Fog",
	48: "Depositing rime fog",
	51: "Light drizzle",
	53: "Moderate drizzle",
	55: "Dense drizzle",
	56: "Light freezing drizzle",
	57: "Dense freezing drizzle",
	61: "Slight rain",
	63: "Moderate rain",
	65: "Heavy rain",
	66: "Light freezing rain",
	67: "Heavy freezing rain",
	71: "Slight snow fall",
	73: "Moderate snow fall",
	75: "Heavy snow fall",
	77: "Snow grains",
	80: "Slight rain showers",
	81: "Moderate rain showers",
	82: "Violent rain showers",
	85: "Slight snow showers",
	86: "Heavy snow showers",
	95: "Thunderstorm",
	96: "Thunderstorm with slight hail",
	99: "Thunderstorm with heavy hail",
}

// CodeLabel returns the label for a WMO code; nil means no condition.
func CodeLabel(code *float64) string {
	if code == nil {
		return ""
	}
	if label, ok := codeLabels[int(*code)]; ok {
		return label
	}
	return "Unknown"
}
