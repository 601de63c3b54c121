// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"fmt"
	"strings"

	"github.com/jeranaias/daypilot/internal/providers"
	"github.com/jeranaias/daypilot/internal/util"
)

const (
	dateLayout   = "Monday, January 02, 2006"
	maxTaskWidth = 60

	// NoPlanMessage is shown instead of the schedule table when no block
	// could be scheduled.
	NoPlanMessage = "No plan for today: nothing could be scheduled before midnight."
)

// Present renders s into its Presentation. It performs no I/O and
// never fails.
func Present(s State) State {
	next := s.clone()
	next.Presentation = Render(s)
	return next
}

// Render returns the markdown presentation of s. Identical states render
// identically.
func Render(s State) string {
	var b strings.Builder
	local := s.Now.In(s.Zone())

	fmt.Fprintf(&b, "# Day plan: %s\n\n", local.Format(dateLayout))
	fmt.Fprintf(&b, "Planned at %s (%s).", local.Format(clockLayout), s.Zone())
	if s.AvailableHours > 0 {
		fmt.Fprintf(&b, " Available: %s hours.", formatHours(s.AvailableHours))
	}
	b.WriteString("\n")

	if section := contextMarkdown(s.Context, providers.KindLocation); section != "" {
		b.WriteString("\n" + section + "\n")
	}

	writePriorities(&b, "Non-negotiables", s.NonNegotiables(), true)
	writePriorities(&b, "Nice to have", s.NiceToHaves(), false)

	if len(s.Commitments) > 0 {
		b.WriteString("\n## Already scheduled\n\n")
		for _, c := range s.Commitments {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	b.WriteString("\n## Schedule\n\n")
	if len(s.Schedule) == 0 {
		b.WriteString(NoPlanMessage + "\n")
	} else {
		b.WriteString("| Time | Task |\n")
		b.WriteString("|------|------|\n")
		for _, block := range s.Schedule {
			task := tableCell(block.Task)
			if block.Fixed {
				task = "[fixed] " + task
			}
			fmt.Fprintf(&b, "| %s - %s | %s |\n", block.Start.In(s.Zone()).Format(clockLayout), endClock(block), task)
		}
	}
	if s.Strategy != "" {
		fmt.Fprintf(&b, "\n**Strategy:** %s\n", s.Strategy)
	}

	for _, kind := range []providers.Kind{providers.KindWeather, providers.KindRecovery} {
		if section := contextMarkdown(s.Context, kind); section != "" {
			b.WriteString("\n" + section + "\n")
		}
	}
	return b.String()
}

func writePriorities(b *strings.Builder, title string, ps []Priority, withReason bool) {
	if len(ps) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n", title)
	for i, p := range ps {
		fmt.Fprintf(b, "%d. %s (%s h)", i+1, p.Task, formatHours(p.DurationHours))
		if withReason && p.Reasoning != "" {
			fmt.Fprintf(b, ": %s", p.Reasoning)
		}
		b.WriteString("\n")
	}
}

// contextMarkdown returns the payload's presentation, or "" when the kind
// is missing, unavailable, or has nothing to present.
func contextMarkdown(set providers.Set, kind providers.Kind) string {
	payload, ok := set.Get(kind)
	if !ok {
		return ""
	}
	presenter, ok := payload.(providers.Presenter)
	if !ok {
		return ""
	}
	return strings.TrimRight(presenter.PresentMarkdown(), "\n")
}

func tableCell(s string) string {
	s = util.TruncateWidth(strings.Join(strings.Fields(s), " "), maxTaskWidth)
	return strings.ReplaceAll(s, "|", `\|`)
}
