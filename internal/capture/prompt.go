// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package capture

import (
	"fmt"
	"strings"
	"time"
)

const todayLayout = "Monday, January 02, 2006"

func buildPrompt(now time.Time, tasks []Task, transcript []Turn, message string) string {
	var b strings.Builder
	b.WriteString("You turn what the user says into a clean list of tasks for today's planner.\n\n")
	fmt.Fprintf(&b, "Today is %s (%s).\n\n", now.Format(todayLayout), now.Format(DueLayout))
	b.WriteString(`Rules:
1. Split the message into separate, concrete tasks. Keep the user's wording in titles.
2. "est" is minutes and must be 10, 25, 45 or 90. Pick the closest size and round up when unsure.
3. "depth" is "deep" for focused work such as writing, coding or studying, otherwise "shallow".
4. "context" is "work" or "personal".
5. Set "due" as YYYY-MM-DD only when the user names a date or day. Resolve relative days against today.
6. Put extra details the user gave in "notes". Leave it out otherwise.
7. "confidence" is "low", "med" or "high": how sure you are about est and depth.
8. When the user corrects or drops an existing task, use edit_task or remove_task with its id. Never recreate it.
9. Ask a short question in "message" when something is unclear.

Current tasks:
`)
	if len(tasks) == 0 {
		b.WriteString("None\n")
	}
	for _, t := range tasks {
		b.WriteString(t.promptLine())
		b.WriteString("\n")
	}

	if len(transcript) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, turn := range transcript {
			fmt.Fprintf(&b, "%s: %s\n", roleLabel(turn.Role), turn.Text)
		}
	}
	fmt.Fprintf(&b, "\nUser: %s\n\n", message)
	b.WriteString(`Respond with JSON only, in exactly this shape. Include only the actions you need:
{"actions": [{"tool": "create_tasks", "tasks": [{"title": "string", "context": "work", "est": 25, "depth": "shallow", "due": "YYYY-MM-DD", "notes": "string", "confidence": "med"}]}, {"tool": "edit_task", "id": 1, "patch": {"est": 45}}, {"tool": "remove_task", "id": 1}], "message": "string"}
`)
	return b.String()
}

func roleLabel(role string) string {
	if role == "assistant" {
		return "Assistant"
	}
	return "User"
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
