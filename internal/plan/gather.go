// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plan

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultMaxInputRunes bounds raw input so prompts stay bounded.
const DefaultMaxInputRunes = 8000

// Gather validates req and returns s with the input fields and Now set.
// now is truncated to the minute. No I/O happens here.
func Gather(s State, req Request, now time.Time, maxRunes int) (State, error) {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxInputRunes
	}
	if !utf8.ValidString(req.Input) {
		return s, &EmptyInputError{Reason: "input is not valid UTF-8"}
	}
	input := normalizeLines(req.Input)
	if input == "" {
		return s, &EmptyInputError{Reason: "no tasks were given"}
	}
	if n := utf8.RuneCountInString(input); n > maxRunes {
		return s, &EmptyInputError{Reason: fmt.Sprintf("input is %d characters, the limit is %d", n, maxRunes)}
	}

	var commitments []string
	for _, c := range req.Commitments {
		if !utf8.ValidString(c) {
			return s, &EmptyInputError{Reason: "commitment is not valid UTF-8"}
		}
		if c = strings.TrimSpace(c); c != "" {
			commitments = append(commitments, c)
		}
	}

	next := s.clone()
	next.Now = now.In(s.Zone()).Truncate(time.Minute)
	next.RawInput = input
	next.WorkHours = strings.TrimSpace(req.WorkHours)
	next.Commitments = commitments
	return next, nil
}

// normalizeLines trims every line and drops blank ones.
func normalizeLines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
