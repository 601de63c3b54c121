// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"
	"unicode"

	"github.com/mattn/go-runewidth"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MinWordRunes is the shortest token Words treats as significant.
const MinWordRunes = 3

// TruncateWidth truncates s to at most maxWidth display columns, accounting
// for wide (CJK, emoji) characters. Truncated strings end in "...".
func TruncateWidth(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, "...")
}

// PadWidth right-pads s with spaces to width display columns.
func PadWidth(s string, width int) string {
	return runewidth.FillRight(s, width)
}

// StringWidth returns the display width of s.
func StringWidth(s string) int {
	return runewidth.StringWidth(s)
}

// Fold returns the case-folded form of s for case-insensitive comparison.
func Fold(s string) string {
	// Casers carry state, so each call gets its own.
	return cases.Fold().String(s)
}

// Words splits s on anything that is not a letter or digit and returns the
// case-folded words of at least MinWordRunes runes, in order of appearance.
func Words(s string) []string {
	fields := strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= MinWordRunes {
			words = append(words, f)
		}
	}
	return words
}

// JSONObject strips markdown code fences and any prose around the outermost
// JSON object in a model reply.
func JSONObject(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}
	return text
}

// TitleWord title-cases a single token, e.g. an OAuth token type.
func TitleWord(s string) string {
	return cases.Title(language.Und).String(strings.ToLower(strings.TrimSpace(s)))
}
