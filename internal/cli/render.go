// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"
)

// renderMode picks how markdown reaches the terminal.
type renderMode int

const (
	renderStyled renderMode = iota // glamour, colors
	renderASCII                    // glamour, no colors
	renderPlain                    // raw markdown
)

// renderMarkdown renders markdown for terminal display. It returns the
// source unchanged for plain output or when glamour fails.
func renderMarkdown(md string, mode renderMode, width int) string {
	if mode == renderPlain {
		return md
	}
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if mode == renderASCII {
		opts = append(opts, glamour.WithStandardStyle("notty"))
	} else {
		opts = append(opts, glamour.WithAutoStyle())
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

// writeJSON writes v as indented JSON, highlighted when color is on.
func writeJSON(w io.Writer, v any, color bool) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	text := string(data) + "\n"
	if color {
		text = highlightJSON(text)
	}
	_, err = io.WriteString(w, text)
	return err
}

// highlightJSON applies terminal syntax highlighting with chroma. It
// returns the input unchanged if highlighting fails.
func highlightJSON(code string) string {
	lexer := lexers.Get("json")
	if lexer == nil {
		return code
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return code
	}
	return buf.String()
}
