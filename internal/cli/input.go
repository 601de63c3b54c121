// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/peterh/liner"
)

// maxStdinBytes bounds piped plan input.
const maxStdinBytes = 1 << 20

// =============================================================================
// PROMPTER
// =============================================================================

// Prompter reads one answer per call. io.EOF means the user is done.
type Prompter interface {
	Prompt(label string) (string, error)
	Close() error
}

// linePrompter provides line editing on a terminal.
type linePrompter struct {
	line *liner.State
}

func newLinePrompter() *linePrompter {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	return &linePrompter{line: line}
}

func (p *linePrompter) Prompt(label string) (string, error) {
	s, err := p.line.Prompt(label)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", context.Canceled
	}
	if err == nil && strings.TrimSpace(s) != "" {
		p.line.AppendHistory(s)
	}
	return s, err
}

func (p *linePrompter) Close() error { return p.line.Close() }

// readerPrompter reads answers line by line from any reader.
type readerPrompter struct {
	r *bufio.Reader
	w io.Writer
}

func newReaderPrompter(r io.Reader, w io.Writer) *readerPrompter {
	return &readerPrompter{r: bufio.NewReader(r), w: w}
}

func (p *readerPrompter) Prompt(label string) (string, error) {
	fmt.Fprint(p.w, label)
	line, err := p.r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (p *readerPrompter) Close() error { return nil }

// =============================================================================
// INPUT HELPERS
// =============================================================================

// promptLines collects lines until an empty line or EOF.
func promptLines(p Prompter, label string) ([]string, error) {
	var lines []string
	for {
		line, err := p.Prompt(label)
		if errors.Is(err, io.EOF) {
			return lines, nil
		}
		if err != nil {
			return lines, err
		}
		if strings.TrimSpace(line) == "" {
			return lines, nil
		}
		lines = append(lines, line)
	}
}

// promptDefault returns def when the answer is empty.
func promptDefault(p Prompter, label, def string) (string, error) {
	if def != "" {
		label = fmt.Sprintf("%s [%s]: ", label, def)
	} else {
		label += ": "
	}
	answer, err := p.Prompt(label)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if answer = strings.TrimSpace(answer); answer == "" {
		return def, nil
	}
	return answer, nil
}

// confirm asks a yes/no question; an empty answer means yes.
func confirm(p Prompter, question string) (bool, error) {
	answer, err := p.Prompt(question + " [Y/n]: ")
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "", "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// readAll reads piped input, refusing anything larger than maxStdinBytes.
func readAll(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxStdinBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxStdinBytes {
		return "", usageErrorf("input is larger than %d bytes", maxStdinBytes)
	}
	return string(data), nil
}
