// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/daypilot/internal/plan"
	"github.com/jeranaias/daypilot/internal/ui/styles"
)

// =============================================================================
// MESSAGES
// =============================================================================

// ProgressMsg carries one pipeline progress event into the model.
type ProgressMsg plan.Progress

// DoneMsg ends the view with the run's outcome.
type DoneMsg struct {
	Err error
}

// =============================================================================
// MODEL
// =============================================================================

type rowStatus int

const (
	rowPending rowStatus = iota
	rowRunning
	rowDone
	rowFailed
)

type stageRow struct {
	stage   plan.Stage
	status  rowStatus
	started time.Time
	elapsed time.Duration
}

// Model is the Bubble Tea model for a planning run.
type Model struct {
	spinner  spinner.Model
	rows     []stageRow
	now      func() time.Time
	done     bool
	canceled bool
	err      error
}

var stageTitles = map[plan.Stage]string{
	plan.StageGather:  "Gathering input and context",
	plan.StageAnalyze: "Analyzing priorities",
	plan.StageCreate:  "Building the schedule",
	plan.StagePresent: "Formatting the plan",
}

// NewModel creates a model with every stage pending.
func NewModel() Model {
	s := spinner.New()
	s.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}
	s.Style = lipgloss.NewStyle().Foreground(styles.Purple)

	rows := make([]stageRow, len(plan.Stages))
	for i, stage := range plan.Stages {
		rows[i] = stageRow{stage: stage}
	}
	return Model{spinner: s, rows: rows, now: time.Now}
}

// Canceled reports whether the user interrupted the view.
func (m Model) Canceled() bool { return m.canceled }

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles progress, completion, keys and spinner ticks.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			m.canceled = true
			return m, tea.Quit
		}
		return m, nil

	case ProgressMsg:
		m.apply(plan.Progress(msg))
		return m, nil

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) apply(p plan.Progress) {
	for i := range m.rows {
		row := &m.rows[i]
		if row.stage != p.Stage {
			continue
		}
		switch {
		case !p.Done:
			row.status = rowRunning
			row.started = m.now()
		case p.Err != nil:
			row.status = rowFailed
			row.elapsed = m.now().Sub(row.started)
		default:
			row.status = rowDone
			row.elapsed = m.now().Sub(row.started)
		}
		return
	}
}

// View renders one line per stage.
func (m Model) View() string {
	var b strings.Builder
	for _, row := range m.rows {
		title := stageTitles[row.stage]
		switch row.status {
		case rowPending:
			b.WriteString(styles.RenderMuted(styles.StatusIndicators.Pending + " " + title))
		case rowRunning:
			if m.done {
				b.WriteString(styles.RenderMuted(styles.StatusIndicators.Pending + " " + title))
			} else {
				b.WriteString(m.spinner.View() + " " + lipgloss.NewStyle().Foreground(styles.Cyan).Render(title) + "...")
			}
		case rowDone:
			b.WriteString(styles.RenderSuccess(title))
			b.WriteString(styles.RenderMuted(" (" + formatElapsed(row.elapsed) + ")"))
		case rowFailed:
			b.WriteString(styles.RenderError(title))
		}
		b.WriteString("\n")
	}
	if m.canceled {
		b.WriteString(styles.RenderWarning("Canceled") + "\n")
	}
	return b.String()
}

func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	seconds := int(d.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
}

// =============================================================================
// PROGRAM
// =============================================================================

// RunFunc performs a run, reporting stage transitions through progress.
type RunFunc func(ctx context.Context, progress plan.ProgressCallback) error

// Run shows the progress view on out while fn executes and returns fn's
// error. Keys are read from in; a nil in disables keyboard input.
// Interrupting the view cancels the context passed to fn.
func Run(ctx context.Context, out io.Writer, in io.Reader, fn RunFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := []tea.ProgramOption{tea.WithOutput(out), tea.WithContext(ctx)}
	if in == nil {
		opts = append(opts, tea.WithInput(nil))
	} else {
		opts = append(opts, tea.WithInput(in))
	}
	program := tea.NewProgram(NewModel(), opts...)

	result := make(chan error, 1)
	go func() {
		err := fn(ctx, func(p plan.Progress) { program.Send(ProgressMsg(p)) })
		program.Send(DoneMsg{Err: err})
		result <- err
	}()

	final, runErr := program.Run()
	if m, ok := final.(Model); runErr != nil || (ok && m.Canceled()) {
		cancel()
	}
	return <-result
}
