// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/daypilot/internal/app"
	"github.com/jeranaias/daypilot/internal/capture"
)

type captureFlags struct {
	file        string
	json        bool
	plan        bool
	workHours   string
	commitments []string
}

// captureOutput is the --json form of a capture.
type captureOutput struct {
	Tasks   []capture.Task `json:"tasks"`
	Input   string         `json:"input"`
	Message string         `json:"message,omitempty"`
}

func newCaptureCommand(s *session) *cobra.Command {
	var f captureFlags
	cmd := &cobra.Command{
		Use:   "capture [message...]",
		Short: "Turn a brain dump into a clean task list",
		Long: `Turn a free-form brain dump into a structured task list.

Each task gets a size (10, 25, 45 or 90 minutes), a depth, a work or
personal context and an optional due date. The list is printed as planner
input, one task per line.

With no message on a terminal, capture runs as a conversation. Type
corrections in plain words, or use:
  /list      show the current tasks
  /rm N      remove task N
  /done      finish (an empty line also finishes)`,
		Example: `  daypilot capture "essay due friday, water plants, renew passport"
  daypilot capture --json < notes.txt
  daypilot capture --plan "finish slides, gym, call the bank"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runCapture(cmd, args, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.file, "file", "f", "", "read the message from a file (- for stdin)")
	fl.BoolVar(&f.json, "json", false, "print the tasks as JSON")
	fl.BoolVar(&f.plan, "plan", false, "plan the day from the captured tasks")
	fl.StringVarP(&f.workHours, "work-hours", "w", "", "work hours for --plan")
	fl.StringArrayVar(&f.commitments, "commitment", nil, "fixed commitment for --plan; repeat for several")
	return cmd
}

func (s *session) runCapture(cmd *cobra.Command, args []string, f captureFlags) error {
	message, conversational, err := s.captureMessage(cmd, args, f)
	if err != nil {
		return err
	}

	a, err := s.app()
	if err != nil {
		return err
	}
	defer a.Close()

	reasoner, err := a.Reasoner()
	if err != nil {
		return err
	}
	sess := capture.NewSession(reasoner, capture.WithLogger(a.Logger()))

	var last capture.Reply
	if conversational {
		if err := s.captureConversation(cmd, sess); err != nil {
			return err
		}
	} else {
		if last, err = sess.Send(cmd.Context(), message); err != nil {
			return err
		}
		if !f.json {
			reportCapture(cmd.ErrOrStderr(), last)
		}
	}

	if f.plan {
		req := app.Request{
			Input:       sess.GatherInput(),
			WorkHours:   f.workHours,
			Commitments: f.commitments,
		}
		return s.executePlan(cmd, a, req, planFlags{json: f.json})
	}

	out := cmd.OutOrStdout()
	if f.json {
		return writeJSON(out, captureOutput{Tasks: sess.Tasks(), Input: sess.GatherInput(), Message: last.Message}, s.color())
	}
	if input := sess.GatherInput(); input != "" {
		_, err = fmt.Fprintln(out, input)
	}
	return err
}

// captureMessage picks the message source: arguments, --file, piped stdin,
// or a conversation on a terminal.
func (s *session) captureMessage(cmd *cobra.Command, args []string, f captureFlags) (string, bool, error) {
	switch {
	case len(args) > 0:
		return strings.Join(args, " "), false, nil
	case f.file == "-":
		text, err := readAll(cmd.InOrStdin())
		return text, false, err
	case f.file != "":
		data, err := os.ReadFile(f.file)
		if err != nil {
			return "", false, usageErrorf("read message file: %v", err)
		}
		return string(data), false, nil
	case !s.interactive():
		text, err := readAll(cmd.InOrStdin())
		return text, false, err
	default:
		return "", true, nil
	}
}

// captureConversation reads messages until /done, an empty line or EOF.
func (s *session) captureConversation(cmd *cobra.Command, sess *capture.Session) error {
	p := s.prompter(cmd)
	defer p.Close()

	out := cmd.ErrOrStderr()
	fmt.Fprintln(out, "Tell me what's on your plate. /list, /rm N, or /done to finish.")
	for {
		line, err := p.Prompt("capture> ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)

		switch {
		case line == "" || line == "/done":
			return nil
		case line == "/list":
			listTasks(out, sess.Tasks())
		case strings.HasPrefix(line, "/rm"):
			id, convErr := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/rm")))
			if convErr != nil {
				fmt.Fprintln(out, "usage: /rm N")
				continue
			}
			if err := sess.Remove(id); err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			listTasks(out, sess.Tasks())
		default:
			reply, err := sess.Send(cmd.Context(), line)
			var fe *capture.FormatError
			if errors.As(err, &fe) {
				// The list is unchanged; the user can rephrase.
				fmt.Fprintln(out, "Sorry, I could not make sense of that reply. Try rephrasing.")
				continue
			}
			if err != nil {
				return err
			}
			reportCapture(out, reply)
			listTasks(out, reply.Tasks)
		}
	}
}

// reportCapture prints the assistant's message and any rejected tool calls.
func reportCapture(w io.Writer, reply capture.Reply) {
	if reply.Message != "" {
		fmt.Fprintln(w, reply.Message)
	}
	for _, r := range reply.Results {
		if r.Error != "" {
			fmt.Fprintf(w, "  skipped %s: %s\n", r.Tool, r.Error)
		}
	}
}

func listTasks(w io.Writer, tasks []capture.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "  (no tasks yet)")
		return
	}
	for _, t := range tasks {
		fmt.Fprintf(w, "  %d. %s\n", t.ID, t.Line())
	}
}
