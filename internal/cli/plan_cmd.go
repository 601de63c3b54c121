// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/daypilot/internal/app"
	"github.com/jeranaias/daypilot/internal/plan"
	"github.com/jeranaias/daypilot/internal/server"
	"github.com/jeranaias/daypilot/internal/ui"
)

type planFlags struct {
	file        string
	workHours   string
	commitments []string
	json        bool
	plain       bool
	noWeather   bool
	noRecovery  bool
}

func newPlanCommand(s *session) *cobra.Command {
	var f planFlags
	cmd := &cobra.Command{
		Use:   "plan [tasks...]",
		Short: "Build a schedule for the rest of today",
		Long: `Build a prioritized, time-blocked schedule for the rest of today.

Tasks come from the arguments, --file, piped stdin or an interactive prompt,
in that order of preference.`,
		Example: `  daypilot plan "write report, call dentist, gym"
  daypilot plan --work-hours 10am-4pm --commitment "1pm lunch with Sam"
  cat todo.txt | daypilot plan --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runPlan(cmd, args, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.file, "file", "f", "", "read tasks from a file (- for stdin)")
	fl.StringVarP(&f.workHours, "work-hours", "w", "", "work hours, e.g. 9am-6pm (default from config)")
	fl.StringArrayVar(&f.commitments, "commitment", nil, "fixed commitment; repeat for several")
	fl.BoolVar(&f.json, "json", false, "print the result as JSON")
	fl.BoolVar(&f.plain, "plain", false, "print raw markdown")
	fl.BoolVar(&f.noWeather, "no-weather", false, "skip the weather provider")
	fl.BoolVar(&f.noRecovery, "no-recovery", false, "skip the WHOOP provider")
	cmd.MarkFlagsMutuallyExclusive("json", "plain")
	return cmd
}

func (s *session) runPlan(cmd *cobra.Command, args []string, f planFlags) error {
	req, err := s.planRequest(cmd, args, f)
	if err != nil {
		return err
	}

	a, err := s.app()
	if err != nil {
		return err
	}
	defer a.Close()
	return s.executePlan(cmd, a, req, f)
}

// executePlan runs one plan and writes it in the format f asks for.
func (s *session) executePlan(cmd *cobra.Command, a *app.App, req app.Request, f planFlags) error {
	var (
		state plan.State
		err   error
	)
	run := func(ctx context.Context, progress plan.ProgressCallback) error {
		var err error
		state, err = a.Plan(ctx, req, progress)
		return err
	}

	ctx := cmd.Context()
	if s.showProgress() && !f.json && !f.plain {
		var keys io.Reader
		if s.interactive() {
			keys = cmd.InOrStdin()
		}
		err = ui.Run(ctx, cmd.ErrOrStderr(), keys, run)
	} else {
		err = run(ctx, nil)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case f.json:
		return writeJSON(out, server.NewPlanResponse(state), s.color())
	case f.plain:
		_, err = io.WriteString(out, state.Presentation)
		return err
	default:
		_, err = io.WriteString(out, renderMarkdown(state.Presentation, s.renderMode(), GetTerminalWidth()))
		return err
	}
}

// planRequest assembles the request from flags, files, stdin or prompts.
func (s *session) planRequest(cmd *cobra.Command, args []string, f planFlags) (app.Request, error) {
	req := app.Request{
		WorkHours:   f.workHours,
		Commitments: f.commitments,
		NoWeather:   f.noWeather,
		NoRecovery:  f.noRecovery,
	}

	switch {
	case len(args) > 0:
		req.Input = strings.Join(args, "\n")
	case f.file == "-":
		text, err := readAll(cmd.InOrStdin())
		if err != nil {
			return req, err
		}
		req.Input = text
	case f.file != "":
		data, err := os.ReadFile(f.file)
		if err != nil {
			return req, usageErrorf("read task file: %v", err)
		}
		req.Input = string(data)
	case !s.interactive():
		text, err := readAll(cmd.InOrStdin())
		if err != nil {
			return req, err
		}
		req.Input = text
	default:
		return s.promptRequest(cmd, req)
	}
	return req, nil
}

// promptRequest asks for tasks, then any details the flags left open.
func (s *session) promptRequest(cmd *cobra.Command, req app.Request) (app.Request, error) {
	p := s.prompter(cmd)
	defer p.Close()

	out := cmd.ErrOrStderr()
	fmt.Fprintln(out, "What needs to happen today? One task per line; finish with an empty line.")
	tasks, err := promptLines(p, "> ")
	if err != nil {
		return req, err
	}
	req.Input = strings.Join(tasks, "\n")
	if strings.TrimSpace(req.Input) == "" {
		// Gather reports the empty input.
		return req, nil
	}

	if req.WorkHours == "" {
		def := ""
		if s.cfg != nil {
			def = s.cfg.Planning.WorkHours
		}
		if req.WorkHours, err = promptDefault(p, "Work hours", def); err != nil {
			return req, err
		}
	}
	if len(req.Commitments) == 0 {
		fmt.Fprintln(out, "Fixed commitments today, one per line (empty line for none):")
		if req.Commitments, err = promptLines(p, "> "); err != nil {
			return req, err
		}
	}
	return req, nil
}
