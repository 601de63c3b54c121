// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/daypilot/internal/app"
	"github.com/jeranaias/daypilot/internal/config"
	"github.com/jeranaias/daypilot/internal/logging"
	"github.com/jeranaias/daypilot/internal/ui/styles"
)

// Version information (set at build time)
var (
	Version   = "0.2.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// session holds what every command needs once flags are parsed.
type session struct {
	configPath string
	verbose    bool
	noColor    bool

	cfg    *config.Config
	logger *logging.Logger

	// The fields below are replaced in tests.
	openApp func(cfg *config.Config, logger *logging.Logger) (*app.App, error)
	// interactive reports whether stdin can answer prompts.
	interactive func() bool
	// progressTTY reports whether stderr can show the progress view.
	progressTTY func() bool
	// outputTTY reports whether stdout is a terminal.
	outputTTY   func() bool
	newPrompter func(in io.Reader, out io.Writer) Prompter
}

func newSession() *session {
	return &session{
		openApp: func(cfg *config.Config, logger *logging.Logger) (*app.App, error) {
			return app.Open(cfg, logger)
		},
		interactive: IsTTY,
		progressTTY: IsStderrTTY,
		outputTTY:   IsStdoutTTY,
		newPrompter: func(io.Reader, io.Writer) Prompter { return newLinePrompter() },
	}
}

// NewRootCommand builds the full command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(newSession())
}

func newRootCommand(s *session) *cobra.Command {
	root := &cobra.Command{
		Use:   "daypilot",
		Short: "Plan the rest of your day",
		Long: `daypilot turns a free-form list of today's tasks into a prioritized,
time-blocked schedule for the rest of the day. Location, weather and WHOOP
recovery are used as context when available.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return s.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = s.logger.Close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&s.configPath, "config", "c", s.configPath, "config file (default ~/.daypilot/config.toml)")
	pf.BoolVarP(&s.verbose, "verbose", "v", false, "log debug output to stderr")
	pf.BoolVar(&s.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newPlanCommand(s),
		newCaptureCommand(s),
		newLocationCommand(s),
		newWhoopCommand(s),
		newWeatherCommand(s),
		newServeCommand(s),
		newConfigCommand(s),
		newVersionCommand(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := NewRootCommand()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		DisplayError(root.ErrOrStderr(), err)
		return ExitCode(err)
	}
	return ExitSuccess
}

func (s *session) init(cmd *cobra.Command) error {
	if s.noColor || !ShouldUseColor() {
		styles.DisableColor()
	}

	if s.configPath == "" {
		path, err := config.Path()
		if err != nil {
			return err
		}
		s.configPath = path
	}

	// config and version must work even when the file is invalid.
	if cmd.Name() == "version" || (cmd.Parent() != nil && cmd.Parent().Name() == "config") {
		s.logger = logging.NopLogger()
		return nil
	}

	cfg, err := config.LoadFrom(s.configPath)
	if err != nil {
		return err
	}
	s.cfg = cfg
	config.SetGlobal(cfg)

	logger, err := s.newLogger(cmd.ErrOrStderr(), cmd.Name() == "serve")
	if err != nil {
		return err
	}
	s.logger = logger
	return nil
}

// newLogger sends logs to stderr for serve and --verbose, to the configured
// file otherwise, and nowhere when neither applies.
func (s *session) newLogger(stderr io.Writer, serving bool) (*logging.Logger, error) {
	opts := logging.Options{Level: s.cfg.Logging.Level, Format: s.cfg.Logging.Format, File: s.cfg.Logging.File}
	switch {
	case s.verbose:
		opts.Level = "DEBUG"
		opts.File = ""
		return logging.New(stderr, opts)
	case serving || opts.File != "":
		return logging.New(stderr, opts)
	default:
		return logging.NopLogger(), nil
	}
}

func (s *session) app() (*app.App, error) {
	a, err := s.openApp(s.cfg, s.logger)
	if err != nil {
		return nil, fmt.Errorf("open profile: %w", err)
	}
	return a, nil
}

func (s *session) prompter(cmd *cobra.Command) Prompter {
	return s.newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
}

func (s *session) color() bool {
	return !s.noColor && ShouldUseColor()
}

func (s *session) showProgress() bool {
	return s.progressTTY()
}

func (s *session) renderMode() renderMode {
	switch {
	case !s.outputTTY():
		return renderPlain
	case !s.color():
		return renderASCII
	default:
		return renderStyled
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "daypilot %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
			return nil
		},
	}
}
