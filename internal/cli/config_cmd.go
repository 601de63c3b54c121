// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/jeranaias/daypilot/internal/config"
	"github.com/jeranaias/daypilot/internal/ui/styles"
)

const redacted = "********"

func newConfigCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the config file",
	}
	cmd.AddCommand(newConfigInitCommand(s), newConfigShowCommand(s), newConfigPathCommand(s))
	return cmd
}

func newConfigInitCommand(s *session) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(s.configPath); err == nil && !force {
				return usageErrorf("%s already exists (use --force to overwrite)", s.configPath)
			}
			if err := config.SaveTOML(config.Default(), s.configPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), styles.RenderSuccess("Wrote "+s.configPath))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective config with secrets hidden",
		Long: `Print the effective config: file values, then environment overrides.
API keys, client secrets and the server token are hidden.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFrom(s.configPath)
			if err != nil {
				return err
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(redact(cfg))
		},
	}
}

func newConfigPathCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), s.configPath)
			return nil
		},
	}
}

// redact returns a copy of cfg with every secret replaced.
func redact(cfg *config.Config) *config.Config {
	out := cfg.Clone()
	for _, secret := range []*string{
		&out.Reasoning.APIKey,
		&out.Location.OpenCageKey,
		&out.Whoop.ClientSecret,
		&out.Server.AuthToken,
	} {
		if *secret != "" {
			*secret = redacted
		}
	}
	return out
}
