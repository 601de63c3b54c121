// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"io"

	"github.com/spf13/cobra"
)

func newWeatherCommand(s *session) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "weather",
		Short: "Show the rest of today's forecast for your location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.app()
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Forecast(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, report, s.color())
			}
			_, err = io.WriteString(out, renderMarkdown(report.PresentMarkdown(), s.renderMode(), GetTerminalWidth()))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the forecast as JSON")
	return cmd
}
