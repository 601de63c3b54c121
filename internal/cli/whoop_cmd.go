// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/daypilot/internal/profile"
	"github.com/jeranaias/daypilot/internal/ui/styles"
	"github.com/jeranaias/daypilot/internal/whoop"
)

func newWhoopCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoop",
		Short: "Connect the WHOOP recovery provider",
	}
	cmd.AddCommand(newWhoopConnectCommand(s), newWhoopStatusCommand(s), newWhoopDisconnectCommand(s))
	return cmd
}

func newWhoopConnectCommand(s *session) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Authorize daypilot to read WHOOP recovery data",
		Long: `Authorize daypilot to read WHOOP recovery data.

A local callback server receives the authorization code; open the printed
URL in a browser on this machine and approve access.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.app()
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			cred, err := a.ConnectWhoop(cmd.Context(), whoop.ConnectOptions{
				Timeout: timeout,
				Open: func(authURL string) error {
					fmt.Fprintln(out, styles.RenderInfo("Open this URL to authorize daypilot:"))
					fmt.Fprintf(out, "\n  %s\n\n", authURL)
					fmt.Fprintln(out, styles.RenderMuted("Waiting for the callback..."))
					return nil
				},
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(out, styles.RenderSuccess("WHOOP connected"))
			writeCredential(cmd, cred)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", whoop.CallbackTimeout, "how long to wait for the authorization callback")
	return cmd
}

func newWhoopStatusCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the WHOOP connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.app()
			if err != nil {
				return err
			}
			defer a.Close()

			cred, err := a.WhoopStatus(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), styles.RenderSuccess("WHOOP connected"))
			writeCredential(cmd, cred)
			return nil
		},
	}
}

func newWhoopDisconnectCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Delete the stored WHOOP tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.app()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.DisconnectWhoop(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), styles.RenderSuccess("WHOOP disconnected"))
			return nil
		},
	}
}

// writeCredential prints credential metadata. Tokens are never shown.
func writeCredential(cmd *cobra.Command, cred profile.Credential) {
	out := cmd.OutOrStdout()
	const layout = "2006-01-02 15:04"
	if cred.Scope != "" {
		fmt.Fprintf(out, "  Scope:      %s\n", cred.Scope)
	}
	if !cred.ConnectedAt.IsZero() {
		fmt.Fprintf(out, "  Connected:  %s\n", cred.ConnectedAt.Local().Format(layout))
	}
	if !cred.LastSyncAt.IsZero() {
		fmt.Fprintf(out, "  Last sync:  %s\n", cred.LastSyncAt.Local().Format(layout))
	}
	if !cred.ExpiresAt.IsZero() {
		fmt.Fprintf(out, "  Expires:    %s\n", cred.ExpiresAt.Local().Format(layout))
	}
}
