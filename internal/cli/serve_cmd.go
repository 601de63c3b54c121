// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/daypilot/internal/config"
	"github.com/jeranaias/daypilot/internal/server"
	"github.com/jeranaias/daypilot/internal/ui/styles"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(s *session) *cobra.Command {
	var (
		addr    string
		noWatch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the planner over HTTP",
		Long: `Serve the planner over HTTP.

POST /v1/plan runs one planning pipeline per request; GET /healthz reports
liveness. Changes to the config file are applied without a restart, except
for the listen address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := s.cfg.Clone()
			if addr != "" {
				host, port, err := splitAddr(addr)
				if err != nil {
					return err
				}
				cfg.Server.Host, cfg.Server.Port = host, port
			}

			a, err := s.openApp(cfg, s.logger)
			if err != nil {
				return fmt.Errorf("open profile: %w", err)
			}
			defer a.Close()

			server.Version = Version
			srv := server.New(cfg.Server, a, s.logger)
			ctx := cmd.Context()

			if !noWatch {
				w, err := config.NewWatcher(s.configPath, 0, func(next *config.Config) {
					next.Server.Host, next.Server.Port = cfg.Server.Host, cfg.Server.Port
					config.SetGlobal(next)
					a.Reload(next)
					srv.Reload(next.Server)
				}, func(err error) {
					s.logger.Warn("CONFIG_RELOAD_FAILED", "error", err)
				})
				if err != nil {
					s.logger.Warn("CONFIG_WATCH_DISABLED", "error", err)
				} else {
					defer w.Close()
					go w.Run(ctx)
				}
			}

			ln, err := net.Listen("tcp", srv.Addr())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), styles.RenderInfo(fmt.Sprintf("daypilot %s listening on http://%s", Version, ln.Addr())))

			errc := make(chan error, 1)
			go func() { errc <- srv.Serve(ln) }()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			_ = ln.Close()
			<-errc
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address host:port (default from config)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the config file on change")
	return cmd
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, usageErrorf("invalid --addr %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, usageErrorf("invalid port in --addr %q", addr)
	}
	return host, port, nil
}
