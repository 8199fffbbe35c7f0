package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/nainya/docvault/internal/config"
	"github.com/nainya/docvault/internal/server"
	"github.com/nainya/docvault/pkg/audit"
)

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve /metrics, /health and /ready until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := ctxOf(cmd)
			if addr == "" {
				addr = c.cfg.Metrics.Addr
			}
			srv := server.NewObservabilityServer(server.Options{
				Addr:        addr,
				Gatherer:    c.app.Registry,
				Ready:       c.app.Ready,
				EnablePprof: c.cfg.Metrics.EnablePprof,
				Metrics:     c.app.Metrics,
				Log:         c.app.Log,
			})

			if _, err := c.app.Audit.LogSystemEvent(ctx, audit.ActionSystemStartup, map[string]any{"addr": addr}); err != nil {
				return err
			}
			serveErr := srv.Start(ctx)
			if _, err := c.app.Audit.LogSystemEvent(context.WithoutCancel(ctx), audit.ActionSystemShutdown, nil); err != nil {
				c.app.Log.Warn().Err(err).Msg("Failed to audit shutdown")
			}
			return serveErr
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return c.withApp(cmd)
}

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), cfg)
		},
	}
	return cmd
}
