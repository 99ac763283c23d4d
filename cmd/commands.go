package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ivanov-nikolay/design_tools/internal/config"
	"github.com/ivanov-nikolay/design_tools/internal/generation"
	"github.com/ivanov-nikolay/design_tools/internal/handler"
	"github.com/ivanov-nikolay/design_tools/internal/logging"
	"github.com/ivanov-nikolay/design_tools/internal/storage"
	"github.com/ivanov-nikolay/design_tools/internal/supervisor"
)

const shutdownTimeout = 10 * time.Second

func newRootCommand() *cobra.Command {
	var configPath string

	serve := newServeCommand()
	root := &cobra.Command{
		Use:           "design-tools",
		Short:         "File staging backend for the design tools page",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if configPath != "" {
				return os.Setenv(config.ConfigPathEnvVar, configPath)
			}
			return nil
		},
		RunE: serve.RunE,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file (overrides "+config.ConfigPathEnvVar+")")

	root.AddCommand(serve)
	root.AddCommand(newSweepCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server and the session sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				logging.Error().Err(err).Msg("Failed to start")
				return err
			}
			defer a.close()

			srv := handler.NewServer(a.cfg, a.store, a.meta, generation.NewClient(a.cfg.Generation))
			addr := fmt.Sprintf(":%d", a.cfg.Server.Port)
			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
			tree.AddAPIService(supervisor.NewHTTPServerService(httpServer, addr, shutdownTimeout))
			tree.AddBackgroundService(storage.NewSweeper(a.store, a.meta,
				a.cfg.Storage.CleanupInterval(), a.cfg.Storage.SessionLifetime()))
			tree.AddBackgroundService(srv.Limiter())

			logging.Info().
				Int("port", a.cfg.Server.Port).
				Str("upload_root", a.cfg.Storage.UploadRoot).
				Str("max_file_size", humanize.IBytes(uint64(a.cfg.Limits.MaxFileSize))).
				Str("max_total_size", humanize.IBytes(uint64(a.cfg.Limits.MaxTotalSize))).
				Dur("session_lifetime", a.cfg.Storage.SessionLifetime()).
				Msg("Design tools server starting")

			if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Error().Err(err).Msg("Supervisor tree stopped")
				return err
			}
			logging.Info().Msg("Shutdown complete")
			return nil
		},
	}
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired upload sessions and stale temp files once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			sweeper := storage.NewSweeper(a.store, a.meta,
				a.cfg.Storage.CleanupInterval(), a.cfg.Storage.SessionLifetime())
			result := sweeper.Sweep(cmd.Context())

			fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, removed %d, temp removed %d, failed %d\n",
				result.Scanned, result.Removed, result.TempRemoved, result.Failed)
			if result.Failed > 0 {
				return fmt.Errorf("failed to clean up %d entries", result.Failed)
			}
			return nil
		},
	}
}
