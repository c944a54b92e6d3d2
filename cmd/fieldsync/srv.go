package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fieldsync/internal/config"
	"fieldsync/internal/engine"
	"fieldsync/internal/metrics"
	"fieldsync/internal/server"
)

func newSrvCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "srv",
		Short: "Run the fieldsync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg == nil {
				return fmt.Errorf("config not initialized")
			}
			if cfg.DataDir == "" {
				return fmt.Errorf("data dir is required")
			}

			logger := slog.Default()

			addr, err := server.ListenAddr(cfg.APIURL)
			if err != nil {
				return err
			}

			logger.Info("opening engine", "data_dir", cfg.DataDir, "backend_url", cfg.BackendURL)
			m := metrics.New()
			eng, err := engine.Open(*cfg, engine.Deps{
				Logger:  logger.With("component", "engine"),
				Metrics: m,
			})
			if err != nil {
				return err
			}
			defer eng.Close()

			srv := server.New(addr, eng, logger.With("component", "server"), server.Options{
				MaxBlobBytes: cfg.Cache.CapacityBytes,
				Metrics:      m.Handler(),
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return eng.Run(ctx)
			})
			g.Go(func() error {
				return srv.ListenAndServe(ctx)
			})
			return g.Wait()
		},
	}
}
