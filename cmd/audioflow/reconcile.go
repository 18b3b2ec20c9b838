package main

import (
	"encoding/json"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audioflow/audioflow/internal/boot"
	"github.com/audioflow/audioflow/internal/db"
	"github.com/audioflow/audioflow/internal/logger"
	"github.com/audioflow/audioflow/internal/reconcile"
	"github.com/audioflow/audioflow/internal/songs"
)

// newReconcileCmd runs one sweep outside the server and prints its report as JSON.
func newReconcileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Delete stored objects that no song references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			rc, err := boot.ProvideRuntimeConfig(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logger.L
			pool, err := db.Open(ctx, cfg.Postgres)
			if err != nil {
				return err
			}
			defer pool.Close()

			loc, err := provideLocalStrategy(log, cfg)
			if err != nil {
				return err
			}
			router, err := provideRouter(log, rc, loc)
			if err != nil {
				return err
			}
			svc, err := reconcile.NewService(log, router, songs.NewPGStore(log, pool), rc.Reconcile)
			if err != nil {
				return err
			}
			report, err := svc.Sweep(ctx)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(report); encErr != nil {
				log.Warn("write report failed", slog.Any("error", encErr))
			}
			return err
		},
	}
}
