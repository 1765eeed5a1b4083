package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newAgentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Run in the background, replaying queued changes whenever the API is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.log.Info("Starting sync agent",
				zap.String("env", a.cfg.Env),
				zap.String("backend_url", a.cfg.Backend.BaseURL),
				zap.Int("pending", a.queue.PendingCount()),
			)

			a.probe.Start(ctx)
			defer a.probe.Stop()

			err := a.svc.Run(ctx)

			// prune what the queue and history no longer need
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, perr := a.queue.PruneFailed(cleanupCtx, 30*24*time.Hour); perr != nil {
				a.log.Error("Failed to prune failed mutations", zap.Error(perr))
			}
			if _, perr := a.history.DeleteOlderThan(cleanupCtx, time.Now().AddDate(0, 0, -90)); perr != nil {
				a.log.Error("Failed to prune sync history", zap.Error(perr))
			}

			a.log.Info("Sync agent stopped")
			return err
		},
	}
}
