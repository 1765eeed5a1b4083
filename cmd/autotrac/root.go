package main

import (
	"context"
	"fmt"

	"autotrac/sync-client/internal/config"
	"autotrac/sync-client/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type appKey struct{}

// newRootCmd builds the command tree. The returned func closes the app a
// command opened; PersistentPostRunE is skipped when a command fails, so
// callers must run it after Execute.
func newRootCmd() (*cobra.Command, func()) {
	var (
		configPath string
		current    *app
	)
	closeApp := func() {
		if current != nil {
			current.Close()
			current = nil
		}
	}

	root := &cobra.Command{
		Use:   "autotrac",
		Short: "AutoTrac offline-first time and income tracking client",
		Long: `autotrac records timers and incomes against the AutoTrac API.
Writes made while the API is unreachable are queued locally and replayed,
in order, once it is back.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			log.Debug("Configuration loaded",
				zap.String("env", cfg.Env),
				zap.String("config_path", configPath),
				zap.String("storage", cfg.Storage.Backend),
			)

			a, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				_ = log.Sync()
				return fmt.Errorf("failed to initialize: %w", err)
			}
			current = a
			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, a))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			closeApp()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/local.yaml", "Path to configuration file")

	root.AddCommand(
		newStartCmd(),
		newStopCmd(),
		newIncomeCmd(),
		newEntriesCmd(),
		newIncomesCmd(),
		newPendingCmd(),
		newSyncCmd(),
		newClearCmd(),
		newRateCmd(),
		newConvertCmd(),
		newSummaryCmd(),
		newHistoryCmd(),
		newProjectsCmd(),
		newDeleteCmd(),
		newExportCmd(),
		newAgentCmd(),
	)
	return root, closeApp
}

func appFrom(cmd *cobra.Command) *app {
	if cmd.Context() == nil {
		return nil
	}
	a, _ := cmd.Context().Value(appKey{}).(*app)
	return a
}
