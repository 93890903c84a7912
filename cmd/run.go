// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/loopsmith/internal/config"
	"github.com/xkilldash9x/loopsmith/internal/observability"
)

// newRunCmd creates the 'run' command. It starts the daemon: scheduled
// cycles on the configured interval plus the emergency event watcher,
// until the process receives an interrupt.
func newRunCmd() *cobra.Command {
	var memStore bool

	initFn := buildApplication

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the improvement daemon (scheduled cycles + emergency watcher).",
		Long: `The run command starts the full autonomous loop. Cycles fire at the
configured start hour and interval; critical alarms on the telemetry event
stream trigger immediate emergency cycles.
WARNING: Deployments modify the managed components' code. Make sure the
deploy root points at the intended tree.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if memStore {
				cfg.Store.InMemory = true
			}
			return runDaemon(ctx, cfg, logger, initFn)
		},
	}

	cmd.Flags().BoolVar(&memStore, "mem-store", false, "Use the in-memory report store instead of PostgreSQL (data is lost on exit).")

	return cmd
}

// runDaemon contains the daemon logic, decoupled from cobra.
func runDaemon(ctx context.Context, cfg *config.Config, logger *zap.Logger, initFn applicationInitializer) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := initFn(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to build the improvement subsystem.", zap.Error(err))
		return err
	}
	defer app.Close()

	logger.Info("Improvement daemon started.",
		zap.Int("interval_hours", cfg.Cycle.IntervalHours),
		zap.Int("start_hour", cfg.Cycle.StartHour),
		zap.Duration("telemetry_pull_interval", cfg.Telemetry.PullInterval))

	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Scheduler exited with error.", zap.Error(err))
		return err
	}
	logger.Info("Improvement daemon stopped.")
	return nil
}
