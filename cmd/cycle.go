// File: cmd/cycle.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/loopsmith/api/schemas"
	"github.com/xkilldash9x/loopsmith/internal/config"
	"github.com/xkilldash9x/loopsmith/internal/observability"
)

// newCycleCmd creates the 'cycle' command. It runs a single improvement
// cycle synchronously and prints the resulting report.
func newCycleCmd() *cobra.Command {
	var windowHours int
	var maxImprovements int
	var tenant string
	var memStore bool

	// Use the default initializer for the application's runtime.
	initFn := buildApplication

	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Runs one improvement cycle now and prints the report.",
		Long: `The cycle command triggers a manual improvement cycle and blocks until
it finishes. The analysis window and improvement budget default to the
configured values and can be narrowed per invocation.
WARNING: Deployments modify the managed components' code.`,
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
			return runManualCycle(ctx, cfg, logger, windowHours, maxImprovements, tenant, initFn, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&windowHours, "window-hours", "w", 0, "Analysis window in hours (default: configured telemetry window).")
	cmd.Flags().IntVarP(&maxImprovements, "max", "m", 0, "Maximum concurrent improvements this cycle (default: configured cap).")
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "Restrict the cycle to a single tenant.")
	cmd.Flags().BoolVar(&memStore, "mem-store", false, "Use the in-memory report store instead of PostgreSQL (data is lost on exit).")

	return cmd
}

// runManualCycle contains the manual cycle logic, decoupled from cobra.
func runManualCycle(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
	windowHours, maxImprovements int,
	tenant string,
	initFn applicationInitializer,
	out io.Writer,
) error {
	app, err := initFn(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to build the improvement subsystem.", zap.Error(err))
		return err
	}
	defer app.Close()

	logger.Info("Starting manual improvement cycle.",
		zap.Int("window_hours", windowHours),
		zap.Int("max_improvements", maxImprovements),
		zap.String("tenant", tenant))

	report, err := app.orch.RunCycle(ctx, schemas.TriggerRequest{
		Mode:                schemas.TriggerManual,
		AnalysisWindowHours: windowHours,
		MaxImprovements:     maxImprovements,
		Tenant:              tenant,
	})
	if err != nil {
		logger.Error("Cycle failed to start.", zap.Error(err))
		return fmt.Errorf("cycle error: %w", err)
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cycle report: %w", err)
	}
	fmt.Fprintln(out, string(encoded))

	logger.Info("Manual cycle finished.",
		zap.String("cycle_id", report.CycleID),
		zap.Int("deployed", report.ImprovementsDeployed),
		zap.Int("rolled_back", report.ImprovementsRolledBack))
	return nil
}
