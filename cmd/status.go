// File: cmd/status.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/loopsmith/internal/config"
	"github.com/xkilldash9x/loopsmith/internal/observability"
	"github.com/xkilldash9x/loopsmith/internal/store"
)

// newStatusCmd creates the 'status' command. It reads cycle reports from
// the shared store, so it can inspect a daemon running elsewhere.
func newStatusCmd() *cobra.Command {
	var cycleID string
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Prints recent cycle reports from the report store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runStatus(ctx, cfg, cycleID, limit, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&cycleID, "cycle-id", "", "Print a single cycle report by ID.")
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "Number of recent reports to print.")

	return cmd
}

// runStatus contains the status logic, decoupled from cobra.
func runStatus(ctx context.Context, cfg *config.Config, cycleID string, limit int, out io.Writer) error {
	if cfg.Store.InMemory {
		return fmt.Errorf("status requires a persistent store; set store.in_memory=false and store.url")
	}

	st, err := store.Connect(ctx, cfg.Store.URL, observability.GetLogger())
	if err != nil {
		return fmt.Errorf("failed to open report store: %w", err)
	}
	defer st.Close()

	if cycleID != "" {
		report, err := st.GetReport(ctx, cycleID)
		if err != nil {
			return err
		}
		return printJSON(out, report)
	}

	reports, err := st.LatestReports(ctx, limit)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		fmt.Fprintln(out, "no cycle reports recorded")
		return nil
	}
	return printJSON(out, reports)
}

func printJSON(out io.Writer, v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	_, err = fmt.Fprintln(out, string(encoded))
	return err
}
