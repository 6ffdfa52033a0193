package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonathan/chart-digitizer/internal/observability"
	"github.com/jonathan/chart-digitizer/internal/types"
	"github.com/spf13/cobra"
)

var (
	statusOverrides overrides
	statusJSON      bool
	statusItems     bool
)

var statusCmd = &cobra.Command{
	Use:   "status <chart-id>",
	Short: "Show a chart's processing status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	statusOverrides.register(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the snapshot as JSON")
	statusCmd.Flags().BoolVar(&statusItems, "items", false, "Also print extracted fields when completed")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings(cmd, &statusOverrides, "database", "logging")
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := context.Background()
	database, err := connect(ctx, cfg, "chart-digitizer-cli", 1)
	if err != nil {
		return err
	}
	defer database.Close()

	chart, rows, err := database.GetChartWithItems(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		var v any = chart.StatusSnapshot()
		if statusItems {
			v = chart.ResultSnapshot(rows)
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	p := observability.NewPrinter(out)
	p.PrintStatus(chart.StatusSnapshot())
	if statusItems && chart.Status == types.StatusCompleted {
		p.PrintItems("EXTRACTED FIELDS", types.ItemsOf(rows))
	} else if statusItems {
		_, _ = fmt.Fprintln(out, "No extracted fields: processing not completed.")
	}
	return nil
}
