package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var migrateOverrides overrides

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded database schema",
	Long:  "Create the charts and extracted_data tables and their indexes if they do not exist.",
	RunE:  runMigrate,
}

func init() {
	migrateOverrides.register(migrateCmd)
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadSettings(cmd, &migrateOverrides, "database", "logging")
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := context.Background()
	database, err := connect(ctx, cfg, "chart-digitizer-migrate", 1)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	log.Info("database schema applied")
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Schema applied.")
	return nil
}
