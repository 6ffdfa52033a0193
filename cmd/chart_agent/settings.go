package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonathan/chart-digitizer/internal/config"
	"github.com/jonathan/chart-digitizer/internal/db"
	"github.com/jonathan/chart-digitizer/internal/observability"
	"github.com/spf13/cobra"
)

// overrides bind command flags onto config fields. Only flags the user set are applied.
type overrides struct {
	databaseURL string
	logMode     string
}

func (o *overrides) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.databaseURL, "db-url", "", "Database URL (overrides DATABASE_URL)")
	cmd.Flags().StringVar(&o.logMode, "log-mode", "", "Log mode: development or production (overrides LOG_MODE)")
}

func (o *overrides) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("db-url") {
		cfg.Database.URL = strings.TrimSpace(o.databaseURL)
	}
	if cmd.Flags().Changed("log-mode") {
		cfg.Logging.Mode = o.logMode
	}
}

// loadSettings layers defaults, the config file, env, and flags, then validates the named
// sections (all of them when none are given).
func loadSettings(cmd *cobra.Command, o *overrides, sections ...string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if o != nil {
		o.apply(cmd, cfg)
	}
	if len(sections) == 0 {
		err = cfg.Validate()
	} else {
		err = cfg.ValidateSections(sections...)
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*observability.Logger, error) {
	log, err := observability.NewLogger(cfg.Logging.Mode)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return log, nil
}

// connect opens a pool against the configured database.
func connect(ctx context.Context, cfg *config.Config, name string, maxConns int32) (*db.DB, error) {
	database, err := db.Connect(ctx, cfg.Database.URL,
		db.WithMaxConns(maxConns),
		db.WithApplicationName(name),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return database, nil
}
