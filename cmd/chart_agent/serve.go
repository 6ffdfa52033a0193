package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonathan/chart-digitizer/internal/config"
	"github.com/jonathan/chart-digitizer/internal/gcp"
	"github.com/jonathan/chart-digitizer/internal/jobs"
	"github.com/jonathan/chart-digitizer/internal/llm"
	"github.com/jonathan/chart-digitizer/internal/observability"
	"github.com/jonathan/chart-digitizer/internal/server"
	"github.com/jonathan/chart-digitizer/internal/storage"
	"github.com/spf13/cobra"
)

var (
	serveOverrides     overrides
	servePort          int
	serveMigrate       bool
	serveStorageMode   string
	serveMaxConcurrent int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that accepts chart uploads and processes them in the background.`,
	RunE:  runServe,
}

func init() {
	serveOverrides.register(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides PORT)")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "Apply the embedded schema on startup")
	serveCmd.Flags().StringVar(&serveStorageMode, "storage-mode", "", "Blob store: gcs, gcs-emulator or local")
	serveCmd.Flags().IntVar(&serveMaxConcurrent, "max-concurrent", 0, "Maximum charts processed at once (0 = unbounded)")
	rootCmd.AddCommand(serveCmd)
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("migrate") {
		cfg.Database.Migrate = serveMigrate
	}
	if cmd.Flags().Changed("storage-mode") {
		cfg.Storage.Mode = serveStorageMode
	}
	if cmd.Flags().Changed("max-concurrent") {
		cfg.Jobs.MaxConcurrent = serveMaxConcurrent
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	serveOverrides.apply(cmd, cfg)
	applyServeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := observability.InitTracing(ctx, log, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "chart-digitizer",
		Environment: cfg.Logging.Mode,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	primary, err := connect(ctx, cfg, "chart-digitizer", cfg.Database.MaxConns)
	if err != nil {
		return err
	}
	defer primary.Close()

	// failure writes use their own pool, independent of the primary
	fallback, err := connect(ctx, cfg, "chart-digitizer-fallback", cfg.Database.FallbackMaxConns)
	if err != nil {
		return err
	}
	defer fallback.Close()

	if cfg.Database.Migrate {
		if err := primary.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
		log.Info("database schema applied")
	}

	blobs, err := storage.New(ctx, log, cfg.Storage,
		gcp.ClientOptions(cfg.Extraction.CredentialsFile, cfg.Extraction.CredentialsJSON)...)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}
	if closer, ok := blobs.(interface{ Close() error }); ok {
		defer func() { _ = closer.Close() }()
	}

	extractor, err := llm.NewClient(ctx, llm.FromSettings(cfg.Extraction), log)
	if err != nil {
		log.Warn("extraction provider unavailable, charts will fail until it is configured", "error", err)
		extractor = llm.NewUnavailableClient(err, log)
	}
	defer func() { _ = extractor.Close() }()

	orchestrator := jobs.NewOrchestrator(primary, fallback, blobs, extractor, log)
	dispatcher := jobs.NewDispatcher(orchestrator, log,
		jobs.WithMaxConcurrent(cfg.Jobs.MaxConcurrent),
		jobs.WithJobTimeout(time.Duration(cfg.Jobs.TimeoutSeconds)*time.Second),
	)

	srv := server.New(cfg.Server, server.Deps{
		Store: primary,
		Blobs: blobs,
		Jobs:  dispatcher,
		Log:   log,
	})

	serveErr := srv.Run(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSeconds)*time.Second)
	defer cancel()
	if err := dispatcher.Shutdown(drainCtx); err != nil {
		log.Warn("background jobs did not drain", "in_flight", dispatcher.InFlight(), "error", err)
		serveErr = errors.Join(serveErr, err)
	}
	return serveErr
}
