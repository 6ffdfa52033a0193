package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonathan/chart-digitizer/internal/config"
	"github.com/jonathan/chart-digitizer/internal/export"
	"github.com/jonathan/chart-digitizer/internal/llm"
	"github.com/jonathan/chart-digitizer/internal/observability"
	"github.com/jonathan/chart-digitizer/internal/types"
	"github.com/spf13/cobra"
)

var (
	extractFormat  string
	extractFields  []string
	extractVariant string
	extractAPIKey  string
	extractDryRun  bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <image>",
	Short: "Extract chart fields from a local image",
	Long:  "Send a local JPEG or PNG chart image to the extraction provider and print the fields. No database or blob store is used.",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&extractFormat, "format", "f", "text", "Output format: text, json or csv")
	extractCmd.Flags().StringSliceVar(&extractFields, "fields", nil, "Comma-separated field names (overrides the configured list)")
	extractCmd.Flags().StringVar(&extractVariant, "prompt", "", "Prompt variant: standard or advanced")
	extractCmd.Flags().StringVar(&extractAPIKey, "api-key", "", "Gemini API key (overrides GEMINI_API_KEY env var)")
	extractCmd.Flags().BoolVar(&extractDryRun, "dry-run", false, "Print the rendered prompt and exit")
	rootCmd.AddCommand(extractCmd)
}

func applyExtractFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("fields") {
		cfg.Extraction.Fields = extractFields
	}
	if cmd.Flags().Changed("prompt") {
		cfg.Extraction.PromptVariant = extractVariant
	}
	if cmd.Flags().Changed("api-key") {
		cfg.Extraction.APIKey = extractAPIKey
	}
}

func runExtract(cmd *cobra.Command, args []string) error {
	format := strings.ToLower(extractFormat)
	switch format {
	case "text", "json", "csv":
	default:
		return fmt.Errorf("unknown format %q (want text, json or csv)", extractFormat)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyExtractFlags(cmd, cfg)
	if err := cfg.ValidateSections("extraction", "logging"); err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	mimeType := imageMIMEType(args[0], image)

	ctx := context.Background()
	client, err := llm.NewClient(ctx, llm.FromSettings(cfg.Extraction), log)
	if err != nil {
		return fmt.Errorf("failed to create extraction client: %w", err)
	}
	defer func() { _ = client.Close() }()

	out := cmd.OutOrStdout()
	if extractDryRun {
		_, err := fmt.Fprintln(out, client.Prompt())
		return err
	}

	items, err := client.Extract(ctx, image, mimeType)
	if err != nil {
		return err
	}
	return writeItems(out, format, filepath.Base(args[0]), items)
}

// imageMIMEType prefers the extension and falls back to content sniffing.
func imageMIMEType(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	return http.DetectContentType(data)
}

func writeItems(out io.Writer, format, title string, items []types.Item) error {
	switch format {
	case "json":
		_, err := fmt.Fprintln(out, llm.FormatItems(items))
		return err
	case "csv":
		return export.WriteCSV(out, items)
	default:
		observability.NewPrinter(out).PrintItems(strings.ToUpper(title), items)
		return nil
	}
}
