// Package config provides configuration loading and validation for the chart digitizer.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Storage modes for the blob store.
const (
	StorageModeGCS         = "gcs"
	StorageModeGCSEmulator = "gcs-emulator"
	StorageModeLocal       = "local"
)

// Config is the full process configuration. Values are layered:
// defaults, then an optional JSON/YAML file, then environment variables, then CLI flags.
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Database   DatabaseConfig   `json:"database" yaml:"database"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction"`
	Jobs       JobsConfig       `json:"jobs" yaml:"jobs"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Tracing    TracingConfig    `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port                int             `json:"port" yaml:"port" validate:"min=1,max=65535"`
	APIPrefix           string          `json:"api_prefix" yaml:"api_prefix" validate:"required,startswith=/"`
	APIKey              string          `json:"api_key" yaml:"api_key" validate:"required"`
	CORSOrigins         []string        `json:"cors_origins" yaml:"cors_origins"`
	MaxFileSize         int64           `json:"max_file_size" yaml:"max_file_size" validate:"min=1"`
	AllowedContentTypes []string        `json:"allowed_content_types" yaml:"allowed_content_types" validate:"min=1,dive,required"`
	ShutdownSeconds     int             `json:"shutdown_seconds" yaml:"shutdown_seconds" validate:"min=0"`
	RateLimit           RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig throttles clients by remote IP. Zero rates mean unlimited.
type RateLimitConfig struct {
	Enabled           bool     `json:"enabled" yaml:"enabled"`
	UploadsPerMinute  int      `json:"uploads_per_minute" yaml:"uploads_per_minute" validate:"min=0"`
	UploadBurst       int      `json:"upload_burst" yaml:"upload_burst" validate:"min=0"`
	RequestsPerMinute int      `json:"requests_per_minute" yaml:"requests_per_minute" validate:"min=0"`
	Whitelist         []string `json:"whitelist" yaml:"whitelist" validate:"dive,ip"`
}

// DatabaseConfig holds PostgreSQL settings. The fallback pool is the independent
// handle used to record failures.
type DatabaseConfig struct {
	URL              string `json:"url" yaml:"url" validate:"required"`
	MaxConns         int32  `json:"max_conns" yaml:"max_conns" validate:"min=0"`
	FallbackMaxConns int32  `json:"fallback_max_conns" yaml:"fallback_max_conns" validate:"min=0"`
	Migrate          bool   `json:"migrate" yaml:"migrate"`
}

// StorageConfig selects and configures the blob store.
type StorageConfig struct {
	Mode         string `json:"mode" yaml:"mode" validate:"oneof=gcs gcs-emulator local"`
	Bucket       string `json:"bucket" yaml:"bucket" validate:"required_unless=Mode local"`
	EmulatorHost string `json:"emulator_host" yaml:"emulator_host" validate:"required_if=Mode gcs-emulator"`
	LocalDir     string `json:"local_dir" yaml:"local_dir" validate:"required_if=Mode local"`
}

// ExtractionConfig configures the vision extraction provider.
type ExtractionConfig struct {
	APIKey          string   `json:"api_key" yaml:"api_key"`
	CredentialsFile string   `json:"credentials_file" yaml:"credentials_file"`
	CredentialsJSON string   `json:"credentials_json" yaml:"credentials_json"`
	Model           string   `json:"model" yaml:"model" validate:"required"`
	Endpoint        string   `json:"endpoint" yaml:"endpoint" validate:"required,url"`
	Fields          []string `json:"fields" yaml:"fields" validate:"min=1,dive,required"`
	PromptVariant   string   `json:"prompt_variant" yaml:"prompt_variant" validate:"oneof=standard advanced"`
	Temperature     float32  `json:"temperature" yaml:"temperature" validate:"min=0,max=2"`
	TopP            float32  `json:"top_p" yaml:"top_p" validate:"min=0,max=1"`
	TopK            int32    `json:"top_k" yaml:"top_k" validate:"min=1"`
	MaxOutputTokens int32    `json:"max_output_tokens" yaml:"max_output_tokens" validate:"min=1"`
	TimeoutSeconds  int      `json:"timeout_seconds" yaml:"timeout_seconds" validate:"min=1"`
}

// JobsConfig bounds background processing. Zero values mean unbounded and no timeout.
type JobsConfig struct {
	MaxConcurrent  int `json:"max_concurrent" yaml:"max_concurrent" validate:"min=0"`
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds" validate:"min=0"`
}

// LoggingConfig selects the zap preset.
type LoggingConfig struct {
	Mode string `json:"mode" yaml:"mode" validate:"oneof=development production"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`
	Insecure    bool    `json:"insecure" yaml:"insecure"`
	SampleRatio float64 `json:"sample_ratio" yaml:"sample_ratio" validate:"min=0,max=1"`
}

// DefaultFields is the chart field list the provider is asked to fill.
var DefaultFields = []string{
	"patient_name",
	"visit_date",
	"chief_complaint",
	"present_illness",
	"past_history",
	"medications",
	"allergies",
	"vital_signs",
	"physical_examination",
	"diagnosis",
	"treatment_plan",
	"notes",
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                8000,
			APIPrefix:           "/api/v1",
			CORSOrigins:         []string{"http://localhost:3000", "http://localhost:8000"},
			MaxFileSize:         10 * 1024 * 1024,
			AllowedContentTypes: []string{"image/jpeg", "image/png"},
			ShutdownSeconds:     30,
			APIKey:              "development_api_key",
			RateLimit: RateLimitConfig{
				Enabled:           true,
				UploadsPerMinute:  30,
				UploadBurst:       5,
				RequestsPerMinute: 600,
			},
		},
		Database: DatabaseConfig{
			MaxConns:         10,
			FallbackMaxConns: 2,
			Migrate:          true,
		},
		Storage: StorageConfig{
			Mode:   StorageModeGCS,
			Bucket: "medical-charts-dev",
		},
		Extraction: ExtractionConfig{
			Model:           "gemini-2.5-pro",
			Endpoint:        "https://generativelanguage.googleapis.com/v1beta",
			Fields:          append([]string(nil), DefaultFields...),
			PromptVariant:   "standard",
			Temperature:     0.4,
			TopP:            1,
			TopK:            32,
			MaxOutputTokens: 8192,
			TimeoutSeconds:  120,
		},
		Logging: LoggingConfig{Mode: "development"},
		Tracing: TracingConfig{SampleRatio: 1},
	}
}

// LoadConfig reads a JSON or YAML file over the defaults.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	return cfg, nil
}

// Load builds the effective configuration: defaults, the optional file at path,
// then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	return formatValidation(validate.Struct(c), "")
}

// ValidateSections checks only the named top-level sections, for commands that do not need
// the whole service (for example "extraction" alone).
func (c *Config) ValidateSections(names ...string) error {
	sections := map[string]any{
		"server":     &c.Server,
		"database":   &c.Database,
		"storage":    &c.Storage,
		"extraction": &c.Extraction,
		"jobs":       &c.Jobs,
		"logging":    &c.Logging,
		"tracing":    &c.Tracing,
	}
	var errs []error
	for _, name := range names {
		section, ok := sections[name]
		if !ok {
			return fmt.Errorf("config error: unknown section %q", name)
		}
		if err := formatValidation(validate.Struct(section), name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// formatValidation renders validator errors with json field paths. prefix replaces the
// struct name at the head of each namespace.
func formatValidation(err error, prefix string) error {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config error: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		if prefix != "" {
			field = prefix + "." + field
		}
		msgs = append(msgs, fmt.Sprintf("'%s' failed '%s' (value %v)", field, fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("config error: %s", strings.Join(msgs, "; "))
}

// UsesAPIKey reports whether extraction runs over the REST transport.
func (c *ExtractionConfig) UsesAPIKey() bool {
	return strings.TrimSpace(c.APIKey) != ""
}
