// Package llm drives the vision extraction provider: one prompt plus one chart image in,
// an ordered list of extracted fields out.
package llm

import (
	"time"

	"github.com/jonathan/chart-digitizer/internal/config"
)

// GenerationConfig holds the sampling parameters sent with every request.
type GenerationConfig struct {
	Temperature     float32
	TopP            float32
	TopK            int32
	MaxOutputTokens int32
}

// DefaultGenerationConfig biases the provider toward deterministic, bounded output.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:     0.4,
		TopP:            1,
		TopK:            32,
		MaxOutputTokens: 8192,
	}
}

// Config holds the extraction client configuration.
type Config struct {
	Model    string
	Endpoint string

	// APIKey selects the REST transport when non-empty.
	APIKey string
	// Service-account credential for the managed SDK transport.
	CredentialsFile string
	CredentialsJSON string

	Fields        []string
	PromptVariant string
	Generation    GenerationConfig
	Timeout       time.Duration
}

// DefaultConfig returns the built-in provider settings.
func DefaultConfig() *Config {
	return FromSettings(config.Default().Extraction)
}

// FromSettings maps the extraction section of the process configuration.
func FromSettings(s config.ExtractionConfig) *Config {
	gen := DefaultGenerationConfig()
	if s.Temperature > 0 {
		gen.Temperature = s.Temperature
	}
	if s.TopP > 0 {
		gen.TopP = s.TopP
	}
	if s.TopK > 0 {
		gen.TopK = s.TopK
	}
	if s.MaxOutputTokens > 0 {
		gen.MaxOutputTokens = s.MaxOutputTokens
	}

	timeout := time.Duration(s.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Config{
		Model:           s.Model,
		Endpoint:        s.Endpoint,
		APIKey:          s.APIKey,
		CredentialsFile: s.CredentialsFile,
		CredentialsJSON: s.CredentialsJSON,
		Fields:          append([]string(nil), s.Fields...),
		PromptVariant:   s.PromptVariant,
		Generation:      gen,
		Timeout:         timeout,
	}
}
