package llm

import (
	"testing"
	"time"

	"github.com/jonathan/chart-digitizer/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "gemini-2.5-pro", cfg.Model)
	assert.Equal(t, DefaultGenerationConfig(), cfg.Generation)
	assert.Equal(t, float32(0.4), cfg.Generation.Temperature)
	assert.Equal(t, int32(32), cfg.Generation.TopK)
	assert.Equal(t, int32(8192), cfg.Generation.MaxOutputTokens)
	assert.Equal(t, config.DefaultFields, cfg.Fields)
	assert.Equal(t, 120*time.Second, cfg.Timeout)
}

func TestFromSettings(t *testing.T) {
	s := config.Default().Extraction
	s.APIKey = "k"
	s.Temperature = 0.9
	s.TopK = 0
	s.TimeoutSeconds = 5
	s.Fields = []string{"diagnosis"}

	cfg := FromSettings(s)

	assert.Equal(t, "k", cfg.APIKey)
	assert.Equal(t, float32(0.9), cfg.Generation.Temperature)
	assert.Equal(t, int32(32), cfg.Generation.TopK, "zero falls back to default")
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"diagnosis"}, cfg.Fields)

	s.Fields[0] = "changed"
	assert.Equal(t, "diagnosis", cfg.Fields[0])
}
