// Package prompts holds the embedded provider prompt templates.
// Each JSON file maps a prompt key to a template using {{.Name}} placeholders.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
)

//go:embed *.json
var promptFiles embed.FS

// ExtractionFile is the prompt file used by the extraction client.
const ExtractionFile = "extraction.json"

// Prompt variants selectable through configuration.
const (
	VariantStandard = "standard"
	VariantAdvanced = "advanced"
)

var variantKeys = map[string]string{
	VariantStandard: "chart_extraction",
	VariantAdvanced: "chart_extraction_advanced",
}

var (
	cache   = make(map[string]map[string]string)
	cacheMu sync.RWMutex
)

// Get retrieves a prompt by filename and key.
func Get(filename, key string) (string, error) {
	prompts, err := loadFile(filename)
	if err != nil {
		return "", err
	}

	prompt, exists := prompts[key]
	if !exists {
		return "", fmt.Errorf("prompt key %q not found in %s", key, filename)
	}
	return prompt, nil
}

// MustGet is Get for prompts required at startup. It panics on a missing prompt.
func MustGet(filename, key string) string {
	prompt, err := Get(filename, key)
	if err != nil {
		panic(fmt.Sprintf("failed to load prompt: %v", err))
	}
	return prompt
}

// Format replaces {{.Key}} placeholders with values from data. Unknown placeholders are left as is.
func Format(template string, data map[string]string) string {
	pairs := make([]string, 0, len(data)*2)
	for key, value := range data {
		pairs = append(pairs, "{{."+key+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// ExtractionPrompt renders the chart extraction prompt for a variant and field list.
func ExtractionPrompt(variant string, fields []string) (string, error) {
	if variant == "" {
		variant = VariantStandard
	}
	key, ok := variantKeys[variant]
	if !ok {
		return "", fmt.Errorf("unknown prompt variant %q", variant)
	}
	if len(fields) == 0 {
		return "", fmt.Errorf("extraction field list is empty")
	}

	template, err := Get(ExtractionFile, key)
	if err != nil {
		return "", err
	}

	var list, skeleton strings.Builder
	for i, f := range fields {
		fmt.Fprintf(&list, "- %s\n", f)
		if i > 0 {
			skeleton.WriteString(",\n")
		}
		fmt.Fprintf(&skeleton, "  %q: \"\"", f)
	}

	return Format(template, map[string]string{
		"Fields":   strings.TrimRight(list.String(), "\n"),
		"Skeleton": "{\n" + skeleton.String() + "\n}",
	}), nil
}

func loadFile(filename string) (map[string]string, error) {
	cacheMu.RLock()
	if prompts, exists := cache[filename]; exists {
		cacheMu.RUnlock()
		return prompts, nil
	}
	cacheMu.RUnlock()

	data, err := promptFiles.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file %s: %w", filename, err)
	}

	var prompts map[string]string
	if err := json.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("failed to parse prompt file %s: %w", filename, err)
	}

	cacheMu.Lock()
	cache[filename] = prompts
	cacheMu.Unlock()

	return prompts, nil
}

// ClearCache drops parsed prompt files. Useful for testing.
func ClearCache() {
	cacheMu.Lock()
	cache = make(map[string]map[string]string)
	cacheMu.Unlock()
}

// List returns the prompt keys in a file, sorted.
func List(filename string) ([]string, error) {
	prompts, err := loadFile(filename)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(prompts))
	for key := range prompts {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys, nil
}
