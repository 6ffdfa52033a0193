package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/jonathan/chart-digitizer/internal/gcp"
	"google.golang.org/api/option"
)

// ManagedTransport calls the provider through the genai SDK authenticated with a
// service-account credential.
type ManagedTransport struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewManagedTransport creates the SDK client once. It fails when no credential is configured.
func NewManagedTransport(ctx context.Context, cfg *Config) (*ManagedTransport, error) {
	opts := gcp.ClientOptions(cfg.CredentialsFile, cfg.CredentialsJSON)
	if len(opts) == 0 {
		return nil, errors.New("no provider credentials: set GEMINI_API_KEY or GOOGLE_APPLICATION_CREDENTIALS(_JSON)")
	}
	opts = append(opts, option.WithScopes(
		"https://www.googleapis.com/auth/cloud-platform",
		"https://www.googleapis.com/auth/generative-language",
	))

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(cfg.Generation.Temperature)
	model.SetTopP(cfg.Generation.TopP)
	model.SetTopK(cfg.Generation.TopK)
	model.SetMaxOutputTokens(cfg.Generation.MaxOutputTokens)

	return &ManagedTransport{client: client, model: model}, nil
}

func (t *ManagedTransport) Name() string { return "managed" }

// Generate sends the prompt and image as one user turn.
func (t *ManagedTransport) Generate(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	resp, err := t.model.GenerateContent(ctx,
		genai.Text(prompt),
		genai.Blob{MIMEType: mimeType, Data: image},
	)
	if err != nil {
		return "", &ExtractionError{Op: "generate content", Cause: err}
	}
	return textFromResponse(resp)
}

// Close releases the SDK client.
func (t *ManagedTransport) Close() error {
	if t.client != nil {
		return t.client.Close()
	}
	return nil
}

func textFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", &ExtractionError{Op: "read response", Cause: errors.New("no candidates in response")}
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", &ExtractionError{Op: "read response", Cause: errors.New("no content in response")}
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", &ExtractionError{Op: "read response", Cause: errors.New("no text parts in response")}
	}
	return strings.Join(parts, ""), nil
}
