package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jonathan/chart-digitizer/internal/schemas"
	rootschemas "github.com/jonathan/chart-digitizer/schemas"
)

const maxResponseBytes = 16 << 20

// RESTTransport calls the provider generateContent endpoint directly with an API key header.
type RESTTransport struct {
	endpoint   string
	model      string
	apiKey     string
	gen        GenerationConfig
	httpClient *http.Client
}

// RESTOption customizes a RESTTransport.
type RESTOption func(*RESTTransport)

// WithHTTPClient replaces the HTTP client. The configured timeout is not applied to it.
func WithHTTPClient(c *http.Client) RESTOption {
	return func(t *RESTTransport) { t.httpClient = c }
}

// NewRESTTransport builds the API-key transport.
func NewRESTTransport(cfg *Config, opts ...RESTOption) *RESTTransport {
	t := &RESTTransport{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		gen:        cfg.Generation,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type generateRequest struct {
	Contents         []requestContent `json:"contents"`
	GenerationConfig generationParams `json:"generation_config"`
}

type requestContent struct {
	Role  string        `json:"role"`
	Parts []requestPart `json:"parts"`
}

type requestPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationParams struct {
	Temperature     float32 `json:"temperature"`
	TopP            float32 `json:"top_p"`
	TopK            int32   `json:"top_k"`
	MaxOutputTokens int32   `json:"max_output_tokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (t *RESTTransport) Name() string { return "rest" }

func (t *RESTTransport) Close() error {
	t.httpClient.CloseIdleConnections()
	return nil
}

func (t *RESTTransport) url() string {
	return fmt.Sprintf("%s/models/%s:generateContent", t.endpoint, url.PathEscape(t.model))
}

// Generate posts the prompt and base64 image and returns candidates[0].content.parts[0].text.
func (t *RESTTransport) Generate(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	payload := generateRequest{
		Contents: []requestContent{{
			Role: "user",
			Parts: []requestPart{
				{Text: prompt},
				{InlineData: &inlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(image)}},
			},
		}},
		GenerationConfig: generationParams{
			Temperature:     t.gen.Temperature,
			TopP:            t.gen.TopP,
			TopK:            t.gen.TopK,
			MaxOutputTokens: t.gen.MaxOutputTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &ExtractionError{Op: "encode request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url(), bytes.NewReader(body))
	if err != nil {
		return "", &ExtractionError{Op: "build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", &ExtractionError{Op: "send request", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &ExtractionError{Op: "read response", StatusCode: resp.StatusCode, Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &ExtractionError{
			Op:         "generate content",
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}

	if err := schemas.Validate(rootschemas.GenerateContentResponse, respBody); err != nil {
		return "", &ExtractionError{Op: "unexpected response shape", StatusCode: resp.StatusCode, Body: string(respBody), Cause: err}
	}

	var decoded generateResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", &ExtractionError{Op: "decode response", Cause: err}
	}
	return decoded.Candidates[0].Content.Parts[0].Text, nil
}
