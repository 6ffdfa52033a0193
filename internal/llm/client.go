package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonathan/chart-digitizer/internal/observability"
	"github.com/jonathan/chart-digitizer/internal/prompts"
	"github.com/jonathan/chart-digitizer/internal/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultMIMEType = "image/jpeg"

// Transport sends one prompt and image to the provider and returns the reply text.
type Transport interface {
	Generate(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
	// Name identifies the transport in logs and spans.
	Name() string
	Close() error
}

// Client extracts chart fields through a Transport chosen at construction.
type Client struct {
	transport Transport
	prompt    string
	log       *observability.Logger
}

// NewClient renders the prompt and selects the transport: REST when an API key is
// configured, the managed SDK otherwise. A managed initialization failure is logged and
// returned; callers that must keep serving can fall back to NewUnavailableClient.
func NewClient(ctx context.Context, cfg *Config, log *observability.Logger) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	prompt, err := prompts.ExtractionPrompt(cfg.PromptVariant, cfg.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build extraction prompt: %w", err)
	}

	var transport Transport
	if cfg.APIKey != "" {
		transport = NewRESTTransport(cfg)
	} else {
		managed, err := NewManagedTransport(ctx, cfg)
		if err != nil {
			log.Error("extraction provider initialization failed", "transport", "managed", "error", err)
			return nil, err
		}
		transport = managed
	}

	log.Info("extraction client ready", "transport", transport.Name(), "model", cfg.Model, "fields", len(cfg.Fields))
	return NewClientWithTransport(transport, prompt, log), nil
}

// NewClientWithTransport builds a client over an explicit transport.
func NewClientWithTransport(t Transport, prompt string, log *observability.Logger) *Client {
	return &Client{transport: t, prompt: prompt, log: log.With("component", "extraction")}
}

// NewUnavailableClient returns a client whose every call fails with an ExtractionError
// naming the initialization cause.
func NewUnavailableClient(cause error, log *observability.Logger) *Client {
	return NewClientWithTransport(unavailableTransport{cause: cause}, "", log)
}

// Prompt returns the rendered extraction prompt.
func (c *Client) Prompt() string { return c.prompt }

// TransportName reports which transport the client uses.
func (c *Client) TransportName() string { return c.transport.Name() }

// Extract sends the image to the provider and parses the reply. There is no retry and no
// partial result: any failure yields an *ExtractionError.
func (c *Client) Extract(ctx context.Context, image []byte, mimeType string) ([]types.Item, error) {
	if mimeType == "" {
		mimeType = defaultMIMEType
	}

	ctx, span := otel.Tracer("chart-digitizer/llm").Start(ctx, "llm.Extract")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.transport", c.transport.Name()),
		attribute.String("llm.mime_type", mimeType),
		attribute.Int("llm.image_bytes", len(image)),
	)

	items, err := c.extract(ctx, image, mimeType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("llm.items", len(items)))
	return items, nil
}

func (c *Client) extract(ctx context.Context, image []byte, mimeType string) ([]types.Item, error) {
	if len(image) == 0 {
		return nil, &ExtractionError{Op: "extract", Cause: errors.New("image is empty")}
	}

	text, err := c.transport.Generate(ctx, c.prompt, image, mimeType)
	if err != nil {
		var ee *ExtractionError
		if errors.As(err, &ee) {
			return nil, err
		}
		return nil, &ExtractionError{Op: "generate content", Cause: err}
	}

	items, err := ParseItems(text)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			c.log.Warn("provider reply could not be parsed", "kind", pe.Kind.String(), "reply_len", len(pe.Raw))
		}
		return nil, &ExtractionError{Op: "parse reply", Cause: err}
	}

	c.log.Debug("extracted chart fields", "items", len(items), "transport", c.transport.Name())
	return items, nil
}

// Close releases transport resources.
func (c *Client) Close() error {
	return c.transport.Close()
}

type unavailableTransport struct {
	cause error
}

func (u unavailableTransport) Generate(context.Context, string, []byte, string) (string, error) {
	return "", &ExtractionError{
		Op:    "extraction provider not initialized",
		Cause: u.cause,
	}
}

func (unavailableTransport) Name() string { return "unavailable" }

func (unavailableTransport) Close() error { return nil }
