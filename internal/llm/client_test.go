package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/jonathan/chart-digitizer/internal/observability"
	"github.com/jonathan/chart-digitizer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	reply    string
	err      error
	calls    int
	prompt   string
	mimeType string
	image    []byte
}

func (f *fakeTransport) Generate(_ context.Context, prompt string, image []byte, mimeType string) (string, error) {
	f.calls++
	f.prompt = prompt
	f.image = image
	f.mimeType = mimeType
	return f.reply, f.err
}

func (f *fakeTransport) Name() string { return "fake" }
func (f *fakeTransport) Close() error { return nil }

func TestClient_Extract(t *testing.T) {
	ft := &fakeTransport{reply: "Here:\n{\"chief_complaint\":\"headache\",\"diagnosis\":\"\"}"}
	c := NewClientWithTransport(ft, "PROMPT", observability.NewNop())

	items, err := c.Extract(context.Background(), []byte{0xff, 0xd8}, "image/png")
	require.NoError(t, err)

	assert.Equal(t, []types.Item{{Name: "chief_complaint", Value: "headache"}, {Name: "diagnosis", Value: ""}}, items)
	assert.Equal(t, "PROMPT", ft.prompt)
	assert.Equal(t, "image/png", ft.mimeType)
	assert.Equal(t, 1, ft.calls)
}

func TestClient_Extract_DefaultMIMEType(t *testing.T) {
	ft := &fakeTransport{reply: `{}`}
	c := NewClientWithTransport(ft, "p", observability.NewNop())

	_, err := c.Extract(context.Background(), []byte("x"), "")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", ft.mimeType)
}

func TestClient_Extract_EmptyImage(t *testing.T) {
	ft := &fakeTransport{reply: `{}`}
	c := NewClientWithTransport(ft, "p", observability.NewNop())

	_, err := c.Extract(context.Background(), nil, "image/jpeg")
	var ee *ExtractionError
	require.True(t, errors.As(err, &ee))
	assert.Zero(t, ft.calls)
}

func TestClient_Extract_NoJSONReply(t *testing.T) {
	ft := &fakeTransport{reply: "I'm sorry, I cannot read this image."}
	c := NewClientWithTransport(ft, "p", observability.NewNop())

	_, err := c.Extract(context.Background(), []byte("x"), "image/jpeg")
	require.Error(t, err)

	var ee *ExtractionError
	require.True(t, errors.As(err, &ee))
	assert.True(t, errors.Is(err, ErrNoJSONFound))
}

func TestClient_Extract_TransportErrorWrapped(t *testing.T) {
	cause := errors.New("connection reset")
	ft := &fakeTransport{err: cause}
	c := NewClientWithTransport(ft, "p", observability.NewNop())

	_, err := c.Extract(context.Background(), []byte("x"), "image/jpeg")
	var ee *ExtractionError
	require.True(t, errors.As(err, &ee))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestClient_Extract_ExtractionErrorPassedThrough(t *testing.T) {
	orig := &ExtractionError{Op: "generate content", StatusCode: 503, Body: "unavailable"}
	c := NewClientWithTransport(&fakeTransport{err: orig}, "p", observability.NewNop())

	_, err := c.Extract(context.Background(), []byte("x"), "image/jpeg")
	assert.Same(t, orig, err)
}

func TestUnavailableClient(t *testing.T) {
	c := NewUnavailableClient(errors.New("no provider credentials"), observability.NewNop())

	_, err := c.Extract(context.Background(), []byte("x"), "image/jpeg")
	var ee *ExtractionError
	require.True(t, errors.As(err, &ee))
	assert.Contains(t, err.Error(), "extraction provider not initialized: no provider credentials")
	assert.Equal(t, "unavailable", c.TransportName())
	assert.NoError(t, c.Close())
}

func TestNewClient_SelectsREST(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKey = "key"

	c, err := NewClient(context.Background(), cfg, observability.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "rest", c.TransportName())
	assert.Contains(t, c.Prompt(), "- chief_complaint")
}

func TestNewClient_ManagedWithoutCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKey = ""
	cfg.CredentialsFile = ""
	cfg.CredentialsJSON = ""

	c, err := NewClient(context.Background(), cfg, observability.NewNop())
	assert.Nil(t, c)
	assert.ErrorContains(t, err, "no provider credentials")
}

func TestNewClient_BadPromptVariant(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKey = "key"
	cfg.PromptVariant = "fancy"

	_, err := NewClient(context.Background(), cfg, observability.NewNop())
	assert.ErrorContains(t, err, "unknown prompt variant")
}

func TestTransportsShareReplyShape(t *testing.T) {
	reply := `{"a":"1","b":"2"}`
	restLike := NewClientWithTransport(&fakeTransport{reply: reply}, "p", observability.NewNop())
	managedLike := NewClientWithTransport(&fakeTransport{reply: "```json\n" + reply + "\n```"}, "p", observability.NewNop())

	a, err := restLike.Extract(context.Background(), []byte("x"), "image/jpeg")
	require.NoError(t, err)
	b, err := managedLike.Extract(context.Background(), []byte("x"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func nopLogger() *observability.Logger { return observability.NewNop() }
