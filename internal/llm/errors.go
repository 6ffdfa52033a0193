package llm

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Sentinels for the two ways a provider reply can fail to parse.
var (
	ErrNoJSONFound   = errors.New("no JSON object found in provider reply")
	ErrMalformedJSON = errors.New("malformed JSON in provider reply")
)

// ParseErrorKind classifies a ParseError.
type ParseErrorKind int

const (
	NoJSONFound ParseErrorKind = iota + 1
	MalformedJSON
)

func (k ParseErrorKind) String() string {
	switch k {
	case NoJSONFound:
		return "no_json_found"
	case MalformedJSON:
		return "malformed_json"
	default:
		return "unknown"
	}
}

// ParseError is returned when the provider reply cannot be turned into items.
// Raw keeps the full reply text for diagnostics.
type ParseError struct {
	Kind  ParseErrorKind
	Raw   string
	Cause error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v: %v", e.sentinel(), e.Cause)
	}
	return e.sentinel().Error()
}

func (e *ParseError) sentinel() error {
	if e.Kind == NoJSONFound {
		return ErrNoJSONFound
	}
	return ErrMalformedJSON
}

func (e *ParseError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.sentinel(), e.Cause}
	}
	return []error{e.sentinel()}
}

// maxBodyInMessage bounds how much of a provider body is echoed into Error().
const maxBodyInMessage = 512

// ExtractionError is any failure to obtain items from the provider.
// StatusCode and Body are set when the provider answered with a non-2xx status.
type ExtractionError struct {
	Op         string
	StatusCode int
	Body       string
	Cause      error
}

func (e *ExtractionError) Error() string {
	msg := "extraction error"
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
		if e.Body != "" {
			msg += ": " + clip(e.Body, maxBodyInMessage)
		}
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error {
	return e.Cause
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
