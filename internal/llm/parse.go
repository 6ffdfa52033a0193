package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/chart-digitizer/internal/types"
)

// ParseItems turns a provider reply into ordered items. The reply may wrap the JSON object
// in prose or code fences; everything from the first '{' to the last '}' is decoded as one
// object. A reply cut off before any closing '}' is decoded from '{' to the end and so fails
// as malformed. Keys are kept in reply order and passed through without checking them against
// the requested field list.
func ParseItems(text string) ([]types.Item, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, &ParseError{Kind: NoJSONFound, Raw: text}
	}

	candidate := text[start:]
	if end := strings.LastIndexByte(text, '}'); end >= 0 {
		if end < start {
			return nil, &ParseError{Kind: NoJSONFound, Raw: text}
		}
		candidate = text[start : end+1]
	}

	items, err := decodeObject(candidate)
	if err != nil {
		return nil, &ParseError{Kind: MalformedJSON, Raw: text, Cause: err}
	}
	return items, nil
}

func decodeObject(s string) ([]types.Item, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	items := []types.Item{}
	index := map[string]int{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("value for %q: %w", key, err)
		}
		value, err := valueText(raw)
		if err != nil {
			return nil, fmt.Errorf("value for %q: %w", key, err)
		}

		// duplicate keys keep their first position with the last value
		if i, seen := index[key]; seen {
			items[i].Value = value
			continue
		}
		index[key] = len(items)
		items = append(items, types.Item{Name: key, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing data after object")
	}
	return items, nil
}

// valueText renders one JSON value as the stored field text.
func valueText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return "", err
		}
		return buf.String(), nil
	case 'n':
		return "", nil
	default:
		// numbers and booleans keep their literal text
		return string(raw), nil
	}
}

// FormatItems serializes items as one JSON object in item order. ParseItems(FormatItems(x))
// returns x for items with distinct names.
func FormatItems(items []types.Item) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	var out strings.Builder
	out.WriteByte('{')
	for i, it := range items {
		if i > 0 {
			out.WriteByte(',')
		}
		out.WriteString(encodeString(enc, &buf, it.Name))
		out.WriteByte(':')
		out.WriteString(encodeString(enc, &buf, it.Value))
	}
	out.WriteByte('}')
	return out.String()
}

func encodeString(enc *json.Encoder, buf *bytes.Buffer, s string) string {
	buf.Reset()
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}
