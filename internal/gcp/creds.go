// Package gcp holds Google Cloud client helpers shared by the blob store and the provider SDK.
package gcp

import (
	"strings"

	"google.golang.org/api/option"
)

// ClientOptions returns credential options for a service account given either an inline
// JSON document or a file path. Inline JSON wins when both are set. A path value that
// itself looks like JSON is treated as inline. Returns nil when neither is configured.
func ClientOptions(file, inline string) []option.ClientOption {
	creds := strings.TrimSpace(inline)
	if creds == "" {
		creds = strings.TrimSpace(file)
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}
