// Package storage provides the blob store holding uploaded chart images.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/jonathan/chart-digitizer/internal/config"
	"github.com/jonathan/chart-digitizer/internal/observability"
	"github.com/jonathan/chart-digitizer/internal/types"
	"google.golang.org/api/option"
)

// BlobStore reads and writes chart images addressed by URI.
type BlobStore interface {
	// Get returns the object bytes. Missing objects yield an error matching types.ErrNotFound.
	Get(ctx context.Context, uri string) ([]byte, error)
	// Put stores data under key and returns the object URI.
	Put(ctx context.Context, data []byte, key, contentType string) (string, error)
	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, uri string) error
}

const keyPrefix = "charts/"

// ChartKey returns the object key for a chart upload, keeping the original extension.
func ChartKey(chartID, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return keyPrefix + chartID + ext
}

// New builds the blob store for the configured mode. opts are passed to the GCS client
// in gcs mode.
func New(ctx context.Context, log *observability.Logger, cfg config.StorageConfig, opts ...option.ClientOption) (BlobStore, error) {
	switch cfg.Mode {
	case config.StorageModeGCS, config.StorageModeGCSEmulator:
		return NewGCSStore(ctx, log, cfg, opts...)
	case config.StorageModeLocal:
		return NewLocalStore(log, cfg.LocalDir)
	default:
		return nil, fmt.Errorf("unknown storage mode %q", cfg.Mode)
	}
}

// parseGCSURI splits gs://bucket/key.
func parseGCSURI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", &types.StorageError{Op: "parse uri", Cause: err}
	}
	if u.Scheme != "gs" || u.Host == "" {
		return "", "", &types.StorageError{Op: "parse uri", Cause: fmt.Errorf("not a gs:// uri: %q", uri)}
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", &types.StorageError{Op: "parse uri", Cause: fmt.Errorf("missing object key: %q", uri)}
	}
	return u.Host, key, nil
}

func gcsURI(bucket, key string) string {
	return "gs://" + bucket + "/" + strings.TrimLeft(key, "/")
}

// cleanKey rejects keys that would escape the store root.
func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", &types.StorageError{Op: "put", Cause: fmt.Errorf("empty key")}
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != strings.TrimLeft(key, "/") {
		return "", &types.StorageError{Op: "put", Cause: fmt.Errorf("invalid key %q", key)}
	}
	return cleaned, nil
}
