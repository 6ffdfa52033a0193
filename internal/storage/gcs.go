package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jonathan/chart-digitizer/internal/config"
	"github.com/jonathan/chart-digitizer/internal/observability"
	"github.com/jonathan/chart-digitizer/internal/types"
	"google.golang.org/api/option"
)

const (
	uploadTimeout   = 2 * time.Minute
	downloadTimeout = 2 * time.Minute
	deleteTimeout   = 30 * time.Second
)

// GCSStore stores chart images in a Cloud Storage bucket. The emulator mode talks to a
// local fake-gcs-server without authentication.
type GCSStore struct {
	client *storage.Client
	bucket string
	log    *observability.Logger
}

// NewGCSStore creates the storage client for gcs or gcs-emulator mode.
func NewGCSStore(ctx context.Context, log *observability.Logger, cfg config.StorageConfig, opts ...option.ClientOption) (*GCSStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("storage bucket is required for mode %s", cfg.Mode)
	}

	var clientOpts []option.ClientOption
	switch cfg.Mode {
	case config.StorageModeGCSEmulator:
		endpoint := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/")
		if endpoint == "" {
			return nil, fmt.Errorf("emulator host is required for mode %s", cfg.Mode)
		}
		// The client library reads the emulator address from the environment.
		_ = os.Setenv("STORAGE_EMULATOR_HOST", endpoint)
		clientOpts = []option.ClientOption{option.WithoutAuthentication()}
	default:
		clientOpts = append(clientOpts, opts...)
		clientOpts = append(clientOpts, option.WithScopes(storage.ScopeReadWrite))
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	log.Info("Object storage initialized", "mode", cfg.Mode, "bucket", cfg.Bucket, "emulator_host", cfg.EmulatorHost)
	return &GCSStore{client: client, bucket: cfg.Bucket, log: log.With("service", "GCSStore")}, nil
}

// Put uploads data and returns its gs:// URI.
func (s *GCSStore) Put(ctx context.Context, data []byte, key, contentType string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", &types.StorageError{Op: "put " + key, Cause: err}
	}
	if err := w.Close(); err != nil {
		return "", &types.StorageError{Op: "put " + key, Cause: err}
	}

	uri := gcsURI(s.bucket, key)
	s.log.Debug("uploaded object", "uri", uri, "bytes", len(data))
	return uri, nil
}

// Get downloads the object named by a gs:// URI.
func (s *GCSStore) Get(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := parseGCSURI(uri)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, mapGCSError("get "+uri, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &types.StorageError{Op: "get " + uri, Cause: err}
	}
	return data, nil
}

// Delete removes the object named by a gs:// URI.
func (s *GCSStore) Delete(ctx context.Context, uri string) error {
	bucket, key, err := parseGCSURI(uri)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, deleteTimeout)
	defer cancel()

	if err := s.client.Bucket(bucket).Object(key).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return &types.StorageError{Op: "delete " + uri, Cause: err}
	}
	return nil
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func mapGCSError(op string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return &types.StorageError{Op: op, Cause: types.ErrNotFound}
	}
	return &types.StorageError{Op: op, Cause: err}
}
