package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonathan/chart-digitizer/internal/observability"
	"github.com/jonathan/chart-digitizer/internal/types"
)

// LocalStore keeps chart images on the local filesystem under a root directory.
// URIs have the form file:///abs/path.
type LocalStore struct {
	root string
	log  *observability.Logger
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(log *observability.Logger, dir string) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("local storage dir is empty")
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve local storage dir: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create local storage dir: %w", err)
	}
	return &LocalStore{root: root, log: log.With("service", "LocalStore")}, nil
}

// Put writes data under root/key.
func (s *LocalStore) Put(ctx context.Context, data []byte, key, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &types.StorageError{Op: "put " + key, Cause: err}
	}
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	p := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", &types.StorageError{Op: "put " + key, Cause: err}
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", &types.StorageError{Op: "put " + key, Cause: err}
	}
	uri := fileURI(p)
	s.log.Debug("stored object", "uri", uri, "bytes", len(data))
	return uri, nil
}

// Get reads the file named by a file:// URI inside the root.
func (s *LocalStore) Get(ctx context.Context, uri string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &types.StorageError{Op: "get " + uri, Cause: err}
	}
	p, err := s.resolve(uri)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &types.StorageError{Op: "get " + uri, Cause: types.ErrNotFound}
		}
		return nil, &types.StorageError{Op: "get " + uri, Cause: err}
	}
	return data, nil
}

// Delete removes the file named by a file:// URI.
func (s *LocalStore) Delete(_ context.Context, uri string) error {
	p, err := s.resolve(uri)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &types.StorageError{Op: "delete " + uri, Cause: err}
	}
	return nil
}

func (s *LocalStore) resolve(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return "", &types.StorageError{Op: "parse uri", Cause: fmt.Errorf("not a file:// uri: %q", uri)}
	}
	p := filepath.Clean(filepath.FromSlash(u.Path))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &types.StorageError{Op: "parse uri", Cause: fmt.Errorf("uri outside storage root: %q", uri)}
	}
	return p, nil
}

func fileURI(p string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String()
}
