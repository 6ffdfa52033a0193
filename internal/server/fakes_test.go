package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonathan/chart-digitizer/internal/config"
	"github.com/jonathan/chart-digitizer/internal/db"
	"github.com/jonathan/chart-digitizer/internal/jobs"
	"github.com/jonathan/chart-digitizer/internal/types"
)

const testAPIKey = "test-api-key"

// memStore implements ChartStore in memory.
type memStore struct {
	mu     sync.Mutex
	charts map[string]*types.Chart
	items  map[string][]types.ExtractedDataItem

	createErr error
	pingErr   error
	listErr   error
}

func newMemStore() *memStore {
	return &memStore{
		charts: map[string]*types.Chart{},
		items:  map[string][]types.ExtractedDataItem{},
	}
}

func (m *memStore) CreateChart(_ context.Context, id, filename, blobURI, contentType string) (*types.Chart, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &types.Chart{
		ID:               id,
		OriginalFilename: filename,
		BlobURI:          blobURI,
		ContentType:      contentType,
		UploadedAt:       time.Now().UTC(),
		Status:           types.StatusPending,
	}
	m.charts[id] = c
	cp := *c
	return &cp, nil
}

func (m *memStore) GetChartByID(_ context.Context, id string) (*types.Chart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.charts[id]
	if !ok {
		return nil, fmt.Errorf("chart %s: %w", id, types.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) GetChartWithItems(ctx context.Context, id string) (*types.Chart, []types.ExtractedDataItem, error) {
	c, err := m.GetChartByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return c, append([]types.ExtractedDataItem(nil), m.items[id]...), nil
}

func (m *memStore) DeleteChart(_ context.Context, id string) (*types.Chart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.charts[id]
	if !ok {
		return nil, fmt.Errorf("chart %s: %w", id, types.ErrNotFound)
	}
	delete(m.charts, id)
	delete(m.items, id)
	return c, nil
}

func (m *memStore) ListCharts(_ context.Context, filter db.ListFilter) ([]types.Chart, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []types.Chart{}
	for _, c := range m.charts {
		if filter.Status == "" || c.Status == filter.Status {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

// seed stores a chart in the given state with items.
func (m *memStore) seed(id string, status types.Status, errMsg string, items ...types.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.charts[id] = &types.Chart{
		ID:               id,
		OriginalFilename: id + ".png",
		BlobURI:          "gs://bucket/charts/" + id + ".png",
		ContentType:      "image/png",
		UploadedAt:       time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
		Status:           status,
		ErrorMessage:     errMsg,
	}
	rows := make([]types.ExtractedDataItem, len(items))
	for i, it := range items {
		rows[i] = types.ExtractedDataItem{ID: int64(i + 1), ChartID: id, Position: i, ItemName: it.Name, ItemValue: it.Value}
	}
	m.items[id] = rows
}

// memBlobs implements storage.BlobStore in memory with gs:// URIs.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	deleted []string
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (b *memBlobs) Put(_ context.Context, data []byte, key, _ string) (string, error) {
	if b.putErr != nil {
		return "", b.putErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	uri := "gs://test-bucket/" + key
	b.objects[uri] = append([]byte(nil), data...)
	return uri, nil
}

func (b *memBlobs) Get(_ context.Context, uri string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[uri]
	if !ok {
		return nil, &types.StorageError{Op: "get object", Cause: types.ErrNotFound}
	}
	return data, nil
}

func (b *memBlobs) Delete(_ context.Context, uri string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, uri)
	b.deleted = append(b.deleted, uri)
	return nil
}

// fakeJobs records submitted jobs.
type fakeJobs struct {
	mu        sync.Mutex
	submitted []jobs.Job
	err       error
}

func (f *fakeJobs) Submit(_ context.Context, job jobs.Job) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, job)
	return nil
}

func (f *fakeJobs) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

type testServer struct {
	*Server
	store *memStore
	blobs *memBlobs
	jobs  *fakeJobs
}

func testConfig() config.ServerConfig {
	cfg := config.Default().Server
	cfg.APIKey = testAPIKey
	cfg.RateLimit.Enabled = false
	return cfg
}

func newTestServer(mutate ...func(*config.ServerConfig)) *testServer {
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	ts := &testServer{store: newMemStore(), blobs: newMemBlobs(), jobs: &fakeJobs{}}
	ts.Server = New(cfg, Deps{Store: ts.store, Blobs: ts.blobs, Jobs: ts.jobs})
	return ts
}

// do sends a request through the full middleware chain with the API key set.
func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	if req.Header.Get("X-API-KEY") == "" && strings.HasPrefix(req.URL.Path, "/api/") {
		req.Header.Set("X-API-KEY", testAPIKey)
	}
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	return w
}
