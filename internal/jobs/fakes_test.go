package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jonathan/chart-digitizer/internal/types"
)

// memDB is an in-memory chart table shared by several handles.
type memDB struct {
	mu      sync.Mutex
	charts  map[string]*types.Chart
	items   map[string][]types.Item
	history map[string][]types.Status
}

func newMemDB(ids ...string) *memDB {
	db := &memDB{
		charts:  map[string]*types.Chart{},
		items:   map[string][]types.Item{},
		history: map[string][]types.Status{},
	}
	for _, id := range ids {
		db.charts[id] = &types.Chart{ID: id, BlobURI: "gs://bucket/charts/" + id + ".jpg", ContentType: "image/jpeg", Status: types.StatusPending}
		db.history[id] = []types.Status{types.StatusPending}
	}
	return db
}

func (db *memDB) chart(id string) types.Chart {
	db.mu.Lock()
	defer db.mu.Unlock()
	return *db.charts[id]
}

func (db *memDB) itemsOf(id string) []types.Item {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]types.Item(nil), db.items[id]...)
}

// memHandle is one connection-like handle onto a memDB with injectable faults.
type memHandle struct {
	db          *memDB
	updateErr   map[types.Status]error
	insertErr   error
	updateCalls int
	mu          sync.Mutex
}

func (h *memHandle) UpdateStatus(_ context.Context, id string, status types.Status, msg string) (*types.Chart, error) {
	h.mu.Lock()
	h.updateCalls++
	err := h.updateErr[status]
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}

	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	c, ok := h.db.charts[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	if status != types.StatusFailed {
		msg = ""
	} else if strings.TrimSpace(msg) == "" {
		msg = types.DefaultFailureMessage
	}
	if c.Status == status && c.ErrorMessage == msg {
		cp := *c
		return &cp, nil
	}
	if !types.CanTransition(c.Status, status) {
		return nil, &types.TransitionError{ChartID: id, From: c.Status, To: status}
	}
	c.Status = status
	c.ErrorMessage = msg
	h.db.history[id] = append(h.db.history[id], status)
	cp := *c
	return &cp, nil
}

func (h *memHandle) InsertItems(_ context.Context, chartID string, items []types.Item) (int, error) {
	if h.insertErr != nil {
		return 0, h.insertErr
	}
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	if _, ok := h.db.charts[chartID]; !ok {
		return 0, &types.StorageError{Op: "insert items", Cause: errors.New("foreign key violation")}
	}
	h.db.items[chartID] = append(h.db.items[chartID], items...)
	return len(items), nil
}

type fakeBlobs struct {
	data map[string][]byte
	err  error
}

func (b *fakeBlobs) Get(_ context.Context, uri string) ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	d, ok := b.data[uri]
	if !ok {
		return nil, &types.StorageError{Op: "get " + uri, Cause: types.ErrNotFound}
	}
	return d, nil
}

type fakeExtractor struct {
	items    []types.Item
	err      error
	calls    int
	mimeType string
	mu       sync.Mutex
}

func (e *fakeExtractor) Extract(_ context.Context, _ []byte, mimeType string) ([]types.Item, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.mimeType = mimeType
	return e.items, e.err
}
