// Package types defines the chart records and snapshots shared across packages.
package types

import (
	"slices"
	"time"
)

// Status is the processing state of a chart.
type Status string

// Chart lifecycle states. Completed and Failed are terminal.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// DefaultFailureMessage is stored when a chart fails without a usable description.
const DefaultFailureMessage = "chart processing failed"

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Predecessors returns the states a chart may move to s from.
// Repeating the current state is handled separately as an idempotent write.
func (s Status) Predecessors() []Status {
	switch s {
	case StatusProcessing:
		return []Status{StatusPending}
	case StatusCompleted, StatusFailed:
		return []Status{StatusProcessing}
	default:
		return nil
	}
}

// CanTransition reports whether from → to is an edge of the lifecycle.
func CanTransition(from, to Status) bool {
	return slices.Contains(to.Predecessors(), from)
}

// Chart is one uploaded document and its processing record.
type Chart struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	BlobURI          string    `json:"gcs_uri"`
	ContentType      string    `json:"content_type"`
	UploadedAt       time.Time `json:"upload_timestamp"`
	Status           Status    `json:"status"`
	ErrorMessage     string    `json:"error_message,omitempty"`
}

// Item is one extracted (name, value) pair.
type Item struct {
	Name  string `json:"item_name"`
	Value string `json:"item_value"`
}

// ExtractedDataItem is a persisted Item owned by a chart.
type ExtractedDataItem struct {
	ID          int64     `json:"id"`
	ChartID     string    `json:"chart_id"`
	Position    int       `json:"position"`
	ItemName    string    `json:"item_name"`
	ItemValue   string    `json:"item_value"`
	ExtractedAt time.Time `json:"extracted_timestamp"`
}

// AsItem drops the persistence fields.
func (d ExtractedDataItem) AsItem() Item {
	return Item{Name: d.ItemName, Value: d.ItemValue}
}

// ItemsOf converts persisted rows back into ordered pairs.
func ItemsOf(rows []ExtractedDataItem) []Item {
	items := make([]Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.AsItem())
	}
	return items
}

// ChartStatusSnapshot is the status polling view of a chart.
type ChartStatusSnapshot struct {
	ChartID      string `json:"chart_id"`
	Status       Status `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ChartResultSnapshot is the full result view. Items are present only when completed.
type ChartResultSnapshot struct {
	ChartID          string `json:"chart_id"`
	OriginalFilename string `json:"original_filename,omitempty"`
	BlobURI          string `json:"gcs_uri,omitempty"`
	Status           Status `json:"status"`
	Items            []Item `json:"extracted_data,omitempty"`
	Message          string `json:"message,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
}

// StatusSnapshot builds the polling view.
func (c *Chart) StatusSnapshot() ChartStatusSnapshot {
	return ChartStatusSnapshot{ChartID: c.ID, Status: c.Status, ErrorMessage: c.ErrorMessage}
}

// ResultSnapshot builds the result view for c and its items.
func (c *Chart) ResultSnapshot(rows []ExtractedDataItem) ChartResultSnapshot {
	if c.Status == StatusCompleted {
		return ChartResultSnapshot{
			ChartID:          c.ID,
			OriginalFilename: c.OriginalFilename,
			BlobURI:          c.BlobURI,
			Status:           c.Status,
			Items:            ItemsOf(rows),
		}
	}
	return ChartResultSnapshot{
		ChartID:      c.ID,
		Status:       c.Status,
		Message:      "Processing not completed or failed.",
		ErrorMessage: c.ErrorMessage,
	}
}
