package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jonathan/chart-digitizer/internal/types"
)

const chartColumns = `id, original_filename, blob_uri, content_type, uploaded_at, status, error_message`

// ListFilter narrows ListCharts. Zero values mean no status filter and the default limit.
type ListFilter struct {
	Status types.Status
	Limit  int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func scanChart(row pgx.Row) (*types.Chart, error) {
	var c types.Chart
	var status string
	var errMsg *string
	if err := row.Scan(&c.ID, &c.OriginalFilename, &c.BlobURI, &c.ContentType, &c.UploadedAt, &status, &errMsg); err != nil {
		return nil, err
	}
	c.Status = types.Status(status)
	if errMsg != nil {
		c.ErrorMessage = *errMsg
	}
	return &c, nil
}

// CreateChart inserts a new chart in the pending state.
func (db *DB) CreateChart(ctx context.Context, id, filename, blobURI, contentType string) (*types.Chart, error) {
	c, err := scanChart(db.pool.QueryRow(ctx,
		`INSERT INTO charts (id, original_filename, blob_uri, content_type, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+chartColumns,
		id, filename, blobURI, contentType, string(types.StatusPending),
	))
	if err != nil {
		return nil, &types.StorageError{Op: "create chart", Cause: err}
	}
	return c, nil
}

// statusWrite normalizes the error message stored with a status: cleared unless failed,
// and never empty when failed.
func statusWrite(status types.Status, errorMessage string) (*string, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", types.ErrInvalidTransition, status)
	}
	if status != types.StatusFailed {
		return nil, nil
	}
	msg := strings.TrimSpace(errorMessage)
	if msg == "" {
		msg = types.DefaultFailureMessage
	}
	return &msg, nil
}

func predecessorStrings(status types.Status) []string {
	preds := status.Predecessors()
	out := make([]string, len(preds))
	for i, p := range preds {
		out[i] = string(p)
	}
	return out
}

// UpdateStatus moves a chart along its lifecycle in one statement. The WHERE clause only
// matches legal predecessors or an exact repeat of the current state, so concurrent writers
// can never leave a terminal state.
func (db *DB) UpdateStatus(ctx context.Context, id string, status types.Status, errorMessage string) (*types.Chart, error) {
	msg, err := statusWrite(status, errorMessage)
	if err != nil {
		return nil, err
	}

	c, err := scanChart(db.pool.QueryRow(ctx,
		`UPDATE charts SET status = $2, error_message = $3
		 WHERE id = $1
		   AND (status = ANY($4::text[])
		        OR (status = $2 AND error_message IS NOT DISTINCT FROM $3))
		 RETURNING `+chartColumns,
		id, string(status), msg, predecessorStrings(status),
	))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, &types.StorageError{Op: "update status", Cause: err}
	}

	current, err := db.GetChartByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, &types.TransitionError{ChartID: id, From: current.Status, To: status}
}

// GetChartByID retrieves one chart.
func (db *DB) GetChartByID(ctx context.Context, id string) (*types.Chart, error) {
	c, err := scanChart(db.pool.QueryRow(ctx,
		`SELECT `+chartColumns+` FROM charts WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("chart %s: %w", id, types.ErrNotFound)
		}
		return nil, &types.StorageError{Op: "get chart", Cause: err}
	}
	return c, nil
}

// GetChartWithItems retrieves a chart and its extracted fields in insertion order.
func (db *DB) GetChartWithItems(ctx context.Context, id string) (*types.Chart, []types.ExtractedDataItem, error) {
	c, err := db.GetChartByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, chart_id, position, item_name, item_value, extracted_at
		 FROM extracted_data WHERE chart_id = $1 ORDER BY position`,
		id,
	)
	if err != nil {
		return nil, nil, &types.StorageError{Op: "get items", Cause: err}
	}
	defer rows.Close()

	var items []types.ExtractedDataItem
	for rows.Next() {
		var it types.ExtractedDataItem
		if err := rows.Scan(&it.ID, &it.ChartID, &it.Position, &it.ItemName, &it.ItemValue, &it.ExtractedAt); err != nil {
			return nil, nil, &types.StorageError{Op: "scan item", Cause: err}
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, &types.StorageError{Op: "get items", Cause: err}
	}
	return c, items, nil
}

// InsertItems stores all extracted fields for a chart in one transaction using COPY.
// Either every row is committed or none is.
func (db *DB) InsertItems(ctx context.Context, chartID string, items []types.Item) (int, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, &types.StorageError{Op: "insert items", Cause: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows := make([][]any, len(items))
	for i, it := range items {
		rows[i] = []any{chartID, i, it.Name, it.Value}
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"extracted_data"},
		[]string{"chart_id", "position", "item_name", "item_value"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, &types.StorageError{Op: "insert items", Cause: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, &types.StorageError{Op: "commit items", Cause: err}
	}
	return int(n), nil
}

// DeleteChart removes a chart and, by cascade, its extracted fields. The deleted record is
// returned so callers can clean up the blob.
func (db *DB) DeleteChart(ctx context.Context, id string) (*types.Chart, error) {
	c, err := scanChart(db.pool.QueryRow(ctx,
		`DELETE FROM charts WHERE id = $1 RETURNING `+chartColumns, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("chart %s: %w", id, types.ErrNotFound)
		}
		return nil, &types.StorageError{Op: "delete chart", Cause: err}
	}
	return c, nil
}

// ListCharts returns recent charts, newest first.
func (db *DB) ListCharts(ctx context.Context, filter ListFilter) ([]types.Chart, error) {
	limit := clampLimit(filter.Limit)

	query := `SELECT ` + chartColumns + ` FROM charts`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += fmt.Sprintf(` ORDER BY uploaded_at DESC, id LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &types.StorageError{Op: "list charts", Cause: err}
	}
	defer rows.Close()

	charts := []types.Chart{}
	for rows.Next() {
		c, err := scanChart(rows)
		if err != nil {
			return nil, &types.StorageError{Op: "scan chart", Cause: err}
		}
		charts = append(charts, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Op: "list charts", Cause: err}
	}
	return charts, nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultListLimit
	case n > maxListLimit:
		return maxListLimit
	default:
		return n
	}
}
