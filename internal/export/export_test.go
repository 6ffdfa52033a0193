package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/jonathan/chart-digitizer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var sampleItems = []types.Item{
	{Name: "chief_complaint", Value: "頭痛, 発熱"},
	{Name: "notes", Value: ""},
	{Name: "medications", Value: "line1\nline2 \"quoted\""},
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleItems))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, []string{"項目名", "内容"}, records[0])
	assert.Equal(t, []string{"chief_complaint", "頭痛, 発熱"}, records[1])
	assert.Equal(t, []string{"notes", ""}, records[2])
	assert.Equal(t, []string{"medications", "line1\nline2 \"quoted\""}, records[3])
}

func TestWriteCSV_HeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t, "項目名,内容\n", buf.String())
}

func TestContentDisposition(t *testing.T) {
	assert.Equal(t, "chart_abc.csv", Filename("abc", "csv"))
	assert.Equal(t, "attachment; filename=chart_abc.xlsx", ContentDisposition("abc", "xlsx"))
}

func TestXLSX(t *testing.T) {
	chart := &types.Chart{
		ID:               "c1",
		OriginalFilename: "scan.png",
		ContentType:      "image/png",
		UploadedAt:       time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		Status:           types.StatusCompleted,
	}

	data, err := XLSX(chart, sampleItems)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{itemsSheet, chartSheet}, f.GetSheetList())

	rows, err := f.GetRows(itemsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{HeaderName, HeaderValue}, rows[0])
	assert.Equal(t, []string{"chief_complaint", "頭痛, 発熱"}, rows[1])
	assert.Equal(t, "notes", rows[2][0])

	id, err := f.GetCellValue(chartSheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, "c1", id)
	uploaded, err := f.GetCellValue(chartSheet, "B4")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T09:30:00Z", uploaded)
}

func TestXLSX_NoItems(t *testing.T) {
	data, err := XLSX(&types.Chart{ID: "c2", Status: types.StatusCompleted}, nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(itemsSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
