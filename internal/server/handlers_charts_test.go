package server

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/jonathan/chart-digitizer/internal/config"
	"github.com/jonathan/chart-digitizer/internal/jobs"
	"github.com/jonathan/chart-digitizer/internal/schemas"
	"github.com/jonathan/chart-digitizer/internal/types"
	rootschemas "github.com/jonathan/chart-digitizer/schemas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake-image-body")

var sampleItems = []types.Item{
	{Name: "patient_name", Value: "山田 太郎"},
	{Name: "chief_complaint", Value: "頭痛, 発熱"},
	{Name: "notes", Value: ""},
}

func newUploadRequest(t *testing.T, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/charts", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeDetail(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp["detail"]
}

func TestUploadChart_Accepted(t *testing.T) {
	ts := newTestServer()

	w := ts.do(newUploadRequest(t, "Scan.PNG", "image/png", pngBytes))

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, types.StatusPending, resp.Status)
	assert.Equal(t, "Chart processing started.", resp.Message)
	require.NotEmpty(t, resp.ChartID)

	chart, err := ts.store.GetChartByID(t.Context(), resp.ChartID)
	require.NoError(t, err)
	assert.Equal(t, "Scan.PNG", chart.OriginalFilename)
	assert.Equal(t, "image/png", chart.ContentType)
	assert.Equal(t, "gs://test-bucket/charts/"+resp.ChartID+".png", chart.BlobURI)

	data, err := ts.blobs.Get(t.Context(), chart.BlobURI)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)

	require.Len(t, ts.jobs.submitted, 1)
	assert.Equal(t, jobs.Job{ChartID: resp.ChartID, BlobURI: chart.BlobURI}, ts.jobs.submitted[0])
}

func TestUploadChart_ContentTypeWithParams(t *testing.T) {
	ts := newTestServer()

	w := ts.do(newUploadRequest(t, "scan.jpg", "image/JPEG; charset=binary", []byte("jpeg")))

	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestUploadChart_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		data        []byte
		wantDetail  string
	}{
		{
			name:        "pdf not allowed",
			filename:    "chart.pdf",
			contentType: "application/pdf",
			data:        []byte("%PDF"),
			wantDetail:  "File type not allowed. Use JPEG or PNG.",
		},
		{
			name:        "too large",
			filename:    "big.png",
			contentType: "image/png",
			data:        bytes.Repeat([]byte("x"), 2048),
			wantDetail:  "File size exceeds limit",
		},
		{
			name:        "empty",
			filename:    "empty.png",
			contentType: "image/png",
			data:        nil,
			wantDetail:  "Uploaded file is empty.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(func(c *config.ServerConfig) { c.MaxFileSize = 1024 })

			w := ts.do(newUploadRequest(t, tt.filename, tt.contentType, tt.data))

			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decodeDetail(t, w), tt.wantDetail)
			assert.Empty(t, ts.blobs.objects)
			assert.Empty(t, ts.store.charts)
			assert.Empty(t, ts.jobs.submitted)
		})
	}
}

func TestUploadChart_DefaultSizeMessage(t *testing.T) {
	ts := newTestServer()
	assert.Equal(t, "File size exceeds limit (10MB).", ts.sizeError().(*types.ValidationError).Message)
}

func TestUploadChart_MissingFile(t *testing.T) {
	ts := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/charts", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	w := ts.do(req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeDetail(t, w), "No file uploaded")
}

func TestUploadChart_BlobFailure(t *testing.T) {
	ts := newTestServer()
	ts.blobs.putErr = &types.StorageError{Op: "put object", Cause: assert.AnError}

	w := ts.do(newUploadRequest(t, "a.png", "image/png", pngBytes))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.True(t, strings.HasPrefix(decodeDetail(t, w), "Failed to process upload: "))
	assert.Empty(t, ts.store.charts)
	assert.Empty(t, ts.jobs.submitted)
}

func TestUploadChart_RecordFailureRemovesBlob(t *testing.T) {
	ts := newTestServer()
	ts.store.createErr = &types.StorageError{Op: "create chart", Cause: assert.AnError}

	w := ts.do(newUploadRequest(t, "a.png", "image/png", pngBytes))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decodeDetail(t, w), "Failed to process upload")
	assert.Empty(t, ts.blobs.objects)
	assert.Len(t, ts.blobs.deleted, 1)
	assert.Empty(t, ts.jobs.submitted)
}

func TestUploadChart_DispatcherClosedRollsBack(t *testing.T) {
	ts := newTestServer()
	ts.jobs.err = jobs.ErrDispatcherClosed

	w := ts.do(newUploadRequest(t, "a.png", "image/png", pngBytes))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "Server is shutting down", decodeDetail(t, w))
	assert.Empty(t, ts.store.charts)
	assert.Empty(t, ts.blobs.objects)
}

func TestChartStatus(t *testing.T) {
	ts := newTestServer()
	ts.store.seed("c-pending", types.StatusPending, "")
	ts.store.seed("c-failed", types.StatusFailed, "extract chart data: no JSON found")

	tests := []struct {
		id         string
		wantStatus types.Status
		wantErr    string
	}{
		{id: "c-pending", wantStatus: types.StatusPending},
		{id: "c-failed", wantStatus: types.StatusFailed, wantErr: "extract chart data: no JSON found"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/charts/"+tt.id+"/status", nil))

			require.Equal(t, http.StatusOK, w.Code)
			require.NoError(t, schemas.Validate(rootschemas.ChartStatus, w.Body.Bytes()))
			var snap types.ChartStatusSnapshot
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
			assert.Equal(t, tt.id, snap.ChartID)
			assert.Equal(t, tt.wantStatus, snap.Status)
			assert.Equal(t, tt.wantErr, snap.ErrorMessage)
		})
	}
}

func TestChartStatus_NotFound(t *testing.T) {
	ts := newTestServer()

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/charts/missing/status", nil))

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Chart not found", decodeDetail(t, w))
}

func TestGetChart_Completed(t *testing.T) {
	ts := newTestServer()
	ts.store.seed("c1", types.StatusCompleted, "", sampleItems...)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/charts/c1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, schemas.Validate(rootschemas.ChartResult, w.Body.Bytes()))
	var snap types.ChartResultSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, types.StatusCompleted, snap.Status)
	assert.Equal(t, "c1.png", snap.OriginalFilename)
	assert.Equal(t, "gs://bucket/charts/c1.png", snap.BlobURI)
	assert.Equal(t, sampleItems, snap.Items)
	assert.Empty(t, snap.Message)
}

func TestGetChart_NotCompleted(t *testing.T) {
	ts := newTestServer()
	ts.store.seed("c2", types.StatusProcessing, "")

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/charts/c2", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, schemas.Validate(rootschemas.ChartResult, w.Body.Bytes()))
	var snap types.ChartResultSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "Processing not completed or failed.", snap.Message)
	assert.Nil(t, snap.Items)
	assert.Empty(t, snap.BlobURI)
}

func TestGetChart_NotFound(t *testing.T) {
	ts := newTestServer()

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/charts/nope", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChartCSV(t *testing.T) {
	ts := newTestServer()
	ts.store.seed("c1", types.StatusCompleted, "", sampleItems...)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/charts/c1/csv", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=chart_c1.csv", w.Header().Get("Content-Disposition"))

	records, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, []string{"項目名", "内容"}, records[0])
	assert.Equal(t, []string{"chief_complaint", "頭痛, 発熱"}, records[2])
}

func TestChartExports_NotCompleted(t *testing.T) {
	ts := newTestServer()
	ts.store.seed("c1", types.StatusFailed, "boom")

	for _, format := range []string{"csv", "xlsx"} {
		t.Run(format, func(t *testing.T) {
			w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/charts/c1/"+format, nil))

			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "Chart processing not completed", decodeDetail(t, w))
		})
	}
}

func TestChartExports_NotFound(t *testing.T) {
	ts := newTestServer()

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/charts/nope/csv", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChartXLSX(t *testing.T) {
	ts := newTestServer()
	ts.store.seed("c1", types.StatusCompleted, "", sampleItems...)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/charts/c1/xlsx", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "attachment; filename=chart_c1.xlsx", w.Header().Get("Content-Disposition"))

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"patient_name", "山田 太郎"}, rows[1])
}

func TestDeleteChart(t *testing.T) {
	ts := newTestServer()
	ts.store.seed("c1", types.StatusCompleted, "", sampleItems...)

	w := ts.do(httptest.NewRequest(http.MethodDelete, "/api/v1/charts/c1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp DeleteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, DeleteResponse{ChartID: "c1", Deleted: true}, resp)
	assert.Equal(t, []string{"gs://bucket/charts/c1.png"}, ts.blobs.deleted)

	again := ts.do(httptest.NewRequest(http.MethodDelete, "/api/v1/charts/c1", nil))
	assert.Equal(t, http.StatusNotFound, again.Code)
}

func TestListCharts(t *testing.T) {
	ts := newTestServer()
	ts.store.seed("a", types.StatusCompleted, "")
	ts.store.seed("b", types.StatusFailed, "boom")
	ts.store.seed("c", types.StatusCompleted, "")

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/charts?status=completed&limit=10", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	for _, c := range resp.Charts {
		assert.Equal(t, types.StatusCompleted, c.Status)
	}
}

func TestListCharts_BadQuery(t *testing.T) {
	ts := newTestServer()

	for _, q := range []string{"status=done", "limit=abc", "limit=-1"} {
		t.Run(q, func(t *testing.T) {
			w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/charts?"+q, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestListCharts_StoreError(t *testing.T) {
	ts := newTestServer()
	ts.store.listErr = &types.StorageError{Op: "list charts", Cause: assert.AnError}

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/charts", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to list charts", decodeDetail(t, w))
}

func TestListCharts_EmptyIsArray(t *testing.T) {
	ts := newTestServer()

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/charts", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"charts":[],"count":0}`, w.Body.String())
}
