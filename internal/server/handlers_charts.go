package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/chart-digitizer/internal/db"
	"github.com/jonathan/chart-digitizer/internal/export"
	"github.com/jonathan/chart-digitizer/internal/jobs"
	"github.com/jonathan/chart-digitizer/internal/observability"
	"github.com/jonathan/chart-digitizer/internal/server/middleware"
	"github.com/jonathan/chart-digitizer/internal/storage"
	"github.com/jonathan/chart-digitizer/internal/types"
)

// multipartOverhead is allowed on top of the file size for form boundaries and headers.
const multipartOverhead = 1 << 20

// UploadResponse is returned by POST /charts.
type UploadResponse struct {
	ChartID string       `json:"chart_id"`
	Status  types.Status `json:"status"`
	Message string       `json:"message"`
}

// ListResponse is returned by GET /charts.
type ListResponse struct {
	Charts []types.Chart `json:"charts"`
	Count  int           `json:"count"`
}

// DeleteResponse is returned by DELETE /charts/{id}.
type DeleteResponse struct {
	ChartID string `json:"chart_id"`
	Deleted bool   `json:"deleted"`
}

type upload struct {
	filename    string
	contentType string
	data        []byte
}

// handleUploadChart stores the image, records a pending chart and schedules processing.
func (s *Server) handleUploadChart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	up, err := s.readUpload(w, r)
	if err != nil {
		s.errorFor(w, err, "Failed to process upload: "+err.Error())
		return
	}

	chartID := uuid.NewString()
	log := s.log.With("chart_id", chartID, "request_id", middleware.GetRequestID(ctx))

	uri, err := s.blobs.Put(ctx, up.data, storage.ChartKey(chartID, up.filename), up.contentType)
	if err != nil {
		log.Error("blob upload failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to process upload: "+err.Error())
		return
	}

	if _, err := s.store.CreateChart(ctx, chartID, up.filename, uri, up.contentType); err != nil {
		log.Error("create chart record failed", "error", err)
		s.discardBlob(ctx, log, uri)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to process upload: "+err.Error())
		return
	}

	if err := s.jobs.Submit(ctx, jobs.Job{ChartID: chartID, BlobURI: uri}); err != nil {
		log.Warn("job submit rejected, rolling back upload", "error", err)
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if _, derr := s.store.DeleteChart(cleanupCtx, chartID); derr != nil {
			log.Error("rollback chart record failed", "error", derr)
		}
		s.discardBlob(cleanupCtx, log, uri)
		s.errorFor(w, err, "Failed to process upload: "+err.Error())
		return
	}

	log.Info("chart accepted", "filename", up.filename, "content_type", up.contentType, "bytes", len(up.data))
	s.jsonResponse(w, http.StatusAccepted, UploadResponse{
		ChartID: chartID,
		Status:  types.StatusPending,
		Message: "Chart processing started.",
	})
}

// readUpload pulls the "file" part and applies the content type and size rules.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	maxSize := s.cfg.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return nil, s.sizeError()
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			return nil, &types.ValidationError{Field: "file", Message: "No file uploaded. Send a multipart form with a 'file' field."}
		default:
			return nil, &types.ValidationError{Field: "file", Message: "Invalid upload: " + err.Error()}
		}
	}
	defer func() { _ = file.Close() }()

	contentType := normalizeContentType(header.Header.Get("Content-Type"))
	if !s.allowedTypes[contentType] {
		return nil, &types.ValidationError{Field: "file", Message: "File type not allowed. Use JPEG or PNG."}
	}

	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, s.sizeError()
	}
	if len(data) == 0 {
		return nil, &types.ValidationError{Field: "file", Message: "Uploaded file is empty."}
	}

	return &upload{filename: header.Filename, contentType: contentType, data: data}, nil
}

func (s *Server) sizeError() error {
	mb := s.cfg.MaxFileSize / (1024 * 1024)
	return &types.ValidationError{Field: "file", Message: fmt.Sprintf("File size exceeds limit (%dMB).", mb)}
}

func normalizeContentType(v string) string {
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(v))
	}
	return mt
}

func (s *Server) discardBlob(ctx context.Context, log *observability.Logger, uri string) {
	if err := s.blobs.Delete(ctx, uri); err != nil {
		log.Warn("blob cleanup failed", "uri", uri, "error", err)
	}
}

// handleChartStatus returns the polling view.
func (s *Server) handleChartStatus(w http.ResponseWriter, r *http.Request) {
	chart, err := s.store.GetChartByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorFor(w, err, "Failed to fetch chart status")
		return
	}
	s.jsonResponse(w, http.StatusOK, chart.StatusSnapshot())
}

// handleGetChart returns the result view with extracted fields once completed.
func (s *Server) handleGetChart(w http.ResponseWriter, r *http.Request) {
	chart, rows, err := s.store.GetChartWithItems(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorFor(w, err, "Failed to fetch chart")
		return
	}
	s.jsonResponse(w, http.StatusOK, chart.ResultSnapshot(rows))
}

// completedItems loads a chart for export and rejects unfinished ones.
func (s *Server) completedItems(ctx context.Context, id string) (*types.Chart, []types.Item, error) {
	chart, rows, err := s.store.GetChartWithItems(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if chart.Status != types.StatusCompleted {
		return nil, nil, ErrNotCompleted
	}
	return chart, types.ItemsOf(rows), nil
}

// handleChartCSV streams the extracted fields as CSV.
func (s *Server) handleChartCSV(w http.ResponseWriter, r *http.Request) {
	chart, items, err := s.completedItems(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorFor(w, err, "Failed to export chart")
		return
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, items); err != nil {
		s.errorFor(w, err, "Failed to export chart")
		return
	}
	s.attachment(w, chart.ID, "csv", export.CSVContentType, buf.Bytes())
}

// handleChartXLSX returns the extracted fields as a workbook.
func (s *Server) handleChartXLSX(w http.ResponseWriter, r *http.Request) {
	chart, items, err := s.completedItems(r.Context(), r.PathValue("id"))
	if err != nil {
		s.errorFor(w, err, "Failed to export chart")
		return
	}

	data, err := export.XLSX(chart, items)
	if err != nil {
		s.errorFor(w, err, "Failed to export chart")
		return
	}
	s.attachment(w, chart.ID, "xlsx", export.XLSXContentType, data)
}

func (s *Server) attachment(w http.ResponseWriter, chartID, ext, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", export.ContentDisposition(chartID, ext))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.log.Warn("write export failed", "chart_id", chartID, "error", err)
	}
}

// handleDeleteChart removes the record, its fields and the stored image.
func (s *Server) handleDeleteChart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chart, err := s.store.DeleteChart(ctx, r.PathValue("id"))
	if err != nil {
		s.errorFor(w, err, "Failed to delete chart")
		return
	}
	s.discardBlob(ctx, s.log.With("chart_id", chart.ID), chart.BlobURI)
	s.jsonResponse(w, http.StatusOK, DeleteResponse{ChartID: chart.ID, Deleted: true})
}

// handleListCharts lists recent charts, optionally filtered by status.
func (s *Server) handleListCharts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := db.ListFilter{}
	if v := q.Get("status"); v != "" {
		st := types.Status(strings.ToLower(v))
		if !st.Valid() {
			s.errorResponse(w, http.StatusBadRequest, "Invalid status filter: "+v)
			return
		}
		filter.Status = st
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.errorResponse(w, http.StatusBadRequest, "Invalid limit: "+v)
			return
		}
		filter.Limit = n
	}

	charts, err := s.store.ListCharts(r.Context(), filter)
	if err != nil {
		s.errorFor(w, err, "Failed to list charts")
		return
	}
	s.jsonResponse(w, http.StatusOK, ListResponse{Charts: charts, Count: len(charts)})
}
