// Package server provides the HTTP REST API for the chart digitizer.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/chart-digitizer/internal/config"
	"github.com/jonathan/chart-digitizer/internal/db"
	"github.com/jonathan/chart-digitizer/internal/jobs"
	"github.com/jonathan/chart-digitizer/internal/observability"
	"github.com/jonathan/chart-digitizer/internal/server/middleware"
	"github.com/jonathan/chart-digitizer/internal/server/ratelimit"
	"github.com/jonathan/chart-digitizer/internal/storage"
	"github.com/jonathan/chart-digitizer/internal/types"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ChartStore is the persistence the API reads and writes. *db.DB implements it.
type ChartStore interface {
	CreateChart(ctx context.Context, id, filename, blobURI, contentType string) (*types.Chart, error)
	GetChartByID(ctx context.Context, id string) (*types.Chart, error)
	GetChartWithItems(ctx context.Context, id string) (*types.Chart, []types.ExtractedDataItem, error)
	DeleteChart(ctx context.Context, id string) (*types.Chart, error)
	ListCharts(ctx context.Context, filter db.ListFilter) ([]types.Chart, error)
	Ping(ctx context.Context) error
}

// JobSubmitter schedules background processing. *jobs.Dispatcher implements it.
type JobSubmitter interface {
	Submit(ctx context.Context, job jobs.Job) error
	InFlight() int
}

// Deps are the collaborators the server is built from.
type Deps struct {
	Store ChartStore
	Blobs storage.BlobStore
	Jobs  JobSubmitter
	Log   *observability.Logger
}

// Server represents the HTTP server
type Server struct {
	cfg     config.ServerConfig
	store   ChartStore
	blobs   storage.BlobStore
	jobs    JobSubmitter
	log     *observability.Logger
	limiter *ratelimit.Limiter

	allowedTypes map[string]bool
	handler      http.Handler
	httpServer   *http.Server
}

// New creates a new server instance
func New(cfg config.ServerConfig, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = observability.NewNop()
	}

	s := &Server{
		cfg:          cfg,
		store:        deps.Store,
		blobs:        deps.Blobs,
		jobs:         deps.Jobs,
		log:          log.With("component", "server"),
		limiter:      ratelimit.NewLimiter(ratelimit.FromSettings(cfg.RateLimit, cfg.APIPrefix)),
		allowedTypes: make(map[string]bool, len(cfg.AllowedContentTypes)),
	}
	for _, ct := range cfg.AllowedContentTypes {
		s.allowedTypes[strings.ToLower(strings.TrimSpace(ct))] = true
	}

	prefix := strings.TrimSuffix(cfg.APIPrefix, "/")

	api := http.NewServeMux()
	api.HandleFunc("POST "+prefix+"/charts", s.handleUploadChart)
	api.HandleFunc("GET "+prefix+"/charts", s.handleListCharts)
	api.HandleFunc("GET "+prefix+"/charts/{id}", s.handleGetChart)
	api.HandleFunc("GET "+prefix+"/charts/{id}/status", s.handleChartStatus)
	api.HandleFunc("GET "+prefix+"/charts/{id}/csv", s.handleChartCSV)
	api.HandleFunc("GET "+prefix+"/charts/{id}/xlsx", s.handleChartXLSX)
	api.HandleFunc("DELETE "+prefix+"/charts/{id}", s.handleDeleteChart)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle(prefix+"/", middleware.APIKey(cfg.APIKey)(api))

	s.handler = otelhttp.NewHandler(
		middleware.RequestID(s.withLogging(s.withCORS(s.withRateLimit(mux)))),
		"chart-digitizer-api",
	)
	return s
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves on the configured port until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.cfg.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server starting", "addr", ln.Addr().String(), "api_prefix", s.cfg.APIPrefix)
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.limiter.Stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	timeout := time.Duration(s.cfg.ShutdownSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	defer s.limiter.Stop()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}

// withCORS answers preflights and adds CORS headers for configured origins.
func (s *Server) withCORS(next http.Handler) http.Handler {
	allowAny := slices.Contains(s.cfg.CORSOrigins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAny || slices.Contains(s.cfg.CORSOrigins, origin)) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, "+middleware.APIKeyHeader+", "+middleware.RequestIDHeader)
			h.Set("Access-Control-Expose-Headers", "Content-Disposition, "+middleware.RequestIDHeader)
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit throttles by client IP.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.limiter.Allow(clientIP(r), r.URL.Path, r.Method)
		if info.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		}
		if !allowed {
			retry := int(info.RetryAfter.Round(time.Second).Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
			s.log.Warn("rate limit exceeded", "client", clientIP(r), "path", r.URL.Path, "limit", info.Limit)
			s.errorResponse(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP is the host part of RemoteAddr.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetRequestID(r.Context()),
			"remote", clientIP(r),
		)
	})
}

// handleRoot answers the liveness banner.
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"message": "Medical Chart Digitizer API is running"})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "database": "ok"}
	if s.jobs != nil {
		resp["jobs_in_flight"] = s.jobs.InFlight()
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn("health check database ping failed", "error", err)
		resp["status"] = "degraded"
		resp["database"] = "unavailable"
		s.jsonResponse(w, http.StatusServiceUnavailable, resp)
		return
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("error encoding JSON response", "error", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"detail": message})
}

// errorFor writes the mapped status and message for err.
func (s *Server) errorFor(w http.ResponseWriter, err error, fallback string) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "error", err, "status", status)
	}
	s.errorResponse(w, status, detailFor(err, fallback))
}
