// Package jobs runs the background processing of uploaded charts.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonathan/chart-digitizer/internal/observability"
	"github.com/jonathan/chart-digitizer/internal/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Job identifies one chart to process.
type Job struct {
	ChartID string
	BlobURI string
}

// Store is the slice of the chart repository the orchestrator writes through.
type Store interface {
	UpdateStatus(ctx context.Context, id string, status types.Status, errorMessage string) (*types.Chart, error)
	InsertItems(ctx context.Context, chartID string, items []types.Item) (int, error)
}

// BlobGetter fetches chart images.
type BlobGetter interface {
	Get(ctx context.Context, uri string) ([]byte, error)
}

// Extractor turns an image into extracted fields.
type Extractor interface {
	Extract(ctx context.Context, image []byte, mimeType string) ([]types.Item, error)
}

// failureWriteTimeout bounds the last-resort Failed write, which runs even after the job
// context is done.
const failureWriteTimeout = 15 * time.Second

// Orchestrator drives one chart from pending to a terminal state.
type Orchestrator struct {
	primary   Store
	fallback  Store
	blobs     BlobGetter
	extractor Extractor
	log       *observability.Logger
	tracer    trace.Tracer
}

// NewOrchestrator wires the pipeline. fallback is the independent handle used only to record
// failures; when nil the primary store is used for that too.
func NewOrchestrator(primary, fallback Store, blobs BlobGetter, extractor Extractor, log *observability.Logger) *Orchestrator {
	if fallback == nil {
		fallback = primary
	}
	return &Orchestrator{
		primary:   primary,
		fallback:  fallback,
		blobs:     blobs,
		extractor: extractor,
		log:       log.With("component", "orchestrator"),
		tracer:    otel.Tracer("chart-digitizer/jobs"),
	}
}

// Run processes job. If the chart cannot be moved to processing the job aborts and the chart
// stays pending. Any later failure is recorded as Failed through the fallback store and
// returned; a failed failure-write is logged and joined into the returned error.
func (o *Orchestrator) Run(ctx context.Context, job Job) error {
	ctx, span := o.tracer.Start(ctx, "jobs.Run", trace.WithAttributes(
		attribute.String("chart.id", job.ChartID),
		attribute.String("chart.blob_uri", job.BlobURI),
	))
	defer span.End()

	log := o.log.With("chart_id", job.ChartID)
	started := time.Now()

	chart, err := step(ctx, o.tracer, "jobs.mark_processing", func(ctx context.Context) (*types.Chart, error) {
		return o.primary.UpdateStatus(ctx, job.ChartID, types.StatusProcessing, "")
	})
	if err != nil {
		err = fmt.Errorf("mark processing: %w", err)
		log.Error("could not start chart processing, chart left pending", "error", err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	image, err := step(ctx, o.tracer, "jobs.fetch_blob", func(ctx context.Context) ([]byte, error) {
		return o.blobs.Get(ctx, job.BlobURI)
	})
	if err != nil {
		return o.fail(ctx, span, log, job, fmt.Errorf("fetch chart image: %w", err))
	}

	items, err := step(ctx, o.tracer, "jobs.extract", func(ctx context.Context) ([]types.Item, error) {
		return o.extractor.Extract(ctx, image, chart.ContentType)
	})
	if err != nil {
		return o.fail(ctx, span, log, job, fmt.Errorf("extract chart data: %w", err))
	}

	n, err := step(ctx, o.tracer, "jobs.insert_items", func(ctx context.Context) (int, error) {
		return o.primary.InsertItems(ctx, job.ChartID, items)
	})
	if err != nil {
		return o.fail(ctx, span, log, job, fmt.Errorf("save extracted data: %w", err))
	}

	if _, err := step(ctx, o.tracer, "jobs.mark_completed", func(ctx context.Context) (*types.Chart, error) {
		return o.primary.UpdateStatus(ctx, job.ChartID, types.StatusCompleted, "")
	}); err != nil {
		return o.fail(ctx, span, log, job, fmt.Errorf("mark completed: %w", err))
	}

	span.SetAttributes(attribute.Int("chart.items", n))
	log.Info("chart processed", "items", n, "duration_ms", time.Since(started).Milliseconds())
	return nil
}

// fail records Failed with cause's description through the fallback store.
func (o *Orchestrator) fail(ctx context.Context, span trace.Span, log *observability.Logger, job Job, cause error) error {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	log.Warn("chart processing failed", "error", cause)

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	_, err := step(wctx, o.tracer, "jobs.record_failure", func(ctx context.Context) (*types.Chart, error) {
		return o.fallback.UpdateStatus(ctx, job.ChartID, types.StatusFailed, cause.Error())
	})
	if err != nil {
		log.Error("could not record chart failure", "error", err, "cause", cause)
		return errors.Join(cause, fmt.Errorf("record failure: %w", err))
	}
	return cause
}

// step runs fn inside a child span.
func step[T any](ctx context.Context, tracer trace.Tracer, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	v, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return v, err
}
