package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonathan/chart-digitizer/internal/observability"
	"golang.org/x/sync/semaphore"
)

// ErrDispatcherClosed is returned by Submit once Shutdown has begun.
var ErrDispatcherClosed = errors.New("job dispatcher is shut down")

// Runner processes one job.
type Runner interface {
	Run(ctx context.Context, job Job) error
}

// Dispatcher runs each submitted job in its own goroutine, detached from the submitter's
// cancellation. With a concurrency limit, excess jobs wait for a slot inside their goroutine
// so Submit never blocks.
type Dispatcher struct {
	runner  Runner
	log     *observability.Logger
	sem     *semaphore.Weighted
	timeout time.Duration

	wg       sync.WaitGroup
	inFlight atomic.Int64

	mu     sync.Mutex
	closed bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxConcurrent bounds the number of jobs running at once. n <= 0 means unbounded.
func WithMaxConcurrent(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithJobTimeout caps each job's run time. d <= 0 means no timeout.
func WithJobTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher creates a dispatcher for runner.
func NewDispatcher(runner Runner, log *observability.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{runner: runner, log: log.With("component", "dispatcher")}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Submit schedules job and returns immediately. ctx contributes only its values (such as the
// trace context); its cancellation never reaches the job.
func (d *Dispatcher) Submit(ctx context.Context, job Job) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warn("cannot submit: dispatcher is shutting down", "chart_id", job.ChartID)
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	d.inFlight.Add(1)
	go d.run(context.WithoutCancel(ctx), job)
	d.log.Debug("job submitted", "chart_id", job.ChartID)
	return nil
}

func (d *Dispatcher) run(ctx context.Context, job Job) {
	defer d.wg.Done()
	defer d.inFlight.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("job panicked", "chart_id", job.ChartID, "panic", fmt.Sprint(r))
		}
	}()

	if d.sem != nil {
		// ctx carries no cancellation, so Acquire only returns once a slot is free.
		if err := d.sem.Acquire(ctx, 1); err != nil {
			d.log.Error("could not acquire job slot", "chart_id", job.ChartID, "error", err)
			return
		}
		defer d.sem.Release(1)
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := d.runner.Run(ctx, job); err != nil {
		d.log.Warn("job finished with error", "chart_id", job.ChartID, "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	d.log.Info("job finished", "chart_id", job.ChartID, "duration_ms", time.Since(start).Milliseconds())
}

// InFlight reports jobs submitted and not yet finished, including those waiting for a slot.
func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

// Shutdown stops accepting jobs and waits for in-flight ones or for ctx to end.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); d.wg.Wait() }()

	select {
	case <-done:
		d.log.Info("dispatcher drained, shutdown complete")
		return nil
	case <-ctx.Done():
		d.log.Warn("dispatcher shutdown interrupted", "in_flight", d.InFlight())
		return ctx.Err()
	}
}
