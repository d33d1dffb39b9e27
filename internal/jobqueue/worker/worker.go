// Package worker is the Job Queue Worker: a poll loop per concurrency slot
// that claims one job at a time from jobqueue.Service, dispatches it to the
// registered handler, and reports outcome back to the Service. Generalized
// from the teacher's internal/queue/worker.Worker — same graceful shutdown,
// metrics, tracing and logging shape, adapted so each slot claims directly
// instead of a central producer loop feeding a channel (the owning
// specification describes "for each free slot try to claim one job from the
// store", not a shared dispatcher).
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geocoder89/workcore/internal/jobqueue"
	"github.com/geocoder89/workcore/internal/observability"
	"github.com/geocoder89/workcore/internal/queuestore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("workcore-jobqueue-worker")

var (
	ErrUnknownJobType    = errors.New("worker: unknown job type")
	ErrInvalidJobPayload = errors.New("worker: invalid job payload")
)

// Config controls pool size and polling cadence. Zero values are replaced
// with the owning specification's defaults (concurrency 1, poll 100ms).
type Config struct {
	Concurrency   int
	PollInterval  time.Duration
	ShutdownGrace time.Duration
	Logger        *slog.Logger
	Metrics       *observability.JobMetrics
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Worker is the polling pool described by the owning specification's §4.E.
// running is only flipped by Start/Stop — the startup gate invariant (no
// work claimed before Start is called) depends on callers never claiming
// through the Service directly.
type Worker struct {
	cfg     Config
	service *jobqueue.Service

	running atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func New(cfg Config, service *jobqueue.Service) *Worker {
	return &Worker{cfg: cfg.withDefaults(), service: service}
}

// IsRunning reports whether Start has been called and Stop has not been
// called since (Stop clears it before draining in-flight jobs). The startup gate invariant in the owning specification's §8
// requires this to be false for the whole window between shell
// initialization starting and the plugins:ready broadcast completing.
func (w *Worker) IsRunning() bool {
	return w.running.Load()
}

// Start launches the worker pool. Idempotent — calling Start while already
// running is a no-op.
func (w *Worker) Start(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		return
	}

	w.stop = make(chan struct{})

	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(ctx, i+1)
	}
}

// Stop halts claiming of new work and waits for in-flight jobs to finish or
// reach their next suspend point, up to ShutdownGrace. Idempotent.
func (w *Worker) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	close(w.stop)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(w.cfg.ShutdownGrace):
		w.cfg.Logger.Warn("worker.shutdown_grace_exceeded", "grace", w.cfg.ShutdownGrace)
	}
}

func (w *Worker) loop(ctx context.Context, slot int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		j, err := w.service.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queuestore.ErrJobNotFound) {
				select {
				case <-ticker.C:
				case <-w.stop:
					return
				case <-ctx.Done():
					return
				}
				continue
			}
			w.cfg.Logger.Error("worker.claim_error", "slot", slot, "err", err)
			continue
		}

		if w.cfg.Metrics != nil {
			w.cfg.Metrics.IncClaimed()
		}
		w.process(ctx, slot, j)
	}
}

func (w *Worker) process(ctx context.Context, slot int, j queuestore.Job) {
	start := time.Now()

	execCtx, span := tracer.Start(ctx, "job.run", trace.WithAttributes(
		attribute.String("job.id", j.ID),
		attribute.String("job.type", j.Type),
		attribute.Int("job.retry_count", j.RetryCount),
		attribute.Int("job.max_retries", j.MaxRetries),
		attribute.Int("worker.slot", slot),
	))
	defer span.End()

	w.cfg.Logger.InfoContext(execCtx, "job.start", "job_id", j.ID, "job_type", j.Type, "slot", slot)

	handler, ok := w.service.Handler(j.Type)
	if !ok {
		w.fail(execCtx, slot, j, start, span, ErrUnknownJobType, false)
		return
	}

	parsed, ok := handler.ValidateAndParse(j.Data)
	if !ok {
		w.fail(execCtx, slot, j, start, span, ErrInvalidJobPayload, false)
		return
	}

	reporter := w.service.NewReporter(j.ID)
	result, err := handler.Process(execCtx, parsed, j.ID, reporter)
	if err != nil {
		var nonRetryable *jobqueue.NonRetryableError
		retryable := !errors.As(err, &nonRetryable)
		w.fail(execCtx, slot, j, start, span, err, retryable)
		return
	}

	if err := w.service.Complete(execCtx, j.ID, result); err != nil {
		w.cfg.Logger.ErrorContext(execCtx, "job.mark_complete_failed", "job_id", j.ID, "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark_complete_failed")
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.IncFailed()
		}
		return
	}

	span.SetStatus(codes.Ok, "done")
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.ObserveDuration(time.Since(start))
		w.cfg.Metrics.IncDone()
	}
	w.cfg.Logger.InfoContext(execCtx, "job.done", "job_id", j.ID, "job_type", j.Type,
		"duration_ms", time.Since(start).Milliseconds())
}

func (w *Worker) fail(ctx context.Context, slot int, j queuestore.Job, start time.Time, span trace.Span, cause error, retryable bool) {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())

	willRetry, err := w.service.Fail(ctx, j.ID, cause, retryable)
	if err != nil {
		w.cfg.Logger.ErrorContext(ctx, "job.fail_record_failed", "job_id", j.ID, "err", err)
	}

	if w.cfg.Metrics != nil {
		w.cfg.Metrics.ObserveDuration(time.Since(start))
		w.cfg.Metrics.IncFailed()
		if willRetry {
			w.cfg.Metrics.IncRetried()
		} else {
			w.cfg.Metrics.IncDeadLettered()
		}
	}

	w.cfg.Logger.ErrorContext(ctx, "job.error", "slot", slot, "job_id", j.ID, "job_type", j.Type,
		"err", cause, "will_retry", willRetry)
}
