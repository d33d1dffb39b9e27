package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/geocoder89/workcore/internal/jobqueue"
	"github.com/geocoder89/workcore/internal/queuestore/memstore"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestWorker_ProcessesEnqueuedJobToCompletion(t *testing.T) {
	store := memstore.New()
	svc := jobqueue.New(store)

	type payload struct {
		N int `json:"n"`
	}

	var processed int
	handler := jobqueue.HandlerFunc{
		Validate: func(data json.RawMessage) (any, bool) {
			var p payload
			if err := json.Unmarshal(data, &p); err != nil {
				return nil, false
			}
			return p, true
		},
		Run: func(ctx context.Context, parsed any, jobID string, reporter *jobqueue.Reporter) (any, error) {
			p := parsed.(payload)
			processed = p.N
			reporter.Report(1, 1, "done")
			return map[string]int{"doubled": p.N * 2}, nil
		},
	}
	if err := svc.RegisterHandler("double", handler, "math"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	jobID, err := svc.Enqueue(context.Background(), "double", payload{N: 21}, jobqueue.EnqueueOptions{}, "math")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := New(Config{Concurrency: 2, PollInterval: 10 * time.Millisecond}, svc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	waitFor(t, time.Second, func() bool {
		j, err := svc.GetJob(context.Background(), jobID)
		return err == nil && j.IsTerminal()
	})

	j, err := svc.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.Status != "completed" {
		lastErr := ""
		if j.LastError != nil {
			lastErr = *j.LastError
		}
		t.Fatalf("expected job completed, got %s (lastError=%s)", j.Status, lastErr)
	}
	if processed != 21 {
		t.Fatalf("expected handler to observe n=21, got %d", processed)
	}
}

func TestWorker_UnknownTypeFailsTerminally(t *testing.T) {
	store := memstore.New()
	svc := jobqueue.New(store)

	jobID, err := svc.Enqueue(context.Background(), "nobody-registered", map[string]any{}, jobqueue.EnqueueOptions{}, "plugin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := New(Config{Concurrency: 1, PollInterval: 10 * time.Millisecond}, svc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	waitFor(t, time.Second, func() bool {
		j, err := svc.GetJob(context.Background(), jobID)
		return err == nil && j.IsTerminal()
	})

	j, _ := svc.GetJob(context.Background(), jobID)
	if j.Status != "failed" {
		t.Fatalf("expected job failed (no retry for unknown type), got %s", j.Status)
	}
	if j.RetryCount != 0 {
		t.Fatalf("expected no retry attempted for unknown job type, got retryCount=%d", j.RetryCount)
	}
}

func TestWorker_InvalidPayloadFailsTerminally(t *testing.T) {
	store := memstore.New()
	svc := jobqueue.New(store)

	handler := jobqueue.HandlerFunc{
		Validate: func(data json.RawMessage) (any, bool) { return nil, false },
		Run: func(ctx context.Context, parsed any, jobID string, reporter *jobqueue.Reporter) (any, error) {
			t.Fatalf("process should never run for an invalid payload")
			return nil, nil
		},
	}
	if err := svc.RegisterHandler("needs-valid-payload", handler, "plugin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	jobID, err := svc.Enqueue(context.Background(), "needs-valid-payload", map[string]any{"garbage": true}, jobqueue.EnqueueOptions{}, "plugin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := New(Config{Concurrency: 1, PollInterval: 10 * time.Millisecond}, svc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	waitFor(t, time.Second, func() bool {
		j, err := svc.GetJob(context.Background(), jobID)
		return err == nil && j.IsTerminal()
	})

	j, _ := svc.GetJob(context.Background(), jobID)
	if j.Status != "failed" {
		t.Fatalf("expected job failed for invalid payload, got %s", j.Status)
	}
}

func TestWorker_RetryableErrorReschedulesUntilMaxRetries(t *testing.T) {
	store := memstore.New()
	svc := jobqueue.New(store, jobqueue.WithBackoffBase(time.Millisecond))

	var attempts int
	handler := jobqueue.HandlerFunc{
		Validate: func(data json.RawMessage) (any, bool) { return struct{}{}, true },
		Run: func(ctx context.Context, parsed any, jobID string, reporter *jobqueue.Reporter) (any, error) {
			attempts++
			return nil, errors.New("transient failure")
		},
	}
	if err := svc.RegisterHandler("flaky", handler, "plugin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	jobID, err := svc.Enqueue(context.Background(), "flaky", map[string]any{}, jobqueue.EnqueueOptions{MaxRetries: 2}, "plugin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := New(Config{Concurrency: 1, PollInterval: time.Millisecond}, svc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	waitFor(t, 2*time.Second, func() bool {
		j, err := svc.GetJob(context.Background(), jobID)
		return err == nil && j.IsTerminal()
	})

	j, _ := svc.GetJob(context.Background(), jobID)
	if j.Status != "failed" {
		t.Fatalf("expected job to end up terminally failed after exhausting retries, got %s", j.Status)
	}
	if attempts != 3 {
		t.Fatalf("expected 1 initial attempt + 2 retries = 3 total, got %d", attempts)
	}
}

func TestWorker_NonRetryableErrorSkipsRetry(t *testing.T) {
	store := memstore.New()
	svc := jobqueue.New(store, jobqueue.WithBackoffBase(time.Millisecond))

	var attempts int
	handler := jobqueue.HandlerFunc{
		Validate: func(data json.RawMessage) (any, bool) { return struct{}{}, true },
		Run: func(ctx context.Context, parsed any, jobID string, reporter *jobqueue.Reporter) (any, error) {
			attempts++
			return nil, &jobqueue.NonRetryableError{Err: errors.New("permanent")}
		},
	}
	if err := svc.RegisterHandler("poison", handler, "plugin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	jobID, err := svc.Enqueue(context.Background(), "poison", map[string]any{}, jobqueue.EnqueueOptions{MaxRetries: 5}, "plugin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := New(Config{Concurrency: 1, PollInterval: time.Millisecond}, svc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	waitFor(t, time.Second, func() bool {
		j, err := svc.GetJob(context.Background(), jobID)
		return err == nil && j.IsTerminal()
	})

	if attempts != 1 {
		t.Fatalf("expected NonRetryableError to skip retry entirely, got %d attempts", attempts)
	}
}

func TestWorker_StartAndStopAreIdempotent(t *testing.T) {
	store := memstore.New()
	svc := jobqueue.New(store)

	w := New(Config{Concurrency: 3, PollInterval: 5 * time.Millisecond}, svc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Start(ctx)
	w.Start(ctx) // second call must be a no-op, not a second pool
	if !w.IsRunning() {
		t.Fatalf("expected worker to report running after Start")
	}

	w.Stop()
	if w.IsRunning() {
		t.Fatalf("expected worker to report stopped after Stop")
	}

	w.Stop() // idempotent
}
