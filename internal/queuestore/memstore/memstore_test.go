package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/geocoder89/workcore/internal/queuestore"
)

func TestClaimNext_OrdersByPriorityThenCreatedAt(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	low, _ := queuestore.New(queuestore.CreateRequest{Type: "t", Priority: 1, ScheduledFor: now.Add(-time.Minute)})
	high, _ := queuestore.New(queuestore.CreateRequest{Type: "t", Priority: 5, ScheduledFor: now.Add(-time.Second)})
	_ = s.Insert(ctx, low)
	_ = s.Insert(ctx, high)

	claimed, err := s.ClaimNext(ctx, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed.ID != high.ID {
		t.Fatalf("expected higher-priority job claimed first, got %s", claimed.ID)
	}
	if claimed.Status != queuestore.StatusRunning {
		t.Fatalf("expected claimed job to be running, got %s", claimed.Status)
	}
}

func TestClaimNext_RespectsScheduledFor(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	future, _ := queuestore.New(queuestore.CreateRequest{Type: "t", ScheduledFor: now.Add(time.Hour)})
	_ = s.Insert(ctx, future)

	_, err := s.ClaimNext(ctx, now)
	if err != queuestore.ErrJobNotFound {
		t.Fatalf("expected ErrJobNotFound for not-yet-due job, got %v", err)
	}
}

func TestReschedule_IncrementsRetryCount(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	j, _ := queuestore.New(queuestore.CreateRequest{Type: "t", MaxRetries: 3})
	_ = s.Insert(ctx, j)
	_, _ = s.ClaimNext(ctx, now)

	runAt := now.Add(5 * time.Second)
	if err := s.Reschedule(ctx, j.ID, runAt, "boom"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := s.GetByID(ctx, j.ID)
	if got.RetryCount != 1 {
		t.Fatalf("expected retryCount 1, got %d", got.RetryCount)
	}
	if got.Status != queuestore.StatusPending {
		t.Fatalf("expected pending after reschedule, got %s", got.Status)
	}
	if got.LastError == nil || *got.LastError != "boom" {
		t.Fatalf("expected lastError to be recorded")
	}
}

func TestStats_CountsByStatus(t *testing.T) {
	s := New()
	ctx := context.Background()

	pending, _ := queuestore.New(queuestore.CreateRequest{Type: "t"})
	_ = s.Insert(ctx, pending)

	done, _ := queuestore.New(queuestore.CreateRequest{Type: "t"})
	_ = s.Insert(ctx, done)
	_ = s.Complete(ctx, done.ID, nil, time.Now().UTC())

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Pending != 1 || stats.Completed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
