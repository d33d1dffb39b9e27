package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/geocoder89/workcore/internal/queuestore"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func TestRecordFailure_ComputesBackoffFromBaseAndCount(t *testing.T) {
	fc := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := New(Config{MaxRetries: 3, BaseDelay: time.Second, Clock: fc})

	tr.RecordFailure("entity-1", errors.New("boom"))
	info := tr.GetRetryInfo("entity-1")

	want := fc.now.Add(queuestore.Backoff(time.Second, 1))
	if !info.NextRetryAt.Equal(want) {
		t.Fatalf("expected nextRetryAt %s, got %s", want, info.NextRetryAt)
	}
	if info.RetryCount != 1 {
		t.Fatalf("expected retryCount 1, got %d", info.RetryCount)
	}
	if info.LastError != "boom" {
		t.Fatalf("expected lastError recorded")
	}
}

func TestShouldRetry_FalseOnceMaxRetriesReached(t *testing.T) {
	fc := &fakeClock{now: time.Now().UTC()}
	tr := New(Config{MaxRetries: 2, BaseDelay: time.Millisecond, Clock: fc})

	tr.RecordFailure("entity-1", errors.New("1"))
	if !tr.ShouldRetry("entity-1") {
		t.Fatalf("expected retry allowed after first failure")
	}

	tr.RecordFailure("entity-1", errors.New("2"))
	if tr.ShouldRetry("entity-1") {
		t.Fatalf("expected no more retries after reaching maxRetries")
	}
}

func TestIsReadyForRetry_FalseUntilNextRetryAtElapses(t *testing.T) {
	fc := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := New(Config{MaxRetries: 5, BaseDelay: time.Minute, Clock: fc})

	tr.RecordFailure("entity-1", errors.New("boom"))
	if tr.IsReadyForRetry("entity-1") {
		t.Fatalf("expected not ready immediately after failure")
	}

	fc.now = fc.now.Add(queuestore.Backoff(time.Minute, 1))
	if !tr.IsReadyForRetry("entity-1") {
		t.Fatalf("expected ready once nextRetryAt has elapsed")
	}
}

func TestClearRetries_ResetsEntityToFreshState(t *testing.T) {
	tr := New(Config{MaxRetries: 1, BaseDelay: time.Millisecond})
	tr.RecordFailure("entity-1", errors.New("boom"))
	tr.ClearRetries("entity-1")

	info := tr.GetRetryInfo("entity-1")
	if info.RetryCount != 0 || !info.WillRetry {
		t.Fatalf("expected cleared entity to report a fresh Info, got %+v", info)
	}
}

func TestGetRetryInfo_NeverFailedEntityIsAlwaysWillRetry(t *testing.T) {
	tr := New(Config{})
	info := tr.GetRetryInfo("never-seen")
	if !info.WillRetry {
		t.Fatalf("expected an entity with no history to report willRetry=true")
	}
}
