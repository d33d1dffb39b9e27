// Package retry is the Retry Tracker: per-entity retry counts with
// exponential backoff and a "ready to retry" predicate. Generalized from the
// teacher's queue/worker.ExponentialBackoff (same doubling-base shape, no
// jitter so nextRetryAt is exactly reproducible for tests) into an
// entity-keyed tracker, since here retry state is scheduler-owned rather
// than attached to a single job row.
package retry

import (
	"sync"
	"time"

	"github.com/geocoder89/workcore/internal/clock"
	"github.com/geocoder89/workcore/internal/queuestore"
)

// Info is the snapshot returned by GetRetryInfo: everything recorded about
// one entity's retry history plus the derived fields a caller needs to act.
type Info struct {
	EntityID    string
	RetryCount  int
	LastError   string
	NextRetryAt time.Time
	WillRetry   bool
}

type entry struct {
	retryCount  int
	lastError   string
	nextRetryAt time.Time
}

// Config bounds a Tracker's policy.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	Clock      clock.Clock
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = queuestore.DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = queuestore.DefaultBackoffBase
	}
	if c.Clock == nil {
		c.Clock = clock.Real
	}
	return c
}

// Tracker is keyed by entityId, per the owning specification's §4.H: the
// scheduler treats an entity, not a job id, as the unit of retry.
type Tracker struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*entry
}

func New(cfg Config) *Tracker {
	return &Tracker{cfg: cfg.withDefaults(), entries: make(map[string]*entry)}
}

// RecordFailure increments entityId's retry counter and schedules its next
// eligible retry at now + baseDelay * 2^(count-1).
func (t *Tracker) RecordFailure(entityID string, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[entityID]
	if !ok {
		e = &entry{}
		t.entries[entityID] = e
	}

	e.retryCount++
	if cause != nil {
		e.lastError = cause.Error()
	}
	e.nextRetryAt = t.cfg.Clock.Now().Add(queuestore.Backoff(t.cfg.BaseDelay, e.retryCount))
}

// ShouldRetry reports whether entityId has retries remaining under
// MaxRetries. An entity with no recorded failures has never failed and is
// always eligible.
func (t *Tracker) ShouldRetry(entityID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[entityID]
	if !ok {
		return true
	}
	return e.retryCount < t.cfg.MaxRetries
}

// IsReadyForRetry reports whether now has reached entityId's nextRetryAt.
// An entity with no recorded failures is always ready.
func (t *Tracker) IsReadyForRetry(entityID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[entityID]
	if !ok {
		return true
	}
	return !t.cfg.Clock.Now().Before(e.nextRetryAt)
}

// ClearRetries drops entityId's retry history, e.g. after a reported
// success.
func (t *Tracker) ClearRetries(entityID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, entityID)
}

// GetRetryInfo returns a snapshot for entityId, or the zero-value Info with
// WillRetry true if entityId has never failed.
func (t *Tracker) GetRetryInfo(entityID string) Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[entityID]
	if !ok {
		return Info{EntityID: entityID, WillRetry: true}
	}

	return Info{
		EntityID:    entityID,
		RetryCount:  e.retryCount,
		LastError:   e.lastError,
		NextRetryAt: e.nextRetryAt,
		WillRetry:   e.retryCount < t.cfg.MaxRetries,
	}
}
