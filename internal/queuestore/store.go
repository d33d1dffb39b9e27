package queuestore

import (
	"context"
	"time"
)

// Stats is the count of jobs in each status, as returned by Store.Stats.
type Stats struct {
	Pending   int
	Running   int
	Completed int
	Failed    int
}

// Store is the durable persistence contract the Job Queue Service drives.
// Implementations must make ClaimNext atomic with respect to concurrent
// callers — two workers racing ClaimNext must never both claim the same
// job (the Postgres implementation uses SELECT ... FOR UPDATE SKIP LOCKED;
// the in-memory implementation uses a mutex).
type Store interface {
	// Insert persists a brand new pending job.
	Insert(ctx context.Context, j Job) error

	// ClaimNext atomically selects the highest-priority, oldest-created
	// pending job whose ScheduledFor has arrived, marks it running with
	// StartedAt set to now, and returns it. Returns ErrJobNotFound if no
	// job is currently claimable.
	ClaimNext(ctx context.Context, now time.Time) (Job, error)

	// Complete marks a running job completed, recording result and
	// CompletedAt.
	Complete(ctx context.Context, id string, result []byte, completedAt time.Time) error

	// Reschedule returns a running job to pending after a retryable
	// failure: RetryCount is incremented, ScheduledFor moves to runAt, and
	// LastError is recorded.
	Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error

	// MarkFailed marks a running job terminally failed (no retries left,
	// or the failure was non-retryable).
	MarkFailed(ctx context.Context, id string, errMsg string) error

	// GetByID fetches a single job by id.
	GetByID(ctx context.Context, id string) (Job, error)

	// ListByIDs fetches every job named by ids, in no particular order,
	// used by the Batch Job Manager to aggregate a batch's member jobs.
	// IDs with no matching row are silently omitted.
	ListByIDs(ctx context.Context, ids []string) ([]Job, error)

	// ListActive returns jobs of the given type that are pending or
	// running, for Service.ActiveJobs.
	ListActive(ctx context.Context, jobType string) ([]Job, error)

	// ListByStatus returns up to limit jobs, offset into the result,
	// newest-created first, optionally filtered to one status. Backs the
	// admin job listing surface. An empty status matches every status.
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]Job, error)

	// Stats returns current counts by status.
	Stats(ctx context.Context) (Stats, error)
}
