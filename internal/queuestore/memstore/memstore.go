// Package memstore is an in-memory queuestore.Store, grounded on the
// teacher's repo/memory.EventsRepo: a mutex-guarded map plus a deterministic
// sort for listing. It backs tests and any embedding of the job queue that
// does not want a Postgres dependency.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/geocoder89/workcore/internal/queuestore"
)

var _ queuestore.Store = (*Store)(nil)

type Store struct {
	mu    sync.Mutex
	items map[string]queuestore.Job
}

func New() *Store {
	return &Store{items: make(map[string]queuestore.Job)}
}

func (s *Store) Insert(ctx context.Context, j queuestore.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[j.ID] = j
	return nil
}

// ClaimNext picks the ready pending job with the highest priority, breaking
// ties by earliest CreatedAt, exactly as the owning specification orders
// selection.
func (s *Store) ClaimNext(ctx context.Context, now time.Time) (queuestore.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []queuestore.Job
	for _, j := range s.items {
		if j.Status == queuestore.StatusPending && !j.ScheduledFor.After(now) {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return queuestore.Job{}, queuestore.ErrJobNotFound
	}

	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})

	claimed := candidates[0]
	claimed.Status = queuestore.StatusRunning
	started := now
	claimed.StartedAt = &started
	s.items[claimed.ID] = claimed

	return claimed, nil
}

func (s *Store) Complete(ctx context.Context, id string, result []byte, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.items[id]
	if !ok {
		return queuestore.ErrJobNotFound
	}

	j.Status = queuestore.StatusCompleted
	j.Result = result
	j.CompletedAt = &completedAt
	j.LastError = nil
	s.items[id] = j
	return nil
}

func (s *Store) Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.items[id]
	if !ok {
		return queuestore.ErrJobNotFound
	}

	j.Status = queuestore.StatusPending
	j.RetryCount++
	j.ScheduledFor = runAt
	j.LastError = &errMsg
	j.StartedAt = nil
	s.items[id] = j
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.items[id]
	if !ok {
		return queuestore.ErrJobNotFound
	}

	j.Status = queuestore.StatusFailed
	j.LastError = &errMsg
	completed := time.Now().UTC()
	j.CompletedAt = &completed
	s.items[id] = j
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (queuestore.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.items[id]
	if !ok {
		return queuestore.Job{}, queuestore.ErrJobNotFound
	}
	return j, nil
}

func (s *Store) ListByIDs(ctx context.Context, ids []string) ([]queuestore.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]queuestore.Job, 0, len(ids))
	for _, id := range ids {
		if j, ok := s.items[id]; ok {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *Store) ListActive(ctx context.Context, jobType string) ([]queuestore.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []queuestore.Job
	for _, j := range s.items {
		if j.Type != jobType {
			continue
		}
		if j.Status == queuestore.StatusPending || j.Status == queuestore.StatusRunning {
			out = append(out, j)
		}
	}

	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

// ListByStatus returns jobs newest-created first, optionally filtered to
// one status, with limit/offset applied after sorting.
func (s *Store) ListByStatus(ctx context.Context, status queuestore.Status, limit, offset int) ([]queuestore.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []queuestore.Job
	for _, j := range s.items {
		if status != "" && j.Status != status {
			continue
		}
		matched = append(matched, j)
	}

	sort.Slice(matched, func(i, k int) bool { return matched[i].CreatedAt.After(matched[k].CreatedAt) })

	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (s *Store) Stats(ctx context.Context) (queuestore.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats queuestore.Stats
	for _, j := range s.items {
		switch j.Status {
		case queuestore.StatusPending:
			stats.Pending++
		case queuestore.StatusRunning:
			stats.Running++
		case queuestore.StatusCompleted:
			stats.Completed++
		case queuestore.StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}
