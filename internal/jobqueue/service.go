// Package jobqueue is the Job Queue Service: enqueue/dequeue/complete/fail,
// the per-plugin handler registry, retry policy, and the Progress Monitor
// that observes the Service's own lifecycle transitions. The Job Queue
// Worker (subpackage worker) is the only intended caller of Dequeue,
// Complete and Fail — handlers never touch queuestore directly.
package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/geocoder89/workcore/internal/clock"
	"github.com/geocoder89/workcore/internal/queuestore"
)

var (
	ErrUnknownType     = errors.New("jobqueue: no handler registered for job type")
	ErrInvalidPayload  = errors.New("jobqueue: payload failed validation")
	ErrHandlerRequired = errors.New("jobqueue: handler must not be nil")
)

// EnqueueOptions carries the optional fields of an Enqueue call.
type EnqueueOptions struct {
	Priority     int
	ScheduledFor time.Time
	MaxRetries   int
	Metadata     map[string]any
	Source       string
}

// Service is the namespaced handler registry plus the retry-aware
// complete/fail policy layered over a queuestore.Store.
type Service struct {
	store       queuestore.Store
	monitor     *Monitor
	clock       clock.Clock
	backoffBase time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler
}

// Option configures a Service at construction.
type Option func(*Service)

// WithMonitor attaches a Progress Monitor so lifecycle transitions reach the
// bus. Without one, Dequeue/Complete/Fail still work but nothing observes
// them — useful for tests that only care about store state.
func WithMonitor(m *Monitor) Option {
	return func(s *Service) { s.monitor = m }
}

// SetMonitor attaches or replaces the Progress Monitor after construction.
// Needed because a Monitor's BatchObserver (the Batch Job Manager) is itself
// constructed with this Service — the two can't both be supplied at each
// other's New call, so the assembly root builds the Service first, then the
// Manager, then the Monitor, then wires it in here.
func (s *Service) SetMonitor(m *Monitor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitor = m
}

// WithClock overrides the wall clock, for deterministic tests.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithBackoffBase overrides the default 5s exponential backoff base.
func WithBackoffBase(d time.Duration) Option {
	return func(s *Service) { s.backoffBase = d }
}

func New(store queuestore.Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		clock:       clock.Real,
		backoffBase: queuestore.DefaultBackoffBase,
		handlers:    make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// namespace prefixes jobType with pluginID unless it is already namespaced
// (contains a ":"), matching the owning specification's §4.C/§4.D rule.
func namespace(pluginID, jobType string) string {
	if strings.Contains(jobType, ":") {
		return jobType
	}
	return pluginID + ":" + jobType
}

// RegisterHandler stores handler under "pluginID:jobType". Late registration
// (after the worker has started) is supported — the handler map is read
// fresh on every claim.
func (s *Service) RegisterHandler(jobType string, h Handler, pluginID string) error {
	if h == nil {
		return ErrHandlerRequired
	}

	key := namespace(pluginID, jobType)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[key] = h
	return nil
}

// UnregisterPluginHandlers removes every handler namespaced under pluginID,
// used when a plugin is torn down.
func (s *Service) UnregisterPluginHandlers(pluginID string) {
	prefix := pluginID + ":"

	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.handlers {
		if strings.HasPrefix(key, prefix) {
			delete(s.handlers, key)
		}
	}
}

func (s *Service) handlerFor(jobType string) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[jobType]
	return h, ok
}

// Enqueue persists a new pending job and returns its id. jobType is
// namespaced with pluginID unless already namespaced.
func (s *Service) Enqueue(ctx context.Context, jobType string, data any, opts EnqueueOptions, pluginID string) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("jobqueue: marshal payload: %w", err)
	}

	j, err := queuestore.New(queuestore.CreateRequest{
		Type:         namespace(pluginID, jobType),
		Data:         raw,
		Priority:     opts.Priority,
		ScheduledFor: opts.ScheduledFor,
		MaxRetries:   opts.MaxRetries,
		Metadata:     opts.Metadata,
		Source:       opts.Source,
	})
	if err != nil {
		return "", err
	}

	if err := s.store.Insert(ctx, j); err != nil {
		return "", err
	}

	return j.ID, nil
}

// Dequeue claims the next ready job, if any, and notifies the Progress
// Monitor that it started. Returns queuestore.ErrJobNotFound when nothing is
// claimable right now — this is the worker's cue to sleep pollInterval.
func (s *Service) Dequeue(ctx context.Context) (queuestore.Job, error) {
	j, err := s.store.ClaimNext(ctx, s.clock.Now())
	if err != nil {
		return queuestore.Job{}, err
	}

	if s.monitor != nil {
		s.monitor.jobStarted(ctx, j)
	}
	return j, nil
}

// Handler looks up the handler for a claimed job's exact (namespaced) type.
func (s *Service) Handler(jobType string) (Handler, bool) {
	return s.handlerFor(jobType)
}

// NewReporter builds the progress reporter handed to Handler.Process for
// jobID, wiring its updates through the Progress Monitor.
func (s *Service) NewReporter(jobID string) *Reporter {
	return newReporter(jobID, func(u ProgressUpdate) {
		if s.monitor != nil {
			s.monitor.jobProgress(context.Background(), u)
		}
	})
}

// Complete marks jobID completed with result and notifies the monitor.
func (s *Service) Complete(ctx context.Context, jobID string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("jobqueue: marshal result: %w", err)
	}

	now := s.clock.Now()
	if err := s.store.Complete(ctx, jobID, raw, now); err != nil {
		return err
	}

	if s.monitor != nil {
		j, err := s.store.GetByID(ctx, jobID)
		if err == nil {
			s.monitor.jobCompleted(ctx, j, result)
		}
	}
	return nil
}

// Fail records a job failure. When retryable is true and the job has
// retries left, it re-enters pending with scheduledFor shifted by
// exponential backoff; otherwise it is marked terminally failed. Returns
// whether the job will be retried.
func (s *Service) Fail(ctx context.Context, jobID string, cause error, retryable bool) (willRetry bool, err error) {
	j, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return false, err
	}

	errMsg := cause.Error()
	nextAttempt := j.RetryCount + 1

	if retryable && nextAttempt <= j.MaxRetries {
		runAt := s.clock.Now().Add(queuestore.Backoff(s.backoffBase, nextAttempt))
		if err := s.store.Reschedule(ctx, jobID, runAt, errMsg); err != nil {
			return false, err
		}
		willRetry = true
	} else {
		if err := s.store.MarkFailed(ctx, jobID, errMsg); err != nil {
			return false, err
		}
		willRetry = false
	}

	if s.monitor != nil {
		updated, getErr := s.store.GetByID(ctx, jobID)
		if getErr == nil {
			s.monitor.jobFailed(ctx, updated, errMsg, willRetry)
		}
	}

	return willRetry, nil
}

// Stats returns current job counts by status.
func (s *Service) Stats(ctx context.Context) (queuestore.Stats, error) {
	return s.store.Stats(ctx)
}

// ActiveJobs returns pending/running jobs of jobType.
func (s *Service) ActiveJobs(ctx context.Context, jobType string) ([]queuestore.Job, error) {
	return s.store.ListActive(ctx, jobType)
}

// JobsByIDs fetches every job named by ids — used by the Batch Job Manager
// to aggregate a batch's member jobs.
func (s *Service) JobsByIDs(ctx context.Context, ids []string) ([]queuestore.Job, error) {
	return s.store.ListByIDs(ctx, ids)
}

// GetJob fetches a single job by id.
func (s *Service) GetJob(ctx context.Context, jobID string) (queuestore.Job, error) {
	return s.store.GetByID(ctx, jobID)
}

// ErrJobNotFailed is returned by RetryJob when jobID is not currently in the
// failed state.
var ErrJobNotFailed = errors.New("jobqueue: only failed jobs can be retried")

// ListJobs backs the admin job listing surface: newest-created first,
// optionally filtered to one status.
func (s *Service) ListJobs(ctx context.Context, status queuestore.Status, limit, offset int) ([]queuestore.Job, error) {
	return s.store.ListByStatus(ctx, status, limit, offset)
}

// RetryJob moves a terminally failed job back to pending immediately,
// bypassing the backoff delay — an operator-initiated retry, distinct from
// the Worker's automatic retry-on-failure path.
func (s *Service) RetryJob(ctx context.Context, jobID string) error {
	j, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status != queuestore.StatusFailed {
		return ErrJobNotFailed
	}
	return s.store.Reschedule(ctx, jobID, s.clock.Now(), lastErrorString(j))
}

// lastErrorString reads a Job's LastError for callers (Reschedule,
// MarkFailed) that take the failure message as a plain string — LastError
// itself is *string so the Store can persist SQL NULL for a job that has
// never failed.
func lastErrorString(j queuestore.Job) string {
	if j.LastError == nil {
		return ""
	}
	return *j.LastError
}

// RetryDeadJobs retries up to limit failed jobs, most recently created
// first (ListByStatus order), and returns how many it requeued.
func (s *Service) RetryDeadJobs(ctx context.Context, limit int) (int, error) {
	dead, err := s.store.ListByStatus(ctx, queuestore.StatusFailed, limit, 0)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, j := range dead {
		if err := s.store.Reschedule(ctx, j.ID, s.clock.Now(), lastErrorString(j)); err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}
