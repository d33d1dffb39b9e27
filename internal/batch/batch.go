// Package batch is the Batch Job Manager: groups N Job Queue operations
// under one batch id and aggregates their live status. Grounded on the
// teacher's aggregate-read style in http/handlers/admin_jobs.go (status
// filtering over a set) and repo/postgres's cursor-based listing, adapted
// from a single-job read into an aggregation over a fixed set of job ids.
// The manager owns only batch metadata — member job state is always read
// fresh through jobqueue.Service, never cached here.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/geocoder89/workcore/internal/bus"
	"github.com/geocoder89/workcore/internal/jobqueue"
	"github.com/geocoder89/workcore/internal/observability"
	"github.com/geocoder89/workcore/internal/queuestore"
	"github.com/google/uuid"
)

var ErrBatchNotFound = errors.New("batch: batch not found")

// Status is a batch's derived lifecycle state, recomputed on every read from
// its member jobs rather than stored.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Operation names one job within a batch, parallel to its enqueued job id.
type Operation struct {
	Name  string
	JobID string
}

// record is the manager's own metadata: the member set plus the labels the
// caller supplied. Everything else is derived on read.
type record struct {
	BatchID   string
	PluginID  string
	CreatedAt time.Time
	JobIDs    []string
	Names     []string // parallel to JobIDs

	// countedActive tracks whether this batch is still contributing to
	// BatchActive, so a terminal transition decrements the gauge exactly
	// once regardless of how many more member-job events arrive after it.
	countedActive bool
}

// BatchStatus is the aggregated, point-in-time view returned by
// GetBatchStatus — §4.G's "live aggregation over member jobs".
type BatchStatus struct {
	BatchID             string
	PluginID            string
	CreatedAt           time.Time
	Status              Status
	TotalOperations     int
	CompletedOperations int
	FailedOperations    int
	CurrentOperation    string
	Errors              []string
}

// EnqueueOptions mirrors jobqueue.EnqueueOptions, applied identically to
// every member job of the batch.
type EnqueueOptions struct {
	Priority     int
	ScheduledFor time.Time
	MaxRetries   int
	Metadata     map[string]any
	Source       string
}

const metadataBatchIDKey = "batchId"

// Enqueuer is the slice of jobqueue.Service the manager depends on.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, data any, opts jobqueue.EnqueueOptions, pluginID string) (string, error)
	JobsByIDs(ctx context.Context, ids []string) ([]queuestore.Job, error)
}

// Manager is the Batch Job Manager. It implements jobqueue.BatchObserver so
// the Progress Monitor can push member-job transitions straight through to
// batch:progress/completed/failed without polling.
type Manager struct {
	queue   Enqueuer
	bus     *bus.Bus
	metrics *observability.Prom

	mu      sync.RWMutex
	batches map[string]*record
}

func New(queue Enqueuer, b *bus.Bus) *Manager {
	return &Manager{queue: queue, bus: b, batches: make(map[string]*record)}
}

// WithMetrics wires an observability.Prom so EnqueueBatch and
// OnMemberJobEvent keep BatchActive current. Optional.
func (m *Manager) WithMetrics(p *observability.Prom) *Manager {
	m.metrics = p
	return m
}

// BatchOperation is one named job to enqueue as part of a batch.
type BatchOperation struct {
	Name     string
	JobType  string
	Data     any
}

// EnqueueBatch enqueues one job per operation via the Service, then records
// the batch membership under batchId (a caller-supplied id, or a generated
// uuid when empty).
func (m *Manager) EnqueueBatch(ctx context.Context, operations []BatchOperation, opts EnqueueOptions, batchID, pluginID string) (string, error) {
	if batchID == "" {
		batchID = uuid.NewString()
	}

	jobIDs := make([]string, 0, len(operations))
	names := make([]string, 0, len(operations))

	for _, op := range operations {
		metadata := cloneMetadata(opts.Metadata)
		metadata[metadataBatchIDKey] = batchID

		jobID, err := m.queue.Enqueue(ctx, op.JobType, op.Data, jobqueue.EnqueueOptions{
			Priority:     opts.Priority,
			ScheduledFor: opts.ScheduledFor,
			MaxRetries:   opts.MaxRetries,
			Metadata:     metadata,
			Source:       opts.Source,
		}, pluginID)
		if err != nil {
			return "", fmt.Errorf("batch: enqueue operation %q: %w", op.Name, err)
		}

		jobIDs = append(jobIDs, jobID)
		names = append(names, op.Name)
	}

	m.mu.Lock()
	m.batches[batchID] = &record{
		BatchID:       batchID,
		PluginID:      pluginID,
		CreatedAt:     time.Now().UTC(),
		JobIDs:        jobIDs,
		Names:         names,
		countedActive: true,
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.BatchActive.Inc()
	}

	return batchID, nil
}

func cloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// GetBatchStatus aggregates live status over the batch's member jobs.
func (m *Manager) GetBatchStatus(ctx context.Context, batchID string) (BatchStatus, error) {
	rec, ok := m.lookup(batchID)
	if !ok {
		return BatchStatus{}, ErrBatchNotFound
	}

	jobs, err := m.queue.JobsByIDs(ctx, rec.JobIDs)
	if err != nil {
		return BatchStatus{}, err
	}

	return aggregate(rec, jobs), nil
}

// GetActiveBatches returns the status of every batch not yet terminal.
func (m *Manager) GetActiveBatches(ctx context.Context) ([]BatchStatus, error) {
	m.mu.RLock()
	recs := make([]*record, 0, len(m.batches))
	for _, rec := range m.batches {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	var active []BatchStatus
	for _, rec := range recs {
		jobs, err := m.queue.JobsByIDs(ctx, rec.JobIDs)
		if err != nil {
			return nil, err
		}
		status := aggregate(rec, jobs)
		if !status.Status.IsTerminal() {
			active = append(active, status)
		}
	}
	return active, nil
}

func (m *Manager) lookup(batchID string) (*record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.batches[batchID]
	return rec, ok
}

// aggregate implements §4.G's terminal rule: a batch is terminal when no
// member is pending or running; failed if any member is failed, else
// completed. Non-terminal batches are "processing" once at least one member
// has left pending, otherwise "queued".
func aggregate(rec *record, jobs []queuestore.Job) BatchStatus {
	byID := make(map[string]queuestore.Job, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j
	}

	out := BatchStatus{
		BatchID:         rec.BatchID,
		PluginID:        rec.PluginID,
		CreatedAt:       rec.CreatedAt,
		TotalOperations: len(rec.JobIDs),
	}

	var anyPendingOrRunning, anyFailed bool
	for i, jobID := range rec.JobIDs {
		j, ok := byID[jobID]
		if !ok {
			continue
		}

		switch j.Status {
		case queuestore.StatusCompleted:
			out.CompletedOperations++
		case queuestore.StatusFailed:
			out.FailedOperations++
			anyFailed = true
			if j.LastError != nil && *j.LastError != "" {
				out.Errors = append(out.Errors, fmt.Sprintf("%s: %s", rec.Names[i], *j.LastError))
			}
		case queuestore.StatusRunning:
			anyPendingOrRunning = true
			if out.CurrentOperation == "" {
				out.CurrentOperation = rec.Names[i]
			}
		case queuestore.StatusPending:
			anyPendingOrRunning = true
		}
	}

	switch {
	case anyPendingOrRunning:
		if out.CompletedOperations+out.FailedOperations > 0 {
			out.Status = StatusProcessing
		} else {
			out.Status = StatusQueued
		}
	case anyFailed:
		out.Status = StatusFailed
	default:
		out.Status = StatusCompleted
	}

	return out
}

// OnMemberJobEvent implements jobqueue.BatchObserver: every time a member
// job transitions, re-aggregate and broadcast batch:progress, or
// batch:completed/batch:failed once the batch reaches a terminal state.
func (m *Manager) OnMemberJobEvent(ctx context.Context, batchID string, _ queuestore.Job) {
	rec, ok := m.lookup(batchID)
	if !ok {
		return
	}

	jobs, err := m.queue.JobsByIDs(ctx, rec.JobIDs)
	if err != nil {
		return
	}

	status := aggregate(rec, jobs)
	m.emit(ctx, status)

	if status.Status.IsTerminal() {
		m.mu.Lock()
		wasActive := rec.countedActive
		rec.countedActive = false
		m.mu.Unlock()

		if wasActive && m.metrics != nil {
			m.metrics.BatchActive.Dec()
		}
	}
}

func (m *Manager) emit(ctx context.Context, status BatchStatus) {
	if m.bus == nil {
		return
	}

	topic := bus.TopicBatchProgress
	switch status.Status {
	case StatusCompleted:
		topic = bus.TopicBatchCompleted
	case StatusFailed:
		topic = bus.TopicBatchFailed
	}

	_, _ = m.bus.Send(ctx, topic, status, "batch", bus.SendOptions{Broadcast: true})
}
