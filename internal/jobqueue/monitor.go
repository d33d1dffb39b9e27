package jobqueue

import (
	"context"

	"github.com/geocoder89/workcore/internal/bus"
	"github.com/geocoder89/workcore/internal/queuestore"
)

// BatchObserver lets the Batch Job Manager hear about a member job's
// lifecycle without the Job Queue Service importing the batch package —
// Monitor only knows a job's metadata may carry a batch id.
type BatchObserver interface {
	OnMemberJobEvent(ctx context.Context, batchID string, job queuestore.Job)
}

const metadataBatchIDKey = "batchId"

// Monitor observes lifecycle transitions the Service reports and forwards
// them onto the bus as the typed events the owning specification names in
// §4.F, broadcasting so every interested subscriber (a UI bridge, the batch
// manager, test observers) hears them — not just the first one registered.
type Monitor struct {
	bus    *bus.Bus
	source string
	batch  BatchObserver
}

// NewMonitor returns a Monitor that publishes through b. batch may be nil if
// no Batch Job Manager is wired (a lone Job Queue Service with no batches).
func NewMonitor(b *bus.Bus, batch BatchObserver) *Monitor {
	return &Monitor{bus: b, source: "jobqueue", batch: batch}
}

func (m *Monitor) broadcast(ctx context.Context, topic string, payload any) {
	if m.bus == nil {
		return
	}
	_, _ = m.bus.Send(ctx, topic, payload, m.source, bus.SendOptions{Broadcast: true})
}

// JobStartedEvent is the job:progress-adjacent event emitted on claim.
type JobStartedEvent struct {
	JobID    string
	Type     string
	Metadata map[string]any
}

func (m *Monitor) jobStarted(ctx context.Context, j queuestore.Job) {
	m.broadcast(ctx, bus.TopicJobProgress, JobStartedEvent{JobID: j.ID, Type: j.Type, Metadata: j.Metadata})
}

// JobProgressEvent mirrors a Reporter.Report call onto the bus.
type JobProgressEvent struct {
	JobID   string
	Current int
	Total   int
	Message string
}

func (m *Monitor) jobProgress(ctx context.Context, u ProgressUpdate) {
	m.broadcast(ctx, bus.TopicJobProgress, JobProgressEvent{
		JobID: u.JobID, Current: u.Current, Total: u.Total, Message: u.Message,
	})
}

// JobCompletedEvent is emitted when a job reaches status completed.
type JobCompletedEvent struct {
	JobID  string
	Result any
}

func (m *Monitor) jobCompleted(ctx context.Context, j queuestore.Job, result any) {
	m.broadcast(ctx, bus.TopicJobCompleted, JobCompletedEvent{JobID: j.ID, Result: result})
	m.notifyBatch(ctx, j)
}

// JobFailedEvent is emitted on every failure, interim (will retry) or final.
type JobFailedEvent struct {
	JobID      string
	Error      string
	RetryCount int
	WillRetry  bool
}

func (m *Monitor) jobFailed(ctx context.Context, j queuestore.Job, errMsg string, willRetry bool) {
	m.broadcast(ctx, bus.TopicJobFailed, JobFailedEvent{
		JobID: j.ID, Error: errMsg, RetryCount: j.RetryCount, WillRetry: willRetry,
	})
	m.notifyBatch(ctx, j)
}

func (m *Monitor) notifyBatch(ctx context.Context, j queuestore.Job) {
	if m.batch == nil || j.Metadata == nil {
		return
	}
	batchID, ok := j.Metadata[metadataBatchIDKey].(string)
	if !ok || batchID == "" {
		return
	}
	m.batch.OnMemberJobEvent(ctx, batchID, j)
}
