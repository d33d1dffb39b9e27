package jobqueue

import (
	"sync"
	"time"
)

// ProgressUpdate is one (current, total, message) tick a handler reports.
type ProgressUpdate struct {
	JobID   string
	Current int
	Total   int
	Message string
}

// Reporter is the handler-facing progress object: Report for discrete
// updates, CreateSub for a hierarchical sub-task, Start/StopHeartbeat for
// long-running steps that have no natural (current, total).
type Reporter struct {
	jobID string
	emit  func(ProgressUpdate)

	mu         sync.Mutex
	heartbeat  *time.Ticker
	stopSignal chan struct{}
}

func newReporter(jobID string, emit func(ProgressUpdate)) *Reporter {
	return &Reporter{jobID: jobID, emit: emit}
}

// Report emits one progress update for this job.
func (r *Reporter) Report(current, total int, message string) {
	r.emit(ProgressUpdate{JobID: r.jobID, Current: current, Total: total, Message: message})
}

// CreateSub returns a Reporter for a nested sub-task of the same job — the
// sub-reporter's updates flow to the same job id, letting a handler
// decompose a long Process call into phases without the caller needing to
// know about the decomposition.
func (r *Reporter) CreateSub() *Reporter {
	return newReporter(r.jobID, r.emit)
}

// StartHeartbeat begins emitting a progress update with message every
// interval until StopHeartbeat is called, for steps with no natural
// current/total (e.g. waiting on an external API).
func (r *Reporter) StartHeartbeat(interval time.Duration, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.heartbeat != nil {
		return
	}

	r.heartbeat = time.NewTicker(interval)
	r.stopSignal = make(chan struct{})

	ticker := r.heartbeat
	stop := r.stopSignal
	go func() {
		for {
			select {
			case <-ticker.C:
				r.emit(ProgressUpdate{JobID: r.jobID, Message: message})
			case <-stop:
				return
			}
		}
	}()
}

// StopHeartbeat stops a heartbeat started by StartHeartbeat. Idempotent.
func (r *Reporter) StopHeartbeat() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.heartbeat == nil {
		return
	}
	r.heartbeat.Stop()
	close(r.stopSignal)
	r.heartbeat = nil
	r.stopSignal = nil
}
