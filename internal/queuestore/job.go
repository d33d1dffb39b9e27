// Package queuestore is the durable Job Queue Store: the single writer of
// job rows. Workers and the batch manager read through jobqueue.Service —
// nothing outside this package and its Store implementations mutates a job
// row directly.
package queuestore

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is a job's lifecycle state. Transitions are
// pending -> running -> (completed|failed), with a failed job that still has
// retries left re-entering pending under a shifted ScheduledFor.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

var (
	ErrJobNotFound    = errors.New("queuestore: job not found")
	ErrInvalidJobType = errors.New("queuestore: job type must be non-empty")
)

// Job is the persistent record described by the owning specification's data
// model: opaque payload, namespaced type, retry bookkeeping, and free-form
// metadata for the enqueuer (interfaceId, userId, operationType, ...).
type Job struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Data         json.RawMessage `json:"data,omitempty"`
	Status       Status          `json:"status"`
	Priority     int             `json:"priority"`
	ScheduledFor time.Time       `json:"scheduledFor"`
	CreatedAt    time.Time       `json:"createdAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	RetryCount   int             `json:"retryCount"`
	MaxRetries   int             `json:"maxRetries"`
	LastError    *string         `json:"lastError,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	Source       string          `json:"source,omitempty"`
}

// CreateRequest is what the Job Queue Service hands the Store to persist a
// brand new job.
type CreateRequest struct {
	Type         string
	Data         json.RawMessage
	Priority     int
	ScheduledFor time.Time
	MaxRetries   int
	Metadata     map[string]any
	Source       string
}

// DefaultMaxRetries matches the owning specification's configuration default.
const DefaultMaxRetries = 3

// New builds a pending Job from req, filling in id/timestamps/defaults the
// way the Service is expected to before handing it to a Store.
func New(req CreateRequest) (Job, error) {
	if req.Type == "" {
		return Job{}, ErrInvalidJobType
	}

	now := time.Now().UTC()

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	scheduledFor := req.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = now
	}

	return Job{
		ID:           uuid.NewString(),
		Type:         req.Type,
		Data:         req.Data,
		Status:       StatusPending,
		Priority:     req.Priority,
		ScheduledFor: scheduledFor,
		CreatedAt:    now,
		MaxRetries:   maxRetries,
		Metadata:     req.Metadata,
		Source:       req.Source,
	}, nil
}

// IsTerminal reports whether a job has reached a status the worker will
// never act on again.
func (j Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}
