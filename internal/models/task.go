package models

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrInvalidTask indicates a task with missing or malformed fields.
var ErrInvalidTask = errors.New("invalid task")

// TaskKind specifies what a queued task should do.
type TaskKind string

const (
	// TaskKindRun drives a freshly-intaken request through the pipeline.
	TaskKindRun TaskKind = "run"

	// TaskKindResume continues a request past AWAITING_APPROVAL after an
	// external decision arrived.
	TaskKindResume TaskKind = "resume"
)

// TaskStatus represents the status of a queued task.
type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusFailed  TaskStatus = "failed"
)

// Task is a durable unit of pipeline work. Delivery is at-least-once: a
// task may be picked up again after a crash, and the pipeline's idempotency
// guard makes replays safe.
type Task struct {
	// ID is the unique identifier for the task.
	ID string `json:"id"`

	// Kind specifies the task type.
	Kind TaskKind `json:"kind"`

	// RequestID references the lab request this task drives.
	RequestID string `json:"request_id"`

	// Payload contains kind-specific data.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Status is the current task status.
	Status TaskStatus `json:"status"`

	// Attempts counts executions so far.
	Attempts int `json:"attempts"`

	// NextAttemptAt is the earliest time the task may run (backoff).
	NextAttemptAt time.Time `json:"next_attempt_at"`

	// CreatedAt is when the task was enqueued.
	CreatedAt time.Time `json:"created_at"`

	// CompletedAt is when the task finished (done or failed).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains the last execution error, if any.
	Error string `json:"error,omitempty"`
}

// ResumePayload is the payload for resume tasks.
type ResumePayload struct {
	// Approved mirrors the callback decision that triggered the resume.
	Approved bool `json:"approved"`

	// Approver identifies who resolved the approval.
	Approver string `json:"approver,omitempty"`

	// Reason carries the decision rationale.
	Reason string `json:"reason,omitempty"`
}

// Validate checks if the task is well formed.
func (t *Task) Validate() error {
	if t.Kind == "" || t.RequestID == "" {
		return ErrInvalidTask
	}
	return nil
}

// GetResumePayload extracts the resume payload.
func (t *Task) GetResumePayload() (*ResumePayload, error) {
	if t.Kind != TaskKindResume {
		return nil, ErrInvalidTask
	}
	var payload ResumePayload
	if err := json.Unmarshal(t.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
