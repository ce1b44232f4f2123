package models

import (
	"encoding/json"
	"time"
)

// EventType categorizes audit events in the system.
type EventType string

const (
	// Request lifecycle events
	EventTypeIntakeReceived       EventType = "request.intake_received"
	EventTypeProcurementRequested EventType = "request.procurement_requested"
	EventTypeAwaitingApproval     EventType = "request.awaiting_approval"
	EventTypeRejected             EventType = "request.rejected"
	EventTypeBooked               EventType = "request.booked"
	EventTypeNotified             EventType = "request.notified"
	EventTypeSkippedReplay        EventType = "request.skipped_replay"

	// Approval events
	EventTypeApprovalRequested EventType = "approval.requested"
	EventTypeApprovalApproved  EventType = "approval.approved"
	EventTypeApprovalRejected  EventType = "approval.rejected"

	// Task queue events
	EventTypeTaskEnqueued EventType = "task.enqueued"
	EventTypeTaskRetried  EventType = "task.retried"
	EventTypeTaskFailed   EventType = "task.failed"

	// System events
	EventTypeError   EventType = "error"
	EventTypeWarning EventType = "warning"
)

// EntityType identifies the type of entity an event relates to.
type EntityType string

const (
	EntityTypeRequest     EntityType = "request"
	EntityTypeApproval    EntityType = "approval"
	EntityTypeProcurement EntityType = "procurement"
	EntityTypeTask        EntityType = "task"
	EntityTypeSystem      EntityType = "system"
)

// Event represents an append-only audit log entry.
type Event struct {
	// ID is the unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// EntityType identifies what kind of entity this event relates to.
	EntityType EntityType `json:"entity_type"`

	// EntityID is the ID of the related entity.
	EntityID string `json:"entity_id"`

	// Payload contains event-specific data.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Metadata contains additional context (correlation id, step name).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ApprovalResolvedPayload is the payload for approval.approved and
// approval.rejected events.
type ApprovalResolvedPayload struct {
	Approver string `json:"approver"`
	Reason   string `json:"reason,omitempty"`
}

// BookedPayload is the payload for request.booked events.
type BookedPayload struct {
	BookingID   string `json:"booking_id"`
	Lab         string `json:"lab"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Provisional bool   `json:"provisional"`
}

// ErrorPayload is the payload for error events.
type ErrorPayload struct {
	Error   string `json:"error"`
	Context string `json:"context,omitempty"`
}
