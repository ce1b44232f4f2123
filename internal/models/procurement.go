package models

import "time"

// ProcurementStatus represents the state of a procurement record.
type ProcurementStatus string

const (
	ProcurementStatusOpen   ProcurementStatus = "OPEN"
	ProcurementStatusClosed ProcurementStatus = "CLOSED"
)

// Procurement records a request to purchase missing materials.
type Procurement struct {
	// ID is the procurement record id. Synthetic ("proc-" prefixed) when
	// persistence was unavailable and the requester degraded locally.
	ID string `json:"id"`

	// RequestID references the originating lab request.
	RequestID string `json:"request_id"`

	// Missing lists the materials to procure.
	Missing []string `json:"missing"`

	// Status is the procurement state.
	Status ProcurementStatus `json:"status"`

	// Warning is set when the record could not be durably persisted.
	Warning string `json:"warning,omitempty"`

	// Correlation is the tracing id threaded from the request.
	Correlation string `json:"correlation,omitempty"`

	// CreatedAt is when the procurement was opened.
	CreatedAt time.Time `json:"created_at"`
}

// EmailLog records a transactional email send for delivery audit.
type EmailLog struct {
	// ID is the unique identifier for the log entry.
	ID string `json:"id"`

	// To is the recipient address.
	To string `json:"to"`

	// Subject is the message subject.
	Subject string `json:"subject"`

	// Template names the template used, if any.
	Template string `json:"template,omitempty"`

	// Correlation is the tracing id threaded from the request.
	Correlation string `json:"correlation,omitempty"`

	// Result describes the delivery outcome ("sent" or the failure).
	Result string `json:"result,omitempty"`

	// CreatedAt is when the send was attempted.
	CreatedAt time.Time `json:"created_at"`
}
