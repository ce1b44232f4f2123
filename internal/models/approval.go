package models

import "time"

// ApprovalStatus represents the lifecycle state of an approval record.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// Approval captures a pending or resolved approval for a lab request.
type Approval struct {
	// ID is the unique identifier for the approval record.
	ID string `json:"id"`

	// RequestID references the lab request awaiting a decision.
	RequestID string `json:"request_id"`

	// Status is the current approval status.
	Status ApprovalStatus `json:"status"`

	// Approvers lists the people asked to decide.
	Approvers []string `json:"approvers,omitempty"`

	// Approver is who resolved the approval, once resolved.
	Approver string `json:"approver,omitempty"`

	// Reason carries the decision rationale, if any.
	Reason string `json:"reason,omitempty"`

	// Correlation is the tracing id threaded from the request.
	Correlation string `json:"correlation,omitempty"`

	// CreatedAt is when the approval was requested.
	CreatedAt time.Time `json:"created_at"`

	// ResolvedAt is when the approval was resolved.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// ReasonAwaitingExternalApproval is the sentinel reason meaning "no decision
// yet": the pipeline must suspend and wait for an external callback.
const ReasonAwaitingExternalApproval = "awaiting_external_approval"

// Decision is the outcome of routing a request through approval policy.
type Decision struct {
	// Approved reports whether the request may proceed to scheduling.
	Approved bool `json:"approved"`

	// Approver identifies who (or which policy) decided.
	Approver string `json:"approver,omitempty"`

	// Reason explains the decision. ReasonAwaitingExternalApproval means
	// the decision is still pending, not a rejection.
	Reason string `json:"reason,omitempty"`
}

// Awaiting reports whether the decision signals suspension rather than a
// rejection.
func (d Decision) Awaiting() bool {
	return !d.Approved && d.Reason == ReasonAwaitingExternalApproval
}
