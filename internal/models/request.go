// Package models defines the core data types for labflow.
package models

import (
	"fmt"
	"strings"
	"time"
)

// RequestStatus represents the lifecycle state of a lab request.
type RequestStatus string

const (
	RequestStatusNew                  RequestStatus = "NEW"
	RequestStatusIntake               RequestStatus = "INTAKE"
	RequestStatusInventoryOK          RequestStatus = "INVENTORY_OK"
	RequestStatusInventoryMissing     RequestStatus = "INVENTORY_MISSING"
	RequestStatusProcurementRequested RequestStatus = "PROCUREMENT_REQUESTED"
	RequestStatusAwaitingApproval     RequestStatus = "AWAITING_APPROVAL"
	RequestStatusApproved             RequestStatus = "APPROVED"
	RequestStatusRejected             RequestStatus = "REJECTED"
	RequestStatusScheduled            RequestStatus = "SCHEDULED"
	RequestStatusNotified             RequestStatus = "NOTIFIED"
)

// IsTerminal reports whether no further pipeline step may run.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusRejected || s == RequestStatusNotified
}

// Step names recorded in last_step. They match the status reached when the
// step completed, so a re-delivered invocation can tell how far the request
// progressed.
const (
	StepIntake               = "INTAKE"
	StepInventoryOK          = "INVENTORY_OK"
	StepProcurementRequested = "PROCUREMENT_REQUESTED"
	StepAwaitingApproval     = "AWAITING_APPROVAL"
	StepRejected             = "REJECTED"
	StepScheduled            = "SCHEDULED"
	StepNotified             = "NOTIFIED"
)

// LabRequest is the aggregate driven through the orchestration pipeline.
type LabRequest struct {
	// ID is the unique identifier, assigned at intake and immutable.
	ID string `json:"id"`

	// TeacherName is the requesting teacher's display name.
	TeacherName string `json:"teacher_name"`

	// TeacherEmail is where status notifications are sent.
	TeacherEmail string `json:"teacher_email"`

	// ExperimentTitle describes the experiment.
	ExperimentTitle string `json:"experiment_title"`

	// Materials is the normalized material list (trimmed, deduplicated,
	// first-occurrence order).
	Materials []string `json:"materials"`

	// PreferredDate is the requested start time, if any.
	PreferredDate *time.Time `json:"preferred_date,omitempty"`

	// PreferredLab is the requested lab label, if any.
	PreferredLab string `json:"preferred_lab,omitempty"`

	// Notes holds free-form teacher notes.
	Notes string `json:"notes,omitempty"`

	// Status is the current pipeline state. Mutated only by the pipeline
	// and the approval-callback handler.
	Status RequestStatus `json:"status"`

	// LastStep is the last successfully completed pipeline step, used for
	// idempotent resume.
	LastStep string `json:"last_step,omitempty"`

	// Correlation is threaded through all side-effecting calls for
	// tracing. Defaults to ID when the caller supplies none.
	Correlation string `json:"correlation,omitempty"`

	// Warnings records degraded-but-tolerated outcomes (fail-open
	// inventory, provisional booking). Operator-facing only.
	Warnings []string `json:"warnings,omitempty"`

	// CreatedAt is when the request was accepted at intake.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the request was last persisted.
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the intake-required fields.
func (r *LabRequest) Validate() error {
	if strings.TrimSpace(r.TeacherName) == "" {
		return fmt.Errorf("teacher_name is required")
	}
	if strings.TrimSpace(r.TeacherEmail) == "" {
		return fmt.Errorf("teacher_email is required")
	}
	if strings.TrimSpace(r.ExperimentTitle) == "" {
		return fmt.Errorf("experiment_title is required")
	}
	return nil
}

// CorrelationID returns the explicit correlation id, falling back to the
// request id.
func (r *LabRequest) CorrelationID() string {
	if r.Correlation != "" {
		return r.Correlation
	}
	return r.ID
}

// AddWarning appends an operator-facing warning marker.
func (r *LabRequest) AddWarning(warning string) {
	if warning == "" {
		return
	}
	r.Warnings = append(r.Warnings, warning)
}

// NormalizeMaterials trims entries, drops empties, and removes
// case-insensitive duplicates while preserving first-occurrence order.
func NormalizeMaterials(materials []string) []string {
	seen := make(map[string]bool, len(materials))
	normalized := make([]string, 0, len(materials))
	for _, material := range materials {
		trimmed := strings.TrimSpace(material)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if seen[key] {
			continue
		}
		seen[key] = true
		normalized = append(normalized, trimmed)
	}
	return normalized
}

/// MaterialsKey returns the cache key for a material set: the normalized
// list lowercased and joined in order, so case variants of the same set
// share an entry.
func MaterialsKey(materials []string) string {
	return strings.ToLower(strings.Join(NormalizeMaterials(materials), "|"))
}
