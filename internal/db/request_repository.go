package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/schoolops/labflow/internal/models"
)

// Request repository errors.
var (
	ErrRequestNotFound = errors.New("lab request not found")

	// ErrStaleStep means a conditional last_step advance lost a race: the
	// stored step no longer matches what this invocation observed.
	ErrStaleStep = errors.New("last_step changed since read")
)

// RequestRepository handles lab request persistence.
type RequestRepository struct {
	db *DB
}

// NewRequestRepository creates a new RequestRepository.
func NewRequestRepository(db *DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a new lab request.
func (r *RequestRepository) Create(ctx context.Context, req *models.LabRequest) error {
	if req.ID == "" {
		return fmt.Errorf("request id is required")
	}
	if err := req.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	if req.Status == "" {
		req.Status = models.RequestStatusNew
	}

	materialsJSON, err := json.Marshal(req.Materials)
	if err != nil {
		return fmt.Errorf("failed to marshal materials: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO lab_requests (
			id, teacher_name, teacher_email, experiment_title, materials_json,
			preferred_date, preferred_lab, notes, status, last_step,
			correlation, warnings_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		req.ID,
		req.TeacherName,
		req.TeacherEmail,
		req.ExperimentTitle,
		string(materialsJSON),
		stringTimePtr(req.PreferredDate),
		nullableString(req.PreferredLab),
		nullableString(req.Notes),
		string(req.Status),
		nullableString(req.LastStep),
		nullableString(req.Correlation),
		marshalWarnings(req.Warnings),
		req.CreatedAt.Format(time.RFC3339),
		req.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert lab request: %w", err)
	}

	return nil
}

// Get retrieves a lab request by id.
func (r *RequestRepository) Get(ctx context.Context, id string) (*models.LabRequest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, teacher_name, teacher_email, experiment_title, materials_json,
			preferred_date, preferred_lab, notes, status, last_step,
			correlation, warnings_json, created_at, updated_at
		FROM lab_requests WHERE id = ?
	`, id)

	return r.scanRequest(row)
}

// Update merges the mutable fields of a request back into the store.
func (r *RequestRepository) Update(ctx context.Context, req *models.LabRequest) error {
	if req.ID == "" {
		return fmt.Errorf("request id is required")
	}

	req.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE lab_requests
		SET status = ?, last_step = ?, warnings_json = ?, updated_at = ?
		WHERE id = ?
	`,
		string(req.Status),
		nullableString(req.LastStep),
		marshalWarnings(req.Warnings),
		req.UpdatedAt.Format(time.RFC3339),
		req.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update lab request: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRequestNotFound
	}

	return nil
}

// UpdateStatus sets the status of a request without touching last_step.
func (r *RequestRepository) UpdateStatus(ctx context.Context, id string, status models.RequestStatus) error {
	if id == "" {
		return fmt.Errorf("request id is required")
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE lab_requests SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRequestNotFound
	}

	return nil
}

// AdvanceStep conditionally moves last_step from the step this invocation
// observed to the step just completed. The compare-and-swap closes the
// read-then-write race between two concurrent deliveries of the same task:
// the loser sees ErrStaleStep instead of silently re-running side effects.
func (r *RequestRepository) AdvanceStep(ctx context.Context, id, observedStep, newStep string) error {
	if id == "" {
		return fmt.Errorf("request id is required")
	}
	if newStep == "" {
		return fmt.Errorf("new step is required")
	}

	now := time.Now().UTC().Format(time.RFC3339)

	var result sql.Result
	var err error
	if observedStep == "" {
		result, err = r.db.ExecContext(ctx, `
			UPDATE lab_requests
			SET last_step = ?, updated_at = ?
			WHERE id = ? AND (last_step IS NULL OR last_step = '')
		`, newStep, now, id)
	} else {
		result, err = r.db.ExecContext(ctx, `
			UPDATE lab_requests
			SET last_step = ?, updated_at = ?
			WHERE id = ? AND last_step = ?
		`, newStep, now, id, observedStep)
	}
	if err != nil {
		return fmt.Errorf("failed to advance step: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Distinguish a missing request from a lost race.
		var exists int
		if scanErr := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lab_requests WHERE id = ?`, id).Scan(&exists); scanErr == nil && exists == 0 {
			return ErrRequestNotFound
		}
		return ErrStaleStep
	}

	return nil
}

func (r *RequestRepository) scanRequest(row *sql.Row) (*models.LabRequest, error) {
	var req models.LabRequest
	var materialsJSON, status, createdAt, updatedAt string
	var preferredDate, preferredLab, notes, lastStep, correlation, warningsJSON sql.NullString

	err := row.Scan(
		&req.ID,
		&req.TeacherName,
		&req.TeacherEmail,
		&req.ExperimentTitle,
		&materialsJSON,
		&preferredDate,
		&preferredLab,
		&notes,
		&status,
		&lastStep,
		&correlation,
		&warningsJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to scan lab request: %w", err)
	}

	req.Status = models.RequestStatus(status)

	if err := json.Unmarshal([]byte(materialsJSON), &req.Materials); err != nil {
		return nil, fmt.Errorf("failed to parse materials: %w", err)
	}

	if preferredDate.Valid && preferredDate.String != "" {
		parsed, err := time.Parse(time.RFC3339, preferredDate.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse preferred_date: %w", err)
		}
		req.PreferredDate = &parsed
	}
	if preferredLab.Valid {
		req.PreferredLab = preferredLab.String
	}
	if notes.Valid {
		req.Notes = notes.String
	}
	if lastStep.Valid {
		req.LastStep = lastStep.String
	}
	if correlation.Valid {
		req.Correlation = correlation.String
	}
	if warningsJSON.Valid && warningsJSON.String != "" {
		if err := json.Unmarshal([]byte(warningsJSON.String), &req.Warnings); err != nil {
			r.db.logger.Warn().Err(err).Str("request_id", req.ID).Msg("failed to parse warnings")
		}
	}

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		req.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		req.UpdatedAt = t
	}

	return &req, nil
}

func marshalWarnings(warnings []string) any {
	if len(warnings) == 0 {
		return nil
	}
	data, err := json.Marshal(warnings)
	if err != nil {
		return nil
	}
	return string(data)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func stringTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
