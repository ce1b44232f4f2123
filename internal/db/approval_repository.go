package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/schoolops/labflow/internal/models"
)

// Approval repository errors.
var (
	ErrApprovalNotFound = errors.New("approval not found")
)

// ApprovalRepository handles approval record persistence.
type ApprovalRepository struct {
	db *DB
}

// NewApprovalRepository creates a new ApprovalRepository.
func NewApprovalRepository(db *DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// Create adds a new approval record.
func (r *ApprovalRepository) Create(ctx context.Context, approval *models.Approval) error {
	if approval.RequestID == "" {
		return fmt.Errorf("approval request id is required")
	}

	if approval.ID == "" {
		approval.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	approval.CreatedAt = now
	if approval.Status == "" {
		approval.Status = models.ApprovalStatusPending
	}

	var approversJSON any
	if len(approval.Approvers) > 0 {
		data, err := json.Marshal(approval.Approvers)
		if err != nil {
			return fmt.Errorf("failed to marshal approvers: %w", err)
		}
		approversJSON = string(data)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO approvals (
			id, request_id, status, approvers_json, approver,
			reason, correlation, created_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		approval.ID,
		approval.RequestID,
		string(approval.Status),
		approversJSON,
		nullableString(approval.Approver),
		nullableString(approval.Reason),
		nullableString(approval.Correlation),
		approval.CreatedAt.Format(time.RFC3339),
		stringTimePtr(approval.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert approval: %w", err)
	}

	return nil
}

// ListPendingByRequest lists pending approvals for a single request.
func (r *ApprovalRepository) ListPendingByRequest(ctx context.Context, requestID string) ([]*models.Approval, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id, request_id, status, approvers_json, approver,
			reason, correlation, created_at, resolved_at
		FROM approvals
		WHERE request_id = ? AND status = 'pending'
		ORDER BY created_at
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}
	defer rows.Close()

	return r.scanApprovals(rows)
}

// Resolve marks every pending approval for a request as approved or
// rejected and records who decided.
func (r *ApprovalRepository) Resolve(ctx context.Context, requestID string, status models.ApprovalStatus, approver, reason string) error {
	if requestID == "" {
		return fmt.Errorf("approval request id is required")
	}
	if status != models.ApprovalStatusApproved && status != models.ApprovalStatusRejected {
		return fmt.Errorf("approval resolution must be approved or rejected")
	}

	now := time.Now().UTC().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx, `
		UPDATE approvals
		SET status = ?, approver = ?, reason = ?, resolved_at = ?
		WHERE request_id = ? AND status = 'pending'
	`, string(status), approver, nullableString(reason), now, requestID)
	if err != nil {
		return fmt.Errorf("failed to resolve approval: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrApprovalNotFound
	}

	return nil
}

func (r *ApprovalRepository) scanApprovals(rows *sql.Rows) ([]*models.Approval, error) {
	var approvals []*models.Approval
	for rows.Next() {
		approval, err := r.scanApprovalFromRows(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, approval)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating approvals: %w", err)
	}
	return approvals, nil
}

func (r *ApprovalRepository) scanApprovalFromRows(rows *sql.Rows) (*models.Approval, error) {
	var approval models.Approval
	var status, createdAt string
	var approversJSON, approver, reason, correlation, resolvedAt sql.NullString

	if err := rows.Scan(
		&approval.ID,
		&approval.RequestID,
		&status,
		&approversJSON,
		&approver,
		&reason,
		&correlation,
		&createdAt,
		&resolvedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan approval: %w", err)
	}

	approval.Status = models.ApprovalStatus(status)

	if approversJSON.Valid && approversJSON.String != "" {
		if err := json.Unmarshal([]byte(approversJSON.String), &approval.Approvers); err != nil {
			return nil, fmt.Errorf("failed to parse approvers: %w", err)
		}
	}
	if approver.Valid {
		approval.Approver = approver.String
	}
	if reason.Valid {
		approval.Reason = reason.String
	}
	if correlation.Valid {
		approval.Correlation = correlation.String
	}

	createdParsed, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	approval.CreatedAt = createdParsed

	if resolvedAt.Valid && resolvedAt.String != "" {
		parsed, err := time.Parse(time.RFC3339, resolvedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse resolved_at: %w", err)
		}
		approval.ResolvedAt = &parsed
	}

	return &approval, nil
}
