package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/schoolops/labflow/internal/models"
)

// ProcurementRepository handles procurement record persistence.
type ProcurementRepository struct {
	db *DB
}

// NewProcurementRepository creates a new ProcurementRepository.
func NewProcurementRepository(db *DB) *ProcurementRepository {
	return &ProcurementRepository{db: db}
}

// Create adds a new procurement record.
func (r *ProcurementRepository) Create(ctx context.Context, proc *models.Procurement) error {
	if proc.RequestID == "" {
		return fmt.Errorf("procurement request id is required")
	}

	if proc.ID == "" {
		proc.ID = uuid.New().String()
	}
	proc.CreatedAt = time.Now().UTC()
	if proc.Status == "" {
		proc.Status = models.ProcurementStatusOpen
	}

	missingJSON, err := json.Marshal(proc.Missing)
	if err != nil {
		return fmt.Errorf("failed to marshal missing items: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO procurements (id, request_id, missing_json, status, correlation, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		proc.ID,
		proc.RequestID,
		string(missingJSON),
		string(proc.Status),
		nullableString(proc.Correlation),
		proc.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert procurement: %w", err)
	}

	return nil
}

// ListByRequest lists procurement records for a request.
func (r *ProcurementRepository) ListByRequest(ctx context.Context, requestID string) ([]*models.Procurement, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, request_id, missing_json, status, correlation, created_at
		FROM procurements
		WHERE request_id = ?
		ORDER BY created_at
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query procurements: %w", err)
	}
	defer rows.Close()

	var procurements []*models.Procurement
	for rows.Next() {
		proc, err := scanProcurement(rows)
		if err != nil {
			return nil, err
		}
		procurements = append(procurements, proc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating procurements: %w", err)
	}

	return procurements, nil
}

func scanProcurement(rows *sql.Rows) (*models.Procurement, error) {
	var proc models.Procurement
	var missingJSON, status, createdAt string
	var correlation sql.NullString

	if err := rows.Scan(
		&proc.ID,
		&proc.RequestID,
		&missingJSON,
		&status,
		&correlation,
		&createdAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan procurement: %w", err)
	}

	proc.Status = models.ProcurementStatus(status)
	if err := json.Unmarshal([]byte(missingJSON), &proc.Missing); err != nil {
		return nil, fmt.Errorf("failed to parse missing items: %w", err)
	}
	if correlation.Valid {
		proc.Correlation = correlation.String
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		proc.CreatedAt = t
	}

	return &proc, nil
}
