package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/schoolops/labflow/internal/models"
)

// HistoryRepository persists per-step snapshots of a request. Rows are
// keyed by request id and step, so replaying a step overwrites its row
// instead of duplicating it.
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// HistoryRow is one recorded step transition.
type HistoryRow struct {
	ID        string          `json:"id"`
	RequestID string          `json:"request_id"`
	Step      string          `json:"step"`
	Snapshot  json.RawMessage `json:"snapshot,omitempty"`
	Extra     json.RawMessage `json:"extra,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RecordStep upserts the history row for a request at the given step.
func (r *HistoryRepository) RecordStep(ctx context.Context, req *models.LabRequest, step string, extra any) error {
	if req == nil || req.ID == "" {
		return fmt.Errorf("request with id is required")
	}
	if step == "" {
		return fmt.Errorf("step is required")
	}

	snapshot, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request snapshot: %w", err)
	}

	var extraJSON any
	if extra != nil {
		data, err := json.Marshal(extra)
		if err != nil {
			return fmt.Errorf("failed to marshal extra: %w", err)
		}
		extraJSON = string(data)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO lab_request_history (id, request_id, step, snapshot_json, extra_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			snapshot_json = excluded.snapshot_json,
			extra_json = excluded.extra_json,
			updated_at = excluded.updated_at
	`,
		req.ID+":"+step,
		req.ID,
		step,
		string(snapshot),
		extraJSON,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to record history step: %w", err)
	}

	return nil
}

// ListByRequest returns all recorded steps for a request in write order.
func (r *HistoryRepository) ListByRequest(ctx context.Context, requestID string) ([]*HistoryRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, request_id, step, snapshot_json, extra_json, updated_at
		FROM lab_request_history
		WHERE request_id = ?
		ORDER BY updated_at, id
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var result []*HistoryRow
	for rows.Next() {
		row, err := scanHistoryRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return result, nil
}

// CountStep returns how many history rows exist for a request at a step.
func (r *HistoryRepository) CountStep(ctx context.Context, requestID, step string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM lab_request_history WHERE request_id = ? AND step = ?
	`, requestID, step).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count history step: %w", err)
	}
	return count, nil
}

func scanHistoryRow(rows *sql.Rows) (*HistoryRow, error) {
	var row HistoryRow
	var snapshot, extra sql.NullString
	var updatedAt string

	if err := rows.Scan(
		&row.ID,
		&row.RequestID,
		&row.Step,
		&snapshot,
		&extra,
		&updatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan history row: %w", err)
	}

	if snapshot.Valid && snapshot.String != "" {
		row.Snapshot = json.RawMessage(snapshot.String)
	}
	if extra.Valid && extra.String != "" {
		row.Extra = json.RawMessage(extra.String)
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		row.UpdatedAt = t
	}

	return &row, nil
}
