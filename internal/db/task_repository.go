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

// Task repository errors.
var (
	ErrTaskNotFound = errors.New("task not found")

	// ErrNoTaskReady means no pending task is due yet.
	ErrNoTaskReady = errors.New("no task ready")
)

// TaskRepository handles durable task queue persistence.
type TaskRepository struct {
	db *DB
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(db *DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Enqueue adds a new pending task.
func (r *TaskRepository) Enqueue(ctx context.Context, task *models.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	task.CreatedAt = now
	task.Status = models.TaskStatusPending
	if task.NextAttemptAt.IsZero() {
		task.NextAttemptAt = now
	}

	var payloadJSON any
	if len(task.Payload) > 0 {
		payloadJSON = string(task.Payload)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, kind, request_id, payload_json, status,
			attempts, next_attempt_at, created_at, completed_at, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)
	`,
		task.ID,
		string(task.Kind),
		task.RequestID,
		payloadJSON,
		string(task.Status),
		task.Attempts,
		task.NextAttemptAt.UTC().Format(time.RFC3339),
		task.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}

	return nil
}

// ClaimNext atomically claims the oldest due pending task, marking it
// running. Returns ErrNoTaskReady when nothing is due.
func (r *TaskRepository) ClaimNext(ctx context.Context, now time.Time) (*models.Task, error) {
	var task *models.Task

	err := r.db.TransactionWithRetry(ctx, 0, 0, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, kind, request_id, payload_json, status, attempts,
				next_attempt_at, created_at, completed_at, error
			FROM tasks
			WHERE status = 'pending' AND next_attempt_at <= ?
			ORDER BY next_attempt_at, created_at
			LIMIT 1
		`, now.UTC().Format(time.RFC3339))

		claimed, err := scanTask(row)
		if err != nil {
			if errors.Is(err, ErrTaskNotFound) {
				return ErrNoTaskReady
			}
			return err
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = 'running', attempts = attempts + 1
			WHERE id = ? AND status = 'pending'
		`, claimed.ID)
		if err != nil {
			return fmt.Errorf("failed to claim task: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrNoTaskReady
		}

		claimed.Status = models.TaskStatusRunning
		claimed.Attempts++
		task = claimed
		return nil
	})
	if err != nil {
		return nil, err
	}

	return task, nil
}

// MarkDone records successful completion of a task.
func (r *TaskRepository) MarkDone(ctx context.Context, id string) error {
	return r.complete(ctx, id, models.TaskStatusDone, "")
}

// MarkFailed records permanent failure of a task.
func (r *TaskRepository) MarkFailed(ctx context.Context, id string, taskErr string) error {
	return r.complete(ctx, id, models.TaskStatusFailed, taskErr)
}

func (r *TaskRepository) complete(ctx context.Context, id string, status models.TaskStatus, taskErr string) error {
	if id == "" {
		return fmt.Errorf("task id is required")
	}

	now := time.Now().UTC().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, completed_at = ?, error = ? WHERE id = ?
	`, string(status), now, nullableString(taskErr), id)
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTaskNotFound
	}

	return nil
}

// Reschedule puts a running task back to pending with a later attempt time.
func (r *TaskRepository) Reschedule(ctx context.Context, id string, nextAttemptAt time.Time, taskErr string) error {
	if id == "" {
		return fmt.Errorf("task id is required")
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'pending', next_attempt_at = ?, error = ? WHERE id = ?
	`, nextAttemptAt.UTC().Format(time.RFC3339), nullableString(taskErr), id)
	if err != nil {
		return fmt.Errorf("failed to reschedule task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTaskNotFound
	}

	return nil
}

// Get retrieves a task by id.
func (r *TaskRepository) Get(ctx context.Context, id string) (*models.Task, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, kind, request_id, payload_json, status, attempts,
			next_attempt_at, created_at, completed_at, error
		FROM tasks WHERE id = ?
	`, id)

	return scanTask(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var task models.Task
	var kind, status, nextAttemptAt, createdAt string
	var payloadJSON, completedAt, taskErr sql.NullString

	err := row.Scan(
		&task.ID,
		&kind,
		&task.RequestID,
		&payloadJSON,
		&status,
		&task.Attempts,
		&nextAttemptAt,
		&createdAt,
		&completedAt,
		&taskErr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	task.Kind = models.TaskKind(kind)
	task.Status = models.TaskStatus(status)

	if payloadJSON.Valid && payloadJSON.String != "" {
		task.Payload = json.RawMessage(payloadJSON.String)
	}
	if t, err := time.Parse(time.RFC3339, nextAttemptAt); err == nil {
		task.NextAttemptAt = t
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		task.CreatedAt = t
	}
	if completedAt.Valid && completedAt.String != "" {
		if t, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
			task.CompletedAt = &t
		}
	}
	if taskErr.Valid {
		task.Error = taskErr.String
	}

	return &task, nil
}
