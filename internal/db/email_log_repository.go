package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/schoolops/labflow/internal/models"
)

// EmailLogRepository persists transactional email send records.
type EmailLogRepository struct {
	db *DB
}

// NewEmailLogRepository creates a new EmailLogRepository.
func NewEmailLogRepository(db *DB) *EmailLogRepository {
	return &EmailLogRepository{db: db}
}

// Create adds a new email log entry.
func (r *EmailLogRepository) Create(ctx context.Context, entry *models.EmailLog) error {
	if entry.To == "" {
		return fmt.Errorf("email log recipient is required")
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_logs (id, recipient, subject, template, correlation, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.To,
		nullableString(entry.Subject),
		nullableString(entry.Template),
		nullableString(entry.Correlation),
		nullableString(entry.Result),
		entry.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert email log: %w", err)
	}

	return nil
}

// ListByCorrelation lists email log entries for a correlation id.
func (r *EmailLogRepository) ListByCorrelation(ctx context.Context, correlation string) ([]*models.EmailLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, recipient, subject, template, correlation, result, created_at
		FROM email_logs
		WHERE correlation = ?
		ORDER BY created_at
	`, correlation)
	if err != nil {
		return nil, fmt.Errorf("failed to query email logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.EmailLog
	for rows.Next() {
		var entry models.EmailLog
		var subject, template, corr, result sql.NullString
		var createdAt string

		if err := rows.Scan(
			&entry.ID,
			&entry.To,
			&subject,
			&template,
			&corr,
			&result,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan email log: %w", err)
		}

		if subject.Valid {
			entry.Subject = subject.String
		}
		if template.Valid {
			entry.Template = template.String
		}
		if corr.Valid {
			entry.Correlation = corr.String
		}
		if result.Valid {
			entry.Result = result.String
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			entry.CreatedAt = t
		}

		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating email logs: %w", err)
	}

	return entries, nil
}
