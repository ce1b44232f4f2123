// Package queue runs pipeline work from the durable task table. Delivery
// is at-least-once: a task that fails or is interrupted comes back, and the
// pipeline's replay guard keeps re-execution harmless.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/schoolops/labflow/internal/db"
	"github.com/schoolops/labflow/internal/logging"
	"github.com/schoolops/labflow/internal/metrics"
	"github.com/schoolops/labflow/internal/models"
)

// Runner executes one pipeline invocation per task.
type Runner interface {
	Run(ctx context.Context, requestID string) (*models.LabRequest, error)
	Resume(ctx context.Context, requestID string, decision models.Decision) (*models.LabRequest, error)
}

// AuditStore appends task lifecycle events.
type AuditStore interface {
	Append(ctx context.Context, event *models.Event) error
}

// Config holds worker settings.
type Config struct {
	// PollInterval is how often the worker checks for due tasks when
	// idle. Zero means 1s.
	PollInterval time.Duration

	// MaxAttempts bounds executions per task before it is marked failed.
	// Zero means 5.
	MaxAttempts int

	// RetryBaseDelay is the backoff after the first failure; it doubles
	// per attempt. Zero means 5s.
	RetryBaseDelay time.Duration
}

// DefaultConfig returns the stock worker settings.
func DefaultConfig() Config {
	return Config{
		PollInterval:   time.Second,
		MaxAttempts:    5,
		RetryBaseDelay: 5 * time.Second,
	}
}

// Queue enqueues pipeline tasks and hosts the worker loop that drains them.
type Queue struct {
	tasks   *db.TaskRepository
	runner  Runner
	audit   AuditStore
	config  Config
	metrics *metrics.Metrics
	logger  zerolog.Logger

	// now is replaceable for tests.
	now func() time.Time
}

// New creates a queue over the task repository.
func New(tasks *db.TaskRepository, runner Runner, audit AuditStore, config Config, m *metrics.Metrics) *Queue {
	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = defaults.RetryBaseDelay
	}
	return &Queue{
		tasks:   tasks,
		runner:  runner,
		audit:   audit,
		config:  config,
		metrics: m,
		logger:  logging.Component("queue"),
		now:     time.Now,
	}
}

// EnqueueRun schedules a full pipeline run for a request.
func (q *Queue) EnqueueRun(ctx context.Context, requestID string) (*models.Task, error) {
	task := &models.Task{Kind: models.TaskKindRun, RequestID: requestID}
	if err := q.tasks.Enqueue(ctx, task); err != nil {
		return nil, err
	}
	q.auditTask(ctx, task, models.EventTypeTaskEnqueued)
	return task, nil
}

// EnqueueResume schedules a resume past AWAITING_APPROVAL.
func (q *Queue) EnqueueResume(ctx context.Context, requestID string, decision models.Decision) (*models.Task, error) {
	payload, err := json.Marshal(models.ResumePayload{
		Approved: decision.Approved,
		Approver: decision.Approver,
		Reason:   decision.Reason,
	})
	if err != nil {
		return nil, fmt.Errorf("encode resume payload: %w", err)
	}

	task := &models.Task{Kind: models.TaskKindResume, RequestID: requestID, Payload: payload}
	if err := q.tasks.Enqueue(ctx, task); err != nil {
		return nil, err
	}
	q.auditTask(ctx, task, models.EventTypeTaskEnqueued)
	return task, nil
}

// Start runs the worker loop until ctx is cancelled. It drains all due
// tasks, then sleeps for the poll interval.
func (q *Queue) Start(ctx context.Context) {
	q.logger.Info().Dur("poll_interval", q.config.PollInterval).Msg("task worker started")
	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		for q.ProcessOne(ctx) {
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			q.logger.Info().Msg("task worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// ProcessOne claims and executes a single due task. Returns false when no
// task was ready.
func (q *Queue) ProcessOne(ctx context.Context) bool {
	task, err := q.tasks.ClaimNext(ctx, q.now())
	if err != nil {
		if !errors.Is(err, db.ErrNoTaskReady) {
			q.logger.Error().Err(err).Msg("claim failed")
		}
		return false
	}

	logger := logging.WithRequest(task.RequestID).With().Str("task_id", task.ID).Str("kind", string(task.Kind)).Logger()
	ctx = logging.WithContext(ctx, logger)

	if execErr := q.execute(ctx, task); execErr != nil {
		q.handleFailure(ctx, task, execErr, logger)
		return true
	}

	if err := q.tasks.MarkDone(ctx, task.ID); err != nil {
		logger.Error().Err(err).Msg("mark done failed")
	}
	q.metrics.ObserveTask(string(task.Kind), "done")
	logger.Debug().Msg("task done")
	return true
}

func (q *Queue) execute(ctx context.Context, task *models.Task) error {
	switch task.Kind {
	case models.TaskKindRun:
		_, err := q.runner.Run(ctx, task.RequestID)
		return err
	case models.TaskKindResume:
		payload, err := task.GetResumePayload()
		if err != nil {
			return fmt.Errorf("resume payload: %w", err)
		}
		_, err = q.runner.Resume(ctx, task.RequestID, models.Decision{
			Approved: payload.Approved,
			Approver: payload.Approver,
			Reason:   payload.Reason,
		})
		return err
	default:
		return fmt.Errorf("%w: unknown kind %q", models.ErrInvalidTask, task.Kind)
	}
}

func (q *Queue) handleFailure(ctx context.Context, task *models.Task, execErr error, logger zerolog.Logger) {
	if task.Attempts >= q.config.MaxAttempts {
		if err := q.tasks.MarkFailed(ctx, task.ID, execErr.Error()); err != nil {
			logger.Error().Err(err).Msg("mark failed failed")
		}
		q.auditTask(ctx, task, models.EventTypeTaskFailed)
		q.metrics.ObserveTask(string(task.Kind), "failed")
		logger.Error().Err(execErr).Int("attempts", task.Attempts).Msg("task failed permanently")
		return
	}

	delay := q.config.RetryBaseDelay << (task.Attempts - 1)
	if err := q.tasks.Reschedule(ctx, task.ID, q.now().Add(delay), execErr.Error()); err != nil {
		logger.Error().Err(err).Msg("reschedule failed")
	}
	q.auditTask(ctx, task, models.EventTypeTaskRetried)
	q.metrics.ObserveTaskRetry()
	logger.Warn().Err(execErr).Int("attempts", task.Attempts).Dur("retry_in", delay).Msg("task rescheduled")
}

func (q *Queue) auditTask(ctx context.Context, task *models.Task, eventType models.EventType) {
	if q.audit == nil {
		return
	}
	event := &models.Event{
		Type:       eventType,
		EntityType: models.EntityTypeTask,
		EntityID:   task.ID,
		Metadata: map[string]string{
			"kind":       string(task.Kind),
			"request_id": task.RequestID,
		},
	}
	if err := q.audit.Append(ctx, event); err != nil {
		q.logger.Warn().Err(err).Str("task_id", task.ID).Msg("task audit write failed")
	}
}
