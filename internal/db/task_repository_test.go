package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/schoolops/labflow/internal/models"
)

func TestTaskRepositoryEnqueueAndClaim(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(openTestDB(t))

	task := &models.Task{Kind: models.TaskKindRun, RequestID: "req-1"}
	if err := repo.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if task.ID == "" {
		t.Fatal("Enqueue did not set task ID")
	}

	claimed, err := repo.ClaimNext(ctx, time.Now())
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed.ID != task.ID {
		t.Fatalf("claimed wrong task: %s", claimed.ID)
	}
	if claimed.Status != models.TaskStatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed state: %+v", claimed)
	}

	// Nothing else is pending.
	if _, err := repo.ClaimNext(ctx, time.Now()); !errors.Is(err, ErrNoTaskReady) {
		t.Fatalf("expected ErrNoTaskReady, got %v", err)
	}
}

func TestTaskRepositoryClaimRespectsBackoff(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(openTestDB(t))

	task := &models.Task{
		Kind:          models.TaskKindRun,
		RequestID:     "req-2",
		NextAttemptAt: time.Now().Add(time.Hour),
	}
	if err := repo.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if _, err := repo.ClaimNext(ctx, time.Now()); !errors.Is(err, ErrNoTaskReady) {
		t.Fatalf("expected ErrNoTaskReady before backoff expires, got %v", err)
	}

	claimed, err := repo.ClaimNext(ctx, time.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ClaimNext after backoff: %v", err)
	}
	if claimed.RequestID != "req-2" {
		t.Fatalf("claimed wrong task: %+v", claimed)
	}
}

func TestTaskRepositoryRescheduleAndComplete(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(openTestDB(t))

	task := &models.Task{Kind: models.TaskKindResume, RequestID: "req-3"}
	if err := repo.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	claimed, err := repo.ClaimNext(ctx, time.Now())
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	retryAt := time.Now().Add(30 * time.Second)
	if err := repo.Reschedule(ctx, claimed.ID, retryAt, "calendar unreachable"); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}

	got, err := repo.Get(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.TaskStatusPending {
		t.Fatalf("expected pending after reschedule, got %s", got.Status)
	}
	if got.Error != "calendar unreachable" {
		t.Fatalf("unexpected error field: %q", got.Error)
	}

	claimed, err = repo.ClaimNext(ctx, retryAt.Add(time.Second))
	if err != nil {
		t.Fatalf("ClaimNext after reschedule: %v", err)
	}
	if claimed.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", claimed.Attempts)
	}

	if err := repo.MarkFailed(ctx, claimed.ID, "still unreachable"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	got, err = repo.Get(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.TaskStatusFailed || got.CompletedAt == nil {
		t.Fatalf("unexpected terminal state: %+v", got)
	}
}

func TestTaskRepositoryValidation(t *testing.T) {
	ctx := context.Background()
	repo := NewTaskRepository(openTestDB(t))

	err := repo.Enqueue(ctx, &models.Task{})
	if !errors.Is(err, models.ErrInvalidTask) {
		t.Fatalf("expected ErrInvalidTask, got %v", err)
	}
}
