package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/schoolops/labflow/internal/db"
	"github.com/schoolops/labflow/internal/models"
)

type fakeRunner struct {
	runErr    error
	runs      []string
	resumes   []models.Decision
	resumeIDs []string
}

func (f *fakeRunner) Run(_ context.Context, requestID string) (*models.LabRequest, error) {
	f.runs = append(f.runs, requestID)
	return &models.LabRequest{ID: requestID}, f.runErr
}

func (f *fakeRunner) Resume(_ context.Context, requestID string, decision models.Decision) (*models.LabRequest, error) {
	f.resumeIDs = append(f.resumeIDs, requestID)
	f.resumes = append(f.resumes, decision)
	return &models.LabRequest{ID: requestID}, nil
}

func newTestQueue(t *testing.T, runner Runner, config Config) (*Queue, *db.TaskRepository) {
	t.Helper()

	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if _, err := database.MigrateUp(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	tasks := db.NewTaskRepository(database)
	return New(tasks, runner, nil, config, nil), tasks
}

func TestQueueProcessesRunTask(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{}
	q, tasks := newTestQueue(t, runner, Config{})

	task, err := q.EnqueueRun(ctx, "req-1")
	if err != nil {
		t.Fatalf("EnqueueRun: %v", err)
	}

	if !q.ProcessOne(ctx) {
		t.Fatal("expected a task to be processed")
	}
	if len(runner.runs) != 1 || runner.runs[0] != "req-1" {
		t.Fatalf("runs = %v", runner.runs)
	}

	got, err := tasks.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.TaskStatusDone {
		t.Fatalf("status = %s, want done", got.Status)
	}

	// Queue drained.
	if q.ProcessOne(ctx) {
		t.Fatal("expected no further tasks")
	}
}

func TestQueueResumeTaskCarriesDecision(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{}
	q, _ := newTestQueue(t, runner, Config{})

	decision := models.Decision{Approved: true, Approver: "head@school.za", Reason: "ok"}
	if _, err := q.EnqueueResume(ctx, "req-2", decision); err != nil {
		t.Fatalf("EnqueueResume: %v", err)
	}

	if !q.ProcessOne(ctx) {
		t.Fatal("expected a task to be processed")
	}
	if len(runner.resumes) != 1 {
		t.Fatalf("resumes = %v", runner.resumes)
	}
	if runner.resumes[0] != decision {
		t.Fatalf("decision = %+v, want %+v", runner.resumes[0], decision)
	}
	if runner.resumeIDs[0] != "req-2" {
		t.Fatalf("resumed %s", runner.resumeIDs[0])
	}
}

func TestQueueRetriesWithBackoffThenFails(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{runErr: errors.New("calendar unreachable")}
	q, tasks := newTestQueue(t, runner, Config{MaxAttempts: 2, RetryBaseDelay: time.Minute})

	// The frozen clock must sit after Enqueue's real-clock timestamp or
	// the task is never due.
	current := time.Date(2036, 3, 2, 8, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return current }

	task, err := q.EnqueueRun(ctx, "req-3")
	if err != nil {
		t.Fatalf("EnqueueRun: %v", err)
	}

	// First attempt fails and reschedules with backoff.
	if !q.ProcessOne(ctx) {
		t.Fatal("expected first attempt")
	}
	got, _ := tasks.Get(ctx, task.ID)
	if got.Status != models.TaskStatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if !got.NextAttemptAt.After(current) {
		t.Fatalf("no backoff applied: %v", got.NextAttemptAt)
	}

	// Not due yet.
	if q.ProcessOne(ctx) {
		t.Fatal("task ran before its backoff expired")
	}

	// Second attempt exhausts MaxAttempts and fails permanently.
	current = current.Add(2 * time.Minute)
	if !q.ProcessOne(ctx) {
		t.Fatal("expected second attempt")
	}
	got, _ = tasks.Get(ctx, task.ID)
	if got.Status != models.TaskStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Error == "" {
		t.Fatal("error not recorded")
	}
	if len(runner.runs) != 2 {
		t.Fatalf("runner invoked %d times, want 2", len(runner.runs))
	}
}
