package db

import (
	"context"
	"testing"

	"github.com/schoolops/labflow/internal/models"
)

func TestHistoryRepositoryRecordStepUpserts(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepository(openTestDB(t))

	req := testRequest("req-1")

	if err := repo.RecordStep(ctx, req, models.StepIntake, nil); err != nil {
		t.Fatalf("RecordStep: %v", err)
	}
	// Re-recording the same step replaces the row instead of duplicating.
	if err := repo.RecordStep(ctx, req, models.StepIntake, map[string]string{"replay": "true"}); err != nil {
		t.Fatalf("RecordStep replay: %v", err)
	}
	if err := repo.RecordStep(ctx, req, models.StepInventoryOK, nil); err != nil {
		t.Fatalf("RecordStep second step: %v", err)
	}

	rows, err := repo.ListByRequest(ctx, "req-1")
	if err != nil {
		t.Fatalf("ListByRequest: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(rows))
	}

	count, err := repo.CountStep(ctx, "req-1", models.StepIntake)
	if err != nil {
		t.Fatalf("CountStep: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 INTAKE row, got %d", count)
	}
}

func TestHistoryRepositoryRequiresID(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepository(openTestDB(t))

	if err := repo.RecordStep(ctx, &models.LabRequest{}, models.StepIntake, nil); err == nil {
		t.Fatal("expected error for request without id")
	}
	if err := repo.RecordStep(ctx, testRequest("x"), "", nil); err == nil {
		t.Fatal("expected error for empty step")
	}
}
