package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/schoolops/labflow/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if _, err := database.MigrateUp(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return database
}

func testRequest(id string) *models.LabRequest {
	return &models.LabRequest{
		ID:              id,
		TeacherName:     "N. Dlamini",
		TeacherEmail:    "ndlamini@school.za",
		ExperimentTitle: "Acid-base titration",
		Materials:       []string{"NaCl", "HCl"},
		Status:          models.RequestStatusNew,
	}
}

func TestRequestRepositoryCreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewRequestRepository(openTestDB(t))

	preferred := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	req := testRequest("req-1")
	req.PreferredDate = &preferred
	req.PreferredLab = "Lab B"
	req.Correlation = "corr-1"

	if err := repo.Create(ctx, req); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.Get(ctx, "req-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TeacherEmail != req.TeacherEmail || got.ExperimentTitle != req.ExperimentTitle {
		t.Fatalf("unexpected request fields: %+v", got)
	}
	if len(got.Materials) != 2 || got.Materials[0] != "NaCl" {
		t.Fatalf("unexpected materials: %v", got.Materials)
	}
	if got.PreferredDate == nil || !got.PreferredDate.Equal(preferred) {
		t.Fatalf("unexpected preferred date: %v", got.PreferredDate)
	}
	if got.Status != models.RequestStatusNew {
		t.Fatalf("unexpected status: %s", got.Status)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestRequestRepositoryUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewRequestRepository(openTestDB(t))

	req := testRequest("req-2")
	if err := repo.Create(ctx, req); err != nil {
		t.Fatalf("Create: %v", err)
	}

	req.Status = models.RequestStatusInventoryOK
	req.LastStep = models.StepInventoryOK
	req.AddWarning("inventory_check_failed")

	if err := repo.Update(ctx, req); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := repo.Get(ctx, "req-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.RequestStatusInventoryOK || got.LastStep != models.StepInventoryOK {
		t.Fatalf("update not persisted: %+v", got)
	}
	if len(got.Warnings) != 1 || got.Warnings[0] != "inventory_check_failed" {
		t.Fatalf("warnings not persisted: %v", got.Warnings)
	}
}

func TestRequestRepositoryAdvanceStep(t *testing.T) {
	ctx := context.Background()
	repo := NewRequestRepository(openTestDB(t))

	req := testRequest("req-3")
	if err := repo.Create(ctx, req); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// First advance from the empty step.
	if err := repo.AdvanceStep(ctx, "req-3", "", models.StepIntake); err != nil {
		t.Fatalf("AdvanceStep from empty: %v", err)
	}

	// Advancing again from empty must lose: the stored step moved on.
	if err := repo.AdvanceStep(ctx, "req-3", "", models.StepIntake); !errors.Is(err, ErrStaleStep) {
		t.Fatalf("expected ErrStaleStep, got %v", err)
	}

	if err := repo.AdvanceStep(ctx, "req-3", models.StepIntake, models.StepInventoryOK); err != nil {
		t.Fatalf("AdvanceStep: %v", err)
	}

	got, err := repo.Get(ctx, "req-3")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastStep != models.StepInventoryOK {
		t.Fatalf("unexpected last_step: %s", got.LastStep)
	}

	if err := repo.AdvanceStep(ctx, "missing", "", models.StepIntake); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}
