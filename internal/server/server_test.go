package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/schoolops/labflow/internal/db"
	"github.com/schoolops/labflow/internal/models"
)

type fakeEnqueuer struct {
	runs    []string
	resumes []models.Decision
}

func (f *fakeEnqueuer) EnqueueRun(_ context.Context, requestID string) (*models.Task, error) {
	f.runs = append(f.runs, requestID)
	return &models.Task{ID: "task-run", Kind: models.TaskKindRun, RequestID: requestID}, nil
}

func (f *fakeEnqueuer) EnqueueResume(_ context.Context, requestID string, decision models.Decision) (*models.Task, error) {
	f.resumes = append(f.resumes, decision)
	return &models.Task{ID: "task-resume", Kind: models.TaskKindResume, RequestID: requestID}, nil
}

func newTestServer(t *testing.T) (*Server, Stores, *fakeEnqueuer) {
	t.Helper()

	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if _, err := database.MigrateUp(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	stores := Stores{
		Requests:  db.NewRequestRepository(database),
		History:   db.NewHistoryRepository(database),
		Events:    db.NewEventRepository(database),
		Approvals: db.NewApprovalRepository(database),
	}
	enqueuer := &fakeEnqueuer{}
	return New("127.0.0.1:0", stores, enqueuer, nil, nil), stores, enqueuer
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestIntakeRejectsMissingFields(t *testing.T) {
	srv, _, enqueuer := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/requests", map[string]any{
		"teacher_name":  "Ms. Dlamini",
		"teacher_email": "dlamini@school.za",
		// experiment_title missing
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(enqueuer.runs) != 0 {
		t.Fatal("nothing should be enqueued for a rejected intake")
	}
}

func TestIntakeCreatesAndEnqueues(t *testing.T) {
	srv, stores, enqueuer := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/requests", map[string]any{
		"teacher_name":     "Ms. Dlamini",
		"teacher_email":    "dlamini@school.za",
		"experiment_title": "Titration",
		"materials":        []string{"NaCl", " naCl ", "", "HCl"},
		"preferred_date":   "2026-03-02T09:00:00Z",
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var created models.LabRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID == "" || created.Status != models.RequestStatusNew {
		t.Fatalf("unexpected response: %+v", created)
	}
	// Materials normalized: trimmed, deduped case-insensitively.
	if len(created.Materials) != 2 || created.Materials[0] != "NaCl" || created.Materials[1] != "HCl" {
		t.Fatalf("materials = %v", created.Materials)
	}

	if len(enqueuer.runs) != 1 || enqueuer.runs[0] != created.ID {
		t.Fatalf("runs = %v", enqueuer.runs)
	}

	stored, err := stores.Requests.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("stored request: %v", err)
	}
	if stored.PreferredDate == nil {
		t.Fatal("preferred date not stored")
	}
}

func TestGetRequestNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/requests/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestApprovalCallbackValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/approvals/callback", map[string]any{
		"requestId": "req-1",
		// approved missing
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestApprovalCallbackResolvesAndEnqueuesResume(t *testing.T) {
	srv, stores, enqueuer := newTestServer(t)
	router := srv.Router()
	ctx := context.Background()

	req := &models.LabRequest{
		ID:              "req-1",
		TeacherName:     "Ms. Dlamini",
		TeacherEmail:    "dlamini@school.za",
		ExperimentTitle: "Titration",
		Status:          models.RequestStatusAwaitingApproval,
		LastStep:        models.StepAwaitingApproval,
	}
	if err := stores.Requests.Create(ctx, req); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := stores.Approvals.Create(ctx, &models.Approval{RequestID: "req-1"}); err != nil {
		t.Fatalf("create approval: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/api/approvals/callback", map[string]any{
		"requestId": "req-1",
		"approved":  true,
		"approver":  "head@school.za",
		"reason":    "go ahead",
	})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	stored, err := stores.Requests.Get(ctx, "req-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.RequestStatusApproved {
		t.Fatalf("status = %s, want APPROVED", stored.Status)
	}

	pending, err := stores.Approvals.ListPendingByRequest(ctx, "req-1")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatal("approval record not resolved")
	}

	if len(enqueuer.resumes) != 1 || !enqueuer.resumes[0].Approved {
		t.Fatalf("resumes = %+v", enqueuer.resumes)
	}

	count, err := stores.Events.CountByType(ctx, models.EntityTypeRequest, "req-1", models.EventTypeApprovalApproved)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("approval audit events = %d", count)
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Router(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
