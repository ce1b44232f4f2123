package approval

import (
	"context"
	"errors"
	"testing"

	"github.com/schoolops/labflow/internal/models"
)

type fakeApprovalStore struct {
	err     error
	created *models.Approval
}

func (f *fakeApprovalStore) Create(_ context.Context, a *models.Approval) error {
	if f.err != nil {
		return f.err
	}
	f.created = a
	return nil
}

type fakeNotifier struct {
	warning  string
	notified []string
}

func (f *fakeNotifier) ApprovalRequested(_ context.Context, _ *models.LabRequest, approver string) models.Delivery {
	f.notified = append(f.notified, approver)
	return models.Delivery{To: approver, Warning: f.warning}
}

func materials(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = string(rune('a' + i))
	}
	return out
}

func TestRouterAutoApprovesSmallRequests(t *testing.T) {
	store := &fakeApprovalStore{}
	notifier := &fakeNotifier{}
	router := NewRouter(store, notifier, []string{"head@school.za"}, 0)

	// Exactly at the threshold still auto-approves.
	decision, warnings := router.Route(context.Background(), &models.LabRequest{
		ID:        "req-1",
		Materials: materials(3),
	})

	if !decision.Approved {
		t.Fatal("expected auto-approval")
	}
	if decision.Approver != AutoApprover || decision.Reason != AutoApproveReason {
		t.Fatalf("unexpected decision: %+v", decision)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(notifier.notified) != 0 {
		t.Fatal("auto-approval must not notify approvers")
	}
	if store.created != nil {
		t.Fatal("auto-approval must not persist a pending record")
	}
}

func TestRouterSuspendsLargeRequests(t *testing.T) {
	store := &fakeApprovalStore{}
	notifier := &fakeNotifier{}
	router := NewRouter(store, notifier, []string{"head@school.za", "tech@school.za"}, 0)

	decision, warnings := router.Route(context.Background(), &models.LabRequest{
		ID:          "req-2",
		Materials:   materials(4),
		Correlation: "corr-2",
	})

	if decision.Approved {
		t.Fatal("expected suspension for 4 materials")
	}
	if !decision.Awaiting() {
		t.Fatalf("expected awaiting sentinel, got %+v", decision)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(notifier.notified) != 2 {
		t.Fatalf("notified %v, want both approvers", notifier.notified)
	}
	if store.created == nil || store.created.Correlation != "corr-2" {
		t.Fatalf("pending record not persisted: %+v", store.created)
	}
}

func TestRouterCollectsWarningsButStillDecides(t *testing.T) {
	store := &fakeApprovalStore{err: errors.New("db down")}
	notifier := &fakeNotifier{warning: "mail_failed"}
	router := NewRouter(store, notifier, []string{"head@school.za"}, 0)

	decision, warnings := router.Route(context.Background(), &models.LabRequest{
		ID:        "req-3",
		Materials: materials(5),
	})

	if !decision.Awaiting() {
		t.Fatalf("expected awaiting decision, got %+v", decision)
	}
	if len(warnings) != 2 {
		t.Fatalf("warnings = %v, want persistence and mail warnings", warnings)
	}
}
