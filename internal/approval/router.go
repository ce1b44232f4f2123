// Package approval decides whether a lab request needs human sign-off.
package approval

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/schoolops/labflow/internal/logging"
	"github.com/schoolops/labflow/internal/models"
)

const (
	// AutoApprover identifies policy-based approvals.
	AutoApprover = "auto-policy"

	// AutoApproveReason is the recorded reason for policy approvals.
	AutoApproveReason = "small request"

	// DefaultAutoApproveMax is the largest material count approved without
	// human review.
	DefaultAutoApproveMax = 3

	// WarningPersistenceFailed marks an approval that could not be durably
	// recorded as pending.
	WarningPersistenceFailed = "approval_persistence_failed"
)

// Store persists pending approval records.
type Store interface {
	Create(ctx context.Context, approval *models.Approval) error
}

// Notifier asks one approver to review a request.
type Notifier interface {
	ApprovalRequested(ctx context.Context, req *models.LabRequest, approver string) models.Delivery
}

// Router routes requests to auto-approval or human review. It always
// produces a decision; internal failures surface as warnings on the result.
type Router struct {
	store          Store
	notifier       Notifier
	approvers      []string
	autoApproveMax int
	logger         zerolog.Logger
}

// NewRouter creates a router. autoApproveMax <= 0 selects the default.
func NewRouter(store Store, notifier Notifier, approvers []string, autoApproveMax int) *Router {
	if autoApproveMax <= 0 {
		autoApproveMax = DefaultAutoApproveMax
	}
	return &Router{
		store:          store,
		notifier:       notifier,
		approvers:      approvers,
		autoApproveMax: autoApproveMax,
		logger:         logging.Component("approval"),
	}
}

// Route decides the request. Small requests are approved on the spot;
// anything larger is recorded as pending, the approvers are notified, and
// the awaiting sentinel comes back so the pipeline can suspend.
func (r *Router) Route(ctx context.Context, req *models.LabRequest) (models.Decision, []string) {
	if len(req.Materials) <= r.autoApproveMax {
		return models.Decision{
			Approved: true,
			Approver: AutoApprover,
			Reason:   AutoApproveReason,
		}, nil
	}

	var warnings []string

	record := &models.Approval{
		RequestID:   req.ID,
		Approvers:   r.approvers,
		Correlation: req.CorrelationID(),
	}
	if err := r.store.Create(ctx, record); err != nil {
		r.logger.Warn().Err(err).Str("request_id", req.ID).Msg("failed to persist pending approval")
		warnings = append(warnings, WarningPersistenceFailed)
	}

	for _, approver := range r.approvers {
		delivery := r.notifier.ApprovalRequested(ctx, req, approver)
		if delivery.Warning != "" {
			warnings = append(warnings, delivery.Warning)
		}
	}

	return models.Decision{
		Approved: false,
		Reason:   models.ReasonAwaitingExternalApproval,
	}, warnings
}
