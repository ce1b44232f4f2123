// Package pipeline drives a lab request through intake, inventory,
// procurement, approval, scheduling and notification. It is the only
// component that mutates request status, and it is written to be safe
// under at-least-once task delivery: every completed step advances a
// durable last_step marker with a compare-and-swap, and a re-delivered
// invocation that finds the marker already advanced records a skip and
// returns without re-running side effects.
package pipeline

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

// Outcome labels for pipeline metrics.
const (
	OutcomeNotified  = "notified"
	OutcomeRejected  = "rejected"
	OutcomeSuspended = "suspended"
	OutcomeSkipped   = "skipped"
	OutcomeError     = "error"
)

// RequestStore is the request persistence the pipeline needs.
type RequestStore interface {
	Get(ctx context.Context, id string) (*models.LabRequest, error)
	Update(ctx context.Context, req *models.LabRequest) error
	AdvanceStep(ctx context.Context, id, observedStep, newStep string) error
}

// HistoryStore records step transitions.
type HistoryStore interface {
	RecordStep(ctx context.Context, req *models.LabRequest, step string, extra any) error
}

// AuditStore appends audit events.
type AuditStore interface {
	Append(ctx context.Context, event *models.Event) error
}

// InventoryChecker reports material sufficiency.
type InventoryChecker interface {
	Check(ctx context.Context, materials []string, forceRefresh bool) models.InventoryResult
}

// ProcurementRequester opens procurement records for missing materials.
type ProcurementRequester interface {
	Request(ctx context.Context, req *models.LabRequest, missing []string) *models.Procurement
}

// ApprovalRouter decides whether a request may proceed.
type ApprovalRouter interface {
	Route(ctx context.Context, req *models.LabRequest) (models.Decision, []string)
}

// Scheduler books a lab slot.
type Scheduler interface {
	Schedule(ctx context.Context, req *models.LabRequest) (*models.Booking, string)
}

// Notifier sends the workflow's status emails.
type Notifier interface {
	MaterialsRequest(ctx context.Context, req *models.LabRequest, proc *models.Procurement) models.Delivery
	Rejection(ctx context.Context, req *models.LabRequest, decision models.Decision) models.Delivery
	Approved(ctx context.Context, req *models.LabRequest, booking *models.Booking) models.Delivery
	ConflictTeachers(ctx context.Context, req *models.LabRequest, booking *models.Booking) []models.Delivery
}

// Pipeline sequences the workflow steps for one request at a time.
type Pipeline struct {
	requests    RequestStore
	history     HistoryStore
	audit       AuditStore
	inventory   InventoryChecker
	procurement ProcurementRequester
	approval    ApprovalRouter
	scheduler   Scheduler
	notifier    Notifier
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// New wires a pipeline from its collaborators.
func New(
	requests RequestStore,
	history HistoryStore,
	audit AuditStore,
	inventory InventoryChecker,
	procurement ProcurementRequester,
	approval ApprovalRouter,
	scheduler Scheduler,
	notifier Notifier,
	m *metrics.Metrics,
) *Pipeline {
	return &Pipeline{
		requests:    requests,
		history:     history,
		audit:       audit,
		inventory:   inventory,
		procurement: procurement,
		approval:    approval,
		scheduler:   scheduler,
		notifier:    notifier,
		metrics:     m,
		logger:      logging.Component("pipeline"),
	}
}

// errAlreadyProgressed stops the run after a lost compare-and-swap; the
// winning invocation owns the remaining steps.
var errAlreadyProgressed = errors.New("request already progressed")

// Run drives a request from NEW through the terminal or suspended state.
// Safe to call again for the same request: replays are detected and
// recorded as skips.
func (p *Pipeline) Run(ctx context.Context, requestID string) (*models.LabRequest, error) {
	req, err := p.requests.Get(ctx, requestID)
	if err != nil {
		p.metrics.ObservePipelineRun(OutcomeError)
		return nil, err
	}

	logger := logging.FromContext(ctx).With().Str("request_id", req.ID).Str("correlation", req.CorrelationID()).Logger()

	// Replay guard: anything past INTAKE means a previous invocation
	// already did the work.
	if req.LastStep != "" && req.LastStep != models.StepIntake {
		p.recordSkip(ctx, req)
		p.metrics.ObservePipelineRun(OutcomeSkipped)
		logger.Info().Str("last_step", req.LastStep).Msg("replay detected, skipping")
		return req, nil
	}

	observed := req.LastStep

	// Intake.
	req.Status = models.RequestStatusIntake
	if err := p.mark(ctx, req, models.RequestStatusIntake, models.StepIntake, observed); err != nil {
		return p.handleStale(ctx, req, err)
	}
	p.auditEvent(ctx, req, models.EventTypeIntakeReceived, nil)
	observed = models.StepIntake

	// Inventory.
	stepStart := time.Now()
	result := p.inventory.Check(ctx, req.Materials, false)
	p.metrics.ObserveStep("inventory", time.Since(stepStart).Seconds())
	req.AddWarning(result.Warning)

	if result.MaterialEnough {
		if err := p.mark(ctx, req, models.RequestStatusInventoryOK, models.StepInventoryOK, observed); err != nil {
			return p.handleStale(ctx, req, err)
		}
		observed = models.StepInventoryOK
	} else {
		// Shortfall does not halt the pipeline: record the missing state,
		// open procurement, tell the procurement desk, and carry on to
		// approval. last_step stays at INTAKE until procurement completes
		// so an interrupted invocation re-enters here.
		req.Status = models.RequestStatusInventoryMissing
		if err := p.requests.Update(ctx, req); err != nil {
			p.metrics.ObservePipelineRun(OutcomeError)
			return nil, fmt.Errorf("persist %s: %w", models.RequestStatusInventoryMissing, err)
		}
		if err := p.history.RecordStep(ctx, req, string(models.RequestStatusInventoryMissing), nil); err != nil {
			p.logger.Warn().Err(err).Str("request_id", req.ID).Msg("history write failed")
		}

		proc := p.procurement.Request(ctx, req, result.MissingItems)
		req.AddWarning(proc.Warning)
		req.AddWarning(p.notifier.MaterialsRequest(ctx, req, proc).Warning)

		if err := p.mark(ctx, req, models.RequestStatusProcurementRequested, models.StepProcurementRequested, observed); err != nil {
			return p.handleStale(ctx, req, err)
		}
		p.auditEvent(ctx, req, models.EventTypeProcurementRequested, map[string]any{
			"procurement_id": proc.ID,
			"missing":        result.MissingItems,
		})
		observed = models.StepProcurementRequested
	}

	// Approval.
	stepStart = time.Now()
	decision, warnings := p.approval.Route(ctx, req)
	p.metrics.ObserveStep("approval", time.Since(stepStart).Seconds())
	for _, w := range warnings {
		req.AddWarning(w)
	}

	if decision.Awaiting() {
		if err := p.mark(ctx, req, models.RequestStatusAwaitingApproval, models.StepAwaitingApproval, observed); err != nil {
			return p.handleStale(ctx, req, err)
		}
		p.auditEvent(ctx, req, models.EventTypeAwaitingApproval, nil)
		p.metrics.ObservePipelineRun(OutcomeSuspended)
		logger.Info().Msg("suspended awaiting external approval")
		return req, nil
	}

	if !decision.Approved {
		return p.reject(ctx, req, decision, observed)
	}

	return p.scheduleAndNotify(ctx, req, observed)
}

// Resume re-enters the pipeline at the AWAITING_APPROVAL transition after
// an external approval decision. Re-delivery of the same resume is safe:
// a request whose marker moved past AWAITING_APPROVAL records a skip.
func (p *Pipeline) Resume(ctx context.Context, requestID string, decision models.Decision) (*models.LabRequest, error) {
	req, err := p.requests.Get(ctx, requestID)
	if err != nil {
		p.metrics.ObservePipelineRun(OutcomeError)
		return nil, err
	}

	logger := logging.WithCorrelation(req.CorrelationID()).With().Str("request_id", req.ID).Logger()

	if req.LastStep != models.StepAwaitingApproval {
		p.recordSkip(ctx, req)
		p.metrics.ObservePipelineRun(OutcomeSkipped)
		logger.Info().Str("last_step", req.LastStep).Msg("resume replay detected, skipping")
		return req, nil
	}
	logger.Info().Bool("approved", decision.Approved).Msg("resuming after approval decision")

	if !decision.Approved {
		return p.reject(ctx, req, decision, models.StepAwaitingApproval)
	}

	req.Status = models.RequestStatusApproved
	return p.scheduleAndNotify(ctx, req, models.StepAwaitingApproval)
}

func (p *Pipeline) scheduleAndNotify(ctx context.Context, req *models.LabRequest, observed string) (*models.LabRequest, error) {
	stepStart := time.Now()
	booking, warning := p.scheduler.Schedule(ctx, req)
	p.metrics.ObserveStep("scheduling", time.Since(stepStart).Seconds())
	req.AddWarning(warning)

	if err := p.mark(ctx, req, models.RequestStatusScheduled, models.StepScheduled, observed); err != nil {
		return p.handleStale(ctx, req, err)
	}
	p.auditEvent(ctx, req, models.EventTypeBooked, models.BookedPayload{
		BookingID:   booking.ID,
		Lab:         booking.Lab,
		Start:       booking.Start.Format(time.RFC3339),
		End:         booking.End.Format(time.RFC3339),
		Provisional: booking.Provisional,
	})

	req.AddWarning(p.notifier.Approved(ctx, req, booking).Warning)
	for _, delivery := range p.notifier.ConflictTeachers(ctx, req, booking) {
		req.AddWarning(delivery.Warning)
	}

	if err := p.mark(ctx, req, models.RequestStatusNotified, models.StepNotified, models.StepScheduled); err != nil {
		return p.handleStale(ctx, req, err)
	}
	p.auditEvent(ctx, req, models.EventTypeNotified, nil)

	p.metrics.ObservePipelineRun(OutcomeNotified)
	return req, nil
}

func (p *Pipeline) reject(ctx context.Context, req *models.LabRequest, decision models.Decision, observed string) (*models.LabRequest, error) {
	if err := p.mark(ctx, req, models.RequestStatusRejected, models.StepRejected, observed); err != nil {
		return p.handleStale(ctx, req, err)
	}

	req.AddWarning(p.notifier.Rejection(ctx, req, decision).Warning)
	p.auditEvent(ctx, req, models.EventTypeRejected, models.ApprovalResolvedPayload{
		Approver: decision.Approver,
		Reason:   decision.Reason,
	})

	p.metrics.ObservePipelineRun(OutcomeRejected)
	return req, nil
}

// mark completes a step: the compare-and-swap advances last_step from what
// this invocation observed, then status and warnings are persisted and the
// step is recorded in history. A lost swap comes back as
// errAlreadyProgressed.
func (p *Pipeline) mark(ctx context.Context, req *models.LabRequest, status models.RequestStatus, step, observed string) error {
	if err := p.requests.AdvanceStep(ctx, req.ID, observed, step); err != nil {
		if errors.Is(err, db.ErrStaleStep) {
			return errAlreadyProgressed
		}
		return fmt.Errorf("advance to %s: %w", step, err)
	}

	req.Status = status
	req.LastStep = step
	if err := p.requests.Update(ctx, req); err != nil {
		return fmt.Errorf("persist %s: %w", step, err)
	}

	if err := p.history.RecordStep(ctx, req, step, nil); err != nil {
		p.logger.Warn().Err(err).Str("request_id", req.ID).Str("step", step).Msg("history write failed")
	}
	return nil
}

// handleStale resolves a lost compare-and-swap by recording the skip, or
// propagates a genuine persistence error to the caller for retry.
func (p *Pipeline) handleStale(ctx context.Context, req *models.LabRequest, err error) (*models.LabRequest, error) {
	if !errors.Is(err, errAlreadyProgressed) {
		p.metrics.ObservePipelineRun(OutcomeError)
		return nil, err
	}

	current, getErr := p.requests.Get(ctx, req.ID)
	if getErr != nil {
		p.metrics.ObservePipelineRun(OutcomeError)
		return nil, getErr
	}
	p.recordSkip(ctx, current)
	p.metrics.ObservePipelineRun(OutcomeSkipped)
	return current, nil
}

// recordSkip writes the SKIP_ALREADY_<last_step> history marker and its
// audit event. Best-effort.
func (p *Pipeline) recordSkip(ctx context.Context, req *models.LabRequest) {
	marker := "SKIP_ALREADY_" + req.LastStep
	if err := p.history.RecordStep(ctx, req, marker, nil); err != nil {
		p.logger.Warn().Err(err).Str("request_id", req.ID).Msg("skip marker write failed")
	}
	p.auditEvent(ctx, req, models.EventTypeSkippedReplay, map[string]any{"last_step": req.LastStep})
}

// auditEvent appends an audit event. Best-effort: audit outages never
// block status transitions.
func (p *Pipeline) auditEvent(ctx context.Context, req *models.LabRequest, eventType models.EventType, payload any) {
	event := &models.Event{
		Type:       eventType,
		EntityType: models.EntityTypeRequest,
		EntityID:   req.ID,
		Metadata: map[string]string{
			"correlation": req.CorrelationID(),
			"status":      string(req.Status),
		},
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err == nil {
			event.Payload = data
		}
	}
	if err := p.audit.Append(ctx, event); err != nil {
		p.logger.Warn().Err(err).Str("request_id", req.ID).Str("event", string(eventType)).Msg("audit write failed")
	}
}
