// Package notify sends the workflow's status emails. Every send is
// best-effort: failures come back as a warning on the Delivery, never as an
// error into the pipeline.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/schoolops/labflow/internal/logging"
	"github.com/schoolops/labflow/internal/models"
)

// Mailer delivers a single message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// EmailLogStore records send attempts for delivery audit.
type EmailLogStore interface {
	Create(ctx context.Context, entry *models.EmailLog) error
}

// Config holds notification addressing.
type Config struct {
	// ProcurementAddress receives missing-material requests.
	ProcurementAddress string

	// ConflictWatchers are teachers told about new lab bookings.
	ConflictWatchers []string
}

const (
	templateMaterialsRequest  = "materials_request"
	templateApprovalRequested = "approval_requested"
	templateApproved          = "approved"
	templateRejection         = "rejection"
	templateConflict          = "conflict"
)

var templates = map[string]struct{ subject, body string }{
	templateMaterialsRequest: {
		subject: "Materials needed for {{request.experiment_title}}",
		body: "<p>The lab request from {{request.teacher_name}} is short of stock.</p>" +
			"<p>Missing: {{missing}}</p><p>Procurement reference: {{procurement.id}}</p>",
	},
	templateApprovalRequested: {
		subject: "Approval needed: {{request.experiment_title}}",
		body: "<p>{{request.teacher_name}} ({{request.teacher_email}}) requested a lab session " +
			"using {{request.materials}}.</p><p>Request id: {{request.id}}</p>",
	},
	templateApproved: {
		subject: "Lab booked: {{request.experiment_title}}",
		body: "<p>Your session is booked in {{booking.lab}} starting {{booking.start}}.</p>" +
			"<p>{{booking.calendar_url}}</p>",
	},
	templateRejection: {
		subject: "Lab request declined: {{request.experiment_title}}",
		body:    "<p>Your request was declined by {{decision.approver}}.</p><p>Reason: {{decision.reason}}</p>",
	},
	templateConflict: {
		subject: "{{booking.lab}} reserved on {{booking.start}}",
		body: "<p>{{booking.lab}} is reserved from {{booking.start}} to {{booking.end}} " +
			"for {{request.teacher_name}}'s session.</p>",
	},
}

// Notifier renders and sends workflow emails.
type Notifier struct {
	mailer Mailer
	log    EmailLogStore
	config Config
	logger zerolog.Logger
}

// NewNotifier creates a notifier. log may be nil when send auditing is
// disabled.
func NewNotifier(mailer Mailer, log EmailLogStore, config Config) *Notifier {
	return &Notifier{
		mailer: mailer,
		log:    log,
		config: config,
		logger: logging.Component("notify"),
	}
}

// MaterialsRequest tells the procurement desk which materials are missing.
func (n *Notifier) MaterialsRequest(ctx context.Context, req *models.LabRequest, proc *models.Procurement) models.Delivery {
	data := payload(req)
	data["missing"] = proc.Missing
	data["procurement"] = map[string]any{"id": proc.ID}
	return n.send(ctx, req, n.config.ProcurementAddress, templateMaterialsRequest, data)
}

// ApprovalRequested asks one approver to review the request.
func (n *Notifier) ApprovalRequested(ctx context.Context, req *models.LabRequest, approver string) models.Delivery {
	return n.send(ctx, req, approver, templateApprovalRequested, payload(req))
}

// Approved confirms the booked slot to the requesting teacher.
func (n *Notifier) Approved(ctx context.Context, req *models.LabRequest, booking *models.Booking) models.Delivery {
	data := payload(req)
	data["booking"] = bookingPayload(booking)
	return n.send(ctx, req, req.TeacherEmail, templateApproved, data)
}

// Rejection tells the requesting teacher the request was declined.
func (n *Notifier) Rejection(ctx context.Context, req *models.LabRequest, decision models.Decision) models.Delivery {
	data := payload(req)
	data["decision"] = map[string]any{
		"approver": decision.Approver,
		"reason":   decision.Reason,
	}
	return n.send(ctx, req, req.TeacherEmail, templateRejection, data)
}

// ConflictTeachers tells the configured watchers about the new booking so
// overlapping plans surface early.
func (n *Notifier) ConflictTeachers(ctx context.Context, req *models.LabRequest, booking *models.Booking) []models.Delivery {
	data := payload(req)
	data["booking"] = bookingPayload(booking)

	deliveries := make([]models.Delivery, 0, len(n.config.ConflictWatchers))
	for _, watcher := range n.config.ConflictWatchers {
		deliveries = append(deliveries, n.send(ctx, req, watcher, templateConflict, data))
	}
	return deliveries
}

func (n *Notifier) send(ctx context.Context, req *models.LabRequest, to, template string, data map[string]any) models.Delivery {
	tmpl := templates[template]
	delivery := models.Delivery{
		To:       to,
		Subject:  Render(tmpl.subject, data),
		Template: template,
	}

	if to == "" {
		delivery.Warning = fmt.Sprintf("notify_%s_no_recipient", template)
		return delivery
	}

	result := "sent"
	if err := n.mailer.Send(ctx, to, delivery.Subject, Render(tmpl.body, data)); err != nil {
		n.logger.Warn().Err(err).Str("to", to).Str("template", template).Msg("notification send failed")
		delivery.Warning = fmt.Sprintf("notify_%s_failed", template)
		result = err.Error()
	}

	if n.log != nil {
		entry := &models.EmailLog{
			To:          to,
			Subject:     delivery.Subject,
			Template:    template,
			Correlation: req.CorrelationID(),
			Result:      result,
		}
		if err := n.log.Create(ctx, entry); err != nil {
			n.logger.Warn().Err(err).Msg("email log write failed")
		}
	}

	return delivery
}

func payload(req *models.LabRequest) map[string]any {
	return map[string]any{
		"request": map[string]any{
			"id":               req.ID,
			"teacher_name":     req.TeacherName,
			"teacher_email":    req.TeacherEmail,
			"experiment_title": req.ExperimentTitle,
			"materials":        req.Materials,
			"notes":            req.Notes,
		},
	}
}

func bookingPayload(booking *models.Booking) map[string]any {
	return map[string]any{
		"lab":          booking.Lab,
		"start":        booking.Start.Format(time.RFC3339),
		"end":          booking.End.Format(time.RFC3339),
		"calendar_url": booking.CalendarURL,
	}
}
