// Package server exposes the daemon's HTTP API: request intake, the
// approval callback, request/history queries, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/schoolops/labflow/internal/db"
	"github.com/schoolops/labflow/internal/logging"
	"github.com/schoolops/labflow/internal/metrics"
	"github.com/schoolops/labflow/internal/models"
)

// TaskEnqueuer hands pipeline work to the durable queue.
type TaskEnqueuer interface {
	EnqueueRun(ctx context.Context, requestID string) (*models.Task, error)
	EnqueueResume(ctx context.Context, requestID string, decision models.Decision) (*models.Task, error)
}

// Stores bundles the persistence the handlers need.
type Stores struct {
	Requests  *db.RequestRepository
	History   *db.HistoryRepository
	Events    *db.EventRepository
	Approvals *db.ApprovalRepository
}

// Server is the daemon's HTTP surface.
type Server struct {
	stores   Stores
	queue    TaskEnqueuer
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	logger   zerolog.Logger
	http     *http.Server
}

// New creates a server. registry may be nil to disable /metrics.
func New(listenAddr string, stores Stores, queue TaskEnqueuer, m *metrics.Metrics, registry *prometheus.Registry) *Server {
	s := &Server{
		stores:   stores,
		queue:    queue,
		metrics:  m,
		registry: registry,
		logger:   logging.Component("server"),
	}
	s.http = &http.Server{
		Addr:              listenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/api/requests", s.handleIntake).Methods(http.MethodPost)
	r.HandleFunc("/api/requests/{id}", s.handleGetRequest).Methods(http.MethodGet)
	r.HandleFunc("/api/requests/{id}/history", s.handleGetHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/requests/{id}/events", s.handleGetEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/approvals/callback", s.handleApprovalCallback).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

// ListenAndServe runs the HTTP server until it is shut down.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("http server listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type intakeRequest struct {
	TeacherName     string   `json:"teacher_name"`
	TeacherEmail    string   `json:"teacher_email"`
	ExperimentTitle string   `json:"experiment_title"`
	Materials       []string `json:"materials"`
	PreferredDate   string   `json:"preferred_date"`
	PreferredLab    string   `json:"preferred_lab"`
	Notes           string   `json:"notes"`
}

func (s *Server) handleIntake(w http.ResponseWriter, r *http.Request) {
	var body intakeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req := &models.LabRequest{
		ID:              uuid.New().String(),
		TeacherName:     body.TeacherName,
		TeacherEmail:    body.TeacherEmail,
		ExperimentTitle: body.ExperimentTitle,
		Materials:       models.NormalizeMaterials(body.Materials),
		PreferredLab:    body.PreferredLab,
		Notes:           body.Notes,
		Status:          models.RequestStatusNew,
		Correlation:     r.Header.Get("X-Correlation-ID"),
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if body.PreferredDate != "" {
		parsed, err := time.Parse(time.RFC3339, body.PreferredDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "preferred_date must be RFC3339")
			return
		}
		req.PreferredDate = &parsed
	}

	if err := s.stores.Requests.Create(r.Context(), req); err != nil {
		s.logger.Error().Err(err).Msg("intake persist failed")
		writeError(w, http.StatusInternalServerError, "failed to store request")
		return
	}

	if _, err := s.queue.EnqueueRun(r.Context(), req.ID); err != nil {
		// The request is stored; the operator can re-enqueue it.
		s.logger.Error().Err(err).Str("request_id", req.ID).Msg("enqueue failed")
		writeError(w, http.StatusInternalServerError, "request stored but not scheduled for processing")
		return
	}

	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	req, err := s.stores.Requests.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrRequestNotFound) {
			writeError(w, http.StatusNotFound, "request not found")
			return
		}
		s.logger.Error().Err(err).Str("request_id", id).Msg("get request failed")
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rows, err := s.stores.History.ListByRequest(r.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", id).Msg("history lookup failed")
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"request_id": id, "history": rows})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	events, err := s.stores.Events.ListByEntity(r.Context(), models.EntityTypeRequest, id, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", id).Msg("event lookup failed")
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"request_id": id, "events": events})
}

type approvalCallback struct {
	RequestID string `json:"requestId"`
	Approved  *bool  `json:"approved"`
	Approver  string `json:"approver"`
	Reason    string `json:"reason"`
}

func (s *Server) handleApprovalCallback(w http.ResponseWriter, r *http.Request) {
	var body approvalCallback
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.RequestID == "" || body.Approved == nil {
		writeError(w, http.StatusBadRequest, "requestId and approved are required")
		return
	}

	ctx := r.Context()

	req, err := s.stores.Requests.Get(ctx, body.RequestID)
	if err != nil {
		if errors.Is(err, db.ErrRequestNotFound) {
			writeError(w, http.StatusNotFound, "request not found")
			return
		}
		s.logger.Error().Err(err).Str("request_id", body.RequestID).Msg("callback lookup failed")
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	status := models.RequestStatusRejected
	approvalStatus := models.ApprovalStatusRejected
	eventType := models.EventTypeApprovalRejected
	if *body.Approved {
		status = models.RequestStatusApproved
		approvalStatus = models.ApprovalStatusApproved
		eventType = models.EventTypeApprovalApproved
	}

	// Resolve the pending approval record. A missing record is tolerated:
	// the callback may arrive for an auto-approved or replayed request.
	if err := s.stores.Approvals.Resolve(ctx, req.ID, approvalStatus, body.Approver, body.Reason); err != nil {
		if !errors.Is(err, db.ErrApprovalNotFound) {
			s.logger.Error().Err(err).Str("request_id", req.ID).Msg("approval resolve failed")
			writeError(w, http.StatusInternalServerError, "failed to record approval")
			return
		}
		s.logger.Warn().Str("request_id", req.ID).Msg("callback without pending approval record")
	}

	if err := s.stores.Requests.UpdateStatus(ctx, req.ID, status); err != nil {
		s.logger.Error().Err(err).Str("request_id", req.ID).Msg("status update failed")
		writeError(w, http.StatusInternalServerError, "failed to update request")
		return
	}

	s.appendAudit(ctx, req, eventType, models.ApprovalResolvedPayload{
		Approver: body.Approver,
		Reason:   body.Reason,
	})

	// The decision is durable; the resume task picks the pipeline back up
	// past AWAITING_APPROVAL.
	decision := models.Decision{Approved: *body.Approved, Approver: body.Approver, Reason: body.Reason}
	task, err := s.queue.EnqueueResume(ctx, req.ID, decision)
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", req.ID).Msg("resume enqueue failed")
		writeError(w, http.StatusInternalServerError, "decision recorded but resume not scheduled")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"request_id": req.ID,
		"status":     status,
		"task_id":    task.ID,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) appendAudit(ctx context.Context, req *models.LabRequest, eventType models.EventType, payload any) {
	event := &models.Event{
		Type:       eventType,
		EntityType: models.EntityTypeRequest,
		EntityID:   req.ID,
		Metadata:   map[string]string{"correlation": req.CorrelationID()},
	}
	if data, err := json.Marshal(payload); err == nil {
		event.Payload = data
	}
	if err := s.stores.Events.Append(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("request_id", req.ID).Msg("audit write failed")
	}
}

// instrument records per-route request counters.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if template, err := current.GetPathTemplate(); err == nil {
				route = template
			}
		}
		s.metrics.ObserveHTTP(route, strconv.Itoa(recorder.status))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
