// Package procurement opens purchase requests for missing materials.
package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/schoolops/labflow/internal/logging"
	"github.com/schoolops/labflow/internal/models"
)

// WarningPersistenceFailed marks a procurement that could only be recorded
// with a synthetic local id.
const WarningPersistenceFailed = "persistence_failed"

// Store persists procurement records.
type Store interface {
	Create(ctx context.Context, proc *models.Procurement) error
}

// Requester opens procurement records. It never fails the pipeline: when
// the store is unavailable it falls back to a synthetic id and a warning so
// the request can proceed to approval.
type Requester struct {
	store  Store
	logger zerolog.Logger

	// now is replaceable for tests.
	now func() time.Time
}

// NewRequester creates a requester over the given store.
func NewRequester(store Store) *Requester {
	return &Requester{
		store:  store,
		logger: logging.Component("procurement"),
		now:    time.Now,
	}
}

// Request opens a procurement for the request's missing materials and
// returns the record. The record's Warning field is set when persistence
// degraded.
func (r *Requester) Request(ctx context.Context, req *models.LabRequest, missing []string) *models.Procurement {
	proc := &models.Procurement{
		RequestID:   req.ID,
		Missing:     missing,
		Status:      models.ProcurementStatusOpen,
		Correlation: req.CorrelationID(),
	}

	if err := r.store.Create(ctx, proc); err != nil {
		r.logger.Warn().Err(err).Str("request_id", req.ID).Msg("procurement persistence failed, using synthetic id")
		proc.ID = fmt.Sprintf("proc-%d", r.now().UnixMilli())
		proc.CreatedAt = r.now().UTC()
		proc.Warning = WarningPersistenceFailed
	}

	return proc
}
