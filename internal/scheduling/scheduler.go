// Package scheduling finds and books lab slots on the lab calendars.
package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/schoolops/labflow/internal/logging"
	"github.com/schoolops/labflow/internal/models"
	"github.com/schoolops/labflow/internal/msgraph"
)

// WarningProvisionalBooking marks a booking created locally because the
// calendar could not be reached or had no open slot.
const WarningProvisionalBooking = "provisional_booking"

// Calendar is the slice of the calendar adapter the scheduler needs.
type Calendar interface {
	IsFree(ctx context.Context, calendarID string, start, end time.Time) (bool, error)
	CreateEvent(ctx context.Context, calendarID, subject, description string, start, end time.Time) (msgraph.CreatedEvent, error)
}

// Config holds scheduling policy.
type Config struct {
	// Labs maps lab names to their calendar ids.
	Labs map[string]string

	// DefaultLab is used when a request names no lab.
	DefaultLab string

	// WorkdayStartHour and WorkdayEndHour bound slots, in fractional
	// hours (7.5 means 07:30).
	WorkdayStartHour float64
	WorkdayEndHour   float64

	// SlotMinutes is the session length; the search also steps by it.
	SlotMinutes int

	// HorizonDays is how many days ahead to search.
	HorizonDays int
}

// DefaultConfig returns the stock scheduling policy.
func DefaultConfig() Config {
	return Config{
		DefaultLab:       "Lab A",
		WorkdayStartHour: 7.5,
		WorkdayEndHour:   16.0,
		SlotMinutes:      90,
		HorizonDays:      14,
	}
}

// Scheduler books the earliest free slot for a request. It never fails the
// pipeline: when booking is impossible it falls back to a provisional
// placeholder that operators reconcile by hand.
type Scheduler struct {
	calendar Calendar
	config   Config
	logger   zerolog.Logger

	// now is replaceable for tests.
	now func() time.Time
}

// NewScheduler creates a scheduler. Zero config fields take defaults;
// Labs must be supplied by the caller.
func NewScheduler(calendar Calendar, config Config) *Scheduler {
	defaults := DefaultConfig()
	if config.DefaultLab == "" {
		config.DefaultLab = defaults.DefaultLab
	}
	if config.WorkdayStartHour <= 0 {
		config.WorkdayStartHour = defaults.WorkdayStartHour
	}
	if config.WorkdayEndHour <= 0 {
		config.WorkdayEndHour = defaults.WorkdayEndHour
	}
	if config.SlotMinutes <= 0 {
		config.SlotMinutes = defaults.SlotMinutes
	}
	if config.HorizonDays <= 0 {
		config.HorizonDays = defaults.HorizonDays
	}
	return &Scheduler{
		calendar: calendar,
		config:   config,
		logger:   logging.Component("scheduling"),
		now:      time.Now,
	}
}

// Schedule books a slot for the request. The returned warning is non-empty
// when the booking is provisional.
func (s *Scheduler) Schedule(ctx context.Context, req *models.LabRequest) (*models.Booking, string) {
	booking, err := s.book(ctx, req)
	if err != nil {
		s.logger.Warn().Err(err).Str("request_id", req.ID).Msg("falling back to provisional booking")
		return s.provisional(req), WarningProvisionalBooking
	}
	return booking, ""
}

func (s *Scheduler) book(ctx context.Context, req *models.LabRequest) (*models.Booking, error) {
	lab := s.resolveLab(req)
	calendarID, ok := s.config.Labs[lab]
	if !ok {
		return nil, fmt.Errorf("no calendar configured for lab %q", lab)
	}

	start, end, err := s.findSlot(ctx, calendarID, s.earliest(req), req.PreferredDate != nil)
	if err != nil {
		return nil, err
	}

	subject := fmt.Sprintf("Lab session: %s", req.ExperimentTitle)
	description := fmt.Sprintf("Requested by %s (%s). Materials: %s.",
		req.TeacherName, req.TeacherEmail, strings.Join(req.Materials, ", "))
	event, err := s.calendar.CreateEvent(ctx, calendarID, subject, description, start, end)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	return &models.Booking{
		ID:          event.ID,
		Lab:         lab,
		Start:       start,
		End:         end,
		CalendarURL: event.WebLink,
		Correlation: req.CorrelationID(),
	}, nil
}

// findSlot tries the requested time itself first, then scans the horizon
// day by day, skipping weekends, stepping the workday in slot-length
// increments. The earliest free slot wins.
func (s *Scheduler) findSlot(ctx context.Context, calendarID string, earliest time.Time, probePreferred bool) (time.Time, time.Time, error) {
	slot := time.Duration(s.config.SlotMinutes) * time.Minute
	dayStartOffset := time.Duration(s.config.WorkdayStartHour * float64(time.Hour))
	dayEndOffset := time.Duration(s.config.WorkdayEndHour * float64(time.Hour))

	if probePreferred && s.withinWorkday(earliest, slot) {
		free, err := s.calendar.IsFree(ctx, calendarID, earliest, earliest.Add(slot))
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("availability check: %w", err)
		}
		if free {
			return earliest, earliest.Add(slot), nil
		}
	}

	firstDay := time.Date(earliest.Year(), earliest.Month(), earliest.Day(), 0, 0, 0, 0, earliest.Location())

	for dayIndex := 0; dayIndex < s.config.HorizonDays; dayIndex++ {
		day := firstDay.AddDate(0, 0, dayIndex)
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}

		for start := day.Add(dayStartOffset); !start.Add(slot).After(day.Add(dayEndOffset)); start = start.Add(slot) {
			if start.Before(earliest) {
				continue
			}
			free, err := s.calendar.IsFree(ctx, calendarID, start, start.Add(slot))
			if err != nil {
				return time.Time{}, time.Time{}, fmt.Errorf("availability check: %w", err)
			}
			if free {
				return start, start.Add(slot), nil
			}
		}
	}

	return time.Time{}, time.Time{}, fmt.Errorf("no free slot within %d days", s.config.HorizonDays)
}

// withinWorkday reports whether a session starting at start fits inside a
// weekday's working hours.
func (s *Scheduler) withinWorkday(start time.Time, slot time.Duration) bool {
	if start.Weekday() == time.Saturday || start.Weekday() == time.Sunday {
		return false
	}
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	dayStart := day.Add(time.Duration(s.config.WorkdayStartHour * float64(time.Hour)))
	dayEnd := day.Add(time.Duration(s.config.WorkdayEndHour * float64(time.Hour)))
	return !start.Before(dayStart) && !start.Add(slot).After(dayEnd)
}

func (s *Scheduler) provisional(req *models.LabRequest) *models.Booking {
	start := s.earliest(req)
	return &models.Booking{
		ID:          fmt.Sprintf("bk-%d", s.now().UnixMilli()),
		Lab:         s.resolveLab(req),
		Start:       start,
		End:         start.Add(time.Hour),
		Provisional: true,
		Correlation: req.CorrelationID(),
	}
}

func (s *Scheduler) resolveLab(req *models.LabRequest) string {
	if req.PreferredLab != "" {
		return req.PreferredLab
	}
	return s.config.DefaultLab
}

func (s *Scheduler) earliest(req *models.LabRequest) time.Time {
	if req.PreferredDate != nil {
		return req.PreferredDate.UTC()
	}
	return s.now().UTC()
}
