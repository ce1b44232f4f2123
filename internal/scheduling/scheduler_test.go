package scheduling

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/schoolops/labflow/internal/models"
	"github.com/schoolops/labflow/internal/msgraph"
)

type fakeCalendar struct {
	busy      map[time.Time]bool
	freeErr   error
	createErr error
	created   []time.Time
}

func (f *fakeCalendar) IsFree(_ context.Context, _ string, start, _ time.Time) (bool, error) {
	if f.freeErr != nil {
		return false, f.freeErr
	}
	return !f.busy[start], nil
}

func (f *fakeCalendar) CreateEvent(_ context.Context, _, _, _ string, start, _ time.Time) (msgraph.CreatedEvent, error) {
	if f.createErr != nil {
		return msgraph.CreatedEvent{}, f.createErr
	}
	f.created = append(f.created, start)
	return msgraph.CreatedEvent{ID: "evt-1", WebLink: "https://calendar/evt-1"}, nil
}

func testScheduler(cal Calendar) *Scheduler {
	config := DefaultConfig()
	config.Labs = map[string]string{"Lab A": "lab-a@school.za", "Lab B": "lab-b@school.za"}
	return NewScheduler(cal, config)
}

func datePtr(t time.Time) *time.Time { return &t }

func TestSchedulerBooksEarliestSlot(t *testing.T) {
	// Monday.
	preferred := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	cal := &fakeCalendar{busy: map[time.Time]bool{
		// First slot of the day (07:30) is taken.
		time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC): true,
	}}
	s := testScheduler(cal)

	booking, warning := s.Schedule(context.Background(), &models.LabRequest{
		ID:            "req-1",
		PreferredDate: datePtr(preferred),
		PreferredLab:  "Lab B",
	})

	if warning != "" {
		t.Fatalf("unexpected warning: %s", warning)
	}
	if booking.Provisional {
		t.Fatal("expected a real booking")
	}
	wantStart := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if !booking.Start.Equal(wantStart) {
		t.Fatalf("start = %v, want %v", booking.Start, wantStart)
	}
	if !booking.End.Equal(wantStart.Add(90 * time.Minute)) {
		t.Fatalf("end = %v", booking.End)
	}
	if booking.Lab != "Lab B" || booking.CalendarURL == "" {
		t.Fatalf("unexpected booking: %+v", booking)
	}
}

func TestSchedulerBooksPreferredTimeWhenFree(t *testing.T) {
	// Monday 10:00, off the grid anchored at workday start; a free
	// calendar must book exactly the requested time.
	preferred := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	cal := &fakeCalendar{}
	s := testScheduler(cal)

	booking, warning := s.Schedule(context.Background(), &models.LabRequest{
		ID:            "req-6",
		PreferredDate: datePtr(preferred),
	})

	if warning != "" {
		t.Fatalf("unexpected warning: %s", warning)
	}
	if !booking.Start.Equal(preferred) {
		t.Fatalf("start = %v, want preferred time %v", booking.Start, preferred)
	}
	if !booking.End.Equal(preferred.Add(90 * time.Minute)) {
		t.Fatalf("end = %v", booking.End)
	}
}

func TestSchedulerBusyPreferredTimeSearchesForward(t *testing.T) {
	preferred := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	cal := &fakeCalendar{busy: map[time.Time]bool{preferred: true}}
	s := testScheduler(cal)

	booking, warning := s.Schedule(context.Background(), &models.LabRequest{
		ID:            "req-7",
		PreferredDate: datePtr(preferred),
	})

	if warning != "" {
		t.Fatalf("unexpected warning: %s", warning)
	}
	// Next grid slot after the taken 10:00 window.
	wantStart := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	if !booking.Start.Equal(wantStart) {
		t.Fatalf("start = %v, want %v", booking.Start, wantStart)
	}
}

func TestSchedulerSkipsWeekends(t *testing.T) {
	// Saturday: the first candidate day must be the following Monday.
	preferred := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)
	cal := &fakeCalendar{}
	s := testScheduler(cal)

	booking, warning := s.Schedule(context.Background(), &models.LabRequest{
		ID:            "req-2",
		PreferredDate: datePtr(preferred),
	})

	if warning != "" {
		t.Fatalf("unexpected warning: %s", warning)
	}
	if booking.Start.Weekday() != time.Monday {
		t.Fatalf("booked on %v, want Monday", booking.Start.Weekday())
	}
	if booking.Lab != "Lab A" {
		t.Fatalf("default lab not applied: %s", booking.Lab)
	}
}

func TestSchedulerSlotsStayInsideWorkingHours(t *testing.T) {
	preferred := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	// Every Monday slot is busy so the search rolls to Tuesday; count the
	// probes to verify the slot grid.
	cal := &fakeCalendar{busy: map[time.Time]bool{}}
	for h := 0; h < 24; h++ {
		for _, m := range []int{0, 30} {
			cal.busy[time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)] = true
		}
	}
	s := testScheduler(cal)

	booking, warning := s.Schedule(context.Background(), &models.LabRequest{
		ID:            "req-3",
		PreferredDate: datePtr(preferred),
	})

	if warning != "" {
		t.Fatalf("unexpected warning: %s", warning)
	}
	wantStart := time.Date(2026, 3, 3, 7, 30, 0, 0, time.UTC)
	if !booking.Start.Equal(wantStart) {
		t.Fatalf("start = %v, want %v", booking.Start, wantStart)
	}
}

func TestSchedulerFallsBackToProvisional(t *testing.T) {
	preferred := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cal := &fakeCalendar{freeErr: errors.New("graph unreachable")}
	s := testScheduler(cal)

	booking, warning := s.Schedule(context.Background(), &models.LabRequest{
		ID:            "req-4",
		PreferredDate: datePtr(preferred),
	})

	if warning != WarningProvisionalBooking {
		t.Fatalf("warning = %q, want %q", warning, WarningProvisionalBooking)
	}
	if !booking.Provisional {
		t.Fatal("expected provisional booking")
	}
	if !strings.HasPrefix(booking.ID, "bk-") {
		t.Fatalf("expected synthetic id, got %s", booking.ID)
	}
	if !booking.Start.Equal(preferred) || !booking.End.Equal(preferred.Add(time.Hour)) {
		t.Fatalf("unexpected window: %v - %v", booking.Start, booking.End)
	}
	if booking.CalendarURL != "" {
		t.Fatal("provisional booking must not carry a calendar link")
	}
}

func TestSchedulerUnknownLabGoesProvisional(t *testing.T) {
	cal := &fakeCalendar{}
	s := testScheduler(cal)

	booking, warning := s.Schedule(context.Background(), &models.LabRequest{
		ID:           "req-5",
		PreferredLab: "Lab Z",
	})

	if warning != WarningProvisionalBooking || !booking.Provisional {
		t.Fatalf("expected provisional fallback, got %+v (%s)", booking, warning)
	}
	if len(cal.created) != 0 {
		t.Fatal("no event should be created for an unknown lab")
	}
}
