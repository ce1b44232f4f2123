package models

import "time"

// Booking is the outcome of scheduling a lab slot.
type Booking struct {
	// ID is the calendar event id, or a synthetic id for provisional
	// bookings.
	ID string `json:"id"`

	// Lab is the lab the slot was booked in.
	Lab string `json:"lab"`

	// Start and End are the actual booked times, which may differ from
	// the preferred time when the preferred slot was taken.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// CalendarURL links to the calendar event. Empty for provisional
	// bookings.
	CalendarURL string `json:"calendar_url,omitempty"`

	// Provisional marks a degraded placeholder created because the
	// calendar system was unreachable. Requires manual reconciliation.
	Provisional bool `json:"provisional"`

	// Correlation is the tracing id threaded from the request.
	Correlation string `json:"correlation,omitempty"`
}

// Delivery is the outcome of one best-effort notification send.
type Delivery struct {
	// To is the recipient address.
	To string `json:"to"`

	// Subject is the rendered message subject.
	Subject string `json:"subject"`

	// Template names the template used.
	Template string `json:"template,omitempty"`

	// Warning is set when the send failed. The failure never propagates
	// as an error.
	Warning string `json:"warning,omitempty"`
}

// InventoryResult is the outcome of checking a material list against stock.
type InventoryResult struct {
	// MaterialEnough reports whether all materials are sufficiently
	// stocked.
	MaterialEnough bool `json:"material_enough"`

	// MissingItems lists materials that are absent, below minimum, or
	// unparseable, in request order.
	MissingItems []string `json:"missing_items"`

	// Warning is set when the lookup itself failed and the checker
	// failed open.
	Warning string `json:"warning,omitempty"`
}
