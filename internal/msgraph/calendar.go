package msgraph

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// CreatedEvent describes a calendar event after creation.
type CreatedEvent struct {
	ID      string
	WebLink string
}

// Calendar books lab sessions on a user calendar resolved per lab.
type Calendar struct {
	client *Client
}

// NewCalendar creates a calendar adapter over the given client.
func NewCalendar(client *Client) *Calendar {
	return &Calendar{client: client}
}

type calendarViewResponse struct {
	Value []struct {
		ID string `json:"id"`
	} `json:"value"`
}

// IsFree reports whether the calendar has no events overlapping [start, end).
func (c *Calendar) IsFree(ctx context.Context, calendarID string, start, end time.Time) (bool, error) {
	path := fmt.Sprintf("/users/%s/calendarView?startDateTime=%s&endDateTime=%s&$top=1",
		url.PathEscape(calendarID),
		url.QueryEscape(start.UTC().Format(time.RFC3339)),
		url.QueryEscape(end.UTC().Format(time.RFC3339)))

	var resp calendarViewResponse
	if err := c.client.doJSON(ctx, "GET", path, nil, &resp); err != nil {
		return false, fmt.Errorf("calendar view %s: %w", calendarID, err)
	}
	return len(resp.Value) == 0, nil
}

type createEventRequest struct {
	Subject string        `json:"subject"`
	Body    eventBody     `json:"body"`
	Start   eventDateTime `json:"start"`
	End     eventDateTime `json:"end"`
}

type eventBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type eventDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type createEventResponse struct {
	ID      string `json:"id"`
	WebLink string `json:"webLink"`
}

// CreateEvent books an event on the calendar and returns its id and link.
func (c *Calendar) CreateEvent(ctx context.Context, calendarID, subject, description string, start, end time.Time) (CreatedEvent, error) {
	req := createEventRequest{
		Subject: subject,
		Body:    eventBody{ContentType: "text", Content: description},
		Start:   eventDateTime{DateTime: start.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		End:     eventDateTime{DateTime: end.UTC().Format(time.RFC3339), TimeZone: "UTC"},
	}

	var resp createEventResponse
	path := fmt.Sprintf("/users/%s/events", url.PathEscape(calendarID))
	if err := c.client.doJSON(ctx, "POST", path, req, &resp); err != nil {
		return CreatedEvent{}, fmt.Errorf("create event on %s: %w", calendarID, err)
	}
	return CreatedEvent{ID: resp.ID, WebLink: resp.WebLink}, nil
}
