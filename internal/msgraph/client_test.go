package msgraph

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClientWithHTTP(Config{BaseURL: server.URL, MaxAttempts: 3}, server.Client())
	client.sleep = func(context.Context, time.Duration) error { return nil }
	return client
}

func TestClientRetriesThrottling(t *testing.T) {
	calls := 0
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"value":[]}`))
	}))

	var out listItemsResponse
	if err := client.doJSON(context.Background(), "GET", "/whatever", nil, &out); err != nil {
		t.Fatalf("doJSON: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad filter", http.StatusBadRequest)
	}))

	err := client.doJSON(context.Background(), "GET", "/whatever", nil, nil)
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if calls != 1 {
		t.Fatalf("expected single attempt, got %d", calls)
	}
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))

	err := client.doJSON(context.Background(), "GET", "/whatever", nil, nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestStockDirectoryLookup(t *testing.T) {
	var gotFilter string
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFilter = r.URL.Query().Get("$filter")
		w.Write([]byte(`{"value":[{"fields":{"Material":"O'Neill flask","Quantity":"5","MinQty":"2"}}]}`))
	}))

	dir := NewStockDirectory(client, StockDirectoryConfig{SiteID: "site", ListID: "list"})
	item, found, err := dir.Lookup(context.Background(), "O'Neill flask")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !found {
		t.Fatal("expected row to be found")
	}
	if item.Quantity != "5" || item.MinQty != "2" {
		t.Fatalf("unexpected item: %+v", item)
	}
	// Single quotes in the material name are doubled in the OData literal.
	if !strings.Contains(gotFilter, "O''Neill flask") {
		t.Fatalf("filter not escaped: %q", gotFilter)
	}
}

func TestStockDirectoryLookupMissingRow(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":[]}`))
	}))

	dir := NewStockDirectory(client, StockDirectoryConfig{SiteID: "site", ListID: "list"})
	_, found, err := dir.Lookup(context.Background(), "unobtainium")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if found {
		t.Fatal("expected no row")
	}
}

func TestCalendarIsFree(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "busy") {
			w.Write([]byte(`{"value":[{"id":"evt-1"}]}`))
			return
		}
		w.Write([]byte(`{"value":[]}`))
	}))

	cal := NewCalendar(client)
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Minute)

	free, err := cal.IsFree(context.Background(), "lab-a@school.za", start, end)
	if err != nil {
		t.Fatalf("IsFree: %v", err)
	}
	if !free {
		t.Fatal("expected free calendar")
	}

	free, err = cal.IsFree(context.Background(), "busy@school.za", start, end)
	if err != nil {
		t.Fatalf("IsFree: %v", err)
	}
	if free {
		t.Fatal("expected busy calendar")
	}
}
