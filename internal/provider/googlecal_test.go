package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"pland/internal/planner"
	logx "pland/pkg/logx"
)

func googleAccount(ref, externalID string) planner.CalendarAccount {
	return planner.CalendarAccount{
		ID:            "acc-1",
		UserID:        "u1",
		Provider:      planner.ProviderGoogle,
		ExternalID:    externalID,
		CredentialRef: ref,
	}
}

func TestGoogleFetchEventsPaginates(t *testing.T) {
	t.Parallel()

	var (
		auths   []string
		queries []url.Values
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calendars/team@example.com/events" {
			t.Errorf("path = %q, want /calendars/team@example.com/events", r.URL.Path)
		}
		auths = append(auths, r.Header.Get("Authorization"))
		queries = append(queries, r.URL.Query())

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("pageToken") == "" {
			w.Write([]byte(`{
				"nextPageToken": "page-2",
				"items": [
					{
						"id": "ev-1",
						"status": "confirmed",
						"summary": "Standup",
						"location": "Room 2",
						"start": {"dateTime": "2026-03-02T09:15:00Z"},
						"end": {"dateTime": "2026-03-02T09:30:00Z"}
					},
					{
						"id": "ev-gone",
						"status": "cancelled",
						"start": {"dateTime": "2026-03-02T10:00:00Z"},
						"end": {"dateTime": "2026-03-02T11:00:00Z"}
					},
					{
						"id": "ev-2",
						"status": "confirmed",
						"start": {"date": "2026-03-03"},
						"end": {"date": "2026-03-04"}
					}
				]
			}`))
			return
		}
		if got := r.URL.Query().Get("pageToken"); got != "page-2" {
			t.Errorf("pageToken = %q, want page-2", got)
		}
		w.Write([]byte(`{
			"items": [
				{
					"id": "ev-3",
					"status": "confirmed",
					"summary": "Review",
					"start": {"dateTime": "2026-03-04T14:00:00Z"},
					"end": {"dateTime": "2026-03-04T15:00:00Z"}
				}
			]
		}`))
	}))
	defer srv.Close()

	creds := StaticCredentials{"ref-1": "tok-abc"}
	g := NewGoogle(GoogleConfig{BaseURL: srv.URL, RatePerSecond: 1000, Burst: 10}, creds, logx.Nop())

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	events, err := g.FetchEvents(context.Background(), googleAccount("ref-1", "team@example.com"), start, start.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("FetchEvents: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3 (cancelled instance dropped)", len(events))
	}
	if events[0].ID != "ev-1" || events[0].Title != "Standup" || events[0].Location != "Room 2" {
		t.Fatalf("events[0] = %+v", events[0])
	}
	if events[0].CalendarID != "team@example.com" {
		t.Fatalf("CalendarID = %q, want team@example.com", events[0].CalendarID)
	}
	if events[0].AllDay {
		t.Fatal("timed event flagged all-day")
	}

	allDay := events[1]
	if !allDay.AllDay || allDay.Title != "(untitled)" {
		t.Fatalf("events[1] = %+v, want untitled all-day", allDay)
	}
	if want := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC); !allDay.StartAt.Equal(want) {
		t.Fatalf("all-day StartAt = %v, want %v", allDay.StartAt, want)
	}
	if want := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC); !allDay.EndAt.Equal(want) {
		t.Fatalf("all-day EndAt = %v, want %v", allDay.EndAt, want)
	}

	if events[2].ID != "ev-3" {
		t.Fatalf("events[2].ID = %q, want ev-3", events[2].ID)
	}

	if len(auths) != 2 {
		t.Fatalf("api calls = %d, want 2", len(auths))
	}
	for _, a := range auths {
		if a != "Bearer tok-abc" {
			t.Fatalf("Authorization = %q, want Bearer tok-abc", a)
		}
	}
	q := queries[0]
	if got := q.Get("timeMin"); got != "2026-03-02T09:00:00Z" {
		t.Fatalf("timeMin = %q", got)
	}
	if got := q.Get("timeMax"); got != "2026-03-09T09:00:00Z" {
		t.Fatalf("timeMax = %q", got)
	}
	if q.Get("singleEvents") != "true" || q.Get("orderBy") != "startTime" {
		t.Fatalf("query = %v, want singleEvents=true orderBy=startTime", q)
	}
}

func TestGoogleFetchEventsDefaultsToPrimary(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calendars/primary/events" {
			t.Errorf("path = %q, want /calendars/primary/events", r.URL.Path)
		}
		w.Write([]byte(`{"items": []}`))
	}))
	defer srv.Close()

	g := NewGoogle(GoogleConfig{BaseURL: srv.URL}, StaticCredentials{"ref-1": "tok"}, logx.Nop())
	events, err := g.FetchEvents(context.Background(), googleAccount("ref-1", ""), time.Now(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("FetchEvents: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("len(events) = %d, want 0", len(events))
	}
}

func TestGoogleFetchEventsAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error": {"code": 403, "message": "insufficient permissions"}}`))
	}))
	defer srv.Close()

	g := NewGoogle(GoogleConfig{BaseURL: srv.URL}, StaticCredentials{"ref-1": "tok"}, logx.Nop())
	_, err := g.FetchEvents(context.Background(), googleAccount("ref-1", "cal"), time.Now(), time.Now().Add(time.Hour))
	if err == nil {
		t.Fatal("FetchEvents succeeded on a 403 response")
	}
	if !strings.Contains(err.Error(), "status 403") {
		t.Fatalf("err = %v, want status 403 mentioned", err)
	}
}

func TestGoogleFetchEventsMissingCredential(t *testing.T) {
	t.Parallel()

	g := NewGoogle(GoogleConfig{BaseURL: "http://unused"}, StaticCredentials{}, logx.Nop())
	_, err := g.FetchEvents(context.Background(), googleAccount("ref-missing", "cal"), time.Now(), time.Now().Add(time.Hour))
	if err == nil {
		t.Fatal("FetchEvents succeeded without a credential")
	}
	if !strings.Contains(err.Error(), "ref-missing") {
		t.Fatalf("err = %v, want the credential ref named", err)
	}
}
