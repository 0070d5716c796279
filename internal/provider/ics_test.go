package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pland/internal/planner"
	logx "pland/pkg/logx"
)

func icsAccount(ref string) planner.CalendarAccount {
	return planner.CalendarAccount{
		ID:            "acc-1",
		UserID:        "u1",
		Provider:      planner.ProviderICS,
		ExternalID:    "feed-cal",
		CredentialRef: ref,
	}
}

func feedBody(lines ...string) string {
	all := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//pland//EN"}, lines...)
	all = append(all, "END:VCALENDAR", "")
	return strings.Join(all, "\r\n")
}

func serveFeed(t *testing.T, feed string) *ICS {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, feed)
	}))
	t.Cleanup(srv.Close)
	return NewICS(ICSConfig{}, StaticCredentials{"feed-1": srv.URL}, logx.Nop())
}

func TestICSFetchEventsExpandsRecurrence(t *testing.T) {
	t.Parallel()

	f := serveFeed(t, feedBody(
		"BEGIN:VEVENT",
		"UID:standup-1",
		"SUMMARY:Standup",
		"DTSTART:20260302T091500Z",
		"DTEND:20260302T093000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:lunch-1",
		"SUMMARY:Lunch sync",
		"LOCATION:Cafe",
		"DTSTART:20260302T120000Z",
		"DTEND:20260302T124500Z",
		"RRULE:FREQ=DAILY;COUNT=5",
		"EXDATE:20260304T120000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:dup-1",
		"SEQUENCE:0",
		"SUMMARY:Old title",
		"DTSTART:20260305T090000Z",
		"DTEND:20260305T100000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:dup-1",
		"SEQUENCE:2",
		"SUMMARY:New title",
		"DTSTART:20260305T140000Z",
		"DTEND:20260305T150000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:holiday-1",
		"SUMMARY:Public holiday",
		"DTSTART;VALUE=DATE:20260303",
		"DTEND;VALUE=DATE:20260304",
		"END:VEVENT",
	))

	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	events, err := f.FetchEvents(context.Background(), icsAccount("feed-1"), start, start.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("FetchEvents: %v", err)
	}
	if len(events) != 7 {
		t.Fatalf("len(events) = %d, want 7", len(events))
	}

	if events[0].ID != "standup-1" || events[0].Title != "Standup" {
		t.Fatalf("events[0] = %+v", events[0])
	}
	if events[0].CalendarID != "feed-cal" {
		t.Fatalf("CalendarID = %q, want feed-cal", events[0].CalendarID)
	}

	// Daily COUNT=5 minus the excluded day 4 leaves instances on 2, 3, 5, 6.
	wantDays := []int{2, 3, 5, 6}
	for i, ev := range events[1:5] {
		if ev.Title != "Lunch sync" || ev.Location != "Cafe" {
			t.Fatalf("lunch[%d] = %+v", i, ev)
		}
		if got := ev.StartAt.UTC().Day(); got != wantDays[i] {
			t.Fatalf("lunch[%d] day = %d, want %d", i, got, wantDays[i])
		}
		if got := ev.EndAt.Sub(ev.StartAt); got != 45*time.Minute {
			t.Fatalf("lunch[%d] duration = %v, want 45m", i, got)
		}
		wantID := "lunch-1/" + ev.StartAt.UTC().Format(time.RFC3339)
		if ev.ID != wantID {
			t.Fatalf("lunch[%d].ID = %q, want %q", i, ev.ID, wantID)
		}
	}

	if events[5].Title != "New title" {
		t.Fatalf("deduped title = %q, want the higher SEQUENCE copy", events[5].Title)
	}
	if want := time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC); !events[5].StartAt.Equal(want) {
		t.Fatalf("deduped StartAt = %v, want %v", events[5].StartAt, want)
	}

	hol := events[6]
	if !hol.AllDay {
		t.Fatal("date-only event not flagged all-day")
	}
	if want := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC); !hol.StartAt.Equal(want) {
		t.Fatalf("all-day StartAt = %v, want %v", hol.StartAt, want)
	}
	if want := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC); !hol.EndAt.Equal(want) {
		t.Fatalf("all-day EndAt = %v, want %v", hol.EndAt, want)
	}
}

func TestICSOverrideReplacesInstance(t *testing.T) {
	t.Parallel()

	f := serveFeed(t, feedBody(
		"BEGIN:VEVENT",
		"UID:weekly-1",
		"SUMMARY:Team sync",
		"DTSTART:20260302T100000Z",
		"DTEND:20260302T110000Z",
		"RRULE:FREQ=WEEKLY;COUNT=2",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:weekly-1",
		"RECURRENCE-ID:20260309T100000Z",
		"SUMMARY:Team sync (moved)",
		"DTSTART:20260309T140000Z",
		"DTEND:20260309T150000Z",
		"END:VEVENT",
	))

	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	events, err := f.FetchEvents(context.Background(), icsAccount("feed-1"), start, start.AddDate(0, 0, 14))
	if err != nil {
		t.Fatalf("FetchEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Title != "Team sync" {
		t.Fatalf("events[0].Title = %q", events[0].Title)
	}

	moved := events[1]
	if moved.Title != "Team sync (moved)" {
		t.Fatalf("override not applied, Title = %q", moved.Title)
	}
	if want := time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC); !moved.StartAt.Equal(want) {
		t.Fatalf("override StartAt = %v, want %v", moved.StartAt, want)
	}
}

func TestICSOccurrenceSpillsIntoRange(t *testing.T) {
	t.Parallel()

	f := serveFeed(t, feedBody(
		"BEGIN:VEVENT",
		"UID:nightly-1",
		"SUMMARY:Nightly batch",
		"DTSTART:20260225T230000Z",
		"DTEND:20260226T010000Z",
		"RRULE:FREQ=DAILY",
		"END:VEVENT",
	))

	// One-day window. The occurrence starting 23:00 the night before
	// runs until 01:00 and must still show up.
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	events, err := f.FetchEvents(context.Background(), icsAccount("feed-1"), start, start.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("FetchEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if want := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC); !events[0].StartAt.Equal(want) {
		t.Fatalf("events[0].StartAt = %v, want %v", events[0].StartAt, want)
	}
	if want := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC); !events[1].StartAt.Equal(want) {
		t.Fatalf("events[1].StartAt = %v, want %v", events[1].StartAt, want)
	}
}

func TestICSConditionalFetchServesCache(t *testing.T) {
	t.Parallel()

	feed := feedBody(
		"BEGIN:VEVENT",
		"UID:solo-1",
		"SUMMARY:Solo",
		"DTSTART:20260302T090000Z",
		"DTEND:20260302T100000Z",
		"END:VEVENT",
	)

	var hits int
	var conditional []bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		match := r.Header.Get("If-None-Match")
		conditional = append(conditional, match != "")
		if match == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		io.WriteString(w, feed)
	}))

	f := NewICS(ICSConfig{}, StaticCredentials{"feed-1": srv.URL}, logx.Nop())
	acc := icsAccount("feed-1")
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)

	first, err := f.FetchEvents(context.Background(), acc, start, end)
	if err != nil {
		t.Fatalf("first FetchEvents: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("len(first) = %d, want 1", len(first))
	}

	second, err := f.FetchEvents(context.Background(), acc, start, end)
	if err != nil {
		t.Fatalf("second FetchEvents: %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("len(second) = %d, want 1", len(second))
	}
	if hits != 2 {
		t.Fatalf("feed hits = %d, want 2", hits)
	}
	if conditional[0] || !conditional[1] {
		t.Fatalf("conditional = %v, want only the second request conditional", conditional)
	}

	// Feed host gone: the cached body still serves events.
	srv.Close()
	third, err := f.FetchEvents(context.Background(), acc, start, end)
	if err != nil {
		t.Fatalf("FetchEvents after feed went away: %v", err)
	}
	if len(third) != 1 {
		t.Fatalf("len(third) = %d, want 1", len(third))
	}
}
