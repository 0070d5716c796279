package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"pland/internal/planner"
	logx "pland/pkg/logx"
)

const googleAPIBase = "https://www.googleapis.com/calendar/v3"

// GoogleConfig tunes the OAuth calendar adapter. RatePerSecond caps
// outbound API calls across all accounts sharing the adapter.
type GoogleConfig struct {
	BaseURL       string
	RatePerSecond float64
	Burst         int
	HTTPClient    *http.Client
}

// Google reads a remote calendar through its events.list API using a
// bearer token minted from the account's credential reference.
type Google struct {
	base    string
	creds   CredentialSource
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func NewGoogle(cfg GoogleConfig, creds CredentialSource, log logx.Logger) *Google {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = googleAPIBase
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Google{
		base:    base,
		creds:   creds,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log,
	}
}

func (g *Google) Kind() planner.Provider { return planner.ProviderGoogle }

func (g *Google) FetchEvents(ctx context.Context, account planner.CalendarAccount, start, end time.Time) ([]planner.Event, error) {
	token, err := g.creds.Resolve(ctx, account.CredentialRef)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}
	calendarID := account.ExternalID
	if calendarID == "" {
		calendarID = "primary"
	}

	var out []planner.Event
	pageToken := ""
	for {
		events, next, err := g.fetchPage(ctx, token, calendarID, start, end, pageToken)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
		if next == "" {
			return out, nil
		}
		pageToken = next
	}
}

func (g *Google) fetchPage(ctx context.Context, token, calendarID string, start, end time.Time, pageToken string) ([]planner.Event, string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	params := url.Values{}
	params.Set("timeMin", start.UTC().Format(time.RFC3339))
	params.Set("timeMax", end.UTC().Format(time.RFC3339))
	params.Set("singleEvents", "true")
	params.Set("orderBy", "startTime")
	params.Set("maxResults", "250")
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	reqURL := fmt.Sprintf("%s/calendars/%s/events?%s", g.base, url.PathEscape(calendarID), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("calendar api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("calendar api: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, "", fmt.Errorf("calendar api: status %d: %s", resp.StatusCode, msg)
	}

	var wire googleEventList
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, "", fmt.Errorf("calendar api: decode: %w", err)
	}

	events := make([]planner.Event, 0, len(wire.Items))
	for _, item := range wire.Items {
		// singleEvents=true surfaces cancelled recurrence instances.
		if item.Status == "cancelled" {
			continue
		}
		ev, err := item.toEvent(calendarID)
		if err != nil {
			g.log.Debug("skipping malformed remote event", logx.String("event_id", item.ID), logx.Err(err))
			continue
		}
		events = append(events, ev)
	}
	return events, wire.NextPageToken, nil
}

type googleEventList struct {
	Items         []googleEvent `json:"items"`
	NextPageToken string        `json:"nextPageToken"`
}

type googleEvent struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Summary     string          `json:"summary"`
	Description string          `json:"description"`
	Location    string          `json:"location"`
	Start       googleEventTime `json:"start"`
	End         googleEventTime `json:"end"`
}

// googleEventTime is either a timed dateTime or an all-day date.
type googleEventTime struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
}

func (t googleEventTime) resolve() (time.Time, bool, error) {
	if t.DateTime != "" {
		ts, err := time.Parse(time.RFC3339, t.DateTime)
		return ts, false, err
	}
	if t.Date != "" {
		ts, err := time.Parse("2006-01-02", t.Date)
		return ts, true, err
	}
	return time.Time{}, false, errors.New("no date or dateTime")
}

func (e googleEvent) toEvent(calendarID string) (planner.Event, error) {
	start, allDay, err := e.Start.resolve()
	if err != nil {
		return planner.Event{}, fmt.Errorf("start: %w", err)
	}
	end, _, err := e.End.resolve()
	if err != nil {
		return planner.Event{}, fmt.Errorf("end: %w", err)
	}
	title := e.Summary
	if title == "" {
		title = "(untitled)"
	}
	return planner.Event{
		ID:          e.ID,
		CalendarID:  calendarID,
		Title:       title,
		Description: e.Description,
		Location:    e.Location,
		StartAt:     start,
		EndAt:       end,
		AllDay:      allDay,
	}, nil
}
