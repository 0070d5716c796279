package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
	"golang.org/x/time/rate"

	"pland/internal/planner"
	logx "pland/pkg/logx"
)

const defaultMaxOccurrences = 1000

// ICSConfig tunes the feed adapter. RatePerSecond caps outbound feed
// fetches across all accounts sharing the adapter.
type ICSConfig struct {
	HTTPClient    *http.Client
	RatePerSecond float64
	Burst         int
	// MaxOccurrences caps recurrence expansion per event.
	MaxOccurrences int
}

// ICS reads a subscribed calendar feed. The account's credential ref
// resolves to the feed URL. Fetches are conditional (ETag/Last-Modified)
// with an in-memory cache per account, and the cached body doubles as a
// fallback when the feed host is unreachable.
type ICS struct {
	creds   CredentialSource
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
	maxOcc  int

	mu    sync.Mutex
	cache map[string]*icsCache
}

type icsCache struct {
	etag         string
	lastModified string
	body         []byte
}

func NewICS(cfg ICSConfig, creds CredentialSource, log logx.Logger) *ICS {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	maxOcc := cfg.MaxOccurrences
	if maxOcc <= 0 {
		maxOcc = defaultMaxOccurrences
	}
	return &ICS{
		creds:   creds,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log,
		maxOcc:  maxOcc,
		cache:   make(map[string]*icsCache),
	}
}

func (f *ICS) Kind() planner.Provider { return planner.ProviderICS }

func (f *ICS) FetchEvents(ctx context.Context, account planner.CalendarAccount, start, end time.Time) ([]planner.Event, error) {
	feedURL, err := f.creds.Resolve(ctx, account.CredentialRef)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}

	body, err := f.fetch(ctx, account.ID, feedURL)
	if err != nil {
		return nil, err
	}

	parsed, err := parseFeed(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	calendarID := account.ExternalID
	if calendarID == "" {
		calendarID = "ics"
	}
	return f.expand(parsed, calendarID, start, end), nil
}

// fetch performs a conditional GET against the feed.
func (f *ICS) fetch(ctx context.Context, accountID, feedURL string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	f.mu.Lock()
	cached := f.cache[accountID]
	f.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		if cached.etag != "" {
			req.Header.Set("If-None-Match", cached.etag)
		}
		if cached.lastModified != "" {
			req.Header.Set("If-Modified-Since", cached.lastModified)
		}
	}

	resp, err := f.http.Do(req)
	if err != nil {
		if cached != nil {
			f.log.Warn("feed unreachable, serving cached body", logx.String("account_id", accountID), logx.Err(err))
			return cached.body, nil
		}
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read feed: %w", err)
		}
		f.mu.Lock()
		f.cache[accountID] = &icsCache{
			etag:         resp.Header.Get("ETag"),
			lastModified: resp.Header.Get("Last-Modified"),
			body:         body,
		}
		f.mu.Unlock()
		return body, nil

	case http.StatusNotModified:
		if cached == nil {
			return nil, errors.New("feed returned 304 with no cached body")
		}
		return cached.body, nil

	default:
		if cached != nil {
			f.log.Warn("feed returned error status, serving cached body",
				logx.String("account_id", accountID), logx.Int("status", resp.StatusCode))
			return cached.body, nil
		}
		return nil, fmt.Errorf("fetch feed: status %d", resp.StatusCode)
	}
}

// feedEvent is one parsed VEVENT before recurrence expansion.
type feedEvent struct {
	uid          string
	seq          int
	summary      string
	description  string
	location     string
	start, end   time.Time
	allDay       bool
	rrule        string
	exDates      []time.Time
	recurrenceID *time.Time
}

func parseFeed(body []byte) ([]feedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty feed body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var out []feedEvent
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(ve)
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func parseVEvent(ve *ical.VEvent) (feedEvent, error) {
	var out feedEvent

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.uid = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.seq = n
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.location = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	end, err := ve.GetEndAt()
	if err != nil {
		// DTEND is optional; all-day events default to one day below.
		end = start
	}
	out.start, out.end = start, end

	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			out.allDay = true
		}
		if !strings.Contains(p.Value, "T") {
			out.allDay = true
		}
		if out.allDay {
			// The library parses bare dates in the host zone; all-day
			// events are normalized to UTC midnight instead.
			if t, perr := parseFeedTime(p.Value); perr == nil {
				out.start = t
			}
		}
	}
	if out.allDay {
		out.end = out.start.Add(24 * time.Hour)
		if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
			if t, perr := parseFeedTime(p.Value); perr == nil && t.After(out.start) {
				out.end = t
			}
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.rrule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseFeedTime(strings.TrimSpace(part)); err == nil {
				out.exDates = append(out.exDates, t)
			}
		}
	}
	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, err := parseFeedTime(p.Value); err == nil {
			out.recurrenceID = &t
		}
	}
	return out, nil
}

// parseFeedTime parses the basic DATE/DATE-TIME forms found in EXDATE and
// RECURRENCE-ID values.
func parseFeedTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.UTC)
	}
	return time.ParseInLocation("20060102", v, time.UTC)
}

// expand turns parsed events into concrete instances strictly overlapping
// [rangeStart, rangeEnd). Recurring instances get an id derived from the
// UID plus the occurrence start so instances stay distinct across weeks.
func (f *ICS) expand(events []feedEvent, calendarID string, rangeStart, rangeEnd time.Time) []planner.Event {
	// A republished event shares its UID with the stale copy; the highest
	// SEQUENCE wins.
	baseByUID := make(map[string]feedEvent)
	var order []string
	overrides := make(map[string][]feedEvent)
	for _, ev := range events {
		if ev.recurrenceID != nil {
			overrides[ev.uid] = append(overrides[ev.uid], ev)
			continue
		}
		prev, seen := baseByUID[ev.uid]
		if !seen {
			order = append(order, ev.uid)
		}
		if !seen || ev.seq >= prev.seq {
			baseByUID[ev.uid] = ev
		}
	}

	var out []planner.Event
	for _, uid := range order {
		ev := baseByUID[uid]
		if ev.rrule == "" {
			inst := ev
			if o, ok := findOverride(overrides[ev.uid], ev.start); ok {
				inst = o
			}
			out = appendInstance(out, inst, ev.uid, calendarID, inst.start, inst.end, rangeStart, rangeEnd)
			continue
		}

		r, err := rrule.StrToRRule(ev.rrule)
		if err != nil {
			f.log.Warn("unparseable RRULE, keeping base instance only",
				logx.String("uid", ev.uid), logx.Err(err))
			out = appendInstance(out, ev, ev.uid, calendarID, ev.start, ev.end, rangeStart, rangeEnd)
			continue
		}
		r.DTStart(ev.start)

		var set rrule.Set
		set.RRule(r)
		for _, ex := range ev.exDates {
			set.ExDate(ex.In(ev.start.Location()))
		}

		dur := ev.end.Sub(ev.start)
		if dur <= 0 {
			dur = 24 * time.Hour
		}
		// Widen the left edge so an occurrence that starts before the
		// range but spills into it is still produced.
		starts := set.Between(rangeStart.Add(-dur).In(ev.start.Location()), rangeEnd.In(ev.start.Location()), true)
		if len(starts) > f.maxOcc {
			starts = starts[:f.maxOcc]
		}

		for _, occStart := range starts {
			occEnd := occStart.Add(dur)
			if ev.allDay {
				day := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
				occStart, occEnd = day, day.Add(24*time.Hour)
			}
			inst := ev
			if o, ok := findOverride(overrides[ev.uid], occStart); ok {
				inst = o
				occStart, occEnd = o.start, o.end
			}
			id := ev.uid + "/" + occStart.UTC().Format(time.RFC3339)
			out = appendInstance(out, inst, id, calendarID, occStart, occEnd, rangeStart, rangeEnd)
		}
	}
	return out
}

func findOverride(overs []feedEvent, start time.Time) (feedEvent, bool) {
	for _, o := range overs {
		if o.recurrenceID != nil && o.recurrenceID.Equal(start) {
			return o, true
		}
	}
	return feedEvent{}, false
}

func appendInstance(out []planner.Event, ev feedEvent, id, calendarID string, start, end, rangeStart, rangeEnd time.Time) []planner.Event {
	if !start.Before(rangeEnd) || !end.After(rangeStart) {
		return out
	}
	title := ev.summary
	if title == "" {
		title = "(untitled)"
	}
	return append(out, planner.Event{
		ID:          id,
		CalendarID:  calendarID,
		Title:       title,
		Description: ev.description,
		Location:    ev.location,
		StartAt:     start,
		EndAt:       end,
		AllDay:      ev.allDay,
	})
}
