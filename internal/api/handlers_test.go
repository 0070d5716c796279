package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pland/internal/aggregator"
	"pland/internal/eventbus"
	"pland/internal/planner"
	"pland/internal/provider"
	"pland/internal/scheduler"
	"pland/internal/solver"
	"pland/internal/store"
	logx "pland/pkg/logx"
)

var apiBase = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type schedCall struct {
	op         string
	userID     string
	calendarID string
	opts       scheduler.Options
}

type fakeScheduler struct {
	mu        sync.Mutex
	calls     []schedCall
	res       *scheduler.RunResult
	err       error
	delay     time.Duration
	active    int
	maxActive int
}

func (f *fakeScheduler) record(op, userID, calendarID string, opts scheduler.Options) (*scheduler.RunResult, error) {
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.active--
	f.calls = append(f.calls, schedCall{op: op, userID: userID, calendarID: calendarID, opts: opts})
	res, err := f.res, f.err
	f.mu.Unlock()
	return res, err
}

func (f *fakeScheduler) ScheduleTasks(_ context.Context, userID string, opts scheduler.Options) (*scheduler.RunResult, error) {
	return f.record("preview", userID, "", opts)
}

func (f *fakeScheduler) ScheduleAndSave(_ context.Context, userID, calendarID string, opts scheduler.Options) (*scheduler.RunResult, error) {
	return f.record("confirm", userID, calendarID, opts)
}

func (f *fakeScheduler) RescheduleAll(_ context.Context, userID, calendarID string, opts scheduler.Options) (*scheduler.RunResult, error) {
	return f.record("reschedule", userID, calendarID, opts)
}

type fakeProbe struct {
	health *solver.Health
	err    error
}

func (f *fakeProbe) Health(context.Context) (*solver.Health, error) { return f.health, f.err }

type apiFixture struct {
	store  *store.Store
	sched  *fakeScheduler
	probe  *fakeProbe
	h      *Handlers
	router http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	st, err := store.OpenMemory(logx.Nop())
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	agg := aggregator.New(aggregator.Config{CacheTTL: time.Minute}, st,
		provider.NewRegistry(provider.NewLocal(st)), logx.Nop(), eventbus.New())

	f := &apiFixture{
		store: st,
		sched: &fakeScheduler{res: &scheduler.RunResult{
			RunID: "run-1",
			Meta:  scheduler.RunMeta{Status: scheduler.StatusOptimal, SuccessRate: 1},
		}},
		probe: &fakeProbe{health: &solver.Health{Status: "ok", OrToolsVersion: "9.10"}},
	}
	f.h = NewHandlers(agg, f.sched, f.probe, st, logx.Nop())
	f.router = f.h.Router(false)
	return f
}

func (f *apiFixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, httptest.NewRequest(method, target, rd))
	return rr
}

func (f *apiFixture) doRaw(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rr
}

func (f *apiFixture) account(t *testing.T, userID string) string {
	t.Helper()
	a := &planner.CalendarAccount{UserID: userID, Provider: planner.ProviderLocal, Writable: true}
	if err := f.store.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return a.ID
}

func (f *apiFixture) calendar(t *testing.T, accountID, name string, readOnly bool) string {
	t.Helper()
	c := &planner.Calendar{AccountID: accountID, Name: name, ReadOnly: readOnly}
	if err := f.store.CreateCalendar(context.Background(), c); err != nil {
		t.Fatalf("CreateCalendar: %v", err)
	}
	return c.ID
}

func (f *apiFixture) event(t *testing.T, calendarID, title string, start, end time.Time) string {
	t.Helper()
	ev := &planner.Event{CalendarID: calendarID, Title: title, StartAt: start, EndAt: end}
	if err := f.store.CreateEvent(context.Background(), ev); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	return ev.ID
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rr := f.do(t, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rr.Code, rr.Body.String())
	}
}

func TestSolverHealthPassthrough(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rr := f.do(t, http.MethodGet, "/v1/solver/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var h solver.Health
	decodeJSON(t, rr, &h)
	if h.Status != "ok" || h.OrToolsVersion != "9.10" {
		t.Fatalf("health = %+v", h)
	}

	f.probe.health = &solver.Health{Status: "overloaded"}
	if rr := f.do(t, http.MethodGet, "/v1/solver/health", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded status = %d, want 503", rr.Code)
	}

	f.probe.health, f.probe.err = nil, context.DeadlineExceeded
	if rr := f.do(t, http.MethodGet, "/v1/solver/health", nil); rr.Code != http.StatusBadGateway {
		t.Fatalf("unreachable status = %d, want 502", rr.Code)
	}
}

func TestListEvents(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	acc := f.account(t, "u1")
	cal := f.calendar(t, acc, "Personal", false)
	f.event(t, cal, "Standup", apiBase, apiBase.Add(30*time.Minute))
	f.event(t, cal, "Later", apiBase.AddDate(0, 0, 3), apiBase.AddDate(0, 0, 3).Add(time.Hour))

	start := apiBase.Add(-time.Hour).Format(time.RFC3339)
	end := apiBase.Add(24 * time.Hour).Format(time.RFC3339)
	rr := f.do(t, http.MethodGet, "/v1/users/u1/events?start="+start+"&end="+end, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	var body eventsBody
	decodeJSON(t, rr, &body)
	if len(body.Events) != 1 || body.Events[0].Title != "Standup" {
		t.Fatalf("events = %+v, want only Standup", body.Events)
	}

	if rr := f.do(t, http.MethodGet, "/v1/users/u1/events?end="+end, nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing start = %d, want 400", rr.Code)
	}
	if rr := f.do(t, http.MethodGet, "/v1/users/u1/events?start="+end+"&end="+start, nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("inverted range = %d, want 400", rr.Code)
	}
}

func TestCreateEvent(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	acc := f.account(t, "u1")
	cal := f.calendar(t, acc, "Personal", false)
	ro := f.calendar(t, acc, "Feed", true)
	otherAcc := f.account(t, "u2")
	foreign := f.calendar(t, otherAcc, "Other", false)

	draft := planner.EventDraft{Title: "Dentist", StartAt: apiBase, EndAt: apiBase.Add(time.Hour)}

	rr := f.do(t, http.MethodPost, "/v1/users/u1/calendars/"+cal+"/events", draft)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	var created planner.Event
	decodeJSON(t, rr, &created)
	if created.ID == "" || created.CalendarID != cal || !created.StartAt.Equal(apiBase) {
		t.Fatalf("created = %+v", created)
	}
	if _, err := f.store.GetEvent(context.Background(), created.ID); err != nil {
		t.Fatalf("event not persisted: %v", err)
	}

	if rr := f.do(t, http.MethodPost, "/v1/users/u1/calendars/"+ro+"/events", draft); rr.Code != http.StatusForbidden {
		t.Fatalf("read-only calendar = %d, want 403", rr.Code)
	}
	if rr := f.do(t, http.MethodPost, "/v1/users/u1/calendars/"+foreign+"/events", draft); rr.Code != http.StatusNotFound {
		t.Fatalf("foreign calendar = %d, want 404", rr.Code)
	}
	if rr := f.do(t, http.MethodPost, "/v1/users/u1/calendars/missing/events", draft); rr.Code != http.StatusNotFound {
		t.Fatalf("missing calendar = %d, want 404", rr.Code)
	}

	bad := draft
	bad.Title = "  "
	if rr := f.do(t, http.MethodPost, "/v1/users/u1/calendars/"+cal+"/events", bad); rr.Code != http.StatusBadRequest {
		t.Fatalf("blank title = %d, want 400", rr.Code)
	}
	if rr := f.do(t, http.MethodPost, "/v1/users/u1/calendars/"+cal+"/events", planner.EventDraft{Title: "x"}); rr.Code != http.StatusBadRequest {
		t.Fatalf("zero times = %d, want 400", rr.Code)
	}
	if rr := f.doRaw(t, http.MethodPost, "/v1/users/u1/calendars/"+cal+"/events", `{"title":`); rr.Code != http.StatusBadRequest {
		t.Fatalf("truncated json = %d, want 400", rr.Code)
	}
	if rr := f.doRaw(t, http.MethodPost, "/v1/users/u1/calendars/"+cal+"/events",
		`{"title":"x","startAt":"2026-03-02T09:00:00Z","endAt":"2026-03-02T10:00:00Z","bogus":1}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown field = %d, want 400", rr.Code)
	}
}

func TestUpdateEvent(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	acc := f.account(t, "u1")
	cal := f.calendar(t, acc, "Personal", false)
	id := f.event(t, cal, "Standup", apiBase, apiBase.Add(30*time.Minute))

	title := "Standup (moved)"
	rr := f.do(t, http.MethodPatch, "/v1/users/u1/events/"+id, planner.EventPatch{Title: &title})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	var updated planner.Event
	decodeJSON(t, rr, &updated)
	if updated.Title != title {
		t.Fatalf("title = %q, want %q", updated.Title, title)
	}

	// An inverting patch fails validation before touching the store.
	late := apiBase.Add(2 * time.Hour)
	early := apiBase.Add(time.Hour)
	rr = f.do(t, http.MethodPatch, "/v1/users/u1/events/"+id, planner.EventPatch{StartAt: &late, EndAt: &early})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("inverted patch = %d, want 400", rr.Code)
	}

	if rr := f.do(t, http.MethodPatch, "/v1/users/u1/events/missing", planner.EventPatch{Title: &title}); rr.Code != http.StatusNotFound {
		t.Fatalf("missing event = %d, want 404", rr.Code)
	}
	if rr := f.do(t, http.MethodPatch, "/v1/users/u2/events/"+id, planner.EventPatch{Title: &title}); rr.Code != http.StatusNotFound {
		t.Fatalf("foreign user = %d, want 404", rr.Code)
	}
}

func TestDeleteEvent(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	acc := f.account(t, "u1")
	cal := f.calendar(t, acc, "Personal", false)
	ro := f.calendar(t, acc, "Feed", true)
	id := f.event(t, cal, "Standup", apiBase, apiBase.Add(30*time.Minute))
	pinned := f.event(t, ro, "Holiday", apiBase, apiBase.Add(time.Hour))

	rr := f.do(t, http.MethodDelete, "/v1/users/u1/events/"+id, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if _, err := f.store.GetEvent(context.Background(), id); err == nil {
		t.Fatal("event still in the store")
	}

	if rr := f.do(t, http.MethodDelete, "/v1/users/u1/events/"+pinned, nil); rr.Code != http.StatusForbidden {
		t.Fatalf("read-only delete = %d, want 403", rr.Code)
	}
}

func TestPreviewEndpoint(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rr := f.do(t, http.MethodPost, "/v1/users/u1/schedule/preview", map[string]any{"horizonDays": 3})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	var res scheduler.RunResult
	decodeJSON(t, rr, &res)
	if res.RunID != "run-1" {
		t.Fatalf("run id = %q", res.RunID)
	}

	f.sched.mu.Lock()
	defer f.sched.mu.Unlock()
	if len(f.sched.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(f.sched.calls))
	}
	c := f.sched.calls[0]
	if c.op != "preview" || c.userID != "u1" || c.opts.HorizonDays != 3 {
		t.Fatalf("call = %+v", c)
	}
}

func TestConfirmDefaultsToPrimaryCalendar(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	acc := f.account(t, "u1")
	f.calendar(t, acc, "Feed", true)
	primary := f.calendar(t, acc, "Personal", false)

	rr := f.do(t, http.MethodPost, "/v1/users/u1/schedule/confirm", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}

	f.sched.mu.Lock()
	defer f.sched.mu.Unlock()
	if len(f.sched.calls) != 1 || f.sched.calls[0].op != "confirm" || f.sched.calls[0].calendarID != primary {
		t.Fatalf("calls = %+v, want confirm into %s", f.sched.calls, primary)
	}
}

func TestConfirmWithoutWritableCalendar(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rr := f.do(t, http.MethodPost, "/v1/users/u1/schedule/confirm", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}

	f.sched.mu.Lock()
	defer f.sched.mu.Unlock()
	if len(f.sched.calls) != 0 {
		t.Fatalf("scheduler reached without a target: %+v", f.sched.calls)
	}
}

func TestConfirmPartialWriteStays200(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.sched.res = &scheduler.RunResult{
		RunID:            "run-2",
		ScheduledTaskIDs: []string{"t1"},
		WriteFailures:    []scheduler.WriteFailure{{TaskID: "t2", Err: "calendar gone"}},
		Meta:             scheduler.RunMeta{Status: scheduler.StatusFeasible, SuccessRate: 0.5},
	}
	f.sched.err = &scheduler.PartialWriteError{Succeeded: []string{"t1"}, Failed: []string{"t2"}}

	rr := f.do(t, http.MethodPost, "/v1/users/u1/schedule/confirm", map[string]any{"calendarId": "cal1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with failures in the body", rr.Code)
	}
	var res scheduler.RunResult
	decodeJSON(t, rr, &res)
	if len(res.WriteFailures) != 1 || res.WriteFailures[0].TaskID != "t2" {
		t.Fatalf("write failures = %+v", res.WriteFailures)
	}
}

func TestRescheduleEndpoint(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rr := f.do(t, http.MethodPost, "/v1/users/u1/schedule/reschedule",
		map[string]any{"calendarId": "cal9", "horizonDays": 14})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}

	f.sched.mu.Lock()
	defer f.sched.mu.Unlock()
	c := f.sched.calls[0]
	if c.op != "reschedule" || c.calendarID != "cal9" || c.opts.HorizonDays != 14 {
		t.Fatalf("call = %+v", c)
	}
}

func TestSchedulingSerializedPerUser(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.sched.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rr := f.do(t, http.MethodPost, "/v1/users/u1/schedule/confirm", map[string]any{"calendarId": "cal1"})
			if rr.Code != http.StatusOK {
				t.Errorf("status = %d", rr.Code)
			}
		}()
	}
	wg.Wait()

	f.sched.mu.Lock()
	defer f.sched.mu.Unlock()
	if len(f.sched.calls) != 4 {
		t.Fatalf("calls = %d, want 4", len(f.sched.calls))
	}
	if f.sched.maxActive != 1 {
		t.Fatalf("max concurrent runs = %d, want runs serialized per user", f.sched.maxActive)
	}
}

func TestPprofGating(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rr := httptest.NewRecorder()
	f.h.Router(false).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled = %d, want 404", rr.Code)
	}

	rr = httptest.NewRecorder()
	f.h.Router(true).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("pprof enabled = %d, want 200", rr.Code)
	}
}
