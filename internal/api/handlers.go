package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"pland/internal/aggregator"
	"pland/internal/planner"
	"pland/internal/scheduler"
	"pland/internal/solver"
	logx "pland/pkg/logx"
)

// Scheduler is the slice of the scheduling service the API drives.
type Scheduler interface {
	ScheduleTasks(ctx context.Context, userID string, opts scheduler.Options) (*scheduler.RunResult, error)
	ScheduleAndSave(ctx context.Context, userID, calendarID string, opts scheduler.Options) (*scheduler.RunResult, error)
	RescheduleAll(ctx context.Context, userID, calendarID string, opts scheduler.Options) (*scheduler.RunResult, error)
}

// SolverProber reports the remote solver's liveness.
type SolverProber interface {
	Health(ctx context.Context) (*solver.Health, error)
}

// CalendarRegistry resolves a user's default write target.
type CalendarRegistry interface {
	GetPrimaryCalendar(ctx context.Context, userID string) (*planner.Calendar, error)
}

type Handlers struct {
	agg   *aggregator.Service
	sched Scheduler
	probe SolverProber
	cals  CalendarRegistry
	log   logx.Logger

	// Per-user scheduling locks. Entries are never removed; the map is
	// bounded by the user population.
	lmu   sync.Mutex
	locks map[string]*sync.Mutex
}

func NewHandlers(agg *aggregator.Service, sched Scheduler, probe SolverProber, cals CalendarRegistry, log logx.Logger) *Handlers {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handlers{
		agg:   agg,
		sched: sched,
		probe: probe,
		cals:  cals,
		log:   log.With(logx.String("comp", "api")),
		locks: map[string]*sync.Mutex{},
	}
}

// Router builds the route table.
func (h *Handlers) Router(pprofEnabled bool) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /v1/solver/health", h.solverHealth)

	mux.HandleFunc("GET /v1/users/{userID}/events", h.listEvents)
	mux.HandleFunc("POST /v1/users/{userID}/calendars/{calendarID}/events", h.createEvent)
	mux.HandleFunc("PATCH /v1/users/{userID}/events/{eventID}", h.updateEvent)
	mux.HandleFunc("DELETE /v1/users/{userID}/events/{eventID}", h.deleteEvent)

	mux.HandleFunc("POST /v1/users/{userID}/schedule/preview", h.preview)
	mux.HandleFunc("POST /v1/users/{userID}/schedule/confirm", h.confirm)
	mux.HandleFunc("POST /v1/users/{userID}/schedule/reschedule", h.reschedule)

	if pprofEnabled {
		mux.HandleFunc("GET /debug/pprof/", hpprof.Index)
		mux.HandleFunc("GET /debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("GET /debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("GET /debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("GET /debug/pprof/trace", hpprof.Trace)
	}
	return mux
}

type errorBody struct {
	Error string `json:"error"`
}

type eventsBody struct {
	Events []planner.Event `json:"events"`
}

// scheduleRequest is the body of the scheduling endpoints. An empty body
// is valid; CalendarID defaults to the user's primary calendar.
type scheduleRequest struct {
	CalendarID string `json:"calendarId,omitempty"`
	scheduler.Options
}

func (h *Handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handlers) solverHealth(w http.ResponseWriter, r *http.Request) {
	hl, err := h.probe.Health(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "solver unreachable: " + err.Error()})
		return
	}
	status := http.StatusOK
	if !hl.OK() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, hl)
}

func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	start, err := parseTimeParam(r, "start")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	end, err := parseTimeParam(r, "end")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	events, err := h.agg.GetEvents(r.Context(), userID, start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsBody{Events: events})
}

func (h *Handlers) createEvent(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	calendarID := r.PathValue("calendarID")

	var draft planner.EventDraft
	if err := decodeBody(r, &draft); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(draft.Title) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "title is required"})
		return
	}
	if draft.StartAt.IsZero() || draft.EndAt.IsZero() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "startAt and endAt are required"})
		return
	}

	ev, err := h.agg.Writer(planner.OriginUser).CreateEvent(r.Context(), userID, calendarID, draft)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (h *Handlers) updateEvent(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	eventID := r.PathValue("eventID")

	var patch planner.EventPatch
	if err := decodeBody(r, &patch); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad request body: " + err.Error()})
		return
	}

	ev, err := h.agg.Writer(planner.OriginUser).UpdateEvent(r.Context(), userID, eventID, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *Handlers) deleteEvent(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	eventID := r.PathValue("eventID")

	if err := h.agg.Writer(planner.OriginUser).DeleteEvent(r.Context(), userID, eventID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) preview(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	var req scheduleRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad request body: " + err.Error()})
		return
	}

	unlock := h.lockUser(userID)
	defer unlock()

	res, err := h.sched.ScheduleTasks(r.Context(), userID, req.Options)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) confirm(w http.ResponseWriter, r *http.Request) {
	h.runAndSave(w, r, h.sched.ScheduleAndSave)
}

func (h *Handlers) reschedule(w http.ResponseWriter, r *http.Request) {
	h.runAndSave(w, r, h.sched.RescheduleAll)
}

func (h *Handlers) runAndSave(w http.ResponseWriter, r *http.Request,
	run func(ctx context.Context, userID, calendarID string, opts scheduler.Options) (*scheduler.RunResult, error)) {

	userID := r.PathValue("userID")
	var req scheduleRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad request body: " + err.Error()})
		return
	}

	unlock := h.lockUser(userID)
	defer unlock()

	calendarID := strings.TrimSpace(req.CalendarID)
	if calendarID == "" {
		cal, err := h.cals.GetPrimaryCalendar(r.Context(), userID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		calendarID = cal.ID
	}

	res, err := run(r.Context(), userID, calendarID, req.Options)
	var pwe *scheduler.PartialWriteError
	if err != nil && !errors.As(err, &pwe) {
		h.writeError(w, r, err)
		return
	}
	// A partial write still answers 200; the result body carries the
	// per-task failures.
	writeJSON(w, http.StatusOK, res)
}

// lockUser serializes scheduling runs for one user. Two concurrent
// confirms would otherwise double-book the same pending tasks.
func (h *Handlers) lockUser(userID string) func() {
	h.lmu.Lock()
	l, ok := h.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		h.locks[userID] = l
	}
	h.lmu.Unlock()
	l.Lock()
	return l.Unlock
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, planner.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, planner.ErrReadOnlyCalendar):
		writeJSON(w, http.StatusForbidden, errorBody{Error: planner.ErrReadOnlyCalendar.Error()})
	case errors.Is(err, planner.ErrLastWritableCalendar), errors.Is(err, planner.ErrLastWritableAccount):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, planner.ErrInvalidRange):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
	default:
		h.log.Error("request failed",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, fmt.Errorf("query parameter %q is required (RFC 3339)", name)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("query parameter %q: %v", name, err)
	}
	return t, nil
}
