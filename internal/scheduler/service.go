// Package scheduler turns pending tasks into calendar placements. It models
// one scheduling window as a constraint problem over minute offsets, hands
// the model to the external solver, and maps the solution back onto event
// drafts; confirmed runs are written through the aggregator's write port so
// cache invalidation and guard rules stay in one place.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"pland/internal/aggregator"
	"pland/internal/config"
	"pland/internal/eventbus"
	"pland/internal/planner"
	"pland/internal/solver"
	"pland/internal/store"
	logx "pland/pkg/logx"
)

const (
	defaultHorizonDays      = 7
	defaultSuccessThreshold = 0.8
	defaultFocusComplexity  = 7
	defaultAlertnessPeak    = 0.7
)

// Service is the scheduling orchestrator.
type Service struct {
	store  *store.Store
	agg    *aggregator.Service
	solver *solver.Client
	log    logx.Logger
	bus    eventbus.Bus

	mu  sync.RWMutex
	cfg config.SchedulerConfig

	now func() time.Time
}

func New(cfg config.SchedulerConfig, st *store.Store, agg *aggregator.Service, sol *solver.Client, log logx.Logger, bus eventbus.Bus) *Service {
	s := &Service{
		store:  st,
		agg:    agg,
		solver: sol,
		log:    log.With(logx.String("comp", "scheduler")),
		bus:    bus,
		now:    time.Now,
	}
	s.Apply(cfg)
	return s
}

// Apply swaps the tuning section; weights take effect on the next run.
func (s *Service) Apply(cfg config.SchedulerConfig) {
	normalizeConfig(&cfg)
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) tuning() config.SchedulerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// normalizeConfig fills zero fields with defaults and clamps the horizon
// bounds to the domain limits.
func normalizeConfig(c *config.SchedulerConfig) {
	if c.DefaultHorizonDays <= 0 {
		c.DefaultHorizonDays = defaultHorizonDays
	}
	if c.MaxHorizonDays <= 0 || c.MaxHorizonDays > planner.HorizonMaxDays {
		c.MaxHorizonDays = planner.HorizonMaxDays
	}
	if c.DefaultHorizonDays > c.MaxHorizonDays {
		c.DefaultHorizonDays = c.MaxHorizonDays
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = defaultSuccessThreshold
	}
	if c.FocusComplexityMin <= 0 {
		c.FocusComplexityMin = defaultFocusComplexity
	}
	if c.AlertnessPeak <= 0 {
		c.AlertnessPeak = defaultAlertnessPeak
	}
	w := &c.Weights
	if w.Placement <= 0 {
		w.Placement = 10
	}
	if w.Earliness <= 0 {
		w.Earliness = 1
	}
	if w.Alertness <= 0 {
		w.Alertness = 25
	}
	if w.Grouping <= 0 {
		w.Grouping = 40
	}
	if w.Balance <= 0 {
		w.Balance = 1
	}
}

// ScheduleTasks runs the pipeline and returns the proposal without writing
// anything back. A solver failure is reported inside the result, not as an
// error; errors are reserved for the orchestrator's own data access.
func (s *Service) ScheduleTasks(ctx context.Context, userID string, opts Options) (*RunResult, error) {
	res, err := s.run(ctx, userID, opts)
	if err != nil {
		return nil, err
	}
	s.publish(userID, res, false)
	return res, nil
}

// ScheduleAndSave runs the pipeline and persists the proposal onto the
// target calendar. The calendar is validated before solving so an
// unconfirmable request never costs solver work. When only part of the
// proposal could be written the result reflects what actually landed and
// the error is a *PartialWriteError.
func (s *Service) ScheduleAndSave(ctx context.Context, userID, calendarID string, opts Options) (*RunResult, error) {
	if err := s.checkTarget(ctx, userID, calendarID); err != nil {
		return nil, err
	}
	res, err := s.run(ctx, userID, opts)
	if err != nil {
		return nil, err
	}
	perr := s.persist(ctx, userID, calendarID, res)
	s.publish(userID, res, true)
	if perr != nil {
		return res, perr
	}
	return res, nil
}

// RescheduleAll removes the task-linked events inside the window, clears
// the affected tasks' scheduled marks, and schedules afresh. A task whose
// event could not be removed keeps its slot and stays out of the new run;
// it shows up in WriteFailures.
func (s *Service) RescheduleAll(ctx context.Context, userID, calendarID string, opts Options) (*RunResult, error) {
	if err := s.checkTarget(ctx, userID, calendarID); err != nil {
		return nil, err
	}
	tuning := s.tuning()
	userCfg, err := s.store.GetSchedulingConfig(ctx, userID)
	if err != nil {
		return nil, err
	}
	loc, err := userCfg.Location()
	if err != nil {
		return nil, err
	}
	base := s.resolveBase(opts, loc)
	horizon := resolveHorizon(opts, userCfg, tuning)

	events, err := s.store.ListTaskEventsInRange(ctx, userID, base, base.AddDate(0, 0, horizon))
	if err != nil {
		return nil, err
	}

	w := s.agg.Writer(planner.OriginScheduler)
	var resets []WriteFailure
	for _, ev := range events {
		if err := w.DeleteEvent(ctx, userID, ev.ID); err != nil {
			s.log.Warn("could not remove scheduled event",
				logx.String("event_id", ev.ID),
				logx.String("task_id", ev.TaskID),
				logx.Err(err))
			resets = append(resets, WriteFailure{TaskID: ev.TaskID, Err: err.Error()})
			continue
		}
		if err := s.store.SetTaskSchedule(ctx, ev.TaskID, nil); err != nil {
			s.log.Warn("could not clear task schedule",
				logx.String("task_id", ev.TaskID),
				logx.Err(err))
			resets = append(resets, WriteFailure{TaskID: ev.TaskID, Err: err.Error()})
		}
	}

	// Pin the base so the fresh run covers the window that was just cleared.
	opts.BaseDate = base
	res, err := s.ScheduleAndSave(ctx, userID, calendarID, opts)
	if res != nil && len(resets) > 0 {
		res.WriteFailures = append(resets, res.WriteFailures...)
	}
	return res, err
}

// runInput is the per-run immutable state shared by every solve attempt.
type runInput struct {
	userID  string
	tasks   []planner.Task
	periods []planner.ExcludedPeriod
	prefs   planner.WorkingPreferences
	userCfg planner.SchedulingConfig
	tuning  config.SchedulerConfig
	base    time.Time
	loc     *time.Location
	log     logx.Logger
}

// run resolves the user's scheduling data, solves, and extends the horizon
// once when the success rate stays under the threshold. The best attempt by
// success rate wins; attempts are never mixed.
func (s *Service) run(ctx context.Context, userID string, opts Options) (*RunResult, error) {
	tuning := s.tuning()

	prefs, err := s.store.GetWorkingPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	userCfg, err := s.store.GetSchedulingConfig(ctx, userID)
	if err != nil {
		return nil, err
	}
	loc, err := userCfg.Location()
	if err != nil {
		return nil, err
	}
	periods, err := s.store.ListExcludedPeriods(ctx, userID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.ListSchedulableTasks(ctx, userID, opts.TaskIDs)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	horizon := resolveHorizon(opts, userCfg, tuning)
	log := s.log.With(logx.String("run_id", runID), logx.String("user_id", userID))

	if len(tasks) == 0 {
		log.Info("no schedulable tasks")
		return &RunResult{
			RunID: runID,
			Meta:  RunMeta{Status: StatusOptimal, SuccessRate: 1, HorizonDays: horizon},
		}, nil
	}

	in := runInput{
		userID:  userID,
		tasks:   tasks,
		periods: periods,
		prefs:   prefs,
		userCfg: userCfg,
		tuning:  tuning,
		base:    s.resolveBase(opts, loc),
		loc:     loc,
		log:     log,
	}

	var best *attempt
	attempts := 0
	for {
		attempts++
		a, err := s.solveOnce(ctx, in, horizon)
		if err != nil {
			return nil, err
		}
		a.horizonDays = horizon
		if best == nil || a.successRate > best.successRate {
			best = a
		}
		if a.status == StatusError {
			// The solver is deterministic; a wider window hits the same failure.
			break
		}
		if a.successRate >= tuning.SuccessThreshold || horizon >= tuning.MaxHorizonDays || attempts > 1 {
			break
		}
		widened := horizon * 2
		if widened > tuning.MaxHorizonDays {
			widened = tuning.MaxHorizonDays
		}
		log.Info("extending horizon",
			logx.Float64("success_rate", a.successRate),
			logx.Int("from_days", horizon),
			logx.Int("to_days", widened))
		horizon = widened
	}

	res := &RunResult{
		RunID:            runID,
		ScheduledTaskIDs: best.scheduled,
		Unscheduled:      best.unscheduled,
		ProposedEvents:   best.drafts,
		Meta: RunMeta{
			Status:      best.status,
			SuccessRate: best.successRate,
			WallTimeMs:  best.wallTime.Milliseconds(),
			HorizonDays: best.horizonDays,
			Attempts:    attempts,
			Error:       best.errMsg,
		},
	}
	log.Info("scheduling run finished",
		logx.String("status", string(best.status)),
		logx.Float64("success_rate", best.successRate),
		logx.Int("scheduled", len(best.scheduled)),
		logx.Int("unscheduled", len(best.unscheduled)),
		logx.Int("attempts", attempts),
		logx.Duration("solver_wall", best.wallTime))
	return res, nil
}

// solveOnce builds and solves the model for one horizon. Transport and
// service failures become an error-status attempt; a Go error means the
// orchestrator itself could not assemble the model.
func (s *Service) solveOnce(ctx context.Context, in runInput, horizonDays int) (*attempt, error) {
	windowEnd := in.base.AddDate(0, 0, horizonDays)
	events, err := s.agg.GetEvents(ctx, in.userID, in.base, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("fetch busy events: %w", err)
	}
	busy := make([]planner.Interval, 0, len(events))
	for _, ev := range events {
		// All-day entries mark context, not occupied hours.
		if ev.AllDay {
			continue
		}
		busy = append(busy, planner.Interval{Start: ev.StartAt, End: ev.EndAt})
	}

	m := buildModel(modelInput{
		tasks:   in.tasks,
		busy:    busy,
		periods: in.periods,
		prefs:   in.prefs,
		user:    in.userCfg,
		tuning:  in.tuning,
		base:    in.base,
		days:    horizonDays,
		loc:     in.loc,
		log:     in.log,
	})
	if len(m.plans) == 0 {
		// Nothing survived planning; the solver has no candidates to place.
		a := &attempt{status: StatusInfeasible}
		a.unscheduled = append(a.unscheduled, m.excluded...)
		return a, nil
	}

	resp, err := s.solver.Solve(ctx, m.req)
	if err != nil {
		in.log.Warn("solver call failed", logx.Err(err))
		return m.failedAttempt(StatusError, ReasonSolverError, err.Error()), nil
	}
	return m.interpret(resp), nil
}

// checkTarget verifies the calendar exists, belongs to the user and is
// writable. A foreign calendar reads as missing.
func (s *Service) checkTarget(ctx context.Context, userID, calendarID string) error {
	cal, err := s.store.GetCalendar(ctx, calendarID)
	if err != nil {
		return err
	}
	if cal.UserID != userID {
		return planner.ErrNotFound
	}
	if cal.ReadOnly {
		return planner.ErrReadOnlyCalendar
	}
	return nil
}

// persist writes the proposal back as one event per session and pins each
// task's scheduled time to its earliest session. Earlier writes are never
// rolled back; tasks hit by a failure move into WriteFailures and out of
// ScheduledTaskIDs.
func (s *Service) persist(ctx context.Context, userID, calendarID string, res *RunResult) error {
	if len(res.ScheduledTaskIDs) == 0 {
		return nil
	}
	w := s.agg.Writer(planner.OriginScheduler)
	failed := map[string]string{}
	starts := map[string]time.Time{}
	for _, draft := range res.ProposedEvents {
		if _, bad := failed[draft.TaskID]; bad {
			// A sibling session already failed; don't persist half a task.
			continue
		}
		if _, err := w.CreateEvent(ctx, userID, calendarID, draft); err != nil {
			s.log.Warn("event write-back failed",
				logx.String("task_id", draft.TaskID),
				logx.String("calendar_id", calendarID),
				logx.Err(err))
			failed[draft.TaskID] = err.Error()
			continue
		}
		if cur, ok := starts[draft.TaskID]; !ok || draft.StartAt.Before(cur) {
			starts[draft.TaskID] = draft.StartAt
		}
	}
	for _, taskID := range res.ScheduledTaskIDs {
		if _, bad := failed[taskID]; bad {
			continue
		}
		at := starts[taskID]
		if err := s.store.SetTaskSchedule(ctx, taskID, &at); err != nil {
			s.log.Warn("could not pin task schedule",
				logx.String("task_id", taskID),
				logx.Err(err))
			failed[taskID] = err.Error()
		}
	}
	if len(failed) == 0 {
		return nil
	}

	perr := &PartialWriteError{}
	var persisted []string
	for _, taskID := range res.ScheduledTaskIDs {
		if msg, bad := failed[taskID]; bad {
			res.WriteFailures = append(res.WriteFailures, WriteFailure{TaskID: taskID, Err: msg})
			perr.Failed = append(perr.Failed, taskID)
			continue
		}
		persisted = append(persisted, taskID)
	}
	res.ScheduledTaskIDs = persisted
	perr.Succeeded = persisted
	return perr
}

func (s *Service) publish(userID string, res *RunResult, persisted bool) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{
		Type: eventbus.TypeScheduleCompleted,
		Data: eventbus.ScheduleCompleted{
			UserID:      userID,
			RunID:       res.RunID,
			Status:      string(res.Meta.Status),
			Scheduled:   len(res.ScheduledTaskIDs),
			Unscheduled: len(res.Unscheduled),
			SuccessRate: res.Meta.SuccessRate,
			Persisted:   persisted,
		},
	})
}

func (s *Service) resolveBase(opts Options, loc *time.Location) time.Time {
	base := opts.BaseDate
	if base.IsZero() {
		base = s.now()
	}
	return base.In(loc).Truncate(time.Minute)
}

func resolveHorizon(opts Options, user planner.SchedulingConfig, tuning config.SchedulerConfig) int {
	h := opts.HorizonDays
	if h <= 0 {
		h = user.HorizonDays
	}
	if h <= 0 {
		h = tuning.DefaultHorizonDays
	}
	if h > tuning.MaxHorizonDays {
		h = tuning.MaxHorizonDays
	}
	if h < planner.HorizonMinDays {
		h = planner.HorizonMinDays
	}
	return h
}
