// Package policy drives automatic rescheduling. Users on the daily
// policy are swept by a cron job; users on the event-triggered policy
// are rescheduled shortly after their calendars change, with a per-user
// debounce so bursts of edits collapse into one run.
package policy

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pland/internal/config"
	"pland/internal/eventbus"
	"pland/internal/planner"
	"pland/internal/scheduler"
	logx "pland/pkg/logx"
)

const (
	// Debounce bounds for event-triggered users: aggressiveness 0 waits
	// debounceMax after the last change, 1 waits debounceMin.
	debounceMax = 5 * time.Minute
	debounceMin = 15 * time.Second

	defaultDailySpec = "0 4 * * *"

	// rescheduleTimeout bounds a single policy-driven run.
	rescheduleTimeout = 2 * time.Minute
)

// Rescheduler is the slice of the scheduling service the runner drives.
type Rescheduler interface {
	RescheduleAll(ctx context.Context, userID, calendarID string, opts scheduler.Options) (*scheduler.RunResult, error)
}

// Store is the read surface the runner needs.
type Store interface {
	ListPolicyUserIDs(ctx context.Context, policy planner.SchedulingPolicy) ([]string, error)
	GetSchedulingConfig(ctx context.Context, userID string) (planner.SchedulingConfig, error)
	GetPrimaryCalendar(ctx context.Context, userID string) (*planner.Calendar, error)
}

type Runner struct {
	mu     sync.Mutex
	cfg    config.PolicyConfig
	c      *cron.Cron
	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}

	store Store
	sched Rescheduler
	log   logx.Logger
	bus   eventbus.Bus

	parser cron.Parser

	// delayFn computes the debounce delay from the user's aggressiveness.
	// Swapped in tests.
	delayFn func(aggressiveness float64) time.Duration

	// Per-user debounce timers. Versions invalidate callbacks from
	// timers that were re-armed or stopped.
	tmu    sync.Mutex
	timers map[string]*time.Timer
	ver    map[string]uint64
}

func New(cfg config.PolicyConfig, st Store, sched Rescheduler, log logx.Logger, bus eventbus.Bus) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	normalize(&cfg)
	return &Runner{
		cfg:     cfg,
		store:   st,
		sched:   sched,
		log:     log.With(logx.String("comp", "policy")),
		bus:     bus,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		delayFn: debounceDelay,
		timers:  map[string]*time.Timer{},
		ver:     map[string]uint64{},
	}
}

func normalize(cfg *config.PolicyConfig) {
	if strings.TrimSpace(cfg.DailySpec) == "" {
		cfg.DailySpec = defaultDailySpec
	}
}

// Enabled reports the current config flag. Apply may run concurrently.
func (r *Runner) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Enabled
}

// Start begins watching the bus and, when enabled, starts the daily cron
// trigger. Idempotent.
func (r *Runner) Start(ctx context.Context) {
	_ = ctx // lifecycle is bounded by Stop, not the startup context

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r.runCtx, r.cancel = runCtx, cancel
	r.done = make(chan struct{})

	if r.cfg.Enabled {
		r.startCronLocked()
	}

	events, unsub := r.bus.Subscribe(16)
	go r.watch(runCtx, events, unsub, r.done)
	r.log.Info("runner started",
		logx.Bool("enabled", r.cfg.Enabled),
		logx.String("daily_spec", r.cfg.DailySpec))
}

// Apply swaps the config. A changed spec or enablement restarts the cron
// trigger; the bus watcher keeps running either way.
func (r *Runner) Apply(cfg config.PolicyConfig) {
	normalize(&cfg)

	r.mu.Lock()
	defer r.mu.Unlock()
	changed := cfg != r.cfg
	r.cfg = cfg
	if !changed || r.done == nil {
		return
	}
	if r.c != nil {
		<-r.c.Stop().Done()
		r.c = nil
	}
	if cfg.Enabled {
		r.startCronLocked()
	}
	r.log.Info("runner reconfigured",
		logx.Bool("enabled", cfg.Enabled),
		logx.String("daily_spec", cfg.DailySpec))
}

// Stop halts the cron trigger, drops pending debounce timers and waits
// for the bus watcher to exit.
func (r *Runner) Stop(ctx context.Context) {
	start := time.Now()

	r.mu.Lock()
	cancel, done, c := r.cancel, r.done, r.c
	r.cancel, r.done, r.runCtx, r.c = nil, nil, nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	r.tmu.Lock()
	for userID, t := range r.timers {
		_ = t.Stop()
		delete(r.timers, userID)
	}
	for userID := range r.ver {
		r.ver[userID]++
	}
	r.tmu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
	}
	r.log.Info("runner stopped", logx.Duration("took", time.Since(start)))
}

// startCronLocked registers the daily sweep. Call with r.mu held and
// r.runCtx set. A broken spec falls back to the default so daily users
// are not silently dropped.
func (r *Runner) startCronLocked() {
	ctx := r.runCtx
	c := cron.New(cron.WithParser(r.parser))
	if _, err := c.AddFunc(r.cfg.DailySpec, func() { r.dailySweep(ctx) }); err != nil {
		r.log.Error("invalid daily spec, using default",
			logx.String("spec", r.cfg.DailySpec), logx.Err(err))
		_, _ = c.AddFunc(defaultDailySpec, func() { r.dailySweep(ctx) })
	}
	c.Start()
	r.c = c
}

func (r *Runner) watch(ctx context.Context, events <-chan eventbus.Event, unsub func(), done chan struct{}) {
	defer close(done)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != eventbus.TypeCalendarInvalidated {
				continue
			}
			inv, ok := ev.Data.(eventbus.CalendarInvalidated)
			if !ok {
				continue
			}
			r.onInvalidated(ctx, inv)
		}
	}
}

func (r *Runner) onInvalidated(ctx context.Context, inv eventbus.CalendarInvalidated) {
	if !r.Enabled() {
		return
	}
	// The scheduler's own writes invalidate too; reacting to those
	// would loop forever.
	if inv.Origin == string(planner.OriginScheduler) {
		return
	}
	cfg, err := r.store.GetSchedulingConfig(ctx, inv.UserID)
	if err != nil {
		r.log.Warn("could not load scheduling config",
			logx.String("user_id", inv.UserID), logx.Err(err))
		return
	}
	if cfg.Policy != planner.PolicyEventTriggered {
		return
	}
	r.arm(ctx, inv.UserID, r.delayFn(cfg.Aggressiveness))
}

// arm starts or re-arms the user's debounce timer. Re-arming bumps the
// version so a callback from the replaced timer becomes a no-op.
func (r *Runner) arm(ctx context.Context, userID string, delay time.Duration) {
	r.tmu.Lock()
	defer r.tmu.Unlock()
	if t, ok := r.timers[userID]; ok {
		_ = t.Stop()
	}
	ver := r.ver[userID] + 1
	r.ver[userID] = ver
	r.timers[userID] = time.AfterFunc(delay, func() {
		r.tmu.Lock()
		if r.ver[userID] != ver {
			r.tmu.Unlock()
			return
		}
		delete(r.timers, userID)
		r.tmu.Unlock()
		r.reschedule(ctx, userID, "calendar_changed")
	})
	r.log.Debug("debounce armed",
		logx.String("user_id", userID), logx.Duration("delay", delay))
}

// dailySweep reschedules every user on the daily policy into their
// primary calendar. One user's failure never aborts the sweep.
func (r *Runner) dailySweep(ctx context.Context) {
	users, err := r.store.ListPolicyUserIDs(ctx, planner.PolicyDaily)
	if err != nil {
		r.log.Warn("could not list daily-policy users", logx.Err(err))
		return
	}
	if len(users) == 0 {
		return
	}
	r.log.Info("daily sweep", logx.Int("users", len(users)))
	for _, userID := range users {
		if ctx.Err() != nil {
			return
		}
		r.reschedule(ctx, userID, "daily")
	}
}

func (r *Runner) reschedule(ctx context.Context, userID, trigger string) {
	cal, err := r.store.GetPrimaryCalendar(ctx, userID)
	if err != nil {
		r.log.Warn("no writable calendar for automatic rescheduling",
			logx.String("user_id", userID), logx.Err(err))
		return
	}
	runCtx, cancel := context.WithTimeout(ctx, rescheduleTimeout)
	defer cancel()
	res, err := r.sched.RescheduleAll(runCtx, userID, cal.ID, scheduler.Options{})
	if err != nil {
		r.log.Warn("automatic reschedule failed",
			logx.String("user_id", userID),
			logx.String("trigger", trigger),
			logx.Err(err))
		return
	}
	r.log.Info("automatic reschedule finished",
		logx.String("user_id", userID),
		logx.String("trigger", trigger),
		logx.String("status", string(res.Meta.Status)),
		logx.Int("scheduled", len(res.ScheduledTaskIDs)),
		logx.Int("unscheduled", len(res.Unscheduled)))
}

// debounceDelay interpolates linearly between the bounds.
func debounceDelay(aggressiveness float64) time.Duration {
	if aggressiveness < 0 {
		aggressiveness = 0
	}
	if aggressiveness > 1 {
		aggressiveness = 1
	}
	return debounceMax - time.Duration(aggressiveness*float64(debounceMax-debounceMin))
}
