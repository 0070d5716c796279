// Package app wires the planner together: configuration, logging, the
// store, provider adapters, the aggregator, the scheduler, the policy
// runner and the HTTP API, with staged startup and shutdown.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pland/internal/aggregator"
	"pland/internal/api"
	"pland/internal/config"
	"pland/internal/eventbus"
	"pland/internal/policy"
	"pland/internal/provider"
	rtsup "pland/internal/runtime/supervisor"
	"pland/internal/scheduler"
	"pland/internal/solver"
	"pland/internal/store"
	logx "pland/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  *store.Store
	agg    *aggregator.Service
	solver *solver.Client
	sched  *scheduler.Service
	policy *policy.Runner
	api    *api.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logs, root := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log := root.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStoreConfig(cfg)
	if err != nil {
		logs.Close()
		return nil, err
	}
	st, err := store.Open(sc, root.With(logx.String("comp", "store")))
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	// Remote adapters share one credential source; the local adapter reads
	// straight from the store.
	creds := provider.StaticCredentials(cfg.Credentials)
	registry := provider.NewRegistry(
		provider.NewLocal(st),
		provider.NewGoogle(provider.GoogleConfig{
			RatePerSecond: float64(cfg.Aggregator.ProviderRatePerSec),
		}, creds, root.With(logx.String("comp", "provider.google"))),
		provider.NewICS(provider.ICSConfig{
			RatePerSecond: float64(cfg.Aggregator.ProviderRatePerSec),
		}, creds, root.With(logx.String("comp", "provider.ics"))),
	)

	aggCfg, err := mapAggregatorConfig(cfg)
	if err != nil {
		_ = st.Close()
		logs.Close()
		return nil, err
	}
	agg := aggregator.New(aggCfg, st, registry, root.With(logx.String("comp", "aggregator")), bus)

	solCfg, err := mapSolverConfig(cfg)
	if err != nil {
		_ = st.Close()
		logs.Close()
		return nil, err
	}
	if solCfg.BaseURL == "" {
		log.Warn("solver.url is not configured; scheduling runs will fail until it is set")
	}
	sol := solver.New(solCfg, root.With(logx.String("comp", "solver")))

	sched := scheduler.New(cfg.Scheduler, st, agg, sol,
		root.With(logx.String("comp", "scheduler")), bus)

	pol := policy.New(cfg.Policy, st, sched, root, bus)

	apiCfg, err := mapServerConfig(cfg)
	if err != nil {
		_ = st.Close()
		logs.Close()
		return nil, err
	}
	handlers := api.NewHandlers(agg, sched, sol, st, root)
	apiSvc := api.New(apiCfg, handlers, root.With(logx.String("comp", "api")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     bus,
		store:   st,
		agg:     agg,
		solver:  sol,
		sched:   sched,
		policy:  pol,
		api:     apiSvc,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error
// or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	// The runner owns its enabled state; started here so event-triggered
	// policies work even when the cron side is disabled.
	a.policy.Start(a.sup.Context())

	if a.api.Enabled() {
		a.api.Start(a.sup.Context())
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Debug-level; schedule-heavy users produce a lot of these.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest committed config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(c, last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyReload pushes a committed config into the running components.
// Sections that only bind at startup get a restart-required warning.
func (a *App) applyReload(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.log.Debug("config change summary",
		append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	for _, s := range sections {
		switch s {
		case "storage", "solver", "aggregator", "credentials":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}

	a.logs.Apply(logx.Config{
		Level:   next.Logging.Level,
		Console: next.Logging.Console,
		File: logx.FileConfig{
			Enabled: next.Logging.File.Enabled,
			Path:    next.Logging.File.Path,
		},
	})

	a.sched.Apply(next.Scheduler)
	a.policy.Apply(next.Policy)

	if apiCfg, err := mapServerConfig(next); err != nil {
		a.log.Warn("invalid server config; keeping previous", logx.Any("err", err))
	} else {
		a.api.Reconfigure(ctx, apiCfg)
	}

	a.bus.Publish(eventbus.Event{
		Type: eventbus.TypeConfigReloaded,
		Data: eventbus.ConfigReloaded{Sections: sections},
	})
	a.log.Info("config reloaded",
		append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run one shutdown stage with an upper bound so a single component
	// cannot stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("shutdown step starting", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// Respect the caller's deadline; never extend it.
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in shutdown step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("shutdown step failed", logx.String("name", name), logx.String("err", err.Error()))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("shutdown step done", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("shutdown step done", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn must honor stepCtx and return promptly. If it
			// does not, log a leak signal and observe the eventual finish.
			elapsed := time.Since(start)
			a.log.Warn("shutdown step overran its deadline (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", elapsed),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("shutdown step completed late",
						logx.String("name", name), logx.String("err", err.Error()), logx.Duration("took", took))
				} else {
					a.log.Info("shutdown step completed late",
						logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// API first so no new scheduling runs arrive, then the policy runner so
	// no automatic runs fire, then the store once nothing uses it.
	step("api", 3*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	step("policy", 2*time.Second, func(c context.Context) error { a.policy.Stop(c); return nil })
	step("store", 1*time.Second, func(context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, bus log).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
