// Package aggregator merges calendar events from every account a user has
// connected, caches merged weeks with a short TTL, and owns the guarded
// write path for event mutations.
//
// Reads degrade per account: a provider that fails or whose circuit is
// open contributes nothing and the rest of the calendar still renders.
// Writes are strict: unknown or foreign ids are ErrNotFound, read-only
// calendars are ErrReadOnlyCalendar, and every successful mutation drops
// the user's cached weeks and announces itself on the event bus.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"pland/internal/eventbus"
	"pland/internal/planner"
	"pland/internal/provider"
	logx "pland/pkg/logx"
)

// Store is the subset of the datastore the aggregator needs.
type Store interface {
	ListAccounts(ctx context.Context, userID string) ([]planner.CalendarAccount, error)
	GetCalendar(ctx context.Context, id string) (*planner.Calendar, error)
	GetEvent(ctx context.Context, id string) (*planner.Event, error)
	CreateEvent(ctx context.Context, e *planner.Event) error
	UpdateEvent(ctx context.Context, e *planner.Event) error
	DeleteEvent(ctx context.Context, id string) error
}

// Config tunes the aggregator.
type Config struct {
	// CacheTTL is how long a cached week stays fresh. Default: 5m.
	CacheTTL time.Duration
	// CacheMaxEntries caps cached weeks across all users. Default: 4096.
	CacheMaxEntries int
	// FetchTimeout bounds one provider account fetch. Default: 15s.
	FetchTimeout time.Duration
	// Location anchors ISO week boundaries. Default: UTC.
	Location *time.Location
}

type Service struct {
	store    Store
	registry *provider.Registry
	breaker  *provider.Breaker
	cache    *WeekCache
	log      logx.Logger
	bus      eventbus.Bus

	fetchTimeout time.Duration
	loc          *time.Location
}

func New(cfg Config, store Store, registry *provider.Registry, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{
		store:        store,
		registry:     registry,
		breaker:      provider.NewBreaker(provider.BreakerConfig{}),
		cache:        NewWeekCache(WeekCacheConfig{TTL: cfg.CacheTTL, MaxEntries: cfg.CacheMaxEntries}),
		log:          log,
		bus:          bus,
		fetchTimeout: cfg.FetchTimeout,
		loc:          cfg.Location,
	}
}

// GetEvents returns every event of the user's accounts overlapping
// [start, end), merged across providers, deduplicated by id and sorted by
// start time (ties by id). Provider failures degrade to missing events,
// never to a caller error.
func (s *Service) GetEvents(ctx context.Context, userID string, start, end time.Time) ([]planner.Event, error) {
	if !end.After(start) {
		return nil, planner.ErrInvalidRange
	}
	accounts, err := s.store.ListAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	seen := make(map[string]bool)
	var out []planner.Event
	for _, ws := range planner.WeeksCovering(start, end, s.loc) {
		evs, err := s.weekEvents(ctx, userID, accounts, ws)
		if err != nil {
			return nil, err
		}
		for _, ev := range evs {
			// An event spanning a week boundary comes back once per week.
			if seen[ev.ID] {
				continue
			}
			seen[ev.ID] = true
			if ev.Overlaps(start, end) {
				out = append(out, ev)
			}
		}
	}
	sortEvents(out)
	return out, nil
}

// weekEvents returns the merged events of one cached week, fetching every
// account concurrently on a miss.
func (s *Service) weekEvents(ctx context.Context, userID string, accounts []planner.CalendarAccount, weekStart time.Time) ([]planner.Event, error) {
	key := weekKey(userID, weekStart)
	if evs, ok := s.cache.Get(key); ok {
		return evs, nil
	}
	weekEnd := weekStart.AddDate(0, 0, 7)

	results := make([][]planner.Event, len(accounts))
	var wg sync.WaitGroup
	for i, acc := range accounts {
		adapter, err := s.registry.For(acc.Provider)
		if err != nil {
			s.log.Warn("account has no adapter",
				logx.String("account_id", acc.ID), logx.Err(err))
			continue
		}
		if ok, until := s.breaker.Allow(acc.ID); !ok {
			s.log.Warn("account circuit open, skipping fetch",
				logx.String("account_id", acc.ID), logx.Time("until", until))
			continue
		}

		wg.Add(1)
		go func(i int, acc planner.CalendarAccount) {
			defer wg.Done()
			fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
			defer cancel()

			evs, err := adapter.FetchEvents(fctx, acc, weekStart, weekEnd)
			if errors.Is(err, context.Canceled) {
				// Caller went away; not an upstream failure.
				return
			}
			s.breaker.Record(acc.ID, err)
			if err != nil {
				ferr := &planner.FetchError{AccountID: acc.ID, Provider: acc.Provider, Err: err}
				s.log.Warn("calendar fetch degraded to empty",
					logx.String("user_id", userID), logx.Err(ferr))
				return
			}
			results[i] = evs
		}(i, acc)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var merged []planner.Event
	for _, evs := range results {
		merged = append(merged, evs...)
	}
	sortEvents(merged)
	s.cache.Put(key, merged)
	return merged, nil
}

// Invalidate drops the user's cached weeks and announces the change on the
// bus. reason is a short machine tag such as "event_created".
func (s *Service) Invalidate(userID string, origin planner.Origin, reason string) {
	dropped := s.cache.InvalidateUser(userID)
	s.log.Debug("calendar cache invalidated",
		logx.String("user_id", userID),
		logx.String("origin", string(origin)),
		logx.String("reason", reason),
		logx.Int("dropped_weeks", dropped))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeCalendarInvalidated,
			Data: eventbus.CalendarInvalidated{UserID: userID, Origin: string(origin), Reason: reason},
		})
	}
}

// CacheEntries reports how many weeks are currently cached.
func (s *Service) CacheEntries() int { return s.cache.Len() }

// BreakerStats reports tracked and currently open fetch circuits.
func (s *Service) BreakerStats() (total, open int) { return s.breaker.Snapshot() }

func sortEvents(evs []planner.Event) {
	sort.Slice(evs, func(i, j int) bool {
		if !evs[i].StartAt.Equal(evs[j].StartAt) {
			return evs[i].StartAt.Before(evs[j].StartAt)
		}
		return evs[i].ID < evs[j].ID
	})
}
