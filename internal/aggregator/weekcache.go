package aggregator

import (
	"strings"
	"sync"
	"time"

	"pland/internal/planner"
)

// weekKey is the cache key for one user week. Week starts are Monday 00:00
// in the aggregator's reference timezone.
func weekKey(userID string, weekStart time.Time) string {
	return "calendars:" + userID + ":week:" + weekStart.Format("2006-01-02")
}

func userKeyPrefix(userID string) string {
	return "calendars:" + userID + ":"
}

// WeekCacheConfig tunes the weekly event cache.
type WeekCacheConfig struct {
	// TTL is how long a cached week stays fresh. Default: 5m.
	TTL time.Duration
	// MaxEntries caps cached weeks across all users. Default: 4096.
	MaxEntries int
	// SweepInterval is how often an O(n) expiry sweep piggybacks on cache
	// operations. Default: 1m.
	SweepInterval time.Duration
}

// WeekCache is an in-memory TTL cache of merged per-week event lists.
// Entries expire after the TTL and are additionally dropped wholesale by
// InvalidateUser whenever anything about the user's calendars changes.
type WeekCache struct {
	mu sync.RWMutex

	ttl       time.Duration
	max       int
	sweepEach time.Duration
	nextSweep time.Time

	now func() time.Time

	m map[string]weekEntry
}

type weekEntry struct {
	events []planner.Event
	exp    time.Time
}

func NewWeekCache(cfg WeekCacheConfig) *WeekCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 4096
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &WeekCache{
		ttl:       cfg.TTL,
		max:       cfg.MaxEntries,
		sweepEach: cfg.SweepInterval,
		now:       time.Now,
		m:         map[string]weekEntry{},
	}
}

// Get returns the cached events for key. The returned slice is the
// caller's to keep.
func (c *WeekCache) Get(key string) ([]planner.Event, bool) {
	now := c.now()
	c.maybeSweep(now)

	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if now.After(e.exp) {
		c.mu.Lock()
		// Re-check under the write lock.
		if e2, ok2 := c.m[key]; ok2 && now.After(e2.exp) {
			delete(c.m, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return append([]planner.Event(nil), e.events...), true
}

// Put stores events under key for the configured TTL.
func (c *WeekCache) Put(key string, events []planner.Event) {
	now := c.now()
	c.maybeSweep(now)

	c.mu.Lock()
	c.m[key] = weekEntry{
		events: append([]planner.Event(nil), events...),
		exp:    now.Add(c.ttl),
	}
	c.enforceMaxLocked()
	c.mu.Unlock()
}

// InvalidateUser drops every cached week belonging to userID and reports
// how many entries went away.
func (c *WeekCache) InvalidateUser(userID string) int {
	prefix := userKeyPrefix(userID)

	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.m {
		if strings.HasPrefix(k, prefix) {
			delete(c.m, k)
			n++
		}
	}
	return n
}

// Len counts cached entries, including expired ones the sweep has not
// visited yet.
func (c *WeekCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

func (c *WeekCache) maybeSweep(now time.Time) {
	c.mu.RLock()
	next := c.nextSweep
	c.mu.RUnlock()
	if !next.IsZero() && now.Before(next) {
		return
	}

	c.mu.Lock()
	// Re-check under lock.
	if c.nextSweep.IsZero() || !now.Before(c.nextSweep) {
		for k, e := range c.m {
			if now.After(e.exp) {
				delete(c.m, k)
			}
		}
		c.nextSweep = now.Add(c.sweepEach)
	}
	c.mu.Unlock()
}

// enforceMaxLocked evicts the entries closest to expiry until the cache
// fits. Caller holds the write lock.
func (c *WeekCache) enforceMaxLocked() {
	for len(c.m) > c.max {
		var oldest string
		var oldestExp time.Time
		for k, e := range c.m {
			if oldest == "" || e.exp.Before(oldestExp) {
				oldest, oldestExp = k, e.exp
			}
		}
		delete(c.m, oldest)
	}
}
