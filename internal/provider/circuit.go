package provider

import (
	"sync"
	"time"
)

// circuitState tracks consecutive fetch failures for one account.
type circuitState struct {
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

// BreakerConfig tunes the per-account circuit breaker. Zero values pick
// defaults sized for remote calendar APIs; TripFailures < 0 disables the
// breaker entirely.
type BreakerConfig struct {
	TripFailures int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	ResetAfter   time.Duration
}

// Breaker is a consecutive-failure circuit breaker keyed by account id.
// After TripFailures consecutive failures an account is skipped for an
// exponentially growing cooldown, so one broken remote feed does not get
// hammered on every cache miss.
//
// On success: failures reset and the circuit closes. A quiet period of
// ResetAfter since the last failure also resets the count.
type Breaker struct {
	mu  sync.Mutex
	m   map[string]*circuitState
	cfg BreakerConfig
	now func() time.Time

	disabled bool
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	b := &Breaker{
		m:   make(map[string]*circuitState),
		now: time.Now,
	}
	if cfg.TripFailures < 0 {
		b.disabled = true
		return b
	}
	if cfg.TripFailures == 0 {
		cfg.TripFailures = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 30 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Minute
	}
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = 15 * time.Minute
	}
	b.cfg = cfg
	return b
}

// Allow reports whether the account may be fetched now. When the circuit
// is open it returns false and the time the cooldown ends.
func (b *Breaker) Allow(accountID string) (bool, time.Time) {
	if b == nil || b.disabled || accountID == "" {
		return true, time.Time{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.m[accountID]
	if st == nil {
		return true, time.Time{}
	}
	now := b.now()
	b.maybeReset(st, now)
	if !st.openUntil.IsZero() && now.Before(st.openUntil) {
		return false, st.openUntil
	}
	return true, time.Time{}
}

// Record feeds a fetch outcome into the breaker.
func (b *Breaker) Record(accountID string, err error) {
	if b == nil || b.disabled || accountID == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.m[accountID]
	if st == nil {
		st = &circuitState{}
		b.m[accountID] = st
	}
	now := b.now()
	b.maybeReset(st, now)

	if err == nil {
		st.fails = 0
		st.openUntil = time.Time{}
		st.lastFailure = time.Time{}
		return
	}

	st.fails++
	st.lastFailure = now
	if st.fails < b.cfg.TripFailures {
		return
	}

	// Cooldown doubles with each failure past the trip point.
	d := b.cfg.BaseDelay
	for i := 0; i < st.fails-b.cfg.TripFailures; i++ {
		d *= 2
		if d >= b.cfg.MaxDelay {
			d = b.cfg.MaxDelay
			break
		}
	}
	if d > b.cfg.MaxDelay {
		d = b.cfg.MaxDelay
	}
	st.openUntil = now.Add(d)
}

// Snapshot counts tracked and currently open circuits.
func (b *Breaker) Snapshot() (total, open int) {
	if b == nil || b.disabled {
		return 0, 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	total = len(b.m)
	for _, st := range b.m {
		if !st.openUntil.IsZero() && now.Before(st.openUntil) {
			open++
		}
	}
	return total, open
}

// maybeReset clears stale failure history. Caller holds the lock.
func (b *Breaker) maybeReset(st *circuitState, now time.Time) {
	if !st.lastFailure.IsZero() && now.Sub(st.lastFailure) > b.cfg.ResetAfter {
		st.fails = 0
		st.openUntil = time.Time{}
	}
}
