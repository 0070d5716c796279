package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "pland/pkg/logx"
)

// RestartOption configures GoRestart.
type RestartOption func(*restartCfg)

type restartCfg struct {
	minBackoff      time.Duration
	maxBackoff      time.Duration
	maxRestarts     int // <=0 means unlimited
	publishFirstErr bool
}

// WithRestartBackoff bounds the exponential backoff between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(c *restartCfg) {
		if min > 0 {
			c.minBackoff = min
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// WithMaxRestarts caps how many failed runs are retried before the loop
// gives up and records the error. The initial run does not count.
func WithMaxRestarts(n int) RestartOption { return func(c *restartCfg) { c.maxRestarts = n } }

// WithPublishFirstError records the first failure as the supervisor error
// even while the loop keeps restarting, so it shows up in health output.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(c *restartCfg) { c.publishFirstErr = enabled }
}

// GoRestart runs fn in a loop, restarting it after errors or panics with
// exponential backoff. A nil return ends the loop; cancellation of the
// shared context always ends it cleanly.
//
// Meant for long-running loops (watchers, pollers, feed refreshers) whose
// transient failures should heal without taking the process down.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	cfg := restartCfg{
		minBackoff: 250 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.maxBackoff < cfg.minBackoff {
		cfg.maxBackoff = cfg.minBackoff
	}

	// The loop itself is one supervisor goroutine. Per-run stats are kept
	// under the logical name, so the host gets a distinct one.
	s.Go0(name+".restart", func(ctx context.Context) {
		backoff := cfg.minBackoff
		restarts := 0
		for {
			if ctx.Err() != nil {
				return
			}

			s.noteStart(name, restarts > 0)
			startedAt := time.Now()

			err := s.runProtected(ctx, name, fn)

			// A run that ends during shutdown is a clean stop, whatever
			// it returned.
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				s.noteStop(name, nil)
				return
			}
			if err == nil {
				s.noteStop(name, nil)
				return
			}

			err2 := fmt.Errorf("%s: %w", name, err)
			s.noteStop(name, err2)
			if cfg.publishFirstErr {
				s.setErr(err2)
			}

			restarts++
			// A long healthy run resets the backoff, so a rare failure
			// does not inherit a maxed-out delay.
			if time.Since(startedAt) >= 30*time.Second {
				backoff = cfg.minBackoff
			}
			if cfg.maxRestarts > 0 && restarts > cfg.maxRestarts {
				if !s.log.IsZero() {
					s.log.Error("goroutine gave up after restarts", logx.String("name", name), logx.Int("restarts", restarts), logx.Any("err", err))
				}
				s.fail(err2)
				return
			}

			wait := jittered(backoff, cfg.maxBackoff)
			if !s.log.IsZero() {
				s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Any("err", err))
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			backoff *= 2
			if backoff > cfg.maxBackoff {
				backoff = cfg.maxBackoff
			}
		}
	})
}

// runProtected invokes fn once, folding a panic into an error after
// recording and logging it.
func (s *Supervisor) runProtected(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	var pan any
	var stack string
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				pan = r
				stack = string(debug.Stack())
			}
		}()
		return fn(ctx)
	}()
	if pan != nil {
		s.notePanic(name)
		if !s.log.IsZero() {
			s.log.Error("goroutine panicked (restart)", logx.String("name", name), logx.Any("panic", pan), logx.String("stack", stack))
		}
		return fmt.Errorf("panic: %v", pan)
	}
	return err
}

// jittered caps wait at max and adds up to 20% random delay.
func jittered(wait, max time.Duration) time.Duration {
	if wait > max {
		wait = max
	}
	if j := time.Duration(int64(wait) / 5); j > 0 {
		wait += time.Duration(time.Now().UnixNano() % int64(j+1))
	}
	return wait
}
