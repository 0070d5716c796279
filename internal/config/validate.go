package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks a parsed config before it is committed or published.
// It only rejects values no service could repair with a default.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	for _, f := range []struct {
		path string
		raw  string
	}{
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"server.read_timeout", cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeout},
		{"server.idle_timeout", cfg.Server.IdleTimeout},
		{"solver.timeout", cfg.Solver.Timeout},
		{"aggregator.cache_ttl", cfg.Aggregator.CacheTTL},
		{"aggregator.fetch_timeout", cfg.Aggregator.FetchTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	if tz := strings.TrimSpace(cfg.Aggregator.ReferenceTimezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("aggregator.reference_timezone: %w", err)
		}
	}
	if cfg.Aggregator.CacheMaxEntries < 0 {
		return fmt.Errorf("aggregator.cache_max_entries must be >= 0")
	}
	if cfg.Aggregator.ProviderRatePerSec < 0 {
		return fmt.Errorf("aggregator.provider_rate_per_sec must be >= 0")
	}

	s := cfg.Scheduler
	if s.DefaultHorizonDays < 0 || s.DefaultHorizonDays > 30 {
		return fmt.Errorf("scheduler.default_horizon_days must be within 0..30")
	}
	if s.MaxHorizonDays < 0 || s.MaxHorizonDays > 30 {
		return fmt.Errorf("scheduler.max_horizon_days must be within 0..30")
	}
	if s.DefaultHorizonDays > 0 && s.MaxHorizonDays > 0 && s.DefaultHorizonDays > s.MaxHorizonDays {
		return fmt.Errorf("scheduler.default_horizon_days exceeds scheduler.max_horizon_days")
	}
	if s.SuccessThreshold < 0 || s.SuccessThreshold > 1 {
		return fmt.Errorf("scheduler.success_threshold must be within 0..1")
	}
	if s.AlertnessPeak < 0 || s.AlertnessPeak > 1 {
		return fmt.Errorf("scheduler.alertness_peak must be within 0..1")
	}
	if s.FocusComplexityMin < 0 || s.FocusComplexityMin > 10 {
		return fmt.Errorf("scheduler.focus_complexity_min must be within 0..10")
	}
	w := s.Weights
	for _, it := range []struct {
		path string
		v    int
	}{
		{"scheduler.weights.placement", w.Placement},
		{"scheduler.weights.earliness", w.Earliness},
		{"scheduler.weights.alertness", w.Alertness},
		{"scheduler.weights.grouping", w.Grouping},
		{"scheduler.weights.balance", w.Balance},
	} {
		if it.v < 0 {
			return fmt.Errorf("%s must be >= 0", it.path)
		}
	}
	if w.Placement > 0 && w.Earliness > 0 && w.Placement <= w.Earliness {
		return fmt.Errorf("scheduler.weights.placement must exceed scheduler.weights.earliness")
	}

	if cfg.Policy.Enabled {
		if spec := strings.TrimSpace(cfg.Policy.DailySpec); spec != "" && len(strings.Fields(spec)) < 5 {
			return fmt.Errorf("policy.daily_spec: want a 5-field cron expression, got %q", spec)
		}
	}

	return nil
}
