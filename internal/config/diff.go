package config

import (
	"reflect"
	"sort"
	"strings"

	logx "pland/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Paths and URLs are reduced to "set" booleans
// so reload logs stay free of local detail.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage
	if strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	// Server
	if !reflect.DeepEqual(oldCfg.Server, newCfg.Server) {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.Bool("server.enabled", newCfg.Server.Enabled),
			logx.String("server.addr", strings.TrimSpace(newCfg.Server.Addr)),
			logx.Bool("server.pprof", newCfg.Server.Pprof),
		)
	}

	// Solver
	if strings.TrimSpace(oldCfg.Solver.URL) != strings.TrimSpace(newCfg.Solver.URL) ||
		strings.TrimSpace(oldCfg.Solver.Timeout) != strings.TrimSpace(newCfg.Solver.Timeout) {
		changed = append(changed, "solver")
		attrs = append(attrs,
			logx.Bool("solver.url_set", strings.TrimSpace(newCfg.Solver.URL) != ""),
			logx.String("solver.timeout", strings.TrimSpace(newCfg.Solver.Timeout)),
		)
	}

	// Aggregator
	if !reflect.DeepEqual(oldCfg.Aggregator, newCfg.Aggregator) {
		changed = append(changed, "aggregator")
		attrs = append(attrs,
			logx.String("aggregator.cache_ttl", strings.TrimSpace(newCfg.Aggregator.CacheTTL)),
			logx.Int("aggregator.cache_max_entries", newCfg.Aggregator.CacheMaxEntries),
			logx.String("aggregator.reference_timezone", strings.TrimSpace(newCfg.Aggregator.ReferenceTimezone)),
		)
	}

	// Scheduler (weights reload live)
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.default_horizon_days", newCfg.Scheduler.DefaultHorizonDays),
			logx.Int("scheduler.max_horizon_days", newCfg.Scheduler.MaxHorizonDays),
			logx.Float64("scheduler.success_threshold", newCfg.Scheduler.SuccessThreshold),
			logx.Int("scheduler.weights.placement", newCfg.Scheduler.Weights.Placement),
			logx.Int("scheduler.weights.earliness", newCfg.Scheduler.Weights.Earliness),
			logx.Int("scheduler.weights.alertness", newCfg.Scheduler.Weights.Alertness),
			logx.Int("scheduler.weights.grouping", newCfg.Scheduler.Weights.Grouping),
			logx.Int("scheduler.weights.balance", newCfg.Scheduler.Weights.Balance),
		)
	}

	// Policy
	if !reflect.DeepEqual(oldCfg.Policy, newCfg.Policy) {
		changed = append(changed, "policy")
		attrs = append(attrs,
			logx.Bool("policy.enabled", newCfg.Policy.Enabled),
			logx.String("policy.daily_spec", strings.TrimSpace(newCfg.Policy.DailySpec)),
		)
	}

	// Credentials (values are secrets; surface counts only)
	if !reflect.DeepEqual(oldCfg.Credentials, newCfg.Credentials) {
		changed = append(changed, "credentials")
		attrs = append(attrs, logx.Int("credentials.count", len(newCfg.Credentials)))
	}

	sort.Strings(changed)
	return changed, attrs
}
