package config

// Config is the whole on-disk configuration. All durations are Go duration
// strings (e.g. "500ms", "10s", "5m"); services apply their own defaults for
// omitted fields, so an empty file is a valid config.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Server     ServerConfig     `json:"server"`
	Solver     SolverConfig     `json:"solver"`
	Aggregator AggregatorConfig `json:"aggregator"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Policy     PolicyConfig     `json:"policy"`

	// Credentials maps opaque credential refs (CalendarAccount.CredentialRef)
	// to their secrets: an OAuth access token for google accounts, the feed
	// URL for ics subscriptions. Values never appear in logs.
	Credentials map[string]string `json:"credentials,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the sqlite store.
//
// Example:
//
//	"storage": { "path": "./pland.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// ServerConfig controls the HTTP API.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8080"); the API carries
//     no authentication of its own and trusts the"userId" path segment.
//   - Pprof mounts net/http/pprof under /debug/pprof/ when enabled.
type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	Pprof   bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// SolverConfig points at the external constraint solver service.
type SolverConfig struct {
	URL string `json:"url"`
	// Timeout bounds one /solve round trip. Default: "10s".
	Timeout string `json:"timeout,omitempty"`
}

// AggregatorConfig controls calendar fetching and the weekly event cache.
type AggregatorConfig struct {
	// CacheTTL is how long a cached week stays fresh. Default: "5m".
	CacheTTL string `json:"cache_ttl,omitempty"`
	// CacheMaxEntries caps cached weeks across all users. Default: 4096.
	CacheMaxEntries int `json:"cache_max_entries,omitempty"`
	// ReferenceTimezone anchors ISO week boundaries. Default: "UTC".
	ReferenceTimezone string `json:"reference_timezone,omitempty"`
	// FetchTimeout bounds one provider account fetch. Default: "15s".
	FetchTimeout string `json:"fetch_timeout,omitempty"`
	// ProviderRatePerSec throttles outbound calls per remote account. Default: 5.
	ProviderRatePerSec int `json:"provider_rate_per_sec,omitempty"`
}

// SchedulerConfig tunes the scheduling pipeline. Weights feed the solver
// objective unchanged; they reload live.
type SchedulerConfig struct {
	DefaultHorizonDays int `json:"default_horizon_days,omitempty"` // default: 7
	MaxHorizonDays     int `json:"max_horizon_days,omitempty"`     // default: 30

	// SuccessThreshold is the placed/candidate ratio below which the horizon
	// is extended once. Default: 0.8.
	SuccessThreshold float64 `json:"success_threshold,omitempty"`

	Weights WeightsConfig `json:"weights"`

	// FocusComplexityMin is the minimum complexity for a task to earn the
	// alertness-peak bonus. Default: 7.
	FocusComplexityMin int `json:"focus_complexity_min,omitempty"`
	// AlertnessPeak is the curve value an hour needs to count as a peak.
	// Default: 0.7.
	AlertnessPeak float64 `json:"alertness_peak,omitempty"`
}

// WeightsConfig holds the integer objective coefficients.
//
// Defaults: placement 10, earliness 1, alertness 25, grouping 40, balance 1.
// Placement must stay above earliness or dropping a task can beat placing it.
type WeightsConfig struct {
	Placement int `json:"placement,omitempty"`
	Earliness int `json:"earliness,omitempty"`
	Alertness int `json:"alertness,omitempty"`
	Grouping  int `json:"grouping,omitempty"`
	Balance   int `json:"balance,omitempty"`
}

// PolicyConfig controls automatic rescheduling.
type PolicyConfig struct {
	Enabled bool `json:"enabled"`
	// DailySpec is the cron expression for users on the daily policy.
	// Default: "0 4 * * *".
	DailySpec string `json:"daily_spec,omitempty"`
}
