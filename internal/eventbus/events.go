package eventbus

// Event types published by the planner core.
const (
	// TypeCalendarInvalidated fires after any successful calendar mutation.
	// Data: CalendarInvalidated.
	TypeCalendarInvalidated = "calendar.invalidated"

	// TypeScheduleCompleted fires when a scheduling run finishes, whatever
	// its outcome. Data: ScheduleCompleted.
	TypeScheduleCompleted = "schedule.completed"

	// TypeConfigReloaded fires after a config change has been applied.
	// Data: ConfigReloaded.
	TypeConfigReloaded = "config.reloaded"
)

// CalendarInvalidated says a user's cached calendar weeks are stale. Origin
// is "user" or "scheduler"; the policy runner ignores the latter so the
// scheduler's own write-backs cannot re-trigger it.
type CalendarInvalidated struct {
	UserID string `json:"user_id"`
	Origin string `json:"origin"`
	Reason string `json:"reason,omitempty"`
}

// ScheduleCompleted summarizes one scheduling run.
type ScheduleCompleted struct {
	UserID      string  `json:"user_id"`
	RunID       string  `json:"run_id"`
	Status      string  `json:"status"`
	Scheduled   int     `json:"scheduled"`
	Unscheduled int     `json:"unscheduled"`
	SuccessRate float64 `json:"success_rate"`
	Persisted   bool    `json:"persisted"`
}

// ConfigReloaded lists which config sections changed.
type ConfigReloaded struct {
	Sections []string `json:"sections"`
}
