package planner

import (
	"fmt"
	"strings"
	"time"
)

// Provider identifies how an account's events are fetched.
type Provider string

const (
	// ProviderLocal is the built-in store-backed calendar source.
	ProviderLocal Provider = "local"
	// ProviderGoogle is an OAuth-token remote calendar API.
	ProviderGoogle Provider = "google"
	// ProviderICS is a credential-addressed ICS feed.
	ProviderICS Provider = "ics"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderLocal, ProviderGoogle, ProviderICS:
		return true
	}
	return false
}

// CalendarAccount links a user to one event source. CredentialRef is an
// opaque handle (token reference, feed reference); the planner never stores
// raw secrets.
type CalendarAccount struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	Provider      Provider  `json:"provider"`
	ExternalID    string    `json:"externalId,omitempty"`
	CredentialRef string    `json:"-"`
	Writable      bool      `json:"writable"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (a *CalendarAccount) Validate() error {
	if strings.TrimSpace(a.UserID) == "" {
		return fmt.Errorf("account: empty user id")
	}
	if !a.Provider.Valid() {
		return fmt.Errorf("account: unknown provider %q", a.Provider)
	}
	return nil
}

// Calendar belongs to exactly one account. UserID is denormalized from the
// owning account on reads so callers can authorize without a second lookup.
// External is true when the calendar mirrors a remote source (ExternalID set).
type Calendar struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"accountId"`
	UserID     string    `json:"userId"`
	Name       string    `json:"name"`
	Color      string    `json:"color,omitempty"`
	TextColor  string    `json:"textColor,omitempty"`
	ReadOnly   bool      `json:"readOnly"`
	ExternalID string    `json:"externalId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (c *Calendar) External() bool { return c.ExternalID != "" }

func (c *Calendar) Validate() error {
	if strings.TrimSpace(c.AccountID) == "" {
		return fmt.Errorf("calendar: empty account id")
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("calendar: empty name")
	}
	return nil
}

// Event is a concrete calendar entry. TaskID links scheduler-created events
// back to the task they place; it is empty for ordinary events.
type Event struct {
	ID          string    `json:"id"`
	CalendarID  string    `json:"calendarId"`
	TaskID      string    `json:"taskId,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Color       string    `json:"color,omitempty"`
	StartAt     time.Time `json:"startAt"`
	EndAt       time.Time `json:"endAt"`
	AllDay      bool      `json:"allDay"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Overlaps reports whether the event intersects [start, end) with non-zero
// length. Events that only touch a boundary do not overlap.
func (e *Event) Overlaps(start, end time.Time) bool {
	return e.StartAt.Before(end) && e.EndAt.After(start)
}

func (e *Event) Validate() error {
	if strings.TrimSpace(e.CalendarID) == "" {
		return fmt.Errorf("event: empty calendar id")
	}
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("event: empty title")
	}
	if e.EndAt.Before(e.StartAt) {
		return fmt.Errorf("event: end %s before start %s: %w",
			e.EndAt.Format(time.RFC3339), e.StartAt.Format(time.RFC3339), ErrInvalidRange)
	}
	return nil
}

// Origin tags a calendar mutation with what caused it. The policy runner uses
// it to ignore the scheduler's own writes.
type Origin string

const (
	OriginUser      Origin = "user"
	OriginScheduler Origin = "scheduler"
)

// EventDraft is the input for creating an event through the write port.
type EventDraft struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Color       string    `json:"color,omitempty"`
	StartAt     time.Time `json:"startAt"`
	EndAt       time.Time `json:"endAt"`
	AllDay      bool      `json:"allDay"`
	TaskID      string    `json:"taskId,omitempty"`
}

// EventPatch updates only the fields whose pointers are non-nil.
type EventPatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Location    *string    `json:"location,omitempty"`
	Color       *string    `json:"color,omitempty"`
	StartAt     *time.Time `json:"startAt,omitempty"`
	EndAt       *time.Time `json:"endAt,omitempty"`
	AllDay      *bool      `json:"allDay,omitempty"`
}

// TaskStatus is the task lifecycle state. Only pending tasks without a fixed
// scheduled time are candidates for scheduling.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskSnoozed    TaskStatus = "snoozed"
	TaskSkipped    TaskStatus = "skipped"
	TaskInProgress TaskStatus = "in_progress"
	TaskPaused     TaskStatus = "paused"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskSnoozed, TaskSkipped, TaskInProgress, TaskPaused, TaskCompleted, TaskCancelled:
		return true
	}
	return false
}

// Task is a unit of work to be placed on the calendar. DurationMin is the
// estimated effort in minutes; Priority and Complexity are 1..10 scales.
type Task struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	ProjectID   string     `json:"projectId,omitempty"`
	Title       string     `json:"title"`
	Status      TaskStatus `json:"status"`
	Priority    int        `json:"priority"`
	Complexity  int        `json:"complexity"`
	DurationMin int        `json:"durationMin"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (t *Task) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return fmt.Errorf("task: empty user id")
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("task: empty title")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("task: unknown status %q", t.Status)
	}
	if t.Priority < 1 || t.Priority > 10 {
		return fmt.Errorf("task: priority %d out of range 1..10", t.Priority)
	}
	if t.Complexity < 1 || t.Complexity > 10 {
		return fmt.Errorf("task: complexity %d out of range 1..10", t.Complexity)
	}
	if t.DurationMin <= 0 {
		return fmt.Errorf("task: duration %d must be positive", t.DurationMin)
	}
	return nil
}

// Schedulable reports whether the task is a candidate for the orchestrator:
// pending and not pinned to a fixed time.
func (t *Task) Schedulable() bool {
	return t.Status == TaskPending && t.ScheduledAt == nil
}
