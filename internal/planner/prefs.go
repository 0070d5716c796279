package planner

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// WeekdaySet is a bitmask over time.Weekday (bit 0 = Sunday).
type WeekdaySet uint8

func (s WeekdaySet) Has(d time.Weekday) bool { return s&(1<<uint(d)) != 0 }

func (s WeekdaySet) With(days ...time.Weekday) WeekdaySet {
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

func (s WeekdaySet) Count() int {
	n := 0
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			n++
		}
	}
	return n
}

// String renders the set as a sorted comma list of weekday numbers ("1,2,3").
func (s WeekdaySet) String() string {
	var days []int
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			days = append(days, int(d))
		}
	}
	sort.Ints(days)
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

// ParseWeekdaySet parses the String() form. An empty string is an empty set.
func ParseWeekdaySet(s string) (WeekdaySet, error) {
	var out WeekdaySet
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n > 6 {
			return 0, fmt.Errorf("weekday set: invalid day %q", part)
		}
		out = out.With(time.Weekday(n))
	}
	return out, nil
}

// Workweek is Monday through Friday.
func Workweek() WeekdaySet {
	return WeekdaySet(0).With(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday)
}

// WorkingPreferences describes one user's daily scheduling envelope. Minutes
// are minutes of the day (09:00 = 540). Alertness is a 24-entry hourly curve
// in [0,1].
type WorkingPreferences struct {
	UserID           string      `json:"userId"`
	DayStartMin      int         `json:"dayStartMin"`
	DayEndMin        int         `json:"dayEndMin"`
	Weekdays         WeekdaySet  `json:"weekdays"`
	DailyMaxMin      int         `json:"dailyMaxMin"`
	DailyOptimalMin  int         `json:"dailyOptimalMin"`
	FocusMin         int         `json:"focusMin"`
	ShortBreakMin    int         `json:"shortBreakMin"`
	LongBreakMin     int         `json:"longBreakMin"`
	BreaksBeforeLong int         `json:"breaksBeforeLong"`
	Alertness        [24]float64 `json:"alertness"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// DefaultWorkingPreferences is the fallback when no row exists for a user:
// 09:00..17:00 Monday through Friday, 8h cap with a 5h optimum, 90 minute
// focus blocks, and a flat alertness curve with a morning peak.
func DefaultWorkingPreferences(userID string) WorkingPreferences {
	p := WorkingPreferences{
		UserID:           userID,
		DayStartMin:      9 * 60,
		DayEndMin:        17 * 60,
		Weekdays:         Workweek(),
		DailyMaxMin:      8 * 60,
		DailyOptimalMin:  5 * 60,
		FocusMin:         90,
		ShortBreakMin:    5,
		LongBreakMin:     15,
		BreaksBeforeLong: 3,
	}
	for h := range p.Alertness {
		p.Alertness[h] = 0.5
	}
	for h := 9; h <= 11; h++ {
		p.Alertness[h] = 0.9
	}
	for h := 15; h <= 16; h++ {
		p.Alertness[h] = 0.7
	}
	return p
}

func (p *WorkingPreferences) Validate() error {
	if p.DayStartMin < 0 || p.DayStartMin >= minutesPerDay {
		return fmt.Errorf("preferences: day start %d out of range", p.DayStartMin)
	}
	if p.DayEndMin <= p.DayStartMin || p.DayEndMin > minutesPerDay {
		return fmt.Errorf("preferences: day end %d must be inside (%d, %d]", p.DayEndMin, p.DayStartMin, minutesPerDay)
	}
	if p.Weekdays == 0 {
		return fmt.Errorf("preferences: no active weekdays")
	}
	for h, v := range p.Alertness {
		if v < 0 || v > 1 {
			return fmt.Errorf("preferences: alertness[%d]=%v outside [0,1]", h, v)
		}
	}
	return nil
}

// WindowMin is the length of the daily working window in minutes.
func (p *WorkingPreferences) WindowMin() int { return p.DayEndMin - p.DayStartMin }

// DailyCapacityMin is the schedulable minutes per day: the working window,
// further capped by DailyMaxMin when set.
func (p *WorkingPreferences) DailyCapacityMin() int {
	w := p.WindowMin()
	if p.DailyMaxMin > 0 && p.DailyMaxMin < w {
		return p.DailyMaxMin
	}
	return w
}

// PeriodKind distinguishes one-off from recurring excluded periods.
type PeriodKind string

const (
	PeriodOneOff    PeriodKind = "oneoff"
	PeriodRecurring PeriodKind = "recurring"
)

// ExcludedPeriod blocks time from scheduling. A one-off period is an
// absolute [StartAt, EndAt). A recurring period applies the [StartMin,
// EndMin) time-of-day window on every date its RRULE produces.
type ExcludedPeriod struct {
	ID       string     `json:"id"`
	UserID   string     `json:"userId"`
	Label    string     `json:"label,omitempty"`
	Kind     PeriodKind `json:"kind"`
	StartAt  *time.Time `json:"startAt,omitempty"`
	EndAt    *time.Time `json:"endAt,omitempty"`
	RRule    string     `json:"rrule,omitempty"`
	StartMin int        `json:"startMin,omitempty"`
	EndMin   int        `json:"endMin,omitempty"`
}

func (p *ExcludedPeriod) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("excluded period: empty user id")
	}
	switch p.Kind {
	case PeriodOneOff:
		if p.StartAt == nil || p.EndAt == nil {
			return fmt.Errorf("excluded period: one-off needs start and end")
		}
		if !p.EndAt.After(*p.StartAt) {
			return fmt.Errorf("excluded period: end not after start")
		}
	case PeriodRecurring:
		if strings.TrimSpace(p.RRule) == "" {
			return fmt.Errorf("excluded period: recurring needs an rrule")
		}
		if p.StartMin < 0 || p.EndMin <= p.StartMin || p.EndMin > minutesPerDay {
			return fmt.Errorf("excluded period: invalid time-of-day window [%d, %d)", p.StartMin, p.EndMin)
		}
	default:
		return fmt.Errorf("excluded period: unknown kind %q", p.Kind)
	}
	return nil
}

// SchedulingPolicy controls when automatic rescheduling runs.
type SchedulingPolicy string

const (
	PolicyManual         SchedulingPolicy = "manual"
	PolicyDaily          SchedulingPolicy = "daily"
	PolicyEventTriggered SchedulingPolicy = "event_triggered"
)

func (p SchedulingPolicy) Valid() bool {
	switch p {
	case PolicyManual, PolicyDaily, PolicyEventTriggered:
		return true
	}
	return false
}

const (
	// HorizonMinDays and HorizonMaxDays bound a user's scheduling window.
	HorizonMinDays = 1
	HorizonMaxDays = 30
)

// SchedulingConfig is per-user solver behavior.
type SchedulingConfig struct {
	UserID         string           `json:"userId"`
	Timezone       string           `json:"timezone"`
	HorizonDays    int              `json:"horizonDays"`
	AllowSplitting bool             `json:"allowSplitting"`
	Aggressiveness float64          `json:"aggressiveness"`
	Policy         SchedulingPolicy `json:"policy"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

func DefaultSchedulingConfig(userID string) SchedulingConfig {
	return SchedulingConfig{
		UserID:         userID,
		Timezone:       "UTC",
		HorizonDays:    7,
		AllowSplitting: false,
		Aggressiveness: 0.5,
		Policy:         PolicyManual,
	}
}

func (c *SchedulingConfig) Validate() error {
	if c.HorizonDays < HorizonMinDays || c.HorizonDays > HorizonMaxDays {
		return fmt.Errorf("scheduling config: horizon %d outside %d..%d days", c.HorizonDays, HorizonMinDays, HorizonMaxDays)
	}
	if c.Aggressiveness < 0 || c.Aggressiveness > 1 {
		return fmt.Errorf("scheduling config: aggressiveness %v outside [0,1]", c.Aggressiveness)
	}
	if !c.Policy.Valid() {
		return fmt.Errorf("scheduling config: unknown policy %q", c.Policy)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("scheduling config: %w", err)
	}
	return nil
}

// Location resolves the configured timezone, defaulting to UTC.
func (c *SchedulingConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
