package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"pland/internal/planner"
)

// GetWorkingPreferences returns the stored preferences for the user, or
// planner.DefaultWorkingPreferences when no row exists.
func (s *Store) GetWorkingPreferences(ctx context.Context, userID string) (planner.WorkingPreferences, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, day_start_min, day_end_min, weekdays, daily_max_min, daily_optimal_min,
		        focus_min, short_break_min, long_break_min, breaks_before_long, alertness, updated_at
		 FROM working_preferences WHERE user_id = ?`, userID)

	var (
		p         planner.WorkingPreferences
		weekdays  string
		alertness sql.NullString
		updatedAt string
	)
	err := row.Scan(&p.UserID, &p.DayStartMin, &p.DayEndMin, &weekdays, &p.DailyMaxMin, &p.DailyOptimalMin,
		&p.FocusMin, &p.ShortBreakMin, &p.LongBreakMin, &p.BreaksBeforeLong, &alertness, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return planner.DefaultWorkingPreferences(userID), nil
	}
	if err != nil {
		return p, fmt.Errorf("get working preferences: %w", err)
	}

	if p.Weekdays, err = planner.ParseWeekdaySet(weekdays); err != nil {
		return p, fmt.Errorf("get working preferences: %w", err)
	}
	// An empty alertness column falls back to the default curve.
	p.Alertness = planner.DefaultWorkingPreferences(userID).Alertness
	if alertness.Valid && alertness.String != "" {
		if err := json.Unmarshal([]byte(alertness.String), &p.Alertness); err != nil {
			return p, fmt.Errorf("get working preferences: alertness: %w", err)
		}
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return p, fmt.Errorf("get working preferences: %w", err)
	}
	return p, nil
}

func (s *Store) PutWorkingPreferences(ctx context.Context, p *planner.WorkingPreferences) error {
	if err := p.Validate(); err != nil {
		return err
	}
	alertness, err := json.Marshal(p.Alertness)
	if err != nil {
		return fmt.Errorf("put working preferences: %w", err)
	}
	p.UpdatedAt = now()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO working_preferences(user_id, day_start_min, day_end_min, weekdays, daily_max_min, daily_optimal_min,
		                                 focus_min, short_break_min, long_break_min, breaks_before_long, alertness, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   day_start_min = excluded.day_start_min,
		   day_end_min = excluded.day_end_min,
		   weekdays = excluded.weekdays,
		   daily_max_min = excluded.daily_max_min,
		   daily_optimal_min = excluded.daily_optimal_min,
		   focus_min = excluded.focus_min,
		   short_break_min = excluded.short_break_min,
		   long_break_min = excluded.long_break_min,
		   breaks_before_long = excluded.breaks_before_long,
		   alertness = excluded.alertness,
		   updated_at = excluded.updated_at`,
		p.UserID, p.DayStartMin, p.DayEndMin, p.Weekdays.String(), p.DailyMaxMin, p.DailyOptimalMin,
		p.FocusMin, p.ShortBreakMin, p.LongBreakMin, p.BreaksBeforeLong, string(alertness), fmtTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put working preferences: %w", err)
	}
	return nil
}

// GetSchedulingConfig returns the stored per-user solver settings, or
// planner.DefaultSchedulingConfig when no row exists.
func (s *Store) GetSchedulingConfig(ctx context.Context, userID string) (planner.SchedulingConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, timezone, horizon_days, allow_splitting, aggressiveness, policy, updated_at
		 FROM scheduling_configs WHERE user_id = ?`, userID)

	var (
		c         planner.SchedulingConfig
		policy    string
		updatedAt string
	)
	err := row.Scan(&c.UserID, &c.Timezone, &c.HorizonDays, &c.AllowSplitting, &c.Aggressiveness, &policy, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return planner.DefaultSchedulingConfig(userID), nil
	}
	if err != nil {
		return c, fmt.Errorf("get scheduling config: %w", err)
	}
	c.Policy = planner.SchedulingPolicy(policy)
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return c, fmt.Errorf("get scheduling config: %w", err)
	}
	return c, nil
}

func (s *Store) PutSchedulingConfig(ctx context.Context, c *planner.SchedulingConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	c.UpdatedAt = now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduling_configs(user_id, timezone, horizon_days, allow_splitting, aggressiveness, policy, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   timezone = excluded.timezone,
		   horizon_days = excluded.horizon_days,
		   allow_splitting = excluded.allow_splitting,
		   aggressiveness = excluded.aggressiveness,
		   policy = excluded.policy,
		   updated_at = excluded.updated_at`,
		c.UserID, c.Timezone, c.HorizonDays, c.AllowSplitting, c.Aggressiveness, string(c.Policy), fmtTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put scheduling config: %w", err)
	}
	return nil
}

// ListPolicyUserIDs returns every user whose stored policy matches. Users
// without a row run the default manual policy and are never listed.
func (s *Store) ListPolicyUserIDs(ctx context.Context, policy planner.SchedulingPolicy) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM scheduling_configs WHERE policy = ? ORDER BY user_id`, string(policy))
	if err != nil {
		return nil, fmt.Errorf("list policy users: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list policy users: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) ListExcludedPeriods(ctx context.Context, userID string) ([]planner.ExcludedPeriod, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, label, kind, start_at, end_at, rrule, start_min, end_min
		 FROM excluded_periods WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list excluded periods: %w", err)
	}
	defer rows.Close()

	var out []planner.ExcludedPeriod
	for rows.Next() {
		var (
			p                            planner.ExcludedPeriod
			label, rrule, startAt, endAt sql.NullString
			kind                         string
		)
		if err := rows.Scan(&p.ID, &p.UserID, &label, &kind, &startAt, &endAt, &rrule, &p.StartMin, &p.EndMin); err != nil {
			return nil, fmt.Errorf("list excluded periods: %w", err)
		}
		p.Label = label.String
		p.Kind = planner.PeriodKind(kind)
		p.RRule = rrule.String
		if p.StartAt, err = scanTime(startAt); err != nil {
			return nil, fmt.Errorf("list excluded periods: %w", err)
		}
		if p.EndAt, err = scanTime(endAt); err != nil {
			return nil, fmt.Errorf("list excluded periods: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) PutExcludedPeriod(ctx context.Context, p *planner.ExcludedPeriod) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO excluded_periods(id, user_id, label, kind, start_at, end_at, rrule, start_min, end_min)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   label = excluded.label,
		   kind = excluded.kind,
		   start_at = excluded.start_at,
		   end_at = excluded.end_at,
		   rrule = excluded.rrule,
		   start_min = excluded.start_min,
		   end_min = excluded.end_min`,
		p.ID, p.UserID, nullStr(p.Label), string(p.Kind), nullTime(p.StartAt), nullTime(p.EndAt),
		nullStr(p.RRule), p.StartMin, p.EndMin,
	)
	if err != nil {
		return fmt.Errorf("put excluded period: %w", err)
	}
	return nil
}

func (s *Store) DeleteExcludedPeriod(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM excluded_periods WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete excluded period: %w", err)
	}
	return requireRow(res)
}
