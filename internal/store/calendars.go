package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"pland/internal/planner"
)

const calendarColumns = `c.id, c.account_id, a.user_id, c.name, c.color, c.text_color, c.read_only, c.external_id, c.created_at, c.updated_at`

func (s *Store) CreateCalendar(ctx context.Context, c *planner.Calendar) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := c.Validate(); err != nil {
		return err
	}
	a, err := s.GetAccount(ctx, c.AccountID)
	if err != nil {
		return err
	}
	c.UserID = a.UserID
	ts := now()
	c.CreatedAt, c.UpdatedAt = ts, ts

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO calendars(id, account_id, name, color, text_color, read_only, external_id, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		c.ID, c.AccountID, c.Name, nullStr(c.Color), nullStr(c.TextColor), c.ReadOnly, nullStr(c.ExternalID),
		fmtTime(c.CreatedAt), fmtTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create calendar: %w", err)
	}
	return nil
}

func (s *Store) GetCalendar(ctx context.Context, id string) (*planner.Calendar, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+calendarColumns+`
		 FROM calendars c JOIN calendar_accounts a ON a.id = c.account_id
		 WHERE c.id = ?`, id)
	c, err := scanCalendar(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, planner.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get calendar: %w", err)
	}
	return c, nil
}

func (s *Store) ListCalendars(ctx context.Context, userID string) ([]planner.Calendar, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+calendarColumns+`
		 FROM calendars c JOIN calendar_accounts a ON a.id = c.account_id
		 WHERE a.user_id = ? ORDER BY c.created_at, c.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}
	defer rows.Close()

	var out []planner.Calendar
	for rows.Next() {
		c, err := scanCalendar(rows)
		if err != nil {
			return nil, fmt.Errorf("list calendars: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) ListAccountCalendars(ctx context.Context, accountID string) ([]planner.Calendar, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+calendarColumns+`
		 FROM calendars c JOIN calendar_accounts a ON a.id = c.account_id
		 WHERE c.account_id = ? ORDER BY c.created_at, c.id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list account calendars: %w", err)
	}
	defer rows.Close()

	var out []planner.Calendar
	for rows.Next() {
		c, err := scanCalendar(rows)
		if err != nil {
			return nil, fmt.Errorf("list account calendars: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCalendar(ctx context.Context, c *planner.Calendar) error {
	if err := c.Validate(); err != nil {
		return err
	}
	c.UpdatedAt = now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE calendars SET name = ?, color = ?, text_color = ?, read_only = ?, updated_at = ? WHERE id = ?`,
		c.Name, nullStr(c.Color), nullStr(c.TextColor), c.ReadOnly, fmtTime(c.UpdatedAt), c.ID,
	)
	if err != nil {
		return fmt.Errorf("update calendar: %w", err)
	}
	return requireRow(res)
}

// DeleteCalendar removes the calendar and its events. The user's last
// writable, non-external calendar is protected.
func (s *Store) DeleteCalendar(ctx context.Context, id string) error {
	c, err := s.GetCalendar(ctx, id)
	if err != nil {
		return err
	}

	if !c.ReadOnly && !c.External() {
		var others int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*)
			 FROM calendars c JOIN calendar_accounts a ON a.id = c.account_id
			 WHERE a.user_id = ? AND c.id != ? AND c.read_only = 0
			   AND (c.external_id IS NULL OR c.external_id = '')`,
			c.UserID, c.ID).Scan(&others)
		if err != nil {
			return fmt.Errorf("delete calendar: %w", err)
		}
		if others == 0 {
			return planner.ErrLastWritableCalendar
		}
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM calendars WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete calendar: %w", err)
	}
	return requireRow(res)
}

// GetPrimaryCalendar picks the user's oldest writable, non-external
// calendar. The policy runner targets it for automatic rescheduling.
func (s *Store) GetPrimaryCalendar(ctx context.Context, userID string) (*planner.Calendar, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+calendarColumns+`
		 FROM calendars c JOIN calendar_accounts a ON a.id = c.account_id
		 WHERE a.user_id = ? AND c.read_only = 0 AND (c.external_id IS NULL OR c.external_id = '')
		 ORDER BY c.created_at, c.id LIMIT 1`, userID)
	c, err := scanCalendar(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, planner.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get primary calendar: %w", err)
	}
	return c, nil
}

func scanCalendar(r rowScanner) (*planner.Calendar, error) {
	var (
		c                     planner.Calendar
		color, textColor, ext sql.NullString
		createdAt, updatedAt  string
	)
	if err := r.Scan(&c.ID, &c.AccountID, &c.UserID, &c.Name, &color, &textColor, &c.ReadOnly, &ext, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.Color = color.String
	c.TextColor = textColor.String
	c.ExternalID = ext.String

	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
