package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pland/internal/planner"
)

const eventColumns = `e.id, e.calendar_id, e.task_id, e.title, e.description, e.location, e.color, e.start_at, e.end_at, e.all_day, e.created_at, e.updated_at`

func (s *Store) CreateEvent(ctx context.Context, e *planner.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := e.Validate(); err != nil {
		return err
	}
	ts := now()
	e.CreatedAt, e.UpdatedAt = ts, ts

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(id, calendar_id, task_id, title, description, location, color, start_at, end_at, all_day, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.CalendarID, nullStr(e.TaskID), e.Title, nullStr(e.Description), nullStr(e.Location), nullStr(e.Color),
		fmtTime(e.StartAt), fmtTime(e.EndAt), e.AllDay, fmtTime(e.CreatedAt), fmtTime(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (*planner.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events e WHERE e.id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, planner.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func (s *Store) UpdateEvent(ctx context.Context, e *planner.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	e.UpdatedAt = now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE events
		 SET title = ?, description = ?, location = ?, color = ?, start_at = ?, end_at = ?, all_day = ?, updated_at = ?
		 WHERE id = ?`,
		e.Title, nullStr(e.Description), nullStr(e.Location), nullStr(e.Color),
		fmtTime(e.StartAt), fmtTime(e.EndAt), e.AllDay, fmtTime(e.UpdatedAt), e.ID,
	)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return requireRow(res)
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return requireRow(res)
}

// ListEventsInRange returns the user's events strictly overlapping
// [start, end), across all accounts, ordered by start then id.
func (s *Store) ListEventsInRange(ctx context.Context, userID string, start, end time.Time) ([]planner.Event, error) {
	return s.listEvents(ctx,
		`SELECT `+eventColumns+`
		 FROM events e
		 JOIN calendars c ON c.id = e.calendar_id
		 JOIN calendar_accounts a ON a.id = c.account_id
		 WHERE a.user_id = ? AND e.start_at < ? AND e.end_at > ?
		 ORDER BY e.start_at, e.id`,
		userID, fmtTime(end), fmtTime(start))
}

// ListAccountEventsInRange scopes the overlap query to one account's
// calendars; the local provider adapter reads through it.
func (s *Store) ListAccountEventsInRange(ctx context.Context, accountID string, start, end time.Time) ([]planner.Event, error) {
	return s.listEvents(ctx,
		`SELECT `+eventColumns+`
		 FROM events e
		 JOIN calendars c ON c.id = e.calendar_id
		 WHERE c.account_id = ? AND e.start_at < ? AND e.end_at > ?
		 ORDER BY e.start_at, e.id`,
		accountID, fmtTime(end), fmtTime(start))
}

// ListTaskEventsInRange returns only task-linked events, the ones a
// reschedule is allowed to tear down.
func (s *Store) ListTaskEventsInRange(ctx context.Context, userID string, start, end time.Time) ([]planner.Event, error) {
	return s.listEvents(ctx,
		`SELECT `+eventColumns+`
		 FROM events e
		 JOIN calendars c ON c.id = e.calendar_id
		 JOIN calendar_accounts a ON a.id = c.account_id
		 WHERE a.user_id = ? AND e.task_id IS NOT NULL AND e.start_at < ? AND e.end_at > ?
		 ORDER BY e.start_at, e.id`,
		userID, fmtTime(end), fmtTime(start))
}

func (s *Store) listEvents(ctx context.Context, query string, args ...any) ([]planner.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []planner.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanEvent(r rowScanner) (*planner.Event, error) {
	var (
		e                        planner.Event
		taskID, desc, loc, color sql.NullString
		startAt, endAt           string
		createdAt, updatedAt     string
	)
	if err := r.Scan(&e.ID, &e.CalendarID, &taskID, &e.Title, &desc, &loc, &color, &startAt, &endAt, &e.AllDay, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	e.TaskID = taskID.String
	e.Description = desc.String
	e.Location = loc.String
	e.Color = color.String

	var err error
	if e.StartAt, err = parseTime(startAt); err != nil {
		return nil, err
	}
	if e.EndAt, err = parseTime(endAt); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}
