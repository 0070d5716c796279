package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pland/internal/planner"
)

const taskColumns = `id, user_id, project_id, title, status, priority, complexity, duration_min, deadline, scheduled_at, created_at, updated_at`

func (s *Store) CreateTask(ctx context.Context, t *planner.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = planner.TaskPending
	}
	if err := t.Validate(); err != nil {
		return err
	}
	ts := now()
	t.CreatedAt, t.UpdatedAt = ts, ts

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(`+taskColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.UserID, nullStr(t.ProjectID), t.Title, string(t.Status), t.Priority, t.Complexity, t.DurationMin,
		nullTime(t.Deadline), nullTime(t.ScheduledAt), fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*planner.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, planner.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasks returns the user's tasks, optionally filtered by status.
func (s *Store) ListTasks(ctx context.Context, userID string, status planner.TaskStatus) ([]planner.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`
	return s.listTasks(ctx, query, args...)
}

// ListSchedulableTasks returns pending tasks without a fixed scheduled time.
// A non-empty ids slice narrows the selection further.
func (s *Store) ListSchedulableTasks(ctx context.Context, userID string, ids []string) ([]planner.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
	 WHERE user_id = ? AND status = ? AND scheduled_at IS NULL`
	args := []any{userID, string(planner.TaskPending)}
	if len(ids) > 0 {
		query += ` AND id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += ` ORDER BY priority DESC, created_at, id`
	return s.listTasks(ctx, query, args...)
}

func (s *Store) UpdateTask(ctx context.Context, t *planner.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	t.UpdatedAt = now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks
		 SET project_id = ?, title = ?, status = ?, priority = ?, complexity = ?, duration_min = ?, deadline = ?, scheduled_at = ?, updated_at = ?
		 WHERE id = ?`,
		nullStr(t.ProjectID), t.Title, string(t.Status), t.Priority, t.Complexity, t.DurationMin,
		nullTime(t.Deadline), nullTime(t.ScheduledAt), fmtTime(t.UpdatedAt), t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return requireRow(res)
}

// SetTaskSchedule pins or clears (at == nil) the task's committed time.
func (s *Store) SetTaskSchedule(ctx context.Context, id string, at *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET scheduled_at = ?, updated_at = ? WHERE id = ?`,
		nullTime(at), fmtTime(now()), id,
	)
	if err != nil {
		return fmt.Errorf("set task schedule: %w", err)
	}
	return requireRow(res)
}

// DeleteTask removes the task; linked events survive with their task_id
// cleared by the schema's ON DELETE SET NULL.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return requireRow(res)
}

func (s *Store) listTasks(ctx context.Context, query string, args ...any) ([]planner.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []planner.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTask(r rowScanner) (*planner.Task, error) {
	var (
		t                     planner.Task
		projectID             sql.NullString
		status                string
		deadline, scheduledAt sql.NullString
		createdAt, updatedAt  string
	)
	if err := r.Scan(&t.ID, &t.UserID, &projectID, &t.Title, &status, &t.Priority, &t.Complexity, &t.DurationMin,
		&deadline, &scheduledAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.ProjectID = projectID.String
	t.Status = planner.TaskStatus(status)

	var err error
	if t.Deadline, err = scanTime(deadline); err != nil {
		return nil, err
	}
	if t.ScheduledAt, err = scanTime(scheduledAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
