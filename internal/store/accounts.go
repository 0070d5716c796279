package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"pland/internal/planner"
)

func (s *Store) CreateAccount(ctx context.Context, a *planner.CalendarAccount) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := a.Validate(); err != nil {
		return err
	}
	ts := now()
	a.CreatedAt, a.UpdatedAt = ts, ts

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calendar_accounts(id, user_id, provider, external_id, credential_ref, writable, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		a.ID, a.UserID, string(a.Provider), nullStr(a.ExternalID), nullStr(a.CredentialRef), a.Writable,
		fmtTime(a.CreatedAt), fmtTime(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*planner.CalendarAccount, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, external_id, credential_ref, writable, created_at, updated_at
		 FROM calendar_accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, planner.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context, userID string) ([]planner.CalendarAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, provider, external_id, credential_ref, writable, created_at, updated_at
		 FROM calendar_accounts WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []planner.CalendarAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateAccount(ctx context.Context, a *planner.CalendarAccount) error {
	if err := a.Validate(); err != nil {
		return err
	}
	a.UpdatedAt = now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE calendar_accounts
		 SET external_id = ?, credential_ref = ?, writable = ?, updated_at = ?
		 WHERE id = ?`,
		nullStr(a.ExternalID), nullStr(a.CredentialRef), a.Writable, fmtTime(a.UpdatedAt), a.ID,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return requireRow(res)
}

// DeleteAccount removes the account and, by cascade, its calendars and
// their events. A writable account cannot be deleted while it is the user's
// last one.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	a, err := s.GetAccount(ctx, id)
	if err != nil {
		return err
	}

	if a.Writable {
		var others int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM calendar_accounts WHERE user_id = ? AND id != ? AND writable = 1`,
			a.UserID, a.ID).Scan(&others)
		if err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
		if others == 0 {
			return planner.ErrLastWritableAccount
		}
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM calendar_accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(r rowScanner) (*planner.CalendarAccount, error) {
	var (
		a                  planner.CalendarAccount
		provider           string
		extID, credRef     sql.NullString
		createdAt, updated string
	)
	if err := r.Scan(&a.ID, &a.UserID, &provider, &extID, &credRef, &a.Writable, &createdAt, &updated); err != nil {
		return nil, err
	}
	a.Provider = planner.Provider(provider)
	a.ExternalID = extID.String
	a.CredentialRef = credRef.String

	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &a, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return planner.ErrNotFound
	}
	return nil
}
