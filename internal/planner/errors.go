package planner

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers lookups of missing or foreign-owned entities. Callers
	// must not learn whether an id exists under another user.
	ErrNotFound = errors.New("not found")

	// ErrReadOnlyCalendar rejects writes to calendars marked read-only.
	ErrReadOnlyCalendar = errors.New("calendar is read-only")

	// ErrLastWritableCalendar rejects deleting a user's only writable,
	// non-external calendar.
	ErrLastWritableCalendar = errors.New("cannot delete the last writable calendar")

	// ErrLastWritableAccount rejects deleting the account that owns the
	// user's only writable calendar.
	ErrLastWritableAccount = errors.New("cannot delete the last writable account")

	// ErrInvalidRange rejects queries and events whose end precedes
	// their start.
	ErrInvalidRange = errors.New("invalid time range")
)

// FetchError records a single provider account failing to deliver events.
// The aggregator degrades to an empty contribution and surfaces these as
// warnings, never as a caller-visible failure.
type FetchError struct {
	AccountID string
	Provider  Provider
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("provider %s account %s: %v", e.Provider, e.AccountID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
