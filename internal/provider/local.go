package provider

import (
	"context"
	"time"

	"pland/internal/planner"
)

// LocalStore is the slice of the datastore the local adapter reads
// through.
type LocalStore interface {
	ListAccountEventsInRange(ctx context.Context, accountID string, start, end time.Time) ([]planner.Event, error)
}

// Local serves events for accounts whose calendars live in our own
// datastore.
type Local struct {
	store LocalStore
}

func NewLocal(store LocalStore) *Local { return &Local{store: store} }

func (l *Local) Kind() planner.Provider { return planner.ProviderLocal }

func (l *Local) FetchEvents(ctx context.Context, account planner.CalendarAccount, start, end time.Time) ([]planner.Event, error) {
	return l.store.ListAccountEventsInRange(ctx, account.ID, start, end)
}
