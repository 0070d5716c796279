package aggregator

import (
	"context"
	"fmt"

	"pland/internal/planner"
)

// Writer is the guarded mutation port for events, stamped with the origin
// of its writes. The origin travels on every invalidation event so the
// policy runner can tell user edits from the scheduler's own write-backs.
type Writer struct {
	svc    *Service
	origin planner.Origin
}

// Writer returns the event write port for origin.
func (s *Service) Writer(origin planner.Origin) *Writer {
	return &Writer{svc: s, origin: origin}
}

// CreateEvent adds an event to one of the user's writable calendars.
func (w *Writer) CreateEvent(ctx context.Context, userID, calendarID string, draft planner.EventDraft) (*planner.Event, error) {
	cal, err := w.writableCalendar(ctx, userID, calendarID)
	if err != nil {
		return nil, err
	}

	ev := &planner.Event{
		CalendarID:  cal.ID,
		TaskID:      draft.TaskID,
		Title:       draft.Title,
		Description: draft.Description,
		Location:    draft.Location,
		Color:       draft.Color,
		StartAt:     draft.StartAt,
		EndAt:       draft.EndAt,
		AllDay:      draft.AllDay,
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if err := w.svc.store.CreateEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	w.svc.Invalidate(userID, w.origin, "event_created")
	return ev, nil
}

// UpdateEvent applies the non-nil patch fields to one of the user's
// events.
func (w *Writer) UpdateEvent(ctx context.Context, userID, eventID string, patch planner.EventPatch) (*planner.Event, error) {
	ev, err := w.ownedEvent(ctx, userID, eventID)
	if err != nil {
		return nil, err
	}

	if patch.Title != nil {
		ev.Title = *patch.Title
	}
	if patch.Description != nil {
		ev.Description = *patch.Description
	}
	if patch.Location != nil {
		ev.Location = *patch.Location
	}
	if patch.Color != nil {
		ev.Color = *patch.Color
	}
	if patch.StartAt != nil {
		ev.StartAt = *patch.StartAt
	}
	if patch.EndAt != nil {
		ev.EndAt = *patch.EndAt
	}
	if patch.AllDay != nil {
		ev.AllDay = *patch.AllDay
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if err := w.svc.store.UpdateEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}

	w.svc.Invalidate(userID, w.origin, "event_updated")
	return ev, nil
}

// DeleteEvent removes one of the user's events.
func (w *Writer) DeleteEvent(ctx context.Context, userID, eventID string) error {
	ev, err := w.ownedEvent(ctx, userID, eventID)
	if err != nil {
		return err
	}
	if err := w.svc.store.DeleteEvent(ctx, ev.ID); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}

	w.svc.Invalidate(userID, w.origin, "event_deleted")
	return nil
}

// writableCalendar loads calendarID and enforces ownership and
// writability. Foreign calendars are indistinguishable from missing ones.
func (w *Writer) writableCalendar(ctx context.Context, userID, calendarID string) (*planner.Calendar, error) {
	cal, err := w.svc.store.GetCalendar(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	if cal.UserID != userID {
		return nil, planner.ErrNotFound
	}
	if cal.ReadOnly {
		return nil, planner.ErrReadOnlyCalendar
	}
	return cal, nil
}

func (w *Writer) ownedEvent(ctx context.Context, userID, eventID string) (*planner.Event, error) {
	ev, err := w.svc.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if _, err := w.writableCalendar(ctx, userID, ev.CalendarID); err != nil {
		return nil, err
	}
	return ev, nil
}
