package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()
	b := New()

	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Type: TypeCalendarInvalidated, Data: CalendarInvalidated{UserID: "u1", Origin: "user"}})

	select {
	case e := <-ch:
		if e.Type != TypeCalendarInvalidated {
			t.Fatalf("Type = %q, want %q", e.Type, TypeCalendarInvalidated)
		}
		inv, ok := e.Data.(CalendarInvalidated)
		if !ok || inv.UserID != "u1" {
			t.Fatalf("unexpected payload: %#v", e.Data)
		}
		if e.Time.IsZero() {
			t.Fatal("Publish must stamp a time")
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()
	b := New()

	ch, unsub := b.Subscribe(1)
	defer unsub()

	// Fill the buffer, then publish more; Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: TypeScheduleCompleted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	if got := len(ch); got != 1 {
		t.Fatalf("buffered events = %d, want 1", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	b := New()

	ch, unsub := b.Subscribe(1)
	unsub()
	// Double-unsubscribe must be safe.
	unsub()

	// Publishing after close must not panic.
	b.Publish(Event{Type: TypeConfigReloaded})

	if _, open := <-ch; open {
		t.Fatal("channel should be closed after unsubscribe")
	}
}
