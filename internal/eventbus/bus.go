package eventbus

import (
	"sync"
	"time"
)

// Event is an in-process signal. The planner publishes one after every
// calendar mutation and scheduling run so loosely coupled listeners
// (cache invalidation, the policy runner, debug logging) can react
// without holding references to each other.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event, so the buffer sizes burst
// tolerance rather than granting a delivery guarantee.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It owns no goroutines; delivery happens
// on the publisher's stack.
func New() Bus {
	return &memBus{subs: make(map[uint64]chan Event)}
}

type memBus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan Event
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	// The lock orders sends against the close in unsubscribe; sends are
	// non-blocking so a full subscriber cannot wedge a publisher.
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}
