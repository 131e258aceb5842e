package events

import (
	"context"
	"sync"
)

const busHistoryLimit = 2048

// Sequenced pairs an event with its position in the bus stream so
// subscribers can resume after a disconnect.
type Sequenced struct {
	Sequence uint64
	Event    Event
}

// Bus fans facility events out to subscribers. Emit never blocks: a
// subscriber that falls behind its channel buffer misses entries and must
// resync through the history cursor.
type Bus struct {
	mu      sync.Mutex
	subs    map[uint64]chan Sequenced
	nextID  uint64
	seq     uint64
	history []Sequenced
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]chan Sequenced)}
}

// Emit stamps the event with the next sequence number and broadcasts it.
// Satisfies the Emitter interface.
func (b *Bus) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.Lock()
	b.seq++
	entry := Sequenced{Sequence: b.seq, Event: evt}
	b.history = append(b.history, entry)
	if len(b.history) > busHistoryLimit {
		excess := len(b.history) - busHistoryLimit
		trimmed := make([]Sequenced, busHistoryLimit)
		copy(trimmed, b.history[excess:])
		b.history = trimmed
	}
	subscribers := make([]chan Sequenced, 0, len(b.subs))
	for _, ch := range b.subs {
		subscribers = append(subscribers, ch)
	}
	b.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- entry:
		default:
		}
	}
}

// Sequence returns the number of the most recently emitted event.
func (b *Bus) Sequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Subscribe registers a listener for events after the supplied sequence
// cursor. Retained history past the cursor is returned as a backlog; the
// cancel function unregisters the listener and closes its channel. When ctx
// is non-nil, cancellation follows the context.
func (b *Bus) Subscribe(ctx context.Context, since uint64) (<-chan Sequenced, func(), []Sequenced) {
	updates := make(chan Sequenced, 32)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = updates
	history := make([]Sequenced, len(b.history))
	copy(history, b.history)
	b.mu.Unlock()

	backlog := make([]Sequenced, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, entry)
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			sub, ok := b.subs[id]
			if ok {
				delete(b.subs, id)
				close(sub)
			}
			b.mu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog
}
