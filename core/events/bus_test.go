package events

import (
	"context"
	"testing"
)

type testEvent struct {
	label string
}

func (e testEvent) EventType() string { return "test." + e.label }

func TestBusDeliversToSubscriber(t *testing.T) {
	bus := NewBus()
	updates, cancel, backlog := bus.Subscribe(context.Background(), 0)
	defer cancel()
	if len(backlog) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(backlog))
	}

	bus.Emit(testEvent{label: "deposit"})

	got := <-updates
	if got.Sequence != 1 {
		t.Fatalf("expected sequence 1, got %d", got.Sequence)
	}
	if got.Event.EventType() != "test.deposit" {
		t.Fatalf("unexpected event %q", got.Event.EventType())
	}
}

func TestBusBacklogHonoursCursor(t *testing.T) {
	bus := NewBus()
	bus.Emit(testEvent{label: "a"})
	bus.Emit(testEvent{label: "b"})
	bus.Emit(testEvent{label: "c"})

	_, cancel, backlog := bus.Subscribe(context.Background(), 1)
	defer cancel()

	if len(backlog) != 2 {
		t.Fatalf("expected two replayed events, got %d", len(backlog))
	}
	if backlog[0].Sequence != 2 || backlog[1].Sequence != 3 {
		t.Fatalf("unexpected backlog sequences %d, %d", backlog[0].Sequence, backlog[1].Sequence)
	}
	if bus.Sequence() != 3 {
		t.Fatalf("expected bus sequence 3, got %d", bus.Sequence())
	}
}

func TestBusCancelClosesChannel(t *testing.T) {
	bus := NewBus()
	updates, cancel, _ := bus.Subscribe(nil, 0)

	cancel()
	cancel()

	if _, open := <-updates; open {
		t.Fatalf("expected closed channel after cancel")
	}

	bus.Emit(testEvent{label: "late"})
}

func TestBusSlowSubscriberDoesNotBlockEmit(t *testing.T) {
	bus := NewBus()
	_, cancel, _ := bus.Subscribe(nil, 0)
	defer cancel()

	// Channel buffer is 32; emitting past it must not deadlock.
	for i := 0; i < 100; i++ {
		bus.Emit(testEvent{label: "burst"})
	}
	if bus.Sequence() != 100 {
		t.Fatalf("expected 100 emissions, got %d", bus.Sequence())
	}
}

func TestBusHistoryBounded(t *testing.T) {
	bus := NewBus()
	for i := 0; i < busHistoryLimit+10; i++ {
		bus.Emit(testEvent{label: "fill"})
	}

	_, cancel, backlog := bus.Subscribe(nil, 0)
	defer cancel()

	if len(backlog) != busHistoryLimit {
		t.Fatalf("expected backlog capped at %d, got %d", busHistoryLimit, len(backlog))
	}
	if backlog[0].Sequence != 11 {
		t.Fatalf("expected oldest retained sequence 11, got %d", backlog[0].Sequence)
	}
}
