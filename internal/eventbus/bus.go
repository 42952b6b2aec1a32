// Package eventbus implements a synchronous in-process publish/subscribe
// channel. Publish does not return until every subscribed handler has run,
// and every published event is appended to a replayable history so tests
// and operators can inspect exactly what fired, in what order.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// EventTypeKey is the key every published payload must carry. Its value
// selects which handler list receives the event.
const EventTypeKey = "event_type"

// ErrMissingEventType is returned by Publish when the payload carries no
// usable event_type entry.
var ErrMissingEventType = errors.New("eventbus: payload missing event_type")

// Event is one published entry: the caller-supplied ID plus the payload.
type Event struct {
	ID   string
	Data map[string]any
}

// Type returns the event_type value, or "" if it is missing or not a string.
func (e Event) Type() string {
	t, _ := e.Data[EventTypeKey].(string)
	return t
}

// Handler is invoked synchronously for every event of a subscribed type.
type Handler func(ctx context.Context, evt Event)

// Bus dispatches events to handlers registered per event type.
// Handlers for a given type run in registration order; no ordering is
// guaranteed across different types.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	history  []Event
}

func New() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers a handler for the given event type. Multiple handlers
// per type are allowed and all are invoked on publish.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Publish records the event in the history and invokes every handler
// registered for its type, synchronously. Publishing to zero listeners is
// not an error — the history entry is still appended.
func (b *Bus) Publish(ctx context.Context, eventID string, data map[string]any) error {
	evt := Event{ID: eventID, Data: data}
	if evt.Type() == "" {
		return fmt.Errorf("publish %q: %w", eventID, ErrMissingEventType)
	}

	b.mu.Lock()
	b.history = append(b.history, evt)
	// Copy the handler slice so handlers can publish or subscribe
	// without deadlocking on the bus mutex.
	hs := make([]Handler, len(b.handlers[evt.Type()]))
	copy(hs, b.handlers[evt.Type()])
	b.mu.Unlock()

	for _, h := range hs {
		h(ctx, evt)
	}
	return nil
}

// PublishedEvents returns a copy of the full publish history in order.
func (b *Bus) PublishedEvents() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

// ClearEvents drops the history. Intended for tests.
func (b *Bus) ClearEvents() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
}

// ClearHandlers removes every subscription. Intended for tests.
func (b *Bus) ClearHandlers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string][]Handler)
}
