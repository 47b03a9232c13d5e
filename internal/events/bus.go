// Package events carries notifications from the agent core out to any
// interested UI surface. Delivery is broadcast; confirmation resolution
// travels back through the confirm broker, routed by request id.
package events

import (
	"sync"

	"deskmate/internal/logging"
)

// Type names an outbound notification from the agent core.
type Type string

const (
	HistoryUpdated  Type = "history-updated"
	StreamToken     Type = "stream-token"
	StreamThinking  Type = "stream-thinking"
	ConfirmRequest  Type = "confirm-request"
	Aborted         Type = "aborted"
	ErrorOccurred   Type = "error"
	ArtifactCreated Type = "artifact-created"
	Done            Type = "done"
)

// Event is a named notification with an arbitrary payload.
type Event struct {
	Type    Type
	Payload any
}

// Handler receives published events.
type Handler func(Event)

// Bus is a broadcast notification channel. Handlers run synchronously in
// publish order; a panicking handler is recovered and logged so one bad
// observer cannot take down the agent.
type Bus struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers a handler and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Publish delivers the event to every subscribed handler.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Error("event handler panic", "type", ev.Type, "panic", r)
				}
			}()
			h(ev)
		}()
	}
}

// Emit is shorthand for Publish with a freshly built event.
func (b *Bus) Emit(t Type, payload any) {
	b.Publish(Event{Type: t, Payload: payload})
}
