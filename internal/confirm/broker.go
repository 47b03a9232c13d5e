// Package confirm manages in-flight user confirmation requests. The
// broker owns the map of outstanding requests and is the single place
// that resolves or cancels them.
package confirm

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"deskmate/internal/events"
	"deskmate/internal/logging"
)

// Request describes an action awaiting user confirmation. It is the
// payload of the confirm-request event.
type Request struct {
	ID          string
	Tool        string
	Description string
	Args        map[string]any

	// Diff is an optional unified diff shown for overwrites.
	Diff string
}

// Answer is the user's decision on a request.
type Answer struct {
	Approved bool

	// Remember asks the executor to record a standing permission so
	// this action is not confirmed again.
	Remember bool
}

// Broker tracks pending confirmations. Each request id is single-use;
// resolving an unknown id is a no-op. Concurrent requests do not block
// each other.
type Broker struct {
	bus     *events.Bus
	mu      sync.Mutex
	pending map[string]chan Answer
}

// NewBroker creates a broker that publishes confirm-request events on
// the given bus.
func NewBroker(bus *events.Bus) *Broker {
	return &Broker{
		bus:     bus,
		pending: make(map[string]chan Answer),
	}
}

// Request publishes a confirmation request and suspends the calling
// goroutine until the UI resolves it, the context is cancelled, or
// CancelAll runs. Cancellation counts as denial.
func (b *Broker) Request(ctx context.Context, req Request) Answer {
	req.ID = uuid.NewString()
	ch := make(chan Answer, 1)

	b.mu.Lock()
	b.pending[req.ID] = ch
	b.mu.Unlock()

	logging.Debug("confirmation requested", "id", req.ID, "tool", req.Tool)
	b.bus.Emit(events.ConfirmRequest, req)

	select {
	case answer := <-ch:
		return answer
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, req.ID)
		b.mu.Unlock()
		return Answer{Approved: false}
	}
}

// Resolve delivers the user's answer for a pending request. Unknown or
// already-consumed ids are ignored.
func (b *Broker) Resolve(id string, answer Answer) {
	b.mu.Lock()
	ch, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if !ok {
		logging.Debug("confirmation resolve for unknown id", "id", id)
		return
	}
	ch <- answer
}

// CancelAll resolves every outstanding request as denied. Used on
// agent-wide abort.
func (b *Broker) CancelAll() {
	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[string]chan Answer)
	b.mu.Unlock()

	for id, ch := range pending {
		logging.Debug("confirmation cancelled", "id", id)
		ch <- Answer{Approved: false}
	}
}

// PendingCount returns the number of outstanding requests.
func (b *Broker) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
