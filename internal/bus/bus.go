// Package bus is the per-session event broker. Each session owns one
// Bus; the browser controller publishes lifecycle events into it and
// the SSE handler drains a subscriber channel until the client
// disconnects or the session is torn down.
package bus

import (
	"sync"
	"time"

	. "github.com/relistly/agentbroker/internal/logging"
	"github.com/relistly/agentbroker/internal/wire"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber
// that falls this far behind loses its oldest pending event; the
// publisher never blocks on a slow stream consumer.
const subscriberBuffer = 64

// Bus broadcasts events for one session, in publish order, to any
// number of subscribers (one SSE connection in practice).
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan wire.Frame
	nextID int
	lastTS int64
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]chan wire.Frame)}
}

// Subscribe registers a listener. The returned cancel function
// deregisters it and closes the channel; calling it more than once is
// harmless. The channel is closed when the bus is closed.
func (b *Bus) Subscribe() (<-chan wire.Frame, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan wire.Frame, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish broadcasts one event. Timestamps are unix milliseconds and
// strictly non-decreasing per bus so frame order is externally
// verifiable.
func (b *Bus) Publish(eventType string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	ts := time.Now().UnixMilli()
	if ts < b.lastTS {
		ts = b.lastTS
	}
	b.lastTS = ts

	frame := wire.Frame{Type: eventType, Timestamp: ts, Data: data}
	for id, ch := range b.subs {
		select {
		case ch <- frame:
		default:
			// Drop the oldest pending event to make room.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- frame:
			default:
			}
			L_warn("bus: slow subscriber dropped event", "subscriber", id, "type", eventType)
		}
	}
}

// Close terminates the bus and all subscriber channels. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
