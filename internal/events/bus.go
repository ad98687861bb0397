// Package events provides the in-process event bus that carries refresh
// lifecycle and progress events to the SSE stream.
package events

import (
	"sync"
	"time"
)

// Event names for refresh lifecycle events.
const (
	RefreshStarted   = "RefreshStarted"
	RefreshProgress  = "RefreshProgress"
	RefreshCompleted = "RefreshCompleted"
)

// Event is one published event with its payload.
type Event struct {
	Name      string      `json:"name"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Bus is a simple fan-out pub/sub bus. Slow subscribers drop events
// rather than block publishers: progress reporting must never stall a
// refresh pass.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[int]chan Event),
	}
}

// Emit publishes an event to all current subscribers without blocking.
func (b *Bus) Emit(name string, data interface{}) {
	event := Event{
		Name:      name,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is behind; drop rather than block
		}
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is buffered; see Emit.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan Event, 64)
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
	}

	return ch, unsubscribe
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
