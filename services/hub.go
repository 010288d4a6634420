package services

import (
	"sync"

	"builderbuddy-backend/core/marketplace"
)

// DefaultHubBuffer is the per-subscriber channel size.
const DefaultHubBuffer = 64

// EventHub fans events out to live subscribers (SSE and WebSocket
// clients). Slow subscribers miss events instead of blocking publishers.
type EventHub struct {
	mu        sync.Mutex
	buffer    int
	listeners map[chan marketplace.Event]struct{}
}

func NewEventHub(buffer int) *EventHub {
	if buffer <= 0 {
		buffer = DefaultHubBuffer
	}
	return &EventHub{buffer: buffer, listeners: make(map[chan marketplace.Event]struct{})}
}

// Subscribe returns a channel of future events and a function that
// unsubscribes and closes it.
func (h *EventHub) Subscribe() (<-chan marketplace.Event, func()) {
	ch := make(chan marketplace.Event, h.buffer)
	h.mu.Lock()
	h.listeners[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Broadcast pushes evt to every subscriber without blocking.
func (h *EventHub) Broadcast(evt marketplace.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.listeners {
		select {
		case ch <- evt:
		default:
			// drop if slow consumer
		}
	}
}

// Subscribers reports the number of live subscribers.
func (h *EventHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}
