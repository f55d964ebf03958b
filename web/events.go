package web

import (
	"sync"

	"github.com/rohanthewiz/logger"
)

// EventHub fans progress events out to every open /events stream.
// rweb gives no signal when a stream goes away, so a subscriber whose
// buffer is full is treated as gone: it is dropped and its channel closed,
// which also ends rweb's send loop for it.
type EventHub struct {
	mu   sync.Mutex
	subs map[chan any]struct{}
	size int
}

func NewEventHub(buffer int) *EventHub {
	return &EventHub{subs: make(map[chan any]struct{}), size: buffer}
}

// Subscribe returns a channel receiving every event published from now on.
func (h *EventHub) Subscribe() <-chan any {
	ch := make(chan any, h.size)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Publish delivers event to every subscriber without blocking.
func (h *EventHub) Publish(event any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- event:
		default:
			delete(h.subs, ch)
			close(ch)
			logger.Debug("Dropped stalled SSE subscriber", "remaining", len(h.subs))
		}
	}
}

// Subscribers returns the number of live subscribers.
func (h *EventHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
