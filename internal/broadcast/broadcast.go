// Package broadcast fans ingestion results out to in-process listeners.
// Delivery is best effort: a listener that has fallen behind misses
// messages instead of stalling the ingestion pipeline.
package broadcast

import (
	"sync"

	"github.com/adityakinifr/ccmonitor/internal/store"
)

// Message kinds.
const (
	KindEvent   = "event"
	KindSession = "session"
	KindStats   = "stats"
)

// Message is one live update. Exactly one payload field is set, according
// to Kind.
type Message struct {
	Kind    string             `json:"kind"`
	Event   *store.Event       `json:"event,omitempty"`
	Session *store.Session     `json:"session,omitempty"`
	Stats   *store.GlobalStats `json:"stats,omitempty"`
}

// Hub owns the listener set. The zero value is not usable; construct with
// NewHub.
type Hub struct {
	mu     sync.Mutex
	buffer int
	subs   map[chan Message]struct{}
	closed bool
}

// NewHub returns a hub whose subscriber channels buffer the given number of
// messages. Non-positive buffers get a small default.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[chan Message]struct{}),
	}
}

// Subscribe registers a listener and returns its channel plus a cancel
// function. Cancel is idempotent and closes the channel.
func (h *Hub) Subscribe() (<-chan Message, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Message, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers msg to every subscriber whose buffer has room. It never
// blocks.
func (h *Hub) Publish(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Close drops all subscribers and closes their channels. Publish and
// Subscribe become no-ops afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
	}
	h.subs = map[chan Message]struct{}{}
}
