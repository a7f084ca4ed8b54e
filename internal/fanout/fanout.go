// Package fanout delivers values to subscribed channels without letting a
// slow subscriber hold up the publisher.
package fanout

import (
	"sync"

	"github.com/dj-oyu/ppe-safety-monitor/internal/logger"
)

// Hub fans values out to subscribers. A subscriber whose buffer is full
// misses the value.
type Hub[T any] struct {
	name   string
	buffer int

	mu      sync.Mutex
	clients map[int]chan T
	nextID  int
	closed  bool
}

// New creates a hub whose subscriber channels hold buffer values. name
// tags the hub's log lines.
func New[T any](name string, buffer int) *Hub[T] {
	return &Hub[T]{name: name, buffer: buffer, clients: make(map[int]chan T)}
}

// Subscribe adds a client. initial values are queued on the new channel
// as far as its buffer allows. After Close the channel is returned closed.
func (h *Hub[T]) Subscribe(initial ...T) (int, <-chan T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan T, h.buffer)
	if h.closed {
		close(ch)
		return id, ch
	}
	for _, v := range initial {
		select {
		case ch <- v:
		default:
		}
	}
	h.clients[id] = ch

	logger.Debug(h.name, "Client #%d subscribed (total clients: %d)", id, len(h.clients))
	return id, ch
}

// Unsubscribe removes a client and closes its channel.
func (h *Hub[T]) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
		logger.Debug(h.name, "Client #%d unsubscribed (remaining clients: %d)", id, len(h.clients))
	}
}

// Broadcast sends v to every client.
func (h *Hub[T]) Broadcast(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.clients {
		select {
		case ch <- v:
		default:
			// Client too slow, skip this value for this client
			logger.Debug(h.name, "Client #%d too slow, value dropped", id)
		}
	}
}

// Clients returns the number of subscribers.
func (h *Hub[T]) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients. Later subscribers get a closed channel.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
}
