package alert

import (
	"github.com/dj-oyu/ppe-safety-monitor/internal/fanout"
)

// Broadcaster fans serialized alert events out to SSE clients.
type Broadcaster struct {
	hub *fanout.Hub[[]byte]
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{hub: fanout.New[[]byte]("AlertBroadcaster", 4)}
}

// Subscribe adds a new client and returns a channel for receiving events.
func (b *Broadcaster) Subscribe() (int, <-chan []byte) { return b.hub.Subscribe() }

// Unsubscribe removes a client.
func (b *Broadcaster) Unsubscribe(id int) { b.hub.Unsubscribe(id) }

// Publish sends data to every client. Slow clients miss the event.
func (b *Broadcaster) Publish(data []byte) { b.hub.Broadcast(data) }

// Clients returns the number of subscribers.
func (b *Broadcaster) Clients() int { return b.hub.Clients() }

// Close disconnects all clients.
func (b *Broadcaster) Close() { b.hub.Close() }
