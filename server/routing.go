package server

import (
	"sync"

	"rura/protocol"
)

// Sink is the single-consumer, multi-producer outbound queue owned by
// one connection's reactor goroutine.
type Sink chan protocol.Envelope

// RoutingTable maps a user id to the outbound sink of that user's
// currently active connection. register always overwrites (latest
// wins); the previous sink is simply dropped, and its owning reactor
// observes this by losing its place in the table, not by the channel
// closing.
type RoutingTable struct {
	mu   sync.RWMutex
	sink map[int64]Sink
}

// NewRoutingTable returns an empty table.
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{sink: make(map[int64]Sink)}
}

// Register installs sink as the active route for userID, overwriting
// any previous entry.
func (t *RoutingTable) Register(userID int64, sink Sink) {
	t.mu.Lock()
	t.sink[userID] = sink
	t.mu.Unlock()
}

// Unregister removes userID's route, but only if it still points at
// sink — a later login may already have taken over, and that newer
// entry must not be evicted by a stale connection's teardown.
func (t *RoutingTable) Unregister(userID int64, sink Sink) {
	t.mu.Lock()
	if current, ok := t.sink[userID]; ok && current == sink {
		delete(t.sink, userID)
	}
	t.mu.Unlock()
}

// GetSink returns the active sink for userID, if any.
func (t *RoutingTable) GetSink(userID int64) (Sink, bool) {
	t.mu.RLock()
	sink, ok := t.sink[userID]
	t.mu.RUnlock()
	return sink, ok
}
