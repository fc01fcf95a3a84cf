// Package memory implements the transport interface as an in-process bus.
// Every node in the process subscribes with its key; broadcast fans out to
// all other subscribers, unicast targets one.
package memory

import (
	"sync"

	"github.com/consortia/blockchain/foundation/blockchain/pool"
	"github.com/consortia/blockchain/foundation/blockchain/transport"
)

// Bus is the shared in-process wire.
type Bus struct {
	mu    sync.RWMutex
	nodes map[pool.PublicKey]transport.Handler
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{nodes: make(map[pool.PublicKey]transport.Handler)}
}

// Join returns the per-node transport endpoint for a key.
func (b *Bus) Join(self pool.PublicKey) *Endpoint {
	return &Endpoint{bus: b, self: self}
}

func (b *Bus) deliver(from, to pool.PublicKey, msg transport.Message) {
	b.mu.RLock()
	h := b.nodes[to]
	b.mu.RUnlock()

	if h != nil && to != from {
		h(msg)
	}
}

// Endpoint is one node's view of the bus.
type Endpoint struct {
	bus  *Bus
	self pool.PublicKey
}

// Broadcast delivers to every other subscriber.
func (e *Endpoint) Broadcast(msgType transport.MsgType, round uint64, payload []byte) {
	msg := transport.Message{Type: msgType, Round: round, Sender: e.self, Payload: payload}

	e.bus.mu.RLock()
	targets := make([]pool.PublicKey, 0, len(e.bus.nodes))
	for key := range e.bus.nodes {
		targets = append(targets, key)
	}
	e.bus.mu.RUnlock()

	for _, key := range targets {
		e.bus.deliver(e.self, key, msg)
	}
}

// Unicast delivers to one subscriber.
func (e *Endpoint) Unicast(target pool.PublicKey, msgType transport.MsgType, round uint64, payload []byte) {
	msg := transport.Message{Type: msgType, Round: round, Sender: e.self, Payload: payload}
	e.bus.deliver(e.self, target, msg)
}

// Subscribe registers the node's incoming-message handler.
func (e *Endpoint) Subscribe(self pool.PublicKey, h transport.Handler) {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()

	e.bus.nodes[self] = h
}
