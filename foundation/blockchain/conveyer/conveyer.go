// Package conveyer queues transactions submitted through the API until the
// next round batches them into a candidate pool.
package conveyer

import (
	"sync"

	"github.com/consortia/blockchain/foundation/blockchain/pool"
)

// maxDrain bounds how many transactions one round batches.
const maxDrain = 1000

// Conveyer is the transaction packet queue. One mutex guards it; the round
// driver is the only consumer.
type Conveyer struct {
	mu    sync.Mutex
	queue []*pool.Transaction
}

// New constructs an empty conveyer.
func New() *Conveyer {
	return &Conveyer{}
}

// Push enqueues a submitted transaction.
func (c *Conveyer) Push(t *pool.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue = append(c.queue, t)
}

// Drain removes and returns up to maxDrain queued transactions in FIFO
// order.
func (c *Conveyer) Drain() []*pool.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.queue)
	if n > maxDrain {
		n = maxDrain
	}
	out := c.queue[:n]
	c.queue = c.queue[n:]
	return out
}

// Pending reports whether a (source, inner id) pair is still queued.
func (c *Conveyer) Pending(source pool.Address, innerID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.queue {
		if t.InnerID() == innerID && t.Source().SamePublicKey(source) {
			return true
		}
	}
	return false
}

// Len reports the queued count.
func (c *Conveyer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.queue)
}

// PacketHash digests a transaction batch for the round table.
func PacketHash(trxs []*pool.Transaction) pool.Hash {
	e := pool.NewEncoder()
	for _, t := range trxs {
		e.PutFixed(t.Bytes())
	}
	return pool.HashOf(e.Bytes())
}
