package chain

import (
	"errors"

	"github.com/consortia/blockchain/foundation/blockchain/pool"
)

// ErrDeferredBusy is returned when a second pool is offered while one is
// already pending final signature aggregation.
var ErrDeferredBusy = errors.New("deferred slot occupied")

// Defer holds a pool pending final signature aggregation. At most one pool
// occupies the slot; it is visible to local readers but not yet appended.
func (c *Chain) Defer(p *pool.Pool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deferred != nil && c.deferred.Sequence() != p.Sequence() {
		return ErrDeferredBusy
	}
	c.deferred = p
	return nil
}

// Deferred returns the pending pool, nil when the slot is empty.
func (c *Chain) Deferred() *pool.Pool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.deferred
}

// CommitDeferred appends the pending pool and empties the slot. The slot must
// be occupied.
func (c *Chain) CommitDeferred() error {
	c.mu.Lock()
	p := c.deferred
	c.deferred = nil
	c.mu.Unlock()

	if p == nil {
		return errors.New("deferred slot empty")
	}
	return c.Append(p)
}

// DropDeferred discards the pending pool, if any. Called when the round's
// aggregation fails and the scheduler advances without a block.
func (c *Chain) DropDeferred() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deferred = nil
}
