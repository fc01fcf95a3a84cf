package contract

import (
	"sync"
	"time"

	"github.com/consortia/blockchain/foundation/blockchain/pool"
)

// StateEntry guards one contract's tracked state. All updates flow through
// the tracker's scan worker; callers suspend on WaitTillFront until the
// state satisfies their predicate or the timeout expires. The update is
// never consumed: every waiter observes every new version.
type StateEntry struct {
	mu      sync.Mutex
	state   State
	version uint64
	waiters int
	changed chan struct{}
}

func newStateEntry() *StateEntry {
	return &StateEntry{changed: make(chan struct{})}
}

// Snapshot returns the current state.
func (e *StateEntry) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// Update replaces the state through fn and wakes every waiter. Only the scan
// worker calls this.
func (e *StateEntry) Update(fn func(old State) State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = fn(e.state)
	e.version++
	close(e.changed)
	e.changed = make(chan struct{})
}

// Acquire registers interest in coming updates. The caller must Yield when
// done, whether or not it waited.
func (e *StateEntry) Acquire() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.waiters++
}

// Yield releases interest without consuming any update.
func (e *StateEntry) Yield() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.waiters > 0 {
		e.waiters--
	}
}

// Waiters reports how many callers are currently suspended or registered.
func (e *StateEntry) Waiters() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.waiters
}

// WaitTillFront blocks until the predicate accepts the state or the timeout
// elapses. The current state is tested first, so an already-satisfied
// predicate returns without suspending. Returns false on timeout.
func (e *StateEntry) WaitTillFront(pred func(State) bool, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		e.mu.Lock()
		st := e.state
		changed := e.changed
		e.mu.Unlock()

		if pred(st) {
			return true
		}

		select {
		case <-changed:
		case <-deadline.C:
			return false
		}
	}
}

// =============================================================================

// trxnEntry supports WaitForSmartTransaction: a FIFO of the contract's
// sealed smart transaction ids plus a wake signal for suspended callers.
type trxnEntry struct {
	mu      sync.Mutex
	queue   []pool.TransactionID
	arrived chan struct{}
}

func newTrxnEntry() *trxnEntry {
	return &trxnEntry{arrived: make(chan struct{})}
}

// push appends a sealed id and wakes every suspended caller.
func (e *trxnEntry) push(id pool.TransactionID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.queue = append(e.queue, id)
	close(e.arrived)
	e.arrived = make(chan struct{})
}

// pop removes and returns the oldest id, blocking up to timeout when the
// queue is empty. Returns false on timeout; timeout 0 does not suspend.
func (e *trxnEntry) pop(timeout time.Duration) (pool.TransactionID, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		e.mu.Lock()
		if len(e.queue) > 0 {
			id := e.queue[0]
			e.queue = e.queue[1:]
			e.mu.Unlock()
			return id, true
		}
		arrived := e.arrived
		e.mu.Unlock()

		if timeout <= 0 {
			return pool.TransactionID{}, false
		}

		select {
		case <-arrived:
		case <-deadline.C:
			return pool.TransactionID{}, false
		}
	}
}
