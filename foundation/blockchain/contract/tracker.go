package contract

import (
	"sync"
	"time"

	"github.com/consortia/blockchain/foundation/blockchain/pool"
	"github.com/consortia/blockchain/foundation/blockchain/wallets"
	metrics "github.com/rcrowley/go-metrics"
)

// EventHandler is the logging callback threaded through the tracker.
type EventHandler func(v string, args ...any)

// Blockchain is the read surface the tracker scans. The chain store
// implements it.
type Blockchain interface {
	LastHash() pool.Hash
	LastSequence() uint64
	LoadByHash(hash pool.Hash) (*pool.Pool, error)
	LoadMeta(hash pool.Hash) (pool.Meta, error)
	LoadTransaction(id pool.TransactionID) (*pool.Transaction, error)
	Subscribe() <-chan struct{}
}

// Config carries the tracker's construction parameters.
type Config struct {
	Chain    Blockchain
	Wallets  *wallets.Wallets
	Executor Executor

	// MaxRoundsCancel is how many rounds a pending invocation may wait for
	// its new-state before it is failed.
	MaxRoundsCancel uint64

	EvHandler EventHandler
}

type queuedTrx struct {
	sequence uint64
	trx      *pool.Transaction
}

// Tracker owns the derived smart-contract indices. A single scan worker
// mutates them in block order; queries read under the per-index locks.
//
// Lock order, when more than one is held: origin, state, creators,
// operations, pending, queue, lastTrxn.
type Tracker struct {
	chain   Blockchain
	wallets *wallets.Wallets
	exec    Executor
	ev      EventHandler

	maxRoundsCancel uint64

	muOrigin sync.Mutex
	origin   map[pool.Address]pool.TransactionID

	muState sync.Mutex
	states  map[pool.Address]*StateEntry

	muCreators sync.Mutex
	creators   map[pool.Address][]pool.TransactionID

	muOps sync.Mutex
	ops   map[pool.TransactionID]*Operation

	muPending sync.Mutex
	pending   map[uint64][]pool.TransactionID

	muQueue sync.Mutex
	queue   []queuedTrx

	muTrxn   sync.Mutex
	lastTrxn map[pool.Address]*trxnEntry

	// Scan cursor: the last block folded into the indices.
	muCursor     sync.Mutex
	lastPullHash pool.Hash
	lastPullSeq  uint64

	tokens *TokenRegistry

	indexed metrics.Counter
}

// New constructs the tracker. Run starts the scan worker.
func New(cfg Config) *Tracker {
	ev := cfg.EvHandler
	if ev == nil {
		ev = func(string, ...any) {}
	}

	t := Tracker{
		chain:           cfg.Chain,
		wallets:         cfg.Wallets,
		exec:            cfg.Executor,
		ev:              ev,
		maxRoundsCancel: cfg.MaxRoundsCancel,
		origin:          make(map[pool.Address]pool.TransactionID),
		states:          make(map[pool.Address]*StateEntry),
		creators:        make(map[pool.Address][]pool.TransactionID),
		ops:             make(map[pool.TransactionID]*Operation),
		pending:         make(map[uint64][]pool.TransactionID),
		lastTrxn:        make(map[pool.Address]*trxnEntry),
		indexed:         metrics.GetOrRegisterCounter("tracker.transactions.indexed", nil),
	}
	t.tokens = newTokenRegistry(&t)

	return &t
}

// Run is the scan worker loop: an initial catch-up walk, then one drain per
// block-appended signal until shutdown.
func (t *Tracker) Run(shut <-chan struct{}) {
	appended := t.chain.Subscribe()

	t.catchUp(true)

	for {
		select {
		case <-shut:
			return
		case <-appended:
			t.catchUp(false)
		}
	}
}

// CatchUp folds every block the indices have not seen yet. Exposed for
// callers that need a synchronous scan, such as the tests.
func (t *Tracker) CatchUp() {
	t.catchUp(false)
}

// catchUp walks the head backwards to the scan cursor, then replays the
// collected blocks oldest first. Reaching the genesis without meeting the
// cursor means the head moved to another branch: the indices are rebuilt
// from scratch against the new chain.
func (t *Tracker) catchUp(init bool) {
	head := t.chain.LastHash()

	t.muCursor.Lock()
	cursor := t.lastPullHash
	t.muCursor.Unlock()

	if head == cursor {
		return
	}

	var newBlocks []pool.Hash
	forked := false
	curph := head
	for curph != cursor {
		newBlocks = append(newBlocks, curph)
		meta, err := t.chain.LoadMeta(curph)
		if err != nil {
			t.ev("tracker: catch up: meta[%s]: %s", curph.Hex(), err)
			return
		}
		curph = meta.PreviousHash
		if curph.IsZero() {
			forked = !cursor.IsZero()
			break
		}
	}

	if forked {
		t.ev("tracker: fork detected at head[%s], rebuilding indices", head.Hex())
		t.reset()
		init = true
	}

	for i := len(newBlocks) - 1; i >= 0; i-- {
		p, err := t.chain.LoadByHash(newBlocks[i])
		if err != nil {
			t.ev("tracker: catch up: load[%s]: %s", newBlocks[i].Hex(), err)
			return
		}
		t.scanPool(p, init)
	}
}

// reset drops every derived index back to the cold state.
func (t *Tracker) reset() {
	t.muOrigin.Lock()
	t.origin = make(map[pool.Address]pool.TransactionID)
	t.muOrigin.Unlock()

	t.muState.Lock()
	t.states = make(map[pool.Address]*StateEntry)
	t.muState.Unlock()

	t.muCreators.Lock()
	t.creators = make(map[pool.Address][]pool.TransactionID)
	t.muCreators.Unlock()

	t.muOps.Lock()
	t.ops = make(map[pool.TransactionID]*Operation)
	t.muOps.Unlock()

	t.muPending.Lock()
	t.pending = make(map[uint64][]pool.TransactionID)
	t.muPending.Unlock()

	t.muQueue.Lock()
	t.queue = nil
	t.muQueue.Unlock()

	t.muCursor.Lock()
	t.lastPullHash = pool.ZeroHash
	t.lastPullSeq = 0
	t.muCursor.Unlock()

	t.tokens.reset()
}

// scanPool folds one block: smart and smart-state transactions are pushed in
// reverse declaration order onto the pending queue, the queue drains FIFO,
// then invocations past the cancel window are failed.
func (t *Tracker) scanPool(p *pool.Pool, init bool) {
	t.muCursor.Lock()
	t.lastPullHash = p.Hash()
	if t.lastPullSeq < p.Sequence() {
		t.lastPullSeq = p.Sequence()
	}
	lastSeq := t.lastPullSeq
	t.muCursor.Unlock()

	trs := p.Transactions()
	t.muQueue.Lock()
	for i := len(trs) - 1; i >= 0; i-- {
		if IsSmart(trs[i]) || IsNewState(trs[i]) {
			t.queue = append(t.queue, queuedTrx{sequence: p.Sequence(), trx: trs[i]})
		}
	}
	t.muQueue.Unlock()

	for {
		t.muQueue.Lock()
		if len(t.queue) == 0 {
			t.muQueue.Unlock()
			break
		}
		elt := t.queue[0]
		t.queue = t.queue[1:]
		t.muQueue.Unlock()

		t.processQueued(elt, init)
		t.indexed.Inc(1)
	}

	t.cancelExpired(lastSeq)
}

func (t *Tracker) processQueued(elt queuedTrx, init bool) {
	trx := elt.trx

	target, err := t.wallets.Resolve(trx.Target())
	if err != nil {
		t.ev("tracker: unresolved target in trx[%d:%d]", elt.sequence, trx.ID().Index)
		return
	}
	source, err := t.wallets.Resolve(trx.Source())
	if err != nil {
		t.ev("tracker: unresolved source in trx[%d:%d]", elt.sequence, trx.ID().Index)
		return
	}

	if IsNewState(trx) {
		t.processNewState(trx, target)
		return
	}

	t.processSmart(elt, trx, source, target, init)
}

// processNewState pairs a state transaction with its initiating operation
// and replaces the contract's tracked state.
func (t *Tracker) processNewState(trx *pool.Transaction, target pool.Address) {
	ref, err := RefOf(trx)
	if err != nil {
		t.ev("tracker: bad new-state ref in trx[%s]", trx.ID().PoolHash.Hex())
		return
	}
	initerID := ref.TransactionID()
	newState := trx.UserField(pool.UFNewState).String()

	entry := t.stateEntry(target)
	entry.Update(func(old State) State {
		st := State{
			Current:     newState,
			LastEmpty:   newState == "",
			Transaction: trx.ID(),
			Initer:      initerID,
		}
		if newState == "" {
			st.Current = old.Current
		}
		return st
	})

	execTrans, err := t.chain.LoadTransaction(initerID)
	if err != nil || !IsSmart(execTrans) {
		return
	}

	retVal := trx.UserField(pool.UFNewStateRetVal).String()

	t.muOps.Lock()
	op := t.operationLocked(initerID)
	if op.State == Pending {
		if newState == "" {
			op.State = Failed
		} else {
			op.State = Success
		}
	}
	op.StateTransaction = trx.ID()
	if retVal != "" {
		op.HasRetval = true
		op.ReturnValue = retVal
	}
	t.muOps.Unlock()

	inv, err := FetchInvocation(execTrans)
	if err != nil {
		return
	}

	caller, err := t.wallets.Resolve(execTrans.Source())
	if err != nil {
		return
	}

	if inv.IsDeploy() {
		t.tokens.checkNewDeploy(target, caller, inv)
	}
	if newState != "" {
		t.tokens.checkNewState(target, caller, inv)
	}
}

// processSmart registers a pending operation for a deploy or invoke and, for
// deploys carrying bytecode, the contract's origin.
func (t *Tracker) processSmart(elt queuedTrx, trx *pool.Transaction, source, target pool.Address, init bool) {
	inv, err := FetchInvocation(trx)
	if err != nil {
		t.ev("tracker: bad invocation in trx[%d:%d]", elt.sequence, trx.ID().Index)
		return
	}

	if !init {
		t.muTrxn.Lock()
		entry, exists := t.lastTrxn[target]
		if !exists {
			entry = newTrxnEntry()
			t.lastTrxn[target] = entry
		}
		t.muTrxn.Unlock()
		entry.push(trx.ID())
	}

	if inv.IsDeploy() && len(inv.ByteCodeObjects) > 0 {
		t.muOrigin.Lock()
		t.origin[target] = trx.ID()
		t.muOrigin.Unlock()

		t.muCreators.Lock()
		t.creators[source] = append(t.creators[source], trx.ID())
		t.muCreators.Unlock()
	}

	t.muOps.Lock()
	t.operationLocked(trx.ID())
	t.muOps.Unlock()

	t.muPending.Lock()
	t.pending[elt.sequence] = append(t.pending[elt.sequence], trx.ID())
	t.muPending.Unlock()
}

// cancelExpired fails every still-pending operation whose block fell out of
// the cancel window. The transition happens exactly once.
func (t *Tracker) cancelExpired(lastSeq uint64) {
	t.muOps.Lock()
	t.muPending.Lock()

	for seq, ids := range t.pending {
		if seq+t.maxRoundsCancel > lastSeq {
			continue
		}
		for _, id := range ids {
			op := t.operationLocked(id)
			if op.State == Pending {
				op.State = Failed
				t.ev("tracker: operation timed out: blk[%d]", seq)
			}
		}
		delete(t.pending, seq)
	}

	t.muPending.Unlock()
	t.muOps.Unlock()
}

// operationLocked returns the operation record for id, creating a Pending
// one. Callers hold muOps.
func (t *Tracker) operationLocked(id pool.TransactionID) *Operation {
	op, exists := t.ops[id]
	if !exists {
		op = &Operation{State: Pending}
		t.ops[id] = op
	}
	return op
}

func (t *Tracker) stateEntry(addr pool.Address) *StateEntry {
	t.muState.Lock()
	defer t.muState.Unlock()

	entry, exists := t.states[addr]
	if !exists {
		entry = newStateEntry()
		t.states[addr] = entry
	}
	return entry
}

// =============================================================================
// Query surface.

// Origin returns the deploy transaction id of a live contract.
func (t *Tracker) Origin(addr pool.Address) (pool.TransactionID, bool) {
	t.muOrigin.Lock()
	defer t.muOrigin.Unlock()

	id, exists := t.origin[addr]
	return id, exists
}

// IsContract reports whether the address has a live deploy.
func (t *Tracker) IsContract(addr pool.Address) bool {
	_, exists := t.Origin(addr)
	return exists
}

// Contracts returns every deployed contract address.
func (t *Tracker) Contracts() []pool.Address {
	t.muOrigin.Lock()
	defer t.muOrigin.Unlock()

	out := make([]pool.Address, 0, len(t.origin))
	for addr := range t.origin {
		out = append(out, addr)
	}
	return out
}

// DeployedBy returns the deploy transaction ids of one creator, in chain
// order.
func (t *Tracker) DeployedBy(creator pool.Address) []pool.TransactionID {
	t.muCreators.Lock()
	defer t.muCreators.Unlock()

	return append([]pool.TransactionID(nil), t.creators[creator]...)
}

// OperationOf returns a copy of the tracked operation for an initiating id.
func (t *Tracker) OperationOf(id pool.TransactionID) (Operation, bool) {
	t.muOps.Lock()
	defer t.muOps.Unlock()

	op, exists := t.ops[id]
	if !exists {
		return Operation{}, false
	}
	return *op, true
}

// StateOf returns the guarded state entry for a contract address, creating
// it so callers can register before the deploy lands.
func (t *Tracker) StateOf(addr pool.Address) *StateEntry {
	return t.stateEntry(addr)
}

// Tokens exposes the derived token index.
func (t *Tracker) Tokens() *TokenRegistry {
	return t.tokens
}

// WaitForSmartTransaction blocks until the contract address sees its next
// smart transaction or the timeout elapses. Timeout 0 polls: it returns
// immediately with ok=false iff the queue is empty.
func (t *Tracker) WaitForSmartTransaction(addr pool.Address, timeout time.Duration) (pool.TransactionID, bool) {
	resolved, err := t.wallets.Resolve(addr)
	if err != nil {
		return pool.TransactionID{}, false
	}

	t.muTrxn.Lock()
	entry, exists := t.lastTrxn[resolved]
	if !exists {
		entry = newTrxnEntry()
		t.lastTrxn[resolved] = entry
	}
	t.muTrxn.Unlock()

	return entry.pop(timeout)
}

// ExecutorRPC exposes the configured executor for the flow path.
func (t *Tracker) ExecutorRPC() Executor {
	return t.exec
}
