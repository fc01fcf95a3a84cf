// Package chain maintains the append-only sequence of pools: lookup by hash
// or height, previous-hash linkage, the deferred slot held between stage3
// commit and final append, and the appended-event notification the
// smart-contract tracker waits on.
package chain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/consortia/blockchain/foundation/blockchain/pool"
	metrics "github.com/rcrowley/go-metrics"
)

// Chain-store errors.
var (
	ErrNotFound  = errors.New("pool not found")
	ErrBadLink   = errors.New("pool does not link to chain head")
	ErrNoGenesis = errors.New("storage holds no genesis pool")

	// ErrFatal wraps storage I/O failures. The node halts appending on it.
	ErrFatal = errors.New("chain storage failure")
)

// EventHandler is the logging callback threaded through the chain packages.
type EventHandler func(v string, args ...any)

// Chain manages the persisted pool sequence. Appends are exclusive; reads
// proceed concurrently.
type Chain struct {
	mu      sync.RWMutex
	storage Storage
	ev      EventHandler

	lastHash pool.Hash
	lastSeq  uint64
	byHash   map[pool.Hash]uint64

	deferred *pool.Pool

	subs []chan struct{}

	appendCount metrics.Counter
	trxCount    metrics.Counter
}

// New constructs the chain over the given storage, replaying the stored
// stream to rebuild the hash index. Empty storage is primed with the genesis
// pool.
func New(storage Storage, genesis *pool.Pool, ev EventHandler) (*Chain, error) {
	if ev == nil {
		ev = func(string, ...any) {}
	}

	c := Chain{
		storage:     storage,
		ev:          ev,
		byHash:      make(map[pool.Hash]uint64),
		appendCount: metrics.GetOrRegisterCounter("chain.pools.appended", nil),
		trxCount:    metrics.GetOrRegisterCounter("chain.transactions.appended", nil),
	}

	iter := storage.ForEach()
	for !iter.Done() {
		seq, data, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("%w: reading block %d: %s", ErrFatal, seq, err)
		}
		p, err := pool.FromBinary(data)
		if err != nil {
			return nil, fmt.Errorf("decoding block %d: %w", seq, err)
		}
		if seq > 0 && p.PreviousHash() != c.lastHash {
			return nil, fmt.Errorf("block %d: %w", seq, ErrBadLink)
		}
		c.byHash[p.Hash()] = seq
		c.lastHash = p.Hash()
		c.lastSeq = seq
	}

	if len(c.byHash) == 0 {
		if genesis == nil {
			return nil, ErrNoGenesis
		}
		genesis.Compose()
		if err := storage.Write(genesis.Sequence(), genesis.Bytes()); err != nil {
			return nil, fmt.Errorf("%w: writing genesis: %s", ErrFatal, err)
		}
		c.byHash[genesis.Hash()] = genesis.Sequence()
		c.lastHash = genesis.Hash()
		c.lastSeq = genesis.Sequence()
		ev("chain: genesis pool written: hash[%s]", genesis.Hash().Hex())
	}

	return &c, nil
}

// Close flushes and closes the backing storage.
func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.storage.Close()
}

// LastHash returns the chain head's hash.
func (c *Chain) LastHash() pool.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.lastHash
}

// LastSequence returns the chain head's height.
func (c *Chain) LastSequence() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.lastSeq
}

// LoadBySequence returns the pool at the given height.
func (c *Chain) LoadBySequence(seq uint64) (*pool.Pool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.load(seq)
}

// LoadByHash returns the pool with the given hash.
func (c *Chain) LoadByHash(hash pool.Hash) (*pool.Pool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seq, exists := c.byHash[hash]
	if !exists {
		return nil, ErrNotFound
	}
	return c.load(seq)
}

// LoadMeta returns the header of the pool with the given hash without
// decoding its transactions.
func (c *Chain) LoadMeta(hash pool.Hash) (pool.Meta, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seq, exists := c.byHash[hash]
	if !exists {
		return pool.Meta{}, ErrNotFound
	}
	data, err := c.storage.Read(seq)
	if err != nil {
		return pool.Meta{}, fmt.Errorf("%w: %s", ErrFatal, err)
	}
	return pool.MetaFromBinary(data)
}

// HashBySequence returns the hash of the pool at the given height.
func (c *Chain) HashBySequence(seq uint64) (pool.Hash, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, err := c.load(seq)
	if err != nil {
		return pool.Hash{}, err
	}
	return p.Hash(), nil
}

// LoadTransaction resolves a (pool hash, index) id.
func (c *Chain) LoadTransaction(id pool.TransactionID) (*pool.Transaction, error) {
	p, err := c.LoadByHash(id.PoolHash)
	if err != nil {
		return nil, err
	}
	t := p.Transaction(id.Index)
	if t == nil {
		return nil, ErrNotFound
	}
	return t, nil
}

// PreviousNonEmpty walks back from the given pool to the nearest predecessor
// carrying transactions.
func (c *Chain) PreviousNonEmpty(hash pool.Hash) (*pool.Pool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seq, exists := c.byHash[hash]
	if !exists {
		return nil, ErrNotFound
	}
	for seq > 0 {
		seq--
		p, err := c.load(seq)
		if err != nil {
			return nil, err
		}
		if p.TransactionsCount() > 0 {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

// FindTransaction locates a transaction by its sender and inner id, scanning
// from the head backwards.
func (c *Chain) FindTransaction(source pool.Address, innerID uint64) (*pool.Transaction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	innerID &= pool.InnerIDMask
	for seq := int64(c.lastSeq); seq >= 0; seq-- {
		p, err := c.load(uint64(seq))
		if err != nil {
			return nil, err
		}
		for _, t := range p.Transactions() {
			if t.InnerID() == innerID && t.Source().SamePublicKey(source) {
				return t, nil
			}
		}
	}
	return nil, ErrNotFound
}

// TransactionsOf collects transactions touching the given address, newest
// first, honoring offset/limit.
func (c *Chain) TransactionsOf(addr pool.Address, offset, limit int) ([]*pool.Transaction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*pool.Transaction
	skipped := 0
	for seq := int64(c.lastSeq); seq >= 0 && len(out) < limit; seq-- {
		p, err := c.load(uint64(seq))
		if err != nil {
			return nil, err
		}
		trs := p.Transactions()
		for i := len(trs) - 1; i >= 0 && len(out) < limit; i-- {
			t := trs[i]
			if !t.Source().SamePublicKey(addr) && !t.Target().SamePublicKey(addr) {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// Append seals the pool if needed and persists it as the new head. Appending
// the current head again is a no-op returning success. Publishes the
// block-appended event on success.
func (c *Chain) Append(p *pool.Pool) error {
	p.Compose()

	c.mu.Lock()

	if _, exists := c.byHash[p.Hash()]; exists {
		c.mu.Unlock()
		return nil
	}

	if p.PreviousHash() != c.lastHash {
		c.mu.Unlock()
		return fmt.Errorf("%w: prev[%s] head[%s]", ErrBadLink, p.PreviousHash().Hex(), c.lastHash.Hex())
	}
	if p.Sequence() != c.lastSeq+1 {
		c.mu.Unlock()
		return fmt.Errorf("%w: sequence[%d] head[%d]", ErrBadLink, p.Sequence(), c.lastSeq)
	}

	if err := c.storage.Write(p.Sequence(), p.Bytes()); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFatal, err)
	}

	c.byHash[p.Hash()] = p.Sequence()
	c.lastHash = p.Hash()
	c.lastSeq = p.Sequence()
	c.appendCount.Inc(1)
	c.trxCount.Inc(int64(p.TransactionsCount()))

	subs := make([]chan struct{}, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	c.ev("chain: append: blk[%d]: hash[%s] trxs[%d]", p.Sequence(), p.Hash().Hex(), p.TransactionsCount())

	for _, sub := range subs {
		select {
		case sub <- struct{}{}:
		default:
		}
	}

	return nil
}

// Subscribe returns a channel that receives a signal after every append. The
// channel carries at most one pending signal; a consumer that wakes drains
// the chain state itself.
func (c *Chain) Subscribe() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan struct{}, 1)
	c.subs = append(c.subs, ch)
	return ch
}

// Unsubscribe removes a channel returned by Subscribe. Short-lived waiters
// must release their subscription or the list grows with every round.
func (c *Chain) Unsubscribe(ch <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, sub := range c.subs {
		if (<-chan struct{})(sub) == ch {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return
		}
	}
}

func (c *Chain) load(seq uint64) (*pool.Pool, error) {
	data, err := c.storage.Read(seq)
	if err != nil {
		return nil, ErrNotFound
	}
	return pool.FromBinary(data)
}
