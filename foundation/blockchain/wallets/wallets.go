// Package wallets maintains the wallet cache: the compact-id to public-key
// mapping assigned as wallets first appear on chain, plus running balances
// and transaction counts derived from applied pools.
package wallets

import (
	"errors"
	"sync"

	"github.com/consortia/blockchain/foundation/blockchain/genesis"
	"github.com/consortia/blockchain/foundation/blockchain/pool"
)

// ErrUnknownWallet is returned when neither form of an address resolves.
var ErrUnknownWallet = errors.New("unknown wallet")

// Info is the cached data for one wallet.
type Info struct {
	ID           pool.WalletID
	PublicKey    pool.PublicKey
	Balance      pool.Amount
	TrxCount     uint64
	LastInnerIDs []uint64
}

// keepInnerIDs bounds the per-wallet window of recent inner ids kept in
// Info.LastInnerIDs.
const keepInnerIDs = 64

// Wallets is the cache. A single writer (the chain apply path) mutates it;
// queries read concurrently.
type Wallets struct {
	mu     sync.RWMutex
	byKey  map[pool.PublicKey]*Info
	byID   map[pool.WalletID]pool.PublicKey
	nextID pool.WalletID
}

// New constructs the cache seeded with the genesis balances.
func New(g genesis.Genesis) (*Wallets, error) {
	w := Wallets{
		byKey:  make(map[pool.PublicKey]*Info),
		byID:   make(map[pool.WalletID]pool.PublicKey),
		nextID: 1,
	}

	for keyStr, balance := range g.Balances {
		addr, err := pool.AddressFromString(keyStr)
		if err != nil {
			return nil, err
		}
		w.ensure(addr.PublicKey()).Balance = pool.NewAmount(int32(balance), 0)
	}

	return &w, nil
}

// ensure returns the wallet entry for a key, creating it with the next id.
// Callers hold the write lock.
func (w *Wallets) ensure(key pool.PublicKey) *Info {
	info, exists := w.byKey[key]
	if !exists {
		info = &Info{ID: w.nextID, PublicKey: key}
		w.byKey[key] = info
		w.byID[info.ID] = key
		w.nextID++
	}
	return info
}

// Resolve turns either address form into public-key form.
func (w *Wallets) Resolve(addr pool.Address) (pool.Address, error) {
	if addr.IsPublicKey() {
		return addr, nil
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	key, exists := w.byID[addr.WalletID()]
	if !exists {
		return pool.Address{}, ErrUnknownWallet
	}
	return pool.AddressFromPublicKey(key), nil
}

// Lookup returns a copy of the wallet entry for either address form.
func (w *Wallets) Lookup(addr pool.Address) (Info, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var key pool.PublicKey
	switch {
	case addr.IsPublicKey():
		key = addr.PublicKey()
	case addr.IsWalletID():
		var exists bool
		key, exists = w.byID[addr.WalletID()]
		if !exists {
			return Info{}, ErrUnknownWallet
		}
	default:
		return Info{}, ErrUnknownWallet
	}

	info, exists := w.byKey[key]
	if !exists {
		return Info{}, ErrUnknownWallet
	}
	out := *info
	out.LastInnerIDs = append([]uint64(nil), info.LastInnerIDs...)
	return out, nil
}

// Balance returns the balance for either address form.
func (w *Wallets) Balance(addr pool.Address) (pool.Amount, error) {
	info, err := w.Lookup(addr)
	if err != nil {
		return pool.Amount{}, err
	}
	return info.Balance, nil
}

// ApplyPool folds one appended pool into the cache: transfers amounts,
// counts transactions, records recent inner ids and assigns compact ids to
// wallets the pool introduces.
func (w *Wallets) ApplyPool(p *pool.Pool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, t := range p.Transactions() {
		src := w.resolveLocked(t.Source())
		tgt := w.resolveLocked(t.Target())
		if src == nil || tgt == nil {
			continue
		}

		fee := pool.AmountFromDouble(t.CountedFee().Double())
		src.Balance = src.Balance.Sub(t.Amount()).Sub(fee)
		tgt.Balance = tgt.Balance.Add(t.Amount())

		src.TrxCount++
		tgt.TrxCount++

		src.LastInnerIDs = append(src.LastInnerIDs, t.InnerID())
		if len(src.LastInnerIDs) > keepInnerIDs {
			src.LastInnerIDs = src.LastInnerIDs[len(src.LastInnerIDs)-keepInnerIDs:]
		}
	}
}

// resolveLocked returns the entry for either address form, creating public
// key entries on first sight. Callers hold the write lock.
func (w *Wallets) resolveLocked(addr pool.Address) *Info {
	switch {
	case addr.IsPublicKey():
		return w.ensure(addr.PublicKey())
	case addr.IsWalletID():
		key, exists := w.byID[addr.WalletID()]
		if !exists {
			return nil
		}
		return w.byKey[key]
	}
	return nil
}

// Reset drops every derived entry and reseeds the cache from the genesis
// balances.
func (w *Wallets) Reset(g genesis.Genesis) error {
	w.mu.Lock()
	w.byKey = make(map[pool.PublicKey]*Info)
	w.byID = make(map[pool.WalletID]pool.PublicKey)
	w.nextID = 1
	w.mu.Unlock()

	fresh, err := New(g)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.byKey = fresh.byKey
	w.byID = fresh.byID
	w.nextID = fresh.nextID
	w.mu.Unlock()
	return nil
}
