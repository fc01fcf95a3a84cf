// Package state is the core API for the node and ties the chain store, the
// wallet cache, the smart-contract tracker and the consensus machine
// together behind the query and flow surfaces.
package state

import (
	"crypto/ed25519"
	"sync"
	"sync/atomic"
	"time"

	"github.com/consortia/blockchain/foundation/blockchain/chain"
	"github.com/consortia/blockchain/foundation/blockchain/consensus"
	"github.com/consortia/blockchain/foundation/blockchain/contract"
	"github.com/consortia/blockchain/foundation/blockchain/conveyer"
	"github.com/consortia/blockchain/foundation/blockchain/genesis"
	"github.com/consortia/blockchain/foundation/blockchain/pool"
	"github.com/consortia/blockchain/foundation/blockchain/transport"
	"github.com/consortia/blockchain/foundation/blockchain/validator"
	"github.com/consortia/blockchain/foundation/blockchain/wallets"
)

// EventHandler defines a function that is called when events occur in the
// processing of blocks and rounds.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by
// any package providing support for driving rounds and the tracker scan.
type Worker interface {
	Shutdown()
	SignalStartRound()
}

// =============================================================================

// Config represents the configuration required to start the node state.
type Config struct {
	Self       pool.PublicKey
	PrivateKey ed25519.PrivateKey

	Genesis  genesis.Genesis
	Storage  chain.Storage
	Trans    transport.Transport
	Executor contract.Executor

	StageTimeout time.Duration
	RoundTimeout time.Duration

	EvHandler EventHandler
}

// State manages the node's view of the blockchain.
type State struct {
	self pool.PublicKey
	priv ed25519.PrivateKey
	ev   EventHandler

	genesis   genesis.Genesis
	chain     *chain.Chain
	wallets   *wallets.Wallets
	tracker   *contract.Tracker
	consensus *consensus.Consensus
	validator *validator.Validator
	conveyer  *conveyer.Conveyer

	mu         sync.Mutex
	confidants []pool.PublicKey
	round      uint64

	halted atomic.Bool

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.
	Worker Worker
}

// New constructs the state from the genesis information and storage.
func New(cfg Config) (*State, error) {
	ev := cfg.EvHandler
	if ev == nil {
		ev = func(string, ...any) {}
	}

	wlts, err := wallets.New(cfg.Genesis)
	if err != nil {
		return nil, err
	}

	confidants := make([]pool.PublicKey, 0, len(cfg.Genesis.Confidants))
	for _, keyStr := range cfg.Genesis.Confidants {
		addr, err := pool.AddressFromString(keyStr)
		if err != nil {
			return nil, err
		}
		confidants = append(confidants, addr.PublicKey())
	}

	genesisPool := pool.New(pool.ZeroHash, 0)
	if err := genesisPool.AddUserField(pool.UFTimestamp, pool.IntegerField(cfg.Genesis.Date.UTC().UnixMilli())); err != nil {
		return nil, err
	}
	if err := genesisPool.SetConfidants(confidants); err != nil {
		return nil, err
	}

	ch, err := chain.New(cfg.Storage, genesisPool, chain.EventHandler(ev))
	if err != nil {
		return nil, err
	}

	tracker := contract.New(contract.Config{
		Chain:           ch,
		Wallets:         wlts,
		Executor:        cfg.Executor,
		MaxRoundsCancel: cfg.Genesis.RoundsToCancel,
		EvHandler:       contract.EventHandler(ev),
	})

	s := State{
		self:       cfg.Self,
		priv:       cfg.PrivateKey,
		ev:         ev,
		genesis:    cfg.Genesis,
		chain:      ch,
		wallets:    wlts,
		tracker:    tracker,
		validator:  validator.New(),
		conveyer:   conveyer.New(),
		confidants: confidants,
		round:      ch.LastSequence(),
	}

	s.consensus = consensus.New(consensus.Config{
		Self:            cfg.Self,
		PrivateKey:      cfg.PrivateKey,
		Chain:           ch,
		Wallets:         wlts,
		Transport:       cfg.Trans,
		MinStake:        pool.NewAmount(int32(cfg.Genesis.MinStake), 0),
		GrayListPenalty: cfg.Genesis.GrayListPenalty,
		StageTimeout:    cfg.StageTimeout,
		RoundTimeout:    cfg.RoundTimeout,
		Validate:        s.acceptBlock,
		EvHandler:       consensus.EventHandler(ev),
	})

	// Wallet balances replay the stored chain so restarts resume with the
	// derived state intact.
	iter := cfg.Storage.ForEach()
	for !iter.Done() {
		_, data, err := iter.Next()
		if err != nil {
			break
		}
		if p, err := pool.FromBinary(data); err == nil {
			wlts.ApplyPool(p)
		}
	}

	return &s, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	defer func() {
		s.chain.Close()
	}()

	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	return nil
}

// acceptBlock runs the validation pipeline over a block arriving from the
// round writer. A fatal verdict halts further chain extension.
func (s *State) acceptBlock(p *pool.Pool) bool {
	if s.halted.Load() {
		return false
	}

	verdict := s.validator.Validate(&validator.Context{
		Chain:      s.chain,
		Wallets:    s.wallets,
		IsContract: s.tracker.IsContract,
		EvHandler:  s.ev,
	}, p)

	switch verdict {
	case validator.FatalError:
		s.halted.Store(true)
		s.ev("state: FATAL validation verdict, halting chain extension")
		return false
	case validator.Error:
		return false
	}
	return true
}

// Halted reports whether a fatal condition stopped chain extension.
func (s *State) Halted() bool {
	return s.halted.Load()
}

// RunRound drives one consensus round over the conveyed transactions.
func (s *State) RunRound() (*pool.Pool, error) {
	if s.halted.Load() {
		return nil, chain.ErrFatal
	}

	s.mu.Lock()
	s.round = s.chain.LastSequence() + 1
	batch := s.conveyer.Drain()
	table := consensus.RoundTable{
		Round:      s.round,
		Confidants: append([]pool.PublicKey(nil), s.confidants...),
	}
	if len(batch) > 0 {
		table.Hashes = []pool.Hash{conveyer.PacketHash(batch)}
	}
	s.mu.Unlock()

	p, err := s.consensus.RunRound(table, batch)
	if err != nil {
		return nil, err
	}

	s.wallets.ApplyPool(p)

	// The store just caught up; re-feed hashes buffered mid-sync and offer
	// our own head for next-round selection.
	s.consensus.DrainHashCache()
	s.consensus.AnnounceHash()

	return p, nil
}

// CurrentRound returns the round number the node is on.
func (s *State) CurrentRound() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.round
}

// =============================================================================
// Access for the worker and handlers.

// Chain exposes the chain store.
func (s *State) Chain() *chain.Chain { return s.chain }

// Wallets exposes the wallet cache.
func (s *State) Wallets() *wallets.Wallets { return s.wallets }

// Tracker exposes the smart-contract tracker.
func (s *State) Tracker() *contract.Tracker { return s.tracker }

// Consensus exposes the consensus machine.
func (s *State) Consensus() *consensus.Consensus { return s.consensus }

// RetrieveGenesis returns the genesis information.
func (s *State) RetrieveGenesis() genesis.Genesis { return s.genesis }

// Self returns the node's public key.
func (s *State) Self() pool.PublicKey { return s.self }
