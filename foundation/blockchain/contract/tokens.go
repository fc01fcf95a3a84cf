package contract

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/consortia/blockchain/foundation/blockchain/pool"
)

// tokenProbeTimeout bounds the executor introspection calls made while
// classifying a fresh deploy.
const tokenProbeTimeout = 5 * time.Second

// Token method names a contract must expose to be indexed as a token.
var tokenMethods = []string{"totalSupply", "balanceOf", "transfer"}

// Token is the tracked descriptor of one contract implementing the token
// interface.
type Token struct {
	Address        pool.Address
	Deployer       pool.Address
	Name           string
	Symbol         string
	TotalSupply    string
	TransfersCount uint64
	HoldersCount   uint64
}

// Transfer is one recorded token movement.
type Transfer struct {
	Token     pool.Address
	Initiator pool.Address
	From      string
	To        string
	Amount    string
	Time      time.Time
}

// Holder pairs a token holder with its tracked balance.
type Holder struct {
	Holder  string
	Balance string
}

// TokenRegistry is the derived index over contracts implementing the token
// interface. It is fed exclusively by the tracker's scan worker.
type TokenRegistry struct {
	tracker *Tracker

	mu        sync.Mutex
	tokens    map[pool.Address]*Token
	balances  map[pool.Address]map[string]string
	transfers []Transfer
}

func newTokenRegistry(t *Tracker) *TokenRegistry {
	return &TokenRegistry{
		tracker:  t,
		tokens:   make(map[pool.Address]*Token),
		balances: make(map[pool.Address]map[string]string),
	}
}

func (r *TokenRegistry) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tokens = make(map[pool.Address]*Token)
	r.balances = make(map[pool.Address]map[string]string)
	r.transfers = nil
}

// checkNewDeploy classifies a freshly deployed contract. A contract exposing
// the token methods is registered; everything else is ignored.
func (r *TokenRegistry) checkNewDeploy(addr, deployer pool.Address, inv Invocation) {
	if r.tracker.exec == nil || len(inv.ByteCodeObjects) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), tokenProbeTimeout)
	defer cancel()

	methods, err := r.tracker.exec.ContractMethods(ctx, inv.ByteCodeObjects)
	if err != nil {
		return
	}

	names := make(map[string]bool, len(methods))
	for _, m := range methods {
		names[m.Name] = true
	}
	for _, required := range tokenMethods {
		if !names[required] {
			return
		}
	}

	token := Token{Address: addr, Deployer: deployer}

	vars, err := r.tracker.exec.ContractVariables(ctx, inv.ByteCodeObjects, "")
	if err == nil {
		token.Name = vars["name"]
		token.Symbol = vars["symbol"]
		token.TotalSupply = vars["totalSupply"]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[addr]; !exists {
		r.tokens[addr] = &token
	}
}

// checkNewState folds a successful invocation on a registered token into the
// transfer log and the balance index. Only transfer and transferFrom are
// recorded: the receiver's tracked balance is set to the transferred amount
// and a sender not seen before is listed with an empty balance. Other methods
// are ignored, and balances are not re-read from the contract state.
func (r *TokenRegistry) checkNewState(addr, caller pool.Address, inv Invocation) {
	r.mu.Lock()
	token, exists := r.tokens[addr]
	r.mu.Unlock()
	if !exists || inv.IsDeploy() {
		return
	}

	var from, to, amount string
	switch strings.ToLower(inv.Method) {
	case "transfer":
		if len(inv.Params) < 2 {
			return
		}
		from, to, amount = caller.String(), inv.Params[0], inv.Params[1]
	case "transferfrom":
		if len(inv.Params) < 3 {
			return
		}
		from, to, amount = inv.Params[0], inv.Params[1], inv.Params[2]
	default:
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	token.TransfersCount++
	r.transfers = append(r.transfers, Transfer{
		Token:     addr,
		Initiator: caller,
		From:      from,
		To:        to,
		Amount:    amount,
		Time:      time.Now().UTC(),
	})

	balances, exists := r.balances[addr]
	if !exists {
		balances = make(map[string]string)
		r.balances[addr] = balances
	}
	if _, exists := balances[from]; !exists {
		balances[from] = ""
	}
	balances[to] = amount
	token.HoldersCount = uint64(len(balances))
}

// List returns the registered tokens with offset/limit pagination, ordered
// by address text for a stable page sequence.
func (r *TokenRegistry) List(offset, limit int) ([]Token, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		all = append(all, *t)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Address.String() < all[j].Address.String() })

	return page(all, offset, limit), len(all)
}

// Get returns one token descriptor.
func (r *TokenRegistry) Get(addr pool.Address) (Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, exists := r.tokens[addr]
	if !exists {
		return Token{}, false
	}
	return *t, true
}

// Transfers returns the recorded movements of one token, newest first.
func (r *TokenRegistry) Transfers(addr pool.Address, offset, limit int) ([]Transfer, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []Transfer
	for i := len(r.transfers) - 1; i >= 0; i-- {
		if r.transfers[i].Token == addr {
			all = append(all, r.transfers[i])
		}
	}

	return page(all, offset, limit), len(all)
}

// Holders returns one token's holders sorted by balance text descending,
// holder text ascending on ties, with offset/limit pagination.
func (r *TokenRegistry) Holders(addr pool.Address, offset, limit int) ([]Holder, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	balances := r.balances[addr]
	all := make([]Holder, 0, len(balances))
	for holder, balance := range balances {
		all = append(all, Holder{Holder: holder, Balance: balance})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Balance != all[j].Balance {
			return all[i].Balance > all[j].Balance
		}
		return all[i].Holder < all[j].Holder
	})

	return page(all, offset, limit), len(all)
}

// Balance returns one holder's tracked balance of one token.
func (r *TokenRegistry) Balance(addr pool.Address, holder string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	balances, exists := r.balances[addr]
	if !exists {
		return "", false
	}
	b, exists := balances[holder]
	return b, exists
}

func page[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}
