package validator

import (
	"github.com/consortia/blockchain/foundation/blockchain/contract"
	"github.com/consortia/blockchain/foundation/blockchain/pool"
)

// hashValidator recomputes the previous pool's hash and compares it against
// the candidate's previous-hash link. A mismatch means local chain data is
// corrupt, which halts further extension.
type hashValidator struct{}

func (hashValidator) Name() string { return "hash validator" }

func (hashValidator) Validate(ctx *Context, block *pool.Pool) Verdict {
	if block.Sequence() == 0 {
		if !block.PreviousHash().IsZero() {
			return Error
		}
		return NoError
	}

	prev, err := ctx.Chain.LoadBySequence(ctx.Chain.LastSequence())
	if err != nil {
		ctx.ev("validator: hash: cannot load the chain head")
		return FatalError
	}
	if err := prev.VerifyHash(); err != nil {
		return FatalError
	}
	if block.PreviousHash() != prev.Hash() {
		return FatalError
	}
	return NoError
}

// blockNumberValidator requires the candidate to extend the head by one.
type blockNumberValidator struct{}

func (blockNumberValidator) Name() string { return "block number validator" }

func (blockNumberValidator) Validate(ctx *Context, block *pool.Pool) Verdict {
	if block.Sequence() == 0 {
		return NoError
	}
	if block.Sequence() != ctx.Chain.LastSequence()+1 {
		return Error
	}
	return NoError
}

// timestampValidator requires the pool timestamp user field to be monotone
// non-decreasing across the chain. An absent timestamp is only logged.
type timestampValidator struct{}

func (timestampValidator) Name() string { return "timestamp validator" }

func (timestampValidator) Validate(ctx *Context, block *pool.Pool) Verdict {
	f := block.UserField(pool.UFTimestamp)
	if !f.IsValid() {
		return Warning
	}
	if block.Sequence() == 0 {
		return NoError
	}

	prev, err := ctx.Chain.LoadBySequence(ctx.Chain.LastSequence())
	if err != nil {
		return Error
	}
	pf := prev.UserField(pool.UFTimestamp)
	if !pf.IsValid() {
		return NoError
	}
	if f.Integer() < pf.Integer() {
		return Error
	}
	return NoError
}

// blockSignaturesValidator checks the real-trusted mask against the gathered
// signatures: the population count must equal the signature count, the
// confidant table must fit the mask, and every signature must verify over
// the signable prefix.
type blockSignaturesValidator struct{}

func (blockSignaturesValidator) Name() string { return "block signatures validator" }

func (blockSignaturesValidator) Validate(ctx *Context, block *pool.Pool) Verdict {
	if block.Sequence() == 0 {
		return NoError
	}
	if len(block.Confidants()) > pool.MaxConfidants {
		return Error
	}
	if err := block.VerifySignatures(); err != nil {
		return Error
	}
	return NoError
}

// smartSourceSignaturesValidator covers transactions emitted by contracts.
// A contract has no wallet key; its emitted packet is covered by the trusted
// set of the round that ran the contract. Transactions are grouped per
// contract source, the group is hashed as a packet, and each transaction's
// signature must verify over the packet hash under one of the initiating
// pool's confidants.
type smartSourceSignaturesValidator struct{}

func (smartSourceSignaturesValidator) Name() string { return "smart source signatures validator" }

func (smartSourceSignaturesValidator) Validate(ctx *Context, block *pool.Pool) Verdict {
	if ctx.IsContract == nil {
		return NoError
	}

	groups := make(map[pool.Address][]*pool.Transaction)
	order := make([]pool.Address, 0)
	for _, t := range block.Transactions() {
		src, err := ctx.Wallets.Resolve(t.Source())
		if err != nil {
			continue
		}
		if !ctx.IsContract(src) {
			continue
		}
		if _, exists := groups[src]; !exists {
			order = append(order, src)
		}
		groups[src] = append(groups[src], t)
	}

	for _, src := range order {
		group := groups[src]

		e := pool.NewEncoder()
		for _, t := range group {
			e.PutFixed(t.BytesForSig())
		}
		packetHash := pool.HashOf(e.Bytes())

		// The initiating pool's trusted set is found through the new-state
		// ref carried by the group's state transaction.
		confidants, verdict := initiatingConfidants(ctx, group)
		if verdict != NoError {
			return verdict
		}

		for _, t := range group {
			if !coveredBy(packetHash, t.Signature(), confidants) {
				return Error
			}
		}
	}

	return NoError
}

func initiatingConfidants(ctx *Context, group []*pool.Transaction) ([]pool.PublicKey, Verdict) {
	for _, t := range group {
		if !contract.IsNewState(t) {
			continue
		}
		ref, err := contract.RefOf(t)
		if err != nil {
			return nil, Error
		}
		initiating, err := ctx.Chain.LoadByHash(ref.Hash)
		if err != nil {
			return nil, Error
		}
		return initiating.Confidants(), NoError
	}
	// No state transaction in the group; fall back to the previous pool's
	// trusted set, which ran the emitting round.
	prev, err := ctx.Chain.LoadBySequence(ctx.Chain.LastSequence())
	if err != nil {
		return nil, Error
	}
	return prev.Confidants(), NoError
}

func coveredBy(hash pool.Hash, sig pool.Signature, confidants []pool.PublicKey) bool {
	for _, c := range confidants {
		if c.Verify(hash[:], sig) {
			return true
		}
	}
	return false
}

// balanceChecker replays the previous pool's transactions over the cached
// balances and rejects when any wallet would go negative.
type balanceChecker struct{}

func (balanceChecker) Name() string { return "balance checker" }

func (balanceChecker) Validate(ctx *Context, block *pool.Pool) Verdict {
	if block.Sequence() == 0 {
		return NoError
	}

	prev, err := ctx.Chain.LoadBySequence(block.Sequence() - 1)
	if err != nil {
		return Error
	}

	running := make(map[pool.Address]pool.Amount)
	balance := func(addr pool.Address) pool.Amount {
		if a, exists := running[addr]; exists {
			return a
		}
		a, err := ctx.Wallets.Balance(addr)
		if err != nil {
			return pool.Amount{}
		}
		return a
	}

	for _, t := range prev.Transactions() {
		src, err := ctx.Wallets.Resolve(t.Source())
		if err != nil {
			continue
		}
		fee := pool.AmountFromDouble(t.CountedFee().Double())
		after := balance(src).Sub(t.Amount()).Sub(fee)
		if after.IsNegative() {
			ctx.ev("validator: balance: wallet[%s] would go negative", src.String())
			return Error
		}
		running[src] = after

		tgt, err := ctx.Wallets.Resolve(t.Target())
		if err == nil {
			running[tgt] = balance(tgt).Add(t.Amount())
		}
	}

	return NoError
}

// transactionsChecker verifies every ordinary transaction's signature under
// its resolved source key and the fee invariant. Smart and smart-state
// transactions, and transactions whose source is a contract, are skipped
// here; of these, only the contract-source ones are checked, by the smart
// source signatures validator.
type transactionsChecker struct{}

func (transactionsChecker) Name() string { return "transactions checker" }

func (transactionsChecker) Validate(ctx *Context, block *pool.Pool) Verdict {
	for _, t := range block.Transactions() {
		if contract.IsSmart(t) || contract.IsNewState(t) {
			continue
		}
		src, err := ctx.Wallets.Resolve(t.Source())
		if err != nil {
			return Error
		}
		if ctx.IsContract != nil && ctx.IsContract(src) {
			continue
		}
		if err := t.VerifyFees(); err != nil {
			return Error
		}
		if err := t.VerifySignature(src.PublicKey()); err != nil {
			return Error
		}
	}
	return NoError
}
