// Package validator implements the ordered chain of checks applied to each
// pool presented for acceptance. Every plugin returns a verdict; Warning is
// logged and acceptance proceeds, Error rejects the pool, FatalError
// additionally halts further chain extension.
package validator

import (
	"github.com/consortia/blockchain/foundation/blockchain/chain"
	"github.com/consortia/blockchain/foundation/blockchain/pool"
	"github.com/consortia/blockchain/foundation/blockchain/wallets"
)

// Verdict is the outcome of one plugin over one pool.
type Verdict int

// Plugin verdicts, ordered by severity.
const (
	NoError Verdict = iota
	Warning
	Error
	FatalError
)

// String renders the verdict for logs.
func (v Verdict) String() string {
	switch v {
	case NoError:
		return "no error"
	case Warning:
		return "warning"
	case Error:
		return "error"
	case FatalError:
		return "fatal error"
	}
	return "unknown"
}

// Plugin is one independent predicate over a candidate pool.
type Plugin interface {
	Name() string
	Validate(ctx *Context, block *pool.Pool) Verdict
}

// Context carries the read surfaces plugins consult. Plugins are pure: they
// mutate nothing and re-running one over the same block yields the same
// verdict.
type Context struct {
	Chain   *chain.Chain
	Wallets *wallets.Wallets

	// IsContract reports whether an address belongs to a deployed contract.
	// Provided by the smart-contract tracker.
	IsContract func(pool.Address) bool

	// EvHandler receives the per-plugin log lines.
	EvHandler func(v string, args ...any)
}

func (ctx *Context) ev(v string, args ...any) {
	if ctx.EvHandler != nil {
		ctx.EvHandler(v, args...)
	}
}

// Validator runs the plugin chain in fixed order.
type Validator struct {
	plugins []Plugin
}

// New constructs the validator with the full plugin chain in the order the
// protocol fixes: hash, block number, timestamp, block signatures, smart
// source signatures, balances, transaction signatures.
func New() *Validator {
	return &Validator{
		plugins: []Plugin{
			hashValidator{},
			blockNumberValidator{},
			timestampValidator{},
			blockSignaturesValidator{},
			smartSourceSignaturesValidator{},
			balanceChecker{},
			transactionsChecker{},
		},
	}
}

// Validate runs every plugin until one rejects. The returned verdict is the
// most severe encountered; Warning alone does not stop acceptance.
func (v *Validator) Validate(ctx *Context, block *pool.Pool) Verdict {
	worst := NoError
	for _, p := range v.plugins {
		verdict := p.Validate(ctx, block)
		switch verdict {
		case NoError:
		case Warning:
			ctx.ev("validator: %s: warning: blk[%d]", p.Name(), block.Sequence())
			if worst < Warning {
				worst = Warning
			}
		case Error:
			ctx.ev("validator: %s: reject: blk[%d]", p.Name(), block.Sequence())
			return Error
		case FatalError:
			ctx.ev("validator: %s: FATAL: blk[%d]", p.Name(), block.Sequence())
			return FatalError
		}
	}
	return worst
}
