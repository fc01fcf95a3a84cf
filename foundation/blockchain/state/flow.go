package state

import (
	"context"

	"github.com/consortia/blockchain/foundation/blockchain/contract"
	"github.com/consortia/blockchain/foundation/blockchain/pool"
)

// minFee is the floor a submitted transaction must be able to pay.
const minFee = 0.008740

// FlowResult is the response of TransactionFlow.
type FlowResult struct {
	Status      Status `json:"status"`
	Round       uint64 `json:"round"`
	SmartResult string `json:"smart_result,omitempty"`
}

// TransactionFlow routes a submitted transaction: the smart flow when it
// carries a contract invocation, the dumb flow otherwise.
func (s *State) TransactionFlow(ctx context.Context, t *pool.Transaction) FlowResult {
	var res FlowResult
	if contract.IsSmart(t) {
		res = s.smartFlow(ctx, t)
	} else {
		res = s.dumbFlow(t)
	}
	res.Round = s.CurrentRound()
	return res
}

// dumbFlow checks funds, fee and signature, then queues the transfer for the
// next round.
func (s *State) dumbFlow(t *pool.Transaction) FlowResult {
	source, err := s.wallets.Resolve(t.Source())
	if err != nil {
		return FlowResult{Status: failure("wallet not found")}
	}

	balance, err := s.wallets.Balance(source)
	if err != nil {
		return FlowResult{Status: failure("wallet not found")}
	}
	need := t.Amount().Double() + minFee
	if need > balance.Double() {
		s.ev("state: flow: reject transaction with insufficient balance")
		return FlowResult{Status: failure("not enough money")}
	}

	if t.MaxFee().Double() < minFee {
		return FlowResult{Status: failure("max fee is not enough")}
	}

	if err := t.VerifySignature(source.PublicKey()); err != nil {
		s.ev("state: flow: reject transaction with wrong signature")
		return FlowResult{Status: failure("wrong signature")}
	}

	s.conveyer.Push(t)
	return FlowResult{Status: okMsg(t.Signature().Hex())}
}

// smartFlow handles deploys and invokes. The forget-new-state path runs the
// executor directly against the current stored state and returns the result
// without touching the chain or any index.
func (s *State) smartFlow(ctx context.Context, t *pool.Transaction) FlowResult {
	inv, err := contract.FetchInvocation(t)
	if err != nil {
		return FlowResult{Status: failure("malformed contract invocation")}
	}
	deploy := inv.IsDeploy()

	target, err := s.wallets.Resolve(t.Target())
	if err != nil {
		return FlowResult{Status: failure("target not resolvable")}
	}
	source, err := s.wallets.Resolve(t.Source())
	if err != nil && !inv.ForgetNewState {
		return FlowResult{Status: failure("wallet not found")}
	}

	if !inv.ForgetNewState {
		balance, err := s.wallets.Balance(source)
		if err != nil {
			return FlowResult{Status: failure("not enough money")}
		}
		if t.MaxFee().Double() > balance.Double() {
			return FlowResult{Status: failure("not enough money")}
		}
		if err := t.VerifySignature(source.PublicKey()); err != nil {
			s.ev("state: flow: reject smart transaction with wrong signature")
			return FlowResult{Status: failure("wrong signature")}
		}
	}

	// An invoke runs against the deployed bytecode, not what the caller
	// attached.
	var originCode []contract.ByteCodeObject
	if !deploy {
		id, exists := s.tracker.Origin(target)
		if !exists {
			return FlowResult{Status: failure("contract not found")}
		}
		deployTrx, err := s.chain.LoadTransaction(id)
		if err != nil {
			return FlowResult{Status: failure("deploy transaction not found")}
		}
		deployInv, err := contract.FetchInvocation(deployTrx)
		if err != nil {
			return FlowResult{Status: failure("deploy transaction is malformed")}
		}
		originCode = deployInv.ByteCodeObjects
	}

	entry := s.tracker.StateOf(target)
	entry.Acquire()

	if inv.ForgetNewState {
		return s.forgetNewStateFlow(ctx, t, inv, entry, source, target, deploy, originCode)
	}
	defer entry.Yield()

	s.conveyer.Push(t)

	if deploy {
		if !entry.WaitTillFront(func(st contract.State) bool { return st.Current != "" }, waitTimeout) {
			return FlowResult{Status: inProgress("deploy state pending")}
		}
		return FlowResult{Status: okMsg(t.Signature().Hex())}
	}

	var newState string
	var stateTrxID pool.TransactionID
	resWait := entry.WaitTillFront(func(st contract.State) bool {
		initer, err := s.chain.LoadTransaction(st.Initer)
		if err != nil {
			return false
		}
		if initer.Signature() != t.Signature() {
			return false
		}
		if st.LastEmpty {
			newState = ""
		} else {
			newState = st.Current
		}
		stateTrxID = st.Transaction
		return true
	}, waitTimeout)

	if !resWait {
		return FlowResult{Status: inProgress("new state pending")}
	}
	if newState == "" {
		return FlowResult{Status: failure("state is not updated, execution failed")}
	}

	res := FlowResult{Status: okMsg(t.Signature().Hex())}
	if stateTrx, err := s.chain.LoadTransaction(stateTrxID); err == nil {
		res.SmartResult = stateTrx.UserField(pool.UFNewStateRetVal).String()
	}
	return res
}

// forgetNewStateFlow is the read-only contract query: the executor runs with
// the current stored state and nothing is broadcast or indexed. Clients rely
// on this path bit for bit.
func (s *State) forgetNewStateFlow(ctx context.Context, t *pool.Transaction, inv contract.Invocation, entry *contract.StateEntry, source, target pool.Address, deploy bool, originCode []contract.ByteCodeObject) FlowResult {
	exec := s.tracker.ExecutorRPC()
	if exec == nil {
		entry.Yield()
		return FlowResult{Status: Status{Code: NotImplemented, Message: "no executor configured"}}
	}

	var contractState string
	if !deploy {
		resWait := entry.WaitTillFront(func(st contract.State) bool {
			if st.Current == "" {
				return false
			}
			contractState = st.Current
			return true
		}, waitTimeout)
		if !resWait {
			entry.Yield()
			return FlowResult{Status: inProgress("contract state pending")}
		}
	}

	code := inv.ByteCodeObjects
	if !deploy {
		code = originCode
	}

	if deploy && len(code) == 0 {
		entry.Yield()
		return FlowResult{Status: ok()}
	}

	execCtx, cancel := context.WithTimeout(ctx, executionTimeout)
	defer cancel()

	result, err := exec.ExecuteByteCode(execCtx, source, target, code, contractState, inv.Method, inv.Params, executionTimeout)
	if err != nil {
		entry.Yield()
		return FlowResult{Status: failure(err.Error())}
	}
	if result.Status.Code != 0 {
		entry.Yield()
		return FlowResult{Status: Status{Code: StatusCode(result.Status.Code), Message: result.Status.Message}}
	}

	entry.Yield()
	return FlowResult{Status: ok(), SmartResult: result.ReturnValue}
}
