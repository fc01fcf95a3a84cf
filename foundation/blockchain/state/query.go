package state

import (
	"context"
	"time"

	"github.com/consortia/blockchain/foundation/blockchain/contract"
	"github.com/consortia/blockchain/foundation/blockchain/pool"
)

// waitTimeout bounds the client-visible suspension of the wait queries.
const waitTimeout = 10 * time.Second

// executionTimeout bounds one executor bytecode run.
const executionTimeout = 30 * time.Second

// =============================================================================
// Wallet queries.

// WalletDataResult carries one wallet's cached data.
type WalletDataResult struct {
	Status   Status        `json:"status"`
	WalletID pool.WalletID `json:"wallet_id"`
	Balance  pool.Amount   `json:"balance"`
	TrxCount uint64        `json:"trx_count"`
}

// WalletDataGet returns the cached data for either address form.
func (s *State) WalletDataGet(addr pool.Address) WalletDataResult {
	info, err := s.wallets.Lookup(addr)
	if err != nil {
		return WalletDataResult{Status: notFound("wallet not found")}
	}
	return WalletDataResult{
		Status:   ok(),
		WalletID: info.ID,
		Balance:  info.Balance,
		TrxCount: info.TrxCount,
	}
}

// WalletBalanceGet returns just the balance.
func (s *State) WalletBalanceGet(addr pool.Address) (pool.Amount, Status) {
	balance, err := s.wallets.Balance(addr)
	if err != nil {
		return pool.Amount{}, notFound("wallet not found")
	}
	return balance, ok()
}

// WalletIDGet returns the compact id assigned to a wallet key.
func (s *State) WalletIDGet(addr pool.Address) (pool.WalletID, Status) {
	info, err := s.wallets.Lookup(addr)
	if err != nil {
		return 0, notFound("wallet not found")
	}
	return info.ID, ok()
}

// WalletTransactionsCountGet returns the wallet's transaction count.
func (s *State) WalletTransactionsCountGet(addr pool.Address) (uint64, Status) {
	info, err := s.wallets.Lookup(addr)
	if err != nil {
		return 0, notFound("wallet not found")
	}
	return info.TrxCount, ok()
}

// =============================================================================
// Transaction queries.

// TransactionGet resolves a (pool hash, index) id.
func (s *State) TransactionGet(id pool.TransactionID) (*pool.Transaction, Status) {
	t, err := s.chain.LoadTransaction(id)
	if err != nil {
		return nil, notFound("transaction not found")
	}
	return t, ok()
}

// TransactionsGet pages through the transactions touching an address.
func (s *State) TransactionsGet(addr pool.Address, offset, limit int64) ([]*pool.Transaction, Status) {
	if !validatePagination(offset, limit) {
		return nil, failure("invalid offset or limit")
	}
	resolved, err := s.wallets.Resolve(addr)
	if err != nil {
		return nil, notFound("wallet not found")
	}
	trxs, err := s.chain.TransactionsOf(resolved, int(offset), int(limit))
	if err != nil {
		return nil, failure(err.Error())
	}
	return trxs, ok()
}

// TrxState classifies one inner id for TransactionsStateGet.
type TrxState int

// Transaction states.
const (
	TrxValid TrxState = iota
	TrxInvalid
	TrxInProgress
)

// TransactionsStateGet classifies each inner id of a sender: sealed on chain
// is valid, still queued is in progress, unknown is invalid.
func (s *State) TransactionsStateGet(addr pool.Address, innerIDs []uint64) (map[uint64]TrxState, Status) {
	resolved, err := s.wallets.Resolve(addr)
	if err != nil {
		return nil, notFound("wallet not found")
	}

	out := make(map[uint64]TrxState, len(innerIDs))
	for _, id := range innerIDs {
		id &= pool.InnerIDMask
		if _, err := s.chain.FindTransaction(resolved, id); err == nil {
			out[id] = TrxValid
			continue
		}
		if s.conveyer.Pending(resolved, id) {
			out[id] = TrxInProgress
			continue
		}
		out[id] = TrxInvalid
	}
	return out, ok()
}

// =============================================================================
// Pool queries.

// PoolListResult pages the chain newest first.
type PoolListResult struct {
	Status Status       `json:"status"`
	Pools  []*pool.Pool `json:"pools"`
	Count  uint64       `json:"count"`
}

// PoolListGet returns up to limit pools walking back from head minus offset.
func (s *State) PoolListGet(offset, limit int64) PoolListResult {
	if !validatePagination(offset, limit) {
		return PoolListResult{Status: failure("invalid offset or limit")}
	}

	last := s.chain.LastSequence()
	if uint64(offset) > last {
		return PoolListResult{Status: ok(), Count: last + 1}
	}

	pools := make([]*pool.Pool, 0, limit)
	seq := int64(last) - offset
	for ; seq >= 0 && int64(len(pools)) < limit; seq-- {
		p, err := s.chain.LoadBySequence(uint64(seq))
		if err != nil {
			return PoolListResult{Status: failure(err.Error())}
		}
		pools = append(pools, p)
	}

	return PoolListResult{Status: ok(), Pools: pools, Count: last + 1}
}

// PoolTransactionsGet pages one pool's transactions.
func (s *State) PoolTransactionsGet(hash pool.Hash, offset, limit int64) ([]*pool.Transaction, Status) {
	if !validatePagination(offset, limit) {
		return nil, failure("invalid offset or limit")
	}
	p, err := s.chain.LoadByHash(hash)
	if err != nil {
		return nil, notFound("pool not found")
	}
	trxs := p.Transactions()
	if int(offset) >= len(trxs) {
		return nil, ok()
	}
	end := int(offset + limit)
	if end > len(trxs) {
		end = len(trxs)
	}
	return trxs[offset:end], ok()
}

// PoolInfoResult is the header view of one pool.
type PoolInfoResult struct {
	Status       Status    `json:"status"`
	Hash         pool.Hash `json:"hash"`
	PreviousHash pool.Hash `json:"previous_hash"`
	Sequence     uint64    `json:"sequence"`
	TrxCount     int       `json:"trx_count"`
	Writer       string    `json:"writer"`
	Deferred     bool      `json:"deferred"`
}

// PoolInfoGet returns one pool's header. The deferred slot is visible here
// before its pool is appended.
func (s *State) PoolInfoGet(hash pool.Hash) PoolInfoResult {
	if d := s.chain.Deferred(); d != nil && d.SignableHash() == hash {
		return PoolInfoResult{
			Status:       ok(),
			Hash:         hash,
			PreviousHash: d.PreviousHash(),
			Sequence:     d.Sequence(),
			TrxCount:     d.TransactionsCount(),
			Writer:       d.WriterPublicKey().Hex(),
			Deferred:     true,
		}
	}

	p, err := s.chain.LoadByHash(hash)
	if err != nil {
		return PoolInfoResult{Status: notFound("pool not found")}
	}
	return PoolInfoResult{
		Status:       ok(),
		Hash:         p.Hash(),
		PreviousHash: p.PreviousHash(),
		Sequence:     p.Sequence(),
		TrxCount:     p.TransactionsCount(),
		Writer:       p.WriterPublicKey().Hex(),
	}
}

// =============================================================================
// Smart-contract queries.

// SmartContract is the query descriptor of one deployed contract.
type SmartContract struct {
	Address  pool.Address       `json:"address"`
	Deployer pool.Address       `json:"deployer"`
	Deploy   pool.TransactionID `json:"deploy"`
	Source   string             `json:"source_code,omitempty"`
	HasState bool               `json:"has_state"`
}

// SmartContractGet returns the descriptor of one contract address.
func (s *State) SmartContractGet(addr pool.Address) (SmartContract, Status) {
	resolved, err := s.wallets.Resolve(addr)
	if err != nil {
		return SmartContract{}, notFound("wallet not found")
	}

	id, exists := s.tracker.Origin(resolved)
	if !exists {
		return SmartContract{}, notFound("contract not found")
	}
	return s.describeContract(resolved, id)
}

func (s *State) describeContract(addr pool.Address, deployID pool.TransactionID) (SmartContract, Status) {
	t, err := s.chain.LoadTransaction(deployID)
	if err != nil {
		return SmartContract{}, notFound("deploy transaction not found")
	}
	inv, err := contract.FetchInvocation(t)
	if err != nil {
		return SmartContract{}, failure("deploy transaction is malformed")
	}
	deployer, err := s.wallets.Resolve(t.Source())
	if err != nil {
		return SmartContract{}, notFound("deployer not found")
	}

	st := s.tracker.StateOf(addr).Snapshot()
	return SmartContract{
		Address:  addr,
		Deployer: deployer,
		Deploy:   deployID,
		Source:   inv.SourceCode,
		HasState: st.Current != "",
	}, ok()
}

// SmartContractsListGet returns the contracts deployed by one creator.
func (s *State) SmartContractsListGet(deployer pool.Address) ([]SmartContract, Status) {
	resolved, err := s.wallets.Resolve(deployer)
	if err != nil {
		return nil, notFound("wallet not found")
	}

	var out []SmartContract
	for _, id := range s.tracker.DeployedBy(resolved) {
		t, err := s.chain.LoadTransaction(id)
		if err != nil {
			continue
		}
		target, err := s.wallets.Resolve(t.Target())
		if err != nil {
			continue
		}
		sc, status := s.describeContract(target, id)
		if status.Code == Success {
			out = append(out, sc)
		}
	}
	return out, ok()
}

// SmartContractAddressesListGet returns just the addresses of one creator's
// contracts.
func (s *State) SmartContractAddressesListGet(deployer pool.Address) ([]pool.Address, Status) {
	list, status := s.SmartContractsListGet(deployer)
	if status.Code != Success {
		return nil, status
	}
	out := make([]pool.Address, 0, len(list))
	for _, sc := range list {
		out = append(out, sc.Address)
	}
	return out, status
}

// SmartContractsAllListGet pages through every deployed contract.
func (s *State) SmartContractsAllListGet(offset, limit int64) ([]SmartContract, int, Status) {
	if !validatePagination(offset, limit) {
		return nil, 0, failure("invalid offset or limit")
	}

	addrs := s.tracker.Contracts()
	total := len(addrs)
	if int(offset) >= total {
		return nil, total, ok()
	}
	end := int(offset + limit)
	if end > total {
		end = total
	}

	var out []SmartContract
	for _, addr := range addrs[offset:end] {
		id, exists := s.tracker.Origin(addr)
		if !exists {
			continue
		}
		sc, status := s.describeContract(addr, id)
		if status.Code == Success {
			out = append(out, sc)
		}
	}
	return out, total, ok()
}

// SmartMethodParamsGet returns the params of the invocation carried by one
// smart transaction.
func (s *State) SmartMethodParamsGet(id pool.TransactionID) ([]string, Status) {
	t, err := s.chain.LoadTransaction(id)
	if err != nil {
		return nil, notFound("transaction not found")
	}
	inv, err := contract.FetchInvocation(t)
	if err != nil {
		return nil, failure("not a smart transaction")
	}
	return inv.Params, ok()
}

// SmartContractDataGet returns one contract's methods and current variables
// through the executor.
func (s *State) SmartContractDataGet(ctx context.Context, addr pool.Address) ([]contract.MethodDescription, map[string]string, Status) {
	sc, status := s.SmartContractGet(addr)
	if status.Code != Success {
		return nil, nil, status
	}

	t, err := s.chain.LoadTransaction(sc.Deploy)
	if err != nil {
		return nil, nil, notFound("deploy transaction not found")
	}
	inv, err := contract.FetchInvocation(t)
	if err != nil {
		return nil, nil, failure("deploy transaction is malformed")
	}

	exec := s.tracker.ExecutorRPC()
	if exec == nil {
		return nil, nil, Status{Code: NotImplemented, Message: "no executor configured"}
	}

	methods, err := exec.ContractMethods(ctx, inv.ByteCodeObjects)
	if err != nil {
		return nil, nil, failure(err.Error())
	}

	st := s.tracker.StateOf(sc.Address).Snapshot()
	vars, err := exec.ContractVariables(ctx, inv.ByteCodeObjects, st.Current)
	if err != nil {
		return nil, nil, failure(err.Error())
	}
	return methods, vars, ok()
}

// SmartContractCompile compiles source through the executor.
func (s *State) SmartContractCompile(ctx context.Context, source string) ([]contract.ByteCodeObject, Status) {
	exec := s.tracker.ExecutorRPC()
	if exec == nil {
		return nil, Status{Code: NotImplemented, Message: "no executor configured"}
	}
	code, execStatus, err := exec.CompileSourceCode(ctx, source)
	if err != nil {
		return nil, failure(err.Error())
	}
	if execStatus.Code != 0 {
		return nil, Status{Code: Failure, Message: execStatus.Message}
	}
	return code, ok()
}

// WaitForSmartTransaction suspends until the contract address sees its next
// smart transaction. Timeout surfaces as InProgress; the underlying queue
// keeps accumulating.
func (s *State) WaitForSmartTransaction(addr pool.Address, timeout time.Duration) (pool.TransactionID, Status) {
	if timeout < 0 {
		timeout = waitTimeout
	}
	id, okWait := s.tracker.WaitForSmartTransaction(addr, timeout)
	if !okWait {
		return pool.TransactionID{}, inProgress("no smart transaction within the timeout")
	}
	return id, ok()
}

// =============================================================================
// Token queries.

// TokensListGet pages the registered tokens.
func (s *State) TokensListGet(offset, limit int64) ([]contract.Token, int, Status) {
	if !validatePagination(offset, limit) {
		return nil, 0, failure("invalid offset or limit")
	}
	tokens, total := s.tracker.Tokens().List(int(offset), int(limit))
	return tokens, total, ok()
}

// TokenBalanceGet returns one holder's balance of one token.
func (s *State) TokenBalanceGet(token pool.Address, holder string) (string, Status) {
	balance, exists := s.tracker.Tokens().Balance(token, holder)
	if !exists {
		return "", notFound("holder not found")
	}
	return balance, ok()
}

// TokenTransfersGet pages one token's recorded transfers, newest first.
func (s *State) TokenTransfersGet(token pool.Address, offset, limit int64) ([]contract.Transfer, int, Status) {
	if !validatePagination(offset, limit) {
		return nil, 0, failure("invalid offset or limit")
	}
	transfers, total := s.tracker.Tokens().Transfers(token, int(offset), int(limit))
	return transfers, total, ok()
}

// TokenHoldersGet pages one token's holders sorted by balance.
func (s *State) TokenHoldersGet(token pool.Address, offset, limit int64) ([]contract.Holder, int, Status) {
	if !validatePagination(offset, limit) {
		return nil, 0, failure("invalid offset or limit")
	}
	holders, total := s.tracker.Tokens().Holders(token, int(offset), int(limit))
	return holders, total, ok()
}
