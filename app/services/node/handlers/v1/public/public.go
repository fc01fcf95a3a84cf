// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	v1 "github.com/consortia/blockchain/business/web/v1"
	"github.com/consortia/blockchain/foundation/blockchain/contract"
	"github.com/consortia/blockchain/foundation/blockchain/pool"
	"github.com/consortia/blockchain/foundation/blockchain/state"
	"github.com/consortia/blockchain/foundation/events"
	"github.com/consortia/blockchain/foundation/web"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of public endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// Genesis returns the genesis information.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	gen := h.State.RetrieveGenesis()
	return web.Respond(ctx, w, gen, http.StatusOK)
}

// =============================================================================
// Wallet queries.

// WalletData returns the cached data for the specified wallet.
func (h Handlers) WalletData(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	addr, err := paramAddress(r)
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, h.State.WalletDataGet(addr), http.StatusOK)
}

// WalletBalance returns the balance for the specified wallet.
func (h Handlers) WalletBalance(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	addr, err := paramAddress(r)
	if err != nil {
		return err
	}

	balance, status := h.State.WalletBalanceGet(addr)
	resp := struct {
		Status  state.Status `json:"status"`
		Balance string       `json:"balance"`
	}{
		Status:  status,
		Balance: balance.String(),
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// WalletID returns the compact id for the specified wallet key.
func (h Handlers) WalletID(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	addr, err := paramAddress(r)
	if err != nil {
		return err
	}

	id, status := h.State.WalletIDGet(addr)
	resp := struct {
		Status state.Status  `json:"status"`
		ID     pool.WalletID `json:"id"`
	}{
		Status: status,
		ID:     id,
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// WalletTransactionsCount returns the wallet's transaction count.
func (h Handlers) WalletTransactionsCount(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	addr, err := paramAddress(r)
	if err != nil {
		return err
	}

	count, status := h.State.WalletTransactionsCountGet(addr)
	resp := struct {
		Status state.Status `json:"status"`
		Count  uint64       `json:"count"`
	}{
		Status: status,
		Count:  count,
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// =============================================================================
// Pool queries.

// PoolList returns pools walking back from the head.
func (h Handlers) PoolList(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	offset, limit, err := paramOffsetLimit(r)
	if err != nil {
		return err
	}

	result := h.State.PoolListGet(offset, limit)
	resp := struct {
		Status state.Status `json:"status"`
		Pools  []blockInfo  `json:"pools"`
		Count  uint64       `json:"count"`
	}{
		Status: result.Status,
		Count:  result.Count,
	}
	for _, p := range result.Pools {
		resp.Pools = append(resp.Pools, toBlockInfo(p))
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// PoolInfo returns one pool's header.
func (h Handlers) PoolInfo(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash, err := paramHash(r)
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, h.State.PoolInfoGet(hash), http.StatusOK)
}

// PoolTransactions pages one pool's transactions.
func (h Handlers) PoolTransactions(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash, err := paramHash(r)
	if err != nil {
		return err
	}
	offset, limit, err := paramOffsetLimit(r)
	if err != nil {
		return err
	}

	trxs, status := h.State.PoolTransactionsGet(hash, offset, limit)
	resp := struct {
		Status state.Status `json:"status"`
		Trxs   []tx         `json:"trxs"`
	}{
		Status: status,
		Trxs:   toTxs(trxs),
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// =============================================================================
// Transaction queries.

// Transaction resolves one (pool hash, index) id.
func (h Handlers) Transaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash, err := paramHash(r)
	if err != nil {
		return err
	}
	index, err := strconv.ParseUint(web.Param(r, "index"), 10, 32)
	if err != nil {
		return v1.NewRequestError(fmt.Errorf("invalid index: %w", err), http.StatusBadRequest)
	}

	t, status := h.State.TransactionGet(pool.TransactionID{PoolHash: hash, Index: uint32(index)})
	resp := struct {
		Status state.Status `json:"status"`
		Trx    *tx          `json:"trx,omitempty"`
	}{
		Status: status,
	}
	if t != nil {
		view := toTx(t)
		resp.Trx = &view
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Transactions pages the transactions touching an address.
func (h Handlers) Transactions(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	addr, err := paramAddress(r)
	if err != nil {
		return err
	}
	offset, limit, err := paramOffsetLimit(r)
	if err != nil {
		return err
	}

	trxs, status := h.State.TransactionsGet(addr, offset, limit)
	resp := struct {
		Status state.Status `json:"status"`
		Trxs   []tx         `json:"trxs"`
	}{
		Status: status,
		Trxs:   toTxs(trxs),
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// TransactionsState classifies the sender's inner ids.
func (h Handlers) TransactionsState(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	addr, err := paramAddress(r)
	if err != nil {
		return err
	}

	var payload struct {
		InnerIDs []uint64 `json:"inner_ids" validate:"required"`
	}
	if err := web.Decode(r, &payload); err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	states, status := h.State.TransactionsStateGet(addr, payload.InnerIDs)
	resp := struct {
		Status state.Status             `json:"status"`
		States map[uint64]state.TrxState `json:"states"`
	}{
		Status: status,
		States: states,
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// =============================================================================
// Flow.

// TransactionFlow accepts a signed transaction and routes it to the dumb or
// smart flow.
func (h Handlers) TransactionFlow(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var payload flowTx
	if err := web.Decode(r, &payload); err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	t, err := buildTransaction(payload)
	if err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	h.Log.Infow("transaction flow", "traceid", v.TraceID, "source", payload.Source, "target", payload.Target, "innerid", payload.InnerID)

	return web.Respond(ctx, w, h.State.TransactionFlow(ctx, t), http.StatusOK)
}

func buildTransaction(payload flowTx) (*pool.Transaction, error) {
	source, err := pool.AddressFromString(payload.Source)
	if err != nil {
		return nil, fmt.Errorf("invalid source address: %w", err)
	}
	target, err := pool.AddressFromString(payload.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid target address: %w", err)
	}

	t := pool.NewTransaction(payload.InnerID, source, target, pool.NewAmount(payload.Integral, payload.Fraction))
	t.SetMaxFee(pool.CommissionFromDouble(payload.MaxFee))

	if payload.Smart != nil {
		inv := contract.Invocation{
			SourceCode:     payload.Smart.SourceCode,
			Method:         payload.Smart.Method,
			Params:         payload.Smart.Params,
			ForgetNewState: payload.Smart.ForgetNewState,
		}
		for name, code := range payload.Smart.ByteCode {
			inv.ByteCodeObjects = append(inv.ByteCodeObjects, contract.ByteCodeObject{Name: name, Code: code})
		}
		t.AddUserField(pool.UFContract, pool.StringField(string(inv.Bytes())))
	}

	sigBytes, err := hexutil.Decode(payload.Signature)
	if err != nil || len(sigBytes) != pool.SignatureSize {
		return nil, fmt.Errorf("invalid signature")
	}
	var sig pool.Signature
	copy(sig[:], sigBytes)
	t.SetSignature(sig)

	return t, nil
}

// =============================================================================
// Smart-contract queries.

// SmartContract returns one contract's descriptor.
func (h Handlers) SmartContract(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	addr, err := paramAddress(r)
	if err != nil {
		return err
	}

	sc, status := h.State.SmartContractGet(addr)
	resp := struct {
		Status   state.Status        `json:"status"`
		Contract state.SmartContract `json:"contract"`
	}{
		Status:   status,
		Contract: sc,
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// SmartContractData returns one contract's methods and variables.
func (h Handlers) SmartContractData(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	addr, err := paramAddress(r)
	if err != nil {
		return err
	}

	methods, vars, status := h.State.SmartContractDataGet(ctx, addr)
	resp := struct {
		Status    state.Status                 `json:"status"`
		Methods   []contract.MethodDescription `json:"methods"`
		Variables map[string]string            `json:"variables"`
	}{
		Status:    status,
		Methods:   methods,
		Variables: vars,
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// WaitForSmartTransaction suspends until the contract sees its next smart
// transaction or the client-visible timeout expires.
func (h Handlers) WaitForSmartTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	addr, err := paramAddress(r)
	if err != nil {
		return err
	}

	timeout := -1 * time.Second
	if t := r.URL.Query().Get("timeout_ms"); t != "" {
		ms, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return v1.NewRequestError(fmt.Errorf("invalid timeout: %w", err), http.StatusBadRequest)
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	id, status := h.State.WaitForSmartTransaction(addr, timeout)
	resp := struct {
		Status   state.Status `json:"status"`
		PoolHash string       `json:"pool_hash,omitempty"`
		Index    uint32       `json:"index"`
	}{
		Status: status,
		Index:  id.Index,
	}
	if status.Code == state.Success {
		resp.PoolHash = id.PoolHash.Hex()
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// SmartMethodParams returns the params of one smart transaction's
// invocation.
func (h Handlers) SmartMethodParams(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash, err := paramHash(r)
	if err != nil {
		return err
	}
	index, err := strconv.ParseUint(web.Param(r, "index"), 10, 32)
	if err != nil {
		return v1.NewRequestError(fmt.Errorf("invalid index: %w", err), http.StatusBadRequest)
	}

	params, status := h.State.SmartMethodParamsGet(pool.TransactionID{PoolHash: hash, Index: uint32(index)})
	resp := struct {
		Status state.Status `json:"status"`
		Params []string     `json:"params"`
	}{
		Status: status,
		Params: params,
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// SmartContractsList returns the contracts deployed by one creator.
func (h Handlers) SmartContractsList(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	addr, err := paramAddress(r)
	if err != nil {
		return err
	}

	list, status := h.State.SmartContractsListGet(addr)
	resp := struct {
		Status    state.Status          `json:"status"`
		Contracts []state.SmartContract `json:"contracts"`
		Count     int                   `json:"count"`
	}{
		Status:    status,
		Contracts: list,
		Count:     len(list),
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// SmartContractAddressesList returns the addresses of one creator's
// contracts.
func (h Handlers) SmartContractAddressesList(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	addr, err := paramAddress(r)
	if err != nil {
		return err
	}

	addrs, status := h.State.SmartContractAddressesListGet(addr)
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	resp := struct {
		Status    state.Status `json:"status"`
		Addresses []string     `json:"addresses"`
	}{
		Status:    status,
		Addresses: out,
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// SmartContractsAllList pages every deployed contract.
func (h Handlers) SmartContractsAllList(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	offset, limit, err := paramOffsetLimit(r)
	if err != nil {
		return err
	}

	list, total, status := h.State.SmartContractsAllListGet(offset, limit)
	resp := struct {
		Status    state.Status          `json:"status"`
		Contracts []state.SmartContract `json:"contracts"`
		Count     int                   `json:"count"`
	}{
		Status:    status,
		Contracts: list,
		Count:     total,
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// SmartContractCompile compiles source through the executor.
func (h Handlers) SmartContractCompile(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var payload struct {
		Source string `json:"source" validate:"required"`
	}
	if err := web.Decode(r, &payload); err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	code, status := h.State.SmartContractCompile(ctx, payload.Source)
	resp := struct {
		Status   state.Status      `json:"status"`
		ByteCode map[string][]byte `json:"bytecode,omitempty"`
	}{
		Status: status,
	}
	if len(code) > 0 {
		resp.ByteCode = make(map[string][]byte, len(code))
		for _, o := range code {
			resp.ByteCode[o.Name] = o.Code
		}
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// =============================================================================
// Token queries.

// TokensList pages the registered tokens.
func (h Handlers) TokensList(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	offset, limit, err := paramOffsetLimit(r)
	if err != nil {
		return err
	}

	tokens, total, status := h.State.TokensListGet(offset, limit)
	resp := struct {
		Status state.Status     `json:"status"`
		Tokens []contract.Token `json:"tokens"`
		Count  int              `json:"count"`
	}{
		Status: status,
		Tokens: tokens,
		Count:  total,
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// TokenBalance returns one holder's balance of one token.
func (h Handlers) TokenBalance(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	addr, err := paramAddress(r)
	if err != nil {
		return err
	}

	balance, status := h.State.TokenBalanceGet(addr, web.Param(r, "holder"))
	resp := struct {
		Status  state.Status `json:"status"`
		Balance string       `json:"balance"`
	}{
		Status:  status,
		Balance: balance,
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// TokenTransfers pages one token's transfers.
func (h Handlers) TokenTransfers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	addr, err := paramAddress(r)
	if err != nil {
		return err
	}
	offset, limit, err := paramOffsetLimit(r)
	if err != nil {
		return err
	}

	transfers, total, status := h.State.TokenTransfersGet(addr, offset, limit)
	resp := struct {
		Status    state.Status        `json:"status"`
		Transfers []contract.Transfer `json:"transfers"`
		Count     int                 `json:"count"`
	}{
		Status:    status,
		Transfers: transfers,
		Count:     total,
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// TokenHolders pages one token's holders.
func (h Handlers) TokenHolders(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	addr, err := paramAddress(r)
	if err != nil {
		return err
	}
	offset, limit, err := paramOffsetLimit(r)
	if err != nil {
		return err
	}

	holders, total, status := h.State.TokenHoldersGet(addr, offset, limit)
	resp := struct {
		Status  state.Status      `json:"status"`
		Holders []contract.Holder `json:"holders"`
		Count   int               `json:"count"`
	}{
		Status:  status,
		Holders: holders,
		Count:   total,
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// =============================================================================

func paramAddress(r *http.Request) (pool.Address, error) {
	addr, err := pool.AddressFromString(web.Param(r, "address"))
	if err != nil {
		return pool.Address{}, v1.NewRequestError(fmt.Errorf("invalid address: %w", err), http.StatusBadRequest)
	}
	return addr, nil
}

func paramHash(r *http.Request) (pool.Hash, error) {
	hash, err := pool.HashFromHex(web.Param(r, "hash"))
	if err != nil {
		return pool.Hash{}, v1.NewRequestError(fmt.Errorf("invalid hash: %w", err), http.StatusBadRequest)
	}
	return hash, nil
}

func paramOffsetLimit(r *http.Request) (int64, int64, error) {
	offset, err := strconv.ParseInt(web.Param(r, "offset"), 10, 64)
	if err != nil {
		return 0, 0, v1.NewRequestError(fmt.Errorf("invalid offset: %w", err), http.StatusBadRequest)
	}
	limit, err := strconv.ParseInt(web.Param(r, "limit"), 10, 64)
	if err != nil {
		return 0, 0, v1.NewRequestError(fmt.Errorf("invalid limit: %w", err), http.StatusBadRequest)
	}
	return offset, limit, nil
}
