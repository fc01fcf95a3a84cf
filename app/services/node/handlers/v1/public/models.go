package public

import (
	"github.com/consortia/blockchain/foundation/blockchain/contract"
	"github.com/consortia/blockchain/foundation/blockchain/pool"
)

// tx is the JSON view of one transaction.
type tx struct {
	PoolHash string  `json:"pool_hash,omitempty"`
	Index    uint32  `json:"index"`
	InnerID  uint64  `json:"inner_id"`
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Amount   string  `json:"amount"`
	MaxFee   float64 `json:"max_fee"`
	Fee      float64 `json:"fee"`
	Smart    bool    `json:"smart"`
	NewState bool    `json:"new_state"`
	Sig      string  `json:"sig"`
}

func toTx(t *pool.Transaction) tx {
	return tx{
		PoolHash: t.ID().PoolHash.Hex(),
		Index:    t.ID().Index,
		InnerID:  t.InnerID(),
		Source:   t.Source().String(),
		Target:   t.Target().String(),
		Amount:   t.Amount().String(),
		MaxFee:   t.MaxFee().Double(),
		Fee:      t.CountedFee().Double(),
		Smart:    contract.IsSmart(t),
		NewState: contract.IsNewState(t),
		Sig:      t.Signature().Hex(),
	}
}

func toTxs(trxs []*pool.Transaction) []tx {
	out := make([]tx, len(trxs))
	for i, t := range trxs {
		out[i] = toTx(t)
	}
	return out
}

// blockInfo is the JSON view of one pool header.
type blockInfo struct {
	Hash         string `json:"hash"`
	PreviousHash string `json:"previous_hash"`
	Sequence     uint64 `json:"sequence"`
	TrxCount     int    `json:"trx_count"`
	Writer       string `json:"writer"`
	TrustedCount int    `json:"trusted_count"`
}

func toBlockInfo(p *pool.Pool) blockInfo {
	return blockInfo{
		Hash:         p.Hash().Hex(),
		PreviousHash: p.PreviousHash().Hex(),
		Sequence:     p.Sequence(),
		TrxCount:     p.TransactionsCount(),
		Writer:       p.WriterPublicKey().Hex(),
		TrustedCount: len(p.Confidants()),
	}
}

// flowTx is the submitted-transaction payload for the flow endpoint.
type flowTx struct {
	Source    string  `json:"source" validate:"required"`
	Target    string  `json:"target" validate:"required"`
	InnerID   uint64  `json:"inner_id"`
	Integral  int32   `json:"integral"`
	Fraction  uint64  `json:"fraction"`
	MaxFee    float64 `json:"max_fee"`
	Signature string  `json:"signature" validate:"required"`

	Smart *flowSmart `json:"smart,omitempty"`
}

// flowSmart is the optional contract invocation attached to a flow payload.
type flowSmart struct {
	SourceCode     string            `json:"source_code,omitempty"`
	ByteCode       map[string][]byte `json:"bytecode,omitempty"`
	Method         string            `json:"method"`
	Params         []string          `json:"params,omitempty"`
	ForgetNewState bool              `json:"forget_new_state"`
}
