// Package contract implements the smart-contract operation tracker: the
// derived indices over deployed contracts, the pairing of invocations with
// their resulting state transactions, the waiters suspended on a contract's
// next state, and the timeout that fails abandoned invocations.
package contract

import (
	"github.com/consortia/blockchain/foundation/blockchain/pool"
)

// ByteCodeObject is one named unit of compiled contract code.
type ByteCodeObject struct {
	Name string
	Code []byte
}

// Invocation is the payload of a smart transaction: a deploy when Method is
// empty, an invoke otherwise. Serialized into the contract user field.
type Invocation struct {
	SourceCode      string
	ByteCodeObjects []ByteCodeObject
	HashState       string
	Method          string
	Params          []string
	Uses            []string
	ForgetNewState  bool
}

// IsDeploy reports whether the invocation deploys rather than invokes.
func (inv Invocation) IsDeploy() bool {
	return inv.Method == ""
}

// Bytes serializes the invocation for carriage in a user field.
func (inv Invocation) Bytes() []byte {
	e := pool.NewEncoder()
	e.PutString(inv.SourceCode)
	e.PutSize(len(inv.ByteCodeObjects))
	for _, o := range inv.ByteCodeObjects {
		e.PutString(o.Name)
		e.PutBytes(o.Code)
	}
	e.PutString(inv.HashState)
	e.PutString(inv.Method)
	e.PutSize(len(inv.Params))
	for _, p := range inv.Params {
		e.PutString(p)
	}
	e.PutSize(len(inv.Uses))
	for _, u := range inv.Uses {
		e.PutString(u)
	}
	var forget uint8
	if inv.ForgetNewState {
		forget = 1
	}
	e.PutUint8(forget)
	return e.Bytes()
}

// InvocationFromBytes decodes an invocation from its user-field form.
func InvocationFromBytes(data []byte) (Invocation, error) {
	var inv Invocation
	d := pool.NewDecoder(data)
	inv.SourceCode = d.GetString()

	cnt := d.GetSize()
	if d.Err() != nil {
		return Invocation{}, d.Err()
	}
	inv.ByteCodeObjects = make([]ByteCodeObject, 0, cnt)
	for i := 0; i < cnt; i++ {
		inv.ByteCodeObjects = append(inv.ByteCodeObjects, ByteCodeObject{
			Name: d.GetString(),
			Code: d.GetBytes(),
		})
	}

	inv.HashState = d.GetString()
	inv.Method = d.GetString()

	cnt = d.GetSize()
	if d.Err() != nil {
		return Invocation{}, d.Err()
	}
	for i := 0; i < cnt; i++ {
		inv.Params = append(inv.Params, d.GetString())
	}

	cnt = d.GetSize()
	if d.Err() != nil {
		return Invocation{}, d.Err()
	}
	for i := 0; i < cnt; i++ {
		inv.Uses = append(inv.Uses, d.GetString())
	}

	inv.ForgetNewState = d.GetUint8() != 0
	if err := d.Err(); err != nil {
		return Invocation{}, err
	}
	return inv, nil
}

// =============================================================================

// Ref is a stable pointer to the transaction that initiated a contract
// operation: the carrying pool's hash, the index within it, and the pool's
// sequence for cheap ordering.
type Ref struct {
	Hash     pool.Hash
	TrxIndex uint32
	Sequence uint64
}

// IsValid reports whether the ref points at a sealed transaction.
func (r Ref) IsValid() bool {
	return !r.Hash.IsZero()
}

// TransactionID returns the (hash, index) identity the ref points at.
func (r Ref) TransactionID() pool.TransactionID {
	return pool.TransactionID{PoolHash: r.Hash, Index: r.TrxIndex}
}

// Bytes serializes the ref for carriage in the new-state user field.
func (r Ref) Bytes() []byte {
	e := pool.NewEncoder()
	e.PutFixed(r.Hash[:])
	e.PutUint32(r.TrxIndex)
	e.PutUint64(r.Sequence)
	return e.Bytes()
}

// RefFromBytes decodes a ref from its user-field form.
func RefFromBytes(data []byte) (Ref, error) {
	var r Ref
	d := pool.NewDecoder(data)
	copy(r.Hash[:], d.GetFixed(pool.HashSize))
	r.TrxIndex = d.GetUint32()
	r.Sequence = d.GetUint64()
	if err := d.Err(); err != nil {
		return Ref{}, err
	}
	return r, nil
}

// RefOf reads the initiating ref off a smart-state transaction.
func RefOf(t *pool.Transaction) (Ref, error) {
	f := t.UserField(pool.UFNewStateRef)
	if !f.IsString() {
		return Ref{}, pool.ErrMalformedBinary
	}
	return RefFromBytes([]byte(f.String()))
}

// =============================================================================

// IsSmart reports whether a transaction carries a contract deploy or invoke.
func IsSmart(t *pool.Transaction) bool {
	return t.UserField(pool.UFContract).IsString()
}

// IsNewState reports whether a transaction carries a contract's new state.
// The ref field requirement filters out ancient malformed contracts.
func IsNewState(t *pool.Transaction) bool {
	return t.UserField(pool.UFNewState).IsString() && t.UserField(pool.UFNewStateRef).IsString()
}

// FetchInvocation decodes the invocation off a smart transaction.
func FetchInvocation(t *pool.Transaction) (Invocation, error) {
	f := t.UserField(pool.UFContract)
	if !f.IsString() {
		return Invocation{}, pool.ErrMalformedBinary
	}
	return InvocationFromBytes([]byte(f.String()))
}

// =============================================================================

// OperationState tracks the lifecycle of one invoke or deploy.
type OperationState int

// Operation lifecycle. Pending transitions to Success or Failed exactly once.
const (
	Pending OperationState = iota
	Success
	Failed
)

// String renders the state for logs and API responses.
func (s OperationState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Success:
		return "success"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Operation is the tracked record of one invoke or deploy, keyed by its
// initiating transaction id.
type Operation struct {
	State            OperationState
	StateTransaction pool.TransactionID
	HasRetval        bool
	ReturnValue      string
}

// State is the tracked record of one contract's current serialized state.
type State struct {
	Current     string
	LastEmpty   bool
	Transaction pool.TransactionID // the new-state transaction
	Initer      pool.TransactionID // the invoke/deploy it answered
}
