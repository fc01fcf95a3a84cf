package pool

import (
	"crypto/ed25519"
	"fmt"
)

// InnerIDMask keeps the low 46 bits of a transaction's inner id. The upper
// bits of the wire field are reserved.
const InnerIDMask uint64 = (1 << 46) - 1

// Transaction is a single transfer, optionally carrying smart-contract user
// fields. A transaction is value-comparable through its canonical byte stream.
type Transaction struct {
	innerID    uint64
	source     Address
	target     Address
	amount     Amount
	maxFee     Commission
	countedFee Commission
	currency   byte
	signature  Signature
	userFields UserFields

	// Set when the carrying pool seals; zero until then.
	id TransactionID
}

// NewTransaction constructs an unsigned transaction. The inner id is masked
// to its low 46 bits.
func NewTransaction(innerID uint64, source, target Address, amount Amount) *Transaction {
	return &Transaction{
		innerID:    innerID & InnerIDMask,
		source:     source,
		target:     target,
		amount:     amount,
		currency:   1,
		userFields: make(UserFields),
	}
}

// InnerID returns the sender-scoped 46-bit id.
func (t *Transaction) InnerID() uint64 { return t.innerID }

// Source returns the paying address.
func (t *Transaction) Source() Address { return t.source }

// Target returns the receiving address.
func (t *Transaction) Target() Address { return t.target }

// Amount returns the transferred amount.
func (t *Transaction) Amount() Amount { return t.amount }

// MaxFee returns the fee ceiling the sender signed.
func (t *Transaction) MaxFee() Commission { return t.maxFee }

// CountedFee returns the fee the round writer counted.
func (t *Transaction) CountedFee() Commission { return t.countedFee }

// Currency returns the currency tag.
func (t *Transaction) Currency() byte { return t.currency }

// Signature returns the sender's signature.
func (t *Transaction) Signature() Signature { return t.signature }

// ID returns the (pool hash, index) identity. Valid once the carrying pool
// has sealed.
func (t *Transaction) ID() TransactionID { return t.id }

// SetMaxFee sets the fee ceiling.
func (t *Transaction) SetMaxFee(c Commission) { t.maxFee = c }

// SetCountedFee records the counted fee. The invariant MaxFee >= CountedFee
// is enforced at validation, not here, because the counted fee is assigned by
// the writer after signing.
func (t *Transaction) SetCountedFee(c Commission) { t.countedFee = c }

// SetCurrency sets the currency tag.
func (t *Transaction) SetCurrency(c byte) { t.currency = c }

// SetSignature attaches a signature produced elsewhere (wallet, peer).
func (t *Transaction) SetSignature(sig Signature) { t.signature = sig }

// AddUserField attaches a typed user field.
func (t *Transaction) AddUserField(id UserFieldID, f UserField) {
	if t.userFields == nil {
		t.userFields = make(UserFields)
	}
	t.userFields[id] = f
}

// UserField returns the field stored under id, invalid when absent.
func (t *Transaction) UserField(id UserFieldID) UserField {
	return t.userFields[id]
}

// UserFields returns the full field map.
func (t *Transaction) UserFields() UserFields {
	return t.userFields
}

// putForSig writes the signable prefix: every field except the signature, in
// fixed order.
func (t *Transaction) putForSig(e *Encoder) {
	e.PutUint64(t.innerID & InnerIDMask)
	t.source.put(e)
	t.target.put(e)
	t.amount.put(e)
	t.maxFee.put(e)
	t.countedFee.put(e)
	e.PutUint8(t.currency)
	t.userFields.put(e)
}

func (t *Transaction) put(e *Encoder) {
	t.putForSig(e)
	e.PutFixed(t.signature[:])
}

func getTransaction(d *Decoder) *Transaction {
	var t Transaction
	t.innerID = d.GetUint64() & InnerIDMask
	t.source = getAddress(d)
	t.target = getAddress(d)
	t.amount = getAmount(d)
	t.maxFee = getCommission(d)
	t.countedFee = getCommission(d)
	t.currency = d.GetUint8()
	t.userFields = getUserFields(d)
	copy(t.signature[:], d.GetFixed(SignatureSize))
	return &t
}

// BytesForSig returns the canonical signable byte stream.
func (t *Transaction) BytesForSig() []byte {
	e := NewEncoder()
	t.putForSig(e)
	return e.Bytes()
}

// Bytes returns the full canonical byte stream including the signature.
func (t *Transaction) Bytes() []byte {
	e := NewEncoder()
	t.put(e)
	return e.Bytes()
}

// TransactionFromBytes decodes a standalone transaction stream.
func TransactionFromBytes(data []byte) (*Transaction, error) {
	d := NewDecoder(data)
	t := getTransaction(d)
	if err := d.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// Sign signs the transaction's signable prefix with the sender's key.
func (t *Transaction) Sign(priv ed25519.PrivateKey) {
	t.signature = Sign(priv, t.BytesForSig())
}

// VerifySignature checks the signature against the resolved source key. The
// caller resolves wallet-id sources to public-key form first.
func (t *Transaction) VerifySignature(source PublicKey) error {
	if !source.Verify(t.BytesForSig(), t.signature) {
		return ErrSignatureInvalid
	}
	return nil
}

// VerifyFees enforces max_fee >= counted_fee.
func (t *Transaction) VerifyFees() error {
	if t.maxFee.Double() < t.countedFee.Double() {
		return fmt.Errorf("max fee %f below counted fee %f", t.maxFee.Double(), t.countedFee.Double())
	}
	return nil
}

// Clone returns an independent copy of the transaction.
func (t *Transaction) Clone() *Transaction {
	c := *t
	c.userFields = t.userFields.Clone()
	return &c
}

func (t *Transaction) sealID(poolHash Hash, index uint32) {
	t.id = TransactionID{PoolHash: poolHash, Index: index}
}
