package pool

import (
	"crypto/ed25519"
	"errors"
	"math/bits"
)

// UFRealTrusted is the pool user field carrying the real-trusted bitmask the
// round consensus settled on. Bit i set means confidant i's contributions
// were accepted. Stored as a user field so it travels inside the hashed
// layout.
const UFRealTrusted UserFieldID = 10

// MaxConfidants bounds the per-round trusted set so the mask fits in 64 bits.
const MaxConfidants = 64

// ErrReadOnly is returned for mutation attempts on a sealed pool.
var ErrReadOnly = errors.New("pool is read only")

// NewWalletAddressType tags which side of a transaction introduced a wallet.
type NewWalletAddressType uint8

// Wallet sides.
const (
	NewWalletIsSource NewWalletAddressType = iota
	NewWalletIsTarget
)

// NewWalletInfo records a wallet first seen in this pool and the compact id
// assigned to it: the transaction that introduced it, which side of the
// transaction, and the id.
type NewWalletInfo struct {
	TrxIndex    uint32
	AddressType NewWalletAddressType
	WalletID    WalletID
}

func (w NewWalletInfo) put(e *Encoder) {
	e.PutUint32(w.TrxIndex)
	e.PutUint8(uint8(w.AddressType))
	e.PutUint32(uint32(w.WalletID))
}

func getNewWalletInfo(d *Decoder) NewWalletInfo {
	var w NewWalletInfo
	w.TrxIndex = d.GetUint32()
	w.AddressType = NewWalletAddressType(d.GetUint8())
	w.WalletID = WalletID(d.GetUint32())
	return w
}

// ConfidantSignature pairs a confidant's index in the round table with its
// signature over the pool's signable prefix.
type ConfidantSignature struct {
	Index     uint8
	Signature Signature
}

// =============================================================================

// Pool is one block: an ordered batch of transactions sealed by the round's
// trusted set. A pool is mutable while being assembled and latches read-only
// on Compose; the hash and per-transaction ids exist only after that.
type Pool struct {
	previousHash Hash
	sequence     uint64
	userFields   UserFields
	transactions []*Transaction
	newWallets   []NewWalletInfo
	confidants   []PublicKey
	signatures   []ConfidantSignature
	writerPK     PublicKey
	writerSig    Signature

	readOnly bool
	hash     Hash
	binary   []byte
}

// New constructs an open pool linked to the given predecessor.
func New(previousHash Hash, sequence uint64) *Pool {
	return &Pool{
		previousHash: previousHash,
		sequence:     sequence,
		userFields:   make(UserFields),
	}
}

// PreviousHash returns the predecessor link.
func (p *Pool) PreviousHash() Hash { return p.previousHash }

// Sequence returns the pool's height.
func (p *Pool) Sequence() uint64 { return p.sequence }

// IsReadOnly reports whether the pool has sealed.
func (p *Pool) IsReadOnly() bool { return p.readOnly }

// Hash returns the blake2b-256 of the full serialization. Zero until Compose.
func (p *Pool) Hash() Hash { return p.hash }

// WriterPublicKey returns the round writer's key.
func (p *Pool) WriterPublicKey() PublicKey { return p.writerPK }

// WriterSignature returns the writer's signature over the signable prefix.
func (p *Pool) WriterSignature() Signature { return p.writerSig }

// Confidants returns the round's trusted keys in table order.
func (p *Pool) Confidants() []PublicKey { return p.confidants }

// Signatures returns the per-confidant signatures gathered by consensus.
func (p *Pool) Signatures() []ConfidantSignature { return p.signatures }

// NewWallets returns the wallets first introduced by this pool.
func (p *Pool) NewWallets() []NewWalletInfo { return p.newWallets }

// TransactionsCount returns the number of transactions batched.
func (p *Pool) TransactionsCount() int { return len(p.transactions) }

// Transactions returns the ordered transaction batch.
func (p *Pool) Transactions() []*Transaction { return p.transactions }

// Transaction returns the transaction at index, nil when out of range.
func (p *Pool) Transaction(index uint32) *Transaction {
	if int(index) >= len(p.transactions) {
		return nil
	}
	return p.transactions[index]
}

// LastBySource returns the latest transaction whose source matches, nil when
// absent.
func (p *Pool) LastBySource(source Address) *Transaction {
	for i := len(p.transactions) - 1; i >= 0; i-- {
		if p.transactions[i].source.SamePublicKey(source) {
			return p.transactions[i]
		}
	}
	return nil
}

// AddTransaction appends a transaction to an open pool.
func (p *Pool) AddTransaction(t *Transaction) error {
	if p.readOnly {
		return ErrReadOnly
	}
	p.transactions = append(p.transactions, t)
	return nil
}

// AddNewWallet records a wallet-id assignment in an open pool.
func (p *Pool) AddNewWallet(w NewWalletInfo) error {
	if p.readOnly {
		return ErrReadOnly
	}
	p.newWallets = append(p.newWallets, w)
	return nil
}

// SetConfidants installs the round's trusted keys.
func (p *Pool) SetConfidants(keys []PublicKey) error {
	if p.readOnly {
		return ErrReadOnly
	}
	if len(keys) > MaxConfidants {
		return errors.New("too many confidants")
	}
	p.confidants = append([]PublicKey(nil), keys...)
	return nil
}

// SetWriter installs the round writer's public key.
func (p *Pool) SetWriter(pk PublicKey) error {
	if p.readOnly {
		return ErrReadOnly
	}
	p.writerPK = pk
	return nil
}

// AddUserField attaches a typed user field to an open pool.
func (p *Pool) AddUserField(id UserFieldID, f UserField) error {
	if p.readOnly {
		return ErrReadOnly
	}
	if !f.IsValid() {
		return errors.New("invalid user field")
	}
	p.userFields[id] = f
	return nil
}

// UserField returns the field stored under id, invalid when absent.
func (p *Pool) UserField(id UserFieldID) UserField {
	return p.userFields[id]
}

// SetRealTrustedMask records which confidants' contributions were accepted.
func (p *Pool) SetRealTrustedMask(mask uint64) error {
	return p.AddUserField(UFRealTrusted, IntegerField(int64(mask)))
}

// RealTrustedMask returns the accepted-confidants bitmask.
func (p *Pool) RealTrustedMask() uint64 {
	return uint64(p.userFields[UFRealTrusted].Integer())
}

// =============================================================================
// Serialization. The layout is fixed: previous_hash || sequence ||
// user_fields || trx_count || trx[] || new_wallets[] || confidants[] ||
// signatures[] || writer_public_key || writer_signature. The signable prefix
// omits the signature collection and the trailing writer signature.

func (p *Pool) putForSig(e *Encoder) {
	e.PutFixed(p.previousHash[:])
	e.PutUint64(p.sequence)
	p.userFields.put(e)

	e.PutSize(len(p.transactions))
	for _, t := range p.transactions {
		t.put(e)
	}

	e.PutSize(len(p.newWallets))
	for _, w := range p.newWallets {
		w.put(e)
	}

	e.PutSize(len(p.confidants))
	for _, c := range p.confidants {
		e.PutFixed(c[:])
	}

	e.PutFixed(p.writerPK[:])
}

func (p *Pool) put(e *Encoder) {
	e.PutFixed(p.previousHash[:])
	e.PutUint64(p.sequence)
	p.userFields.put(e)

	e.PutSize(len(p.transactions))
	for _, t := range p.transactions {
		t.put(e)
	}

	e.PutSize(len(p.newWallets))
	for _, w := range p.newWallets {
		w.put(e)
	}

	e.PutSize(len(p.confidants))
	for _, c := range p.confidants {
		e.PutFixed(c[:])
	}

	e.PutSize(len(p.signatures))
	for _, s := range p.signatures {
		e.PutUint8(s.Index)
		e.PutFixed(s.Signature[:])
	}

	e.PutFixed(p.writerPK[:])
	e.PutFixed(p.writerSig[:])
}

func (p *Pool) get(d *Decoder) bool {
	copy(p.previousHash[:], d.GetFixed(HashSize))
	p.sequence = d.GetUint64()
	p.userFields = getUserFields(d)

	cnt := d.GetSize()
	if d.Err() != nil {
		return false
	}
	p.transactions = make([]*Transaction, 0, cnt)
	for i := 0; i < cnt; i++ {
		p.transactions = append(p.transactions, getTransaction(d))
		if d.Err() != nil {
			return false
		}
	}

	cnt = d.GetSize()
	if d.Err() != nil {
		return false
	}
	p.newWallets = make([]NewWalletInfo, 0, cnt)
	for i := 0; i < cnt; i++ {
		p.newWallets = append(p.newWallets, getNewWalletInfo(d))
	}

	cnt = d.GetSize()
	if d.Err() != nil || cnt > MaxConfidants {
		d.fail()
		return false
	}
	p.confidants = make([]PublicKey, cnt)
	for i := 0; i < cnt; i++ {
		copy(p.confidants[i][:], d.GetFixed(PublicKeySize))
	}

	cnt = d.GetSize()
	if d.Err() != nil {
		return false
	}
	p.signatures = make([]ConfidantSignature, cnt)
	for i := 0; i < cnt; i++ {
		p.signatures[i].Index = d.GetUint8()
		copy(p.signatures[i].Signature[:], d.GetFixed(SignatureSize))
	}

	copy(p.writerPK[:], d.GetFixed(PublicKeySize))
	copy(p.writerSig[:], d.GetFixed(SignatureSize))

	return d.Err() == nil
}

// BytesForSig returns the canonical signable prefix.
func (p *Pool) BytesForSig() []byte {
	e := NewEncoder()
	p.putForSig(e)
	return e.Bytes()
}

// SignableHash returns the blake2b-256 of the signable prefix. This is the
// block hash exchanged during stage 3, before the pool seals.
func (p *Pool) SignableHash() Hash {
	return HashOf(p.BytesForSig())
}

// Bytes returns the full serialization. For a sealed pool it is the exact
// stream the hash was computed over.
func (p *Pool) Bytes() []byte {
	if p.readOnly {
		return p.binary
	}
	e := NewEncoder()
	p.put(e)
	return e.Bytes()
}

// Compose seals the pool: builds the canonical serialization, computes the
// hash, assigns every transaction its (hash, index) id and latches read-only.
// Composing a sealed pool is a no-op.
func (p *Pool) Compose() {
	if p.readOnly {
		return
	}

	e := NewEncoder()
	p.put(e)
	p.binary = e.Bytes()
	p.hash = HashOf(p.binary)
	p.readOnly = true

	for i, t := range p.transactions {
		t.sealID(p.hash, uint32(i))
	}
}

// FromBinary decodes and seals a pool from its full serialization, verifying
// nothing beyond structure. The hash is recomputed from the input bytes.
func FromBinary(data []byte) (*Pool, error) {
	var p Pool
	d := NewDecoder(data)
	if !p.get(d) {
		return nil, ErrMalformedBinary
	}

	p.binary = append([]byte(nil), data...)
	p.hash = HashOf(p.binary)
	p.readOnly = true
	for i, t := range p.transactions {
		t.sealID(p.hash, uint32(i))
	}
	return &p, nil
}

// Meta is the pool header without its transaction bodies.
type Meta struct {
	PreviousHash     Hash
	Sequence         uint64
	UserFields       UserFields
	TransactionCount int
}

// MetaFromBinary decodes only the pool header from a full serialization.
func MetaFromBinary(data []byte) (Meta, error) {
	var m Meta
	d := NewDecoder(data)
	copy(m.PreviousHash[:], d.GetFixed(HashSize))
	m.Sequence = d.GetUint64()
	m.UserFields = getUserFields(d)
	m.TransactionCount = d.GetSize()
	if err := d.Err(); err != nil {
		return Meta{}, err
	}
	return m, nil
}

// =============================================================================
// Signing.

// SignWriter signs the signable prefix as the round writer.
func (p *Pool) SignWriter(priv ed25519.PrivateKey) {
	p.writerSig = Sign(priv, p.BytesForSig())
}

// VerifyWriterSignature checks the writer signature over the signable prefix.
func (p *Pool) VerifyWriterSignature() error {
	if !p.writerPK.Verify(p.BytesForSig(), p.writerSig) {
		return ErrSignatureInvalid
	}
	return nil
}

// AddSignature attaches one confidant's signature gathered during stage 3.
func (p *Pool) AddSignature(index uint8, sig Signature) error {
	if p.readOnly {
		return ErrReadOnly
	}
	if int(index) >= len(p.confidants) {
		return errors.New("signature index out of confidant range")
	}
	p.signatures = append(p.signatures, ConfidantSignature{Index: index, Signature: sig})
	return nil
}

// VerifySignatures checks every attached confidant signature and the
// mask/signature count invariant. Confidants sign the hash of the signable
// prefix, which is what stage 3 exchanged before the pool sealed.
func (p *Pool) VerifySignatures() error {
	mask := p.RealTrustedMask()
	if bits.OnesCount64(mask) != len(p.signatures) {
		return errors.New("trusted mask population does not match signature count")
	}

	hash := p.SignableHash()
	data := hash[:]
	for _, s := range p.signatures {
		if int(s.Index) >= len(p.confidants) {
			return errors.New("signature index out of confidant range")
		}
		if mask&(1<<uint(s.Index)) == 0 {
			return errors.New("signature from confidant outside trusted mask")
		}
		if !p.confidants[s.Index].Verify(data, s.Signature) {
			return ErrSignatureInvalid
		}
	}
	return nil
}

// VerifyHash recomputes the hash from the sealed serialization and compares.
func (p *Pool) VerifyHash() error {
	if !p.readOnly {
		return errors.New("pool is not sealed")
	}
	if HashOf(p.binary) != p.hash {
		return ErrHashMismatch
	}
	return nil
}
