// Package pool implements the block data model: amounts, addresses,
// transactions and pools with their canonical binary layout, blake2b-256
// hashing, ed25519 signatures and lz4 transport compression. The byte layout
// is a compatibility contract with existing chain data; any change to it is a
// hard fork.
package pool

import (
	"bytes"
	"crypto/ed25519"
	"errors"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/blake2b"
)

// Cryptographic material sizes. The chain format is ed25519 over blake2b-256.
const (
	HashSize      = blake2b.Size256
	PublicKeySize = ed25519.PublicKeySize
	SignatureSize = ed25519.SignatureSize
)

// Chain-level errors surfaced by the codec.
var (
	ErrSignatureInvalid = errors.New("signature verification failed")
	ErrHashMismatch     = errors.New("recomputed hash does not match")
)

// Hash is a blake2b-256 digest of a canonical byte stream.
type Hash [HashSize]byte

// ZeroHash is the empty previous-hash carried by the genesis pool.
var ZeroHash Hash

// HashOf digests the given stream.
func HashOf(data []byte) Hash {
	return blake2b.Sum256(data)
}

// IsZero reports whether the hash is all zeroes. The genesis pool is the only
// chain entry with a zero previous hash.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// Hex renders the hash in 0x-prefixed hex.
func (h Hash) Hex() string {
	return hexutil.Encode(h[:])
}

// HashFromHex parses a 0x-prefixed hex hash.
func HashFromHex(s string) (Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Hash{}, err
	}
	if len(b) != HashSize {
		return Hash{}, ErrMalformedBinary
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// HashFromBytes builds a hash from its raw 32 bytes.
func HashFromBytes(b []byte) (Hash, error) {
	if len(b) != HashSize {
		return Hash{}, ErrMalformedBinary
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// =============================================================================

// PublicKey identifies a node or wallet on the chain.
type PublicKey [PublicKeySize]byte

// Hex renders the key in 0x-prefixed hex.
func (p PublicKey) Hex() string {
	return hexutil.Encode(p[:])
}

// Sign produces an ed25519 signature of data under the given private key.
func Sign(priv ed25519.PrivateKey, data []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(priv, data))
	return sig
}

// Verify checks an ed25519 signature of data against this key.
func (p PublicKey) Verify(data []byte, sig Signature) bool {
	return ed25519.Verify(p[:], data, sig[:])
}

// Signature is a detached ed25519 signature.
type Signature [SignatureSize]byte

// IsZero reports whether the signature is unset.
func (s Signature) IsZero() bool {
	return s == Signature{}
}

// Hex renders the signature in 0x-prefixed hex.
func (s Signature) Hex() string {
	return hexutil.Encode(s[:])
}

// =============================================================================

// TransactionID is the stable identity of a sealed transaction: the hash of
// the pool carrying it plus its index within that pool.
type TransactionID struct {
	PoolHash Hash
	Index    uint32
}

// IsValid reports whether the id points into a sealed pool.
func (id TransactionID) IsValid() bool {
	return !id.PoolHash.IsZero() || id.Index > 0
}

// Equal compares two transaction ids.
func (id TransactionID) Equal(other TransactionID) bool {
	return id.Index == other.Index && bytes.Equal(id.PoolHash[:], other.PoolHash[:])
}
