package pool

import (
	"errors"
	"strconv"

	"github.com/mr-tron/base58"
)

// WalletID is the compact numeric alias assigned to a wallet once it first
// appears on the chain. It resolves to a public key through the wallet cache.
type WalletID uint32

// Address identifies a transaction endpoint as either a full 32-byte public
// key or a compact wallet id. The two forms are never compared directly;
// comparison happens after resolving to public-key form.
type Address struct {
	kind      addressKind
	publicKey PublicKey
	walletID  WalletID
}

type addressKind uint8

const (
	addressEmpty addressKind = iota
	addressPublicKey
	addressWalletID
)

// ErrBadAddress is returned for text forms that don't parse to a key or id.
var ErrBadAddress = errors.New("bad address")

// AddressFromPublicKey wraps a public key as an address.
func AddressFromPublicKey(pk PublicKey) Address {
	return Address{kind: addressPublicKey, publicKey: pk}
}

// AddressFromWalletID wraps a wallet id as an address.
func AddressFromWalletID(id WalletID) Address {
	return Address{kind: addressWalletID, walletID: id}
}

// AddressFromString parses the base58 text form of a public-key address.
func AddressFromString(s string) (Address, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return Address{}, ErrBadAddress
	}
	if len(b) != PublicKeySize {
		return Address{}, ErrBadAddress
	}
	var pk PublicKey
	copy(pk[:], b)
	return AddressFromPublicKey(pk), nil
}

// IsValid reports whether the address carries either form.
func (a Address) IsValid() bool {
	return a.kind != addressEmpty
}

// IsPublicKey reports whether the address is in public-key form.
func (a Address) IsPublicKey() bool {
	return a.kind == addressPublicKey
}

// IsWalletID reports whether the address is in wallet-id form.
func (a Address) IsWalletID() bool {
	return a.kind == addressWalletID
}

// PublicKey returns the key for a public-key form address.
func (a Address) PublicKey() PublicKey {
	return a.publicKey
}

// WalletID returns the id for a wallet-id form address.
func (a Address) WalletID() WalletID {
	return a.walletID
}

// String renders a public-key address in base58, a wallet-id address as
// "id:" followed by its decimal id.
func (a Address) String() string {
	switch a.kind {
	case addressPublicKey:
		return base58.Encode(a.publicKey[:])
	case addressWalletID:
		return "id:" + strconv.FormatUint(uint64(a.walletID), 10)
	}
	return "<empty>"
}

// SamePublicKey compares two addresses already resolved to public-key form.
func (a Address) SamePublicKey(b Address) bool {
	return a.kind == addressPublicKey && b.kind == addressPublicKey && a.publicKey == b.publicKey
}

func (a Address) put(e *Encoder) {
	e.PutUint8(uint8(a.kind))
	switch a.kind {
	case addressPublicKey:
		e.PutFixed(a.publicKey[:])
	case addressWalletID:
		e.PutUint32(uint32(a.walletID))
	}
}

func getAddress(d *Decoder) Address {
	var a Address
	a.kind = addressKind(d.GetUint8())
	switch a.kind {
	case addressEmpty:
	case addressPublicKey:
		copy(a.publicKey[:], d.GetFixed(PublicKeySize))
	case addressWalletID:
		a.walletID = WalletID(d.GetUint32())
	default:
		d.fail()
	}
	return a
}
