package pool_test

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/consortia/blockchain/foundation/blockchain/pool"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func genKey(t *testing.T) (pool.PublicKey, ed25519.PrivateKey) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a key: %v", failed, err)
	}
	var pk pool.PublicKey
	copy(pk[:], pub)
	return pk, priv
}

func Test_AmountOrdering(t *testing.T) {
	type table struct {
		name string
		a    pool.Amount
		b    pool.Amount
		cmp  int
	}

	tt := []table{
		{name: "equal", a: pool.NewAmount(5, 10), b: pool.NewAmount(5, 10), cmp: 0},
		{name: "integral", a: pool.NewAmount(4, 999), b: pool.NewAmount(5, 0), cmp: -1},
		{name: "fraction", a: pool.NewAmount(5, 11), b: pool.NewAmount(5, 10), cmp: 1},
		{name: "negative", a: pool.NewAmount(-1, 0), b: pool.NewAmount(0, 0), cmp: -1},
	}

	t.Log("Given the need to order amounts lexicographically.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen comparing %s.", testID, tst.name)
			{
				if got := tst.a.Cmp(tst.b); got != tst.cmp {
					t.Errorf("\t%s\tTest %d:\tShould get %d, got %d.", failed, testID, tst.cmp, got)
					continue
				}
				t.Logf("\t%s\tTest %d:\tShould get %d.", success, testID, tst.cmp)
			}
		}
	}
}

func Test_AmountArithmetic(t *testing.T) {
	t.Log("Given the need to add and subtract amounts with carry.")
	{
		a := pool.NewAmount(1, pool.AmountMaxFraction-1)
		b := pool.NewAmount(0, 2)

		sum := a.Add(b)
		if sum.Integral != 2 || sum.Fraction != 1 {
			t.Fatalf("\t%s\tShould carry into the integral part, got %v.", failed, sum)
		}
		t.Logf("\t%s\tShould carry into the integral part.", success)

		diff := sum.Sub(b)
		if diff.Cmp(a) != 0 {
			t.Fatalf("\t%s\tShould subtract back to the original, got %v.", failed, diff)
		}
		t.Logf("\t%s\tShould subtract back to the original.", success)

		neg := pool.NewAmount(0, 0).Sub(pool.NewAmount(0, 1))
		if !neg.IsNegative() {
			t.Fatalf("\t%s\tShould borrow below zero, got %v.", failed, neg)
		}
		t.Logf("\t%s\tShould borrow below zero.", success)
	}
}

func Test_CommissionRoundTrip(t *testing.T) {
	type table struct {
		name  string
		value float64
	}

	tt := []table{
		{name: "zero", value: 0},
		{name: "typical fee", value: 0.0087},
		{name: "whole", value: 1.0},
		{name: "large", value: 250.0},
	}

	t.Log("Given the need to pack fees into the compressed 16 bit form.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen packing %s.", testID, tst.name)
			{
				c := pool.CommissionFromDouble(tst.value)
				got := c.Double()

				diff := got - tst.value
				if diff < 0 {
					diff = -diff
				}
				if tst.value != 0 && diff/tst.value > 0.01 {
					t.Errorf("\t%s\tTest %d:\tShould unpack within 1%%: want %f, got %f.", failed, testID, tst.value, got)
					continue
				}
				t.Logf("\t%s\tTest %d:\tShould unpack within 1%%.", success, testID)
			}
		}
	}
}

func Test_TransactionSignRoundTrip(t *testing.T) {
	t.Log("Given the need to sign, serialize and verify a transaction.")
	{
		srcKey, srcPriv := genKey(t)
		tgtKey, _ := genKey(t)

		trx := pool.NewTransaction(42, pool.AddressFromPublicKey(srcKey), pool.AddressFromPublicKey(tgtKey), pool.NewAmount(10, 0))
		trx.SetMaxFee(pool.CommissionFromDouble(0.1))
		trx.AddUserField(pool.UFTimestamp, pool.IntegerField(1234))
		trx.Sign(srcPriv)

		if err := trx.VerifySignature(srcKey); err != nil {
			t.Fatalf("\t%s\tShould verify the signature: %v.", failed, err)
		}
		t.Logf("\t%s\tShould verify the signature.", success)

		clone, err := pool.TransactionFromBytes(trx.Bytes())
		if err != nil {
			t.Fatalf("\t%s\tShould decode the byte stream: %v.", failed, err)
		}
		t.Logf("\t%s\tShould decode the byte stream.", success)

		if !bytes.Equal(clone.Bytes(), trx.Bytes()) {
			t.Fatalf("\t%s\tShould round trip to identical bytes.", failed)
		}
		t.Logf("\t%s\tShould round trip to identical bytes.", success)

		if err := clone.VerifySignature(srcKey); err != nil {
			t.Fatalf("\t%s\tShould verify the signature after the round trip: %v.", failed, err)
		}
		t.Logf("\t%s\tShould verify the signature after the round trip.", success)

		if clone.UserField(pool.UFTimestamp).Integer() != 1234 {
			t.Fatalf("\t%s\tShould keep the user fields.", failed)
		}
		t.Logf("\t%s\tShould keep the user fields.", success)
	}
}

func Test_TransactionInnerIDMask(t *testing.T) {
	t.Log("Given the need to mask inner ids to 46 bits.")
	{
		srcKey, _ := genKey(t)
		trx := pool.NewTransaction(1<<50|7, pool.AddressFromPublicKey(srcKey), pool.AddressFromPublicKey(srcKey), pool.Amount{})
		if trx.InnerID() != 7 {
			t.Fatalf("\t%s\tShould drop the reserved upper bits, got %d.", failed, trx.InnerID())
		}
		t.Logf("\t%s\tShould drop the reserved upper bits.", success)
	}
}

func Test_PoolRoundTrip(t *testing.T) {
	t.Log("Given the need to serialize, hash and restore a pool.")
	{
		writerKey, writerPriv := genKey(t)
		confKey, confPriv := genKey(t)
		srcKey, srcPriv := genKey(t)

		p := pool.New(pool.ZeroHash, 0)
		p.Compose()
		genesisHash := p.Hash()

		np := pool.New(genesisHash, 1)
		trx := pool.NewTransaction(1, pool.AddressFromPublicKey(srcKey), pool.AddressFromPublicKey(writerKey), pool.NewAmount(3, 500))
		trx.Sign(srcPriv)
		if err := np.AddTransaction(trx); err != nil {
			t.Fatalf("\t%s\tShould add a transaction: %v.", failed, err)
		}
		if err := np.SetConfidants([]pool.PublicKey{writerKey, confKey}); err != nil {
			t.Fatalf("\t%s\tShould set the confidants: %v.", failed, err)
		}
		if err := np.SetWriter(writerKey); err != nil {
			t.Fatalf("\t%s\tShould set the writer: %v.", failed, err)
		}
		if err := np.SetRealTrustedMask(0b11); err != nil {
			t.Fatalf("\t%s\tShould set the trusted mask: %v.", failed, err)
		}

		sigHash := np.SignableHash()
		if err := np.AddSignature(0, pool.Sign(writerPriv, sigHash[:])); err != nil {
			t.Fatalf("\t%s\tShould add the writer signature: %v.", failed, err)
		}
		if err := np.AddSignature(1, pool.Sign(confPriv, sigHash[:])); err != nil {
			t.Fatalf("\t%s\tShould add the confidant signature: %v.", failed, err)
		}
		np.SignWriter(writerPriv)
		np.Compose()

		if !np.IsReadOnly() {
			t.Fatalf("\t%s\tShould latch read only after compose.", failed)
		}
		t.Logf("\t%s\tShould latch read only after compose.", success)

		if err := np.AddTransaction(trx); !errors.Is(err, pool.ErrReadOnly) {
			t.Fatalf("\t%s\tShould reject mutation after compose, got %v.", failed, err)
		}
		t.Logf("\t%s\tShould reject mutation after compose.", success)

		if np.Hash() != pool.HashOf(np.Bytes()) {
			t.Fatalf("\t%s\tShould hash the full serialization.", failed)
		}
		t.Logf("\t%s\tShould hash the full serialization.", success)

		clone, err := pool.FromBinary(np.Bytes())
		if err != nil {
			t.Fatalf("\t%s\tShould decode the serialization: %v.", failed, err)
		}
		t.Logf("\t%s\tShould decode the serialization.", success)

		if clone.Hash() != np.Hash() {
			t.Fatalf("\t%s\tShould restore to the same hash.", failed)
		}
		t.Logf("\t%s\tShould restore to the same hash.", success)

		if err := clone.VerifyHash(); err != nil {
			t.Fatalf("\t%s\tShould verify the recomputed hash: %v.", failed, err)
		}
		t.Logf("\t%s\tShould verify the recomputed hash.", success)

		if err := clone.VerifySignatures(); err != nil {
			t.Fatalf("\t%s\tShould verify the confidant signatures: %v.", failed, err)
		}
		t.Logf("\t%s\tShould verify the confidant signatures.", success)

		if err := clone.VerifyWriterSignature(); err != nil {
			t.Fatalf("\t%s\tShould verify the writer signature: %v.", failed, err)
		}
		t.Logf("\t%s\tShould verify the writer signature.", success)

		if clone.Transaction(0).ID().PoolHash != np.Hash() {
			t.Fatalf("\t%s\tShould seal transaction ids against the pool hash.", failed)
		}
		t.Logf("\t%s\tShould seal transaction ids against the pool hash.", success)
	}
}

func Test_PoolMaskSignatureInvariant(t *testing.T) {
	t.Log("Given the need to match the trusted mask population with the signature count.")
	{
		writerKey, writerPriv := genKey(t)

		p := pool.New(pool.ZeroHash, 1)
		if err := p.SetConfidants([]pool.PublicKey{writerKey}); err != nil {
			t.Fatalf("\t%s\tShould set the confidants: %v.", failed, err)
		}
		if err := p.SetRealTrustedMask(0b11); err != nil {
			t.Fatalf("\t%s\tShould set the trusted mask: %v.", failed, err)
		}
		sigHash := p.SignableHash()
		if err := p.AddSignature(0, pool.Sign(writerPriv, sigHash[:])); err != nil {
			t.Fatalf("\t%s\tShould add a signature: %v.", failed, err)
		}

		if err := p.VerifySignatures(); err == nil {
			t.Fatalf("\t%s\tShould reject a mask population above the signature count.", failed)
		}
		t.Logf("\t%s\tShould reject a mask population above the signature count.", success)
	}
}

func Test_PoolMetaDecode(t *testing.T) {
	t.Log("Given the need to decode a pool header without its transactions.")
	{
		srcKey, srcPriv := genKey(t)

		p := pool.New(pool.ZeroHash, 9)
		for i := 0; i < 3; i++ {
			trx := pool.NewTransaction(uint64(i), pool.AddressFromPublicKey(srcKey), pool.AddressFromPublicKey(srcKey), pool.Amount{})
			trx.Sign(srcPriv)
			p.AddTransaction(trx)
		}
		p.Compose()

		meta, err := pool.MetaFromBinary(p.Bytes())
		if err != nil {
			t.Fatalf("\t%s\tShould decode the meta: %v.", failed, err)
		}
		t.Logf("\t%s\tShould decode the meta.", success)

		if meta.Sequence != 9 || meta.TransactionCount != 3 {
			t.Fatalf("\t%s\tShould carry sequence and transaction count, got %d/%d.", failed, meta.Sequence, meta.TransactionCount)
		}
		t.Logf("\t%s\tShould carry sequence and transaction count.", success)
	}
}

func Test_MalformedBinary(t *testing.T) {
	t.Log("Given the need to reject malformed pool streams.")
	{
		if _, err := pool.FromBinary([]byte{1, 2, 3}); !errors.Is(err, pool.ErrMalformedBinary) {
			t.Fatalf("\t%s\tShould reject a truncated stream, got %v.", failed, err)
		}
		t.Logf("\t%s\tShould reject a truncated stream.", success)

		p := pool.New(pool.ZeroHash, 1)
		p.Compose()
		data := p.Bytes()
		if _, err := pool.FromBinary(data[:len(data)-4]); !errors.Is(err, pool.ErrMalformedBinary) {
			t.Fatalf("\t%s\tShould reject a cut tail, got %v.", failed, err)
		}
		t.Logf("\t%s\tShould reject a cut tail.", success)
	}
}

func Test_CompressRoundTrip(t *testing.T) {
	t.Log("Given the need to carry pools compressed on the wire.")
	{
		srcKey, srcPriv := genKey(t)

		p := pool.New(pool.ZeroHash, 5)
		for i := 0; i < 50; i++ {
			trx := pool.NewTransaction(uint64(i), pool.AddressFromPublicKey(srcKey), pool.AddressFromPublicKey(srcKey), pool.NewAmount(1, 0))
			trx.Sign(srcPriv)
			p.AddTransaction(trx)
		}
		p.Compose()

		cp, err := pool.Compress(p)
		if err != nil {
			t.Fatalf("\t%s\tShould compress the pool: %v.", failed, err)
		}
		t.Logf("\t%s\tShould compress the pool.", success)

		clone, err := pool.Decompress(cp)
		if err != nil {
			t.Fatalf("\t%s\tShould decompress the pool: %v.", failed, err)
		}
		t.Logf("\t%s\tShould decompress the pool.", success)

		if clone.Hash() != p.Hash() {
			t.Fatalf("\t%s\tShould restore the identical pool.", failed)
		}
		t.Logf("\t%s\tShould restore the identical pool.", success)
	}
}
