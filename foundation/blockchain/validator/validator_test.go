package validator_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/consortia/blockchain/foundation/blockchain/chain"
	"github.com/consortia/blockchain/foundation/blockchain/chain/storage/memory"
	"github.com/consortia/blockchain/foundation/blockchain/genesis"
	"github.com/consortia/blockchain/foundation/blockchain/pool"
	"github.com/consortia/blockchain/foundation/blockchain/validator"
	"github.com/consortia/blockchain/foundation/blockchain/wallets"
	"github.com/mr-tron/base58"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
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

type fixture struct {
	chain   *chain.Chain
	wallets *wallets.Wallets
	ctx     *validator.Context
}

func newFixture(t *testing.T, funded pool.PublicKey) *fixture {
	storage, err := memory.New()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to open storage: %v", failed, err)
	}

	c, err := chain.New(storage, pool.New(pool.ZeroHash, 0), nil)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the chain: %v", failed, err)
	}

	wlts, err := wallets.New(genesis.Genesis{Balances: map[string]uint64{base58.Encode(funded[:]): 1000}})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the wallet cache: %v", failed, err)
	}

	return &fixture{
		chain:   c,
		wallets: wlts,
		ctx:     &validator.Context{Chain: c, Wallets: wlts},
	}
}

// sealedBlock builds a correctly signed block extending the fixture head.
func sealedBlock(t *testing.T, f *fixture, confKey pool.PublicKey, confPriv ed25519.PrivateKey, trxs ...*pool.Transaction) *pool.Pool {
	p := pool.New(f.chain.LastHash(), f.chain.LastSequence()+1)
	for _, trx := range trxs {
		p.AddTransaction(trx)
	}
	p.SetConfidants([]pool.PublicKey{confKey})
	p.SetWriter(confKey)
	p.SetRealTrustedMask(0b1)
	p.AddUserField(pool.UFTimestamp, pool.IntegerField(1000))

	sigHash := p.SignableHash()
	p.AddSignature(0, pool.Sign(confPriv, sigHash[:]))
	p.SignWriter(confPriv)
	p.Compose()
	return p
}

func Test_ValidBlockPasses(t *testing.T) {
	t.Log("Given a correctly linked, signed block with valid transactions.")
	{
		funded, fundedPriv := genKey(t)
		conf, confPriv := genKey(t)
		f := newFixture(t, funded)

		target, _ := genKey(t)
		trx := pool.NewTransaction(1, pool.AddressFromPublicKey(funded), pool.AddressFromPublicKey(target), pool.NewAmount(5, 0))
		trx.SetMaxFee(pool.CommissionFromDouble(0.05))
		trx.Sign(fundedPriv)

		block := sealedBlock(t, f, conf, confPriv, trx)

		v := validator.New()
		verdict := v.Validate(f.ctx, block)
		if verdict != validator.NoError {
			t.Fatalf("\t%s\tShould accept the block, got %v.", failed, verdict)
		}
		t.Logf("\t%s\tShould accept the block.", success)

		// The plugins are pure: a second run yields the identical verdict.
		if again := v.Validate(f.ctx, block); again != verdict {
			t.Fatalf("\t%s\tShould yield the identical verdict on a re-run, got %v.", failed, again)
		}
		t.Logf("\t%s\tShould yield the identical verdict on a re-run.", success)
	}
}

func Test_BlockNumberRejected(t *testing.T) {
	t.Log("Given a block that skips a sequence number.")
	{
		funded, _ := genKey(t)
		conf, confPriv := genKey(t)
		f := newFixture(t, funded)

		p := pool.New(f.chain.LastHash(), f.chain.LastSequence()+2)
		p.SetConfidants([]pool.PublicKey{conf})
		p.SetWriter(conf)
		p.SetRealTrustedMask(0b1)
		p.AddUserField(pool.UFTimestamp, pool.IntegerField(1000))
		sigHash := p.SignableHash()
		p.AddSignature(0, pool.Sign(confPriv, sigHash[:]))
		p.Compose()

		if verdict := validator.New().Validate(f.ctx, p); verdict != validator.Error {
			t.Fatalf("\t%s\tShould reject the skipped sequence, got %v.", failed, verdict)
		}
		t.Logf("\t%s\tShould reject the skipped sequence.", success)
	}
}

func Test_PreviousHashFatal(t *testing.T) {
	t.Log("Given a block whose previous hash does not match the chain.")
	{
		funded, _ := genKey(t)
		conf, confPriv := genKey(t)
		f := newFixture(t, funded)

		p := pool.New(pool.HashOf([]byte("other branch")), 1)
		p.SetConfidants([]pool.PublicKey{conf})
		p.SetWriter(conf)
		p.SetRealTrustedMask(0b1)
		p.AddUserField(pool.UFTimestamp, pool.IntegerField(1000))
		sigHash := p.SignableHash()
		p.AddSignature(0, pool.Sign(confPriv, sigHash[:]))
		p.Compose()

		if verdict := validator.New().Validate(f.ctx, p); verdict != validator.FatalError {
			t.Fatalf("\t%s\tShould halt on a previous-hash mismatch, got %v.", failed, verdict)
		}
		t.Logf("\t%s\tShould halt on a previous-hash mismatch.", success)
	}
}

func Test_TimestampMonotone(t *testing.T) {
	t.Log("Given blocks whose timestamps move backwards.")
	{
		funded, _ := genKey(t)
		conf, confPriv := genKey(t)
		f := newFixture(t, funded)

		first := sealedBlock(t, f, conf, confPriv)
		if err := f.chain.Append(first); err != nil {
			t.Fatalf("\t%s\tShould append the first block: %v.", failed, err)
		}

		p := pool.New(f.chain.LastHash(), 2)
		p.SetConfidants([]pool.PublicKey{conf})
		p.SetWriter(conf)
		p.SetRealTrustedMask(0b1)
		p.AddUserField(pool.UFTimestamp, pool.IntegerField(500))
		sigHash := p.SignableHash()
		p.AddSignature(0, pool.Sign(confPriv, sigHash[:]))
		p.Compose()

		if verdict := validator.New().Validate(f.ctx, p); verdict != validator.Error {
			t.Fatalf("\t%s\tShould reject a decreasing timestamp, got %v.", failed, verdict)
		}
		t.Logf("\t%s\tShould reject a decreasing timestamp.", success)
	}
}

func Test_MissingTimestampWarns(t *testing.T) {
	t.Log("Given a block without a timestamp user field.")
	{
		funded, _ := genKey(t)
		conf, confPriv := genKey(t)
		f := newFixture(t, funded)

		p := pool.New(f.chain.LastHash(), 1)
		p.SetConfidants([]pool.PublicKey{conf})
		p.SetWriter(conf)
		p.SetRealTrustedMask(0b1)
		sigHash := p.SignableHash()
		p.AddSignature(0, pool.Sign(confPriv, sigHash[:]))
		p.Compose()

		if verdict := validator.New().Validate(f.ctx, p); verdict != validator.Warning {
			t.Fatalf("\t%s\tShould warn and proceed, got %v.", failed, verdict)
		}
		t.Logf("\t%s\tShould warn and proceed.", success)
	}
}

func Test_SignatureMaskMismatch(t *testing.T) {
	t.Log("Given a block whose mask population exceeds its signatures.")
	{
		funded, _ := genKey(t)
		conf, confPriv := genKey(t)
		f := newFixture(t, funded)

		p := pool.New(f.chain.LastHash(), 1)
		p.SetConfidants([]pool.PublicKey{conf})
		p.SetWriter(conf)
		p.SetRealTrustedMask(0b11)
		p.AddUserField(pool.UFTimestamp, pool.IntegerField(1000))
		sigHash := p.SignableHash()
		p.AddSignature(0, pool.Sign(confPriv, sigHash[:]))
		p.Compose()

		if verdict := validator.New().Validate(f.ctx, p); verdict != validator.Error {
			t.Fatalf("\t%s\tShould reject the mask mismatch, got %v.", failed, verdict)
		}
		t.Logf("\t%s\tShould reject the mask mismatch.", success)
	}
}

func Test_BadTransactionSignature(t *testing.T) {
	t.Log("Given a block carrying a transfer with a broken signature.")
	{
		funded, _ := genKey(t)
		conf, confPriv := genKey(t)
		f := newFixture(t, funded)

		target, _ := genKey(t)
		trx := pool.NewTransaction(1, pool.AddressFromPublicKey(funded), pool.AddressFromPublicKey(target), pool.NewAmount(5, 0))
		trx.SetMaxFee(pool.CommissionFromDouble(0.05))
		// The signature is left zeroed.

		block := sealedBlock(t, f, conf, confPriv, trx)

		if verdict := validator.New().Validate(f.ctx, block); verdict != validator.Error {
			t.Fatalf("\t%s\tShould reject the broken transfer signature, got %v.", failed, verdict)
		}
		t.Logf("\t%s\tShould reject the broken transfer signature.", success)
	}
}
