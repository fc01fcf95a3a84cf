package conveyer_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/consortia/blockchain/foundation/blockchain/conveyer"
	"github.com/consortia/blockchain/foundation/blockchain/pool"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func transfer(t *testing.T, innerID uint64) *pool.Transaction {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a key: %v", failed, err)
	}
	var pk pool.PublicKey
	copy(pk[:], pub)

	trx := pool.NewTransaction(innerID, pool.AddressFromPublicKey(pk), pool.AddressFromPublicKey(pk), pool.NewAmount(1, 0))
	trx.Sign(priv)
	return trx
}

func Test_FIFOAndPending(t *testing.T) {
	t.Log("Given transactions queued for the next round.")
	{
		c := conveyer.New()

		first := transfer(t, 1)
		second := transfer(t, 2)
		c.Push(first)
		c.Push(second)

		if !c.Pending(first.Source(), 1) {
			t.Fatalf("\t%s\tShould report a queued pair as pending.", failed)
		}
		t.Logf("\t%s\tShould report a queued pair as pending.", success)

		if c.Pending(first.Source(), 9) {
			t.Fatalf("\t%s\tShould not report an unknown inner id.", failed)
		}
		t.Logf("\t%s\tShould not report an unknown inner id.", success)

		batch := c.Drain()
		if len(batch) != 2 || batch[0] != first || batch[1] != second {
			t.Fatalf("\t%s\tShould drain in FIFO order.", failed)
		}
		t.Logf("\t%s\tShould drain in FIFO order.", success)

		if c.Len() != 0 || c.Pending(first.Source(), 1) {
			t.Fatalf("\t%s\tShould be empty after the drain.", failed)
		}
		t.Logf("\t%s\tShould be empty after the drain.", success)

		h1 := conveyer.PacketHash([]*pool.Transaction{first, second})
		h2 := conveyer.PacketHash([]*pool.Transaction{first, second})
		if h1 != h2 {
			t.Fatalf("\t%s\tShould hash a batch deterministically.", failed)
		}
		t.Logf("\t%s\tShould hash a batch deterministically.", success)
	}
}
