package worker_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/consortia/blockchain/foundation/blockchain/chain/storage/memory"
	"github.com/consortia/blockchain/foundation/blockchain/genesis"
	"github.com/consortia/blockchain/foundation/blockchain/pool"
	"github.com/consortia/blockchain/foundation/blockchain/state"
	transportmemory "github.com/consortia/blockchain/foundation/blockchain/transport/memory"
	"github.com/consortia/blockchain/foundation/blockchain/worker"
	"github.com/fortytw2/leaktest"
	"github.com/mr-tron/base58"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func Test_WorkerLifecycle(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	t.Log("Given the worker driving rounds for a single-confidant node.")
	{
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to generate a key: %v", failed, err)
		}
		var self pool.PublicKey
		copy(self[:], pub)

		storage, err := memory.New()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to open storage: %v", failed, err)
		}

		bus := transportmemory.NewBus()

		st, err := state.New(state.Config{
			Self:       self,
			PrivateKey: priv,
			Genesis: genesis.Genesis{
				Confidants:      []string{base58.Encode(self[:])},
				RoundsToCancel:  5,
				GrayListPenalty: 2,
			},
			Storage:      storage,
			Trans:        bus.Join(self),
			StageTimeout: 250 * time.Millisecond,
			RoundTimeout: 5 * time.Second,
		})
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the state: %v", failed, err)
		}

		worker.Run(st, func(v string, args ...any) {})
		if st.Worker == nil {
			t.Fatalf("\t%s\tShould register itself with the state.", failed)
		}
		t.Logf("\t%s\tShould register itself with the state.", success)

		st.Worker.SignalStartRound()

		deadline := time.After(5 * time.Second)
		for st.Chain().LastSequence() == 0 {
			select {
			case <-deadline:
				t.Fatalf("\t%s\tShould commit a round from the driver loop.", failed)
			case <-time.After(10 * time.Millisecond):
			}
		}
		t.Logf("\t%s\tShould commit a round from the driver loop.", success)

		if err := st.Shutdown(); err != nil {
			t.Fatalf("\t%s\tShould shut down cleanly: %v.", failed, err)
		}
		t.Logf("\t%s\tShould shut down cleanly.", success)
	}
}
