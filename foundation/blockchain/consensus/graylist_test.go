package consensus

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/consortia/blockchain/foundation/blockchain/chain"
	"github.com/consortia/blockchain/foundation/blockchain/chain/storage/memory"
	"github.com/consortia/blockchain/foundation/blockchain/genesis"
	"github.com/consortia/blockchain/foundation/blockchain/pool"
	"github.com/consortia/blockchain/foundation/blockchain/transport"
	transportmemory "github.com/consortia/blockchain/foundation/blockchain/transport/memory"
	"github.com/consortia/blockchain/foundation/blockchain/wallets"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_GrayListPenaltyLifecycle(t *testing.T) {
	var offender pool.PublicKey
	offender[0] = 7

	const penalty = 2
	g := newGrayList(penalty)

	// First offense carries the base penalty.
	g.add(offender)
	assert.True(t, g.contains(offender))
	assert.Equal(t, uint32(penalty), g.remaining(offender))

	// A repeat offense grows the remaining penalty by twice the base.
	g.add(offender)
	assert.Equal(t, uint32(penalty+2*penalty), g.remaining(offender))

	// Rounds decay the penalty by the round delta.
	g.update(penalty)
	assert.Equal(t, uint32(2*penalty), g.remaining(offender))

	// The entry clears once the penalty runs out, and contributions are
	// accepted again.
	g.update(2 * penalty)
	assert.False(t, g.contains(offender))
	assert.Zero(t, g.remaining(offender))
}

func Test_GrayListDecayRemovesOnExactDelta(t *testing.T) {
	var offender pool.PublicKey
	offender[0] = 9

	g := newGrayList(3)
	g.add(offender)

	g.update(3)
	assert.False(t, g.contains(offender), "an entry reaching zero must drop out")
}

func Test_HashContributionGates(t *testing.T) {
	selfPub, selfPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	var self pool.PublicKey
	copy(self[:], selfPub)

	var staked, poor, listed pool.PublicKey
	staked[0], poor[0], listed[0] = 1, 2, 3

	storage, err := memory.New()
	require.NoError(t, err)
	ch, err := chain.New(storage, pool.New(pool.ZeroHash, 0), nil)
	require.NoError(t, err)

	wlts, err := wallets.New(genesis.Genesis{Balances: map[string]uint64{
		base58.Encode(staked[:]): 500,
		base58.Encode(poor[:]):   1,
		base58.Encode(listed[:]): 500,
	}})
	require.NoError(t, err)

	bus := transportmemory.NewBus()
	c := New(Config{
		Self:            self,
		PrivateKey:      selfPriv,
		Chain:           ch,
		Wallets:         wlts,
		Transport:       bus.Join(self),
		MinStake:        pool.NewAmount(100, 0),
		GrayListPenalty: 2,
	})
	c.gray.add(listed)

	head := ch.LastHash()
	send := func(sender pool.PublicKey, round uint64) {
		c.gotHash(transport.Message{Type: transport.MsgHash, Round: round, Sender: sender, Payload: head[:]})
	}

	// A staked, clean sender's hash is accepted for the next round table.
	send(staked, 1)
	require.Len(t, c.TrustedCandidates(), 1)

	// An under-staked sender is rejected by the admission floor.
	send(poor, 1)
	assert.Len(t, c.TrustedCandidates(), 1)

	// A gray-listed sender's hashes are ignored outright.
	send(listed, 1)
	assert.Len(t, c.TrustedCandidates(), 1)

	// Hashes running ahead of the local chain are buffered, not applied.
	send(staked, 5)
	assert.Len(t, c.hashCache, 1)

	// Draining while the chain is still behind re-buffers the entry.
	c.DrainHashCache()
	assert.Len(t, c.hashCache, 1)
}

func Test_RenumberMask(t *testing.T) {
	mask := []uint8{0, InvalidConfidantIndex, 1, 2}
	out := renumber(mask)

	assert.Equal(t, []uint8{0, InvalidConfidantIndex, 1, 2}, out)

	mask[3] = InvalidConfidantIndex
	out = renumber(mask)
	assert.Equal(t, []uint8{0, InvalidConfidantIndex, 1, InvalidConfidantIndex}, out)
	assert.Equal(t, 2, MaskPopulation(out))
}
