package consensus_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/consortia/blockchain/foundation/blockchain/chain"
	"github.com/consortia/blockchain/foundation/blockchain/chain/storage/memory"
	"github.com/consortia/blockchain/foundation/blockchain/consensus"
	"github.com/consortia/blockchain/foundation/blockchain/genesis"
	"github.com/consortia/blockchain/foundation/blockchain/pool"
	"github.com/consortia/blockchain/foundation/blockchain/transport"
	transportmemory "github.com/consortia/blockchain/foundation/blockchain/transport/memory"
	"github.com/consortia/blockchain/foundation/blockchain/wallets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// node bundles one confidant's full consensus stack for the cluster tests.
type node struct {
	key       pool.PublicKey
	priv      ed25519.PrivateKey
	chain     *chain.Chain
	consensus *consensus.Consensus
}

func newNode(t *testing.T, bus *transportmemory.Bus, trans transport.Transport, priv ed25519.PrivateKey) *node {
	var key pool.PublicKey
	copy(key[:], priv.Public().(ed25519.PublicKey))

	storage, err := memory.New()
	require.NoError(t, err)

	ch, err := chain.New(storage, pool.New(pool.ZeroHash, 0), nil)
	require.NoError(t, err)

	wlts, err := wallets.New(genesis.Genesis{})
	require.NoError(t, err)

	if trans == nil {
		trans = bus.Join(key)
	}

	cs := consensus.New(consensus.Config{
		Self:            key,
		PrivateKey:      priv,
		Chain:           ch,
		Wallets:         wlts,
		Transport:       trans,
		GrayListPenalty: 2,
		StageTimeout:    500 * time.Millisecond,
		RoundTimeout:    15 * time.Second,
	})

	return &node{key: key, priv: priv, chain: ch, consensus: cs}
}

func genPriv(t *testing.T) ed25519.PrivateKey {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv
}

func runCluster(t *testing.T, nodes []*node, table consensus.RoundTable) []*pool.Pool {
	results := make([]*pool.Pool, len(nodes))

	var wg sync.WaitGroup
	for i, n := range nodes {
		wg.Add(1)
		go func(i int, n *node) {
			defer wg.Done()
			p, err := n.consensus.RunRound(table, nil)
			if err == nil {
				results[i] = p
			}
		}(i, n)
	}
	wg.Wait()

	return results
}

func Test_HappyRound(t *testing.T) {
	bus := transportmemory.NewBus()

	nodes := make([]*node, 4)
	confidants := make([]pool.PublicKey, 4)
	for i := range nodes {
		nodes[i] = newNode(t, bus, nil, genPriv(t))
		confidants[i] = nodes[i].key
	}

	table := consensus.RoundTable{Round: 1, Confidants: confidants}
	results := runCluster(t, nodes, table)

	for i, n := range nodes {
		require.NotNil(t, results[i], "node %d should finish the round with a block", i)
		assert.Equal(t, uint64(1), n.chain.LastSequence(), "node %d should extend its chain", i)
	}

	head := nodes[0].chain.LastHash()
	for i, n := range nodes {
		assert.Equal(t, head, n.chain.LastHash(), "node %d should agree on the head", i)
	}

	committed, err := nodes[0].chain.LoadBySequence(1)
	require.NoError(t, err)
	assert.Len(t, committed.Signatures(), 4, "every confidant should have signed")
	assert.NoError(t, committed.VerifySignatures())
	assert.NoError(t, committed.VerifyWriterSignature())
}

// corrupting wraps a transport endpoint, damaging the trailing signature of
// every outgoing stage-3 broadcast and suppressing block replies.
type corrupting struct {
	inner transport.Transport
}

func (c corrupting) Broadcast(msgType transport.MsgType, round uint64, payload []byte) {
	switch msgType {
	case transport.MsgStage3:
		bad := append([]byte(nil), payload...)
		bad[len(bad)-1] ^= 0xFF
		c.inner.Broadcast(msgType, round, bad)
	case transport.MsgBlockReply:
	default:
		c.inner.Broadcast(msgType, round, payload)
	}
}

func (c corrupting) Unicast(target pool.PublicKey, msgType transport.MsgType, round uint64, payload []byte) {
	if msgType == transport.MsgStage3 {
		bad := append([]byte(nil), payload...)
		bad[len(bad)-1] ^= 0xFF
		c.inner.Unicast(target, msgType, round, bad)
		return
	}
	c.inner.Unicast(target, msgType, round, payload)
}

func (c corrupting) Subscribe(self pool.PublicKey, h transport.Handler) {
	c.inner.Subscribe(self, h)
}

func Test_Stage3RetryOnCorruptSignature(t *testing.T) {
	bus := transportmemory.NewBus()

	privs := make([]ed25519.PrivateKey, 4)
	keys := make([]pool.PublicKey, 4)
	for i := range privs {
		privs[i] = genPriv(t)
		copy(keys[i][:], privs[i].Public().(ed25519.PublicKey))
	}

	nodes := make([]*node, 4)
	for i := range nodes {
		var trans transport.Transport = bus.Join(keys[i])
		if i == 2 {
			trans = corrupting{inner: trans}
		}
		nodes[i] = newNode(t, bus, trans, privs[i])
	}

	confidants := []pool.PublicKey{nodes[0].key, nodes[1].key, nodes[2].key, nodes[3].key}
	table := consensus.RoundTable{Round: 1, Confidants: confidants}
	results := runCluster(t, nodes, table)

	var committed *pool.Pool
	for _, i := range []int{0, 1, 3} {
		require.NotNil(t, results[i], "honest node %d should finish the round", i)
		committed = results[i]
	}

	require.Len(t, committed.Signatures(), 3, "exactly the three honest confidants should have signed")

	signed := map[uint8]bool{}
	for _, sig := range committed.Signatures() {
		signed[sig.Index] = true
	}
	assert.True(t, signed[0] && signed[1] && signed[3], "signatures should sit at indices 0, 1 and 3")
	assert.False(t, signed[2], "the offender should not have signed")

	mask := committed.RealTrustedMask()
	assert.Zero(t, mask&(1<<2), "the offender's trusted bit should be cleared")
	assert.NoError(t, committed.VerifySignatures())

	assert.True(t, nodes[0].consensus.GrayListed(nodes[2].key), "the offender should be gray-listed")
}

func Test_NormalNodeObserves(t *testing.T) {
	bus := transportmemory.NewBus()

	nodes := make([]*node, 3)
	confidants := make([]pool.PublicKey, 3)
	for i := range nodes {
		nodes[i] = newNode(t, bus, nil, genPriv(t))
		confidants[i] = nodes[i].key
	}

	// A fourth node outside the trusted set only observes.
	outsider := newNode(t, bus, nil, genPriv(t))

	table := consensus.RoundTable{Round: 1, Confidants: confidants}

	all := append(append([]*node{}, nodes...), outsider)
	results := runCluster(t, all, table)

	require.NotNil(t, results[3], "the outsider should receive the committed block")
	assert.Equal(t, consensus.LevelNormal, outsider.consensus.Level())
	assert.Equal(t, nodes[0].chain.LastHash(), outsider.chain.LastHash())
}

func Test_StageCodecRoundTrips(t *testing.T) {
	priv := genPriv(t)
	var key pool.PublicKey
	copy(key[:], priv.Public().(ed25519.PublicKey))

	s1 := consensus.StageOne{
		Sender:            3,
		RoundTimeStamp:    "1700000000000",
		TrustedCandidates: []pool.PublicKey{key},
		HashesCandidates:  []pool.Hash{pool.HashOf([]byte("packet"))},
	}
	s1.Seal(priv)
	require.NoError(t, s1.Verify(key))

	decoded1, err := consensus.StageOneFromBytes(s1.Bytes())
	require.NoError(t, err)
	assert.Equal(t, s1.Hash, decoded1.Hash)
	require.NoError(t, decoded1.Verify(key))

	s2 := consensus.StageTwo{
		Sender:     1,
		Hashes:     []pool.Hash{s1.MessageHash},
		Signatures: []pool.Signature{s1.Signature},
	}
	s2.Seal(priv)
	decoded2, err := consensus.StageTwoFromBytes(s2.Bytes())
	require.NoError(t, err)
	require.NoError(t, decoded2.Verify(key))

	s3 := consensus.StageThree{
		Sender:          0,
		Writer:          2,
		Iteration:       1,
		RealTrustedMask: []uint8{0, consensus.InvalidConfidantIndex, 1, 2},
		BlockHash:       pool.HashOf([]byte("block")),
		RoundHash:       pool.HashOf([]byte("round")),
		TrustedHash:     pool.HashOf([]byte("trusted")),
	}
	s3.Seal(priv)
	decoded3, err := consensus.StageThreeFromBytes(s3.Bytes())
	require.NoError(t, err)
	require.NoError(t, decoded3.Verify(key))
	assert.True(t, decoded3.Agrees(&s3))

	assert.Equal(t, uint64(0b1101), consensus.MaskBits(s3.RealTrustedMask))
	assert.Equal(t, 3, consensus.MaskPopulation(s3.RealTrustedMask))

	// A damaged signature must fail verification.
	decoded3.BlockSignature[0] ^= 0xFF
	assert.Error(t, decoded3.Verify(key))
}
