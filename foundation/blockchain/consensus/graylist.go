package consensus

import (
	"github.com/consortia/blockchain/foundation/blockchain/pool"
)

// grayList suppresses hash contributions from peers that sent malformed
// stages or failing signatures. A repeat offender's remaining penalty grows
// by twice the base each time; every round the penalties decay by the round
// delta and expired entries drop out.
type grayList struct {
	entries map[pool.PublicKey]uint32
	penalty uint32
}

func newGrayList(basePenalty uint32) *grayList {
	return &grayList{
		entries: make(map[pool.PublicKey]uint32),
		penalty: basePenalty,
	}
}

// add puts a peer on the list, doubling up on repeats.
func (g *grayList) add(sender pool.PublicKey) {
	if _, exists := g.entries[sender]; !exists {
		g.entries[sender] = g.penalty
		return
	}
	g.entries[sender] += g.penalty * 2
}

// contains reports whether the peer's contributions are being dropped.
func (g *grayList) contains(sender pool.PublicKey) bool {
	_, exists := g.entries[sender]
	return exists
}

// update decays every entry by the round delta, removing the expired.
func (g *grayList) update(roundDelta uint32) {
	for sender, remaining := range g.entries {
		if remaining <= roundDelta {
			delete(g.entries, sender)
			continue
		}
		g.entries[sender] = remaining - roundDelta
	}
}

// remaining reports the rounds left for a peer, zero when absent.
func (g *grayList) remaining(sender pool.PublicKey) uint32 {
	return g.entries[sender]
}
