package consensus

import (
	"github.com/consortia/blockchain/foundation/blockchain/pool"
	"github.com/pkg/errors"
)

// Level is the node's role in the current round, derived from the round
// table. Only Confidant, Main and Writer drive the state machine.
type Level int

// Node levels.
const (
	LevelNormal Level = iota
	LevelConfidant
	LevelMain
	LevelWriter
)

// String renders the level for logs.
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelConfidant:
		return "confidant"
	case LevelMain:
		return "main"
	case LevelWriter:
		return "writer"
	}
	return "unknown"
}

// RoundTable fixes a round's trusted set and the transaction packets the
// round is expected to batch. The confidant order defines each node's index
// for the round.
type RoundTable struct {
	Round      uint64
	Confidants []pool.PublicKey
	Hashes     []pool.Hash
}

// ConfidantIndex returns the key's position in the table.
func (rt *RoundTable) ConfidantIndex(key pool.PublicKey) (uint8, bool) {
	for i, c := range rt.Confidants {
		if c == key {
			return uint8(i), true
		}
	}
	return 0, false
}

// Hash digests the table. Stage-3 round hashes are computed over this.
func (rt *RoundTable) Hash() pool.Hash {
	return pool.HashOf(rt.Bytes())
}

// Bytes serializes the table for transport.
func (rt *RoundTable) Bytes() []byte {
	e := pool.NewEncoder()
	e.PutUint64(rt.Round)
	e.PutSize(len(rt.Confidants))
	for _, c := range rt.Confidants {
		e.PutFixed(c[:])
	}
	e.PutSize(len(rt.Hashes))
	for _, h := range rt.Hashes {
		e.PutFixed(h[:])
	}
	return e.Bytes()
}

// RoundTableFromBytes decodes a transported round table.
func RoundTableFromBytes(data []byte) (RoundTable, error) {
	d := pool.NewDecoder(data)

	var rt RoundTable
	rt.Round = d.GetUint64()

	cnt := d.GetSize()
	if d.Err() != nil || cnt > pool.MaxConfidants {
		return RoundTable{}, errors.Wrap(pool.ErrMalformedBinary, "round table confidants")
	}
	rt.Confidants = make([]pool.PublicKey, cnt)
	for i := range rt.Confidants {
		copy(rt.Confidants[i][:], d.GetFixed(pool.PublicKeySize))
	}

	cnt = d.GetSize()
	if d.Err() != nil {
		return RoundTable{}, errors.Wrap(pool.ErrMalformedBinary, "round table hashes")
	}
	rt.Hashes = make([]pool.Hash, cnt)
	for i := range rt.Hashes {
		copy(rt.Hashes[i][:], d.GetFixed(pool.HashSize))
	}

	if d.Err() != nil {
		return RoundTable{}, errors.Wrap(pool.ErrMalformedBinary, "round table decode")
	}
	return rt, nil
}
