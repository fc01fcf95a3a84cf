// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"os"
	"time"
)

// Genesis represents the genesis file: the starting balances, the initial
// trusted set, and the consensus constants every node in the network must
// agree on.
type Genesis struct {
	Date            time.Time         `json:"date"`
	NetworkID       uint16            `json:"network_id"`       // Unique id for this running network.
	Balances        map[string]uint64 `json:"balances"`         // Whole tokens per base58 wallet key.
	Confidants      []string          `json:"confidants"`       // Base58 keys of the initial trusted set.
	MinStake        uint64            `json:"min_stake"`        // Whole tokens required for trusted candidacy.
	RoundsToCancel  uint64            `json:"rounds_to_cancel"` // Rounds before a pending contract times out.
	GrayListPenalty uint32            `json:"graylist_penalty"` // Base penalty in rounds for a misbehaving peer.
}

// =============================================================================

// Load opens and consumes the genesis file.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	err = json.Unmarshal(content, &genesis)
	if err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}
