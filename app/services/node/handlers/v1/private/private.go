// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"net/http"

	"github.com/consortia/blockchain/foundation/blockchain/state"
	"github.com/consortia/blockchain/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of private endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
}

// Status returns the node's consensus and chain position.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp := struct {
		Self     string `json:"self"`
		Round    uint64 `json:"round"`
		Level    string `json:"level"`
		LastSeq  uint64 `json:"last_sequence"`
		LastHash string `json:"last_hash"`
		Halted   bool   `json:"halted"`
	}{
		Self:     h.State.Self().Hex(),
		Round:    h.State.CurrentRound(),
		Level:    h.State.Consensus().Level().String(),
		LastSeq:  h.State.Chain().LastSequence(),
		LastHash: h.State.Chain().LastHash().Hex(),
		Halted:   h.State.Halted(),
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}

// StartRound signals the worker to start a round immediately.
func (h Handlers) StartRound(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if h.State.Worker != nil {
		h.State.Worker.SignalStartRound()
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "round signaled",
	}
	return web.Respond(ctx, w, resp, http.StatusOK)
}
