// Package worker implements the node's long-lived loops: the consensus
// round driver and the smart-contract tracker scan.
package worker

import (
	"sync"
	"time"

	"github.com/consortia/blockchain/foundation/blockchain/state"
)

// roundInterval is how long the driver idles between rounds when nothing
// signals an immediate start.
const roundInterval = time.Second

// Worker manages the background workflows for the node.
type Worker struct {
	state      *state.State
	wg         sync.WaitGroup
	shut       chan struct{}
	startRound chan bool
	evHandler  state.EventHandler
}

// Run creates a worker, registers the worker with the state package, and
// starts up all the background processes.
func Run(st *state.State, evHandler state.EventHandler) {
	w := Worker{
		state:      st,
		shut:       make(chan struct{}),
		startRound: make(chan bool, 1),
		evHandler:  evHandler,
	}

	// Register this worker with the state package.
	st.Worker = &w

	// Load the set of operations we need to run.
	operations := []func(){
		w.roundOperations,
		w.trackerOperations,
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	for i := 0; i < g; i++ {
		<-hasStarted
	}
}

// =============================================================================
// These methods implement the state.Worker interface.

// Shutdown terminates the goroutines performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	close(w.shut)
	w.wg.Wait()
}

// SignalStartRound requests an immediate round instead of waiting out the
// idle interval. A pending signal is enough; extra ones are dropped.
func (w *Worker) SignalStartRound() {
	select {
	case w.startRound <- true:
	default:
	}
	w.evHandler("worker: SignalStartRound: round signaled")
}

// =============================================================================

// roundOperations drives consensus rounds until shutdown.
func (w *Worker) roundOperations() {
	w.evHandler("worker: roundOperations: G started")
	defer w.evHandler("worker: roundOperations: G completed")

	ticker := time.NewTicker(roundInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.shut:
			return
		case <-w.startRound:
		case <-ticker.C:
		}

		if w.isShutdown() {
			return
		}

		p, err := w.state.RunRound()
		switch {
		case err != nil:
			w.evHandler("worker: roundOperations: round ended without a block: %s", err)
		default:
			w.evHandler("worker: roundOperations: round committed blk[%d]", p.Sequence())
		}
	}
}

// trackerOperations runs the smart-contract tracker scan loop.
func (w *Worker) trackerOperations() {
	w.evHandler("worker: trackerOperations: G started")
	defer w.evHandler("worker: trackerOperations: G completed")

	w.state.Tracker().Run(w.shut)
}

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}
