// Package worker implements mining, peer reconciliation, and sharing of
// transactions and blocks between nodes.
package worker

import (
	"sync"
	"time"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/database"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/state"
)

// Worker manages the goroutines the node needs for background processing.
type Worker struct {
	state        *state.State
	wg           sync.WaitGroup
	ticker       *time.Ticker
	shut         chan struct{}
	startMining  chan bool
	cancelMining chan chan struct{}
	txSharing    chan database.Tx
	blockSharing chan database.Block
	syncNow      chan bool
	evHandler    state.EventHandler
}

// Run creates a worker, registers it with the state, performs an initial
// reconciliation with the known peers, and starts the background
// operations.
func Run(st *state.State, evHandler state.EventHandler) {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	w := Worker{
		state:        st,
		ticker:       time.NewTicker(st.SyncInterval()),
		shut:         make(chan struct{}),
		startMining:  make(chan bool, 1),
		cancelMining: make(chan chan struct{}, 1),
		txSharing:    make(chan database.Tx, maxTxShareRequests),
		blockSharing: make(chan database.Block, maxBlockShareRequests),
		syncNow:      make(chan bool, 1),
		evHandler:    ev,
	}

	// The state needs the worker for mining and sharing signals.
	st.Worker = &w

	// Catch up with the network before the background loops begin.
	w.Sync()

	operations := []func(){
		w.syncOperations,
		w.miningOperations,
		w.shareTxOperations,
		w.shareBlockOperations,
	}

	g := len(operations)
	w.wg.Add(g)

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

// Shutdown brings the worker down in an orderly fashion.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.ticker.Stop()

	done := w.SignalCancelMining()
	done()

	close(w.shut)
	w.wg.Wait()
}

// =============================================================================

// SignalStartMining starts a mining operation if one is not already in
// progress.
func (w *Worker) SignalStartMining() {
	select {
	case w.startMining <- true:
	default:
	}
}

// SignalCancelMining cancels any in-flight mining operation. The returned
// done function must be called once the caller has finished updating the
// database; mining does not restart before then.
func (w *Worker) SignalCancelMining() (done func()) {
	wait := make(chan struct{})

	select {
	case w.cancelMining <- wait:
	default:
	}

	return func() { close(wait) }
}

// SignalSync schedules a reconciliation with the known peers outside the
// regular ticker.
func (w *Worker) SignalSync() {
	select {
	case w.syncNow <- true:
	default:
	}
}

// SignalShareTx queues a transaction for propagation to the known peers.
func (w *Worker) SignalShareTx(tx database.Tx) {
	select {
	case w.txSharing <- tx:
		w.evHandler("worker: SignalShareTx: tx[%s] queued", tx.TxID)
	default:
		w.evHandler("worker: SignalShareTx: queue full, dropping tx[%s]", tx.TxID)
	}
}

// SignalShareBlock queues a block for propagation to the known peers.
func (w *Worker) SignalShareBlock(block database.Block) {
	select {
	case w.blockSharing <- block:
		w.evHandler("worker: SignalShareBlock: block %d queued", block.Index)
	default:
		w.evHandler("worker: SignalShareBlock: queue full, dropping block %d", block.Index)
	}
}

// isShutdown reports whether the shutdown signal has been issued.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}
