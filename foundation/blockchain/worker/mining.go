package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/database"
)

// miningOperations handles mining whenever the signal arrives.
func (w *Worker) miningOperations() {
	w.evHandler("worker: miningOperations: G started")
	defer w.evHandler("worker: miningOperations: G completed")

	for {
		select {
		case <-w.startMining:
			if !w.isShutdown() {
				w.runMiningOperation()
			}
		case <-w.shut:
			return
		}
	}
}

// runMiningOperation mines blocks until the mempool drains, a cancel signal
// arrives, or the operation fails.
func (w *Worker) runMiningOperation() {
	w.evHandler("worker: runMiningOperation: MINING: started")
	defer w.evHandler("worker: runMiningOperation: MINING: completed")

	// Mining is pointless without pending transactions; the coinbase
	// alone does not justify the work here.
	if w.state.MempoolCount() == 0 {
		return
	}

	// Drain stale signals so this run owns the channels.
	select {
	case <-w.startMining:
	default:
	}
	select {
	case <-w.cancelMining:
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	// This goroutine exists to cancel the mining operation when another
	// node lands a block first. It holds mining closed until the caller
	// of the cancel signal finishes its database update.
	go func() {
		defer func() {
			cancel()
			wg.Done()
		}()

		select {
		case wait := <-w.cancelMining:
			cancel()
			<-wait
			w.evHandler("worker: runMiningOperation: MINING: CANCEL: requested")
		case <-ctx.Done():
		}
	}()

	// This goroutine performs the actual mining.
	go func() {
		defer func() {
			cancel()
			wg.Done()
		}()

		for w.state.MempoolCount() > 0 {
			block, err := w.state.MineNewBlock(ctx)
			if err != nil {
				switch {
				case errors.Is(err, context.Canceled):
					w.evHandler("worker: runMiningOperation: MINING: CANCEL: search aborted")
				case errors.Is(err, database.ErrChainLinkMismatch):
					w.evHandler("worker: runMiningOperation: MINING: solved block lost the race")
				default:
					w.evHandler("worker: runMiningOperation: MINING: ERROR: %s", err)
				}
				return
			}

			w.evHandler("worker: runMiningOperation: MINING: mined block %d [%s]", block.Index, block.Hash)
		}
	}()

	wg.Wait()
}
