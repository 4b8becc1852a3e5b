package worker

import (
	"context"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/database"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/p2p"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/peer"
)

// maxTxShareRequests bounds the queue of transactions waiting to be
// shared. Validated transactions just wait in the mempool past this.
const maxTxShareRequests = 100

// maxBlockShareRequests bounds the queue of blocks waiting to be shared.
// Peers past this pick the blocks up through reconciliation.
const maxBlockShareRequests = 10

// shareTxOperations propagates queued transactions to the known peers.
func (w *Worker) shareTxOperations() {
	w.evHandler("worker: shareTxOperations: G started")
	defer w.evHandler("worker: shareTxOperations: G completed")

	for {
		select {
		case tx := <-w.txSharing:
			if !w.isShutdown() {
				w.runShareTxOperation(tx)
			}
		case <-w.shut:
			return
		}
	}
}

func (w *Worker) runShareTxOperation(tx database.Tx) {
	w.evHandler("worker: runShareTxOperation: started: tx[%s]", tx.TxID)
	defer w.evHandler("worker: runShareTxOperation: completed")

	for _, pr := range w.state.KnownPeers() {
		w.withPeer(pr, func(client *p2p.Client) error {
			return client.SendNewTransaction(tx)
		})
	}
}

// shareBlockOperations propagates queued blocks to the known peers.
func (w *Worker) shareBlockOperations() {
	w.evHandler("worker: shareBlockOperations: G started")
	defer w.evHandler("worker: shareBlockOperations: G completed")

	for {
		select {
		case block := <-w.blockSharing:
			if !w.isShutdown() {
				w.runShareBlockOperation(block)
			}
		case <-w.shut:
			return
		}
	}
}

func (w *Worker) runShareBlockOperation(block database.Block) {
	w.evHandler("worker: runShareBlockOperation: started: block %d", block.Index)
	defer w.evHandler("worker: runShareBlockOperation: completed")

	for _, pr := range w.state.KnownPeers() {
		w.withPeer(pr, func(client *p2p.Client) error {
			return client.SendNewBlock(block)
		})
	}
}

// withPeer dials the peer, runs the operation, and closes the connection.
// Failures are logged, not returned; sharing is best effort.
func (w *Worker) withPeer(pr peer.Peer, op func(client *p2p.Client) error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	client, err := p2p.Dial(ctx, pr, w.state.Host())
	if err != nil {
		w.evHandler("worker: withPeer: %s: dial: %s", pr, err)
		return
	}
	defer client.Close()

	if err := op(client); err != nil {
		w.evHandler("worker: withPeer: %s: %s", pr, err)
	}
}
