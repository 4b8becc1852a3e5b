package worker

import (
	"context"
	"errors"
	"time"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/database"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/p2p"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/peer"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/state"
)

// dialTimeout bounds connecting to a peer during reconciliation.
const dialTimeout = 5 * time.Second

// Sync reconciles this node with every known peer: missing blocks are
// pulled in, divergent chains are resolved, and the peer list is grown.
func (w *Worker) Sync() {
	w.evHandler("worker: Sync: started")
	defer w.evHandler("worker: Sync: completed")

	for _, pr := range w.state.KnownPeers() {
		w.syncWithPeer(pr)
	}
}

// syncOperations runs the reconciliation on the configured interval and on
// demand.
func (w *Worker) syncOperations() {
	w.evHandler("worker: syncOperations: G started")
	defer w.evHandler("worker: syncOperations: G completed")

	for {
		select {
		case <-w.ticker.C:
			if !w.isShutdown() {
				w.Sync()
			}
		case <-w.syncNow:
			if !w.isShutdown() {
				w.Sync()
			}
		case <-w.shut:
			return
		}
	}
}

// syncWithPeer performs the reconciliation steps against a single peer. A
// peer that cannot be dialed is dropped from the known set; it will be
// re-added if it comes back through discovery.
func (w *Worker) syncWithPeer(pr peer.Peer) {
	w.evHandler("worker: syncWithPeer: %s: started", pr)
	defer w.evHandler("worker: syncWithPeer: %s: completed", pr)

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	client, err := p2p.Dial(ctx, pr, w.state.Host())
	if err != nil {
		w.evHandler("worker: syncWithPeer: %s: unreachable, dropping: %s", pr, err)
		w.state.RemoveKnownPeer(pr)
		return
	}
	defer client.Close()

	if err := w.syncBlocks(client); err != nil {
		w.evHandler("worker: syncWithPeer: %s: blocks: %s", pr, err)
	}

	peers, err := client.RequestPeers()
	if err != nil {
		w.evHandler("worker: syncWithPeer: %s: peers: %s", pr, err)
		return
	}
	for _, p := range peers {
		if w.state.AddKnownPeer(p) {
			w.evHandler("worker: syncWithPeer: %s: discovered peer %s", pr, p)
		}
	}

	w.state.TouchKnownPeer(pr, time.Now().Unix())
}

// syncBlocks pulls the blocks this node is missing from the peer. When the
// peer's blocks do not extend our chain, its full chain is requested and
// run through fork resolution.
func (w *Worker) syncBlocks(client *p2p.Client) error {
	blocks, err := client.RequestBlocks(w.state.LatestBlock().Index + 1)
	if err != nil {
		return err
	}

	for _, block := range blocks {
		err := w.state.ProcessPeerBlock(block)
		if err == nil || errors.Is(err, state.ErrBlockKnown) {
			continue
		}

		if errors.Is(err, database.ErrChainLinkMismatch) {
			return w.resolveFork(client)
		}

		return err
	}

	return nil
}

// resolveFork pulls the peer's full chain and lets the state decide whether
// it replaces ours.
func (w *Worker) resolveFork(client *p2p.Client) error {
	w.evHandler("worker: resolveFork: started")
	defer w.evHandler("worker: resolveFork: completed")

	candidate, err := client.RequestBlocks(0)
	if err != nil {
		return err
	}

	if err := w.state.ConsiderForeignChain(candidate); err != nil {
		if errors.Is(err, state.ErrRejectedFork) {
			w.evHandler("worker: resolveFork: kept our chain: %s", err)
			return nil
		}
		return err
	}

	return nil
}
