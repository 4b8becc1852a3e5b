package state

import (
	"fmt"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/consensus"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/database"
)

// ConsiderForeignChain evaluates a complete chain received from a peer and
// adopts it if it is strictly longer than ours and fully valid from its
// genesis. On adoption the mempool is reconciled: transactions orphaned by
// the reorganization are re-admitted when they still pass the rules.
func (s *State) ConsiderForeignChain(candidate []database.Block) error {
	s.evHandler("state: ConsiderForeignChain: started: candidate length %d", len(candidate))
	defer s.evHandler("state: ConsiderForeignChain: completed")

	if s.Worker != nil {
		done := s.Worker.SignalCancelMining()
		defer done()
	}
	s.interruptMining()

	s.mu.Lock()
	defer s.mu.Unlock()

	// A tie keeps the chain we saw first.
	if len(candidate) <= s.db.Length() {
		return fmt.Errorf("%w: candidate length %d does not beat %d", ErrRejectedFork, len(candidate), s.db.Length())
	}

	if len(candidate) == 0 || candidate[0].Hash != s.db.GenesisHash() {
		return fmt.Errorf("%w: candidate does not share our genesis", ErrRejectedFork)
	}

	if err := consensus.ValidateChain(s.genesis, candidate); err != nil {
		return fmt.Errorf("%w: %s", ErrRejectedFork, err)
	}

	// Collect what might fall out of the chain before it is replaced.
	orphaned := s.orphanedTransactions(candidate)
	pending := s.mempool.Values()

	if err := s.db.Replace(candidate); err != nil {
		return err
	}

	s.evHandler("state: ConsiderForeignChain: REORGANIZED: new height %d [%s]", s.db.Height(), s.db.LatestBlock().Hash)

	// Rebuild the mempool from scratch under the new chain. Order keeps
	// previously pending transactions ahead of freshly orphaned ones.
	s.mempool.Truncate()
	for _, tx := range append(pending, orphaned...) {
		if err := s.admitTransaction(tx); err != nil {
			s.evHandler("state: ConsiderForeignChain: dropping tx %s: %s", tx.TxID, err)
		}
	}

	return nil
}

// orphanedTransactions returns the non-coinbase transactions committed in
// the current chain that the candidate does not carry. The caller must
// hold the state mutex.
func (s *State) orphanedTransactions(candidate []database.Block) []database.Tx {
	inCandidate := make(map[string]struct{})
	for _, block := range candidate {
		for _, tx := range block.Transactions {
			inCandidate[tx.TxID] = struct{}{}
		}
	}

	var orphaned []database.Tx
	for _, block := range s.db.Chain() {
		for _, tx := range block.Transactions {
			if tx.IsCoinbase() {
				continue
			}
			if _, exists := inCandidate[tx.TxID]; !exists {
				orphaned = append(orphaned, tx)
			}
		}
	}

	return orphaned
}
