package state

import (
	"context"
	"fmt"
	"time"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/consensus"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/database"
)

// MineNewBlock assembles a candidate block from the mempool, attaches the
// coinbase reward, performs the proof of work, and commits the result. The
// context aborts the nonce search when a competing block arrives.
func (s *State) MineNewBlock(ctx context.Context) (database.Block, error) {
	s.evHandler("state: MineNewBlock: started")
	defer s.evHandler("state: MineNewBlock: completed")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	id := s.registerMining(cancel)
	defer s.unregisterMining(id)

	trans := s.mempool.PickBest(s.genesis.TransPerBlock - 1)

	reward := consensus.RewardForHeight(s.genesis, s.db.Height()+1)
	coinbase := database.NewCoinbaseTx(s.minerAddress, reward, time.Now().UTC().Unix())

	difficulty := consensus.NextDifficulty(s.genesis, s.db.Chain())

	block := database.NewBlock(s.db.LatestBlock(), difficulty, append([]database.Tx{coinbase}, trans...))

	s.evHandler("state: MineNewBlock: MINING: block %d: difficulty %d: trans %d", block.Index, block.Difficulty, len(block.Transactions))

	if err := block.Mine(ctx); err != nil {
		return database.Block{}, err
	}

	s.evHandler("state: MineNewBlock: SOLVED: block %d [%s]", block.Index, block.Hash)

	if err := s.validateUpdateDatabase(block); err != nil {
		return database.Block{}, err
	}

	if s.Worker != nil {
		s.Worker.SignalShareBlock(block)
	}

	return block, nil
}

// ProcessPeerBlock takes a block received from a peer, validates it against
// the chain, and if valid adds it. Any in-flight mining is cancelled first
// since its candidate would fail the parent link either way.
func (s *State) ProcessPeerBlock(block database.Block) error {
	s.evHandler("state: ProcessPeerBlock: started: block %d [%s]", block.Index, block.Hash)
	defer s.evHandler("state: ProcessPeerBlock: completed")

	if s.db.HasBlock(block.Hash) {
		return fmt.Errorf("%w: block %d [%s]", ErrBlockKnown, block.Index, block.Hash)
	}

	if s.Worker != nil {
		done := s.Worker.SignalCancelMining()
		defer done()
	}
	s.interruptMining()

	if err := s.validateUpdateDatabase(block); err != nil {
		return err
	}

	if s.Worker != nil {
		s.Worker.SignalShareBlock(block)
	}

	return nil
}

// validateUpdateDatabase validates the block against the current tip and
// commits it, then clears committed transactions out of the mempool. This
// is the single point where the chain is extended.
func (s *State) validateUpdateDatabase(block database.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := consensus.ValidateNextBlock(s.genesis, s.db.Chain(), block); err != nil {
		return err
	}

	if err := s.db.Write(block); err != nil {
		return err
	}

	txids := make([]string, len(block.Transactions))
	for i, tx := range block.Transactions {
		txids[i] = tx.TxID
	}
	s.mempool.DropCommitted(txids)

	s.evHandler("state: validateUpdateDatabase: accepted block %d [%s]", block.Index, block.Hash)

	return nil
}
