// Package database maintains the chain of blocks in memory, the balance
// bookkeeping derived from it, and the lower level persistence support.
package database

import (
	"fmt"
	"sync"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/genesis"
)

// Database manages the active chain. It is the only component permitted to
// mutate the chain; everything else goes through the state package which
// serializes writes.
type Database struct {
	mu sync.RWMutex

	genesis   genesis.Genesis
	chain     []Block
	committed map[string]struct{}
	storage   Storage
	evHandler func(v string, args ...any)
}

// New constructs a database, reading existing blocks from storage. A fresh
// storage is seeded with the genesis block derived from the settings.
func New(g genesis.Genesis, storage Storage, evHandler func(v string, args ...any)) (*Database, error) {
	db := Database{
		genesis:   g,
		committed: make(map[string]struct{}),
		storage:   storage,
		evHandler: evHandler,
	}

	blocks, err := storage.LoadChain()
	if err != nil {
		return nil, fmt.Errorf("%w: loading chain: %v", ErrStorageUnavailable, err)
	}

	if len(blocks) == 0 {
		gb := GenesisBlock(g)
		if err := storage.SaveBlock(gb, ChainState{Height: 0, Difficulty: gb.Difficulty}); err != nil {
			return nil, fmt.Errorf("%w: writing genesis block: %v", ErrStorageUnavailable, err)
		}
		blocks = []Block{gb}
	}

	// What was read back has to hold together cryptographically.
	for i, block := range blocks {
		if block.ComputeHash() != block.Hash {
			return nil, fmt.Errorf("%w: stored block %d fails hash recomputation", ErrInvalidProofOfWork, block.Index)
		}
		if i > 0 {
			if block.Index != blocks[i-1].Index+1 || block.PrevHash != blocks[i-1].Hash {
				return nil, fmt.Errorf("%w: stored block %d does not link to its parent", ErrChainLinkMismatch, block.Index)
			}
		}
		for _, tx := range block.Transactions {
			db.committed[tx.TxID] = struct{}{}
		}
		db.evHandler("database: New: loaded block %d [%s]", block.Index, block.Hash)
	}

	// The persisted summary has to agree with the blocks read back.
	state, err := storage.LoadChainState()
	if err != nil {
		return nil, fmt.Errorf("%w: loading chain state: %v", ErrStorageUnavailable, err)
	}
	tip := blocks[len(blocks)-1]
	if state.Height != tip.Index || state.Difficulty != tip.Difficulty {
		return nil, fmt.Errorf("%w: chain state (height %d, difficulty %d) disagrees with the stored tip (height %d, difficulty %d)", ErrStorageUnavailable, state.Height, state.Difficulty, tip.Index, tip.Difficulty)
	}

	db.chain = blocks

	return &db, nil
}

// Close releases the underlying storage.
func (db *Database) Close() {
	db.storage.Close()
}

// =============================================================================

// Height returns the index of the latest block.
func (db *Database) Height() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.chain[len(db.chain)-1].Index
}

// Length returns the number of blocks in the chain.
func (db *Database) Length() int {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return len(db.chain)
}

// LatestBlock returns the current tip of the chain.
func (db *Database) LatestBlock() Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.chain[len(db.chain)-1]
}

// GenesisHash returns the hash of block zero.
func (db *Database) GenesisHash() string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.chain[0].Hash
}

// GetBlock returns the block at the specified index.
func (db *Database) GetBlock(index uint64) (Block, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if index >= uint64(len(db.chain)) {
		return Block{}, fmt.Errorf("%w: index %d, height %d", ErrBlockNotFound, index, len(db.chain)-1)
	}

	return db.chain[index], nil
}

// BlocksFrom returns a copy of the chain from the specified index onward.
func (db *Database) BlocksFrom(index uint64) []Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if index >= uint64(len(db.chain)) {
		return nil
	}

	blocks := make([]Block, len(db.chain[index:]))
	copy(blocks, db.chain[index:])

	return blocks
}

// Chain returns a copy of the full chain.
func (db *Database) Chain() []Block {
	return db.BlocksFrom(0)
}

// HasTx reports whether the transaction id is committed in the chain.
func (db *Database) HasTx(txid string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()

	_, exists := db.committed[txid]
	return exists
}

// HasBlock reports whether a block with the specified hash is part of
// the chain.
func (db *Database) HasBlock(hash string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, block := range db.chain {
		if block.Hash == hash {
			return true
		}
	}

	return false
}

// BalanceOf folds every transaction in the chain to compute the net
// balance for the address. This is intentionally a full scan.
func (db *Database) BalanceOf(address string) float64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var balance float64
	for _, block := range db.chain {
		for _, tx := range block.Transactions {
			if tx.Sender == address && !tx.IsCoinbase() {
				balance -= tx.Amount + tx.Fee
			}
			if tx.Receiver == address {
				balance += tx.Amount
			}
		}
	}

	return balance
}

// =============================================================================

// Write persists the block and chain state together and then extends the
// in-memory chain. The in-memory state is only updated after persistence
// confirms the write.
func (db *Database) Write(block Block) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.storage.SaveBlock(block, ChainState{Height: block.Index, Difficulty: block.Difficulty}); err != nil {
		return fmt.Errorf("%w: writing block %d: %v", ErrStorageUnavailable, block.Index, err)
	}

	db.chain = append(db.chain, block)
	for _, tx := range block.Transactions {
		db.committed[tx.TxID] = struct{}{}
	}

	return nil
}

// Replace swaps the chain for the candidate as part of a reorganization.
// The candidate is persisted in full before memory is touched.
func (db *Database) Replace(blocks []Block) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tip := blocks[len(blocks)-1]
	if err := db.storage.ResetChain(blocks, ChainState{Height: tip.Index, Difficulty: tip.Difficulty}); err != nil {
		return fmt.Errorf("%w: replacing chain: %v", ErrStorageUnavailable, err)
	}

	db.chain = make([]Block, len(blocks))
	copy(db.chain, blocks)

	db.committed = make(map[string]struct{})
	for _, block := range blocks {
		for _, tx := range block.Transactions {
			db.committed[tx.TxID] = struct{}{}
		}
	}

	return nil
}
