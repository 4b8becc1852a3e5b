// Package memory implements the database.Storage interface in memory,
// which is what the tests use.
package memory

import (
	"sync"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/database"
)

// Memory represents the in-memory storage implementation.
type Memory struct {
	mu      sync.Mutex
	blocks  []database.Block
	state   database.ChainState
	mempool []database.Tx
}

// New constructs an empty in-memory storage.
func New() (*Memory, error) {
	return &Memory{}, nil
}

// Close in this implementation has nothing to do.
func (m *Memory) Close() error {
	return nil
}

// LoadChain returns the stored blocks in chain order.
func (m *Memory) LoadChain() ([]database.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	blocks := make([]database.Block, len(m.blocks))
	copy(blocks, m.blocks)

	return blocks, nil
}

// SaveBlock appends one block and records the chain summary under the
// same lock.
func (m *Memory) SaveBlock(block database.Block, state database.ChainState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks = append(m.blocks, block)
	m.state = state
	return nil
}

// ResetChain replaces the stored blocks and chain summary wholesale.
func (m *Memory) ResetChain(blocks []database.Block, state database.ChainState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks = make([]database.Block, len(blocks))
	copy(m.blocks, blocks)
	m.state = state

	return nil
}

// LoadChainState returns the stored chain summary.
func (m *Memory) LoadChainState() (database.ChainState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state, nil
}

// LoadMempool returns the stored pending transactions.
func (m *Memory) LoadMempool() ([]database.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	trans := make([]database.Tx, len(m.mempool))
	copy(trans, m.mempool)

	return trans, nil
}

// SaveMempool stores the pending transactions.
func (m *Memory) SaveMempool(trans []database.Tx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mempool = make([]database.Tx, len(trans))
	copy(m.mempool, trans)

	return nil
}
