// Package mempool maintains the set of validated, not yet mined
// transactions.
package mempool

import (
	"sync"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/database"
)

// Mempool represents a cache of pending transactions keyed by txid. A per
// sender reserved-spend tally tracks how much of each account's confirmed
// balance is already spoken for, which is what stops a second pending
// transaction from overdrawing the account.
type Mempool struct {
	mu       sync.RWMutex
	pool     map[string]database.Tx
	order    []string
	reserved map[string]float64
}

// New constructs an empty mempool.
func New() *Mempool {
	return &Mempool{
		pool:     make(map[string]database.Tx),
		reserved: make(map[string]float64),
	}
}

// Count returns the current number of transactions in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Contains reports whether the transaction id is pending.
func (mp *Mempool) Contains(txid string) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	_, exists := mp.pool[txid]
	return exists
}

// Reserved returns the amount plus fees the sender's pending transactions
// already reserve against their confirmed balance.
func (mp *Mempool) Reserved(sender string) float64 {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return mp.reserved[sender]
}

// Upsert adds the transaction to the pool. It reports false when the
// transaction was already pending.
func (mp *Mempool) Upsert(tx database.Tx) bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.pool[tx.TxID]; exists {
		return false
	}

	mp.pool[tx.TxID] = tx
	mp.order = append(mp.order, tx.TxID)
	mp.reserved[tx.Sender] += tx.Amount + tx.Fee

	return true
}

// Delete removes a transaction from the pool and releases its reserve.
func (mp *Mempool) Delete(txid string) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.deleteLocked(txid)
}

// DropCommitted removes every transaction whose id appears in a newly
// accepted block.
func (mp *Mempool) DropCommitted(txids []string) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, txid := range txids {
		mp.deleteLocked(txid)
	}
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[string]database.Tx)
	mp.order = nil
	mp.reserved = make(map[string]float64)
}

// PickBest returns up to howMany pending transactions in insertion order
// for the next block. Pass -1 for all of them.
func (mp *Mempool) PickBest(howMany int) []database.Tx {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	if howMany < 0 || howMany > len(mp.order) {
		howMany = len(mp.order)
	}

	trans := make([]database.Tx, 0, howMany)
	for _, txid := range mp.order[:howMany] {
		trans = append(trans, mp.pool[txid])
	}

	return trans
}

// Values returns every pending transaction in insertion order.
func (mp *Mempool) Values() []database.Tx {
	return mp.PickBest(-1)
}

// =============================================================================

func (mp *Mempool) deleteLocked(txid string) {
	tx, exists := mp.pool[txid]
	if !exists {
		return
	}

	delete(mp.pool, txid)

	for i, id := range mp.order {
		if id == txid {
			mp.order = append(mp.order[:i], mp.order[i+1:]...)
			break
		}
	}

	mp.reserved[tx.Sender] -= tx.Amount + tx.Fee
	if mp.reserved[tx.Sender] <= 0 {
		delete(mp.reserved, tx.Sender)
	}
}
