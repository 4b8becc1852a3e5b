package state

import (
	"fmt"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/database"
)

// SubmitTransaction accepts a transaction from a wallet into the mempool
// after full validation. On success the transaction is shared with the
// network and mining is signaled.
func (s *State) SubmitTransaction(tx database.Tx) error {
	s.evHandler("state: SubmitTransaction: started: tx[%s]", tx.TxID)
	defer s.evHandler("state: SubmitTransaction: completed")

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.admitTransaction(tx); err != nil {
		return err
	}

	if s.Worker != nil {
		s.Worker.SignalShareTx(tx)
		s.Worker.SignalStartMining()
	}

	return nil
}

// SubmitPeerTransaction accepts a transaction relayed by a peer. A
// transaction already present in the mempool or the chain is ignored and
// not shared again, which is what stops propagation loops.
func (s *State) SubmitPeerTransaction(tx database.Tx) (admitted bool, err error) {
	s.evHandler("state: SubmitPeerTransaction: started: tx[%s]", tx.TxID)
	defer s.evHandler("state: SubmitPeerTransaction: completed")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mempool.Contains(tx.TxID) || s.db.HasTx(tx.TxID) {
		return false, nil
	}

	if err := s.admitTransaction(tx); err != nil {
		return false, err
	}

	if s.Worker != nil {
		s.Worker.SignalShareTx(tx)
		s.Worker.SignalStartMining()
	}

	return true, nil
}

// admitTransaction applies the admission rules and inserts the transaction
// into the mempool. The caller must hold the state mutex.
func (s *State) admitTransaction(tx database.Tx) error {
	if s.mempool.Contains(tx.TxID) || s.db.HasTx(tx.TxID) {
		return fmt.Errorf("%w: transaction %s already known", database.ErrDoubleSpend, tx.TxID)
	}

	balance := s.db.BalanceOf(tx.Sender)
	reserved := s.mempool.Reserved(tx.Sender)

	if err := database.ValidateTx(tx, balance, reserved); err != nil {
		return err
	}

	s.mempool.Upsert(tx)
	return nil
}
