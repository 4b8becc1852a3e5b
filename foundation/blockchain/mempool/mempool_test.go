package mempool_test

import (
	"fmt"
	"testing"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/database"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/mempool"
)

const (
	success = "✓"
	failed  = "✗"
)

func pendingTx(id int, sender string, amount float64, fee float64) database.Tx {
	return database.Tx{
		TxID:   fmt.Sprintf("tx-%04d", id),
		Sender: sender,
		Amount: amount,
		Fee:    fee,
	}
}

func Test_InsertionOrder(t *testing.T) {
	t.Log("Given the need to feed block assembly in insertion order.")

	mp := mempool.New()

	for i := 0; i < 5; i++ {
		if !mp.Upsert(pendingTx(i, "alice", 1, 0)) {
			t.Fatalf("\t%s\tShould be able to insert transaction %d.", failed, i)
		}
	}
	t.Logf("\t%s\tShould be able to insert five transactions.", success)

	picked := mp.PickBest(3)
	if len(picked) != 3 {
		t.Fatalf("\t%s\tShould pick exactly three transactions: got %d", failed, len(picked))
	}
	for i, tx := range picked {
		if tx.TxID != fmt.Sprintf("tx-%04d", i) {
			t.Fatalf("\t%s\tShould pick in insertion order: got %s at %d", failed, tx.TxID, i)
		}
	}
	t.Logf("\t%s\tShould pick in insertion order.", success)

	if got := len(mp.PickBest(-1)); got != 5 {
		t.Fatalf("\t%s\tShould pick everything with -1: got %d", failed, got)
	}
	t.Logf("\t%s\tShould pick everything with -1.", success)
}

func Test_ReservedSpend(t *testing.T) {
	t.Log("Given the need to track reserved spend per sender.")

	mp := mempool.New()

	mp.Upsert(pendingTx(1, "alice", 10, 1))
	mp.Upsert(pendingTx(2, "alice", 5, 0.5))
	mp.Upsert(pendingTx(3, "bob", 7, 0))

	if got := mp.Reserved("alice"); got != 16.5 {
		t.Fatalf("\t%s\tShould reserve amount plus fee per sender: got %v", failed, got)
	}
	t.Logf("\t%s\tShould reserve amount plus fee per sender.", success)

	mp.Delete("tx-0001")
	if got := mp.Reserved("alice"); got != 5.5 {
		t.Fatalf("\t%s\tShould release the reserve on delete: got %v", failed, got)
	}
	t.Logf("\t%s\tShould release the reserve on delete.", success)

	if got := mp.Reserved("carol"); got != 0 {
		t.Fatalf("\t%s\tShould report zero for unknown senders: got %v", failed, got)
	}
	t.Logf("\t%s\tShould report zero for unknown senders.", success)
}

func Test_UpsertAndDropCommitted(t *testing.T) {
	t.Log("Given the need to dedupe and drop mined transactions.")

	mp := mempool.New()

	tx := pendingTx(1, "alice", 10, 1)
	if !mp.Upsert(tx) {
		t.Fatalf("\t%s\tShould insert a new transaction.", failed)
	}
	if mp.Upsert(tx) {
		t.Fatalf("\t%s\tShould report false for a duplicate txid.", failed)
	}
	t.Logf("\t%s\tShould report false for a duplicate txid.", success)

	mp.Upsert(pendingTx(2, "bob", 3, 0))
	mp.Upsert(pendingTx(3, "bob", 4, 0))

	mp.DropCommitted([]string{"tx-0001", "tx-0003", "tx-9999"})

	if mp.Count() != 1 || !mp.Contains("tx-0002") {
		t.Fatalf("\t%s\tShould keep only the unmined transaction: count %d", failed, mp.Count())
	}
	t.Logf("\t%s\tShould keep only the unmined transaction.", success)

	if got := mp.Reserved("bob"); got != 3 {
		t.Fatalf("\t%s\tShould rebalance the reserve after the drop: got %v", failed, got)
	}
	t.Logf("\t%s\tShould rebalance the reserve after the drop.", success)
}
