package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/database"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/database/storage/memory"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/genesis"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	success = "✓"
	failed  = "✗"
)

func testGenesis() genesis.Genesis {
	g := genesis.Default()
	g.StartDifficulty = 1
	return g
}

func noopEv(v string, args ...any) {}

func Test_TransactionIntegrity(t *testing.T) {
	t.Log("Given the need to validate transactions on their own.")

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a key: %v", failed, err)
	}

	receiverKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a key: %v", failed, err)
	}
	receiver, err := signature.DeriveAddress(signature.PublicKeyString(&receiverKey.PublicKey))
	if err != nil {
		t.Fatalf("\t%s\tShould be able to derive an address: %v", failed, err)
	}

	tx, err := database.NewTx(privateKey, receiver, 10, 1)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct a signed transaction: %v", failed, err)
	}
	t.Logf("\t%s\tShould be able to construct a signed transaction.", success)

	if err := tx.VerifyIntegrity(); err != nil {
		t.Fatalf("\t%s\tShould pass the integrity checks: %v", failed, err)
	}
	t.Logf("\t%s\tShould pass the integrity checks.", success)

	// The claimed txid is never trusted from the wire.
	tampered := tx
	tampered.Amount = 1000
	if err := tampered.VerifyIntegrity(); !errors.Is(err, database.ErrInvalidFormat) {
		t.Fatalf("\t%s\tShould reject a transaction whose txid fails recomputation: %v", failed, err)
	}
	t.Logf("\t%s\tShould reject a transaction whose txid fails recomputation.", success)

	tampered = tx
	tampered.Amount = 1000
	tampered.TxID = tampered.HashID()
	if err := tampered.VerifyIntegrity(); !errors.Is(err, database.ErrInvalidSignature) {
		t.Fatalf("\t%s\tShould reject a transaction whose signature fails: %v", failed, err)
	}
	t.Logf("\t%s\tShould reject a transaction whose signature fails.", success)

	bad := tx
	bad.Fee = -1
	bad.TxID = bad.HashID()
	if err := bad.VerifyIntegrity(); !errors.Is(err, database.ErrInvalidFormat) {
		t.Fatalf("\t%s\tShould reject a negative fee: %v", failed, err)
	}
	t.Logf("\t%s\tShould reject a negative fee.", success)
}

func Test_ValidateTxFunds(t *testing.T) {
	t.Log("Given the need to apply balance and reserved spend rules.")

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a key: %v", failed, err)
	}

	receiver, err := signature.DeriveAddress(signature.PublicKeyString(&privateKey.PublicKey))
	if err != nil {
		t.Fatalf("\t%s\tShould be able to derive an address: %v", failed, err)
	}

	tx, err := database.NewTx(privateKey, receiver, 60, 1)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct a transaction: %v", failed, err)
	}

	if err := database.ValidateTx(tx, 100, 0); err != nil {
		t.Fatalf("\t%s\tShould accept with sufficient unreserved balance: %v", failed, err)
	}
	t.Logf("\t%s\tShould accept with sufficient unreserved balance.", success)

	if err := database.ValidateTx(tx, 50, 0); !errors.Is(err, database.ErrInsufficientFunds) {
		t.Fatalf("\t%s\tShould reject when the balance cannot cover it: %v", failed, err)
	}
	t.Logf("\t%s\tShould reject when the balance cannot cover it.", success)

	if err := database.ValidateTx(tx, 100, 50); !errors.Is(err, database.ErrDoubleSpend) {
		t.Fatalf("\t%s\tShould reject as a double spend when funds are reserved: %v", failed, err)
	}
	t.Logf("\t%s\tShould reject as a double spend when funds are reserved.", success)

	coinbase := database.NewCoinbaseTx(receiver, 50, time.Now().Unix())
	if err := database.ValidateTx(coinbase, 1000, 0); !errors.Is(err, database.ErrInvalidFormat) {
		t.Fatalf("\t%s\tShould never admit a coinbase through submission: %v", failed, err)
	}
	t.Logf("\t%s\tShould never admit a coinbase through submission.", success)
}

func Test_BlockMining(t *testing.T) {
	t.Log("Given the need to mine and verify proof of work.")

	g := testGenesis()
	parent := database.GenesisBlock(g)

	coinbase := database.NewCoinbaseTx(database.CoinbaseSender, 50, time.Now().Unix())
	block := database.NewBlock(parent, 2, []database.Tx{coinbase})

	if err := block.Mine(context.Background()); err != nil {
		t.Fatalf("\t%s\tShould be able to mine a block: %v", failed, err)
	}
	t.Logf("\t%s\tShould be able to mine a block.", success)

	if !database.MeetsDifficulty(block.Hash, block.Difficulty) {
		t.Fatalf("\t%s\tShould produce a hash meeting the difficulty: %s", failed, block.Hash)
	}
	t.Logf("\t%s\tShould produce a hash meeting the difficulty.", success)

	if err := block.ValidateBlock(parent); err != nil {
		t.Fatalf("\t%s\tShould validate a freshly mined block: %v", failed, err)
	}
	t.Logf("\t%s\tShould validate a freshly mined block.", success)

	// Tamper detection.
	tampered := block
	tampered.Timestamp++
	if err := tampered.VerifyPOW(); !errors.Is(err, database.ErrInvalidProofOfWork) {
		t.Fatalf("\t%s\tShould detect a tampered block: %v", failed, err)
	}
	t.Logf("\t%s\tShould detect a tampered block.", success)

	unlinked := block
	unlinked.PrevHash = signature.ZeroHash
	unlinked.Hash = unlinked.ComputeHash()
	if err := unlinked.ValidateBlock(parent); !errors.Is(err, database.ErrChainLinkMismatch) {
		t.Fatalf("\t%s\tShould detect a broken parent link: %v", failed, err)
	}
	t.Logf("\t%s\tShould detect a broken parent link.", success)
}

func Test_MiningCancel(t *testing.T) {
	t.Log("Given the need to abort a mining search promptly.")

	g := testGenesis()
	parent := database.GenesisBlock(g)

	// A difficulty this high cannot be solved, so only cancellation
	// ends the search.
	block := database.NewBlock(parent, 60, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := block.Mine(ctx)
	elapsed := time.Since(start)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("\t%s\tShould return the cancellation cause: %v", failed, err)
	}
	t.Logf("\t%s\tShould return the cancellation cause.", success)

	if elapsed > 2*time.Second {
		t.Fatalf("\t%s\tShould stop promptly after cancellation: took %v", failed, elapsed)
	}
	t.Logf("\t%s\tShould stop promptly after cancellation.", success)
}

func Test_DatabaseLifecycle(t *testing.T) {
	t.Log("Given the need to manage the chain against storage.")

	g := testGenesis()

	storage, err := memory.New()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct storage: %v", failed, err)
	}

	db, err := database.New(g, storage, noopEv)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the database: %v", failed, err)
	}
	defer db.Close()

	if db.Length() != 1 || db.Height() != 0 {
		t.Fatalf("\t%s\tShould seed an empty storage with genesis: length %d", failed, db.Length())
	}
	t.Logf("\t%s\tShould seed an empty storage with genesis.", success)

	minerKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a key: %v", failed, err)
	}
	miner, err := signature.DeriveAddress(signature.PublicKeyString(&minerKey.PublicKey))
	if err != nil {
		t.Fatalf("\t%s\tShould be able to derive an address: %v", failed, err)
	}

	coinbase := database.NewCoinbaseTx(miner, 50, time.Now().Unix())
	block := database.NewBlock(db.LatestBlock(), g.StartDifficulty, []database.Tx{coinbase})
	if err := block.Mine(context.Background()); err != nil {
		t.Fatalf("\t%s\tShould be able to mine a block: %v", failed, err)
	}

	if err := db.Write(block); err != nil {
		t.Fatalf("\t%s\tShould be able to write a block: %v", failed, err)
	}
	t.Logf("\t%s\tShould be able to write a block.", success)

	if got := db.BalanceOf(miner); got != 50 {
		t.Fatalf("\t%s\tShould credit the miner through the fold: got %v", failed, got)
	}
	t.Logf("\t%s\tShould credit the miner through the fold.", success)

	if !db.HasTx(coinbase.TxID) {
		t.Fatalf("\t%s\tShould track committed txids.", failed)
	}
	t.Logf("\t%s\tShould track committed txids.", success)

	// A second database over the same storage must read back the same
	// chain.
	db2, err := database.New(g, storage, noopEv)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to reload from storage: %v", failed, err)
	}
	defer db2.Close()

	if db2.Height() != 1 || db2.LatestBlock().Hash != block.Hash {
		t.Fatalf("\t%s\tShould read back the identical chain.", failed)
	}
	t.Logf("\t%s\tShould read back the identical chain.", success)
}

// brokenStorage refuses every block write so the durability rules can be
// exercised without a real disk failure.
type brokenStorage struct {
	*memory.Memory
}

func (b brokenStorage) SaveBlock(block database.Block, state database.ChainState) error {
	return errors.New("disk full")
}

func Test_WriteFailureConsistency(t *testing.T) {
	t.Log("Given the need to keep memory and storage consistent on a failed write.")

	g := testGenesis()

	stor, err := memory.New()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct storage: %v", failed, err)
	}

	db, err := database.New(g, stor, noopEv)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the database: %v", failed, err)
	}
	defer db.Close()

	db2, err := database.New(g, brokenStorage{stor}, noopEv)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to reload over the broken storage: %v", failed, err)
	}
	defer db2.Close()

	coinbase := database.NewCoinbaseTx(database.CoinbaseSender, 50, time.Now().Unix())
	block := database.NewBlock(db2.LatestBlock(), g.StartDifficulty, []database.Tx{coinbase})
	if err := block.Mine(context.Background()); err != nil {
		t.Fatalf("\t%s\tShould be able to mine a block: %v", failed, err)
	}

	if err := db2.Write(block); !errors.Is(err, database.ErrStorageUnavailable) {
		t.Fatalf("\t%s\tShould surface the storage failure: %v", failed, err)
	}
	t.Logf("\t%s\tShould surface the storage failure.", success)

	if db2.Height() != 0 {
		t.Fatalf("\t%s\tShould not extend the chain in memory: height %d", failed, db2.Height())
	}
	t.Logf("\t%s\tShould not extend the chain in memory.", success)

	// The underlying store holds neither the block nor its chain state,
	// so a restart sees exactly what the node acknowledged.
	db3, err := database.New(g, stor, noopEv)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to reload after the failure: %v", failed, err)
	}
	defer db3.Close()

	if db3.Height() != 0 {
		t.Fatalf("\t%s\tShould read back only acknowledged blocks: height %d", failed, db3.Height())
	}
	t.Logf("\t%s\tShould read back only acknowledged blocks.", success)
}

func Test_ChainStateCrossCheck(t *testing.T) {
	t.Log("Given the need to sanity check the persisted chain state on restart.")

	g := testGenesis()

	stor, err := memory.New()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct storage: %v", failed, err)
	}

	db, err := database.New(g, stor, noopEv)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the database: %v", failed, err)
	}
	defer db.Close()

	coinbase := database.NewCoinbaseTx(database.CoinbaseSender, 50, time.Now().Unix())
	block := database.NewBlock(db.LatestBlock(), g.StartDifficulty, []database.Tx{coinbase})
	if err := block.Mine(context.Background()); err != nil {
		t.Fatalf("\t%s\tShould be able to mine a block: %v", failed, err)
	}
	if err := db.Write(block); err != nil {
		t.Fatalf("\t%s\tShould be able to write a block: %v", failed, err)
	}

	// A matching summary reloads cleanly.
	if _, err := database.New(g, stor, noopEv); err != nil {
		t.Fatalf("\t%s\tShould reload when the chain state agrees: %v", failed, err)
	}
	t.Logf("\t%s\tShould reload when the chain state agrees.", success)

	// Rewrite the same blocks with a summary that does not match them.
	if err := stor.ResetChain(db.Chain(), database.ChainState{Height: 99, Difficulty: 9}); err != nil {
		t.Fatalf("\t%s\tShould be able to rewrite the storage: %v", failed, err)
	}

	if _, err := database.New(g, stor, noopEv); !errors.Is(err, database.ErrStorageUnavailable) {
		t.Fatalf("\t%s\tShould refuse a chain state that disagrees with the blocks: %v", failed, err)
	}
	t.Logf("\t%s\tShould refuse a chain state that disagrees with the blocks.", success)
}
