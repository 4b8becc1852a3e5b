package consensus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/consensus"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/database"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/genesis"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	success = "✓"
	failed  = "✗"
)

// chainWithSpacing builds a synthetic chain of length n whose blocks are
// spaced the given duration apart and all carry the same difficulty. Only
// the fields NextDifficulty reads are populated.
func chainWithSpacing(n int, spacing time.Duration, difficulty int) []database.Block {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()

	chain := make([]database.Block, n)
	for i := range chain {
		chain[i] = database.Block{
			Index:      uint64(i),
			Timestamp:  start + int64(i)*int64(spacing/time.Second),
			Difficulty: difficulty,
		}
	}

	return chain
}

func Test_RewardForHeight(t *testing.T) {
	t.Log("Given the need to compute the halving reward schedule.")

	g := genesis.Default()

	tests := []struct {
		height uint64
		reward float64
	}{
		{0, 50},
		{209_999, 50},
		{210_000, 25},
		{420_000, 12.5},
		{630_000, 6.25},
	}

	for _, tt := range tests {
		if got := consensus.RewardForHeight(g, tt.height); got != tt.reward {
			t.Errorf("\t%s\tShould get reward %v at height %d: got %v", failed, tt.reward, tt.height, got)
			continue
		}
		t.Logf("\t%s\tShould get reward %v at height %d.", success, tt.reward, tt.height)
	}

	if got := consensus.RewardForHeight(g, 210_000*70); got != 0 {
		t.Errorf("\t%s\tShould floor the reward at zero far out: got %v", failed, got)
	} else {
		t.Logf("\t%s\tShould floor the reward at zero far out.", success)
	}
}

func Test_NextDifficulty(t *testing.T) {
	t.Log("Given the need to adjust difficulty from observed block times.")

	g := genesis.Default()
	g.TargetBlockTime = 600 * time.Second
	g.AdjustInterval = 10

	const difficulty = 4

	tests := []struct {
		name    string
		length  int
		spacing time.Duration
		want    int
	}{
		{"on target keeps difficulty", 20, 600 * time.Second, difficulty},
		{"half the time doubles", 20, 300 * time.Second, difficulty * 2},
		{"double the time halves", 20, 1200 * time.Second, difficulty / 2},
		{"absurdly fast is clamped", 20, time.Second, difficulty * 2},
		{"absurdly slow is clamped", 20, 24 * time.Hour, difficulty / 2},
		{"off the interval is untouched", 21, time.Second, difficulty},
		{"too little history is untouched", 10, time.Second, difficulty},
	}

	for _, tt := range tests {
		chain := chainWithSpacing(tt.length, tt.spacing, difficulty)
		if got := consensus.NextDifficulty(g, chain); got != tt.want {
			t.Errorf("\t%s\tShould get difficulty %d for %q: got %d", failed, tt.want, tt.name, got)
			continue
		}
		t.Logf("\t%s\tShould get difficulty %d for %q.", success, tt.want, tt.name)
	}

	// Difficulty one can never be adjusted below one.
	chain := chainWithSpacing(20, 24*time.Hour, 1)
	if got := consensus.NextDifficulty(g, chain); got != 1 {
		t.Fatalf("\t%s\tShould never drop difficulty below one: got %d", failed, got)
	}
	t.Logf("\t%s\tShould never drop difficulty below one.", success)
}

func Test_BlockTransactionRules(t *testing.T) {
	t.Log("Given the need to reject blocks whose transactions break the rules.")

	g := genesis.Default()
	g.StartDifficulty = 1

	minerKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a key: %v", failed, err)
	}
	miner, err := signature.DeriveAddress(signature.PublicKeyString(&minerKey.PublicKey))
	if err != nil {
		t.Fatalf("\t%s\tShould be able to derive an address: %v", failed, err)
	}
	receiverKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a key: %v", failed, err)
	}
	receiver, err := signature.DeriveAddress(signature.PublicKeyString(&receiverKey.PublicKey))
	if err != nil {
		t.Fatalf("\t%s\tShould be able to derive an address: %v", failed, err)
	}

	// Fund the miner with one mined block so there is balance to spend.
	gb := database.GenesisBlock(g)
	coinbase := database.NewCoinbaseTx(miner, consensus.RewardForHeight(g, 1), time.Now().Unix())
	fund := database.NewBlock(gb, g.StartDifficulty, []database.Tx{coinbase})
	if err := fund.Mine(context.Background()); err != nil {
		t.Fatalf("\t%s\tShould be able to mine the funding block: %v", failed, err)
	}
	chain := []database.Block{gb, fund}

	reward := consensus.RewardForHeight(g, 2)

	mineNext := func(trans ...database.Tx) database.Block {
		block := database.NewBlock(fund, g.StartDifficulty, trans)
		if err := block.Mine(context.Background()); err != nil {
			t.Fatalf("\t%s\tShould be able to mine a candidate block: %v", failed, err)
		}
		return block
	}

	// A correctly rewarded block on sufficient funds is the control.
	spend, err := database.NewTx(minerKey, receiver, 30, 0)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct a signed transaction: %v", failed, err)
	}
	good := mineNext(database.NewCoinbaseTx(miner, reward, time.Now().Unix()), spend)
	if err := consensus.ValidateNextBlock(g, chain, good); err != nil {
		t.Fatalf("\t%s\tShould accept a well formed block: %v", failed, err)
	}
	t.Logf("\t%s\tShould accept a well formed block.", success)

	// A coinbase paying more than the schedule allows.
	greedy := mineNext(database.NewCoinbaseTx(miner, reward+1, time.Now().Unix()))
	if err := consensus.ValidateNextBlock(g, chain, greedy); !errors.Is(err, database.ErrInvalidFormat) {
		t.Fatalf("\t%s\tShould reject an overpaying coinbase: %v", failed, err)
	}
	t.Logf("\t%s\tShould reject an overpaying coinbase.", success)

	// Two coinbase transactions in one block.
	doubled := mineNext(
		database.NewCoinbaseTx(miner, reward, time.Now().Unix()),
		database.NewCoinbaseTx(receiver, reward, time.Now().Unix()+1),
	)
	if err := consensus.ValidateNextBlock(g, chain, doubled); !errors.Is(err, database.ErrInvalidFormat) {
		t.Fatalf("\t%s\tShould reject a second coinbase: %v", failed, err)
	}
	t.Logf("\t%s\tShould reject a second coinbase.", success)

	// Two spends in the same block that together overdraw the sender.
	// The second spend sees the first already debited.
	spendA, err := database.NewTx(minerKey, receiver, 30, 0)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct a signed transaction: %v", failed, err)
	}
	spendB, err := database.NewTx(minerKey, receiver, 25, 0)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct a signed transaction: %v", failed, err)
	}
	overdrawn := mineNext(database.NewCoinbaseTx(miner, reward, time.Now().Unix()), spendA, spendB)
	if err := consensus.ValidateNextBlock(g, chain, overdrawn); !errors.Is(err, database.ErrInsufficientFunds) {
		t.Fatalf("\t%s\tShould reject an in-block double spend: %v", failed, err)
	}
	t.Logf("\t%s\tShould reject an in-block double spend.", success)
}
