package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/genesis"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/signature"
)

// GenesisParentHash is the previous hash sentinel carried by block zero.
const GenesisParentHash = "0"

// maxDifficulty is bounded by the length of a hex encoded SHA256 hash.
const maxDifficulty = 64

// =============================================================================

// Block represents a group of transactions linked to the previous block
// in the chain.
type Block struct {
	Index        uint64 `json:"index"`
	Timestamp    int64  `json:"timestamp"`
	Transactions []Tx   `json:"transactions"`
	PrevHash     string `json:"previous_hash"`
	Nonce        uint64 `json:"nonce"`
	Hash         string `json:"hash"`
	Difficulty   int    `json:"difficulty"`
}

// NewBlock constructs a candidate block on top of the parent. The hash is
// left unset until Mine finds a nonce that satisfies the difficulty.
func NewBlock(parent Block, difficulty int, trans []Tx) Block {
	return Block{
		Index:        parent.Index + 1,
		Timestamp:    time.Now().UTC().Unix(),
		Transactions: trans,
		PrevHash:     parent.Hash,
		Difficulty:   difficulty,
	}
}

// GenesisBlock derives the fixed first block from the genesis settings.
// Everything that feeds the hash is a constant, so every node configured
// with the same settings produces the identical block.
func GenesisBlock(g genesis.Genesis) Block {
	coinbase := NewCoinbaseTx(CoinbaseSender, 0, g.Date.UTC().Unix())

	b := Block{
		Index:        0,
		Timestamp:    g.Date.UTC().Unix(),
		Transactions: []Tx{coinbase},
		PrevHash:     GenesisParentHash,
		Difficulty:   g.StartDifficulty,
	}

	// The nonce search starts at zero and is deterministic.
	for {
		b.Hash = b.ComputeHash()
		if MeetsDifficulty(b.Hash, b.Difficulty) {
			return b
		}
		b.Nonce++
	}
}

// ComputeHash produces the content digest for the block. Only transaction
// ids are covered, in order, so the digest does not depend on how the full
// transaction documents were serialized on the wire.
func (b Block) ComputeHash() string {
	txids := make([]string, len(b.Transactions))
	for i, tx := range b.Transactions {
		txids[i] = tx.TxID
	}

	return signature.Hash(map[string]any{
		"index":         b.Index,
		"timestamp":     b.Timestamp,
		"transactions":  txids,
		"previous_hash": b.PrevHash,
		"nonce":         b.Nonce,
		"difficulty":    b.Difficulty,
	})
}

// Mine searches for a nonce that satisfies the block's difficulty. The
// search checks for cancellation on every iteration so a competing block
// from the network can abort it promptly.
func (b *Block) Mine(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		b.Hash = b.ComputeHash()
		if MeetsDifficulty(b.Hash, b.Difficulty) {
			return nil
		}
		b.Nonce++
	}
}

// MeetsDifficulty reports whether the hash carries at least difficulty
// leading hex zeros.
func MeetsDifficulty(hash string, difficulty int) bool {
	if difficulty < 1 || difficulty > maxDifficulty || len(hash) != maxDifficulty {
		return false
	}

	return strings.HasPrefix(hash, strings.Repeat("0", difficulty))
}

// =============================================================================

// VerifyPOW recomputes the block hash and checks it against the stored
// value and the block's own stated difficulty.
func (b Block) VerifyPOW() error {
	hash := b.ComputeHash()
	if hash != b.Hash {
		return fmt.Errorf("%w: stored hash %s does not match recomputation %s", ErrInvalidProofOfWork, b.Hash, hash)
	}

	if !MeetsDifficulty(b.Hash, b.Difficulty) {
		return fmt.Errorf("%w: hash %s does not meet difficulty %d", ErrInvalidProofOfWork, b.Hash, b.Difficulty)
	}

	return nil
}

// ValidateBlock checks the block stands on its own and links to the
// specified parent. Transaction level rules are applied by the consensus
// package since they need balance state.
func (b Block) ValidateBlock(parent Block) error {
	if err := b.VerifyPOW(); err != nil {
		return err
	}

	if b.Index != parent.Index+1 {
		return fmt.Errorf("%w: block index %d is not next after %d", ErrChainLinkMismatch, b.Index, parent.Index)
	}

	if b.PrevHash != parent.Hash {
		return fmt.Errorf("%w: previous hash %s does not match parent %s", ErrChainLinkMismatch, b.PrevHash, parent.Hash)
	}

	return nil
}
