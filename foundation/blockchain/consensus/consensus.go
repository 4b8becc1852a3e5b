// Package consensus implements the chain policy rules: difficulty
// adjustment, the coinbase reward schedule, and full validation of blocks
// and candidate chains against those rules.
package consensus

import (
	"fmt"
	"math"
	"time"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/database"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/genesis"
)

// NextDifficulty returns the difficulty the next block appended to the
// chain must carry. The value is recomputed every AdjustInterval blocks by
// scaling the tip difficulty proportionally to how the actual block time
// over the window compares to the target. One adjustment can at most halve
// or double the difficulty and the result never drops below one.
func NextDifficulty(g genesis.Genesis, chain []database.Block) int {
	tip := chain[len(chain)-1]

	if len(chain)%g.AdjustInterval != 0 {
		return tip.Difficulty
	}

	// Not enough history to measure a full window yet.
	if len(chain) <= g.AdjustInterval {
		return tip.Difficulty
	}

	anchor := chain[len(chain)-1-g.AdjustInterval]
	actual := time.Duration(tip.Timestamp-anchor.Timestamp) * time.Second
	if actual <= 0 {
		actual = time.Second
	}
	expected := time.Duration(g.AdjustInterval) * g.TargetBlockTime

	scaled := int(math.Round(float64(tip.Difficulty) * float64(expected) / float64(actual)))

	return clampDifficulty(scaled, tip.Difficulty)
}

// RewardForHeight returns the coinbase amount for a block at the specified
// height: the base reward halved once per halving interval.
func RewardForHeight(g genesis.Genesis, height uint64) float64 {
	halvings := height / g.HalvingInterval
	if halvings > 63 {
		return 0
	}

	return g.BaseReward / float64(uint64(1)<<halvings)
}

// clampDifficulty bounds one adjustment step so difficulty cannot collapse
// to zero or diverge unboundedly.
func clampDifficulty(next int, previous int) int {
	if next > previous*2 {
		next = previous * 2
	}
	if next < previous/2 {
		next = previous / 2
	}
	if next < 1 {
		next = 1
	}

	return next
}

// =============================================================================

// ValidateNextBlock applies the full acceptance rules for appending the
// block on top of the preceding chain: structural proof of work and link
// checks, the difficulty policy for the block's position, and every
// contained transaction re-validated against the balance state implied by
// the preceding chain plus transactions earlier in the same block.
func ValidateNextBlock(g genesis.Genesis, chain []database.Block, block database.Block) error {
	parent := chain[len(chain)-1]
	if err := block.ValidateBlock(parent); err != nil {
		return err
	}

	if mandated := NextDifficulty(g, chain); block.Difficulty < mandated {
		return fmt.Errorf("%w: block difficulty %d is below the mandated %d", database.ErrInvalidProofOfWork, block.Difficulty, mandated)
	}

	balances := database.ComputeBalances(chain)

	return validateBlockTrans(g, balances, block)
}

// ValidateChain validates a candidate chain block-by-block from genesis.
// Either the whole candidate is acceptable or an error describes the first
// block that is not; a failing candidate is never applied partially.
func ValidateChain(g genesis.Genesis, candidate []database.Block) error {
	if len(candidate) == 0 {
		return fmt.Errorf("%w: empty chain", database.ErrInvalidFormat)
	}

	gb := candidate[0]
	if gb.Index != 0 || gb.PrevHash != database.GenesisParentHash {
		return fmt.Errorf("%w: first block is not a genesis block", database.ErrChainLinkMismatch)
	}
	if gb.ComputeHash() != gb.Hash {
		return fmt.Errorf("%w: genesis block fails hash recomputation", database.ErrInvalidProofOfWork)
	}

	balances := make(map[string]float64)
	database.ApplyBlockBalances(balances, gb)

	for i := 1; i < len(candidate); i++ {
		block := candidate[i]

		if err := block.ValidateBlock(candidate[i-1]); err != nil {
			return fmt.Errorf("block %d: %w", block.Index, err)
		}

		if mandated := NextDifficulty(g, candidate[:i]); block.Difficulty < mandated {
			return fmt.Errorf("block %d: %w: difficulty %d is below the mandated %d", block.Index, database.ErrInvalidProofOfWork, block.Difficulty, mandated)
		}

		if err := validateBlockTrans(g, balances, block); err != nil {
			return fmt.Errorf("block %d: %w", block.Index, err)
		}

		database.ApplyBlockBalances(balances, block)
	}

	return nil
}

// validateBlockTrans checks each transaction in the block against the
// balance state accumulated so far. A second spend inside the same block
// sees the first one already debited, so an internal double-spend fails
// the balance check here.
func validateBlockTrans(g genesis.Genesis, balances map[string]float64, block database.Block) error {
	inBlock := make(map[string]float64)
	var coinbaseCount int

	for _, tx := range block.Transactions {
		if err := tx.VerifyIntegrity(); err != nil {
			return err
		}

		if tx.IsCoinbase() {
			coinbaseCount++
			if coinbaseCount > 1 {
				return fmt.Errorf("%w: more than one coinbase transaction", database.ErrInvalidFormat)
			}
			if reward := RewardForHeight(g, block.Index); tx.Amount != reward {
				return fmt.Errorf("%w: coinbase amount %v does not match reward %v", database.ErrInvalidFormat, tx.Amount, reward)
			}
			continue
		}

		needed := tx.Amount + tx.Fee
		available := balances[tx.Sender] + inBlock[tx.Sender]
		if available < needed {
			return fmt.Errorf("%w: sender %s has %v, needed %v", database.ErrInsufficientFunds, tx.Sender, available, needed)
		}

		inBlock[tx.Sender] -= needed
		inBlock[tx.Receiver] += tx.Amount
	}

	return nil
}
