// Package genesis maintains access to the genesis settings for the chain.
package genesis

import (
	"encoding/json"
	"os"
	"time"
)

// Genesis represents the fixed settings every node on the network must
// agree on. The genesis block is derived from these values, so two nodes
// configured differently will never share an ancestor.
type Genesis struct {
	Date            time.Time     `json:"date"`              // Timestamp stamped into the genesis block.
	ChainName       string        `json:"chain_name"`        // Human readable name for this running network.
	StartDifficulty int           `json:"start_difficulty"`  // Leading hex zeros required until the first adjustment.
	TargetBlockTime time.Duration `json:"target_block_time"` // Desired average time between blocks.
	AdjustInterval  int           `json:"adjust_interval"`   // Number of blocks between difficulty adjustments.
	BaseReward      float64       `json:"base_reward"`       // Coinbase reward before any halving.
	HalvingInterval uint64        `json:"halving_interval"`  // Number of blocks between reward halvings.
	TransPerBlock   int           `json:"trans_per_block"`   // Maximum number of transactions in a block.
}

// Default returns the settings for the main network.
func Default() Genesis {
	return Genesis{
		Date:            time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		ChainName:       "annalink-main",
		StartDifficulty: 4,
		TargetBlockTime: 600 * time.Second,
		AdjustInterval:  10,
		BaseReward:      50,
		HalvingInterval: 210_000,
		TransPerBlock:   100,
	}
}

// Load opens and consumes a genesis file.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	if err := json.Unmarshal(content, &genesis); err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}
