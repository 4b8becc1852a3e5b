package database

// ChainState represents the summary document persisted alongside the
// blocks so a restarting node can sanity check what it reads back.
type ChainState struct {
	Height     uint64 `json:"height"`
	Difficulty int    `json:"difficulty"`
}

// Storage interface represents the behavior required to be implemented by
// any package providing support for persisting the blockchain. The chain
// state document is written together with the blocks in SaveBlock and
// ResetChain so the two can never disagree after a partial failure.
type Storage interface {
	LoadChain() ([]Block, error)
	SaveBlock(block Block, state ChainState) error
	ResetChain(blocks []Block, state ChainState) error
	LoadChainState() (ChainState, error)
	LoadMempool() ([]Tx, error)
	SaveMempool(trans []Tx) error
	Close() error
}
