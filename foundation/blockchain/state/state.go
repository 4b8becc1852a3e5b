// Package state is the core API for the blockchain and implements all the
// business rules and processing. Every mutation of the chain or the mempool
// goes through here so the rules are applied under one lock.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/database"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/genesis"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/mempool"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/peer"
)

// ErrRejectedFork is returned when a foreign chain does not beat the chain
// we already hold.
var ErrRejectedFork = errors.New("foreign chain rejected")

// ErrBlockKnown is returned when a peer block is already part of the chain.
var ErrBlockKnown = errors.New("block already known")

// =============================================================================

// EventHandler defines a function that is called when events occur in the
// processing of transactions and blocks.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by
// any package providing support for mining, peer updates, and sharing.
type Worker interface {
	Shutdown()
	Sync()
	SignalSync()
	SignalStartMining()
	SignalCancelMining() (done func())
	SignalShareTx(tx database.Tx)
	SignalShareBlock(block database.Block)
}

// =============================================================================

// Config represents the configuration required to start the blockchain node.
type Config struct {
	MinerAddress string
	Host         peer.Peer
	Genesis      genesis.Genesis
	Storage      database.Storage
	KnownPeers   *peer.PeerSet
	SyncInterval time.Duration
	EvHandler    EventHandler
}

// State manages the blockchain database and mempool.
type State struct {
	mu sync.Mutex

	minerAddress string
	host         peer.Peer
	genesis      genesis.Genesis
	syncInterval time.Duration
	evHandler    EventHandler

	knownPeers *peer.PeerSet
	storage    database.Storage
	mempool    *mempool.Mempool
	db         *database.Database

	minersMu    sync.Mutex
	minerSeq    int
	minerCancel map[int]context.CancelFunc

	Worker Worker
}

// New constructs a new blockchain for transaction and block processing.
func New(cfg Config) (*State, error) {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	db, err := database.New(cfg.Genesis, cfg.Storage, ev)
	if err != nil {
		return nil, err
	}

	state := State{
		minerAddress: cfg.MinerAddress,
		host:         cfg.Host,
		genesis:      cfg.Genesis,
		syncInterval: cfg.SyncInterval,
		evHandler:    ev,

		knownPeers: cfg.KnownPeers,
		storage:    cfg.Storage,
		mempool:    mempool.New(),
		db:         db,

		minerCancel: make(map[int]context.CancelFunc),
	}

	// Transactions persisted by a previous run are re-admitted under the
	// current chain state. Anything committed or no longer fundable is
	// dropped here.
	pending, err := cfg.Storage.LoadMempool()
	if err != nil {
		return nil, fmt.Errorf("%w: loading mempool: %v", database.ErrStorageUnavailable, err)
	}
	for _, tx := range pending {
		if err := state.admitTransaction(tx); err != nil {
			ev("state: New: dropping persisted transaction %s: %s", tx.TxID, err)
		}
	}

	return &state, nil
}

// Shutdown cleanly brings the node down. The mempool is persisted so
// pending transactions survive a restart.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	defer s.db.Close()

	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	if err := s.storage.SaveMempool(s.mempool.Values()); err != nil {
		return fmt.Errorf("%w: persisting mempool: %v", database.ErrStorageUnavailable, err)
	}

	return nil
}

// =============================================================================

// registerMining tracks an in-flight nonce search so a competing block can
// interrupt it no matter where the search was started from.
func (s *State) registerMining(cancel context.CancelFunc) int {
	s.minersMu.Lock()
	defer s.minersMu.Unlock()

	s.minerSeq++
	s.minerCancel[s.minerSeq] = cancel

	return s.minerSeq
}

// unregisterMining drops a finished search from the registry.
func (s *State) unregisterMining(id int) {
	s.minersMu.Lock()
	defer s.minersMu.Unlock()

	delete(s.minerCancel, id)
}

// interruptMining cancels every in-flight nonce search.
func (s *State) interruptMining() {
	s.minersMu.Lock()
	defer s.minersMu.Unlock()

	for _, cancel := range s.minerCancel {
		cancel()
	}
}
