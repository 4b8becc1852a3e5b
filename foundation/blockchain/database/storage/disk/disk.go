// Package disk implements the database.Storage interface on top of a
// LevelDB key/value store.
package disk

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/database"
)

// Key layout: blocks live under a "b" prefix keyed by their big endian
// block number so iteration returns them in chain order. The chain state
// and mempool documents live under fixed keys.
var (
	blockPrefix   = []byte("b")
	chainStateKey = []byte("chainstate")
	mempoolKey    = []byte("mempool")
)

// Disk represents the LevelDB backed storage implementation.
type Disk struct {
	db *leveldb.DB
}

// New opens or creates the LevelDB database at the specified path.
func New(dbPath string) (*Disk, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("opening leveldb at %q: %w", dbPath, err)
	}

	return &Disk{db: db}, nil
}

// Close releases the database handle.
func (d *Disk) Close() error {
	return d.db.Close()
}

// =============================================================================

// LoadChain reads every stored block in chain order.
func (d *Disk) LoadChain() ([]database.Block, error) {
	var blocks []database.Block

	iter := d.db.NewIterator(util.BytesPrefix(blockPrefix), nil)
	defer iter.Release()

	for iter.Next() {
		var block database.Block
		if err := json.Unmarshal(iter.Value(), &block); err != nil {
			return nil, fmt.Errorf("decoding block: %w", err)
		}
		blocks = append(blocks, block)
	}

	if err := iter.Error(); err != nil {
		return nil, err
	}

	return blocks, nil
}

// SaveBlock persists one block under its block number together with the
// chain state document in a single batch, so the store never holds a
// block the state does not acknowledge.
func (d *Disk) SaveBlock(block database.Block, state database.ChainState) error {
	data, err := json.Marshal(block)
	if err != nil {
		return err
	}
	stateData, err := json.Marshal(state)
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Put(blockKey(block.Index), data)
	batch.Put(chainStateKey, stateData)

	return d.db.Write(batch, nil)
}

// ResetChain drops every stored block and writes the replacement chain
// and its chain state. The whole operation is applied as one batch so a
// crash cannot leave a half replaced chain behind.
func (d *Disk) ResetChain(blocks []database.Block, state database.ChainState) error {
	batch := new(leveldb.Batch)

	iter := d.db.NewIterator(util.BytesPrefix(blockPrefix), nil)
	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		batch.Delete(key)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}

	for _, block := range blocks {
		data, err := json.Marshal(block)
		if err != nil {
			return err
		}
		batch.Put(blockKey(block.Index), data)
	}

	stateData, err := json.Marshal(state)
	if err != nil {
		return err
	}
	batch.Put(chainStateKey, stateData)

	return d.db.Write(batch, nil)
}

// LoadChainState reads the persisted chain summary.
func (d *Disk) LoadChainState() (database.ChainState, error) {
	data, err := d.db.Get(chainStateKey, nil)
	if err != nil {
		return database.ChainState{}, err
	}

	var state database.ChainState
	if err := json.Unmarshal(data, &state); err != nil {
		return database.ChainState{}, err
	}

	return state, nil
}

// LoadMempool reads the pending transactions persisted at shutdown.
func (d *Disk) LoadMempool() ([]database.Tx, error) {
	data, err := d.db.Get(mempoolKey, nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	var trans []database.Tx
	if err := json.Unmarshal(data, &trans); err != nil {
		return nil, err
	}

	return trans, nil
}

// SaveMempool persists the pending transactions for reload on restart.
func (d *Disk) SaveMempool(trans []database.Tx) error {
	data, err := json.Marshal(trans)
	if err != nil {
		return err
	}

	return d.db.Put(mempoolKey, data, nil)
}

// =============================================================================

// blockKey builds the ordered key for a block number.
func blockKey(number uint64) []byte {
	key := make([]byte, len(blockPrefix)+8)
	copy(key, blockPrefix)
	binary.BigEndian.PutUint64(key[len(blockPrefix):], number)

	return key
}
