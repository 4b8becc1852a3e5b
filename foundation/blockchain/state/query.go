package state

import (
	"time"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/database"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/genesis"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/peer"
)

// Stats is a point-in-time summary of the node.
type Stats struct {
	Height     uint64 `json:"height"`
	Length     int    `json:"length"`
	Difficulty int    `json:"difficulty"`
	LatestHash string `json:"latest_hash"`
	Pending    int    `json:"pending"`
	KnownPeers int    `json:"known_peers"`
}

// Genesis returns a copy of the genesis settings.
func (s *State) Genesis() genesis.Genesis {
	return s.genesis
}

// Host returns the peer identity of this node.
func (s *State) Host() peer.Peer {
	return s.host
}

// MinerAddress returns the address receiving mining rewards.
func (s *State) MinerAddress() string {
	return s.minerAddress
}

// SyncInterval returns how often the node reconciles with its peers.
func (s *State) SyncInterval() time.Duration {
	return s.syncInterval
}

// LatestBlock returns the current tip of the chain.
func (s *State) LatestBlock() database.Block {
	return s.db.LatestBlock()
}

// Chain returns a copy of the full chain.
func (s *State) Chain() []database.Block {
	return s.db.Chain()
}

// BlocksFrom returns the blocks from the specified index onward.
func (s *State) BlocksFrom(index uint64) []database.Block {
	return s.db.BlocksFrom(index)
}

// GetBlock returns the block at the specified index.
func (s *State) GetBlock(index uint64) (database.Block, error) {
	return s.db.GetBlock(index)
}

// BalanceOf returns the confirmed balance for the address.
func (s *State) BalanceOf(address string) float64 {
	return s.db.BalanceOf(address)
}

// MempoolValues returns the pending transactions in admission order.
func (s *State) MempoolValues() []database.Tx {
	return s.mempool.Values()
}

// MempoolCount returns the number of pending transactions.
func (s *State) MempoolCount() int {
	return s.mempool.Count()
}

// ChainStats summarizes the node for the stats endpoint.
func (s *State) ChainStats() Stats {
	tip := s.db.LatestBlock()

	return Stats{
		Height:     tip.Index,
		Length:     s.db.Length(),
		Difficulty: tip.Difficulty,
		LatestHash: tip.Hash,
		Pending:    s.mempool.Count(),
		KnownPeers: len(s.knownPeers.Copy(s.host)),
	}
}

// =============================================================================

// KnownPeers returns the peers this node knows about, excluding itself.
func (s *State) KnownPeers() []peer.Peer {
	return s.knownPeers.Copy(s.host)
}

// PeerStatuses returns the peers with their last contact times.
func (s *State) PeerStatuses() []peer.Status {
	return s.knownPeers.Statuses()
}

// AddKnownPeer records a peer, reporting whether it was new. The node
// never records itself.
func (s *State) AddKnownPeer(p peer.Peer) bool {
	if p.Match(s.host) {
		return false
	}
	return s.knownPeers.Add(p)
}

// RemoveKnownPeer drops a peer that is no longer reachable.
func (s *State) RemoveKnownPeer(p peer.Peer) {
	s.knownPeers.Remove(p)
}

// TouchKnownPeer updates the last contact time for a peer.
func (s *State) TouchKnownPeer(p peer.Peer, lastSeen int64) {
	s.knownPeers.Touch(p, lastSeen)
}
