// Package peer maintains the set of known peers and their status.
package peer

import (
	"fmt"
	"net"
	"strconv"
	"sync"
)

// Peer represents information about a node in the network.
type Peer struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// New constructs a new peer value.
func New(host string, port int) Peer {
	return Peer{
		Host: host,
		Port: port,
	}
}

// Parse converts a "host:port" string into a peer value.
func Parse(hostPort string) (Peer, error) {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return Peer{}, fmt.Errorf("parsing peer %q: %w", hostPort, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Peer{}, fmt.Errorf("parsing peer port %q: %w", portStr, err)
	}

	return New(host, port), nil
}

// Addr returns the dialable address for the peer.
func (p Peer) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Match validates if the specified peer matches this peer.
func (p Peer) Match(other Peer) bool {
	return p.Host == other.Host && p.Port == other.Port
}

// String implements the fmt.Stringer interface.
func (p Peer) String() string {
	return p.Addr()
}

// =============================================================================

// Status carries the per peer bookkeeping the node maintains.
type Status struct {
	Peer     Peer  `json:"peer"`
	LastSeen int64 `json:"last_seen"`
}

// PeerSet represents the data representation to maintain a set of known
// peers, deduplicated by host and port.
type PeerSet struct {
	mu  sync.RWMutex
	set map[Peer]*Status
}

// NewPeerSet constructs a new set to manage node peer information.
func NewPeerSet() *PeerSet {
	return &PeerSet{
		set: make(map[Peer]*Status),
	}
}

// Add adds a new peer to the set. It reports true when the peer was not
// already known.
func (ps *PeerSet) Add(peer Peer) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, exists := ps.set[peer]; exists {
		return false
	}

	ps.set[peer] = &Status{Peer: peer}
	return true
}

// Remove removes a peer from the set.
func (ps *PeerSet) Remove(peer Peer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delete(ps.set, peer)
}

// Touch records when the peer was last heard from.
func (ps *PeerSet) Touch(peer Peer, lastSeen int64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if status, exists := ps.set[peer]; exists {
		status.LastSeen = lastSeen
	}
}

// Contains reports whether the peer is known.
func (ps *PeerSet) Contains(peer Peer) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	_, exists := ps.set[peer]
	return exists
}

// Copy returns a list of the known peers, excluding the specified self
// peer so a node never dials itself.
func (ps *PeerSet) Copy(self Peer) []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	peers := make([]Peer, 0, len(ps.set))
	for peer := range ps.set {
		if !peer.Match(self) {
			peers = append(peers, peer)
		}
	}

	return peers
}

// Statuses returns the per peer bookkeeping for every known peer.
func (ps *PeerSet) Statuses() []Status {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	statuses := make([]Status, 0, len(ps.set))
	for _, status := range ps.set {
		statuses = append(statuses, *status)
	}

	return statuses
}
