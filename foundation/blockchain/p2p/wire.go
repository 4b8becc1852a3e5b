// Package p2p implements the node to node protocol. Messages are JSON
// documents framed on a TCP stream with a 4 byte big endian length prefix.
package p2p

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/database"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/peer"
)

// ErrProtocolViolation is returned when a peer breaks the wire rules. The
// connection carrying the violation is closed.
var ErrProtocolViolation = errors.New("protocol violation")

// maxFrameSize bounds a single message so a misbehaving peer cannot make
// us allocate without limit.
const maxFrameSize = 16 << 20

// The message types a node understands. A connection opens with a
// handshake; everything else is rejected until then.
const (
	TypeHandshake      = "handshake"
	TypeGetBlocks      = "get_blocks"
	TypeBlocks         = "blocks"
	TypeNewBlock       = "new_block"
	TypeNewTransaction = "new_transaction"
	TypeGetPeers       = "get_peers"
	TypePeers          = "peers"
)

// Message is the envelope for everything on the wire.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HandshakePayload announces the port the dialing node listens on, so the
// receiver can record it as a peer it can dial back.
type HandshakePayload struct {
	ListenPort int `json:"listen_port"`
}

// GetBlocksPayload asks for the blocks from the specified index onward.
type GetBlocksPayload struct {
	FromIndex uint64 `json:"from_index"`
}

// BlocksPayload answers a get_blocks request.
type BlocksPayload struct {
	Blocks []database.Block `json:"blocks"`
}

// NewBlockPayload announces a freshly accepted block.
type NewBlockPayload struct {
	Block database.Block `json:"block"`
}

// NewTxPayload relays a transaction for mempool admission.
type NewTxPayload struct {
	Transaction database.Tx `json:"transaction"`
}

// PeersPayload answers a get_peers request.
type PeersPayload struct {
	Peers []peer.Peer `json:"peers"`
}

// =============================================================================

// NewMessage constructs a message with the payload marshaled in place.
func NewMessage(msgType string, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: msgType}, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshaling %s payload: %w", msgType, err)
	}

	return Message{Type: msgType, Payload: data}, nil
}

// Decode unmarshals the payload into the specified value.
func (m Message) Decode(into any) error {
	if err := json.Unmarshal(m.Payload, into); err != nil {
		return fmt.Errorf("%w: bad %s payload: %v", ErrProtocolViolation, m.Type, err)
	}
	return nil
}

// WriteMessage frames and writes a single message to the stream.
func WriteMessage(w io.Writer, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	if len(data) > maxFrameSize {
		return fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrProtocolViolation, len(data))
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))

	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("writing frame prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}

	return nil
}

// ReadMessage reads a single framed message from the stream.
func ReadMessage(r io.Reader) (Message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Message{}, fmt.Errorf("reading frame prefix: %w", err)
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size == 0 || size > maxFrameSize {
		return Message{}, fmt.Errorf("%w: frame of %d bytes", ErrProtocolViolation, size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return Message{}, fmt.Errorf("reading frame: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: bad message envelope: %v", ErrProtocolViolation, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: message without a type", ErrProtocolViolation)
	}

	return msg, nil
}
