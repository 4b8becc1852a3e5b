package p2p

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/database"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/peer"
)

// opTimeout bounds a single request/response exchange with a peer.
const opTimeout = 10 * time.Second

// Client is one node's side of a connection to another node. A client
// always opens with a handshake announcing its own listen port.
type Client struct {
	conn   net.Conn
	target peer.Peer
}

// Dial connects to the target peer and performs the handshake.
func Dial(ctx context.Context, target peer.Peer, self peer.Peer) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return nil, fmt.Errorf("dialing peer %s: %w", target, err)
	}

	msg, err := NewMessage(TypeHandshake, HandshakePayload{ListenPort: self.Port})
	if err != nil {
		conn.Close()
		return nil, err
	}

	conn.SetWriteDeadline(time.Now().Add(opTimeout))
	if err := WriteMessage(conn, msg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake with peer %s: %w", target, err)
	}

	return &Client{conn: conn, target: target}, nil
}

// Close terminates the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// RequestBlocks asks the peer for its blocks from the specified index
// onward. An empty result means the peer has nothing past that index.
func (c *Client) RequestBlocks(fromIndex uint64) ([]database.Block, error) {
	var reply BlocksPayload
	if err := c.roundTrip(TypeGetBlocks, GetBlocksPayload{FromIndex: fromIndex}, TypeBlocks, &reply); err != nil {
		return nil, err
	}
	return reply.Blocks, nil
}

// RequestPeers asks the peer for the other nodes it knows about.
func (c *Client) RequestPeers() ([]peer.Peer, error) {
	var reply PeersPayload
	if err := c.roundTrip(TypeGetPeers, nil, TypePeers, &reply); err != nil {
		return nil, err
	}
	return reply.Peers, nil
}

// SendNewBlock announces a block to the peer. There is no reply.
func (c *Client) SendNewBlock(block database.Block) error {
	return c.send(TypeNewBlock, NewBlockPayload{Block: block})
}

// SendNewTransaction relays a transaction to the peer. There is no reply.
func (c *Client) SendNewTransaction(tx database.Tx) error {
	return c.send(TypeNewTransaction, NewTxPayload{Transaction: tx})
}

// =============================================================================

func (c *Client) send(msgType string, payload any) error {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}

	c.conn.SetWriteDeadline(time.Now().Add(opTimeout))
	if err := WriteMessage(c.conn, msg); err != nil {
		return fmt.Errorf("sending %s to peer %s: %w", msgType, c.target, err)
	}

	return nil
}

func (c *Client) roundTrip(reqType string, payload any, replyType string, into any) error {
	if err := c.send(reqType, payload); err != nil {
		return err
	}

	c.conn.SetReadDeadline(time.Now().Add(opTimeout))
	reply, err := ReadMessage(c.conn)
	if err != nil {
		return fmt.Errorf("reading %s reply from peer %s: %w", reqType, c.target, err)
	}
	if reply.Type != replyType {
		return fmt.Errorf("%w: expected %s reply, got %s", ErrProtocolViolation, replyType, reply.Type)
	}

	return reply.Decode(into)
}
