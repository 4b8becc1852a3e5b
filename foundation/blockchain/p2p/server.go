package p2p

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/database"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/peer"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/state"
)

// readTimeout bounds how long an idle peer connection is held open.
const readTimeout = 90 * time.Second

// Server accepts peer connections and serves the node protocol.
type Server struct {
	state     *state.State
	evHandler state.EventHandler

	listener net.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	shutdown bool
}

// NewServer constructs a server around the state API.
func NewServer(st *state.State, evHandler state.EventHandler) *Server {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	return &Server{
		state:     st,
		evHandler: ev,
		conns:     make(map[net.Conn]struct{}),
	}
}

// Run binds the node's peer address and serves connections until Shutdown.
// It blocks, so callers run it on its own goroutine.
func (srv *Server) Run() error {
	listener, err := net.Listen("tcp", srv.state.Host().Addr())
	if err != nil {
		return fmt.Errorf("binding peer listener: %w", err)
	}

	srv.mu.Lock()
	if srv.shutdown {
		srv.mu.Unlock()
		listener.Close()
		return nil
	}
	srv.listener = listener
	srv.mu.Unlock()

	srv.evHandler("p2p: server: listening on %s", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			srv.mu.Lock()
			down := srv.shutdown
			srv.mu.Unlock()
			if down {
				return nil
			}
			return fmt.Errorf("accepting peer connection: %w", err)
		}

		srv.mu.Lock()
		if srv.shutdown {
			srv.mu.Unlock()
			conn.Close()
			continue
		}
		srv.conns[conn] = struct{}{}
		srv.mu.Unlock()

		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			defer func() {
				srv.mu.Lock()
				delete(srv.conns, conn)
				srv.mu.Unlock()
			}()
			srv.handle(conn)
		}()
	}
}

// Shutdown stops accepting connections and waits for in-flight handlers.
func (srv *Server) Shutdown() {
	srv.evHandler("p2p: server: shutdown: started")
	defer srv.evHandler("p2p: server: shutdown: completed")

	srv.mu.Lock()
	srv.shutdown = true
	listener := srv.listener
	for conn := range srv.conns {
		conn.Close()
	}
	srv.mu.Unlock()

	if listener != nil {
		listener.Close()
	}

	srv.wg.Wait()
}

// =============================================================================

// handle speaks the protocol on a single peer connection. The first message
// must be a handshake; any violation closes the connection.
func (srv *Server) handle(conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	srv.evHandler("p2p: server: %s: connected", remote)

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	msg, err := ReadMessage(conn)
	if err != nil {
		srv.evHandler("p2p: server: %s: %s", remote, err)
		return
	}
	if msg.Type != TypeHandshake {
		srv.evHandler("p2p: server: %s: %s: expected handshake, got %s", remote, ErrProtocolViolation, msg.Type)
		return
	}

	var hs HandshakePayload
	if err := msg.Decode(&hs); err != nil {
		srv.evHandler("p2p: server: %s: %s", remote, err)
		return
	}

	// The dialer's listen port plus the address it dialed from identify
	// it as a peer we can dial back.
	if hs.ListenPort > 0 {
		host, _, err := net.SplitHostPort(remote)
		if err == nil {
			p := peer.New(host, hs.ListenPort)
			if srv.state.AddKnownPeer(p) {
				srv.evHandler("p2p: server: %s: discovered peer %s", remote, p)
			}
			srv.state.TouchKnownPeer(p, time.Now().Unix())
		}
	}

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		msg, err := ReadMessage(conn)
		if err != nil {
			srv.evHandler("p2p: server: %s: closing: %s", remote, err)
			return
		}

		if err := srv.dispatch(conn, msg); err != nil {
			srv.evHandler("p2p: server: %s: %s", remote, err)
			if errors.Is(err, ErrProtocolViolation) {
				return
			}
		}
	}
}

// dispatch applies a single message against the state API, writing a reply
// for the request/response pairs.
func (srv *Server) dispatch(conn net.Conn, msg Message) error {
	switch msg.Type {

	case TypeGetBlocks:
		var req GetBlocksPayload
		if err := msg.Decode(&req); err != nil {
			return err
		}
		reply, err := NewMessage(TypeBlocks, BlocksPayload{Blocks: srv.state.BlocksFrom(req.FromIndex)})
		if err != nil {
			return err
		}
		return WriteMessage(conn, reply)

	case TypeGetPeers:
		reply, err := NewMessage(TypePeers, PeersPayload{Peers: srv.state.KnownPeers()})
		if err != nil {
			return err
		}
		return WriteMessage(conn, reply)

	case TypeNewBlock:
		var req NewBlockPayload
		if err := msg.Decode(&req); err != nil {
			return err
		}
		if err := srv.state.ProcessPeerBlock(req.Block); err != nil {
			switch {
			case errors.Is(err, state.ErrBlockKnown):
				return nil
			case errors.Is(err, database.ErrChainLinkMismatch):
				// The block may extend a chain we have not caught up
				// with yet.
				if srv.state.Worker != nil {
					srv.state.Worker.SignalSync()
				}
				return nil
			}
			return err
		}
		return nil

	case TypeNewTransaction:
		var req NewTxPayload
		if err := msg.Decode(&req); err != nil {
			return err
		}
		if _, err := srv.state.SubmitPeerTransaction(req.Transaction); err != nil {
			return err
		}
		return nil

	case TypeHandshake:
		// A second handshake on an open connection is harmless.
		return nil
	}

	return fmt.Errorf("%w: unknown message type %q", ErrProtocolViolation, msg.Type)
}
