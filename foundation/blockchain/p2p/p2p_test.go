package p2p_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/database"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/database/storage/memory"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/genesis"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/p2p"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/peer"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/signature"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/state"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/worker"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	success = "✓"
	failed  = "✗"
)

func Test_Framing(t *testing.T) {
	t.Log("Given the need to frame messages on a byte stream.")

	msg, err := p2p.NewMessage(p2p.TypeGetBlocks, p2p.GetBlocksPayload{FromIndex: 42})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct a message: %v", failed, err)
	}

	var buf bytes.Buffer
	if err := p2p.WriteMessage(&buf, msg); err != nil {
		t.Fatalf("\t%s\tShould be able to write a frame: %v", failed, err)
	}

	got, err := p2p.ReadMessage(&buf)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to read the frame back: %v", failed, err)
	}
	t.Logf("\t%s\tShould be able to read the frame back.", success)

	if got.Type != p2p.TypeGetBlocks {
		t.Fatalf("\t%s\tShould preserve the message type: got %q", failed, got.Type)
	}

	var payload p2p.GetBlocksPayload
	if err := got.Decode(&payload); err != nil {
		t.Fatalf("\t%s\tShould decode the payload: %v", failed, err)
	}
	if payload.FromIndex != 42 {
		t.Fatalf("\t%s\tShould preserve the payload: got %d", failed, payload.FromIndex)
	}
	t.Logf("\t%s\tShould preserve the type and payload.", success)

	// A frame claiming an absurd size is a violation, not an allocation.
	bad := bytes.NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	if _, err := p2p.ReadMessage(bad); !errors.Is(err, p2p.ErrProtocolViolation) {
		t.Fatalf("\t%s\tShould reject an oversized frame: %v", failed, err)
	}
	t.Logf("\t%s\tShould reject an oversized frame.", success)

	empty := bytes.NewReader([]byte{0x00, 0x00, 0x00, 0x00})
	if _, err := p2p.ReadMessage(empty); !errors.Is(err, p2p.ErrProtocolViolation) {
		t.Fatalf("\t%s\tShould reject an empty frame: %v", failed, err)
	}
	t.Logf("\t%s\tShould reject an empty frame.", success)
}

func Test_HandshakeRequired(t *testing.T) {
	t.Log("Given the need to reject peers that skip the handshake.")

	g := testGenesis()
	_, addr := newAccount(t)

	st, srv := startNode(t, g, addr, nil)
	defer srv.Shutdown()
	defer st.Shutdown()

	conn := dialRaw(t, st.Host())
	defer conn.Close()

	msg, err := p2p.NewMessage(p2p.TypeGetPeers, nil)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct a message: %v", failed, err)
	}
	if err := p2p.WriteMessage(conn, msg); err != nil {
		t.Fatalf("\t%s\tShould be able to write the message: %v", failed, err)
	}

	// The server closes the connection without a reply.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := p2p.ReadMessage(conn); err == nil {
		t.Fatalf("\t%s\tShould have the connection closed on us.", failed)
	}
	t.Logf("\t%s\tShould have the connection closed on us.", success)
}

func Test_TwoNodeSync(t *testing.T) {
	t.Log("Given the need for two nodes to reconcile over the wire.")

	g := testGenesis()

	keyA, addrA := newAccount(t)
	_, addrB := newAccount(t)

	// Node one mines a couple of blocks on its own.
	st1, srv1 := startNode(t, g, addrA, nil)
	defer srv1.Shutdown()
	defer st1.Shutdown()

	for i := 0; i < 2; i++ {
		if _, err := st1.MineNewBlock(context.Background()); err != nil {
			t.Fatalf("\t%s\tShould be able to mine on node one: %v", failed, err)
		}
	}

	// Node two starts knowing node one and pulls the chain on startup.
	st2, srv2 := startNode(t, g, addrA, []peer.Peer{st1.Host()})
	defer srv2.Shutdown()
	defer st2.Shutdown()

	worker.Run(st2, nil)

	if st2.LatestBlock().Index != 2 {
		t.Fatalf("\t%s\tShould have pulled the chain on startup: height %d", failed, st2.LatestBlock().Index)
	}
	t.Logf("\t%s\tShould have pulled the chain on startup.", success)

	// A transaction submitted to node two reaches node one's mempool,
	// and the block node two mines from it reaches node one's chain.
	tx, err := database.NewTx(keyA, addrB, 10, 1)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct a transaction: %v", failed, err)
	}
	if err := st2.SubmitTransaction(tx); err != nil {
		t.Fatalf("\t%s\tShould be able to submit on node two: %v", failed, err)
	}

	waitFor(t, "node one to reach height 3", func() bool {
		return st1.LatestBlock().Index == 3
	})
	t.Logf("\t%s\tShould propagate the mined block to node one.", success)

	if got := st1.BalanceOf(addrB); got != 10 {
		t.Fatalf("\t%s\tShould agree on the receiver balance: got %v", failed, got)
	}
	t.Logf("\t%s\tShould agree on the receiver balance.", success)
}

// =============================================================================

func testGenesis() genesis.Genesis {
	g := genesis.Default()
	g.StartDifficulty = 1
	return g
}

func newAccount(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a key: %v", failed, err)
	}

	address, err := signature.DeriveAddress(signature.PublicKeyString(&privateKey.PublicKey))
	if err != nil {
		t.Fatalf("\t%s\tShould be able to derive an address: %v", failed, err)
	}

	return privateKey, address
}

// startNode brings up a state and its peer server on a free localhost port.
func startNode(t *testing.T, g genesis.Genesis, miner string, knownPeers []peer.Peer) (*state.State, *p2p.Server) {
	t.Helper()

	stor, err := memory.New()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct storage: %v", failed, err)
	}

	peerSet := peer.NewPeerSet()
	for _, p := range knownPeers {
		peerSet.Add(p)
	}

	st, err := state.New(state.Config{
		MinerAddress: miner,
		Host:         peer.New("127.0.0.1", freePort(t)),
		Genesis:      g,
		Storage:      stor,
		KnownPeers:   peerSet,
		SyncInterval: 250 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the state: %v", failed, err)
	}

	srv := p2p.NewServer(st, nil)
	go srv.Run()

	// Wait for the listener to come up.
	waitFor(t, "the server to accept connections", func() bool {
		conn, err := net.DialTimeout("tcp", st.Host().Addr(), time.Second)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	})

	return st, srv
}

func freePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("\t%s\tShould be able to find a free port: %v", failed, err)
	}
	defer l.Close()

	return l.Addr().(*net.TCPAddr).Port
}

func dialRaw(t *testing.T, target peer.Peer) net.Conn {
	t.Helper()

	conn, err := net.DialTimeout("tcp", target.Addr(), time.Second)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to dial the server: %v", failed, err)
	}

	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}

	t.Fatalf("\t%s\tTimed out waiting for %s.", failed, what)
}
