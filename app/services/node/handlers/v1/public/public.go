// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/CalfCrusher/Annalink/business/web/errs"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/database"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/signature"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/state"
	"github.com/CalfCrusher/Annalink/foundation/events"
	"github.com/CalfCrusher/Annalink/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of public node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// SubmitWalletTransaction adds a new wallet transaction to the mempool.
func (h Handlers) SubmitWalletTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var st submitTx
	if err := web.Decode(r, &st); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	tx := st.toDatabaseTx()

	h.Log.Infow("add wallet tran", "traceid", v.TraceID, "txid", tx.TxID, "sender", tx.Sender, "receiver", tx.Receiver, "amount", tx.Amount, "fee", tx.Fee)
	if err := h.State.SubmitTransaction(tx); err != nil {
		return errs.NewTrusted(err, errStatus(err))
	}

	resp := struct {
		Status string `json:"status"`
		TxID   string `json:"txid"`
	}{
		Status: "transaction added to mempool",
		TxID:   tx.TxID,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Mine performs one mining operation and returns the mined block. It exists
// so an operator can mine on demand; the background miner picks up pending
// transactions on its own. A competing block arriving from a peer cancels
// the search, which surfaces here as a conflict.
func (h Handlers) Mine(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	block, err := h.State.MineNewBlock(r.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errs.NewTrusted(errors.New("mining interrupted by a competing block"), http.StatusConflict)
		}
		return errs.NewTrusted(err, errStatus(err))
	}

	return web.Respond(ctx, w, block, http.StatusOK)
}

// Genesis returns the genesis information.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	gen := h.State.Genesis()
	return web.Respond(ctx, w, gen, http.StatusOK)
}

// ChainStats returns a summary of the node.
func (h Handlers) ChainStats(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	stats := h.State.ChainStats()
	return web.Respond(ctx, w, stats, http.StatusOK)
}

// BlockByIndex returns the block at the specified index.
func (h Handlers) BlockByIndex(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	index, err := strconv.ParseUint(web.Param(r, "index"), 10, 64)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("invalid block index: %w", err), http.StatusBadRequest)
	}

	block, err := h.State.GetBlock(index)
	if err != nil {
		return errs.NewTrusted(err, errStatus(err))
	}

	return web.Respond(ctx, w, block, http.StatusOK)
}

// BlocksFrom returns the blocks from the specified index onward.
func (h Handlers) BlocksFrom(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	from, err := strconv.ParseUint(web.Param(r, "from"), 10, 64)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("invalid block index: %w", err), http.StatusBadRequest)
	}

	blocks := h.State.BlocksFrom(from)
	if blocks == nil {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}

// Balance returns the confirmed balance for an address.
func (h Handlers) Balance(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	address := web.Param(r, "address")
	if err := signature.ValidateAddress(address); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	resp := balance{
		Address:   address,
		Confirmed: h.State.BalanceOf(address),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Mempool returns the set of uncommitted transactions.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	txs := h.State.MempoolValues()
	return web.Respond(ctx, w, txs, http.StatusOK)
}

// Peers returns the known peers and their last contact times.
func (h Handlers) Peers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	statuses := h.State.PeerStatuses()
	return web.Respond(ctx, w, statuses, http.StatusOK)
}

// =============================================================================

// errStatus maps the domain sentinels to HTTP status codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, database.ErrBlockNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrStorageUnavailable):
		return http.StatusInternalServerError
	case errors.Is(err, database.ErrInvalidFormat),
		errors.Is(err, database.ErrInvalidSignature),
		errors.Is(err, database.ErrInsufficientFunds),
		errors.Is(err, database.ErrDoubleSpend),
		errors.Is(err, database.ErrInvalidProofOfWork),
		errors.Is(err, database.ErrChainLinkMismatch):
		return http.StatusBadRequest
	}

	return http.StatusInternalServerError
}
