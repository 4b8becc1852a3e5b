package public

import (
	"net/http"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/state"
	"github.com/CalfCrusher/Annalink/foundation/events"
	"github.com/CalfCrusher/Annalink/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	State *state.State
	Evts  *events.Events
}

// Routes binds all the public routes.
func Routes(app *web.App, cfg Config) {
	pbl := Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		WS:    websocket.Upgrader{},
		Evts:  cfg.Evts,
	}

	const version = "v1"

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/genesis", pbl.Genesis)
	app.Handle(http.MethodGet, version, "/chain/stats", pbl.ChainStats)
	app.Handle(http.MethodGet, version, "/blocks/:index", pbl.BlockByIndex)
	app.Handle(http.MethodGet, version, "/blocks/list/:from", pbl.BlocksFrom)
	app.Handle(http.MethodGet, version, "/balance/:address", pbl.Balance)
	app.Handle(http.MethodGet, version, "/mempool", pbl.Mempool)
	app.Handle(http.MethodGet, version, "/peers", pbl.Peers)
	app.Handle(http.MethodPost, version, "/tx/submit", pbl.SubmitWalletTransaction)
	app.Handle(http.MethodPost, version, "/mine", pbl.Mine)
}
