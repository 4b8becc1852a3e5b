// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"github.com/CalfCrusher/Annalink/app/services/node/handlers/v1/public"
	"github.com/CalfCrusher/Annalink/foundation/blockchain/state"
	"github.com/CalfCrusher/Annalink/foundation/events"
	"github.com/CalfCrusher/Annalink/foundation/web"
	"go.uber.org/zap"
)

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	State *state.State
	Evts  *events.Events
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	public.Routes(app, public.Config{
		Log:   cfg.Log,
		State: cfg.State,
		Evts:  cfg.Evts,
	})
}
