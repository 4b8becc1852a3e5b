package mid

import (
	"context"
	"net/http"

	"github.com/CalfCrusher/Annalink/foundation/web"
)

// Cors sets the headers that allow browser-based wallets and explorers on
// a different origin to call the node's public API.
func Cors(origin string) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			hdr := w.Header()
			hdr.Set("Access-Control-Allow-Origin", origin)
			hdr.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			hdr.Set("Access-Control-Allow-Headers", "Origin, Accept, Content-Type, Content-Length, Accept-Encoding")

			return handler(ctx, w, r)
		}

		return h
	}

	return m
}
