package mid

import (
	"context"
	"expvar"
	"net/http"
	"runtime"

	"github.com/CalfCrusher/Annalink/foundation/web"
)

// Counters published on the debug endpoint through expvar.
var (
	goroutines = expvar.NewInt("goroutines")
	requests   = expvar.NewInt("requests")
	failures   = expvar.NewInt("errors")
)

// Metrics updates program counters for each request.
func Metrics() web.Middleware {

	// This is the actual middleware function to be executed.
	m := func(handler web.Handler) web.Handler {

		// Create the handler that will be attached in the middleware chain.
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			err := handler(ctx, w, r)

			requests.Add(1)
			if requests.Value()%100 == 0 {
				goroutines.Set(int64(runtime.NumGoroutine()))
			}
			if err != nil {
				failures.Add(1)
			}

			return err
		}

		return h
	}

	return m
}
