package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/canopy-network/pointsx/app/points/types"
	"github.com/canopy-network/pointsx/pkg/auth"
	"github.com/canopy-network/pointsx/pkg/metrics"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

type Controller struct {
	App *types.App

	// recalcLimiter throttles POST /api/v1/points/calculate.
	recalcLimiter *rate.Limiter
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	perMinute := app.Config.RecalcPerMinute
	if perMinute <= 0 {
		perMinute = 1
	}
	return &Controller{
		App:           app,
		recalcLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Echo back the origin so credentialed requests work
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withTimeout bounds the request context by API_REQUEST_TIMEOUT.
func (c *Controller) withTimeout(next http.Handler) http.Handler {
	timeout := c.App.Config.RequestTimeout
	if timeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handle registers an instrumented, time-bounded route.
func (c *Controller) handle(r *mux.Router, path string, h http.Handler, methods ...string) {
	r.Handle(path, metrics.InstrumentHandler(path, c.withTimeout(h))).Methods(methods...)
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	c.handle(r, "/health", http.HandlerFunc(c.HandleHealth), http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// Session
	c.handle(r, "/api/auth/login", http.HandlerFunc(c.HandleLogin), http.MethodPost)
	c.handle(r, "/api/auth/logout", http.HandlerFunc(c.HandleLogout), http.MethodPost)

	// Points
	c.handle(r, "/api/v1/points/leaderboard", http.HandlerFunc(c.HandleLeaderboard), http.MethodGet)
	c.handle(r, "/api/v1/points/user/{address}", http.HandlerFunc(c.HandleUserPoints), http.MethodGet)
	// Recalculation walks every account; it runs on the request context
	// without the API timeout.
	r.Handle("/api/v1/points/calculate", metrics.InstrumentHandler("/api/v1/points/calculate",
		c.App.Auth.Require(auth.CapRecalculate, http.HandlerFunc(c.HandleRecalculate)))).Methods(http.MethodPost)

	// Users
	c.handle(r, "/api/v1/users/{address}", http.HandlerFunc(c.HandleUser), http.MethodGet)
	c.handle(r, "/api/v1/users/{address}/points", http.HandlerFunc(c.HandleUserLedger), http.MethodGet)
	c.handle(r, "/api/v1/users/{address}/history", http.HandlerFunc(c.HandleUserHistory), http.MethodGet)

	// Stats
	c.handle(r, "/api/v1/stats/overview", http.HandlerFunc(c.HandleStatsOverview), http.MethodGet)
	c.handle(r, "/api/v1/stats/system", http.HandlerFunc(c.HandleStatsSystem), http.MethodGet)

	// Balance events
	c.handle(r, "/api/v1/events", http.HandlerFunc(c.HandleEvents), http.MethodGet)
	c.handle(r, "/api/v1/events/sync",
		c.App.Auth.Require(auth.CapEventsSync, http.HandlerFunc(c.HandleEventsSync)), http.MethodPost)

	// WebSocket feed of new ledger entries; not instrumented since the
	// upgrade needs the raw connection.
	r.HandleFunc("/api/v1/ws", c.HandleWebSocket).Methods(http.MethodGet)

	return r, nil
}
