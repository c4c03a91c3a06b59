package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const requestTimeout = 15 * time.Second

func (h *Handler) Routes(m *Middleware, metricsHandler http.Handler, corsOrigins []string, rateLimitRPM int) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(middleware.Heartbeat("/ping"))

	// CORS and rate limiting - configured from main
	r.Use(m.CORS(corsOrigins))
	r.Use(m.RateLimit(rateLimitRPM))

	// Health endpoints
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		// Live updates hijack or stream the connection, so they skip
		// compression and the request timeout.
		r.Get("/stream", h.HandleSSE)
		r.Get("/ws", h.HandleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(m.Compress)
			r.Use(m.Timeout(requestTimeout))

			// Markets
			r.Route("/markets", func(r chi.Router) {
				r.Get("/", h.ListMarkets)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetMarket)
					r.Get("/orderbook", h.GetOrderbook)
					r.Get("/stats", h.GetStats)
					r.Get("/trades", h.GetTrades)
					r.Get("/balances/{address}", h.GetAccountBalance)
					r.Get("/collateral/{address}", h.GetCollateral)
				})
			})

			// Property listings
			r.Route("/listings", func(r chi.Router) {
				r.Get("/", h.ListListings)
				r.Get("/{address}", h.GetListing)
			})

			// Collection tokens
			r.Route("/tokens", func(r chi.Router) {
				r.Get("/", h.ListTokens)
				r.Get("/{assetType}/supply", h.GetTokenSupply)
			})

			// User portfolio
			r.Route("/users/{address}", func(r chi.Router) {
				r.Get("/holdings", h.GetUserHoldings)
				r.Get("/coins/{coinType}", h.GetUserCoinBalance)
			})
		})
	})

	return r
}
