// Package api exposes the rating and market engines over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/startupx/market-engine/internal/events"
	"github.com/startupx/market-engine/internal/ledger"
	"github.com/startupx/market-engine/internal/matchmaking"
	"github.com/startupx/market-engine/internal/metrics"
	"github.com/startupx/market-engine/internal/rating"
	"github.com/startupx/market-engine/internal/store"
)

// Deps are the collaborators the handlers need. Hub may be nil.
type Deps struct {
	Store    store.Store
	Rating   *rating.Engine
	Selector *matchmaking.Selector
	Ledger   *ledger.Ledger
	Hub      *events.Hub

	// LeaderboardTTL caches GET /leaderboard responses; zero disables it.
	LeaderboardTTL time.Duration
}

// Server holds the HTTP handlers.
type Server struct {
	store    store.Store
	rating   *rating.Engine
	selector *matchmaking.Selector
	ledger   *ledger.Ledger
	hub      *events.Hub
	board    *boardCache
}

func New(d Deps) (*Server, error) {
	s := &Server{
		store:    d.Store,
		rating:   d.Rating,
		selector: d.Selector,
		ledger:   d.Ledger,
		hub:      d.Hub,
	}
	if d.LeaderboardTTL > 0 {
		c, err := newBoardCache(d.LeaderboardTTL)
		if err != nil {
			return nil, err
		}
		s.board = c
	}
	return s, nil
}

// Routes builds the full router: middleware, health, metrics, websocket
// and the /api/v1 surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"market-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			// Catalogue and prices.
			r.Get("/startups", s.ListStartups)
			r.Get("/startups/{startupID}", s.GetStartup)
			r.Get("/startups/{startupID}/price", s.GetPrice)
			r.Get("/leaderboard", s.Leaderboard)

			// Voting.
			r.Get("/pairs/next", s.NextPair)
			r.Post("/comparisons", s.SubmitComparison)
			r.Post("/ranking/recompute", s.RecomputeAll)
			r.Post("/ranking/recompute-subset", s.RecomputeSubset)

			// Trading.
			r.Post("/users", s.OpenAccount)
			r.Post("/trade", s.ExecuteTrade)
			r.Post("/gifts/roll", s.RollGift)
			r.Get("/portfolio/{userID}", s.GetPortfolio)
			r.Get("/trades/{userID}", s.ListTrades)
		})
	})
	return r
}
