package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/startupx/market-engine/internal/batch"
	"github.com/startupx/market-engine/internal/ledger"
	"github.com/startupx/market-engine/internal/matchmaking"
	"github.com/startupx/market-engine/internal/model"
	"github.com/startupx/market-engine/internal/pricing"
	"github.com/startupx/market-engine/internal/store"
)

// --- Request/Response types ---

// StartupView is a startup with its current price.
type StartupView struct {
	model.Startup
	Price        decimal.Decimal `json:"price"`
	PriceDisplay string          `json:"price_display"`
}

func viewOf(s model.Startup) StartupView {
	p := s.Price()
	return StartupView{Startup: s, Price: p, PriceDisplay: pricing.Format(p)}
}

// PriceResponse is the JSON body of GET /startups/{id}/price.
type PriceResponse struct {
	StartupID string          `json:"startup_id"`
	Rating    float64         `json:"rating"`
	Price     decimal.Decimal `json:"price"`
	Display   string          `json:"display"`
}

// ComparisonRequest is the JSON body for POST /comparisons.
type ComparisonRequest struct {
	UserID     string `json:"user_id"`
	StartupAID string `json:"startup_a_id"`
	StartupBID string `json:"startup_b_id"`
	ChosenID   string `json:"chosen_id"`
}

// SubsetRequest is the JSON body for POST /ranking/recompute-subset.
type SubsetRequest struct {
	StartupIDs []string `json:"startup_ids"`
}

// UserRequest is the JSON body for POST /users and POST /gifts/roll.
type UserRequest struct {
	UserID string `json:"user_id"`
}

// --- Catalogue ---

// ListStartups handles GET /api/v1/startups?batch=
func (s *Server) ListStartups(w http.ResponseWriter, r *http.Request) {
	label, err := batch.Normalize(r.URL.Query().Get("batch"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	startups, err := s.store.ListStartups(r.Context(), store.StartupFilter{Batch: label})
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	out := make([]StartupView, 0, len(startups))
	for _, st := range startups {
		out = append(out, viewOf(st))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetStartup handles GET /api/v1/startups/{startupID}
func (s *Server) GetStartup(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.GetStartup(r.Context(), chi.URLParam(r, "startupID"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(*st))
}

// GetPrice handles GET /api/v1/startups/{startupID}/price
func (s *Server) GetPrice(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.GetStartup(r.Context(), chi.URLParam(r, "startupID"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	p := st.Price()
	writeJSON(w, http.StatusOK, PriceResponse{
		StartupID: st.ID,
		Rating:    st.Rating,
		Price:     p,
		Display:   pricing.Format(p),
	})
}

// Leaderboard handles GET /api/v1/leaderboard?batch=
func (s *Server) Leaderboard(w http.ResponseWriter, r *http.Request) {
	label, err := batch.Normalize(r.URL.Query().Get("batch"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if board, ok := s.board.get(label); ok {
		w.Header().Set("X-Cache", "HIT")
		writeJSON(w, http.StatusOK, board)
		return
	}
	board, err := s.rating.Leaderboard(r.Context(), label)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	s.board.set(label, board)
	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, board)
}

// --- Voting ---

// NextPair handles GET /api/v1/pairs/next?user_id=&batch=
func (s *Server) NextPair(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pair, err := s.selector.SelectNextPair(r.Context(), q.Get("user_id"), matchmaking.Options{Batch: q.Get("batch")})
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// SubmitComparison handles POST /api/v1/comparisons
func (s *Server) SubmitComparison(w http.ResponseWriter, r *http.Request) {
	var req ComparisonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	out, err := s.rating.ApplyComparison(r.Context(), req.UserID, req.StartupAID, req.StartupBID, req.ChosenID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// RecomputeAll handles POST /api/v1/ranking/recompute
func (s *Server) RecomputeAll(w http.ResponseWriter, r *http.Request) {
	sum, err := s.rating.RecomputeAll(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	s.board.clear()
	writeJSON(w, http.StatusOK, sum)
}

// RecomputeSubset handles POST /api/v1/ranking/recompute-subset
func (s *Server) RecomputeSubset(w http.ResponseWriter, r *http.Request) {
	var req SubsetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sum, err := s.rating.RecomputeSubset(r.Context(), req.StartupIDs)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	s.board.clear()
	writeJSON(w, http.StatusOK, sum)
}

// --- Trading ---

// OpenAccount handles POST /api/v1/users
func (s *Server) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	u, err := s.ledger.OpenAccount(r.Context(), req.UserID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// ExecuteTrade handles POST /api/v1/trade
func (s *Server) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req ledger.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	fill, err := s.ledger.Execute(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fill)
}

// RollGift handles POST /api/v1/gifts/roll
func (s *Server) RollGift(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	gift, err := s.ledger.RollGift(r.Context(), req.UserID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gift)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}
func (s *Server) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	pf, err := s.ledger.Portfolio(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pf)
}

// ListTrades handles GET /api/v1/trades/{userID}
func (s *Server) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.ledger.ListTrades(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}
