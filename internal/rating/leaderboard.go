package rating

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/startupx/market-engine/internal/elo"
	"github.com/startupx/market-engine/internal/model"
	"github.com/startupx/market-engine/internal/pricing"
	"github.com/startupx/market-engine/internal/store"
)

// Standing is one leaderboard row. Position is the place within the
// listed set (which may be one batch); Rank is the stored global rank from
// the last full recompute.
type Standing struct {
	model.Startup
	Position    int              `json:"position"`
	Price       decimal.Decimal  `json:"price"`
	Comparisons int              `json:"comparisons"`
	Tier        pricing.TierInfo `json:"tier"`
}

// Leaderboard lists startups by current rating, highest first, with price
// and tier. batch is a canonical batch label or "" for all.
func (e *Engine) Leaderboard(ctx context.Context, batch string) ([]Standing, error) {
	startups, err := e.store.ListStartups(ctx, store.StartupFilter{Batch: batch})
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	log, err := e.store.ListComparisons(ctx, store.ComparisonFilter{})
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}

	counts := make(map[string]int, len(startups))
	for _, c := range log {
		counts[c.StartupAID]++
		counts[c.StartupBID]++
	}

	byID := make(map[string]model.Startup, len(startups))
	ratings := make(map[string]float64, len(startups))
	for _, s := range startups {
		byID[s.ID] = s
		ratings[s.ID] = s.Rating
	}

	out := make([]Standing, 0, len(startups))
	for _, r := range elo.Rank(ratings) {
		s := byID[r.ID]
		out = append(out, Standing{
			Startup:     s,
			Position:    r.Rank,
			Price:       s.Price(),
			Comparisons: counts[s.ID],
			Tier:        pricing.TierFor(s.Rating, counts[s.ID]),
		})
	}
	return out, nil
}
