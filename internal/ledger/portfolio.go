package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/startupx/market-engine/internal/model"
	"github.com/startupx/market-engine/internal/store"
)

// Portfolio marks a user's open positions to current prices.
//
// Net worth counts a short at what covering it now would return
// (collateral plus P&L), so it moves the same way a cover would.
func (l *Ledger) Portfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("portfolio: %w", err)
	}
	positions, err := l.store.ListPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("portfolio: %w", err)
	}

	ids := make([]string, len(positions))
	for i, p := range positions {
		ids[i] = p.StartupID
	}
	byID := map[string]model.Startup{}
	if len(ids) > 0 {
		startups, err := l.store.ListStartups(ctx, store.StartupFilter{IDs: ids})
		if err != nil {
			return nil, fmt.Errorf("portfolio: %w", err)
		}
		for _, s := range startups {
			byID[s.ID] = s
		}
	}

	out := &model.Portfolio{
		UserID:        userID,
		Balance:       user.Balance,
		FreeGifts:     user.FreeGifts,
		Positions:     make([]model.PositionView, 0, len(positions)),
		TotalValue:    decimal.Zero,
		TotalPnL:      decimal.Zero,
		LongExposure:  decimal.Zero,
		ShortExposure: decimal.Zero,
	}
	costBasis := decimal.Zero

	for _, p := range positions {
		s, ok := byID[p.StartupID]
		price := decimal.Zero
		if ok {
			price = s.Price()
		}
		shares := decimal.NewFromInt(p.Shares)
		view := model.PositionView{
			Position:      p,
			StartupName:   s.Name,
			SignedQty:     p.Quantity(),
			CurrentPrice:  price,
			MarketValue:   price.Mul(shares),
			CostBasis:     p.AverageCost.Mul(shares),
			UnrealizedPnL: p.UnrealizedPnL(price),
		}
		out.Positions = append(out.Positions, view)

		out.TotalValue = out.TotalValue.Add(view.MarketValue)
		out.TotalPnL = out.TotalPnL.Add(view.UnrealizedPnL)
		costBasis = costBasis.Add(view.CostBasis)
		if p.Side == model.SideShort {
			out.ShortExposure = out.ShortExposure.Add(view.MarketValue)
		} else {
			out.LongExposure = out.LongExposure.Add(view.MarketValue)
		}
	}

	out.NetWorth = out.Balance.Add(costBasis).Add(out.TotalPnL)
	return out, nil
}
