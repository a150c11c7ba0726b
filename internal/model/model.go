// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal, never float64.
// Ratings are plain float64 and are never rounded in storage.
package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/startupx/market-engine/internal/pricing"
)

// InitialRating is the rating every startup starts with.
const InitialRating = pricing.InitialRating

// Startup is a rateable, tradable entity. Rating is mutated only by the
// rating engine; Rank is set only by a full recompute.
type Startup struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	Website     string    `json:"website,omitempty" db:"website"`
	Sector      string    `json:"sector,omitempty" db:"sector"`
	Stage       string    `json:"stage,omitempty" db:"stage"`
	Batch       string    `json:"batch,omitempty" db:"batch"` // canonical, e.g. "Winter 2024"
	Rating      float64   `json:"rating" db:"rating"`
	Rank        *int      `json:"rank,omitempty" db:"rank"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Price returns the tradable unit value: rating / 100.
func (s Startup) Price() decimal.Decimal {
	return pricing.Price(s.Rating)
}

// Comparison is an immutable record of one head-to-head vote.
// The full log of comparisons is replayable to rebuild every rating.
type Comparison struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	StartupAID string    `json:"startup_a_id" db:"startup_a_id"`
	StartupBID string    `json:"startup_b_id" db:"startup_b_id"`
	ChosenID   string    `json:"chosen_id" db:"chosen_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// AWon reports whether the first startup of the pair was chosen.
func (c Comparison) AWon() bool {
	return c.ChosenID == c.StartupAID
}

// User carries the per-user wallet and the remaining free gift rolls.
type User struct {
	ID        string          `json:"id" db:"id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	FreeGifts int             `json:"free_gifts" db:"free_gifts"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Side is the direction of a position.
type Side string

const (
	SideNone  Side = "none"
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Position is a user's open exposure to one startup. It is a tagged
// variant: Side says long or short and Shares is always the magnitude.
// A position with zero shares is never stored.
type Position struct {
	UserID      string          `json:"user_id"`
	StartupID   string          `json:"startup_id"`
	Side        Side            `json:"side"`
	Shares      int64           `json:"shares"`
	AverageCost decimal.Decimal `json:"average_cost"` // entry price per unit, always >= 0
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Long builds a long position.
func Long(userID, startupID string, shares int64, avgCost decimal.Decimal) Position {
	return Position{UserID: userID, StartupID: startupID, Side: SideLong, Shares: shares, AverageCost: avgCost}
}

// Short builds a short position.
func Short(userID, startupID string, shares int64, avgCost decimal.Decimal) Position {
	return Position{UserID: userID, StartupID: startupID, Side: SideShort, Shares: shares, AverageCost: avgCost}
}

// Quantity returns the signed quantity: positive for long, negative for short.
func (p Position) Quantity() int64 {
	switch p.Side {
	case SideLong:
		return p.Shares
	case SideShort:
		return -p.Shares
	default:
		return 0
	}
}

// PositionFromQuantity rebuilds the tagged form from a stored signed quantity.
func PositionFromQuantity(userID, startupID string, qty int64, avgCost decimal.Decimal) Position {
	switch {
	case qty > 0:
		return Long(userID, startupID, qty, avgCost)
	case qty < 0:
		return Short(userID, startupID, -qty, avgCost)
	default:
		return Position{UserID: userID, StartupID: startupID, Side: SideNone, AverageCost: avgCost}
	}
}

// UnrealizedPnL marks the position to the given price.
//
//	long:  (price - avgCost) * shares
//	short: (avgCost - price) * shares
func (p Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	shares := decimal.NewFromInt(p.Shares)
	switch p.Side {
	case SideLong:
		return price.Sub(p.AverageCost).Mul(shares)
	case SideShort:
		return p.AverageCost.Sub(price).Mul(shares)
	default:
		return decimal.Zero
	}
}

// TradeKind is the externally visible kind of a ledger entry.
type TradeKind string

const (
	KindBuy     TradeKind = "buy"
	KindSell    TradeKind = "sell"
	KindBetDown TradeKind = "bet_down" // open or add to a short
	KindCover   TradeKind = "cover"
	KindGift    TradeKind = "gift"
)

// Valid reports whether k is a kind a user may request directly.
func (k TradeKind) Valid() bool {
	switch k {
	case KindBuy, KindSell, KindBetDown, KindCover:
		return true
	default:
		return false
	}
}

// Trade is an immutable ledger entry. Quantity is always positive; the
// direction is carried by Kind.
type Trade struct {
	ID         string          `json:"id" db:"id"`
	UserID     string          `json:"user_id" db:"user_id"`
	StartupID  string          `json:"startup_id" db:"startup_id"`
	Kind       TradeKind       `json:"kind" db:"kind"`
	Quantity   int64           `json:"quantity" db:"quantity"`
	Price      decimal.Decimal `json:"price" db:"price"`
	TotalValue decimal.Decimal `json:"total_value" db:"total_value"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// PositionView is a position marked to the current price.
type PositionView struct {
	Position
	StartupName   string          `json:"startup_name"`
	SignedQty     int64           `json:"quantity"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketValue   decimal.Decimal `json:"market_value"` // current price * shares
	CostBasis     decimal.Decimal `json:"cost_basis"`   // average cost * shares
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Portfolio aggregates a user's wallet and open positions.
type Portfolio struct {
	UserID        string          `json:"user_id"`
	Balance       decimal.Decimal `json:"balance"`
	FreeGifts     int             `json:"free_gifts"`
	Positions     []PositionView  `json:"positions"`
	TotalValue    decimal.Decimal `json:"total_value"` // Σ market value
	TotalPnL      decimal.Decimal `json:"total_pnl"`   // Σ unrealized P&L
	NetWorth      decimal.Decimal `json:"net_worth"`   // balance + Σ cost basis + Σ P&L
	LongExposure  decimal.Decimal `json:"long_exposure"`
	ShortExposure decimal.Decimal `json:"short_exposure"`
}
