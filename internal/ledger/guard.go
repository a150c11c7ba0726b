package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/startupx/market-engine/internal/model"
)

// Limits caps a user's exposure. It is checked after the transition has
// been computed and before anything is written. Zero values disable a check.
//
// Exposure is measured at cost: shares * average cost, summed over long
// and short positions alike. Gifts enter at cost 0, so they only count
// toward MaxShares.
type Limits struct {
	// MaxShares is the largest absolute position in any single startup.
	MaxShares int64

	// MaxGrossExposure is the cap on Σ shares*averageCost across all of
	// the user's open positions.
	MaxGrossExposure decimal.Decimal
}

// Enabled reports whether any limit is set.
func (l Limits) Enabled() bool {
	return l.MaxShares > 0 || l.MaxGrossExposure.IsPositive()
}

// needsBook reports whether Check needs the user's other positions.
func (l Limits) needsBook() bool { return l.MaxGrossExposure.IsPositive() }

// Check validates the position a trade would leave behind. open holds the
// user's current positions; the entry for next.StartupID, if any, is
// replaced by next.
func (l Limits) Check(next model.Position, open []model.Position) error {
	if l.MaxShares > 0 && next.Shares > l.MaxShares {
		return fmt.Errorf("%w: %d shares of %s exceeds the %d share cap",
			ErrPositionLimit, next.Shares, next.StartupID, l.MaxShares)
	}

	if !l.needsBook() {
		return nil
	}

	gross := exposure(next)
	for _, p := range open {
		if p.StartupID == next.StartupID {
			continue // already counted via next
		}
		gross = gross.Add(exposure(p))
	}
	if gross.GreaterThan(l.MaxGrossExposure) {
		return fmt.Errorf("%w: gross exposure %s exceeds %s",
			ErrPositionLimit, gross.String(), l.MaxGrossExposure.String())
	}
	return nil
}

func exposure(p model.Position) decimal.Decimal {
	if p.Side == model.SideNone {
		return decimal.Zero
	}
	return p.AverageCost.Mul(decimal.NewFromInt(p.Shares))
}
