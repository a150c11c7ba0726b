package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/startupx/market-engine/internal/model"
)

// step is the result of applying one request to a position and a wallet.
// A position with SideNone means the row is deleted (or never created).
type step struct {
	position model.Position
	balance  decimal.Decimal
	total    decimal.Decimal // recorded as the trade's TotalValue
	realized decimal.Decimal
}

// apply runs one state transition. It never mutates its inputs and returns
// a sentinel error when the precondition fails.
//
//	buy      not short, balance >= qty*price     long, weighted average cost
//	sell     long with shares >= qty             credit qty*price, cost unchanged
//	bet_down not long, balance >= qty*price      short, weighted average cost
//	cover    short with shares >= qty            credit cost*qty + (cost-price)*qty
//	gift     not short                           long +qty at price 0
func apply(pos model.Position, balance decimal.Decimal, kind model.TradeKind, qty int64, price decimal.Decimal) (step, error) {
	q := decimal.NewFromInt(qty)
	notional := price.Mul(q)

	switch kind {
	case model.KindBuy:
		if pos.Side == model.SideShort {
			return step{}, fmt.Errorf("%w: close your short position on %s before buying", ErrConflictingDirection, pos.StartupID)
		}
		if balance.LessThan(notional) {
			return step{}, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, notional.String(), balance.String())
		}
		return step{
			position: averageIn(pos, model.SideLong, qty, price),
			balance:  balance.Sub(notional),
			total:    notional,
		}, nil

	case model.KindSell:
		if pos.Side != model.SideLong || pos.Shares < qty {
			return step{}, fmt.Errorf("%w: hold %d long, asked to sell %d", ErrInsufficientPosition, longShares(pos), qty)
		}
		return step{
			position: reduce(pos, qty),
			balance:  balance.Add(notional),
			total:    notional,
			realized: price.Sub(pos.AverageCost).Mul(q),
		}, nil

	case model.KindBetDown:
		if pos.Side == model.SideLong {
			return step{}, fmt.Errorf("%w: sell your long position on %s before betting down", ErrConflictingDirection, pos.StartupID)
		}
		if balance.LessThan(notional) {
			return step{}, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, notional.String(), balance.String())
		}
		return step{
			position: averageIn(pos, model.SideShort, qty, price),
			balance:  balance.Sub(notional),
			total:    notional,
		}, nil

	case model.KindCover:
		if pos.Side != model.SideShort || pos.Shares < qty {
			return step{}, fmt.Errorf("%w: hold %d short, asked to cover %d", ErrInsufficientPosition, shortShares(pos), qty)
		}
		pnl := pos.AverageCost.Sub(price).Mul(q)
		credit := pos.AverageCost.Mul(q).Add(pnl)
		next := balance.Add(credit)
		// A loss larger than the collateral comes out of the wallet.
		if next.IsNegative() {
			return step{}, fmt.Errorf("%w: covering costs %s, have %s", ErrInsufficientFunds, credit.Neg().String(), balance.String())
		}
		return step{
			position: reduce(pos, qty),
			balance:  next,
			total:    credit,
			realized: pnl,
		}, nil

	case model.KindGift:
		if pos.Side == model.SideShort {
			return step{}, fmt.Errorf("%w: short on %s", ErrConflictingDirection, pos.StartupID)
		}
		return step{
			position: averageIn(pos, model.SideLong, qty, decimal.Zero),
			balance:  balance,
			total:    decimal.Zero,
		}, nil
	}

	return step{}, fmt.Errorf("%w: unknown trade kind %q", ErrValidation, kind)
}

// averageIn adds qty at price to a position on side (or opens one),
// re-weighting the average cost over absolute quantities.
func averageIn(pos model.Position, side model.Side, qty int64, price decimal.Decimal) model.Position {
	if pos.Side == model.SideNone || pos.Shares == 0 {
		pos.Side = side
		pos.Shares = qty
		pos.AverageCost = price
		return pos
	}
	oldQ := decimal.NewFromInt(pos.Shares)
	addQ := decimal.NewFromInt(qty)
	pos.AverageCost = pos.AverageCost.Mul(oldQ).Add(price.Mul(addQ)).Div(oldQ.Add(addQ))
	pos.Shares += qty
	return pos
}

// reduce closes qty shares. Average cost is unchanged; an emptied position
// becomes SideNone.
func reduce(pos model.Position, qty int64) model.Position {
	pos.Shares -= qty
	if pos.Shares == 0 {
		pos.Side = model.SideNone
	}
	return pos
}

func longShares(p model.Position) int64 {
	if p.Side == model.SideLong {
		return p.Shares
	}
	return 0
}

func shortShares(p model.Position) int64 {
	if p.Side == model.SideShort {
		return p.Shares
	}
	return 0
}
