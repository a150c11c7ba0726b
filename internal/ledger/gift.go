package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/startupx/market-engine/internal/metrics"
	"github.com/startupx/market-engine/internal/model"
	"github.com/startupx/market-engine/internal/store"
)

// Gift is the result of one free roll.
type Gift struct {
	Fill
	Startup   model.Startup `json:"startup"`
	FreeGifts int           `json:"free_gifts"` // rolls left after this one
}

// RollGift spends one of the user's free rolls on GiftShares shares of a
// random startup at cost 0. Startups the user is short on are skipped; if
// every startup is shorted the roll fails with ErrConflictingDirection and
// the allowance is untouched.
func (l *Ledger) RollGift(ctx context.Context, userID string) (*Gift, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, l.reject(model.KindGift, fmt.Errorf("%w: user_id is required", ErrValidation))
	}

	start := time.Now()
	var gift Gift

	err := l.store.WithinTx(ctx, func(tx store.Store) error {
		user, err := lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user.FreeGifts <= 0 {
			return ErrNoGiftsRemaining
		}

		startups, err := tx.ListStartups(ctx, store.StartupFilter{})
		if err != nil {
			return err
		}
		if len(startups) == 0 {
			return fmt.Errorf("%w: no startups listed", ErrValidation)
		}

		for _, i := range l.perm(len(startups)) {
			pick := startups[i]
			pos, err := getPosition(ctx, tx, userID, pick.ID)
			if err != nil {
				return err
			}
			next, err := apply(pos, user.Balance, model.KindGift, GiftShares, decimal.Zero)
			if err != nil {
				continue // short on this one; draw again
			}

			fill, err := l.commit(ctx, tx, pos, next, model.Trade{
				UserID:    userID,
				StartupID: pick.ID,
				Kind:      model.KindGift,
				Quantity:  GiftShares,
				Price:     decimal.Zero,
			})
			if err != nil {
				return err
			}
			if err := tx.UpdateFreeGifts(ctx, userID, user.FreeGifts-1); err != nil {
				return err
			}
			gift = Gift{Fill: fill, Startup: pick, FreeGifts: user.FreeGifts - 1}
			return nil
		}
		return fmt.Errorf("%w: short on every listed startup", ErrConflictingDirection)
	})
	if err != nil {
		return nil, l.reject(model.KindGift, fmt.Errorf("gift: %w", err))
	}

	metrics.GiftsGranted.Inc()
	slog.Info("gift granted", "user", userID, "startup", gift.Startup.ID, "free_gifts", gift.FreeGifts)
	l.record(ctx, &gift.Fill, start)
	return &gift, nil
}

func (l *Ledger) perm(n int) []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Perm(n)
}
