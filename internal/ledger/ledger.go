// Package ledger executes trades against the rating-derived price and
// keeps wallets, positions and the trade log consistent.
//
// All monetary values use shopspring/decimal. Every request is one store
// transaction holding the user's lock, so a double-submitted trade is
// applied serially and a failed write leaves nothing behind.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/startupx/market-engine/internal/events"
	"github.com/startupx/market-engine/internal/metrics"
	"github.com/startupx/market-engine/internal/model"
	"github.com/startupx/market-engine/internal/store"
)

var (
	ErrValidation           = errors.New("ledger: invalid request")
	ErrInsufficientFunds    = errors.New("ledger: insufficient funds")
	ErrInsufficientPosition = errors.New("ledger: insufficient position")
	ErrConflictingDirection = errors.New("ledger: conflicting direction")
	ErrNoGiftsRemaining     = errors.New("ledger: no free gifts remaining")
	ErrPositionLimit        = errors.New("ledger: position limit exceeded")

	// ErrStoreUnavailable is the store's I/O failure sentinel.
	ErrStoreUnavailable = store.ErrUnavailable
)

const (
	// GiftShares is how many shares one roll grants.
	GiftShares = 10

	DefaultStartingBalance = 10000
	DefaultFreeGifts       = 5
)

// Config holds account defaults and exposure limits.
type Config struct {
	StartingBalance decimal.Decimal
	FreeGifts       int
	Limits          Limits
}

// Ledger owns every wallet and position mutation.
type Ledger struct {
	store  store.Store
	events events.Publisher
	cfg    Config
	now    func() time.Time

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// New creates a ledger. Pass nil for pub if no events are wanted.
func New(st store.Store, pub events.Publisher, cfg Config) *Ledger {
	if pub == nil {
		pub = events.Nop{}
	}
	if cfg.FreeGifts < 0 {
		cfg.FreeGifts = 0
	}
	seed := uint64(time.Now().UnixNano())
	return &Ledger{
		store:  st,
		events: pub,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		rng:    rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

// Request is one user trade.
type Request struct {
	UserID    string          `json:"user_id"`
	StartupID string          `json:"startup_id"`
	Kind      model.TradeKind `json:"kind"`
	Quantity  int64           `json:"quantity"`
}

// Fill is the result of an executed request.
type Fill struct {
	Trade       model.Trade     `json:"trade"`
	Position    *model.Position `json:"position,omitempty"` // nil once the position is closed
	Balance     decimal.Decimal `json:"balance"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// Buy opens or adds to a long position.
func (l *Ledger) Buy(ctx context.Context, userID, startupID string, qty int64) (*Fill, error) {
	return l.Execute(ctx, Request{UserID: userID, StartupID: startupID, Kind: model.KindBuy, Quantity: qty})
}

// Sell reduces a long position.
func (l *Ledger) Sell(ctx context.Context, userID, startupID string, qty int64) (*Fill, error) {
	return l.Execute(ctx, Request{UserID: userID, StartupID: startupID, Kind: model.KindSell, Quantity: qty})
}

// BetDown opens or adds to a short position.
func (l *Ledger) BetDown(ctx context.Context, userID, startupID string, qty int64) (*Fill, error) {
	return l.Execute(ctx, Request{UserID: userID, StartupID: startupID, Kind: model.KindBetDown, Quantity: qty})
}

// Cover reduces a short position.
func (l *Ledger) Cover(ctx context.Context, userID, startupID string, qty int64) (*Fill, error) {
	return l.Execute(ctx, Request{UserID: userID, StartupID: startupID, Kind: model.KindCover, Quantity: qty})
}

// Execute validates and applies one trade at the startup's current price.
func (l *Ledger) Execute(ctx context.Context, req Request) (*Fill, error) {
	switch {
	case strings.TrimSpace(req.UserID) == "":
		return nil, l.reject(req.Kind, fmt.Errorf("%w: user_id is required", ErrValidation))
	case strings.TrimSpace(req.StartupID) == "":
		return nil, l.reject(req.Kind, fmt.Errorf("%w: startup_id is required", ErrValidation))
	case !req.Kind.Valid():
		return nil, l.reject(req.Kind, fmt.Errorf("%w: kind must be buy, sell, bet_down or cover", ErrValidation))
	case req.Quantity <= 0:
		return nil, l.reject(req.Kind, fmt.Errorf("%w: quantity must be positive", ErrValidation))
	}

	start := time.Now()
	var fill Fill

	err := l.store.WithinTx(ctx, func(tx store.Store) error {
		user, err := lockUser(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		startup, err := tx.GetStartup(ctx, req.StartupID)
		if store.IsNotFound(err) {
			return fmt.Errorf("%w: unknown startup %q", ErrValidation, req.StartupID)
		}
		if err != nil {
			return err
		}
		pos, err := getPosition(ctx, tx, req.UserID, req.StartupID)
		if err != nil {
			return err
		}

		price := startup.Price()
		next, err := apply(pos, user.Balance, req.Kind, req.Quantity, price)
		if err != nil {
			return err
		}
		if err := l.checkLimits(ctx, tx, req.Kind, next.position); err != nil {
			return err
		}

		fill, err = l.commit(ctx, tx, pos, next, model.Trade{
			UserID:    req.UserID,
			StartupID: req.StartupID,
			Kind:      req.Kind,
			Quantity:  req.Quantity,
			Price:     price,
		})
		return err
	})
	if err != nil {
		return nil, l.reject(req.Kind, fmt.Errorf("%s: %w", req.Kind, err))
	}

	l.record(ctx, &fill, start)
	return &fill, nil
}

// OpenAccount creates a user with the configured starting balance and gift
// allowance. Opening an existing account returns it unchanged.
func (l *Ledger) OpenAccount(ctx context.Context, userID string) (*model.User, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}

	u, err := l.store.GetUser(ctx, userID)
	if err == nil {
		return u, nil
	}
	if !store.IsNotFound(err) {
		return nil, fmt.Errorf("open account: %w", err)
	}

	u = &model.User{
		ID:        userID,
		Balance:   l.cfg.StartingBalance,
		FreeGifts: l.cfg.FreeGifts,
		CreatedAt: l.now(),
	}
	if err := l.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return l.store.GetUser(ctx, userID)
		}
		return nil, fmt.Errorf("open account: %w", err)
	}

	slog.Info("account opened", "user", userID, "balance", u.Balance.String(), "free_gifts", u.FreeGifts)
	return u, nil
}

// ListTrades returns a user's trades, oldest first.
func (l *Ledger) ListTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	trades, err := l.store.ListTrades(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	return trades, nil
}

func (l *Ledger) checkLimits(ctx context.Context, tx store.Store, kind model.TradeKind, next model.Position) error {
	if kind != model.KindBuy && kind != model.KindBetDown {
		return nil
	}
	if !l.cfg.Limits.Enabled() {
		return nil
	}
	var open []model.Position
	if l.cfg.Limits.needsBook() {
		var err error
		if open, err = tx.ListPositions(ctx, next.UserID); err != nil {
			return err
		}
	}
	return l.cfg.Limits.Check(next, open)
}

// commit writes the position, wallet and trade of one transition.
func (l *Ledger) commit(ctx context.Context, tx store.Store, prev model.Position, next step, t model.Trade) (Fill, error) {
	now := l.now()

	if next.position.Side == model.SideNone {
		if prev.Side != model.SideNone {
			if err := tx.DeletePosition(ctx, t.UserID, t.StartupID); err != nil {
				return Fill{}, err
			}
		}
	} else {
		next.position.UpdatedAt = now
		if err := tx.UpsertPosition(ctx, &next.position); err != nil {
			return Fill{}, err
		}
	}

	if err := tx.UpdateWallet(ctx, t.UserID, next.balance); err != nil {
		return Fill{}, err
	}

	t.ID = uuid.New().String()
	t.TotalValue = next.total
	t.CreatedAt = now
	if err := tx.AppendTrade(ctx, &t); err != nil {
		return Fill{}, err
	}

	fill := Fill{Trade: t, Balance: next.balance, RealizedPnL: next.realized}
	if next.position.Side != model.SideNone {
		p := next.position
		fill.Position = &p
	}
	return fill, nil
}

// record publishes a committed fill.
func (l *Ledger) record(ctx context.Context, fill *Fill, start time.Time) {
	t := fill.Trade
	kind := string(t.Kind)

	metrics.TradesTotal.WithLabelValues(kind).Inc()
	metrics.TradeLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	metrics.StartupVolume.WithLabelValues(t.StartupID, kind).Add(float64(t.Quantity))

	slog.Info("trade executed",
		"trade_id", t.ID,
		"user", t.UserID,
		"startup", t.StartupID,
		"kind", kind,
		"qty", t.Quantity,
		"price", t.Price.String(),
		"total_value", t.TotalValue.String(),
		"balance", fill.Balance.String(),
		"realized_pnl", fill.RealizedPnL.String(),
	)

	events.Emit(ctx, l.events, events.Event{
		Type: events.TradeExecuted,
		Key:  t.StartupID,
		Data: events.TradeFill{
			TradeID:   t.ID,
			UserID:    t.UserID,
			StartupID: t.StartupID,
			Kind:      kind,
			Quantity:  t.Quantity,
			Price:     t.Price,
			Total:     t.TotalValue,
		},
	})
}

// reject counts a refused request by reason and passes err through.
func (l *Ledger) reject(kind model.TradeKind, err error) error {
	reason := "store"
	switch {
	case errors.Is(err, ErrValidation):
		reason = "validation"
	case errors.Is(err, ErrInsufficientFunds):
		reason = "insufficient_funds"
	case errors.Is(err, ErrInsufficientPosition):
		reason = "insufficient_position"
	case errors.Is(err, ErrConflictingDirection):
		reason = "conflicting_direction"
	case errors.Is(err, ErrNoGiftsRemaining):
		reason = "no_gifts"
	case errors.Is(err, ErrPositionLimit):
		reason = "position_limit"
	}
	metrics.TradeRejections.WithLabelValues(reason).Inc()
	if reason == "store" {
		slog.Error("trade failed", "kind", string(kind), "error", err)
	}
	return err
}

// lockUser takes the user's row lock for the rest of the transaction and
// returns the user as seen under it.
func lockUser(ctx context.Context, tx store.Store, id string) (*model.User, error) {
	if err := tx.LockUser(ctx, id); store.IsNotFound(err) {
		return nil, fmt.Errorf("%w: unknown user %q", ErrValidation, id)
	} else if err != nil {
		return nil, err
	}
	return getUser(ctx, tx, id)
}

func getUser(ctx context.Context, st store.Store, id string) (*model.User, error) {
	u, err := st.GetUser(ctx, id)
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("%w: unknown user %q", ErrValidation, id)
	}
	return u, err
}

// getPosition returns the current position, or a SideNone value when the
// user holds nothing.
func getPosition(ctx context.Context, st store.Store, userID, startupID string) (model.Position, error) {
	p, err := st.GetPosition(ctx, userID, startupID)
	if store.IsNotFound(err) {
		return model.Position{UserID: userID, StartupID: startupID, Side: model.SideNone}, nil
	}
	if err != nil {
		return model.Position{}, err
	}
	return *p, nil
}
