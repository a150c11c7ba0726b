// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), GORM over SQLite or
// PostgreSQL (embedded deployments), Redis (read-through cache), and
// in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/startupx/market-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateKey is returned when inserting a row whose key exists.
	// Comparison and trade logs are append-only and never overwritten.
	ErrDuplicateKey = errors.New("store: duplicate key")

	// ErrUnavailable wraps collaborator I/O failures (connection refused,
	// timeouts, failed commits). Callers decide whether to retry.
	ErrUnavailable = errors.New("store: unavailable")
)

// StartupFilter narrows ListStartups. The zero value lists everything.
type StartupFilter struct {
	Batch string   // canonical batch label; empty = all
	IDs   []string // restrict to these ids; empty = all
}

// ComparisonFilter narrows ListComparisons. The zero value lists the
// whole log in insertion order.
type ComparisonFilter struct {
	UserID     string   // only this user's votes
	StartupIDs []string // only comparisons involving any of these
}

// Store is the persistence interface. Every logical engine operation runs
// inside WithinTx so its writes land together or not at all.
type Store interface {
	// --- Startups ---

	// CreateStartup persists a new startup (onboarding and seeding only).
	CreateStartup(ctx context.Context, s *model.Startup) error

	// GetStartup retrieves a startup by id.
	GetStartup(ctx context.Context, id string) (*model.Startup, error)

	// ListStartups returns startups ordered by id.
	ListStartups(ctx context.Context, f StartupFilter) ([]model.Startup, error)

	// UpdateStartupRating stores a new rating. Rank is untouched.
	UpdateStartupRating(ctx context.Context, id string, rating float64) error

	// UpdateStartupRank stores a global rank.
	UpdateStartupRank(ctx context.Context, id string, rank int) error

	// --- Comparison log (append-only) ---

	// AppendComparison records one vote.
	AppendComparison(ctx context.Context, c *model.Comparison) error

	// ListComparisons returns votes in insertion order.
	ListComparisons(ctx context.Context, f ComparisonFilter) ([]model.Comparison, error)

	// --- Users and wallets ---

	// CreateUser persists a new user with an opening balance.
	CreateUser(ctx context.Context, u *model.User) error

	// GetUser retrieves a user's wallet and gift allowance.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// UpdateWallet stores a new cash balance.
	UpdateWallet(ctx context.Context, userID string, balance decimal.Decimal) error

	// UpdateFreeGifts stores the remaining gift rolls.
	UpdateFreeGifts(ctx context.Context, userID string, remaining int) error

	// --- Positions ---

	// GetPosition returns ErrNotFound when the user holds nothing.
	GetPosition(ctx context.Context, userID, startupID string) (*model.Position, error)

	// UpsertPosition creates or replaces the single row for (user, startup).
	UpsertPosition(ctx context.Context, p *model.Position) error

	// DeletePosition removes the row for (user, startup).
	DeletePosition(ctx context.Context, userID, startupID string) error

	// ListPositions returns a user's open positions ordered by startup id.
	ListPositions(ctx context.Context, userID string) ([]model.Position, error)

	// --- Trade ledger (append-only) ---

	// AppendTrade records one executed request.
	AppendTrade(ctx context.Context, t *model.Trade) error

	// ListTrades returns a user's trades in insertion order.
	ListTrades(ctx context.Context, userID string) ([]model.Trade, error)

	// --- Transactions ---

	// WithinTx runs fn as one atomic unit. fn receives a Store bound to the
	// transaction; returning an error rolls every write back. Calling
	// WithinTx on a transaction-bound Store joins the outer transaction.
	WithinTx(ctx context.Context, fn func(tx Store) error) error

	// LockUser serializes concurrent transactions for one user until the
	// enclosing transaction ends. Inside a transaction it returns
	// ErrNotFound when the user does not exist. Outside a transaction it
	// is a no-op.
	LockUser(ctx context.Context, userID string) error

	// LockStartups serializes concurrent rating writers for the given
	// startups until the enclosing transaction ends. Ids with no row are
	// skipped; callers read the rows afterwards and handle ErrNotFound
	// there.
	LockStartups(ctx context.Context, ids ...string) error
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
