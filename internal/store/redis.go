package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/startupx/market-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for
// startup rows. Writes go to the primary store and invalidate the cache;
// reads check Redis first then fall back to the primary. Redis failures
// degrade to primary reads and never fail a request.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration

	// Set when bound to a transaction: invalidations wait for commit.
	pending *pendingKeys
}

type pendingKeys struct {
	mu   sync.Mutex
	keys []string
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

var _ Store = (*CachedStore)(nil)

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateStartup(ctx context.Context, st *model.Startup) error {
	if err := s.primary.CreateStartup(ctx, st); err != nil {
		return err
	}
	s.invalidate(ctx, startupKey(st.ID))
	return nil
}

func (s *CachedStore) UpdateStartupRating(ctx context.Context, id string, rating float64) error {
	if err := s.primary.UpdateStartupRating(ctx, id, rating); err != nil {
		return err
	}
	s.invalidate(ctx, startupKey(id))
	return nil
}

func (s *CachedStore) UpdateStartupRank(ctx context.Context, id string, rank int) error {
	if err := s.primary.UpdateStartupRank(ctx, id, rank); err != nil {
		return err
	}
	s.invalidate(ctx, startupKey(id))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetStartup(ctx context.Context, id string) (*model.Startup, error) {
	// Inside a transaction the primary is authoritative.
	if s.pending != nil {
		return s.primary.GetStartup(ctx, id)
	}

	data, err := s.rdb.Get(ctx, startupKey(id)).Bytes()
	if err == nil {
		var st model.Startup
		if json.Unmarshal(data, &st) == nil {
			return &st, nil
		}
	} else if err != redis.Nil {
		slog.Warn("startup cache read failed", "startup_id", id, "error", err)
	}

	// Cache miss: read from primary.
	st, err := s.primary.GetStartup(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheStartup(ctx, st)
	return st, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListStartups(ctx context.Context, f StartupFilter) ([]model.Startup, error) {
	return s.primary.ListStartups(ctx, f)
}

func (s *CachedStore) AppendComparison(ctx context.Context, c *model.Comparison) error {
	return s.primary.AppendComparison(ctx, c)
}

func (s *CachedStore) ListComparisons(ctx context.Context, f ComparisonFilter) ([]model.Comparison, error) {
	return s.primary.ListComparisons(ctx, f)
}

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.primary.GetUser(ctx, id)
}

func (s *CachedStore) UpdateWallet(ctx context.Context, userID string, balance decimal.Decimal) error {
	return s.primary.UpdateWallet(ctx, userID, balance)
}

func (s *CachedStore) UpdateFreeGifts(ctx context.Context, userID string, remaining int) error {
	return s.primary.UpdateFreeGifts(ctx, userID, remaining)
}

func (s *CachedStore) GetPosition(ctx context.Context, userID, startupID string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, userID, startupID)
}

func (s *CachedStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	return s.primary.UpsertPosition(ctx, p)
}

func (s *CachedStore) DeletePosition(ctx context.Context, userID, startupID string) error {
	return s.primary.DeletePosition(ctx, userID, startupID)
}

func (s *CachedStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	return s.primary.ListPositions(ctx, userID)
}

func (s *CachedStore) AppendTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.AppendTrade(ctx, t)
}

func (s *CachedStore) ListTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, userID)
}

func (s *CachedStore) LockUser(ctx context.Context, userID string) error {
	return s.primary.LockUser(ctx, userID)
}

func (s *CachedStore) LockStartups(ctx context.Context, ids ...string) error {
	return s.primary.LockStartups(ctx, ids...)
}

// --- Transactions ---

// WithinTx runs fn inside the primary's transaction. Cache keys touched by
// fn are deleted only after the commit succeeds, so a rolled-back write
// never evicts a still-valid entry and a concurrent reader cannot re-cache
// uncommitted state.
func (s *CachedStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.pending != nil {
		return fn(s)
	}

	pending := &pendingKeys{}
	err := s.primary.WithinTx(ctx, func(tx Store) error {
		return fn(&CachedStore{primary: tx, rdb: s.rdb, ttl: s.ttl, pending: pending})
	})
	if err != nil {
		return err
	}

	pending.mu.Lock()
	keys := pending.keys
	pending.mu.Unlock()
	if len(keys) > 0 {
		s.del(ctx, keys...)
	}
	return nil
}

// --- Cache helpers ---

func (s *CachedStore) invalidate(ctx context.Context, key string) {
	if s.pending != nil {
		s.pending.mu.Lock()
		s.pending.keys = append(s.pending.keys, key)
		s.pending.mu.Unlock()
		return
	}
	s.del(ctx, key)
}

func (s *CachedStore) del(ctx context.Context, keys ...string) {
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("startup cache invalidation failed", "keys", keys, "error", err)
	}
}

func (s *CachedStore) cacheStartup(ctx context.Context, st *model.Startup) {
	if data, err := json.Marshal(st); err == nil {
		if err := s.rdb.Set(ctx, startupKey(st.ID), data, s.ttl).Err(); err != nil {
			slog.Warn("startup cache write failed", "startup_id", st.ID, "error", err)
		}
	}
}

func startupKey(id string) string { return fmt.Sprintf("startup:%s", id) }
