package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/startupx/market-engine/internal/model"
)

// memoryTx is the Store handed to WithinTx callbacks on a MemoryStore.
// Reads go straight to the shared maps; writes record an undo step first.
type memoryTx struct {
	*MemoryStore

	mu       sync.Mutex
	undo     []func()
	held     map[string]bool
	releases []func()
}

func (tx *memoryTx) record(fn func()) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.undo = append(tx.undo, fn)
}

func (tx *memoryTx) rollback() {
	tx.mu.Lock()
	undo := tx.undo
	tx.undo = nil
	tx.mu.Unlock()

	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

func (tx *memoryTx) releaseLocks() {
	tx.mu.Lock()
	releases := tx.releases
	tx.releases = nil
	tx.mu.Unlock()

	for i := len(releases) - 1; i >= 0; i-- {
		releases[i]()
	}
}

// acquire locks keys not already held by this transaction. Locks are
// reentrant within one transaction.
func (tx *memoryTx) acquire(keys ...string) {
	tx.mu.Lock()
	var fresh []string
	for _, k := range keys {
		if !tx.held[k] {
			tx.held[k] = true
			fresh = append(fresh, k)
		}
	}
	tx.mu.Unlock()

	if len(fresh) == 0 {
		return
	}
	release := tx.locks.lock(fresh...)

	tx.mu.Lock()
	tx.releases = append(tx.releases, release)
	tx.mu.Unlock()
}

func (tx *memoryTx) WithinTx(_ context.Context, fn func(tx Store) error) error {
	return fn(tx)
}

func (tx *memoryTx) LockUser(_ context.Context, userID string) error {
	tx.acquire("user:" + userID)
	tx.MemoryStore.mu.RLock()
	_, ok := tx.users[userID]
	tx.MemoryStore.mu.RUnlock()
	if !ok {
		return fmt.Errorf("lock user %s: %w", userID, ErrNotFound)
	}
	return nil
}

func (tx *memoryTx) LockStartups(_ context.Context, ids ...string) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = "startup:" + id
	}
	tx.acquire(keys...)
	return nil
}

func (tx *memoryTx) CreateStartup(ctx context.Context, st *model.Startup) error {
	if err := tx.MemoryStore.CreateStartup(ctx, st); err != nil {
		return err
	}
	tx.record(func() { tx.removeStartup(st.ID) })
	return nil
}

func (tx *memoryTx) UpdateStartupRating(ctx context.Context, id string, rating float64) error {
	prev, err := tx.MemoryStore.GetStartup(ctx, id)
	if err != nil {
		return err
	}
	if err := tx.MemoryStore.UpdateStartupRating(ctx, id, rating); err != nil {
		return err
	}
	tx.record(func() { tx.restoreStartup(prev) })
	return nil
}

func (tx *memoryTx) UpdateStartupRank(ctx context.Context, id string, rank int) error {
	prev, err := tx.MemoryStore.GetStartup(ctx, id)
	if err != nil {
		return err
	}
	if err := tx.MemoryStore.UpdateStartupRank(ctx, id, rank); err != nil {
		return err
	}
	tx.record(func() { tx.restoreStartup(prev) })
	return nil
}

func (tx *memoryTx) AppendComparison(ctx context.Context, c *model.Comparison) error {
	if err := tx.MemoryStore.AppendComparison(ctx, c); err != nil {
		return err
	}
	id := c.ID
	tx.record(func() { tx.removeComparison(id) })
	return nil
}

func (tx *memoryTx) CreateUser(ctx context.Context, u *model.User) error {
	if err := tx.MemoryStore.CreateUser(ctx, u); err != nil {
		return err
	}
	id := u.ID
	tx.record(func() { tx.removeUser(id) })
	return nil
}

func (tx *memoryTx) UpdateWallet(ctx context.Context, userID string, balance decimal.Decimal) error {
	prev, err := tx.MemoryStore.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := tx.MemoryStore.UpdateWallet(ctx, userID, balance); err != nil {
		return err
	}
	tx.record(func() { tx.restoreUser(prev) })
	return nil
}

func (tx *memoryTx) UpdateFreeGifts(ctx context.Context, userID string, remaining int) error {
	prev, err := tx.MemoryStore.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := tx.MemoryStore.UpdateFreeGifts(ctx, userID, remaining); err != nil {
		return err
	}
	tx.record(func() { tx.restoreUser(prev) })
	return nil
}

func (tx *memoryTx) snapshotPosition(ctx context.Context, userID, startupID string) (*model.Position, error) {
	prev, err := tx.MemoryStore.GetPosition(ctx, userID, startupID)
	if IsNotFound(err) {
		return nil, nil
	}
	return prev, err
}

func (tx *memoryTx) UpsertPosition(ctx context.Context, p *model.Position) error {
	prev, err := tx.snapshotPosition(ctx, p.UserID, p.StartupID)
	if err != nil {
		return err
	}
	if err := tx.MemoryStore.UpsertPosition(ctx, p); err != nil {
		return err
	}
	k := positionKey{p.UserID, p.StartupID}
	tx.record(func() { tx.restorePosition(k, prev) })
	return nil
}

func (tx *memoryTx) DeletePosition(ctx context.Context, userID, startupID string) error {
	prev, err := tx.snapshotPosition(ctx, userID, startupID)
	if err != nil {
		return err
	}
	if err := tx.MemoryStore.DeletePosition(ctx, userID, startupID); err != nil {
		return err
	}
	k := positionKey{userID, startupID}
	tx.record(func() { tx.restorePosition(k, prev) })
	return nil
}

func (tx *memoryTx) AppendTrade(ctx context.Context, t *model.Trade) error {
	if err := tx.MemoryStore.AppendTrade(ctx, t); err != nil {
		return err
	}
	id := t.ID
	tx.record(func() { tx.removeTrade(id) })
	return nil
}
