package api

import (
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/startupx/market-engine/internal/rating"
)

// boardCache holds rendered leaderboards keyed by canonical batch label.
type boardCache struct {
	c   *ristretto.Cache
	ttl time.Duration
}

func newBoardCache(ttl time.Duration) (*boardCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     256,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &boardCache{c: c, ttl: ttl}, nil
}

func (b *boardCache) get(batch string) ([]rating.Standing, bool) {
	if b == nil {
		return nil, false
	}
	v, ok := b.c.Get(batch)
	if !ok {
		return nil, false
	}
	board, ok := v.([]rating.Standing)
	return board, ok
}

func (b *boardCache) set(batch string, board []rating.Standing) {
	if b == nil {
		return
	}
	b.c.SetWithTTL(batch, board, 1, b.ttl)
	b.c.Wait()
}

// clear drops every cached board. Called after a recompute.
func (b *boardCache) clear() {
	if b == nil {
		return
	}
	b.c.Clear()
}
