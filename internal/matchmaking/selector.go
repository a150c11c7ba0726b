// Package matchmaking picks the next pair of startups to show a voter.
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/startupx/market-engine/internal/batch"
	"github.com/startupx/market-engine/internal/metrics"
	"github.com/startupx/market-engine/internal/model"
	"github.com/startupx/market-engine/internal/store"
)

const (
	// DefaultPoolSize bounds how many startups one selection looks at.
	DefaultPoolSize = 100

	// RatingBand is the preferred maximum rating gap between opponents.
	RatingBand = 200.0
)

var (
	// ErrNoPairAvailable means fewer than two startups match the filter.
	ErrNoPairAvailable = errors.New("matchmaking: no pair available")

	// ErrValidation rejects a malformed request.
	ErrValidation = errors.New("matchmaking: invalid request")
)

// Pair is the next comparison. A and B are distinct; neither position
// favours the base startup.
type Pair struct {
	A model.Startup `json:"startup_a"`
	B model.Startup `json:"startup_b"`

	// Similar is true when the opponent came from the rating band.
	Similar bool `json:"similar"`
	// Repeat is true when the user had already seen every possible pair.
	Repeat bool `json:"repeat"`
}

// Options narrows the population.
type Options struct {
	// Batch is any label batch.Normalize accepts; "" or "all" means every batch.
	Batch string
}

// Selector draws pairs from the store.
type Selector struct {
	store    store.Store
	poolSize int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector creates a selector. poolSize < 2 falls back to DefaultPoolSize.
func NewSelector(st store.Store, poolSize int) *Selector {
	seed := uint64(time.Now().UnixNano())
	return NewSelectorWithRand(st, poolSize, rand.New(rand.NewPCG(seed, seed>>1|1)))
}

// NewSelectorWithRand is NewSelector with a caller-supplied source, for
// reproducible draws.
func NewSelectorWithRand(st store.Store, poolSize int, rng *rand.Rand) *Selector {
	if poolSize < 2 {
		poolSize = DefaultPoolSize
	}
	return &Selector{store: st, poolSize: poolSize, rng: rng}
}

// SelectNextPair returns the next pair for userID. Startups the user has
// already voted on are avoided while any unseen pair remains.
func (s *Selector) SelectNextPair(ctx context.Context, userID string, opts Options) (*Pair, error) {
	label, err := batch.Normalize(opts.Batch)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	population, err := s.store.ListStartups(ctx, store.StartupFilter{Batch: label})
	if err != nil {
		return nil, fmt.Errorf("select pair: %w", err)
	}

	seen := make(map[string]bool)
	if userID != "" {
		votes, err := s.store.ListComparisons(ctx, store.ComparisonFilter{UserID: userID})
		if err != nil {
			return nil, fmt.Errorf("select pair: %w", err)
		}
		for _, c := range votes {
			seen[c.StartupAID] = true
			seen[c.StartupBID] = true
		}
	}

	s.mu.Lock()
	pair, err := Select(population, seen, s.poolSize, s.rng)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	match := "any"
	if pair.Similar {
		match = "similar"
	}
	metrics.PairsServed.WithLabelValues(match).Inc()
	slog.Debug("pair selected",
		"user", userID,
		"batch", label,
		"a", pair.A.ID,
		"b", pair.B.ID,
		"similar", pair.Similar,
		"repeat", pair.Repeat,
	)
	return &pair, nil
}

// Select is the pure selection policy. rng must not be shared without
// external locking.
func Select(population []model.Startup, seen map[string]bool, poolSize int, rng *rand.Rand) (Pair, error) {
	if len(population) < 2 {
		return Pair{}, ErrNoPairAvailable
	}
	if poolSize < 2 {
		poolSize = DefaultPoolSize
	}

	seenHere := 0
	for _, st := range population {
		if seen[st.ID] {
			seenHere++
		}
	}
	unseen := len(population) - seenHere
	allowRepeat := unseen*(unseen-1)/2 < 1

	pool := sample(population, poolSize, rng)
	candidates := pool
	if !allowRepeat && seenHere > 0 {
		fresh := make([]model.Startup, 0, len(pool))
		for _, st := range pool {
			if !seen[st.ID] {
				fresh = append(fresh, st)
			}
		}
		if len(fresh) >= 2 {
			candidates = fresh
		}
	}

	bi := rng.IntN(len(candidates))
	base := candidates[bi]

	var similar, others []int
	for i, st := range candidates {
		if i == bi {
			continue
		}
		others = append(others, i)
		if math.Abs(st.Rating-base.Rating) <= RatingBand {
			similar = append(similar, i)
		}
	}

	pair := Pair{Repeat: allowRepeat && seenHere > 0}
	var opponent model.Startup
	if len(similar) > 0 {
		opponent = candidates[similar[rng.IntN(len(similar))]]
		pair.Similar = true
	} else {
		opponent = candidates[others[rng.IntN(len(others))]]
	}

	if rng.IntN(2) == 0 {
		pair.A, pair.B = base, opponent
	} else {
		pair.A, pair.B = opponent, base
	}
	return pair, nil
}

// sample returns up to n startups drawn without replacement.
func sample(population []model.Startup, n int, rng *rand.Rand) []model.Startup {
	if len(population) <= n {
		return population
	}
	out := make([]model.Startup, n)
	for i, j := range rng.Perm(len(population))[:n] {
		out[i] = population[j]
	}
	return out
}
