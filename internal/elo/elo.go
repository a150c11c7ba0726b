// Package elo implements the pairwise-comparison rating math used to turn
// head-to-head votes into a global strength score.
//
// The model is the classic Elo logistic curve with a fixed K-factor:
//   - Expected score E_A = 1 / (1 + 10^((R_B - R_A)/400)), E_B = 1 - E_A
//   - New rating R' = R + K * (actual - expected)
//   - Every update is zero-sum: the winner gains exactly what the loser drops
//
// Everything here is pure; persistence lives in the rating package.
package elo

import (
	"cmp"
	"errors"
	"math"
	"slices"
)

const (
	// K is how far a single comparison can move a rating.
	K = 32.0

	// InitialRating seeds any startup that has no rating yet.
	InitialRating = 1500.0

	// DefaultPasses is how many times a batch recompute replays the log.
	DefaultPasses = 3

	// scale is the logistic spread: a 400 point gap means 10:1 odds.
	scale = 400.0
)

// ErrInvalidPasses is returned when a replay is asked for fewer than one pass.
var ErrInvalidPasses = errors.New("elo: pass count must be at least 1")

// Expected returns the probability that a startup rated ra is chosen over
// one rated rb.
func Expected(ra, rb float64) float64 {
	return 1 / (1 + math.Pow(10, (rb-ra)/scale))
}

// Delta returns the change to A's rating after one comparison. B's change
// is exactly the negation.
func Delta(ra, rb float64, aWon bool) float64 {
	actual := 0.0
	if aWon {
		actual = 1
	}
	return K * (actual - Expected(ra, rb))
}

// Update applies one comparison and returns both new ratings.
func Update(ra, rb float64, aWon bool) (newA, newB float64) {
	delta := Delta(ra, rb, aWon)
	return ra + delta, rb - delta
}

// Match is the minimal view of a comparison needed to replay it.
type Match struct {
	A, B string
	AWon bool
}

// ReplayStats describes one replay run.
type ReplayStats struct {
	Passes   int
	Matches  int
	Unknown  []string // ids referenced by matches but absent from the seed
	MaxShift float64  // largest |rating change| during the final pass
}

// Replay runs every match in log order, passes times, over a copy of seed.
// Ids missing from seed enter at InitialRating the first time they are seen
// and keep evolving across passes like any other entry; they are reported in
// ReplayStats.Unknown so callers can leave them out of persisted output.
//
// Elo is order-sensitive, so a single pass over an unordered history depends
// on the order. Repeating the log nudges ratings toward an order-independent
// point; it is a heuristic, not a solver, and no convergence is checked.
func Replay(seed map[string]float64, matches []Match, passes int) (map[string]float64, ReplayStats, error) {
	if passes < 1 {
		return nil, ReplayStats{}, ErrInvalidPasses
	}

	ratings := make(map[string]float64, len(seed))
	for id, r := range seed {
		ratings[id] = r
	}

	stats := ReplayStats{Passes: passes, Matches: len(matches)}
	unknown := make(map[string]bool)
	lookup := func(id string) float64 {
		if r, ok := ratings[id]; ok {
			return r
		}
		if _, seeded := seed[id]; !seeded && !unknown[id] {
			unknown[id] = true
			stats.Unknown = append(stats.Unknown, id)
		}
		return InitialRating
	}

	for pass := 0; pass < passes; pass++ {
		finalPass := pass == passes-1
		for _, m := range matches {
			ra, rb := lookup(m.A), lookup(m.B)
			delta := Delta(ra, rb, m.AWon)
			ratings[m.A] = ra + delta
			ratings[m.B] = rb - delta
			if finalPass && math.Abs(delta) > stats.MaxShift {
				stats.MaxShift = math.Abs(delta)
			}
		}
	}

	slices.Sort(stats.Unknown)
	return ratings, stats, nil
}

// Ranked is one row of a global ranking.
type Ranked struct {
	ID     string
	Rating float64
	Rank   int
}

// Rank orders ratings from highest to lowest. Ties are broken by id so the
// result is deterministic; rank 1 is the highest rating.
func Rank(ratings map[string]float64) []Ranked {
	out := make([]Ranked, 0, len(ratings))
	for id, r := range ratings {
		out = append(out, Ranked{ID: id, Rating: r})
	}
	slices.SortStableFunc(out, func(a, b Ranked) int {
		if c := cmp.Compare(b.Rating, a.Rating); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
