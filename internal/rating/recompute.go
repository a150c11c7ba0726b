package rating

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/startupx/market-engine/internal/elo"
	"github.com/startupx/market-engine/internal/events"
	"github.com/startupx/market-engine/internal/metrics"
	"github.com/startupx/market-engine/internal/model"
	"github.com/startupx/market-engine/internal/store"
)

// Recompute scopes.
const (
	ScopeAll    = "all"
	ScopeSubset = "subset"
)

// Summary describes one recompute run.
type Summary struct {
	Scope       string        `json:"scope"`
	Passes      int           `json:"passes"`
	Comparisons int           `json:"comparisons"`
	Updated     int           `json:"updated"`           // ratings written
	Ranked      int           `json:"ranked"`            // ranks written (full recompute only)
	Unknown     []string      `json:"unknown,omitempty"` // ids in the log with no startup row
	MaxShift    float64       `json:"max_shift"`         // largest single delta in the final pass
	NothingToDo bool          `json:"nothing_to_do"`
	Duration    time.Duration `json:"duration_ns"`
}

// Err returns ErrNoComparisons when the run had nothing to replay.
func (s Summary) Err() error {
	if s.NothingToDo {
		return ErrNoComparisons
	}
	return nil
}

// RecomputeAll replays the whole vote log over every startup, seeded at
// the current persisted ratings, then writes every rating and assigns
// ranks 1..n by final rating (ties by id). With an empty log the ratings
// are left as they are and ranks are assigned from them.
//
// The log is read once at the start of the transaction. A vote appended
// while the run is in progress is picked up by the next run.
func (e *Engine) RecomputeAll(ctx context.Context) (*Summary, error) {
	start := time.Now()
	sum := Summary{Scope: ScopeAll, Passes: e.passes}

	err := e.store.WithinTx(ctx, func(tx store.Store) error {
		startups, seed, err := lockSeed(ctx, tx)
		if err != nil {
			return err
		}
		log, err := tx.ListComparisons(ctx, store.ComparisonFilter{})
		if err != nil {
			return err
		}
		sum.Comparisons = len(log)

		final := seed
		if len(log) == 0 {
			sum.NothingToDo = true
		} else {
			replayed, stats, err := elo.Replay(seed, matches(log), e.passes)
			if err != nil {
				return err
			}
			sum.Unknown = stats.Unknown
			sum.MaxShift = stats.MaxShift

			final = make(map[string]float64, len(seed))
			for id := range seed {
				final[id] = replayed[id]
			}
			for _, s := range startups {
				if err := tx.UpdateStartupRating(ctx, s.ID, final[s.ID]); err != nil {
					return err
				}
				sum.Updated++
			}
		}

		for _, r := range elo.Rank(final) {
			if err := tx.UpdateStartupRank(ctx, r.ID, r.Rank); err != nil {
				return err
			}
			sum.Ranked++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recompute all: %w", err)
	}

	e.finish(ctx, &sum, start, nil)
	return &sum, nil
}

// RecomputeSubset replays the whole log over all startups, exactly as
// RecomputeAll does, but persists only the ratings of targets. Ranks are
// not touched. Every target must exist.
func (e *Engine) RecomputeSubset(ctx context.Context, targets []string) (*Summary, error) {
	targets = slices.Clone(targets)
	slices.Sort(targets)
	targets = slices.Compact(targets)
	if len(targets) == 0 || targets[0] == "" {
		return nil, fmt.Errorf("%w: at least one startup id is required", ErrValidation)
	}

	start := time.Now()
	sum := Summary{Scope: ScopeSubset, Passes: e.passes}

	err := e.store.WithinTx(ctx, func(tx store.Store) error {
		_, seed, err := lockSeed(ctx, tx)
		if err != nil {
			return err
		}
		var missing []string
		for _, id := range targets {
			if _, ok := seed[id]; !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: unknown startups %v", ErrValidation, missing)
		}

		log, err := tx.ListComparisons(ctx, store.ComparisonFilter{})
		if err != nil {
			return err
		}
		sum.Comparisons = len(log)
		if len(log) == 0 {
			sum.NothingToDo = true
			return nil
		}

		replayed, stats, err := elo.Replay(seed, matches(log), e.passes)
		if err != nil {
			return err
		}
		sum.Unknown = stats.Unknown
		sum.MaxShift = stats.MaxShift

		for _, id := range targets {
			if err := tx.UpdateStartupRating(ctx, id, replayed[id]); err != nil {
				return err
			}
			sum.Updated++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recompute subset: %w", err)
	}

	e.finish(ctx, &sum, start, targets)
	return &sum, nil
}

func (e *Engine) finish(ctx context.Context, sum *Summary, start time.Time, targets []string) {
	sum.Duration = time.Since(start)
	metrics.RecomputeDuration.WithLabelValues(sum.Scope).Observe(sum.Duration.Seconds())

	slog.Info("ranking recomputed",
		"scope", sum.Scope,
		"passes", sum.Passes,
		"comparisons", sum.Comparisons,
		"updated", sum.Updated,
		"ranked", sum.Ranked,
		"unknown", len(sum.Unknown),
		"max_shift", sum.MaxShift,
		"nothing_to_do", sum.NothingToDo,
		"duration", sum.Duration.String(),
	)
	if len(sum.Unknown) > 0 {
		slog.Warn("comparisons reference missing startups", "ids", sum.Unknown)
	}

	events.Emit(ctx, e.events, events.Event{
		Type: events.RankingRecomputed,
		Data: events.RankingSummary{
			Scope:    sum.Scope,
			Updated:  sum.Updated,
			Passes:   sum.Passes,
			Matches:  sum.Comparisons,
			Targets:  targets,
			Duration: sum.Duration.String(),
		},
	})
}

// lockSeed locks every startup row, then reads the seed ratings under the
// locks so a vote still in flight cannot leak into the seed.
func lockSeed(ctx context.Context, tx store.Store) ([]model.Startup, map[string]float64, error) {
	startups, err := tx.ListStartups(ctx, store.StartupFilter{})
	if err != nil {
		return nil, nil, err
	}
	if err := tx.LockStartups(ctx, ids(startups)...); err != nil {
		return nil, nil, err
	}
	return loadSeed(ctx, tx)
}

func loadSeed(ctx context.Context, st store.Store) ([]model.Startup, map[string]float64, error) {
	startups, err := st.ListStartups(ctx, store.StartupFilter{})
	if err != nil {
		return nil, nil, err
	}
	seed := make(map[string]float64, len(startups))
	for _, s := range startups {
		seed[s.ID] = s.Rating
	}
	return startups, seed, nil
}

func matches(log []model.Comparison) []elo.Match {
	out := make([]elo.Match, len(log))
	for i, c := range log {
		out[i] = elo.Match{A: c.StartupAID, B: c.StartupBID, AWon: c.AWon()}
	}
	return out
}

func ids(startups []model.Startup) []string {
	out := make([]string, len(startups))
	for i, s := range startups {
		out[i] = s.ID
	}
	return out
}
