// Package rating applies head-to-head votes to persisted startup ratings
// and rebuilds ratings and global ranks by replaying the vote log.
//
// Every write path runs inside one store transaction. Events are published
// only after the transaction commits.
package rating

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/startupx/market-engine/internal/elo"
	"github.com/startupx/market-engine/internal/events"
	"github.com/startupx/market-engine/internal/metrics"
	"github.com/startupx/market-engine/internal/model"
	"github.com/startupx/market-engine/internal/pricing"
	"github.com/startupx/market-engine/internal/store"
)

var (
	// ErrValidation rejects a request before any write.
	ErrValidation = errors.New("rating: invalid request")

	// ErrNoComparisons reports an empty vote log. Recompute treats it as
	// "nothing to do" and does not return it; it exists for callers that
	// want to check Summary.Err() with errors.Is.
	ErrNoComparisons = errors.New("rating: no comparisons to process")

	// ErrStoreUnavailable is the store's I/O failure sentinel.
	ErrStoreUnavailable = store.ErrUnavailable
)

// Engine owns every rating mutation.
type Engine struct {
	store  store.Store
	events events.Publisher
	passes int
	now    func() time.Time
}

// NewEngine creates a rating engine. passes < 1 falls back to
// elo.DefaultPasses. Pass nil for pub if no events are wanted.
func NewEngine(st store.Store, pub events.Publisher, passes int) *Engine {
	if passes < 1 {
		passes = elo.DefaultPasses
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Engine{
		store:  st,
		events: pub,
		passes: passes,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Passes returns the replay pass count used by recomputes.
func (e *Engine) Passes() int { return e.passes }

// Change is one startup's rating movement.
type Change struct {
	StartupID string  `json:"startup_id"`
	Before    float64 `json:"before"`
	After     float64 `json:"after"`
	Delta     float64 `json:"delta"`
}

// Outcome is the result of one applied vote. A.Delta == -B.Delta exactly.
type Outcome struct {
	Comparison model.Comparison `json:"comparison"`
	A          Change           `json:"a"`
	B          Change           `json:"b"`
}

// ApplyComparison records one vote and moves both ratings. Rank is left
// alone; only a full recompute assigns ranks.
func (e *Engine) ApplyComparison(ctx context.Context, userID, aID, bID, chosenID string) (*Outcome, error) {
	switch {
	case strings.TrimSpace(userID) == "":
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	case aID == "" || bID == "":
		return nil, fmt.Errorf("%w: both startup ids are required", ErrValidation)
	case aID == bID:
		return nil, fmt.Errorf("%w: a startup cannot be compared with itself", ErrValidation)
	case chosenID != aID && chosenID != bID:
		return nil, fmt.Errorf("%w: chosen startup %q is not part of the pair", ErrValidation, chosenID)
	}

	comparison := model.Comparison{
		ID:         uuid.New().String(),
		UserID:     userID,
		StartupAID: aID,
		StartupBID: bID,
		ChosenID:   chosenID,
		CreatedAt:  e.now(),
	}
	var out Outcome

	err := e.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.LockStartups(ctx, aID, bID); err != nil {
			return err
		}
		a, err := getStartup(ctx, tx, aID)
		if err != nil {
			return err
		}
		b, err := getStartup(ctx, tx, bID)
		if err != nil {
			return err
		}

		delta := elo.Delta(a.Rating, b.Rating, comparison.AWon())
		out = Outcome{
			Comparison: comparison,
			A:          Change{StartupID: aID, Before: a.Rating, After: a.Rating + delta, Delta: delta},
			B:          Change{StartupID: bID, Before: b.Rating, After: b.Rating - delta, Delta: -delta},
		}

		if err := tx.AppendComparison(ctx, &comparison); err != nil {
			return err
		}
		if err := tx.UpdateStartupRating(ctx, aID, out.A.After); err != nil {
			return err
		}
		return tx.UpdateStartupRating(ctx, bID, out.B.After)
	})
	if err != nil {
		return nil, fmt.Errorf("apply comparison: %w", err)
	}

	metrics.VotesTotal.Inc()
	metrics.RatingShift.Observe(math.Abs(out.A.Delta))

	slog.Info("vote recorded",
		"comparison_id", comparison.ID,
		"user", userID,
		"a", aID, "b", bID, "chosen", chosenID,
		"a_rating", out.A.After,
		"b_rating", out.B.After,
		"delta", out.A.Delta,
	)

	for _, c := range []Change{out.A, out.B} {
		events.Emit(ctx, e.events, events.Event{
			Type: events.RatingUpdated,
			Key:  c.StartupID,
			Data: events.RatingChange{
				ComparisonID: comparison.ID,
				StartupID:    c.StartupID,
				Rating:       c.After,
				Delta:        c.Delta,
				Price:        pricing.Price(c.After),
			},
		})
	}
	return &out, nil
}

func getStartup(ctx context.Context, st store.Store, id string) (*model.Startup, error) {
	s, err := st.GetStartup(ctx, id)
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("%w: unknown startup %q", ErrValidation, id)
	}
	return s, err
}
