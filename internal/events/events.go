// Package events fans committed engine changes out to live subscribers:
// websocket clients and, when configured, a Kafka topic.
//
// Publishing happens after the store transaction commits. A failed publish
// is logged and counted but never undoes or fails the operation.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/startupx/market-engine/internal/metrics"
)

// Type names an event stream.
type Type string

const (
	RatingUpdated     Type = "rating.updated"
	TradeExecuted     Type = "trade.executed"
	RankingRecomputed Type = "ranking.recomputed"
)

// Event is one message on the wire. Key orders messages per startup when
// the sink partitions (Kafka); Data is one of the payload types below.
type Event struct {
	Type Type      `json:"type"`
	Key  string    `json:"key,omitempty"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

// RatingChange is the payload of RatingUpdated.
type RatingChange struct {
	ComparisonID string          `json:"comparison_id"`
	StartupID    string          `json:"startup_id"`
	Rating       float64         `json:"rating"`
	Delta        float64         `json:"delta"`
	Price        decimal.Decimal `json:"price"`
}

// TradeFill is the payload of TradeExecuted.
type TradeFill struct {
	TradeID   string          `json:"trade_id"`
	UserID    string          `json:"user_id"`
	StartupID string          `json:"startup_id"`
	Kind      string          `json:"kind"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total_value"`
}

// RankingSummary is the payload of RankingRecomputed.
type RankingSummary struct {
	Scope    string   `json:"scope"` // "all" or "subset"
	Updated  int      `json:"updated"`
	Passes   int      `json:"passes"`
	Matches  int      `json:"matches"`
	Targets  []string `json:"targets,omitempty"`
	Duration string   `json:"duration"`
}

// Publisher delivers events to one sink.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi publishes to every sink and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emit publishes e and logs any failure. Use it after a commit, where an
// error cannot be reported back as a failed operation.
func Emit(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if err := p.Publish(ctx, e); err != nil {
		metrics.EventsPublishFailures.WithLabelValues(string(e.Type)).Inc()
		slog.Warn("event publish failed", "type", e.Type, "key", e.Key, "err", err)
	}
}
