// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// VotesTotal counts comparisons applied to ratings.
	VotesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "startupx_votes_total",
		Help: "Total number of comparisons recorded",
	})

	// RatingShift tracks the absolute rating change per vote.
	RatingShift = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "startupx_rating_shift_points",
		Help:    "Absolute rating change applied by one comparison",
		Buckets: []float64{1, 2, 4, 8, 12, 16, 20, 24, 28, 32},
	})

	// PairsServed counts comparison pairs handed out, by how the opponent
	// was chosen ("similar" within the rating band, "any" otherwise).
	PairsServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "startupx_pairs_served_total",
		Help: "Comparison pairs served by the opponent selector",
	}, []string{"match"})

	// RecomputeDuration tracks batch recompute wall time, by scope.
	RecomputeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "startupx_recompute_duration_seconds",
		Help:    "Batch recompute duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"scope"})

	// TradesTotal counts executed ledger requests, partitioned by kind.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "startupx_trades_total",
		Help: "Total number of trades executed",
	}, []string{"kind"})

	// TradeLatency tracks ledger request latency by kind.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "startupx_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// TradeRejections counts requests refused by a ledger guard.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "startupx_trade_rejections_total",
		Help: "Trades rejected before any write, by reason",
	}, []string{"reason"})

	// StartupVolume tracks cumulative traded shares per startup.
	StartupVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "startupx_startup_volume_total",
		Help: "Cumulative trade volume in shares",
	}, []string{"startup_id", "kind"})

	// GiftsGranted counts free gift rolls redeemed.
	GiftsGranted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "startupx_gifts_granted_total",
		Help: "Free gift rolls redeemed",
	})

	// EventsPublishFailures counts events that could not be delivered.
	EventsPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "startupx_event_publish_failures_total",
		Help: "Events that failed to publish, by event type",
	}, []string{"type"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "startupx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "startupx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "startupx_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over connections that pass
// through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: underlying ResponseWriter does not support hijacking")
	}
	return h.Hijack()
}
