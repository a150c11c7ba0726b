package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/startupx/market-engine/internal/batch"
	"github.com/startupx/market-engine/internal/ledger"
	"github.com/startupx/market-engine/internal/matchmaking"
	"github.com/startupx/market-engine/internal/rating"
	"github.com/startupx/market-engine/internal/store"
)

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rating.ErrValidation),
		errors.Is(err, ledger.ErrValidation),
		errors.Is(err, matchmaking.ErrValidation),
		errors.Is(err, batch.ErrInvalidBatch),
		errors.Is(err, batch.ErrUnknownSeason):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, matchmaking.ErrNoPairAvailable):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientPosition),
		errors.Is(err, ledger.ErrConflictingDirection),
		errors.Is(err, ledger.ErrNoGiftsRemaining),
		errors.Is(err, ledger.ErrPositionLimit),
		errors.Is(err, store.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure writes err with its mapped status. Server-side failures are
// logged and reported without internal detail.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		slog.Error("request failed", "path", r.URL.Path, "err", err)
		msg = "storage temporarily unavailable"
	case http.StatusInternalServerError:
		slog.Error("request failed", "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	writeError(w, msg, status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
