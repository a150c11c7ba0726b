package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/startupx/market-engine/internal/batch"
	"github.com/startupx/market-engine/internal/model"
	"github.com/startupx/market-engine/internal/store"
)

// seedStartups creates every startup listed in the JSON file at path.
// Startups that already exist are left alone, so seeding is repeatable.
func seedStartups(ctx context.Context, st store.Store, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var rows []model.Startup
	if err := json.Unmarshal(raw, &rows); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}

	created := 0
	now := time.Now().UTC()
	for i := range rows {
		s := &rows[i]
		if s.ID == "" {
			return created, fmt.Errorf("row %d: id is required", i)
		}
		label, err := batch.Normalize(s.Batch)
		if err != nil {
			return created, fmt.Errorf("startup %s: %w", s.ID, err)
		}
		s.Batch = label
		if s.Rating == 0 {
			s.Rating = model.InitialRating
		}
		s.Rank = nil
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}

		err = st.CreateStartup(ctx, s)
		if errors.Is(err, store.ErrDuplicateKey) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("startup %s: %w", s.ID, err)
		}
		created++
	}
	return created, nil
}
