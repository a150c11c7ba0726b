package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startupx/market-engine/internal/model"
	"github.com/startupx/market-engine/internal/store"
)

func TestSeedStartups(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	n, err := seedStartups(ctx, st, filepath.Join("testdata", "startups.json"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	acme, err := st.GetStartup(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Winter 2024", acme.Batch)
	assert.Equal(t, model.InitialRating, acme.Rating)

	ledgerly, err := st.GetStartup(ctx, "ledgerly")
	require.NoError(t, err)
	assert.Equal(t, 1620.0, ledgerly.Rating)
	assert.Equal(t, "Summer 2023", ledgerly.Batch)

	n, err = seedStartups(ctx, st, filepath.Join("testdata", "startups.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "reseeding creates nothing")
}

func TestSeedStartups_Rejects(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"missing id": `[{"name": "x"}]`,
		"bad batch":  `[{"id": "x", "batch": "Spring"}]`,
		"not json":   `{`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := seedStartups(context.Background(), store.NewMemoryStore(), path)
			assert.Error(t, err)
		})
	}
}
