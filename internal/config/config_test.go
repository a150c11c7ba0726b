package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 3, cfg.RecomputePasses)
	assert.Equal(t, 100, cfg.SelectorPoolSize)
	assert.Equal(t, 5, cfg.FreeGifts)
	assert.Equal(t, "10000", cfg.StartingBalance.String())
	assert.True(t, cfg.MaxGrossExposure.IsZero())
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, StoreMemory, cfg.StoreKind())
	assert.Equal(t, "pgx", cfg.PostgresDriver)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SQLITE_PATH", "/tmp/startupx.db")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("RECOMPUTE_PASSES", "5")
	t.Setenv("STARTING_BALANCE", "2500.50")
	t.Setenv("LEADERBOARD_CACHE_TTL", "1m")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5, cfg.RecomputePasses)
	assert.Equal(t, "2500.5", cfg.StartingBalance.String())
	assert.Equal(t, time.Minute, cfg.LeaderboardCacheTTL)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, StoreSQLite, cfg.StoreKind())

	t.Setenv("DATABASE_URL", "postgres://localhost/startupx")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.StoreKind())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"zero passes", "RECOMPUTE_PASSES", "0"},
		{"tiny pool", "SELECTOR_POOL_SIZE", "1"},
		{"negative balance", "STARTING_BALANCE", "-1"},
		{"negative gifts", "FREE_GIFTS", "-2"},
		{"negative share cap", "MAX_POSITION_SHARES", "-5"},
		{"not a number", "FREE_GIFTS", "lots"},
		{"bad duration", "CACHE_TTL", "soon"},
		{"unknown driver", "POSTGRES_DRIVER", "mysql"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
