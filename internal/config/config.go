// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/shopspring/decimal"
)

// Store backends, in order of preference.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

type Config struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LogLevel        slog.Level    `env:"LOG_LEVEL" envDefault:"INFO"`

	DatabaseURL    string        `env:"DATABASE_URL"`
	PostgresDriver string        `env:"POSTGRES_DRIVER" envDefault:"pgx"` // "pgx" or "gorm"
	SQLitePath     string        `env:"SQLITE_PATH"`
	RedisURL       string        `env:"REDIS_URL"`
	CacheTTL       time.Duration `env:"CACHE_TTL" envDefault:"30s"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"startupx.events"`

	RecomputePasses     int           `env:"RECOMPUTE_PASSES" envDefault:"3"`
	SelectorPoolSize    int           `env:"SELECTOR_POOL_SIZE" envDefault:"100"`
	LeaderboardCacheTTL time.Duration `env:"LEADERBOARD_CACHE_TTL" envDefault:"10s"`

	StartingBalance   decimal.Decimal `env:"STARTING_BALANCE" envDefault:"10000"`
	FreeGifts         int             `env:"FREE_GIFTS" envDefault:"5"`
	MaxPositionShares int64           `env:"MAX_POSITION_SHARES" envDefault:"0"`
	MaxGrossExposure  decimal.Decimal `env:"MAX_GROSS_EXPOSURE" envDefault:"0"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the engines cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.RecomputePasses < 1 {
		errs = append(errs, fmt.Errorf("RECOMPUTE_PASSES must be at least 1, got %d", c.RecomputePasses))
	}
	if c.SelectorPoolSize < 2 {
		errs = append(errs, fmt.Errorf("SELECTOR_POOL_SIZE must be at least 2, got %d", c.SelectorPoolSize))
	}
	if c.StartingBalance.IsNegative() {
		errs = append(errs, errors.New("STARTING_BALANCE must not be negative"))
	}
	if c.FreeGifts < 0 {
		errs = append(errs, errors.New("FREE_GIFTS must not be negative"))
	}
	if c.MaxPositionShares < 0 || c.MaxGrossExposure.IsNegative() {
		errs = append(errs, errors.New("position limits must not be negative"))
	}
	if c.PostgresDriver != "pgx" && c.PostgresDriver != "gorm" {
		errs = append(errs, fmt.Errorf("POSTGRES_DRIVER must be pgx or gorm, got %q", c.PostgresDriver))
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required with KAFKA_BROKERS"))
	}
	return errors.Join(errs...)
}

// StoreKind picks the backend: PostgreSQL when DATABASE_URL is set, else
// SQLite through GORM when SQLITE_PATH is set, else in-memory.
func (c Config) StoreKind() string {
	switch {
	case c.DatabaseURL != "":
		return StorePostgres
	case c.SQLitePath != "":
		return StoreSQLite
	default:
		return StoreMemory
	}
}
