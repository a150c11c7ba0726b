package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/startupx/market-engine/internal/api"
	"github.com/startupx/market-engine/internal/config"
	"github.com/startupx/market-engine/internal/events"
	"github.com/startupx/market-engine/internal/ledger"
	"github.com/startupx/market-engine/internal/matchmaking"
	"github.com/startupx/market-engine/internal/rating"
	"github.com/startupx/market-engine/internal/store"
)

func main() {
	seedPath := flag.String("seed", "", "JSON file of startups to create on boot")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("store init failed", "err", err)
		os.Exit(1)
	}
	defer func() { runCleanup(cleanup) }()

	if *seedPath != "" {
		n, err := seedStartups(ctx, st, *seedPath)
		if err != nil {
			slog.Error("seeding failed", "path", *seedPath, "err", err)
			runCleanup(cleanup)
			os.Exit(1)
		}
		slog.Info("startups seeded", "path", *seedPath, "created", n)
	}

	// --- Event fan-out ---
	hub := events.NewHub()
	go hub.Run(ctx)

	publishers := events.Multi{hub}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		cleanup = append(cleanup, func() {
			if err := kp.Close(); err != nil {
				slog.Warn("kafka close", "err", err)
			}
		})
		publishers = append(publishers, kp)
		slog.Info("Kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	// --- Engines ---
	ratingEngine := rating.NewEngine(st, publishers, cfg.RecomputePasses)
	selector := matchmaking.NewSelector(st, cfg.SelectorPoolSize)
	book := ledger.New(st, publishers, ledger.Config{
		StartingBalance: cfg.StartingBalance,
		FreeGifts:       cfg.FreeGifts,
		Limits: ledger.Limits{
			MaxShares:        cfg.MaxPositionShares,
			MaxGrossExposure: cfg.MaxGrossExposure,
		},
	})

	srvAPI, err := api.New(api.Deps{
		Store:          st,
		Rating:         ratingEngine,
		Selector:       selector,
		Ledger:         book,
		Hub:            hub,
		LeaderboardTTL: cfg.LeaderboardCacheTTL,
	})
	if err != nil {
		slog.Error("api init failed", "err", err)
		runCleanup(cleanup)
		os.Exit(1)
	}

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srvAPI.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("market-engine listening",
			"port", cfg.Port,
			"store", cfg.StoreKind(),
			"passes", ratingEngine.Passes(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down market-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("market-engine stopped")
}

// openStore picks the backend from cfg and returns it with its cleanup
// functions, in the order they were acquired. On error everything already
// acquired is released and no cleanups are returned.
func openStore(ctx context.Context, cfg config.Config) (_ store.Store, cleanup []func(), err error) {
	defer func() {
		if err != nil {
			runCleanup(cleanup)
			cleanup = nil
		}
	}()

	switch cfg.StoreKind() {
	case config.StorePostgres:
		// Parse before connecting so a bad URL never leaves a pool open.
		var redisOpt *redis.Options
		if cfg.RedisURL != "" {
			if redisOpt, err = redis.ParseURL(cfg.RedisURL); err != nil {
				return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
			}
		}

		var st store.Store
		if cfg.PostgresDriver == "gorm" {
			db, err := store.OpenGormPostgres(cfg.DatabaseURL)
			if err != nil {
				return nil, cleanup, err
			}
			if sqlDB, err := db.DB(); err == nil {
				cleanup = append(cleanup, func() { sqlDB.Close() })
			}
			st = store.NewGormStore(db)
			slog.Info("connected to PostgreSQL", "driver", "gorm")
		} else {
			pool, err := store.NewPool(ctx, cfg.DatabaseURL)
			if err != nil {
				return nil, cleanup, err
			}
			cleanup = append(cleanup, pool.Close)
			st = store.NewPostgresStore(pool)
			slog.Info("connected to PostgreSQL", "driver", "pgx")
		}

		// Wrap with Redis read-through cache if configured.
		if redisOpt != nil {
			rdb := redis.NewClient(redisOpt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL.String())
		}
		return st, cleanup, nil

	case config.StoreSQLite:
		db, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			cleanup = append(cleanup, func() { sqlDB.Close() })
		}
		slog.Info("using SQLite store", "path", cfg.SQLitePath)
		return store.NewGormStore(db), cleanup, nil

	default:
		slog.Warn("DATABASE_URL and SQLITE_PATH not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), nil, nil
	}
}

// runCleanup releases resources in reverse acquisition order.
func runCleanup(cleanup []func()) {
	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
}
