package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/raakeshmj/nfcverify/internal/cache"
	"github.com/raakeshmj/nfcverify/internal/config"
	"github.com/raakeshmj/nfcverify/internal/repository"
	"github.com/raakeshmj/nfcverify/internal/repository/memory"
	"github.com/raakeshmj/nfcverify/internal/repository/postgres"
	"github.com/raakeshmj/nfcverify/internal/repository/sqlite"
)

// Migrator is implemented by stores with an explicit schema step.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// OpenStore opens the store selected by STORE_DRIVER. The sqlite store
// migrates on open; postgres migrates only when AUTO_MIGRATE is set.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		store, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if cfg.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("migrate postgres store: %w", err)
			}
		}
		return store, nil

	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil

	case config.DriverMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// OpenCache connects to redis when REDIS_URL is set. Without it, or when redis
// cannot be reached at boot, the service runs on an in-process cache and rate
// limits, key lookups and results are tracked per instance.
func OpenCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) cache.Client {
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL not set, using in-process cache")
		return cache.NewMemoryCache()
	}
	c, err := cache.NewRedisCache(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn("redis unavailable, falling back to in-process cache", zap.Error(err))
		return cache.NewMemoryCache()
	}
	return c
}
