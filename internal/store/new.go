package store

import (
	"context"
	"fmt"

	"github.com/interpretcore/core/internal/config"
	"github.com/interpretcore/core/internal/store/postgres"
	"github.com/interpretcore/core/internal/store/redis"
	"github.com/interpretcore/core/internal/store/sqlite"
	"github.com/rs/zerolog"
)

// New builds the Store backend selected by cfg.Backend ("memory", "sqlite",
// "postgres", or "redis"), running migrations for the SQL backends.
// Complexity: O(1) plus backend connection setup
func New(cfg config.StoreConfig, logger zerolog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		logger.Info().Msg("using in-memory state store")
		return NewMemoryStore(cfg.RetainedHards), nil

	case "sqlite":
		db, err := sqlite.New(sqlite.Config{
			Path:            cfg.SQLite.Path,
			MaxOpenConns:    cfg.SQLite.MaxOpenConns,
			MaxIdleConns:    cfg.SQLite.MaxIdleConns,
			ConnMaxLifetime: cfg.SQLite.ConnMaxLifetime,
			WALMode:         cfg.SQLite.WALMode,
			ForeignKeys:     cfg.SQLite.ForeignKeys,
			BusyTimeout:     cfg.SQLite.BusyTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("store: open sqlite: %w", err)
		}

		if err := sqlite.NewMigrator(db, logger).Migrate(context.Background()); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: migrate sqlite: %w", err)
		}

		return NewSQLStore(db, db.Close, cfg.RetainedHards), nil

	case "postgres":
		db, err := postgres.New(cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("store: open postgres: %w", err)
		}

		if err := postgres.NewMigrator(db, logger).Run(context.Background()); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: migrate postgres: %w", err)
		}

		adapter := postgres.NewAdapter(db.StdlibDB())
		closeFn := func() error {
			db.Close()
			return nil
		}
		return NewSQLStore(adapter, closeFn, cfg.RetainedHards), nil

	case "redis":
		client, err := redis.New(cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("store: open redis: %w", err)
		}
		return NewRedisStore(client, cfg.RetainedHards), nil

	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}
