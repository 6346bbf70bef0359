package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/preston-bernstein/livescore-service/internal/config"
	"github.com/preston-bernstein/livescore-service/internal/datastore"
	"github.com/preston-bernstein/livescore-service/internal/datastore/memory"
	"github.com/preston-bernstein/livescore-service/internal/datastore/postgres"
	"github.com/preston-bernstein/livescore-service/internal/logging"
	"github.com/preston-bernstein/livescore-service/internal/metrics"
)

// backend is a ready data store plus whatever releases it.
type backend struct {
	store datastore.Store
	name  string
	close func()
}

// storeFactory assembles the data store with the shared retry wrapper.
type storeFactory struct {
	logger  *slog.Logger
	metrics *metrics.Recorder
}

func newStoreFactory(logger *slog.Logger, recorder *metrics.Recorder) storeFactory {
	return storeFactory{logger: logger, metrics: recorder}
}

func (f storeFactory) build(ctx context.Context, cfg config.Config) backend {
	b := f.selectStore(ctx, cfg)
	b.store = datastore.NewRetryingStore(b.store, f.logger, f.metrics, b.name, cfg.Retry.Attempts, cfg.Retry.Backoff)
	return b
}

func (f storeFactory) selectStore(ctx context.Context, cfg config.Config) backend {
	switch cfg.DataStore {
	case config.DataStoreMemory, "":
		return f.memory(ctx, cfg)
	case config.DataStorePostgres:
		b, err := f.postgres(ctx, cfg)
		if err != nil {
			logging.Error(f.logger, "postgres unavailable, falling back to memory", err)
			return f.memory(ctx, cfg)
		}
		return b
	default:
		logging.Warn(f.logger, "unknown data store, falling back to memory", logging.FieldStore, cfg.DataStore)
		return f.memory(ctx, cfg)
	}
}

func (f storeFactory) memory(ctx context.Context, cfg config.Config) backend {
	store, err := memory.NewSeeded(ctx, cfg.FixturePath, memory.WithBuffer(cfg.Feed.Buffer))
	if err != nil {
		logging.Error(f.logger, "fixture load failed, starting empty", err, "path", cfg.FixturePath)
		store = memory.New(memory.WithBuffer(cfg.Feed.Buffer))
	}
	return backend{
		store: store,
		name:  config.DataStoreMemory,
		close: func() {
			store.DropSubscriptions(fmt.Errorf("%w: server shutting down", datastore.ErrUnavailable))
		},
	}
}

func (f storeFactory) postgres(ctx context.Context, cfg config.Config) (backend, error) {
	if cfg.Database.URL == "" {
		return backend{}, fmt.Errorf("%w: DATABASE_URL is not set", datastore.ErrUnavailable)
	}
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := postgres.NewPool(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return backend{}, err
	}
	if cfg.Database.Migrate {
		if err := postgres.Migrate(connectCtx, pool); err != nil {
			pool.Close()
			return backend{}, fmt.Errorf("migrate: %w", err)
		}
	}

	store := postgres.New(pool,
		postgres.WithLogger(f.logger),
		postgres.WithBuffer(cfg.Feed.Buffer),
		postgres.WithReconnect(cfg.Retry.Attempts, cfg.Retry.Backoff),
	)
	logging.Info(f.logger, "connected to postgres", logging.FieldStore, config.DataStorePostgres)
	return backend{
		store: store,
		name:  config.DataStorePostgres,
		close: func() {
			store.Close()
			pool.Close()
		},
	}, nil
}
