package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heartmarshall/myenglish-backend/internal/adapter/bus"
	"github.com/heartmarshall/myenglish-backend/internal/adapter/cache"
	"github.com/heartmarshall/myenglish-backend/internal/adapter/postgres"
	"github.com/heartmarshall/myenglish-backend/internal/adapter/postgres/metadata"
	"github.com/heartmarshall/myenglish-backend/internal/adapter/postgres/object"
	"github.com/heartmarshall/myenglish-backend/internal/adapter/postgres/outbox"
	"github.com/heartmarshall/myenglish-backend/internal/adapter/postgres/relationship"
	"github.com/heartmarshall/myenglish-backend/internal/adapter/postgres/version"
	"github.com/heartmarshall/myenglish-backend/internal/config"
	"github.com/heartmarshall/myenglish-backend/internal/dispatcher"
	"github.com/heartmarshall/myenglish-backend/internal/mutator"
	"github.com/heartmarshall/myenglish-backend/internal/reader"
	"github.com/heartmarshall/myenglish-backend/internal/versioner"
)

// Core holds every long-lived component the server and dispatcher
// entrypoints share: the database pool, the look-aside cache, the event
// bus, and the write/read/dispatch services built on top of them. There is
// no framework auto-wiring and no package-level singletons beyond the
// default logger — every dependency is constructed here and passed down
// explicitly.
type Core struct {
	Config *config.Config
	Log    *slog.Logger

	Pool  *pgxpool.Pool
	Cache *cache.Cache
	Bus   *bus.Bus

	TxManager    *postgres.TxManager
	Objects      *object.Repo
	Versions     *version.Repo
	Relationship *relationship.Repo
	Outbox       *outbox.Repo
	Metadata     *metadata.Repo

	Versioner  *versioner.Versioner
	Mutator    *mutator.Mutator
	Reader     *reader.Reader
	Dispatcher *dispatcher.Dispatcher
}

// NewCore loads configuration and connects every external dependency —
// Postgres, Redis, Kafka — then builds the write/read/dispatch services on
// top of them. The caller owns the returned Core's lifetime and must call
// Close when done.
func NewCore(ctx context.Context) (*Core, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	log := NewLogger(cfg.Log)

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	redisCache, err := cache.New(ctx, cache.Config{
		Addr:         cfg.Cache.Addr,
		Password:     cfg.Cache.Password,
		DB:           cfg.Cache.DB,
		MaxRetries:   cfg.Cache.MaxRetries,
		PoolSize:     cfg.Cache.PoolSize,
		MinIdleConns: cfg.Cache.MinIdleConns,
		TTL:          cfg.Cache.TTL,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect cache: %w", err)
	}

	eventBus := bus.New(bus.Config{
		Brokers:      cfg.Bus.Brokers,
		WriteTimeout: cfg.Bus.WriteTimeout,
	})

	txManager := postgres.NewTxManager(pool)
	objects := object.New(pool)
	versions := version.New(pool)
	relationships := relationship.New(pool)
	outboxRepo := outbox.New(pool)
	metadataRepo := metadata.New(pool)

	v := versioner.New(versions)
	m := mutator.New(txManager, objects, v, outboxRepo, relationships, redisCache, metadataRepo, log)
	rd := reader.New(objects, redisCache, relationships, versions)
	d := dispatcher.New(txManager, outboxRepo, eventBus, dispatcher.Config{
		PollInterval:      cfg.Dispatcher.PollInterval,
		RetryPollInterval: cfg.Dispatcher.RetryPollInterval,
		CleanupInterval:   cfg.Dispatcher.CleanupInterval,
		BatchSize:         cfg.Dispatcher.BatchSize,
		RetentionPeriod:   cfg.Dispatcher.RetentionPeriod,
	}, log)

	return &Core{
		Config: cfg,
		Log:    log,

		Pool:  pool,
		Cache: redisCache,
		Bus:   eventBus,

		TxManager:    txManager,
		Objects:      objects,
		Versions:     versions,
		Relationship: relationships,
		Outbox:       outboxRepo,
		Metadata:     metadataRepo,

		Versioner:  v,
		Mutator:    m,
		Reader:     rd,
		Dispatcher: d,
	}, nil
}

// Close releases every external connection. Errors are collected but
// closing always proceeds through all resources.
func (c *Core) Close() error {
	var errs []error

	if err := c.Cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close cache: %w", err))
	}
	if err := c.Bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bus: %w", err))
	}
	c.Pool.Close()

	if len(errs) > 0 {
		return fmt.Errorf("core shutdown: %v", errs)
	}
	return nil
}
