// Command dispatcher runs only the outbox dispatcher — pending worker,
// retry worker, cleanup sweeper — as a standalone process so it can be
// scaled independently of whatever writes to the object store. It builds
// its own minimal set of dependencies (pool, outbox repo, bus) rather than
// the full internal/app.Core, since it never touches the cache or the
// object/version/relationship/metadata repositories.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/heartmarshall/myenglish-backend/internal/adapter/bus"
	"github.com/heartmarshall/myenglish-backend/internal/adapter/postgres"
	"github.com/heartmarshall/myenglish-backend/internal/adapter/postgres/outbox"
	"github.com/heartmarshall/myenglish-backend/internal/app"
	"github.com/heartmarshall/myenglish-backend/internal/config"
	"github.com/heartmarshall/myenglish-backend/internal/dispatcher"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("validate config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := app.NewLogger(cfg.Log)

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		log.Error("connect postgres", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	eventBus := bus.New(bus.Config{
		Brokers:      cfg.Bus.Brokers,
		WriteTimeout: cfg.Bus.WriteTimeout,
	})
	defer func() {
		if err := eventBus.Close(); err != nil {
			log.Warn("close bus", slog.String("error", err.Error()))
		}
	}()

	d := dispatcher.New(
		postgres.NewTxManager(pool),
		outbox.New(pool),
		eventBus,
		dispatcher.Config{
			PollInterval:      cfg.Dispatcher.PollInterval,
			RetryPollInterval: cfg.Dispatcher.RetryPollInterval,
			CleanupInterval:   cfg.Dispatcher.CleanupInterval,
			BatchSize:         cfg.Dispatcher.BatchSize,
			RetentionPeriod:   cfg.Dispatcher.RetentionPeriod,
		},
		log,
	)

	log.Info("starting dispatcher", slog.String("version", app.BuildVersion()))
	if err := d.Run(ctx); err != nil {
		log.Error("dispatcher exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
