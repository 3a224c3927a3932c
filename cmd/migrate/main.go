// Command migrate applies or inspects the goose migrations under
// migrations/ against the configured database. It uses goose.NewProvider
// with os.DirFS the same way internal/adapter/postgres/testhelper does for
// integration tests, since the legacy goose.Up/.Down split on plain
// semicolons and mishandles the $$-delimited functions this schema doesn't
// currently have but future migrations might.
//
// Usage:
//
//	migrate [-command up|down|status|down-to|up-to] [-version N]
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/heartmarshall/myenglish-backend/internal/app"
	"github.com/heartmarshall/myenglish-backend/internal/config"
)

const migrationsDir = "migrations"

func main() {
	command := flag.String("command", "up", "one of: up, down, status, up-to, down-to")
	version := flag.Int64("version", 0, "target version for up-to/down-to")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := app.NewLogger(cfg.Log)

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		log.Error("open database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		log.Error("ping database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, os.DirFS(migrationsDir))
	if err != nil {
		log.Error("create goose provider", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := run(ctx, provider, *command, *version, log); err != nil {
		log.Error("migration failed", slog.String("command", *command), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, provider *goose.Provider, command string, version int64, log *slog.Logger) error {
	switch command {
	case "up":
		results, err := provider.Up(ctx)
		if err != nil {
			return err
		}
		logResults(log, results)
	case "up-to":
		results, err := provider.UpTo(ctx, version)
		if err != nil {
			return err
		}
		logResults(log, results)
	case "down":
		result, err := provider.Down(ctx)
		if err != nil {
			return err
		}
		logResults(log, []*goose.MigrationResult{result})
	case "down-to":
		results, err := provider.DownTo(ctx, version)
		if err != nil {
			return err
		}
		logResults(log, results)
	case "status":
		statuses, err := provider.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			fmt.Printf("%-3s %s\n", statusMark(s), s.Source.Path)
		}
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

func logResults(log *slog.Logger, results []*goose.MigrationResult) {
	for _, r := range results {
		log.Info("applied migration", slog.String("source", r.Source.Path), slog.Duration("duration", r.Duration))
	}
	if len(results) == 0 {
		log.Info("no migrations to apply")
	}
}

func statusMark(s *goose.MigrationStatus) string {
	if s.State == goose.StateApplied {
		return "[x]"
	}
	return "[ ]"
}
