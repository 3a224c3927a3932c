package app

import (
	"context"
	"fmt"
	"log/slog"
)

// Run loads configuration, connects every external dependency via NewCore,
// starts the Dispatcher's background workers, and blocks until ctx is
// canceled.
func Run(ctx context.Context) error {
	core, err := NewCore(ctx)
	if err != nil {
		return fmt.Errorf("build core: %w", err)
	}
	defer func() {
		if closeErr := core.Close(); closeErr != nil {
			core.Log.Error("error during shutdown", slog.String("error", closeErr.Error()))
		}
	}()

	core.Log.Info("starting application",
		slog.String("version", BuildVersion()),
		slog.String("log_level", core.Config.Log.Level),
	)

	return core.Dispatcher.Run(ctx)
}
