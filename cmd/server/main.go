// Command server wires internal/app.Core and runs the dispatcher loop
// alongside it. There is no HTTP/GraphQL surface in this repository — that
// transport layer is an external collaborator per the object store's
// design — so today this process's only job is keeping the outbox drained
// while it's up; a future transport binary would build its own Core the
// same way and add a listener.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/heartmarshall/myenglish-backend/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		slog.Error("server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
