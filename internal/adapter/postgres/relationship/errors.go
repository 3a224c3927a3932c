package relationship

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/heartmarshall/myenglish-backend/internal/domain"
)

// mapError converts pgx/pgconn errors to domain errors.
func mapError(err error, entity string, id uuid.UUID) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %s: %w", entity, id, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", entity, id, domain.ErrNotFound)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("%s %s: %w", entity, id, domain.ErrStoreUnavailable)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s %s: %w", entity, id, domain.ErrConflict)
		case "23503":
			return fmt.Errorf("%s %s: %w", entity, id, domain.ErrNotFound)
		case "23514":
			return fmt.Errorf("%s %s: %w", entity, id, domain.ErrInvalidArgument)
		}
	}

	return fmt.Errorf("%s %s: %w", entity, id, err)
}
