package metadata

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/heartmarshall/myenglish-backend/internal/domain"
)

// mapError converts pgx/pgconn errors to domain errors. Unlike the other
// postgres subpackages, MetadataCache is keyed by type_code (a string), not
// a uuid.UUID.
func mapError(err error, typeCode string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("metadata_cache %s: %w", typeCode, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("metadata_cache %s: %w", typeCode, domain.ErrNotFound)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("metadata_cache %s: %w", typeCode, domain.ErrStoreUnavailable)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("metadata_cache %s: %w", typeCode, domain.ErrConflict)
		case "23503":
			return fmt.Errorf("metadata_cache %s: %w", typeCode, domain.ErrNotFound)
		case "23514":
			return fmt.Errorf("metadata_cache %s: %w", typeCode, domain.ErrInvalidArgument)
		}
	}

	return fmt.Errorf("metadata_cache %s: %w", typeCode, err)
}
