package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/preston-bernstein/livescore-service/internal/datastore"
)

// mapError converts pgx/pgconn errors to data store errors.
// context.DeadlineExceeded and context.Canceled pass through.
func mapError(err error, table, id string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %s: %w", table, id, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", table, id, datastore.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s %s: %w: already exists", table, id, datastore.ErrInvalidInput)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s %s: %w: %s", table, id, datastore.ErrInvalidInput, pgErr.Detail)
		case "23514", "23502": // check_violation, not_null_violation
			return fmt.Errorf("%s %s: %w: %s", table, id, datastore.ErrInvalidInput, pgErr.Message)
		}
		return fmt.Errorf("%s %s: %w", table, id, err)
	}

	if pgconn.SafeToRetry(err) || errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("%s %s: %w: %v", table, id, datastore.ErrUnavailable, err)
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return fmt.Errorf("%s %s: %w: %v", table, id, datastore.ErrUnavailable, err)
	}

	return fmt.Errorf("%s %s: %w", table, id, err)
}
