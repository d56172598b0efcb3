package errors

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapDBError maps database errors to AppError instances.
// - context deadline/cancel → Timeout/Canceled
// - sql/pgx no rows → NotFound
// - unique violation → Conflict
// - check / NOT NULL violation → Validation
//
// Unrecognized errors are returned unchanged.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(err, ErrCodeTimeout, "database request timed out")
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(err, ErrCodeCanceled, "database request was canceled")
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return Wrap(err, ErrCodeNotFound, "resource not found")
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return &AppError{Code: ErrCodeConflict, Message: "value already exists", Field: pgErr.ColumnName, Cause: pgErr}
	case pgerrcode.CheckViolation, pgerrcode.NotNullViolation:
		return &AppError{Code: ErrCodeValidation, Message: "invalid data", Field: pgErr.ColumnName, Cause: pgErr}
	case pgerrcode.QueryCanceled, pgerrcode.LockNotAvailable:
		return Wrap(pgErr, ErrCodeTimeout, "database request timed out")
	default:
		return Wrap(pgErr, ErrCodeInternal, "a database error occurred")
	}
}

// IsRetryableDB reports whether a Postgres error is worth retrying (connection or
// serialization problems).
func IsRetryableDB(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgerrcode.IsConnectionException(pgErr.Code) ||
		pgErr.Code == pgerrcode.SerializationFailure ||
		pgErr.Code == pgerrcode.DeadlockDetected
}
