package storage

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/your-org/attendance/internal/apperr"
)

// ErrDuplicateKey is returned when an insert collides with an existing key.
var ErrDuplicateKey = apperr.New(apperr.ErrConflict, "duplicate_key", "record already exists")

// ErrMissingReference is returned when a row refers to an identity that does
// not exist, typically one removed concurrently.
var ErrMissingReference = apperr.New(apperr.ErrNotFound, "missing_reference", "referenced record does not exist")

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}
