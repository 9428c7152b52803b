package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrConnect is returned when the initial connection cannot be opened.
	ErrConnect = errors.New("database connect failed")

	// ErrReconnect is returned when a lost connection cannot be re-opened.
	ErrReconnect = errors.New("database reconnect failed")

	// ErrIncomplete rejects a record missing a field the table requires.
	// The store is never touched.
	ErrIncomplete = errors.New("incomplete record")

	// ErrWrite wraps any failure while executing or committing the insert.
	ErrWrite = errors.New("database write failed")
)

const uniqueViolation = "23505"

// PgErrorDetails extracts the SQLSTATE and constraint from a Postgres error.
func PgErrorDetails(err error) (code, constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if err == nil || !errors.As(err, &pgErr) {
		return "", "", false
	}
	return pgErr.Code, pgErr.ConstraintName, true
}

// IsUniqueViolation reports whether err is a unique_violation. Collisions on
// the dedup key never surface as errors (ON CONFLICT DO NOTHING), so any
// unique violation that does reach the caller is a real write failure.
func IsUniqueViolation(err error) bool {
	code, _, ok := PgErrorDetails(err)
	return ok && code == uniqueViolation
}
