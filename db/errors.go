package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorClass represents whether a storage failure is worth retrying.
type ErrorClass int

const (
	// ErrorClassRetryable covers connection loss, lock contention and timeouts.
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal covers constraint violations, bad SQL and missing tables.
	ErrorClassFatal
	// ErrorClassUnknown is returned for a nil error.
	ErrorClassUnknown
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify sorts a storage error into retryable and fatal classes.
//
// Retryable:
// - Postgres connection exceptions (08), transaction rollbacks (40),
//   insufficient resources (53) and operator intervention (57)
// - driver.ErrBadConn and context deadlines
// - SQLite busy/locked errors
//
// Fatal:
// - any other Postgres SQLSTATE (integrity, syntax, undefined objects)
// - context cancellation
// - SQLite constraint and schema errors
//
// Anything else is treated as retryable so a flush is not abandoned early.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	if errors.Is(err, context.Canceled) {
		return ErrorClassFatal
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return ErrorClassRetryable
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"),
			strings.HasPrefix(pgErr.Code, "40"),
			strings.HasPrefix(pgErr.Code, "53"),
			strings.HasPrefix(pgErr.Code, "57"):
			return ErrorClassRetryable
		default:
			return ErrorClassFatal
		}
	}

	lower := strings.ToLower(err.Error())
	for _, p := range []string{"database is locked", "sqlite_busy", "database table is locked"} {
		if strings.Contains(lower, p) {
			return ErrorClassRetryable
		}
	}
	for _, p := range []string{"constraint failed", "no such table", "no such column", "syntax error"} {
		if strings.Contains(lower, p) {
			return ErrorClassFatal
		}
	}
	return ErrorClassRetryable
}

// IsRetryable reports whether err should keep the write-back breaker counting.
func IsRetryable(err error) bool { return Classify(err) == ErrorClassRetryable }
