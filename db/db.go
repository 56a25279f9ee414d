// Package db is the relay's storage collaborator: connection helpers, schema
// migration and the queries the relay engine and HTTP surface need.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
	_ "modernc.org/sqlite"             // pure Go sqlite driver registered as 'sqlite'
)

// Dialect is the SQL flavour behind a Store.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ErrEmptyDSN is returned by Open when no DSN is configured.
var ErrEmptyDSN = errors.New("db: empty dsn")

// ParseDSN picks the dialect for dsn and returns the DSN in the form the
// driver expects. postgres:// URLs and key=value strings go to pgx; anything
// else is a sqlite path, with an optional sqlite:// prefix.
func ParseDSN(dsn string) (Dialect, string) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return Postgres, dsn
	case strings.Contains(dsn, "host=") && strings.Contains(dsn, "dbname="):
		return Postgres, dsn
	case strings.HasPrefix(dsn, "sqlite://"):
		return SQLite, strings.TrimPrefix(dsn, "sqlite://")
	case strings.HasPrefix(dsn, "sqlite:"):
		return SQLite, strings.TrimPrefix(dsn, "sqlite:")
	default:
		return SQLite, dsn
	}
}

// Store wraps a connection pool with the relay's queries.
type Store struct {
	DB      *sql.DB
	dialect Dialect
}

// New wraps an already opened pool.
func New(dbx *sql.DB, d Dialect) *Store { return &Store{DB: dbx, dialect: d} }

// Open opens dsn with the matching driver. SQLite files get their parent
// directory created, a busy timeout and a single connection.
func Open(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, ErrEmptyDSN
	}
	d, conn := ParseDSN(dsn)
	switch d {
	case Postgres:
		dbx, err := sql.Open("pgx", conn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		dbx.SetMaxOpenConns(10)
		dbx.SetMaxIdleConns(5)
		dbx.SetConnMaxIdleTime(5 * time.Minute)
		return New(dbx, Postgres), nil
	default:
		path := conn
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		path = strings.TrimPrefix(path, "file:")
		if path != "" && path != ":memory:" && !strings.HasPrefix(path, ":memory:") {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		if !strings.Contains(conn, "_pragma=busy_timeout") {
			sep := "?"
			if strings.Contains(conn, "?") {
				sep = "&"
			}
			conn += sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		}
		dbx, err := sql.Open("sqlite", conn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// One connection keeps :memory: databases shared and serializes writers.
		dbx.SetMaxOpenConns(1)
		return New(dbx, SQLite), nil
	}
}

// Dialect reports the SQL flavour of the store.
func (s *Store) Dialect() Dialect { return s.dialect }

// Close closes the pool.
func (s *Store) Close() error { return s.DB.Close() }

// Ping checks connectivity for readiness checks.
func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

// Stats exposes pool statistics for metrics.
func (s *Store) Stats() sql.DBStats { return s.DB.Stats() }

// Migrate brings the schema up to date. Postgres goes through the versioned
// migrator; SQLite applies the embedded up scripts, which are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if s.dialect == Postgres {
		return RunMigrations(s.DB)
	}
	return applyEmbedded(ctx, s.DB)
}

// rebind rewrites ? placeholders as $n for Postgres.
func (s *Store) rebind(q string) string {
	if s.dialect != Postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, q string, args ...any) error {
	_, err := s.DB.ExecContext(ctx, s.rebind(q), args...)
	return err
}

func (s *Store) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("rollback failed", slog.String("component", "db"), slog.Any("err", rbErr))
		}
		return err
	}
	return tx.Commit()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
