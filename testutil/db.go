package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/onnwee/relay/db"
)

// SetupTestDB opens a migrated in-memory SQLite store that is closed when the
// test ends.
func SetupTestDB(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SetupPostgres opens and migrates the database in TEST_PG_DSN. It skips the
// test if the variable is not set.
func SetupPostgres(t *testing.T) *db.Store {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	store, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
