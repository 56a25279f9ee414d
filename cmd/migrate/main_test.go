package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/onnwee/relay/db"
)

func openSQLite(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRunCommandSQLite(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()

	if err := runCommand(ctx, store, "up", &bytes.Buffer{}); err != nil {
		t.Fatalf("up: %v", err)
	}
	if _, err := store.CountLines(ctx); err != nil {
		t.Fatalf("schema not applied: %v", err)
	}

	for _, cmd := range []string{"down", "version"} {
		if err := runCommand(ctx, store, cmd, &bytes.Buffer{}); !errors.Is(err, ErrPostgresOnly) {
			t.Errorf("%s: expected ErrPostgresOnly, got %v", cmd, err)
		}
	}
	if err := runCommand(ctx, store, "sideways", &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestRunCommandPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	store, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := runCommand(ctx, store, "up", &bytes.Buffer{}); err != nil {
		t.Fatalf("up: %v", err)
	}
	var out bytes.Buffer
	if err := runCommand(ctx, store, "version", &out); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "version=1 dirty=false") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}
