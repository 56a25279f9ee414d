package db

import (
	"context"
	"os"
	"testing"
)

// TestRunMigrationsPostgres exercises the versioned migrator; it needs a
// disposable database in TEST_PG_DSN.
func TestRunMigrationsPostgres(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	s, err := Open(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if s.Dialect() != Postgres {
		t.Fatalf("dialect = %s, want postgres", s.Dialect())
	}

	if err := RunMigrations(s.DB); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := RunMigrations(s.DB); err != nil {
		t.Fatalf("second run should be a no-op: %v", err)
	}
	v, dirty, err := GetMigrationVersion(s.DB)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v != 1 || dirty {
		t.Fatalf("version = %d dirty=%v, want 1 clean", v, dirty)
	}

	ctx := context.Background()
	if err := s.SetConnectionStatus(ctx, "twitch", "connected"); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if got, err := s.ConnectionStatus(ctx, "twitch"); err != nil || got != "connected" {
		t.Fatalf("status = %q, %v", got, err)
	}

	if err := MigrateDown(s.DB); err != nil {
		t.Fatalf("down: %v", err)
	}
	if err := RunMigrations(s.DB); err != nil {
		t.Fatalf("re-up: %v", err)
	}
}

func TestGetMigrationsPathOverride(t *testing.T) {
	t.Setenv(MigrationsPathEnv, "")
	if p, err := getMigrationsPath(); err != nil || p != "" {
		t.Fatalf("embedded expected, got %q %v", p, err)
	}

	t.Setenv(MigrationsPathEnv, "migrations")
	p, err := getMigrationsPath()
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if len(p) < len("file://") || p[:7] != "file://" {
		t.Fatalf("path = %q", p)
	}

	t.Setenv(MigrationsPathEnv, "does-not-exist")
	if _, err := getMigrationsPath(); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
