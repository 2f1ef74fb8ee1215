package logbook

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"enfra/internal/infra/logbook/postgres"
	"enfra/internal/infra/logbook/postgres/testutil"
	"enfra/internal/port"
)

func TestOpenDisabled(t *testing.T) {
	t.Setenv(Env, "")
	for _, loc := range []string{"", "none", "  "} {
		s, err := Open(context.Background(), loc, nil)
		if err != nil || s != nil {
			t.Fatalf("%q: expected disabled logbook, got %v %v", loc, s, err)
		}
	}
}

func TestOpenSQLiteFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.db")
	t.Setenv(Env, "sqlite:"+path)
	s, err := Open(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()
	s.Record(context.Background(), port.LogEntry{Port: "alpha", Operation: "construct", Status: port.LogStatusSuccess})
	entries, err := s.Entries(context.Background(), "alpha", 0)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one entry, got %v %v", entries, err)
	}
}

func TestOpenPostgres(t *testing.T) {
	db, _ := testutil.NewStubDB()
	var dsn string
	restore := postgres.OverrideSQLOpen(func(_, d string) (*sql.DB, error) {
		dsn = d
		return db, nil
	})
	defer restore()
	s, err := Open(context.Background(), "postgres://ops@db/enfra", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := s.(*postgres.Store); !ok || dsn != "postgres://ops@db/enfra" {
		t.Fatalf("expected postgres store for %s, got %T", dsn, s)
	}
}

func TestOpenUnknown(t *testing.T) {
	if _, err := Open(context.Background(), "mysql://x", nil); err == nil {
		t.Fatalf("expected error for unknown location")
	}
}
