// Package postgres persists the port logbook to a shared Postgres database so
// several operators see one history.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"enfra/internal/port"
)

const (
	defaultDriver = "pgx"
	// DSNEnv names the environment variable carrying the connection string.
	DSNEnv     = "ENFRA_LOGBOOK_DSN"
	defaultDSN = "postgres://localhost/enfra?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var _ port.Logbook = (*Store)(nil)

// Store appends logbook entries to a Postgres table.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore connects using dsn (falling back to a local default), and ensures
// the logbook table exists.
func NewStore(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

func ensureTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS logbook (
		id BIGSERIAL PRIMARY KEY,
		port TEXT NOT NULL,
		operation TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMPTZ NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure logbook table: %w", err)
	}
	return nil
}

// Append writes one entry.
func (s *Store) Append(ctx context.Context, e port.LogEntry) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logbook(port,operation,subject,status,error_message,occurred_at) VALUES($1,$2,$3,$4,$5,$6)`,
		e.Port, e.Operation, e.Subject, string(e.Status), e.Error, e.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("insert logbook entry: %w", err)
	}
	return nil
}

// Record appends an entry, logging rather than returning write failures.
func (s *Store) Record(ctx context.Context, e port.LogEntry) {
	if err := s.Append(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "logbook write failed", "port", e.Port, "operation", e.Operation, "error", err)
	}
}

// Entries returns the most recent entries for portName in chronological
// order. A non-positive limit returns every entry.
func (s *Store) Entries(ctx context.Context, portName string, limit int) ([]port.LogEntry, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT port, operation, subject, status, error_message, occurred_at FROM logbook WHERE port = $1 ORDER BY id DESC LIMIT $2`,
		portName, limitArg)
	if err != nil {
		return nil, fmt.Errorf("select logbook: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []port.LogEntry
	for rows.Next() {
		var (
			e      port.LogEntry
			status string
		)
		if err := rows.Scan(&e.Port, &e.Operation, &e.Subject, &status, &e.Error, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan logbook: %w", err)
		}
		e.Status = port.LogStatus(status)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logbook: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
