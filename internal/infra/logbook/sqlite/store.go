// Package sqlite persists the port logbook to a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"enfra/internal/port"
)

// DefaultPath is used when no path is configured.
const DefaultPath = "enfra-logbook.db"

var _ port.Logbook = (*Store)(nil)

// Store appends logbook entries to a single SQLite table.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewStore opens (creating when needed) the logbook at path.
func NewStore(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS logbook (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		port TEXT NOT NULL,
		operation TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		occurred_at TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create logbook table: %w", err)
	}
	return &Store{db: db, path: path, logger: logger}, nil
}

// Append writes one entry.
func (s *Store) Append(ctx context.Context, e port.LogEntry) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logbook(port,operation,subject,status,error_message,occurred_at) VALUES(?,?,?,?,?,?)`,
		e.Port, e.Operation, e.Subject, string(e.Status), e.Error, e.OccurredAt.UTC().Format(time.RFC3339Nano))
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
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT port, operation, subject, status, error_message, occurred_at FROM (
		SELECT id, port, operation, subject, status, error_message, occurred_at FROM logbook WHERE port = ? ORDER BY id DESC LIMIT ?
	) ORDER BY id`, portName, limit)
	if err != nil {
		return nil, fmt.Errorf("select logbook: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []port.LogEntry
	for rows.Next() {
		var (
			e      port.LogEntry
			status string
			at     string
		)
		if err := rows.Scan(&e.Port, &e.Operation, &e.Subject, &status, &e.Error, &at); err != nil {
			return nil, fmt.Errorf("scan logbook: %w", err)
		}
		e.Status = port.LogStatus(status)
		if e.OccurredAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("decode occurred_at: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logbook: %w", err)
	}
	return out, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
