// Package logbook selects where the record of port mutations is kept.
package logbook

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"enfra/internal/infra/logbook/postgres"
	"enfra/internal/infra/logbook/sqlite"
	"enfra/internal/port"
)

// Env names the environment variable consulted when no location is given.
const Env = "ENFRA_LOGBOOK"

// Store is a queryable logbook.
type Store interface {
	port.Logbook
	Append(ctx context.Context, e port.LogEntry) error
	Entries(ctx context.Context, portName string, limit int) ([]port.LogEntry, error)
	Close() error
}

var (
	_ Store = (*sqlite.Store)(nil)
	_ Store = (*postgres.Store)(nil)
)

// Open resolves location into a Store:
//
//	"" or "none"                 logbook disabled (nil Store, nil error)
//	"sqlite" or "sqlite:<path>"  local SQLite file
//	"postgres://..."             shared Postgres database
//
// An empty location falls back to ENFRA_LOGBOOK.
func Open(ctx context.Context, location string, logger *slog.Logger) (Store, error) {
	if location == "" {
		location = os.Getenv(Env)
	}
	location = strings.TrimSpace(location)
	switch {
	case location == "" || location == "none":
		return nil, nil
	case location == "sqlite":
		return sqlite.NewStore(ctx, "", logger)
	case strings.HasPrefix(location, "sqlite:"):
		return sqlite.NewStore(ctx, strings.TrimPrefix(location, "sqlite:"), logger)
	case strings.HasPrefix(location, "postgres://"), strings.HasPrefix(location, "postgresql://"):
		return postgres.NewStore(ctx, location, logger)
	default:
		return nil, fmt.Errorf("unknown logbook location %q", location)
	}
}
