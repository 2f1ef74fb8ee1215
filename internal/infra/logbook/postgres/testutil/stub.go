// Package testutil provides a database/sql driver that understands the
// handful of statements the postgres logbook issues, so the store can be
// tested without a server.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var stubSeq atomic.Int64

// LogRow is one stored logbook row.
type LogRow struct {
	ID           int64
	Port         string
	Operation    string
	Subject      string
	Status       string
	ErrorMessage string
	OccurredAt   time.Time
}

// StubConn records statements and keeps logbook rows in memory. The Fail*
// switches make the matching driver call fail.
type StubConn struct {
	mu        sync.Mutex
	Execs     []string
	Rows      []LogRow
	FailExec  bool
	FailPing  bool
	FailQuery bool
	RowsErr   error
}

// NewStubDB registers a fresh driver instance and opens a *sql.DB on it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{}
	name := fmt.Sprintf("stub-logbook-%d", stubSeq.Add(1))
	sql.Register(name, stubDriver{conn: conn})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// RowCount reports how many logbook rows were inserted.
func (c *StubConn) RowCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Rows)
}

type stubDriver struct{ conn *StubConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

var errUnsupported = errors.New("stub logbook: unsupported")

func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, errUnsupported }
func (c *StubConn) Close() error                        { return nil }
func (c *StubConn) Begin() (driver.Tx, error)           { return nil, errUnsupported }

func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return errors.New("stub logbook: connection refused")
	}
	return nil
}

// ExecContext accepts the table DDL and logbook inserts. Inserts bind
// port, operation, subject, status, error_message, occurred_at in order.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, errors.New("stub logbook: exec failed")
	}
	switch {
	case strings.Contains(query, "CREATE TABLE"):
		return driver.RowsAffected(0), nil
	case strings.Contains(query, "INSERT INTO logbook"):
	default:
		return nil, fmt.Errorf("%w statement: %s", errUnsupported, query)
	}
	if len(args) != 6 {
		return nil, fmt.Errorf("stub logbook: insert wants 6 args, got %d", len(args))
	}
	row := LogRow{ID: int64(len(c.Rows) + 1)}
	var ok [6]bool
	row.Port, ok[0] = args[0].Value.(string)
	row.Operation, ok[1] = args[1].Value.(string)
	row.Subject, ok[2] = args[2].Value.(string)
	row.Status, ok[3] = args[3].Value.(string)
	row.ErrorMessage, ok[4] = args[4].Value.(string)
	row.OccurredAt, ok[5] = args[5].Value.(time.Time)
	if slices.Contains(ok[:], false) {
		return nil, fmt.Errorf("stub logbook: unexpected insert arg types %v", args)
	}
	c.Rows = append(c.Rows, row)
	return driver.RowsAffected(1), nil
}

// QueryContext serves the entries query: rows for port $1, newest first,
// at most $2 of them when $2 is not NULL.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailQuery {
		return nil, errors.New("stub logbook: query failed")
	}
	if !strings.Contains(query, "FROM logbook WHERE port = $1") || len(args) != 2 {
		return nil, fmt.Errorf("%w query: %s", errUnsupported, query)
	}
	var matched []LogRow
	for i := len(c.Rows) - 1; i >= 0; i-- {
		if c.Rows[i].Port == args[0].Value {
			matched = append(matched, c.Rows[i])
		}
	}
	if n, ok := args[1].Value.(int64); ok && int(n) < len(matched) {
		matched = matched[:n]
	}
	return &stubRows{rows: matched, err: c.RowsErr}, nil
}

type stubRows struct {
	rows []LogRow
	idx  int
	err  error
}

func (r *stubRows) Columns() []string {
	return []string{"port", "operation", "subject", "status", "error_message", "occurred_at"}
}

func (r *stubRows) Close() error { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	row := r.rows[r.idx]
	r.idx++
	dest[0], dest[1], dest[2], dest[3], dest[4], dest[5] = row.Port, row.Operation, row.Subject, row.Status, row.ErrorMessage, row.OccurredAt
	return nil
}
