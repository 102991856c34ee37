// Package sqlutil provides the database/sql conveniences shared by the
// SQLite-backed stores (MBTiles, XYZ side index) and the PostgreSQL
// back-end: open helpers, busy-retry wrapping and a no-rows check.
package sqlutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pspoerri/tilecachegw/internal/tilerr"
)

// busyRetryInterval is the backoff between retries of a statement that
// failed because the SQLite database file is locked by another
// connection, or a PostgreSQL statement hit a serialization failure.
const busyRetryInterval = 25 * time.Millisecond

// OpenSQLite opens path with the pragmas the store back-ends require:
// synchronous=FULL (durability over speed — tiles are re-seedable but a
// torn write should still never happen), journal_mode=TRUNCATE (WAL's
// multi-file layout complicates the XYZ side index's own file locking),
// and mmap_size=0 (disable mmap so writes are visible to other processes
// immediately rather than through a stale mapping).
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_synchronous=FULL&_journal_mode=TRUNCATE&_mmap_size=0", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlutil: open %s: %w", path, err)
	}
	// SQLite only supports a single writer; serialize through one
	// connection so WithBusyRetry's retry loop is the only contention
	// path, rather than racing with database/sql's own pool.
	db.SetMaxOpenConns(1)
	return db, nil
}

// OpenPostgres opens a PostgreSQL connection pool via lib/pq.
func OpenPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("sqlutil: open postgres: %w", err)
	}
	return db, nil
}

// WithBusyRetry runs fn, retrying every 25ms while fn's error indicates
// the database is transiently busy (SQLite "database is locked" / "database
// table is locked", or a PostgreSQL serialization failure), until ctx is
// done or timeout elapses — at which point it returns tilerr.DBTimeout.
func WithBusyRetry(ctx context.Context, timeout time.Duration, fn func() error) error {
	deadline := time.Now().Add(timeout)
	for {
		err := fn()
		if err == nil || !isBusy(err) {
			return err
		}
		if timeout > 0 && time.Now().After(deadline) {
			return fmt.Errorf("sqlutil: %w: %v", tilerr.DBTimeout, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(busyRetryInterval):
		}
	}
}

// isBusy reports whether err looks like a transient lock/serialization
// failure worth retrying, versus a genuine query error worth surfacing
// immediately.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database is locked"):
		return true
	case strings.Contains(msg, "database table is locked"):
		return true
	case strings.Contains(msg, "could not serialize access"):
		return true
	case strings.Contains(msg, "deadlock detected"):
		return true
	default:
		return false
	}
}

// IsNoRows reports whether err is sql.ErrNoRows (possibly wrapped).
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
