package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store persists run history backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Concurrent CLI invocations (history listing while a run records nodes) can
// still collide past busy_timeout on a WAL checkpoint; writes back off and
// retry a few times before giving up.
const (
	writeAttempts    = 5
	writeBackoff     = 10 * time.Millisecond
	writeBackoffCeil = 200 * time.Millisecond
)

var connPragmas = []string{
	"journal_mode(WAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

// Open creates or connects to the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history dir: %w", err)
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// One writer per process; node records of a run are written in order.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// dsn applies the pragmas to every connection the pool opens.
func dsn(path string) string {
	query := url.Values{}
	for _, pragma := range connPragmas {
		query.Add("_pragma", pragma)
	}
	return "file:" + path + "?" + query.Encode()
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// write executes one history mutation, retrying while the database is busy.
func (s *Store) write(ctx context.Context, query string, args ...any) (sql.Result, error) {
	delay := writeBackoff
	for attempt := 1; ; attempt++ {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err == nil || !isBusy(err) || attempt == writeAttempts {
			return res, err
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, writeBackoffCeil)
	}
}

func isBusy(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}
