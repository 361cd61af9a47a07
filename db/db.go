package db

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	//nolint:revive,nolintlint // Idiomatic way of loading DB libraries.
	_ "github.com/glebarez/go-sqlite"

	"go.hackfix.me/graft/db/migrator"
	"go.hackfix.me/graft/db/types"
)

// DefaultBusyTimeout is how long a connection waits for a lock held by
// another connection before failing.
const DefaultBusyTimeout = 5 * time.Second

// DB wraps sql.DB with the path it was opened with and migration functionality.
type DB struct {
	*sql.DB
	timeNow func() time.Time
	path    string
}

var _ types.Querier = (*DB)(nil)

// Option configures how the database is opened.
type Option func(*options)

type options struct {
	busyTimeout time.Duration
}

// WithBusyTimeout sets the SQLite busy timeout of every connection.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		o.busyTimeout = d
	}
}

// Open opens the SQLite database at path. Foreign key enforcement and the busy
// timeout are set in the DSN, so that every pooled connection gets them.
func Open(ctx context.Context, path string, timeNow func() time.Time, opts ...Option) (*DB, error) {
	o := &options{busyTimeout: DefaultBusyTimeout}
	for _, opt := range opts {
		opt(o)
	}

	sqliteDB, err := sql.Open("sqlite", dsn(path, o))
	if err != nil {
		return nil, fmt.Errorf("failed opening SQLite database: %w", err)
	}

	switch {
	case isMemory(path) && strings.Contains(path, "cache=shared"):
		// The database is gone once its last connection closes.
		// See https://github.com/mattn/go-sqlite3#faq
		sqliteDB.SetMaxIdleConns(10)
		sqliteDB.SetConnMaxLifetime(time.Duration(math.MaxInt64))
	case isMemory(path):
		// Each connection to a private in-memory database sees a different
		// database.
		sqliteDB.SetMaxOpenConns(1)
		sqliteDB.SetConnMaxLifetime(time.Duration(math.MaxInt64))
	}

	if err = sqliteDB.PingContext(ctx); err != nil {
		_ = sqliteDB.Close()
		return nil, fmt.Errorf("failed connecting to SQLite database: %w", err)
	}

	return &DB{DB: sqliteDB, path: path, timeNow: timeNow}, nil
}

// Migrator returns a migrator that runs the migrations in reg on this
// database.
func (d *DB) Migrator(reg *migrator.Registry, opts ...migrator.Option) (*migrator.Migrator, error) {
	return migrator.New(d.DB, reg, opts...)
}

// Path returns the path the database was opened with.
func (d *DB) Path() string {
	return d.path
}

// TimeNow returns the current system time.
func (d *DB) TimeNow() time.Time {
	return d.timeNow()
}

func dsn(path string, o *options) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", o.busyTimeout.Milliseconds()))

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	return path + sep + q.Encode()
}

func isMemory(path string) bool {
	return strings.Contains(path, "mode=memory") || strings.Contains(path, ":memory:")
}
