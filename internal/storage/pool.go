// Package storage is the Cortex key-value + document store: a bounded pool
// of SQLite connections exposing put/get/delete, prefix scan, and
// document-style create/query on named collections. Every higher-level
// store (semantic, episodic, procedural, session, VFS) goes through
// this package; none opens its own backend, per spec section 4.1.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"

	"github.com/cortex-mind/cortex/internal/cortexerr"
)

// Pool wraps a SQLite-backed *sql.DB the way the teacher's
// SQLiteOperationalDB does (WAL mode, busy timeout, single writer), but
// exposes the namespace/database pair the spec calls for and a bounded
// connection acquire path used by every caller so no suspending I/O call
// holds a connection across a lock wait.
type Pool struct {
	db        *sql.DB
	namespace string
	dbName    string
	retryMax  int
}

// Options configures Open.
type Options struct {
	Namespace     string
	DatabaseName  string
	Path          string
	MaxOpenConns  int
	BusyTimeout   time.Duration
	RetryMax      int
}

// Open creates (or opens) the SQLite file at opts.Path, applies pragmas for
// concurrent access the way internal/memory/operational.go does, runs
// migrations, and returns a ready Pool.
func Open(opts Options) (*Pool, error) {
	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, cortexerr.Storage(err, "failed to open database at %s", opts.Path)
	}

	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)

	busyMs := int(opts.BusyTimeout / time.Millisecond)
	if busyMs <= 0 {
		busyMs = 5000
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyMs),
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, cortexerr.Storage(err, "failed to apply pragma %q", p)
		}
	}

	retryMax := opts.RetryMax
	if retryMax <= 0 {
		retryMax = 3
	}

	p := &Pool{db: db, namespace: opts.Namespace, dbName: opts.DatabaseName, retryMax: retryMax}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, cortexerr.Storage(err, "failed to run migrations")
	}

	return p, nil
}

// Close closes the underlying database.
func (p *Pool) Close() error {
	return p.db.Close()
}

// Namespace returns the configured namespace (spec section 6.2: "cortex").
func (p *Pool) Namespace() string { return p.namespace }

// DB exposes the raw *sql.DB for callers that need transactions spanning
// multiple Pool calls. Prefer Put/Get/Scan/Doc* otherwise.
func (p *Pool) DB() *sql.DB { return p.db }

// withRetry retries a transient operation with exponential backoff, per
// spec section 7: TimeoutError and StorageError may be retried internally
// up to retryMax times before being surfaced.
func (p *Pool) withRetry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.retryMax)), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if cortexerr.Retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

// Conn acquires a connection from the pool for the duration of fn. No
// component may hold a connection across a lock wait (spec section 5); fn
// should be a single bounded unit of storage work.
func (p *Pool) Conn(ctx context.Context, fn func(*sql.Conn) error) error {
	return p.withRetry(ctx, func() error {
		conn, err := p.db.Conn(ctx)
		if err != nil {
			return cortexerr.Storage(err, "failed to acquire pooled connection")
		}
		defer conn.Close()
		if err := fn(conn); err != nil {
			return err
		}
		return nil
	})
}
