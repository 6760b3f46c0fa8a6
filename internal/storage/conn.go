// Package storage owns the raw database handle: opening connections for
// both dialects, the transient-I/O retry policy, pragma tuning, catalog
// introspection, and query capture. Higher layers never touch database/sql
// options directly.
package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"mindcore/internal/config"
	"mindcore/internal/fault"
	"mindcore/internal/logging"
	"mindcore/internal/qnode"
)

// Conn wraps a sql.DB with its dialect and retry policy.
type Conn struct {
	DB      *sql.DB
	Dialect qnode.Dialect

	path       string // empty for networked
	maxRetries uint64
	capture    *CaptureRing
}

// initLocks serializes bootstrap across concurrent instances pointing at the
// same storage path. Held only across bootstrap, never across steady-state.
var initLocks sync.Map // path -> *sync.Mutex

// InitLock returns the process-wide initialization lock for a storage path.
func InitLock(path string) *sync.Mutex {
	actual, _ := initLocks.LoadOrStore(path, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// Open connects per the configuration. For the embedded dialect the parent
// directory is created; for the networked dialect the pool limits apply.
func Open(cfg *config.Config) (*Conn, error) {
	timer := logging.StartTimer(logging.CategoryBoot, "storage.Open")
	defer timer.Stop()

	switch cfg.Dialect {
	case "embedded":
		return openEmbedded(cfg)
	case "networked":
		return openNetworked(cfg)
	}
	return nil, fault.New(fault.ErrIO, "storage.Open", "unknown dialect %q", cfg.Dialect)
}

func openEmbedded(cfg *config.Config) (*Conn, error) {
	path := cfg.Connection.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fault.Wrap(fault.ErrIO, "storage.openEmbedded", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fault.Wrap(fault.ErrIO, "storage.openEmbedded", err)
	}
	// The embedded engine is single-writer; one connection avoids
	// SQLITE_BUSY churn and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.Get(logging.CategoryBoot).Debug("busy_timeout pragma failed: %v", err)
	}

	logging.Get(logging.CategoryBoot).Info("opened embedded store at %s", path)
	return &Conn{
		DB:         db,
		Dialect:    qnode.Embedded{},
		path:       path,
		maxRetries: 3,
		capture:    NewCaptureRing(defaultCaptureSize),
	}, nil
}

func openNetworked(cfg *config.Config) (*Conn, error) {
	url := cfg.Connection.URL
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fault.Wrap(fault.ErrIO, "storage.openNetworked", err)
	}
	pool := cfg.Connection.Pool
	if pool.Max > 0 {
		db.SetMaxOpenConns(pool.Max)
	}
	if pool.Min > 0 {
		db.SetMaxIdleConns(pool.Min)
	}
	if pool.IdleMS > 0 {
		db.SetConnMaxIdleTime(time.Duration(pool.IdleMS) * time.Millisecond)
	}

	logging.Get(logging.CategoryBoot).Info("opened networked store at %s:%d/%s",
		cfg.Connection.Host, cfg.Connection.Port, cfg.Connection.Database)
	return &Conn{
		DB:         db,
		Dialect:    qnode.Networked{},
		maxRetries: 3,
		capture:    NewCaptureRing(defaultCaptureSize),
	}, nil
}

// Path returns the embedded storage path, empty for networked stores.
func (c *Conn) Path() string { return c.path }

// Capture returns the query capture ring.
func (c *Conn) Capture() *CaptureRing { return c.capture }

// Close releases the underlying handle.
func (c *Conn) Close() error { return c.DB.Close() }

// retrying wraps an operation with bounded exponential backoff. Only the
// storage adapter retries; everything above sees success or a terminal error.
func (c *Conn) retrying(ctx context.Context, op string, fn func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	err := backoff.Retry(func() error {
		if err := fn(); err != nil {
			if fault.Retryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}, policy)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fault.Timeout(op, 0)
	}
	if fault.IsKind(err, fault.KindValidation) || fault.IsKind(err, fault.KindAuthorization) || fault.IsKind(err, fault.KindState) {
		return err
	}
	return fault.Wrap(fault.ErrIO, op, err)
}

// Exec runs a statement with retry and records it in the capture ring.
func (c *Conn) Exec(ctx context.Context, sqlText string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	start := time.Now()
	err := c.retrying(ctx, "storage.Exec", func() error {
		var e error
		res, e = c.DB.ExecContext(ctx, sqlText, args...)
		return e
	})
	c.capture.Record(sqlText, time.Since(start))
	return res, err
}

// Query runs a query with retry and records it in the capture ring.
func (c *Conn) Query(ctx context.Context, sqlText string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	start := time.Now()
	err := c.retrying(ctx, "storage.Query", func() error {
		var e error
		rows, e = c.DB.QueryContext(ctx, sqlText, args...)
		return e
	})
	c.capture.Record(sqlText, time.Since(start))
	return rows, err
}

// QueryRow runs a single-row query. Errors surface at Scan per database/sql.
func (c *Conn) QueryRow(ctx context.Context, sqlText string, args ...interface{}) *sql.Row {
	start := time.Now()
	row := c.DB.QueryRowContext(ctx, sqlText, args...)
	c.capture.Record(sqlText, time.Since(start))
	return row
}

// Tx runs fn inside a transaction, rolling back on error or panic.
func (c *Conn) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fault.Wrap(fault.ErrIO, "storage.Tx", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fault.Wrap(fault.ErrIO, "storage.Tx", err)
	}
	return nil
}

// Render renders a node tree with this connection's dialect.
func (c *Conn) Render(n qnode.Node) (string, []interface{}, error) {
	return c.Dialect.Render(n)
}
