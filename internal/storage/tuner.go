package storage

import (
	"context"
	"fmt"

	"mindcore/internal/config"
	"mindcore/internal/logging"
)

// Tuner applies and inspects engine pragmas. All operations are idempotent.
// Pragmas only exist on the embedded engine. On a networked store
// ApplyProfile is a logged no-op and JournalMode reports "wal"; the other
// methods issue their statements regardless of dialect.
type Tuner struct {
	conn *Conn
}

// NewTuner wraps a connection.
func NewTuner(conn *Conn) *Tuner { return &Tuner{conn: conn} }

func (t *Tuner) embedded() bool { return t.conn.Dialect.Name() == "embedded" }

// ApplyProfile applies the configured pragma profile. In-memory stores skip
// WAL with a warning since the journal mode is unavailable there.
func (t *Tuner) ApplyProfile(ctx context.Context, opt config.OptimizationConfig) error {
	if !t.embedded() {
		logging.Get(logging.CategoryBoot).Debug("pragma profile skipped on networked dialect")
		return nil
	}
	if opt.WAL {
		if err := t.EnableWAL(ctx); err != nil {
			return err
		}
	}
	if opt.ForeignKeys {
		if err := t.EnableForeignKeys(ctx); err != nil {
			return err
		}
	}
	if opt.CacheSizeKiBNeg != 0 {
		if err := t.SetCache(ctx, opt.CacheSizeKiBNeg); err != nil {
			return err
		}
	}
	if err := t.SetSynchronous(ctx, opt.Synchronous); err != nil {
		return err
	}
	return t.SetTempStore(ctx, opt.TempStore)
}

// EnableWAL switches the journal to write-ahead logging. Unavailable for
// in-memory databases; skipped with a warning there.
func (t *Tuner) EnableWAL(ctx context.Context) error {
	if t.conn.Path() == ":memory:" {
		logging.Get(logging.CategoryBoot).Warn("WAL unavailable for in-memory store, skipping")
		return nil
	}
	var mode string
	if err := t.conn.DB.QueryRowContext(ctx, "PRAGMA journal_mode = WAL").Scan(&mode); err != nil {
		return err
	}
	logging.Get(logging.CategoryBoot).Debug("journal_mode=%s", mode)
	return nil
}

// JournalMode reports the current journal mode.
func (t *Tuner) JournalMode(ctx context.Context) (string, error) {
	if !t.embedded() {
		return "wal", nil
	}
	var mode string
	err := t.conn.DB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode)
	return mode, err
}

// EnableForeignKeys turns on FK enforcement for this connection.
func (t *Tuner) EnableForeignKeys(ctx context.Context) error {
	_, err := t.conn.DB.ExecContext(ctx, "PRAGMA foreign_keys = ON")
	return err
}

// SetCache sets the page cache size. Negative values are KiB per the
// engine's convention.
func (t *Tuner) SetCache(ctx context.Context, kibNegative int) error {
	_, err := t.conn.DB.ExecContext(ctx, fmt.Sprintf("PRAGMA cache_size = %d", kibNegative))
	return err
}

// SetSynchronous sets fsync behavior: OFF, NORMAL or FULL.
func (t *Tuner) SetSynchronous(ctx context.Context, level string) error {
	switch level {
	case "OFF", "NORMAL", "FULL":
	default:
		return fmt.Errorf("tuner: invalid synchronous level %q", level)
	}
	_, err := t.conn.DB.ExecContext(ctx, "PRAGMA synchronous = "+level)
	return err
}

// SetTempStore sets temp table placement: DEFAULT, FILE or MEMORY.
func (t *Tuner) SetTempStore(ctx context.Context, mode string) error {
	switch mode {
	case "DEFAULT", "FILE", "MEMORY":
	default:
		return fmt.Errorf("tuner: invalid temp_store %q", mode)
	}
	_, err := t.conn.DB.ExecContext(ctx, "PRAGMA temp_store = "+mode)
	return err
}

// Analyze refreshes the planner statistics.
func (t *Tuner) Analyze(ctx context.Context) error {
	_, err := t.conn.DB.ExecContext(ctx, "ANALYZE")
	return err
}

// Vacuum reclaims free pages. Expensive; ritual-scheduled.
func (t *Tuner) Vacuum(ctx context.Context) error {
	_, err := t.conn.DB.ExecContext(ctx, "VACUUM")
	return err
}
