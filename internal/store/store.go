// Package store implements the persistent world-model: sessions, episodic
// journals, knowledge, vectors, registries, and snapshots over the embedded
// relational engine. Each area lives in its own file; everything shares the
// Store handle.
package store

import (
	"context"
	"encoding/json"
	"time"

	"mindcore/internal/config"
	"mindcore/internal/fault"
	"mindcore/internal/logging"
	"mindcore/internal/storage"
)

// Store is the handle to the agentic tables. The underlying connection is
// single-writer for the embedded engine; the store adds no extra locking
// beyond what individual structures need, the engine serializes writes.
type Store struct {
	conn *storage.Conn
	cfg  *config.Config

	vectorDim int
	vectorExt bool // native vec0 virtual table available
	metric    string
	scanCap   int
}

// New opens the store over an established connection. Bootstrap is separate
// (Bootstrap) so callers can hold the path-keyed init lock around it.
func New(conn *storage.Conn, cfg *config.Config) *Store {
	s := &Store{
		conn:      conn,
		cfg:       cfg,
		vectorDim: cfg.Agentic.Vector.Dimensions,
		metric:    cfg.Agentic.Vector.Metric,
		scanCap:   cfg.Agentic.Vector.ScanCap,
	}
	s.detectVecExtension()
	return s
}

// Conn exposes the underlying connection for the DNA layer and tuner.
func (s *Store) Conn() *storage.Conn { return s.conn }

// VectorDimensions reports the fixed embedding dimension.
func (s *Store) VectorDimensions() int { return s.vectorDim }

// Close releases the database handle.
func (s *Store) Close() error { return s.conn.Close() }

// detectVecExtension probes for the vec0 virtual table module.
func (s *Store) detectVecExtension() {
	if s.conn.Dialect.Name() != "embedded" {
		return
	}
	var version string
	err := s.conn.DB.QueryRow("SELECT vec_version()").Scan(&version)
	if err != nil {
		logging.Get(logging.CategoryVector).Warn("sqlite-vec extension not available, falling back to bounded linear scan")
		return
	}
	s.vectorExt = true
	logging.Get(logging.CategoryVector).Info("sqlite-vec %s detected, ANN search enabled", version)
}

// marshalMeta serializes a metadata map, defaulting to the empty object.
func marshalMeta(meta map[string]interface{}) string {
	if len(meta) == 0 {
		return "{}"
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalMeta(raw string) map[string]interface{} {
	if raw == "" || raw == "{}" {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

// clamp01 clamps confidence-like values to [0,1], warning on correction.
func clamp01(v float64, what string) float64 {
	if v < 0 {
		logging.Get(logging.CategoryStore).Warn("%s %.4f clamped to 0", what, v)
		return 0
	}
	if v > 1 {
		logging.Get(logging.CategoryStore).Warn("%s %.4f clamped to 1", what, v)
		return 1
	}
	return v
}

// checkDeadline converts context expiry into the Timeout error before a
// write begins, so deadline failures never leave partial state.
func checkDeadline(ctx context.Context, op string) error {
	select {
	case <-ctx.Done():
		return fault.Timeout(op, 0)
	default:
		return nil
	}
}

// nowUTC is the single clock for row timestamps.
func nowUTC() time.Time { return time.Now().UTC() }
