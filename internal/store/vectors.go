package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"math"
	"sort"
	"time"

	"mindcore/internal/fault"
	"mindcore/internal/logging"
)

// VectorEntry is one stored embedding row. Distance is populated by Search.
type VectorEntry struct {
	ID        int64
	SessionID *int64
	Content   string
	Embedding []float32
	Metadata  map[string]interface{}
	CreatedAt time.Time
	Distance  float64
}

// encodeVector serializes an embedding as little-endian float32, the layout
// vec0 expects for BLOB binds.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

// l2Distance is the default metric.
func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// cosineDistance is 1 - cosine similarity; zero vectors are maximally far.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func (s *Store) distance(a, b []float32) float64 {
	if s.metric == "cosine" {
		return cosineDistance(a, b)
	}
	return l2Distance(a, b)
}

// AddVector stores content with its embedding. The dimension is fixed at
// initialization; mismatches fail without touching the store.
func (s *Store) AddVector(ctx context.Context, sessionID *int64, content string, embedding []float32, meta map[string]interface{}) (int64, error) {
	const op = "store.AddVector"
	if err := checkDeadline(ctx, op); err != nil {
		return 0, err
	}
	if len(embedding) != s.vectorDim {
		return 0, fault.DimensionMismatch(op, s.vectorDim, len(embedding))
	}

	var id int64
	err := s.conn.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO agent_memory_vectors (session_id, content, embedding, metadata) VALUES (?, ?, ?, ?)",
			sessionID, content, encodeVector(embedding), marshalMeta(meta))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		if s.vectorExt {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO vec_memory (rowid, embedding) VALUES (?, ?)", id, encodeVector(embedding)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	logging.Get(logging.CategoryVector).Debug("vector %d stored (dim=%d)", id, s.vectorDim)
	return id, nil
}

// SearchVectors returns the top-N nearest entries by the configured metric.
// Uses the native vec0 index when available, otherwise a linear scan bounded
// by the configured cap.
func (s *Store) SearchVectors(ctx context.Context, query []float32, topN int) ([]VectorEntry, error) {
	const op = "store.SearchVectors"
	timer := logging.StartTimer(logging.CategoryVector, "SearchVectors")
	defer timer.Stop()

	if len(query) != s.vectorDim {
		return nil, fault.DimensionMismatch(op, s.vectorDim, len(query))
	}
	if topN <= 0 {
		topN = 10
	}
	if s.vectorExt && s.metric != "cosine" {
		return s.searchNative(ctx, query, topN)
	}
	return s.searchLinear(ctx, query, topN)
}

func (s *Store) searchNative(ctx context.Context, query []float32, topN int) ([]VectorEntry, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT v.id, v.session_id, v.content, v.embedding, v.metadata, v.created_at, m.distance
		 FROM vec_memory m
		 JOIN agent_memory_vectors v ON v.id = m.rowid
		 WHERE m.embedding MATCH ? AND m.k = ?
		 ORDER BY m.distance`,
		encodeVector(query), topN)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVectorRows(rows, true)
}

func (s *Store) searchLinear(ctx context.Context, query []float32, topN int) ([]VectorEntry, error) {
	rows, err := s.conn.Query(ctx,
		"SELECT id, session_id, content, embedding, metadata, created_at FROM agent_memory_vectors ORDER BY id DESC LIMIT ?",
		s.scanCap)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries, err := scanVectorRows(rows, false)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if err := ctx.Err(); err != nil {
			return nil, fault.Timeout("store.searchLinear", 0)
		}
		entries[i].Distance = s.distance(query, entries[i].Embedding)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Distance < entries[j].Distance })
	if len(entries) > topN {
		entries = entries[:topN]
	}
	return entries, nil
}

func scanVectorRows(rows *sql.Rows, withDistance bool) ([]VectorEntry, error) {
	var out []VectorEntry
	for rows.Next() {
		var e VectorEntry
		var blob []byte
		var meta string
		var err error
		if withDistance {
			err = rows.Scan(&e.ID, &e.SessionID, &e.Content, &blob, &meta, &e.CreatedAt, &e.Distance)
		} else {
			err = rows.Scan(&e.ID, &e.SessionID, &e.Content, &blob, &meta, &e.CreatedAt)
		}
		if err != nil {
			return nil, fault.Wrap(fault.ErrIO, "store.scanVectorRows", err)
		}
		e.Embedding = decodeVector(blob)
		e.Metadata = unmarshalMeta(meta)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetVector loads one entry by id.
func (s *Store) GetVector(ctx context.Context, id int64) (*VectorEntry, error) {
	const op = "store.GetVector"
	row := s.conn.QueryRow(ctx,
		"SELECT id, session_id, content, embedding, metadata, created_at FROM agent_memory_vectors WHERE id = ?", id)

	var e VectorEntry
	var blob []byte
	var meta string
	err := row.Scan(&e.ID, &e.SessionID, &e.Content, &blob, &meta, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.ErrIntegrityViolation, op, "vector %d does not exist", id)
	}
	if err != nil {
		return nil, fault.Wrap(fault.ErrIO, op, err)
	}
	e.Embedding = decodeVector(blob)
	e.Metadata = unmarshalMeta(meta)
	return &e, nil
}

// VectorCount reports the number of stored embeddings.
func (s *Store) VectorCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.conn.QueryRow(ctx, "SELECT COUNT(*) FROM agent_memory_vectors").Scan(&n)
	return n, err
}
