package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"mindcore/internal/fault"
	"mindcore/internal/logging"
)

// KnowledgeItem is one distilled fact about an entity. Uniqueness is
// semantic, not structural; the distiller decides when two facts merge.
type KnowledgeItem struct {
	ID              int64
	Entity          string
	Fact            string
	Confidence      float64
	SourceSessionID *int64
	Tags            []string
	Metadata        map[string]interface{}
	ChallengeCount  int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// KnowledgeLink is a directed edge between two knowledge items. Cycles are
// permitted; traversal uses explicit visited sets.
type KnowledgeLink struct {
	ID           int64
	SourceID     int64
	TargetID     int64
	Relationship string
	Metadata     map[string]interface{}
	CreatedAt    time.Time
}

// InsertKnowledge stores a new fact, clamping confidence to [0,1].
func (s *Store) InsertKnowledge(ctx context.Context, entity, fact string, confidence float64, sourceSessionID *int64, tags []string) (*KnowledgeItem, error) {
	const op = "store.InsertKnowledge"
	if err := checkDeadline(ctx, op); err != nil {
		return nil, err
	}
	confidence = clamp01(confidence, "confidence")

	tagsJSON, _ := json.Marshal(tags)
	if tags == nil {
		tagsJSON = []byte("[]")
	}
	res, err := s.conn.Exec(ctx,
		"INSERT INTO agent_knowledge_base (entity, fact, confidence, source_session_id, tags) VALUES (?, ?, ?, ?, ?)",
		entity, fact, confidence, sourceSessionID, string(tagsJSON))
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	logging.Get(logging.CategoryKnowledge).Debug("knowledge %d inserted for entity %q (confidence=%.2f)", id, entity, confidence)
	return s.GetKnowledge(ctx, id)
}

// GetKnowledge loads one item.
func (s *Store) GetKnowledge(ctx context.Context, id int64) (*KnowledgeItem, error) {
	const op = "store.GetKnowledge"
	row := s.conn.QueryRow(ctx,
		"SELECT id, entity, fact, confidence, source_session_id, tags, metadata, challenge_count, created_at, updated_at FROM agent_knowledge_base WHERE id = ?", id)
	item, err := scanKnowledge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.ErrIntegrityViolation, op, "knowledge item %d does not exist", id)
	}
	if err != nil {
		return nil, fault.Wrap(fault.ErrIO, op, err)
	}
	return item, nil
}

type rowScanner interface{ Scan(dest ...interface{}) error }

func scanKnowledge(row rowScanner) (*KnowledgeItem, error) {
	var k KnowledgeItem
	var tags, meta string
	err := row.Scan(&k.ID, &k.Entity, &k.Fact, &k.Confidence, &k.SourceSessionID, &tags, &meta, &k.ChallengeCount, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(tags), &k.Tags)
	k.Metadata = unmarshalMeta(meta)
	return &k, nil
}

// KnowledgeByEntity lists all facts about one entity, newest update first.
func (s *Store) KnowledgeByEntity(ctx context.Context, entity string) ([]KnowledgeItem, error) {
	rows, err := s.conn.Query(ctx,
		"SELECT id, entity, fact, confidence, source_session_id, tags, metadata, challenge_count, created_at, updated_at FROM agent_knowledge_base WHERE entity = ? ORDER BY updated_at DESC",
		entity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KnowledgeItem
	for rows.Next() {
		k, err := scanKnowledge(rows)
		if err != nil {
			return nil, fault.Wrap(fault.ErrIO, "store.KnowledgeByEntity", err)
		}
		out = append(out, *k)
	}
	return out, rows.Err()
}

// KnowledgeCount reports the number of stored facts.
func (s *Store) KnowledgeCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.conn.QueryRow(ctx, "SELECT COUNT(*) FROM agent_knowledge_base").Scan(&n)
	return n, err
}

// UpdateKnowledgeConfidence sets a new clamped confidence, bumps
// updated_at, and optionally increments the challenge counter.
func (s *Store) UpdateKnowledgeConfidence(ctx context.Context, id int64, confidence float64, challenged bool) error {
	confidence = clamp01(confidence, "confidence")
	bump := 0
	if challenged {
		bump = 1
	}
	_, err := s.conn.Exec(ctx,
		"UPDATE agent_knowledge_base SET confidence = ?, challenge_count = challenge_count + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		confidence, bump, id)
	return err
}

// DeleteKnowledge removes an item; links at both endpoints cascade.
func (s *Store) DeleteKnowledge(ctx context.Context, id int64) error {
	_, err := s.conn.Exec(ctx, "DELETE FROM agent_knowledge_base WHERE id = ?", id)
	return err
}

// PruneKnowledge deletes facts below a confidence floor that have not been
// updated since the cutoff. Returns how many rows were removed.
func (s *Store) PruneKnowledge(ctx context.Context, maxConfidence float64, olderThan time.Time) (int64, error) {
	res, err := s.conn.Exec(ctx,
		"DELETE FROM agent_knowledge_base WHERE confidence <= ? AND updated_at < ?",
		maxConfidence, olderThan)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Get(logging.CategoryKnowledge).Info("pruned %d stale knowledge items", n)
	}
	return n, nil
}

// LinkKnowledge creates a directed edge. Both endpoints must exist.
func (s *Store) LinkKnowledge(ctx context.Context, sourceID, targetID int64, relationship string, meta map[string]interface{}) (*KnowledgeLink, error) {
	const op = "store.LinkKnowledge"
	if _, err := s.GetKnowledge(ctx, sourceID); err != nil {
		return nil, err
	}
	if _, err := s.GetKnowledge(ctx, targetID); err != nil {
		return nil, err
	}
	res, err := s.conn.Exec(ctx,
		"INSERT INTO agent_knowledge_links (source_id, target_id, relationship, metadata) VALUES (?, ?, ?, ?)",
		sourceID, targetID, relationship, marshalMeta(meta))
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	return &KnowledgeLink{ID: id, SourceID: sourceID, TargetID: targetID, Relationship: relationship, Metadata: meta, CreatedAt: nowUTC()}, nil
}

// Neighbors returns outgoing links from an item.
func (s *Store) Neighbors(ctx context.Context, itemID int64) ([]KnowledgeLink, error) {
	rows, err := s.conn.Query(ctx,
		"SELECT id, source_id, target_id, relationship, metadata, created_at FROM agent_knowledge_links WHERE source_id = ? ORDER BY id",
		itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KnowledgeLink
	for rows.Next() {
		var l KnowledgeLink
		var meta string
		if err := rows.Scan(&l.ID, &l.SourceID, &l.TargetID, &l.Relationship, &meta, &l.CreatedAt); err != nil {
			return nil, fault.Wrap(fault.ErrIO, "store.Neighbors", err)
		}
		l.Metadata = unmarshalMeta(meta)
		out = append(out, l)
	}
	return out, rows.Err()
}

// Walk traverses the knowledge graph breadth-first from a root, up to
// maxDepth hops. The visited set makes cycles safe.
func (s *Store) Walk(ctx context.Context, rootID int64, maxDepth int) ([]KnowledgeItem, error) {
	if maxDepth <= 0 {
		maxDepth = 3
	}
	visited := map[int64]bool{rootID: true}
	frontier := []int64{rootID}
	var out []KnowledgeItem

	root, err := s.GetKnowledge(ctx, rootID)
	if err != nil {
		return nil, err
	}
	out = append(out, *root)

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []int64
		for _, id := range frontier {
			links, err := s.Neighbors(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, l := range links {
				if visited[l.TargetID] {
					continue
				}
				visited[l.TargetID] = true
				item, err := s.GetKnowledge(ctx, l.TargetID)
				if err != nil {
					return nil, err
				}
				out = append(out, *item)
				next = append(next, l.TargetID)
			}
		}
		frontier = next
	}
	return out, nil
}
