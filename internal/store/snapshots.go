package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"mindcore/internal/fault"
)

// Snapshot is one serialized schema (DNA) captured before a mutation.
type Snapshot struct {
	ID        int64
	Name      string
	DNA       string
	CreatedAt time.Time
}

// Mutation is one tracked DDL change moving through the pilot's states.
type Mutation struct {
	ID         int64
	DDL        string
	InverseDDL string
	SnapshotID *int64
	State      string // proposed | sandboxed | verifying | promoted | reverted | rejected
	Reason     *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SaveSnapshot persists a DNA capture.
func (s *Store) SaveSnapshot(ctx context.Context, name, dna string) (int64, error) {
	res, err := s.conn.Exec(ctx,
		"INSERT INTO agent_snapshots (name, dna) VALUES (?, ?)", name, dna)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetSnapshot loads one snapshot.
func (s *Store) GetSnapshot(ctx context.Context, id int64) (*Snapshot, error) {
	const op = "store.GetSnapshot"
	row := s.conn.QueryRow(ctx,
		"SELECT id, name, dna, created_at FROM agent_snapshots WHERE id = ?", id)
	var snap Snapshot
	err := row.Scan(&snap.ID, &snap.Name, &snap.DNA, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.ErrIntegrityViolation, op, "snapshot %d does not exist", id)
	}
	if err != nil {
		return nil, fault.Wrap(fault.ErrIO, op, err)
	}
	return &snap, nil
}

// LatestSnapshot returns the most recent snapshot, or nil when none exist.
func (s *Store) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	row := s.conn.QueryRow(ctx,
		"SELECT id, name, dna, created_at FROM agent_snapshots ORDER BY id DESC LIMIT 1")
	var snap Snapshot
	err := row.Scan(&snap.ID, &snap.Name, &snap.DNA, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.ErrIO, "store.LatestSnapshot", err)
	}
	return &snap, nil
}

// InsertMutation records a proposed DDL change.
func (s *Store) InsertMutation(ctx context.Context, ddl, reason string) (int64, error) {
	res, err := s.conn.Exec(ctx,
		"INSERT INTO agent_mutations (ddl, reason, state) VALUES (?, ?, 'proposed')", ddl, reason)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetMutation loads one mutation.
func (s *Store) GetMutation(ctx context.Context, id int64) (*Mutation, error) {
	const op = "store.GetMutation"
	row := s.conn.QueryRow(ctx,
		"SELECT id, ddl, inverse_ddl, snapshot_id, state, reason, created_at, updated_at FROM agent_mutations WHERE id = ?", id)
	var m Mutation
	err := row.Scan(&m.ID, &m.DDL, &m.InverseDDL, &m.SnapshotID, &m.State, &m.Reason, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.ErrIntegrityViolation, op, "mutation %d does not exist", id)
	}
	if err != nil {
		return nil, fault.Wrap(fault.ErrIO, op, err)
	}
	return &m, nil
}

// SetMutationState transitions a mutation, optionally attaching the inverse
// DDL and snapshot captured at apply time.
func (s *Store) SetMutationState(ctx context.Context, id int64, state string, inverseDDL string, snapshotID *int64) error {
	const op = "store.SetMutationState"
	switch state {
	case "proposed", "sandboxed", "verifying", "promoted", "reverted", "rejected":
	default:
		return fault.New(fault.ErrIntegrityViolation, op, "unknown mutation state %q", state)
	}
	if inverseDDL != "" || snapshotID != nil {
		_, err := s.conn.Exec(ctx,
			"UPDATE agent_mutations SET state = ?, inverse_ddl = ?, snapshot_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
			state, inverseDDL, snapshotID, id)
		return err
	}
	_, err := s.conn.Exec(ctx,
		"UPDATE agent_mutations SET state = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", state, id)
	return err
}

// LatestPromotedMutation returns the most recently promoted mutation, or nil.
func (s *Store) LatestPromotedMutation(ctx context.Context) (*Mutation, error) {
	row := s.conn.QueryRow(ctx,
		"SELECT id, ddl, inverse_ddl, snapshot_id, state, reason, created_at, updated_at FROM agent_mutations WHERE state = 'promoted' ORDER BY updated_at DESC, id DESC LIMIT 1")
	var m Mutation
	err := row.Scan(&m.ID, &m.DDL, &m.InverseDDL, &m.SnapshotID, &m.State, &m.Reason, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.ErrIO, "store.LatestPromotedMutation", err)
	}
	return &m, nil
}

// MutationsInState lists mutations at one lifecycle stage.
func (s *Store) MutationsInState(ctx context.Context, state string) ([]Mutation, error) {
	rows, err := s.conn.Query(ctx,
		"SELECT id, ddl, inverse_ddl, snapshot_id, state, reason, created_at, updated_at FROM agent_mutations WHERE state = ? ORDER BY id",
		state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Mutation
	for rows.Next() {
		var m Mutation
		if err := rows.Scan(&m.ID, &m.DDL, &m.InverseDDL, &m.SnapshotID, &m.State, &m.Reason, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
