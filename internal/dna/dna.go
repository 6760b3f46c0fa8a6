// Package dna manages autonomous schema evolution: a whitelist of allowed
// DDL forms, inverse generation for each, snapshots of the serialized schema
// before mutation, transactional apply, and rollback.
package dna

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"mindcore/internal/fault"
	"mindcore/internal/logging"
	"mindcore/internal/storage"
	"mindcore/internal/store"
)

// Inverter owns DDL mutation with rollback capability.
type Inverter struct {
	conn *storage.Conn
	st   *store.Store
	intr *storage.Introspector
}

// NewInverter wires the DNA layer.
func NewInverter(conn *storage.Conn, st *store.Store) *Inverter {
	return &Inverter{
		conn: conn,
		st:   st,
		intr: storage.NewIntrospector(conn, nil, false),
	}
}

// SerializeDNA captures the current schema as canonical JSON.
func (v *Inverter) SerializeDNA(ctx context.Context) (string, error) {
	schema, err := v.intr.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fault.Wrap(fault.ErrIO, "dna.SerializeDNA", err)
	}
	return string(b), nil
}

// TakeSnapshot serializes the schema and persists it, returning its id.
func (v *Inverter) TakeSnapshot(ctx context.Context, label string) (int64, error) {
	dna, err := v.SerializeDNA(ctx)
	if err != nil {
		return 0, err
	}
	if label == "" {
		label = "snapshot-" + uuid.NewString()[:8]
	}
	id, err := v.st.SaveSnapshot(ctx, label, dna)
	if err != nil {
		return 0, err
	}
	logging.Get(logging.CategoryDNA).Info("schema snapshot %d (%s) taken", id, label)
	return id, nil
}

// Applied describes a successfully executed mutation.
type Applied struct {
	MutationID int64
	SnapshotID int64
	InverseDDL string
}

// Apply validates a DDL statement against the whitelist, snapshots the
// schema, executes the DDL, and persists the inverse — all observably
// atomic: either the pre-state with no snapshot, or the post-state with
// snapshot and inverse recorded.
func (v *Inverter) Apply(ctx context.Context, ddl, reason string) (*Applied, error) {
	mutationID, err := v.st.InsertMutation(ctx, ddl, reason)
	if err != nil {
		return nil, err
	}
	return v.apply(ctx, mutationID, ddl)
}

// ApplyTracked promotes an already-recorded mutation row (the pilot's)
// through the same snapshot-execute-persist path.
func (v *Inverter) ApplyTracked(ctx context.Context, mutationID int64) (*Applied, error) {
	m, err := v.st.GetMutation(ctx, mutationID)
	if err != nil {
		return nil, err
	}
	return v.apply(ctx, mutationID, m.DDL)
}

func (v *Inverter) apply(ctx context.Context, mutationID int64, ddl string) (*Applied, error) {
	const op = "dna.Apply"

	parsed, err := ParseDDL(ddl)
	if err != nil {
		_ = v.st.SetMutationState(ctx, mutationID, "rejected", "", nil)
		return nil, err
	}
	var inverse string
	if parsed.Kind == KindDropIndex {
		// The statement alone cannot invert a drop; recover the original
		// definition from the catalog before it disappears.
		inverse, err = v.indexDefinition(ctx, parsed.Index)
	} else {
		inverse, err = parsed.Inverse()
	}
	if err != nil {
		_ = v.st.SetMutationState(ctx, mutationID, "rejected", "", nil)
		return nil, err
	}

	// Serialized before the transaction opens; the snapshot row itself is
	// written inside it so a failed DDL leaves no snapshot behind.
	dnaJSON, err := v.SerializeDNA(ctx)
	if err != nil {
		return nil, err
	}

	var snapshotID int64
	err = v.conn.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO agent_snapshots (name, dna) VALUES (?, ?)", "pre-"+parsed.Kind.String(), dnaJSON)
		if err == nil {
			snapshotID, err = res.LastInsertId()
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fault.Wrap(fault.ErrMigrationFailed, op, err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE agent_mutations SET state = 'promoted', inverse_ddl = ?, snapshot_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
			inverse, snapshotID, mutationID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		// The transaction rolled the DDL back; mark the mutation rejected.
		_ = v.st.SetMutationState(ctx, mutationID, "rejected", "", nil)
		return nil, err
	}

	logging.Get(logging.CategoryDNA).Info("mutation %d applied: %s (inverse persisted)", mutationID, parsed.Kind)
	return &Applied{MutationID: mutationID, SnapshotID: snapshotID, InverseDDL: inverse}, nil
}

// indexDefinition reads an index's original CREATE statement from the
// catalog so a DROP INDEX can be inverted.
func (v *Inverter) indexDefinition(ctx context.Context, index string) (string, error) {
	const op = "dna.indexDefinition"
	var def sql.NullString
	err := v.conn.DB.QueryRowContext(ctx,
		"SELECT sql FROM sqlite_master WHERE type = 'index' AND name = ?", index).Scan(&def)
	if err != nil {
		return "", fault.New(fault.ErrIntegrityViolation, op, "index %q not found in catalog", index)
	}
	if !def.Valid || def.String == "" {
		return "", fault.New(fault.ErrIntegrityViolation, op, "index %q has no recoverable definition", index)
	}
	return def.String, nil
}

// Rollback executes the stored inverse of a mutation. Only the inverse is
// used: if it fails (for example DROP COLUMN on an engine without it), the
// transaction rolls back and a MigrationFailed error is returned; the
// schema is not restored from the snapshot.
func (v *Inverter) Rollback(ctx context.Context, mutationID int64) error {
	const op = "dna.Rollback"

	m, err := v.st.GetMutation(ctx, mutationID)
	if err != nil {
		return err
	}
	if m.State != "promoted" && m.State != "verifying" {
		return fault.New(fault.ErrIntegrityViolation, op, "mutation %d is %s, nothing to roll back", mutationID, m.State)
	}
	if m.InverseDDL == "" {
		return fault.New(fault.ErrIntegrityViolation, op, "mutation %d has no stored inverse", mutationID)
	}

	err = v.conn.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.InverseDDL); err != nil {
			return fault.Wrap(fault.ErrMigrationFailed, op, err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE agent_mutations SET state = 'reverted', updated_at = CURRENT_TIMESTAMP WHERE id = ?",
			mutationID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	_ = v.st.Audit(ctx, "dna", "rollback", fmt.Sprintf(`{"mutation_id":%d}`, mutationID))
	logging.Get(logging.CategoryDNA).Info("mutation %d reverted", mutationID)
	return nil
}

// RollbackLatestPromoted reverts the most recently promoted mutation, a
// shortcut used by the meta-evolution controller on regression.
func (v *Inverter) RollbackLatestPromoted(ctx context.Context) error {
	m, err := v.st.LatestPromotedMutation(ctx)
	if err != nil {
		return err
	}
	if m == nil {
		logging.Get(logging.CategoryDNA).Warn("rollback requested but no promoted mutation exists")
		return nil
	}
	return v.Rollback(ctx, m.ID)
}
