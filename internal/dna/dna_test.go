package dna

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mindcore/internal/config"
	"mindcore/internal/fault"
	"mindcore/internal/storage"
	"mindcore/internal/store"
)

func newTestInverter(t *testing.T) (*Inverter, *store.Store, *storage.Conn) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Connection.Path = ":memory:"

	conn, err := storage.Open(cfg)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	st := store.New(conn, cfg)
	if err := st.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	return NewInverter(conn, st), st, conn
}

func TestParseDDLWhitelist(t *testing.T) {
	cases := []struct {
		ddl  string
		kind DDLKind
	}{
		{"CREATE TABLE scratch (id INTEGER PRIMARY KEY)", KindCreateTable},
		{"CREATE INDEX idx_kb_conf ON agent_knowledge_base(confidence)", KindCreateIndex},
		{"CREATE UNIQUE INDEX idx_u ON agent_goals(description)", KindCreateIndex},
		{"ALTER TABLE agent_goals ADD COLUMN notes TEXT", KindAddColumn},
		{"DROP INDEX idx_kb_entity", KindDropIndex},
	}
	for _, c := range cases {
		p, err := ParseDDL(c.ddl)
		if err != nil {
			t.Errorf("expected %q to parse: %v", c.ddl, err)
			continue
		}
		if p.Kind != c.kind {
			t.Errorf("%q parsed as %s", c.ddl, p.Kind)
		}
	}
}

func TestParseDDLRejectsEverythingElse(t *testing.T) {
	rejected := []string{
		"DROP TABLE agent_sessions",
		"DELETE FROM agent_sessions",
		"ALTER TABLE agent_goals DROP COLUMN priority",
		"PRAGMA journal_mode = DELETE",
		"ATTACH DATABASE 'x' AS y",
		"CREATE INDEX i ON t(c); DROP TABLE agent_sessions",
		"CREATE TRIGGER tr AFTER INSERT ON t BEGIN SELECT 1; END",
	}
	for _, ddl := range rejected {
		if _, err := ParseDDL(ddl); !errors.Is(err, fault.ErrDDLNotAllowed) {
			t.Errorf("expected DDLNotAllowed for %q, got %v", ddl, err)
		}
	}
}

func TestInverseGeneration(t *testing.T) {
	p, _ := ParseDDL("CREATE TABLE scratch (id INTEGER)")
	inv, err := p.Inverse()
	if err != nil || inv != `DROP TABLE IF EXISTS "scratch"` {
		t.Errorf("unexpected inverse %q (%v)", inv, err)
	}

	p, _ = ParseDDL("CREATE INDEX idx_x ON t1(c)")
	inv, _ = p.Inverse()
	if inv != `DROP INDEX IF EXISTS "idx_x"` {
		t.Errorf("unexpected index inverse %q", inv)
	}

	p, _ = ParseDDL("ALTER TABLE t1 ADD COLUMN c2 TEXT")
	inv, _ = p.Inverse()
	if inv != `ALTER TABLE "t1" DROP COLUMN "c2"` {
		t.Errorf("unexpected column inverse %q", inv)
	}
}

func TestApplyAndRollbackIndex(t *testing.T) {
	inv, st, conn := newTestInverter(t)
	ctx := context.Background()
	intr := storage.NewIntrospector(conn, nil, false)

	before, err := intr.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}

	applied, err := inv.Apply(ctx, "CREATE INDEX idx_kb_conf ON agent_knowledge_base(confidence)", "test")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if applied.InverseDDL != `DROP INDEX IF EXISTS "idx_kb_conf"` {
		t.Errorf("unexpected inverse %q", applied.InverseDDL)
	}

	// Index visible via introspection, snapshot row persisted.
	after, _ := intr.Snapshot(ctx)
	kb := after.Find("agent_knowledge_base")
	var found bool
	for _, idx := range kb.Indexes {
		if idx.Name == "idx_kb_conf" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected idx_kb_conf to exist after apply")
	}
	snap, err := st.GetSnapshot(ctx, applied.SnapshotID)
	if err != nil || snap.DNA == "" {
		t.Fatalf("expected persisted snapshot, got %v", err)
	}

	// Roll back and verify no schema delta against the pre-mutation state.
	if err := inv.Rollback(ctx, applied.MutationID); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	restored, _ := intr.Snapshot(ctx)
	if diff := cmp.Diff(before, restored); diff != "" {
		t.Errorf("schema delta after rollback (-before +restored):\n%s", diff)
	}

	m, _ := st.GetMutation(ctx, applied.MutationID)
	if m.State != "reverted" {
		t.Errorf("expected reverted, got %s", m.State)
	}
}

func TestDropIndexInverseFromCatalog(t *testing.T) {
	inv, _, conn := newTestInverter(t)
	ctx := context.Background()
	intr := storage.NewIntrospector(conn, nil, false)

	// idx_kb_entity exists from bootstrap; dropping it must persist the
	// original definition as the inverse.
	applied, err := inv.Apply(ctx, "DROP INDEX idx_kb_entity", "test")
	if err != nil {
		t.Fatalf("drop apply failed: %v", err)
	}
	if applied.InverseDDL == "" {
		t.Fatal("expected recovered definition as inverse")
	}

	if err := inv.Rollback(ctx, applied.MutationID); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	schema, _ := intr.Snapshot(ctx)
	kb := schema.Find("agent_knowledge_base")
	var found bool
	for _, idx := range kb.Indexes {
		if idx.Name == "idx_kb_entity" {
			found = true
		}
	}
	if !found {
		t.Error("expected idx_kb_entity restored by rollback")
	}
}

func TestApplyRejectsHostileDDL(t *testing.T) {
	inv, _, _ := newTestInverter(t)
	ctx := context.Background()

	if _, err := inv.Apply(ctx, "DROP TABLE agent_sessions", "attack"); !errors.Is(err, fault.ErrDDLNotAllowed) {
		t.Fatalf("expected DDLNotAllowed, got %v", err)
	}
}
