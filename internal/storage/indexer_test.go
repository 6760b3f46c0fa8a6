package storage

import (
	"context"
	"testing"
	"time"

	"mindcore/internal/config"
)

func newTestConn(t *testing.T) *Conn {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Connection.Path = ":memory:"

	conn, err := Open(cfg)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestAnalyzeRecommendsEqualityIndex(t *testing.T) {
	conn := newTestConn(t)
	ctx := context.Background()

	if _, err := conn.DB.Exec("CREATE TABLE events (id INTEGER PRIMARY KEY, kind TEXT, at DATETIME)"); err != nil {
		t.Fatal(err)
	}
	// Hot equality filter on an unindexed column.
	for i := 0; i < 5; i++ {
		conn.Capture().Record("SELECT * FROM events WHERE kind = 'click'", 3*time.Millisecond)
	}

	intr := NewIntrospector(conn, nil, false)
	recs, err := NewAutoIndexer(conn, intr).Analyze(ctx)
	if err != nil {
		t.Fatal(err)
	}

	var found *IndexRecommendation
	for i := range recs {
		if recs[i].Table == "events" && len(recs[i].Columns) == 1 && recs[i].Columns[0] == "kind" {
			found = &recs[i]
		}
	}
	if found == nil {
		t.Fatalf("expected recommendation for events.kind, got %+v", recs)
	}
	if found.Priority != PriorityMedium {
		t.Errorf("expected medium priority, got %s", found.Priority)
	}
}

func TestAnalyzeSkipsIndexedColumns(t *testing.T) {
	conn := newTestConn(t)
	ctx := context.Background()

	conn.DB.Exec("CREATE TABLE events (id INTEGER PRIMARY KEY, kind TEXT)")
	conn.DB.Exec("CREATE INDEX idx_events_kind ON events(kind)")
	conn.Capture().Record("SELECT * FROM events WHERE kind = 'click'", time.Millisecond)

	intr := NewIntrospector(conn, nil, false)
	recs, err := NewAutoIndexer(conn, intr).Analyze(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range recs {
		if r.Table == "events" {
			t.Errorf("unexpected recommendation on indexed column: %+v", r)
		}
	}
}

func TestJoinRecommendationIsHighPriority(t *testing.T) {
	conn := newTestConn(t)
	ctx := context.Background()

	conn.DB.Exec("CREATE TABLE a (id INTEGER PRIMARY KEY, b_id INTEGER)")
	conn.DB.Exec("CREATE TABLE b (id INTEGER PRIMARY KEY, ref INTEGER)")
	conn.Capture().Record("SELECT * FROM a JOIN b ON a.b_id = b.ref", 2*time.Millisecond)

	intr := NewIntrospector(conn, nil, false)
	recs, err := NewAutoIndexer(conn, intr).Analyze(ctx)
	if err != nil {
		t.Fatal(err)
	}

	var found bool
	for _, r := range recs {
		if r.Table == "b" && r.Columns[0] == "ref" && r.Priority == PriorityHigh {
			found = true
		}
	}
	if !found {
		t.Errorf("expected high-priority join recommendation, got %+v", recs)
	}
}

func TestRecommendationDDLIdempotent(t *testing.T) {
	rec := IndexRecommendation{Table: "events", Columns: []string{"kind"}, Kind: "btree"}
	want := "CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind)"
	if got := rec.DDL(); got != want {
		t.Errorf("ddl mismatch:\n got: %s\nwant: %s", got, want)
	}
}
