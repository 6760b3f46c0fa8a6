package store

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mindcore/internal/config"
	"mindcore/internal/fault"
	"mindcore/internal/storage"
)

func newTestStore(t *testing.T) (*Store, *storage.Conn) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Connection.Path = ":memory:"
	cfg.Agentic.Vector.Dimensions = 4

	conn, err := storage.Open(cfg)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	tuner := storage.NewTuner(conn)
	if err := tuner.EnableForeignKeys(context.Background()); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	s := New(conn, cfg)
	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	return s, conn
}

func TestBootstrapCreatesAllTables(t *testing.T) {
	s, conn := newTestStore(t)
	ctx := context.Background()

	intr := storage.NewIntrospector(conn, nil, false)
	names, err := intr.TableNames(ctx)
	if err != nil {
		t.Fatal(err)
	}
	found := make(map[string]bool, len(names))
	for _, n := range names {
		found[n] = true
	}
	for _, want := range TableNames() {
		if !found[want] {
			t.Errorf("missing table %s", want)
		}
	}
	if len(TableNames()) != 20 {
		t.Errorf("expected 20 agentic tables, got %d", len(TableNames()))
	}

	n, err := s.SessionCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected empty session table, got %d rows", n)
	}
}

func TestBootstrapIdempotent(t *testing.T) {
	s, conn := newTestStore(t)
	ctx := context.Background()
	intr := storage.NewIntrospector(conn, nil, false)

	before, err := intr.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("second bootstrap failed: %v", err)
	}
	after, err := intr.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("schema changed across bootstraps (-before +after):\n%s", diff)
	}
}

func TestActionLifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := s.OpenSession(ctx, "s1", nil)
	if err != nil {
		t.Fatal(err)
	}
	a, err := s.AppendAction(ctx, sess.ID, "calc", []byte("{}"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != "pending" {
		t.Fatalf("expected pending, got %s", a.Status)
	}

	if err := s.CompleteAction(ctx, a.ID, "success", "42", 12); err != nil {
		t.Fatalf("first completion failed: %v", err)
	}
	err = s.CompleteAction(ctx, a.ID, "failure", "boom", 1)
	if !errors.Is(err, fault.ErrActionAlreadyFinalized) {
		t.Fatalf("expected ActionAlreadyFinalized, got %v", err)
	}

	got, err := s.GetAction(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "success" || *got.Outcome != "42" || *got.DurationMS != 12 {
		t.Errorf("unexpected finalized action: %+v", got)
	}
}

func TestAppendActionRequiresActiveSession(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	sess, _ := s.OpenSession(ctx, "s1", nil)
	if err := s.CloseSession(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendAction(ctx, sess.ID, "calc", nil, nil); err == nil {
		t.Fatal("expected append on closed session to fail")
	}
	// Closed sessions are terminal.
	if err := s.CloseSession(ctx, sess.ID); err == nil {
		t.Fatal("expected second close to fail")
	}
}

func TestSessionCascade(t *testing.T) {
	s, conn := newTestStore(t)
	ctx := context.Background()

	sess, _ := s.OpenSession(ctx, "s1", nil)
	s.AppendMessage(ctx, sess.ID, "user", "hello", nil)
	s.AppendAction(ctx, sess.ID, "calc", nil, nil)
	s.RecordUsage(ctx, sess.ID, "m", 1, 1, 0.1, "USD", nil)

	if err := s.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	for _, table := range []string{"agent_messages", "agent_actions", "agent_resource_usage"} {
		var n int
		if err := conn.DB.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Errorf("expected cascade to empty %s, found %d rows", table, n)
		}
	}
}

func TestEpisodeCloseOnce(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	sess, _ := s.OpenSession(ctx, "s1", nil)
	ep, err := s.StartEpisode(ctx, sess.ID, "explore")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CloseEpisode(ctx, ep.ID, "done"); err != nil {
		t.Fatal(err)
	}
	if err := s.CloseEpisode(ctx, ep.ID, "again"); err == nil {
		t.Fatal("expected second close to fail")
	}

	got, _ := s.GetEpisode(ctx, ep.ID)
	if got.EndTime == nil || got.EndTime.Before(got.StartTime) {
		t.Errorf("expected end_time >= start_time, got %+v", got)
	}
}

func TestEpochDisjointness(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	sess, _ := s.OpenSession(ctx, "s1", nil)
	var ids []int64
	for i := 0; i < 10; i++ {
		m, err := s.AppendMessage(ctx, sess.ID, "user", "msg", nil)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, m.ID)
	}

	if _, err := s.CompressRange(ctx, sess.ID, ids[0], ids[4], nil); err != nil {
		t.Fatal(err)
	}
	// Overlapping range must be rejected.
	if _, err := s.CompressRange(ctx, sess.ID, ids[3], ids[7], nil); err == nil {
		t.Fatal("expected overlapping epoch to be rejected")
	}
	// Adjacent disjoint range is fine.
	if _, err := s.CompressRange(ctx, sess.ID, ids[5], ids[9], nil); err != nil {
		t.Fatalf("disjoint epoch rejected: %v", err)
	}

	epochs, _ := s.Epochs(ctx, sess.ID)
	if len(epochs) != 2 {
		t.Errorf("expected 2 epochs, got %d", len(epochs))
	}
}

func TestVectorDimensionEnforced(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AddVector(ctx, nil, "ok", []float32{1, 2, 3, 4}, nil); err != nil {
		t.Fatalf("valid dimension rejected: %v", err)
	}
	_, err := s.AddVector(ctx, nil, "bad", []float32{1, 2}, nil)
	if !errors.Is(err, fault.ErrVectorDimensionMismatch) {
		t.Fatalf("expected VectorDimensionMismatch, got %v", err)
	}
	if _, err := s.SearchVectors(ctx, []float32{1}, 3); !errors.Is(err, fault.ErrVectorDimensionMismatch) {
		t.Fatalf("expected query dimension check, got %v", err)
	}
}

func TestVectorSearchOrdering(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.AddVector(ctx, nil, "origin", []float32{0, 0, 0, 0}, nil)
	s.AddVector(ctx, nil, "near", []float32{0.1, 0, 0, 0}, nil)
	s.AddVector(ctx, nil, "far", []float32{5, 5, 5, 5}, nil)

	got, err := s.SearchVectors(ctx, []float32{0, 0, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Content != "origin" || got[1].Content != "near" {
		t.Errorf("unexpected nearest ordering: %+v", got)
	}
}

func TestConfidenceClamped(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	item, err := s.InsertKnowledge(ctx, "arch", "fact", 1.7, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if item.Confidence != 1 {
		t.Errorf("expected clamp to 1, got %f", item.Confidence)
	}
	if err := s.UpdateKnowledgeConfidence(ctx, item.ID, -0.5, false); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetKnowledge(ctx, item.ID)
	if got.Confidence != 0 {
		t.Errorf("expected clamp to 0, got %f", got.Confidence)
	}
}

func TestKnowledgeLinkCascade(t *testing.T) {
	s, conn := newTestStore(t)
	ctx := context.Background()

	a, _ := s.InsertKnowledge(ctx, "e", "fact a", 0.9, nil, nil)
	b, _ := s.InsertKnowledge(ctx, "e", "fact b", 0.9, nil, nil)
	if _, err := s.LinkKnowledge(ctx, a.ID, b.ID, "supports", nil); err != nil {
		t.Fatal(err)
	}
	// Cycles are permitted.
	if _, err := s.LinkKnowledge(ctx, b.ID, a.ID, "contradicts", nil); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteKnowledge(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	var n int
	conn.DB.QueryRow("SELECT COUNT(*) FROM agent_knowledge_links").Scan(&n)
	if n != 0 {
		t.Errorf("expected links cascaded, found %d", n)
	}
}

func TestWalkHandlesCycles(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a, _ := s.InsertKnowledge(ctx, "e", "a", 0.9, nil, nil)
	b, _ := s.InsertKnowledge(ctx, "e", "b", 0.9, nil, nil)
	c, _ := s.InsertKnowledge(ctx, "e", "c", 0.9, nil, nil)
	s.LinkKnowledge(ctx, a.ID, b.ID, "r", nil)
	s.LinkKnowledge(ctx, b.ID, c.ID, "r", nil)
	s.LinkKnowledge(ctx, c.ID, a.ID, "r", nil)

	items, err := s.Walk(ctx, a.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Errorf("expected 3 unique items despite cycle, got %d", len(items))
	}
}

func TestResourceClamping(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	sess, _ := s.OpenSession(ctx, "s1", nil)
	if _, err := s.RecordUsage(ctx, sess.ID, "model-a", -5, 100, -0.5, "", nil); err != nil {
		t.Fatal(err)
	}
	total, err := s.SessionTotalCost(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Errorf("expected clamped cost 0, got %f", total)
	}

	s.RecordUsage(ctx, sess.ID, "model-a", 10, 20, 0.3, "USD", nil)
	byModel, _ := s.UsageByModel(ctx)
	u := byModel["model-a"]
	if u.InputTokens != 10 || u.OutputTokens != 120 {
		t.Errorf("unexpected aggregation: %+v", u)
	}
}

func TestCapabilityLifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	c, err := s.RegisterCapability(ctx, "summarize", "1.0.0", "condense text")
	if err != nil {
		t.Fatal(err)
	}
	// Duplicate (name, version) violates uniqueness.
	if _, err := s.RegisterCapability(ctx, "summarize", "1.0.0", ""); err == nil {
		t.Fatal("expected duplicate capability to fail")
	}

	// experimental cannot jump straight to promoted.
	if err := s.TransitionCapability(ctx, c.ID, "promoted"); err == nil {
		t.Fatal("expected illegal transition to fail")
	}
	if err := s.TransitionCapability(ctx, c.ID, "sandbox"); err != nil {
		t.Fatal(err)
	}
	if err := s.TransitionCapability(ctx, c.ID, "promoted"); err != nil {
		t.Fatal(err)
	}
	if err := s.TransitionCapability(ctx, c.ID, "deprecated"); err != nil {
		t.Fatal(err)
	}
	// deprecated is terminal.
	if err := s.TransitionCapability(ctx, c.ID, "sandbox"); err == nil {
		t.Fatal("expected terminal status to reject transitions")
	}
}

func TestObserveCapabilityClampsReliability(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	c, _ := s.RegisterCapability(ctx, "skill", "1", "")
	for i := 0; i < 50; i++ {
		if err := s.ObserveCapability(ctx, c.ID, true); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := s.GetCapability(ctx, c.ID)
	if got.Reliability < 0.9 || got.Reliability > 1 {
		t.Errorf("expected reliability near 1 within bounds, got %f", got.Reliability)
	}
}
