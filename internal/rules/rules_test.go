package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"mindcore/internal/config"
	"mindcore/internal/fault"
	"mindcore/internal/storage"
	"mindcore/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
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
	return st
}

func TestRuleVeto(t *testing.T) {
	st := newTestStore(t)
	eng := NewEngine(st)
	ctx := context.Background()

	if _, err := st.AddRule(ctx, "agent_actions", "insert", "veto", "tool_name=rm"); err != nil {
		t.Fatal(err)
	}

	_, err := eng.Evaluate(ctx, Mutation{
		Table: "agent_actions", Operation: "insert",
		Values: map[string]interface{}{"tool_name": "rm"},
	})
	if !errors.Is(err, fault.ErrRuleVeto) {
		t.Fatalf("expected RuleVeto, got %v", err)
	}

	// Non-matching values pass.
	if _, err := eng.Evaluate(ctx, Mutation{
		Table: "agent_actions", Operation: "insert",
		Values: map[string]interface{}{"tool_name": "ls"},
	}); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
}

func TestRulesEvaluateInIDOrder(t *testing.T) {
	st := newTestStore(t)
	eng := NewEngine(st)
	ctx := context.Background()

	st.AddRule(ctx, "agent_goals", "insert", "annotate", "")
	st.AddRule(ctx, "agent_goals", "insert", "annotate", "")

	notes, err := eng.Evaluate(ctx, Mutation{Table: "agent_goals", Operation: "insert", Values: nil})
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 2 || notes[0].RuleID > notes[1].RuleID {
		t.Errorf("expected id-ordered annotations, got %+v", notes)
	}
}

func TestConflictScan(t *testing.T) {
	st := newTestStore(t)
	eng := NewEngine(st)
	ctx := context.Background()

	st.AddRule(ctx, "agent_actions", "insert", "veto", "tool_name=rm")
	st.AddRule(ctx, "agent_actions", "insert", "annotate", "tool_name=rm")

	conflicts, err := eng.ScanConflicts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("expected one contradiction, got %d", len(conflicts))
	}
}

func TestPolicyDenyMatchesPrefix(t *testing.T) {
	st := newTestStore(t)
	eng := NewPolicyEngine(st)
	ctx := context.Background()

	st.UpsertPolicy(ctx, "no-evolution", "deny", `{"match":"evolution."}`, true)
	if err := eng.Check(ctx, "evolution.propose", "caller"); !errors.Is(err, fault.ErrPolicyDeny) {
		t.Fatalf("expected PolicyDeny, got %v", err)
	}
	if err := eng.Check(ctx, "sessions.open", "caller"); err != nil {
		t.Fatalf("expected unrelated op to pass, got %v", err)
	}
}

func TestTokenBucketExhaustionAndRefill(t *testing.T) {
	st := newTestStore(t)
	eng := NewPolicyEngine(st)
	ctx := context.Background()

	now := time.Unix(5000, 0)
	eng.now = func() time.Time { return now }

	st.UpsertPolicy(ctx, "distill-limit", "rate_limit",
		`{"capacity":2,"window_ms":1000,"match":"knowledge."}`, true)

	if err := eng.Check(ctx, "knowledge.distill", "k1"); err != nil {
		t.Fatal(err)
	}
	if err := eng.Check(ctx, "knowledge.distill", "k1"); err != nil {
		t.Fatal(err)
	}
	err := eng.Check(ctx, "knowledge.distill", "k1")
	if !errors.Is(err, fault.ErrRateLimitExceeded) {
		t.Fatalf("expected RateLimitExceeded, got %v", err)
	}

	// A different key has its own bucket.
	if err := eng.Check(ctx, "knowledge.distill", "k2"); err != nil {
		t.Fatalf("expected independent bucket, got %v", err)
	}

	// The window refills over time.
	now = now.Add(2 * time.Second)
	if err := eng.Check(ctx, "knowledge.distill", "k1"); err != nil {
		t.Fatalf("expected refilled bucket, got %v", err)
	}
}

func TestReflectionFromClosedEpisode(t *testing.T) {
	st := newTestStore(t)
	r := NewReflector(st)
	ctx := context.Background()

	sess, _ := st.OpenSession(ctx, "s1", nil)
	ep, _ := st.StartEpisode(ctx, sess.ID, "deploy")

	a1, _ := st.AppendAction(ctx, sess.ID, "build", nil, nil)
	st.CompleteAction(ctx, a1.ID, "success", "ok", 100)
	a2, _ := st.AppendAction(ctx, sess.ID, "push", nil, nil)
	st.CompleteAction(ctx, a2.ID, "failure", "denied", 50)

	// Reflection on an active episode is premature.
	if _, err := r.Reflect(ctx, ep.ID); err == nil {
		t.Fatal("expected reflect on active episode to fail")
	}

	if err := st.CloseEpisode(ctx, ep.ID, "shipped with issues"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Reflect(ctx, ep.ID); err != nil {
		t.Fatal(err)
	}

	refs, _ := st.Reflections(ctx, sess.ID)
	if len(refs) != 1 {
		t.Fatalf("expected one reflection, got %d", len(refs))
	}
	if refs[0].Outcome != "mixed" {
		t.Errorf("expected mixed outcome, got %s", refs[0].Outcome)
	}
	if len(refs[0].LessonsLearned) == 0 {
		t.Error("expected lessons about the failed tool")
	}
}
