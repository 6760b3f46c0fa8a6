package mindcore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mindcore/internal/fault"
	"mindcore/internal/storage"
)

func newTestCortex(t *testing.T, opts ...Option) *Cortex {
	t.Helper()
	opts = append([]Option{WithVectorDimensions(4)}, opts...)
	c, err := Open("embedded::memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestBootstrapOnEmptyStore(t *testing.T) {
	c := newTestCortex(t)
	ctx := context.Background()

	schema, err := c.Introspect(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(schema.Tables), 20)

	var names []string
	for _, tbl := range schema.Tables {
		names = append(names, tbl.Name)
	}
	require.Contains(t, names, "agent_sessions")
	require.Contains(t, names, "agent_knowledge_base")
}

func TestActionLifecycleThroughFacade(t *testing.T) {
	c := newTestCortex(t)
	ctx := context.Background()

	sess, err := c.Sessions.Open(ctx, "s1", nil)
	require.NoError(t, err)

	a, err := c.Sessions.AppendAction(ctx, sess.ID, "calc", []byte("{}"))
	require.NoError(t, err)
	require.Equal(t, "pending", a.Status)

	require.NoError(t, c.Sessions.CompleteAction(ctx, a.ID, "success", "42", 12))
	err = c.Sessions.CompleteAction(ctx, a.ID, "success", "43", 1)
	require.ErrorIs(t, err, fault.ErrActionAlreadyFinalized)
}

func TestKnowledgeDedupThroughFacade(t *testing.T) {
	c := newTestCortex(t)
	ctx := context.Background()

	r1, err := c.Knowledge.Distill(ctx, "arch", "WAL is 3x faster", 0.9)
	require.NoError(t, err)
	r2, err := c.Knowledge.Distill(ctx, "arch", "WAL is 3x faster", 0.9)
	require.NoError(t, err)
	require.Equal(t, r1.ItemID, r2.ItemID)

	items, err := c.Knowledge.ByEntity(ctx, "arch")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.InDelta(t, 0.9, items[0].Confidence, 0.01)

	m := c.Metrics.Bloom()
	require.True(t, m.BloomRejections >= 1 || m.SemanticConfirmations == 1,
		"expected bloom rejection or semantic confirmation, got %+v", m)
}

func TestVectorRoundTrip(t *testing.T) {
	c := newTestCortex(t)
	ctx := context.Background()

	_, err := c.Vectors.Add(ctx, "the sky is blue", []float32{1, 0, 0, 0}, nil)
	require.NoError(t, err)
	_, err = c.Vectors.Add(ctx, "wrong dims", []float32{1, 0}, nil)
	require.ErrorIs(t, err, fault.ErrVectorDimensionMismatch)

	got, err := c.Vectors.Search(ctx, []float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "the sky is blue", got[0].Content)
}

func TestIdentifierAttackRejectedWithoutSchemaChange(t *testing.T) {
	c := newTestCortex(t)
	ctx := context.Background()

	before, err := c.Introspect(ctx)
	require.NoError(t, err)

	_, err = c.Evolution.Propose(ctx,
		`CREATE INDEX "id; DROP TABLE agent_sessions--" ON agent_sessions(name)`, "attack")
	require.Error(t, err)

	after, err := c.Introspect(ctx)
	require.NoError(t, err)
	require.Equal(t, len(before.Tables), len(after.Tables), "no table change expected")
}

func TestEvolutionPromoteAndRevert(t *testing.T) {
	c := newTestCortex(t)
	ctx := context.Background()

	id, err := c.Evolution.Propose(ctx,
		"CREATE INDEX idx_kb_updated ON agent_knowledge_base(updated_at)", "hot path")
	require.NoError(t, err)

	require.NoError(t, c.Evolution.Promote(ctx, id))

	m, err := c.Evolution.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "promoted", m.State)
	require.NotEmpty(t, m.InverseDDL)
	require.NotNil(t, m.SnapshotID)

	schema, _ := c.Introspect(ctx)
	require.True(t, hasIndex(schema, "agent_knowledge_base", "idx_kb_updated"))

	require.NoError(t, c.Evolution.Revert(ctx, id))
	schema, _ = c.Introspect(ctx)
	require.False(t, hasIndex(schema, "agent_knowledge_base", "idx_kb_updated"))
}

func TestVerificationWindowPromotion(t *testing.T) {
	c := newTestCortex(t, WithEvolution(3, 0.5, 2))
	ctx := context.Background()

	id, err := c.Evolution.Propose(ctx,
		"CREATE INDEX idx_goals_status ON agent_goals(status)", "shadowing")
	require.NoError(t, err)
	require.NoError(t, c.Evolution.Advance(ctx, id))

	state, err := c.Evolution.RecordShadow(ctx, id, true, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "verifying", state)
	state, _ = c.Evolution.RecordShadow(ctx, id, true, time.Millisecond)
	require.Equal(t, "verifying", state)
	state, err = c.Evolution.RecordShadow(ctx, id, true, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "promoted", state)

	schema, _ := c.Introspect(ctx)
	require.True(t, hasIndex(schema, "agent_goals", "idx_goals_status"))
}

func TestRitualTickThroughFacade(t *testing.T) {
	c := newTestCortex(t)
	ctx := context.Background()

	_, err := c.Rituals.Define(ctx, "squash", "compression", `{"keep_tail":1}`, "hourly")
	require.NoError(t, err)

	sess, _ := c.Sessions.Open(ctx, "s1", nil)
	for i := 0; i < 5; i++ {
		_, err := c.Sessions.AppendMessage(ctx, sess.ID, "user", "hello world", nil)
		require.NoError(t, err)
	}

	res, err := c.Rituals.RunPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Ran)
	require.Equal(t, 1, res.Succeeded)

	r, err := c.Rituals.Get(ctx, "squash")
	require.NoError(t, err)
	require.Equal(t, "succeeded", r.Status)
	require.NotNil(t, r.LastRun)
	require.NotNil(t, r.NextRun)
}

func TestPolicyDenyAtFacadeBoundary(t *testing.T) {
	c := newTestCortex(t)
	ctx := context.Background()

	_, err := c.st.UpsertPolicy(ctx, "lockdown", "deny", `{"match":"sessions.open"}`, true)
	require.NoError(t, err)

	_, err = c.Sessions.Open(ctx, "blocked", nil)
	require.ErrorIs(t, err, fault.ErrPolicyDeny)
}

func TestCacheServesRepeatLookups(t *testing.T) {
	c := newTestCortex(t)
	ctx := context.Background()

	_, err := c.Knowledge.Distill(ctx, "ops", "retry with backoff", 0.8)
	require.NoError(t, err)

	_, err = c.Knowledge.ByEntity(ctx, "ops")
	require.NoError(t, err)
	_, err = c.Knowledge.ByEntity(ctx, "ops")
	require.NoError(t, err)

	stats := c.Metrics.Cache()
	require.GreaterOrEqual(t, stats.Hits, uint64(1))
}

func hasIndex(schema *storage.Schema, table, index string) bool {
	t := schema.Find(table)
	if t == nil {
		return false
	}
	for _, idx := range t.Indexes {
		if idx.Name == index {
			return true
		}
	}
	return false
}
