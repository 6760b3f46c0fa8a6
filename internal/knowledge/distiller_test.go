package knowledge

import (
	"context"
	"testing"

	"mindcore/internal/bloomgate"
	"mindcore/internal/config"
	"mindcore/internal/storage"
	"mindcore/internal/store"
)

func newTestDistiller(t *testing.T, embed EmbedFunc) (*Distiller, *store.Store) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Connection.Path = ":memory:"
	cfg.Agentic.Vector.Dimensions = 4

	conn, err := storage.Open(cfg)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	st := store.New(conn, cfg)
	if err := st.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}

	gate := bloomgate.New(10_000, 0.01)
	d := NewDistiller(st, gate, embed, cfg.Agentic.Distiller, cfg.Agentic.Vector.DupThreshold)
	return d, st
}

// hashEmbed is a deterministic toy embedder: identical text maps to an
// identical vector.
func hashEmbed(_ context.Context, text string) ([]float32, error) {
	var v [4]float32
	for i, r := range text {
		v[i%4] += float32(r%16) / 16
	}
	return v[:], nil
}

func TestDistillTwiceYieldsOneItem(t *testing.T) {
	d, st := newTestDistiller(t, hashEmbed)
	ctx := context.Background()

	r1, err := d.Distill(ctx, "arch", "WAL is 3x faster", 0.9, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r1.Merged {
		t.Fatal("first distill must insert, not merge")
	}

	r2, err := d.Distill(ctx, "arch", "WAL is 3x faster", 0.9, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r2.ItemID != r1.ItemID {
		t.Fatalf("expected same item, got %d and %d", r1.ItemID, r2.ItemID)
	}

	n, _ := st.KnowledgeCount(ctx)
	if n != 1 {
		t.Fatalf("expected exactly one knowledge item, got %d", n)
	}

	m := d.Metrics()
	if m.BloomRejections < 1 && m.SemanticConfirmations != 1 {
		t.Errorf("expected a bloom rejection or one semantic confirmation, got %+v", m)
	}

	item, _ := st.GetKnowledge(ctx, r1.ItemID)
	if item.Confidence < 0.89 || item.Confidence > 0.91 {
		t.Errorf("expected confidence to stay near 0.9, got %f", item.Confidence)
	}
}

func TestDistillWithoutEmbedderUsesExactMatch(t *testing.T) {
	d, st := newTestDistiller(t, nil)
	ctx := context.Background()

	d.Distill(ctx, "arch", "WAL is 3x faster", 0.8, nil, nil)
	r, err := d.Distill(ctx, "arch", "wal  IS 3x   faster", 0.6, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Merged {
		t.Fatal("expected normalized duplicate to merge")
	}
	n, _ := st.KnowledgeCount(ctx)
	if n != 1 {
		t.Errorf("expected one item, got %d", n)
	}
}

func TestDistinctFactsBothStored(t *testing.T) {
	d, st := newTestDistiller(t, hashEmbed)
	ctx := context.Background()

	d.Distill(ctx, "arch", "WAL is 3x faster", 0.9, nil, nil)
	d.Distill(ctx, "arch", "vacuum reclaims free pages after deletes", 0.7, nil, nil)

	n, _ := st.KnowledgeCount(ctx)
	if n != 2 {
		t.Errorf("expected two distinct items, got %d", n)
	}
}

func TestChallengeBlendsAndDecays(t *testing.T) {
	d, st := newTestDistiller(t, hashEmbed)
	ctx := context.Background()

	r, _ := d.Distill(ctx, "arch", "WAL is 3x faster", 1.0, nil, nil)

	// First challenge: c' = 0.7*1.0 + 0.3*0.0 = 0.7
	item, err := d.Challenge(ctx, "arch", "WAL is 3x faster", 0.0)
	if err != nil {
		t.Fatal(err)
	}
	if item.ID != r.ItemID {
		t.Fatalf("challenge resolved wrong item %d", item.ID)
	}
	if item.Confidence < 0.69 || item.Confidence > 0.71 {
		t.Errorf("expected blended 0.7, got %f", item.Confidence)
	}

	// Second challenge uses decayed alpha 0.63: c' = 0.63*0.7 = 0.441
	item, err = d.Challenge(ctx, "arch", "WAL is 3x faster", 0.0)
	if err != nil {
		t.Fatal(err)
	}
	if item.Confidence < 0.43 || item.Confidence > 0.45 {
		t.Errorf("expected decayed blend near 0.441, got %f", item.Confidence)
	}

	got, _ := st.GetKnowledge(ctx, item.ID)
	if got.ChallengeCount != 2 {
		t.Errorf("expected 2 recorded challenges, got %d", got.ChallengeCount)
	}
}

func TestChallengeUnknownEntityFails(t *testing.T) {
	d, _ := newTestDistiller(t, hashEmbed)
	if _, err := d.Challenge(context.Background(), "ghost", "anything", 0.5); err == nil {
		t.Fatal("expected challenge on unknown entity to fail")
	}
}
