// Package knowledge implements fact distillation: probabilistic dedup via
// the bloom gate, semantic comparison via the vector store, and confidence
// blending under challenge.
package knowledge

import (
	"context"
	"math"

	"mindcore/internal/bloomgate"
	"mindcore/internal/config"
	"mindcore/internal/fault"
	"mindcore/internal/logging"
	"mindcore/internal/store"
)

// EmbedFunc turns text into an embedding of the store's fixed dimension.
// Provided by the caller; the engine never talks to a model itself.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Distiller dedups and stores knowledge facts.
type Distiller struct {
	st    *store.Store
	gate  *bloomgate.Gate
	embed EmbedFunc

	dupThreshold float64
	alpha        float64
	alphaDecay   float64
	alphaFloor   float64
}

// DistillResult reports what the pipeline did with one fact.
type DistillResult struct {
	ItemID int64
	Merged bool // true when an existing item absorbed the fact
}

// NewDistiller wires the pipeline. embed may be nil; without it the
// semantic stage is skipped and bloom positives are resolved by exact
// entity+fact lookup instead: a match absorbs the new confidence, anything
// else is inserted.
func NewDistiller(st *store.Store, gate *bloomgate.Gate, embed EmbedFunc, cfg config.DistillerConfig, dupThreshold float64) *Distiller {
	return &Distiller{
		st:           st,
		gate:         gate,
		embed:        embed,
		dupThreshold: dupThreshold,
		alpha:        cfg.ChallengeAlpha,
		alphaDecay:   cfg.ChallengeAlphaDecay,
		alphaFloor:   cfg.ChallengeAlphaFloor,
	}
}

// Distill runs the ingestion pipeline:
//  1. fingerprint -> bloom gate; a definitive miss inserts directly.
//  2. otherwise embed the fact and compare against the nearest stored
//     vectors; within the dup threshold the existing item absorbs the new
//     confidence by weighted average.
//  3. otherwise insert as new and register the fingerprint.
func (d *Distiller) Distill(ctx context.Context, entity, fact string, confidence float64, sourceSessionID *int64, tags []string) (*DistillResult, error) {
	const op = "knowledge.Distill"
	timer := logging.StartTimer(logging.CategoryKnowledge, "Distill")
	defer timer.Stop()

	fp := bloomgate.Fingerprint(entity, fact)

	if !d.gate.MightContain(fp) {
		item, err := d.insert(ctx, entity, fact, confidence, sourceSessionID, tags, fp)
		if err != nil {
			return nil, err
		}
		return &DistillResult{ItemID: item.ID}, nil
	}

	// Probably present: fall through to semantic comparison.
	existing, err := d.findSemanticDuplicate(ctx, entity, fact)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		d.gate.ConfirmSemantic()
		// Weighted average pulls confidence toward the new observation.
		blended := 0.5*existing.Confidence + 0.5*confidence
		if err := d.st.UpdateKnowledgeConfidence(ctx, existing.ID, blended, false); err != nil {
			return nil, err
		}
		logging.Get(logging.CategoryKnowledge).Debug("fact merged into item %d (confidence %.2f -> %.2f)",
			existing.ID, existing.Confidence, blended)
		return &DistillResult{ItemID: existing.ID, Merged: true}, nil
	}

	d.gate.ConfirmFalsePositive()
	item, err := d.insert(ctx, entity, fact, confidence, sourceSessionID, tags, fp)
	if err != nil {
		return nil, err
	}
	return &DistillResult{ItemID: item.ID}, nil
}

func (d *Distiller) insert(ctx context.Context, entity, fact string, confidence float64, sourceSessionID *int64, tags []string, fp uint64) (*store.KnowledgeItem, error) {
	item, err := d.st.InsertKnowledge(ctx, entity, fact, confidence, sourceSessionID, tags)
	if err != nil {
		return nil, err
	}
	d.gate.Insert(fp)
	if d.embed != nil {
		vec, err := d.embed(ctx, fact)
		if err == nil {
			meta := map[string]interface{}{"knowledge_id": item.ID, "entity": entity}
			if _, verr := d.st.AddVector(ctx, sourceSessionID, fact, vec, meta); verr != nil {
				logging.Get(logging.CategoryKnowledge).Warn("embedding store failed for item %d: %v", item.ID, verr)
			}
		} else {
			logging.Get(logging.CategoryKnowledge).Warn("embed failed for item %d: %v", item.ID, err)
		}
	}
	return item, nil
}

// findSemanticDuplicate locates an existing item close enough to absorb the
// fact. With an embedder: nearest-vector lookup under the dup threshold.
// Without: exact match on (entity, normalized fact).
func (d *Distiller) findSemanticDuplicate(ctx context.Context, entity, fact string) (*store.KnowledgeItem, error) {
	if d.embed == nil {
		return d.findExact(ctx, entity, fact)
	}
	vec, err := d.embed(ctx, fact)
	if err != nil {
		// Degraded mode: fall back to the structural check.
		logging.Get(logging.CategoryKnowledge).Warn("embed failed during dedup, using exact match: %v", err)
		return d.findExact(ctx, entity, fact)
	}
	entries, err := d.st.SearchVectors(ctx, vec, 3)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Distance > d.dupThreshold {
			break
		}
		idVal, ok := e.Metadata["knowledge_id"]
		if !ok {
			continue
		}
		id, ok := asInt64(idVal)
		if !ok {
			continue
		}
		item, err := d.st.GetKnowledge(ctx, id)
		if err != nil {
			continue
		}
		if item.Entity == entity {
			return item, nil
		}
	}
	return nil, nil
}

func (d *Distiller) findExact(ctx context.Context, entity, fact string) (*store.KnowledgeItem, error) {
	items, err := d.st.KnowledgeByEntity(ctx, entity)
	if err != nil {
		return nil, err
	}
	want := bloomgate.Fingerprint(entity, fact)
	for i := range items {
		if bloomgate.Fingerprint(items[i].Entity, items[i].Fact) == want {
			return &items[i], nil
		}
	}
	return nil, nil
}

// Challenge blends new evidence into an existing fact's confidence:
// c' = alpha*c_old + (1-alpha)*c_new, with alpha decaying per repeated
// challenge of the same item. A reflection entry records the dispute when
// the item has a source session; items without one get no reflection.
func (d *Distiller) Challenge(ctx context.Context, entity, evidence string, newConfidence float64) (*store.KnowledgeItem, error) {
	const op = "knowledge.Challenge"

	item, err := d.findSemanticDuplicate(ctx, entity, evidence)
	if err != nil {
		return nil, err
	}
	if item == nil {
		items, err := d.st.KnowledgeByEntity(ctx, entity)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, fault.New(fault.ErrIntegrityViolation, op, "no knowledge about entity %q to challenge", entity)
		}
		item = &items[0]
	}

	alpha := d.alpha * math.Pow(d.alphaDecay, float64(item.ChallengeCount))
	if alpha < d.alphaFloor {
		alpha = d.alphaFloor
	}
	blended := alpha*item.Confidence + (1-alpha)*newConfidence
	if err := d.st.UpdateKnowledgeConfidence(ctx, item.ID, blended, true); err != nil {
		return nil, err
	}

	if item.SourceSessionID != nil {
		_, _ = d.st.AddReflection(ctx, *item.SourceSessionID, nil,
			"knowledge_challenged",
			[]string{"fact about " + entity + " disputed by new evidence"},
			[]string{"re-verify: " + evidence})
	}

	logging.Get(logging.CategoryKnowledge).Info("item %d challenged (alpha=%.2f, confidence %.2f -> %.2f)",
		item.ID, alpha, item.Confidence, blended)
	return d.st.GetKnowledge(ctx, item.ID)
}

// Metrics exposes the gate counters.
func (d *Distiller) Metrics() bloomgate.Metrics { return d.gate.Metrics() }

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	}
	return 0, false
}
