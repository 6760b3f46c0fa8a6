package mindcore

import (
	"context"
	"time"

	"mindcore/internal/bloomgate"
	"mindcore/internal/cache"
	"mindcore/internal/knowledge"
	"mindcore/internal/ritual"
	"mindcore/internal/rules"
	"mindcore/internal/storage"
	"mindcore/internal/store"
)

// Re-exported entity types. The façade adds guardrails, not shapes.
type (
	Session       = store.Session
	Message       = store.Message
	Action        = store.Action
	Episode       = store.Episode
	Epoch         = store.Epoch
	KnowledgeItem = store.KnowledgeItem
	KnowledgeLink = store.KnowledgeLink
	VectorEntry   = store.VectorEntry
	Capability    = store.Capability
	Ritual        = store.Ritual
	Snapshot      = store.Snapshot
	Mutation      = store.Mutation

	DistillResult       = knowledge.DistillResult
	BloomMetrics        = bloomgate.Metrics
	CacheStats          = cache.Stats
	TickResult          = ritual.TickResult
	IndexRecommendation = storage.IndexRecommendation
	RuleConflict        = rules.Conflict
)

// SessionsAPI covers sessions, messages, actions, and episodes.
type SessionsAPI struct{ c *Cortex }

// Open creates a new active session.
func (a *SessionsAPI) Open(ctx context.Context, name string, meta map[string]interface{}) (*Session, error) {
	if err := a.c.guard(ctx, "sessions.open", name); err != nil {
		return nil, err
	}
	if _, err := a.c.ruleEng.Evaluate(ctx, rules.Mutation{
		Table: "agent_sessions", Operation: "insert",
		Values: map[string]interface{}{"name": name},
	}); err != nil {
		return nil, err
	}
	return a.c.st.OpenSession(ctx, name, meta)
}

// Get loads a session.
func (a *SessionsAPI) Get(ctx context.Context, id int64) (*Session, error) {
	return a.c.st.GetSession(ctx, id)
}

// Close terminally closes a session.
func (a *SessionsAPI) Close(ctx context.Context, id int64) error {
	if err := a.c.guard(ctx, "sessions.close", ""); err != nil {
		return err
	}
	return a.c.st.CloseSession(ctx, id)
}

// Delete removes a session and cascades to everything it owns.
func (a *SessionsAPI) Delete(ctx context.Context, id int64) error {
	if err := a.c.guard(ctx, "sessions.delete", ""); err != nil {
		return err
	}
	if _, err := a.c.ruleEng.Evaluate(ctx, rules.Mutation{
		Table: "agent_sessions", Operation: "delete",
		Values: map[string]interface{}{"id": id},
	}); err != nil {
		return err
	}
	return a.c.st.DeleteSession(ctx, id)
}

// AppendMessage appends an immutable message.
func (a *SessionsAPI) AppendMessage(ctx context.Context, sessionID int64, role, content string, meta map[string]interface{}) (*Message, error) {
	if err := a.c.guard(ctx, "sessions.append_message", role); err != nil {
		return nil, err
	}
	return a.c.st.AppendMessage(ctx, sessionID, role, content, meta)
}

// AppendAction journals a pending tool invocation.
func (a *SessionsAPI) AppendAction(ctx context.Context, sessionID int64, tool string, args []byte) (*Action, error) {
	if err := a.c.guard(ctx, "actions.append", tool); err != nil {
		return nil, err
	}
	if _, err := a.c.ruleEng.Evaluate(ctx, rules.Mutation{
		Table: "agent_actions", Operation: "insert",
		Values: map[string]interface{}{"tool_name": tool},
	}); err != nil {
		return nil, err
	}
	return a.c.st.AppendAction(ctx, sessionID, tool, args, nil)
}

// CompleteAction finalizes a pending action exactly once.
func (a *SessionsAPI) CompleteAction(ctx context.Context, actionID int64, status, outcome string, durationMS int64) error {
	return a.c.st.CompleteAction(ctx, actionID, status, outcome, durationMS)
}

// Actions lists a session's action journal.
func (a *SessionsAPI) Actions(ctx context.Context, sessionID int64) ([]Action, error) {
	return a.c.st.Actions(ctx, sessionID)
}

// StartEpisode opens a named episode.
func (a *SessionsAPI) StartEpisode(ctx context.Context, sessionID int64, name string) (*Episode, error) {
	return a.c.st.StartEpisode(ctx, sessionID, name)
}

// CloseEpisode closes an episode and derives a reflection from its actions.
func (a *SessionsAPI) CloseEpisode(ctx context.Context, episodeID int64, summary string) error {
	if err := a.c.st.CloseEpisode(ctx, episodeID, summary); err != nil {
		return err
	}
	if _, err := a.c.reflector.Reflect(ctx, episodeID); err != nil {
		return err
	}
	return nil
}

// CompressRange condenses a committed message range into an epoch.
func (a *SessionsAPI) CompressRange(ctx context.Context, sessionID, from, to int64) (*Epoch, error) {
	return a.c.st.CompressRange(ctx, sessionID, from, to, a.c.summarize)
}

// RecordUsage tallies token and cost consumption for a session.
func (a *SessionsAPI) RecordUsage(ctx context.Context, sessionID int64, model string, inTok, outTok int64, cost float64, currency string) error {
	_, err := a.c.st.RecordUsage(ctx, sessionID, model, inTok, outTok, cost, currency, nil)
	return err
}

// KnowledgeAPI covers distillation, challenge, and the knowledge graph.
type KnowledgeAPI struct{ c *Cortex }

// Distill dedups and stores a fact.
func (a *KnowledgeAPI) Distill(ctx context.Context, entity, fact string, confidence float64) (*DistillResult, error) {
	if err := a.c.guard(ctx, "knowledge.distill", entity); err != nil {
		return nil, err
	}
	if _, err := a.c.ruleEng.Evaluate(ctx, rules.Mutation{
		Table: "agent_knowledge_base", Operation: "insert",
		Values: map[string]interface{}{"entity": entity},
	}); err != nil {
		return nil, err
	}
	res, err := a.c.distiller.Distill(ctx, entity, fact, confidence, nil, nil)
	if err == nil {
		a.c.qcache.Delete("kb:" + entity)
	}
	return res, err
}

// Challenge blends disputing evidence into an existing fact's confidence.
func (a *KnowledgeAPI) Challenge(ctx context.Context, entity, evidence string, newConfidence float64) (*KnowledgeItem, error) {
	if err := a.c.guard(ctx, "knowledge.challenge", entity); err != nil {
		return nil, err
	}
	item, err := a.c.distiller.Challenge(ctx, entity, evidence, newConfidence)
	if err == nil {
		a.c.qcache.Delete("kb:" + entity)
	}
	return item, err
}

// ByEntity lists stored facts about one entity, served from the bounded
// TTL cache when fresh.
func (a *KnowledgeAPI) ByEntity(ctx context.Context, entity string) ([]KnowledgeItem, error) {
	key := "kb:" + entity
	if v, ok := a.c.qcache.Get(key); ok {
		return v.([]KnowledgeItem), nil
	}
	items, err := a.c.st.KnowledgeByEntity(ctx, entity)
	if err != nil {
		return nil, err
	}
	a.c.qcache.Set(key, items)
	return items, nil
}

// Link creates a directed edge between two items.
func (a *KnowledgeAPI) Link(ctx context.Context, sourceID, targetID int64, relationship string) (*KnowledgeLink, error) {
	return a.c.st.LinkKnowledge(ctx, sourceID, targetID, relationship, nil)
}

// Walk traverses the graph breadth-first from a root item.
func (a *KnowledgeAPI) Walk(ctx context.Context, rootID int64, maxDepth int) ([]KnowledgeItem, error) {
	return a.c.st.Walk(ctx, rootID, maxDepth)
}

// VectorsAPI covers raw embedding storage and recall.
type VectorsAPI struct{ c *Cortex }

// Add stores content with its embedding.
func (a *VectorsAPI) Add(ctx context.Context, content string, embedding []float32, meta map[string]interface{}) (int64, error) {
	if err := a.c.guard(ctx, "vectors.add", ""); err != nil {
		return 0, err
	}
	return a.c.st.AddVector(ctx, nil, content, embedding, meta)
}

// Search returns the top-N nearest entries.
func (a *VectorsAPI) Search(ctx context.Context, query []float32, topN int) ([]VectorEntry, error) {
	return a.c.st.SearchVectors(ctx, query, topN)
}

// CapabilitiesAPI covers the skill registry lifecycle.
type CapabilitiesAPI struct{ c *Cortex }

// Register inserts an experimental skill.
func (a *CapabilitiesAPI) Register(ctx context.Context, name, version, description string) (*Capability, error) {
	if err := a.c.guard(ctx, "capabilities.register", name); err != nil {
		return nil, err
	}
	return a.c.st.RegisterCapability(ctx, name, version, description)
}

// Promote moves a sandboxed skill to promoted.
func (a *CapabilitiesAPI) Promote(ctx context.Context, id int64) error {
	return a.c.st.TransitionCapability(ctx, id, "promoted")
}

// Deprecate terminally retires a skill.
func (a *CapabilitiesAPI) Deprecate(ctx context.Context, id int64) error {
	return a.c.st.TransitionCapability(ctx, id, "deprecated")
}

// Observe folds a success/failure observation into reliability.
func (a *CapabilitiesAPI) Observe(ctx context.Context, id int64, success bool) error {
	return a.c.st.ObserveCapability(ctx, id, success)
}

// RitualsAPI covers the cooperative scheduler.
type RitualsAPI struct{ c *Cortex }

// Define creates or updates a ritual.
func (a *RitualsAPI) Define(ctx context.Context, name, rtype, definition, frequency string) (*Ritual, error) {
	return a.c.st.DefineRitual(ctx, name, rtype, definition, frequency)
}

// RunPending executes every ready ritual to completion.
func (a *RitualsAPI) RunPending(ctx context.Context) (TickResult, error) {
	return a.c.orch.RunPending(ctx)
}

// Get loads a ritual by name.
func (a *RitualsAPI) Get(ctx context.Context, name string) (*Ritual, error) {
	return a.c.st.GetRitualByName(ctx, name)
}

// Subscribe registers a completion listener.
func (a *RitualsAPI) Subscribe(l ritual.Listener) { a.c.orch.Subscribe(l) }

// EvolutionAPI covers autonomous schema mutation.
type EvolutionAPI struct{ c *Cortex }

// Propose records candidate DDL.
func (a *EvolutionAPI) Propose(ctx context.Context, ddl, reason string) (int64, error) {
	if err := a.c.guard(ctx, "evolution.propose", ""); err != nil {
		return 0, err
	}
	return a.c.pilot.Propose(ctx, ddl, reason)
}

// Advance sandboxes a proposed mutation and begins verification.
func (a *EvolutionAPI) Advance(ctx context.Context, mutationID int64) error {
	if err := a.c.pilot.Sandbox(ctx, mutationID); err != nil {
		return err
	}
	return a.c.pilot.BeginVerification(ctx, mutationID, a.c.ctrl.VerificationWindow())
}

// RecordShadow feeds one shadowed operation into a verifying mutation and
// returns the resulting state.
func (a *EvolutionAPI) RecordShadow(ctx context.Context, mutationID int64, success bool, latency time.Duration) (string, error) {
	return a.c.pilot.RecordShadow(ctx, mutationID, success, latency)
}

// Promote applies a proposed mutation directly (snapshot + inverse), the
// operator shortcut past the verification window.
func (a *EvolutionAPI) Promote(ctx context.Context, mutationID int64) error {
	if err := a.c.guard(ctx, "evolution.promote", ""); err != nil {
		return err
	}
	_, err := a.c.inverter.ApplyTracked(ctx, mutationID)
	return err
}

// Revert rolls a promoted mutation back through its stored inverse.
func (a *EvolutionAPI) Revert(ctx context.Context, mutationID int64) error {
	return a.c.pilot.Revert(ctx, mutationID)
}

// Get loads a mutation.
func (a *EvolutionAPI) Get(ctx context.Context, mutationID int64) (*Mutation, error) {
	return a.c.st.GetMutation(ctx, mutationID)
}

// MetricsAPI exposes the engine's counters and analyses.
type MetricsAPI struct{ c *Cortex }

// Bloom reports the ingestion gate's decision counters.
func (a *MetricsAPI) Bloom() BloomMetrics { return a.c.gate.Metrics() }

// SessionCost sums cost for one session.
func (a *MetricsAPI) SessionCost(ctx context.Context, sessionID int64) (float64, error) {
	return a.c.st.SessionTotalCost(ctx, sessionID)
}

// GlobalCost sums cost across the store.
func (a *MetricsAPI) GlobalCost(ctx context.Context) (float64, error) {
	return a.c.st.GlobalTotalCost(ctx)
}

// ModelUsage aggregates tokens and cost per model.
func (a *MetricsAPI) ModelUsage(ctx context.Context) (map[string]store.ModelUsage, error) {
	return a.c.st.UsageByModel(ctx)
}

// IndexRecommendations analyzes the capture ring.
func (a *MetricsAPI) IndexRecommendations(ctx context.Context) ([]IndexRecommendation, error) {
	return a.c.indexer.Analyze(ctx)
}

// RuleConflicts scans active rules for contradictions.
func (a *MetricsAPI) RuleConflicts(ctx context.Context) ([]RuleConflict, error) {
	return a.c.ruleEng.ScanConflicts(ctx)
}

// Aggressiveness reports the controller's current mutation aggressiveness.
func (a *MetricsAPI) Aggressiveness() float64 { return a.c.ctrl.Aggressiveness() }

// Cache reports the TTL cache's hit/miss counters.
func (a *MetricsAPI) Cache() CacheStats { return a.c.qcache.Stats() }
