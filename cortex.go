// Package mindcore is a self-evolving cognitive persistence engine for
// autonomous agents: durable sessions, episodic journals, deduplicated
// knowledge with vector recall, self-tuning storage, and schema evolution
// with rollback, over an embedded relational store.
//
// The Cortex façade composes the subsystems and adds guardrails; it holds
// no logic of its own. Writes that call guard (opening, closing and
// deleting sessions, appending messages and actions, distilling and
// challenging knowledge, adding vectors, registering capabilities, and
// proposing or promoting mutations) are checked by the policy engine first;
// other writes reach the store without a policy check.
package mindcore

import (
	"context"
	"fmt"
	"time"

	"mindcore/internal/bloomgate"
	"mindcore/internal/cache"
	"mindcore/internal/config"
	"mindcore/internal/dna"
	"mindcore/internal/evolution"
	"mindcore/internal/fault"
	"mindcore/internal/knowledge"
	"mindcore/internal/logging"
	"mindcore/internal/meta"
	"mindcore/internal/ritual"
	"mindcore/internal/rules"
	"mindcore/internal/storage"
	"mindcore/internal/store"
)

// EmbedFunc re-exports the embedding callback contract.
type EmbedFunc = knowledge.EmbedFunc

// Cortex is the agent-facing surface.
type Cortex struct {
	cfg  *config.Config
	conn *storage.Conn
	st   *store.Store

	tuner     *storage.Tuner
	qcache    *cache.Cache
	intr      *storage.Introspector
	indexer   *storage.AutoIndexer
	inverter  *dna.Inverter
	gate      *bloomgate.Gate
	distiller *knowledge.Distiller
	ruleEng   *rules.Engine
	policyEng *rules.PolicyEngine
	reflector *rules.Reflector
	pilot     *evolution.Pilot
	ctrl      *meta.Controller
	orch      *ritual.Orchestrator
	summarize store.Summarizer

	Sessions     *SessionsAPI
	Knowledge    *KnowledgeAPI
	Vectors      *VectorsAPI
	Capabilities *CapabilitiesAPI
	Rituals      *RitualsAPI
	Evolution    *EvolutionAPI
	Metrics      *MetricsAPI
}

// Open constructs a cortex from a connection string (embedded:PATH,
// sqlite:PATH, postgres://...). An empty string falls back to
// MINDCORE_DATABASE_URL and the defaults.
func Open(connString string, opts ...Option) (*Cortex, error) {
	settings := defaultSettings()
	for _, o := range opts {
		o(settings)
	}

	cfg, err := config.Load(settings.configPath)
	if err != nil {
		return nil, err
	}
	if connString == "" {
		connString = cfg.Connection.URL
	}
	if err := cfg.ParseConnectionString(connString); err != nil {
		return nil, err
	}
	if settings.configMutator != nil {
		settings.configMutator(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logging.Initialize(logging.Config{
		Enabled:    cfg.Logging.Enabled,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return nil, err
	}

	conn, err := storage.Open(cfg)
	if err != nil {
		return nil, err
	}

	c := &Cortex{cfg: cfg, conn: conn}
	if err := c.initialize(settings); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// initialize bootstraps schema and wires every subsystem. The path-keyed
// init lock serializes concurrent instances over the same database.
func (c *Cortex) initialize(settings *settings) error {
	timer := logging.StartTimer(logging.CategoryBoot, "Cortex.initialize")
	defer timer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), settings.bootTimeout)
	defer cancel()

	lock := storage.InitLock(c.conn.Path())
	lock.Lock()
	defer lock.Unlock()

	c.tuner = storage.NewTuner(c.conn)
	if c.cfg.Automation.AutoOptimize {
		if err := c.tuner.ApplyProfile(ctx, c.cfg.Optimization); err != nil {
			return fmt.Errorf("pragma profile failed: %w", err)
		}
	}

	c.st = store.New(c.conn, c.cfg)
	if err := c.st.Bootstrap(ctx); err != nil {
		return err
	}

	qcache, err := cache.New(c.cfg.Cache.MaxSize, time.Duration(c.cfg.Cache.TTLMS)*time.Millisecond)
	if err != nil {
		return err
	}
	c.qcache = qcache

	c.intr = storage.NewIntrospector(c.conn,
		c.cfg.Introspection.ExcludeTables, c.cfg.Introspection.IncludeViews)
	c.indexer = storage.NewAutoIndexer(c.conn, c.intr)
	c.inverter = dna.NewInverter(c.conn, c.st)

	c.gate = bloomgate.New(c.cfg.Agentic.Distiller.BloomCapacity, c.cfg.Agentic.Distiller.BloomFalsePositive)
	c.distiller = knowledge.NewDistiller(c.st, c.gate, settings.embed,
		c.cfg.Agentic.Distiller, c.cfg.Agentic.Vector.DupThreshold)

	c.ruleEng = rules.NewEngine(c.st)
	c.policyEng = rules.NewPolicyEngine(c.st)
	c.reflector = rules.NewReflector(c.st)

	evo := c.cfg.Agentic.Evolution
	c.pilot = evolution.NewPilot(c.st, c.inverter, c.conn, evo.MaxSandboxSkills)
	c.ctrl = meta.NewController(c.st, c.inverter.RollbackLatestPromoted,
		evo.WindowSize, evo.ZScoreThreshold, evo.MutationAggressiveness, evo.VerificationWindow)

	c.summarize = settings.summarizer
	c.orch = ritual.NewOrchestrator(c.st, c.ctrl)
	c.orch.Register("compression", ritual.NewCompressionRunner(c.st, settings.summarizer))
	c.orch.Register("pruning", ritual.NewPruningRunner(c.st, c.tuner))
	c.orch.Register("reindex", ritual.NewReindexRunner(c.indexer, c.tuner, c.conn, c.cfg.Automation.AutoIndex))
	c.orch.Register("probe", ritual.NewProbeRunner(c.st, c.conn))
	c.orch.Register("evolution", c.evolutionRunner())

	c.Sessions = &SessionsAPI{c: c}
	c.Knowledge = &KnowledgeAPI{c: c}
	c.Vectors = &VectorsAPI{c: c}
	c.Capabilities = &CapabilitiesAPI{c: c}
	c.Rituals = &RitualsAPI{c: c}
	c.Evolution = &EvolutionAPI{c: c}
	c.Metrics = &MetricsAPI{c: c}

	logging.Get(logging.CategoryBoot).Info("cortex initialized (%s dialect)", c.conn.Dialect.Name())
	return nil
}

// evolutionRunner proposes index mutations from the auto-indexer's leading
// recommendations; the controller's current aggressiveness gates the run
// and scales how many recommendations are taken.
func (c *Cortex) evolutionRunner() ritual.Runner {
	return func(ctx context.Context, r store.Ritual) error {
		if c.ctrl.Aggressiveness() <= 0 {
			return nil
		}
		recs, err := c.indexer.Analyze(ctx)
		if err != nil {
			return err
		}
		// Aggressiveness scales how deep into the recommendation list the
		// pilot reaches this cycle.
		limit := int(c.ctrl.Aggressiveness()*float64(len(recs))) + 1
		for i, rec := range recs {
			if i >= limit {
				break
			}
			id, err := c.pilot.Propose(ctx, rec.DDL(), rec.Reason)
			if err != nil {
				continue
			}
			if err := c.pilot.Sandbox(ctx, id); err != nil {
				continue
			}
			if err := c.pilot.BeginVerification(ctx, id, c.ctrl.VerificationWindow()); err != nil {
				continue
			}
		}
		return nil
	}
}

// Close releases the store. A closed cortex fails guarded operations with
// NotInitialized.
func (c *Cortex) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Config exposes the active configuration (read-only by convention).
func (c *Cortex) Config() *config.Config { return c.cfg }

// Introspect returns the live schema.
func (c *Cortex) Introspect(ctx context.Context) (*storage.Schema, error) {
	return c.intr.Snapshot(ctx)
}

// guard runs the policy engine before a write reaches the store.
func (c *Cortex) guard(ctx context.Context, operation, key string) error {
	if c.conn == nil {
		return fault.New(fault.ErrNotInitialized, operation, "cortex is closed")
	}
	return c.policyEng.Check(ctx, operation, key)
}

// DescribeTable returns one table's shape, with TableNotFound carrying the
// available catalog on a miss. The binding generator consumes this.
func (c *Cortex) DescribeTable(ctx context.Context, name string) (*storage.Table, error) {
	return c.intr.Describe(ctx, name)
}

// ObserveOutcome feeds an external success/latency observation into the
// meta-evolution controller under the given subject.
func (c *Cortex) ObserveOutcome(ctx context.Context, subject string, success bool, latency time.Duration) {
	c.ctrl.Observe(ctx, subject, meta.Outcome{Success: success, Latency: latency})
}
