package store

import (
	"context"
	"fmt"

	"mindcore/internal/logging"
	"mindcore/internal/storage"
)

// The 20 agentic tables, ordered so every foreign key points at an earlier
// table. Foreign keys are declared inline; the embedded engine cannot add
// them after creation.
var bootstrapDDL = []struct {
	name string
	ddl  string
}{
	{"agent_personas", `CREATE TABLE IF NOT EXISTS agent_personas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		role TEXT,
		capabilities TEXT NOT NULL DEFAULT '[]',
		policies TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"agent_sessions", `CREATE TABLE IF NOT EXISTS agent_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active','closed','archived')),
		persona_id INTEGER REFERENCES agent_personas(id) ON DELETE SET NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"agent_messages", `CREATE TABLE IF NOT EXISTS agent_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES agent_sessions(id) ON DELETE CASCADE,
		role TEXT NOT NULL CHECK (role IN ('user','assistant','tool','system')),
		content TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"agent_actions", `CREATE TABLE IF NOT EXISTS agent_actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES agent_sessions(id) ON DELETE CASCADE,
		message_id INTEGER REFERENCES agent_messages(id) ON DELETE SET NULL,
		tool_name TEXT NOT NULL,
		arguments BLOB,
		outcome TEXT,
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','success','failure')),
		duration_ms INTEGER,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"agent_episodes", `CREATE TABLE IF NOT EXISTS agent_episodes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES agent_sessions(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		summary TEXT,
		status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active','closed')),
		start_time DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		end_time DATETIME
	)`},
	{"agent_epochs", `CREATE TABLE IF NOT EXISTS agent_epochs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES agent_sessions(id) ON DELETE CASCADE,
		summary TEXT NOT NULL,
		start_message_id INTEGER NOT NULL,
		end_message_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CHECK (end_message_id >= start_message_id)
	)`},
	{"agent_knowledge_base", `CREATE TABLE IF NOT EXISTS agent_knowledge_base (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity TEXT NOT NULL,
		fact TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0.5 CHECK (confidence >= 0 AND confidence <= 1),
		source_session_id INTEGER REFERENCES agent_sessions(id) ON DELETE SET NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}',
		challenge_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"agent_knowledge_links", `CREATE TABLE IF NOT EXISTS agent_knowledge_links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id INTEGER NOT NULL REFERENCES agent_knowledge_base(id) ON DELETE CASCADE,
		target_id INTEGER NOT NULL REFERENCES agent_knowledge_base(id) ON DELETE CASCADE,
		relationship TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"agent_memory_vectors", `CREATE TABLE IF NOT EXISTS agent_memory_vectors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER REFERENCES agent_sessions(id) ON DELETE SET NULL,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"agent_capabilities", `CREATE TABLE IF NOT EXISTS agent_capabilities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'experimental' CHECK (status IN ('experimental','sandbox','promoted','deprecated')),
		reliability REAL NOT NULL DEFAULT 0.5 CHECK (reliability >= 0 AND reliability <= 1),
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (name, version)
	)`},
	{"agent_policies", `CREATE TABLE IF NOT EXISTS agent_policies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL CHECK (type IN ('allow','deny','guard','rate_limit')),
		definition TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"agent_rituals", `CREATE TABLE IF NOT EXISTS agent_rituals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL CHECK (type IN ('compression','pruning','evolution','reindex','probe')),
		definition TEXT NOT NULL DEFAULT '{}',
		frequency TEXT NOT NULL DEFAULT 'manual' CHECK (frequency IN ('hourly','daily','weekly','manual')),
		last_run DATETIME,
		next_run DATETIME,
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','running','succeeded','failed')),
		metadata TEXT NOT NULL DEFAULT '{}'
	)`},
	{"agent_rules", `CREATE TABLE IF NOT EXISTS agent_rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		table_name TEXT NOT NULL,
		operation TEXT NOT NULL CHECK (operation IN ('insert','update','delete','select')),
		action TEXT NOT NULL,
		script TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"agent_snapshots", `CREATE TABLE IF NOT EXISTS agent_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		dna TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"agent_logic_probes", `CREATE TABLE IF NOT EXISTS agent_logic_probes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		script TEXT NOT NULL,
		expected_outcome TEXT,
		last_run DATETIME,
		last_status TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"agent_resource_usage", `CREATE TABLE IF NOT EXISTS agent_resource_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES agent_sessions(id) ON DELETE CASCADE,
		agent_id TEXT,
		model_name TEXT NOT NULL,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cost REAL NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'USD',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"agent_reflections", `CREATE TABLE IF NOT EXISTS agent_reflections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES agent_sessions(id) ON DELETE CASCADE,
		episode_id INTEGER REFERENCES agent_episodes(id) ON DELETE SET NULL,
		outcome TEXT NOT NULL,
		lessons_learned TEXT NOT NULL DEFAULT '[]',
		suggested_actions TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"agent_goals", `CREATE TABLE IF NOT EXISTS agent_goals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER REFERENCES agent_sessions(id) ON DELETE CASCADE,
		description TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open','achieved','abandoned')),
		priority INTEGER NOT NULL DEFAULT 0,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"agent_mutations", `CREATE TABLE IF NOT EXISTS agent_mutations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ddl TEXT NOT NULL,
		inverse_ddl TEXT NOT NULL DEFAULT '',
		snapshot_id INTEGER REFERENCES agent_snapshots(id) ON DELETE SET NULL,
		state TEXT NOT NULL DEFAULT 'proposed' CHECK (state IN ('proposed','sandboxed','verifying','promoted','reverted','rejected')),
		reason TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{"agent_audit_log", `CREATE TABLE IF NOT EXISTS agent_audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor TEXT NOT NULL,
		event TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
}

var bootstrapIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_messages_session ON agent_messages(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_session ON agent_actions(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_episodes_session ON agent_episodes(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_epochs_session ON agent_epochs(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_kb_entity ON agent_knowledge_base(entity)`,
	`CREATE INDEX IF NOT EXISTS idx_links_source ON agent_knowledge_links(source_id)`,
	`CREATE INDEX IF NOT EXISTS idx_links_target ON agent_knowledge_links(target_id)`,
	`CREATE INDEX IF NOT EXISTS idx_vectors_session ON agent_memory_vectors(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_table_op ON agent_rules(table_name, operation)`,
	`CREATE INDEX IF NOT EXISTS idx_resources_session ON agent_resource_usage(session_id)`,
}

// columnMigrations adds columns to pre-existing databases created before the
// column landed. Missing tables are skipped quietly.
var columnMigrations = []struct {
	table, column, def string
}{
	{"agent_knowledge_base", "challenge_count", "INTEGER NOT NULL DEFAULT 0"},
	{"agent_sessions", "persona_id", "INTEGER REFERENCES agent_personas(id)"},
	{"agent_capabilities", "description", "TEXT"},
}

// Bootstrap idempotently creates the agentic tables, indexes, and the vec0
// virtual table when the extension is present. Tolerates pre-existing rows.
// Callers hold the path-keyed init lock across this.
func (s *Store) Bootstrap(ctx context.Context) error {
	timer := logging.StartTimer(logging.CategorySchema, "Store.Bootstrap")
	defer timer.Stop()

	for _, t := range bootstrapDDL {
		if _, err := s.conn.Exec(ctx, t.ddl); err != nil {
			return fmt.Errorf("bootstrap of %s failed: %w", t.name, err)
		}
	}
	for _, ddl := range bootstrapIndexes {
		if _, err := s.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("bootstrap index failed: %w", err)
		}
	}
	if err := s.runColumnMigrations(ctx); err != nil {
		return err
	}
	if s.vectorExt {
		ddl := fmt.Sprintf(
			`CREATE VIRTUAL TABLE IF NOT EXISTS vec_memory USING vec0(embedding float[%d])`,
			s.vectorDim)
		if _, err := s.conn.Exec(ctx, ddl); err != nil {
			logging.Get(logging.CategoryVector).Warn("vec0 table creation failed, disabling ANN: %v", err)
			s.vectorExt = false
		}
	}

	logging.Get(logging.CategorySchema).Info("bootstrap complete: %d tables ensured", len(bootstrapDDL))
	return nil
}

func (s *Store) runColumnMigrations(ctx context.Context) error {
	intr := storage.NewIntrospector(s.conn, nil, false)
	for _, m := range columnMigrations {
		exists, err := intr.HasTable(ctx, m.table)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		has, err := intr.HasColumn(ctx, m.table, m.column)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.table, m.column, m.def)
		if _, err := s.conn.Exec(ctx, ddl); err != nil {
			logging.Get(logging.CategorySchema).Warn("migration %s.%s failed: %v", m.table, m.column, err)
			continue
		}
		logging.Get(logging.CategorySchema).Info("migration applied: %s.%s", m.table, m.column)
	}
	return nil
}

// TableNames returns the bootstrap table list in creation order.
func TableNames() []string {
	names := make([]string, len(bootstrapDDL))
	for i, t := range bootstrapDDL {
		names[i] = t.name
	}
	return names
}
