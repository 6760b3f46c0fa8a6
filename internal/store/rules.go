package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"mindcore/internal/fault"
)

// Rule is one table/operation-scoped guard evaluated by the rule engine.
type Rule struct {
	ID        int64
	TableName string
	Operation string // insert | update | delete | select
	Action    string // veto | annotate
	Script    string
	Enabled   bool
	Metadata  map[string]interface{}
	CreatedAt time.Time
}

// LogicProbe is a stored self-verification test.
type LogicProbe struct {
	ID              int64
	Name            string
	Script          string
	ExpectedOutcome *string
	LastRun         *time.Time
	LastStatus      *string
	Metadata        map[string]interface{}
	CreatedAt       time.Time
}

// Reflection condenses a terminated episode into lessons.
type Reflection struct {
	ID               int64
	SessionID        int64
	EpisodeID        *int64
	Outcome          string
	LessonsLearned   []string
	SuggestedActions []string
	CreatedAt        time.Time
}

// AddRule registers a guard for (table, operation).
func (s *Store) AddRule(ctx context.Context, table, operation, action, script string) (int64, error) {
	const op = "store.AddRule"
	switch operation {
	case "insert", "update", "delete", "select":
	default:
		return 0, fault.New(fault.ErrIntegrityViolation, op, "unknown operation %q", operation)
	}
	res, err := s.conn.Exec(ctx,
		"INSERT INTO agent_rules (table_name, operation, action, script) VALUES (?, ?, ?, ?)",
		table, operation, action, script)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RulesFor lists enabled rules for (table, operation) in id order, the
// evaluation order the rule engine guarantees.
func (s *Store) RulesFor(ctx context.Context, table, operation string) ([]Rule, error) {
	rows, err := s.conn.Query(ctx,
		"SELECT id, table_name, operation, action, script, enabled, metadata, created_at FROM agent_rules WHERE table_name = ? AND operation = ? AND enabled = 1 ORDER BY id",
		table, operation)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRules(rows)
}

// ActiveRules lists every enabled rule.
func (s *Store) ActiveRules(ctx context.Context) ([]Rule, error) {
	rows, err := s.conn.Query(ctx,
		"SELECT id, table_name, operation, action, script, enabled, metadata, created_at FROM agent_rules WHERE enabled = 1 ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRules(rows)
}

func scanRules(rows *sql.Rows) ([]Rule, error) {
	var out []Rule
	for rows.Next() {
		var r Rule
		var meta string
		var enabled int
		if err := rows.Scan(&r.ID, &r.TableName, &r.Operation, &r.Action, &r.Script, &enabled, &meta, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Enabled = enabled == 1
		r.Metadata = unmarshalMeta(meta)
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertProbe registers a named logic probe.
func (s *Store) UpsertProbe(ctx context.Context, name, script, expected string) (*LogicProbe, error) {
	_, err := s.conn.Exec(ctx,
		`INSERT INTO agent_logic_probes (name, script, expected_outcome) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET script = excluded.script, expected_outcome = excluded.expected_outcome`,
		name, script, expected)
	if err != nil {
		return nil, err
	}
	return s.GetProbe(ctx, name)
}

// GetProbe loads a probe by name.
func (s *Store) GetProbe(ctx context.Context, name string) (*LogicProbe, error) {
	const op = "store.GetProbe"
	row := s.conn.QueryRow(ctx,
		"SELECT id, name, script, expected_outcome, last_run, last_status, metadata, created_at FROM agent_logic_probes WHERE name = ?", name)
	var p LogicProbe
	var meta string
	err := row.Scan(&p.ID, &p.Name, &p.Script, &p.ExpectedOutcome, &p.LastRun, &p.LastStatus, &meta, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.ErrIntegrityViolation, op, "probe %q does not exist", name)
	}
	if err != nil {
		return nil, fault.Wrap(fault.ErrIO, op, err)
	}
	p.Metadata = unmarshalMeta(meta)
	return &p, nil
}

// Probes lists all probes.
func (s *Store) Probes(ctx context.Context) ([]LogicProbe, error) {
	rows, err := s.conn.Query(ctx,
		"SELECT id, name, script, expected_outcome, last_run, last_status, metadata, created_at FROM agent_logic_probes ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LogicProbe
	for rows.Next() {
		var p LogicProbe
		var meta string
		if err := rows.Scan(&p.ID, &p.Name, &p.Script, &p.ExpectedOutcome, &p.LastRun, &p.LastStatus, &meta, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Metadata = unmarshalMeta(meta)
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordProbeRun stores the latest probe outcome.
func (s *Store) RecordProbeRun(ctx context.Context, name, status string, at time.Time) error {
	_, err := s.conn.Exec(ctx,
		"UPDATE agent_logic_probes SET last_run = ?, last_status = ? WHERE name = ?", at, status, name)
	return err
}

// AddReflection stores a condensed episode review.
func (s *Store) AddReflection(ctx context.Context, sessionID int64, episodeID *int64, outcome string, lessons, suggestions []string) (int64, error) {
	lj, _ := json.Marshal(lessons)
	sj, _ := json.Marshal(suggestions)
	if lessons == nil {
		lj = []byte("[]")
	}
	if suggestions == nil {
		sj = []byte("[]")
	}
	res, err := s.conn.Exec(ctx,
		"INSERT INTO agent_reflections (session_id, episode_id, outcome, lessons_learned, suggested_actions) VALUES (?, ?, ?, ?, ?)",
		sessionID, episodeID, outcome, string(lj), string(sj))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Reflections lists a session's reflections in insertion order.
func (s *Store) Reflections(ctx context.Context, sessionID int64) ([]Reflection, error) {
	rows, err := s.conn.Query(ctx,
		"SELECT id, session_id, episode_id, outcome, lessons_learned, suggested_actions, created_at FROM agent_reflections WHERE session_id = ? ORDER BY id",
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reflection
	for rows.Next() {
		var r Reflection
		var lessons, suggestions string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.EpisodeID, &r.Outcome, &lessons, &suggestions, &r.CreatedAt); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(lessons), &r.LessonsLearned)
		json.Unmarshal([]byte(suggestions), &r.SuggestedActions)
		out = append(out, r)
	}
	return out, rows.Err()
}
