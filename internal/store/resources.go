package store

import (
	"context"
	"time"

	"mindcore/internal/logging"
)

// ResourceUsage is one token/cost accounting row.
type ResourceUsage struct {
	ID           int64
	SessionID    int64
	AgentID      *string
	ModelName    string
	InputTokens  int64
	OutputTokens int64
	Cost         float64
	Currency     string
	CreatedAt    time.Time
}

// ModelUsage aggregates tokens and cost for one model.
type ModelUsage struct {
	InputTokens  int64
	OutputTokens int64
	Cost         float64
}

// RecordUsage tallies token and cost consumption. Negative inputs clamp to
// zero with a warning; cost is never negative in the ledger.
func (s *Store) RecordUsage(ctx context.Context, sessionID int64, model string, inTok, outTok int64, cost float64, currency string, agentID *string) (int64, error) {
	const op = "store.RecordUsage"
	if err := checkDeadline(ctx, op); err != nil {
		return 0, err
	}
	if inTok < 0 {
		logging.Get(logging.CategoryStore).Warn("negative input tokens %d clamped to 0", inTok)
		inTok = 0
	}
	if outTok < 0 {
		logging.Get(logging.CategoryStore).Warn("negative output tokens %d clamped to 0", outTok)
		outTok = 0
	}
	if cost < 0 {
		logging.Get(logging.CategoryStore).Warn("negative cost %.4f clamped to 0", cost)
		cost = 0
	}
	if currency == "" {
		currency = "USD"
	}

	res, err := s.conn.Exec(ctx,
		"INSERT INTO agent_resource_usage (session_id, agent_id, model_name, input_tokens, output_tokens, cost, currency) VALUES (?, ?, ?, ?, ?, ?, ?)",
		sessionID, agentID, model, inTok, outTok, cost, currency)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// SessionTotalCost sums cost across one session.
func (s *Store) SessionTotalCost(ctx context.Context, sessionID int64) (float64, error) {
	var total float64
	err := s.conn.QueryRow(ctx,
		"SELECT COALESCE(SUM(cost), 0) FROM agent_resource_usage WHERE session_id = ?", sessionID).Scan(&total)
	return total, err
}

// GlobalTotalCost sums cost across all sessions.
func (s *Store) GlobalTotalCost(ctx context.Context) (float64, error) {
	var total float64
	err := s.conn.QueryRow(ctx,
		"SELECT COALESCE(SUM(cost), 0) FROM agent_resource_usage").Scan(&total)
	return total, err
}

// UsageByModel aggregates tokens and cost per model name.
func (s *Store) UsageByModel(ctx context.Context) (map[string]ModelUsage, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT model_name, COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost), 0)
		 FROM agent_resource_usage GROUP BY model_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]ModelUsage)
	for rows.Next() {
		var model string
		var u ModelUsage
		if err := rows.Scan(&model, &u.InputTokens, &u.OutputTokens, &u.Cost); err != nil {
			return nil, err
		}
		out[model] = u
	}
	return out, rows.Err()
}

// Audit appends one audit event. Meta-evolution adjustments and DNA
// mutations land here.
func (s *Store) Audit(ctx context.Context, actor, event, detail string) error {
	if detail == "" {
		detail = "{}"
	}
	_, err := s.conn.Exec(ctx,
		"INSERT INTO agent_audit_log (actor, event, detail) VALUES (?, ?, ?)",
		actor, event, detail)
	return err
}

// AuditEvents lists recent audit rows, newest first.
func (s *Store) AuditEvents(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(ctx,
		"SELECT actor || ': ' || event FROM agent_audit_log ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}
