package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"mindcore/internal/fault"
	"mindcore/internal/logging"
)

// Action is one append-only journal entry of a tool invocation. The outcome
// is filled exactly once on the transition out of pending.
type Action struct {
	ID         int64
	SessionID  int64
	MessageID  *int64
	ToolName   string
	Arguments  []byte
	Outcome    *string
	Status     string // pending | success | failure
	DurationMS *int64
	CreatedAt  time.Time
}

// AppendAction records a pending tool invocation. Fails unless the session
// is active.
func (s *Store) AppendAction(ctx context.Context, sessionID int64, tool string, args []byte, messageID *int64) (*Action, error) {
	const op = "store.AppendAction"
	if err := checkDeadline(ctx, op); err != nil {
		return nil, err
	}
	if err := s.requireActiveSession(ctx, op, sessionID); err != nil {
		return nil, err
	}

	res, err := s.conn.Exec(ctx,
		"INSERT INTO agent_actions (session_id, message_id, tool_name, arguments, status) VALUES (?, ?, ?, ?, 'pending')",
		sessionID, messageID, tool, args)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	logging.Get(logging.CategorySession).Debug("action %d (%s) appended to session %d", id, tool, sessionID)
	return &Action{
		ID:        id,
		SessionID: sessionID,
		MessageID: messageID,
		ToolName:  tool,
		Arguments: args,
		Status:    "pending",
		CreatedAt: nowUTC(),
	}, nil
}

// CompleteAction atomically transitions an action out of pending. A second
// completion fails with ActionAlreadyFinalized.
func (s *Store) CompleteAction(ctx context.Context, actionID int64, status, outcome string, durationMS int64) error {
	const op = "store.CompleteAction"
	if err := checkDeadline(ctx, op); err != nil {
		return err
	}
	switch status {
	case "success", "failure":
	default:
		return fault.New(fault.ErrIntegrityViolation, op, "terminal status must be success or failure, got %q", status)
	}

	// The status guard in the WHERE clause makes the transition atomic
	// under the engine's single-writer model.
	res, err := s.conn.Exec(ctx,
		"UPDATE agent_actions SET status = ?, outcome = ?, duration_ms = ? WHERE id = ? AND status = 'pending'",
		status, outcome, durationMS, actionID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fault.Wrap(fault.ErrIO, op, err)
	}
	if affected == 0 {
		if _, gerr := s.GetAction(ctx, actionID); gerr != nil {
			return gerr
		}
		return fault.New(fault.ErrActionAlreadyFinalized, op, "action %d already left pending", actionID)
	}
	logging.Get(logging.CategorySession).Debug("action %d finalized as %s (%dms)", actionID, status, durationMS)
	return nil
}

// GetAction loads one action.
func (s *Store) GetAction(ctx context.Context, id int64) (*Action, error) {
	const op = "store.GetAction"
	row := s.conn.QueryRow(ctx,
		"SELECT id, session_id, message_id, tool_name, arguments, outcome, status, duration_ms, created_at FROM agent_actions WHERE id = ?", id)

	var a Action
	err := row.Scan(&a.ID, &a.SessionID, &a.MessageID, &a.ToolName, &a.Arguments, &a.Outcome, &a.Status, &a.DurationMS, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.ErrIntegrityViolation, op, "action %d does not exist", id)
	}
	if err != nil {
		return nil, fault.Wrap(fault.ErrIO, op, err)
	}
	return &a, nil
}

// Actions returns a session's actions in insertion order.
func (s *Store) Actions(ctx context.Context, sessionID int64) ([]Action, error) {
	rows, err := s.conn.Query(ctx,
		"SELECT id, session_id, message_id, tool_name, arguments, outcome, status, duration_ms, created_at FROM agent_actions WHERE session_id = ? ORDER BY id",
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.ID, &a.SessionID, &a.MessageID, &a.ToolName, &a.Arguments, &a.Outcome, &a.Status, &a.DurationMS, &a.CreatedAt); err != nil {
			return nil, fault.Wrap(fault.ErrIO, "store.Actions", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
