package store

import (
	"context"
	"database/sql"
	"errors"

	"time"

	"mindcore/internal/fault"
	"mindcore/internal/logging"
)

// Session is one durable interaction context. Owns messages, actions,
// episodes, reflections, and resource rows; deletion cascades.
type Session struct {
	ID        int64
	Name      string
	Status    string // active | closed | archived
	PersonaID *int64
	Metadata  map[string]interface{}
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one immutable journal entry inside a session.
type Message struct {
	ID        int64
	SessionID int64
	Role      string // user | assistant | tool | system
	Content   string
	Metadata  map[string]interface{}
	CreatedAt time.Time
}

// OpenSession creates a new active session.
func (s *Store) OpenSession(ctx context.Context, name string, meta map[string]interface{}) (*Session, error) {
	const op = "store.OpenSession"
	if err := checkDeadline(ctx, op); err != nil {
		return nil, err
	}

	res, err := s.conn.Exec(ctx,
		"INSERT INTO agent_sessions (name, status, metadata) VALUES (?, 'active', ?)",
		name, marshalMeta(meta))
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fault.Wrap(fault.ErrIO, op, err)
	}
	logging.Get(logging.CategorySession).Info("session %d (%s) opened", id, name)
	return s.GetSession(ctx, id)
}

// GetSession loads one session by id.
func (s *Store) GetSession(ctx context.Context, id int64) (*Session, error) {
	const op = "store.GetSession"
	row := s.conn.QueryRow(ctx,
		"SELECT id, name, status, persona_id, metadata, created_at, updated_at FROM agent_sessions WHERE id = ?", id)

	var sess Session
	var meta string
	err := row.Scan(&sess.ID, &sess.Name, &sess.Status, &sess.PersonaID, &meta, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.ErrIntegrityViolation, op, "session %d does not exist", id)
	}
	if err != nil {
		return nil, fault.Wrap(fault.ErrIO, op, err)
	}
	sess.Metadata = unmarshalMeta(meta)
	return &sess, nil
}

// CloseSession transitions a session to closed. Terminal: closed and
// archived sessions cannot re-open.
func (s *Store) CloseSession(ctx context.Context, id int64) error {
	return s.transitionSession(ctx, id, "closed")
}

// ArchiveSession transitions a closed session to archived.
func (s *Store) ArchiveSession(ctx context.Context, id int64) error {
	return s.transitionSession(ctx, id, "archived")
}

func (s *Store) transitionSession(ctx context.Context, id int64, to string) error {
	const op = "store.transitionSession"
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case to == "closed" && sess.Status != "active":
		return fault.New(fault.ErrIntegrityViolation, op, "session %d is %s, cannot close", id, sess.Status)
	case to == "archived" && sess.Status == "archived":
		return fault.New(fault.ErrIntegrityViolation, op, "session %d already archived", id)
	}
	_, err = s.conn.Exec(ctx,
		"UPDATE agent_sessions SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", to, id)
	if err == nil {
		logging.Get(logging.CategorySession).Info("session %d -> %s", id, to)
	}
	return err
}

// DeleteSession removes a session; the engine cascades to its messages,
// actions, episodes, epochs, reflections, and resource rows.
func (s *Store) DeleteSession(ctx context.Context, id int64) error {
	_, err := s.conn.Exec(ctx, "DELETE FROM agent_sessions WHERE id = ?", id)
	return err
}

// SessionCount reports the number of sessions.
func (s *Store) SessionCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.conn.QueryRow(ctx, "SELECT COUNT(*) FROM agent_sessions").Scan(&n)
	return n, err
}

// requireActiveSession fails unless the session exists and is active.
func (s *Store) requireActiveSession(ctx context.Context, op string, id int64) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status != "active" {
		return fault.New(fault.ErrIntegrityViolation, op, "session %d is %s, not active", id, sess.Status)
	}
	return nil
}

// AppendMessage appends one immutable message to an active session.
func (s *Store) AppendMessage(ctx context.Context, sessionID int64, role, content string, meta map[string]interface{}) (*Message, error) {
	const op = "store.AppendMessage"
	if err := checkDeadline(ctx, op); err != nil {
		return nil, err
	}
	if err := s.requireActiveSession(ctx, op, sessionID); err != nil {
		return nil, err
	}
	switch role {
	case "user", "assistant", "tool", "system":
	default:
		return nil, fault.New(fault.ErrIntegrityViolation, op, "unknown role %q", role)
	}

	res, err := s.conn.Exec(ctx,
		"INSERT INTO agent_messages (session_id, role, content, metadata) VALUES (?, ?, ?, ?)",
		sessionID, role, content, marshalMeta(meta))
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	return &Message{ID: id, SessionID: sessionID, Role: role, Content: content, Metadata: meta, CreatedAt: nowUTC()}, nil
}

// Messages returns a session's messages in insertion order, bounded by limit
// (0 means all). Optionally restricted to an id range for epoch compression.
func (s *Store) Messages(ctx context.Context, sessionID int64, limit int) ([]Message, error) {
	q := "SELECT id, session_id, role, content, metadata, created_at FROM agent_messages WHERE session_id = ? ORDER BY id"
	args := []interface{}{sessionID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	return s.scanMessages(ctx, q, args...)
}

// MessageRange returns messages with from <= id <= to for one session.
func (s *Store) MessageRange(ctx context.Context, sessionID, from, to int64) ([]Message, error) {
	return s.scanMessages(ctx,
		"SELECT id, session_id, role, content, metadata, created_at FROM agent_messages WHERE session_id = ? AND id >= ? AND id <= ? ORDER BY id",
		sessionID, from, to)
}

func (s *Store) scanMessages(ctx context.Context, q string, args ...interface{}) ([]Message, error) {
	rows, err := s.conn.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var meta string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &meta, &m.CreatedAt); err != nil {
			return nil, fault.Wrap(fault.ErrIO, "store.scanMessages", err)
		}
		m.Metadata = unmarshalMeta(meta)
		out = append(out, m)
	}
	return out, rows.Err()
}
