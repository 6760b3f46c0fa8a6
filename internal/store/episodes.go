package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mindcore/internal/fault"
	"mindcore/internal/logging"
)

// Episode is a named span of activity inside a session. end_time is set
// exactly once at closure and never precedes start_time.
type Episode struct {
	ID        int64
	SessionID int64
	Name      string
	Summary   *string
	Status    string // active | closed
	StartTime time.Time
	EndTime   *time.Time
}

// Epoch is a compressed summary of a contiguous message range. Ranges never
// overlap within a session.
type Epoch struct {
	ID             int64
	SessionID      int64
	Summary        string
	StartMessageID int64
	EndMessageID   int64
	CreatedAt      time.Time
}

// Summarizer condenses a message range into an epoch summary. The LLM-backed
// implementation lives with the caller; the default keeps the head and tail.
type Summarizer func(ctx context.Context, msgs []Message) (string, error)

// HeadTailSummarizer is the dependency-free default summarizer.
func HeadTailSummarizer(_ context.Context, msgs []Message) (string, error) {
	if len(msgs) == 0 {
		return "", nil
	}
	head := msgs[0].Content
	tail := msgs[len(msgs)-1].Content
	const max = 200
	if len(head) > max {
		head = head[:max]
	}
	if len(tail) > max {
		tail = tail[:max]
	}
	return fmt.Sprintf("%d messages; opened with: %s ... closed with: %s", len(msgs), strings.TrimSpace(head), strings.TrimSpace(tail)), nil
}

// StartEpisode opens an episode inside an active session.
func (s *Store) StartEpisode(ctx context.Context, sessionID int64, name string) (*Episode, error) {
	const op = "store.StartEpisode"
	if err := s.requireActiveSession(ctx, op, sessionID); err != nil {
		return nil, err
	}
	res, err := s.conn.Exec(ctx,
		"INSERT INTO agent_episodes (session_id, name, status) VALUES (?, ?, 'active')",
		sessionID, name)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	logging.Get(logging.CategorySession).Info("episode %d (%s) started in session %d", id, name, sessionID)
	return s.GetEpisode(ctx, id)
}

// CloseEpisode sets summary and end_time exactly once. Closed episodes
// cannot re-open; end_time >= start_time is enforced here.
func (s *Store) CloseEpisode(ctx context.Context, episodeID int64, summary string) error {
	const op = "store.CloseEpisode"
	ep, err := s.GetEpisode(ctx, episodeID)
	if err != nil {
		return err
	}
	if ep.Status != "active" {
		return fault.New(fault.ErrIntegrityViolation, op, "episode %d already closed", episodeID)
	}
	end := nowUTC()
	if end.Before(ep.StartTime) {
		end = ep.StartTime
	}
	_, err = s.conn.Exec(ctx,
		"UPDATE agent_episodes SET status = 'closed', summary = ?, end_time = ? WHERE id = ? AND status = 'active'",
		summary, end, episodeID)
	return err
}

// GetEpisode loads one episode.
func (s *Store) GetEpisode(ctx context.Context, id int64) (*Episode, error) {
	const op = "store.GetEpisode"
	row := s.conn.QueryRow(ctx,
		"SELECT id, session_id, name, summary, status, start_time, end_time FROM agent_episodes WHERE id = ?", id)

	var ep Episode
	err := row.Scan(&ep.ID, &ep.SessionID, &ep.Name, &ep.Summary, &ep.Status, &ep.StartTime, &ep.EndTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.ErrIntegrityViolation, op, "episode %d does not exist", id)
	}
	if err != nil {
		return nil, fault.Wrap(fault.ErrIO, op, err)
	}
	return &ep, nil
}

// Episodes lists a session's episodes in start order.
func (s *Store) Episodes(ctx context.Context, sessionID int64) ([]Episode, error) {
	rows, err := s.conn.Query(ctx,
		"SELECT id, session_id, name, summary, status, start_time, end_time FROM agent_episodes WHERE session_id = ? ORDER BY id",
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		var ep Episode
		if err := rows.Scan(&ep.ID, &ep.SessionID, &ep.Name, &ep.Summary, &ep.Status, &ep.StartTime, &ep.EndTime); err != nil {
			return nil, fault.Wrap(fault.ErrIO, "store.Episodes", err)
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// CompressRange condenses the message range [from, to] into an Epoch.
// Pre-conditions: the range is fully committed and does not overlap an
// existing epoch for the session. The insert and overlap check share one
// transaction so concurrent compressors cannot interleave.
func (s *Store) CompressRange(ctx context.Context, sessionID, from, to int64, summarize Summarizer) (*Epoch, error) {
	const op = "store.CompressRange"
	if err := checkDeadline(ctx, op); err != nil {
		return nil, err
	}
	if to < from {
		return nil, fault.New(fault.ErrIntegrityViolation, op, "range end %d precedes start %d", to, from)
	}
	if summarize == nil {
		summarize = HeadTailSummarizer
	}

	msgs, err := s.MessageRange(ctx, sessionID, from, to)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fault.New(fault.ErrIntegrityViolation, op, "range [%d,%d] holds no committed messages", from, to)
	}

	summary, err := summarize(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("summarizer failed: %w", err)
	}

	var epochID int64
	err = s.conn.Tx(ctx, func(tx *sql.Tx) error {
		var overlap int
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM agent_epochs WHERE session_id = ? AND start_message_id <= ? AND end_message_id >= ?",
			sessionID, to, from).Scan(&overlap)
		if err != nil {
			return err
		}
		if overlap > 0 {
			return fault.New(fault.ErrIntegrityViolation, op, "range [%d,%d] overlaps an existing epoch", from, to)
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO agent_epochs (session_id, summary, start_message_id, end_message_id) VALUES (?, ?, ?, ?)",
			sessionID, summary, from, to)
		if err != nil {
			return err
		}
		epochID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}

	logging.Get(logging.CategorySession).Info("epoch %d compressed messages [%d,%d] of session %d", epochID, from, to, sessionID)
	return &Epoch{ID: epochID, SessionID: sessionID, Summary: summary, StartMessageID: from, EndMessageID: to, CreatedAt: nowUTC()}, nil
}

// Epochs lists a session's epochs ordered by range start.
func (s *Store) Epochs(ctx context.Context, sessionID int64) ([]Epoch, error) {
	rows, err := s.conn.Query(ctx,
		"SELECT id, session_id, summary, start_message_id, end_message_id, created_at FROM agent_epochs WHERE session_id = ? ORDER BY start_message_id",
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Epoch
	for rows.Next() {
		var e Epoch
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Summary, &e.StartMessageID, &e.EndMessageID, &e.CreatedAt); err != nil {
			return nil, fault.Wrap(fault.ErrIO, "store.Epochs", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
