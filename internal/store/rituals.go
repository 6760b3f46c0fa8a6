package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"mindcore/internal/fault"
)

// Ritual is one scheduled background task definition.
type Ritual struct {
	ID         int64
	Name       string
	Type       string // compression | pruning | evolution | reindex | probe
	Definition string
	Frequency  string // hourly | daily | weekly | manual
	LastRun    *time.Time
	NextRun    *time.Time
	Status     string // pending | running | succeeded | failed
	Metadata   map[string]interface{}
}

// Interval maps a frequency to its period. Manual rituals never self-arm.
func Interval(frequency string) time.Duration {
	switch frequency {
	case "hourly":
		return time.Hour
	case "daily":
		return 24 * time.Hour
	case "weekly":
		return 7 * 24 * time.Hour
	}
	return 0
}

// DefineRitual creates or updates a named ritual. A non-manual ritual with
// no next_run is armed to run immediately.
func (s *Store) DefineRitual(ctx context.Context, name, rtype, definition, frequency string) (*Ritual, error) {
	const op = "store.DefineRitual"
	switch rtype {
	case "compression", "pruning", "evolution", "reindex", "probe":
	default:
		return nil, fault.New(fault.ErrIntegrityViolation, op, "unknown ritual type %q", rtype)
	}
	switch frequency {
	case "hourly", "daily", "weekly", "manual":
	default:
		return nil, fault.New(fault.ErrIntegrityViolation, op, "unknown frequency %q", frequency)
	}
	if definition == "" {
		definition = "{}"
	}

	var nextRun interface{}
	if frequency != "manual" {
		nextRun = nowUTC()
	}
	_, err := s.conn.Exec(ctx,
		`INSERT INTO agent_rituals (name, type, definition, frequency, next_run, status) VALUES (?, ?, ?, ?, ?, 'pending')
		 ON CONFLICT(name) DO UPDATE SET type = excluded.type, definition = excluded.definition, frequency = excluded.frequency`,
		name, rtype, definition, frequency, nextRun)
	if err != nil {
		return nil, err
	}
	return s.GetRitualByName(ctx, name)
}

// GetRitualByName loads one ritual.
func (s *Store) GetRitualByName(ctx context.Context, name string) (*Ritual, error) {
	const op = "store.GetRitualByName"
	row := s.conn.QueryRow(ctx,
		"SELECT id, name, type, definition, frequency, last_run, next_run, status, metadata FROM agent_rituals WHERE name = ?", name)
	r, err := scanRitual(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.ErrIntegrityViolation, op, "ritual %q does not exist", name)
	}
	if err != nil {
		return nil, fault.Wrap(fault.ErrIO, op, err)
	}
	return r, nil
}

func scanRitual(row rowScanner) (*Ritual, error) {
	var r Ritual
	var meta string
	err := row.Scan(&r.ID, &r.Name, &r.Type, &r.Definition, &r.Frequency, &r.LastRun, &r.NextRun, &r.Status, &meta)
	if err != nil {
		return nil, err
	}
	r.Metadata = unmarshalMeta(meta)
	return &r, nil
}

// ReadyRituals lists rituals with next_run <= now that are not running,
// ordered for the cooperative scheduler (type priority, then id).
func (s *Store) ReadyRituals(ctx context.Context, now time.Time) ([]Ritual, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT id, name, type, definition, frequency, last_run, next_run, status, metadata
		 FROM agent_rituals
		 WHERE next_run IS NOT NULL AND next_run <= ? AND status != 'running'
		 ORDER BY CASE type
			WHEN 'probe' THEN 0
			WHEN 'compression' THEN 1
			WHEN 'pruning' THEN 2
			WHEN 'reindex' THEN 3
			WHEN 'evolution' THEN 4
			ELSE 5 END, id`,
		now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Ritual
	for rows.Next() {
		r, err := scanRitual(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// MarkRitualRunning transitions a ritual into running. Returns false when
// another scheduler instance won the race.
func (s *Store) MarkRitualRunning(ctx context.Context, id int64) (bool, error) {
	res, err := s.conn.Exec(ctx,
		"UPDATE agent_rituals SET status = 'running' WHERE id = ? AND status != 'running'", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// FinishRitual records the outcome and re-arms next_run from last_run plus
// the frequency interval. Manual rituals disarm.
func (s *Store) FinishRitual(ctx context.Context, id int64, succeeded bool, ranAt time.Time) error {
	r := "failed"
	if succeeded {
		r = "succeeded"
	}
	row := s.conn.QueryRow(ctx, "SELECT frequency FROM agent_rituals WHERE id = ?", id)
	var frequency string
	if err := row.Scan(&frequency); err != nil {
		return fault.Wrap(fault.ErrIO, "store.FinishRitual", err)
	}

	var nextRun interface{}
	if iv := Interval(frequency); iv > 0 {
		nextRun = ranAt.Add(iv)
	}
	_, err := s.conn.Exec(ctx,
		"UPDATE agent_rituals SET status = ?, last_run = ?, next_run = ? WHERE id = ?",
		r, ranAt, nextRun, id)
	return err
}

// ArmRitual forces next_run so a manual ritual can be ticked.
func (s *Store) ArmRitual(ctx context.Context, id int64, at time.Time) error {
	_, err := s.conn.Exec(ctx, "UPDATE agent_rituals SET next_run = ? WHERE id = ?", at, id)
	return err
}
