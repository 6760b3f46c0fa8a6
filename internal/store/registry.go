package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"mindcore/internal/fault"
	"mindcore/internal/logging"
)

// Capability is a registered skill. (name, version) is unique; reliability
// is a clamped moving score in [0,1].
type Capability struct {
	ID          int64
	Name        string
	Version     string
	Description *string
	Status      string // experimental | sandbox | promoted | deprecated
	Reliability float64
	Metadata    map[string]interface{}
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Policy is an advisory guard evaluated at API boundaries.
type Policy struct {
	ID         int64
	Name       string
	Type       string // allow | deny | guard | rate_limit
	Definition string
	Enabled    bool
	Metadata   map[string]interface{}
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Persona binds sessions to a durable identity.
type Persona struct {
	ID           int64
	Name         string
	Role         *string
	Capabilities []string
	Policies     []string
	Metadata     map[string]interface{}
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Goal is one durable objective, optionally scoped to a session.
type Goal struct {
	ID          int64
	SessionID   *int64
	Description string
	Status      string // open | achieved | abandoned
	Priority    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RegisterCapability inserts a skill at experimental status.
func (s *Store) RegisterCapability(ctx context.Context, name, version, description string) (*Capability, error) {
	const op = "store.RegisterCapability"
	res, err := s.conn.Exec(ctx,
		"INSERT INTO agent_capabilities (name, version, description, status, reliability) VALUES (?, ?, ?, 'experimental', 0.5)",
		name, version, description)
	if err != nil {
		return nil, fault.Wrap(fault.ErrIntegrityViolation, op, err)
	}
	id, _ := res.LastInsertId()
	logging.Get(logging.CategoryEvolution).Info("capability %s@%s registered (id=%d)", name, version, id)
	return s.GetCapability(ctx, id)
}

// GetCapability loads one skill.
func (s *Store) GetCapability(ctx context.Context, id int64) (*Capability, error) {
	const op = "store.GetCapability"
	row := s.conn.QueryRow(ctx,
		"SELECT id, name, version, description, status, reliability, metadata, created_at, updated_at FROM agent_capabilities WHERE id = ?", id)
	var c Capability
	var meta string
	err := row.Scan(&c.ID, &c.Name, &c.Version, &c.Description, &c.Status, &c.Reliability, &meta, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.ErrIntegrityViolation, op, "capability %d does not exist", id)
	}
	if err != nil {
		return nil, fault.Wrap(fault.ErrIO, op, err)
	}
	c.Metadata = unmarshalMeta(meta)
	return &c, nil
}

// capabilityTransitions encodes the legal status moves. deprecated is
// terminal.
var capabilityTransitions = map[string]map[string]bool{
	"experimental": {"sandbox": true, "deprecated": true},
	"sandbox":      {"promoted": true, "experimental": true, "deprecated": true},
	"promoted":     {"deprecated": true},
	"deprecated":   {},
}

// TransitionCapability moves a skill through its lifecycle.
func (s *Store) TransitionCapability(ctx context.Context, id int64, to string) error {
	const op = "store.TransitionCapability"
	c, err := s.GetCapability(ctx, id)
	if err != nil {
		return err
	}
	if !capabilityTransitions[c.Status][to] {
		return fault.New(fault.ErrIntegrityViolation, op, "capability %d cannot move %s -> %s", id, c.Status, to)
	}
	_, err = s.conn.Exec(ctx,
		"UPDATE agent_capabilities SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", to, id)
	if err == nil {
		logging.Get(logging.CategoryEvolution).Info("capability %d: %s -> %s", id, c.Status, to)
	}
	return err
}

// ObserveCapability folds one success/failure observation into reliability
// with an exponential moving average (weight 0.2), clamped to [0,1].
func (s *Store) ObserveCapability(ctx context.Context, id int64, success bool) error {
	c, err := s.GetCapability(ctx, id)
	if err != nil {
		return err
	}
	obs := 0.0
	if success {
		obs = 1.0
	}
	updated := clamp01(0.8*c.Reliability+0.2*obs, "reliability")
	_, err = s.conn.Exec(ctx,
		"UPDATE agent_capabilities SET reliability = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", updated, id)
	return err
}

// CapabilitiesByStatus lists skills at a given lifecycle stage.
func (s *Store) CapabilitiesByStatus(ctx context.Context, status string) ([]Capability, error) {
	rows, err := s.conn.Query(ctx,
		"SELECT id, name, version, description, status, reliability, metadata, created_at, updated_at FROM agent_capabilities WHERE status = ? ORDER BY id",
		status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Capability
	for rows.Next() {
		var c Capability
		var meta string
		if err := rows.Scan(&c.ID, &c.Name, &c.Version, &c.Description, &c.Status, &c.Reliability, &meta, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Metadata = unmarshalMeta(meta)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertPolicy creates or replaces a named policy.
func (s *Store) UpsertPolicy(ctx context.Context, name, ptype, definition string, enabled bool) (*Policy, error) {
	const op = "store.UpsertPolicy"
	switch ptype {
	case "allow", "deny", "guard", "rate_limit":
	default:
		return nil, fault.New(fault.ErrIntegrityViolation, op, "unknown policy type %q", ptype)
	}
	en := 0
	if enabled {
		en = 1
	}
	_, err := s.conn.Exec(ctx,
		`INSERT INTO agent_policies (name, type, definition, enabled) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET type = excluded.type, definition = excluded.definition,
		 enabled = excluded.enabled, updated_at = CURRENT_TIMESTAMP`,
		name, ptype, definition, en)
	if err != nil {
		return nil, err
	}
	return s.GetPolicyByName(ctx, name)
}

// GetPolicyByName loads one policy.
func (s *Store) GetPolicyByName(ctx context.Context, name string) (*Policy, error) {
	const op = "store.GetPolicyByName"
	row := s.conn.QueryRow(ctx,
		"SELECT id, name, type, definition, enabled, metadata, created_at, updated_at FROM agent_policies WHERE name = ?", name)
	var p Policy
	var meta string
	var enabled int
	err := row.Scan(&p.ID, &p.Name, &p.Type, &p.Definition, &enabled, &meta, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.New(fault.ErrIntegrityViolation, op, "policy %q does not exist", name)
	}
	if err != nil {
		return nil, fault.Wrap(fault.ErrIO, op, err)
	}
	p.Enabled = enabled == 1
	p.Metadata = unmarshalMeta(meta)
	return &p, nil
}

// EnabledPolicies lists enabled policies in id order.
func (s *Store) EnabledPolicies(ctx context.Context) ([]Policy, error) {
	rows, err := s.conn.Query(ctx,
		"SELECT id, name, type, definition, enabled, metadata, created_at, updated_at FROM agent_policies WHERE enabled = 1 ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Policy
	for rows.Next() {
		var p Policy
		var meta string
		var enabled int
		if err := rows.Scan(&p.ID, &p.Name, &p.Type, &p.Definition, &enabled, &meta, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Enabled = enabled == 1
		p.Metadata = unmarshalMeta(meta)
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertPersona creates or updates a durable identity.
func (s *Store) UpsertPersona(ctx context.Context, name, role string, capabilities, policies []string) (*Persona, error) {
	capsJSON, _ := json.Marshal(capabilities)
	polsJSON, _ := json.Marshal(policies)
	_, err := s.conn.Exec(ctx,
		`INSERT INTO agent_personas (name, role, capabilities, policies) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET role = excluded.role, capabilities = excluded.capabilities,
		 policies = excluded.policies, updated_at = CURRENT_TIMESTAMP`,
		name, role, string(capsJSON), string(polsJSON))
	if err != nil {
		return nil, err
	}
	row := s.conn.QueryRow(ctx,
		"SELECT id, name, role, capabilities, policies, metadata, created_at, updated_at FROM agent_personas WHERE name = ?", name)
	var p Persona
	var caps, pols, meta string
	if err := row.Scan(&p.ID, &p.Name, &p.Role, &caps, &pols, &meta, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, fault.Wrap(fault.ErrIO, "store.UpsertPersona", err)
	}
	json.Unmarshal([]byte(caps), &p.Capabilities)
	json.Unmarshal([]byte(pols), &p.Policies)
	p.Metadata = unmarshalMeta(meta)
	return &p, nil
}

// AddGoal records an objective.
func (s *Store) AddGoal(ctx context.Context, sessionID *int64, description string, priority int) (int64, error) {
	res, err := s.conn.Exec(ctx,
		"INSERT INTO agent_goals (session_id, description, priority) VALUES (?, ?, ?)",
		sessionID, description, priority)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ResolveGoal marks a goal achieved or abandoned.
func (s *Store) ResolveGoal(ctx context.Context, id int64, status string) error {
	const op = "store.ResolveGoal"
	switch status {
	case "achieved", "abandoned":
	default:
		return fault.New(fault.ErrIntegrityViolation, op, "goal resolution must be achieved or abandoned")
	}
	res, err := s.conn.Exec(ctx,
		"UPDATE agent_goals SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = 'open'",
		status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.ErrIntegrityViolation, op, "goal %d is not open", id)
	}
	return nil
}
