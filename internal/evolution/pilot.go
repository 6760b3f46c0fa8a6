// Package evolution implements the pilot that carries candidate schema
// mutations through Proposed -> Sandboxed -> Verifying -> Promoted, with
// Rejected and Reverted exits. Promotion always flows through the DNA layer
// so every live mutation has a stored inverse.
package evolution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"mindcore/internal/dna"
	"mindcore/internal/fault"
	"mindcore/internal/logging"
	"mindcore/internal/storage"
	"mindcore/internal/store"
)

// Pilot drives mutation lifecycles.
type Pilot struct {
	st       *store.Store
	inverter *dna.Inverter
	conn     *storage.Conn

	sandboxSlots *semaphore.Weighted

	mu        sync.Mutex
	verifying map[int64]*verification
}

type verification struct {
	required  int
	succeeded int
	failed    int
	latencies []time.Duration
}

// NewPilot builds a pilot bounded to maxSandbox concurrent sandboxed
// mutations.
func NewPilot(st *store.Store, inverter *dna.Inverter, conn *storage.Conn, maxSandbox int) *Pilot {
	if maxSandbox <= 0 {
		maxSandbox = 4
	}
	return &Pilot{
		st:           st,
		inverter:     inverter,
		conn:         conn,
		sandboxSlots: semaphore.NewWeighted(int64(maxSandbox)),
		verifying:    make(map[int64]*verification),
	}
}

// Propose validates candidate DDL and records it as Proposed. Pre-flight
// failures move it straight to Rejected.
func (p *Pilot) Propose(ctx context.Context, ddl, reason string) (int64, error) {
	id, err := p.st.InsertMutation(ctx, ddl, reason)
	if err != nil {
		return 0, err
	}
	if _, perr := dna.ParseDDL(ddl); perr != nil {
		_ = p.st.SetMutationState(ctx, id, "rejected", "", nil)
		return id, perr
	}
	logging.Get(logging.CategoryEvolution).Info("mutation %d proposed: %s", id, reason)
	return id, nil
}

// Sandbox executes the candidate inside a transaction that is always rolled
// back and smoke-tests it there, so the live schema is left unchanged.
// Concurrency is capped by the sandbox semaphore.
func (p *Pilot) Sandbox(ctx context.Context, mutationID int64) error {
	const op = "evolution.Sandbox"

	if err := p.sandboxSlots.Acquire(ctx, 1); err != nil {
		return fault.Timeout(op, 0)
	}
	defer p.sandboxSlots.Release(1)

	m, err := p.st.GetMutation(ctx, mutationID)
	if err != nil {
		return err
	}
	if m.State != "proposed" {
		return fault.New(fault.ErrIntegrityViolation, op, "mutation %d is %s, expected proposed", mutationID, m.State)
	}

	parsed, err := dna.ParseDDL(m.DDL)
	if err != nil {
		_ = p.st.SetMutationState(ctx, mutationID, "rejected", "", nil)
		return err
	}

	if err := p.smokeTest(ctx, m.DDL, parsed); err != nil {
		_ = p.st.SetMutationState(ctx, mutationID, "rejected", "", nil)
		logging.Get(logging.CategoryEvolution).Warn("mutation %d failed sandbox: %v", mutationID, err)
		return err
	}

	if err := p.st.SetMutationState(ctx, mutationID, "sandboxed", "", nil); err != nil {
		return err
	}
	logging.Get(logging.CategoryEvolution).Info("mutation %d sandboxed", mutationID)
	return nil
}

// smokeTest executes the DDL as written against the live tables inside a
// transaction, probes the affected table, and rolls the transaction back.
// Names are not prefixed or copied into a separate namespace.
func (p *Pilot) smokeTest(ctx context.Context, ddl string, parsed *dna.ParsedDDL) error {
	tx, err := p.conn.DB.BeginTx(ctx, nil)
	if err != nil {
		return fault.Wrap(fault.ErrIO, "evolution.smokeTest", err)
	}
	// Always rolled back: the sandbox leaves no trace.
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fault.Wrap(fault.ErrMigrationFailed, "evolution.smokeTest", err)
	}

	// N-step smoke: the mutated object must answer a trivial query.
	probe := "SELECT 1"
	if parsed.Table != "" {
		probe = fmt.Sprintf("SELECT COUNT(*) FROM %q", parsed.Table)
	}
	var n int
	if err := tx.QueryRowContext(ctx, probe).Scan(&n); err != nil {
		return fault.Wrap(fault.ErrMigrationFailed, "evolution.smokeTest", err)
	}
	return nil
}

// BeginVerification moves a sandboxed mutation into Verifying with the
// given required window of shadowed successes.
func (p *Pilot) BeginVerification(ctx context.Context, mutationID int64, window int) error {
	const op = "evolution.BeginVerification"
	m, err := p.st.GetMutation(ctx, mutationID)
	if err != nil {
		return err
	}
	if m.State != "sandboxed" {
		return fault.New(fault.ErrIntegrityViolation, op, "mutation %d is %s, expected sandboxed", mutationID, m.State)
	}
	if window <= 0 {
		return fault.New(fault.ErrIntegrityViolation, op, "verification window must be positive")
	}
	if err := p.st.SetMutationState(ctx, mutationID, "verifying", "", nil); err != nil {
		return err
	}

	p.mu.Lock()
	p.verifying[mutationID] = &verification{required: window}
	p.mu.Unlock()
	return nil
}

// RecordShadow feeds one shadowed production operation into a verifying
// mutation. When the success count reaches the window, the mutation is
// promoted through the DNA layer. Returns the resulting state.
func (p *Pilot) RecordShadow(ctx context.Context, mutationID int64, success bool, latency time.Duration) (string, error) {
	p.mu.Lock()
	v, ok := p.verifying[mutationID]
	if !ok {
		p.mu.Unlock()
		return "", fault.New(fault.ErrIntegrityViolation, "evolution.RecordShadow", "mutation %d is not verifying", mutationID)
	}
	if success {
		v.succeeded++
	} else {
		v.failed++
	}
	v.latencies = append(v.latencies, latency)
	done := v.succeeded >= v.required
	failedOut := v.failed > v.required/2 && v.required > 1
	if done || failedOut {
		delete(p.verifying, mutationID)
	}
	p.mu.Unlock()

	switch {
	case failedOut:
		_ = p.st.SetMutationState(ctx, mutationID, "rejected", "", nil)
		logging.Get(logging.CategoryEvolution).Warn("mutation %d failed verification (%d failures)", mutationID, v.failed)
		return "rejected", nil
	case done:
		return p.promote(ctx, mutationID, v)
	default:
		return "verifying", nil
	}
}

// promote applies the mutation to the live schema via the DNA layer
// (snapshot + inverse persisted) and collapses the tracked mutation row
// onto the applied record.
func (p *Pilot) promote(ctx context.Context, mutationID int64, v *verification) (string, error) {
	if _, err := p.inverter.ApplyTracked(ctx, mutationID); err != nil {
		_ = p.st.SetMutationState(ctx, mutationID, "rejected", "", nil)
		return "", err
	}

	p95 := p95Latency(v.latencies)
	logging.Get(logging.CategoryEvolution).Info("mutation %d promoted (window=%d p95=%s)", mutationID, v.required, p95)
	return "promoted", nil
}

// Revert rolls back a promoted mutation through its stored inverse.
func (p *Pilot) Revert(ctx context.Context, mutationID int64) error {
	return p.inverter.Rollback(ctx, mutationID)
}

func p95Latency(ls []time.Duration) time.Duration {
	if len(ls) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(ls))
	copy(sorted, ls)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	idx := (len(sorted) * 95) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
