// Package ritual implements the cooperative scheduler for background
// maintenance: compression, pruning, re-indexing, evolution, and probes.
// Ticks are caller-driven; ready rituals run to completion one at a time in
// priority order, and a failure never stops the rituals behind it.
package ritual

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"mindcore/internal/logging"
	"mindcore/internal/meta"
	"mindcore/internal/store"
)

// Runner executes one ritual type. The definition is the ritual's stored
// JSON configuration.
type Runner func(ctx context.Context, r store.Ritual) error

// Listener observes ritual completions.
type Listener func(r store.Ritual, err error, elapsed time.Duration)

// Orchestrator dispatches ready rituals on each tick.
type Orchestrator struct {
	st   *store.Store
	ctrl *meta.Controller

	mu        sync.Mutex
	runners   map[string]Runner
	listeners []Listener
	// now is swappable so tests can advance time.
	now func() time.Time
}

// NewOrchestrator builds a scheduler. ctrl may be nil; when present, every
// ritual outcome feeds the meta-evolution window.
func NewOrchestrator(st *store.Store, ctrl *meta.Controller) *Orchestrator {
	return &Orchestrator{
		st:      st,
		ctrl:    ctrl,
		runners: make(map[string]Runner),
		now:     time.Now,
	}
}

// Register binds a runner to a ritual type, replacing any previous one.
func (o *Orchestrator) Register(ritualType string, fn Runner) {
	o.mu.Lock()
	o.runners[ritualType] = fn
	o.mu.Unlock()
}

// Subscribe adds a completion listener.
func (o *Orchestrator) Subscribe(l Listener) {
	o.mu.Lock()
	o.listeners = append(o.listeners, l)
	o.mu.Unlock()
}

// TickResult summarizes one scheduler pass.
type TickResult struct {
	Ran       int
	Succeeded int
	Failed    int
	Skipped   int
}

// RunPending executes every ready ritual to completion, one at a time.
// Failures are recorded and do not stop subsequent rituals; a ritual failed
// this tick is not retried until its next scheduled run.
func (o *Orchestrator) RunPending(ctx context.Context) (TickResult, error) {
	timer := logging.StartTimer(logging.CategoryRitual, "RunPending")
	defer timer.Stop()

	now := o.now().UTC()
	ready, err := o.st.ReadyRituals(ctx, now)
	if err != nil {
		return TickResult{}, err
	}

	var res TickResult
	for _, r := range ready {
		select {
		case <-ctx.Done():
			logging.Get(logging.CategoryRitual).Warn("tick cancelled with %d rituals remaining", len(ready)-res.Ran)
			return res, nil
		default:
		}

		o.mu.Lock()
		runner, ok := o.runners[r.Type]
		o.mu.Unlock()
		if !ok {
			logging.Get(logging.CategoryRitual).Warn("no runner registered for ritual type %q, skipping %s", r.Type, r.Name)
			res.Skipped++
			continue
		}

		claimed, err := o.st.MarkRitualRunning(ctx, r.ID)
		if err != nil {
			return res, err
		}
		if !claimed {
			res.Skipped++
			continue
		}

		start := o.now()
		runErr := runSafely(ctx, runner, r)
		elapsed := o.now().Sub(start)

		ranAt := o.now().UTC()
		if err := o.st.FinishRitual(ctx, r.ID, runErr == nil, ranAt); err != nil {
			logging.Get(logging.CategoryRitual).Error("failed to record outcome of %s: %v", r.Name, err)
		}

		res.Ran++
		if runErr == nil {
			res.Succeeded++
			logging.Get(logging.CategoryRitual).Info("ritual %s succeeded in %s", r.Name, elapsed)
		} else {
			res.Failed++
			logging.Get(logging.CategoryRitual).Warn("ritual %s failed after %s: %v", r.Name, elapsed, runErr)
		}

		if o.ctrl != nil {
			o.ctrl.Observe(ctx, "ritual:"+r.Name, meta.Outcome{Success: runErr == nil, Latency: elapsed})
		}
		o.notify(r, runErr, elapsed)
	}
	return res, nil
}

func runSafely(ctx context.Context, runner Runner, r store.Ritual) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("ritual panicked: %v", p)
		}
	}()
	return runner(ctx, r)
}

func (o *Orchestrator) notify(r store.Ritual, err error, elapsed time.Duration) {
	o.mu.Lock()
	listeners := make([]Listener, len(o.listeners))
	copy(listeners, o.listeners)
	o.mu.Unlock()
	for _, l := range listeners {
		l(r, err, elapsed)
	}
}

// definition decodes a ritual's stored JSON config into dst, tolerating the
// empty object.
func definition(r store.Ritual, dst interface{}) error {
	if r.Definition == "" || r.Definition == "{}" {
		return nil
	}
	return json.Unmarshal([]byte(r.Definition), dst)
}
