package ritual

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"mindcore/internal/config"
	"mindcore/internal/storage"
	"mindcore/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.Store) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Connection.Path = ":memory:"

	conn, err := storage.Open(cfg)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	st := store.New(conn, cfg)
	if err := st.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	return NewOrchestrator(st, nil), st
}

func TestHourlyRitualTick(t *testing.T) {
	o, st := newTestOrchestrator(t)
	ctx := context.Background()

	runs := 0
	o.Register("pruning", func(ctx context.Context, r store.Ritual) error {
		runs++
		return nil
	})

	if _, err := st.DefineRitual(ctx, "nightly-prune", "pruning", "{}", "hourly"); err != nil {
		t.Fatal(err)
	}

	// Pin the clock one hour ahead so the freshly-armed ritual is ready.
	base := time.Now().UTC().Add(time.Hour)
	o.now = func() time.Time { return base }

	res, err := o.RunPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Ran != 1 || res.Succeeded != 1 || runs != 1 {
		t.Fatalf("expected exactly one run, got %+v (runs=%d)", res, runs)
	}

	// Same tick again: next_run moved an hour out, nothing is ready.
	res, err = o.RunPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Ran != 0 || runs != 1 {
		t.Fatalf("expected no second run, got %+v (runs=%d)", res, runs)
	}

	r, err := st.GetRitualByName(ctx, "nightly-prune")
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != "succeeded" || r.LastRun == nil || r.NextRun == nil {
		t.Fatalf("unexpected ritual state: %+v", r)
	}
	if d := r.NextRun.Sub(*r.LastRun); d < 59*time.Minute || d > 61*time.Minute {
		t.Errorf("expected next_run = last_run + 1h, got %s", d)
	}
}

func TestFailureDoesNotStopSubsequentRituals(t *testing.T) {
	o, st := newTestOrchestrator(t)
	ctx := context.Background()

	var order []string
	o.Register("probe", func(ctx context.Context, r store.Ritual) error {
		order = append(order, r.Name)
		return errors.New("probe exploded")
	})
	o.Register("pruning", func(ctx context.Context, r store.Ritual) error {
		order = append(order, r.Name)
		return nil
	})

	st.DefineRitual(ctx, "health-probe", "probe", "{}", "hourly")
	st.DefineRitual(ctx, "prune", "pruning", "{}", "hourly")

	base := time.Now().UTC().Add(time.Hour)
	o.now = func() time.Time { return base }

	res, err := o.RunPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 || res.Succeeded != 1 {
		t.Fatalf("expected one failure and one success, got %+v", res)
	}
	// Probes run before pruning in priority order.
	if len(order) != 2 || order[0] != "health-probe" || order[1] != "prune" {
		t.Errorf("unexpected dispatch order: %v", order)
	}

	probe, _ := st.GetRitualByName(ctx, "health-probe")
	if probe.Status != "failed" {
		t.Errorf("expected failed status recorded, got %s", probe.Status)
	}
}

func TestPanickingRitualIsContained(t *testing.T) {
	o, st := newTestOrchestrator(t)
	ctx := context.Background()

	o.Register("probe", func(ctx context.Context, r store.Ritual) error {
		panic("probe lost its mind")
	})
	st.DefineRitual(ctx, "mad-probe", "probe", "{}", "hourly")

	base := time.Now().UTC().Add(time.Hour)
	o.now = func() time.Time { return base }

	res, err := o.RunPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 {
		t.Fatalf("expected contained panic as failure, got %+v", res)
	}
}

func TestManualRitualOnlyRunsWhenArmed(t *testing.T) {
	o, st := newTestOrchestrator(t)
	ctx := context.Background()

	runs := 0
	o.Register("compression", func(ctx context.Context, r store.Ritual) error {
		runs++
		return nil
	})
	r, _ := st.DefineRitual(ctx, "squash", "compression", "{}", "manual")

	base := time.Now().UTC()
	o.now = func() time.Time { return base }

	o.RunPending(ctx)
	if runs != 0 {
		t.Fatal("manual ritual ran without being armed")
	}

	st.ArmRitual(ctx, r.ID, base)
	o.RunPending(ctx)
	if runs != 1 {
		t.Fatalf("expected armed manual ritual to run once, got %d", runs)
	}

	// Manual rituals disarm after running.
	o.RunPending(ctx)
	if runs != 1 {
		t.Errorf("expected manual ritual to stay disarmed, got %d runs", runs)
	}
}

func TestListenerNotified(t *testing.T) {
	o, st := newTestOrchestrator(t)
	ctx := context.Background()

	o.Register("pruning", func(ctx context.Context, r store.Ritual) error { return nil })
	st.DefineRitual(ctx, "prune", "pruning", "{}", "daily")

	var seen []string
	o.Subscribe(func(r store.Ritual, err error, _ time.Duration) {
		seen = append(seen, r.Name)
	})

	base := time.Now().UTC().Add(time.Hour)
	o.now = func() time.Time { return base }
	o.RunPending(ctx)

	if len(seen) != 1 || seen[0] != "prune" {
		t.Errorf("expected listener notification, got %v", seen)
	}
}
