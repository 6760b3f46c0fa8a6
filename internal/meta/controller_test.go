package meta

import (
	"context"
	"testing"
	"time"
)

func feed(c *Controller, subject string, n int, success bool) {
	for i := 0; i < n; i++ {
		c.Observe(context.Background(), subject, Outcome{Success: success, Latency: time.Millisecond})
	}
}

func TestRegressionLowersAggressivenessAndRollsBack(t *testing.T) {
	rollbacks := 0
	c := NewController(nil, func(context.Context) error {
		rollbacks++
		return nil
	}, 10, 2.0, 0.5, 50)

	// Establish a healthy baseline: fill the window and the baseline twice over.
	feed(c, "ritual:evolve", 30, true)
	if got := c.Aggressiveness(); got < 0.5 {
		t.Fatalf("aggressiveness dropped during healthy run: %f", got)
	}

	// Collapse: the window fills with failures against a perfect baseline.
	feed(c, "ritual:evolve", 10, false)

	if rollbacks == 0 {
		t.Fatal("expected regression to trigger rollback")
	}
	if got := c.Aggressiveness(); got >= 0.5 {
		t.Errorf("expected aggressiveness lowered, got %f", got)
	}
	if got := c.VerificationWindow(); got <= 50 {
		t.Errorf("expected verification window extended, got %d", got)
	}
}

func TestSustainedSuccessRaisesAggressivenessCapped(t *testing.T) {
	c := NewController(nil, nil, 10, 2.0, 0.9, 50)

	// Mixed baseline, then a perfect streak.
	for i := 0; i < 20; i++ {
		c.Observe(context.Background(), "s", Outcome{Success: i%2 == 0})
	}
	feed(c, "s", 40, true)

	got := c.Aggressiveness()
	if got < 0.9 {
		t.Errorf("expected monotonic increase, got %f", got)
	}
	if got > 1 {
		t.Errorf("expected cap at 1, got %f", got)
	}
}

func TestNoReactionBeforeBaselineEstablished(t *testing.T) {
	rollbacks := 0
	c := NewController(nil, func(context.Context) error {
		rollbacks++
		return nil
	}, 10, 2.0, 0.5, 50)

	// Fewer observations than window+baseline require: no verdict yet.
	feed(c, "s", 12, false)
	if rollbacks != 0 {
		t.Errorf("expected no rollback before baseline, got %d", rollbacks)
	}
}

func TestSubjectsIsolated(t *testing.T) {
	c := NewController(nil, nil, 10, 2.0, 0.5, 50)
	feed(c, "a", 30, true)
	feed(c, "b", 5, false)
	// b's partial window must not poison a's standing.
	if got := c.Aggressiveness(); got < 0.5 {
		t.Errorf("unexpected aggressiveness drop: %f", got)
	}
}
