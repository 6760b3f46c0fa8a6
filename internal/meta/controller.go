// Package meta implements the meta-evolution controller: rolling outcome
// windows per ritual/skill, z-score regression detection, and feedback into
// the pilot's aggressiveness and verification window.
package meta

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"mindcore/internal/logging"
	"mindcore/internal/store"
)

// RollbackFunc reverts the most recently promoted mutation.
type RollbackFunc func(ctx context.Context) error

// Outcome is one observed execution.
type Outcome struct {
	Success bool
	Latency time.Duration
}

// window is a bounded ring of outcomes for one subject.
type window struct {
	outcomes []Outcome
	next     int
	filled   bool

	// Long-run baseline: running mean of every outcome evicted from the window.
	baselineRate  float64
	baselineCount int64
}

// Controller tunes mutation aggressiveness and the verification window from
// success-rate z-scores. Shared state is lock-protected; no lock is held
// across I/O.
type Controller struct {
	mu      sync.Mutex
	windows map[string]*window

	windowSize         int
	zThreshold         float64
	aggressiveness     float64
	verificationWindow int
	baseVerification   int

	st       *store.Store
	rollback RollbackFunc
}

// NewController builds the controller with its starting knobs.
func NewController(st *store.Store, rollback RollbackFunc, windowSize int, zThreshold, aggressiveness float64, verificationWindow int) *Controller {
	if windowSize <= 1 {
		windowSize = 50
	}
	return &Controller{
		windows:            make(map[string]*window),
		windowSize:         windowSize,
		zThreshold:         zThreshold,
		aggressiveness:     clamp01(aggressiveness),
		verificationWindow: verificationWindow,
		baseVerification:   verificationWindow,
		st:                 st,
		rollback:           rollback,
	}
}

// Aggressiveness reports the current mutation aggressiveness in [0,1].
func (c *Controller) Aggressiveness() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aggressiveness
}

// VerificationWindow reports the current verification window length.
func (c *Controller) VerificationWindow() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verificationWindow
}

// Observe folds one outcome into the subject's rolling window and reacts to
// the resulting z-score. Regression (negative beyond the threshold) lowers
// aggressiveness, extends verification, and triggers rollback of the most
// recently promoted mutation. Sustained health raises aggressiveness,
// monotonically, capped at 1.
func (c *Controller) Observe(ctx context.Context, subject string, o Outcome) {
	c.mu.Lock()
	w, ok := c.windows[subject]
	if !ok {
		w = &window{outcomes: make([]Outcome, c.windowSize)}
		c.windows[subject] = w
	}
	w.push(o)

	z, valid := w.zScore()
	var regressed, improved bool
	if valid {
		if z < -c.zThreshold {
			regressed = true
			c.aggressiveness = clamp01(c.aggressiveness * 0.5)
			c.verificationWindow *= 2
		} else if z > c.zThreshold {
			improved = true
			c.aggressiveness = clamp01(c.aggressiveness + 0.05)
			if c.verificationWindow > c.baseVerification {
				c.verificationWindow = c.baseVerification
			}
		}
	}
	agg := c.aggressiveness
	vw := c.verificationWindow
	c.mu.Unlock()

	// Reactions happen outside the lock: auditing and rollback are I/O.
	switch {
	case regressed:
		logging.Get(logging.CategoryMeta).Warn("%s regressed (z=%.2f): aggressiveness=%.2f verification_window=%d",
			subject, z, agg, vw)
		c.audit(ctx, "regression", subject, z, agg, vw)
		if c.rollback != nil {
			if err := c.rollback(ctx); err != nil {
				logging.Get(logging.CategoryMeta).Error("rollback after regression failed: %v", err)
			}
		}
	case improved:
		logging.Get(logging.CategoryMeta).Info("%s improving (z=%.2f): aggressiveness=%.2f", subject, z, agg)
		c.audit(ctx, "improvement", subject, z, agg, vw)
	}
}

func (c *Controller) audit(ctx context.Context, event, subject string, z, agg float64, vw int) {
	if c.st == nil {
		return
	}
	detail := fmt.Sprintf(`{"subject":%q,"zscore":%.4f,"aggressiveness":%.4f,"verification_window":%d}`,
		subject, z, agg, vw)
	if err := c.st.Audit(ctx, "meta-evolution", event, detail); err != nil {
		logging.Get(logging.CategoryMeta).Warn("audit write failed: %v", err)
	}
}

func (w *window) push(o Outcome) {
	// Fold the evicted outcome into the long-run baseline.
	if w.filled {
		old := w.outcomes[w.next]
		v := 0.0
		if old.Success {
			v = 1.0
		}
		w.baselineRate = (w.baselineRate*float64(w.baselineCount) + v) / float64(w.baselineCount+1)
		w.baselineCount++
	}
	w.outcomes[w.next] = o
	w.next = (w.next + 1) % len(w.outcomes)
	if w.next == 0 && !w.filled {
		w.filled = true
	}
}

// zScore compares the current window success-rate against the long-run
// baseline. Requires a full window and an established baseline.
func (w *window) zScore() (float64, bool) {
	if !w.filled || w.baselineCount < int64(len(w.outcomes)) {
		return 0, false
	}
	vals := make([]float64, len(w.outcomes))
	for i, o := range w.outcomes {
		if o.Success {
			vals[i] = 1
		}
	}
	mean := stat.Mean(vals, nil)
	sd := stat.StdDev(vals, nil)
	n := float64(len(vals))
	se := sd / math.Sqrt(n)
	if se == 0 {
		// Degenerate window: all outcomes identical. Direction still matters.
		switch {
		case mean > w.baselineRate:
			return math.Inf(1), true
		case mean < w.baselineRate:
			return math.Inf(-1), true
		default:
			return 0, true
		}
	}
	return (mean - w.baselineRate) / se, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
