package rules

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"mindcore/internal/fault"
	"mindcore/internal/logging"
	"mindcore/internal/store"
)

// PolicyEngine is advisory at API boundaries: allow/deny/guard policies
// match operations by name prefix; rate_limit policies meter a token bucket
// per key.
type PolicyEngine struct {
	st *store.Store

	mu      sync.Mutex
	buckets map[string]*tokenBucket
	// now is swappable for bucket tests.
	now func() time.Time
}

// NewPolicyEngine wires the policy engine.
func NewPolicyEngine(st *store.Store) *PolicyEngine {
	return &PolicyEngine{
		st:      st,
		buckets: make(map[string]*tokenBucket),
		now:     time.Now,
	}
}

// rateLimitDef is the JSON shape of a rate_limit policy definition.
type rateLimitDef struct {
	Capacity int    `json:"capacity"`
	WindowMS int    `json:"window_ms"`
	Match    string `json:"match"` // operation prefix, empty matches all
}

// guardDef is the JSON shape of allow/deny/guard definitions.
type guardDef struct {
	Match string `json:"match"` // operation prefix, empty matches all
}

type tokenBucket struct {
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func (b *tokenBucket) take(now time.Time) bool {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Check evaluates enabled policies against an operation name and caller
// key. deny wins over allow; guard logs; rate_limit meters per (policy,
// key). Failure kinds: PolicyDeny, RateLimitExceeded.
func (p *PolicyEngine) Check(ctx context.Context, operation, key string) error {
	const op = "rules.PolicyCheck"

	policies, err := p.st.EnabledPolicies(ctx)
	if err != nil {
		return err
	}

	for _, pol := range policies {
		switch pol.Type {
		case "deny":
			var def guardDef
			json.Unmarshal([]byte(pol.Definition), &def)
			if matchesPrefix(operation, def.Match) {
				return fault.New(fault.ErrPolicyDeny, op, "policy %q denies %s", pol.Name, operation)
			}
		case "guard":
			var def guardDef
			json.Unmarshal([]byte(pol.Definition), &def)
			if matchesPrefix(operation, def.Match) {
				logging.Get(logging.CategoryPolicy).Info("guard %q observed %s by %s", pol.Name, operation, key)
			}
		case "rate_limit":
			var def rateLimitDef
			if err := json.Unmarshal([]byte(pol.Definition), &def); err != nil || def.Capacity <= 0 || def.WindowMS <= 0 {
				continue
			}
			if !matchesPrefix(operation, def.Match) {
				continue
			}
			if !p.takeToken(pol.Name, key, def) {
				return fault.New(fault.ErrRateLimitExceeded, op,
					"policy %q exhausted for key %q (capacity %d per %dms)",
					pol.Name, key, def.Capacity, def.WindowMS)
			}
		}
	}
	return nil
}

func (p *PolicyEngine) takeToken(policy, key string, def rateLimitDef) bool {
	bucketKey := policy + "\x00" + key

	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.buckets[bucketKey]
	if !ok {
		window := time.Duration(def.WindowMS) * time.Millisecond
		b = &tokenBucket{
			capacity:   float64(def.Capacity),
			tokens:     float64(def.Capacity),
			refillRate: float64(def.Capacity) / window.Seconds(),
			lastRefill: p.now(),
		}
		p.buckets[bucketKey] = b
	}
	return b.take(p.now())
}

func matchesPrefix(operation, prefix string) bool {
	if prefix == "" {
		return true
	}
	return len(operation) >= len(prefix) && operation[:len(prefix)] == prefix
}
