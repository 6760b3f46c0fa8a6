package cache

import (
	"testing"
	"time"
)

func TestSetGetWithinTTL(t *testing.T) {
	c, err := New(10, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	c.Set("k", "v")
	v, ok := c.Get("k")
	if !ok || v != "v" {
		t.Fatalf("expected hit with v, got %v ok=%v", v, ok)
	}
	s := c.Stats()
	if s.Hits != 1 || s.Misses != 0 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestExpiryCountsAsMiss(t *testing.T) {
	c, err := New(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.SetTTL("k", 42, time.Second)
	now = now.Add(2 * time.Second)

	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expired entry to miss")
	}
	s := c.Stats()
	if s.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", s.Misses)
	}
	if s.Size != 0 {
		t.Errorf("expected expired entry purged, size=%d", s.Size)
	}
}

func TestLRUEvictionAtCapacityPlusOne(t *testing.T) {
	c, err := New(3, 0)
	if err != nil {
		t.Fatal(err)
	}
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// At exactly max_size nothing evicts.
	if c.Stats().Size != 3 || c.Stats().Evictions != 0 {
		t.Fatalf("unexpected state at capacity: %+v", c.Stats())
	}

	// One more evicts exactly the least-recently-used key.
	c.Set("d", 4)
	if _, ok := c.Get("a"); ok {
		t.Error("expected first-inserted key to be evicted")
	}
	s := c.Stats()
	if s.Size != 3 || s.Evictions != 1 {
		t.Errorf("expected one eviction, got %+v", s)
	}
}

func TestGetRefreshesRecency(t *testing.T) {
	c, err := New(2, 0)
	if err != nil {
		t.Fatal(err)
	}
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // a becomes most recent
	c.Set("c", 3)

	if _, ok := c.Get("a"); !ok {
		t.Error("expected refreshed key to survive")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("expected stale key to be evicted")
	}
}

func TestHitRateZeroWhenEmpty(t *testing.T) {
	c, _ := New(2, 0)
	if r := c.Stats().HitRate(); r != 0 {
		t.Errorf("expected zero hit rate, got %f", r)
	}
}

func TestDeleteAndClear(t *testing.T) {
	c, _ := New(4, 0)
	c.Set("a", 1)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("expected deleted key to miss")
	}
	c.Set("b", 2)
	c.Clear()
	if c.Stats().Size != 0 {
		t.Error("expected empty cache after clear")
	}
}
