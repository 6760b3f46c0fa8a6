package storage

import (
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	got := Normalize("SELECT * FROM agent_sessions   WHERE id = 42 AND name = 'bob'")
	want := "SELECT * FROM agent_sessions WHERE id = ? AND name = ?"
	if got != want {
		t.Errorf("normalize mismatch:\n got: %s\nwant: %s", got, want)
	}
}

func TestRingBounds(t *testing.T) {
	r := NewCaptureRing(3)
	for i := 0; i < 5; i++ {
		r.Record("SELECT 1", time.Millisecond)
	}
	if r.Len() != 3 {
		t.Errorf("expected ring capped at 3, got %d", r.Len())
	}
}

func TestRingOrderOldestFirst(t *testing.T) {
	r := NewCaptureRing(2)
	r.Record("SELECT * FROM a", 0)
	r.Record("SELECT * FROM b", 0)
	r.Record("SELECT * FROM c", 0)

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
	if snap[0].Table != "b" || snap[1].Table != "c" {
		t.Errorf("unexpected order: %s, %s", snap[0].Table, snap[1].Table)
	}
}

func TestTableExtraction(t *testing.T) {
	r := NewCaptureRing(4)
	r.Record(`SELECT id FROM "agent_messages" WHERE session_id = 1`, 0)
	r.Record("UPDATE agent_goals SET priority = 1", 0)
	r.Record("INSERT INTO agent_actions (tool_name) VALUES ('x')", 0)

	snap := r.Snapshot()
	if snap[0].Table != "agent_messages" || snap[1].Table != "agent_goals" || snap[2].Table != "agent_actions" {
		t.Errorf("unexpected table extraction: %+v", snap)
	}
}
