package bloomgate

import "testing"

func TestBloomSoundness(t *testing.T) {
	g := New(1000, 0.01)

	// Anything reported absent was genuinely never inserted.
	for i := 0; i < 100; i++ {
		fp := Fingerprint("entity", string(rune('a'+i%26))+"fact")
		g.Insert(fp)
	}
	inserted := Fingerprint("entity", "afact")
	if !g.MightContain(inserted) {
		t.Fatal("inserted fingerprint reported absent")
	}
}

func TestMissCountsRejection(t *testing.T) {
	g := New(1000, 0.01)
	fp := Fingerprint("arch", "WAL is 3x faster")
	if g.MightContain(fp) {
		t.Fatal("unexpected positive on empty filter")
	}
	if m := g.Metrics(); m.BloomRejections != 1 {
		t.Errorf("expected 1 rejection, got %d", m.BloomRejections)
	}
}

func TestFingerprintNormalization(t *testing.T) {
	a := Fingerprint("Arch", "WAL  is   3x faster")
	b := Fingerprint("arch", "wal is 3x faster")
	if a != b {
		t.Error("expected case and whitespace insensitive fingerprints to match")
	}
	c := Fingerprint("arch", "WAL is 4x faster")
	if a == c {
		t.Error("expected distinct facts to fingerprint differently")
	}
}

func TestReset(t *testing.T) {
	g := New(1000, 0.01)
	fp := Fingerprint("e", "f")
	g.Insert(fp)
	g.ConfirmSemantic()
	g.Reset()

	if g.MightContain(fp) {
		t.Error("expected reset filter to forget fingerprints")
	}
	// The miss above counts against the fresh metrics.
	if m := g.Metrics(); m.SemanticConfirmations != 0 || m.BloomRejections != 1 {
		t.Errorf("expected reset metrics, got %+v", m)
	}
}
