// Package bloomgate is the probabilistic "might-exist" gate in front of
// knowledge ingestion. A negative answer is definitive (the fact was never
// seen); a positive answer falls through to semantic comparison.
package bloomgate

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"mindcore/internal/logging"
)

// Metrics counts gate decisions. SemanticConfirmations and FalsePositives
// are reported back by the distiller after the vector comparison resolves a
// positive answer.
type Metrics struct {
	BloomRejections       uint64 // might_contain == false, ingested directly
	SemanticConfirmations uint64 // positive confirmed as true duplicate
	FalsePositives        uint64 // positive refuted by semantic comparison
}

// Gate wraps a fixed-capacity Bloom filter with decision metrics.
// Safe for concurrent use; no lock is ever held across I/O.
type Gate struct {
	mu      sync.Mutex
	filter  *bloom.BloomFilter
	metrics Metrics
	n       uint
	fp      float64
}

// New sizes the filter for the expected item count at the target false
// positive rate.
func New(capacity uint, falsePositiveRate float64) *Gate {
	if capacity == 0 {
		capacity = 1_000_000
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	return &Gate{
		filter: bloom.NewWithEstimates(capacity, falsePositiveRate),
		n:      capacity,
		fp:     falsePositiveRate,
	}
}

// Fingerprint hashes (entity, normalized fact) deterministically. Fact
// normalization lowercases and collapses interior whitespace so trivially
// reformatted facts share a fingerprint.
func Fingerprint(entity, fact string) uint64 {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(entity))))
	h.Write([]byte{0})
	h.Write([]byte(normalizeFact(fact)))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

func normalizeFact(fact string) string {
	return strings.Join(strings.Fields(strings.ToLower(fact)), " ")
}

// MightContain reports whether the fingerprint may have been inserted.
// false is a definitive miss and is counted as a bloom rejection.
func (g *Gate) MightContain(fp uint64) bool {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], fp)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.filter.Test(buf[:]) {
		return true
	}
	g.metrics.BloomRejections++
	return false
}

// Insert registers a fingerprint.
func (g *Gate) Insert(fp uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], fp)

	g.mu.Lock()
	g.filter.Add(buf[:])
	g.mu.Unlock()
}

// ConfirmSemantic records that a positive answer was a true duplicate.
func (g *Gate) ConfirmSemantic() {
	g.mu.Lock()
	g.metrics.SemanticConfirmations++
	g.mu.Unlock()
}

// ConfirmFalsePositive records that a positive answer was refuted.
func (g *Gate) ConfirmFalsePositive() {
	g.mu.Lock()
	g.metrics.FalsePositives++
	g.mu.Unlock()
}

// Reset clears the filter and metrics, keeping the sizing parameters.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.filter = bloom.NewWithEstimates(g.n, g.fp)
	g.metrics = Metrics{}
	g.mu.Unlock()
	logging.Get(logging.CategoryBloom).Info("bloom gate reset (capacity=%d fp=%.4f)", g.n, g.fp)
}

// Metrics returns a point-in-time copy of the counters.
func (g *Gate) Metrics() Metrics {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.metrics
}
