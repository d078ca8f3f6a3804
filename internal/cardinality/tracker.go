// Package cardinality tracks unique generated series, where a series
// key is one (host, measurement, timestamp) triple. The estimating
// tracker feeds the stats snapshot; the membership tracker backs the
// dry-run uniqueness verifier.
package cardinality

import (
	"sync"

	"github.com/axiomhq/hyperloglog"
	"github.com/bits-and-blooms/bloom/v3"
)

// Tracker counts unique series keys.
type Tracker interface {
	// Add records a key. Returns true if the key was not seen before;
	// trackers without membership support always return true.
	Add(key []byte) bool

	// Count returns the (possibly estimated) number of unique keys.
	Count() int64
}

// HLLTracker estimates unique series with fixed memory using
// HyperLogLog. It cannot test membership, so Add always reports new.
type HLLTracker struct {
	mu     sync.Mutex
	sketch *hyperloglog.Sketch
}

// NewHLLTracker creates an estimating tracker.
func NewHLLTracker() *HLLTracker {
	return &HLLTracker{sketch: hyperloglog.New()}
}

// Add inserts the key into the sketch.
func (t *HLLTracker) Add(key []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sketch.Insert(key)
	return true
}

// Count returns the estimated unique key count. Estimate may mutate
// the sketch (sparse to dense promotion), so this takes the full lock.
func (t *HLLTracker) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int64(t.sketch.Estimate())
}

// BloomTracker tests membership with a Bloom filter sized for an
// expected key count. A false positive makes Add report a genuinely
// new key as seen, at the configured false-positive rate; it never
// reports a duplicate as new, which is the direction the uniqueness
// verifier cares about.
type BloomTracker struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	count  int64
}

// NewBloomTracker creates a membership tracker sized for expectedKeys
// at falsePositiveRate.
func NewBloomTracker(expectedKeys uint, falsePositiveRate float64) *BloomTracker {
	if expectedKeys == 0 {
		expectedKeys = 1_000_000
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.001
	}
	return &BloomTracker{filter: bloom.NewWithEstimates(expectedKeys, falsePositiveRate)}
}

// Add records the key, reporting whether it was new.
func (t *BloomTracker) Add(key []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.filter.Test(key) {
		return false
	}
	t.filter.Add(key)
	t.count++
	return true
}

// Count returns the number of distinct keys added.
func (t *BloomTracker) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}
