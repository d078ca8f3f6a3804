// Package stats aggregates run counters across ingestion workers and
// reports progress and the end-of-run summary.
package stats

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/szibis/tsloadgen/internal/cardinality"
	"github.com/szibis/tsloadgen/internal/logging"
)

// latencyRingSize bounds percentile memory; old observations fall off.
const latencyRingSize = 4096

// Collector tracks document, batch and byte counters plus insert
// latencies. All methods are safe for concurrent use.
type Collector struct {
	mu sync.Mutex

	started time.Time

	docsAttempted int64
	docsConfirmed int64
	docsLost      int64

	batchesInserted int64
	batchesLost     int64
	retries         int64

	bytesWritten int64

	perMeasurement map[string]int64

	latencies  []time.Duration
	latencyPos int

	series cardinality.Tracker

	keyBuf []byte
}

// NewCollector creates a collector. tracker counts unique series keys;
// pass nil to disable series tracking.
func NewCollector(tracker cardinality.Tracker) *Collector {
	return &Collector{
		started:        time.Now(),
		perMeasurement: make(map[string]int64),
		latencies:      make([]time.Duration, 0, latencyRingSize),
		series:         tracker,
	}
}

// RecordAttempt counts documents handed to the sink, before the
// outcome is known.
func (c *Collector) RecordAttempt(docs int) {
	c.mu.Lock()
	c.docsAttempted += int64(docs)
	c.mu.Unlock()
}

// RecordBatch records one acknowledged batch.
func (c *Collector) RecordBatch(docs int, bytes int64, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docsConfirmed += int64(docs)
	c.batchesInserted++
	c.bytesWritten += bytes
	if len(c.latencies) < latencyRingSize {
		c.latencies = append(c.latencies, latency)
	} else {
		c.latencies[c.latencyPos] = latency
		c.latencyPos = (c.latencyPos + 1) % latencyRingSize
	}
}

// RecordLost records one batch dropped after exhausting retries.
func (c *Collector) RecordLost(docs int) {
	c.mu.Lock()
	c.docsLost += int64(docs)
	c.batchesLost++
	c.mu.Unlock()
}

// RecordRetry counts one retry attempt.
func (c *Collector) RecordRetry() {
	c.mu.Lock()
	c.retries++
	c.mu.Unlock()
}

// RecordDocument tracks per-measurement counts and the unique series
// key of one generated document.
func (c *Collector) RecordDocument(measurement string, seriesKey func(buf []byte) []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.perMeasurement[measurement]++
	if c.series != nil {
		c.keyBuf = seriesKey(c.keyBuf[:0])
		c.series.Add(c.keyBuf)
	}
}

// Report is a point-in-time snapshot of the collector.
type Report struct {
	Elapsed time.Duration

	DocsAttempted int64
	DocsConfirmed int64
	DocsLost      int64

	BatchesInserted int64
	BatchesLost     int64
	Retries         int64

	BytesWritten int64
	UniqueSeries int64

	DocsPerSecond float64
	MBPerSecond   float64

	LatencyP50 time.Duration
	LatencyP95 time.Duration
	LatencyP99 time.Duration

	PerMeasurement map[string]int64
}

// Snapshot computes the current report.
func (c *Collector) Snapshot() Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.started)
	r := Report{
		Elapsed:         elapsed,
		DocsAttempted:   c.docsAttempted,
		DocsConfirmed:   c.docsConfirmed,
		DocsLost:        c.docsLost,
		BatchesInserted: c.batchesInserted,
		BatchesLost:     c.batchesLost,
		Retries:         c.retries,
		BytesWritten:    c.bytesWritten,
		PerMeasurement:  make(map[string]int64, len(c.perMeasurement)),
	}
	for k, v := range c.perMeasurement {
		r.PerMeasurement[k] = v
	}
	if c.series != nil {
		r.UniqueSeries = c.series.Count()
	}

	secs := elapsed.Seconds()
	if secs > 0 {
		r.DocsPerSecond = float64(c.docsConfirmed) / secs
		r.MBPerSecond = float64(c.bytesWritten) / (1024 * 1024) / secs
	}

	if len(c.latencies) > 0 {
		sorted := make([]time.Duration, len(c.latencies))
		copy(sorted, c.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		r.LatencyP50 = percentile(sorted, 0.50)
		r.LatencyP95 = percentile(sorted, 0.95)
		r.LatencyP99 = percentile(sorted, 0.99)
	}
	return r
}

// percentile reads the p-quantile from an ascending slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// StartPeriodicLogging emits a progress line every interval until ctx
// is canceled. The returned function blocks until the logger exits.
func (c *Collector) StartPeriodicLogging(ctx context.Context, interval time.Duration) func() {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.LogProgress()
			}
		}
	}()
	return func() { <-done }
}

// LogProgress emits one progress line.
func (c *Collector) LogProgress() {
	r := c.Snapshot()
	logging.Info("progress", logging.F(
		"docs_confirmed", r.DocsConfirmed,
		"docs_lost", r.DocsLost,
		"batches", r.BatchesInserted,
		"retries", r.Retries,
		"docs_per_sec", r.DocsPerSecond,
		"mb_per_sec", r.MBPerSecond,
		"latency_p95_ms", r.LatencyP95.Milliseconds(),
		"unique_series", r.UniqueSeries,
		"elapsed_sec", int64(r.Elapsed.Seconds()),
	))
}

// LogSummary emits the end-of-run summary.
func (c *Collector) LogSummary() {
	r := c.Snapshot()
	fields := []interface{}{
		"docs_attempted", r.DocsAttempted,
		"docs_confirmed", r.DocsConfirmed,
		"docs_lost", r.DocsLost,
		"batches_inserted", r.BatchesInserted,
		"batches_lost", r.BatchesLost,
		"retries", r.Retries,
		"bytes_written", r.BytesWritten,
		"unique_series", r.UniqueSeries,
		"docs_per_sec", r.DocsPerSecond,
		"mb_per_sec", r.MBPerSecond,
		"latency_p50_ms", r.LatencyP50.Milliseconds(),
		"latency_p95_ms", r.LatencyP95.Milliseconds(),
		"latency_p99_ms", r.LatencyP99.Milliseconds(),
		"elapsed_sec", int64(r.Elapsed.Seconds()),
	}
	for _, m := range sortedKeys(r.PerMeasurement) {
		fields = append(fields, "docs_"+m, r.PerMeasurement[m])
	}
	logging.Info("run summary", logging.F(fields...))
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
