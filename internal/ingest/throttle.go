package ingest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/szibis/tsloadgen/internal/logging"
)

// State is the throttle controller's view of sink health.
type State int32

const (
	// StateHealthy: inserts succeed, batch size and concurrency may grow.
	StateHealthy State = iota
	// StateDegraded: recent failures, settings shrunk, growth suppressed
	// until a full clean window passes.
	StateDegraded
	// StateSaturated: failures persist at minimum batch size and
	// minimum concurrency. Nothing is left to shed.
	StateSaturated
)

func (s State) String() string {
	switch s {
	case StateDegraded:
		return "degraded"
	case StateSaturated:
		return "saturated"
	default:
		return "healthy"
	}
}

// ThrottleConfig holds configuration for the AIMD throttle controller.
type ThrottleConfig struct {
	// MinBatch is the batch size floor in documents (default: 100).
	MinBatch int
	// MaxBatch is the batch size ceiling in documents (default: 10000).
	MaxBatch int
	// InitialBatch is the starting batch size (default: 1000).
	InitialBatch int
	// MinConcurrency is the active worker floor (default: 1).
	MinConcurrency int
	// MaxConcurrency is the active worker ceiling (default: 4).
	MaxConcurrency int
	// SuccessWindow is the number of consecutive successes before one
	// growth step (default: 10).
	SuccessWindow int
	// GrowFactor is the multiplicative batch growth factor (default: 1.25).
	GrowFactor float64
	// ShrinkFactor is the multiplicative batch shrink factor on failure
	// (default: 0.5).
	ShrinkFactor float64
	// MaxLatency is the insert latency ceiling. While the latency EWMA
	// exceeds it growth stops, and a full window of over-threshold
	// successes steps the controller down into the degraded state
	// (default: 2s).
	MaxLatency time.Duration
}

func (c ThrottleConfig) withDefaults() ThrottleConfig {
	if c.MinBatch <= 0 {
		c.MinBatch = 100
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 10000
	}
	if c.MaxBatch < c.MinBatch {
		c.MaxBatch = c.MinBatch
	}
	if c.InitialBatch <= 0 {
		c.InitialBatch = 1000
	}
	if c.InitialBatch < c.MinBatch {
		c.InitialBatch = c.MinBatch
	}
	if c.InitialBatch > c.MaxBatch {
		c.InitialBatch = c.MaxBatch
	}
	if c.MinConcurrency <= 0 {
		c.MinConcurrency = 1
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.MaxConcurrency < c.MinConcurrency {
		c.MaxConcurrency = c.MinConcurrency
	}
	if c.SuccessWindow <= 0 {
		c.SuccessWindow = 10
	}
	if c.GrowFactor <= 1.0 {
		c.GrowFactor = 1.25
	}
	if c.ShrinkFactor <= 0 || c.ShrinkFactor >= 1.0 {
		c.ShrinkFactor = 0.5
	}
	if c.MaxLatency <= 0 {
		c.MaxLatency = 2 * time.Second
	}
	return c
}

// Throttle adapts batch size and worker concurrency to observed sink
// behavior using AIMD with hysteresis: one growth step needs a full
// window of consecutive successes, while any failure shrinks
// immediately. Batch size moves first in both directions; concurrency
// moves only when batch size is already pinned at its bound.
//
// BatchSize, Concurrency and CurrentState are lock-free atomic reads
// safe for concurrent use by workers.
type Throttle struct {
	batchSize   atomic.Int64
	concurrency atomic.Int32
	state       atomic.Int32
	latencyEWMA atomic.Int64 // nanoseconds

	mu              sync.Mutex
	consecutiveOK   int
	consecutiveFail int
	consecutiveSlow int

	cfg       ThrottleConfig
	ewmaAlpha float64
}

// NewThrottle creates the throttle controller.
func NewThrottle(cfg ThrottleConfig) *Throttle {
	cfg = cfg.withDefaults()
	t := &Throttle{cfg: cfg, ewmaAlpha: 0.3}
	t.batchSize.Store(int64(cfg.InitialBatch))
	t.concurrency.Store(int32(cfg.MaxConcurrency))
	throttleBatchSize.Set(float64(cfg.InitialBatch))
	throttleConcurrency.Set(float64(cfg.MaxConcurrency))
	throttleState.Set(0)

	logging.Info("throttle initialized", logging.F(
		"initial_batch", cfg.InitialBatch,
		"min_batch", cfg.MinBatch,
		"max_batch", cfg.MaxBatch,
		"min_concurrency", cfg.MinConcurrency,
		"max_concurrency", cfg.MaxConcurrency,
		"success_window", cfg.SuccessWindow,
	))
	return t
}

// BatchSize returns the current batch size in documents.
func (t *Throttle) BatchSize() int {
	return int(t.batchSize.Load())
}

// Concurrency returns how many workers may currently run.
func (t *Throttle) Concurrency() int {
	return int(t.concurrency.Load())
}

// CurrentState returns the controller state.
func (t *Throttle) CurrentState() State {
	return State(t.state.Load())
}

// LatencyEWMA returns the smoothed insert latency.
func (t *Throttle) LatencyEWMA() time.Duration {
	return time.Duration(t.latencyEWMA.Load())
}

// RecordSuccess records one acknowledged insert. After SuccessWindow
// consecutive successes under the latency ceiling the controller takes
// one growth step and, if degraded, recovers one state level. A full
// window of successes with the latency EWMA above MaxLatency counts as
// backpressure instead: one step down, degraded state.
func (t *Throttle) RecordSuccess(latency time.Duration) {
	t.recordLatency(latency)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecutiveFail = 0

	if time.Duration(t.latencyEWMA.Load()) > t.cfg.MaxLatency {
		t.consecutiveOK = 0
		t.consecutiveSlow++
		if t.consecutiveSlow < t.cfg.SuccessWindow {
			return
		}
		t.consecutiveSlow = 0
		if State(t.state.Load()) == StateHealthy {
			t.setState(StateDegraded)
		}
		logging.Warn("throttle: insert latency above ceiling, stepping down", logging.F(
			"latency_ewma_ms", time.Duration(t.latencyEWMA.Load()).Milliseconds(),
			"max_latency_ms", t.cfg.MaxLatency.Milliseconds(),
		))
		t.shrink()
		return
	}
	t.consecutiveSlow = 0

	t.consecutiveOK++
	if t.consecutiveOK < t.cfg.SuccessWindow {
		return
	}
	t.consecutiveOK = 0

	switch State(t.state.Load()) {
	case StateSaturated:
		t.setState(StateDegraded)
		return
	case StateDegraded:
		t.setState(StateHealthy)
		return
	}

	t.grow()
}

// RecordFailure records one failed insert attempt. The controller
// shrinks immediately and enters the degraded state; it declares
// saturation when failures continue for a full window with nothing
// left to shed.
func (t *Throttle) RecordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecutiveOK = 0
	t.consecutiveFail++

	atFloor := t.BatchSize() == t.cfg.MinBatch && t.Concurrency() == t.cfg.MinConcurrency
	if atFloor {
		if t.consecutiveFail >= t.cfg.SuccessWindow && State(t.state.Load()) != StateSaturated {
			t.setState(StateSaturated)
			logging.Warn("throttle saturated: failures persist at minimum settings", logging.F(
				"batch_size", t.cfg.MinBatch,
				"concurrency", t.cfg.MinConcurrency,
				"consecutive_failures", t.consecutiveFail,
			))
		}
		return
	}

	if State(t.state.Load()) == StateHealthy {
		t.setState(StateDegraded)
	}
	t.shrink()
}

// grow takes one step up: batch size by GrowFactor, then concurrency
// by one once the batch size is pinned at MaxBatch.
func (t *Throttle) grow() {
	current := t.batchSize.Load()
	if current < int64(t.cfg.MaxBatch) {
		next := int64(float64(current) * t.cfg.GrowFactor)
		if next <= current {
			next = current + 1
		}
		if next > int64(t.cfg.MaxBatch) {
			next = int64(t.cfg.MaxBatch)
		}
		t.batchSize.Store(next)
		throttleBatchSize.Set(float64(next))
		throttleAdjustmentsTotal.WithLabelValues("up").Inc()
		logging.Info("throttle: increased batch size", logging.F(
			"old_batch", current,
			"new_batch", next,
		))
		return
	}

	workers := t.concurrency.Load()
	if workers < int32(t.cfg.MaxConcurrency) {
		t.concurrency.Store(workers + 1)
		throttleConcurrency.Set(float64(workers + 1))
		throttleAdjustmentsTotal.WithLabelValues("up").Inc()
		logging.Info("throttle: increased concurrency", logging.F(
			"old_workers", workers,
			"new_workers", workers+1,
		))
	}
}

// shrink takes one step down: batch size by ShrinkFactor, then halve
// concurrency once the batch size is pinned at MinBatch.
func (t *Throttle) shrink() {
	current := t.batchSize.Load()
	if current > int64(t.cfg.MinBatch) {
		next := int64(float64(current) * t.cfg.ShrinkFactor)
		if next < int64(t.cfg.MinBatch) {
			next = int64(t.cfg.MinBatch)
		}
		t.batchSize.Store(next)
		throttleBatchSize.Set(float64(next))
		throttleAdjustmentsTotal.WithLabelValues("down").Inc()
		logging.Info("throttle: decreased batch size", logging.F(
			"old_batch", current,
			"new_batch", next,
		))
		return
	}

	workers := t.concurrency.Load()
	if workers > int32(t.cfg.MinConcurrency) {
		next := workers / 2
		if next < int32(t.cfg.MinConcurrency) {
			next = int32(t.cfg.MinConcurrency)
		}
		t.concurrency.Store(next)
		throttleConcurrency.Set(float64(next))
		throttleAdjustmentsTotal.WithLabelValues("down").Inc()
		logging.Info("throttle: decreased concurrency", logging.F(
			"old_workers", workers,
			"new_workers", next,
		))
	}
}

func (t *Throttle) setState(s State) {
	t.state.Store(int32(s))
	throttleState.Set(float64(s))
}

func (t *Throttle) recordLatency(d time.Duration) {
	ns := d.Nanoseconds()
	for {
		old := t.latencyEWMA.Load()
		if old == 0 {
			if t.latencyEWMA.CompareAndSwap(0, ns) {
				return
			}
			continue
		}
		next := int64(t.ewmaAlpha*float64(ns) + (1-t.ewmaAlpha)*float64(old))
		if t.latencyEWMA.CompareAndSwap(old, next) {
			return
		}
	}
}
