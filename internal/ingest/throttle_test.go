package ingest

import (
	"testing"
	"time"
)

func newTestThrottle(t *testing.T) *Throttle {
	t.Helper()
	return NewThrottle(ThrottleConfig{
		MinBatch:       100,
		MaxBatch:       1000,
		InitialBatch:   200,
		MinConcurrency: 1,
		MaxConcurrency: 4,
		SuccessWindow:  5,
		GrowFactor:     1.5,
		ShrinkFactor:   0.5,
	})
}

func recordSuccesses(t *testing.T, th *Throttle, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		th.RecordSuccess(time.Millisecond)
	}
}

func recordFailures(t *testing.T, th *Throttle, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		th.RecordFailure()
	}
}

func TestThrottleInitialState(t *testing.T) {
	th := newTestThrottle(t)
	if th.BatchSize() != 200 {
		t.Errorf("initial batch = %d, want 200", th.BatchSize())
	}
	if th.Concurrency() != 4 {
		t.Errorf("initial concurrency = %d, want 4", th.Concurrency())
	}
	if th.CurrentState() != StateHealthy {
		t.Errorf("initial state = %s, want healthy", th.CurrentState())
	}
}

func TestThrottleGrowsAfterWindow(t *testing.T) {
	th := newTestThrottle(t)
	recordSuccesses(t, th, 4)
	if th.BatchSize() != 200 {
		t.Errorf("batch grew before the window completed: %d", th.BatchSize())
	}
	recordSuccesses(t, th, 1)
	if th.BatchSize() != 300 {
		t.Errorf("batch = %d after one window, want 300", th.BatchSize())
	}
}

func TestThrottleShrinksImmediatelyOnFailure(t *testing.T) {
	th := newTestThrottle(t)
	th.RecordFailure()
	if th.BatchSize() != 100 {
		t.Errorf("batch = %d after failure, want 100", th.BatchSize())
	}
	if th.CurrentState() != StateDegraded {
		t.Errorf("state = %s after failure, want degraded", th.CurrentState())
	}
}

func TestThrottleNeverLeavesBounds(t *testing.T) {
	th := newTestThrottle(t)
	for i := 0; i < 200; i++ {
		th.RecordSuccess(time.Millisecond)
		if b := th.BatchSize(); b < 100 || b > 1000 {
			t.Fatalf("batch %d escaped [100,1000]", b)
		}
		if c := th.Concurrency(); c < 1 || c > 4 {
			t.Fatalf("concurrency %d escaped [1,4]", c)
		}
	}
	for i := 0; i < 200; i++ {
		th.RecordFailure()
		if b := th.BatchSize(); b < 100 || b > 1000 {
			t.Fatalf("batch %d escaped [100,1000]", b)
		}
		if c := th.Concurrency(); c < 1 || c > 4 {
			t.Fatalf("concurrency %d escaped [1,4]", c)
		}
	}
}

func TestThrottleConcurrencyGrowsOnlyAtMaxBatch(t *testing.T) {
	th := NewThrottle(ThrottleConfig{
		MinBatch:       100,
		MaxBatch:       200,
		InitialBatch:   200,
		MinConcurrency: 1,
		MaxConcurrency: 3,
		SuccessWindow:  2,
	})
	th.concurrency.Store(1)
	recordSuccesses(t, th, 2)
	if th.BatchSize() != 200 {
		t.Errorf("batch moved off its ceiling: %d", th.BatchSize())
	}
	if th.Concurrency() != 2 {
		t.Errorf("concurrency = %d, want 2 once batch is pinned at max", th.Concurrency())
	}
}

func TestThrottleConcurrencyShrinksOnlyAtMinBatch(t *testing.T) {
	th := NewThrottle(ThrottleConfig{
		MinBatch:       100,
		MaxBatch:       1000,
		InitialBatch:   100,
		MinConcurrency: 1,
		MaxConcurrency: 4,
		SuccessWindow:  5,
	})
	th.RecordFailure()
	if th.Concurrency() != 2 {
		t.Errorf("concurrency = %d, want 2 after failure at min batch", th.Concurrency())
	}
	if th.BatchSize() != 100 {
		t.Errorf("batch moved below its floor: %d", th.BatchSize())
	}
}

func TestThrottleSaturationAndRecovery(t *testing.T) {
	th := NewThrottle(ThrottleConfig{
		MinBatch:       100,
		MaxBatch:       1000,
		InitialBatch:   100,
		MinConcurrency: 1,
		MaxConcurrency: 1,
		SuccessWindow:  3,
	})
	recordFailures(t, th, 3)
	if th.CurrentState() != StateSaturated {
		t.Fatalf("state = %s after sustained failures at floor, want saturated", th.CurrentState())
	}

	// One clean window per recovery level, no growth while recovering.
	recordSuccesses(t, th, 3)
	if th.CurrentState() != StateDegraded {
		t.Fatalf("state = %s, want degraded after one clean window", th.CurrentState())
	}
	recordSuccesses(t, th, 3)
	if th.CurrentState() != StateHealthy {
		t.Fatalf("state = %s, want healthy after second clean window", th.CurrentState())
	}
	if th.BatchSize() != 100 {
		t.Errorf("batch grew during recovery: %d", th.BatchSize())
	}
}

func TestThrottleLatencyStepsDown(t *testing.T) {
	th := NewThrottle(ThrottleConfig{
		MinBatch:       100,
		MaxBatch:       1000,
		InitialBatch:   400,
		MinConcurrency: 1,
		MaxConcurrency: 1,
		SuccessWindow:  2,
		ShrinkFactor:   0.5,
		MaxLatency:     10 * time.Millisecond,
	})
	th.RecordSuccess(time.Second)
	if th.BatchSize() != 400 {
		t.Errorf("batch moved before a full slow window: %d", th.BatchSize())
	}
	th.RecordSuccess(time.Second)
	if th.BatchSize() != 200 {
		t.Errorf("batch = %d after a slow window, want 200", th.BatchSize())
	}
	if th.CurrentState() != StateDegraded {
		t.Errorf("state = %s after sustained slow inserts, want degraded", th.CurrentState())
	}

	// Latency backpressure keeps stepping down while it persists.
	for i := 0; i < 8; i++ {
		th.RecordSuccess(time.Second)
	}
	if th.BatchSize() != 100 {
		t.Errorf("batch = %d after continued slow inserts, want floor 100", th.BatchSize())
	}
}

func TestThrottleRecoversWhenLatencyFalls(t *testing.T) {
	th := NewThrottle(ThrottleConfig{
		MinBatch:       100,
		MaxBatch:       1000,
		InitialBatch:   400,
		MinConcurrency: 1,
		MaxConcurrency: 1,
		SuccessWindow:  2,
		MaxLatency:     10 * time.Millisecond,
	})
	th.RecordSuccess(time.Second)
	th.RecordSuccess(time.Second)
	if th.CurrentState() != StateDegraded {
		t.Fatalf("state = %s, want degraded before recovery", th.CurrentState())
	}

	// Fast inserts decay the EWMA under the ceiling; a clean window then
	// recovers the state and growth resumes.
	for i := 0; i < 40; i++ {
		th.RecordSuccess(time.Millisecond)
	}
	if th.CurrentState() != StateHealthy {
		t.Errorf("state = %s after latency recovered, want healthy", th.CurrentState())
	}
	if th.BatchSize() <= 100 {
		t.Errorf("batch = %d, want growth after recovery", th.BatchSize())
	}
}

func TestThrottleStateString(t *testing.T) {
	if StateHealthy.String() != "healthy" || StateDegraded.String() != "degraded" || StateSaturated.String() != "saturated" {
		t.Error("unexpected state names")
	}
}
