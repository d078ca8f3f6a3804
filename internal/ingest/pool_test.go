package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/szibis/tsloadgen/internal/cardinality"
	"github.com/szibis/tsloadgen/internal/gen"
	"github.com/szibis/tsloadgen/internal/sink"
	"github.com/szibis/tsloadgen/internal/stats"
)

var poolTestStart = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

// fakeSink counts inserts and injects failures by call number. With
// failFirst set, the first attempt of every batch is refused with a
// transient error; batches are told apart by their leading series key.
type fakeSink struct {
	mu      sync.Mutex
	inserts int
	docs    int
	keys    map[string]bool

	failCalls map[int]error // 1-based insert call -> error
	failFirst bool
	attempted map[string]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		keys:      make(map[string]bool),
		failCalls: make(map[int]error),
		attempted: make(map[string]bool),
	}
}

func (f *fakeSink) Insert(ctx context.Context, docs []gen.Document) (sink.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if err, ok := f.failCalls[f.inserts]; ok {
		return sink.Result{}, err
	}
	if f.failFirst && len(docs) > 0 {
		lead := string(docs[0].SeriesKey(nil))
		if !f.attempted[lead] {
			f.attempted[lead] = true
			return sink.Result{}, sink.Transient(errors.New("first attempt refused"))
		}
	}
	for i := range docs {
		key := string(docs[i].SeriesKey(nil))
		if f.keys[key] {
			return sink.Result{}, sink.Fatal(errors.New("duplicate series key " + key))
		}
		f.keys[key] = true
	}
	f.docs += len(docs)
	return sink.Result{Acknowledged: len(docs)}, nil
}

func (f *fakeSink) Close(context.Context) error { return nil }

func (f *fakeSink) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inserts, f.docs
}

type poolFixture struct {
	builder *gen.Builder
	seq     *gen.Sequencer
	hosts   []*gen.Host
	meas    []*gen.Measurement
}

// newPoolFixture builds a sequence with capacity hosts*ticks documents
// of the cpu measurement.
func newPoolFixture(t *testing.T, hostCount int, ticks int) poolFixture {
	t.Helper()
	interval := 10 * time.Second
	end := poolTestStart.Add(time.Duration(ticks) * interval)
	syn := gen.NewSynthesizer(42, poolTestStart, interval)
	return poolFixture{
		builder: gen.NewBuilder(syn, 0, 0, 42),
		seq:     gen.NewSequencer(poolTestStart, end, interval),
		hosts:   gen.NewHostCatalog(hostCount, 42),
		meas:    gen.CatalogSubset([]string{"cpu"}),
	}
}

func newTestPool(t *testing.T, snk sink.Sink, collector *stats.Collector, cfg PoolConfig) *Pool {
	t.Helper()
	throttle := NewThrottle(ThrottleConfig{
		MinBatch:       10,
		MaxBatch:       2000,
		InitialBatch:   1000,
		MinConcurrency: 1,
		MaxConcurrency: cfg.Workers,
		SuccessWindow:  10,
	})
	retrier := NewRetrier(RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		JitterFactor:   0,
	})
	return NewPool(cfg, throttle, retrier, snk, collector)
}

func TestPoolInsertsExactBudget(t *testing.T) {
	fx := newPoolFixture(t, 100, 200) // capacity 20000
	snk := newFakeSink()
	collector := stats.NewCollector(cardinality.NewHLLTracker())
	pool := newTestPool(t, snk, collector, PoolConfig{Workers: 4, TotalDocs: 10000})

	res, err := pool.Run(context.Background(), fx.builder, fx.seq, fx.hosts, fx.meas)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	_, docs := snk.counts()
	if docs != 10000 {
		t.Errorf("sink received %d docs, want exactly 10000", docs)
	}
	if res.DocsConfirmed != 10000 || res.DocsAttempted != 10000 {
		t.Errorf("confirmed=%d attempted=%d, want 10000/10000", res.DocsConfirmed, res.DocsAttempted)
	}
	if res.DocsLost != 0 || res.Aborted {
		t.Errorf("unexpected losses or abort: %+v", res)
	}
}

func TestPoolStopsWhenSequenceExhausted(t *testing.T) {
	fx := newPoolFixture(t, 2, 3) // capacity 6
	snk := newFakeSink()
	pool := newTestPool(t, snk, stats.NewCollector(nil), PoolConfig{Workers: 4, TotalDocs: 1000})

	res, err := pool.Run(context.Background(), fx.builder, fx.seq, fx.hosts, fx.meas)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	_, docs := snk.counts()
	if docs != 6 {
		t.Errorf("sink received %d docs, want full capacity 6", docs)
	}
	if res.DocsConfirmed != 6 {
		t.Errorf("confirmed = %d, want 6", res.DocsConfirmed)
	}
}

func TestPoolRetriesTransientFailure(t *testing.T) {
	fx := newPoolFixture(t, 50, 40) // capacity 2000
	snk := newFakeSink()
	snk.failCalls[1] = sink.Transient(errors.New("socket reset"))
	collector := stats.NewCollector(nil)
	pool := newTestPool(t, snk, collector, PoolConfig{Workers: 2, TotalDocs: 2000})

	res, err := pool.Run(context.Background(), fx.builder, fx.seq, fx.hosts, fx.meas)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.DocsConfirmed != 2000 {
		t.Errorf("confirmed = %d, want 2000 after retry", res.DocsConfirmed)
	}
	if res.Retries != 1 {
		t.Errorf("retries = %d, want 1", res.Retries)
	}
	if res.DocsLost != 0 {
		t.Errorf("lost = %d, want 0", res.DocsLost)
	}
}

func TestPoolRetriesEveryBatchOnce(t *testing.T) {
	fx := newPoolFixture(t, 50, 40) // capacity 2000
	snk := newFakeSink()
	snk.failFirst = true
	collector := stats.NewCollector(nil)
	pool := newTestPool(t, snk, collector, PoolConfig{Workers: 2, TotalDocs: 2000})

	res, err := pool.Run(context.Background(), fx.builder, fx.seq, fx.hosts, fx.meas)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.DocsConfirmed != 2000 || res.DocsLost != 0 {
		t.Errorf("confirmed=%d lost=%d, want 2000/0", res.DocsConfirmed, res.DocsLost)
	}
	if res.BatchesLost != 0 {
		t.Errorf("batches lost = %d, want 0", res.BatchesLost)
	}
	if res.Retries != res.BatchesInserted {
		t.Errorf("retries = %d, want one per inserted batch (%d)", res.Retries, res.BatchesInserted)
	}
}

func TestPoolFinishesAfterConcurrencyShrink(t *testing.T) {
	fx := newPoolFixture(t, 1, 10) // capacity 10
	snk := newFakeSink()
	snk.failCalls[1] = sink.Transient(errors.New("socket reset"))

	// Batch pinned at its bounds: the first failure halves concurrency
	// from 2 to 1 and it never recovers within the run. Both partitions
	// must still drain.
	throttle := NewThrottle(ThrottleConfig{
		MinBatch:       2,
		MaxBatch:       2,
		InitialBatch:   2,
		MinConcurrency: 1,
		MaxConcurrency: 2,
		SuccessWindow:  100,
	})
	retrier := NewRetrier(RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		JitterFactor:   0,
	})
	pool := NewPool(PoolConfig{Workers: 2, ParkPoll: time.Millisecond},
		throttle, retrier, snk, stats.NewCollector(nil))

	done := make(chan struct{})
	var res RunResult
	var runErr error
	go func() {
		defer close(done)
		res, runErr = pool.Run(context.Background(), fx.builder, fx.seq, fx.hosts, fx.meas)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run stuck after the throttle shrank concurrency below the worker count")
	}
	if runErr != nil {
		t.Fatalf("run: %v", runErr)
	}
	if throttle.Concurrency() != 1 {
		t.Fatalf("concurrency = %d, want 1 after the failure", throttle.Concurrency())
	}
	if res.DocsConfirmed != 10 {
		t.Errorf("confirmed = %d, want the full capacity 10", res.DocsConfirmed)
	}
}

func TestPoolCountsLostBatch(t *testing.T) {
	fx := newPoolFixture(t, 10, 10) // capacity 100
	snk := newFakeSink()
	// One batch worth of persistent transient failure: attempts 1-3
	// are the same batch under MaxAttempts=3.
	persistent := sink.Transient(errors.New("overloaded"))
	snk.failCalls[1] = persistent
	snk.failCalls[2] = persistent
	snk.failCalls[3] = persistent
	collector := stats.NewCollector(nil)
	pool := newTestPool(t, snk, collector, PoolConfig{Workers: 1, TotalDocs: 100})

	res, err := pool.Run(context.Background(), fx.builder, fx.seq, fx.hosts, fx.meas)
	if err != nil {
		t.Fatalf("lost batches must not fail the run: %v", err)
	}
	if res.BatchesLost != 1 {
		t.Errorf("batches lost = %d, want 1", res.BatchesLost)
	}
	if res.DocsLost == 0 {
		t.Error("lost documents not counted")
	}
	if res.DocsConfirmed+res.DocsLost != 100 {
		t.Errorf("confirmed %d + lost %d != 100", res.DocsConfirmed, res.DocsLost)
	}
}

func TestPoolAbortsOnFatalError(t *testing.T) {
	fx := newPoolFixture(t, 100, 200) // capacity 20000
	snk := newFakeSink()
	snk.failCalls[5] = sink.Fatal(errors.New("authentication failed"))
	pool := newTestPool(t, snk, stats.NewCollector(nil), PoolConfig{Workers: 2, TotalDocs: 20000})

	res, err := pool.Run(context.Background(), fx.builder, fx.seq, fx.hosts, fx.meas)
	if err == nil {
		t.Fatal("expected fatal error to surface")
	}
	var ie *sink.InsertError
	if !errors.As(err, &ie) || ie.IsTransient() {
		t.Errorf("expected fatal InsertError, got %v", err)
	}
	if !res.Aborted {
		t.Error("result not marked aborted")
	}
	if res.DocsConfirmed >= 20000 {
		t.Error("aborted run should not confirm the full budget")
	}
}

func TestPoolAbandonsOnCancel(t *testing.T) {
	fx := newPoolFixture(t, 100, 500) // capacity 50000
	snk := newFakeSink()
	pool := newTestPool(t, snk, stats.NewCollector(nil), PoolConfig{Workers: 2, TotalDocs: 50000, Drain: false})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res, err := pool.Run(ctx, fx.builder, fx.seq, fx.hosts, fx.meas)
	if err == nil && res.DocsConfirmed == 50000 {
		// The run won the race against cancellation; nothing to assert.
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestPoolDrainStopsCleanlyOnCancel(t *testing.T) {
	fx := newPoolFixture(t, 100, 500)
	snk := newFakeSink()
	pool := newTestPool(t, snk, stats.NewCollector(nil), PoolConfig{Workers: 2, TotalDocs: 50000, Drain: true})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res, err := pool.Run(ctx, fx.builder, fx.seq, fx.hosts, fx.meas)
	if err != nil {
		t.Fatalf("draining shutdown should not surface an error, got %v", err)
	}
	_ = res
}

func TestPoolNoDuplicateSeriesAcrossWorkers(t *testing.T) {
	fx := newPoolFixture(t, 7, 13) // capacity 91, odd shapes
	snk := newFakeSink()
	pool := newTestPool(t, snk, stats.NewCollector(nil), PoolConfig{Workers: 3})

	res, err := pool.Run(context.Background(), fx.builder, fx.seq, fx.hosts, fx.meas)
	if err != nil {
		// The fake sink turns duplicates into fatal errors.
		t.Fatalf("run: %v", err)
	}
	if res.DocsConfirmed != 91 {
		t.Errorf("confirmed = %d, want 91", res.DocsConfirmed)
	}
}
