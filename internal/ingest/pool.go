// Package ingest runs the parallel insert pipeline: a fixed worker
// pool pulling partitioned document streams, an AIMD throttle that
// adapts batch size and concurrency to sink behavior, and a bounded
// retry policy with lost-batch accounting.
package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/szibis/tsloadgen/internal/gen"
	"github.com/szibis/tsloadgen/internal/logging"
	"github.com/szibis/tsloadgen/internal/sink"
	"github.com/szibis/tsloadgen/internal/stats"
)

// PoolConfig holds configuration for the ingestion worker pool.
type PoolConfig struct {
	// Workers is the goroutine count and the partition count of the
	// document sequence (default: 4). The throttle bounds how many of
	// them insert at once; the partitioning never changes mid-run.
	Workers int
	// TotalDocs caps the run. 0 means the full sequence capacity.
	TotalDocs int64
	// ResumeOffset skips the first N documents of the global sequence,
	// letting an interrupted run continue where it stopped.
	ResumeOffset int64
	// Drain lets in-flight batches finish on shutdown instead of
	// aborting them.
	Drain bool
	// ParkPoll is how often a worker waiting for an insert slot
	// rechecks the concurrency limit (default: 100ms).
	ParkPoll time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ParkPoll <= 0 {
		c.ParkPoll = 100 * time.Millisecond
	}
	return c
}

// RunResult summarizes one pool run.
type RunResult struct {
	DocsAttempted   int64
	DocsConfirmed   int64
	DocsLost        int64
	BatchesInserted int64
	BatchesLost     int64
	Retries         int64
	Elapsed         time.Duration

	// Aborted is true when a fatal sink error or cancellation stopped
	// the run before the budget was spent; Cause carries the error.
	Aborted bool
	Cause   error
}

// Pool is the ingestion worker pool.
type Pool struct {
	cfg       PoolConfig
	throttle  *Throttle
	retrier   *Retrier
	sink      sink.Sink
	collector *stats.Collector

	budget atomic.Int64
	active atomic.Int32
}

// NewPool creates the pool. collector may be nil.
func NewPool(cfg PoolConfig, throttle *Throttle, retrier *Retrier, snk sink.Sink, collector *stats.Collector) *Pool {
	return &Pool{
		cfg:       cfg.withDefaults(),
		throttle:  throttle,
		retrier:   retrier,
		sink:      snk,
		collector: collector,
	}
}

// Run executes the ingestion until the document budget is spent, every
// partition is exhausted, a fatal sink error occurs, or ctx is
// canceled. Exactly budget documents are attempted when the sequence
// can supply them; the sum of all batch sizes never exceeds it.
func (p *Pool) Run(ctx context.Context, builder *gen.Builder, seq *gen.Sequencer, hosts []*gen.Host, meas []*gen.Measurement) (RunResult, error) {
	started := time.Now()

	probe := gen.NewCursor(builder, seq, hosts, meas, 1, 0)
	capacity := probe.Capacity() - p.cfg.ResumeOffset
	if capacity < 0 {
		capacity = 0
	}
	budget := p.cfg.TotalDocs
	if budget <= 0 || budget > capacity {
		budget = capacity
	}
	p.budget.Store(budget)

	logging.Info("ingestion starting", logging.F(
		"workers", p.cfg.Workers,
		"budget_docs", budget,
		"sequence_capacity", probe.Capacity(),
		"resume_offset", p.cfg.ResumeOffset,
		"batch_size", p.throttle.BatchSize(),
	))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		id := i
		cursor := gen.NewCursor(builder, seq, hosts, meas, p.cfg.Workers, id)
		cursor.Seek(p.cfg.ResumeOffset)
		g.Go(func() error {
			return p.worker(gctx, id, cursor)
		})
	}
	err := g.Wait()

	res := p.result(started)
	if err != nil {
		res.Aborted = true
		res.Cause = err
	}
	return res, err
}

func (p *Pool) result(started time.Time) RunResult {
	res := RunResult{Elapsed: time.Since(started)}
	if p.collector != nil {
		r := p.collector.Snapshot()
		res.DocsAttempted = r.DocsAttempted
		res.DocsConfirmed = r.DocsConfirmed
		res.DocsLost = r.DocsLost
		res.BatchesInserted = r.BatchesInserted
		res.BatchesLost = r.BatchesLost
		res.Retries = r.Retries
	}
	return res
}

// worker is one pool goroutine. It acquires an insert slot for each
// batch, claims documents from the shared budget and inserts them.
// Slots are held per batch, never per worker: a worker that finishes
// its partition frees its slot for whichever worker still has
// documents to produce, so a concurrency shrink can never strand a
// partition behind an exited worker.
func (p *Pool) worker(ctx context.Context, id int, cursor *gen.Cursor) error {
	for {
		if err := p.acquireSlot(ctx); err != nil {
			return p.shutdownErr(err)
		}

		claim := p.claim(int64(p.throttle.BatchSize()))
		if claim == 0 {
			p.releaseSlot()
			return nil
		}
		docs := cursor.NextBatch(int(claim))
		if unused := claim - int64(len(docs)); unused > 0 {
			// The partition ran out before the budget did; give the
			// rest back for other partitions to produce.
			p.refund(unused)
		}
		if len(docs) == 0 {
			p.releaseSlot()
			return nil
		}

		err := p.insertBatch(ctx, id, docs)
		p.releaseSlot()
		if err != nil {
			return err
		}
	}
}

// acquireSlot blocks until the number of in-flight batches is below
// the throttle's concurrency limit.
func (p *Pool) acquireSlot(ctx context.Context) error {
	for {
		cur := p.active.Load()
		if int(cur) < p.throttle.Concurrency() {
			if p.active.CompareAndSwap(cur, cur+1) {
				return nil
			}
			continue
		}
		timer := time.NewTimer(p.cfg.ParkPoll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (p *Pool) releaseSlot() {
	p.active.Add(-1)
}

// insertBatch writes one batch through the retry policy. A batch that
// exhausts its retries is dropped and counted, not re-queued; a fatal
// error aborts the whole run.
func (p *Pool) insertBatch(ctx context.Context, id int, docs []gen.Document) error {
	var bytes int64
	for i := range docs {
		bytes += int64(docs[i].SizeBytes())
	}
	if p.collector != nil {
		p.collector.RecordAttempt(len(docs))
		for i := range docs {
			p.collector.RecordDocument(docs[i].Measurement, docs[i].SeriesKey)
		}
	}

	insertCtx := ctx
	if p.cfg.Drain {
		// In-flight batches finish even after cancellation; the sink's
		// own timeout still bounds them.
		insertCtx = context.WithoutCancel(ctx)
	}

	_, err := p.retrier.Do(insertCtx,
		func(opCtx context.Context) error {
			t0 := time.Now()
			res, insErr := p.sink.Insert(opCtx, docs)
			latency := time.Since(t0)
			if insErr != nil {
				p.throttle.RecordFailure()
				return insErr
			}
			p.throttle.RecordSuccess(latency)
			insertLatencySeconds.Observe(latency.Seconds())
			batchesInsertedTotal.Inc()
			documentsInsertedTotal.Add(float64(res.Acknowledged))
			if p.collector != nil {
				p.collector.RecordBatch(res.Acknowledged, bytes, latency)
			}
			return nil
		},
		func(err error) bool {
			var ie *sink.InsertError
			return errors.As(err, &ie) && ie.IsTransient()
		},
		func(attempt int, err error, wait time.Duration) {
			insertRetriesTotal.Inc()
			if p.collector != nil {
				p.collector.RecordRetry()
			}
			logging.Warn("insert failed, retrying", logging.F(
				"worker", id,
				"attempt", attempt,
				"max_attempts", p.retrier.MaxAttempts(),
				"wait_ms", wait.Milliseconds(),
				"error", err.Error(),
			))
		},
	)
	if err == nil {
		return nil
	}

	var ie *sink.InsertError
	if errors.As(err, &ie) && !ie.IsTransient() {
		logging.Error("fatal sink error, aborting run", logging.F(
			"worker", id,
			"code", ie.Code,
			"error", err.Error(),
		))
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !p.cfg.Drain {
		return p.shutdownErr(ctxErr)
	}

	// Retry budget exhausted on a transient failure: drop the batch
	// and keep going.
	batchesLostTotal.Inc()
	documentsLostTotal.Add(float64(len(docs)))
	if p.collector != nil {
		p.collector.RecordLost(len(docs))
	}
	logging.Error("batch lost after exhausting retries", logging.F(
		"worker", id,
		"docs", len(docs),
		"error", err.Error(),
	))
	return nil
}

// shutdownErr maps cancellation onto the drain policy: draining runs
// stop cleanly, abandoning runs surface the cancellation.
func (p *Pool) shutdownErr(err error) error {
	if p.cfg.Drain {
		return nil
	}
	return err
}

// claim atomically takes up to n documents from the remaining budget.
func (p *Pool) claim(n int64) int64 {
	if n <= 0 {
		return 0
	}
	for {
		rem := p.budget.Load()
		if rem <= 0 {
			return 0
		}
		take := n
		if take > rem {
			take = rem
		}
		if p.budget.CompareAndSwap(rem, rem-take) {
			return take
		}
	}
}

// refund returns unproduced documents to the budget.
func (p *Pool) refund(n int64) {
	if n > 0 {
		p.budget.Add(n)
	}
}
