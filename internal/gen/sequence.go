package gen

import (
	"time"
)

// Sequencer is a lazy, ordered sequence of timestamps in [start, end)
// stepped by interval. Ticks are indexed from 0.
type Sequencer struct {
	start    time.Time
	interval time.Duration
	ticks    int64
}

// NewSequencer creates a sequencer over [start, end) at interval.
func NewSequencer(start, end time.Time, interval time.Duration) *Sequencer {
	ticks := int64(end.Sub(start) / interval)
	if ticks < 0 {
		ticks = 0
	}
	return &Sequencer{start: start, interval: interval, ticks: ticks}
}

// Ticks returns the number of timestamps in the sequence.
func (s *Sequencer) Ticks() int64 { return s.ticks }

// Start returns tick 0.
func (s *Sequencer) Start() time.Time { return s.start }

// Interval returns the tick spacing.
func (s *Sequencer) Interval() time.Duration { return s.interval }

// At returns the timestamp of tick i.
func (s *Sequencer) At(i int64) time.Time {
	return s.start.Add(time.Duration(i) * s.interval)
}

// Cursor walks one worker's partition of the global document sequence
// in the fixed nested order: tick, then host, then measurement. With W
// workers, worker i owns ticks i, i+W, i+2W, ... so no two workers
// ever produce the same (host, measurement, timestamp) triple, while
// the union of all partitions is the full sequence.
type Cursor struct {
	builder *Builder
	seq     *Sequencer
	hosts   []*Host
	meas    []*Measurement

	workers int
	index   int

	tick    int64
	hostIdx int
	measIdx int
}

// NewCursor creates the cursor for partition index of workers. Pass
// workers=1, index=0 for the unpartitioned sequence.
func NewCursor(builder *Builder, seq *Sequencer, hosts []*Host, meas []*Measurement, workers, index int) *Cursor {
	if workers < 1 {
		workers = 1
	}
	return &Cursor{
		builder: builder,
		seq:     seq,
		hosts:   hosts,
		meas:    meas,
		workers: workers,
		index:   index,
		tick:    int64(index),
	}
}

// DocsPerTick returns how many documents one tick expands to.
func (c *Cursor) DocsPerTick() int64 {
	return int64(len(c.hosts)) * int64(len(c.meas))
}

// Capacity returns how many documents the full (unpartitioned)
// sequence can produce.
func (c *Cursor) Capacity() int64 {
	return c.seq.Ticks() * c.DocsPerTick()
}

// Next produces the next document of this partition. ok is false when
// the partition is exhausted.
func (c *Cursor) Next() (Document, bool) {
	if c.tick >= c.seq.Ticks() || len(c.hosts) == 0 || len(c.meas) == 0 {
		return Document{}, false
	}
	doc := c.builder.Build(c.hosts[c.hostIdx], c.meas[c.measIdx], c.seq.At(c.tick))
	c.advance()
	return doc, true
}

func (c *Cursor) advance() {
	c.measIdx++
	if c.measIdx < len(c.meas) {
		return
	}
	c.measIdx = 0
	c.hostIdx++
	if c.hostIdx < len(c.hosts) {
		return
	}
	c.hostIdx = 0
	c.tick += int64(c.workers)
}

// NextBatch pulls up to n documents. A short (or empty) batch means
// the partition is exhausted; that is not an error.
func (c *Cursor) NextBatch(n int) []Document {
	if n <= 0 {
		return nil
	}
	docs := make([]Document, 0, n)
	for len(docs) < n {
		doc, ok := c.Next()
		if !ok {
			break
		}
		docs = append(docs, doc)
	}
	return docs
}

// Seek positions the cursor as if the first globalOffset documents of
// the global (unpartitioned) sequence had already been produced, so an
// interrupted run can resume without regenerating earlier documents.
func (c *Cursor) Seek(globalOffset int64) {
	if globalOffset <= 0 {
		return
	}
	per := c.DocsPerTick()
	if per == 0 {
		return
	}
	fullTicks := globalOffset / per
	rem := globalOffset % per

	// First tick of this partition at or after fullTicks.
	first := int64(c.index)
	if fullTicks > first {
		n := (fullTicks - first + int64(c.workers) - 1) / int64(c.workers)
		first += n * int64(c.workers)
	}
	c.tick = first
	c.hostIdx = 0
	c.measIdx = 0

	// The partially consumed tick belongs to this partition: resume
	// inside it. first == fullTicks exactly when the tick is ours.
	if rem > 0 && first == fullTicks {
		c.hostIdx = int(rem / int64(len(c.meas)))
		c.measIdx = int(rem % int64(len(c.meas)))
	}
}
