package gen

import (
	"hash/fnv"
	"math"
	"math/rand"
	"time"
)

// Synthesizer produces field values for (measurement, host, timestamp)
// triples. Values are pure functions of the seed and those inputs, so
// identical runs produce identical documents regardless of how ticks
// are distributed across workers.
type Synthesizer struct {
	seed     int64
	start    time.Time
	interval time.Duration
}

// NewSynthesizer creates a synthesizer. start is tick 0 of the run's
// time sequence; interval is the spacing between ticks.
func NewSynthesizer(seed int64, start time.Time, interval time.Duration) *Synthesizer {
	return &Synthesizer{seed: seed, start: start, interval: interval}
}

// Step returns the tick index of ts relative to the sequence start.
func (s *Synthesizer) Step(ts time.Time) int64 {
	return int64(ts.Sub(s.start) / s.interval)
}

// Synthesize computes the field values for one measurement of one host
// at ts. The returned slice is aligned with m.Fields.
func (s *Synthesizer) Synthesize(m *Measurement, h *Host, ts time.Time) []float64 {
	step := s.Step(ts)
	values := make([]float64, len(m.Fields))
	for i := range m.Fields {
		def := &m.Fields[i]
		switch def.Kind {
		case KindGauge:
			values[i] = s.gauge(def, h, m.Name, ts, step)
		case KindCounter:
			values[i] = s.counter(def, h, m.Name, step)
		case KindChoice:
			values[i] = def.Choices[s.choiceIndex(def, h, m.Name)]
		case KindDerived:
			// filled by finalize
		}
	}
	if m.finalize != nil {
		m.finalize(s, h, values, m.Fields)
	}
	return values
}

// gauge is a seasonal base plus correlated bounded noise. The noise
// term averages this step's and the previous step's deviations, which
// keeps adjacent samples correlated without carrying walk state across
// workers.
func (s *Synthesizer) gauge(def *FieldDef, h *Host, meas string, ts time.Time, step int64) float64 {
	base := seasonal(ts, def.Base, def.Amplitude)
	n0 := s.deviation(def, h, meas, step-1)
	n1 := s.deviation(def, h, meas, step)
	return clamp(base+(n0+n1)/2, def.Lo, def.Hi)
}

// counter never decreases: jitter stays strictly below Rate, so each
// tick advances the value.
func (s *Synthesizer) counter(def *FieldDef, h *Host, meas string, step int64) float64 {
	rng := s.fieldRNG(def, h, meas, step)
	jitter := rng.Float64() * def.Rate * 0.99
	return math.Floor(def.Rate*float64(step) + jitter)
}

func (s *Synthesizer) deviation(def *FieldDef, h *Host, meas string, step int64) float64 {
	if def.Sigma == 0 {
		return 0
	}
	return s.fieldRNG(def, h, meas, step).NormFloat64() * def.Sigma
}

func (s *Synthesizer) choiceIndex(def *FieldDef, h *Host, meas string) int {
	return int(uint64(fieldSeed(s.seed, int64(h.ID), meas, def.Name, 0)) % uint64(len(def.Choices)))
}

func (s *Synthesizer) fieldRNG(def *FieldDef, h *Host, meas string, step int64) *rand.Rand {
	return rand.New(rand.NewSource(fieldSeed(s.seed, int64(h.ID), meas, def.Name, step)))
}

// seasonal applies a daily cycle peaking during business hours and a
// weekend dip, as DevOps workloads do.
func seasonal(ts time.Time, base, amplitude float64) float64 {
	t := ts.UTC()
	daily := 1 + amplitude*math.Sin(float64(t.Hour()-6)*math.Pi/12)
	weekly := 1.0
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		weekly = 0.7
	}
	return base * daily * weekly
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func fieldSeed(seed, hostID int64, meas, field string, step int64) int64 {
	h := fnv.New64a()
	var buf [8]byte
	putInt64(&buf, seed)
	_, _ = h.Write(buf[:])
	putInt64(&buf, hostID)
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(meas))
	_, _ = h.Write([]byte(field))
	putInt64(&buf, step)
	_, _ = h.Write(buf[:])
	return int64(h.Sum64())
}
