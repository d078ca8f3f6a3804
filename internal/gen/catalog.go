package gen

// FieldKind selects the generation rule for a field.
type FieldKind int

const (
	// KindGauge is a bounded value following a seasonal pattern with
	// correlated noise, clamped to [Lo, Hi].
	KindGauge FieldKind = iota
	// KindCounter is a cumulative counter that never decreases within a
	// run; it advances by roughly Rate per tick.
	KindCounter
	// KindChoice is a stable per-host value picked from Choices.
	KindChoice
	// KindDerived is computed from other fields of the same measurement
	// by the measurement's finalize hook.
	KindDerived
)

// FieldDef describes one field of a measurement and its value domain.
type FieldDef struct {
	Name string
	Kind FieldKind

	// Gauge parameters.
	Base      float64 // mean value before seasonal modulation
	Amplitude float64 // seasonal swing as a fraction of Base
	Sigma     float64 // noise standard deviation (absolute)
	Lo, Hi    float64 // clamp bounds

	// Counter parameters.
	Rate float64 // average increment per tick

	// Choice parameters.
	Choices []float64

	// Round is the number of decimal places; 0 emits an integer.
	Round int
}

// Measurement is an immutable catalog entry: a named group of fields
// with their generation rules.
type Measurement struct {
	Name   string
	Fields []FieldDef
	// finalize fills KindDerived fields and may adjust others to keep
	// the measurement internally consistent (e.g. CPU summing to 100).
	finalize func(s *Synthesizer, h *Host, fields []float64, defs []FieldDef)
}

const (
	gib = 1024 * 1024 * 1024
	mib = 1024 * 1024
)

// Catalog returns the fixed measurement catalog. The order of fields
// within each measurement is the serialization order.
func Catalog() []*Measurement {
	return []*Measurement{
		cpuMeasurement(),
		memoryMeasurement(),
		diskMeasurement(),
		diskioMeasurement(),
		netMeasurement(),
		kernelMeasurement(),
		nginxMeasurement(),
		postgresqlMeasurement(),
		redisMeasurement(),
	}
}

// CatalogSubset returns the catalog entries matching names, in catalog
// order. Unknown names are ignored; empty names returns the full set.
func CatalogSubset(names []string) []*Measurement {
	all := Catalog()
	if len(names) == 0 {
		return all
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []*Measurement
	for _, m := range all {
		if want[m.Name] {
			out = append(out, m)
		}
	}
	return out
}

func cpuMeasurement() *Measurement {
	m := &Measurement{
		Name: "cpu",
		Fields: []FieldDef{
			{Name: "usage_user", Kind: KindGauge, Base: 26, Amplitude: 0.3, Sigma: 5, Lo: 0, Hi: 70, Round: 2},
			{Name: "usage_system", Kind: KindGauge, Base: 8, Amplitude: 0.2, Sigma: 2, Lo: 0, Hi: 20, Round: 2},
			{Name: "usage_idle", Kind: KindDerived, Round: 2},
			{Name: "usage_nice", Kind: KindGauge, Base: 1, Sigma: 0.5, Lo: 0, Hi: 5, Round: 2},
			{Name: "usage_iowait", Kind: KindGauge, Base: 2, Amplitude: 0.2, Sigma: 1, Lo: 0, Hi: 10, Round: 2},
			{Name: "usage_irq", Kind: KindGauge, Base: 0.4, Sigma: 0.3, Lo: 0, Hi: 2, Round: 2},
			{Name: "usage_softirq", Kind: KindGauge, Base: 0.4, Sigma: 0.3, Lo: 0, Hi: 2, Round: 2},
			{Name: "usage_steal", Kind: KindGauge, Base: 0.8, Sigma: 0.5, Lo: 0, Hi: 5, Round: 2},
			{Name: "usage_guest", Kind: KindGauge, Base: 1, Sigma: 0.6, Lo: 0, Hi: 5, Round: 2},
			{Name: "usage_guest_nice", Kind: KindGauge, Base: 0.3, Sigma: 0.2, Lo: 0, Hi: 2, Round: 2},
		},
	}
	// usage_idle is the remainder so the usage_* family sums to 100.
	m.finalize = func(_ *Synthesizer, _ *Host, fields []float64, defs []FieldDef) {
		var used float64
		for i, d := range defs {
			if d.Kind != KindDerived {
				used += fields[i]
			}
		}
		idle := 100 - used
		if idle < 0 {
			idle = 0
		}
		fields[2] = idle
	}
	return m
}

func memoryMeasurement() *Measurement {
	m := &Measurement{
		Name: "memory",
		Fields: []FieldDef{
			{Name: "total", Kind: KindChoice, Choices: []float64{8 * gib, 16 * gib, 32 * gib, 64 * gib}},
			{Name: "available", Kind: KindDerived},
			{Name: "used", Kind: KindDerived},
			{Name: "free", Kind: KindDerived},
			{Name: "cached", Kind: KindDerived},
			{Name: "buffered", Kind: KindDerived},
			{Name: "used_percent", Kind: KindGauge, Base: 60, Amplitude: 0.2, Sigma: 4, Lo: 20, Hi: 90, Round: 2},
			{Name: "available_percent", Kind: KindDerived, Round: 2},
		},
	}
	m.finalize = func(_ *Synthesizer, _ *Host, fields []float64, _ []FieldDef) {
		total := fields[0]
		usedPct := fields[6]
		used := total * usedPct / 100
		available := total - used
		cached := total * 0.10
		buffered := total * 0.05
		free := available - cached - buffered
		if free < 0 {
			free = 0
		}
		fields[1] = available
		fields[2] = used
		fields[3] = free
		fields[4] = cached
		fields[5] = buffered
		fields[7] = 100 - usedPct
	}
	return m
}

func diskMeasurement() *Measurement {
	m := &Measurement{
		Name: "disk",
		Fields: []FieldDef{
			{Name: "total", Kind: KindChoice, Choices: []float64{100 * gib, 500 * gib, 1024 * gib, 2048 * gib}},
			{Name: "free", Kind: KindDerived},
			{Name: "used", Kind: KindDerived},
			{Name: "used_percent", Kind: KindGauge, Base: 45, Amplitude: 0.1, Sigma: 2, Lo: 10, Hi: 85, Round: 2},
			{Name: "inodes_total", Kind: KindChoice, Choices: []float64{1_000_000, 2_000_000, 5_000_000, 10_000_000}},
			{Name: "inodes_free", Kind: KindDerived},
			{Name: "inodes_used", Kind: KindDerived},
		},
	}
	m.finalize = func(_ *Synthesizer, _ *Host, fields []float64, _ []FieldDef) {
		total := fields[0]
		usedPct := fields[3]
		used := total * usedPct / 100
		fields[1] = total - used
		fields[2] = used
		inodes := fields[4]
		inodesUsed := inodes * usedPct / 100
		fields[5] = inodes - inodesUsed
		fields[6] = inodesUsed
	}
	return m
}

func diskioMeasurement() *Measurement {
	return &Measurement{
		Name: "diskio",
		Fields: []FieldDef{
			{Name: "reads", Kind: KindCounter, Rate: 1000},
			{Name: "writes", Kind: KindCounter, Rate: 700},
			{Name: "read_bytes", Kind: KindCounter, Rate: 4096 * 1000},
			{Name: "write_bytes", Kind: KindCounter, Rate: 4096 * 700},
			{Name: "read_time", Kind: KindCounter, Rate: 10000},
			{Name: "write_time", Kind: KindCounter, Rate: 10500},
			{Name: "io_time", Kind: KindCounter, Rate: 12000},
		},
	}
}

func netMeasurement() *Measurement {
	return &Measurement{
		Name: "net",
		Fields: []FieldDef{
			{Name: "bytes_sent", Kind: KindCounter, Rate: 1_000_000},
			{Name: "bytes_recv", Kind: KindCounter, Rate: 1_500_000},
			{Name: "packets_sent", Kind: KindCounter, Rate: 700},
			{Name: "packets_recv", Kind: KindCounter, Rate: 1000},
			{Name: "err_in", Kind: KindGauge, Base: 1, Sigma: 1, Lo: 0, Hi: 5},
			{Name: "err_out", Kind: KindGauge, Base: 1, Sigma: 1, Lo: 0, Hi: 5},
			{Name: "drop_in", Kind: KindGauge, Base: 2, Sigma: 2, Lo: 0, Hi: 10},
			{Name: "drop_out", Kind: KindGauge, Base: 2, Sigma: 2, Lo: 0, Hi: 10},
		},
	}
}

func kernelMeasurement() *Measurement {
	m := &Measurement{
		Name: "kernel",
		Fields: []FieldDef{
			{Name: "boot_time", Kind: KindDerived},
			{Name: "interrupts", Kind: KindCounter, Rate: 50_000},
			{Name: "context_switches", Kind: KindCounter, Rate: 200_000},
			{Name: "processes_forked", Kind: KindCounter, Rate: 50},
			{Name: "disk_pages_in", Kind: KindCounter, Rate: 300},
			{Name: "disk_pages_out", Kind: KindCounter, Rate: 200},
		},
	}
	m.finalize = func(s *Synthesizer, _ *Host, fields []float64, _ []FieldDef) {
		fields[0] = float64(s.start.Unix())
	}
	return m
}

func nginxMeasurement() *Measurement {
	return &Measurement{
		Name: "nginx",
		Fields: []FieldDef{
			{Name: "accepts", Kind: KindCounter, Rate: 1000},
			{Name: "active", Kind: KindGauge, Base: 25, Amplitude: 0.5, Sigma: 8, Lo: 1, Hi: 100},
			{Name: "handled", Kind: KindCounter, Rate: 1000},
			{Name: "reading", Kind: KindGauge, Base: 2, Sigma: 1, Lo: 0, Hi: 10},
			{Name: "requests", Kind: KindCounter, Rate: 1100},
			{Name: "waiting", Kind: KindGauge, Base: 8, Amplitude: 0.3, Sigma: 3, Lo: 0, Hi: 40},
			{Name: "writing", Kind: KindGauge, Base: 5, Amplitude: 0.3, Sigma: 2, Lo: 0, Hi: 20},
		},
	}
}

func postgresqlMeasurement() *Measurement {
	return &Measurement{
		Name: "postgresql",
		Fields: []FieldDef{
			{Name: "numbackends", Kind: KindGauge, Base: 10, Amplitude: 0.4, Sigma: 3, Lo: 1, Hi: 50},
			{Name: "xact_commit", Kind: KindCounter, Rate: 1000},
			{Name: "xact_rollback", Kind: KindCounter, Rate: 10},
			{Name: "blks_read", Kind: KindCounter, Rate: 5000},
			{Name: "blks_hit", Kind: KindCounter, Rate: 50_000},
			{Name: "tup_returned", Kind: KindCounter, Rate: 10_000},
			{Name: "tup_fetched", Kind: KindCounter, Rate: 8000},
			{Name: "tup_inserted", Kind: KindCounter, Rate: 500},
			{Name: "tup_updated", Kind: KindCounter, Rate: 300},
			{Name: "tup_deleted", Kind: KindCounter, Rate: 50},
		},
	}
}

func redisMeasurement() *Measurement {
	return &Measurement{
		Name: "redis",
		Fields: []FieldDef{
			{Name: "connected_clients", Kind: KindGauge, Base: 50, Amplitude: 0.4, Sigma: 15, Lo: 1, Hi: 200},
			{Name: "used_memory", Kind: KindGauge, Base: 100 * mib, Amplitude: 0.3, Sigma: 10 * mib, Lo: 10 * mib, Hi: 400 * mib},
			{Name: "used_memory_rss", Kind: KindGauge, Base: 120 * mib, Amplitude: 0.3, Sigma: 10 * mib, Lo: 10 * mib, Hi: 480 * mib},
			{Name: "used_memory_peak", Kind: KindGauge, Base: 150 * mib, Amplitude: 0.2, Sigma: 10 * mib, Lo: 10 * mib, Hi: 512 * mib},
			{Name: "used_memory_lua", Kind: KindGauge, Base: 5000, Sigma: 2000, Lo: 1000, Hi: 10_000},
			{Name: "rdb_changes_since_last_save", Kind: KindGauge, Base: 400, Amplitude: 0.3, Sigma: 200, Lo: 0, Hi: 1000},
			{Name: "instantaneous_ops_per_sec", Kind: KindGauge, Base: 500, Amplitude: 0.5, Sigma: 150, Lo: 0, Hi: 5000},
			{Name: "instantaneous_input_kbps", Kind: KindGauge, Base: 50, Amplitude: 0.5, Sigma: 20, Lo: 0, Hi: 100, Round: 2},
			{Name: "instantaneous_output_kbps", Kind: KindGauge, Base: 50, Amplitude: 0.5, Sigma: 20, Lo: 0, Hi: 100, Round: 2},
			{Name: "rejected_connections", Kind: KindGauge, Base: 1, Sigma: 1, Lo: 0, Hi: 5},
		},
	}
}
