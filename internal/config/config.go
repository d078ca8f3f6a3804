// Package config parses the command line, environment and optional
// YAML file into the run configuration. Precedence: flags override
// environment, environment overrides YAML, YAML overrides defaults.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// version is set at build time via ldflags.
var version = "dev"

// Version returns the build version.
func Version() string { return version }

// Command selects the tool's operating mode.
type Command string

const (
	// CommandGenerate runs the generation and ingestion pipeline.
	CommandGenerate Command = "generate"
	// CommandStats prints collection statistics and exits.
	CommandStats Command = "stats"
	// CommandDrop drops the target collection and exits.
	CommandDrop Command = "drop"
)

// Config holds the application configuration.
type Config struct {
	Command Command

	// MongoDB connection
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	MongoTimeout    time.Duration

	// Generation shape
	Hosts        int
	Measurements string // comma-separated subset, or "all"
	Start        time.Time
	End          time.Time
	Interval     time.Duration
	TotalDocs    int64
	DocSizeKB    float64
	SizeVariance float64
	Seed         int64
	ResumeOffset int64

	// Ingestion
	Workers       int
	BatchInitial  int
	BatchMin      int
	BatchMax      int
	RetryAttempts int
	RetryBackoff  time.Duration
	RetryMax      time.Duration
	ShutdownDrain bool

	// Provisioning
	DropFirst      bool
	CreateIndexes  bool
	EnableSharding bool

	// Dry run
	DryRun       bool
	OutFile      string
	VerifyUnique bool

	// Observability
	StatsAddr         string
	ProgressInterval  time.Duration
	Debug             bool
	TelemetryEndpoint string
	TelemetryProtocol string
	TelemetryInsecure bool
	MemoryLimitRatio  float64
}

// Parse builds the configuration from args (without the program name).
// The first argument selects the command; flags follow it.
func Parse(args []string) (*Config, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("missing command: generate, stats or drop")
	}

	var cmd Command
	switch args[0] {
	case "generate":
		cmd = CommandGenerate
	case "stats":
		cmd = CommandStats
	case "drop":
		cmd = CommandDrop
	case "version", "-version", "--version":
		fmt.Println(version)
		os.Exit(0)
	default:
		return nil, fmt.Errorf("unknown command %q: expected generate, stats or drop", args[0])
	}
	args = args[1:]

	yml, err := loadYAMLFromArgs(args)
	if err != nil {
		return nil, err
	}

	cfg := &Config{Command: cmd}
	fs := flag.NewFlagSet(string(cmd), flag.ContinueOnError)

	var configFile string
	fs.StringVar(&configFile, "config", "", "Path to YAML configuration file")

	fs.StringVar(&cfg.MongoURI, "mongo-uri",
		yml.str(yml.Mongo.URI, envStr("MONGO_URI", "mongodb://localhost:27017")),
		"MongoDB connection URI")
	fs.StringVar(&cfg.MongoDatabase, "mongo-database",
		yml.str(yml.Mongo.Database, envStr("MONGO_DATABASE", "loadtest")),
		"Target database name")
	fs.StringVar(&cfg.MongoCollection, "mongo-collection",
		yml.str(yml.Mongo.Collection, envStr("MONGO_COLLECTION", "devops_metrics")),
		"Target collection name")
	fs.DurationVar(&cfg.MongoTimeout, "mongo-timeout",
		yml.dur(yml.Mongo.Timeout, envDur("MONGO_TIMEOUT", 20*time.Second)),
		"Per-insert timeout")

	var startStr, endStr string
	fs.IntVar(&cfg.Hosts, "hosts",
		yml.num(yml.Data.Hosts, envInt("DATA_NUM_HOSTS", 100)),
		"Number of simulated hosts")
	fs.StringVar(&cfg.Measurements, "measurements",
		yml.str(yml.Data.Measurements, envStr("DATA_MEASUREMENTS", "all")),
		"Comma-separated measurement subset, or 'all'")
	fs.StringVar(&startStr, "start",
		yml.str(yml.Data.Start, envStr("DATA_START_TIME", "")),
		"Range start, RFC3339 (default: 24h ago)")
	fs.StringVar(&endStr, "end",
		yml.str(yml.Data.End, envStr("DATA_END_TIME", "")),
		"Range end, RFC3339, exclusive (default: now)")
	fs.DurationVar(&cfg.Interval, "interval",
		yml.dur(yml.Data.Interval, envDur("DATA_INTERVAL", 10*time.Second)),
		"Spacing between consecutive timestamps")
	fs.Int64Var(&cfg.TotalDocs, "total-docs",
		yml.num64(yml.Data.TotalDocs, envInt64("DATA_TOTAL_DOCS", 0)),
		"Document budget for the run (0 = full range)")
	fs.Float64Var(&cfg.DocSizeKB, "doc-size-kb",
		yml.flt(yml.Data.DocSizeKB, envFlt("DATA_DOC_SIZE_KB", 0)),
		"Target document size in KB via padding (0 = no padding)")
	fs.Float64Var(&cfg.SizeVariance, "size-variance",
		yml.flt(yml.Data.SizeVariance, envFlt("DATA_SIZE_VARIANCE", 0.2)),
		"Padding size variance fraction, [0,1)")
	fs.Int64Var(&cfg.Seed, "seed",
		yml.num64(yml.Data.Seed, envInt64("DATA_SEED", 42)),
		"Deterministic generation seed")
	fs.Int64Var(&cfg.ResumeOffset, "resume-offset", 0,
		"Skip the first N documents of the sequence")

	fs.IntVar(&cfg.Workers, "workers",
		yml.num(yml.Ingest.Workers, envInt("DATA_PARALLEL_WORKERS", 4)),
		"Worker count and sequence partition count")
	fs.IntVar(&cfg.BatchInitial, "batch-size",
		yml.num(yml.Ingest.BatchInitial, envInt("DATA_BATCH_SIZE", 1000)),
		"Initial batch size in documents")
	fs.IntVar(&cfg.BatchMin, "batch-min",
		yml.num(yml.Ingest.BatchMin, 100),
		"Batch size floor")
	fs.IntVar(&cfg.BatchMax, "batch-max",
		yml.num(yml.Ingest.BatchMax, 10000),
		"Batch size ceiling")
	fs.IntVar(&cfg.RetryAttempts, "retry-attempts",
		yml.num(yml.Ingest.RetryAttempts, 5),
		"Attempt budget per batch, first try included")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff",
		yml.dur(yml.Ingest.RetryBackoff, 200*time.Millisecond),
		"Initial retry backoff")
	fs.DurationVar(&cfg.RetryMax, "retry-max-backoff",
		yml.dur(yml.Ingest.RetryMax, 10*time.Second),
		"Retry backoff ceiling")
	fs.BoolVar(&cfg.ShutdownDrain, "shutdown-drain",
		yml.flag(yml.Ingest.Drain, true),
		"Finish in-flight batches on shutdown instead of aborting them")

	fs.BoolVar(&cfg.DropFirst, "drop-first", false,
		"Drop the collection before generating")
	fs.BoolVar(&cfg.CreateIndexes, "create-indexes",
		yml.flag(yml.Mongo.CreateIndexes, true),
		"Create secondary indexes during provisioning")
	fs.BoolVar(&cfg.EnableSharding, "enable-sharding",
		yml.flag(yml.Mongo.EnableSharding, false),
		"Attempt to shard the collection (best effort)")

	fs.BoolVar(&cfg.DryRun, "dry-run", false,
		"Generate without writing to MongoDB")
	fs.StringVar(&cfg.OutFile, "out-file", "",
		"Dry-run NDJSON output path (.gz/.zst compresses); empty discards")
	fs.BoolVar(&cfg.VerifyUnique, "verify-unique", false,
		"Dry-run only: verify series key uniqueness with a Bloom filter")

	fs.StringVar(&cfg.StatsAddr, "stats-addr",
		yml.str(yml.App.StatsAddr, envStr("APP_STATS_ADDR", ":9090")),
		"Metrics and probe listen address (empty disables)")
	fs.DurationVar(&cfg.ProgressInterval, "progress-interval",
		yml.dur(yml.App.ProgressInterval, envDur("APP_PROGRESS_INTERVAL", 10*time.Second)),
		"Progress log interval")
	fs.BoolVar(&cfg.Debug, "debug",
		yml.flag(yml.App.Debug, envStr("APP_DEBUG", "") == "true"),
		"Enable debug logging")
	fs.StringVar(&cfg.TelemetryEndpoint, "telemetry-endpoint",
		yml.str(yml.Telemetry.Endpoint, envStr("APP_TELEMETRY_ENDPOINT", "")),
		"OTLP endpoint for self-telemetry (empty disables)")
	fs.StringVar(&cfg.TelemetryProtocol, "telemetry-protocol",
		yml.str(yml.Telemetry.Protocol, "grpc"),
		"OTLP protocol: grpc or http")
	fs.BoolVar(&cfg.TelemetryInsecure, "telemetry-insecure",
		yml.flag(yml.Telemetry.Insecure, true),
		"Use insecure connection for telemetry")
	fs.Float64Var(&cfg.MemoryLimitRatio, "memory-limit-ratio",
		yml.flt(yml.App.MemoryLimitRatio, 0.9),
		"Fraction of container memory for GOMEMLIMIT")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Start, cfg.End, err = parseRange(startStr, endStr); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseRange resolves the time range, defaulting to the last 24 hours.
func parseRange(startStr, endStr string) (time.Time, time.Time, error) {
	now := time.Now().UTC().Truncate(time.Second)
	start := now.Add(-24 * time.Hour)
	end := now
	var err error
	if startStr != "" {
		if start, err = time.Parse(time.RFC3339, startStr); err != nil {
			return start, end, fmt.Errorf("invalid -start %q: %w", startStr, err)
		}
	}
	if endStr != "" {
		if end, err = time.Parse(time.RFC3339, endStr); err != nil {
			return start, end, fmt.Errorf("invalid -end %q: %w", endStr, err)
		}
	}
	return start, end, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.MongoURI == "" && !c.DryRun && c.Command == CommandGenerate {
		return fmt.Errorf("mongo-uri is required unless -dry-run is set")
	}
	if c.Hosts <= 0 {
		return fmt.Errorf("hosts must be positive, got %d", c.Hosts)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if !c.Start.Before(c.End) {
		return fmt.Errorf("start %s must be before end %s", c.Start.Format(time.RFC3339), c.End.Format(time.RFC3339))
	}
	if c.SizeVariance < 0 || c.SizeVariance >= 1 {
		return fmt.Errorf("size-variance must be in [0,1), got %g", c.SizeVariance)
	}
	if c.DocSizeKB < 0 {
		return fmt.Errorf("doc-size-kb must not be negative, got %g", c.DocSizeKB)
	}
	if c.TotalDocs < 0 {
		return fmt.Errorf("total-docs must not be negative, got %d", c.TotalDocs)
	}
	if c.ResumeOffset < 0 {
		return fmt.Errorf("resume-offset must not be negative, got %d", c.ResumeOffset)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.BatchMin <= 0 || c.BatchMax < c.BatchMin {
		return fmt.Errorf("batch bounds invalid: min=%d max=%d", c.BatchMin, c.BatchMax)
	}
	if c.BatchInitial < c.BatchMin || c.BatchInitial > c.BatchMax {
		return fmt.Errorf("batch-size %d outside [%d,%d]", c.BatchInitial, c.BatchMin, c.BatchMax)
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("retry-attempts must be positive, got %d", c.RetryAttempts)
	}
	if c.VerifyUnique && !c.DryRun {
		return fmt.Errorf("verify-unique requires -dry-run")
	}
	if names := c.MeasurementNames(); names != nil && len(names) == 0 {
		return fmt.Errorf("measurements must name at least one measurement")
	}
	return nil
}

// MeasurementNames returns the requested measurement subset, or nil
// for "all".
func (c *Config) MeasurementNames() []string {
	s := strings.TrimSpace(c.Measurements)
	if s == "" {
		return []string{}
	}
	if strings.EqualFold(s, "all") {
		return nil
	}
	parts := strings.Split(s, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return names
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envFlt(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
