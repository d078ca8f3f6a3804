package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/szibis/tsloadgen/internal/cardinality"
	"github.com/szibis/tsloadgen/internal/config"
	"github.com/szibis/tsloadgen/internal/gen"
	"github.com/szibis/tsloadgen/internal/health"
	"github.com/szibis/tsloadgen/internal/ingest"
	"github.com/szibis/tsloadgen/internal/logging"
	"github.com/szibis/tsloadgen/internal/sink"
	"github.com/szibis/tsloadgen/internal/stats"
	"github.com/szibis/tsloadgen/internal/telemetry"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		logging.Fatal("invalid configuration", logging.F("error", err.Error()))
	}

	logging.SetDebug(cfg.Debug)
	runID := uuid.NewString()
	logging.SetResource(map[string]string{
		"service.name":    "tsloadgen",
		"service.version": config.Version(),
		"run.id":          runID,
	})

	if _, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(cfg.MemoryLimitRatio),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	); err != nil {
		logging.Warn("could not set memory limit", logging.F("error", err.Error()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint: cfg.TelemetryEndpoint,
		Protocol: cfg.TelemetryProtocol,
		Insecure: cfg.TelemetryInsecure,
	}, "tsloadgen", config.Version(), runID)
	if err != nil {
		logging.Fatal("failed to initialize telemetry", logging.F("error", err.Error()))
	}
	if tel.Enabled() {
		logging.SetHook(tel.NewLogHook())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tel.Shutdown(shutdownCtx)
		}()
	}

	switch cfg.Command {
	case config.CommandGenerate:
		err = runGenerate(ctx, cfg, runID)
	case config.CommandStats:
		err = runStats(ctx, cfg)
	case config.CommandDrop:
		err = runDrop(ctx, cfg)
	}
	if err != nil {
		logging.Error("command failed", logging.F(
			"command", string(cfg.Command),
			"error", err.Error(),
		))
		os.Exit(1)
	}
}

// runGenerate wires the pipeline: host catalog, synthesizer, sequencer,
// throttled worker pool and the chosen sink.
func runGenerate(ctx context.Context, cfg *config.Config, runID string) error {
	hosts := gen.NewHostCatalog(cfg.Hosts, cfg.Seed)
	meas := gen.CatalogSubset(cfg.MeasurementNames())
	syn := gen.NewSynthesizer(cfg.Seed, cfg.Start, cfg.Interval)
	seq := gen.NewSequencer(cfg.Start, cfg.End, cfg.Interval)
	builder := gen.NewBuilder(syn, cfg.DocSizeKB, cfg.SizeVariance, cfg.Seed)

	logConfigSummary(cfg, runID, seq, len(meas))

	snk, readiness, err := buildSink(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = snk.Close(closeCtx)
	}()

	var tracker cardinality.Tracker
	if cfg.VerifyUnique {
		expected := uint(seq.Ticks() * int64(len(hosts)) * int64(len(meas)))
		tracker = cardinality.NewBloomTracker(expected, 0.001)
	} else {
		tracker = cardinality.NewHLLTracker()
	}
	collector := stats.NewCollector(tracker)

	checker := health.New()
	checker.RegisterReadiness("sink", readiness)
	statsServer := startStatsServer(cfg.StatsAddr, checker)
	defer func() {
		checker.SetShuttingDown()
		if statsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = statsServer.Shutdown(shutdownCtx)
		}
	}()

	progressCtx, stopProgress := context.WithCancel(ctx)
	waitProgress := collector.StartPeriodicLogging(progressCtx, cfg.ProgressInterval)

	throttle := ingest.NewThrottle(ingest.ThrottleConfig{
		MinBatch:       cfg.BatchMin,
		MaxBatch:       cfg.BatchMax,
		InitialBatch:   cfg.BatchInitial,
		MaxConcurrency: cfg.Workers,
	})
	retrier := ingest.NewRetrier(ingest.RetryConfig{
		MaxAttempts:    cfg.RetryAttempts,
		InitialBackoff: cfg.RetryBackoff,
		MaxBackoff:     cfg.RetryMax,
	})
	pool := ingest.NewPool(ingest.PoolConfig{
		Workers:      cfg.Workers,
		TotalDocs:    cfg.TotalDocs,
		ResumeOffset: cfg.ResumeOffset,
		Drain:        cfg.ShutdownDrain,
	}, throttle, retrier, snk, collector)

	res, runErr := pool.Run(ctx, builder, seq, hosts, meas)

	stopProgress()
	waitProgress()
	collector.LogSummary()

	if cfg.VerifyUnique {
		report := collector.Snapshot()
		if report.UniqueSeries != report.DocsAttempted {
			logging.Error("uniqueness verification failed", logging.F(
				"docs_attempted", report.DocsAttempted,
				"unique_series", report.UniqueSeries,
			))
		} else {
			logging.Info("uniqueness verified", logging.F("unique_series", report.UniqueSeries))
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if res.Aborted {
		logging.Warn("run stopped before the budget was spent", logging.F(
			"docs_confirmed", res.DocsConfirmed,
			"docs_lost", res.DocsLost,
		))
	}
	return nil
}

// buildSink picks the sink from the dry-run flags and, for MongoDB,
// provisions the target collection.
func buildSink(ctx context.Context, cfg *config.Config) (sink.Sink, health.CheckFunc, error) {
	if cfg.DryRun {
		if cfg.OutFile != "" {
			fs, err := sink.NewFile(cfg.OutFile)
			if err != nil {
				return nil, nil, err
			}
			logging.Info("dry run writing to file", logging.F("path", cfg.OutFile))
			return fs, func() error { return nil }, nil
		}
		logging.Info("dry run, documents discarded after generation")
		return sink.Noop{}, func() error { return nil }, nil
	}

	m, err := sink.NewMongo(ctx, sink.MongoConfig{
		URI:        cfg.MongoURI,
		Database:   cfg.MongoDatabase,
		Collection: cfg.MongoCollection,
		Timeout:    cfg.MongoTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := m.Provision(ctx, sink.ProvisionOptions{
		Drop:           cfg.DropFirst,
		CreateIndexes:  cfg.CreateIndexes,
		EnableSharding: cfg.EnableSharding,
	}); err != nil {
		_ = m.Close(ctx)
		return nil, nil, err
	}
	readiness := func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return m.Ping(pingCtx)
	}
	return m, readiness, nil
}

// startStatsServer serves /metrics, /live and /ready. Returns nil when
// the listener is disabled.
func startStatsServer(addr string, checker *health.Checker) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/live", checker.LiveHandler())
	mux.HandleFunc("/ready", checker.ReadyHandler())

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logging.Info("stats endpoint started", logging.F("addr", addr, "path", "/metrics"))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("stats server error", logging.F("error", err.Error()))
		}
	}()
	return server
}

func logConfigSummary(cfg *config.Config, runID string, seq *gen.Sequencer, measurements int) {
	logging.Info("configuration", logging.F(
		"run_id", runID,
		"database", cfg.MongoDatabase,
		"collection", cfg.MongoCollection,
		"hosts", cfg.Hosts,
		"measurements", measurements,
		"start", cfg.Start.Format(time.RFC3339),
		"end", cfg.End.Format(time.RFC3339),
		"interval", cfg.Interval.String(),
		"ticks", seq.Ticks(),
		"total_docs", cfg.TotalDocs,
		"doc_size_kb", cfg.DocSizeKB,
		"size_variance", cfg.SizeVariance,
		"seed", cfg.Seed,
		"workers", cfg.Workers,
		"batch_size", cfg.BatchInitial,
		"dry_run", cfg.DryRun,
	))
}

// runStats prints collection statistics.
func runStats(ctx context.Context, cfg *config.Config) error {
	m, err := sink.NewMongo(ctx, sink.MongoConfig{
		URI:        cfg.MongoURI,
		Database:   cfg.MongoDatabase,
		Collection: cfg.MongoCollection,
		Timeout:    cfg.MongoTimeout,
	})
	if err != nil {
		return err
	}
	defer func() { _ = m.Close(context.Background()) }()

	s, err := m.Stats(ctx)
	if err != nil {
		return err
	}
	logging.Info("collection statistics", logging.F(
		"database", cfg.MongoDatabase,
		"collection", cfg.MongoCollection,
		"documents", s.DocumentCount,
		"data_bytes", s.SizeBytes,
		"storage_bytes", s.StorageBytes,
		"avg_doc_bytes", s.AvgDocSize,
		"indexes", s.IndexCount,
		"index_bytes", s.IndexSizeBytes,
	))
	return nil
}

// runDrop drops the target collection.
func runDrop(ctx context.Context, cfg *config.Config) error {
	m, err := sink.NewMongo(ctx, sink.MongoConfig{
		URI:        cfg.MongoURI,
		Database:   cfg.MongoDatabase,
		Collection: cfg.MongoCollection,
		Timeout:    cfg.MongoTimeout,
	})
	if err != nil {
		return err
	}
	defer func() { _ = m.Close(context.Background()) }()

	if err := m.Drop(ctx); err != nil {
		return err
	}
	logging.Info("collection dropped", logging.F(
		"database", cfg.MongoDatabase,
		"collection", cfg.MongoCollection,
	))
	return nil
}
