package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]string{"generate", "-dry-run"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Command != CommandGenerate {
		t.Errorf("command = %s, want generate", cfg.Command)
	}
	if cfg.Hosts != 100 || cfg.Workers != 4 {
		t.Errorf("hosts=%d workers=%d, want defaults 100/4", cfg.Hosts, cfg.Workers)
	}
	if cfg.Interval != 10*time.Second {
		t.Errorf("interval = %v, want 10s", cfg.Interval)
	}
	if !cfg.Start.Before(cfg.End) {
		t.Error("default range is empty")
	}
	if cfg.Seed != 42 {
		t.Errorf("seed = %d, want 42", cfg.Seed)
	}
}

func TestParseCommands(t *testing.T) {
	for _, cmd := range []string{"stats", "drop"} {
		cfg, err := Parse([]string{cmd})
		if err != nil {
			t.Fatalf("%s: %v", cmd, err)
		}
		if string(cfg.Command) != cmd {
			t.Errorf("command = %s, want %s", cfg.Command, cmd)
		}
	}
	if _, err := Parse([]string{"bogus"}); err == nil {
		t.Error("unknown command accepted")
	}
	if _, err := Parse(nil); err == nil {
		t.Error("missing command accepted")
	}
}

func TestParseFlagsOverrideEnv(t *testing.T) {
	t.Setenv("DATA_NUM_HOSTS", "7")
	t.Setenv("DATA_PARALLEL_WORKERS", "9")

	cfg, err := Parse([]string{"generate", "-dry-run", "-hosts", "3"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Hosts != 3 {
		t.Errorf("flag should beat env: hosts = %d, want 3", cfg.Hosts)
	}
	if cfg.Workers != 9 {
		t.Errorf("env should beat default: workers = %d, want 9", cfg.Workers)
	}
}

func TestParseTimeRange(t *testing.T) {
	cfg, err := Parse([]string{"generate", "-dry-run",
		"-start", "2025-06-02T00:00:00Z",
		"-end", "2025-06-02T01:00:00Z",
		"-interval", "1m",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cfg.Start.Equal(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", cfg.Start)
	}
	if cfg.End.Sub(cfg.Start) != time.Hour {
		t.Errorf("range = %v, want 1h", cfg.End.Sub(cfg.Start))
	}

	if _, err := Parse([]string{"generate", "-dry-run", "-start", "not-a-time"}); err == nil {
		t.Error("invalid start accepted")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	bad := [][]string{
		{"generate", "-dry-run", "-hosts", "0"},
		{"generate", "-dry-run", "-size-variance", "1.5"},
		{"generate", "-dry-run", "-workers", "0"},
		{"generate", "-dry-run", "-batch-min", "100", "-batch-max", "50"},
		{"generate", "-dry-run", "-batch-size", "5", "-batch-min", "10"},
		{"generate", "-dry-run", "-retry-attempts", "0"},
		{"generate", "-dry-run", "-start", "2025-06-02T01:00:00Z", "-end", "2025-06-02T00:00:00Z"},
		{"generate", "-dry-run", "-measurements", " , "},
		{"generate", "-verify-unique"}, // requires dry-run
	}
	for _, args := range bad {
		if _, err := Parse(args); err == nil {
			t.Errorf("accepted invalid args %v", args)
		}
	}
}

func TestMeasurementNames(t *testing.T) {
	cfg := &Config{Measurements: "all"}
	if cfg.MeasurementNames() != nil {
		t.Error("'all' should return nil for the full catalog")
	}
	cfg.Measurements = "cpu, net ,redis"
	got := cfg.MeasurementNames()
	if len(got) != 3 || got[0] != "cpu" || got[1] != "net" || got[2] != "redis" {
		t.Errorf("names = %v", got)
	}
}

func TestYAMLFileSeedsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	yaml := strings.Join([]string{
		"mongo:",
		"  database: benchdb",
		"data:",
		"  hosts: 25",
		"  interval: 30s",
		"ingest:",
		"  workers: 6",
		"app:",
		"  stats_addr: ':9999'",
	}, "\n")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Parse([]string{"generate", "-dry-run", "-config", path, "-hosts", "50"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.MongoDatabase != "benchdb" {
		t.Errorf("database = %s, want benchdb", cfg.MongoDatabase)
	}
	if cfg.Hosts != 50 {
		t.Errorf("flag should beat yaml: hosts = %d, want 50", cfg.Hosts)
	}
	if cfg.Workers != 6 || cfg.Interval != 30*time.Second || cfg.StatsAddr != ":9999" {
		t.Errorf("yaml values not applied: workers=%d interval=%v stats=%s", cfg.Workers, cfg.Interval, cfg.StatsAddr)
	}
}

func TestYAMLFileErrors(t *testing.T) {
	if _, err := Parse([]string{"generate", "-dry-run", "-config", "/nonexistent.yaml"}); err == nil {
		t.Error("missing config file accepted")
	}
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("data: ["), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Parse([]string{"generate", "-dry-run", "-config", path}); err == nil {
		t.Error("broken yaml accepted")
	}
}
