package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// YAMLConfig mirrors the configuration file structure. Pointer fields
// distinguish "absent" from zero values.
type YAMLConfig struct {
	Mongo struct {
		URI            string   `yaml:"uri"`
		Database       string   `yaml:"database"`
		Collection     string   `yaml:"collection"`
		Timeout        Duration `yaml:"timeout"`
		CreateIndexes  *bool    `yaml:"create_indexes"`
		EnableSharding *bool    `yaml:"enable_sharding"`
	} `yaml:"mongo"`

	Data struct {
		Hosts        *int     `yaml:"hosts"`
		Measurements string   `yaml:"measurements"`
		Start        string   `yaml:"start"`
		End          string   `yaml:"end"`
		Interval     Duration `yaml:"interval"`
		TotalDocs    *int64   `yaml:"total_docs"`
		DocSizeKB    *float64 `yaml:"doc_size_kb"`
		SizeVariance *float64 `yaml:"size_variance"`
		Seed         *int64   `yaml:"seed"`
	} `yaml:"data"`

	Ingest struct {
		Workers       *int     `yaml:"workers"`
		BatchInitial  *int     `yaml:"batch_size"`
		BatchMin      *int     `yaml:"batch_min"`
		BatchMax      *int     `yaml:"batch_max"`
		RetryAttempts *int     `yaml:"retry_attempts"`
		RetryBackoff  Duration `yaml:"retry_backoff"`
		RetryMax      Duration `yaml:"retry_max_backoff"`
		Drain         *bool    `yaml:"shutdown_drain"`
	} `yaml:"ingest"`

	App struct {
		StatsAddr        string   `yaml:"stats_addr"`
		ProgressInterval Duration `yaml:"progress_interval"`
		Debug            *bool    `yaml:"debug"`
		MemoryLimitRatio *float64 `yaml:"memory_limit_ratio"`
	} `yaml:"app"`

	Telemetry struct {
		Endpoint string `yaml:"endpoint"`
		Protocol string `yaml:"protocol"`
		Insecure *bool  `yaml:"insecure"`
	} `yaml:"telemetry"`
}

// loadYAMLFromArgs pre-scans args for -config and loads the file, so
// its values can seed the flag defaults before flag parsing runs.
func loadYAMLFromArgs(args []string) (*YAMLConfig, error) {
	path := ""
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-config" || arg == "--config":
			if i+1 < len(args) {
				path = args[i+1]
			}
		case strings.HasPrefix(arg, "-config="):
			path = strings.TrimPrefix(arg, "-config=")
		case strings.HasPrefix(arg, "--config="):
			path = strings.TrimPrefix(arg, "--config=")
		}
	}
	cfg := &YAMLConfig{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default pickers: the YAML value wins over the fallback when present.

func (y *YAMLConfig) str(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func (y *YAMLConfig) num(v *int, fallback int) int {
	if v != nil {
		return *v
	}
	return fallback
}

func (y *YAMLConfig) num64(v *int64, fallback int64) int64 {
	if v != nil {
		return *v
	}
	return fallback
}

func (y *YAMLConfig) flt(v *float64, fallback float64) float64 {
	if v != nil {
		return *v
	}
	return fallback
}

func (y *YAMLConfig) dur(v Duration, fallback time.Duration) time.Duration {
	if v != 0 {
		return time.Duration(v)
	}
	return fallback
}

func (y *YAMLConfig) flag(v *bool, fallback bool) bool {
	if v != nil {
		return *v
	}
	return fallback
}
