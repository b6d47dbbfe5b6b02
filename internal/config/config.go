// Package config loads agingd settings: defaults, then a YAML file, then a
// .env file, then AGING_* environment variables. Flags are applied last by
// the caller.
package config

import (
	"bytes"
	"errors"
	"io"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/devghori1264/agingwms/internal/models"
	"github.com/devghori1264/agingwms/internal/steps"
	"github.com/devghori1264/agingwms/internal/storage"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "AGING_"

type Config struct {
	GRPCAddr       string        `yaml:"grpc_addr"`
	HTTPAddr       string        `yaml:"http_addr"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	DBPath         string        `yaml:"db_path"`
	InMemory       bool          `yaml:"in_memory"`
	NATSURL        string        `yaml:"nats_url"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	Step           StepTiming    `yaml:"step"`
	Retry          Retry         `yaml:"retry"`
	Log            Log           `yaml:"log"`
	Tracing        Tracing       `yaml:"tracing"`
}

type StepTiming struct {
	Tick          time.Duration `yaml:"tick"`
	SimulatedTick time.Duration `yaml:"simulated_tick"`
	PauseWait     time.Duration `yaml:"pause_wait"`
}

type Retry struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
	Jitter   float64       `yaml:"jitter"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Tracing struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

func Default() Config {
	st := steps.DefaultOptions()
	return Config{
		GRPCAddr:       ":50051",
		HTTPAddr:       ":8080",
		MetricsAddr:    ":9090",
		DBPath:         "./data/badger",
		NATSURL:        "",
		CacheTTL:       time.Hour,
		CommandTimeout: 10 * time.Second,
		Step:           StepTiming{Tick: st.Tick, SimulatedTick: st.SimulatedTick, PauseWait: st.PauseWait},
		Retry: Retry{
			Attempts: storage.DefaultRetryPolicy.Attempts,
			Backoff:  storage.DefaultRetryPolicy.Backoff,
			Jitter:   storage.DefaultRetryPolicy.Jitter,
		},
		Log:     Log{Level: "info", Format: "json"},
		Tracing: Tracing{ServiceName: "agingd", SampleRatio: 1},
	}
}

// Load builds the config from path (optional) and the environment. envFiles
// are loaded with godotenv first; missing files are skipped.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(b, &cfg); err != nil {
			return cfg, err
		}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", f, err)
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Parse overlays YAML onto cfg. Unknown keys are rejected.
func Parse(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: parse config: %v", models.ErrArgument, err)
	}
	return nil
}

// ApplyEnv overrides cfg from AGING_* variables found by lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	vars := []struct {
		key string
		set func(string) error
	}{
		{"GRPC_ADDR", str(&cfg.GRPCAddr)},
		{"HTTP_ADDR", str(&cfg.HTTPAddr)},
		{"METRICS_ADDR", str(&cfg.MetricsAddr)},
		{"DB_PATH", str(&cfg.DBPath)},
		{"IN_MEMORY", boolean(&cfg.InMemory)},
		{"NATS_URL", str(&cfg.NATSURL)},
		{"CACHE_TTL", duration(&cfg.CacheTTL)},
		{"COMMAND_TIMEOUT", duration(&cfg.CommandTimeout)},
		{"STEP_TICK", duration(&cfg.Step.Tick)},
		{"STEP_SIMULATED_TICK", duration(&cfg.Step.SimulatedTick)},
		{"STEP_PAUSE_WAIT", duration(&cfg.Step.PauseWait)},
		{"RETRY_ATTEMPTS", integer(&cfg.Retry.Attempts)},
		{"RETRY_BACKOFF", duration(&cfg.Retry.Backoff)},
		{"LOG_LEVEL", str(&cfg.Log.Level)},
		{"LOG_FORMAT", str(&cfg.Log.Format)},
		{"TRACING_ENABLED", boolean(&cfg.Tracing.Enabled)},
	}
	for _, v := range vars {
		raw, ok := lookup(EnvPrefix + v.key)
		if !ok {
			continue
		}
		if err := v.set(raw); err != nil {
			return fmt.Errorf("%w: %s%s=%q: %v", models.ErrArgument, EnvPrefix, v.key, raw, err)
		}
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if !c.InMemory && c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required unless in_memory is set"))
	}
	if c.Step.Tick <= 0 || c.Step.SimulatedTick <= 0 || c.Step.PauseWait <= 0 {
		errs = append(errs, errors.New("step timings must be positive"))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, errors.New("retry.attempts must be >= 1"))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("cache_ttl must be positive"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or console", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", models.ErrArgument, errors.Join(errs...))
	}
	return nil
}

// StepOptions converts the step timing section for steps.NewRunner.
func (c Config) StepOptions() steps.Options {
	return steps.Options{Tick: c.Step.Tick, SimulatedTick: c.Step.SimulatedTick, PauseWait: c.Step.PauseWait}
}

// RetryPolicy converts the retry section for the store update loop.
func (c Config) RetryPolicy() storage.RetryPolicy {
	return storage.RetryPolicy{Attempts: c.Retry.Attempts, Backoff: c.Retry.Backoff, Jitter: c.Retry.Jitter}
}

func str(p *string) func(string) error {
	return func(s string) error { *p = s; return nil }
}

func boolean(p *bool) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseBool(s)
		if err == nil {
			*p = v
		}
		return err
	}
}

func integer(p *int) func(string) error {
	return func(s string) error {
		v, err := strconv.Atoi(s)
		if err == nil {
			*p = v
		}
		return err
	}
}

func duration(p *time.Duration) func(string) error {
	return func(s string) error {
		v, err := time.ParseDuration(s)
		if err == nil {
			*p = v
		}
		return err
	}
}
