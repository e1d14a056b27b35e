// Package config loads relay settings from an optional YAML file and RELAY_*
// environment variables, in that order of precedence (env wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/matst80/tcprelay/internal/reactor"
	"github.com/matst80/tcprelay/internal/relay"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v2"
)

const envPrefix = "RELAY_"

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	// Key names the list holding mapping lines.
	Key string `yaml:"key" env:"KEY"`
	// StatsInterval is how often this instance publishes its counters; 0
	// disables publishing.
	StatsInterval time.Duration `yaml:"stats_interval" env:"STATS_INTERVAL"`
}

type RateLimitConfig struct {
	Global    int `yaml:"global" env:"GLOBAL"`
	PerClient int `yaml:"per_client" env:"PER_CLIENT"`
	Burst     int `yaml:"burst" env:"BURST"`
	// Buckets unused for MaxIdle are dropped every SweepInterval.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	MaxIdle       time.Duration `yaml:"max_idle" env:"MAX_IDLE"`
}

// Config holds all runtime configuration.
type Config struct {
	Listen      string      `yaml:"listen" env:"LISTEN"`
	Destination string      `yaml:"destination" env:"DESTINATION"`
	MappingFile string      `yaml:"mapping_file" env:"MAPPING_FILE"`
	Redis       RedisConfig `yaml:"redis" envPrefix:"REDIS_"`

	Strategy       string        `yaml:"strategy" env:"STRATEGY"`
	Exchange       string        `yaml:"exchange" env:"EXCHANGE"`
	Dispatch       string        `yaml:"dispatch" env:"DISPATCH"`
	Workers        int           `yaml:"workers" env:"WORKERS"`
	BufferSize     int           `yaml:"buffer_size" env:"BUFFER_SIZE"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	PollTimeout    time.Duration `yaml:"poll_timeout" env:"POLL_TIMEOUT"`
	Backend        string        `yaml:"backend" env:"BACKEND"`
	TracePayload   bool          `yaml:"trace_payload" env:"TRACE_PAYLOAD"`

	RateLimit RateLimitConfig `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`

	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`
}

// Default mirrors relay.DefaultConfig plus the process-level settings.
func Default() Config {
	rc := relay.DefaultConfig()
	return Config{
		Redis:          RedisConfig{Key: "tcprelay:mappings", StatsInterval: 30 * time.Second},
		Strategy:       string(rc.Strategy),
		Exchange:       string(rc.Exchange),
		Dispatch:       string(rc.Dispatch),
		Workers:        rc.Workers,
		BufferSize:     rc.BufferSize,
		IdleTimeout:    rc.IdleTimeout,
		ConnectTimeout: rc.ConnectTimeout,
		PollTimeout:    rc.PollTimeout,
		Backend:        string(rc.Backend),
		RateLimit: RateLimitConfig{
			Burst:         10,
			SweepInterval: 30 * time.Second,
			MaxIdle:       5 * time.Minute,
		},
		MetricsAddr: ":9100",
		LogLevel:    "info",
	}
}

// Load starts from Default, applies the YAML file at path if path is not
// empty, then the process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.ReadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ReadFile overlays the YAML file at path. Unknown keys are rejected.
func (c *Config) ReadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.UnmarshalStrict(b, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays RELAY_* variables from environ, or from the process
// environment when environ is nil.
func (c *Config) ApplyEnv(environ map[string]string) error {
	opts := env.Options{Prefix: envPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// HasMappingSource reports whether any mapping source is configured.
func (c Config) HasMappingSource() bool {
	return (c.Listen != "" && c.Destination != "") || c.MappingFile != "" || c.Redis.Addr != ""
}

func (c Config) Validate() error {
	var errs error
	if (c.Listen == "") != (c.Destination == "") {
		errs = multierr.Append(errs, errors.New("listen and destination must be given together"))
	}
	if !c.HasMappingSource() {
		errs = multierr.Append(errs, errors.New("no mapping source: set listen/destination, mapping_file or redis.addr"))
	}
	if c.Redis.Addr != "" && c.Redis.Key == "" {
		errs = multierr.Append(errs, errors.New("redis.key is required with redis.addr"))
	}
	if c.RateLimit.Global < 0 || c.RateLimit.PerClient < 0 {
		errs = multierr.Append(errs, errors.New("rate limits must not be negative"))
	}
	if _, err := c.RelayConfig(); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// RelayConfig converts to the relay core's settings and validates them.
func (c Config) RelayConfig() (relay.Config, error) {
	backend, err := reactor.ParseBackend(c.Backend)
	if err != nil {
		return relay.Config{}, err
	}
	rc := relay.Config{
		Strategy:       relay.Strategy(c.Strategy),
		Exchange:       relay.Exchange(c.Exchange),
		Dispatch:       relay.DispatchMode(c.Dispatch),
		Workers:        c.Workers,
		BufferSize:     c.BufferSize,
		IdleTimeout:    c.IdleTimeout,
		ConnectTimeout: c.ConnectTimeout,
		PollTimeout:    c.PollTimeout,
		Backend:        backend,
		TracePayload:   c.TracePayload,
	}
	if err := rc.Validate(); err != nil {
		return relay.Config{}, err
	}
	return rc, nil
}
