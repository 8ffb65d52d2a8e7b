// Package config loads engine settings from YAML with environment
// overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultMaxSteps is the step quota of one Run activation.
	DefaultMaxSteps = 1000
	// DefaultWorkers is the size of the Run worker pool.
	DefaultWorkers = 4
	// DefaultRedisPrefix namespaces the Redis keys of delayed messages.
	DefaultRedisPrefix = "nayra:"
	// DefaultPollInterval is how often the Redis scheduler looks for due
	// messages.
	DefaultPollInterval = 100 * time.Millisecond
)

// Delay backends.
const (
	DelayTimer = "timer"
	DelayRedis = "redis"
)

// Config is the nayra configuration file.
type Config struct {
	Engine EngineConfig `yaml:"engine"`
	Store  StoreConfig  `yaml:"store"`
	Delay  DelayConfig  `yaml:"delay"`
	Log    LogConfig    `yaml:"log"`
}

// EngineConfig sizes the concurrent driver.
type EngineConfig struct {
	MaxSteps int `yaml:"max_steps"`
	Workers  int `yaml:"workers"`
}

// StoreConfig locates the SQLite event log. An empty path disables it.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// DelayConfig selects how delayed messages are scheduled.
type DelayConfig struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis delay backend.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Prefix       string        `yaml:"prefix"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// LogConfig sets the log level: debug, info, warn or error.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Engine: EngineConfig{MaxSteps: DefaultMaxSteps, Workers: DefaultWorkers},
		Delay: DelayConfig{
			Backend: DelayTimer,
			Redis:   RedisConfig{Prefix: DefaultRedisPrefix, PollInterval: DefaultPollInterval},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults, applies NAYRA_* environment
// overrides and validates the result. An empty path loads only defaults
// and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(bytes.NewReader(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults without consulting the
// environment.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	if err := decode(r, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("NAYRA_STORE_PATH")); v != "" {
		c.Store.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("NAYRA_WORKERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.Workers = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("NAYRA_REDIS_ADDR")); v != "" {
		c.Delay.Backend = DelayRedis
		c.Delay.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("NAYRA_LOG_LEVEL")); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) normalize() {
	c.Store.Path = strings.TrimSpace(c.Store.Path)
	c.Delay.Backend = strings.ToLower(strings.TrimSpace(c.Delay.Backend))
	if c.Delay.Backend == "" {
		c.Delay.Backend = DelayTimer
	}
	c.Delay.Redis.Addr = strings.TrimSpace(c.Delay.Redis.Addr)
	if c.Delay.Redis.Prefix == "" {
		c.Delay.Redis.Prefix = DefaultRedisPrefix
	}
	if c.Delay.Redis.PollInterval <= 0 {
		c.Delay.Redis.PollInterval = DefaultPollInterval
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.Engine.Workers < 1 {
		errs = append(errs, fmt.Errorf("engine.workers must be at least 1, got %d", c.Engine.Workers))
	}
	switch c.Delay.Backend {
	case DelayTimer:
	case DelayRedis:
		if c.Delay.Redis.Addr == "" {
			errs = append(errs, errors.New("delay.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("delay.backend %q is not one of timer, redis", c.Delay.Backend))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.Log.Level)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: %w", s, err)
	}
	return level, nil
}
