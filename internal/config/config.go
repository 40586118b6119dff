// Package config holds the pulsar configuration: defaults, JSON file
// loading, and PULSAR_* environment overrides, applied in that order.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// StoreConfig selects the key-value backend
type StoreConfig struct {
	Backend  string `json:"backend"`   // redis, memory, bolt
	BoltPath string `json:"bolt_path"` // file path for the bolt backend
}

// FetchConfig holds web fetch cache settings
type FetchConfig struct {
	TTL     time.Duration `json:"ttl"`
	Timeout time.Duration `json:"timeout"`
	// BreakerErrorPct trips the per-host circuit breaker at this error
	// percentage. Zero disables the breaker.
	BreakerErrorPct float64 `json:"breaker_error_pct"`
}

// DaemonConfig holds daemon-specific settings
type DaemonConfig struct {
	HTTPAddr  string `json:"http_addr"`
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"` // text or json
	FetchLog  string `json:"fetch_log"`  // JSON fetch log file, empty disables
}

// RateLimitConfig holds API rate limiting settings
type RateLimitConfig struct {
	Enabled           bool    `json:"enabled"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	BurstSize         int     `json:"burst_size"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled    bool    `json:"enabled"`
	Exporter   string  `json:"exporter"`
	Endpoint   string  `json:"endpoint"`
	SampleRate float64 `json:"sample_rate"`
}

// Config is the central configuration struct embedding all component configs
type Config struct {
	Redis     RedisConfig     `json:"redis"`
	Store     StoreConfig     `json:"store"`
	Fetch     FetchConfig     `json:"fetch"`
	Daemon    DaemonConfig    `json:"daemon"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Tracing   TracingConfig   `json:"tracing"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
		},
		Store: StoreConfig{
			Backend:  "redis",
			BoltPath: "pulsar.db",
		},
		Fetch: FetchConfig{
			TTL:     10 * time.Second,
			Timeout: 20 * time.Second,
		},
		Daemon: DaemonConfig{
			HTTPAddr:  ":8080",
			LogLevel:  "info",
			LogFormat: "text",
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerSecond: 50,
			BurstSize:         100,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlp-http",
			Endpoint:   "localhost:4318",
			SampleRate: 1.0,
		},
	}
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("PULSAR_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PULSAR_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PULSAR_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("PULSAR_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("PULSAR_BOLT_PATH"); v != "" {
		cfg.Store.BoltPath = v
	}
	if v := os.Getenv("PULSAR_FETCH_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Fetch.TTL = d
		}
	}
	if v := os.Getenv("PULSAR_FETCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Fetch.Timeout = d
		}
	}
	if v := os.Getenv("PULSAR_FETCH_BREAKER_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Fetch.BreakerErrorPct = f
		}
	}
	if v := os.Getenv("PULSAR_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("PULSAR_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v := os.Getenv("PULSAR_LOG_FORMAT"); v != "" {
		cfg.Daemon.LogFormat = v
	}
	if v := os.Getenv("PULSAR_FETCH_LOG"); v != "" {
		cfg.Daemon.FetchLog = v
	}
	if v := os.Getenv("PULSAR_RATELIMIT_ENABLED"); v != "" {
		cfg.RateLimit.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("PULSAR_RATELIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit.RequestsPerSecond = f
		}
	}
	if v := os.Getenv("PULSAR_RATELIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.BurstSize = n
		}
	}
	if v := os.Getenv("PULSAR_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("PULSAR_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
}

// Load resolves the effective configuration: defaults, then the file at
// path when non-empty, then environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	LoadFromEnv(cfg)
	return cfg, nil
}
