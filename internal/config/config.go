// Package config provides the configuration schema and loader for the
// knowledge query gateway.
package config

import "time"

// Config is the root configuration structure for the gateway.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Cursor CursorConfig `yaml:"cursor"`
	Query  QueryConfig  `yaml:"query"`
	Embed  EmbedConfig  `yaml:"embeddings"`
}

// ServerConfig holds listen address, auth, and logging settings.
type ServerConfig struct {
	// Port is the TCP port the HTTP surface listens on (PORT, default 8081).
	Port int `yaml:"port"`

	// Token is the literal bearer token required on every authenticated
	// request (KIP_TOKEN).
	Token string `yaml:"token"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`

	// Environment is reported as the deployment.environment resource
	// attribute on every span and metric (KIP_ENVIRONMENT, e.g. "production",
	// "staging"). Left empty, the attribute is omitted.
	Environment string `yaml:"environment"`

	// TraceSampleRatio is the fraction (0, 1] of traces without a sampled
	// parent that get recorded (TRACE_SAMPLE_RATIO, default 1.0 — sample
	// everything). Validate rejects values outside (0, 1].
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// StoreConfig holds the connection parameters for the backing graph store
// (STORE_URI, STORE_USER, STORE_PASSWORD).
type StoreConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// CursorConfig holds the cursor-token encryption key (CURSOR_KEY).
type CursorConfig struct {
	// Key is the secret used to derive the AES-256-CBC key via scrypt. If
	// empty, DefaultCursorKey is used and the loader emits a startup warning
	// (spec.md §6, §9).
	Key string `yaml:"key"`
}

// QueryConfig holds query execution tunables.
type QueryConfig struct {
	// SlowQueryMs is the threshold above which a query is published on the
	// telemetry slow-query channel (SLOW_QUERY_MS, default 1000).
	SlowQueryMs int64 `yaml:"slow_query_ms"`

	// RequestTimeout is the per-request deadline applied to store operations
	// (REQUEST_TIMEOUT_MS, default 60000ms).
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// EmbedConfig selects the optional embeddings provider backing the
// /suggestions auxiliary endpoint (SPEC_FULL.md A7). An empty Provider
// disables the endpoint rather than failing startup.
type EmbedConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

func (s ServerConfig) logLevelValid() bool {
	switch s.LogLevel {
	case "", "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

// DefaultCursorKey is used when CURSOR_KEY is unset. Deployments that need
// cursors to interoperate across process restarts or replicas must set
// CURSOR_KEY explicitly (spec.md §6, §9 "Cursor format stability").
const DefaultCursorKey = "insecure-default-cursor-key-32by"

// Defaults for environment variables left unset (spec.md §6).
const (
	DefaultPort             = 8081
	DefaultSlowQueryMs      = 1000
	DefaultRequestTimeoutMs = 60000
	DefaultTraceSampleRatio = 1.0
)
