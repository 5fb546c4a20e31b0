package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load builds a Config from environment variables (spec.md §6), optionally
// layering a YAML file underneath when path is non-empty. Environment
// variables always win over file values, matching the teacher's convention
// of treating the file as a base and the environment as the deployment
// overlay.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decodeInto(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies the environment
// overlay, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := defaults()
	if err := decodeInto(r, cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeInto(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: DefaultPort, LogLevel: "info", TraceSampleRatio: DefaultTraceSampleRatio},
		Cursor: CursorConfig{Key: DefaultCursorKey},
		Query: QueryConfig{
			SlowQueryMs:    DefaultSlowQueryMs,
			RequestTimeout: DefaultRequestTimeoutMs * time.Millisecond,
		},
	}
}

// applyEnv overlays recognized environment variables onto cfg, following
// spec.md §6's table of env vars and defaults.
func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("KIP_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("KIP_ENVIRONMENT"); v != "" {
		cfg.Server.Environment = v
	}
	if v := os.Getenv("TRACE_SAMPLE_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Server.TraceSampleRatio = f
		}
	}
	if v := os.Getenv("STORE_URI"); v != "" {
		cfg.Store.URI = v
	}
	if v := os.Getenv("STORE_USER"); v != "" {
		cfg.Store.User = v
	}
	if v := os.Getenv("STORE_PASSWORD"); v != "" {
		cfg.Store.Password = v
	}
	if v := os.Getenv("CURSOR_KEY"); v != "" {
		cfg.Cursor.Key = v
	}
	if v := os.Getenv("SLOW_QUERY_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Query.SlowQueryMs = n
		}
	}
	if v := os.Getenv("REQUEST_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Query.RequestTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("EMBEDDINGS_PROVIDER"); v != "" {
		cfg.Embed.Provider = v
	}
	if v := os.Getenv("EMBEDDINGS_API_KEY"); v != "" {
		cfg.Embed.APIKey = v
	}
	if v := os.Getenv("EMBEDDINGS_MODEL"); v != "" {
		cfg.Embed.Model = v
	}
}

// Validate checks that cfg contains a coherent set of values and emits the
// startup warning mandated by spec.md §6 when CURSOR_KEY was left at its
// insecure default. It returns a joined error listing all hard failures.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.logLevelValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}
	if cfg.Store.URI == "" {
		errs = append(errs, errors.New("store.uri is required (STORE_URI)"))
	}
	if cfg.Query.SlowQueryMs <= 0 {
		errs = append(errs, fmt.Errorf("query.slow_query_ms %d must be positive", cfg.Query.SlowQueryMs))
	}
	if cfg.Query.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("query.request_timeout %s must be positive", cfg.Query.RequestTimeout))
	}
	if cfg.Server.TraceSampleRatio <= 0 || cfg.Server.TraceSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v must be in (0, 1]", cfg.Server.TraceSampleRatio))
	}

	if cfg.Cursor.Key == DefaultCursorKey {
		slog.Warn("cursor.key is unset; using the built-in default, which is unsuitable for production deployments sharing cursors across processes (set CURSOR_KEY)")
	}
	if cfg.Server.Token == "" {
		slog.Warn("server.token is empty; every request will be rejected with an auth error until KIP_TOKEN is set")
	}

	return errors.Join(errs...)
}
