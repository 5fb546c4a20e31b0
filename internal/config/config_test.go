package config

import (
	"strings"
	"testing"
	"time"
)

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "KIP_TOKEN", "LOG_LEVEL", "KIP_ENVIRONMENT", "TRACE_SAMPLE_RATIO",
		"STORE_URI", "STORE_USER", "STORE_PASSWORD",
		"CURSOR_KEY", "SLOW_QUERY_MS", "REQUEST_TIMEOUT_MS",
		"EMBEDDINGS_PROVIDER", "EMBEDDINGS_API_KEY", "EMBEDDINGS_MODEL",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaults_MatchDocumentedConstants(t *testing.T) {
	cfg := defaults()
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Cursor.Key != DefaultCursorKey {
		t.Errorf("Cursor.Key = %q, want the insecure default", cfg.Cursor.Key)
	}
	if cfg.Query.SlowQueryMs != DefaultSlowQueryMs {
		t.Errorf("SlowQueryMs = %d, want %d", cfg.Query.SlowQueryMs, DefaultSlowQueryMs)
	}
	if cfg.Query.RequestTimeout != DefaultRequestTimeoutMs*time.Millisecond {
		t.Errorf("RequestTimeout = %s, want %dms", cfg.Query.RequestTimeout, DefaultRequestTimeoutMs)
	}
	if cfg.Server.TraceSampleRatio != DefaultTraceSampleRatio {
		t.Errorf("TraceSampleRatio = %v, want %v", cfg.Server.TraceSampleRatio, DefaultTraceSampleRatio)
	}
}

func TestApplyEnv_OverridesEveryField(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("KIP_TOKEN", "s3cr3t")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("KIP_ENVIRONMENT", "staging")
	t.Setenv("TRACE_SAMPLE_RATIO", "0.25")
	t.Setenv("STORE_URI", "postgres://db/kip")
	t.Setenv("STORE_USER", "kip")
	t.Setenv("STORE_PASSWORD", "hunter2")
	t.Setenv("CURSOR_KEY", "a-real-secret")
	t.Setenv("SLOW_QUERY_MS", "250")
	t.Setenv("REQUEST_TIMEOUT_MS", "5000")
	t.Setenv("EMBEDDINGS_PROVIDER", "openai")
	t.Setenv("EMBEDDINGS_API_KEY", "sk-test")
	t.Setenv("EMBEDDINGS_MODEL", "text-embedding-3-small")

	cfg := defaults()
	applyEnv(cfg)

	switch {
	case cfg.Server.Port != 9090:
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	case cfg.Server.Token != "s3cr3t":
		t.Errorf("Token = %q, want s3cr3t", cfg.Server.Token)
	case cfg.Server.LogLevel != "debug":
		t.Errorf("LogLevel = %q, want debug", cfg.Server.LogLevel)
	case cfg.Server.Environment != "staging":
		t.Errorf("Environment = %q, want staging", cfg.Server.Environment)
	case cfg.Server.TraceSampleRatio != 0.25:
		t.Errorf("TraceSampleRatio = %v, want 0.25", cfg.Server.TraceSampleRatio)
	case cfg.Store.URI != "postgres://db/kip":
		t.Errorf("Store.URI = %q", cfg.Store.URI)
	case cfg.Store.User != "kip":
		t.Errorf("Store.User = %q", cfg.Store.User)
	case cfg.Store.Password != "hunter2":
		t.Errorf("Store.Password = %q", cfg.Store.Password)
	case cfg.Cursor.Key != "a-real-secret":
		t.Errorf("Cursor.Key = %q", cfg.Cursor.Key)
	case cfg.Query.SlowQueryMs != 250:
		t.Errorf("SlowQueryMs = %d, want 250", cfg.Query.SlowQueryMs)
	case cfg.Query.RequestTimeout != 5000*time.Millisecond:
		t.Errorf("RequestTimeout = %s, want 5s", cfg.Query.RequestTimeout)
	case cfg.Embed.Provider != "openai":
		t.Errorf("Embed.Provider = %q", cfg.Embed.Provider)
	case cfg.Embed.APIKey != "sk-test":
		t.Errorf("Embed.APIKey = %q", cfg.Embed.APIKey)
	case cfg.Embed.Model != "text-embedding-3-small":
		t.Errorf("Embed.Model = %q", cfg.Embed.Model)
	}
}

func TestApplyEnv_LeavesDefaultsWhenUnset(t *testing.T) {
	clearGatewayEnv(t)
	cfg := defaults()
	applyEnv(cfg)
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Port = %d, want default %d to survive an unset PORT", cfg.Server.Port, DefaultPort)
	}
}

func TestValidate_RejectsInvalidLogLevel(t *testing.T) {
	cfg := defaults()
	cfg.Store.URI = "postgres://db/kip"
	cfg.Server.LogLevel = "verbose"
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "log_level") {
		t.Errorf("Validate() = %v, want a log_level error", err)
	}
}

func TestValidate_RejectsOutOfRangePort(t *testing.T) {
	cfg := defaults()
	cfg.Store.URI = "postgres://db/kip"
	cfg.Server.Port = 70000
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "port") {
		t.Errorf("Validate() = %v, want a port error", err)
	}
}

func TestValidate_RequiresStoreURI(t *testing.T) {
	cfg := defaults()
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "store.uri") {
		t.Errorf("Validate() = %v, want a store.uri error", err)
	}
}

func TestValidate_RejectsNonPositiveTunables(t *testing.T) {
	cfg := defaults()
	cfg.Store.URI = "postgres://db/kip"
	cfg.Query.SlowQueryMs = 0
	cfg.Query.RequestTimeout = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors for non-positive slow_query_ms and request_timeout")
	}
	if !strings.Contains(err.Error(), "slow_query_ms") || !strings.Contains(err.Error(), "request_timeout") {
		t.Errorf("Validate() = %v, want both slow_query_ms and request_timeout errors", err)
	}
}

func TestValidate_RejectsOutOfRangeTraceSampleRatio(t *testing.T) {
	cfg := defaults()
	cfg.Store.URI = "postgres://db/kip"
	cfg.Server.TraceSampleRatio = 1.5
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "trace_sample_ratio") {
		t.Errorf("Validate() = %v, want a trace_sample_ratio error", err)
	}
}

func TestValidate_DefaultCursorKeyAndEmptyTokenAreSoftWarnings(t *testing.T) {
	cfg := defaults()
	cfg.Store.URI = "postgres://db/kip"
	// Neither the default cursor key nor an empty token is a hard failure;
	// both only produce a logged warning (spec.md §6, §9).
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate() = %v, want nil (warnings only)", err)
	}
}

func TestLoad_EmptyPathSkipsFileLoad(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("STORE_URI", "postgres://db/kip")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.Store.URI != "postgres://db/kip" {
		t.Errorf("Store.URI = %q, want the env override to apply with no file present", cfg.Store.URI)
	}
}

func TestLoad_MissingFilePathErrors(t *testing.T) {
	clearGatewayEnv(t)
	if _, err := Load("/nonexistent/path/to/config.yaml"); err == nil {
		t.Fatal("expected an error when the given config file path does not exist")
	}
}

func TestLoadFromReader_FileValuesOverriddenByEnv(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("STORE_URI", "postgres://env/kip")
	yaml := strings.NewReader("store:\n  uri: postgres://file/kip\n")
	cfg, err := LoadFromReader(yaml)
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Store.URI != "postgres://env/kip" {
		t.Errorf("Store.URI = %q, want the environment variable to win over the file value", cfg.Store.URI)
	}
}
