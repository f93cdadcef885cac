package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		envPort, envAPIKey, envMaxConcurrent, envStepTimeoutMS, envTotalTimeoutMS,
		envResultTTLSec, envRedisURL, envNATSURL, envMaxRetries, envRetryBaseMS,
		envRetryMaxMS, envMetricsAddr, envRateLimitRPS, envRateLimitBurst,
		envShutdownMS, envConfigFile,
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	if cfg.Port != 3000 {
		t.Fatalf("port = %d, want 3000", cfg.Port)
	}
	if cfg.AuthEnabled() {
		t.Fatalf("auth must be disabled without API_KEY")
	}
	if cfg.MaxConcurrent != 5 {
		t.Fatalf("max concurrent = %d, want 5", cfg.MaxConcurrent)
	}
	if cfg.StepTimeout != 120*time.Second {
		t.Fatalf("step timeout = %s", cfg.StepTimeout)
	}
	if cfg.TotalTimeout != 300*time.Second {
		t.Fatalf("total timeout = %s", cfg.TotalTimeout)
	}
	if cfg.ResultTTL != 604800*time.Second {
		t.Fatalf("result ttl = %s", cfg.ResultTTL)
	}
	if cfg.MaxRetries != 3 || cfg.RetryBase != time.Second || cfg.RetryMax != 10*time.Second {
		t.Fatalf("retry defaults wrong: %d %s %s", cfg.MaxRetries, cfg.RetryBase, cfg.RetryMax)
	}
	if cfg.RedisURL != "" {
		t.Fatalf("redis url should default empty (memory backend)")
	}
	if cfg.Addr() != ":3000" {
		t.Fatalf("addr = %q", cfg.Addr())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(envPort, "8080")
	t.Setenv(envAPIKey, "secret")
	t.Setenv(envMaxConcurrent, "2")
	t.Setenv(envStepTimeoutMS, "500")
	t.Setenv(envTotalTimeoutMS, "1500")
	t.Setenv(envResultTTLSec, "60")
	t.Setenv(envRedisURL, "redis://localhost:6379")

	cfg := Load()
	if cfg.Port != 8080 || cfg.APIKey != "secret" || cfg.MaxConcurrent != 2 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.StepTimeout != 500*time.Millisecond || cfg.TotalTimeout != 1500*time.Millisecond {
		t.Fatalf("timeout overrides not applied: %s %s", cfg.StepTimeout, cfg.TotalTimeout)
	}
	if cfg.ResultTTL != time.Minute {
		t.Fatalf("ttl override not applied: %s", cfg.ResultTTL)
	}
	if cfg.RedisURL != "redis://localhost:6379" {
		t.Fatalf("redis url not applied: %q", cfg.RedisURL)
	}
	if !cfg.AuthEnabled() {
		t.Fatalf("auth should be enabled")
	}
}

func TestLoadInvalidIntegerFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv(envMaxConcurrent, "not-a-number")

	cfg := Load()
	if cfg.MaxConcurrent != 5 {
		t.Fatalf("expected fallback to default, got %d", cfg.MaxConcurrent)
	}
}

func TestLoadConfigFileOverlay(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	body := []byte(`
port: 9000
api_key: from-file
workflow:
  max_concurrent: 7
  step_timeout_ms: 1000
retry:
  max_retries: 5
rate_limit:
  rps: 0
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(envConfigFile, path)

	cfg := Load()
	if cfg.Port != 9000 || cfg.APIKey != "from-file" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.MaxConcurrent != 7 || cfg.StepTimeout != time.Second {
		t.Fatalf("nested file values not applied: %d %s", cfg.MaxConcurrent, cfg.StepTimeout)
	}
	if cfg.MaxRetries != 5 {
		t.Fatalf("retry file value not applied: %d", cfg.MaxRetries)
	}
	if cfg.RateLimitRPS != 0 {
		t.Fatalf("explicit zero rps must disable rate limiting, got %d", cfg.RateLimitRPS)
	}
	// untouched values keep defaults
	if cfg.TotalTimeout != 300*time.Second {
		t.Fatalf("total timeout should stay default: %s", cfg.TotalTimeout)
	}
}

func TestEnvWinsOverFile(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte("port: 9000\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(envConfigFile, path)
	t.Setenv(envPort, "8081")

	cfg := Load()
	if cfg.Port != 8081 {
		t.Fatalf("env must win over file, got %d", cfg.Port)
	}
}

func TestLoadMissingConfigFileIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv(envConfigFile, filepath.Join(t.TempDir(), "absent.yaml"))

	cfg := Load()
	if cfg.Port != 3000 {
		t.Fatalf("missing file must leave defaults intact, got %d", cfg.Port)
	}
}
