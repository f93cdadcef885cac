package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/modelmux/modelmux/core/infra/logging"
)

const (
	defaultPort           = 3000
	defaultMaxConcurrent  = 5
	defaultStepTimeoutMS  = 120000
	defaultTotalTimeoutMS = 300000
	defaultResultTTLSec   = 604800
	defaultMaxRetries     = 3
	defaultRetryBaseMS    = 1000
	defaultRetryMaxMS     = 10000
	defaultMetricsAddr    = ":9091"
	defaultRateLimitRPS   = 50
	defaultRateLimitBurst = 100
	defaultShutdownMS     = 10000

	envPort           = "PORT"
	envAPIKey         = "API_KEY"
	envMaxConcurrent  = "WORKFLOW_MAX_CONCURRENT"
	envStepTimeoutMS  = "WORKFLOW_STEP_TIMEOUT_MS"
	envTotalTimeoutMS = "WORKFLOW_TOTAL_TIMEOUT_MS"
	envResultTTLSec   = "WORKFLOW_RESULT_TTL_SECONDS"
	envRedisURL       = "REDIS_URL"
	envNATSURL        = "NATS_URL"
	envMaxRetries     = "AI_MAX_RETRIES"
	envRetryBaseMS    = "AI_RETRY_BASE_MS"
	envRetryMaxMS     = "AI_RETRY_MAX_MS"
	envMetricsAddr    = "METRICS_ADDR"
	envRateLimitRPS   = "RATE_LIMIT_RPS"
	envRateLimitBurst = "RATE_LIMIT_BURST"
	envShutdownMS     = "SHUTDOWN_GRACE_MS"
	envConfigFile     = "CONFIG_FILE"
)

// Config holds runtime configuration for the gateway.
type Config struct {
	Port   int
	APIKey string

	MaxConcurrent int
	StepTimeout   time.Duration
	TotalTimeout  time.Duration
	ResultTTL     time.Duration

	MaxRetries int
	RetryBase  time.Duration
	RetryMax   time.Duration

	RedisURL string
	NatsURL  string

	MetricsAddr    string
	RateLimitRPS   int
	RateLimitBurst int
	ShutdownGrace  time.Duration
}

// Addr returns the API listen address derived from Port.
func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// AuthEnabled reports whether bearer auth is active.
func (c *Config) AuthEnabled() bool { return c.APIKey != "" }

// Load returns configuration from the environment with sane defaults.
// When CONFIG_FILE names a YAML file its values are applied first;
// environment variables win over file values.
func Load() *Config {
	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv(envConfigFile)); path != "" {
		if err := cfg.applyFile(path); err != nil {
			logging.Warn("config", "config file ignored", "path", path, "error", err)
		}
	}
	cfg.applyEnv()
	cfg.normalize()
	return cfg
}

func defaults() *Config {
	return &Config{
		Port:           defaultPort,
		MaxConcurrent:  defaultMaxConcurrent,
		StepTimeout:    defaultStepTimeoutMS * time.Millisecond,
		TotalTimeout:   defaultTotalTimeoutMS * time.Millisecond,
		ResultTTL:      defaultResultTTLSec * time.Second,
		MaxRetries:     defaultMaxRetries,
		RetryBase:      defaultRetryBaseMS * time.Millisecond,
		RetryMax:       defaultRetryMaxMS * time.Millisecond,
		MetricsAddr:    defaultMetricsAddr,
		RateLimitRPS:   defaultRateLimitRPS,
		RateLimitBurst: defaultRateLimitBurst,
		ShutdownGrace:  defaultShutdownMS * time.Millisecond,
	}
}

// fileConfig is the YAML overlay shape. Pointer fields distinguish
// "absent" from an explicit zero.
type fileConfig struct {
	Port        *int    `yaml:"port"`
	APIKey      *string `yaml:"api_key"`
	RedisURL    *string `yaml:"redis_url"`
	NatsURL     *string `yaml:"nats_url"`
	MetricsAddr *string `yaml:"metrics_addr"`

	Workflow struct {
		MaxConcurrent    *int `yaml:"max_concurrent"`
		StepTimeoutMS    *int `yaml:"step_timeout_ms"`
		TotalTimeoutMS   *int `yaml:"total_timeout_ms"`
		ResultTTLSeconds *int `yaml:"result_ttl_seconds"`
	} `yaml:"workflow"`

	Retry struct {
		MaxRetries  *int `yaml:"max_retries"`
		BaseDelayMS *int `yaml:"base_delay_ms"`
		MaxDelayMS  *int `yaml:"max_delay_ms"`
	} `yaml:"retry"`

	RateLimit struct {
		RPS   *int `yaml:"rps"`
		Burst *int `yaml:"burst"`
	} `yaml:"rate_limit"`

	ShutdownGraceMS *int `yaml:"shutdown_grace_ms"`
}

func (c *Config) applyFile(path string) error {
	// #nosec G304 -- config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	setInt(&c.Port, fc.Port)
	setString(&c.APIKey, fc.APIKey)
	setString(&c.RedisURL, fc.RedisURL)
	setString(&c.NatsURL, fc.NatsURL)
	setString(&c.MetricsAddr, fc.MetricsAddr)
	setInt(&c.MaxConcurrent, fc.Workflow.MaxConcurrent)
	setDurationMS(&c.StepTimeout, fc.Workflow.StepTimeoutMS)
	setDurationMS(&c.TotalTimeout, fc.Workflow.TotalTimeoutMS)
	setDurationSec(&c.ResultTTL, fc.Workflow.ResultTTLSeconds)
	setInt(&c.MaxRetries, fc.Retry.MaxRetries)
	setDurationMS(&c.RetryBase, fc.Retry.BaseDelayMS)
	setDurationMS(&c.RetryMax, fc.Retry.MaxDelayMS)
	setInt(&c.RateLimitRPS, fc.RateLimit.RPS)
	setInt(&c.RateLimitBurst, fc.RateLimit.Burst)
	setDurationMS(&c.ShutdownGrace, fc.ShutdownGraceMS)
	return nil
}

func (c *Config) applyEnv() {
	c.Port = envInt(envPort, c.Port)
	c.APIKey = envString(envAPIKey, c.APIKey)
	c.MaxConcurrent = envInt(envMaxConcurrent, c.MaxConcurrent)
	c.StepTimeout = envDurationMS(envStepTimeoutMS, c.StepTimeout)
	c.TotalTimeout = envDurationMS(envTotalTimeoutMS, c.TotalTimeout)
	c.ResultTTL = envDurationSec(envResultTTLSec, c.ResultTTL)
	c.MaxRetries = envInt(envMaxRetries, c.MaxRetries)
	c.RetryBase = envDurationMS(envRetryBaseMS, c.RetryBase)
	c.RetryMax = envDurationMS(envRetryMaxMS, c.RetryMax)
	c.RedisURL = envString(envRedisURL, c.RedisURL)
	c.NatsURL = envString(envNATSURL, c.NatsURL)
	c.MetricsAddr = envString(envMetricsAddr, c.MetricsAddr)
	c.RateLimitRPS = envInt(envRateLimitRPS, c.RateLimitRPS)
	c.RateLimitBurst = envInt(envRateLimitBurst, c.RateLimitBurst)
	c.ShutdownGrace = envDurationMS(envShutdownMS, c.ShutdownGrace)
}

func (c *Config) normalize() {
	if c.Port <= 0 {
		c.Port = defaultPort
	}
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = 1
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = 1
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = defaultStepTimeoutMS * time.Millisecond
	}
	if c.TotalTimeout <= 0 {
		c.TotalTimeout = defaultTotalTimeoutMS * time.Millisecond
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = defaultResultTTLSec * time.Second
	}
	if c.RateLimitRPS < 0 {
		c.RateLimitRPS = 0
	}
	if c.RateLimitBurst < 1 {
		c.RateLimitBurst = c.RateLimitRPS
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDurationMS(dst *time.Duration, v *int) {
	if v != nil {
		*dst = time.Duration(*v) * time.Millisecond
	}
}

func setDurationSec(dst *time.Duration, v *int) {
	if v != nil {
		*dst = time.Duration(*v) * time.Second
	}
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logging.Warn("config", "ignoring invalid integer", "key", key, "value", v)
		return fallback
	}
	return n
}

func envDurationMS(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		logging.Warn("config", "ignoring invalid duration", "key", key, "value", v)
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}

func envDurationSec(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		logging.Warn("config", "ignoring invalid duration", "key", key, "value", v)
		return fallback
	}
	return time.Duration(n) * time.Second
}
