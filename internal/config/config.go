// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Portal        PortalConfig        `yaml:"portal"`
	Capability    CapabilityConfig    `yaml:"capability"`
	Drafts        DraftsConfig        `yaml:"drafts"`
	Audit         AuditConfig         `yaml:"audit"`
	Ingestion     IngestionConfig     `yaml:"ingestion"`
	Stages        StagesConfig        `yaml:"stages"`
	Templates     TemplatesConfig     `yaml:"templates"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes JWT and identity provider settings.
type IdentityConfig struct {
	Issuer       string            `yaml:"issuer"`
	Audience     string            `yaml:"audience"`
	JWKSURL      string            `yaml:"jwks_url"`
	JWKSCacheTTL time.Duration     `yaml:"jwks_cache_ttl"`
	Algorithms   []string          `yaml:"algorithms"`
	ClaimPaths   map[string]string `yaml:"claim_paths"`
}

// PortalConfig describes the portal REST backend.
type PortalConfig struct {
	BaseURL          string               `yaml:"base_url"`
	SpecFile         string               `yaml:"spec_file"`
	Timeout          time.Duration        `yaml:"timeout"`
	MaxResponseBytes int64                `yaml:"max_response_bytes"`
	CircuitBreaker   CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry            RetryConfig          `yaml:"retry"`
}

// CircuitBreakerConfig describes circuit breaker settings.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window"`
}

// RetryConfig describes retry settings. Proposal writes are never retried
// unless IdempotentOnly is switched off.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	IdempotentOnly    bool          `yaml:"idempotent_only"`
}

// CapabilityConfig describes authorization settings.
type CapabilityConfig struct {
	StaticPolicyFile string      `yaml:"static_policy_file"`
	Cache            CacheConfig `yaml:"cache"`
}

// CacheConfig describes cache settings.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// DraftsConfig describes where in-progress proposals are kept.
type DraftsConfig struct {
	Store           string        `yaml:"store"` // "memory" or "redis"
	TTL             time.Duration `yaml:"ttl"`
	JanitorSchedule string        `yaml:"janitor_schedule"`
	Redis           RedisConfig   `yaml:"redis"`
}

// RedisConfig describes a Redis connection.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// AuditConfig describes the review audit trail store.
type AuditConfig struct {
	Store           string        `yaml:"store"` // "memory" or "postgres"
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// IngestionConfig describes spreadsheet upload limits.
type IngestionConfig struct {
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// StagesConfig describes how stage windows are evaluated.
type StagesConfig struct {
	// Timezone is the IANA zone whose midnight opens a stage.
	Timezone string `yaml:"timezone"`
}

// TemplatesConfig describes spreadsheet template downloads.
type TemplatesConfig struct {
	// BaseURL, when set, is where static templates live; downloads redirect
	// there. When empty templates are generated on the fly.
	BaseURL string `yaml:"base_url"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config populated with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			HandlerTimeout:  30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"RS256"},
			ClaimPaths: map[string]string{
				"subject_id":    "sub",
				"email":         "email",
				"roles":         "roles",
				"department_id": "department_id",
			},
		},
		Portal: PortalConfig{
			Timeout:          10 * time.Second,
			MaxResponseBytes: 10 << 20,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:       1,
				BackoffInitial:    100 * time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        2 * time.Second,
				IdempotentOnly:    true,
			},
		},
		Capability: CapabilityConfig{
			Cache: CacheConfig{
				TTL:        5 * time.Minute,
				MaxEntries: 10000,
			},
		},
		Drafts: DraftsConfig{
			Store:           "memory",
			TTL:             24 * time.Hour,
			JanitorSchedule: "@every 10m",
			Redis: RedisConfig{
				KeyPrefix: "hibah:draft:",
			},
		},
		Audit: AuditConfig{
			Store:           "memory",
			MaxOpenConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Ingestion: IngestionConfig{
			MaxUploadBytes: 10 << 20,
		},
		Stages: StagesConfig{
			Timezone: "Asia/Jakarta",
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Identity.Issuer == "" {
		errs = append(errs, "identity.issuer is required")
	}
	if c.Identity.JWKSURL == "" {
		errs = append(errs, "identity.jwks_url is required")
	}
	if c.Identity.Audience == "" {
		errs = append(errs, "identity.audience is required")
	}
	if c.Portal.BaseURL == "" && c.Portal.SpecFile == "" {
		errs = append(errs, "portal.base_url is required")
	}

	switch c.Drafts.Store {
	case "memory":
	case "redis":
		if c.Drafts.Redis.Addr == "" {
			errs = append(errs, "drafts.redis.addr is required for the redis store")
		}
	default:
		errs = append(errs, fmt.Sprintf("drafts.store %q is not one of memory, redis", c.Drafts.Store))
	}
	if c.Drafts.TTL <= 0 {
		errs = append(errs, "drafts.ttl must be positive")
	}

	switch c.Audit.Store {
	case "memory":
	case "postgres":
		if c.Audit.DSN == "" {
			errs = append(errs, "audit.dsn is required for the postgres store")
		}
	default:
		errs = append(errs, fmt.Sprintf("audit.store %q is not one of memory, postgres", c.Audit.Store))
	}

	if c.Ingestion.MaxUploadBytes <= 0 {
		errs = append(errs, "ingestion.max_upload_bytes must be positive")
	}
	if _, err := time.LoadLocation(c.Stages.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("stages.timezone %q: %v", c.Stages.Timezone, err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Location returns the zone stage windows are evaluated in. It falls back to
// UTC for an unknown zone; Validate reports that case.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Stages.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// applyEnvOverrides reads HIBAH_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HIBAH_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("HIBAH_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("HIBAH_IDENTITY_JWKS_URL"); v != "" {
		cfg.Identity.JWKSURL = v
	}
	if v := os.Getenv("HIBAH_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("HIBAH_PORTAL_BASE_URL"); v != "" {
		cfg.Portal.BaseURL = v
	}
	if v := os.Getenv("HIBAH_DRAFTS_STORE"); v != "" {
		cfg.Drafts.Store = v
	}
	if v := os.Getenv("HIBAH_DRAFTS_REDIS_ADDR"); v != "" {
		cfg.Drafts.Redis.Addr = v
	}
	if v := os.Getenv("HIBAH_DRAFTS_REDIS_PASSWORD"); v != "" {
		cfg.Drafts.Redis.Password = v
	}
	if v := os.Getenv("HIBAH_AUDIT_STORE"); v != "" {
		cfg.Audit.Store = v
	}
	if v := os.Getenv("HIBAH_AUDIT_DSN"); v != "" {
		cfg.Audit.DSN = v
	}
	if v := os.Getenv("HIBAH_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
