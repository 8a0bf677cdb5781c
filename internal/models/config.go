// Package models - Gateway configuration and operational settings.
// This file defines the configuration structures for every gateway component.
//
// Configuration Layout:
// - Server: listener, timeouts, TLS and CORS
// - Security: API key authentication, rate limiting, admin bearer tokens
// - Upstream: AI provider and code-hosting platform endpoints
// - Logging, Metrics, Observability: ambient operational concerns
//
// The structure is built once at startup by the config package, validated,
// and then passed down by value or pointer. Nothing mutates it afterwards.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Key store type constants
const (
	KeyStoreNone     = "none"
	KeyStoreMemory   = "memory"
	KeyStoreJSON     = "json"
	KeyStoreSQLite   = "sqlite"
	KeyStorePostgres = "postgres"
)

// Rate limit store constants
const (
	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

// Environment names
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Config is the root configuration structure containing all gateway settings.
type Config struct {
	Environment   string              `yaml:"environment" json:"environment"`
	Server        ServerConfig        `yaml:"server" json:"server"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Upstream      UpstreamConfig      `yaml:"upstream" json:"upstream"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
	CORS         CORSConfig    `yaml:"cors" json:"cors"`
}

type CORSConfig struct {
	Enabled          bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins   []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers" json:"allowed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials" json:"allow_credentials"`
	MaxAge           int      `yaml:"max_age" json:"max_age"`
}

type SecurityConfig struct {
	APIKeyAuth        APIKeyAuthConfig `yaml:"api_key_auth" json:"api_key_auth"`
	RateLimit         RateLimitConfig  `yaml:"rate_limit" json:"rate_limit"`
	JWT               JWTConfig        `yaml:"jwt" json:"jwt"`
	TrustProxyHeaders bool             `yaml:"trust_proxy_headers" json:"trust_proxy_headers"`
}

// APIKeyAuthConfig controls the API key validator. Keys listed here are raw
// values; keys held in the key store are only ever known by their hash.
type APIKeyAuthConfig struct {
	Enabled bool           `yaml:"enabled" json:"enabled"`
	Keys    []string       `yaml:"keys" json:"-"`
	Store   KeyStoreConfig `yaml:"store" json:"store"`
}

type KeyStoreConfig struct {
	Type string `yaml:"type" json:"type"`
	DSN  string `yaml:"dsn" json:"-"`
}

// RateLimitConfig holds the sliding-window quota. Max applies to anonymous
// callers (keyed by address), MaxPerKey to callers with a validated API key.
type RateLimitConfig struct {
	Enabled   bool             `yaml:"enabled" json:"enabled"`
	Window    time.Duration    `yaml:"window" json:"window"`
	Max       int              `yaml:"max" json:"max"`
	MaxPerKey int              `yaml:"max_per_key" json:"max_per_key"`
	Store     string           `yaml:"store" json:"store"`
	Redis     RedisConfig      `yaml:"redis" json:"redis"`
	Chat      RouteLimitConfig `yaml:"chat" json:"chat"`
}

// RouteLimitConfig configures an additional limiter instance scoped to a
// route group. Zero values inherit from the global limiter.
type RouteLimitConfig struct {
	Enabled   bool          `yaml:"enabled" json:"enabled"`
	Window    time.Duration `yaml:"window" json:"window"`
	Max       int           `yaml:"max" json:"max"`
	MaxPerKey int           `yaml:"max_per_key" json:"max_per_key"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"-"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

type JWTConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Secret  string `yaml:"secret" json:"-"`
	Issuer  string `yaml:"issuer" json:"issuer"`
}

type UpstreamConfig struct {
	OpenRouter OpenRouterConfig `yaml:"openrouter" json:"openrouter"`
	GitHub     GitHubConfig     `yaml:"github" json:"github"`
}

type OpenRouterConfig struct {
	APIKey            string        `yaml:"api_key" json:"-"`
	BaseURL           string        `yaml:"base_url" json:"base_url"`
	DefaultModel      string        `yaml:"default_model" json:"default_model"`
	MaxTokens         int           `yaml:"max_tokens" json:"max_tokens"`
	Temperature       float64       `yaml:"temperature" json:"temperature"`
	Referer           string        `yaml:"referer" json:"referer"`
	Title             string        `yaml:"title" json:"title"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
}

type GitHubConfig struct {
	Token             string        `yaml:"token" json:"-"`
	RESTBaseURL       string        `yaml:"rest_base_url" json:"rest_base_url"`
	GraphQLURL        string        `yaml:"graphql_url" json:"graphql_url"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with the gateway defaults.
//
// Default Values:
// - Port 3000, CORS open to any origin without credentials
// - 15 minute window, 100 anonymous / 1000 keyed requests per window
// - API key auth disabled until keys are provisioned
// - OpenRouter and GitHub public endpoints, no credentials
func NewDefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Server: ServerConfig{
			Port:         3000,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
			MaxBodyBytes: 10 << 20,
			CORS: CORSConfig{
				Enabled:          true,
				AllowedOrigins:   []string{"*"},
				AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders:   []string{"Content-Type", "Authorization", "X-API-Key"},
				AllowCredentials: false,
				MaxAge:           86400,
			},
		},
		Security: SecurityConfig{
			APIKeyAuth: APIKeyAuthConfig{
				Enabled: false,
				Keys:    []string{},
				Store:   KeyStoreConfig{Type: KeyStoreNone},
			},
			RateLimit: RateLimitConfig{
				Enabled:   true,
				Window:    15 * time.Minute,
				Max:       100,
				MaxPerKey: 1000,
				Store:     RateLimitStoreMemory,
				Redis: RedisConfig{
					Addr:      "localhost:6379",
					KeyPrefix: "pulse:ratelimit:",
				},
			},
		},
		Upstream: UpstreamConfig{
			OpenRouter: OpenRouterConfig{
				BaseURL:           "https://openrouter.ai/api/v1",
				DefaultModel:      "anthropic/claude-3-haiku",
				MaxTokens:         1000,
				Temperature:       0.7,
				Referer:           "http://localhost:3000",
				Title:             "Pulse Server",
				Timeout:           30 * time.Second,
				RequestsPerSecond: 5,
				MaxRetries:        2,
			},
			GitHub: GitHubConfig{
				RESTBaseURL:       "https://api.github.com",
				GraphQLURL:        "https://api.github.com/graphql",
				Timeout:           15 * time.Second,
				RequestsPerSecond: 10,
				MaxRetries:        3,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "pulse",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

// IsDevelopment reports whether the gateway runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}

	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("invalid upstream config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.MaxBodyBytes <= 0 {
		return errors.New("max body bytes must be positive")
	}

	if sc.CORS.Enabled && sc.CORS.AllowCredentials {
		for _, origin := range sc.CORS.AllowedOrigins {
			if origin == "*" {
				return errors.New("CORS credentials cannot be allowed for wildcard origin")
			}
		}
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (sec *SecurityConfig) Validate() error {
	if err := sec.APIKeyAuth.Validate(); err != nil {
		return err
	}

	if err := sec.RateLimit.Validate(); err != nil {
		return err
	}

	if sec.JWT.Enabled && len(sec.JWT.Secret) < 32 {
		return errors.New("jwt secret must be at least 32 characters when jwt is enabled")
	}

	return nil
}

func (ac *APIKeyAuthConfig) Validate() error {
	switch ac.Store.Type {
	case KeyStoreNone, KeyStoreMemory:
	case KeyStoreJSON, KeyStoreSQLite, KeyStorePostgres:
		if ac.Store.DSN == "" {
			return fmt.Errorf("key store DSN is required for %s", ac.Store.Type)
		}
	default:
		return fmt.Errorf("invalid key store type: %s", ac.Store.Type)
	}

	for _, k := range ac.Keys {
		if k == "" {
			return errors.New("API key cannot be empty")
		}
	}

	if !ac.Enabled {
		return nil
	}

	// With no store the allow-list is fixed at startup, so an empty list
	// would reject every request.
	if len(ac.Keys) == 0 && (ac.Store.Type == KeyStoreNone || ac.Store.Type == KeyStoreMemory) {
		return errors.New("API key auth is enabled but no keys are configured")
	}

	return nil
}

func (rl *RateLimitConfig) Validate() error {
	if !rl.Enabled {
		return nil
	}

	if rl.Window < time.Second {
		return errors.New("rate limit window must be at least one second")
	}
	if rl.Max <= 0 {
		return errors.New("rate limit max must be positive")
	}
	if rl.MaxPerKey <= 0 {
		return errors.New("rate limit max per key must be positive")
	}

	switch rl.Store {
	case RateLimitStoreMemory:
	case RateLimitStoreRedis:
		if rl.Redis.Addr == "" {
			return errors.New("redis address is required when rate limit store is redis")
		}
	default:
		return fmt.Errorf("invalid rate limit store: %s", rl.Store)
	}

	if rl.Chat.Window < 0 || rl.Chat.Max < 0 || rl.Chat.MaxPerKey < 0 {
		return errors.New("chat rate limit values cannot be negative")
	}

	return nil
}

// Resolve returns the effective route limit, inheriting unset values from
// the global configuration.
func (rc RouteLimitConfig) Resolve(global RateLimitConfig) RouteLimitConfig {
	if rc.Window == 0 {
		rc.Window = global.Window
	}
	if rc.Max == 0 {
		rc.Max = global.Max
	}
	if rc.MaxPerKey == 0 {
		rc.MaxPerKey = global.MaxPerKey
	}
	return rc
}

func (uc *UpstreamConfig) Validate() error {
	if uc.OpenRouter.BaseURL == "" {
		return errors.New("openrouter base URL cannot be empty")
	}
	if uc.OpenRouter.MaxTokens <= 0 {
		return errors.New("openrouter max tokens must be positive")
	}
	if uc.OpenRouter.Temperature < 0 || uc.OpenRouter.Temperature > 2 {
		return errors.New("openrouter temperature must be between 0 and 2")
	}
	if uc.GitHub.RESTBaseURL == "" || uc.GitHub.GraphQLURL == "" {
		return errors.New("github endpoints cannot be empty")
	}
	if uc.OpenRouter.RequestsPerSecond < 0 || uc.GitHub.RequestsPerSecond < 0 {
		return errors.New("upstream requests per second cannot be negative")
	}
	if uc.OpenRouter.MaxRetries < 0 || uc.GitHub.MaxRetries < 0 {
		return errors.New("upstream max retries cannot be negative")
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	switch lc.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	switch lc.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	switch lc.Output {
	case "stdout", "stderr":
	case "file":
		if lc.FilePath == "" {
			return errors.New("file path is required when output is file")
		}
	default:
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if !oc.Tracing.Enabled {
		return nil
	}

	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty when tracing is enabled")
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("otlp endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	return nil
}
