package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"pulse/internal/models"
)

// envFiles are read before the YAML file. Variables already present in the
// process environment are never overridden.
var envFiles = []string{".env.local", ".env"}

// Load loads configuration from defaults, .env files, an optional YAML file
// and environment variables, in that order, and validates the result.
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadEnvFiles loads each existing file into the process environment.
// Missing files are skipped.
func loadEnvFiles(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("%s: %w", f, err)
		}
	}
	return nil
}

// deprecatedConfig mirrors removed config fields for detecting stale operator configs.
type deprecatedConfig struct {
	Security struct {
		EnableAuth *bool       `yaml:"enable_auth"`
		APIKeys    interface{} `yaml:"api_keys"`
		RateLimit  struct {
			RequestsPerMinute *int `yaml:"requests_per_minute"`
			BurstSize         *int `yaml:"burst_size"`
		} `yaml:"rate_limit"`
	} `yaml:"security"`
	Storage interface{} `yaml:"storage"`
	Cache   interface{} `yaml:"cache"`
}

// warnDeprecatedKeys logs a warning for each removed config key found in the YAML data.
// The gateway continues to start normally - these keys are ignored by the main decoder.
func warnDeprecatedKeys(data []byte) {
	var dep deprecatedConfig
	if err := yaml.Unmarshal(data, &dep); err != nil {
		return
	}
	if dep.Security.EnableAuth != nil {
		slog.Warn("Config key is no longer used; set security.api_key_auth.enabled instead.", "config_key", "security.enable_auth")
	}
	if dep.Security.APIKeys != nil {
		slog.Warn("Config key is no longer used; list raw keys under security.api_key_auth.keys.", "config_key", "security.api_keys")
	}
	if dep.Security.RateLimit.RequestsPerMinute != nil || dep.Security.RateLimit.BurstSize != nil {
		slog.Warn("Token bucket settings are no longer supported; configure security.rate_limit.window and max.", "config_key", "security.rate_limit.requests_per_minute")
	}
	if dep.Storage != nil {
		slog.Warn("Config key is no longer used; configure security.api_key_auth.store.", "config_key", "storage")
	}
	if dep.Cache != nil {
		slog.Warn("Config key is no longer used; configure security.rate_limit.store.", "config_key", "cache")
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnDeprecatedKeys(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// lookup returns the first non-empty variable among names.
func lookup(names ...string) (string, bool) {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v, true
		}
	}
	return "", false
}

func setString(dst *string, names ...string) {
	if v, ok := lookup(names...); ok {
		*dst = v
	}
}

func setInt(dst *int, names ...string) {
	if v, ok := lookup(names...); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		} else {
			slog.Warn("Ignoring non-integer environment value", "variable", names[0], "value", v)
		}
	}
}

func setFloat(dst *float64, names ...string) {
	if v, ok := lookup(names...); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		} else {
			slog.Warn("Ignoring non-numeric environment value", "variable", names[0], "value", v)
		}
	}
}

func setBool(dst *bool, names ...string) {
	if v, ok := lookup(names...); ok {
		*dst = strings.ToLower(v) == "true"
	}
}

func setDuration(dst *time.Duration, names ...string) {
	if v, ok := lookup(names...); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		} else {
			slog.Warn("Ignoring invalid duration in environment", "variable", names[0], "value", v)
		}
	}
}

// setMillis reads a positive whole number of milliseconds.
func setMillis(dst *time.Duration, names ...string) {
	ms := 0
	setInt(&ms, names...)
	if ms > 0 {
		*dst = time.Duration(ms) * time.Millisecond
	}
}

// splitList splits a comma separated value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadFromEnvironment loads configuration from environment variables.
// PULSE_* names win over the unprefixed names the gateway also honours.
func loadFromEnvironment(config *models.Config) {
	setString(&config.Environment, "PULSE_ENV", "NODE_ENV")

	// Server configuration
	setInt(&config.Server.Port, "PULSE_PORT", "PORT")
	setString(&config.Server.Host, "PULSE_HOST")
	setDuration(&config.Server.ReadTimeout, "PULSE_READ_TIMEOUT")
	setDuration(&config.Server.WriteTimeout, "PULSE_WRITE_TIMEOUT")
	setDuration(&config.Server.IdleTimeout, "PULSE_IDLE_TIMEOUT")
	setBool(&config.Server.TLSEnabled, "PULSE_TLS_ENABLED")
	setString(&config.Server.TLSCertFile, "PULSE_TLS_CERT_FILE")
	setString(&config.Server.TLSKeyFile, "PULSE_TLS_KEY_FILE")

	if origins, ok := lookup("PULSE_CORS_ORIGIN", "CORS_ORIGIN"); ok {
		config.Server.CORS.AllowedOrigins = splitList(origins)
	}

	// API key authentication
	setBool(&config.Security.APIKeyAuth.Enabled, "PULSE_API_KEY_AUTH_ENABLED")
	if keys, ok := lookup("PULSE_API_KEYS"); ok {
		config.Security.APIKeyAuth.Keys = splitList(keys)
	}
	setString(&config.Security.APIKeyAuth.Store.Type, "PULSE_KEY_STORE_TYPE")
	setString(&config.Security.APIKeyAuth.Store.DSN, "PULSE_KEY_STORE_DSN")

	// Rate limiting
	rl := &config.Security.RateLimit
	setBool(&rl.Enabled, "PULSE_RATE_LIMIT_ENABLED")
	setMillis(&rl.Window, "PULSE_RATE_LIMIT_WINDOW_MS")
	setInt(&rl.Max, "PULSE_RATE_LIMIT_MAX")
	setInt(&rl.MaxPerKey, "PULSE_RATE_LIMIT_MAX_PER_KEY")
	setString(&rl.Store, "PULSE_RATE_LIMIT_STORE")
	setString(&rl.Redis.Addr, "PULSE_REDIS_ADDR")
	setString(&rl.Redis.Password, "PULSE_REDIS_PASSWORD")
	setInt(&rl.Redis.DB, "PULSE_REDIS_DB")
	setBool(&rl.Chat.Enabled, "PULSE_CHAT_RATE_LIMIT_ENABLED")
	setMillis(&rl.Chat.Window, "PULSE_CHAT_RATE_LIMIT_WINDOW_MS")
	setInt(&rl.Chat.Max, "PULSE_CHAT_RATE_LIMIT_MAX")
	setInt(&rl.Chat.MaxPerKey, "PULSE_CHAT_RATE_LIMIT_MAX_PER_KEY")
	setBool(&config.Security.TrustProxyHeaders, "PULSE_TRUST_PROXY_HEADERS")

	// Admin bearer tokens
	setBool(&config.Security.JWT.Enabled, "PULSE_JWT_ENABLED")
	setString(&config.Security.JWT.Secret, "PULSE_JWT_SECRET", "JWT_SECRET")

	// Upstreams
	or := &config.Upstream.OpenRouter
	setString(&or.APIKey, "OPENROUTER_API_KEY")
	setString(&or.BaseURL, "OPENROUTER_BASE_URL")
	setString(&or.DefaultModel, "DEFAULT_AI_MODEL")
	setInt(&or.MaxTokens, "MAX_TOKENS")
	setFloat(&or.Temperature, "TEMPERATURE")

	gh := &config.Upstream.GitHub
	setString(&gh.Token, "GITHUB_TOKEN")
	setString(&gh.RESTBaseURL, "GITHUB_REST_URL")
	setString(&gh.GraphQLURL, "GITHUB_GRAPHQL_URL")

	// Logging configuration
	setString(&config.Logging.Level, "PULSE_LOG_LEVEL")
	setString(&config.Logging.Format, "PULSE_LOG_FORMAT")
	setString(&config.Logging.Output, "PULSE_LOG_OUTPUT")
	setString(&config.Logging.FilePath, "PULSE_LOG_FILE_PATH")

	// Metrics configuration
	setBool(&config.Metrics.Enabled, "PULSE_METRICS_ENABLED")
	setString(&config.Metrics.Path, "PULSE_METRICS_PATH")
	setInt(&config.Metrics.Port, "PULSE_METRICS_PORT")

	// Tracing configuration
	setBool(&config.Observability.Tracing.Enabled, "PULSE_TRACING_ENABLED")
	setString(&config.Observability.Tracing.Exporter, "PULSE_TRACING_EXPORTER")
	setString(&config.Observability.Tracing.OTLPEndpoint, "PULSE_TRACING_OTLP_ENDPOINT")
	setFloat(&config.Observability.Tracing.SampleRate, "PULSE_TRACING_SAMPLE_RATE")
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()

	config.Security.APIKeyAuth.Enabled = true
	config.Security.APIKeyAuth.Keys = []string{"sk-dev-replace-with-output-of-keygen"}
	config.Security.APIKeyAuth.Store = models.KeyStoreConfig{Type: models.KeyStoreSQLite, DSN: "./data/keys.db"}
	config.Security.RateLimit.Chat = models.RouteLimitConfig{Enabled: true, Max: 20, MaxPerKey: 200}

	// Example TLS configuration
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"

	// Marshal to YAML
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
