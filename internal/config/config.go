// Package config handles loading and validating Jace configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Jace.
type Config struct {
	Workspace     string               `json:"workspace,omitempty" yaml:"workspace,omitempty"` // Task workspace root. Default: ~/.jace/workspace. Override: JACE_WORKSPACE env var.
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`   // Persistent data directory. Default: ~/.jace/data. Override: JACE_DATA_DIR env var.
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`     // nil = SQLite default (derived from data dir)
	Executor      ExecutorConfig       `json:"executor" yaml:"executor"`
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	Gateways      GatewaysConfig       `json:"gateways" yaml:"gateways"`
	Pipeline      *PipelineConfig      `json:"pipeline,omitempty" yaml:"pipeline,omitempty"`           // nil = file pipeline disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data directory.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"` // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"`
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
// DSN can be overridden by the JACE_DB_DSN env var.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ExecutorConfig configures the sandboxed command executor.
// Empty whitelist/blocklist fall back to the built-in defaults.
type ExecutorConfig struct {
	Whitelist             map[string][]string `json:"whitelist,omitempty" yaml:"whitelist,omitempty"`
	Blocklist             []string            `json:"blocklist,omitempty" yaml:"blocklist,omitempty"`
	DefaultTimeoutSeconds int                 `json:"default_timeout_seconds" yaml:"default_timeout_seconds"` // Default: 30.
	MaxOutputBytes        int                 `json:"max_output_bytes" yaml:"max_output_bytes"`               // Default: 1 MiB.
}

// DefaultTimeout returns the per-command timeout with a default of 30s.
func (e *ExecutorConfig) DefaultTimeout() time.Duration {
	if e != nil && e.DefaultTimeoutSeconds > 0 {
		return time.Duration(e.DefaultTimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// ProvidersConfig configures LLM access.
type ProvidersConfig struct {
	OpenRouter OpenRouterConfig `json:"openrouter" yaml:"openrouter"`
}

// OpenRouterConfig configures the OpenRouter provider.
// API key can be set here or via the OPENROUTER_API_KEY env var; the
// environment variable takes precedence.
type OpenRouterConfig struct {
	APIKey        string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Model         string `json:"model" yaml:"model"`                   // Default: "anthropic/claude-3.5-sonnet".
	FallbackModel string `json:"fallback_model" yaml:"fallback_model"` // Default: "anthropic/claude-3-haiku". "none" disables fallback.
	BaseURL       string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	SiteURL       string `json:"site_url,omitempty" yaml:"site_url,omitempty"` // HTTP-Referer attribution header.
	AppName       string `json:"app_name,omitempty" yaml:"app_name,omitempty"` // X-Title attribution header.
}

// PrimaryModel returns the configured model with the default applied.
func (o *OpenRouterConfig) PrimaryModel() string {
	if o.Model != "" {
		return o.Model
	}
	return "anthropic/claude-3.5-sonnet"
}

// SecondaryModel returns the fallback model, or "" when fallback is
// disabled with "none".
func (o *OpenRouterConfig) SecondaryModel() string {
	switch o.FallbackModel {
	case "":
		return "anthropic/claude-3-haiku"
	case "none":
		return ""
	default:
		return o.FallbackModel
	}
}

// GatewaysConfig defines which gateways are enabled and their settings.
// Nil pointers mean the gateway is not configured.
type GatewaysConfig struct {
	HTTP  *HTTPGatewayConfig  `json:"http,omitempty" yaml:"http,omitempty"`
	Slack *SlackGatewayConfig `json:"slack,omitempty" yaml:"slack,omitempty"`
}

// HTTPGatewayConfig configures the HTTP API gateway.
type HTTPGatewayConfig struct {
	Enabled             bool              `json:"enabled" yaml:"enabled"`
	EnableDocs          bool              `json:"enable_docs" yaml:"enable_docs"`
	ListenAddr          string            `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	MaxRequestSizeBytes int64             `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`
	APIKeyUserMapping   map[string]string `json:"api_key_user_mapping" yaml:"api_key_user_mapping"` // API key → user ID.
	RateLimit           RateLimitConfig   `json:"rate_limit" yaml:"rate_limit"`
}

// Addr returns the listen address with a default of ":8080".
func (h *HTTPGatewayConfig) Addr() string {
	if h != nil && h.ListenAddr != "" {
		return h.ListenAddr
	}
	return ":8080"
}

// SlackGatewayConfig configures the Slack gateway.
// Signing secret and bot token can be set here or via SLACK_SIGNING_SECRET /
// SLACK_BOT_TOKEN env vars. Environment variables take precedence.
type SlackGatewayConfig struct {
	Enabled       bool              `json:"enabled" yaml:"enabled"`
	SigningSecret string            `json:"signing_secret,omitempty" yaml:"signing_secret,omitempty"` // Override: SLACK_SIGNING_SECRET env var.
	BotToken      string            `json:"bot_token,omitempty" yaml:"bot_token,omitempty"`           // Override: SLACK_BOT_TOKEN env var.
	ListenAddr    string            `json:"listen_addr" yaml:"listen_addr"`                           // Default: ":8082".
	UserMapping   map[string]string `json:"user_mapping" yaml:"user_mapping"`                         // Slack user ID → username. Empty = deny all.
	RateLimit     RateLimitConfig   `json:"rate_limit" yaml:"rate_limit"`
}

// Addr returns the listen address with a default of ":8082".
func (s *SlackGatewayConfig) Addr() string {
	if s != nil && s.ListenAddr != "" {
		return s.ListenAddr
	}
	return ":8082"
}

// RateLimitConfig configures per-user rate limiting for a gateway.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// PipelineConfig configures the file-based task pipeline.
type PipelineConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Dir       string `json:"dir" yaml:"dir"`             // Pipeline root holding todo/doing/done/failed. Default: <data_dir>/pipeline.
	Schedule  string `json:"schedule" yaml:"schedule"`   // Cron expression. Default: "@every 1m".
	GitCommit bool   `json:"git_commit" yaml:"git_commit"` // Commit pipeline transitions to git.
}

// CronSchedule returns the scan schedule with a default of every minute.
func (p *PipelineConfig) CronSchedule() string {
	if p != nil && p.Schedule != "" {
		return p.Schedule
	}
	return "@every 1m"
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "jace"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// HealthConfig configures dependency health checks for readiness probes.
type HealthConfig struct {
	IncludeDB        bool `json:"include_db" yaml:"include_db"`
	IncludeWorkspace bool `json:"include_workspace" yaml:"include_workspace"`
}

// DefaultConfigPath returns the default config file path (~/.jace/config.json).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/jace.json" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".jace", "config.json")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Secrets can be set in the config file or overridden by
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides lets environment variables take precedence over
// config file values.
func (c *Config) applyEnvOverrides() {
	if envKey := os.Getenv("OPENROUTER_API_KEY"); envKey != "" {
		c.Providers.OpenRouter.APIKey = envKey
	}
	if envWS := os.Getenv("JACE_WORKSPACE"); envWS != "" {
		c.Workspace = envWS
	}
	if envDD := os.Getenv("JACE_DATA_DIR"); envDD != "" {
		c.DataDir = envDD
	}
	if envDSN := os.Getenv("JACE_DB_DSN"); envDSN != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = envDSN
	}
	if envKey := os.Getenv("SLACK_SIGNING_SECRET"); envKey != "" {
		if c.Gateways.Slack == nil {
			c.Gateways.Slack = &SlackGatewayConfig{}
		}
		c.Gateways.Slack.SigningSecret = envKey
	}
	if envKey := os.Getenv("SLACK_BOT_TOKEN"); envKey != "" {
		if c.Gateways.Slack == nil {
			c.Gateways.Slack = &SlackGatewayConfig{}
		}
		c.Gateways.Slack.BotToken = envKey
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedWorkspace returns the task workspace root, resolving ~ if needed.
func (c *Config) ResolvedWorkspace() string {
	if c.Workspace == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "workspace"
		}
		return filepath.Join(home, ".jace", "workspace")
	}
	resolved, err := resolvePath(c.Workspace)
	if err != nil {
		return c.Workspace
	}
	return resolved
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".jace", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.ResolvedDataDir(), "jace.db")
}

// PipelineDir returns the pipeline root directory.
func (c *Config) PipelineDir() string {
	if c.Pipeline != nil && c.Pipeline.Dir != "" {
		return c.Pipeline.Dir
	}
	return filepath.Join(c.ResolvedDataDir(), "pipeline")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

func (c *Config) validate() error {
	if c.Providers.OpenRouter.APIKey == "" {
		return fmt.Errorf("providers.openrouter.api_key is required (set OPENROUTER_API_KEY env var)")
	}
	if c.Executor.DefaultTimeoutSeconds < 0 {
		return fmt.Errorf("executor.default_timeout_seconds must not be negative")
	}
	if c.Executor.MaxOutputBytes < 0 {
		return fmt.Errorf("executor.max_output_bytes must not be negative")
	}
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
			// valid
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.Storage.StorageDriver() == "postgres" {
		if c.Storage == nil || c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set JACE_DB_DSN env var)")
		}
	}
	if c.Gateways.Slack != nil && c.Gateways.Slack.Enabled {
		if c.Gateways.Slack.SigningSecret == "" {
			return fmt.Errorf("gateways.slack.signing_secret is required (set SLACK_SIGNING_SECRET env var)")
		}
	}
	return nil
}
