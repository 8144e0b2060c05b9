package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // engine.timezone must resolve on minimal images

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/farmready/farmready/pkg/types"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultPollInterval  = 5 * time.Minute
	DefaultConcurrency   = 1
	DefaultStaleRunAfter = 30 * time.Minute
	DefaultTimezone      = "Asia/Bangkok"
	DefaultRunID         = "pollNexiiot"
	DefaultTokenURL      = "https://auth.nexiiot.io/oauth/token"
	DefaultGraphQLURL    = "https://gqlv2.nexiiot.io/graphql"
	DefaultTimeout       = 10 * time.Second
	DefaultRefreshMargin = 60 * time.Second
	DefaultHTTPPort      = 8080
	DefaultAPIKeyHeader  = "x-api-key"
	DefaultSQLitePath    = "farmready.db"
)

// Device sources.
const (
	SourceConfig = "config"
	SourceStore  = "store"
)

// Config is the top-level configuration. Fields map 1:1 to config.example.yaml.
type Config struct {
	Engine   EngineConfig         `yaml:"engine"`
	Upstream UpstreamConfig       `yaml:"upstream"`
	Storage  StorageConfig        `yaml:"storage"`
	Server   ServerConfig         `yaml:"server"`
	Devices  []types.DeviceConfig `yaml:"devices"`

	// Secrets are read from the environment only.
	Secrets Secrets `yaml:"-"`
}

// EngineConfig controls the poll driver.
type EngineConfig struct {
	// PollInterval is the fixed cadence of scheduled runs.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Concurrency bounds how many devices are processed at once.
	Concurrency int `yaml:"concurrency"`

	// StaleRunAfter is how long a "running" summary blocks a new run.
	StaleRunAfter time.Duration `yaml:"stale_run_after"`

	// Timezone is used for the scheduler and date-bucketed log fields.
	Timezone string `yaml:"timezone"`

	// DeviceSource selects where device definitions come from: config | store.
	DeviceSource string `yaml:"device_source"`

	// AllowedDevices, when set, is the exact list of ids a run enumerates.
	AllowedDevices []string `yaml:"allowed_devices"`

	// RunID is the document id of the run summary.
	RunID string `yaml:"run_id"`
}

// Location returns the configured timezone.
func (e EngineConfig) Location() (*time.Location, error) {
	return time.LoadLocation(e.Timezone)
}

// UpstreamConfig describes the identity provider and shadow endpoint.
type UpstreamConfig struct {
	TokenURL           string        `yaml:"token_url"`
	GraphQLURL         string        `yaml:"graphql_url"`
	Timeout            time.Duration `yaml:"timeout"`
	RefreshMargin      time.Duration `yaml:"refresh_margin"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`

	// TokenStore is memory | redis.
	TokenStore string      `yaml:"token_store"`
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig configures the shared token store.
type RedisConfig struct {
	Addr string `yaml:"addr"`
	// PasswordEnv names the environment variable holding the password.
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	Key         string `yaml:"key"`
}

// Password returns the Redis password resolved from the environment.
func (r RedisConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is memory | sqlite.
	Backend string `yaml:"backend"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

// ServerConfig holds diagnostic HTTP settings.
type ServerConfig struct {
	HTTPPort int        `yaml:"http_port"`
	Auth     AuthConfig `yaml:"auth"`
}

// AuthConfig configures API-key protection of mutating endpoints.
type AuthConfig struct {
	// Mode is apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv names the environment variable holding the expected key.
	KeyEnv string `yaml:"key_env"`

	// Header is the request header carrying the key. Defaults to x-api-key.
	Header string `yaml:"header"`
}

// Key returns the API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the header name, defaulting to x-api-key.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header == "" {
		return DefaultAPIKeyHeader
	}
	return a.Header
}

// Secrets are service credentials and URL overrides taken from the environment.
type Secrets struct {
	ClientID        string   `env:"OAUTH_CLIENT_ID"`
	ClientSecret    string   `env:"OAUTH_CLIENT_SECRET"`
	ServiceUsername string   `env:"SERVICE_USERNAME"`
	ServicePassword string   `env:"SERVICE_PASSWORD"`
	TokenURL        string   `env:"OAUTH_TOKEN_URL"`
	GraphQLURL      string   `env:"NX_GRAPHQL_URL"`
	AllowedDevices  []string `env:"ALLOWED_DEVICE_IDS" envSeparator:","`
}

// Complete reports whether all four upstream credentials are present.
func (s Secrets) Complete() bool {
	return s.ClientID != "" && s.ClientSecret != "" && s.ServiceUsername != "" && s.ServicePassword != ""
}

// LoadSecrets reads Secrets from the process environment.
func LoadSecrets() (Secrets, error) {
	var s Secrets
	if err := env.Parse(&s); err != nil {
		return Secrets{}, fmt.Errorf("parse env: %w", err)
	}
	return s, nil
}

// Load reads and parses the YAML config file at path and overlays the
// environment. Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse is Load for an in-memory document.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	secrets, err := LoadSecrets()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applySecrets(secrets)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with defaults applied and secrets loaded, for use
// when no config file is given.
func Default() (*Config, error) {
	return Parse(nil)
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Engine: EngineConfig{
			PollInterval:  DefaultPollInterval,
			Concurrency:   DefaultConcurrency,
			StaleRunAfter: DefaultStaleRunAfter,
			Timezone:      DefaultTimezone,
			DeviceSource:  SourceConfig,
			RunID:         DefaultRunID,
		},
		Upstream: UpstreamConfig{
			TokenURL:      DefaultTokenURL,
			GraphQLURL:    DefaultGraphQLURL,
			Timeout:       DefaultTimeout,
			RefreshMargin: DefaultRefreshMargin,
			TokenStore:    "memory",
		},
		Storage: StorageConfig{Backend: "memory"},
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			Auth:     AuthConfig{Mode: "none"},
		},
	}
}

func (c *Config) applySecrets(s Secrets) {
	c.Secrets = s
	if s.TokenURL != "" {
		c.Upstream.TokenURL = s.TokenURL
	}
	if s.GraphQLURL != "" {
		c.Upstream.GraphQLURL = s.GraphQLURL
	}
	if len(s.AllowedDevices) > 0 {
		c.Engine.AllowedDevices = s.AllowedDevices
	}
	var ids []string
	for _, id := range c.Engine.AllowedDevices {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	c.Engine.AllowedDevices = ids
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	e := cfg.Engine
	if e.PollInterval <= 0 {
		return fmt.Errorf("engine.poll_interval must be positive")
	}
	if e.Concurrency <= 0 {
		return fmt.Errorf("engine.concurrency must be positive")
	}
	if e.StaleRunAfter <= 0 {
		return fmt.Errorf("engine.stale_run_after must be positive")
	}
	if _, err := e.Location(); err != nil {
		return fmt.Errorf("engine.timezone: %w", err)
	}
	switch e.DeviceSource {
	case SourceConfig, SourceStore:
	default:
		return fmt.Errorf("engine.device_source: unknown source %q", e.DeviceSource)
	}
	if e.RunID == "" {
		return fmt.Errorf("engine.run_id is required")
	}

	u := cfg.Upstream
	if u.TokenURL == "" {
		return fmt.Errorf("upstream.token_url is required")
	}
	if u.GraphQLURL == "" {
		return fmt.Errorf("upstream.graphql_url is required")
	}
	if u.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	if u.RefreshMargin < 0 {
		return fmt.Errorf("upstream.refresh_margin must not be negative")
	}
	switch u.TokenStore {
	case "memory", "":
	case "redis":
		if u.Redis.Addr == "" {
			return fmt.Errorf("upstream.redis.addr is required for token_store redis")
		}
	default:
		return fmt.Errorf("upstream.token_store: unknown store %q", u.TokenStore)
	}

	switch cfg.Storage.Backend {
	case "memory", "":
	case "sqlite":
		if cfg.Storage.Path == "" {
			cfg.Storage.Path = DefaultSQLitePath
		}
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", cfg.Storage.Backend)
	}
	if e.DeviceSource == SourceStore && cfg.Storage.Backend != "sqlite" {
		return fmt.Errorf("engine.device_source store requires storage.backend sqlite")
	}

	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d out of range", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "none", "":
	case "apikey":
		if cfg.Server.Auth.KeyEnv == "" {
			return fmt.Errorf("server.auth.key_env is required for mode apikey")
		}
	default:
		return fmt.Errorf("server.auth: unknown mode %q", cfg.Server.Auth.Mode)
	}

	seen := make(map[string]bool, len(cfg.Devices))
	for i, d := range cfg.Devices {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("devices[%d]: %w", i, err)
		}
		if seen[d.DeviceID] {
			return fmt.Errorf("devices[%d]: duplicate id %q", i, d.DeviceID)
		}
		seen[d.DeviceID] = true
	}
	return nil
}
