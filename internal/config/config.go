// ABOUTME: Configuration loading and parsing for hostchat-gateway
// ABOUTME: Supports YAML files with environment variable expansion, defaults and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the default config file location.
const EnvConfigPath = "HOSTCHAT_CONFIG"

// Config represents the complete hostchat-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Messages  MessagesConfig  `yaml:"messages"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Profiles  ProfilesConfig  `yaml:"profiles"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	ShutdownTimeout    time.Duration `yaml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"` // serve on :443 with Tailscale-issued certificates
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" (pure Go) or "sqlite3" (cgo)
	Path   string `yaml:"path"`
}

// AuthConfig holds authentication configuration.
// An empty JWTSecret enables development mode (X-User-ID header).
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// MessagesConfig holds conversation and message limits
type MessagesConfig struct {
	MaxBodyRunes    int `yaml:"max_body_runes"`
	MaxParticipants int `yaml:"max_participants"`
	InboxLimit      int `yaml:"inbox_limit"`
}

// DeliveryConfig holds push channel tuning
type DeliveryConfig struct {
	SubscriberBuffer int   `yaml:"subscriber_buffer"`
	SendQueue        int   `yaml:"send_queue"`
	MaxFrameBytes    int64 `yaml:"max_frame_bytes"`

	WriteWait  time.Duration `yaml:"-"`
	PingPeriod time.Duration `yaml:"-"`
	PongWait   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	WriteWaitRaw  string `yaml:"write_wait"`
	PingPeriodRaw string `yaml:"ping_period"`
	PongWaitRaw   string `yaml:"pong_wait"`
}

// ProfilesConfig holds the user service used for display names.
// An empty BaseURL disables the profile endpoint.
type ProfilesConfig struct {
	BaseURL   string `yaml:"base_url"`
	CacheSize int    `yaml:"cache_size"`

	CacheTTL time.Duration `yaml:"-"`
	Timeout  time.Duration `yaml:"-"`

	CacheTTLRaw string `yaml:"cache_ttl"`
	TimeoutRaw  string `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultPath returns $HOSTCHAT_CONFIG, or config.yaml under the user config directory.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "hostchat", "config.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and unset fields get defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Messages.MaxBodyRunes == 0 {
		c.Messages.MaxBodyRunes = 4000
	}
	if c.Messages.MaxParticipants == 0 {
		c.Messages.MaxParticipants = 16
	}
	if c.Messages.InboxLimit == 0 {
		c.Messages.InboxLimit = 200
	}
	if c.Delivery.SubscriberBuffer == 0 {
		c.Delivery.SubscriberBuffer = 64
	}
	if c.Delivery.SendQueue == 0 {
		c.Delivery.SendQueue = 256
	}
	if c.Delivery.MaxFrameBytes == 0 {
		c.Delivery.MaxFrameBytes = 16 * 1024
	}
	if c.Delivery.WriteWait == 0 {
		c.Delivery.WriteWait = 3 * time.Second
	}
	if c.Delivery.PingPeriod == 0 {
		c.Delivery.PingPeriod = 20 * time.Second
	}
	if c.Delivery.PongWait == 0 {
		c.Delivery.PongWait = 25 * time.Second
	}
	if c.Profiles.CacheTTL == 0 {
		c.Profiles.CacheTTL = 10 * time.Minute
	}
	if c.Profiles.Timeout == 0 {
		c.Profiles.Timeout = 5 * time.Second
	}
	if c.Profiles.CacheSize == 0 {
		c.Profiles.CacheSize = 10_000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be \"sqlite\" or \"sqlite3\", got %q", c.Database.Driver)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Messages.MaxBodyRunes < 0 || c.Messages.MaxParticipants < 0 || c.Messages.InboxLimit < 0 {
		return fmt.Errorf("messages limits must be positive")
	}
	if c.Messages.MaxParticipants == 1 {
		return fmt.Errorf("messages.max_participants must be at least 2")
	}

	if c.Delivery.SubscriberBuffer < 0 || c.Delivery.SendQueue < 0 || c.Delivery.MaxFrameBytes < 0 {
		return fmt.Errorf("delivery buffer sizes must be positive")
	}
	if c.Delivery.PingPeriod >= c.Delivery.PongWait {
		return fmt.Errorf("delivery.ping_period (%s) must be shorter than delivery.pong_wait (%s)", c.Delivery.PingPeriod, c.Delivery.PongWait)
	}

	if c.Profiles.BaseURL != "" && !strings.HasPrefix(c.Profiles.BaseURL, "http://") && !strings.HasPrefix(c.Profiles.BaseURL, "https://") {
		return fmt.Errorf("profiles.base_url must be an http(s) URL")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"delivery.write_wait", cfg.Delivery.WriteWaitRaw, &cfg.Delivery.WriteWait},
		{"delivery.ping_period", cfg.Delivery.PingPeriodRaw, &cfg.Delivery.PingPeriod},
		{"delivery.pong_wait", cfg.Delivery.PongWaitRaw, &cfg.Delivery.PongWait},
		{"profiles.cache_ttl", cfg.Profiles.CacheTTLRaw, &cfg.Profiles.CacheTTL},
		{"profiles.timeout", cfg.Profiles.TimeoutRaw, &cfg.Profiles.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}

// Example is a commented starter configuration written by `hostchat-gateway init`.
const Example = `# hostchat-gateway configuration

server:
  http_addr: "127.0.0.1:8080"
  shutdown_timeout: "10s"

tailscale:
  enabled: false
  hostname: "hostchat"
  auth_key: "${TS_AUTHKEY}"
  state_dir: ""
  ephemeral: false
  https: false

database:
  driver: "sqlite"          # "sqlite" (pure Go) or "sqlite3" (cgo)
  path: "./hostchat.db"

auth:
  # Leave empty for development: callers identify with the X-User-ID header.
  jwt_secret: "${HOSTCHAT_JWT_SECRET}"

messages:
  max_body_runes: 4000
  max_participants: 16
  inbox_limit: 200

delivery:
  subscriber_buffer: 64
  send_queue: 256
  max_frame_bytes: 16384
  write_wait: "3s"
  ping_period: "20s"
  pong_wait: "25s"

profiles:
  base_url: ""              # e.g. "http://localhost:3030/api"
  cache_ttl: "10m"
  cache_size: 10000
  timeout: "5s"

logging:
  level: "info"
  format: "text"            # "text" or "json"

metrics:
  enabled: true
  path: "/metrics"
`
