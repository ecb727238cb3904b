// ABOUTME: Configuration loading for the hostchat command-line client
// ABOUTME: Loads TOML config from the XDG path with environment variable expansion

package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvClientConfig overrides the client config location.
const EnvClientConfig = "HOSTCHAT_CLIENT_CONFIG"

type Config struct {
	Gateway  GatewayConfig  `toml:"gateway"`
	Profiles ProfilesConfig `toml:"profiles"`
	Logging  LoggingConfig  `toml:"logging"`
}

type GatewayConfig struct {
	URL     string        `toml:"url"`
	Token   string        `toml:"token"`
	UserID  string        `toml:"user_id"` // only honoured by gateways without a jwt_secret
	Timeout time.Duration `toml:"timeout"`
}

type ProfilesConfig struct {
	CacheTTL  time.Duration `toml:"cache_ttl"`
	CacheSize int           `toml:"cache_size"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

const exampleConfig = `# hostchat client configuration

[gateway]
url = "http://127.0.0.1:8080"
token = "${HOSTCHAT_TOKEN}"
# user_id = "guest-1"   # development gateways only
timeout = "30s"

[profiles]
cache_ttl = "10m"
cache_size = 1000

[logging]
level = "warn"
`

// configPath returns the client config path.
// Priority: HOSTCHAT_CLIENT_CONFIG > XDG_CONFIG_HOME/hostchat/client.toml > ~/.config/hostchat/client.toml
func configPath() string {
	if p := os.Getenv(EnvClientConfig); p != "" {
		return p
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "client.toml"
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "hostchat", "client.toml")
}

// Load reads config from the given path, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return parseConfig(string(data))
}

func parseConfig(data string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(expandEnvVars(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}"))
	})
}

func (c *Config) applyDefaults() {
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = 30 * time.Second
	}
	if c.Profiles.CacheTTL == 0 {
		c.Profiles.CacheTTL = 10 * time.Minute
	}
	if c.Profiles.CacheSize == 0 {
		c.Profiles.CacheSize = 1000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "warn"
	}
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return errors.New("gateway.url is required")
	}
	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("gateway.url must use http or https scheme")
	}
	if c.Gateway.Token == "" && c.Gateway.UserID == "" {
		return errors.New("gateway.token or gateway.user_id is required")
	}
	if c.Gateway.Timeout < 0 || c.Profiles.CacheTTL < 0 || c.Profiles.CacheSize < 0 {
		return errors.New("timeouts and cache sizes must not be negative")
	}
	return nil
}
