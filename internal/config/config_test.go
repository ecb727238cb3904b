// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, duration parsing and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
  shutdown_timeout: "5s"

database:
  driver: "sqlite3"
  path: "./test.db"

auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"

messages:
  max_body_runes: 1000
  max_participants: 4

delivery:
  subscriber_buffer: 8
  write_wait: "1s"
  ping_period: "10s"
  pong_wait: "15s"

profiles:
  base_url: "http://localhost:3030/api"
  cache_ttl: "1m"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/internal/metrics"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "./test.db", cfg.Database.Path)
	assert.Equal(t, 1000, cfg.Messages.MaxBodyRunes)
	assert.Equal(t, 4, cfg.Messages.MaxParticipants)
	assert.Equal(t, 8, cfg.Delivery.SubscriberBuffer)
	assert.Equal(t, time.Second, cfg.Delivery.WriteWait)
	assert.Equal(t, 10*time.Second, cfg.Delivery.PingPeriod)
	assert.Equal(t, 15*time.Second, cfg.Delivery.PongWait)
	assert.Equal(t, "http://localhost:3030/api", cfg.Profiles.BaseURL)
	assert.Equal(t, time.Minute, cfg.Profiles.CacheTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/internal/metrics", cfg.Metrics.Path)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "./test.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 4000, cfg.Messages.MaxBodyRunes)
	assert.Equal(t, 16, cfg.Messages.MaxParticipants)
	assert.Equal(t, 64, cfg.Delivery.SubscriberBuffer)
	assert.Equal(t, 256, cfg.Delivery.SendQueue)
	assert.Equal(t, int64(16*1024), cfg.Delivery.MaxFrameBytes)
	assert.Equal(t, 3*time.Second, cfg.Delivery.WriteWait)
	assert.Equal(t, 20*time.Second, cfg.Delivery.PingPeriod)
	assert.Equal(t, 25*time.Second, cfg.Delivery.PongWait)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_HOSTCHAT_SECRET", "env-secret-env-secret-env-secret-1")
	t.Setenv("TEST_HOSTCHAT_DB", "/var/lib/hostchat/test.db")

	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "${TEST_HOSTCHAT_DB}"
auth:
  jwt_secret: "${TEST_HOSTCHAT_SECRET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/hostchat/test.db", cfg.Database.Path)
	assert.Equal(t, "env-secret-env-secret-env-secret-1", cfg.Auth.JWTSecret)
}

func TestExpandEnvVars_UnsetBecomesEmpty(t *testing.T) {
	assert.Equal(t, "a--b", expandEnvVars("a-${HOSTCHAT_SURELY_UNSET_VAR}-b"))
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "./test.db"
delivery:
  ping_period: "soon"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delivery.ping_period")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing http addr",
			yaml:    "database:\n  path: x.db\n",
			wantErr: "server.http_addr is required",
		},
		{
			name:    "tailscale without hostname",
			yaml:    "tailscale:\n  enabled: true\ndatabase:\n  path: x.db\n",
			wantErr: "tailscale.hostname is required",
		},
		{
			name:    "missing database path",
			yaml:    "server:\n  http_addr: \":8080\"\n",
			wantErr: "database.path is required",
		},
		{
			name:    "unknown driver",
			yaml:    "server:\n  http_addr: \":8080\"\ndatabase:\n  driver: postgres\n  path: x.db\n",
			wantErr: "database.driver",
		},
		{
			name:    "short secret",
			yaml:    "server:\n  http_addr: \":8080\"\ndatabase:\n  path: x.db\nauth:\n  jwt_secret: short\n",
			wantErr: "jwt_secret",
		},
		{
			name:    "ping slower than pong wait",
			yaml:    "server:\n  http_addr: \":8080\"\ndatabase:\n  path: x.db\ndelivery:\n  ping_period: 30s\n  pong_wait: 10s\n",
			wantErr: "ping_period",
		},
		{
			name:    "bad log level",
			yaml:    "server:\n  http_addr: \":8080\"\ndatabase:\n  path: x.db\nlogging:\n  level: loud\n",
			wantErr: "logging.level",
		},
		{
			name:    "single participant limit",
			yaml:    "server:\n  http_addr: \":8080\"\ndatabase:\n  path: x.db\nmessages:\n  max_participants: 1\n",
			wantErr: "max_participants",
		},
		{
			name:    "profiles url scheme",
			yaml:    "server:\n  http_addr: \":8080\"\ndatabase:\n  path: x.db\nprofiles:\n  base_url: localhost:3030\n",
			wantErr: "profiles.base_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_TailscaleWithoutHTTPAddr(t *testing.T) {
	cfg, err := Parse([]byte("tailscale:\n  enabled: true\n  hostname: hostchat\ndatabase:\n  path: x.db\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Tailscale.Enabled)
}

func TestExample_IsValid(t *testing.T) {
	t.Setenv("HOSTCHAT_JWT_SECRET", "")
	t.Setenv("TS_AUTHKEY", "")

	cfg, err := Parse([]byte(Example))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.HTTPAddr)
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestDefaultPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/hostchat/custom.yaml")
	assert.Equal(t, "/etc/hostchat/custom.yaml", DefaultPath())

	t.Setenv(EnvConfigPath, "")
	assert.True(t, strings.HasSuffix(DefaultPath(), filepath.Join("hostchat", "config.yaml")))
}
