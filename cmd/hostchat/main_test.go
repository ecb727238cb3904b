package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/hostchat/internal/api"
	"github.com/2389/hostchat/internal/auth"
	"github.com/2389/hostchat/internal/config"
	"github.com/2389/hostchat/internal/gateway"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestParseConfig(t *testing.T) {
	t.Setenv("TEST_HOSTCHAT_TOKEN", "abc.def.ghi")

	cfg, err := parseConfig(`
[gateway]
url = "https://chat.example.com"
token = "${TEST_HOSTCHAT_TOKEN}"
timeout = "5s"

[profiles]
cache_ttl = "1m"
`)
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", cfg.Gateway.Token)
	assert.Equal(t, 5*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, time.Minute, cfg.Profiles.CacheTTL)
	assert.Equal(t, 1000, cfg.Profiles.CacheSize)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name, data, want string
	}{
		{"missing url", "[gateway]\nuser_id = \"u1\"\n", "gateway.url is required"},
		{"bad scheme", "[gateway]\nurl = \"ftp://x\"\nuser_id = \"u1\"\n", "http or https"},
		{"no identity", "[gateway]\nurl = \"http://x\"\n", "token or gateway.user_id"},
		{"bad toml", "[gateway\n", "parsing config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConfig(tt.data)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExampleConfigParses(t *testing.T) {
	t.Setenv("HOSTCHAT_TOKEN", "x.y.z")
	_, err := parseConfig(exampleConfig)
	require.NoError(t, err)
}

func TestConfigPath(t *testing.T) {
	t.Setenv(EnvClientConfig, "/tmp/custom.toml")
	assert.Equal(t, "/tmp/custom.toml", configPath())

	t.Setenv(EnvClientConfig, "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "hostchat", "client.toml"), configPath())
}

func TestIdentity(t *testing.T) {
	verifier, err := auth.NewJWTVerifier([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	token, err := verifier.Generate("host-42", time.Hour)
	require.NoError(t, err)

	me, err := identity(GatewayConfig{Token: token})
	require.NoError(t, err)
	assert.Equal(t, "host-42", me)

	me, err = identity(GatewayConfig{UserID: "guest-1"})
	require.NoError(t, err)
	assert.Equal(t, "guest-1", me)

	_, err = identity(GatewayConfig{Token: "not-a-jwt"})
	assert.Error(t, err)
}

func TestRunInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "client.toml")
	require.NoError(t, runInit(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, exampleConfig, string(data))

	assert.Error(t, runInit(path), "refuses to overwrite")
}

func TestSplitIDsAndPreview(t *testing.T) {
	assert.Equal(t, []string{"u1", "u2"}, splitIDs(" u1, ,u2,"))
	assert.Nil(t, splitIDs(""))

	assert.Equal(t, "a b", preview("a\n  b", 10))
	assert.Equal(t, "abcd…", preview("abcdefgh", 5))
}

// newTestApp points a client at a fresh in-memory gateway.
func newTestApp(t *testing.T, userID string) (*app, *bytes.Buffer, string) {
	t.Helper()

	cfg, err := config.Parse([]byte(`
server:
  http_addr: "127.0.0.1:0"
database:
  path: ":memory:"
`))
	require.NoError(t, err)
	gw, err := gateway.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
		srv.Close()
	})

	return newTestAppFor(t, srv.URL, userID)
}

func newTestAppFor(t *testing.T, url, userID string) (*app, *bytes.Buffer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.toml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("[gateway]\nurl = %q\nuser_id = %q\n", url, userID)), 0600))

	var out bytes.Buffer
	a, err := newApp(path, &out)
	require.NoError(t, err)
	t.Cleanup(a.profiles.Close)
	return a, &out, url
}

func TestApp_SendInboxHistory(t *testing.T) {
	ctx := context.Background()
	u1, out1, url := newTestApp(t, "u1")
	u2, out2, _ := newTestAppFor(t, url, "u2")

	require.NoError(t, u1.runInbox(ctx))
	assert.Contains(t, out1.String(), "No conversations yet.")
	out1.Reset()

	require.NoError(t, u1.runSend(ctx, []string{"--to", "u2", "hello", "there"}))
	assert.Contains(t, out1.String(), "sent ")
	out1.Reset()

	require.NoError(t, u2.runInbox(ctx))
	assert.Contains(t, out2.String(), "hello there")

	conv, err := u2.api.Resolve(ctx, []string{"u1"})
	require.NoError(t, err)
	require.NoError(t, u2.runSend(ctx, []string{"--conversation", conv.ID, "hi back"}))

	require.NoError(t, u1.runHistory(ctx, []string{conv.ID}))
	lines := strings.Split(strings.TrimSpace(out1.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "you: hello there")
	// No profile service: the other side shows the placeholder name.
	assert.Contains(t, lines[1], "Unknown user: hi back")
}

func TestApp_SendErrors(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newTestApp(t, "u1")

	assert.Error(t, a.runSend(ctx, []string{"--to", "u2"}))
	assert.Error(t, a.runSend(ctx, []string{"hello"}))
	assert.Error(t, a.runSend(ctx, []string{"--to", "u2", "--conversation", "c", "hello"}))
	assert.Error(t, a.runHistory(ctx, nil))
}

func TestApp_Open(t *testing.T) {
	ctx := context.Background()
	a, out, url := newTestApp(t, "u1")
	other, _, _ := newTestAppFor(t, url, "u2")

	conv, err := other.api.Resolve(ctx, []string{"u1"})
	require.NoError(t, err)
	_, err = other.api.Send(ctx, api.SendMessageRequest{ConversationID: conv.ID, Body: "earlier"})
	require.NoError(t, err)

	in := strings.NewReader("\nfirst line\n/quit\n")
	require.NoError(t, a.runOpen(ctx, []string{"--with", "u2"}, in))

	text := out.String()
	assert.Contains(t, text, "-- "+conv.ID)
	assert.Contains(t, text, "Unknown user: earlier")
	assert.Contains(t, text, "you: first line")

	msgs, err := other.api.Messages(ctx, conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	// Opening the conversation acknowledged the earlier message.
	assert.Equal(t, "delivered", msgs[0].Status)
	assert.Equal(t, "first line", msgs[1].Body)
}

