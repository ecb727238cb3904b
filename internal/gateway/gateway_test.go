// ABOUTME: Tests for Gateway construction, lifecycle and health endpoints
// ABOUTME: Runs the real HTTP server and push hub against SQLite and mock stores

package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/hostchat/internal/api"
	"github.com/2389/hostchat/internal/auth"
	"github.com/2389/hostchat/internal/config"
	"github.com/2389/hostchat/internal/store"
)

// testConfig creates a minimal config for testing with an available port.
func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()

	httpListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available HTTP port: %v", err)
	}
	httpAddr := httpListener.Addr().String()
	httpListener.Close()

	cfg, err := config.Parse([]byte(fmt.Sprintf(`
server:
  http_addr: %q
  shutdown_timeout: "2s"
database:
  path: ":memory:"
metrics:
  enabled: true
%s`, httpAddr, extra)))
	if err != nil {
		t.Fatalf("failed to parse test config: %v", err)
	}
	return cfg
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestGateway builds a gateway over a MockStore so tests can inject failures.
func newTestGateway(t *testing.T) (*Gateway, *store.MockStore) {
	t.Helper()
	s := store.NewMockStore()
	gw, err := newWithStore(testConfig(t, ""), s, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw, s
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Database.Path = filepath.Join(t.TempDir(), "hostchat.db")

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if gw.config != cfg {
		t.Error("gateway config mismatch")
	}
	if gw.store == nil {
		t.Error("store should not be nil")
	}
	if gw.conversation == nil {
		t.Error("conversation service should not be nil")
	}
	if gw.hub == nil {
		t.Error("push hub should not be nil")
	}
	if gw.metrics == nil {
		t.Error("metrics should be enabled")
	}
	if gw.verifier != nil {
		t.Error("verifier should be nil without a jwt secret")
	}
	if gw.profiles != nil {
		t.Error("profiles should be disabled without a base url")
	}
}

func TestGatewayNew_EnvDBPathOverride(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "env.db")
	t.Setenv(EnvDBPath, dbPath)

	gw, err := New(testConfig(t, ""), testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	assert.FileExists(t, dbPath)
}

func TestGatewayNew_InvalidDriver(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Database.Driver = "postgres"

	_, err := New(cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initializing store")
}

func TestGatewayNew_ProfilesAndAuth(t *testing.T) {
	cfg := testConfig(t, `
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
profiles:
  base_url: "http://127.0.0.1:1/api"
`)
	gw, err := newWithStore(cfg, store.NewMockStore(), testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	assert.NotNil(t, gw.verifier)
	assert.NotNil(t, gw.profiles)
	assert.NotNil(t, gw.profileCache)
}

func TestGatewayRunAndShutdown(t *testing.T) {
	cfg := testConfig(t, "")
	gw, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run(ctx) }()

	url := "http://" + cfg.Server.HTTPAddr + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// Shutdown after Run is a no-op
	assert.NoError(t, gw.Shutdown(context.Background()))
}

func TestGatewayRun_AddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(t, "")
	cfg.Server.HTTPAddr = ln.Addr().String()

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	err = gw.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on HTTP address")
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	key, err := resolveTailscaleAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)

	t.Setenv("TS_AUTHKEY", "")
	_, err = resolveTailscaleAuthKey("")
	assert.Error(t, err)
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/var/lib/hostchat/ts")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/hostchat/ts", dir)

	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(dir, filepath.Join("hostchat", "tailscale")))
}

func TestHandleHealth(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHandleReady(t *testing.T) {
	gw, s := newTestGateway(t)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ready")

	s.FailPing(assert.AnError)
	rec = httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doJSON(t, gw, http.MethodPost, "/api/messages", "guest", api.SendMessageRequest{
		Participants: []string{"host"},
		Body:         "hello",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hostchat_messages_appended_total 1")
	assert.Contains(t, rec.Body.String(), "hostchat_conversations_created_total 1")
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Metrics.Enabled = false
	gw, err := newWithStore(cfg, store.NewMockStore(), testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// Three clients: A and B are subscribed before the send, C subscribes after.
// A and B get the push, C only sees it through history.
func TestGateway_LiveAndLateSubscribers(t *testing.T) {
	gw, _ := newTestGateway(t)
	server := httptest.NewServer(gw.Handler())
	defer server.Close()

	dial := func(userID string) *websocket.Conn {
		header := http.Header{}
		header.Set(auth.UserIDHeader, userID)
		ws, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", header)
		require.NoError(t, err)
		resp.Body.Close()
		t.Cleanup(func() { ws.Close() })
		return ws
	}
	subscribe := func(ws *websocket.Conn, topic string) {
		require.NoError(t, ws.WriteJSON(api.ClientFrame{Type: api.FrameSubscribe, Topic: topic}))
		var f api.ServerFrame
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, ws.ReadJSON(&f))
		require.Equal(t, api.FrameSubscribed, f.Type, "%s: %s", f.Code, f.Error)
	}

	rec := doJSON(t, gw, http.MethodPost, "/api/conversations", "guest", api.ResolveRequest{Participants: []string{"host"}})
	require.Equal(t, http.StatusOK, rec.Code)
	conv := decode[api.Conversation](t, rec)

	clientA := dial("guest")
	clientB := dial("host")
	subscribe(clientA, conv.ID)
	subscribe(clientB, conv.ID)

	rec = doJSON(t, gw, http.MethodPost, "/api/messages", "guest", api.SendMessageRequest{
		ConversationID: conv.ID,
		Body:           "See you Friday",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	sent := decode[api.Message](t, rec)

	for _, ws := range []*websocket.Conn{clientA, clientB} {
		var f api.ServerFrame
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, ws.ReadJSON(&f))
		assert.Equal(t, api.FrameMessage, f.Type)
		require.NotNil(t, f.Message)
		assert.Equal(t, sent.ID, f.Message.ID)
	}

	clientC := dial("host")
	subscribe(clientC, conv.ID)
	require.NoError(t, clientC.WriteJSON(api.ClientFrame{Type: api.FramePing, Ref: "p"}))
	var f api.ServerFrame
	require.NoError(t, clientC.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, clientC.ReadJSON(&f))
	assert.Equal(t, api.FramePong, f.Type, "late subscriber must not get earlier messages")

	rec = doJSON(t, gw, http.MethodGet, "/api/messages/"+conv.ID, "host", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[api.MessagesResponse](t, rec)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, sent.ID, history.Messages[0].ID)
}
