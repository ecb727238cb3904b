// ABOUTME: Hub upgrades authenticated HTTP requests to WebSocket push connections
// ABOUTME: Tracks live connections and closes them all on shutdown

package push

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/hostchat/internal/auth"
	"github.com/2389/hostchat/internal/conversation"
	"github.com/2389/hostchat/internal/store"
)

// ErrHubClosed is returned for connections attempted after Close.
var ErrHubClosed = errors.New("push hub closed")

const (
	// Time allowed to write a frame to the peer.
	DefaultWriteWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	DefaultPingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	DefaultPongWait = 25 * time.Second

	DefaultMaxFrameBytes = 16 * 1024
	DefaultSendQueue     = 256

	// Sends from the channel keep going for this long after the connection drops.
	DefaultSendTimeout = 10 * time.Second
)

// MessageService is the part of the conversation service the push channel uses.
type MessageService interface {
	Get(ctx context.Context, id string) (*store.Conversation, error)
	Send(ctx context.Context, req conversation.SendRequest) (*store.Message, error)
}

// Broker hands out topic subscriptions.
type Broker interface {
	Subscribe(ctx context.Context, topic, clientID string) *conversation.Subscription
	Unsubscribe(topic, clientID string)
	UnsubscribeAll(clientID string) int
}

// Recorder receives connection counters. *metrics.Collector satisfies it.
type Recorder interface {
	ConnectionOpened()
	ConnectionClosed()
	SubscriptionsChanged(delta int)
	Dropped(n int)
}

type nopRecorder struct{}

func (nopRecorder) ConnectionOpened()          {}
func (nopRecorder) ConnectionClosed()          {}
func (nopRecorder) SubscriptionsChanged(_ int) {}
func (nopRecorder) Dropped(_ int)              {}

// Options tunes connection keepalive and buffering. Zero values use the defaults.
type Options struct {
	WriteWait     time.Duration
	PingPeriod    time.Duration
	PongWait      time.Duration
	MaxFrameBytes int64
	SendQueue     int
	SendTimeout   time.Duration

	// CheckOrigin is passed to the upgrader. Nil allows requests without an
	// Origin header and same-origin browser requests.
	CheckOrigin func(r *http.Request) bool

	Recorder Recorder
}

func (o *Options) applyDefaults() {
	if o.WriteWait <= 0 {
		o.WriteWait = DefaultWriteWait
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = DefaultPingPeriod
	}
	if o.PongWait <= 0 {
		o.PongWait = DefaultPongWait
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if o.SendQueue <= 0 {
		o.SendQueue = DefaultSendQueue
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = DefaultSendTimeout
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
}

// Hub works as a hub that manages and serves push connections.
// Every upgraded request creates a new Conn.
type Hub struct {
	service  MessageService
	broker   Broker
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu     sync.Mutex
	conns  map[string]*Conn
	closed bool

	// read and write loops of every accepted connection
	loops sync.WaitGroup
}

// NewHub creates a Hub.
func NewHub(service MessageService, broker Broker, opts Options, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()
	return &Hub{
		service: service,
		broker:  broker,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.CheckOrigin,
		},
		conns:  make(map[string]*Conn),
		logger: logger.With("component", "push"),
	}
}

// ServeHTTP handles websocket requests from the peer. The request must already
// carry an auth.AuthContext.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	if authCtx == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, ErrHubClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	// If the upgrade fails, Upgrade replies to the client with an HTTP error response.
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "user_id", authCtx.UserID, "error", err)
		return
	}

	c := newConn(h, ws, uuid.New().String(), authCtx.UserID)
	if !h.add(c) {
		c.close()
		return
	}

	h.opts.Recorder.ConnectionOpened()
	h.logger.Info("push connection opened", "conn_id", c.id, "user_id", c.userID, "remote", r.RemoteAddr)

	go func() {
		defer h.loops.Done()
		c.readLoop()
	}()
	go func() {
		defer h.loops.Done()
		c.writeLoop()
	}()
}

func (h *Hub) add(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c.id] = c
	h.loops.Add(2)
	return true
}

func (h *Hub) remove(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.id]; !ok {
		return false
	}
	delete(h.conns, c.id)
	return true
}

// ConnectionCount returns the number of open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close closes every connection and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	h.logger.Info("closing push connections", "count", len(conns))
	for _, c := range conns {
		c.close()
	}
}

// Wait blocks until the loops of every connection have returned, including
// sends still being stored after Close. It returns ctx.Err() if ctx ends first.
func (h *Hub) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
