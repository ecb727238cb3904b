// ABOUTME: Conn is one client's WebSocket push connection
// ABOUTME: A read loop handles client frames, a write loop drains the send queue and pings the peer

package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/hostchat/internal/api"
	"github.com/2389/hostchat/internal/conversation"
)

// Conn manages an active connection to an end user.
type Conn struct {
	id     string
	userID string
	hub    *Hub
	ws     *websocket.Conn
	send   chan *api.ServerFrame
	logger *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu   sync.Mutex
	subs map[string]*conversation.Subscription // nil once closed
}

func newConn(h *Hub, ws *websocket.Conn, id, userID string) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		id:     id,
		userID: userID,
		hub:    h,
		ws:     ws,
		send:   make(chan *api.ServerFrame, h.opts.SendQueue),
		logger: h.logger.With("conn_id", id, "user_id", userID),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]*conversation.Subscription),
	}
}

// close tears the connection down. All subscriptions are removed before it returns.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		n := len(c.subs)
		c.subs = nil
		c.mu.Unlock()
		c.hub.broker.UnsubscribeAll(c.id)
		c.hub.opts.Recorder.SubscriptionsChanged(-n)

		deadline := time.Now().Add(c.hub.opts.WriteWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.ws.Close()

		if c.hub.remove(c) {
			c.hub.opts.Recorder.ConnectionClosed()
			c.logger.Info("push connection closed", "subscriptions", n)
		}
	})
}

func (c *Conn) readLoop() {
	defer c.close()

	c.ws.SetReadLimit(c.hub.opts.MaxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && c.ctx.Err() == nil {
				c.logger.Warn("push read failed", "error", err)
			} else {
				c.logger.Debug("push read loop ended", "error", err)
			}
			return
		}
		// Any frame from the peer proves it is alive
		_ = c.ws.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))

		if msgType != websocket.TextMessage {
			c.replyCode("", api.CodeInvalidRequest, "only text frames are supported")
			continue
		}

		var frame api.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.replyCode("", api.CodeInvalidRequest, fmt.Sprintf("malformed frame: %v", err))
			continue
		}
		if err := api.Validate(&frame); err != nil {
			c.replyCode(frame.Ref, api.CodeInvalidRequest, err.Error())
			continue
		}

		c.handle(&frame)
	}
}

func (c *Conn) handle(f *api.ClientFrame) {
	switch f.Type {
	case api.FrameSubscribe:
		c.handleSubscribe(f)
	case api.FrameUnsubscribe:
		c.handleUnsubscribe(f)
	case api.FrameSend:
		c.handleSend(f)
	case api.FramePing:
		c.reply(&api.ServerFrame{Type: api.FramePong, Ref: f.Ref})
	}
}

func (c *Conn) handleSubscribe(f *api.ClientFrame) {
	conv, err := c.hub.service.Get(c.ctx, f.Topic)
	if err != nil {
		c.replyError(f.Ref, err)
		return
	}
	if !conv.HasParticipant(c.userID) {
		c.replyError(f.Ref, fmt.Errorf("%w: %s in conversation %s", conversation.ErrNotParticipant, c.userID, conv.ID))
		return
	}

	c.mu.Lock()
	if c.subs == nil {
		c.mu.Unlock()
		return
	}
	sub := c.hub.broker.Subscribe(c.ctx, conv.ID, c.id)
	if prev, ok := c.subs[conv.ID]; prev != sub {
		c.subs[conv.ID] = sub
		if !ok {
			c.hub.opts.Recorder.SubscriptionsChanged(1)
		}
		go c.forward(sub)
	}
	c.mu.Unlock()

	c.logger.Debug("subscribed", "topic", conv.ID)
	c.reply(&api.ServerFrame{Type: api.FrameSubscribed, Ref: f.Ref, Topic: conv.ID})
}

func (c *Conn) handleUnsubscribe(f *api.ClientFrame) {
	c.mu.Lock()
	if _, ok := c.subs[f.Topic]; ok {
		delete(c.subs, f.Topic)
		c.hub.broker.Unsubscribe(f.Topic, c.id)
		c.hub.opts.Recorder.SubscriptionsChanged(-1)
	}
	c.mu.Unlock()

	c.reply(&api.ServerFrame{Type: api.FrameUnsubscribed, Ref: f.Ref, Topic: f.Topic})
}

func (c *Conn) handleSend(f *api.ClientFrame) {
	// The append must complete even if the peer goes away mid-request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.hub.opts.SendTimeout)
	defer cancel()

	msg, err := c.hub.service.Send(ctx, conversation.SendRequest{
		ConversationID: f.ConversationID,
		Participants:   f.Participants,
		SenderID:       c.userID,
		Body:           f.Body,
		ClientMsgID:    f.ClientMsgID,
	})
	if err != nil {
		c.replyError(f.Ref, err)
		return
	}

	c.reply(&api.ServerFrame{
		Type:    api.FrameAck,
		Ref:     f.Ref,
		Topic:   msg.ConversationID,
		Message: api.FromMessage(msg),
	})
}

// forward copies messages from a subscription to the send queue until the
// subscription ends.
func (c *Conn) forward(sub *conversation.Subscription) {
	for msg := range sub.C() {
		frame := &api.ServerFrame{Type: api.FrameMessage, Topic: sub.Topic(), Message: api.FromMessage(msg)}
		if !c.push(frame) {
			c.hub.opts.Recorder.Dropped(1)
			c.logger.Debug("send queue full, dropping message",
				"topic", sub.Topic(),
				"message_id", msg.ID,
				"seq", msg.Seq)
		}
	}
}

// push enqueues without blocking. Returns false if the queue is full.
func (c *Conn) push(f *api.ServerFrame) bool {
	if c.ctx.Err() != nil {
		return true
	}
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// reply enqueues a response to a client frame, waiting for room in the queue.
func (c *Conn) reply(f *api.ServerFrame) {
	select {
	case c.send <- f:
	case <-c.ctx.Done():
	}
}

func (c *Conn) replyError(ref string, err error) {
	code := api.ErrorCode(err)
	if code == api.CodeInternal || code == api.CodePersistence {
		c.logger.Error("push request failed", "ref", ref, "error", err)
	}
	c.replyCode(ref, code, err.Error())
}

func (c *Conn) replyCode(ref, code, msg string) {
	c.reply(&api.ServerFrame{Type: api.FrameError, Ref: ref, Code: code, Error: msg})
}

func (c *Conn) writeLoop() {
	pingTicker := time.NewTicker(c.hub.opts.PingPeriod)
	defer func() {
		pingTicker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case f := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait))
			if err := c.ws.WriteJSON(f); err != nil {
				c.logger.Debug("push write failed", "frame", f.Type, "error", err)
				return
			}
		case <-pingTicker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("push ping failed", "error", err)
				return
			}
		}
	}
}
