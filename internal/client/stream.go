// ABOUTME: Client side of the WebSocket push channel
// ABOUTME: Correlates replies to requests by ref and exposes pushed messages on a channel

package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/hostchat/internal/api"
)

// ErrStreamClosed is returned by stream calls after the connection is gone.
var ErrStreamClosed = errors.New("push stream closed")

const streamWriteWait = 5 * time.Second

// Stream is an open push connection to the gateway.
type Stream struct {
	ws     *websocket.Conn
	pushes chan *api.Message

	writeMu sync.Mutex
	nextRef atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan *api.ServerFrame

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// wsURL turns the gateway base URL into the /ws endpoint URL.
func wsURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing gateway url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported gateway url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// Dial opens the push channel.
func (c *Client) Dial(ctx context.Context) (*Stream, error) {
	target, err := wsURL(c.baseURL)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	c.authorize(header)

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, fmt.Errorf("dialing push channel: %w", decodeError(resp))
		}
		return nil, fmt.Errorf("dialing push channel: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	s := &Stream{
		ws:      ws,
		pushes:  make(chan *api.Message, 64),
		pending: make(map[string]chan *api.ServerFrame),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Messages delivers messages pushed for subscribed conversations. It is
// closed when the stream ends.
func (s *Stream) Messages() <-chan *api.Message {
	return s.pushes
}

// Done is closed when the stream ends.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns why the stream ended, or nil while it is open.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close closes the connection.
func (s *Stream) Close() error {
	s.writeMu.Lock()
	_ = s.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(streamWriteWait))
	s.writeMu.Unlock()

	err := s.ws.Close()
	s.finish(ErrStreamClosed)
	return err
}

func (s *Stream) finish(err error) {
	s.closeOnce.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *Stream) readLoop() {
	defer func() {
		s.mu.Lock()
		for ref, ch := range s.pending {
			close(ch)
			delete(s.pending, ref)
		}
		s.mu.Unlock()
		close(s.pushes)
	}()

	for {
		var f api.ServerFrame
		if err := s.ws.ReadJSON(&f); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.finish(ErrStreamClosed)
			} else {
				s.finish(fmt.Errorf("%w: %w", ErrStreamClosed, err))
			}
			return
		}

		if f.Type == api.FrameMessage {
			if f.Message == nil {
				continue
			}
			select {
			case s.pushes <- f.Message:
			case <-s.done:
				return
			}
			continue
		}

		if f.Ref == "" {
			continue
		}
		s.mu.Lock()
		ch, ok := s.pending[f.Ref]
		delete(s.pending, f.Ref)
		s.mu.Unlock()
		if ok {
			ch <- &f
		}
	}
}

// request sends f and waits for the reply carrying the same ref.
func (s *Stream) request(ctx context.Context, f api.ClientFrame) (*api.ServerFrame, error) {
	f.Ref = strconv.FormatUint(s.nextRef.Add(1), 10)
	reply := make(chan *api.ServerFrame, 1)

	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return nil, s.err
	default:
	}
	s.pending[f.Ref] = reply
	s.mu.Unlock()

	s.writeMu.Lock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
	err := s.ws.WriteJSON(f)
	s.writeMu.Unlock()
	if err != nil {
		s.forget(f.Ref)
		return nil, fmt.Errorf("writing %s frame: %w", f.Type, err)
	}

	select {
	case resp, ok := <-reply:
		if !ok {
			return nil, s.Err()
		}
		if resp.Type == api.FrameError {
			return nil, &APIError{Status: api.StatusForCode(resp.Code), Code: resp.Code, Message: resp.Error}
		}
		return resp, nil
	case <-ctx.Done():
		s.forget(f.Ref)
		return nil, ctx.Err()
	}
}

func (s *Stream) forget(ref string) {
	s.mu.Lock()
	delete(s.pending, ref)
	s.mu.Unlock()
}

// Subscribe starts delivery of a conversation's new messages.
func (s *Stream) Subscribe(ctx context.Context, conversationID string) error {
	_, err := s.request(ctx, api.ClientFrame{Type: api.FrameSubscribe, Topic: conversationID})
	return err
}

// Unsubscribe stops delivery for a conversation.
func (s *Stream) Unsubscribe(ctx context.Context, conversationID string) error {
	_, err := s.request(ctx, api.ClientFrame{Type: api.FrameUnsubscribe, Topic: conversationID})
	return err
}

// Send appends a message over the push channel and waits for the ack.
func (s *Stream) Send(ctx context.Context, req api.SendMessageRequest) (*api.Message, error) {
	resp, err := s.request(ctx, api.ClientFrame{
		Type:           api.FrameSend,
		ConversationID: req.ConversationID,
		Participants:   req.Participants,
		Body:           req.Body,
		ClientMsgID:    req.ClientMsgID,
	})
	if err != nil {
		return nil, err
	}
	if resp.Message == nil {
		return nil, errors.New("ack without message")
	}
	return resp.Message, nil
}

// Ping round-trips a ping frame.
func (s *Stream) Ping(ctx context.Context) error {
	_, err := s.request(ctx, api.ClientFrame{Type: api.FramePing})
	return err
}
