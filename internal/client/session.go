// ABOUTME: Client-side cache of the inbox and the one open transcript
// ABOUTME: Keeps both consistent with REST reads and pushed messages

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/2389/hostchat/internal/api"
	"github.com/2389/hostchat/internal/conversation"
	"github.com/2389/hostchat/internal/dedupe"
	"github.com/2389/hostchat/internal/profile"
)

var (
	// ErrNotOpen is returned by Send when no conversation is open.
	ErrNotOpen = errors.New("no conversation open")

	// ErrSuperseded is returned by Open when another Open or Close ran
	// before it finished loading.
	ErrSuperseded = errors.New("conversation view superseded")
)

// State of the conversation view.
type State int

const (
	StateClosed State = iota
	StateLoading
	StateLive
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// API is the subset of the REST client a session needs.
type API interface {
	Conversations(ctx context.Context) ([]*api.Conversation, error)
	Messages(ctx context.Context, conversationID string, afterSeq int64) ([]*api.Message, error)
	Send(ctx context.Context, req api.SendMessageRequest) (*api.Message, error)
	MarkDelivered(ctx context.Context, conversationID string, upToSeq int64) (int64, error)
}

// Subscriber is the subset of the push stream a session needs.
type Subscriber interface {
	Subscribe(ctx context.Context, conversationID string) error
	Unsubscribe(ctx context.Context, conversationID string) error
	Messages() <-chan *api.Message
}

// InboxEntry is one row of the inbox.
type InboxEntry struct {
	Conversation *api.Conversation
	Title        string
	// Placeholder is set for conversations first seen through a push; only
	// the last message is known until the next LoadInbox.
	Placeholder bool
}

// SessionOptions tunes a Session. Zero values use defaults.
type SessionOptions struct {
	LookupConcurrency int
	SeenTTL           time.Duration
	SeenSize          int
}

func (o *SessionOptions) applyDefaults() {
	if o.LookupConcurrency <= 0 {
		o.LookupConcurrency = 8
	}
	if o.SeenTTL <= 0 {
		o.SeenTTL = time.Hour
	}
	if o.SeenSize <= 0 {
		o.SeenSize = 10000
	}
}

// Session holds one user's inbox and open conversation.
type Session struct {
	userID   string
	api      API
	stream   Subscriber
	profiles profile.Lookup
	opts     SessionOptions
	logger   *slog.Logger

	// message IDs already folded into inbox summaries
	seen *dedupe.Cache[string, struct{}]

	mu         sync.Mutex
	inbox      map[string]*InboxEntry
	state      State
	openID     string
	gen        uint64
	transcript []*api.Message
	buffered   []*api.Message
	// highest Seq acknowledged as delivered in the open conversation
	acked int64
}

// NewSession creates a session for userID. profiles may be nil, in which
// case every title is the placeholder name.
func NewSession(userID string, client API, stream Subscriber, profiles profile.Lookup, opts SessionOptions, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()
	return &Session{
		userID:   userID,
		api:      client,
		stream:   stream,
		profiles: profiles,
		opts:     opts,
		logger:   logger.With("component", "session", "user_id", userID),
		seen:     dedupe.NewSet(opts.SeenTTL, opts.SeenSize),
		inbox:    make(map[string]*InboxEntry),
	}
}

// Shutdown releases the session's cache. It does not touch the stream.
func (s *Session) Shutdown() {
	s.seen.Close()
}

// LoadInbox fetches the caller's conversations and resolves a title for
// each from the other participants' display names.
func (s *Session) LoadInbox(ctx context.Context) error {
	convs, err := s.api.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("loading conversations: %w", err)
	}

	others := lo.Uniq(lo.FlatMap(convs, func(c *api.Conversation, _ int) []string {
		return lo.Without(c.Participants, s.userID)
	}))

	var namesMu sync.Mutex
	names := make(map[string]string, len(others))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.LookupConcurrency)
	for _, id := range others {
		g.Go(func() error {
			name := profile.DisplayName(gctx, s.profiles, id)
			namesMu.Lock()
			names[id] = name
			namesMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make(map[string]*InboxEntry, len(convs))
	for _, c := range convs {
		entry := &InboxEntry{Conversation: c, Title: s.title(c, names)}
		if prev, ok := s.inbox[c.ID]; ok && newer(prev.Conversation.LastMessage, c.LastMessage) {
			entry.Conversation.LastMessage = prev.Conversation.LastMessage
		}
		fresh[c.ID] = entry
	}
	// Keep conversations that arrived by push after the list was read.
	for id, prev := range s.inbox {
		if _, ok := fresh[id]; !ok && prev.Placeholder {
			fresh[id] = prev
		}
	}
	s.inbox = fresh

	s.logger.Debug("inbox loaded", "conversations", len(convs), "profiles", len(others))
	return nil
}

func (s *Session) title(c *api.Conversation, names map[string]string) string {
	others := lo.Without(c.Participants, s.userID)
	if len(others) == 0 {
		return profile.PlaceholderName
	}
	return strings.Join(lo.Map(others, func(id string, _ int) string { return names[id] }), ", ")
}

// newer reports whether a is a later summary than b.
func newer(a, b *api.MessageSummary) bool {
	if a == nil {
		return false
	}
	return b == nil || a.SentAt.After(b.SentAt)
}

// Inbox returns conversations with at least one message, newest first.
func (s *Session) Inbox() []InboxEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]InboxEntry, 0, len(s.inbox))
	for _, e := range s.inbox {
		if e.Conversation.LastMessage == nil {
			continue
		}
		c := *e.Conversation
		last := *c.LastMessage
		c.LastMessage = &last
		out = append(out, InboxEntry{Conversation: &c, Title: e.Title, Placeholder: e.Placeholder})
	}
	slices.SortFunc(out, func(a, b InboxEntry) int {
		if c := b.Conversation.LastMessage.SentAt.Compare(a.Conversation.LastMessage.SentAt); c != 0 {
			return c
		}
		return strings.Compare(a.Conversation.ID, b.Conversation.ID)
	})
	return out
}

// State returns the view state and the open conversation ID.
func (s *Session) State() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.openID
}

// Transcript returns a copy of the open conversation's messages. It is
// empty unless the view is live.
func (s *Session) Transcript() []*api.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.transcript)
}

// Open shows conversationID, closing whatever was open before. Pushes that
// arrive while history loads are buffered and merged before going live.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	prev, prevState := s.openID, s.state
	s.gen++
	gen := s.gen
	s.openID = conversationID
	s.state = StateLoading
	s.transcript = nil
	s.buffered = nil
	s.mu.Unlock()

	if prevState != StateClosed && prev != conversationID {
		s.unsubscribe(ctx, prev)
	}

	if err := s.stream.Subscribe(ctx, conversationID); err != nil {
		s.abort(gen, conversationID)
		return fmt.Errorf("subscribing to %s: %w", conversationID, err)
	}

	history, err := s.api.Messages(ctx, conversationID, 0)
	if err != nil {
		if s.abort(gen, conversationID) {
			s.unsubscribe(ctx, conversationID)
		}
		return fmt.Errorf("loading history for %s: %w", conversationID, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		// A Close or Open for another conversation ran its Unsubscribe
		// before our Subscribe landed.
		stale := s.openID != conversationID
		s.mu.Unlock()
		if stale {
			s.unsubscribe(ctx, conversationID)
		}
		return ErrSuperseded
	}
	transcript := ReconcileAll(nil, history)
	s.transcript = ReconcileAll(transcript, s.buffered)
	s.buffered = nil
	s.acked = 0
	s.state = StateLive
	n := len(s.transcript)
	s.mu.Unlock()

	s.logger.Debug("conversation live", "conversation_id", conversationID, "messages", n)
	return nil
}

// abort resets the view if gen is still current. It reports whether the
// subscription to conversationID is no longer wanted by anyone.
func (s *Session) abort(gen uint64, conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.state = StateClosed
		s.openID = ""
		s.transcript = nil
		s.buffered = nil
	}
	return s.openID != conversationID
}

func (s *Session) unsubscribe(ctx context.Context, conversationID string) {
	if err := s.stream.Unsubscribe(ctx, conversationID); err != nil {
		s.logger.Warn("unsubscribe failed", "conversation_id", conversationID, "error", err)
	}
}

// Close closes the open conversation and unsubscribes from it.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	id := s.openID
	s.gen++
	s.state = StateClosed
	s.openID = ""
	s.transcript = nil
	s.buffered = nil
	s.mu.Unlock()

	if err := s.stream.Unsubscribe(ctx, id); err != nil {
		return fmt.Errorf("unsubscribing from %s: %w", id, err)
	}
	return nil
}

// HandlePush applies a pushed message to the transcript and the inbox.
func (s *Session) HandlePush(msg *api.Message) {
	if msg == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(msg)
	s.updateInboxLocked(msg)
}

func (s *Session) applyLocked(msg *api.Message) {
	if msg.ConversationID != s.openID {
		return
	}
	switch s.state {
	case StateLive:
		s.transcript = Reconcile(s.transcript, msg)
	case StateLoading:
		s.buffered = append(s.buffered, msg)
	}
}

func (s *Session) updateInboxLocked(msg *api.Message) {
	if msg.ID == "" || s.seen.CheckAndMark(msg.ID) {
		return
	}

	summary := msg.Summary()
	entry, ok := s.inbox[msg.ConversationID]
	if !ok {
		s.inbox[msg.ConversationID] = &InboxEntry{
			Conversation: &api.Conversation{
				ID:           msg.ConversationID,
				Participants: lo.Uniq([]string{s.userID, msg.SenderID}),
				LastMessage:  summary,
				CreatedAt:    msg.CreatedAt,
				UpdatedAt:    msg.CreatedAt,
			},
			Title:       profile.PlaceholderName,
			Placeholder: true,
		}
		return
	}
	if newer(entry.Conversation.LastMessage, summary) {
		return
	}
	entry.Conversation.LastMessage = summary
	if msg.CreatedAt.After(entry.Conversation.UpdatedAt) {
		entry.Conversation.UpdatedAt = msg.CreatedAt
	}
}

// Send appends body to the open conversation. An optimistic pending entry
// appears in the transcript at once and is replaced by the stored message,
// or marked failed when the request fails.
func (s *Session) Send(ctx context.Context, body string) (*api.Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("%w: body is required", conversation.ErrInvalidMessage)
	}

	now := time.Now().UTC()
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil, ErrNotOpen
	}
	pending := &api.Message{
		ConversationID: s.openID,
		SenderID:       s.userID,
		Body:           body,
		Status:         StatusPending,
		ClientMsgID:    uuid.NewString(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.applyLocked(pending)
	s.mu.Unlock()

	msg, err := s.api.Send(ctx, api.SendMessageRequest{
		ConversationID: pending.ConversationID,
		Body:           body,
		ClientMsgID:    pending.ClientMsgID,
	})
	if err != nil {
		failed := *pending
		failed.Status = StatusFailed
		failed.UpdatedAt = time.Now().UTC()
		s.mu.Lock()
		s.applyLocked(&failed)
		s.mu.Unlock()
		return nil, err
	}

	s.HandlePush(msg)
	return msg, nil
}

// Acknowledge marks every stored message from other participants in the
// live transcript as delivered. It is a no-op when nothing new arrived.
func (s *Session) Acknowledge(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateLive {
		s.mu.Unlock()
		return nil
	}
	id, acked := s.openID, s.acked
	upTo := acked
	for _, m := range s.transcript {
		if m.SenderID != s.userID && m.Seq > upTo {
			upTo = m.Seq
		}
	}
	s.mu.Unlock()
	if upTo == acked {
		return nil
	}

	if _, err := s.api.MarkDelivered(ctx, id, upTo); err != nil {
		return fmt.Errorf("acknowledging %s: %w", id, err)
	}

	s.mu.Lock()
	if s.state == StateLive && s.openID == id && upTo > s.acked {
		s.acked = upTo
	}
	s.mu.Unlock()
	return nil
}

// Run applies pushed messages until ctx is done or the stream ends.
func (s *Session) Run(ctx context.Context) error {
	pushes := s.stream.Messages()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-pushes:
			if !ok {
				return ErrStreamClosed
			}
			s.HandlePush(msg)
		}
	}
}

var (
	_ API        = (*Client)(nil)
	_ Subscriber = (*Stream)(nil)
)
