// ABOUTME: Service resolves conversations by participant set and appends to their message logs
// ABOUTME: Messages are persisted first, then published to the conversation topic in commit order

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/2389/hostchat/internal/store"
)

var (
	// ErrInvalidParticipants is returned when a participant set is malformed
	// or has fewer than two distinct identities.
	ErrInvalidParticipants = errors.New("invalid participants")

	// ErrInvalidMessage is returned when a message body is empty or too long.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrNotParticipant is returned when a user acts on a conversation they don't belong to.
	ErrNotParticipant = errors.New("not a participant")

	// ErrPersistence is returned when the store is unavailable or rejects a write.
	// Callers may retry the whole operation.
	ErrPersistence = errors.New("persistence failure")
)

const (
	DefaultMaxParticipants = 16
	DefaultMaxBodyRunes    = 4000
)

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetConversationByKey(ctx context.Context, participantKey string) (*store.Conversation, error)
	ListConversationsByParticipant(ctx context.Context, userID string, limit int) ([]*store.Conversation, error)

	AppendMessage(ctx context.Context, msg *store.Message) (*store.Message, error)
	GetMessageByClientID(ctx context.Context, conversationID, senderID, clientMsgID string) (*store.Message, error)
	ListMessages(ctx context.Context, conversationID string, afterSeq int64) ([]*store.Message, error)
	MarkDelivered(ctx context.Context, conversationID, readerID string, upToSeq int64) (int64, error)
}

// Publisher fans a stored message out to the subscribers of a topic.
type Publisher interface {
	Publish(topic string, msg *store.Message) (delivered, dropped int)
}

// Recorder receives counters from the service. *metrics.Collector satisfies it.
type Recorder interface {
	ConversationCreated()
	MessageAppended()
	AppendFailed()
	Published(delivered, dropped int)
}

type nopRecorder struct{}

func (nopRecorder) ConversationCreated() {}
func (nopRecorder) MessageAppended()     {}
func (nopRecorder) AppendFailed()        {}
func (nopRecorder) Published(_, _ int)   {}

// Options tunes validation limits. Zero values use the defaults.
type Options struct {
	MaxParticipants int
	MaxBodyRunes    int
	Recorder        Recorder
}

// Service is the conversation layer: it resolves participant sets to
// conversations and appends messages, publishing each one only after it is
// durably stored.
type Service struct {
	store           ConversationStore
	publisher       Publisher
	recorder        Recorder
	locks           *keyedMutex
	maxParticipants int
	maxBodyRunes    int
	logger          *slog.Logger
}

// New creates a new conversation Service. A nil publisher disables fan-out.
func New(store ConversationStore, publisher Publisher, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxParticipants <= 0 {
		opts.MaxParticipants = DefaultMaxParticipants
	}
	if opts.MaxBodyRunes <= 0 {
		opts.MaxBodyRunes = DefaultMaxBodyRunes
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Service{
		store:           store,
		publisher:       publisher,
		recorder:        opts.Recorder,
		locks:           newKeyedMutex(),
		maxParticipants: opts.MaxParticipants,
		maxBodyRunes:    opts.MaxBodyRunes,
		logger:          logger.With("component", "conversation"),
	}
}

// AppendRequest identifies an existing conversation and the message to add to it.
type AppendRequest struct {
	ConversationID string
	SenderID       string
	Body           string
	ClientMsgID    string // optional; retries with the same value return the first stored message
}

// SendRequest is an append that may name the conversation by participants instead of ID.
// The sender is always added to the participant set.
type SendRequest struct {
	ConversationID string
	Participants   []string
	SenderID       string
	Body           string
	ClientMsgID    string
}

// Resolve returns the conversation for exactly this participant set, creating it
// if none exists. Duplicate IDs are ignored. Calling it again with the same set,
// in any order, returns the same conversation, including under concurrent calls.
func (s *Service) Resolve(ctx context.Context, participantIDs []string) (*store.Conversation, error) {
	participants, err := s.normalizeParticipants(participantIDs)
	if err != nil {
		return nil, err
	}
	key := store.ParticipantKey(participants)

	conv, err := s.store.GetConversationByKey(ctx, key)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: looking up conversation: %w", ErrPersistence, err)
	}

	now := time.Now().UTC()
	conv = &store.Conversation{
		ID:           uuid.New().String(),
		Participants: participants,
		Kind:         store.KindFor(participants),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		// Handle race condition: another request may have created the conversation
		// between our lookup and insert attempt
		if errors.Is(err, store.ErrDuplicateConversation) {
			s.logger.Debug("conversation creation hit duplicate, retrying lookup", "participant_key", key)
			winner, lookupErr := s.store.GetConversationByKey(ctx, key)
			if lookupErr == nil {
				s.logger.Debug("found existing conversation after race", "conversation_id", winner.ID)
				return winner, nil
			}
			s.logger.Error("retry lookup failed after duplicate error", "lookup_error", lookupErr)
			return nil, fmt.Errorf("%w: re-fetching conversation: %w", ErrPersistence, lookupErr)
		}
		return nil, fmt.Errorf("%w: creating conversation: %w", ErrPersistence, err)
	}

	s.recorder.ConversationCreated()
	s.logger.Info("conversation created",
		"conversation_id", conv.ID,
		"kind", conv.Kind,
		"participants", len(participants))
	return conv, nil
}

// normalizeParticipants trims, dedupes and sorts ids, rejecting blank ids and
// ids that contain the participant key separator.
func (s *Service) normalizeParticipants(ids []string) ([]string, error) {
	trimmed := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("%w: blank participant id", ErrInvalidParticipants)
		}
		if strings.Contains(id, store.ParticipantSeparator) {
			return nil, fmt.Errorf("%w: participant id %q contains %q", ErrInvalidParticipants, id, store.ParticipantSeparator)
		}
		trimmed = append(trimmed, id)
	}

	unique := lo.Uniq(trimmed)
	if len(unique) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 distinct participants, got %d", ErrInvalidParticipants, len(unique))
	}
	if len(unique) > s.maxParticipants {
		return nil, fmt.Errorf("%w: at most %d participants allowed, got %d", ErrInvalidParticipants, s.maxParticipants, len(unique))
	}

	key := store.ParticipantKey(unique)
	return strings.Split(key, store.ParticipantSeparator), nil
}

// Get returns a conversation by ID.
func (s *Service) Get(ctx context.Context, id string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: getting conversation: %w", ErrPersistence, err)
	}
	return conv, nil
}

// ListForParticipant returns the user's conversations, most recently updated first.
func (s *Service) ListForParticipant(ctx context.Context, userID string, limit int) ([]*store.Conversation, error) {
	convs, err := s.store.ListConversationsByParticipant(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: listing conversations: %w", ErrPersistence, err)
	}
	return convs, nil
}

// Append durably stores a message with status sent and then publishes it on the
// conversation's topic. Publishing happens under a per-conversation lock, so
// subscribers see messages in Seq order. Delivery failures never fail the append.
func (s *Service) Append(ctx context.Context, req AppendRequest) (*store.Message, error) {
	body, err := s.validateBody(req.Body)
	if err != nil {
		return nil, err
	}

	conv, err := s.Get(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(req.SenderID) {
		return nil, fmt.Errorf("%w: %s in conversation %s", ErrNotParticipant, req.SenderID, conv.ID)
	}

	unlock := s.locks.Lock(conv.ID)
	defer unlock()

	now := time.Now().UTC()
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       req.SenderID,
		Body:           body,
		Status:         store.MessageStatusSent,
		ClientMsgID:    strings.TrimSpace(req.ClientMsgID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	stored, err := s.store.AppendMessage(ctx, msg)
	if errors.Is(err, store.ErrDuplicateMessage) && stored == nil {
		// Lost the race at INSERT; the other writer's row is the answer.
		var lerr error
		stored, lerr = s.store.GetMessageByClientID(ctx, conv.ID, msg.SenderID, msg.ClientMsgID)
		if lerr != nil {
			err = fmt.Errorf("loading duplicate %s: %v", msg.ClientMsgID, lerr)
		}
	}
	if errors.Is(err, store.ErrDuplicateMessage) && stored != nil {
		s.logger.Debug("duplicate append, returning stored message",
			"conversation_id", conv.ID,
			"message_id", stored.ID,
			"client_msg_id", msg.ClientMsgID)
		return stored, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("conversation %s: %w", conv.ID, store.ErrNotFound)
	}
	if err != nil {
		s.recorder.AppendFailed()
		s.logger.Error("failed to append message", "conversation_id", conv.ID, "error", err)
		return nil, fmt.Errorf("%w: appending message: %w", ErrPersistence, err)
	}
	s.recorder.MessageAppended()

	s.logger.Debug("message appended",
		"conversation_id", conv.ID,
		"message_id", stored.ID,
		"seq", stored.Seq,
		"sender", stored.SenderID)

	if s.publisher != nil {
		delivered, dropped := s.publisher.Publish(conv.ID, stored)
		s.recorder.Published(delivered, dropped)
		if dropped > 0 {
			s.logger.Warn("message not delivered to some subscribers",
				"conversation_id", conv.ID,
				"message_id", stored.ID,
				"dropped", dropped)
		}
	}

	return stored, nil
}

// Send appends a message, resolving the conversation from the participant set
// when no conversation ID is given.
func (s *Service) Send(ctx context.Context, req SendRequest) (*store.Message, error) {
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		if _, err := s.validateBody(req.Body); err != nil {
			return nil, err
		}
		conv, err := s.Resolve(ctx, append([]string{req.SenderID}, req.Participants...))
		if err != nil {
			return nil, err
		}
		conversationID = conv.ID
	}

	return s.Append(ctx, AppendRequest{
		ConversationID: conversationID,
		SenderID:       req.SenderID,
		Body:           req.Body,
		ClientMsgID:    req.ClientMsgID,
	})
}

func (s *Service) validateBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", fmt.Errorf("%w: body is empty", ErrInvalidMessage)
	}
	if n := utf8.RuneCountInString(body); n > s.maxBodyRunes {
		return "", fmt.Errorf("%w: body has %d characters, limit is %d", ErrInvalidMessage, n, s.maxBodyRunes)
	}
	return body, nil
}

// ListMessages returns the full history of a conversation in Seq order.
// An unknown conversation yields an empty list.
func (s *Service) ListMessages(ctx context.Context, conversationID string) ([]*store.Message, error) {
	return s.ListMessagesSince(ctx, conversationID, 0)
}

// ListMessagesSince returns the messages with Seq greater than afterSeq, for
// catching up after a reconnect.
func (s *Service) ListMessagesSince(ctx context.Context, conversationID string, afterSeq int64) ([]*store.Message, error) {
	if afterSeq < 0 {
		afterSeq = 0
	}
	msgs, err := s.store.ListMessages(ctx, conversationID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("%w: listing messages: %w", ErrPersistence, err)
	}
	return msgs, nil
}

// MarkDelivered records that readerID has received every message up to upToSeq.
// Only messages sent by other participants change status.
func (s *Service) MarkDelivered(ctx context.Context, conversationID, readerID string, upToSeq int64) (int64, error) {
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if !conv.HasParticipant(readerID) {
		return 0, fmt.Errorf("%w: %s in conversation %s", ErrNotParticipant, readerID, conv.ID)
	}

	n, err := s.store.MarkDelivered(ctx, conv.ID, readerID, upToSeq)
	if err != nil {
		return 0, fmt.Errorf("%w: marking delivered: %w", ErrPersistence, err)
	}
	return n, nil
}
