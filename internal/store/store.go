// ABOUTME: Store interface and data types for hostchat persistence
// ABOUTME: Defines Conversation, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a conversation for the same participant set already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrDuplicateMessage is returned when a message with the same client message ID was already stored
var ErrDuplicateMessage = errors.New("message already exists")

// ParticipantSeparator joins participant identities into a participant key.
// Identities containing it are rejected before they reach the store.
const ParticipantSeparator = "|"

// ConversationKind distinguishes one-on-one conversations from group conversations
type ConversationKind string

const (
	ConversationKindDirect ConversationKind = "direct" // exactly two participants
	ConversationKindGroup  ConversationKind = "group"  // three or more participants
)

// KindFor derives the conversation kind from the participant count
func KindFor(participants []string) ConversationKind {
	if len(participants) > 2 {
		return ConversationKindGroup
	}
	return ConversationKindDirect
}

// MessageStatus tracks the delivery lifecycle of a message
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusFailed    MessageStatus = "failed"
)

// Valid reports whether s is one of the known statuses
func (s MessageStatus) Valid() bool {
	switch s {
	case MessageStatusPending, MessageStatusSent, MessageStatusDelivered, MessageStatusFailed:
		return true
	}
	return false
}

// MessageSummary is the denormalized last message shown in inbox listings
type MessageSummary struct {
	MessageID string
	SenderID  string
	Text      string
	SentAt    time.Time
}

// Conversation is a grouping of two or more participants exchanging messages
type Conversation struct {
	ID           string
	Participants []string // sorted, unique
	Kind         ConversationKind
	LastMessage  *MessageSummary // nil until the first message is appended
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasParticipant reports whether userID belongs to the conversation
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Key returns the participant key identifying this conversation's participant set
func (c *Conversation) Key() string {
	return ParticipantKey(c.Participants)
}

// Message is a single entry in a conversation's message log.
// Only Status and UpdatedAt change after the message is stored.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Body           string
	Status         MessageStatus
	Seq            int64  // per-conversation order, assigned on append starting at 1
	ClientMsgID    string // optional idempotency key chosen by the sender
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Summary returns the inbox summary for this message
func (m *Message) Summary() *MessageSummary {
	return &MessageSummary{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Text:      m.Body,
		SentAt:    m.CreatedAt,
	}
}

// ParticipantKey builds the order-independent key for a participant set.
// The input is not modified.
func ParticipantKey(participants []string) string {
	sorted := make([]string, len(participants))
	copy(sorted, participants)
	sort.Strings(sorted)
	return strings.Join(sorted, ParticipantSeparator)
}

// Store defines the interface for conversation and message persistence
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationByKey(ctx context.Context, participantKey string) (*Conversation, error)
	ListConversationsByParticipant(ctx context.Context, userID string, limit int) ([]*Conversation, error)

	// Message log
	AppendMessage(ctx context.Context, msg *Message) (*Message, error)
	GetMessageByClientID(ctx context.Context, conversationID, senderID, clientMsgID string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string, afterSeq int64) ([]*Message, error)
	MarkDelivered(ctx context.Context, conversationID, readerID string, upToSeq int64) (int64, error)

	// Ping checks the backing database is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
