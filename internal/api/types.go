// ABOUTME: JSON wire types shared by the gateway HTTP API, the push channel and the client
// ABOUTME: Converts store records into their external representation

package api

import (
	"time"

	"github.com/samber/lo"

	"github.com/2389/hostchat/internal/profile"
	"github.com/2389/hostchat/internal/store"
)

// MessageSummary is the last-message preview shown in an inbox.
type MessageSummary struct {
	MessageID string    `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
}

// Conversation is the JSON form of a conversation.
type Conversation struct {
	ID           string          `json:"id"`
	Participants []string        `json:"participants"`
	Kind         string          `json:"kind"`
	LastMessage  *MessageSummary `json:"last_message"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Message is the JSON form of a message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"body"`
	Status         string    `json:"status"`
	Seq            int64     `json:"seq"`
	ClientMsgID    string    `json:"client_msg_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Summary returns the inbox preview for m.
func (m *Message) Summary() *MessageSummary {
	return &MessageSummary{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Text:      m.Body,
		SentAt:    m.CreatedAt,
	}
}

// FromConversation converts a stored conversation.
func FromConversation(c *store.Conversation) *Conversation {
	out := &Conversation{
		ID:           c.ID,
		Participants: append([]string(nil), c.Participants...),
		Kind:         string(c.Kind),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	if c.LastMessage != nil {
		out.LastMessage = &MessageSummary{
			MessageID: c.LastMessage.MessageID,
			SenderID:  c.LastMessage.SenderID,
			Text:      c.LastMessage.Text,
			SentAt:    c.LastMessage.SentAt,
		}
	}
	return out
}

// FromConversations converts a list of stored conversations. Never returns nil.
func FromConversations(cs []*store.Conversation) []*Conversation {
	if len(cs) == 0 {
		return []*Conversation{}
	}
	return lo.Map(cs, func(c *store.Conversation, _ int) *Conversation {
		return FromConversation(c)
	})
}

// FromMessage converts a stored message.
func FromMessage(m *store.Message) *Message {
	return &Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		Status:         string(m.Status),
		Seq:            m.Seq,
		ClientMsgID:    m.ClientMsgID,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// FromMessages converts a list of stored messages. Never returns nil.
func FromMessages(ms []*store.Message) []*Message {
	if len(ms) == 0 {
		return []*Message{}
	}
	return lo.Map(ms, func(m *store.Message, _ int) *Message {
		return FromMessage(m)
	})
}

// ResolveRequest is the JSON request body for POST /api/conversations.
// The caller is always added to the participant set, so an empty list is
// well formed and rejected later as too few participants.
type ResolveRequest struct {
	Participants []string `json:"participants" validate:"max=64,dive,max=256"`
}

// SendMessageRequest is the JSON request body for POST /api/messages.
// Either ConversationID or Participants names the conversation.
type SendMessageRequest struct {
	ConversationID string   `json:"conversation_id,omitempty" validate:"required_without=Participants,omitempty,max=64"`
	Participants   []string `json:"participants,omitempty" validate:"omitempty,max=64,dive,required,max=256"`
	Body           string   `json:"body" validate:"required"`
	ClientMsgID    string   `json:"client_msg_id,omitempty" validate:"omitempty,max=128"`
}

// DeliveredRequest is the JSON request body for POST /api/messages/{conversationId}/delivered.
type DeliveredRequest struct {
	UpToSeq int64 `json:"up_to_seq" validate:"gte=1"`
}

// DeliveredResponse reports how many messages changed status.
type DeliveredResponse struct {
	Updated int64 `json:"updated"`
}

// ConversationsResponse is the JSON response for GET /api/conversations.
type ConversationsResponse struct {
	Conversations []*Conversation `json:"conversations"`
}

// MessagesResponse is the JSON response for GET /api/messages/{conversationId}.
type MessagesResponse struct {
	Messages []*Message `json:"messages"`
}

// Profile is the JSON response for GET /api/profiles/{userId}.
type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// FromProfile converts a looked-up profile.
func FromProfile(p *profile.Profile) *Profile {
	return &Profile{UserID: p.UserID, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL}
}

// ToProfile converts the JSON form back into a profile.
func (p *Profile) ToProfile() *profile.Profile {
	return &profile.Profile{UserID: p.UserID, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL}
}

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error codes carried in ErrorResponse.Code and error frames
const (
	CodeInvalidRequest      = "invalid_request"
	CodeInvalidParticipants = "invalid_participants"
	CodeInvalidMessage      = "invalid_message"
	CodeUnauthorized        = "unauthorized"
	CodeForbidden           = "forbidden"
	CodeNotFound            = "not_found"
	CodePersistence         = "persistence_failure"
	CodeUpstream            = "upstream_failure"
	CodeInternal            = "internal"
)
