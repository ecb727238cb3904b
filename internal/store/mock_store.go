// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject persistence failures

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation ID
	byKey         map[string]string        // participant key -> conversation ID
	messages      map[string][]*Message    // keyed by conversation ID, in Seq order

	createErr error
	appendErr error
	listErr   error
	pingErr   error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		byKey:         make(map[string]string),
		messages:      make(map[string][]*Message),
	}
}

// FailCreate makes every CreateConversation call return err. Pass nil to clear.
func (m *MockStore) FailCreate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// FailAppend makes every AppendMessage call return err without writing. Pass nil to clear.
func (m *MockStore) FailAppend(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendErr = err
}

// FailList makes ListMessages and ListConversationsByParticipant return err. Pass nil to clear.
func (m *MockStore) FailList(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

// FailPing makes Ping return err. Pass nil to clear.
func (m *MockStore) FailPing(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

func cloneConversation(c *Conversation) *Conversation {
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	if c.LastMessage != nil {
		last := *c.LastMessage
		out.LastMessage = &last
	}
	return &out
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}

	key := conv.Key()
	if _, exists := m.byKey[key]; exists {
		return ErrDuplicateConversation
	}

	c := cloneConversation(conv)
	sort.Strings(c.Participants)
	m.conversations[c.ID] = c
	m.byKey[key] = c.ID
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(c), nil
}

// GetConversationByKey retrieves a conversation by participant key.
func (m *MockStore) GetConversationByKey(ctx context.Context, participantKey string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byKey[participantKey]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(m.conversations[id]), nil
}

// ListConversationsByParticipant returns the user's conversations, most recently updated first.
func (m *MockStore) ListConversationsByParticipant(ctx context.Context, userID string, limit int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.listErr != nil {
		return nil, m.listErr
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	var result []*Conversation
	for _, c := range m.conversations {
		if c.HasParticipant(userID) {
			result = append(result, cloneConversation(c))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// AppendMessage stores msg with the next Seq and updates the conversation summary.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.appendErr != nil {
		return nil, m.appendErr
	}

	conv, ok := m.conversations[msg.ConversationID]
	if !ok {
		return nil, ErrNotFound
	}

	existing := m.messages[msg.ConversationID]
	if msg.ClientMsgID != "" {
		for _, e := range existing {
			if e.SenderID == msg.SenderID && e.ClientMsgID == msg.ClientMsgID {
				dup := *e
				return &dup, ErrDuplicateMessage
			}
		}
	}

	stored := *msg
	stored.Seq = int64(len(existing)) + 1
	m.messages[msg.ConversationID] = append(existing, &stored)

	conv.LastMessage = stored.Summary()
	conv.UpdatedAt = stored.CreatedAt

	out := stored
	return &out, nil
}

// GetMessageByClientID retrieves a message by its sender-chosen client ID.
func (m *MockStore) GetMessageByClientID(ctx context.Context, conversationID, senderID, clientMsgID string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.messages[conversationID] {
		if e.SenderID == senderID && e.ClientMsgID == clientMsgID {
			out := *e
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// ListMessages returns messages with Seq greater than afterSeq in Seq order.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, afterSeq int64) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.listErr != nil {
		return nil, m.listErr
	}

	result := []*Message{}
	for _, e := range m.messages[conversationID] {
		if e.Seq > afterSeq {
			out := *e
			result = append(result, &out)
		}
	}
	return result, nil
}

// MarkDelivered marks sent messages from other senders up to upToSeq as delivered.
func (m *MockStore) MarkDelivered(ctx context.Context, conversationID, readerID string, upToSeq int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, e := range m.messages[conversationID] {
		if e.Seq <= upToSeq && e.SenderID != readerID && e.Status == MessageStatusSent {
			e.Status = MessageStatusDelivered
			n++
		}
	}
	return n, nil
}

// Ping returns the injected ping error, if any.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingErr
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
