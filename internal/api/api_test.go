package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/hostchat/internal/conversation"
	"github.com/2389/hostchat/internal/profile"
	"github.com/2389/hostchat/internal/store"
)

func TestFromConversation(t *testing.T) {
	at := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	c := &store.Conversation{
		ID:           "c1",
		Participants: []string{"guest", "host"},
		Kind:         store.ConversationKindDirect,
		CreatedAt:    at,
		UpdatedAt:    at,
	}

	out := FromConversation(c)
	assert.Nil(t, out.LastMessage)
	assert.Equal(t, "direct", out.Kind)

	c.LastMessage = &store.MessageSummary{MessageID: "m1", SenderID: "host", Text: "hi", SentAt: at}
	out = FromConversation(c)
	require.NotNil(t, out.LastMessage)
	assert.Equal(t, "hi", out.LastMessage.Text)

	// The participant slice is not shared
	out.Participants[0] = "x"
	assert.Equal(t, "guest", c.Participants[0])
}

func TestFromConversation_NullLastMessageOnTheWire(t *testing.T) {
	out := FromConversation(&store.Conversation{ID: "c1", Participants: []string{"a", "b"}})
	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"last_message":null`)
}

func TestFromMessages_NeverNil(t *testing.T) {
	assert.NotNil(t, FromMessages(nil))
	assert.NotNil(t, FromConversations(nil))

	msgs := FromMessages([]*store.Message{
		{ID: "m1", Seq: 1, Status: store.MessageStatusSent},
		{ID: "m2", Seq: 2, Status: store.MessageStatusDelivered, ClientMsgID: "c-2"},
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, "delivered", msgs[1].Status)
	assert.Equal(t, "c-2", msgs[1].ClientMsgID)
}

func TestValidate_SendMessageRequest(t *testing.T) {
	assert.NoError(t, Validate(&SendMessageRequest{ConversationID: "c1", Body: "hi"}))
	assert.NoError(t, Validate(&SendMessageRequest{Participants: []string{"host"}, Body: "hi"}))

	err := Validate(&SendMessageRequest{Body: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conversation_id: required_without")

	err = Validate(&SendMessageRequest{ConversationID: "c1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "body: required")

	err = Validate(&SendMessageRequest{ConversationID: "c1", Body: "x", ClientMsgID: strings.Repeat("a", 129)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max=128")
}

func TestValidate_ResolveRequest(t *testing.T) {
	assert.NoError(t, Validate(&ResolveRequest{Participants: []string{"host"}}))
	// Too few or blank participants are the resolver's call.
	assert.NoError(t, Validate(&ResolveRequest{}))
	assert.NoError(t, Validate(&ResolveRequest{Participants: []string{""}}))
	assert.Error(t, Validate(&ResolveRequest{Participants: []string{strings.Repeat("x", 257)}}))
}

func TestValidate_ClientFrame(t *testing.T) {
	assert.NoError(t, Validate(&ClientFrame{Type: FramePing}))
	assert.NoError(t, Validate(&ClientFrame{Type: FrameSubscribe, Topic: "c1"}))
	assert.NoError(t, Validate(&ClientFrame{Type: FrameSend, ConversationID: "c1", Body: "hi"}))

	assert.Error(t, Validate(&ClientFrame{Type: FrameSubscribe}))
	assert.Error(t, Validate(&ClientFrame{Type: FrameSend, ConversationID: "c1"}))
	assert.Error(t, Validate(&ClientFrame{Type: "shout"}))
}

func TestValidate_DeliveredRequest(t *testing.T) {
	assert.NoError(t, Validate(&DeliveredRequest{UpToSeq: 3}))
	assert.Error(t, Validate(&DeliveredRequest{UpToSeq: 0}))
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err    error
		code   string
		status int
	}{
		{fmt.Errorf("resolve: %w", conversation.ErrInvalidParticipants), CodeInvalidParticipants, http.StatusBadRequest},
		{fmt.Errorf("append: %w", conversation.ErrInvalidMessage), CodeInvalidMessage, http.StatusBadRequest},
		{fmt.Errorf("append: %w", conversation.ErrNotParticipant), CodeForbidden, http.StatusForbidden},
		{fmt.Errorf("conversation c1: %w", store.ErrNotFound), CodeNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: disk full", conversation.ErrPersistence), CodePersistence, http.StatusServiceUnavailable},
		{errors.New("boom"), CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			code := ErrorCode(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.status, StatusForCode(code))
		})
	}

	assert.Empty(t, ErrorCode(nil))
	assert.True(t, Retryable(CodePersistence))
	assert.False(t, Retryable(CodeInvalidMessage))
	assert.Equal(t, http.StatusBadRequest, StatusForCode(CodeInvalidRequest))
	assert.Equal(t, http.StatusUnauthorized, StatusForCode(CodeUnauthorized))
}

func TestErrorCode_Profiles(t *testing.T) {
	assert.Equal(t, CodeNotFound, ErrorCode(fmt.Errorf("user u1: %w", profile.ErrNotFound)))
	assert.Equal(t, http.StatusBadGateway, StatusForCode(CodeUpstream))
}

func TestProfileRoundTrip(t *testing.T) {
	p := &profile.Profile{UserID: "u1", DisplayName: "Ada", AvatarURL: "https://img/ada.png"}
	assert.Equal(t, p, FromProfile(p).ToProfile())
}
