// ABOUTME: HTTP API handlers for conversations, message history, sending and profiles
// ABOUTME: Decodes and validates JSON bodies, maps service errors to status codes

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/2389/hostchat/internal/api"
	"github.com/2389/hostchat/internal/auth"
	"github.com/2389/hostchat/internal/conversation"
	"github.com/2389/hostchat/internal/profile"
	"github.com/2389/hostchat/internal/store"
)

// maxRequestBytes bounds JSON request bodies.
const maxRequestBytes = 1 << 20

// sendJSON writes v as a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, code, message string) {
	g.sendJSON(w, status, api.ErrorResponse{Error: message, Code: code})
}

// sendError maps a service error to its status code and writes it.
// Internal errors are logged and their details withheld from the caller.
func (g *Gateway) sendError(w http.ResponseWriter, r *http.Request, err error) {
	code := api.ErrorCode(err)
	status := api.StatusForCode(code)

	message := err.Error()
	switch {
	case status == http.StatusInternalServerError:
		g.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		message = "internal server error"
	case status >= 500:
		g.logger.Warn("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	g.sendJSONError(w, status, code, message)
}

// decodeRequest reads a JSON body into v and validates it.
func (g *Gateway) decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(v); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, api.CodeInvalidRequest, "invalid JSON body")
		return false
	}
	if err := api.Validate(v); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
		return false
	}
	return true
}

// caller returns the authenticated user, writing a 401 if there is none.
func (g *Gateway) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	authCtx := auth.FromContext(r.Context())
	if authCtx == nil || authCtx.UserID == "" {
		g.sendJSONError(w, http.StatusUnauthorized, api.CodeUnauthorized, "not authenticated")
		return "", false
	}
	return authCtx.UserID, true
}

// handleResolveConversation handles POST /api/conversations.
// The caller is added to the participant set; the same set always yields the
// same conversation.
func (g *Gateway) handleResolveConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.caller(w, r)
	if !ok {
		return
	}

	var req api.ResolveRequest
	if !g.decodeRequest(w, r, &req) {
		return
	}

	conv, err := g.conversation.Resolve(r.Context(), append([]string{userID}, req.Participants...))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, api.FromConversation(conv))
}

// handleListConversations handles GET /api/conversations, the caller's inbox.
// Supports an optional ?limit=N.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.caller(w, r)
	if !ok {
		return
	}

	limit := g.config.Messages.InboxLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			g.sendJSONError(w, http.StatusBadRequest, api.CodeInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	convs, err := g.conversation.ListForParticipant(r.Context(), userID, limit)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, api.ConversationsResponse{Conversations: api.FromConversations(convs)})
}

// handleGetConversation handles GET /api/conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.caller(w, r)
	if !ok {
		return
	}

	conv, err := g.conversation.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	if !conv.HasParticipant(userID) {
		g.sendJSONError(w, http.StatusForbidden, api.CodeForbidden, "not a participant of this conversation")
		return
	}
	g.sendJSON(w, http.StatusOK, api.FromConversation(conv))
}

// handleListMessages handles GET /api/messages/{conversationId}.
// Returns history in Seq order, optionally only messages after ?after_seq=N.
// An unknown conversation yields an empty list.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.caller(w, r)
	if !ok {
		return
	}

	var afterSeq int64
	if s := r.URL.Query().Get("after_seq"); s != "" {
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil || parsed < 0 {
			g.sendJSONError(w, http.StatusBadRequest, api.CodeInvalidRequest, "after_seq must be a non-negative integer")
			return
		}
		afterSeq = parsed
	}

	conversationID := r.PathValue("conversationId")
	conv, err := g.conversation.Get(r.Context(), conversationID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSON(w, http.StatusOK, api.MessagesResponse{Messages: []*api.Message{}})
		return
	}
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	if !conv.HasParticipant(userID) {
		g.sendJSONError(w, http.StatusForbidden, api.CodeForbidden, "not a participant of this conversation")
		return
	}

	msgs, err := g.conversation.ListMessagesSince(r.Context(), conv.ID, afterSeq)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, api.MessagesResponse{Messages: api.FromMessages(msgs)})
}

// handleSendMessage handles POST /api/messages. The caller is the sender.
// When conversation_id is omitted the conversation is resolved from
// participants. Responds 201 once the message is durably stored.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.caller(w, r)
	if !ok {
		return
	}

	var req api.SendMessageRequest
	if !g.decodeRequest(w, r, &req) {
		return
	}

	msg, err := g.conversation.Send(r.Context(), conversation.SendRequest{
		ConversationID: req.ConversationID,
		Participants:   req.Participants,
		SenderID:       userID,
		Body:           req.Body,
		ClientMsgID:    req.ClientMsgID,
	})
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, api.FromMessage(msg))
}

// handleMarkDelivered handles POST /api/messages/{conversationId}/delivered.
func (g *Gateway) handleMarkDelivered(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.caller(w, r)
	if !ok {
		return
	}

	var req api.DeliveredRequest
	if !g.decodeRequest(w, r, &req) {
		return
	}

	n, err := g.conversation.MarkDelivered(r.Context(), r.PathValue("conversationId"), userID, req.UpToSeq)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, api.DeliveredResponse{Updated: n})
}

// handleGetProfile handles GET /api/profiles/{userId}.
func (g *Gateway) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	if _, ok := g.caller(w, r); !ok {
		return
	}
	if g.profiles == nil {
		g.sendJSONError(w, http.StatusNotFound, api.CodeNotFound, "profile lookups are not configured")
		return
	}

	userID := r.PathValue("userId")
	p, err := g.profiles.GetProfile(r.Context(), userID)
	if errors.Is(err, profile.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, api.CodeNotFound, fmt.Sprintf("no profile for %s", userID))
		return
	}
	if err != nil {
		g.logger.Warn("profile lookup failed", "user_id", userID, "error", err)
		g.sendJSONError(w, http.StatusBadGateway, api.CodeUpstream, "profile service unavailable")
		return
	}
	g.sendJSON(w, http.StatusOK, api.FromProfile(p))
}
