// ABOUTME: Maps domain errors to wire error codes and HTTP status codes
// ABOUTME: Shared by the REST handlers and the push channel so both report failures the same way

package api

import (
	"errors"
	"net/http"

	"github.com/2389/hostchat/internal/conversation"
	"github.com/2389/hostchat/internal/profile"
	"github.com/2389/hostchat/internal/store"
)

// ErrorCode returns the wire code for err.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, conversation.ErrInvalidParticipants):
		return CodeInvalidParticipants
	case errors.Is(err, conversation.ErrInvalidMessage):
		return CodeInvalidMessage
	case errors.Is(err, conversation.ErrNotParticipant):
		return CodeForbidden
	case errors.Is(err, store.ErrNotFound), errors.Is(err, profile.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, conversation.ErrPersistence):
		return CodePersistence
	default:
		return CodeInternal
	}
}

// StatusForCode returns the HTTP status used for an error code.
func StatusForCode(code string) int {
	switch code {
	case CodeInvalidRequest, CodeInvalidParticipants, CodeInvalidMessage:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodePersistence:
		return http.StatusServiceUnavailable
	case CodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the same request may succeed if sent again.
func Retryable(code string) bool {
	return code == CodePersistence
}
