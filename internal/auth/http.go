// ABOUTME: HTTP middleware that authenticates API and WebSocket requests
// ABOUTME: Accepts a JWT bearer token, or the X-User-ID header when no verifier is configured

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// UserIDHeader carries the caller identity in development mode.
const UserIDHeader = "X-User-ID"

// AccessTokenParam lets browser WebSocket clients, which cannot set headers,
// pass the bearer token in the query string.
const AccessTokenParam = "access_token"

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// Authenticate extracts the caller from r. With a nil verifier the X-User-ID
// header is trusted as-is. Returns an error message (empty if successful).
func Authenticate(r *http.Request, verifier TokenVerifier) (*AuthContext, string) {
	if verifier == nil {
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			return nil, "missing " + UserIDHeader + " header"
		}
		return &AuthContext{UserID: userID, Method: MethodHeader}, ""
	}

	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" && isWebSocketUpgrade(r) {
		if qt := r.URL.Query().Get(AccessTokenParam); qt != "" {
			token, errMsg = qt, ""
		}
	}
	if errMsg != "" {
		return nil, errMsg
	}

	userID, err := verifier.Verify(token)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return nil, "token expired"
		}
		return nil, "invalid token"
	}
	return &AuthContext{UserID: userID, Method: MethodJWT}, ""
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": "unauthorized"})
}

// HTTPAuthMiddleware creates an HTTP middleware that authenticates every request
// and adds the AuthContext to the request context. Pass a nil verifier for
// development mode.
func HTTPAuthMiddleware(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")
	if verifier == nil {
		logger.Warn("no jwt secret configured, trusting " + UserIDHeader + " header")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, errMsg := Authenticate(r, verifier)
			if errMsg != "" {
				logger.Debug("request rejected", "path", r.URL.Path, "reason", errMsg)
				writeUnauthorized(w, errMsg)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}
