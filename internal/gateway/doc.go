// Package gateway orchestrates the hostchat-gateway server components.
//
// # Overview
//
// The gateway is the composition root: New opens the store and builds the
// conversation service, the event broadcaster, the push hub, the optional
// profile lookup and the metrics collector, then mounts them on one HTTP mux.
// Nothing is held in package-level state.
//
// # HTTP API
//
// All /api routes and /ws require an authenticated caller (JWT bearer token,
// or the X-User-ID header when no jwt_secret is configured):
//
//   - POST /api/conversations - Resolve the conversation for {participants} plus the caller
//   - GET /api/conversations - The caller's inbox, most recently updated first
//   - GET /api/conversations/{id} - One conversation (403 if the caller is not in it)
//   - GET /api/messages/{conversationId}?after_seq=N - History in Seq order
//   - POST /api/messages - Append a message; 201 once durably stored
//   - POST /api/messages/{conversationId}/delivered - Mark messages up to {up_to_seq} delivered
//   - GET /api/profiles/{userId} - Display name and avatar for a user
//   - GET /ws - WebSocket push channel (see package push)
//
// Unauthenticated:
//
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (database ping)
//   - GET /metrics - Prometheus metrics, when enabled
//
// # Errors
//
// Error bodies are {"error": "...", "code": "..."}. Invalid input maps to 400,
// non-participants to 403, unknown conversations to 404 and store failures to
// 503, which callers may retry.
//
// # Listeners
//
// The server listens on server.http_addr, or joins a tailnet through tsnet when
// tailscale.enabled is set (port 80, or 443 with Tailscale certificates when
// tailscale.https is set).
//
// # Shutdown
//
// Shutdown closes push connections first, then drains HTTP requests, stops the
// tailnet node and closes the broadcaster, profile cache and store.
package gateway
