// Package auth identifies the caller of hostchat HTTP and WebSocket requests.
//
// # Authentication Methods
//
//   - JWT Tokens: when auth.jwt_secret is configured, requests carry an HS256
//     token in "Authorization: Bearer <token>". The "sub" claim is the user ID.
//     WebSocket upgrades may pass the token as ?access_token= instead.
//
//   - Development header: without a secret, the X-User-ID header is trusted.
//     The middleware logs a warning at startup in this mode.
//
// # Usage
//
//	verifier, err := auth.NewJWTVerifier([]byte(secret))
//	mux := auth.HTTPAuthMiddleware(verifier, logger)(apiMux)
//
// Handlers read the caller with:
//
//	userID := auth.MustFromContext(r.Context()).UserID
//
// Unauthenticated requests get 401 with a JSON error body.
package auth
