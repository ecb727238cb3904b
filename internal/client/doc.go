// Package client talks to hostchat-gateway and keeps a local view of one
// user's conversations.
//
// # REST
//
// Client wraps the /api routes. Non-2xx responses come back as *APIError,
// which unwraps to the conversation and store sentinels:
//
//	c := client.NewClient("http://localhost:8080", client.Credentials{Token: tok}, nil)
//	conv, err := c.Resolve(ctx, []string{"host-42"})
//	if errors.Is(err, conversation.ErrInvalidParticipants) { ... }
//
// Client also implements profile.Lookup through GET /api/profiles/{userId}.
//
// # Push
//
// Dial opens the /ws channel. Subscribe, Unsubscribe, Send and Ping wait for
// the reply carrying the same ref; pushed messages arrive on Messages().
//
// # Session
//
// Session is the cache a UI renders from: an inbox with resolved titles and
// one open transcript. The view moves Closed -> Loading -> Live on Open and
// back to Closed on Close. While loading, pushes for the conversation are
// buffered and merged with the fetched history, so nothing published between
// subscribing and reading history is lost.
//
// Reconcile merges a message into a transcript by ID, so the server echo of
// a message this client sent replaces its optimistic entry instead of
// appearing twice.
package client
