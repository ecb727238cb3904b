// Package conversation resolves participant sets to conversations, appends to
// their message logs and fans new messages out to live subscribers.
//
// # Service
//
//	svc := conversation.New(store, broadcaster, conversation.Options{}, logger)
//
// Key operations:
//
//   - Resolve(ctx, participants): idempotent get-or-create by participant set
//   - Get(ctx, id) / ListForParticipant(ctx, userID, limit)
//   - Append(ctx, req): persist a message, then publish it
//   - Send(ctx, req): Append, resolving the conversation from participants when no ID is given
//   - ListMessages / ListMessagesSince: history in Seq order
//   - MarkDelivered(ctx, id, reader, upToSeq)
//
// # Resolving
//
// Participant IDs are trimmed, deduplicated and sorted. Fewer than two distinct
// IDs fail with ErrInvalidParticipants. When two callers create the same
// participant set at once, the store's UNIQUE participant key rejects the
// second insert and the loser returns the winner's conversation.
//
// # Appending
//
// A message is published only after the store commits it. The commit and the
// publish happen under a per-conversation lock, so every subscriber of a
// conversation sees messages in Seq order. Appends carrying a ClientMsgID that
// was already stored return the stored message without publishing again.
//
// # Delivery
//
// EventBroadcaster maps topics (conversation IDs) to subscriptions, at most one
// per client and topic. Publish never blocks: a subscriber whose buffer is full
// misses the message and must catch up from history. Late subscribers get no
// retroactive delivery.
//
// # Errors
//
//   - ErrInvalidParticipants, ErrInvalidMessage: rejected input, do not retry
//   - ErrNotParticipant: caller is not in the conversation
//   - store.ErrNotFound: unknown conversation
//   - ErrPersistence: store failure, safe to retry
package conversation
