// Package store provides durable storage for conversations and their message logs.
//
// # Architecture
//
// Store is the single persistence interface. Two implementations exist:
//
//   - SQLiteStore: database/sql over modernc.org/sqlite (driver "sqlite") or
//     github.com/mattn/go-sqlite3 (driver "sqlite3")
//   - MockStore: in-memory, with failure injection for tests
//
// # Data Models
//
//   - Conversation: a participant set (two or more identities) plus the
//     denormalized summary of its most recent message
//   - Message: an append-only log entry with a per-conversation Seq
//
// # Invariants
//
// At most one conversation exists per participant set. Participant IDs are sorted
// and joined with ParticipantSeparator into a participant key that carries a
// UNIQUE index; a losing concurrent insert gets ErrDuplicateConversation.
//
// Messages are ordered by Seq, which AppendMessage assigns inside the same
// transaction that inserts the message and updates the conversation summary.
// Either both writes are visible or neither is.
//
// A message stored with a ClientMsgID is unique per (conversation, sender,
// client ID); appending it again returns the stored copy with ErrDuplicateMessage.
//
// # SQLite Configuration
//
// Pragmas are set through the DSN so that every pooled connection gets them:
//
//	foreign_keys=ON
//	busy_timeout=5000
//	journal_mode=WAL (file databases only)
//
// The pool is limited to one connection, which serializes writers.
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(path) with t.TempDir()
// for integration tests against real SQLite.
package store
