// ABOUTME: SQLite implementation of the Store interface (modernc.org/sqlite or mattn/go-sqlite3)
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names
const (
	DriverSQLite  = "sqlite"  // modernc.org/sqlite, pure Go
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3, requires cgo
)

// timeLayout is fixed width so that stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// NewSQLiteStore creates a new SQLite store at the given path using the pure Go driver.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return OpenSQLite(DriverSQLite, path)
}

// OpenSQLite opens a SQLite store with the named driver.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func OpenSQLite(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn, err := buildDSN(driver, path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

// buildDSN enables foreign keys, a busy timeout and WAL mode in the driver's own DSN syntax
func buildDSN(driver, path string) (string, error) {
	memory := path == ":memory:"
	switch driver {
	case DriverSQLite:
		dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
		if !memory {
			dsn += "&_pragma=journal_mode(WAL)"
		}
		return dsn, nil
	case DriverSQLite3:
		dsn := "file:" + path + "?_foreign_keys=on&_busy_timeout=5000"
		if !memory {
			dsn += "&_journal_mode=WAL"
		}
		return dsn, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id                  TEXT PRIMARY KEY,
			participant_key     TEXT NOT NULL,
			kind                TEXT NOT NULL,
			last_message_id     TEXT,
			last_message_sender TEXT,
			last_message_text   TEXT,
			last_message_at     TEXT,
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL,

			CHECK (kind IN ('direct', 'group'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_participant_key
			ON conversations(participant_key);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at DESC);

		CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			user_id         TEXT NOT NULL,

			PRIMARY KEY (conversation_id, user_id)
		);

		CREATE INDEX IF NOT EXISTS idx_participants_user
			ON conversation_participants(user_id);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			seq             INTEGER NOT NULL,
			sender_id       TEXT NOT NULL,
			body            TEXT NOT NULL,
			status          TEXT NOT NULL,
			client_msg_id   TEXT,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,

			UNIQUE (conversation_id, seq),
			CHECK (status IN ('pending', 'sent', 'delivered', 'failed'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_client_id
			ON messages(conversation_id, sender_id, client_msg_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping verifies the database connection is alive
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// isUniqueViolation checks if the error is a SQLite UNIQUE constraint violation.
// Both drivers include the same message text.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateConversation inserts a conversation and its participant rows in one transaction.
// If a conversation with the same participant set already exists, it returns
// ErrDuplicateConversation and nothing is written.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, participant_key, kind, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		conv.ID,
		conv.Key(),
		string(conv.Kind),
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	for _, userID := range conv.Participants {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id) VALUES (?, ?)
		`, conv.ID, userID); err != nil {
			return fmt.Errorf("inserting participant %q: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "participants", len(conv.Participants))
	return nil
}

const conversationColumns = `
	c.id, c.participant_key, c.kind,
	c.last_message_id, c.last_message_sender, c.last_message_text, c.last_message_at,
	c.created_at, c.updated_at
`

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var key, kind, createdAtStr, updatedAtStr string
	var lastID, lastSender, lastText, lastAt sql.NullString

	if err := row.Scan(&conv.ID, &key, &kind, &lastID, &lastSender, &lastText, &lastAt, &createdAtStr, &updatedAtStr); err != nil {
		return nil, err
	}

	conv.Participants = strings.Split(key, ParticipantSeparator)
	conv.Kind = ConversationKind(kind)

	var err error
	conv.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	if lastID.Valid {
		sentAt, err := parseTime(lastAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_message_at: %w", err)
		}
		conv.LastMessage = &MessageSummary{
			MessageID: lastID.String,
			SenderID:  lastSender.String,
			Text:      lastText.String,
			SentAt:    sentAt,
		}
	}

	return &conv, nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations c WHERE c.id = ?`, id)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// GetConversationByKey retrieves a conversation by its participant key.
// This uses the idx_conversations_participant_key index.
// Returns ErrNotFound if no conversation exists for the participant set.
func (s *SQLiteStore) GetConversationByKey(ctx context.Context, participantKey string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations c WHERE c.participant_key = ?`, participantKey)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation by participants: %w", err)
	}
	return conv, nil
}

// ListConversationsByParticipant returns conversations that include userID,
// ordered by most recent activity.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListConversationsByParticipant(ctx context.Context, userID string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.updated_at DESC, c.id
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		convs = append(convs, conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	return convs, nil
}

const messageColumns = `id, conversation_id, seq, sender_id, body, status, client_msg_id, created_at, updated_at`

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var status, createdAtStr, updatedAtStr string
	var clientMsgID sql.NullString

	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.Seq, &msg.SenderID, &msg.Body, &status, &clientMsgID, &createdAtStr, &updatedAtStr); err != nil {
		return nil, err
	}

	msg.Status = MessageStatus(status)
	if clientMsgID.Valid {
		msg.ClientMsgID = clientMsgID.String
	}

	var err error
	msg.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing message created_at: %w", err)
	}
	msg.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing message updated_at: %w", err)
	}
	return &msg, nil
}

func getMessageByClientID(ctx context.Context, q querier, conversationID, senderID, clientMsgID string) (*Message, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND sender_id = ? AND client_msg_id = ?
	`, conversationID, senderID, clientMsgID)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message by client id: %w", err)
	}
	return msg, nil
}

// AppendMessage stores msg at the end of its conversation's log and updates the
// conversation's last message summary in the same transaction. The returned copy
// carries the assigned Seq. Neither change is visible if either write fails.
//
// If msg.ClientMsgID matches a message already stored for the same sender and
// conversation, the stored message is returned together with ErrDuplicateMessage.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) (*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, msg.ConversationID).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checking conversation: %w", err)
	}

	if msg.ClientMsgID != "" {
		existing, err := getMessageByClientID(ctx, tx, msg.ConversationID, msg.SenderID, msg.ClientMsgID)
		if err == nil {
			return existing, ErrDuplicateMessage
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	stored := *msg
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?
	`, msg.ConversationID).Scan(&stored.Seq); err != nil {
		return nil, fmt.Errorf("allocating sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, seq, sender_id, body, status, client_msg_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		stored.ID,
		stored.ConversationID,
		stored.Seq,
		stored.SenderID,
		stored.Body,
		string(stored.Status),
		nullString(stored.ClientMsgID),
		formatTime(stored.CreatedAt),
		formatTime(stored.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) && stored.ClientMsgID != "" {
			return nil, ErrDuplicateMessage
		}
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_id = ?, last_message_sender = ?, last_message_text = ?, last_message_at = ?, updated_at = ?
		WHERE id = ?
	`,
		stored.ID,
		stored.SenderID,
		stored.Body,
		formatTime(stored.CreatedAt),
		formatTime(stored.CreatedAt),
		stored.ConversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("updating last message: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("appended message", "id", stored.ID, "conversation_id", stored.ConversationID, "seq", stored.Seq)
	return &stored, nil
}

// GetMessageByClientID retrieves the message a sender stored under clientMsgID.
// Returns ErrNotFound if there is none.
func (s *SQLiteStore) GetMessageByClientID(ctx context.Context, conversationID, senderID, clientMsgID string) (*Message, error) {
	return getMessageByClientID(ctx, s.db, conversationID, senderID, clientMsgID)
}

// ListMessages returns the messages of a conversation with Seq greater than afterSeq,
// in Seq order. Pass 0 for the full history. An unknown conversation yields an empty list.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, afterSeq int64) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND seq > ?
		ORDER BY seq ASC
	`, conversationID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// MarkDelivered moves messages up to and including upToSeq from sent to delivered,
// skipping those sent by readerID. Returns the number of messages changed.
func (s *SQLiteStore) MarkDelivered(ctx context.Context, conversationID, readerID string, upToSeq int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = ?, updated_at = ?
		WHERE conversation_id = ? AND sender_id != ? AND seq <= ? AND status = ?
	`,
		string(MessageStatusDelivered),
		formatTime(time.Now()),
		conversationID,
		readerID,
		upToSeq,
		string(MessageStatusSent),
	)
	if err != nil {
		return 0, fmt.Errorf("marking messages delivered: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	if n > 0 {
		s.logger.Debug("marked messages delivered", "conversation_id", conversationID, "reader", readerID, "count", n)
	}
	return n, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
