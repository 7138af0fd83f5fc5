// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Conversation/message persistence with automatic schema creation and WAL mode

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Courtneyezra/handyservices-gateway/internal/funnel"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path. The schema
// is created if it doesn't exist; parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		conversation_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		stage TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'customer',
		last_message_preview TEXT NOT NULL DEFAULT '',
		last_message_at TEXT,
		last_inbound_at TEXT,
		unread_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		message_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL REFERENCES conversations(conversation_id),
		direction TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'delivered',
		media_url TEXT NOT NULL DEFAULT '',
		media_type TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		PRIMARY KEY (conversation_id, message_id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation_time
		ON messages(conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_conversations_activity
		ON conversations(last_message_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveInbound records an inbound message inside a transaction so the
// message row and the conversation counters always agree.
func (s *SQLiteStore) SaveInbound(ctx context.Context, msg *Message, senderName string) (*Conversation, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	conv, created, err := s.ensureConversation(ctx, tx, msg.ConversationID, senderName, now)
	if err != nil {
		return nil, false, err
	}

	if err := insertMessage(ctx, tx, msg); err != nil {
		return nil, false, err
	}

	preview := previewFor(msg)
	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_preview = ?,
		    last_message_at = ?,
		    last_inbound_at = ?,
		    unread_count = unread_count + 1,
		    display_name = CASE WHEN ? != '' THEN ? ELSE display_name END,
		    updated_at = ?
		WHERE conversation_id = ?`,
		preview,
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		senderName, senderName,
		now.Format(time.RFC3339Nano),
		msg.ConversationID,
	)
	if err != nil {
		return nil, false, fmt.Errorf("updating conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing: %w", err)
	}

	conv.LastMessagePreview = preview
	conv.LastMessageAt = msg.CreatedAt
	inboundAt := msg.CreatedAt
	conv.LastInboundAt = &inboundAt
	conv.UnreadCount++
	if senderName != "" {
		conv.DisplayName = senderName
	}
	conv.UpdatedAt = now

	s.logger.Debug("inbound message saved",
		"conversation_id", msg.ConversationID,
		"message_id", msg.ID,
		"created", created)
	return conv, created, nil
}

// SaveOutbound records an outbound message. The conversation must exist;
// operators only reply to contacts who reached out first.
func (s *SQLiteStore) SaveOutbound(ctx context.Context, msg *Message) (*Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	conv, err := getConversation(ctx, tx, msg.ConversationID)
	if err != nil {
		return nil, err
	}

	if err := insertMessage(ctx, tx, msg); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	preview := previewFor(msg)
	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_preview = ?, last_message_at = ?, updated_at = ?
		WHERE conversation_id = ?`,
		preview,
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		msg.ConversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("updating conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing: %w", err)
	}

	conv.LastMessagePreview = preview
	conv.LastMessageAt = msg.CreatedAt
	conv.UpdatedAt = now
	return conv, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return getConversation(ctx, s.db, id)
}

func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, display_name, stage, role, last_message_preview,
		       last_message_at, last_inbound_at, unread_count, created_at, updated_at
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 200
	}

	// Newest N, returned ascending for display.
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, conversation_id, direction, content, status, media_url, media_type, created_at
		FROM (
			SELECT message_id, conversation_id, direction, content, status, media_url, media_type, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC
			LIMIT ?
		)
		ORDER BY created_at ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		var direction, status, createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &direction, &m.Content, &status, &m.MediaURL, &m.MediaType, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Direction = funnel.Direction(direction)
		m.Status = funnel.MessageStatus(status)
		if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing message timestamp: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) MarkRead(ctx context.Context, conversationID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET unread_count = 0, updated_at = ?
		WHERE conversation_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), conversationID)
	if err != nil {
		return fmt.Errorf("marking read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) UpdateStage(ctx context.Context, conversationID string, stage funnel.Stage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET stage = ?, updated_at = ?
		WHERE conversation_id = ?`,
		string(stage), time.Now().UTC().Format(time.RFC3339Nano), conversationID)
	if err != nil {
		return fmt.Errorf("updating stage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// querier covers both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) ensureConversation(ctx context.Context, tx *sql.Tx, id, senderName string, now time.Time) (*Conversation, bool, error) {
	conv, err := getConversation(ctx, tx, id)
	if err == nil {
		return conv, false, nil
	}
	if err != ErrNotFound {
		return nil, false, err
	}

	conv = &Conversation{
		ID:          id,
		DisplayName: senderName,
		Stage:       funnel.StageNewLead,
		Role:        funnel.RoleCustomer,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, display_name, stage, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.DisplayName, string(conv.Stage), string(conv.Role),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, false, fmt.Errorf("creating conversation: %w", err)
	}
	return conv, true, nil
}

func insertMessage(ctx context.Context, q querier, msg *Message) error {
	status := msg.Status
	if status == "" {
		status = funnel.StatusDelivered
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO messages (message_id, conversation_id, direction, content, status, media_url, media_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Direction), msg.Content, string(status),
		msg.MediaURL, msg.MediaType, msg.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") ||
			strings.Contains(err.Error(), "PRIMARY KEY constraint") {
			return ErrDuplicateMessage
		}
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

func getConversation(ctx context.Context, q querier, id string) (*Conversation, error) {
	row := q.QueryRowContext(ctx, `
		SELECT conversation_id, display_name, stage, role, last_message_preview,
		       last_message_at, last_inbound_at, unread_count, created_at, updated_at
		FROM conversations
		WHERE conversation_id = ?`, id)
	return scanConversation(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var stage, role, createdAt, updatedAt string
	var lastMessageAt, lastInboundAt sql.NullString

	err := row.Scan(&conv.ID, &conv.DisplayName, &stage, &role, &conv.LastMessagePreview,
		&lastMessageAt, &lastInboundAt, &conv.UnreadCount, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	conv.Stage = funnel.Stage(stage)
	conv.Role = funnel.Role(role)
	if conv.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if lastMessageAt.Valid && lastMessageAt.String != "" {
		if conv.LastMessageAt, err = time.Parse(time.RFC3339Nano, lastMessageAt.String); err != nil {
			return nil, fmt.Errorf("parsing last_message_at: %w", err)
		}
	}
	if lastInboundAt.Valid && lastInboundAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, lastInboundAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_inbound_at: %w", err)
		}
		conv.LastInboundAt = &t
	}
	return &conv, nil
}

func previewFor(msg *Message) string {
	if msg.Content != "" {
		return msg.Content
	}
	if msg.MediaURL != "" {
		return "[media]"
	}
	return ""
}
