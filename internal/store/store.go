package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNoMessageID is returned when a message arrives without an identity.
// Such records are dropped at ingestion and never reach the router.
var ErrNoMessageID = errors.New("message has no id")

// Store is the durable, deduplicating record of every observed chat
// message. Writes are mutex-guarded and synchronous; readers see a
// consistent snapshot at query time.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Message is one stored chat message.
type Message struct {
	ID         string
	ChatJID    string
	Sender     string
	SenderName string
	Content    string
	Timestamp  string // UTC, fixed-width millisecond precision; compares lexicographically
}

// IncomingMessage is a raw transport event before content derivation.
type IncomingMessage struct {
	ID         string
	ChatJID    string
	ChatName   string
	SenderID   string
	SenderName string
	FromMe     bool
	Timestamp  time.Time

	// Content variants in derivation order. The first non-empty wins;
	// an empty result is stored as "".
	Text         string
	ExtendedText string
	ImageCaption string
	VideoCaption string
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chats (
			jid TEXT PRIMARY KEY,
			name TEXT,
			last_message_time TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT,
			chat_jid TEXT,
			sender TEXT,
			sender_name TEXT,
			content TEXT,
			timestamp TEXT,
			is_from_me INTEGER,
			PRIMARY KEY (id, chat_jid),
			FOREIGN KEY (chat_jid) REFERENCES chats(jid)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_jid, timestamp)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// UpsertChat sets or refreshes a chat's display name and last-activity
// time. Idempotent; chats are never deleted.
func (s *Store) UpsertChat(jid, name string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertChatLocked(jid, name, ts)
}

func (s *Store) upsertChatLocked(jid, name string, ts time.Time) error {
	if name == "" {
		name = jid
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO chats (jid, name, last_message_time) VALUES (?, ?, ?)`,
		jid, name, formatTimestamp(ts),
	)
	if err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}
	return nil
}

// RecordMessage stores one message, keyed on (id, chat_jid). Re-delivery
// of the same pair overwrites in place. The chat row is refreshed in the
// same call.
func (s *Store) RecordMessage(msg IncomingMessage) error {
	if strings.TrimSpace(msg.ID) == "" {
		return ErrNoMessageID
	}

	content := firstNonEmpty(msg.Text, msg.ExtendedText, msg.ImageCaption, msg.VideoCaption)

	sender := msg.SenderID
	senderName := strings.TrimSpace(msg.SenderName)
	if senderName == "" {
		senderName = sender
		if i := strings.IndexByte(senderName, '@'); i >= 0 {
			senderName = senderName[:i]
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.upsertChatLocked(msg.ChatJID, msg.ChatName, msg.Timestamp); err != nil {
		return err
	}

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO messages (id, chat_jid, sender, sender_name, content, timestamp, is_from_me)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatJID, sender, senderName, content, formatTimestamp(msg.Timestamp), boolToInt(msg.FromMe),
	)
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	return nil
}

// MessagesSince returns all messages in any of the given chats with
// timestamp strictly greater than after, ascending, plus the maximum
// timestamp observed (or after when no rows matched). The strict bound
// keeps the boundary message from being re-delivered on the next poll.
func (s *Store) MessagesSince(chatJIDs []string, after string) ([]Message, string, error) {
	if len(chatJIDs) == 0 {
		return nil, after, nil
	}

	query := `
		SELECT id, chat_jid, sender, sender_name, content, timestamp
		FROM messages
		WHERE timestamp > ? AND chat_jid IN (` + placeholders(len(chatJIDs)) + `)
		ORDER BY timestamp`
	args := make([]any, 0, len(chatJIDs)+1)
	args = append(args, after)
	for _, jid := range chatJIDs {
		args = append(args, jid)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, after, fmt.Errorf("query new messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, after, err
	}

	newTimestamp := after
	for _, m := range msgs {
		if m.Timestamp > newTimestamp {
			newTimestamp = m.Timestamp
		}
	}
	return msgs, newTimestamp, nil
}

// ChatMessagesSince returns messages in one chat with timestamp strictly
// greater than after, ascending. Used for catch-up prompt assembly.
func (s *Store) ChatMessagesSince(chatJID, after string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, chat_jid, sender, sender_name, content, timestamp
		FROM messages
		WHERE chat_jid = ? AND timestamp > ?
		ORDER BY timestamp
	`, chatJID, after)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	result := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatJID, &m.Sender, &m.SenderName, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return result, nil
}

// timestampLayout is fixed-width so stored timestamps order correctly
// under string comparison, including sub-second ties.
const timestampLayout = "2006-01-02T15:04:05.000Z"

func formatTimestamp(ts time.Time) string {
	return ts.UTC().Format(timestampLayout)
}

// ParseTimestamp parses a stored message timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(timestampLayout, s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = "?"
	}
	return strings.Join(parts, ",")
}
