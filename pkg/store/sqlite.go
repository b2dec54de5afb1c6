// Package store is the durable conversation history: raw chat lines, AI
// memory entries, and per-user counters, all in a single SQLite file.
//
// Every operation returns its error to the caller; the store never logs or
// swallows failures itself. Chat-volume writes are telemetry, so callers are
// expected to log and continue rather than propagate.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ConversationStore is the SQLite-backed history store.
type ConversationStore struct {
	db *sql.DB
}

// Open creates/opens the conversation database at path.
func Open(path string) (*ConversationStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process bot. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &ConversationStore{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *ConversationStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *ConversationStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			message_count INTEGER NOT NULL DEFAULT 0,
			first_seen_ms INTEGER NOT NULL,
			last_seen_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			content TEXT NOT NULL,
			channel TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'chat',
			attributes TEXT NOT NULL DEFAULT '{}',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_channel_idx ON messages(channel, created_at_ms DESC);`,
		`CREATE INDEX IF NOT EXISTS messages_username_idx ON messages(username);`,
		`CREATE INDEX IF NOT EXISTS messages_created_idx ON messages(created_at_ms);`,
		`CREATE TABLE IF NOT EXISTS ai_memory (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			context TEXT NOT NULL,
			response TEXT,
			relevance_score REAL NOT NULL DEFAULT 1.0,
			kind TEXT NOT NULL DEFAULT 'conversation',
			attributes TEXT NOT NULL DEFAULT '{}',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS ai_memory_username_idx ON ai_memory(username, created_at_ms DESC);`,
		`CREATE INDEX IF NOT EXISTS ai_memory_created_idx ON ai_memory(created_at_ms);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(stmt string) string {
	line := strings.TrimSpace(stmt)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func encodeAttrs(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeAttrs(raw string) map[string]string {
	out := map[string]string{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]string{}
	}
	return out
}

// RecordMessage appends one observed chat line and bumps the sender's
// message counter in the same transaction.
func (s *ConversationStore) RecordMessage(ctx context.Context, msg ChatMessage) error {
	if strings.TrimSpace(msg.Username) == "" {
		return fmt.Errorf("record message: empty username")
	}
	if strings.TrimSpace(msg.Channel) == "" {
		return fmt.Errorf("record message: empty channel")
	}
	if msg.ID == "" {
		msg.ID = "msg-" + uuid.NewString()
	}
	if msg.Kind == "" {
		msg.Kind = MessageChat
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	created := msg.Timestamp.UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record message begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO messages(id, username, content, channel, kind, attributes, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Username, msg.Content, msg.Channel, string(msg.Kind), encodeAttrs(msg.Attributes), created); err != nil {
		return fmt.Errorf("record message insert: %w", err)
	}

	display := msg.Attributes["display_name"]
	if display == "" {
		display = msg.Username
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO users(username, display_name, message_count, first_seen_ms, last_seen_ms)
VALUES(?, ?, 1, ?, ?)
ON CONFLICT(username) DO UPDATE SET
	display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE users.display_name END,
	message_count = users.message_count + 1,
	last_seen_ms = excluded.last_seen_ms`,
		msg.Username, display, created, created); err != nil {
		return fmt.Errorf("record message bump user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record message commit: %w", err)
	}
	return nil
}

// RecordMemory appends one AI exchange.
func (s *ConversationStore) RecordMemory(ctx context.Context, entry MemoryEntry) error {
	if strings.TrimSpace(entry.Username) == "" {
		return fmt.Errorf("record memory: empty username")
	}
	if entry.ID == "" {
		entry.ID = "mem-" + uuid.NewString()
	}
	if entry.Kind == "" {
		entry.Kind = MemoryConversation
	}
	if entry.RelevanceScore == 0 {
		entry.RelevanceScore = 1.0
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	var response sql.NullString
	if entry.Response != nil {
		response = sql.NullString{String: *entry.Response, Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, `
INSERT INTO ai_memory(id, username, context, response, relevance_score, kind, attributes, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Username, entry.Context, response, entry.RelevanceScore,
		string(entry.Kind), encodeAttrs(entry.Attributes), entry.Timestamp.UnixMilli()); err != nil {
		return fmt.Errorf("record memory insert: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit messages from channel, newest first.
// An unknown channel yields an empty slice, not an error.
func (s *ConversationStore) RecentMessages(ctx context.Context, channel string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, username, content, channel, kind, attributes, created_at_ms
FROM messages
WHERE channel = ?
ORDER BY created_at_ms DESC, id DESC
LIMIT ?`, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	out := make([]ChatMessage, 0, limit)
	for rows.Next() {
		var m ChatMessage
		var kind, attrs string
		var createdMS int64
		if err := rows.Scan(&m.ID, &m.Username, &m.Content, &m.Channel, &kind, &attrs, &createdMS); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Kind = MessageKind(kind)
		m.Attributes = decodeAttrs(attrs)
		m.Timestamp = time.UnixMilli(createdMS)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// RecentMemory returns up to limit memory entries for username, newest first.
func (s *ConversationStore) RecentMemory(ctx context.Context, username string, limit int) ([]MemoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, username, context, response, relevance_score, kind, attributes, created_at_ms
FROM ai_memory
WHERE username = ?
ORDER BY created_at_ms DESC, id DESC
LIMIT ?`, username, limit)
	if err != nil {
		return nil, fmt.Errorf("recent memory: %w", err)
	}
	defer rows.Close()

	out := make([]MemoryEntry, 0, limit)
	for rows.Next() {
		var e MemoryEntry
		var response sql.NullString
		var kind, attrs string
		var createdMS int64
		if err := rows.Scan(&e.ID, &e.Username, &e.Context, &response, &e.RelevanceScore, &kind, &attrs, &createdMS); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		if response.Valid {
			v := response.String
			e.Response = &v
		}
		e.Kind = MemoryKind(kind)
		e.Attributes = decodeAttrs(attrs)
		e.Timestamp = time.UnixMilli(createdMS)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory entries: %w", err)
	}
	return out, nil
}

// PurgeOlderThan applies the two-tier retention rule: chat messages older
// than age are always deleted, memory entries only when they are both older
// than age and below relevanceFloor. Recent low-relevance memory survives so
// it can still feed short-term context.
func (s *ConversationStore) PurgeOlderThan(ctx context.Context, age time.Duration, relevanceFloor float64) (PurgeResult, error) {
	cutoff := time.Now().Add(-age).UnixMilli()
	var result PurgeResult

	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at_ms < ?`, cutoff)
	if err != nil {
		return result, fmt.Errorf("purge messages: %w", err)
	}
	result.Messages, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `
DELETE FROM ai_memory WHERE created_at_ms < ? AND relevance_score < ?`, cutoff, relevanceFloor)
	if err != nil {
		return result, fmt.Errorf("purge memory: %w", err)
	}
	result.Memories, _ = res.RowsAffected()

	return result, nil
}

// UserStats returns the counters for username, or sql.ErrNoRows if the user
// has never been seen.
func (s *ConversationStore) UserStats(ctx context.Context, username string) (UserStats, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT username, display_name, message_count, first_seen_ms, last_seen_ms
FROM users WHERE username = ?`, username)

	var st UserStats
	var firstMS, lastMS int64
	if err := row.Scan(&st.Username, &st.DisplayName, &st.MessageCount, &firstMS, &lastMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserStats{}, sql.ErrNoRows
		}
		return UserStats{}, fmt.Errorf("user stats: %w", err)
	}
	st.FirstSeen = time.UnixMilli(firstMS)
	st.LastSeen = time.UnixMilli(lastMS)
	return st, nil
}
