package store

import "time"

// MessageKind classifies an observed chat line.
type MessageKind string

const (
	MessageChat    MessageKind = "chat"
	MessageCommand MessageKind = "command"
	MessageSystem  MessageKind = "system"
)

// MemoryKind classifies an AI memory entry.
type MemoryKind string

const (
	MemoryConversation MemoryKind = "conversation"
	MemorySystemNote   MemoryKind = "system-note"
)

// ChatMessage is one observed chat line. Immutable once recorded.
type ChatMessage struct {
	ID         string
	Username   string
	Content    string
	Channel    string
	Kind       MessageKind
	Attributes map[string]string
	Timestamp  time.Time
}

// MemoryEntry is one AI exchange attributed to a user. Response is nil when
// the generation failed or was skipped; the context turn alone is still
// useful history. RelevanceScore is computed once at write time and only
// consulted by retention sweeps afterwards.
type MemoryEntry struct {
	ID             string
	Username       string
	Context        string
	Response       *string
	RelevanceScore float64
	Kind           MemoryKind
	Attributes     map[string]string
	Timestamp      time.Time
}

// UserStats is the lightweight per-user counter bumped by RecordMessage.
type UserStats struct {
	Username     string
	DisplayName  string
	MessageCount int64
	FirstSeen    time.Time
	LastSeen     time.Time
}

// PurgeResult reports what a retention sweep removed.
type PurgeResult struct {
	Messages int64
	Memories int64
}
