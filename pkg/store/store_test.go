package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *ConversationStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordMessage_Validation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.RecordMessage(ctx, ChatMessage{Channel: "ch", Content: "hi"}); err == nil {
		t.Fatal("expected error for empty username")
	}
	if err := s.RecordMessage(ctx, ChatMessage{Username: "alice", Content: "hi"}); err == nil {
		t.Fatal("expected error for empty channel")
	}
}

func TestRecentMessages_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		msg := ChatMessage{
			Username:  "alice",
			Content:   fmt.Sprintf("message %d", i),
			Channel:   "streamch",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.RecordMessage(ctx, msg); err != nil {
			t.Fatalf("record message %d: %v", i, err)
		}
	}

	got, err := s.RecentMessages(ctx, "streamch", 3)
	if err != nil {
		t.Fatalf("recent messages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i, want := range []string{"message 4", "message 3", "message 2"} {
		if got[i].Content != want {
			t.Errorf("position %d = %q, want %q", i, got[i].Content, want)
		}
	}
}

func TestRecentMessages_UnknownChannelEmpty(t *testing.T) {
	s := openTestStore(t)

	got, err := s.RecentMessages(context.Background(), "nobody-streams-here", 10)
	if err != nil {
		t.Fatalf("unknown channel should not error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %d messages", len(got))
	}
}

func TestRecordMessage_BumpsUserCounter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msg := ChatMessage{
			Username:   "bob",
			Content:    "hello",
			Channel:    "ch",
			Attributes: map[string]string{"display_name": "Bob"},
		}
		if err := s.RecordMessage(ctx, msg); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	st, err := s.UserStats(ctx, "bob")
	if err != nil {
		t.Fatalf("user stats: %v", err)
	}
	if st.MessageCount != 3 {
		t.Errorf("message count = %d, want 3", st.MessageCount)
	}
	if st.DisplayName != "Bob" {
		t.Errorf("display name = %q, want %q", st.DisplayName, "Bob")
	}
}

func TestUserStats_UnknownUser(t *testing.T) {
	s := openTestStore(t)

	_, err := s.UserStats(context.Background(), "ghost")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestRecordMemory_Defaults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.RecordMemory(ctx, MemoryEntry{Username: "alice", Context: "what's up"}); err != nil {
		t.Fatalf("record memory: %v", err)
	}

	got, err := s.RecentMemory(ctx, "alice", 5)
	if err != nil {
		t.Fatalf("recent memory: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	e := got[0]
	if e.RelevanceScore != 1.0 {
		t.Errorf("relevance = %v, want 1.0", e.RelevanceScore)
	}
	if e.Kind != MemoryConversation {
		t.Errorf("kind = %q, want %q", e.Kind, MemoryConversation)
	}
	if e.Response != nil {
		t.Errorf("expected nil response, got %q", *e.Response)
	}
	if e.ID == "" {
		t.Error("expected generated ID")
	}
}

func TestRecentMemory_NewestFirstAndScoped(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		resp := fmt.Sprintf("answer %d", i)
		entry := MemoryEntry{
			Username:  "alice",
			Context:   fmt.Sprintf("question %d", i),
			Response:  &resp,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.RecordMemory(ctx, entry); err != nil {
			t.Fatalf("record memory: %v", err)
		}
	}
	if err := s.RecordMemory(ctx, MemoryEntry{Username: "mallory", Context: "other user"}); err != nil {
		t.Fatalf("record memory: %v", err)
	}

	got, err := s.RecentMemory(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("recent memory: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Context != "question 3" || got[1].Context != "question 2" {
		t.Errorf("wrong order: got %q then %q", got[0].Context, got[1].Context)
	}
	for _, e := range got {
		if e.Username != "alice" {
			t.Errorf("entry leaked from user %q", e.Username)
		}
	}
}

func TestPurgeOlderThan_TwoTier(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now().Add(-time.Hour)

	mustMsg := func(content string, ts time.Time) {
		t.Helper()
		if err := s.RecordMessage(ctx, ChatMessage{Username: "u", Content: content, Channel: "ch", Timestamp: ts}); err != nil {
			t.Fatalf("record message: %v", err)
		}
	}
	mustMem := func(ctxText string, score float64, ts time.Time) {
		t.Helper()
		if err := s.RecordMemory(ctx, MemoryEntry{Username: "u", Context: ctxText, RelevanceScore: score, Timestamp: ts}); err != nil {
			t.Fatalf("record memory: %v", err)
		}
	}

	mustMsg("old message", old)
	mustMsg("fresh message", fresh)
	mustMem("old low relevance", 0.2, old)
	mustMem("old high relevance", 1.3, old)
	mustMem("fresh low relevance", 0.2, fresh)

	result, err := s.PurgeOlderThan(ctx, 24*time.Hour, 0.3)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if result.Messages != 1 {
		t.Errorf("purged messages = %d, want 1", result.Messages)
	}
	if result.Memories != 1 {
		t.Errorf("purged memories = %d, want 1", result.Memories)
	}

	msgs, err := s.RecentMessages(ctx, "ch", 10)
	if err != nil {
		t.Fatalf("recent messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "fresh message" {
		t.Errorf("surviving messages wrong: %+v", msgs)
	}

	mem, err := s.RecentMemory(ctx, "u", 10)
	if err != nil {
		t.Fatalf("recent memory: %v", err)
	}
	if len(mem) != 2 {
		t.Fatalf("expected 2 surviving memory entries, got %d", len(mem))
	}
	for _, e := range mem {
		if e.Context == "old low relevance" {
			t.Error("old low-relevance entry should have been purged")
		}
	}
}

func TestMessageAttributes_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msg := ChatMessage{
		Username:   "viewer",
		Content:    "!ai hello",
		Channel:    "ch",
		Kind:       MessageCommand,
		Attributes: map[string]string{"display_name": "Viewer", "is_mod": "true"},
	}
	if err := s.RecordMessage(ctx, msg); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := s.RecentMessages(ctx, "ch", 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if got[0].Kind != MessageCommand {
		t.Errorf("kind = %q, want %q", got[0].Kind, MessageCommand)
	}
	if got[0].Attributes["is_mod"] != "true" || got[0].Attributes["display_name"] != "Viewer" {
		t.Errorf("attributes lost: %v", got[0].Attributes)
	}
}
