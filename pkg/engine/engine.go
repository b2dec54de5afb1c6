// Package engine decides whether and how to answer a chat message with the
// AI: admission control, context assembly from stored history, the
// completion call, response sanitization, and the memory write-back.
//
// Every failure mode degrades to an absent response. Nothing in this
// package returns an error to the chat path; one bad upstream call must
// never take the bot down.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/dotsetgreg/streambot/pkg/openrouter"
	"github.com/dotsetgreg/streambot/pkg/store"
)

// Completer is the outbound completion API. *openrouter.Client satisfies it;
// tests substitute fakes.
type Completer interface {
	Complete(ctx context.Context, messages []openrouter.Message, params openrouter.Params) (string, error)
}

// HistoryStore is the slice of the conversation store the engine needs.
type HistoryStore interface {
	RecentMessages(ctx context.Context, channel string, limit int) ([]store.ChatMessage, error)
	RecentMemory(ctx context.Context, username string, limit int) ([]store.MemoryEntry, error)
	RecordMemory(ctx context.Context, entry store.MemoryEntry) error
}

// ResponseContext carries the privilege flags of the triggering message.
type ResponseContext struct {
	Channel      string
	IsCommand    bool
	DisplayName  string
	IsSubscriber bool
	IsVIP        bool
	IsMod        bool
}

// Config tunes one Engine instance.
type Config struct {
	Personality       string
	MemoryDepth       int           // memory entries per prompt, default 5
	MaxResponseLength int           // platform message ceiling, default 480
	MaxRequests       int           // completion calls per rate window, default 20
	RateWindow        time.Duration // default 1 minute
	RequestTimeout    time.Duration // ceiling on each completion call, default 30s
}

const (
	defaultMemoryDepth    = 5
	defaultMaxLength      = 480
	defaultRequestTimeout = 30 * time.Second

	// chat context pulls up to 5 usable lines out of a pool of 10.
	recentPoolSize     = 10
	recentContextLines = 5

	// A chat-context block shorter than this is noise, not context.
	minContextChars = 50
)

// chatParams keeps responses short and varied: tight output budget, warm
// temperature, mild repetition penalties.
var chatParams = openrouter.Params{
	MaxTokens:        150,
	Temperature:      0.8,
	TopP:             0.9,
	FrequencyPenalty: 0.3,
	PresencePenalty:  0.3,
}

// Engine is the AI response pipeline. One instance per bot process.
type Engine struct {
	cfg     Config
	client  Completer
	history HistoryStore
	limiter *rateWindow
	log     *zap.SugaredLogger
}

// New builds an Engine. client may be nil when no API credential or model is
// configured; the engine then refuses every generation up front instead of
// attempting doomed calls.
func New(cfg Config, client Completer, history HistoryStore, log *zap.SugaredLogger) *Engine {
	if cfg.MemoryDepth <= 0 {
		cfg.MemoryDepth = defaultMemoryDepth
	}
	if cfg.MaxResponseLength <= 0 {
		cfg.MaxResponseLength = defaultMaxLength
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{
		cfg:     cfg,
		client:  client,
		history: history,
		limiter: newRateWindow(cfg.MaxRequests, cfg.RateWindow),
		log:     log,
	}
}

// Close releases the completion client's resources when it owns any.
func (e *Engine) Close() {
	if c, ok := e.client.(interface{ Close() }); ok {
		c.Close()
	}
}

// Generate runs the full pipeline for one prompt. The second return value is
// false when no response should be sent: rate limited, unconfigured, or the
// upstream call failed. The caller decides what, if anything, to say then.
func (e *Engine) Generate(ctx context.Context, prompt, username string, rc ResponseContext) (string, bool) {
	if e.client == nil {
		e.log.Warnw("ai response skipped: no API credential or model configured", "user", username)
		return "", false
	}

	if !e.limiter.allow() {
		e.log.Debugw("rate limit exceeded, dropping request", "user", username, "channel", rc.Channel)
		return "", false
	}

	messages := e.buildMessages(ctx, prompt, username, rc)

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	raw, err := e.client.Complete(callCtx, messages, chatParams)
	if err != nil {
		// The rate token stays consumed on purpose.
		e.log.Warnw("completion call failed", "user", username, "error", err)
		return "", false
	}

	cleaned := sanitize(raw, e.cfg.MaxResponseLength)

	response := cleaned
	entry := store.MemoryEntry{
		Username:       username,
		Context:        prompt,
		Response:       &response,
		RelevanceScore: relevanceScore(rc),
		Kind:           store.MemoryConversation,
		Attributes:     rc.attributes(),
	}
	if err := e.history.RecordMemory(ctx, entry); err != nil {
		// A lost memory write must not turn a good response into a failure.
		e.log.Errorw("failed to store ai memory", "user", username, "error", err)
	}

	e.log.Infow("ai response generated", "user", username, "channel", rc.Channel)
	return cleaned, true
}

// buildMessages assembles the bounded instruction sequence: system prompt,
// per-user memory oldest-first, optional channel chat context, then the
// prompt itself. History read failures degrade to a smaller context.
func (e *Engine) buildMessages(ctx context.Context, prompt, username string, rc ResponseContext) []openrouter.Message {
	messages := []openrouter.Message{
		{Role: "system", Content: e.systemPrompt(rc)},
	}

	memory, err := e.history.RecentMemory(ctx, username, e.cfg.MemoryDepth)
	if err != nil {
		e.log.Warnw("could not load user memory", "user", username, "error", err)
	}
	// RecentMemory returns newest first; the model wants oldest first.
	for i := len(memory) - 1; i >= 0; i-- {
		m := memory[i]
		if m.Context != "" {
			messages = append(messages, openrouter.Message{Role: "user", Content: m.Context})
		}
		if m.Response != nil && *m.Response != "" {
			messages = append(messages, openrouter.Message{Role: "assistant", Content: *m.Response})
		}
	}

	if !rc.IsCommand {
		recent, err := e.history.RecentMessages(ctx, rc.Channel, recentPoolSize)
		if err != nil {
			e.log.Warnw("could not load chat context", "channel", rc.Channel, "error", err)
		} else if block := chatContextBlock(recent, username); block != "" {
			messages = append(messages, openrouter.Message{Role: "system", Content: block})
		}
	}

	messages = append(messages, openrouter.Message{Role: "user", Content: prompt})
	return messages
}

func (e *Engine) systemPrompt(rc ResponseContext) string {
	var b strings.Builder
	b.WriteString(e.cfg.Personality)
	fmt.Fprintf(&b, `

Guidelines:
- Keep responses under %d characters (Twitch limit)
- Be conversational and engaging
- Use the user's display name when appropriate
- Stay positive and supportive
- Avoid controversial topics
- If you don't know something, say so honestly`, e.cfg.MaxResponseLength)

	if rc.DisplayName != "" {
		b.WriteString("\n- The user's display name is: " + rc.DisplayName)
	}
	if rc.IsSubscriber {
		b.WriteString("\n- This user is a subscriber")
	}
	if rc.IsVIP {
		b.WriteString("\n- This user is a VIP")
	}
	if rc.IsMod {
		b.WriteString("\n- This user is a moderator")
	}
	return b.String()
}

// chatContextBlock flattens the most recent channel lines into a single
// auxiliary instruction, oldest first, never including the requester's own
// lines. Returns "" when the block would be too short to be useful.
func chatContextBlock(recent []store.ChatMessage, username string) string {
	if len(recent) == 0 {
		return ""
	}
	pool := recent
	if len(pool) > recentContextLines {
		pool = pool[:recentContextLines]
	}

	var b strings.Builder
	b.WriteString("Recent chat context:\n")
	for i := len(pool) - 1; i >= 0; i-- {
		if pool[i].Username == username {
			continue
		}
		b.WriteString(pool[i].Username)
		b.WriteString(": ")
		b.WriteString(pool[i].Content)
		b.WriteString("\n")
	}

	if utf8.RuneCountInString(b.String()) <= minContextChars {
		return ""
	}
	return b.String()
}

// relevanceScore weights a memory entry for later retention decisions.
// First match wins: a VIP using a command scores the command bonus only.
func relevanceScore(rc ResponseContext) float64 {
	score := 1.0
	switch {
	case rc.IsCommand:
		score += 0.3
	case rc.IsVIP || rc.IsMod:
		score += 0.2
	case rc.IsSubscriber:
		score += 0.1
	}
	return score
}

func (rc ResponseContext) attributes() map[string]string {
	attrs := map[string]string{}
	if rc.DisplayName != "" {
		attrs["display_name"] = rc.DisplayName
	}
	if rc.IsCommand {
		attrs["is_command"] = "true"
	}
	if rc.IsSubscriber {
		attrs["is_subscriber"] = "true"
	}
	if rc.IsVIP {
		attrs["is_vip"] = "true"
	}
	if rc.IsMod {
		attrs["is_mod"] = "true"
	}
	return attrs
}

const personalityAnalystPrompt = "You are an expert AI personality analyzer. " +
	"You extract core personality traits while filtering out specific character, movie, and game references. " +
	"Focus on underlying behavioral patterns, communication styles, and personality characteristics."

const personalityPromptTmpl = `Analyze this personality description and create a concise, actionable personality for a Twitch chatbot.

IMPORTANT INSTRUCTIONS:
1. Extract personality traits, speaking patterns, and behavioral characteristics
2. IGNORE and DO NOT MENTION any specific character names, movie titles, or game references
3. Focus on the underlying personality traits those references represent
4. Create a clean, actionable personality description under 200 words
5. Focus on communication style, tone, humor type, and interaction patterns

Input description:
%s

Generate a clean personality description that captures the essence without referencing specific characters, movies, or games:`

// SummarizePersonality distills free-text input into behavioral traits for
// the system prompt, with named characters and franchises filtered out. The
// output is not sanitized or persisted; it feeds the config, not the chat.
func (e *Engine) SummarizePersonality(ctx context.Context, description string) (string, bool) {
	if e.client == nil {
		e.log.Warnw("personality summary skipped: no API credential or model configured")
		return "", false
	}

	messages := []openrouter.Message{
		{Role: "system", Content: personalityAnalystPrompt},
		{Role: "user", Content: fmt.Sprintf(personalityPromptTmpl, description)},
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	out, err := e.client.Complete(callCtx, messages, openrouter.Params{MaxTokens: 300, Temperature: 0.7})
	if err != nil {
		e.log.Warnw("personality summary failed", "error", err)
		return "", false
	}
	return out, true
}
