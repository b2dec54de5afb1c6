// Package dispatch is the bot's event loop: it records every observed chat
// line, routes AI commands, and occasionally answers plain chat. It owns the
// decision of what to say when the engine declines to respond.
package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dotsetgreg/streambot/pkg/bus"
	"github.com/dotsetgreg/streambot/pkg/config"
	"github.com/dotsetgreg/streambot/pkg/engine"
	"github.com/dotsetgreg/streambot/pkg/store"
)

const (
	commandCooldown = 5 * time.Second

	defaultPrompt = "Hello! How can I help you?"
	fallbackLine  = "Sorry, I'm having trouble thinking right now! 🤔"
	helpLine      = "Available commands: !ai <question>, !help, !stats, !uptime | I also respond naturally to chat!"
)

// Responder generates AI replies. *engine.Engine satisfies it.
type Responder interface {
	Generate(ctx context.Context, prompt, username string, rc engine.ResponseContext) (string, bool)
}

// Recorder is the slice of the conversation store the dispatcher needs.
type Recorder interface {
	RecordMessage(ctx context.Context, msg store.ChatMessage) error
	UserStats(ctx context.Context, username string) (store.UserStats, error)
}

// Stats are the running counters shown by !stats.
type Stats struct {
	MessagesReceived  uint64
	CommandsProcessed uint64
	AIResponsesSent   uint64
	StartedAt         time.Time
}

// Dispatcher consumes inbound chat events and publishes replies.
type Dispatcher struct {
	cfg      config.AIConfig
	bus      *bus.MessageBus
	recorder Recorder
	engine   Responder
	log      *zap.SugaredLogger

	randFloat func() float64

	mu           sync.Mutex
	stats        Stats
	lastAIReply  time.Time
	lastCommands map[string]time.Time // "command|user" -> last use
}

func New(cfg config.AIConfig, messageBus *bus.MessageBus, recorder Recorder, responder Responder, log *zap.SugaredLogger) *Dispatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dispatcher{
		cfg:          cfg,
		bus:          messageBus,
		recorder:     recorder,
		engine:       responder,
		log:          log,
		randFloat:    rand.Float64,
		stats:        Stats{StartedAt: time.Now()},
		lastCommands: make(map[string]time.Time),
	}
}

// Run processes events until ctx is cancelled or the bus closes.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		ev, ok := d.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		d.Handle(ctx, ev)
	}
}

// Handle processes one chat event. Exported so a REPL or test can drive the
// dispatcher without the bus loop.
func (d *Dispatcher) Handle(ctx context.Context, ev bus.ChatEvent) {
	d.mu.Lock()
	d.stats.MessagesReceived++
	d.mu.Unlock()

	isCommand := strings.HasPrefix(ev.Content, "!")
	kind := store.MessageChat
	if isCommand {
		kind = store.MessageCommand
	}

	msg := store.ChatMessage{
		Username:   ev.Username,
		Content:    ev.Content,
		Channel:    ev.Channel,
		Kind:       kind,
		Attributes: eventAttributes(ev),
		Timestamp:  ev.ReceivedAt,
	}
	if err := d.recorder.RecordMessage(ctx, msg); err != nil {
		// Chat-volume telemetry; losing a row is not worth dropping the event.
		d.log.Errorw("failed to record chat message", "user", ev.Username, "error", err)
	}

	if isCommand {
		d.handleCommand(ctx, ev)
		return
	}
	d.maybeRandomReply(ctx, ev)
}

func (d *Dispatcher) handleCommand(ctx context.Context, ev bus.ChatEvent) {
	fields := strings.Fields(ev.Content)
	if len(fields) == 0 {
		return
	}
	command := strings.TrimPrefix(strings.ToLower(fields[0]), "!")

	if !d.cooldownOK(command, ev.Username) {
		return
	}

	d.mu.Lock()
	d.stats.CommandsProcessed++
	d.mu.Unlock()

	switch command {
	case "ai", "ask", "question":
		d.handleAICommand(ctx, ev)
	case "help":
		d.reply(ev.Channel, helpLine)
	case "stats":
		d.reply(ev.Channel, d.statsLine(ctx, ev.Username))
	case "uptime":
		d.reply(ev.Channel, "Bot uptime: "+formatDuration(time.Since(d.Stats().StartedAt)))
	}
}

func (d *Dispatcher) handleAICommand(ctx context.Context, ev bus.ChatEvent) {
	prompt := defaultPrompt
	if _, rest, found := strings.Cut(ev.Content, " "); found && strings.TrimSpace(rest) != "" {
		prompt = strings.TrimSpace(rest)
	}

	rc := engine.ResponseContext{
		Channel:      ev.Channel,
		IsCommand:    true,
		DisplayName:  ev.DisplayName,
		IsSubscriber: ev.IsSubscriber,
		IsVIP:        ev.IsVIP,
		IsMod:        ev.IsMod,
	}

	response, ok := d.engine.Generate(ctx, prompt, ev.Username, rc)
	if !ok {
		d.reply(ev.Channel, "@"+ev.DisplayName+" "+fallbackLine)
		return
	}

	d.reply(ev.Channel, "@"+ev.DisplayName+" "+response)
	d.mu.Lock()
	d.stats.AIResponsesSent++
	d.mu.Unlock()
}

// maybeRandomReply answers plain chat with a small configured probability,
// throttled by a global cooldown so the bot never dominates the channel.
func (d *Dispatcher) maybeRandomReply(ctx context.Context, ev bus.ChatEvent) {
	if d.cfg.RandomReplyChance <= 0 {
		return
	}

	cooldown := time.Duration(d.cfg.ReplyCooldownSecs) * time.Second
	d.mu.Lock()
	tooSoon := time.Since(d.lastAIReply) < cooldown
	d.mu.Unlock()
	if tooSoon {
		return
	}

	if d.randFloat() >= d.cfg.RandomReplyChance {
		return
	}

	rc := engine.ResponseContext{
		Channel:      ev.Channel,
		IsCommand:    false,
		DisplayName:  ev.DisplayName,
		IsSubscriber: ev.IsSubscriber,
		IsVIP:        ev.IsVIP,
		IsMod:        ev.IsMod,
	}

	response, ok := d.engine.Generate(ctx, ev.Content, ev.Username, rc)
	if !ok {
		// Unsolicited replies fail silently; nobody asked.
		return
	}

	d.reply(ev.Channel, response)
	d.mu.Lock()
	d.stats.AIResponsesSent++
	d.lastAIReply = time.Now()
	d.mu.Unlock()
}

func (d *Dispatcher) reply(channel, content string) {
	d.bus.PublishReply(bus.Reply{Channel: channel, Content: content})
}

func (d *Dispatcher) cooldownOK(command, username string) bool {
	key := command + "|" + username
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastCommands[key]; ok && now.Sub(last) < commandCooldown {
		return false
	}
	d.lastCommands[key] = now
	return true
}

// Stats returns a snapshot of the running counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Dispatcher) statsLine(ctx context.Context, username string) string {
	st := d.Stats()
	line := fmt.Sprintf("Messages: %d | AI Responses: %d | Commands: %d | Uptime: %s",
		st.MessagesReceived, st.AIResponsesSent, st.CommandsProcessed, formatDuration(time.Since(st.StartedAt)))
	if us, err := d.recorder.UserStats(ctx, username); err == nil {
		line += fmt.Sprintf(" | Your messages: %d", us.MessageCount)
	}
	return line
}

func eventAttributes(ev bus.ChatEvent) map[string]string {
	attrs := map[string]string{}
	if ev.DisplayName != "" {
		attrs["display_name"] = ev.DisplayName
	}
	if ev.IsSubscriber {
		attrs["is_subscriber"] = "true"
	}
	if ev.IsVIP {
		attrs["is_vip"] = "true"
	}
	if ev.IsMod {
		attrs["is_mod"] = "true"
	}
	return attrs
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
