// Package twitch is the chat transport: a thin IRC-over-WebSocket adapter
// that feeds PRIVMSG lines onto the bus and writes replies back. It carries
// no response logic of its own.
package twitch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dotsetgreg/streambot/pkg/bus"
	"github.com/dotsetgreg/streambot/pkg/config"
)

const (
	defaultServerWS  = "wss://irc-ws.chat.twitch.tv:443"
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// Chat is one connection to a Twitch channel's chat.
type Chat struct {
	cfg     config.TwitchConfig
	bus     *bus.MessageBus
	log     *zap.SugaredLogger
	running atomic.Bool

	mu   sync.Mutex
	conn *websocket.Conn
}

func New(cfg config.TwitchConfig, messageBus *bus.MessageBus, log *zap.SugaredLogger) (*Chat, error) {
	if strings.TrimSpace(cfg.Channel) == "" {
		return nil, fmt.Errorf("twitch: channel is required")
	}
	if strings.TrimSpace(cfg.BotUser) == "" || strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("twitch: bot_user and token are required")
	}
	if cfg.ServerWS == "" {
		cfg.ServerWS = defaultServerWS
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Chat{cfg: cfg, bus: messageBus, log: log}, nil
}

// Start connects, authenticates, joins the channel, and launches the read
// loop. It returns once the connection is established.
func (c *Chat) Start(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.ServerWS, nil)
	if err != nil {
		return fmt.Errorf("twitch: dial %s: %w", c.cfg.ServerWS, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	token := c.cfg.Token
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}

	handshake := []string{
		"CAP REQ :twitch.tv/tags twitch.tv/commands",
		"PASS " + token,
		"NICK " + strings.ToLower(c.cfg.BotUser),
		"JOIN #" + strings.ToLower(c.cfg.Channel),
	}
	for _, line := range handshake {
		if err := c.writeLine(line); err != nil {
			_ = conn.Close()
			return fmt.Errorf("twitch: handshake: %w", err)
		}
	}

	c.running.Store(true)
	c.log.Infow("twitch chat connected", "channel", c.cfg.Channel, "bot", c.cfg.BotUser)

	go c.readLoop(ctx)
	return nil
}

// Stop closes the connection. Safe to call more than once.
func (c *Chat) Stop() {
	if !c.running.Swap(false) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.log.Infow("twitch chat disconnected", "channel", c.cfg.Channel)
}

// Send writes one chat message to the channel.
func (c *Chat) Send(channel, content string) error {
	if !c.running.Load() {
		return fmt.Errorf("twitch: not connected")
	}
	return c.writeLine(fmt.Sprintf("PRIVMSG #%s :%s", strings.ToLower(channel), content))
}

func (c *Chat) writeLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("twitch: no connection")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line+"\r\n"))
}

func (c *Chat) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil || ctx.Err() != nil {
			return
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			if c.running.Load() && ctx.Err() == nil {
				c.log.Warnw("twitch read failed", "error", err)
			}
			return
		}

		// A frame can carry several IRC lines.
		for _, line := range strings.Split(string(payload), "\r\n") {
			if line == "" {
				continue
			}
			c.handleLine(line)
		}
	}
}

func (c *Chat) handleLine(line string) {
	msg := parseLine(line)
	switch msg.Command {
	case "PING":
		if err := c.writeLine("PONG :" + msg.Trailing); err != nil {
			c.log.Warnw("twitch pong failed", "error", err)
		}
	case "PRIVMSG":
		if ev, ok := toChatEvent(msg); ok {
			c.bus.PublishInbound(ev)
		}
	case "NOTICE":
		c.log.Debugw("twitch notice", "text", msg.Trailing)
	case "RECONNECT":
		c.log.Warnw("twitch requested reconnect")
	}
}
