package twitch

import (
	"strings"
	"time"

	"github.com/dotsetgreg/streambot/pkg/bus"
)

// ircMessage is one parsed IRC line as Twitch sends it:
//
//	@tags :prefix COMMAND params :trailing
type ircMessage struct {
	Tags     map[string]string
	Prefix   string
	Command  string
	Params   []string
	Trailing string
}

func parseLine(line string) ircMessage {
	msg := ircMessage{Tags: map[string]string{}}
	line = strings.TrimRight(line, "\r\n")

	if strings.HasPrefix(line, "@") {
		raw := line[1:]
		rest := ""
		if idx := strings.Index(raw, " "); idx >= 0 {
			rest = raw[idx+1:]
			raw = raw[:idx]
		}
		for _, pair := range strings.Split(raw, ";") {
			if pair == "" {
				continue
			}
			key, value, _ := strings.Cut(pair, "=")
			msg.Tags[key] = unescapeTag(value)
		}
		line = rest
	}

	if strings.HasPrefix(line, ":") {
		if idx := strings.Index(line, " "); idx >= 0 {
			msg.Prefix = line[1:idx]
			line = line[idx+1:]
		} else {
			msg.Prefix = line[1:]
			line = ""
		}
	}

	if idx := strings.Index(line, " :"); idx >= 0 {
		msg.Trailing = line[idx+2:]
		line = line[:idx]
	}

	fields := strings.Fields(line)
	if len(fields) > 0 {
		msg.Command = fields[0]
		msg.Params = fields[1:]
	}
	return msg
}

// unescapeTag decodes IRCv3 tag value escapes (\: \s \\ \r \n).
func unescapeTag(value string) string {
	if !strings.Contains(value, `\`) {
		return value
	}
	var b strings.Builder
	escaped := false
	for _, r := range value {
		if !escaped {
			if r == '\\' {
				escaped = true
			} else {
				b.WriteRune(r)
			}
			continue
		}
		switch r {
		case ':':
			b.WriteRune(';')
		case 's':
			b.WriteRune(' ')
		case '\\':
			b.WriteRune('\\')
		case 'r':
			b.WriteRune('\r')
		case 'n':
			b.WriteRune('\n')
		default:
			b.WriteRune(r)
		}
		escaped = false
	}
	return b.String()
}

// senderNick extracts the login name from "nick!user@host".
func senderNick(prefix string) string {
	if idx := strings.Index(prefix, "!"); idx >= 0 {
		return prefix[:idx]
	}
	return prefix
}

func hasBadge(tags map[string]string, names ...string) bool {
	badges := tags["badges"]
	for _, badge := range strings.Split(badges, ",") {
		name, _, _ := strings.Cut(badge, "/")
		for _, want := range names {
			if name == want {
				return true
			}
		}
	}
	return false
}

// toChatEvent converts a PRIVMSG into a bus event, deriving the privilege
// flags from Twitch's message tags and badge list.
func toChatEvent(msg ircMessage) (bus.ChatEvent, bool) {
	if msg.Command != "PRIVMSG" || len(msg.Params) == 0 {
		return bus.ChatEvent{}, false
	}

	username := senderNick(msg.Prefix)
	if username == "" {
		return bus.ChatEvent{}, false
	}

	display := msg.Tags["display-name"]
	if display == "" {
		display = username
	}

	return bus.ChatEvent{
		Channel:      strings.TrimPrefix(msg.Params[0], "#"),
		Username:     strings.ToLower(username),
		DisplayName:  display,
		Content:      msg.Trailing,
		IsSubscriber: msg.Tags["subscriber"] == "1" || hasBadge(msg.Tags, "subscriber", "founder"),
		IsVIP:        msg.Tags["vip"] == "1" || hasBadge(msg.Tags, "vip"),
		IsMod:        msg.Tags["mod"] == "1" || hasBadge(msg.Tags, "moderator", "broadcaster"),
		Tags:         msg.Tags,
		ReceivedAt:   time.Now(),
	}, true
}
