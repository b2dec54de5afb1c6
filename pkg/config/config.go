package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Twitch    TwitchConfig    `json:"twitch"`
	AI        AIConfig        `json:"ai"`
	Storage   StorageConfig   `json:"storage"`
	Retention RetentionConfig `json:"retention"`
	Log       LogConfig       `json:"log"`
}

type TwitchConfig struct {
	Channel  string `json:"channel" env:"STREAMBOT_TWITCH_CHANNEL"`
	BotUser  string `json:"bot_user" env:"STREAMBOT_TWITCH_BOT_USER"`
	Token    string `json:"token" env:"STREAMBOT_TWITCH_TOKEN"`
	ServerWS string `json:"server_ws" env:"STREAMBOT_TWITCH_SERVER_WS"`
}

type AIConfig struct {
	APIKey            string  `json:"api_key" env:"STREAMBOT_AI_API_KEY"`
	APIBase           string  `json:"api_base" env:"STREAMBOT_AI_API_BASE"`
	Model             string  `json:"model" env:"STREAMBOT_AI_MODEL"`
	Personality       string  `json:"personality" env:"STREAMBOT_AI_PERSONALITY"`
	MemoryDepth       int     `json:"memory_depth" env:"STREAMBOT_AI_MEMORY_DEPTH"`
	MaxResponseLength int     `json:"max_response_length" env:"STREAMBOT_AI_MAX_RESPONSE_LENGTH"`
	RandomReplyChance float64 `json:"random_reply_chance" env:"STREAMBOT_AI_RANDOM_REPLY_CHANCE"`
	ReplyCooldownSecs int     `json:"reply_cooldown_seconds" env:"STREAMBOT_AI_REPLY_COOLDOWN_SECONDS"`
}

type StorageConfig struct {
	DBPath string `json:"db_path" env:"STREAMBOT_STORAGE_DB_PATH"`
}

type RetentionConfig struct {
	Schedule       string  `json:"schedule" env:"STREAMBOT_RETENTION_SCHEDULE"`
	MaxAgeDays     int     `json:"max_age_days" env:"STREAMBOT_RETENTION_MAX_AGE_DAYS"`
	RelevanceFloor float64 `json:"relevance_floor" env:"STREAMBOT_RETENTION_RELEVANCE_FLOOR"`
}

type LogConfig struct {
	Level  string `json:"level" env:"STREAMBOT_LOG_LEVEL"`
	Format string `json:"format" env:"STREAMBOT_LOG_FORMAT"`
}

const defaultPersonality = "You are a friendly, helpful AI assistant for a Twitch stream. " +
	"You engage naturally with viewers and provide helpful responses."

func DefaultConfig() *Config {
	return &Config{
		Twitch: TwitchConfig{
			ServerWS: "wss://irc-ws.chat.twitch.tv:443",
		},
		AI: AIConfig{
			APIBase:           "https://openrouter.ai/api/v1",
			Model:             "anthropic/claude-3-haiku",
			Personality:       defaultPersonality,
			MemoryDepth:       5,
			MaxResponseLength: 480,
			RandomReplyChance: 0.05,
			ReplyCooldownSecs: 30,
		},
		Storage: StorageConfig{
			DBPath: "~/.streambot/streambot.db",
		},
		Retention: RetentionConfig{
			Schedule:       "0 * * * *",
			MaxAgeDays:     30,
			RelevanceFloor: 0.3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads path (a missing file is fine, defaults apply) and then
// applies STREAMBOT_* environment overrides on top.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// DefaultPath is ~/.streambot/config.json.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".streambot", "config.json")
}

func (c *Config) DBPath() string {
	return expandHome(c.Storage.DBPath)
}

// AIConfigured reports whether the response engine has enough configuration
// to make completion calls at all.
func (c *Config) AIConfigured() bool {
	return strings.TrimSpace(c.AI.APIKey) != "" && strings.TrimSpace(c.AI.Model) != ""
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
