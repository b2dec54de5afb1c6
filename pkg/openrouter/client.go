// Package openrouter is a minimal chat-completions client for the
// OpenRouter API (or any OpenAI-compatible endpoint).
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultAPIBase = "https://openrouter.ai/api/v1"
	defaultTimeout = 30 * time.Second

	refererHeader = "https://stream-artifact.ai"
	titleHeader   = "Stream Artifact Chatbot"
)

// Message is one role-tagged turn in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params are the generation parameters for one completion call. Zero-valued
// fields are omitted from the request.
type Params struct {
	MaxTokens        int     `json:"max_tokens,omitempty"`
	Temperature      float64 `json:"temperature,omitempty"`
	TopP             float64 `json:"top_p,omitempty"`
	FrequencyPenalty float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64 `json:"presence_penalty,omitempty"`
}

// ModelInfo describes one model advertised by the API.
type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	ContextLength int    `json:"context_length"`
}

// Config configures a Client.
type Config struct {
	APIKey  string
	APIBase string // defaults to the OpenRouter endpoint
	Model   string
	Timeout time.Duration // defaults to 30s, also the ceiling for every call
}

// Client talks to the chat-completions API. The underlying HTTP client is
// created lazily on first use and released by Close; after an explicit Close
// the next call creates a fresh one.
type Client struct {
	cfg Config

	mu   sync.Mutex
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{cfg: cfg}
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.cfg.Model }

func (c *Client) session() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.http == nil {
		c.http = &http.Client{Timeout: c.cfg.Timeout}
	}
	return c.http
}

// Close releases the pooled connections. The client may be used again
// afterwards; a new pool is created on the next call.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.http != nil {
		c.http.CloseIdleConnections()
		c.http = nil
	}
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Params
}

type completionResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends the turns and returns the first choice's text, trimmed.
func (c *Client) Complete(ctx context.Context, messages []Message, params Params) (string, error) {
	body := completionRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Params:   params,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("openrouter: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.APIBase+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("openrouter: create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.session().Do(req)
	if err != nil {
		return "", fmt.Errorf("openrouter: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("openrouter: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openrouter: API error: status %d: %.200s", resp.StatusCode, string(respBody))
	}

	var parsed completionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("openrouter: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("openrouter: API error (%s): %s", parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openrouter: no choices returned")
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// TestConnection makes a tiny completion call to verify credentials.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.Complete(ctx, []Message{
		{Role: "user", Content: "Hello! This is a connection test."},
	}, Params{MaxTokens: 50, Temperature: 0.7})
	return err
}

// ListModels fetches the models the API advertises.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBase+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("openrouter: create models request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.session().Do(req)
	if err != nil {
		return nil, fmt.Errorf("openrouter: models request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openrouter: models request failed: status %d", resp.StatusCode)
	}

	var parsed struct {
		Data []ModelInfo `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("openrouter: decode models response: %w", err)
	}
	return parsed.Data, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("HTTP-Referer", refererHeader)
	req.Header.Set("X-Title", titleHeader)
}
