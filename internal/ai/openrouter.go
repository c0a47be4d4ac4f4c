// Package ai talks to the OpenRouter chat-completions API.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

type Config struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
	MaxTokens    int
	Temperature  float64
	Timeout      time.Duration
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Client struct {
	cfg  Config
	http *resty.Client
}

var ErrNotConfigured = errors.New("openrouter api key not configured")

func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}

	c := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Title", "PROCODE")
	if cfg.APIKey != "" {
		c.SetAuthToken(cfg.APIKey)
	}
	return &Client{cfg: cfg, http: c}
}

// Model returns the model to use, falling back to the configured default.
func (c *Client) Model(preferred string) string {
	if strings.TrimSpace(preferred) != "" {
		return preferred
	}
	return c.cfg.DefaultModel
}

// Complete sends one chat-completion request and returns the generated text.
func (c *Client) Complete(ctx context.Context, model string, msgs []Message) (string, error) {
	if c.cfg.APIKey == "" {
		return "", ErrNotConfigured
	}
	if model == "" {
		model = c.cfg.DefaultModel
	}

	body := struct {
		Model       string    `json:"model"`
		Messages    []Message `json:"messages"`
		MaxTokens   int       `json:"max_tokens"`
		Temperature float64   `json:"temperature"`
	}{Model: model, Messages: msgs, MaxTokens: c.cfg.MaxTokens, Temperature: c.cfg.Temperature}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("openrouter request: %w", err)
	}
	if resp.IsError() {
		if out.Error != nil && out.Error.Message != "" {
			return "", fmt.Errorf("openrouter: %s (http=%d)", out.Error.Message, resp.StatusCode())
		}
		return "", fmt.Errorf("openrouter: http=%d", resp.StatusCode())
	}
	if len(out.Choices) == 0 {
		return "", errors.New("openrouter: empty choices")
	}
	return out.Choices[0].Message.Content, nil
}
