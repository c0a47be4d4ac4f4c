package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	logx "procode/pkg/logx"
)

// Client is a direct Bot API sender for deployments where no long-poll
// adapter is running (the webhook-mode HTTP service). It only needs
// sendMessage.
type Client struct {
	token string
	base  string
	http  *http.Client
	log   logx.Logger
}

func NewClient(token string, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	return &Client{
		token: token,
		base:  "https://api.telegram.org",
		http:  &http.Client{Timeout: 8 * time.Second},
		log:   log,
	}, nil
}

// SetBaseURL overrides the Bot API endpoint (tests).
func (c *Client) SetBaseURL(u string) { c.base = strings.TrimRight(u, "/") }

func (c *Client) SendText(ctx context.Context, chatID string, text string) error {
	payload := struct {
		ChatID    string `json:"chat_id"`
		Text      string `json:"text"`
		ParseMode string `json:"parse_mode,omitempty"`
	}{ChatID: chatID, Text: text}

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := c.base + "/bot" + c.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode/100 != 2 || !out.OK {
		if out.Description != "" {
			return fmt.Errorf("telegram sendMessage failed: %s (code=%d http=%d)", out.Description, out.ErrorCode, resp.StatusCode)
		}
		return fmt.Errorf("telegram sendMessage failed: http=%d", resp.StatusCode)
	}
	return nil
}
