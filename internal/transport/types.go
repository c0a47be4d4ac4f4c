package transport

import (
	"context"
	"errors"
)

// Update is one inbound channel event, normalized away from the concrete
// Telegram delivery mode (long-poll or webhook).
type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       string // Telegram chat id, kept as the opaque stored form
	FromID       int64
	FromUsername string
	Text         string
}

// Sender pushes a text message to a chat identity. Implementations must be
// time-bounded; a hung send is reported as a transport error.
type Sender interface {
	SendText(ctx context.Context, chatID string, text string) error
}

// Disabled is a Sender for deployments without a configured bot token.
// Every send fails, so deliveries surface as transport errors instead of
// silently vanishing.
type Disabled struct{}

func (Disabled) SendText(context.Context, string, string) error {
	return errors.New("telegram transport disabled: no bot token configured")
}

// Adapter is a long-lived inbound connection (Telegram long-polling).
// Webhook deployments skip the Adapter and feed Updates straight from HTTP.
type Adapter interface {
	Sender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
