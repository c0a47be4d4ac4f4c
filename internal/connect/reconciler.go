// Package connect pairs user accounts with Telegram chats and reconciles
// inbound channel traffic against the stored connection state.
package connect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"procode/internal/store"
	logx "procode/pkg/logx"
)

var (
	// ErrTokenNotFound means the pairing token does not match any issued
	// connection; no state is mutated.
	ErrTokenNotFound = errors.New("connection token not found")
	// ErrNotConnected means the chat identity has no active connection.
	ErrNotConnected = errors.New("chat not connected")
)

// Pairing is the result of a token issuance: the secret plus the human
// instructions the web UI shows.
type Pairing struct {
	Token        string
	Command      string
	Instructions []string
}

type Reconciler struct {
	store store.Store
	log   logx.Logger
	now   func() time.Time
}

func New(st store.Store, log logx.Logger) *Reconciler {
	return &Reconciler{store: st, log: log, now: time.Now}
}

// IssueToken generates a fresh pairing token for the user. Any prior
// connection (paired or not) is dropped and replaced with a new unpaired row.
func (r *Reconciler) IssueToken(ctx context.Context, userID string) (Pairing, error) {
	if _, err := r.store.GetUser(ctx, userID); err != nil {
		return Pairing{}, err
	}

	token, err := newToken()
	if err != nil {
		return Pairing{}, err
	}

	conn := store.Connection{
		UserID:    userID,
		Token:     token,
		IsActive:  false,
		CreatedAt: r.now(),
	}
	if err := r.store.ReplaceConnection(ctx, conn); err != nil {
		return Pairing{}, fmt.Errorf("replace connection: %w", err)
	}

	r.log.Info("pairing token issued", logx.String("user_id", userID))
	return Pairing{
		Token:   token,
		Command: "/connect " + token,
		Instructions: []string{
			"Copy the token below",
			"Open Telegram and find the PROCODE bot",
			"Send the bot the command: /connect " + token,
			"The bot will confirm the connection and proactive messages will start arriving",
		},
	}, nil
}

// HandlePairing consumes a token sent over the channel: it binds the chat
// identity to the connection, activates it and mirrors the identity onto
// the user record.
func (r *Reconciler) HandlePairing(ctx context.Context, token, chatID, username string) (store.Connection, error) {
	conn, err := r.store.ConnectionByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return store.Connection{}, ErrTokenNotFound
	}
	if err != nil {
		return store.Connection{}, err
	}

	now := r.now()
	if err := r.store.ActivateConnection(ctx, conn.ID, chatID, username, now); err != nil {
		return store.Connection{}, fmt.Errorf("activate connection: %w", err)
	}
	if err := r.store.SetUserTelegram(ctx, conn.UserID, chatID, username); err != nil {
		return store.Connection{}, fmt.Errorf("mirror chat identity: %w", err)
	}

	conn.TelegramChatID = chatID
	conn.TelegramUsername = username
	conn.IsActive = true
	conn.ConnectedAt = &now
	conn.LastMessageAt = &now

	r.log.Info("telegram connected",
		logx.String("user_id", conn.UserID), logx.String("chat_id", chatID))
	return conn, nil
}

// HandleInbound resolves an ordinary inbound message: if the chat has an
// active connection it touches last_message_at and returns the connection,
// otherwise ErrNotConnected.
func (r *Reconciler) HandleInbound(ctx context.Context, chatID string) (store.Connection, error) {
	conn, err := r.store.ConnectionByChatID(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Connection{}, ErrNotConnected
	}
	if err != nil {
		return store.Connection{}, err
	}
	if !conn.Active() {
		return store.Connection{}, ErrNotConnected
	}

	now := r.now()
	if err := r.store.TouchConnection(ctx, conn.ID, now); err != nil {
		return store.Connection{}, err
	}
	conn.LastMessageAt = &now
	return conn, nil
}
