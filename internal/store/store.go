package store

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "procode/pkg/logx"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a uniqueness constraint rejects a write
	// (e.g. a duplicate connection token).
	ErrConflict = errors.New("conflict")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default deployment driver)
//   - "memory": in-process maps, no persistence (tests, dev)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API shared by the sweep, the delivery worker
// and both bot entry points.
type Store interface {
	// Users.
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (User, error)
	// ListAnalyzableUsers returns active users that have an active Telegram
	// connection and a life context updated within maxAge.
	ListAnalyzableUsers(ctx context.Context, now time.Time, maxAge time.Duration) ([]User, error)
	// SetUserTelegram mirrors the connection's chat identity onto the user row.
	SetUserTelegram(ctx context.Context, userID, chatID, username string) error

	// Life contexts.
	PutContext(ctx context.Context, c UserContext) error
	GetContext(ctx context.Context, userID string) (UserContext, error)

	// Telegram connections. At most one row per user; ReplaceConnection
	// deletes any prior row before inserting the new one.
	ReplaceConnection(ctx context.Context, c Connection) error
	ConnectionByToken(ctx context.Context, token string) (Connection, error)
	ConnectionByChatID(ctx context.Context, chatID string) (Connection, error)
	ConnectionByUser(ctx context.Context, userID string) (Connection, error)
	ActivateConnection(ctx context.Context, id, chatID, username string, at time.Time) error
	TouchConnection(ctx context.Context, id string, at time.Time) error

	// Proactive messages.
	CreateProactiveMessage(ctx context.Context, m ProactiveMessage) error
	ProactiveMessage(ctx context.Context, id string) (ProactiveMessage, error)
	// HasProactiveSince reports whether any proactive message for the user
	// was created at or after since.
	HasProactiveSince(ctx context.Context, userID string, since time.Time) (bool, error)
	// ListDuePending returns up to limit pending messages whose schedule has
	// passed and whose user has an active connection, oldest created first.
	ListDuePending(ctx context.Context, now time.Time, limit int) ([]ProactiveMessage, error)
	// MarkSent transitions pending -> sent. Returns false if the message was
	// not pending (already terminal); the transition is applied at most once.
	MarkSent(ctx context.Context, id string, at time.Time) (bool, error)
	// MarkFailed transitions pending -> failed with the same at-most-once rule.
	MarkFailed(ctx context.Context, id string) (bool, error)

	// Channel-originated chat history.
	EnsureConversation(ctx context.Context, userID, title string) (Conversation, error)
	AppendChatMessage(ctx context.Context, m ChatMessage) error
	// RecentChatMessages returns the last limit messages, oldest first.
	RecentChatMessages(ctx context.Context, conversationID string, limit int) ([]ChatMessage, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
