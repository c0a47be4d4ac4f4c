package store

import "time"

type MessageType string

const (
	TypeSuggestion MessageType = "suggestion"
	TypeReminder   MessageType = "reminder"
	TypeQuestion   MessageType = "question"
	TypeUpdate     MessageType = "update"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type User struct {
	ID               string
	Email            string
	IsActive         bool
	TelegramChatID   string
	TelegramUsername string
	CurrentModel     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// UserContext is the user-maintained "life context" the analysis sweep reads.
// The pipeline never mutates it.
type UserContext struct {
	ID             string
	UserID         string
	ShortTermGoals []string
	Challenges     []string
	SkillsToLearn  []string
	HealthGoals    []string
	UpdatedAt      time.Time
}

// Connection pairs a user account with a Telegram chat.
//
// Lifecycle: created with a fresh token, empty chat id and IsActive=false;
// activated when the bot consumes the token; at most one row per user.
type Connection struct {
	ID               string
	UserID           string
	Token            string
	TelegramChatID   string
	TelegramUsername string
	IsActive         bool
	ConnectedAt      *time.Time
	LastMessageAt    *time.Time
	CreatedAt        time.Time
}

// Active reports whether the connection can receive messages.
func (c Connection) Active() bool {
	return c.IsActive && c.TelegramChatID != ""
}

type ProactiveMessage struct {
	ID           string
	UserID       string
	Type         MessageType
	Title        string
	Content      string
	Priority     Priority
	Status       Status
	ScheduledFor *time.Time
	SentAt       *time.Time
	Reasoning    string
	AnalyzedAt   time.Time
	CreatedAt    time.Time
}

// Due reports whether the message may be dispatched at now.
func (m ProactiveMessage) Due(now time.Time) bool {
	return m.ScheduledFor == nil || !m.ScheduledFor.After(now)
}

type Conversation struct {
	ID        string
	UserID    string
	Title     string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ChatMessage struct {
	ID             string
	ConversationID string
	Role           Role
	Content        string
	ModelUsed      string
	CreatedAt      time.Time
}
