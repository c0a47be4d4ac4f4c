package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryStore keeps everything in process memory. It backs tests and the
// "memory" driver; semantics mirror the sqlite driver.
type memoryStore struct {
	mu sync.Mutex

	users         map[string]User
	contexts      map[string]UserContext      // by user id
	connections   map[string]Connection       // by connection id
	proactive     map[string]ProactiveMessage // by message id
	conversations map[string]Conversation     // by conversation id
	messages      map[string][]ChatMessage    // by conversation id
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{
		users:         map[string]User{},
		contexts:      map[string]UserContext{},
		connections:   map[string]Connection{},
		proactive:     map[string]ProactiveMessage{},
		conversations: map[string]Conversation{},
		messages:      map[string][]ChatMessage{},
	}
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) CreateUser(_ context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	for _, ex := range s.users {
		if ex.Email == u.Email {
			return ErrConflict
		}
	}
	s.users[u.ID] = u
	return nil
}

func (s *memoryStore) GetUser(_ context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *memoryStore) ListAnalyzableUsers(_ context.Context, now time.Time, maxAge time.Duration) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-maxAge)

	var out []User
	for _, u := range s.users {
		if !u.IsActive {
			continue
		}
		conn, ok := s.connectionByUserLocked(u.ID)
		if !ok || !conn.Active() {
			continue
		}
		uc, ok := s.contexts[u.ID]
		if !ok || uc.UpdatedAt.Before(cutoff) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memoryStore) SetUserTelegram(_ context.Context, userID, chatID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.TelegramChatID = chatID
	u.TelegramUsername = username
	u.UpdatedAt = time.Now()
	s.users[userID] = u
	return nil
}

func (s *memoryStore) PutContext(_ context.Context, c UserContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	if ex, ok := s.contexts[c.UserID]; ok {
		c.ID = ex.ID
	}
	s.contexts[c.UserID] = c
	return nil
}

func (s *memoryStore) GetContext(_ context.Context, userID string) (UserContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contexts[userID]
	if !ok {
		return UserContext{}, ErrNotFound
	}
	return c, nil
}

func (s *memoryStore) connectionByUserLocked(userID string) (Connection, bool) {
	for _, c := range s.connections {
		if c.UserID == userID {
			return c, true
		}
	}
	return Connection{}, false
}

func (s *memoryStore) ReplaceConnection(_ context.Context, c Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.Token != "" {
		for _, ex := range s.connections {
			if ex.Token == c.Token && ex.UserID != c.UserID {
				return ErrConflict
			}
		}
	}
	for id, ex := range s.connections {
		if ex.UserID == c.UserID {
			delete(s.connections, id)
		}
	}
	s.connections[c.ID] = c
	return nil
}

func (s *memoryStore) ConnectionByToken(_ context.Context, token string) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" {
		return Connection{}, ErrNotFound
	}
	for _, c := range s.connections {
		if c.Token == token {
			return c, nil
		}
	}
	return Connection{}, ErrNotFound
}

func (s *memoryStore) ConnectionByChatID(_ context.Context, chatID string) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chatID == "" {
		return Connection{}, ErrNotFound
	}
	for _, c := range s.connections {
		if c.TelegramChatID == chatID {
			return c, nil
		}
	}
	return Connection{}, ErrNotFound
}

func (s *memoryStore) ConnectionByUser(_ context.Context, userID string) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connectionByUserLocked(userID)
	if !ok {
		return Connection{}, ErrNotFound
	}
	return c, nil
}

func (s *memoryStore) ActivateConnection(_ context.Context, id, chatID, username string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[id]
	if !ok {
		return ErrNotFound
	}
	c.TelegramChatID = chatID
	c.TelegramUsername = username
	c.IsActive = true
	c.ConnectedAt = &at
	c.LastMessageAt = &at
	s.connections[id] = c
	return nil
}

func (s *memoryStore) TouchConnection(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[id]
	if !ok {
		return ErrNotFound
	}
	c.LastMessageAt = &at
	s.connections[id] = c
	return nil
}

func (s *memoryStore) CreateProactiveMessage(_ context.Context, m ProactiveMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.AnalyzedAt.IsZero() {
		m.AnalyzedAt = m.CreatedAt
	}
	if m.Status == "" {
		m.Status = StatusPending
	}
	s.proactive[m.ID] = m
	return nil
}

func (s *memoryStore) ProactiveMessage(_ context.Context, id string) (ProactiveMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.proactive[id]
	if !ok {
		return ProactiveMessage{}, ErrNotFound
	}
	return m, nil
}

func (s *memoryStore) HasProactiveSince(_ context.Context, userID string, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.proactive {
		if m.UserID == userID && !m.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) ListDuePending(_ context.Context, now time.Time, limit int) ([]ProactiveMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 10
	}

	var out []ProactiveMessage
	for _, m := range s.proactive {
		if m.Status != StatusPending || !m.Due(now) {
			continue
		}
		conn, ok := s.connectionByUserLocked(m.UserID)
		if !ok || !conn.Active() {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) MarkSent(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.proactive[id]
	if !ok || m.Status != StatusPending {
		return false, nil
	}
	m.Status = StatusSent
	m.SentAt = &at
	s.proactive[id] = m
	return true, nil
}

func (s *memoryStore) MarkFailed(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.proactive[id]
	if !ok || m.Status != StatusPending {
		return false, nil
	}
	m.Status = StatusFailed
	s.proactive[id] = m
	return true, nil
}

func (s *memoryStore) EnsureConversation(_ context.Context, userID, title string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.UserID == userID && c.Title == title {
			return c, nil
		}
	}
	now := time.Now()
	c := Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[c.ID] = c
	return c, nil
}

func (s *memoryStore) AppendChatMessage(_ context.Context, m ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if _, ok := s.conversations[m.ConversationID]; !ok {
		return ErrNotFound
	}
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], m)
	c := s.conversations[m.ConversationID]
	c.UpdatedAt = m.CreatedAt
	s.conversations[m.ConversationID] = c
	return nil
}

func (s *memoryStore) RecentChatMessages(_ context.Context, conversationID string, limit int) ([]ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 10
	}
	msgs := s.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}
