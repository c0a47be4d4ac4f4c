package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "procode/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers. The sweep process
	// and the bot process each hold their own single-writer pool; WAL lets
	// them share the file.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Users ----

func (s *sqliteStore) CreateUser(ctx context.Context, u User) error {
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, email, is_active, telegram_chat_id, telegram_username, current_model, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		u.ID, u.Email, u.IsActive, u.TelegramChatID, u.TelegramUsername, u.CurrentModel,
		u.CreatedAt.UnixMilli(), u.UpdatedAt.UnixMilli(),
	)
	return mapConstraint(err)
}

func (s *sqliteStore) GetUser(ctx context.Context, id string) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, is_active, telegram_chat_id, telegram_username, current_model, created_at, updated_at
		 FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *sqliteStore) ListAnalyzableUsers(ctx context.Context, now time.Time, maxAge time.Duration) ([]User, error) {
	cutoff := now.Add(-maxAge).UnixMilli()
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.email, u.is_active, u.telegram_chat_id, u.telegram_username, u.current_model, u.created_at, u.updated_at
		 FROM users u
		 JOIN telegram_connections tc ON tc.user_id = u.id AND tc.is_active = 1 AND tc.telegram_chat_id != ''
		 JOIN user_contexts uc ON uc.user_id = u.id AND uc.updated_at >= ?
		 WHERE u.is_active = 1
		 ORDER BY u.created_at ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetUserTelegram(ctx context.Context, userID, chatID, username string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET telegram_chat_id = ?, telegram_username = ?, updated_at = ? WHERE id = ?`,
		chatID, username, time.Now().UnixMilli(), userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ---- Life contexts ----

func (s *sqliteStore) PutContext(ctx context.Context, c UserContext) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_contexts(id, user_id, short_term_goals, challenges, skills_to_learn, health_goals, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   short_term_goals=excluded.short_term_goals,
		   challenges=excluded.challenges,
		   skills_to_learn=excluded.skills_to_learn,
		   health_goals=excluded.health_goals,
		   updated_at=excluded.updated_at`,
		c.ID, c.UserID, jsonList(c.ShortTermGoals), jsonList(c.Challenges),
		jsonList(c.SkillsToLearn), jsonList(c.HealthGoals), c.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) GetContext(ctx context.Context, userID string) (UserContext, error) {
	var c UserContext
	var goals, challenges, skills, health string
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, short_term_goals, challenges, skills_to_learn, health_goals, updated_at
		 FROM user_contexts WHERE user_id = ?`, userID).
		Scan(&c.ID, &c.UserID, &goals, &challenges, &skills, &health, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return UserContext{}, ErrNotFound
	}
	if err != nil {
		return UserContext{}, err
	}
	c.ShortTermGoals = parseList(goals)
	c.Challenges = parseList(challenges)
	c.SkillsToLearn = parseList(skills)
	c.HealthGoals = parseList(health)
	c.UpdatedAt = time.UnixMilli(updated)
	return c, nil
}

// ---- Connections ----

func (s *sqliteStore) ReplaceConnection(ctx context.Context, c Connection) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM telegram_connections WHERE user_id = ?`, c.UserID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO telegram_connections(id, user_id, connection_token, telegram_chat_id, telegram_username, is_active, connected_at, last_message_at, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		c.ID, c.UserID, nullStr(c.Token), c.TelegramChatID, c.TelegramUsername, c.IsActive,
		nullTime(c.ConnectedAt), nullTime(c.LastMessageAt), c.CreatedAt.UnixMilli(),
	); err != nil {
		return mapConstraint(err)
	}
	return tx.Commit()
}

func (s *sqliteStore) ConnectionByToken(ctx context.Context, token string) (Connection, error) {
	if token == "" {
		return Connection{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, connectionSelect+` WHERE connection_token = ?`, token)
	return scanConnection(row)
}

func (s *sqliteStore) ConnectionByChatID(ctx context.Context, chatID string) (Connection, error) {
	if chatID == "" {
		return Connection{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, connectionSelect+` WHERE telegram_chat_id = ?`, chatID)
	return scanConnection(row)
}

func (s *sqliteStore) ConnectionByUser(ctx context.Context, userID string) (Connection, error) {
	row := s.db.QueryRowContext(ctx, connectionSelect+` WHERE user_id = ?`, userID)
	return scanConnection(row)
}

func (s *sqliteStore) ActivateConnection(ctx context.Context, id, chatID, username string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE telegram_connections
		 SET telegram_chat_id = ?, telegram_username = ?, is_active = 1, connected_at = ?, last_message_at = ?
		 WHERE id = ?`,
		chatID, username, at.UnixMilli(), at.UnixMilli(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) TouchConnection(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE telegram_connections SET last_message_at = ? WHERE id = ?`,
		at.UnixMilli(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ---- Proactive messages ----

func (s *sqliteStore) CreateProactiveMessage(ctx context.Context, m ProactiveMessage) error {
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO proactive_messages(id, user_id, type, title, content, priority, status, scheduled_for, sent_at, reasoning, analyzed_at, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.UserID, string(m.Type), m.Title, m.Content, string(m.Priority), string(m.Status),
		nullTime(m.ScheduledFor), nullTime(m.SentAt), m.Reasoning,
		m.AnalyzedAt.UnixMilli(), m.CreatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) ProactiveMessage(ctx context.Context, id string) (ProactiveMessage, error) {
	row := s.db.QueryRowContext(ctx, proactiveSelect+` WHERE id = ?`, id)
	return scanProactive(row)
}

func (s *sqliteStore) HasProactiveSince(ctx context.Context, userID string, since time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM proactive_messages WHERE user_id = ? AND created_at >= ?`,
		userID, since.UnixMilli()).Scan(&n)
	return n > 0, err
}

func (s *sqliteStore) ListDuePending(ctx context.Context, now time.Time, limit int) ([]ProactiveMessage, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		proactiveSelect+`
		 WHERE status = 'pending'
		   AND (scheduled_for IS NULL OR scheduled_for <= ?)
		   AND user_id IN (
		     SELECT user_id FROM telegram_connections
		     WHERE is_active = 1 AND telegram_chat_id != ''
		   )
		 ORDER BY created_at ASC
		 LIMIT ?`, now.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProactiveMessage
	for rows.Next() {
		m, err := scanProactive(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkSent(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE proactive_messages SET status = 'sent', sent_at = ? WHERE id = ? AND status = 'pending'`,
		at.UnixMilli(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) MarkFailed(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE proactive_messages SET status = 'failed' WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ---- Channel chat ----

func (s *sqliteStore) EnsureConversation(ctx context.Context, userID, title string) (Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, is_active, created_at, updated_at
		 FROM conversations WHERE user_id = ? AND title = ?`, userID, title)
	c, err := scanConversation(row)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Conversation{}, err
	}

	now := time.Now()
	c = Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations(id, user_id, title, is_active, created_at, updated_at)
		 VALUES(?,?,?,?,?,?)`,
		c.ID, c.UserID, c.Title, c.IsActive, c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli())
	if err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func (s *sqliteStore) AppendChatMessage(ctx context.Context, m ChatMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages(id, conversation_id, role, content, model_used, created_at)
		 VALUES(?,?,?,?,?,?)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, m.ModelUsed, m.CreatedAt.UnixMilli(),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		m.CreatedAt.UnixMilli(), m.ConversationID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) RecentChatMessages(ctx context.Context, conversationID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, model_used, created_at
		 FROM (
		   SELECT * FROM messages WHERE conversation_id = ?
		   ORDER BY created_at DESC LIMIT ?
		 ) ORDER BY created_at ASC`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var role string
		var created int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.ModelUsed, &created); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		m.CreatedAt = time.UnixMilli(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---- Scan helpers ----

const connectionSelect = `SELECT id, user_id, connection_token, telegram_chat_id, telegram_username, is_active, connected_at, last_message_at, created_at
 FROM telegram_connections`

const proactiveSelect = `SELECT id, user_id, type, title, content, priority, status, scheduled_for, sent_at, reasoning, analyzed_at, created_at
 FROM proactive_messages`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (User, error) {
	var u User
	var created, updated int64
	err := r.Scan(&u.ID, &u.Email, &u.IsActive, &u.TelegramChatID, &u.TelegramUsername,
		&u.CurrentModel, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.CreatedAt = time.UnixMilli(created)
	u.UpdatedAt = time.UnixMilli(updated)
	return u, nil
}

func scanConnection(r rowScanner) (Connection, error) {
	var c Connection
	var token sql.NullString
	var connected, lastMsg sql.NullInt64
	var created int64
	err := r.Scan(&c.ID, &c.UserID, &token, &c.TelegramChatID, &c.TelegramUsername,
		&c.IsActive, &connected, &lastMsg, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Connection{}, ErrNotFound
	}
	if err != nil {
		return Connection{}, err
	}
	c.Token = token.String
	c.ConnectedAt = timePtr(connected)
	c.LastMessageAt = timePtr(lastMsg)
	c.CreatedAt = time.UnixMilli(created)
	return c, nil
}

func scanProactive(r rowScanner) (ProactiveMessage, error) {
	var m ProactiveMessage
	var typ, prio, status string
	var scheduled, sent sql.NullInt64
	var analyzed, created int64
	err := r.Scan(&m.ID, &m.UserID, &typ, &m.Title, &m.Content, &prio, &status,
		&scheduled, &sent, &m.Reasoning, &analyzed, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return ProactiveMessage{}, ErrNotFound
	}
	if err != nil {
		return ProactiveMessage{}, err
	}
	m.Type = MessageType(typ)
	m.Priority = Priority(prio)
	m.Status = Status(status)
	m.ScheduledFor = timePtr(scheduled)
	m.SentAt = timePtr(sent)
	m.AnalyzedAt = time.UnixMilli(analyzed)
	m.CreatedAt = time.UnixMilli(created)
	return m, nil
}

func scanConversation(r rowScanner) (Conversation, error) {
	var c Conversation
	var created, updated int64
	err := r.Scan(&c.ID, &c.UserID, &c.Title, &c.IsActive, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	c.CreatedAt = time.UnixMilli(created)
	c.UpdatedAt = time.UnixMilli(updated)
	return c, nil
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func jsonList(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func parseList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func mapConstraint(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
