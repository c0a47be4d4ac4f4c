// Package sweep runs the periodic context-analysis job: it scans eligible
// users, asks the rule engine for a candidate, records accepted candidates
// as pending proactive messages and dispatches the ones due immediately.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"procode/internal/delivery"
	"procode/internal/rules"
	"procode/internal/store"
	logx "procode/pkg/logx"
)

type Config struct {
	Enabled bool
	// Schedule is a cron spec; the intended cadence is hourly.
	Schedule string
	// MinGap is the recency guard: no second proactive message within this
	// window of an existing one.
	MinGap time.Duration
	// ContextMaxAge is the freshness guard on the user's life context.
	ContextMaxAge time.Duration
	// RunTimeout bounds one whole sweep.
	RunTimeout time.Duration
	Timezone   string
}

func (c *Config) applyDefaults() {
	if c.Schedule == "" {
		c.Schedule = "0 * * * *"
	}
	if c.MinGap <= 0 {
		c.MinGap = 4 * time.Hour
	}
	if c.ContextMaxAge <= 0 {
		c.ContextMaxAge = 30 * 24 * time.Hour
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 5 * time.Minute
	}
}

// Result records the outcome for one user that produced a candidate or an
// error during the sweep.
type Result struct {
	UserID    string
	Email     string
	MessageID string
	Type      store.MessageType
	Delivered bool
	Err       string
}

// Summary is the run report the trigger endpoint returns.
type Summary struct {
	Analyzed      int
	SkippedRecent int
	Created       int
	Sent          int
	Errors        int
	Results       []Result
}

type Sweep struct {
	cfg       Config
	store     store.Store
	engine    *rules.Engine
	deliverer *delivery.Deliverer
	log       logx.Logger
	now       func() time.Time
}

func New(cfg Config, st store.Store, engine *rules.Engine, del *delivery.Deliverer, log logx.Logger) *Sweep {
	cfg.applyDefaults()
	return &Sweep{cfg: cfg, store: st, engine: engine, deliverer: del, log: log, now: time.Now}
}

// Eligible reports whether a new proactive message may be generated for the
// user right now, with a short reason when it may not. Pure read.
func (s *Sweep) Eligible(ctx context.Context, u store.User) (bool, string, error) {
	if !u.IsActive {
		return false, "user inactive", nil
	}

	conn, err := s.store.ConnectionByUser(ctx, u.ID)
	if errors.Is(err, store.ErrNotFound) {
		return false, "no connection", nil
	}
	if err != nil {
		return false, "", err
	}
	if !conn.Active() {
		return false, "connection inactive", nil
	}

	uc, err := s.store.GetContext(ctx, u.ID)
	if errors.Is(err, store.ErrNotFound) {
		return false, "no context", nil
	}
	if err != nil {
		return false, "", err
	}
	now := s.now()
	if uc.UpdatedAt.Before(now.Add(-s.cfg.ContextMaxAge)) {
		return false, "context stale", nil
	}

	recent, err := s.store.HasProactiveSince(ctx, u.ID, now.Add(-s.cfg.MinGap))
	if err != nil {
		return false, "", err
	}
	if recent {
		return false, "recent message", nil
	}
	return true, "", nil
}

// Run executes one sweep across all analyzable users. Per-user failures are
// isolated and reported in the summary; only a store failure listing users
// is fatal.
func (s *Sweep) Run(ctx context.Context) (Summary, error) {
	now := s.now()
	users, err := s.store.ListAnalyzableUsers(ctx, now, s.cfg.ContextMaxAge)
	if err != nil {
		return Summary{}, fmt.Errorf("list users: %w", err)
	}

	s.log.Info("context analysis started", logx.Int("users", len(users)))
	sum := Summary{Analyzed: len(users)}

	for _, u := range users {
		res, skipped := s.analyzeUser(ctx, u, now)
		if skipped {
			sum.SkippedRecent++
			continue
		}
		if res == nil {
			continue
		}
		if res.Err != "" {
			sum.Errors++
		} else {
			sum.Created++
			if res.Delivered {
				sum.Sent++
			}
		}
		sum.Results = append(sum.Results, *res)
	}

	s.log.Info("context analysis finished",
		logx.Int("analyzed", sum.Analyzed), logx.Int("created", sum.Created),
		logx.Int("sent", sum.Sent), logx.Int("skipped_recent", sum.SkippedRecent),
		logx.Int("errors", sum.Errors))
	return sum, nil
}

// analyzeUser evaluates one user. skipped is true when the recency guard
// suppressed the user; res is nil when no rule fired.
func (s *Sweep) analyzeUser(ctx context.Context, u store.User, now time.Time) (res *Result, skipped bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic analyzing user", logx.String("user_id", u.ID), logx.Any("panic", r))
			res = &Result{UserID: u.ID, Email: u.Email, Err: fmt.Sprint(r)}
			skipped = false
		}
	}()

	recent, err := s.store.HasProactiveSince(ctx, u.ID, now.Add(-s.cfg.MinGap))
	if err != nil {
		s.log.Error("recency check failed", logx.String("user_id", u.ID), logx.Err(err))
		return &Result{UserID: u.ID, Email: u.Email, Err: err.Error()}, false
	}
	if recent {
		s.log.Debug("skipping user, recent message", logx.String("user_id", u.ID))
		return nil, true
	}

	uc, err := s.store.GetContext(ctx, u.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		return &Result{UserID: u.ID, Email: u.Email, Err: err.Error()}, false
	}

	cand, ok := s.engine.Evaluate(rules.Input{Context: uc, Now: now})
	if !ok {
		return nil, false
	}

	scheduledFor := cand.ScheduledFor
	if scheduledFor == nil {
		t := now
		scheduledFor = &t
	}
	msg := store.ProactiveMessage{
		ID:           uuid.NewString(),
		UserID:       u.ID,
		Type:         cand.Type,
		Title:        cand.Title,
		Content:      cand.Content,
		Priority:     cand.Priority,
		Status:       store.StatusPending,
		ScheduledFor: scheduledFor,
		Reasoning:    cand.Reasoning,
		AnalyzedAt:   now,
		CreatedAt:    now,
	}
	if err := s.store.CreateProactiveMessage(ctx, msg); err != nil {
		return &Result{UserID: u.ID, Email: u.Email, Err: err.Error()}, false
	}

	res = &Result{UserID: u.ID, Email: u.Email, MessageID: msg.ID, Type: msg.Type}
	if msg.Due(now) {
		sent, err := s.deliverer.Deliver(ctx, msg.ID)
		if err != nil {
			s.log.Error("immediate delivery failed", logx.String("message_id", msg.ID), logx.Err(err))
		}
		res.Delivered = sent
	}
	return res, false
}
