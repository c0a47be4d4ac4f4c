// Package delivery pushes recorded proactive messages out through the
// Telegram transport and runs the pending-message batch loop.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"procode/internal/store"
	"procode/internal/transport"
	logx "procode/pkg/logx"
)

type Config struct {
	// BatchLimit caps how many due pending messages one batch picks up.
	BatchLimit int
	// RatePerSec paces sends inside a batch (Telegram rate limits).
	RatePerSec int
	// PollInterval is the cadence of the batch loop in Run.
	PollInterval time.Duration
	// SendTimeout bounds a single transport call.
	SendTimeout time.Duration
}

// Report summarizes one batch run.
type Report struct {
	Picked int
	Sent   int
	Failed int
	// Skipped counts messages left pending (no destination or already terminal).
	Skipped int
}

type Deliverer struct {
	cfg     Config
	store   store.Store
	sender  transport.Sender
	log     logx.Logger
	limiter *rate.Limiter
	now     func() time.Time
}

func New(cfg Config, st store.Store, sender transport.Sender, log logx.Logger) *Deliverer {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 10
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Deliverer{
		cfg:     cfg,
		store:   st,
		sender:  sender,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		now:     time.Now,
	}
}

// Deliver sends one message. It returns true only when the message reached
// the transport and was marked sent.
//
// A user without an active connection is not an error: the message stays
// pending and false is returned. A transport failure marks the message
// failed. Non-pending messages are never re-sent.
func (d *Deliverer) Deliver(ctx context.Context, messageID string) (bool, error) {
	m, err := d.store.ProactiveMessage(ctx, messageID)
	if err != nil {
		return false, fmt.Errorf("load message: %w", err)
	}
	if m.Status != store.StatusPending {
		d.log.Debug("skipping non-pending message",
			logx.String("message_id", m.ID), logx.String("status", string(m.Status)))
		return false, nil
	}

	conn, err := d.store.ConnectionByUser(ctx, m.UserID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !conn.Active()) {
		// No destination: leave the message pending, a later batch retries.
		d.log.Debug("no active connection, message stays pending",
			logx.String("message_id", m.ID), logx.String("user_id", m.UserID))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load connection: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	err = d.sender.SendText(sctx, conn.TelegramChatID, m.Content)
	cancel()
	if err != nil {
		d.log.Error("proactive message send failed",
			logx.String("message_id", m.ID), logx.String("chat_id", conn.TelegramChatID), logx.Err(err))
		if _, ferr := d.store.MarkFailed(ctx, m.ID); ferr != nil {
			return false, fmt.Errorf("mark failed: %w", ferr)
		}
		return false, nil
	}

	ok, err := d.store.MarkSent(ctx, m.ID, d.now())
	if err != nil {
		return false, fmt.Errorf("mark sent: %w", err)
	}
	if !ok {
		// Another worker won the transition; the external send already
		// happened, so just report it.
		d.log.Warn("message transitioned concurrently", logx.String("message_id", m.ID))
		return false, nil
	}

	d.log.Info("proactive message sent",
		logx.String("message_id", m.ID), logx.String("chat_id", conn.TelegramChatID))
	return true, nil
}

// ProcessPending delivers one batch of due pending messages, oldest first.
// Failures are isolated per message; the batch never aborts early unless
// the context is cancelled.
func (d *Deliverer) ProcessPending(ctx context.Context) (Report, error) {
	msgs, err := d.store.ListDuePending(ctx, d.now(), d.cfg.BatchLimit)
	if err != nil {
		return Report{}, fmt.Errorf("list pending: %w", err)
	}

	rep := Report{Picked: len(msgs)}
	for _, m := range msgs {
		if err := d.limiter.Wait(ctx); err != nil {
			return rep, err
		}
		sent, err := d.Deliver(ctx, m.ID)
		switch {
		case err != nil:
			rep.Failed++
			d.log.Error("batch delivery error", logx.String("message_id", m.ID), logx.Err(err))
		case sent:
			rep.Sent++
		default:
			cur, gerr := d.store.ProactiveMessage(ctx, m.ID)
			if gerr == nil && cur.Status == store.StatusFailed {
				rep.Failed++
			} else {
				rep.Skipped++
			}
		}
	}
	return rep, nil
}

// Run executes ProcessPending on the configured interval until the context
// is cancelled.
func (d *Deliverer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.log.Info("delivery loop started",
		logx.Duration("interval", d.cfg.PollInterval), logx.Int("batch_limit", d.cfg.BatchLimit))
	for {
		select {
		case <-ctx.Done():
			d.log.Info("delivery loop stopped")
			return
		case <-ticker.C:
			rep, err := d.ProcessPending(ctx)
			if err != nil {
				if ctx.Err() == nil {
					d.log.Error("pending batch failed", logx.Err(err))
				}
				continue
			}
			if rep.Picked > 0 {
				d.log.Info("pending batch processed",
					logx.Int("picked", rep.Picked), logx.Int("sent", rep.Sent),
					logx.Int("failed", rep.Failed), logx.Int("skipped", rep.Skipped))
			}
		}
	}
}
