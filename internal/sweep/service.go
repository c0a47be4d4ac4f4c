package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	logx "procode/pkg/logx"
)

// Service triggers Run on the configured cron schedule.
type Service struct {
	sweep *Sweep
	log   logx.Logger
	c     *cron.Cron
}

func NewService(s *Sweep, log logx.Logger) *Service {
	return &Service{sweep: s, log: log}
}

// Start registers the sweep with a cron runner in the configured timezone.
// Disabled sweeps start nothing.
func (s *Service) Start(ctx context.Context) error {
	cfg := s.sweep.cfg
	if !cfg.Enabled {
		s.log.Info("context analysis disabled")
		return nil
	}

	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("sweep timezone: %w", err)
		}
		loc = l
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(loc))
	_, err := c.AddFunc(cfg.Schedule, func() {
		rctx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
		if _, err := s.sweep.Run(rctx); err != nil {
			s.log.Error("scheduled sweep failed", logx.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("sweep schedule %q: %w", cfg.Schedule, err)
	}

	c.Start()
	s.c = c
	s.log.Info("context analysis scheduled",
		logx.String("schedule", cfg.Schedule), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) Stop() {
	if s.c == nil {
		return
	}
	stopCtx := s.c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn("sweep stop timed out waiting for running job")
	}
	s.c = nil
}
