// Package app wires configuration, logging, storage and the domain
// components together for both binaries. Each process builds only the
// services it runs on top of this shared core.
package app

import (
	"context"
	"fmt"
	"time"

	"procode/internal/ai"
	"procode/internal/bot"
	"procode/internal/config"
	"procode/internal/connect"
	"procode/internal/delivery"
	"procode/internal/rules"
	"procode/internal/store"
	"procode/internal/sweep"
	"procode/internal/transport"
	logx "procode/pkg/logx"
)

type App struct {
	Cfg     *config.Config
	Secrets config.Secrets

	LogSvc *logx.Service
	Log    logx.Logger

	Store      store.Store
	Engine     *rules.Engine
	Reconciler *connect.Reconciler
	AI         *ai.Client

	watcher *config.Watcher
}

// New loads config + secrets and stands up the shared core: logging,
// storage, rule engine, reconciler and the OpenRouter client.
func New(cfgPath string) (*App, error) {
	secrets, err := config.LoadSecrets()
	if err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	aiTimeout, err := config.ParseDurationOrDefault("ai.timeout", cfg.AI.Timeout, 30*time.Second)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &App{
		Cfg:     cfg,
		Secrets: secrets,
		LogSvc:  logSvc,
		Log:     log,
		Store:   st,
		Engine:  rules.New(rules.DefaultConfig(), nil),
		Reconciler: connect.New(st,
			log.With(logx.String("comp", "connect"))),
		AI: ai.New(ai.Config{
			BaseURL:      cfg.AI.BaseURL,
			APIKey:       secrets.OpenRouterAPIKey,
			DefaultModel: cfg.AI.DefaultModel,
			MaxTokens:    cfg.AI.MaxTokens,
			Temperature:  cfg.AI.Temperature,
			Timeout:      aiTimeout,
		}),
	}

	a.watcher = config.NewWatcher(cfgPath, cfg, log.With(logx.String("comp", "config")))
	a.watcher.OnChange(func(next *config.Config) {
		// Only logging is hot-applied; everything else needs a restart.
		logSvc.Apply(logx.Config{
			Level:   next.Logging.Level,
			Console: next.Logging.Console,
			File: logx.FileConfig{
				Enabled: next.Logging.File.Enabled,
				Path:    next.Logging.File.Path,
			},
		})
	})

	return a, nil
}

// WatchConfig starts the config file watcher for live logging changes.
func (a *App) WatchConfig(ctx context.Context) error {
	return a.watcher.Start(ctx)
}

// BuildDeliverer maps delivery config onto the given transport.
func (a *App) BuildDeliverer(sender transport.Sender) (*delivery.Deliverer, error) {
	poll, err := config.ParseDurationOrDefault("delivery.poll_interval", a.Cfg.Delivery.PollInterval, 30*time.Second)
	if err != nil {
		return nil, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("delivery.send_timeout", a.Cfg.Delivery.SendTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	return delivery.New(delivery.Config{
		BatchLimit:   a.Cfg.Delivery.BatchLimit,
		RatePerSec:   a.Cfg.Delivery.RatePerSec,
		PollInterval: poll,
		SendTimeout:  sendTimeout,
	}, a.Store, sender, a.Log.With(logx.String("comp", "delivery"))), nil
}

// BuildSweep maps sweep config onto a deliverer.
func (a *App) BuildSweep(del *delivery.Deliverer) (*sweep.Sweep, error) {
	minGap, err := config.ParseDurationOrDefault("sweep.min_gap", a.Cfg.Sweep.MinGap, 4*time.Hour)
	if err != nil {
		return nil, err
	}
	maxAge, err := config.ParseDurationOrDefault("sweep.context_max_age", a.Cfg.Sweep.ContextMaxAge, 30*24*time.Hour)
	if err != nil {
		return nil, err
	}
	runTimeout, err := config.ParseDurationOrDefault("sweep.run_timeout", a.Cfg.Sweep.RunTimeout, 5*time.Minute)
	if err != nil {
		return nil, err
	}
	return sweep.New(sweep.Config{
		Enabled:       a.Cfg.Sweep.Enabled,
		Schedule:      a.Cfg.Sweep.Schedule,
		MinGap:        minGap,
		ContextMaxAge: maxAge,
		RunTimeout:    runTimeout,
		Timezone:      a.Cfg.Sweep.Timezone,
	}, a.Store, a.Engine, del, a.Log.With(logx.String("comp", "sweep"))), nil
}

// BuildRouter builds the shared inbound message router.
func (a *App) BuildRouter() *bot.Router {
	return bot.NewRouter(bot.Config{
		ChatEnabled:  a.Cfg.Chat.Enabled,
		HistoryLimit: a.Cfg.Chat.HistoryLimit,
	}, a.Store, a.Reconciler, a.AI, a.Log.With(logx.String("comp", "bot")))
}

func (a *App) Close() {
	if a.Store != nil {
		_ = a.Store.Close()
	}
	if a.LogSvc != nil {
		_ = a.LogSvc.Close()
	}
}
