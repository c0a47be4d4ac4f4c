package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"procode/internal/app"
	"procode/internal/httpapi"
	"procode/internal/sweep"
	"procode/internal/transport"
	"procode/internal/transport/telegram"
	logx "procode/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	defer a.Close()
	log := a.Log

	// Outbound Telegram for this process is the raw sendMessage client;
	// inbound arrives over the webhook endpoint.
	var sender transport.Sender
	if tg, err := telegram.NewClient(a.Secrets.TelegramBotToken,
		log.With(logx.String("comp", "telegram"))); err != nil {
		log.Warn("telegram sending disabled", logx.Err(err))
		sender = transport.Disabled{}
	} else {
		sender = tg
	}

	del, err := a.BuildDeliverer(sender)
	if err != nil {
		log.Error("build deliverer", logx.Err(err))
		os.Exit(1)
	}
	sw, err := a.BuildSweep(del)
	if err != nil {
		log.Error("build sweep", logx.Err(err))
		os.Exit(1)
	}

	sweepSvc := sweep.NewService(sw, log.With(logx.String("comp", "sweep")))
	if err := sweepSvc.Start(ctx); err != nil {
		log.Error("start sweep schedule", logx.Err(err))
		os.Exit(1)
	}
	defer sweepSvc.Stop()

	if err := a.WatchConfig(ctx); err != nil {
		log.Warn("config watcher unavailable", logx.Err(err))
	}

	srv := httpapi.New(httpapi.Config{
		Addr:   a.Cfg.HTTP.Addr,
		APIKey: a.Secrets.APIKey,
	}, a.Store, a.BuildRouter(), sender, a.Reconciler, sw, a.AI,
		log.With(logx.String("comp", "http")))

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := srv.Start(ctx); err != nil {
		log.Error("http server", logx.Err(err))
		os.Exit(1)
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info("shutdown complete")
}
