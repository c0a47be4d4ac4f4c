package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"procode/internal/app"
	"procode/internal/config"
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

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", a.Cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		log.Error("config", logx.Err(err))
		os.Exit(1)
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       a.Secrets.TelegramBotToken,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		log.Error("telegram adapter", logx.Err(err))
		os.Exit(1)
	}

	del, err := a.BuildDeliverer(adapter)
	if err != nil {
		log.Error("build deliverer", logx.Err(err))
		os.Exit(1)
	}
	router := a.BuildRouter()

	if err := a.WatchConfig(ctx); err != nil {
		log.Warn("config watcher unavailable", logx.Err(err))
	}

	updates := make(chan transport.Update, 128)
	if err := adapter.Start(ctx, updates); err != nil {
		log.Error("start long-poll", logx.Err(err))
		os.Exit(1)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		router.Serve(ctx, updates, adapter)
	}()
	go func() {
		defer wg.Done()
		del.Run(ctx)
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	log.Info("bot started")

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	_ = adapter.Stop(stopCtx)
	wg.Wait()
	log.Info("shutdown complete")
}
