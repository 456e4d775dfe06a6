package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bugbot-labs/bugbot/internal/config"
	"github.com/bugbot-labs/bugbot/internal/httpx"
	"github.com/bugbot-labs/bugbot/internal/notify"
	"github.com/bugbot-labs/bugbot/internal/stages/reporting"
)

func main() {
	configPath := flag.String("config", "bugbot.toml", "path to config file")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logLevel := new(slog.LevelVar)
	_ = logLevel.UnmarshalText([]byte(cfg.General.LogLevel))
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	if *dev {
		logger = slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts))
	}
	slog.SetDefault(logger)

	senders := map[string]notify.Sender{}
	if cfg.Notify.SlackToken != "" {
		senders["slack"] = notify.NewSlackSender(cfg.Notify.SlackToken)
	}
	if cfg.Notify.EmailSMTPAddr != "" {
		senders["email"] = &notify.EmailSender{SMTPAddr: cfg.Notify.EmailSMTPAddr, From: cfg.Notify.EmailFrom}
	}
	if cfg.Notify.GitHubToken != "" {
		senders["github"] = notify.NewGitHubSender(cfg.Notify.GitHubToken)
	}

	svc := &reporting.Service{
		Notifier: &notify.Dispatcher{Senders: senders},
		Logger:   logger.With("component", "reporting"),
	}

	stageCfg := cfg.Stages["reporting"]
	addr := stageCfg.Addr
	if addr == "" {
		addr = ":8086"
	}

	server := httpx.NewServer("reporting", addr, &cfg.API, logger)
	reporting.RegisterRoutes(server.Router, svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received signal, shutting down")
		cancel()
	}()

	logger.Info("reporting stage worker starting", "addr", addr)
	if err := server.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
