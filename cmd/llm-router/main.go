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
	"github.com/bugbot-labs/bugbot/internal/llm"
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

	var registry *llm.Registry
	if cfg.LLM.RoutingTablePath != "" {
		registry, err = llm.LoadRoutingTable(cfg.LLM.RoutingTablePath)
		if err != nil {
			logger.Error("failed to load llm routing table", "error", err)
			os.Exit(1)
		}
	} else {
		registry, err = llm.NewRegistry(llm.DefaultRoutingTable())
		if err != nil {
			logger.Error("failed to build default llm routing table", "error", err)
			os.Exit(1)
		}
	}

	router := llm.NewRouter(registry, cfg.LLM, logger.With("component", "llm-router"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr := ":8083"
	if v, ok := cfg.Stages["llm-router"]; ok && v.Addr != "" {
		addr = v.Addr
	}

	server := httpx.NewServer("llm-router", addr, &cfg.API, logger)
	llm.RegisterRoutes(server.Router, router)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received signal, shutting down")
		cancel()
	}()

	logger.Info("llm router service starting", "addr", addr)
	if err := server.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
