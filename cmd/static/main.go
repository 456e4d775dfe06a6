package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bugbot-labs/bugbot/internal/config"
	"github.com/bugbot-labs/bugbot/internal/httpx"
	"github.com/bugbot-labs/bugbot/internal/llm"
	"github.com/bugbot-labs/bugbot/internal/stages/static"
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

	registry, err := llm.LoadRoutingTable(cfg.LLM.RoutingTablePath)
	if err != nil {
		logger.Error("failed to load llm routing table", "error", err)
		os.Exit(1)
	}
	router := llm.NewRouter(registry, cfg.LLM, logger.With("component", "llm"))

	stageCfg := cfg.Stages["static"]
	var analyzers []static.Analyzer
	for _, a := range stageCfg.Analyzers {
		timeout := a.Timeout.Duration
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		analyzers = append(analyzers, static.Analyzer{Name: a.Name, Command: a.Command, Timeout: timeout})
	}

	svc := &static.Service{
		Analyzers: analyzers,
		LLM:       router,
		Logger:    logger.With("component", "static"),
		WorkDir:   os.TempDir(),
	}

	addr := stageCfg.Addr
	if addr == "" {
		addr = ":8082"
	}

	server := httpx.NewServer("static", addr, &cfg.API, logger)
	static.RegisterRoutes(server.Router, svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received signal, shutting down")
		cancel()
	}()

	logger.Info("static stage worker starting", "addr", addr, "analyzers", len(analyzers))
	if err := server.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
