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
	"github.com/bugbot-labs/bugbot/internal/stages/fuzzing"
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

	stageCfg := cfg.Stages["fuzzing"]
	timeout := stageCfg.Harness.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	svc := &fuzzing.Service{
		Harness:               fuzzing.Harness{Command: stageCfg.Harness.Command, Timeout: timeout},
		LLM:                   router,
		GeneratePropertyTests: stageCfg.GeneratePropertyTests,
		Logger:                logger.With("component", "fuzzing"),
		WorkDir:               os.TempDir(),
	}

	addr := stageCfg.Addr
	if addr == "" {
		addr = ":8083"
	}

	server := httpx.NewServer("fuzzing", addr, &cfg.API, logger)
	fuzzing.RegisterRoutes(server.Router, svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received signal, shutting down")
		cancel()
	}()

	logger.Info("fuzzing stage worker starting", "addr", addr)
	if err := server.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
