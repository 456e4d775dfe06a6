package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bugbot-labs/bugbot/internal/config"
	"github.com/bugbot-labs/bugbot/internal/explorer"
	"github.com/bugbot-labs/bugbot/internal/httpx"
	"github.com/bugbot-labs/bugbot/internal/stages/recon"
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

	svc := &recon.Service{
		Logger:  logger.With("component", "recon"),
		WorkDir: os.TempDir(),
		Explorer: func(chain string) *explorer.Client {
			spec, ok := cfg.Chains[chain]
			if !ok || spec.ExplorerAPIURL == "" {
				return nil
			}
			return explorer.New(spec.ExplorerAPIURL, spec.ExplorerAPIKey)
		},
	}

	stageCfg := cfg.Stages["recon"]
	addr := stageCfg.Addr
	if addr == "" {
		addr = ":8081"
	}

	server := httpx.NewServer("recon", addr, &cfg.API, logger)
	recon.RegisterRoutes(server.Router, svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received signal, shutting down")
		cancel()
	}()

	logger.Info("recon stage worker starting", "addr", addr)
	if err := server.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
