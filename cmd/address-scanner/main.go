package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bugbot-labs/bugbot/internal/addressscan"
	"github.com/bugbot-labs/bugbot/internal/config"
	"github.com/bugbot-labs/bugbot/internal/explorer"
	"github.com/bugbot-labs/bugbot/internal/httpx"
	"github.com/bugbot-labs/bugbot/internal/orchestrator"
	"github.com/bugbot-labs/bugbot/internal/rpcpool"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	explorers := map[string]addressscan.SourceFetcher{}
	pools := map[string]*rpcpool.Pool{}
	for name, chainCfg := range cfg.Chains {
		if !chainCfg.Enabled {
			continue
		}
		if chainCfg.ExplorerAPIURL != "" {
			explorers[name] = explorer.New(chainCfg.ExplorerAPIURL, chainCfg.ExplorerAPIKey)
		}
		pool, err := rpcpool.NewPool(name, chainCfg, cfg.RPCPool, logger)
		if err != nil {
			logger.Warn("skipping chain with invalid rpc config", "chain", name, "error", err)
			continue
		}
		go pool.Start(ctx)
		pools[name] = pool
	}

	staticAddr := ":8082"
	if v, ok := cfg.Stages["static"]; ok && v.Addr != "" {
		staticAddr = v.Addr
	}
	staticTimeout := cfg.Stages["static"].Timeout.Duration

	svc := &addressscan.Service{
		Config:           cfg,
		Explorers:        explorers,
		DecompileAdapter: &addressscan.BytecodeDumpAdapter{Pools: pools},
		StaticClient:     orchestrator.NewStageClient(orchestrator.StageURL(staticAddr), staticTimeout),
	}

	addr := ":8089"
	if v, ok := cfg.Stages["addressscan"]; ok && v.Addr != "" {
		addr = v.Addr
	}

	server := httpx.NewServer("address-scanner", addr, &cfg.API, logger)
	addressscan.RegisterRoutes(server.Router, svc)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received signal, shutting down")
		cancel()
	}()

	logger.Info("address scanner service starting", "addr", addr, "chains", len(pools))
	if err := server.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
