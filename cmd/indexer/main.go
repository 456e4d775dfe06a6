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
	"github.com/bugbot-labs/bugbot/internal/indexer"
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

	pools := map[string]*rpcpool.Pool{}
	for name, chainCfg := range cfg.Chains {
		if !chainCfg.Enabled {
			continue
		}
		pool, err := rpcpool.NewPool(name, chainCfg, cfg.RPCPool, logger)
		if err != nil {
			logger.Warn("skipping chain with invalid rpc config", "chain", name, "error", err)
			continue
		}
		go pool.Start(ctx)
		pools[name] = pool
	}

	svc := indexer.NewService(pools)
	go svc.Hub().Run()

	addr := ":8092"
	if v, ok := cfg.Stages["indexer"]; ok && v.Addr != "" {
		addr = v.Addr
	}

	server := httpx.NewServer("indexer", addr, &cfg.API, logger)
	indexer.RegisterRoutes(server.Router, svc)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received signal, shutting down")
		cancel()
	}()

	logger.Info("indexer service starting", "addr", addr, "chains", len(pools))
	if err := server.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
