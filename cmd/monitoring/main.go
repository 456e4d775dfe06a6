package main

import (
	"context"
	"flag"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/bugbot-labs/bugbot/internal/config"
	"github.com/bugbot-labs/bugbot/internal/httpx"
	"github.com/bugbot-labs/bugbot/internal/rpcpool"
	"github.com/bugbot-labs/bugbot/internal/stages/monitoring"
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

	stageCfg := cfg.Stages["monitoring"]
	var largeValueWei *big.Int
	if stageCfg.LargeValueWei != "" {
		if v, ok := new(big.Int).SetString(stageCfg.LargeValueWei, 10); ok {
			largeValueWei = v
		} else {
			logger.Warn("invalid large_value_wei threshold, ignoring", "value", stageCfg.LargeValueWei)
		}
	}

	svc := &monitoring.Service{
		Pool: func(chain string) *rpcpool.Handle {
			pool, ok := pools[chain]
			if !ok {
				return nil
			}
			return pool.Client()
		},
		Thresholds: monitoring.Thresholds{
			LargeValueWei:    largeValueWei,
			BlockDriftBlocks: stageCfg.BlockDriftBlocks,
			PollInterval:     stageCfg.PollInterval.Duration,
		},
		Logger: logger.With("component", "monitoring"),
	}

	addr := stageCfg.Addr
	if addr == "" {
		addr = ":8084"
	}

	server := httpx.NewServer("monitoring", addr, &cfg.API, logger)
	monitoring.RegisterRoutes(server.Router, svc)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received signal, shutting down")
		cancel()
	}()

	logger.Info("monitoring stage worker starting", "addr", addr, "chains", len(pools))
	if err := server.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
