package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/bugbot-labs/bugbot/internal/config"
	"github.com/bugbot-labs/bugbot/internal/guardrail"
	"github.com/bugbot-labs/bugbot/internal/httpx"
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

	var adapter guardrail.PauseAdapter = guardrail.RecordingAdapter{}
	if cfg.Guardrail.DefaultAdapter == "webhook" {
		adapter = &guardrail.WebhookAdapter{URL: cfg.Guardrail.WebhookURL}
	}

	reg := guardrail.NewRegistry(adapter, newPauseRequestID)

	stageAddr := ":8087"
	if v, ok := cfg.Stages["guardrail"]; ok && v.Addr != "" {
		stageAddr = v.Addr
	}

	server := httpx.NewServer("guardrail", stageAddr, &cfg.API, logger)
	guardrail.RegisterRoutes(server.Router, reg, cfg.General.AdminToken)

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

	// The sweep reuses the monitoring stage's large-value-transfer
	// threshold rather than defining a second copy of the same knob.
	var largeValueWei *big.Int
	if v, ok := new(big.Int).SetString(cfg.Stages["monitoring"].LargeValueWei, 10); ok {
		largeValueWei = v
	}
	sweeper := &guardrail.Sweeper{
		Registry: reg,
		Pool: func(chain string) *rpcpool.Handle {
			pool, ok := pools[chain]
			if !ok {
				return nil
			}
			return pool.Client()
		},
		Thresholds: guardrail.SweepThresholds{LargeValueWei: largeValueWei},
		Logger:     logger.With("component", "guardrail-sweeper"),
	}
	go sweeper.Run(ctx, cfg.Guardrail.SweepInterval.Duration)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received signal, shutting down")
		cancel()
	}()

	logger.Info("guardrail service starting", "addr", stageAddr, "adapter", cfg.Guardrail.DefaultAdapter, "chains", len(pools))
	if err := server.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func newPauseRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return "pr_" + hex.EncodeToString(buf)
}
