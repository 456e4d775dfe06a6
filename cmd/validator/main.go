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
	"github.com/bugbot-labs/bugbot/internal/rpcpool"
	"github.com/bugbot-labs/bugbot/internal/store"
	"github.com/bugbot-labs/bugbot/internal/store/redisstore"
	"github.com/bugbot-labs/bugbot/internal/validator"
)

func openStore(cfg config.Store) (store.Store, error) {
	if cfg.Driver == "redis" {
		return redisstore.Open(cfg.RedisAddr, cfg.RedisDB)
	}
	return store.Open(cfg.SqlitePath)
}

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

	st, err := openStore(cfg.Store)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	sandbox, err := validator.NewDockerSandbox(cfg.Validator.SandboxImage, cfg.Validator.SandboxMemoryMB, cfg.Validator.SandboxCPUQuota)
	if err != nil {
		logger.Error("failed to initialize sandbox driver", "error", err)
		os.Exit(1)
	}

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

	svc := validator.NewService(st, sandbox, pools, cfg.Validator.DefaultTimeout.Duration, cfg.Validator.MaxTimeout.Duration, cfg.Validator.MaxConcurrentValidations, logger.With("component", "validator"))
	svc.Start(ctx)

	addr := ":8088"
	if v, ok := cfg.Stages["validator"]; ok && v.Addr != "" {
		addr = v.Addr
	}

	server := httpx.NewServer("validator", addr, &cfg.API, logger)
	validator.RegisterRoutes(server.Router, svc, cfg.General.AdminToken)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received signal, shutting down")
		cancel()
	}()

	logger.Info("validator service starting", "addr", addr, "max_concurrent", cfg.Validator.MaxConcurrentValidations, "chains", len(pools))
	if err := server.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
