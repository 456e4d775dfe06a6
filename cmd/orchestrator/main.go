package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/bugbot-labs/bugbot/internal/config"
	"github.com/bugbot-labs/bugbot/internal/httpx"
	"github.com/bugbot-labs/bugbot/internal/orchestrator"
	"github.com/bugbot-labs/bugbot/internal/store"
	"github.com/bugbot-labs/bugbot/internal/store/redisstore"
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

	stageClients := map[string]*orchestrator.StageClient{}
	for name, spec := range cfg.Stages {
		stageClients[name] = orchestrator.NewStageClient(orchestrator.StageURL(spec.Addr), spec.Timeout.Duration)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := orchestrator.StartWorker(cfg.Orch, st, stageClients, logger.With("component", "temporal-worker")); err != nil {
			logger.Error("temporal worker exited", "error", err)
			cancel()
		}
	}()

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Orch.TemporalHostPort,
		Namespace: cfg.Orch.TemporalNamespace,
	})
	if err != nil {
		logger.Error("failed to dial temporal", "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()

	timeouts := orchestrator.ActivityTimeouts{
		Recon:      cfg.Stages["recon"].Timeout.Duration,
		Static:     cfg.Stages["static"].Timeout.Duration,
		Fuzzing:    cfg.Stages["fuzzing"].Timeout.Duration,
		Monitoring: cfg.Stages["monitoring"].Timeout.Duration,
		Triage:     cfg.Stages["triage"].Timeout.Duration,
		Reporting:  cfg.Stages["reporting"].Timeout.Duration,
	}

	scanDefaults := store.ScanConfig{
		EnableFuzzing:          cfg.ScanConfig.EnableFuzzing,
		MonitorDurationMinutes: cfg.ScanConfig.MonitorDurationMinutes,
		SandboxType:            cfg.ScanConfig.SandboxType,
		AllowLive:              cfg.ScanConfig.AllowLive,
		ReportFormats:          cfg.ScanConfig.ReportFormats,
		NotifyChannels:         cfg.ScanConfig.NotifyChannels,
	}
	svc := orchestrator.NewService(temporalClient, st, cfg.Orch, timeouts, scanDefaults)
	stageHealth := orchestrator.NewStageHealthTracker(stageClients)
	go stageHealth.Run(ctx, 15*time.Second)

	addr := ":8080"
	if v, ok := cfg.Stages["orchestrator"]; ok && v.Addr != "" {
		addr = v.Addr
	}

	server := httpx.NewServer("orchestrator", addr, &cfg.API, logger)
	orchestrator.RegisterRoutes(server.Router, svc, stageHealth)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received signal, shutting down")
		cancel()
	}()

	logger.Info("orchestrator service starting", "addr", addr, "stages", len(stageClients))
	if err := server.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
