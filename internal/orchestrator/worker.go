package orchestrator

import (
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/bugbot-labs/bugbot/internal/config"
	"github.com/bugbot-labs/bugbot/internal/store"
)

// StartWorker dials the Temporal frontend and runs a worker that hosts
// ScanWorkflow and its Activities on cfg's task queue. It blocks until
// the process receives an interrupt (SIGINT/SIGTERM), mirroring the
// worker lifecycle every bugbot Temporal-backed daemon shares.
func StartWorker(cfg config.Orchestrator, st store.Store, stageClients map[string]*StageClient, logger *slog.Logger) error {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalHostPort,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		return fmt.Errorf("connecting to temporal: %w", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.TaskQueue, worker.Options{})

	a := &Activities{Store: st, StageClients: stageClients, Logger: logger}

	w.RegisterWorkflow(ScanWorkflow)
	w.RegisterActivity(a.RunStageActivity)
	w.RegisterActivity(a.RecordProgressActivity)
	w.RegisterActivity(a.RecordStageResultActivity)
	w.RegisterActivity(a.FinalizeScanActivity)
	w.RegisterActivity(a.IsCancelledActivity)

	logger.Info("temporal worker starting", "task_queue", cfg.TaskQueue, "host_port", cfg.TemporalHostPort)
	return w.Run(worker.InterruptCh())
}
