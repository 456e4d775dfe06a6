package orchestrator

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bugbot-labs/bugbot/internal/errs"
	"github.com/bugbot-labs/bugbot/internal/httpx"
	"github.com/bugbot-labs/bugbot/internal/store"
)

// RegisterRoutes mounts the C5 HTTP surface (§4.C5 "Public operations").
func RegisterRoutes(router chi.Router, svc *Service, stageHealth *StageHealthTracker) {
	router.Post("/scan", handleCreateScan(svc))
	router.Get("/scan/{id}", handleGetScan(svc))
	router.Get("/scans", handleListScans(svc))
	router.Post("/scan/{id}/cancel", handleCancelScan(svc))
	router.Get("/health", handleOrchestratorHealth(stageHealth))
}

func handleCreateScan(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScanRequest
		if err := httpx.DecodeAndValidate(r, &req); err != nil {
			httpx.WriteError(w, err)
			return
		}
		accepted, err := svc.CreateScan(r.Context(), req)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusAccepted, accepted)
	}
}

func handleGetScan(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		scan, err := svc.GetScan(r.Context(), id)
		if err != nil {
			if err == store.ErrNotFound {
				httpx.WriteError(w, errs.New(errs.NotFound, "scan not found"))
				return
			}
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, scan)
	}
}

func handleListScans(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		status := store.ScanStatus(r.URL.Query().Get("status"))

		scans, err := svc.ListScans(r.Context(), limit, status)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"scans": scans})
	}
}

func handleCancelScan(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := svc.CancelScan(r.Context(), id); err != nil {
			httpx.WriteError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
	}
}

// StageHealthTracker keeps the most recent health probe result for each
// stage worker, refreshed by a background loop, so GET /health (§4.C5:
// "rolled-up health of each stage worker ... within the last 30 s") never
// blocks on a live probe per request.
type StageHealthTracker struct {
	clients map[string]*StageClient

	mu       sync.RWMutex
	lastSeen map[string]time.Time
	healthy  map[string]bool
}

// NewStageHealthTracker builds a tracker over the same StageClients the
// orchestrator's activities use.
func NewStageHealthTracker(clients map[string]*StageClient) *StageHealthTracker {
	return &StageHealthTracker{
		clients:  clients,
		lastSeen: make(map[string]time.Time),
		healthy:  make(map[string]bool),
	}
}

// Run probes every stage worker on a fixed interval until ctx is
// cancelled.
func (t *StageHealthTracker) Run(ctx context.Context, interval time.Duration) {
	t.probeAll(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.probeAll(ctx)
		}
	}
}

func (t *StageHealthTracker) probeAll(ctx context.Context) {
	for stage, client := range t.clients {
		ok := client.Health(ctx)
		t.mu.Lock()
		t.healthy[stage] = ok
		t.lastSeen[stage] = time.Now()
		t.mu.Unlock()
	}
}

// Snapshot returns the per-stage health rollup. A stage that has not been
// probed yet, or whose last probe is stale (older than 30s), is reported
// "unknown" (§4.C5).
func (t *StageHealthTracker) Snapshot() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.clients))
	for stage := range t.clients {
		seen, ok := t.lastSeen[stage]
		if !ok || time.Since(seen) > 30*time.Second {
			out[stage] = "unknown"
			continue
		}
		if t.healthy[stage] {
			out[stage] = "healthy"
		} else {
			out[stage] = "unhealthy"
		}
	}
	return out
}

func handleOrchestratorHealth(tracker *StageHealthTracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		stages := map[string]string{}
		if tracker != nil {
			stages = tracker.Snapshot()
			for _, s := range stages {
				if s != "healthy" {
					status = "degraded"
				}
			}
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"status": status,
			"stages": stages,
		})
	}
}
