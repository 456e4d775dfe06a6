package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/bugbot-labs/bugbot/internal/config"
	"github.com/bugbot-labs/bugbot/internal/errs"
	"github.com/bugbot-labs/bugbot/internal/metrics"
)

// Router is the C2 dispatcher: resolves task_type to a backend via the
// Registry, retries transient failures with backoff, and falls back from
// a local backend to cloud once per task (§3).
type Router struct {
	registry   *Registry
	backends   map[ModelType]Backend
	embeddings EmbeddingBackend
	cloud      Backend // nil if not configured

	maxRetries  int
	backoffBase time.Duration
	maxDelay    time.Duration

	logger *slog.Logger
}

// NewRouter wires a Registry and the concrete backend set built from
// cfg. Any backend left nil (e.g. no cloud API key configured) is simply
// absent from the map; Generate reports BackendUnavailable for tasks
// that need it.
func NewRouter(registry *Registry, cfg config.LLM, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		registry:    registry,
		backends:    make(map[ModelType]Backend),
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.RetryBackoffBase.Duration,
		maxDelay:    cfg.RetryMaxDelay.Duration,
		logger:      logger.With("component", "llm_router"),
	}
	if r.maxRetries <= 0 {
		r.maxRetries = 3
	}
	if r.backoffBase <= 0 {
		r.backoffBase = 500 * time.Millisecond
	}
	if r.maxDelay <= 0 {
		r.maxDelay = 30 * time.Second
	}

	timeout := cfg.RequestTimeout.Duration
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	if cfg.LocalURL != "" {
		r.backends[ModelDeepReasoning] = NewOllamaBackend(cfg.LocalURL, "deep-reasoning", timeout)
		r.backends[ModelCodeAnalysis] = NewOllamaBackend(cfg.LocalURL, "code-analysis", timeout)
		r.backends[ModelFastTriage] = NewOllamaBackend(cfg.LocalURL, "fast-triage", timeout)
		emb := NewEmbeddingBackend(cfg.LocalURL, "embeddings", timeout)
		r.backends[ModelEmbeddings] = emb
		r.embeddings = emb
	}
	if cfg.CloudAPIKey != "" {
		cloud := NewAnthropicBackend(cfg.CloudAPIKey, cfg.CloudModel)
		r.backends[ModelCloudFinal] = cloud
		r.cloud = cloud
	}
	return r
}

// Generate resolves task.TaskType to a backend, retries transient errors
// with backoff, and falls back to cloud once for a local backend other
// than embeddings (§3's retry/fallback algorithm).
func (r *Router) Generate(ctx context.Context, task Task) (Response, error) {
	backendID := ModelType(r.registry.Resolve(task.TaskType))

	resp, err := r.generateOn(ctx, backendID, task)
	if err == nil {
		return resp, nil
	}
	if !isRetryableErr(err) {
		return Response{}, err
	}
	if backendID == ModelEmbeddings || backendID == ModelCloudFinal || r.cloud == nil {
		return Response{}, errs.AllProvidersFailed
	}

	r.logger.Warn("local backend exhausted retries, falling back to cloud", "task_type", task.TaskType, "backend", backendID)
	resp, err = r.attempt(ctx, r.cloud, ModelCloudFinal, task)
	if err != nil {
		return Response{}, errs.AllProvidersFailed
	}
	return resp, nil
}

// generateOn runs the retry loop against a single resolved backend.
func (r *Router) generateOn(ctx context.Context, backendID ModelType, task Task) (Response, error) {
	backend, ok := r.backends[backendID]
	if !ok {
		return Response{}, errs.New(errs.BackendUnavailable, "no backend configured for "+string(backendID))
	}
	return r.attempt(ctx, backend, backendID, task)
}

// attempt retries a single backend up to maxRetries times with
// exponential backoff and jitter (§3: base 500ms, factor 2, +/-25%
// jitter), stopping immediately on a non-retryable error.
func (r *Router) attempt(ctx context.Context, backend Backend, backendID ModelType, task Task) (Response, error) {
	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt, r.backoffBase, r.maxDelay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Response{}, ctx.Err()
			}
		}

		resp, err := backend.Generate(ctx, task)
		if err == nil {
			resp.ModelType = backendID
			metrics.LLMRequestsTotal.WithLabelValues(string(backendID), "success").Inc()
			metrics.LLMTokensTotal.WithLabelValues(string(backendID), "total").Add(float64(resp.TokensUsed))
			return resp, nil
		}
		lastErr = err
		if !isRetryableErr(err) {
			metrics.LLMRequestsTotal.WithLabelValues(string(backendID), "rejected").Inc()
			return Response{}, err
		}
	}
	metrics.LLMRequestsTotal.WithLabelValues(string(backendID), "exhausted").Inc()
	return Response{}, lastErr
}

func isRetryableErr(err error) bool {
	switch errs.KindOf(err) {
	case errs.Timeout, errs.BackendUnavailable, errs.Internal:
		return true
	default:
		return false
	}
}

// Embed implements the embed(texts) -> vectors contract (§3). Always
// local, never falls back.
func (r *Router) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if r.embeddings == nil {
		return nil, errs.New(errs.BackendUnavailable, "no embeddings backend configured")
	}
	return r.embeddings.Embed(ctx, texts)
}

// Health implements health() (§3).
func (r *Router) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{Ollama: "disconnected", Claude: "missing", Status: "degraded"}

	if ollama, ok := r.backends[ModelFastTriage].(*OllamaBackend); ok {
		if ollama.Ping(ctx) {
			status.Ollama = "connected"
		}
	}
	if r.cloud != nil {
		status.Claude = "configured"
	}

	if status.Ollama == "connected" || status.Claude == "configured" {
		status.Status = "healthy"
	}
	return status
}

// Models returns a secret-free snapshot of the routing table (§3).
func (r *Router) Models() RoutingTable {
	return r.registry.Snapshot()
}
