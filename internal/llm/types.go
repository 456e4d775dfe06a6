// Package llm implements the C2 router: a rule-based dispatcher that
// maps a task type to one of several local model backends or a single
// hosted model, with retry and fallback (§4.C2).
package llm

import "context"

// ModelType is one of the five backend kinds a task can be routed to.
type ModelType string

const (
	ModelDeepReasoning ModelType = "local/deep_reasoning"
	ModelCodeAnalysis  ModelType = "local/code_analysis"
	ModelFastTriage    ModelType = "local/fast_triage"
	ModelEmbeddings    ModelType = "local/embeddings"
	ModelCloudFinal    ModelType = "cloud/final_reasoning"
)

// IsLocal reports whether m names one of the local/* backends.
func (m ModelType) IsLocal() bool {
	return m != ModelCloudFinal
}

// Task is a single unit of LLM work (§3).
type Task struct {
	TaskType     string  `json:"task_type" validate:"required"`
	Prompt       string  `json:"prompt" validate:"required"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

// Response is the result of a generate call (§3).
type Response struct {
	Text       string    `json:"text"`
	ModelUsed  string    `json:"model_used"`
	ModelType  ModelType `json:"model_type"`
	TokensUsed int       `json:"tokens_used,omitempty"`
}

// HealthStatus mirrors the health() contract (§4.C2):
// {ollama: connected|disconnected, claude: configured|missing, status}.
type HealthStatus struct {
	Ollama string `json:"ollama"`
	Claude string `json:"claude"`
	Status string `json:"status"`
}

// Backend is one LLM backend: a local model server or a hosted cloud API.
type Backend interface {
	// Generate performs one completion request. Implementations should
	// classify retryable vs. non-retryable failures via errs.Kind so the
	// router's retry/fallback logic (§3) can tell them apart.
	Generate(ctx context.Context, task Task) (Response, error)
}

// EmbeddingBackend additionally supports embed(texts) -> vectors (§3).
// Only the embeddings backend needs to implement this.
type EmbeddingBackend interface {
	Backend
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}
