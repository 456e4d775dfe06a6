package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bugbot-labs/bugbot/internal/cost"
	"github.com/bugbot-labs/bugbot/internal/errs"
)

// OllamaBackend talks to a local Ollama-compatible server (§3's "local
// deep reasoning / code analysis / fast triage" backends are the same
// transport, just a different model name). health()'s "ollama:
// connected|disconnected" field names this backend directly.
type OllamaBackend struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaBackend builds a backend bound to one model served by the
// local Ollama endpoint.
func NewOllamaBackend(baseURL, model string, timeout time.Duration) *OllamaBackend {
	return &OllamaBackend{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (b *OllamaBackend) Generate(ctx context.Context, task Task) (Response, error) {
	reqBody := ollamaGenerateRequest{
		Model:  b.model,
		Prompt: task.Prompt,
		System: task.SystemPrompt,
		Stream: false,
	}
	if task.Temperature > 0 {
		reqBody.Options = map[string]interface{}{"temperature": task.Temperature}
	}

	var out ollamaGenerateResponse
	if err := b.post(ctx, "/api/generate", reqBody, &out); err != nil {
		return Response{}, err
	}

	usage := cost.TokenUsage{Input: out.PromptEvalCount, Output: out.EvalCount}
	if usage.Input == 0 && usage.Output == 0 {
		usage = cost.ExtractTokenUsage(out.Response, task.Prompt)
	}

	return Response{
		Text:       out.Response,
		ModelUsed:  b.model,
		TokensUsed: usage.Input + usage.Output,
	}, nil
}

func (b *OllamaBackend) post(ctx context.Context, path string, reqBody, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal ollama request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errs.Wrap(errs.Internal, "build ollama request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.Timeout, "ollama transport failure", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return errs.Wrap(errs.Timeout, fmt.Sprintf("ollama returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return errs.Wrap(errs.InvalidRequest, fmt.Sprintf("ollama rejected request: %d", resp.StatusCode), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Wrap(errs.Internal, "decode ollama response", err)
	}
	return nil
}

// Ping checks reachability for the health() contract's "ollama:
// connected|disconnected" field.
func (b *OllamaBackend) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}
