package llm

import (
	"context"
	"time"

	"github.com/bugbot-labs/bugbot/internal/errs"
)

// EmbeddingOllamaBackend wraps OllamaBackend's /api/embed endpoint.
// Per §3, embeddings is always a local backend with no fallback target.
type EmbeddingOllamaBackend struct {
	*OllamaBackend
}

func NewEmbeddingBackend(baseURL, model string, timeout time.Duration) *EmbeddingOllamaBackend {
	return &EmbeddingOllamaBackend{OllamaBackend: NewOllamaBackend(baseURL, model, timeout)}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed returns one fixed-dimension vector per input text (§3).
func (b *EmbeddingOllamaBackend) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, errs.New(errs.InvalidRequest, "embed requires at least one text")
	}

	var out ollamaEmbedResponse
	if err := b.post(ctx, "/api/embed", ollamaEmbedRequest{Model: b.model, Input: texts}, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != len(texts) {
		return nil, errs.New(errs.BackendUnavailable, "embedding backend returned a mismatched vector count")
	}
	dim := len(out.Embeddings[0])
	for _, vec := range out.Embeddings {
		if len(vec) != dim {
			return nil, errs.New(errs.BackendUnavailable, "embedding backend returned vectors of differing dimension")
		}
	}
	return out.Embeddings, nil
}
