package llm

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/bugbot-labs/bugbot/internal/errs"
)

// AnthropicBackend is the single hosted "cloud final reasoning" backend
// (§3): a single provider, no further fallback once its own retries are
// exhausted.
type AnthropicBackend struct {
	client anthropic.Client
	model  string
}

func NewAnthropicBackend(apiKey, model string) *AnthropicBackend {
	return &AnthropicBackend{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (b *AnthropicBackend) Generate(ctx context.Context, task Task) (Response, error) {
	maxTokens := int64(task.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(b.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(task.Prompt)),
		},
	}
	if task.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: task.SystemPrompt}}
	}

	message, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, errs.Wrap(errs.Timeout, "anthropic request failed", err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return Response{
		Text:       text,
		ModelUsed:  b.model,
		ModelType:  ModelCloudFinal,
		TokensUsed: int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}, nil
}

// Configured reports whether an API key was supplied, for the health()
// contract's "claude: configured|missing" field.
func (b *AnthropicBackend) Configured() bool {
	return b != nil
}
