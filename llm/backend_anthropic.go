package llm

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// AnthropicBackend backs TierCloudBest with Anthropic's Messages API. It is
// the only backend allowed to leave the local network.
type AnthropicBackend struct {
	client anthropic.Client
	model  anthropic.Model
	logger *zap.Logger
	apiKey string
}

// NewAnthropicBackend builds a cloud backend. apiKey comes from
// ANTHROPIC_API_KEY per spec §6; an empty key makes Available() report
// false so the router falls back to a local tier instead of calling out.
func NewAnthropicBackend(apiKey, model string, logger *zap.Logger) *AnthropicBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicBackend{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
		logger: logger.With(zap.String("backend", "anthropic")),
		apiKey: apiKey,
	}
}

func (b *AnthropicBackend) Name() string { return "anthropic" }

// Available reports only credential presence; spec §6 health probing
// validates format, not liveness.
func (b *AnthropicBackend) Available(ctx context.Context) bool { return b.apiKey != "" }

func toAnthropicMessages(msgs []Message) (system string, rest []anthropic.MessageParam) {
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case RoleUser:
			rest = append(rest, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			rest = append(rest, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return system, rest
}

func (b *AnthropicBackend) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	system, msgs := toAnthropicMessages(req.Messages)
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     b.model,
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func (b *AnthropicBackend) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	system, msgs := toAnthropicMessages(req.Messages)
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     b.model,
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		stream := b.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if delta.Delta.Text != "" {
					out <- StreamChunk{Text: delta.Delta.Text}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- StreamChunk{Err: err}
			return
		}
		out <- StreamChunk{Done: true}
	}()
	return out, nil
}
