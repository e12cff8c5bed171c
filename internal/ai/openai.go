package ai

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/v0xg/sitecrawl/internal/report"
)

// OpenAIProvider triages reports with OpenAI chat models.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates an OpenAI provider. The key comes from opts or
// SITECRAWL_OPENAI_KEY or OPENAI_API_KEY.
func NewOpenAIProvider(opts Options) (*OpenAIProvider, error) {
	key, err := apiKey(opts.APIKey, "SITECRAWL_OPENAI_KEY", "OPENAI_API_KEY")
	if err != nil {
		return nil, err
	}
	cfg := openai.DefaultConfig(key)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	model := opts.Model
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Triage implements Provider.
func (p *OpenAIProvider) Triage(ctx context.Context, r *report.Report) (*Triage, error) {
	return triage(ctx, "OpenAI", p.complete, r)
}

func (p *OpenAIProvider) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens: 2048,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
