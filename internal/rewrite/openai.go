package rewrite

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/snarg/ai-relay/internal/capability"
	"github.com/snarg/ai-relay/internal/provider"
)

// DeepSeekBaseURL is DeepSeek's OpenAI-compatible endpoint.
const DeepSeekBaseURL = "https://api.deepseek.com/v1"

// ChatConfig configures an OpenAI-compatible chat completion adapter.
type ChatConfig struct {
	Name       string // provider id used in errors
	APIKey     string
	BaseURL    string // empty for api.openai.com
	Model      string
	HTTPClient *http.Client
}

// ChatAdapter rewrites text through any OpenAI-compatible chat completions
// API (OpenAI, DeepSeek).
type ChatAdapter struct {
	name   string
	model  string
	client *openai.Client
}

// NewChatAdapter creates an adapter. The API key is read only here; an empty
// key is left for the registry's ready check to catch.
func NewChatAdapter(cfg ChatConfig) *ChatAdapter {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &ChatAdapter{
		name:   cfg.Name,
		model:  model,
		client: openai.NewClientWithConfig(clientConfig),
	}
}

func (a *ChatAdapter) Invoke(ctx context.Context, req *capability.Request) (*provider.Reply, error) {
	system, user := Prompt(req)
	model := a.model
	if req.Options.ModelHint != "" {
		model = req.Options.ModelHint
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s chat completion: %w", a.name, err)
	}
	if len(resp.Choices) == 0 {
		return &provider.Reply{Model: resp.Model}, nil
	}

	text := resp.Choices[0].Message.Content
	return &provider.Reply{
		Text:    text,
		Model:   resp.Model,
		RawSize: len(text),
	}, nil
}
