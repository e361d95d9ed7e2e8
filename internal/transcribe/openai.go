package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/snarg/ai-relay/internal/capability"
	"github.com/snarg/ai-relay/internal/provider"
)

// OpenAIClient transcribes through the OpenAI audio API using go-openai.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a client. baseURL may be empty for api.openai.com.
func NewOpenAIClient(apiKey, model, baseURL string, httpClient *http.Client) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}
}

func (oc *OpenAIClient) Invoke(ctx context.Context, req *capability.Request) (*provider.Reply, error) {
	resp, err := oc.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    oc.model,
		FilePath: Filename(req),
		Reader:   bytes.NewReader(req.Audio),
		Language: req.Options.Language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("openai transcription: %w", err)
	}
	return &provider.Reply{
		Text:     resp.Text,
		Model:    oc.model,
		Language: resp.Language,
		Duration: resp.Duration,
		RawSize:  len(resp.Text),
	}, nil
}
