package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/snarg/ai-relay/internal/capability"
	"github.com/snarg/ai-relay/internal/orchestrator"
	"github.com/snarg/ai-relay/internal/provider"
)

const judgePrompt = `You estimate whether text was written by an AI model. ` +
	`Reply with a JSON object {"probability": number between 0 and 1, "assessment": short sentence}.`

// JudgeClient asks a chat model to score text, for deployments with no
// dedicated detector configured.
type JudgeClient struct {
	client *openai.Client
	model  string
}

type judgeVerdict struct {
	Probability *float64 `json:"probability"`
	Assessment  string   `json:"assessment"`
}

// NewJudgeClient creates a client. baseURL may be empty for api.openai.com.
func NewJudgeClient(apiKey, model, baseURL string, httpClient *http.Client) *JudgeClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &JudgeClient{client: openai.NewClientWithConfig(cfg), model: model}
}

func (j *JudgeClient) Invoke(ctx context.Context, req *capability.Request) (*provider.Reply, error) {
	resp, err := j.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: j.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: judgePrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.Text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai judge: %w", err)
	}
	reply := &provider.Reply{Model: resp.Model}
	if len(resp.Choices) == 0 {
		return reply, nil
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	reply.RawSize = len(content)

	var v judgeVerdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return nil, &orchestrator.MalformedError{Provider: "openai", Reason: "judge reply is not JSON"}
	}
	if v.Probability != nil {
		p := *v.Probability
		// Some models answer in percent despite the instructions.
		if p > 1 && p <= 100 {
			p /= 100
		}
		reply.Probability = provider.Probability(p)
	}
	reply.Assessment = v.Assessment
	return reply, nil
}
