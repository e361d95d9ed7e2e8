package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/snarg/ai-relay/internal/capability"
	"github.com/snarg/ai-relay/internal/provider"
)

// SaplingEndpoint is the AI detection URL.
const SaplingEndpoint = "https://api.sapling.ai/api/v1/aidetect"

// SaplingClient calls the Sapling AI detector. Sapling takes the key in the
// JSON body rather than a header.
type SaplingClient struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

type saplingResponse struct {
	Score          *float64 `json:"score"`
	SentenceScores []struct {
		Score    float64 `json:"score"`
		Sentence string  `json:"sentence"`
	} `json:"sentence_scores"`
}

// NewSaplingClient creates a client. endpoint may be empty.
func NewSaplingClient(apiKey, endpoint string, client *http.Client) *SaplingClient {
	if endpoint == "" {
		endpoint = SaplingEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &SaplingClient{apiKey: apiKey, endpoint: endpoint, client: client}
}

func (s *SaplingClient) Invoke(ctx context.Context, req *capability.Request) (*provider.Reply, error) {
	data, err := postJSON(ctx, s.client, "sapling", s.endpoint, map[string]any{
		"key":  s.apiKey,
		"text": req.Text,
	}, nil)
	if err != nil {
		return nil, err
	}

	var resp saplingResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	reply := &provider.Reply{Model: "sapling", RawSize: len(data)}
	switch {
	case resp.Score != nil:
		reply.Probability = provider.Probability(*resp.Score)
	case len(resp.SentenceScores) > 0:
		var sum float64
		for _, s := range resp.SentenceScores {
			sum += s.Score
		}
		reply.Probability = provider.Probability(sum / float64(len(resp.SentenceScores)))
	}
	return reply, nil
}
