// Package detect implements the AI-content detection capability. Every
// adapter reports the AI-generated probability in [0,1].
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/snarg/ai-relay/internal/capability"
	"github.com/snarg/ai-relay/internal/provider"
)

// GPTZeroEndpoint is the text prediction URL.
const GPTZeroEndpoint = "https://api.gptzero.me/v2/predict/text"

// GPTZeroClient calls the GPTZero prediction API.
type GPTZeroClient struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

type gptzeroResponse struct {
	Documents []struct {
		CompletelyGeneratedProb *float64           `json:"completely_generated_prob"`
		ClassProbabilities      map[string]float64 `json:"class_probabilities"`
		PredictedClass          string             `json:"predicted_class"`
		ResultMessage           string             `json:"result_message"`
	} `json:"documents"`
}

// NewGPTZeroClient creates a client. endpoint may be empty.
func NewGPTZeroClient(apiKey, endpoint string, client *http.Client) *GPTZeroClient {
	if endpoint == "" {
		endpoint = GPTZeroEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &GPTZeroClient{apiKey: apiKey, endpoint: endpoint, client: client}
}

func (g *GPTZeroClient) Invoke(ctx context.Context, req *capability.Request) (*provider.Reply, error) {
	header := http.Header{}
	header.Set("x-api-key", g.apiKey)
	data, err := postJSON(ctx, g.client, "gptzero", g.endpoint, map[string]any{"document": req.Text}, header)
	if err != nil {
		return nil, err
	}

	var resp gptzeroResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	reply := &provider.Reply{Model: "gptzero", RawSize: len(data)}
	if len(resp.Documents) == 0 {
		return reply, nil
	}
	doc := resp.Documents[0]
	if p, ok := doc.ClassProbabilities["ai"]; ok {
		reply.Probability = provider.Probability(p)
	} else if doc.CompletelyGeneratedProb != nil {
		reply.Probability = provider.Probability(*doc.CompletelyGeneratedProb)
	}
	reply.Assessment = doc.ResultMessage
	return reply, nil
}

// postJSON sends body as JSON and returns the response body. Non-2xx
// responses become *provider.StatusError.
func postJSON(ctx context.Context, client *http.Client, name, url string, body any, header http.Header) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", name, err)
	}
	defer resp.Body.Close()

	if err := provider.CheckResponse(name, resp); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}
