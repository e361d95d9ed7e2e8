package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/snarg/ai-relay/internal/capability"
	"github.com/snarg/ai-relay/internal/provider"
)

// DeepInfraBaseURL is the native inference API root.
const DeepInfraBaseURL = "https://api.deepinfra.com/v1/inference/"

// DeepInfraClient calls DeepInfra's native inference API for Whisper models.
type DeepInfraClient struct {
	apiKey  string
	model   string // e.g. "openai/whisper-large-v3-turbo"
	baseURL string
	client  *http.Client
}

// deepInfraResponse is the JSON response from the DeepInfra inference API.
type deepInfraResponse struct {
	Text     string             `json:"text"`
	Language string             `json:"language"`
	Duration float64            `json:"duration"`
	Segments []deepInfraSegment `json:"segments"`
}

type deepInfraSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewDeepInfraClient creates a DeepInfra client. baseURL may be empty.
func NewDeepInfraClient(apiKey, model, baseURL string, client *http.Client) *DeepInfraClient {
	if baseURL == "" {
		baseURL = DeepInfraBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &DeepInfraClient{apiKey: apiKey, model: model, baseURL: baseURL, client: client}
}

// Invoke posts the audio under the "audio" field (DeepInfra's convention,
// not "file") to {baseURL}{model}.
func (di *DeepInfraClient) Invoke(ctx context.Context, req *capability.Request) (*provider.Reply, error) {
	body, ct, err := multipartBody("audio", Filename(req), req.Audio,
		[2]string{"language", req.Options.Language},
	)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+di.apiKey)
	data, err := postForm(ctx, di.client, "deepinfra", di.baseURL+di.model, body, ct, header)
	if err != nil {
		return nil, err
	}

	var result deepInfraResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	duration := result.Duration
	if text == "" && len(result.Segments) > 0 {
		text = textFromSegments(result.Segments)
	}
	if duration == 0 && len(result.Segments) > 0 {
		duration = result.Segments[len(result.Segments)-1].End
	}

	return &provider.Reply{
		Text:     text,
		Model:    di.model,
		Language: result.Language,
		Duration: duration,
		RawSize:  len(data),
	}, nil
}

// textFromSegments joins segment text when the top-level text is missing.
func textFromSegments(segments []deepInfraSegment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
