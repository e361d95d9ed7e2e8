package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/snarg/ai-relay/internal/capability"
	"github.com/snarg/ai-relay/internal/provider"
)

// WhisperOptions are server-level decoding options for a self-hosted
// Whisper endpoint. Zero values are omitted from the request so servers
// that reject unknown fields keep working.
type WhisperOptions struct {
	Temperature float64
	Prompt      string // initial_prompt / domain vocabulary
	Hotwords    string
	BeamSize    int
	VadFilter   bool
}

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions endpoint
// that needs no credentials (speaches, faster-whisper-server, whisper.cpp).
type WhisperClient struct {
	url    string
	model  string
	opts   WhisperOptions
	client *http.Client
}

type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

// NewWhisperClient creates a client for the given transcription URL.
func NewWhisperClient(url, model string, opts WhisperOptions, client *http.Client) *WhisperClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &WhisperClient{url: url, model: model, opts: opts, client: client}
}

func (wc *WhisperClient) Invoke(ctx context.Context, req *capability.Request) (*provider.Reply, error) {
	fields := [][2]string{
		{"model", wc.model},
		{"language", language(req)},
		{"temperature", strconv.FormatFloat(wc.opts.Temperature, 'f', 2, 64)},
		{"response_format", "verbose_json"},
		{"prompt", wc.opts.Prompt},
		{"hotwords", wc.opts.Hotwords},
	}
	if wc.opts.BeamSize > 0 {
		fields = append(fields, [2]string{"beam_size", strconv.Itoa(wc.opts.BeamSize)})
	}
	if wc.opts.VadFilter {
		fields = append(fields, [2]string{"vad_filter", "true"})
	}

	body, ct, err := multipartBody("file", Filename(req), req.Audio, fields...)
	if err != nil {
		return nil, err
	}
	data, err := postForm(ctx, wc.client, "whisper", wc.url, body, ct, nil)
	if err != nil {
		return nil, err
	}

	var result whisperResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &provider.Reply{
		Text:     result.Text,
		Model:    wc.model,
		Language: result.Language,
		Duration: result.Duration,
		RawSize:  len(data),
	}, nil
}
