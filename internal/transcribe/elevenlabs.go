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

// ElevenLabsEndpoint is the Speech-to-Text API URL.
const ElevenLabsEndpoint = "https://api.elevenlabs.io/v1/speech-to-text"

// ElevenLabsClient calls the ElevenLabs Speech-to-Text API.
type ElevenLabsClient struct {
	apiKey   string
	model    string // "scribe_v1" or "scribe_v2"
	keyterms string // comma-separated boost terms
	endpoint string
	client   *http.Client
}

type elevenlabsResponse struct {
	LanguageCode string           `json:"language_code"`
	Text         string           `json:"text"`
	Words        []elevenlabsWord `json:"words"`
}

// elevenlabsWord is a word or spacing entry.
type elevenlabsWord struct {
	Text        string  `json:"text"`
	Type        string  `json:"type"` // "word", "spacing" or "audio_event"
	StartTimeMs float64 `json:"start_time_ms"`
	EndTimeMs   float64 `json:"end_time_ms"`
}

// NewElevenLabsClient creates an ElevenLabs client. endpoint may be empty.
func NewElevenLabsClient(apiKey, model, keyterms, endpoint string, client *http.Client) *ElevenLabsClient {
	if endpoint == "" {
		endpoint = ElevenLabsEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &ElevenLabsClient{
		apiKey:   apiKey,
		model:    model,
		keyterms: keyterms,
		endpoint: endpoint,
		client:   client,
	}
}

func (el *ElevenLabsClient) Invoke(ctx context.Context, req *capability.Request) (*provider.Reply, error) {
	body, ct, err := multipartBody("file", Filename(req), req.Audio,
		[2]string{"model_id", el.model},
		[2]string{"language_code", language(req)},
		[2]string{"timestamps_granularity", "word"},
		[2]string{"keyterms", el.buildKeyterms()},
	)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("xi-api-key", el.apiKey)
	data, err := postForm(ctx, el.client, "elevenlabs", el.endpoint, body, ct, header)
	if err != nil {
		return nil, err
	}

	var result elevenlabsResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		text = textFromWords(result.Words)
	}
	return &provider.Reply{
		Text:     text,
		Model:    el.model,
		Language: result.LanguageCode,
		Duration: durationFromWords(result.Words),
		RawSize:  len(data),
	}, nil
}

// textFromWords rebuilds the transcript from word and spacing entries,
// dropping audio events like "(laughter)".
func textFromWords(words []elevenlabsWord) string {
	var b strings.Builder
	for _, w := range words {
		if w.Type == "word" || w.Type == "spacing" {
			b.WriteString(w.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

func durationFromWords(words []elevenlabsWord) float64 {
	var end float64
	for _, w := range words {
		if w.Type != "word" {
			continue
		}
		if e := w.EndTimeMs / 1000.0; e > end {
			end = e
		}
	}
	return end
}

// buildKeyterms turns the comma-separated config string into the JSON array
// of {"text": "term"} objects the API expects.
func (el *ElevenLabsClient) buildKeyterms() string {
	var terms []string
	for _, t := range strings.Split(el.keyterms, ",") {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, t)
		}
	}
	if len(terms) == 0 {
		return ""
	}

	type keyterm struct {
		Text string `json:"text"`
	}
	arr := make([]keyterm, len(terms))
	for i, t := range terms {
		arr[i] = keyterm{Text: t}
	}
	b, _ := json.Marshal(arr)
	return string(b)
}
