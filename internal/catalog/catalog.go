// Package catalog registers the built-in providers from configuration.
package catalog

import (
	"fmt"
	"net/http"

	"github.com/snarg/ai-relay/internal/capability"
	"github.com/snarg/ai-relay/internal/config"
	"github.com/snarg/ai-relay/internal/detect"
	"github.com/snarg/ai-relay/internal/provider"
	"github.com/snarg/ai-relay/internal/rewrite"
	"github.com/snarg/ai-relay/internal/transcribe"
)

// Build registers every built-in provider and applies the configured chains.
// Providers without credentials are registered but report not ready, so
// they show up in health output and are skipped by the orchestrator.
// client is shared by all adapters; per-call deadlines come from the context.
func Build(cfg *config.Config, client *http.Client) (*provider.Registry, error) {
	if client == nil {
		client = &http.Client{}
	}
	p := cfg.Providers
	reg := provider.NewRegistry()

	entries := []struct {
		desc     provider.Descriptor
		adapters map[capability.Capability]provider.Adapter
	}{
		{
			desc: provider.Descriptor{
				ID:           "openai",
				Capabilities: []capability.Capability{capability.Rewrite, capability.Transcribe, capability.Detect},
				Priority:     10,
				Ready:        present(p.OpenAIAPIKey),
			},
			adapters: map[capability.Capability]provider.Adapter{
				capability.Rewrite: rewrite.NewChatAdapter(rewrite.ChatConfig{
					Name: "openai", APIKey: p.OpenAIAPIKey, BaseURL: p.OpenAIBaseURL,
					Model: p.OpenAIModel, HTTPClient: client,
				}),
				capability.Transcribe: transcribe.NewOpenAIClient(p.OpenAIAPIKey, p.OpenAITranscribeModel, p.OpenAIBaseURL, client),
				capability.Detect:     detect.NewJudgeClient(p.OpenAIAPIKey, p.OpenAIDetectModel, p.OpenAIBaseURL, client),
			},
		},
		{
			desc: provider.Descriptor{
				ID:           "anthropic",
				Capabilities: []capability.Capability{capability.Rewrite},
				Priority:     20,
				Ready:        present(p.AnthropicAPIKey),
			},
			adapters: map[capability.Capability]provider.Adapter{
				capability.Rewrite: rewrite.NewAnthropicAdapter(rewrite.AnthropicConfig{
					APIKey: p.AnthropicAPIKey, BaseURL: p.AnthropicBaseURL,
					Model: p.AnthropicModel, HTTPClient: client,
				}),
			},
		},
		{
			desc: provider.Descriptor{
				ID:           "deepseek",
				Capabilities: []capability.Capability{capability.Rewrite},
				Priority:     30,
				Ready:        present(p.DeepSeekAPIKey),
			},
			adapters: map[capability.Capability]provider.Adapter{
				capability.Rewrite: rewrite.NewChatAdapter(rewrite.ChatConfig{
					Name: "deepseek", APIKey: p.DeepSeekAPIKey, BaseURL: rewrite.DeepSeekBaseURL,
					Model: p.DeepSeekModel, HTTPClient: client,
				}),
			},
		},
		{
			desc: provider.Descriptor{
				ID:           "deepinfra",
				Capabilities: []capability.Capability{capability.Transcribe},
				Priority:     10,
				Ready:        present(p.DeepInfraAPIKey),
			},
			adapters: map[capability.Capability]provider.Adapter{
				capability.Transcribe: transcribe.NewDeepInfraClient(p.DeepInfraAPIKey, p.DeepInfraModel, "", client),
			},
		},
		{
			desc: provider.Descriptor{
				ID:           "elevenlabs",
				Capabilities: []capability.Capability{capability.Transcribe},
				Priority:     20,
				Ready:        present(p.ElevenLabsAPIKey),
			},
			adapters: map[capability.Capability]provider.Adapter{
				capability.Transcribe: transcribe.NewElevenLabsClient(p.ElevenLabsAPIKey, p.ElevenLabsModel, p.ElevenLabsKeyterms, "", client),
			},
		},
		{
			desc: provider.Descriptor{
				ID:           "whisper",
				Capabilities: []capability.Capability{capability.Transcribe},
				Priority:     30,
				Ready:        present(p.WhisperURL),
			},
			adapters: map[capability.Capability]provider.Adapter{
				capability.Transcribe: transcribe.NewWhisperClient(p.WhisperURL, p.WhisperModel, transcribe.WhisperOptions{
					Temperature: p.WhisperTemperature,
					Prompt:      p.WhisperPrompt,
					Hotwords:    p.WhisperHotwords,
					BeamSize:    p.WhisperBeamSize,
					VadFilter:   p.WhisperVadFilter,
				}, client),
			},
		},
		{
			desc: provider.Descriptor{
				ID:           "gptzero",
				Capabilities: []capability.Capability{capability.Detect},
				Priority:     10,
				Ready:        present(p.GPTZeroAPIKey),
			},
			adapters: map[capability.Capability]provider.Adapter{
				capability.Detect: detect.NewGPTZeroClient(p.GPTZeroAPIKey, "", client),
			},
		},
		{
			desc: provider.Descriptor{
				ID:           "sapling",
				Capabilities: []capability.Capability{capability.Detect},
				Priority:     20,
				Ready:        present(p.SaplingAPIKey),
			},
			adapters: map[capability.Capability]provider.Adapter{
				capability.Detect: detect.NewSaplingClient(p.SaplingAPIKey, "", client),
			},
		},
	}

	for _, e := range entries {
		if err := reg.Register(e.desc, e.adapters); err != nil {
			return nil, err
		}
	}

	chains := map[capability.Capability][]string{
		capability.Rewrite:    cfg.RewriteChain,
		capability.Transcribe: cfg.TranscribeChain,
		capability.Detect:     cfg.DetectChain,
	}
	for c, ids := range chains {
		if err := reg.SetChain(c, ids); err != nil {
			return nil, fmt.Errorf("configure chains: %w", err)
		}
	}
	return reg, nil
}

func present(credential string) func() bool {
	return func() bool { return credential != "" }
}
