package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"180s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken   string   `env:"AUTH_TOKEN"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string   `env:"LOG_FORMAT" envDefault:"json"` // json or console

	// Per-client limit on the one-shot endpoints; 0 disables it.
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"0"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"10"`

	// Optional orchestration audit log.
	DatabaseURL   string        `env:"DATABASE_URL"`
	AuditBatch    int           `env:"AUDIT_BATCH_SIZE" envDefault:"100"`
	AuditInterval time.Duration `env:"AUDIT_FLUSH_INTERVAL" envDefault:"2s"`

	// Optional MQTT feed of orchestration summaries.
	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"ai-relay"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"ai-relay"`

	Providers Providers

	RewriteChain    []string `env:"REWRITE_CHAIN" envSeparator:"," envDefault:"openai,anthropic,deepseek"`
	TranscribeChain []string `env:"TRANSCRIBE_CHAIN" envSeparator:"," envDefault:"deepinfra,elevenlabs,whisper,openai"`
	DetectChain     []string `env:"DETECT_CHAIN" envSeparator:"," envDefault:"gptzero,sapling,openai"`

	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"30s"`

	DetectMinChars int   `env:"DETECT_MIN_CHARS" envDefault:"50"`
	MaxTextChars   int   `env:"MAX_TEXT_CHARS" envDefault:"100000"`
	MaxAudioBytes  int64 `env:"MAX_AUDIO_BYTES" envDefault:"26214400"`

	SessionBatchChunks  int           `env:"SESSION_BATCH_CHUNKS" envDefault:"2"`
	SessionDebounce     time.Duration `env:"SESSION_DEBOUNCE" envDefault:"300ms"`
	SessionSilence      time.Duration `env:"SESSION_SILENCE" envDefault:"2s"`
	SessionRetainHeader bool          `env:"SESSION_RETAIN_HEADER"`
	SessionFinalTimeout time.Duration `env:"SESSION_FINAL_TIMEOUT" envDefault:"30s"`
	DefaultLanguage     string        `env:"DEFAULT_LANGUAGE"`
}

// Providers holds credentials and model choices. A provider with no
// credential (or URL, for self-hosted Whisper) is registered but not ready.
type Providers struct {
	OpenAIAPIKey          string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL         string `env:"OPENAI_BASE_URL"`
	OpenAIModel           string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAITranscribeModel string `env:"OPENAI_TRANSCRIBE_MODEL" envDefault:"whisper-1"`
	OpenAIDetectModel     string `env:"OPENAI_DETECT_MODEL" envDefault:"gpt-4o-mini"`

	AnthropicAPIKey  string `env:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL string `env:"ANTHROPIC_BASE_URL"`
	AnthropicModel   string `env:"ANTHROPIC_MODEL" envDefault:"claude-sonnet-4-20250514"`

	DeepSeekAPIKey string `env:"DEEPSEEK_API_KEY"`
	DeepSeekModel  string `env:"DEEPSEEK_MODEL" envDefault:"deepseek-chat"`

	DeepInfraAPIKey string `env:"DEEPINFRA_API_KEY"`
	DeepInfraModel  string `env:"DEEPINFRA_MODEL" envDefault:"openai/whisper-large-v3-turbo"`

	ElevenLabsAPIKey   string `env:"ELEVENLABS_API_KEY"`
	ElevenLabsModel    string `env:"ELEVENLABS_MODEL" envDefault:"scribe_v1"`
	ElevenLabsKeyterms string `env:"ELEVENLABS_KEYTERMS"`

	WhisperURL         string  `env:"WHISPER_URL"`
	WhisperModel       string  `env:"WHISPER_MODEL"`
	WhisperTemperature float64 `env:"WHISPER_TEMPERATURE" envDefault:"0"`
	WhisperPrompt      string  `env:"WHISPER_PROMPT"`
	WhisperHotwords    string  `env:"WHISPER_HOTWORDS"`
	WhisperBeamSize    int     `env:"WHISPER_BEAM_SIZE"`
	WhisperVadFilter   bool    `env:"WHISPER_VAD_FILTER"`

	GPTZeroAPIKey string `env:"GPTZERO_API_KEY"`
	SaplingAPIKey string `env:"SAPLING_API_KEY"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		// godotenv.Load never overwrites variables already set.
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}

	cfg.RewriteChain = cleanList(cfg.RewriteChain)
	cfg.TranscribeChain = cleanList(cfg.TranscribeChain)
	cfg.DetectChain = cleanList(cfg.DetectChain)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT: must be json or console, got %q", c.LogFormat))
	}
	if c.ProviderTimeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_TIMEOUT: must be positive"))
	}
	if c.SessionBatchChunks < 1 {
		errs = append(errs, fmt.Errorf("SESSION_BATCH_CHUNKS: must be at least 1, got %d", c.SessionBatchChunks))
	}
	if c.SessionDebounce <= 0 || c.SessionSilence <= 0 || c.SessionFinalTimeout <= 0 {
		errs = append(errs, errors.New("SESSION_DEBOUNCE, SESSION_SILENCE and SESSION_FINAL_TIMEOUT must be positive"))
	}
	if c.DetectMinChars < 0 {
		errs = append(errs, errors.New("DETECT_MIN_CHARS: must not be negative"))
	}
	if c.MaxTextChars <= 0 || c.MaxAudioBytes <= 0 {
		errs = append(errs, errors.New("MAX_TEXT_CHARS and MAX_AUDIO_BYTES must be positive"))
	}
	if c.RateLimitRPS < 0 || (c.RateLimitRPS > 0 && c.RateLimitBurst < 1) {
		errs = append(errs, errors.New("RATE_LIMIT_RPS must not be negative and RATE_LIMIT_BURST must be at least 1 when limiting"))
	}
	if c.AuditBatch < 1 || c.AuditInterval <= 0 {
		errs = append(errs, errors.New("AUDIT_BATCH_SIZE and AUDIT_FLUSH_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

func cleanList(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
