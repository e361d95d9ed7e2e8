package capability

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Default normalizer limits.
const (
	DefaultMinDetectChars = 50
	DefaultMinAudioBytes  = 1
	DefaultMaxTextChars   = 100_000
	DefaultMaxAudioBytes  = 25 << 20
)

// ValidationError reports malformed or insufficient input. It is never
// retried and never triggers fallback.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Input is the raw, capability-specific input handed to the Normalizer.
type Input struct {
	ID    string // caller-supplied correlation id, generated when empty
	Text  string
	Audio []byte
}

// Normalizer converts raw input into a canonical Request.
type Normalizer struct {
	MinDetectChars int
	MinAudioBytes  int
	MaxTextChars   int
	MaxAudioBytes  int

	now func() time.Time
}

// NewNormalizer returns a Normalizer with the default limits.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		MinDetectChars: DefaultMinDetectChars,
		MinAudioBytes:  DefaultMinAudioBytes,
		MaxTextChars:   DefaultMaxTextChars,
		MaxAudioBytes:  DefaultMaxAudioBytes,
	}
}

// Normalize validates the input for the given capability and builds a Request.
func (n *Normalizer) Normalize(c Capability, in Input, opts Options) (*Request, error) {
	if _, err := Parse(string(c)); err != nil {
		return nil, err
	}

	req := &Request{
		ID:         strings.TrimSpace(in.ID),
		Capability: c,
		Options:    cleanOptions(opts),
		CreatedAt:  n.clock(),
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	switch c {
	case Rewrite, Detect:
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return nil, &ValidationError{Field: "text", Reason: "text is required"}
		}
		chars := utf8.RuneCountInString(text)
		if c == Detect && chars < n.MinDetectChars {
			return nil, &ValidationError{
				Field:  "text",
				Reason: fmt.Sprintf("text must be at least %d characters for AI detection (got %d)", n.MinDetectChars, chars),
			}
		}
		if n.MaxTextChars > 0 && chars > n.MaxTextChars {
			return nil, &ValidationError{
				Field:  "text",
				Reason: fmt.Sprintf("text exceeds %d characters", n.MaxTextChars),
			}
		}
		req.Text = text
	case Transcribe:
		min := n.MinAudioBytes
		if min < 1 {
			min = 1
		}
		if len(in.Audio) < min {
			return nil, &ValidationError{
				Field:  "audio",
				Reason: fmt.Sprintf("audio must be at least %d bytes (got %d)", min, len(in.Audio)),
			}
		}
		if n.MaxAudioBytes > 0 && len(in.Audio) > n.MaxAudioBytes {
			return nil, &ValidationError{
				Field:  "audio",
				Reason: fmt.Sprintf("audio exceeds %d bytes", n.MaxAudioBytes),
			}
		}
		req.Audio = in.Audio
	}

	return req, nil
}

func (n *Normalizer) clock() time.Time {
	if n.now != nil {
		return n.now()
	}
	return time.Now()
}

func cleanOptions(o Options) Options {
	o.Instructions = strings.TrimSpace(o.Instructions)
	o.ModelHint = strings.TrimSpace(o.ModelHint)
	o.PreferredProvider = strings.ToLower(strings.TrimSpace(o.PreferredProvider))
	o.Language = strings.TrimSpace(o.Language)

	var presets []string
	for _, p := range o.Presets {
		if p = strings.TrimSpace(p); p != "" {
			presets = append(presets, p)
		}
	}
	o.Presets = presets
	return o
}
