// Package capability defines the canonical request and result types shared by
// the registry, the orchestrator and the provider adapters.
package capability

import (
	"fmt"
	"strings"
	"time"
)

// Capability is a category of operation that several providers can satisfy.
type Capability string

const (
	Rewrite    Capability = "rewrite"
	Transcribe Capability = "transcribe"
	Detect     Capability = "detect"
)

// All lists every known capability in a stable order.
var All = []Capability{Rewrite, Transcribe, Detect}

// Parse converts a tag into a Capability. Unknown or empty tags are a ValidationError.
func Parse(s string) (Capability, error) {
	switch c := Capability(strings.ToLower(strings.TrimSpace(s))); c {
	case Rewrite, Transcribe, Detect:
		return c, nil
	case "":
		return "", &ValidationError{Field: "capability", Reason: "missing capability"}
	default:
		return "", &ValidationError{Field: "capability", Reason: fmt.Sprintf("unknown capability %q", s)}
	}
}

func (c Capability) String() string { return string(c) }

// Options is the option bag carried by a Request.
type Options struct {
	Instructions      string   // caller instructions appended to the provider prompt
	ModelHint         string   // target model override, adapter-specific
	Presets           []string // style/content augmentation text
	PreferredProvider string   // pinned to chain head when set
	Language          string   // ISO-639 code for transcription
	Filename          string   // original audio filename, used for format sniffing
	MimeType          string

	// Escalation is the amplified constraint suffix added by the retry controller.
	Escalation string
}

// Request is the canonical, provider-independent request. Build it with a
// Normalizer; treat it as immutable afterwards.
type Request struct {
	ID         string
	Capability Capability
	Text       string
	Audio      []byte
	Options    Options
	CreatedAt  time.Time
}

// PayloadSize returns the size of the request payload in bytes.
func (r *Request) PayloadSize() int {
	if r.Capability == Transcribe {
		return len(r.Audio)
	}
	return len(r.Text)
}

// WithEscalation returns a copy of the request carrying the given escalation suffix.
func (r *Request) WithEscalation(suffix string) *Request {
	clone := *r
	clone.Options.Presets = append([]string(nil), r.Options.Presets...)
	clone.Options.Escalation = suffix
	return &clone
}

// Outcome is the tagged result of one provider attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Attempt is one element of an execution trace.
type Attempt struct {
	Provider     string    `json:"provider"`
	Outcome      Outcome   `json:"outcome"`
	Kind         string    `json:"kind,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Retry        bool      `json:"retry,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
	EndedAt      time.Time `json:"endedAt"`
	RequestSize  int       `json:"requestSize"`
	ResponseSize int       `json:"responseSize,omitempty"`
}

// Duration returns how long the attempt took.
func (a Attempt) Duration() time.Duration { return a.EndedAt.Sub(a.StartedAt) }

func (a Attempt) String() string {
	s := a.Provider + ": " + string(a.Outcome)
	if a.Reason != "" {
		s += "(" + a.Reason + ")"
	}
	if a.Retry {
		s += " [retry]"
	}
	return s
}

// Detection holds the canonical AI-content detection scores.
type Detection struct {
	Probability     float64 `json:"probability"` // 0-100, likelihood the text is AI-generated
	IsAIGenerated   bool    `json:"isAIGenerated"`
	HumanLikelihood float64 `json:"humanLikelihood"` // 0-100
	Assessment      string  `json:"assessment"`
}

// Result is the canonical output of an orchestration.
type Result struct {
	RequestID  string
	Capability Capability
	Provider   string
	Model      string
	Text       string
	Language   string
	Duration   float64 // audio seconds, transcripts only
	Detection  *Detection
	Attempts   []Attempt
	Retried    bool
}
