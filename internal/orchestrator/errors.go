package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"

	"github.com/snarg/ai-relay/internal/capability"
	"github.com/snarg/ai-relay/internal/provider"
)

// Kind categorizes an attempt failure for tracing, metrics and HTTP mapping.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotReady       Kind = "not_ready"
	KindTransient      Kind = "transient"
	KindRejected       Kind = "rejected"
	KindMalformed      Kind = "malformed"
	KindQuality        Kind = "quality"
	KindChainExhausted Kind = "chain_exhausted"
)

// Failure reasons recorded on attempts.
const (
	ReasonNotReady    = "not-ready"
	ReasonNoAdapter   = "no-adapter"
	ReasonTimeout     = "timeout"
	ReasonRateLimit   = "rate_limit"
	ReasonOverloaded  = "overloaded"
	ReasonNetwork     = "network"
	ReasonServerError = "server_error"
	ReasonAuth        = "auth"
	ReasonBilling     = "billing"
	ReasonBadRequest  = "bad_request"
	ReasonMalformed   = "malformed"
	ReasonCancelled   = "cancelled"
)

// ErrChainExhausted is matched by every *ChainError via errors.Is.
var ErrChainExhausted = errors.New("all providers failed")

// ChainError is returned when no provider in the chain produced a result. It
// carries the full trace so callers can see why each provider was skipped or failed.
type ChainError struct {
	Capability capability.Capability
	Attempts   []capability.Attempt
	Err        error // last underlying error, or ctx.Err() when cancelled
}

func (e *ChainError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("%s: no providers configured", e.Capability)
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s: %s [%s]", e.Capability, ErrChainExhausted, strings.Join(parts, ", "))
}

func (e *ChainError) Unwrap() error { return e.Err }

func (e *ChainError) Is(target error) bool { return target == ErrChainExhausted }

// AllSkipped reports whether no provider was actually called, i.e. nothing
// in the chain was configured.
func (e *ChainError) AllSkipped() bool {
	for _, a := range e.Attempts {
		if a.Outcome != capability.OutcomeSkipped {
			return false
		}
	}
	return true
}

// Cancelled reports whether the chain stopped because the caller went away.
func (e *ChainError) Cancelled() bool {
	return errors.Is(e.Err, context.Canceled)
}

// QualityError reports a successful response that failed the quality gate.
type QualityError struct {
	Capability capability.Capability
	Reason     string
	Want       int
	Got        int
}

func (e *QualityError) Error() string {
	return fmt.Sprintf("%s quality check failed: %s (want >= %d, got %d)", e.Capability, e.Reason, e.Want, e.Got)
}

// MalformedError reports a 2xx reply the assembler could not map.
type MalformedError struct {
	Provider string
	Reason   string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s returned an unusable response: %s", e.Provider, e.Reason)
}

// Classify maps an adapter error onto a Kind and a short reason. Typed errors
// are checked first; message patterns catch SDK and transport errors that
// only surface as text.
func Classify(err error) (Kind, string) {
	if err == nil {
		return "", ""
	}

	var ve *capability.ValidationError
	if errors.As(err, &ve) {
		return KindValidation, ReasonBadRequest
	}
	var me *MalformedError
	if errors.As(err, &me) {
		return KindMalformed, ReasonMalformed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient, ReasonTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindTransient, ReasonCancelled
	}

	if code := statusCode(err); code != 0 {
		return classifyStatus(code)
	}

	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindTransient, ReasonTimeout
		}
		return KindTransient, ReasonNetwork
	}

	return classifyMessage(err.Error())
}

func statusCode(err error) int {
	var se *provider.StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	var oe *openai.APIError
	if errors.As(err, &oe) {
		return oe.HTTPStatusCode
	}
	var re *openai.RequestError
	if errors.As(err, &re) {
		return re.HTTPStatusCode
	}
	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

func classifyStatus(code int) (Kind, string) {
	switch {
	case code == 429:
		return KindTransient, ReasonRateLimit
	case code == 408 || code == 504:
		return KindTransient, ReasonTimeout
	case code == 503 || code == 529:
		return KindTransient, ReasonOverloaded
	case code >= 500:
		return KindTransient, ReasonServerError
	case code == 401 || code == 403:
		return KindRejected, ReasonAuth
	case code == 402:
		return KindRejected, ReasonBilling
	default:
		return KindRejected, ReasonBadRequest
	}
}

func classifyMessage(msg string) (Kind, string) {
	lower := strings.ToLower(msg)
	has := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}

	switch {
	case has("429", "rate limit", "rate_limit", "too many requests", "quota exceeded", "resource_exhausted"):
		return KindTransient, ReasonRateLimit
	case has("overloaded", "server is busy", "temporarily unavailable", "capacity"):
		return KindTransient, ReasonOverloaded
	case has("402", "payment required", "insufficient credits", "billing", "insufficient_quota"):
		return KindRejected, ReasonBilling
	case has("401", "403", "invalid api key", "invalid_api_key", "unauthorized", "forbidden", "authentication"):
		return KindRejected, ReasonAuth
	case has("timeout", "timed out", "deadline exceeded"):
		return KindTransient, ReasonTimeout
	case has("connection refused", "connection reset", "no such host", "eof", "broken pipe"):
		return KindTransient, ReasonNetwork
	default:
		return KindTransient, ReasonServerError
	}
}
