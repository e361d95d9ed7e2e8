package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/snarg/ai-relay/internal/capability"
)

// Gate is a cheap post-hoc check on a successful result. A non-nil error
// (normally *QualityError) triggers one retry on the same provider.
type Gate interface {
	Check(req *capability.Request, res *capability.Result) error
}

// GateFunc adapts a function to Gate.
type GateFunc func(req *capability.Request, res *capability.Result) error

func (f GateFunc) Check(req *capability.Request, res *capability.Result) error { return f(req, res) }

// WordCountGate rejects rewrites shorter (in words) than their input. Other
// capabilities always pass.
type WordCountGate struct{}

func (WordCountGate) Check(req *capability.Request, res *capability.Result) error {
	if req.Capability != capability.Rewrite {
		return nil
	}
	want := WordCount(req.Text)
	got := WordCount(res.Text)
	if got >= want {
		return nil
	}
	return &QualityError{
		Capability: req.Capability,
		Reason:     "output shorter than input",
		Want:       want,
		Got:        got,
	}
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// Escalate returns a copy of req with a stricter constraint suffix derived
// from the gate failure.
func Escalate(req *capability.Request, failure error) *capability.Request {
	want := WordCount(req.Text)
	var got int
	var qe *QualityError
	if errors.As(failure, &qe) {
		want, got = qe.Want, qe.Got
	}
	suffix := fmt.Sprintf(
		"CRITICAL LENGTH REQUIREMENT: your previous answer had %d words but the input has %d. "+
			"The rewritten text MUST contain at least %d words. Do not summarize, shorten or omit any content. "+
			"Expand where needed so the output is at least as long as the input.",
		got, want, want)
	return req.WithEscalation(suffix)
}
