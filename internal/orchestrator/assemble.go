package orchestrator

import (
	"math"
	"strings"

	"github.com/snarg/ai-relay/internal/capability"
	"github.com/snarg/ai-relay/internal/provider"
)

// AIThreshold is the probability percentage at or above which text is
// reported as AI-generated.
const AIThreshold = 50.0

// Assemble maps an adapter reply into the canonical result for a capability.
// An unusable reply is a *MalformedError.
func Assemble(providerID string, c capability.Capability, reply *provider.Reply) (*capability.Result, error) {
	if reply == nil {
		return nil, &MalformedError{Provider: providerID, Reason: "empty reply"}
	}

	res := &capability.Result{
		Capability: c,
		Provider:   providerID,
		Model:      reply.Model,
	}

	switch c {
	case capability.Rewrite:
		res.Text = strings.TrimSpace(reply.Text)
		if res.Text == "" {
			return nil, &MalformedError{Provider: providerID, Reason: "no text in response"}
		}
	case capability.Transcribe:
		// Silence legitimately transcribes to nothing.
		res.Text = strings.TrimSpace(reply.Text)
		res.Language = reply.Language
		res.Duration = reply.Duration
	case capability.Detect:
		if reply.Probability == nil {
			return nil, &MalformedError{Provider: providerID, Reason: "no detection score in response"}
		}
		p := *reply.Probability
		if math.IsNaN(p) || p < 0 || p > 1 {
			return nil, &MalformedError{Provider: providerID, Reason: "detection score out of range"}
		}
		res.Detection = detection(p, reply.Assessment)
	}
	return res, nil
}

func detection(p float64, assessment string) *capability.Detection {
	pct := math.Round(p*1000) / 10
	d := &capability.Detection{
		Probability:     pct,
		IsAIGenerated:   pct >= AIThreshold,
		HumanLikelihood: math.Round((100-pct)*10) / 10,
		Assessment:      strings.TrimSpace(assessment),
	}
	if d.Assessment == "" {
		d.Assessment = Assessment(pct)
	}
	return d
}

// Assessment derives a human-readable verdict from a probability percentage.
func Assessment(pct float64) string {
	switch {
	case pct >= 80:
		return "Likely AI-generated"
	case pct >= AIThreshold:
		return "Possibly AI-generated"
	case pct >= 20:
		return "Possibly human-written"
	default:
		return "Likely human-written"
	}
}
