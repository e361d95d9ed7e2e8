// Package rewrite implements the text-rewrite capability against chat-style
// LLM providers.
package rewrite

import (
	"strings"

	"github.com/snarg/ai-relay/internal/capability"
)

const baseSystemPrompt = "You rewrite text. Return only the rewritten text with no preamble, " +
	"quotes or commentary. Keep the meaning and every point of the original."

// DefaultMaxTokens caps completion length for providers that require a limit.
const DefaultMaxTokens = 8192

// Prompt splits a rewrite request into a system prompt and the user message.
// Caller instructions, presets and any escalation suffix all go to the system prompt.
func Prompt(req *capability.Request) (system, user string) {
	var b strings.Builder
	b.WriteString(baseSystemPrompt)

	if req.Options.Instructions != "" {
		b.WriteString("\n\nInstructions:\n")
		b.WriteString(req.Options.Instructions)
	}
	for _, p := range req.Options.Presets {
		b.WriteString("\n\n")
		b.WriteString(p)
	}
	if req.Options.Escalation != "" {
		b.WriteString("\n\n")
		b.WriteString(req.Options.Escalation)
	}
	return b.String(), req.Text
}
