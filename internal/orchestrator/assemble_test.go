package orchestrator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/ai-relay/internal/capability"
	"github.com/snarg/ai-relay/internal/provider"
)

func TestAssemble(t *testing.T) {
	t.Run("rewrite_trims_and_stamps_provider", func(t *testing.T) {
		res, err := Assemble("openai", capability.Rewrite, &provider.Reply{Text: "  hi there \n", Model: "gpt-4o"})
		require.NoError(t, err)
		assert.Equal(t, "hi there", res.Text)
		assert.Equal(t, "openai", res.Provider)
		assert.Equal(t, "gpt-4o", res.Model)
	})

	t.Run("rewrite_empty_is_malformed", func(t *testing.T) {
		_, err := Assemble("openai", capability.Rewrite, &provider.Reply{})
		var me *MalformedError
		require.True(t, errors.As(err, &me))
		assert.Equal(t, "openai", me.Provider)
	})

	t.Run("nil_reply_is_malformed", func(t *testing.T) {
		_, err := Assemble("x", capability.Transcribe, nil)
		require.Error(t, err)
	})

	t.Run("transcript_keeps_metadata_and_allows_silence", func(t *testing.T) {
		res, err := Assemble("deepinfra", capability.Transcribe, &provider.Reply{Text: "", Language: "en", Duration: 3.5})
		require.NoError(t, err)
		assert.Empty(t, res.Text)
		assert.Equal(t, "en", res.Language)
		assert.Equal(t, 3.5, res.Duration)
	})

	t.Run("detection_scores", func(t *testing.T) {
		res, err := Assemble("sapling", capability.Detect, &provider.Reply{
			Probability: provider.Probability(0.5),
			Assessment:  "Mixed signals",
		})
		require.NoError(t, err)
		assert.Equal(t, 50.0, res.Detection.Probability)
		assert.True(t, res.Detection.IsAIGenerated)
		assert.Equal(t, 50.0, res.Detection.HumanLikelihood)
		assert.Equal(t, "Mixed signals", res.Detection.Assessment)
	})

	t.Run("detection_missing_or_out_of_range", func(t *testing.T) {
		_, err := Assemble("sapling", capability.Detect, &provider.Reply{})
		assert.Error(t, err)
		_, err = Assemble("sapling", capability.Detect, &provider.Reply{Probability: provider.Probability(1.5)})
		assert.Error(t, err)
	})
}

func TestAssessment(t *testing.T) {
	assert.Equal(t, "Likely AI-generated", Assessment(95))
	assert.Equal(t, "Possibly AI-generated", Assessment(50))
	assert.Equal(t, "Possibly human-written", Assessment(35))
	assert.Equal(t, "Likely human-written", Assessment(3))
}

func TestWordCountGate(t *testing.T) {
	g := WordCountGate{}
	req := &capability.Request{Capability: capability.Rewrite, Text: "one two three"}

	assert.NoError(t, g.Check(req, &capability.Result{Text: "uno dos tres"}))

	err := g.Check(req, &capability.Result{Text: "uno dos"})
	var qe *QualityError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, 3, qe.Want)
	assert.Equal(t, 2, qe.Got)

	transcribe := &capability.Request{Capability: capability.Transcribe}
	assert.NoError(t, g.Check(transcribe, &capability.Result{}))
}

func TestEscalate(t *testing.T) {
	req := &capability.Request{Capability: capability.Rewrite, Text: "a b c d e", Options: capability.Options{Instructions: "be formal"}}
	esc := Escalate(req, &QualityError{Want: 5, Got: 2})

	assert.Contains(t, esc.Options.Escalation, "at least 5 words")
	assert.Contains(t, esc.Options.Escalation, "had 2 words")
	assert.Equal(t, "be formal", esc.Options.Instructions)
	assert.Empty(t, req.Options.Escalation, "original request is untouched")
}
