package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snarg/ai-relay/internal/capability"
	"github.com/snarg/ai-relay/internal/orchestrator"
)

// fakeRunner records the request it was given and replies with res or err.
type fakeRunner struct {
	got *capability.Request
	res *capability.Result
	err error
}

func (f *fakeRunner) Run(_ context.Context, req *capability.Request) (*capability.Result, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	res := *f.res
	res.RequestID = req.ID
	res.Capability = req.Capability
	return &res, nil
}

func newTestRelay(runner Runner) *RelayHandler {
	return NewRelayHandler(runner, capability.NewNormalizer(), zerolog.Nop())
}

func jsonRequest(target, body string) *http.Request {
	req := httptest.NewRequest("POST", target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "corr-42")
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("JSON decode: %v (body %s)", err, rec.Body.String())
	}
}

var sampleTrace = []capability.Attempt{
	{Provider: "openai", Outcome: capability.OutcomeSkipped, Reason: orchestrator.ReasonNotReady},
	{Provider: "anthropic", Outcome: capability.OutcomeSuccess},
}

func TestTransform(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		runner := &fakeRunner{res: &capability.Result{
			Provider: "anthropic", Model: "claude", Text: "Rewritten.", Retried: true, Attempts: sampleTrace,
		}}
		rec := httptest.NewRecorder()
		newTestRelay(runner).Transform(rec, jsonRequest("/transform",
			`{"text":"  make this better  ","instructions":"formal","preferredProvider":"Anthropic","presets":["concise",""],"model":"claude-x"}`))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		var body transformResponse
		decodeBody(t, rec, &body)
		if body.Text != "Rewritten." || body.Provider != "anthropic" || !body.Retried {
			t.Errorf("body = %+v", body)
		}
		if body.CorrelationID != "corr-42" {
			t.Errorf("CorrelationID = %q, want corr-42", body.CorrelationID)
		}
		if len(body.Attempts) != 0 {
			t.Error("attempts returned without debug")
		}

		got := runner.got
		if got.Text != "make this better" {
			t.Errorf("Text = %q, want trimmed", got.Text)
		}
		if got.Options.PreferredProvider != "anthropic" || got.Options.ModelHint != "claude-x" || got.Options.Instructions != "formal" {
			t.Errorf("Options = %+v", got.Options)
		}
		if len(got.Options.Presets) != 1 {
			t.Errorf("Presets = %v, want blank dropped", got.Options.Presets)
		}
	})

	t.Run("debug_includes_trace", func(t *testing.T) {
		runner := &fakeRunner{res: &capability.Result{Provider: "anthropic", Text: "x", Attempts: sampleTrace}}
		rec := httptest.NewRecorder()
		newTestRelay(runner).Transform(rec, jsonRequest("/transform?debug=true", `{"text":"hello"}`))

		var body transformResponse
		decodeBody(t, rec, &body)
		if len(body.Attempts) != 2 {
			t.Fatalf("got %d attempts, want 2", len(body.Attempts))
		}
		if body.Attempts[0].Reason != orchestrator.ReasonNotReady {
			t.Errorf("first attempt = %+v", body.Attempts[0])
		}
	})

	t.Run("empty_text_is_400", func(t *testing.T) {
		runner := &fakeRunner{}
		rec := httptest.NewRecorder()
		newTestRelay(runner).Transform(rec, jsonRequest("/transform", `{"text":"   "}`))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
		if runner.got != nil {
			t.Error("runner called for invalid input")
		}
	})

	t.Run("malformed_json_is_400", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestRelay(&fakeRunner{}).Transform(rec, jsonRequest("/transform", `{"text":`))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("oversized_body_is_413", func(t *testing.T) {
		h := newTestRelay(&fakeRunner{})
		h.norm.MaxTextChars = 10
		big := `{"text":"` + strings.Repeat("a", 200<<10) + `"}`
		rec := httptest.NewRecorder()
		h.Transform(rec, jsonRequest("/transform", big))
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("status = %d, want 413", rec.Code)
		}
	})

	t.Run("nothing_configured_is_503", func(t *testing.T) {
		runner := &fakeRunner{err: &orchestrator.ChainError{
			Capability: capability.Rewrite,
			Attempts:   []capability.Attempt{{Provider: "openai", Outcome: capability.OutcomeSkipped, Reason: orchestrator.ReasonNotReady}},
		}}
		rec := httptest.NewRecorder()
		newTestRelay(runner).Transform(rec, jsonRequest("/transform", `{"text":"hello"}`))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
		var body ErrorResponse
		decodeBody(t, rec, &body)
		if len(body.Attempts) != 1 || body.CorrelationID != "corr-42" {
			t.Errorf("body = %+v", body)
		}
	})
}

func multipartAudio(t *testing.T, audio []byte, filename string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		w.WriteField(k, v)
	}
	if audio != nil {
		part, err := w.CreateFormFile("audio", filename)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(audio)
	}
	w.Close()
	return body, w.FormDataContentType()
}

func TestTranscribe(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		runner := &fakeRunner{res: &capability.Result{Provider: "deepinfra", Text: "hello there", Language: "en", Duration: 2.5}}
		body, ct := multipartAudio(t, []byte("RIFF....WAVE"), "clip.wav", map[string]string{"engine": "deepinfra", "language": "en"})
		req := httptest.NewRequest("POST", "/transcribe", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		newTestRelay(runner).Transcribe(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		var resp transcribeResponse
		decodeBody(t, rec, &resp)
		if resp.Text != "hello there" || resp.Engine != "deepinfra" || resp.Duration != 2.5 {
			t.Errorf("resp = %+v", resp)
		}
		if string(runner.got.Audio) != "RIFF....WAVE" {
			t.Errorf("Audio = %q", runner.got.Audio)
		}
		if runner.got.Options.Filename != "clip.wav" || runner.got.Options.Language != "en" || runner.got.Options.PreferredProvider != "deepinfra" {
			t.Errorf("Options = %+v", runner.got.Options)
		}
	})

	t.Run("missing_file_is_400", func(t *testing.T) {
		body, ct := multipartAudio(t, nil, "", map[string]string{"language": "en"})
		req := httptest.NewRequest("POST", "/transcribe", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		newTestRelay(&fakeRunner{}).Transcribe(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("not_multipart_is_400", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestRelay(&fakeRunner{}).Transcribe(rec, jsonRequest("/transcribe", `{}`))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestDetectAI(t *testing.T) {
	long := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 3)

	t.Run("success", func(t *testing.T) {
		runner := &fakeRunner{res: &capability.Result{
			Provider: "gptzero",
			Detection: &capability.Detection{
				Probability: 91.2, IsAIGenerated: true, HumanLikelihood: 8.8, Assessment: "Likely AI-generated",
			},
		}}
		rec := httptest.NewRecorder()
		newTestRelay(runner).DetectAI(rec, jsonRequest("/detect-ai", `{"text":"`+long+`","provider":"gptzero"}`))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		var body map[string]any
		decodeBody(t, rec, &body)
		if body["probability"] != 91.2 || body["isAIGenerated"] != true || body["humanLikelihood"] != 8.8 {
			t.Errorf("body = %v", body)
		}
		if body["provider"] != "gptzero" || body["correlationId"] != "corr-42" {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("short_text_is_400", func(t *testing.T) {
		runner := &fakeRunner{}
		rec := httptest.NewRecorder()
		newTestRelay(runner).DetectAI(rec, jsonRequest("/detect-ai", `{"text":"too short"}`))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		var body ErrorResponse
		decodeBody(t, rec, &body)
		if !strings.Contains(body.Detail, "at least 50 characters") {
			t.Errorf("Detail = %q", body.Detail)
		}
		if runner.got != nil {
			t.Error("runner called for invalid input")
		}
	})

	t.Run("providers_failed_is_502", func(t *testing.T) {
		runner := &fakeRunner{err: &orchestrator.ChainError{
			Capability: capability.Detect,
			Attempts:   []capability.Attempt{{Provider: "gptzero", Outcome: capability.OutcomeFailed, Reason: orchestrator.ReasonServerError}},
		}}
		rec := httptest.NewRecorder()
		newTestRelay(runner).DetectAI(rec, jsonRequest("/detect-ai", `{"text":"`+long+`"}`))
		if rec.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", rec.Code)
		}
	})
}
