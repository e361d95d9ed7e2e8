package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/ai-relay/internal/capability"
)

// Runner executes a normalized request against its provider chain.
// *orchestrator.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, req *capability.Request) (*capability.Result, error)
}

// RelayHandler serves the one-shot capability endpoints.
type RelayHandler struct {
	runner Runner
	norm   *capability.Normalizer
	log    zerolog.Logger
}

func NewRelayHandler(runner Runner, norm *capability.Normalizer, log zerolog.Logger) *RelayHandler {
	return &RelayHandler{
		runner: runner,
		norm:   norm,
		log:    log.With().Str("handler", "relay").Logger(),
	}
}

// Routes registers the one-shot endpoints.
func (h *RelayHandler) Routes(r chi.Router) {
	r.Post("/transform", h.Transform)
	r.Post("/transcribe", h.Transcribe)
	r.Post("/detect-ai", h.DetectAI)
}

type transformRequest struct {
	Text              string   `json:"text"`
	Instructions      string   `json:"instructions"`
	PreferredProvider string   `json:"preferredProvider"`
	Presets           []string `json:"presets"`
	Model             string   `json:"model"`
}

type transformResponse struct {
	Text          string               `json:"text"`
	Provider      string               `json:"provider"`
	Model         string               `json:"model,omitempty"`
	Retried       bool                 `json:"retried"`
	CorrelationID string               `json:"correlationId"`
	Attempts      []capability.Attempt `json:"attempts,omitempty"`
}

// Transform handles POST /transform.
func (h *RelayHandler) Transform(w http.ResponseWriter, r *http.Request) {
	var body transformRequest
	if !h.decode(w, r, &body) {
		return
	}
	req, err := h.norm.Normalize(capability.Rewrite, capability.Input{ID: correlationID(r), Text: body.Text}, capability.Options{
		Instructions:      body.Instructions,
		ModelHint:         body.Model,
		Presets:           body.Presets,
		PreferredProvider: body.PreferredProvider,
	})
	res, ok := h.run(w, r, req, err)
	if !ok {
		return
	}
	resp := transformResponse{
		Text:          res.Text,
		Provider:      res.Provider,
		Model:         res.Model,
		Retried:       res.Retried,
		CorrelationID: res.RequestID,
	}
	if debug(r) {
		resp.Attempts = res.Attempts
	}
	WriteJSON(w, http.StatusOK, resp)
}

type transcribeResponse struct {
	Text          string               `json:"text"`
	Engine        string               `json:"engine"`
	Language      string               `json:"language,omitempty"`
	Duration      float64              `json:"duration,omitempty"`
	CorrelationID string               `json:"correlationId"`
	Attempts      []capability.Attempt `json:"attempts,omitempty"`
}

// Transcribe handles POST /transcribe: a multipart form with an "audio" file
// and optional "engine" and "language" fields.
func (h *RelayHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(h.norm.MaxAudioBytes)+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteErrorDetail(w, http.StatusRequestEntityTooLarge, "audio too large", err.Error())
			return
		}
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request", "audio: audio file is required")
		return
	}
	defer file.Close()
	audio, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}

	req, err := h.norm.Normalize(capability.Transcribe, capability.Input{ID: correlationID(r), Audio: audio}, capability.Options{
		PreferredProvider: r.FormValue("engine"),
		Language:          r.FormValue("language"),
		Filename:          header.Filename,
		MimeType:          header.Header.Get("Content-Type"),
	})
	res, ok := h.run(w, r, req, err)
	if !ok {
		return
	}
	resp := transcribeResponse{
		Text:          res.Text,
		Engine:        res.Provider,
		Language:      res.Language,
		Duration:      res.Duration,
		CorrelationID: res.RequestID,
	}
	if debug(r) {
		resp.Attempts = res.Attempts
	}
	WriteJSON(w, http.StatusOK, resp)
}

type detectRequest struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
}

type detectResponse struct {
	capability.Detection
	Provider      string               `json:"provider"`
	CorrelationID string               `json:"correlationId"`
	Attempts      []capability.Attempt `json:"attempts,omitempty"`
}

// DetectAI handles POST /detect-ai.
func (h *RelayHandler) DetectAI(w http.ResponseWriter, r *http.Request) {
	var body detectRequest
	if !h.decode(w, r, &body) {
		return
	}
	req, err := h.norm.Normalize(capability.Detect, capability.Input{ID: correlationID(r), Text: body.Text}, capability.Options{
		PreferredProvider: body.Provider,
	})
	res, ok := h.run(w, r, req, err)
	if !ok {
		return
	}
	resp := detectResponse{
		Provider:      res.Provider,
		CorrelationID: res.RequestID,
	}
	if res.Detection != nil {
		resp.Detection = *res.Detection
	}
	if debug(r) {
		resp.Attempts = res.Attempts
	}
	WriteJSON(w, http.StatusOK, resp)
}

// decode reads a JSON body no larger than the text limit allows.
func (h *RelayHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	// Four bytes per rune plus room for the option fields.
	limit := int64(h.norm.MaxTextChars)*4 + 64<<10
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := DecodeJSON(r, v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteErrorDetail(w, http.StatusRequestEntityTooLarge, "request too large", err.Error())
			return false
		}
		WriteErrorDetail(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return false
	}
	return true
}

// run executes a normalized request, writing the error response on failure.
func (h *RelayHandler) run(w http.ResponseWriter, r *http.Request, req *capability.Request, normErr error) (*capability.Result, bool) {
	log := hlog.FromRequest(r)
	if normErr != nil {
		WriteRelayError(w, log, correlationID(r), normErr)
		return nil, false
	}
	res, err := h.runner.Run(r.Context(), req)
	if err != nil {
		WriteRelayError(w, log, req.ID, err)
		return nil, false
	}
	return res, true
}

func correlationID(r *http.Request) string {
	return r.Header.Get("X-Request-ID")
}

func debug(r *http.Request) bool {
	v, _ := QueryBool(r, "debug")
	return v
}
