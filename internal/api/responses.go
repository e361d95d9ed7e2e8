package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/snarg/ai-relay/internal/capability"
	"github.com/snarg/ai-relay/internal/orchestrator"
)

// statusClientClosed is logged when the caller hung up mid-orchestration.
const statusClientClosed = 499

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response body. Orchestration failures
// carry the attempt trace.
type ErrorResponse struct {
	Error         string               `json:"error"`
	Detail        string               `json:"detail,omitempty"`
	CorrelationID string               `json:"correlationId,omitempty"`
	Attempts      []capability.Attempt `json:"attempts,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteErrorDetail writes a JSON error response with detail.
func WriteErrorDetail(w http.ResponseWriter, status int, msg, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Detail: detail})
}

// WriteRelayError maps a normalizer or orchestration error to a response:
// 400 for invalid input, 503 when no provider in the chain was configured,
// 502 when providers were called and all failed.
func WriteRelayError(w http.ResponseWriter, log *zerolog.Logger, correlationID string, err error) {
	var (
		ve *capability.ValidationError
		ce *orchestrator.ChainError
	)
	switch {
	case errors.As(err, &ve):
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:         "invalid request",
			Detail:        fmt.Sprintf("%s: %s", ve.Field, ve.Reason),
			CorrelationID: correlationID,
		})
	case errors.As(err, &ce):
		resp := ErrorResponse{
			Detail:        ce.Error(),
			CorrelationID: correlationID,
			Attempts:      ce.Attempts,
		}
		status := http.StatusBadGateway
		switch {
		case ce.Cancelled():
			log.Debug().Str("correlation_id", correlationID).Msg("client went away")
			status = statusClientClosed
			resp.Error = "request cancelled"
		case ce.AllSkipped():
			status = http.StatusServiceUnavailable
			resp.Error = fmt.Sprintf("no %s provider is configured", ce.Capability)
		default:
			resp.Error = "all providers failed"
		}
		WriteJSON(w, status, resp)
	default:
		log.Error().Err(err).Str("correlation_id", correlationID).Msg("unexpected relay error")
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:         "internal server error",
			CorrelationID: correlationID,
		})
	}
}

// QueryBool extracts a boolean query parameter.
func QueryBool(r *http.Request, name string) (bool, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// DecodeJSON reads and decodes a JSON request body into v.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("missing request body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}
