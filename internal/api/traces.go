package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/ai-relay/internal/capability"
	"github.com/snarg/ai-relay/internal/database"
)

const traceLimit = 20

// TraceStore looks up recorded orchestrations. *database.DB implements it.
type TraceStore interface {
	RecentOrchestrations(ctx context.Context, requestID string, limit int) ([]database.OrchestrationRow, error)
}

type traceEntry struct {
	Capability string               `json:"capability"`
	Provider   string               `json:"provider,omitempty"`
	Retried    bool                 `json:"retried"`
	Error      string               `json:"error,omitempty"`
	Attempts   []capability.Attempt `json:"attempts"`
	StartedAt  string               `json:"startedAt"`
	DurationMs int64                `json:"durationMs"`
}

type traceResponse struct {
	CorrelationID  string       `json:"correlationId"`
	Orchestrations []traceEntry `json:"orchestrations"`
}

// TraceHandler serves the attempt trace recorded for a correlation id.
type TraceHandler struct {
	store TraceStore
}

func NewTraceHandler(store TraceStore) *TraceHandler {
	return &TraceHandler{store: store}
}

func (h *TraceHandler) Routes(r chi.Router) {
	r.Get("/orchestrations/{correlationID}", h.Get)
}

// Get handles GET /orchestrations/{correlationID}. A streaming session's
// batches are recorded as "{sessionID}-{n}", so a session id lists nothing here.
func (h *TraceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "correlationID")
	rows, err := h.store.RecentOrchestrations(r.Context(), id, traceLimit)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("correlation_id", id).Msg("trace lookup failed")
		WriteError(w, http.StatusInternalServerError, "trace lookup failed")
		return
	}
	if len(rows) == 0 {
		WriteError(w, http.StatusNotFound, "no orchestration recorded for "+id)
		return
	}

	resp := traceResponse{CorrelationID: id, Orchestrations: make([]traceEntry, len(rows))}
	for i, row := range rows {
		resp.Orchestrations[i] = traceEntry{
			Capability: row.Capability,
			Provider:   row.Provider,
			Retried:    row.Retried,
			Error:      row.Error,
			Attempts:   row.Attempts,
			StartedAt:  row.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			DurationMs: row.Duration.Milliseconds(),
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}
