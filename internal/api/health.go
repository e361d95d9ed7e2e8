package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/ai-relay/internal/capability"
	"github.com/snarg/ai-relay/internal/provider"
)

// ProviderSource reports provider readiness. *provider.Registry implements it.
type ProviderSource interface {
	Snapshot() []provider.Status
	ReadyCount(c capability.Capability) int
}

// SessionCounter reports live session counts. *session.Manager implements it.
type SessionCounter interface {
	ActiveCount() int
}

// HealthChecker pings a dependency. *database.DB implements it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// BrokerStatus reports the event broker connection. *mqttclient.Client implements it.
type BrokerStatus interface {
	IsConnected() bool
}

type HealthResponse struct {
	Status         string            `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Checks         map[string]string `json:"checks"`
	Providers      []provider.Status `json:"providers"`
	ActiveSessions int               `json:"active_sessions"`
}

type HealthHandler struct {
	providers ProviderSource
	sessions  SessionCounter
	db        HealthChecker // nil when the audit log is disabled
	broker    BrokerStatus  // nil when no broker is configured
	version   string
	startTime time.Time
}

func NewHealthHandler(providers ProviderSource, sessions SessionCounter, db HealthChecker, broker BrokerStatus, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		providers: providers,
		sessions:  sessions,
		db:        db,
		broker:    broker,
		version:   version,
		startTime: startTime,
	}
}

// ServeHTTP reports "healthy" when every capability has a ready provider,
// "degraded" when some do not or the audit database or broker is down, and
// "unhealthy" (503) when no capability can be served.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	servable := 0
	for _, c := range capability.All {
		if h.providers.ReadyCount(c) > 0 {
			checks[string(c)] = "ok"
			servable++
		} else {
			checks[string(c)] = "no_ready_provider"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	switch servable {
	case len(capability.All):
	case 0:
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	default:
		status = "degraded"
	}

	// The audit log is best-effort, so a database outage only degrades.
	if h.db != nil {
		if err := h.db.HealthCheck(r.Context()); err != nil {
			checks["database"] = "error"
			if status == "healthy" {
				status = "degraded"
			}
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	switch {
	case h.broker == nil:
		checks["mqtt"] = "not_configured"
	case h.broker.IsConnected():
		checks["mqtt"] = "ok"
	default:
		checks["mqtt"] = "disconnected"
		if status == "healthy" {
			status = "degraded"
		}
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
		Providers:     h.providers.Snapshot(),
	}
	if h.sessions != nil {
		resp.ActiveSessions = h.sessions.ActiveCount()
	}
	WriteJSON(w, httpStatus, resp)
}
