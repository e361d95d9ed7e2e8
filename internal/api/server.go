package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/ai-relay/internal/capability"
	"github.com/snarg/ai-relay/internal/config"
	"github.com/snarg/ai-relay/internal/metrics"
)

// Deps are the components the HTTP layer serves.
type Deps struct {
	Runner     Runner
	Normalizer *capability.Normalizer
	Providers  ProviderSource
	Sessions   interface {
		SessionOpener
		SessionCounter
	}
	DB     HealthChecker // optional
	Traces TraceStore    // optional
	Broker BrokerStatus  // optional
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, deps Deps, version string, startTime time.Time, log zerolog.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      NewRouter(cfg, deps, version, startTime, log),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

// NewRouter builds the route tree. It is separate from NewServer for tests.
func NewRouter(cfg *config.Config, deps Deps, version string, startTime time.Time, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(metrics.InstrumentHandler)
	r.Use(CORSWithOrigins(cfg.CORSOrigins))

	// No auth: probes and scrapers.
	health := NewHealthHandler(deps.Providers, deps.Sessions, deps.DB, deps.Broker, version, startTime)
	r.Get("/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))

		r.Group(func(r chi.Router) {
			if cfg.RateLimitRPS > 0 {
				r.Use(RateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst))
			}
			NewRelayHandler(deps.Runner, deps.Normalizer, log).Routes(r)
		})

		r.Get("/ws/transcribe", NewStreamHandler(deps.Sessions, cfg.CORSOrigins, log).ServeHTTP)

		if deps.Traces != nil {
			NewTraceHandler(deps.Traces).Routes(r)
		}
	})

	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
