package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/snarg/ai-relay/internal/api"
	"github.com/snarg/ai-relay/internal/capability"
	"github.com/snarg/ai-relay/internal/catalog"
	"github.com/snarg/ai-relay/internal/config"
	"github.com/snarg/ai-relay/internal/database"
	"github.com/snarg/ai-relay/internal/metrics"
	"github.com/snarg/ai-relay/internal/mqttclient"
	"github.com/snarg/ai-relay/internal/orchestrator"
	"github.com/snarg/ai-relay/internal/session"
)

func run(overrides config.Overrides) error {
	startTime := time.Now()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Error().Err(err).Msg("failed to load config")
		return err
	}

	log := newLogger(cfg)
	log.Info().Str("version", version).Msg("ai-relay starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Providers
	reg, err := catalog.Build(cfg, nil)
	if err != nil {
		log.Error().Err(err).Msg("invalid provider configuration")
		return err
	}
	for _, s := range reg.Snapshot() {
		log.Info().Str("provider", s.ID).Strs("capabilities", s.Capabilities).Bool("ready", s.Ready).Msg("provider registered")
	}

	// Optional audit log
	var (
		db    *database.DB
		audit *database.AuditLog
	)
	opts := []orchestrator.Option{
		orchestrator.WithTimeout(cfg.ProviderTimeout),
		orchestrator.WithGate(orchestrator.WordCountGate{}),
	}
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err = database.Connect(ctx, cfg.DatabaseURL, dbLog)
		if err != nil {
			log.Error().Err(err).Msg("failed to connect to database")
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			log.Error().Err(err).Msg("database migration failed")
			return err
		}
		audit = database.NewAuditLog(db, cfg.AuditBatch, cfg.AuditInterval, dbLog)
		opts = append(opts, orchestrator.WithRecorder(audit))
	} else {
		log.Info().Msg("DATABASE_URL not set, orchestration audit log disabled")
	}

	// Optional event feed
	var broker *mqttclient.Client
	if cfg.MQTTBrokerURL != "" {
		broker, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Log:         log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to connect to mqtt broker")
			return err
		}
		defer broker.Close()
		opts = append(opts, orchestrator.WithRecorder(broker))
	}

	orch := orchestrator.New(reg, log.With().Str("component", "orchestrator").Logger(), opts...)

	norm := capability.NewNormalizer()
	norm.MinDetectChars = cfg.DetectMinChars
	norm.MaxTextChars = cfg.MaxTextChars
	norm.MaxAudioBytes = int(cfg.MaxAudioBytes)

	// Sessions outlive the signal context so in-flight batches can finish while draining.
	sessCtx, cancelSessions := context.WithCancel(context.Background())
	defer cancelSessions()
	sessions := session.NewManager(sessCtx, orch, session.Config{
		BatchChunks:  cfg.SessionBatchChunks,
		Debounce:     cfg.SessionDebounce,
		Silence:      cfg.SessionSilence,
		RetainHeader: cfg.SessionRetainHeader,
		FinalTimeout: cfg.SessionFinalTimeout,
		Language:     cfg.DefaultLanguage,
		MaxBatchSize: int(cfg.MaxAudioBytes),
	}, log)

	// Metrics
	var collector *metrics.Collector
	if db != nil {
		collector = metrics.NewCollector(db.Pool, sessions, reg)
	} else {
		collector = metrics.NewCollector(nil, sessions, reg)
	}
	prometheus.MustRegister(collector)

	// HTTP Server
	deps := api.Deps{
		Runner:     orch,
		Normalizer: norm,
		Providers:  reg,
		Sessions:   sessions,
	}
	if db != nil {
		deps.DB = db
		deps.Traces = db
	}
	if broker != nil {
		deps.Broker = broker
	}
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, deps, version, startTime, httpLog)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error().Err(serveErr).Msg("http server error")
		}
	}

	// Live sessions get one final transcription call each, so the grace
	// period covers the final-call timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.SessionFinalTimeout+10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Int("sessions", sessions.ActiveCount()).Msg("sessions did not drain in time")
	}
	cancelSessions()
	if audit != nil {
		audit.Close()
	}

	log.Info().Msg("ai-relay stopped")
	return serveErr
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.LogFormat == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger().Level(level)
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
}
