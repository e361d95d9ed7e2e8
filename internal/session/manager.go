package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Manager owns the live sessions of the process.
type Manager struct {
	exec Executor
	cfg  Config
	log  zerolog.Logger
	ctx  context.Context

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// NewManager creates a manager. Sessions inherit ctx; cancelling it aborts
// in-flight batch calls but not the final call made while draining.
func NewManager(ctx context.Context, exec Executor, cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		exec:     exec,
		cfg:      cfg,
		log:      log.With().Str("component", "sessions").Logger(),
		ctx:      ctx,
		sessions: make(map[string]*Session),
	}
}

// Open starts a new session in the Idle state. emit is called from the
// session's goroutine for every outbound event and must not block for long.
func (m *Manager) Open(emit func(Event)) *Session {
	s := newSession(m.ctx, uuid.NewString(), m.cfg, m.exec, emit, m.log)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.run()
		m.mu.Lock()
		delete(m.sessions, s.ID)
		m.mu.Unlock()
		m.log.Debug().Str("session_id", s.ID).Msg("session removed")
	}()
	return s
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// InFlightCount returns the number of transcription calls running across all sessions.
func (m *Manager) InFlightCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		n += int(s.inFlight.Load())
	}
	return n
}

// Shutdown stops every live session, letting each drain, and waits until
// they are all closed or ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	m.log.Info().Int("sessions", len(live)).Msg("closing sessions")
	for _, s := range live {
		go s.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
