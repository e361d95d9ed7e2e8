// Package session manages real-time transcription sessions: each session
// buffers audio chunks, debounces them into transcription calls, and
// finalizes the transcript after a silence window or on stop.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/ai-relay/internal/capability"
	"github.com/snarg/ai-relay/internal/metrics"
	"github.com/snarg/ai-relay/internal/provider"
)

// ErrSessionClosed is returned for messages sent to a closed session.
var ErrSessionClosed = errors.New("session closed")

// State is the lifecycle state of a session.
type State int32

const (
	Idle State = iota
	Active
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Executor runs transcription requests. *orchestrator.Orchestrator implements it.
type Executor interface {
	Chain(c capability.Capability, preferred string) ([]provider.Descriptor, error)
	Execute(ctx context.Context, req *capability.Request, chain []provider.Descriptor) (*capability.Result, error)
}

// Config tunes batching and finalization.
type Config struct {
	BatchChunks  int           // buffered chunks that arm the debounce timer
	Debounce     time.Duration // quiet period before a batch is sent
	Silence      time.Duration // quiet period after a transcript before it is final
	RetainHeader bool          // prepend the session's first chunk to every batch
	FinalTimeout time.Duration // bound on the best-effort call made on stop
	Language     string        // default transcription language
	MaxBatchSize int           // audio bytes per call, header included; 0 uses the upload default
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		BatchChunks:  2,
		Debounce:     300 * time.Millisecond,
		Silence:      2 * time.Second,
		FinalTimeout: 30 * time.Second,
	}
}

type callResult struct {
	gen int
	res *capability.Result
	err error
}

// Session is one live transcription stream. All state below the channels is
// owned by the run goroutine; other goroutines talk to it through Send.
type Session struct {
	ID string

	cfg   Config
	exec  Executor
	norm  *capability.Normalizer
	emit  func(Event)
	log   zerolog.Logger
	ctx   context.Context
	state atomic.Int32

	inbox    chan Message
	results  chan callResult
	done     chan struct{}
	inFlight atomic.Int32

	// owned by run
	chain     []provider.Descriptor
	language  string
	buffer    [][]byte
	header    []byte
	headerIn  bool // header is still the first chunk in buffer
	lastText  string
	finalized bool
	pending   bool
	gen       int
	seq       int
	debounce  *time.Timer
	debounceC <-chan time.Time
	silence   *time.Timer
	silenceC  <-chan time.Time
}

func newSession(ctx context.Context, id string, cfg Config, exec Executor, emit func(Event), log zerolog.Logger) *Session {
	if cfg.BatchChunks < 1 {
		cfg.BatchChunks = 1
	}
	if cfg.FinalTimeout <= 0 {
		cfg.FinalTimeout = DefaultConfig().FinalTimeout
	}
	norm := capability.NewNormalizer()
	if cfg.MaxBatchSize > 0 {
		norm.MaxAudioBytes = cfg.MaxBatchSize
	}
	return &Session{
		ID:      id,
		cfg:     cfg,
		exec:    exec,
		norm:    norm,
		emit:    emit,
		log:     log.With().Str("session_id", id).Logger(),
		ctx:     ctx,
		inbox:   make(chan Message),
		results: make(chan callResult, 1),
		done:    make(chan struct{}),
	}
}

// Send delivers a client message to the session. It returns ErrSessionClosed
// once the session has closed.
func (s *Session) Send(msg Message) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.inbox <- msg:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// Close stops the session as if the client sent stop_transcription and
// waits for the final drain to finish.
func (s *Session) Close() {
	_ = s.Send(Message{Type: TypeStop})
	<-s.done
}

// Done is closed when the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.log.Debug().Str("state", st.String()).Msg("session state")
}

func (s *Session) send(ev Event) {
	metrics.SessionEventsTotal.WithLabelValues(ev.Type).Inc()
	s.emit(ev)
}

func (s *Session) run() {
	defer close(s.done)
	s.send(statusEvent(StatusConnected, "Connected to transcription service"))

	for s.State() != Closed {
		select {
		case msg := <-s.inbox:
			s.handle(msg)
		case <-s.debounceC:
			s.debounceC = nil
			s.onDebounce()
		case <-s.silenceC:
			s.silenceC = nil
			s.onSilence()
		case r := <-s.results:
			s.onResult(r)
		}
	}
}

func (s *Session) handle(msg Message) {
	switch msg.Type {
	case TypeStart:
		s.start(msg)
	case TypeAudio:
		s.appendChunk(msg.AudioChunk)
	case TypeStop:
		s.drain()
	default:
		s.send(errorEvent(fmt.Sprintf("unknown message type %q", msg.Type)))
	}
}

func (s *Session) start(msg Message) {
	chain, err := s.exec.Chain(capability.Transcribe, msg.Engine)
	if err != nil {
		s.send(errorEvent(err.Error()))
		s.close()
		return
	}
	var ready []string
	for _, d := range chain {
		if d.IsReady() {
			ready = append(ready, d.ID)
		}
	}
	if len(ready) == 0 {
		s.send(errorEvent("no transcription provider is configured"))
		s.close()
		return
	}

	// A second start restarts the stream; a call still in flight is discarded.
	s.stopTimers()
	s.gen++
	s.chain = chain
	s.buffer = nil
	s.header = nil
	s.headerIn = false
	s.lastText = ""
	s.finalized = false
	s.language = msg.Language
	if s.language == "" {
		s.language = s.cfg.Language
	}
	s.setState(Active)

	s.log.Info().Strs("providers", ready).Msg("transcription started")
	s.send(statusEvent(StatusReady, "Transcription started using "+strings.Join(ready, ", ")))
}

func (s *Session) appendChunk(encoded string) {
	if s.State() != Active {
		s.send(errorEvent("transcription not started"))
		return
	}
	chunk, err := decodeChunk(encoded)
	if err != nil {
		s.send(errorEvent("invalid audio chunk: " + err.Error()))
		return
	}
	if len(chunk) == 0 {
		return
	}
	if limit := s.norm.MaxAudioBytes; limit > 0 && len(s.header)+len(chunk) > limit {
		s.send(errorEvent(fmt.Sprintf("audio chunk exceeds %d bytes", limit)))
		return
	}

	if s.cfg.RetainHeader && s.header == nil {
		s.header = chunk
		s.headerIn = true
	}
	s.buffer = append(s.buffer, chunk)

	// Input pushes finalization back; it never cancels it.
	if s.unfinalized() {
		s.resetSilence()
	} else {
		s.stopSilence()
	}

	if len(s.buffer) >= s.cfg.BatchChunks {
		s.resetDebounce()
	}
}

func (s *Session) onDebounce() {
	if s.State() != Active || s.pending || len(s.buffer) == 0 {
		return
	}
	s.dispatch()
}

// dispatch drains the buffer into one transcription call on a worker goroutine.
func (s *Session) dispatch() {
	req, err := s.takeBatch()
	if err != nil {
		s.log.Warn().Err(err).Msg("batch rejected")
		s.send(errorEvent(err.Error()))
		return
	}
	s.pending = true
	s.inFlight.Add(1)
	s.send(statusEvent(StatusProcessing, "Processing audio"))

	gen := s.gen
	chain := s.chain
	go func() {
		res, err := s.exec.Execute(s.ctx, req, chain)
		s.inFlight.Add(-1)
		s.results <- callResult{gen: gen, res: res, err: err}
	}()
}

// takeBatch moves buffered chunks into a request, stopping before the batch
// would exceed the size limit. Chunks that do not fit stay buffered.
func (s *Session) takeBatch() (*capability.Request, error) {
	var audio bytes.Buffer
	if s.header != nil && !s.headerIn {
		audio.Write(s.header)
	}
	s.headerIn = false

	limit := s.norm.MaxAudioBytes
	n := 0
	for ; n < len(s.buffer); n++ {
		c := s.buffer[n]
		if n > 0 && limit > 0 && audio.Len()+len(c) > limit {
			break
		}
		audio.Write(c)
	}
	s.buffer = s.buffer[n:]
	if len(s.buffer) == 0 {
		s.buffer = nil
	}
	s.seq++

	return s.norm.Normalize(capability.Transcribe, capability.Input{
		ID:    fmt.Sprintf("%s-%d", s.ID, s.seq),
		Audio: audio.Bytes(),
	}, capability.Options{Language: s.language})
}

func (s *Session) onResult(r callResult) {
	s.pending = false
	if r.gen == s.gen {
		emitted := false
		if r.err != nil {
			// Batch failures never end the session.
			s.log.Warn().Err(r.err).Msg("batch transcription failed")
		} else if text := r.res.Text; text != "" && text != s.lastText {
			s.lastText = text
			s.finalized = false
			s.send(transcriptEvent(text, false))
			s.resetSilence()
			emitted = true
		}
		if !emitted && s.unfinalized() && s.silenceC == nil {
			s.resetSilence()
		}
	}

	if s.State() == Active && len(s.buffer) >= s.cfg.BatchChunks {
		s.resetDebounce()
	}
}

func (s *Session) onSilence() {
	if !s.unfinalized() {
		return
	}
	// Transcribe the tail first; its result re-arms the timer.
	if s.pending {
		return
	}
	if len(s.buffer) > 0 {
		s.dispatch()
		if s.pending {
			return
		}
	}
	s.finalized = true
	s.send(transcriptEvent(s.lastText, true))
}

func (s *Session) unfinalized() bool {
	return s.lastText != "" && !s.finalized
}

// drain handles stop and disconnect: cancel timers, wait for any in-flight
// call, make one best-effort call on what is left, then close.
func (s *Session) drain() {
	if s.State() == Idle {
		s.send(statusEvent(StatusStopped, "Transcription stopped"))
		s.close()
		return
	}

	s.setState(Draining)
	s.stopTimers()

	if s.pending {
		r := <-s.results
		s.pending = false
		if r.err == nil && r.gen == s.gen && r.res.Text != "" && r.res.Text != s.lastText {
			s.lastText = r.res.Text
			s.finalized = false
		}
	}

	var parts []string
	if s.unfinalized() {
		parts = append(parts, s.lastText)
	}
	if len(s.buffer) > 0 {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.cfg.FinalTimeout)
		for len(s.buffer) > 0 && ctx.Err() == nil {
			req, err := s.takeBatch()
			if err != nil {
				s.log.Warn().Err(err).Msg("final batch rejected")
				continue
			}
			s.inFlight.Add(1)
			res, err := s.exec.Execute(ctx, req, s.chain)
			s.inFlight.Add(-1)
			if err != nil {
				s.log.Warn().Err(err).Msg("final transcription failed")
			} else if res.Text != "" {
				parts = append(parts, res.Text)
			}
		}
		cancel()
	}

	if len(parts) > 0 {
		s.send(transcriptEvent(strings.Join(parts, " "), true))
	}

	s.send(statusEvent(StatusStopped, "Transcription stopped"))
	s.log.Info().Int("batches", s.seq).Msg("transcription stopped")
	s.close()
}

func (s *Session) close() {
	s.stopTimers()
	s.buffer = nil
	s.header = nil
	s.chain = nil
	s.setState(Closed)
}

func (s *Session) resetDebounce() {
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.NewTimer(s.cfg.Debounce)
	s.debounceC = s.debounce.C
}

func (s *Session) resetSilence() {
	s.stopSilence()
	s.silence = time.NewTimer(s.cfg.Silence)
	s.silenceC = s.silence.C
}

func (s *Session) stopSilence() {
	if s.silence != nil {
		s.silence.Stop()
		s.silence = nil
	}
	s.silenceC = nil
}

func (s *Session) stopTimers() {
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	s.debounceC = nil
	s.stopSilence()
}
