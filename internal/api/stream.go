package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/snarg/ai-relay/internal/session"
)

const (
	pingInterval   = 54 * time.Second
	readTimeout    = 60 * time.Second
	writeTimeout   = 10 * time.Second
	maxMessageSize = 8 << 20
	sendBuffer     = 64
)

// wsWriter is the write side of a WebSocket connection.
type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v interface{}) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// SessionOpener starts transcription sessions. *session.Manager implements it.
type SessionOpener interface {
	Open(emit func(session.Event)) *session.Session
}

// StreamHandler serves the real-time transcription WebSocket.
type StreamHandler struct {
	sessions SessionOpener
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewStreamHandler creates the handler. An empty origins list accepts any Origin.
func NewStreamHandler(sessions SessionOpener, origins []string, log zerolog.Logger) *StreamHandler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	return &StreamHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 << 10,
			WriteBufferSize: 16 << 10,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
		log: log.With().Str("handler", "stream").Logger(),
	}
}

// ServeHTTP upgrades the connection and bridges it to one session. The
// handler goroutine reads client messages; a writer goroutine owns every
// write to the socket.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	send := make(chan session.Event, sendBuffer)
	writerDone := make(chan struct{})
	emit := func(ev session.Event) {
		select {
		case send <- ev:
		case <-writerDone:
		}
	}

	sess := h.sessions.Open(emit)
	log := h.log.With().Str("session_id", sess.ID).Str("remote", r.RemoteAddr).Logger()
	log.Info().Msg("stream connected")

	go h.writeLoop(conn, sess, send, writerDone, log)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("stream read failed")
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		var msg session.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			emit(session.Event{Type: session.EventError, Message: "invalid message: " + err.Error()})
			continue
		}
		if err := sess.Send(msg); err != nil {
			break
		}
	}

	// Disconnect is treated as stop: the session drains before closing.
	sess.Close()
	<-writerDone
	log.Info().Msg("stream closed")
}

func (h *StreamHandler) writeLoop(conn wsWriter, sess *session.Session, send <-chan session.Event, done chan<- struct{}, log zerolog.Logger) {
	defer close(done)
	// Closing unblocks the reader, which then drains the session.
	defer conn.Close()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	write := func(ev session.Event) bool {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			log.Debug().Err(err).Msg("stream write failed")
			return false
		}
		return true
	}

	for {
		select {
		case ev := <-send:
			if !write(ev) {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				log.Debug().Err(err).Msg("stream ping failed")
				return
			}
		case <-sess.Done():
		flush:
			for {
				select {
				case ev := <-send:
					if !write(ev) {
						return
					}
				default:
					break flush
				}
			}
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
			return
		}
	}
}
