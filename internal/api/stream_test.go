package api

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/snarg/ai-relay/internal/capability"
	"github.com/snarg/ai-relay/internal/provider"
	"github.com/snarg/ai-relay/internal/session"
)

// echoExec transcribes every batch as "hello".
type echoExec struct{}

func (echoExec) Chain(capability.Capability, string) ([]provider.Descriptor, error) {
	return []provider.Descriptor{{ID: "deepinfra"}}, nil
}

func (echoExec) Execute(_ context.Context, req *capability.Request, _ []provider.Descriptor) (*capability.Result, error) {
	return &capability.Result{RequestID: req.ID, Capability: capability.Transcribe, Provider: "deepinfra", Text: "hello"}, nil
}

func dialStream(t *testing.T) (*websocket.Conn, *session.Manager) {
	t.Helper()
	cfg := session.Config{
		BatchChunks:  1,
		Debounce:     5 * time.Millisecond,
		Silence:      time.Hour,
		FinalTimeout: time.Second,
	}
	mgr := session.NewManager(context.Background(), echoExec{}, cfg, zerolog.Nop())
	srv := httptest.NewServer(NewStreamHandler(mgr, nil, zerolog.Nop()))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, mgr
}

func readEvent(t *testing.T, conn *websocket.Conn) session.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev session.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

// expect reads events until one matches, failing on timeout.
func expect(t *testing.T, conn *websocket.Conn, match func(session.Event) bool) session.Event {
	t.Helper()
	for {
		ev := readEvent(t, conn)
		if match(ev) {
			return ev
		}
	}
}

func isStatus(s string) func(session.Event) bool {
	return func(ev session.Event) bool { return ev.Type == session.EventStatus && ev.Status == s }
}

func TestStreamLifecycle(t *testing.T) {
	conn, _ := dialStream(t)

	if ev := readEvent(t, conn); ev.Status != session.StatusConnected {
		t.Fatalf("first event = %+v, want connected", ev)
	}

	conn.WriteJSON(session.Message{Type: session.TypeStart, Language: "en"})
	ready := expect(t, conn, isStatus(session.StatusReady))
	if !strings.Contains(ready.Message, "deepinfra") {
		t.Errorf("ready message = %q", ready.Message)
	}

	chunk := base64.StdEncoding.EncodeToString([]byte("audio-bytes"))
	conn.WriteJSON(session.Message{Type: session.TypeAudio, AudioChunk: chunk})

	partial := expect(t, conn, func(ev session.Event) bool { return ev.Type == session.EventTranscription })
	if partial.Text != "hello" || partial.Final() {
		t.Fatalf("partial = %+v", partial)
	}

	conn.WriteJSON(session.Message{Type: session.TypeStop})
	final := expect(t, conn, func(ev session.Event) bool { return ev.Type == session.EventTranscription })
	if final.Text != "hello" || !final.Final() {
		t.Errorf("final = %+v", final)
	}
	expect(t, conn, isStatus(session.StatusStopped))

	// The server closes the socket once the session is closed.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("read after stop = %v, want normal closure", err)
	}
}

func TestStreamInvalidMessage(t *testing.T) {
	conn, _ := dialStream(t)
	readEvent(t, conn) // connected

	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	ev := readEvent(t, conn)
	if ev.Type != session.EventError || !strings.HasPrefix(ev.Message, "invalid message") {
		t.Fatalf("event = %+v, want invalid message error", ev)
	}

	// The session survives a bad frame.
	conn.WriteJSON(session.Message{Type: session.TypeStart})
	expect(t, conn, isStatus(session.StatusReady))
}

func TestStreamDisconnectClosesSession(t *testing.T) {
	conn, mgr := dialStream(t)
	readEvent(t, conn) // connected
	if n := mgr.ActiveCount(); n != 1 {
		t.Fatalf("ActiveCount = %d, want 1", n)
	}

	conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for mgr.ActiveCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session still active after client disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// brokenConn fails every write and records Close.
type brokenConn struct{ closed chan struct{} }

func (brokenConn) SetWriteDeadline(time.Time) error          { return nil }
func (brokenConn) WriteJSON(interface{}) error               { return errors.New("broken pipe") }
func (brokenConn) WriteControl(int, []byte, time.Time) error { return errors.New("broken pipe") }
func (c brokenConn) Close() error {
	close(c.closed)
	return nil
}

func TestStreamWriteFailureClosesConn(t *testing.T) {
	mgr := session.NewManager(context.Background(), echoExec{}, session.DefaultConfig(), zerolog.Nop())
	sess := mgr.Open(func(session.Event) {})
	defer sess.Close()

	conn := brokenConn{closed: make(chan struct{})}
	send := make(chan session.Event, 1)
	send <- session.Event{Type: session.EventStatus, Status: session.StatusReady}
	done := make(chan struct{})

	h := NewStreamHandler(mgr, nil, zerolog.Nop())
	go h.writeLoop(conn, sess, send, done, zerolog.Nop())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not exit after a failed write")
	}
	select {
	case <-conn.closed:
	default:
		t.Error("connection left open after a failed write")
	}
}
