package session

import (
	"encoding/base64"
	"strings"
)

// Client to server message types.
const (
	TypeStart = "start_transcription"
	TypeAudio = "audio_data"
	TypeStop  = "stop_transcription"
)

// Server to client event types.
const (
	EventStatus        = "status"
	EventTranscription = "transcription"
	EventError         = "error"
)

// Status values carried by status events.
const (
	StatusConnected  = "connected"
	StatusReady      = "ready"
	StatusProcessing = "processing"
	StatusStopped    = "stopped"
)

// Message is a client to server message.
type Message struct {
	Type       string `json:"type"`
	Engine     string `json:"engine,omitempty"`
	Language   string `json:"language,omitempty"`
	AudioChunk string `json:"audioChunk,omitempty"`
}

// Event is a server to client message.
type Event struct {
	Type    string `json:"type"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Text    string `json:"text,omitempty"`
	IsFinal *bool  `json:"isFinal,omitempty"`
}

// Final reports whether the event is a finalized transcript.
func (e Event) Final() bool { return e.IsFinal != nil && *e.IsFinal }

func statusEvent(status, msg string) Event {
	return Event{Type: EventStatus, Status: status, Message: msg}
}

func transcriptEvent(text string, final bool) Event {
	return Event{Type: EventTranscription, Text: text, IsFinal: &final}
}

func errorEvent(msg string) Event {
	return Event{Type: EventError, Message: msg}
}

// decodeChunk decodes a base64 audio chunk, accepting an optional data URL
// prefix ("data:audio/webm;codecs=opus;base64,").
func decodeChunk(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}
