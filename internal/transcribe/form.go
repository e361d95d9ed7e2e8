// Package transcribe implements the speech-to-text capability for hosted and
// self-hosted Whisper-style backends.
package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/snarg/ai-relay/internal/capability"
	"github.com/snarg/ai-relay/internal/provider"
)

// DefaultLanguage is sent when the request does not name one.
const DefaultLanguage = "en"

// multipartBody builds a multipart/form-data body with the audio under
// fileField followed by the given fields in order. Empty values are omitted.
func multipartBody(fileField, filename string, audio []byte, fields ...[2]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile(fileField, filename)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("copy audio data: %w", err)
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// postForm sends a multipart body and returns the response body. Non-2xx
// responses become *provider.StatusError.
func postForm(ctx context.Context, client *http.Client, name, url string, body io.Reader, contentType string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", name, err)
	}
	defer resp.Body.Close()

	if err := provider.CheckResponse(name, resp); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

// Filename returns the upload filename for a request: the caller's original
// name when known, otherwise one derived from the audio container's magic bytes.
func Filename(req *capability.Request) string {
	if req.Options.Filename != "" {
		return req.Options.Filename
	}
	return "audio." + SniffFormat(req.Audio)
}

// SniffFormat guesses the container format of an audio payload. Browser
// MediaRecorder streams are WebM, which is also the fallback.
func SniffFormat(b []byte) string {
	switch {
	case len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE":
		return "wav"
	case len(b) >= 4 && string(b[0:4]) == "OggS":
		return "ogg"
	case len(b) >= 4 && string(b[0:4]) == "fLaC":
		return "flac"
	case len(b) >= 3 && string(b[0:3]) == "ID3", len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0:
		return "mp3"
	case len(b) >= 8 && string(b[4:8]) == "ftyp":
		return "m4a"
	default:
		return "webm"
	}
}

func language(req *capability.Request) string {
	if req.Options.Language != "" {
		return req.Options.Language
	}
	return DefaultLanguage
}
