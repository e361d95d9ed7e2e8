// Package provider holds the adapter contract every third-party AI backend
// implements and the registry that maps capabilities to ordered provider chains.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/snarg/ai-relay/internal/capability"
)

// Adapter performs one capability against one provider. Implementations must
// honour ctx cancellation and must not retry internally.
type Adapter interface {
	Invoke(ctx context.Context, req *capability.Request) (*Reply, error)
}

// AdapterFunc adapts a plain function to the Adapter interface.
type AdapterFunc func(ctx context.Context, req *capability.Request) (*Reply, error)

func (f AdapterFunc) Invoke(ctx context.Context, req *capability.Request) (*Reply, error) {
	return f(ctx, req)
}

// Reply is the adapter's decoded response. Adapters flatten their provider's
// wire shape into it; the orchestrator turns it into a capability.Result.
type Reply struct {
	Text     string
	Model    string
	Language string
	Duration float64

	// Probability is the AI-generated likelihood in [0,1]. Nil when the
	// provider returned no usable score.
	Probability *float64
	Assessment  string

	// RawSize is the size of the provider's response body in bytes.
	RawSize int
}

// Probability returns a pointer to p, for building detection replies.
func Probability(p float64) *float64 { return &p }

// StatusError is returned by adapters when a provider answers with a non-2xx status.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s API error (status %d)", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// CheckResponse returns a *StatusError for non-2xx responses. The body is
// consumed (up to 2KB) in that case.
func CheckResponse(name string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &StatusError{
		Provider:   name,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
