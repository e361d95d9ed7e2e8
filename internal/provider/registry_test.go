package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/ai-relay/internal/capability"
)

var nopAdapter = AdapterFunc(func(context.Context, *capability.Request) (*Reply, error) {
	return &Reply{Text: "ok"}, nil
})

func adapters(caps ...capability.Capability) map[capability.Capability]Adapter {
	m := make(map[capability.Capability]Adapter)
	for _, c := range caps {
		m[c] = nopAdapter
	}
	return m
}

func ready(v bool) func() bool { return func() bool { return v } }

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{
		ID: "openai", Priority: 10, Ready: ready(true),
		Capabilities: []capability.Capability{capability.Rewrite, capability.Transcribe, capability.Detect},
	}, adapters(capability.Rewrite, capability.Transcribe, capability.Detect)))
	require.NoError(t, r.Register(Descriptor{
		ID: "anthropic", Priority: 20, Ready: ready(false),
		Capabilities: []capability.Capability{capability.Rewrite},
	}, adapters(capability.Rewrite)))
	require.NoError(t, r.Register(Descriptor{
		ID: "deepseek", Priority: 20, Ready: ready(true),
		Capabilities: []capability.Capability{capability.Rewrite},
	}, adapters(capability.Rewrite)))
	require.NoError(t, r.Register(Descriptor{
		ID: "gptzero", Priority: 5, Ready: ready(true),
		Capabilities: []capability.Capability{capability.Detect},
	}, adapters(capability.Detect)))
	return r
}

func ids(ds []Descriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.ID
	}
	return out
}

func TestRegistry(t *testing.T) {
	t.Run("priority_then_id_order", func(t *testing.T) {
		r := newTestRegistry(t)
		assert.Equal(t, []string{"openai", "anthropic", "deepseek"}, ids(r.ProvidersFor(capability.Rewrite)))
		assert.Equal(t, []string{"gptzero", "openai"}, ids(r.ProvidersFor(capability.Detect)))
	})

	t.Run("configured_chain_wins", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.SetChain(capability.Rewrite, []string{"deepseek", " OpenAI ", "deepseek"}))
		assert.Equal(t, []string{"deepseek", "openai"}, ids(r.ProvidersFor(capability.Rewrite)))
	})

	t.Run("chain_rejects_unknown_and_unsupported", func(t *testing.T) {
		r := newTestRegistry(t)
		assert.Error(t, r.SetChain(capability.Rewrite, []string{"nope"}))
		assert.Error(t, r.SetChain(capability.Transcribe, []string{"gptzero"}))
	})

	t.Run("preferred_moves_to_head", func(t *testing.T) {
		r := newTestRegistry(t)
		chain, err := r.Chain(capability.Rewrite, "deepseek")
		require.NoError(t, err)
		assert.Equal(t, []string{"deepseek", "openai", "anthropic"}, ids(chain))
	})

	t.Run("preferred_outside_configured_chain_is_prepended", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.SetChain(capability.Rewrite, []string{"openai"}))
		chain, err := r.Chain(capability.Rewrite, "anthropic")
		require.NoError(t, err)
		assert.Equal(t, []string{"anthropic", "openai"}, ids(chain))
	})

	t.Run("preferred_validation", func(t *testing.T) {
		r := newTestRegistry(t)
		var ve *capability.ValidationError

		_, err := r.Chain(capability.Rewrite, "mystery")
		require.True(t, errors.As(err, &ve))

		_, err = r.Chain(capability.Rewrite, "gptzero")
		require.True(t, errors.As(err, &ve))
		assert.Contains(t, ve.Reason, "does not support")
	})

	t.Run("ready_and_adapter_lookup", func(t *testing.T) {
		r := newTestRegistry(t)
		assert.True(t, r.IsReady("openai"))
		assert.False(t, r.IsReady("anthropic"))
		assert.False(t, r.IsReady("missing"))

		_, ok := r.Adapter(capability.Detect, "gptzero")
		assert.True(t, ok)
		_, ok = r.Adapter(capability.Rewrite, "gptzero")
		assert.False(t, ok)

		assert.Equal(t, 2, r.ReadyCount(capability.Rewrite))
	})

	t.Run("register_rejects_duplicates_and_missing_adapters", func(t *testing.T) {
		r := newTestRegistry(t)
		assert.Error(t, r.Register(Descriptor{ID: "OpenAI"}, nil))
		assert.Error(t, r.Register(Descriptor{
			ID: "sapling", Capabilities: []capability.Capability{capability.Detect},
		}, nil))
	})

	t.Run("snapshot_sorted", func(t *testing.T) {
		r := newTestRegistry(t)
		snap := r.Snapshot()
		require.Len(t, snap, 4)
		assert.Equal(t, "anthropic", snap[0].ID)
		assert.False(t, snap[0].Ready)
		assert.Equal(t, []string{"rewrite"}, snap[0].Capabilities)
	})
}

func TestCheckResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ok")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NoError(t, CheckResponse("test", resp))

	resp, err = http.Get(srv.URL + "/limited")
	require.NoError(t, err)
	defer resp.Body.Close()

	err = CheckResponse("test", resp)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Equal(t, "slow down", se.Body)
	assert.Equal(t, "test API error (status 429): slow down", se.Error())
}
