package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/ai-relay/internal/capability"
	"github.com/snarg/ai-relay/internal/provider"
)

// fakeAdapter counts invocations and replays scripted replies.
type fakeAdapter struct {
	mu    sync.Mutex
	calls []*capability.Request
	fn    func(ctx context.Context, n int, req *capability.Request) (*provider.Reply, error)
}

func (f *fakeAdapter) Invoke(ctx context.Context, req *capability.Request) (*provider.Reply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	f.mu.Unlock()
	return f.fn(ctx, n, req)
}

func (f *fakeAdapter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func textReply(s string) func(context.Context, int, *capability.Request) (*provider.Reply, error) {
	return func(context.Context, int, *capability.Request) (*provider.Reply, error) {
		return &provider.Reply{Text: s, Model: "m"}, nil
	}
}

func blockUntilDone(ctx context.Context, _ int, _ *capability.Request) (*provider.Reply, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type testProvider struct {
	id      string
	ready   bool
	adapter *fakeAdapter
}

func setup(t *testing.T, c capability.Capability, opts []Option, providers ...testProvider) (*Orchestrator, []provider.Descriptor) {
	t.Helper()
	reg := provider.NewRegistry()
	var ids []string
	for i, p := range providers {
		ready := p.ready
		require.NoError(t, reg.Register(provider.Descriptor{
			ID:           p.id,
			Capabilities: []capability.Capability{c},
			Priority:     i,
			Ready:        func() bool { return ready },
		}, map[capability.Capability]provider.Adapter{c: p.adapter}))
		ids = append(ids, p.id)
	}
	require.NoError(t, reg.SetChain(c, ids))
	return New(reg, zerolog.Nop(), opts...), reg.ProvidersFor(c)
}

func rewriteReq(text string) *capability.Request {
	return &capability.Request{ID: "req-1", Capability: capability.Rewrite, Text: text}
}

func TestExecute_NotReadyTimeoutSuccess(t *testing.T) {
	a := &fakeAdapter{fn: textReply("never")}
	b := &fakeAdapter{fn: blockUntilDone}
	c := &fakeAdapter{fn: textReply("one two three four")}

	o, chain := setup(t, capability.Rewrite, []Option{WithTimeout(20 * time.Millisecond)},
		testProvider{"a", false, a},
		testProvider{"b", true, b},
		testProvider{"c", true, c},
	)

	res, err := o.Execute(context.Background(), rewriteReq("one two three"), chain)
	require.NoError(t, err)

	assert.Equal(t, "c", res.Provider)
	assert.False(t, res.Retried)
	assert.Equal(t, "req-1", res.RequestID)
	assert.Equal(t, 0, a.count(), "not-ready provider must not be called")
	assert.Equal(t, 1, b.count())
	assert.Equal(t, 1, c.count())

	require.Len(t, res.Attempts, 3)
	assert.Equal(t, capability.OutcomeSkipped, res.Attempts[0].Outcome)
	assert.Equal(t, ReasonNotReady, res.Attempts[0].Reason)
	assert.Equal(t, capability.OutcomeFailed, res.Attempts[1].Outcome)
	assert.Equal(t, string(KindTransient), res.Attempts[1].Kind)
	assert.Equal(t, ReasonTimeout, res.Attempts[1].Reason)
	assert.Equal(t, capability.OutcomeSuccess, res.Attempts[2].Outcome)
}

func TestExecute_QualityRetryAcceptedOnRepeatFailure(t *testing.T) {
	a := &fakeAdapter{fn: textReply("short")}
	b := &fakeAdapter{fn: textReply("this would have been long enough")}

	o, chain := setup(t, capability.Rewrite, nil,
		testProvider{"a", true, a},
		testProvider{"b", true, b},
	)

	res, err := o.Execute(context.Background(), rewriteReq("one two three four"), chain)
	require.NoError(t, err)

	assert.Equal(t, "a", res.Provider)
	assert.True(t, res.Retried)
	assert.Equal(t, "short", res.Text)
	assert.Equal(t, 2, a.count(), "exactly one retry on the same provider")
	assert.Equal(t, 0, b.count(), "a gate failure must not fall back")

	require.Len(t, res.Attempts, 2)
	assert.Equal(t, ReasonQuality, res.Attempts[0].Reason)
	assert.False(t, res.Attempts[0].Retry)
	assert.True(t, res.Attempts[1].Retry)
	assert.Equal(t, capability.OutcomeSuccess, res.Attempts[1].Outcome)

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Empty(t, a.calls[0].Options.Escalation)
	assert.Contains(t, a.calls[1].Options.Escalation, "at least 4 words")
}

func TestExecute_QualityRetryPasses(t *testing.T) {
	a := &fakeAdapter{fn: func(_ context.Context, n int, _ *capability.Request) (*provider.Reply, error) {
		if n == 1 {
			return &provider.Reply{Text: "too short"}, nil
		}
		return &provider.Reply{Text: "now it is long enough"}, nil
	}}
	o, chain := setup(t, capability.Rewrite, nil, testProvider{"a", true, a})

	res, err := o.Execute(context.Background(), rewriteReq("one two three four"), chain)
	require.NoError(t, err)
	assert.True(t, res.Retried)
	assert.Equal(t, "now it is long enough", res.Text)
	assert.Empty(t, res.Attempts[1].Reason)
}

func TestExecute_RetryErrorFallsBack(t *testing.T) {
	a := &fakeAdapter{fn: func(_ context.Context, n int, _ *capability.Request) (*provider.Reply, error) {
		if n == 1 {
			return &provider.Reply{Text: "short"}, nil
		}
		return nil, &provider.StatusError{Provider: "a", StatusCode: 500}
	}}
	b := &fakeAdapter{fn: textReply("plenty of words in this one")}
	o, chain := setup(t, capability.Rewrite, nil,
		testProvider{"a", true, a},
		testProvider{"b", true, b},
	)

	res, err := o.Execute(context.Background(), rewriteReq("one two three"), chain)
	require.NoError(t, err)
	assert.Equal(t, "b", res.Provider)
	assert.False(t, res.Retried)
	assert.Equal(t, 2, a.count())
	assert.Equal(t, 1, b.count())
	require.Len(t, res.Attempts, 3)
	assert.Equal(t, ReasonServerError, res.Attempts[1].Reason)
}

func TestExecute_AtMostTwoInvocationsPerProvider(t *testing.T) {
	never := GateFunc(func(*capability.Request, *capability.Result) error {
		return &QualityError{Capability: capability.Rewrite, Reason: "never good"}
	})
	adapters := []*fakeAdapter{
		{fn: textReply("x")},
		{fn: textReply("y")},
		{fn: textReply("z")},
	}
	o, chain := setup(t, capability.Rewrite, []Option{WithGate(never)},
		testProvider{"a", true, adapters[0]},
		testProvider{"b", true, adapters[1]},
		testProvider{"c", true, adapters[2]},
	)

	res, err := o.Execute(context.Background(), rewriteReq("input"), chain)
	require.NoError(t, err)
	assert.Equal(t, "a", res.Provider)
	for i, a := range adapters {
		assert.LessOrEqual(t, a.count(), 2, "provider %d", i)
	}
}

func TestExecute_FirstSuccessWins(t *testing.T) {
	adapters := []*fakeAdapter{
		{fn: func(context.Context, int, *capability.Request) (*provider.Reply, error) {
			return nil, errors.New("429 Too Many Requests")
		}},
		{fn: textReply("good answer here")},
		{fn: textReply("never reached")},
	}
	o, chain := setup(t, capability.Rewrite, nil,
		testProvider{"a", true, adapters[0]},
		testProvider{"b", true, adapters[1]},
		testProvider{"c", true, adapters[2]},
	)

	res, err := o.Execute(context.Background(), rewriteReq("good answer"), chain)
	require.NoError(t, err)
	assert.Equal(t, "b", res.Provider)
	assert.Equal(t, []int{1, 1, 0}, []int{adapters[0].count(), adapters[1].count(), adapters[2].count()})
	assert.Equal(t, ReasonRateLimit, res.Attempts[0].Reason)
}

func TestExecute_ChainExhausted(t *testing.T) {
	fail := &fakeAdapter{fn: func(context.Context, int, *capability.Request) (*provider.Reply, error) {
		return nil, &provider.StatusError{Provider: "b", StatusCode: 401, Body: "bad key"}
	}}
	o, chain := setup(t, capability.Rewrite, nil,
		testProvider{"a", false, &fakeAdapter{fn: textReply("x")}},
		testProvider{"b", true, fail},
	)

	_, err := o.Execute(context.Background(), rewriteReq("hello"), chain)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChainExhausted))

	var ce *ChainError
	require.True(t, errors.As(err, &ce))
	require.Len(t, ce.Attempts, 2)
	assert.False(t, ce.AllSkipped())
	assert.Equal(t, string(KindRejected), ce.Attempts[1].Kind)
	assert.Equal(t, ReasonAuth, ce.Attempts[1].Reason)
	assert.Contains(t, err.Error(), "a: skipped(not-ready)")
	assert.Contains(t, err.Error(), "b: failed(auth)")
}

func TestExecute_AllSkipped(t *testing.T) {
	o, chain := setup(t, capability.Rewrite, nil,
		testProvider{"a", false, &fakeAdapter{fn: textReply("x")}},
	)
	_, err := o.Execute(context.Background(), rewriteReq("hello"), chain)

	var ce *ChainError
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.AllSkipped())

	_, err = o.Execute(context.Background(), rewriteReq("hello"), nil)
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Error(), "no providers configured")
}

func TestExecute_MalformedReplyFallsBack(t *testing.T) {
	empty := &fakeAdapter{fn: textReply("   ")}
	good := &fakeAdapter{fn: textReply("fine output")}
	o, chain := setup(t, capability.Rewrite, nil,
		testProvider{"a", true, empty},
		testProvider{"b", true, good},
	)

	res, err := o.Execute(context.Background(), rewriteReq("fine"), chain)
	require.NoError(t, err)
	assert.Equal(t, "b", res.Provider)
	assert.Equal(t, string(KindMalformed), res.Attempts[0].Kind)
	assert.Equal(t, 1, empty.count(), "malformed replies are not quality retries")
}

func TestExecute_CallerCancellationStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &fakeAdapter{fn: func(ctx context.Context, _ int, _ *capability.Request) (*provider.Reply, error) {
		cancel()
		return nil, ctx.Err()
	}}
	b := &fakeAdapter{fn: textReply("unused")}
	o, chain := setup(t, capability.Rewrite, nil,
		testProvider{"a", true, a},
		testProvider{"b", true, b},
	)

	_, err := o.Execute(ctx, rewriteReq("x"), chain)
	var ce *ChainError
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.Cancelled())
	assert.Equal(t, 0, b.count())
}

func TestExecute_Detection(t *testing.T) {
	det := &fakeAdapter{fn: func(context.Context, int, *capability.Request) (*provider.Reply, error) {
		return &provider.Reply{Probability: provider.Probability(0.873)}, nil
	}}
	o, chain := setup(t, capability.Detect, nil, testProvider{"gptzero", true, det})

	req := &capability.Request{ID: "d", Capability: capability.Detect, Text: strings.Repeat("word ", 20)}
	res, err := o.Execute(context.Background(), req, chain)
	require.NoError(t, err)
	require.NotNil(t, res.Detection)
	assert.InDelta(t, 87.3, res.Detection.Probability, 0.001)
	assert.True(t, res.Detection.IsAIGenerated)
	assert.InDelta(t, 12.7, res.Detection.HumanLikelihood, 0.001)
	assert.Equal(t, "Likely AI-generated", res.Detection.Assessment)
	assert.False(t, res.Retried, "detection has no quality gate")
}

func TestRun_PreferredProvider(t *testing.T) {
	a := &fakeAdapter{fn: textReply("from a ok")}
	b := &fakeAdapter{fn: textReply("from b ok")}
	o, _ := setup(t, capability.Rewrite, nil,
		testProvider{"a", true, a},
		testProvider{"b", true, b},
	)

	req := rewriteReq("hi")
	req.Options.PreferredProvider = "b"
	res, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "b", res.Provider)

	req.Options.PreferredProvider = "zzz"
	_, err = o.Run(context.Background(), req)
	var ve *capability.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestRun_ModelHintStaysWithPinnedProvider(t *testing.T) {
	down := &fakeAdapter{fn: func(context.Context, int, *capability.Request) (*provider.Reply, error) {
		return nil, errors.New("503 service unavailable")
	}}
	fallback := &fakeAdapter{fn: textReply("rewritten by fallback")}
	o, _ := setup(t, capability.Rewrite, nil,
		testProvider{"openai", true, fallback},
		testProvider{"anthropic", true, down},
	)

	req := rewriteReq("rewrite me")
	req.Options.PreferredProvider = "anthropic"
	req.Options.ModelHint = "claude-3-5-haiku-latest"
	res, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "openai", res.Provider)

	require.Equal(t, 1, down.count())
	assert.Equal(t, "claude-3-5-haiku-latest", down.calls[0].Options.ModelHint)
	require.Equal(t, 1, fallback.count())
	assert.Empty(t, fallback.calls[0].Options.ModelHint, "fallback runs its configured model")
	assert.Equal(t, "claude-3-5-haiku-latest", req.Options.ModelHint, "caller request is not modified")
}

func TestExecute_ModelHintGoesToChainHead(t *testing.T) {
	head := &fakeAdapter{fn: textReply("one two")}
	next := &fakeAdapter{fn: textReply("one two")}
	o, chain := setup(t, capability.Rewrite, nil,
		testProvider{"head", false, head},
		testProvider{"next", true, next},
	)

	req := rewriteReq("one two")
	req.Options.ModelHint = "gpt-4o"
	_, err := o.Execute(context.Background(), req, chain)
	require.NoError(t, err)
	require.Equal(t, 1, next.count())
	assert.Empty(t, next.calls[0].Options.ModelHint)
}

type captureRecorder struct {
	mu   sync.Mutex
	rows []Summary
}

func (c *captureRecorder) Record(s Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, s)
}

func TestExecute_Records(t *testing.T) {
	rec, second := &captureRecorder{}, &captureRecorder{}
	o, chain := setup(t, capability.Rewrite, []Option{WithRecorder(rec), WithRecorder(second)},
		testProvider{"a", true, &fakeAdapter{fn: textReply("ok then")}},
	)

	_, err := o.Execute(context.Background(), rewriteReq("ok"), chain)
	require.NoError(t, err)
	require.Len(t, rec.rows, 1)
	assert.Equal(t, "a", rec.rows[0].Provider)
	assert.Equal(t, "req-1", rec.rows[0].RequestID)
	assert.Empty(t, rec.rows[0].Error)
	assert.Len(t, second.rows, 1, "every recorder sees the summary")
}
