// Package orchestrator runs a capability request through an ordered chain of
// providers: skip what is not configured, fall back on failure, retry once on
// the same provider when a result fails the quality gate.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/ai-relay/internal/capability"
	"github.com/snarg/ai-relay/internal/metrics"
	"github.com/snarg/ai-relay/internal/provider"
)

// DefaultTimeout bounds every provider call.
const DefaultTimeout = 30 * time.Second

// ReasonQuality marks an attempt whose result failed the quality gate.
const ReasonQuality = "quality"

// Chains resolves provider chains and adapters. *provider.Registry implements it.
type Chains interface {
	Chain(c capability.Capability, preferred string) ([]provider.Descriptor, error)
	Adapter(c capability.Capability, id string) (provider.Adapter, bool)
}

// Summary describes one finished orchestration for the audit log.
type Summary struct {
	RequestID  string
	Capability capability.Capability
	Provider   string
	Retried    bool
	Error      string
	Attempts   []capability.Attempt
	StartedAt  time.Time
	Duration   time.Duration
}

// Recorder receives a Summary for every orchestration. Record must not block.
type Recorder interface {
	Record(s Summary)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout sets the per-call provider timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithGate replaces the default WordCountGate.
func WithGate(g Gate) Option {
	return func(o *Orchestrator) { o.gate = g }
}

// WithRecorder attaches a recorder. Each recorder sees every Summary, in the
// order they were attached.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorders = append(o.recorders, r) }
}

// Orchestrator executes requests against provider chains. It holds no
// per-request state and is safe for concurrent use.
type Orchestrator struct {
	chains    Chains
	gate      Gate
	timeout   time.Duration
	recorders []Recorder
	log       zerolog.Logger
}

// New creates an Orchestrator.
func New(chains Chains, log zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		chains:  chains,
		gate:    WordCountGate{},
		timeout: DefaultTimeout,
		log:     log,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Timeout returns the per-call provider timeout.
func (o *Orchestrator) Timeout() time.Duration { return o.timeout }

// Chain resolves the provider chain for c with preferred at its head.
func (o *Orchestrator) Chain(c capability.Capability, preferred string) ([]provider.Descriptor, error) {
	return o.chains.Chain(c, preferred)
}

// Run resolves the chain for req (honouring its preferred provider) and executes it.
func (o *Orchestrator) Run(ctx context.Context, req *capability.Request) (*capability.Result, error) {
	chain, err := o.chains.Chain(req.Capability, req.Options.PreferredProvider)
	if err != nil {
		metrics.OrchestrationsTotal.WithLabelValues(string(req.Capability), "invalid").Inc()
		return nil, err
	}
	return o.Execute(ctx, req, chain)
}

// Execute tries each provider in chain order and returns the first result
// that passes the gate. Providers are never called concurrently for the same
// request. When every provider is skipped or fails, the error is a *ChainError.
func (o *Orchestrator) Execute(ctx context.Context, req *capability.Request, chain []provider.Descriptor) (*capability.Result, error) {
	start := time.Now()
	log := o.log.With().
		Str("request_id", req.ID).
		Str("capability", string(req.Capability)).
		Logger()

	var (
		attempts []capability.Attempt
		lastErr  error
	)

	// A model hint names a model of one provider: the pinned one, else the chain head.
	hintTarget := req.Options.PreferredProvider
	if hintTarget == "" && len(chain) > 0 {
		hintTarget = chain[0].ID
	}

	for _, d := range chain {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		if !d.IsReady() {
			attempts = append(attempts, o.skip(req, d.ID, ReasonNotReady))
			continue
		}
		adapter, ok := o.chains.Adapter(req.Capability, d.ID)
		if !ok {
			attempts = append(attempts, o.skip(req, d.ID, ReasonNoAdapter))
			continue
		}

		preq := scopeModelHint(req, hintTarget, d.ID)
		res, att, err := o.call(ctx, log, adapter, d.ID, preq, false)
		if err != nil {
			attempts = append(attempts, att)
			lastErr = err
			continue
		}

		gateErr := o.gate.Check(req, res)
		if gateErr == nil {
			attempts = append(attempts, att)
			return o.finish(log, req, res, attempts, false, start), nil
		}

		// Quality miss: record it and ask the same provider once more, harder.
		att.Outcome = capability.OutcomeFailed
		att.Kind = string(KindQuality)
		att.Reason = ReasonQuality
		attempts = append(attempts, att)
		metrics.QualityRetriesTotal.WithLabelValues(string(req.Capability), d.ID).Inc()
		log.Info().Str("provider", d.ID).Err(gateErr).Msg("quality check failed, retrying with escalated instructions")

		retryRes, retryAtt, err := o.call(ctx, log, adapter, d.ID, Escalate(preq, gateErr), true)
		if err != nil {
			attempts = append(attempts, retryAtt)
			lastErr = err
			continue
		}
		if err := o.gate.Check(req, retryRes); err != nil {
			retryAtt.Kind = string(KindQuality)
			retryAtt.Reason = ReasonQuality
			log.Warn().Str("provider", d.ID).Err(err).Msg("retry still failed quality check, accepting result")
		}
		attempts = append(attempts, retryAtt)
		return o.finish(log, req, retryRes, attempts, true, start), nil
	}

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	chainErr := &ChainError{Capability: req.Capability, Attempts: attempts, Err: lastErr}

	result := "exhausted"
	if chainErr.Cancelled() {
		result = "cancelled"
	}
	metrics.OrchestrationsTotal.WithLabelValues(string(req.Capability), result).Inc()
	log.Warn().
		Int("attempts", len(attempts)).
		Dur("duration", time.Since(start)).
		Err(chainErr).
		Msg("provider chain exhausted")
	o.record(Summary{
		RequestID:  req.ID,
		Capability: req.Capability,
		Error:      chainErr.Error(),
		Attempts:   attempts,
		StartedAt:  start,
		Duration:   time.Since(start),
	})
	return nil, chainErr
}

// scopeModelHint returns req without its model hint unless id is the provider
// the hint was meant for.
func scopeModelHint(req *capability.Request, target, id string) *capability.Request {
	if req.Options.ModelHint == "" || id == target {
		return req
	}
	clone := *req
	clone.Options.ModelHint = ""
	return &clone
}

// call invokes one adapter with the per-call timeout and assembles its reply.
func (o *Orchestrator) call(ctx context.Context, log zerolog.Logger, a provider.Adapter, id string, req *capability.Request, retry bool) (*capability.Result, capability.Attempt, error) {
	att := capability.Attempt{
		Provider:    id,
		Retry:       retry,
		StartedAt:   time.Now(),
		RequestSize: req.PayloadSize(),
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	reply, err := a.Invoke(callCtx, req)
	var res *capability.Result
	if err == nil {
		res, err = Assemble(id, req.Capability, reply)
	}
	att.EndedAt = time.Now()
	metrics.ProviderCallDuration.WithLabelValues(string(req.Capability), id).Observe(att.Duration().Seconds())

	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) {
			// Some SDKs flatten the context error into text.
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		kind, reason := Classify(err)
		att.Outcome = capability.OutcomeFailed
		att.Kind = string(kind)
		att.Reason = reason
		metrics.ProviderAttemptsTotal.WithLabelValues(string(req.Capability), id, string(att.Outcome)).Inc()
		log.Warn().
			Str("provider", id).
			Bool("retry", retry).
			Str("kind", att.Kind).
			Str("reason", reason).
			Dur("duration", att.Duration()).
			Err(err).
			Msg("provider attempt failed")
		return nil, att, fmt.Errorf("%s: %w", id, err)
	}

	att.Outcome = capability.OutcomeSuccess
	att.ResponseSize = reply.RawSize
	if att.ResponseSize == 0 {
		att.ResponseSize = len(res.Text)
	}
	metrics.ProviderAttemptsTotal.WithLabelValues(string(req.Capability), id, string(att.Outcome)).Inc()
	return res, att, nil
}

func (o *Orchestrator) skip(req *capability.Request, id, reason string) capability.Attempt {
	now := time.Now()
	metrics.ProviderAttemptsTotal.WithLabelValues(string(req.Capability), id, string(capability.OutcomeSkipped)).Inc()
	return capability.Attempt{
		Provider:    id,
		Outcome:     capability.OutcomeSkipped,
		Kind:        string(KindNotReady),
		Reason:      reason,
		StartedAt:   now,
		EndedAt:     now,
		RequestSize: req.PayloadSize(),
	}
}

func (o *Orchestrator) finish(log zerolog.Logger, req *capability.Request, res *capability.Result, attempts []capability.Attempt, retried bool, start time.Time) *capability.Result {
	res.RequestID = req.ID
	res.Attempts = attempts
	res.Retried = retried

	metrics.OrchestrationsTotal.WithLabelValues(string(req.Capability), "ok").Inc()
	log.Info().
		Str("provider", res.Provider).
		Bool("retried", retried).
		Int("attempts", len(attempts)).
		Dur("duration", time.Since(start)).
		Msg("orchestration complete")
	o.record(Summary{
		RequestID:  req.ID,
		Capability: req.Capability,
		Provider:   res.Provider,
		Retried:    retried,
		Attempts:   attempts,
		StartedAt:  start,
		Duration:   time.Since(start),
	})
	return res
}

func (o *Orchestrator) record(s Summary) {
	for _, r := range o.recorders {
		r.Record(s)
	}
}
