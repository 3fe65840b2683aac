package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"casefile/internal/config"
	"casefile/internal/extract"
	"casefile/internal/faults"
	"casefile/internal/metrics"
	"casefile/internal/models"
	"casefile/internal/normalize"
	"casefile/internal/provider"
	"casefile/internal/resilience"
	"casefile/internal/translator"
)

const tracerName = "casefile/router"

// Router runs one logical completion call: model lookup, request shaping,
// circuit breaker, bounded retries and the provider attempt. Structured
// calls additionally recover and normalize a JSON payload.
type Router struct {
	registry       *provider.Registry
	retry          resilience.RetryPolicy
	breaker        *resilience.CircuitBreaker
	attemptTimeout time.Duration
	callTimeout    time.Duration
	responseFormat string
	normalizer     *normalize.Normalizer
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	logger         *slog.Logger

	warned sync.Map
}

// Option customises a Router.
type Option func(*Router)

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(r *Router) { r.retry = p }
}

// WithBreaker installs the breaker shared by every call of the router.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(r *Router) { r.breaker = cb }
}

// WithAttemptTimeout sets the per-attempt window used to derive the call
// ceiling. Transports enforce the window themselves.
func WithAttemptTimeout(d time.Duration) Option {
	return func(r *Router) { r.attemptTimeout = d }
}

// WithCallTimeout overrides the derived ceiling of one logical call.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Router) { r.callTimeout = d }
}

// WithResponseFormat sets the response format used when a request leaves it
// empty.
func WithResponseFormat(format string) Option {
	return func(r *Router) { r.responseFormat = format }
}

// WithNormalizer replaces the schema normalizer.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(r *Router) { r.normalizer = n }
}

// WithMetrics records call, attempt and extraction metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithTracerProvider selects the provider spans are created from.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Router) { r.tracer = tp.Tracer(tracerName) }
}

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New constructs a router backed by the provided registry.
func New(registry *provider.Registry, opts ...Option) *Router {
	r := &Router{
		registry:       registry,
		retry:          resilience.DefaultRetryPolicy(),
		attemptTimeout: 60 * time.Second,
		normalizer:     normalize.New(normalize.FirstSuspect),
		tracer:         otel.Tracer(tracerName),
		logger:         slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.breaker == nil {
		r.breaker = resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig())
	}
	return r
}

// FromConfig builds a router whose policy, breaker and timeouts come from
// cfg. Breaker transitions are logged and exported through m.
func FromConfig(registry *provider.Registry, cfg config.Config, m *metrics.Metrics, opts ...Option) (*Router, error) {
	policy := resilience.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		Multiplier:  cfg.Retry.Multiplier,
		MaxDelay:    cfg.Retry.MaxDelay,
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	breakerCfg := resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
	}
	if err := breakerCfg.Validate(); err != nil {
		return nil, err
	}

	fallback, err := normalize.ParseCulpritFallback(cfg.Service.CulpritFallback)
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithRetryPolicy(policy),
		WithAttemptTimeout(cfg.AttemptTimeout),
		WithCallTimeout(cfg.CallTimeout),
		WithResponseFormat(cfg.ResponseFormat),
		WithNormalizer(normalize.New(fallback)),
		WithMetrics(m),
	}
	r := New(registry, append(base, opts...)...)
	r.breaker = resilience.NewCircuitBreaker(breakerCfg, resilience.WithStateChange(func(from, to resilience.Mode) {
		r.logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
		m.ObserveBreaker(from.String(), to.String(), int(to))
	}))
	return r, nil
}

// Breaker exposes the shared breaker for diagnostics.
func (r *Router) Breaker() *resilience.CircuitBreaker {
	return r.breaker
}

// Ceiling is the overall deadline applied to one logical call.
func (r *Router) Ceiling() time.Duration {
	if r.callTimeout > 0 {
		return r.callTimeout
	}
	return r.retry.Ceiling(r.attemptTimeout)
}

// Complete runs one logical completion call and returns the first
// completion. Failures are classified with the faults taxonomy; the breaker
// records exactly one outcome per call.
func (r *Router) Complete(ctx context.Context, req models.CompletionRequest) (*models.Completion, error) {
	req = req.Clone()
	if req.ResponseFormat == "" {
		req.ResponseFormat = r.responseFormat
	}

	modelInfo, transport, err := r.registry.LookupModel(req.Model)
	if err != nil {
		if errors.Is(err, provider.ErrUnknownModel) {
			return nil, faults.InvalidRequest("%v", err)
		}
		return nil, err
	}
	req.Model = modelInfo.ID
	r.checkModel(req.Model)

	body, err := translator.Shape(req)
	if err != nil {
		return nil, err
	}

	ceiling := r.Ceiling()
	ctx, span := r.tracer.Start(ctx, "completion.call", trace.WithAttributes(
		attribute.String("casefile.model", req.Model),
		attribute.String("casefile.provider", transport.Name()),
		attribute.String("casefile.dialect", string(translator.ProfileFor(req.Model).Dialect)),
		attribute.Int("casefile.messages", len(req.Messages)),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, ceiling)
	defer cancel()

	start := time.Now()
	resp, attempts, err := r.run(callCtx, transport, body)
	if err != nil && ctx.Err() == nil && faults.KindOf(err) != faults.KindTransportTimeout && errors.Is(err, context.DeadlineExceeded) {
		err = &faults.TimeoutError{After: ceiling, Attempts: attempts, Err: err}
	}

	outcome := "ok"
	if err != nil {
		outcome = string(faults.KindOf(err))
		if errors.Is(err, context.Canceled) {
			outcome = "canceled"
		}
	}
	r.metrics.ObserveCall(req.Model, outcome, time.Since(start))
	span.SetAttributes(attribute.Int("casefile.attempts", max(faults.AttemptsOf(err), 1)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		r.logger.Error("completion call failed",
			"model", req.Model,
			"provider", transport.Name(),
			"kind", outcome,
			"attempts", faults.AttemptsOf(err),
			"error", err,
		)
		return nil, err
	}

	r.metrics.ObserveTokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	span.SetStatus(codes.Ok, "")
	return resp, nil
}

// run reports the number of transport attempts alongside the outcome.
func (r *Router) run(ctx context.Context, transport provider.Transport, body models.RequestBody) (*models.Completion, int, error) {
	policy := r.retry
	userObserver := policy.Observer
	policy.Observer = func(attempt int, err error, delay time.Duration) {
		r.metrics.ObserveRetry(transport.Name())
		r.logger.Warn("retrying provider call",
			"provider", transport.Name(),
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if userObserver != nil {
			userObserver(attempt, err, delay)
		}
	}

	var (
		resp     *models.Completion
		attempts int
	)
	err := r.breaker.Do(ctx, func(ctx context.Context) error {
		out, err := resilience.Retry(ctx, policy, func(ctx context.Context, attempt int) (*models.Completion, error) {
			attempts = attempt
			out, err := transport.Send(ctx, body)
			if err != nil {
				r.metrics.ObserveAttempt(transport.Name(), string(faults.KindOf(err)))
				return nil, err
			}
			r.metrics.ObserveAttempt(transport.Name(), "ok")
			return out, nil
		})
		resp = out
		return err
	})
	if err != nil {
		return nil, attempts, err
	}
	return resp, attempts, nil
}

// Structured runs Complete, recovers a JSON object from the reply and maps
// it onto schema. The result is a value of the schema's models type.
func (r *Router) Structured(ctx context.Context, schema normalize.Schema, req models.CompletionRequest, hints normalize.Hints) (any, error) {
	if _, err := normalize.ParseSchema(string(schema)); err != nil {
		return nil, err
	}
	if req.ResponseFormat == "" {
		req.ResponseFormat = r.responseFormat
	}

	resp, err := r.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	payload, err := extract.For(req.ResponseFormat).Extract(resp.Content)
	if err != nil {
		r.metrics.ObserveExtraction("failed")
		r.logger.Warn("no JSON object in reply", "schema", schema, "model", resp.Model, "reply_bytes", len(resp.Content))
		return nil, err
	}
	r.metrics.ObserveExtraction(string(payload.Strategy))
	r.logger.Debug("payload recovered", "schema", schema, "strategy", payload.Strategy)

	return r.normalizer.Normalize(schema, payload.Object, hints)
}

// StructuredCompleter is the structured half of Router.
type StructuredCompleter interface {
	Structured(ctx context.Context, schema normalize.Schema, req models.CompletionRequest, hints normalize.Hints) (any, error)
}

// StructuredAs runs a structured call and asserts the result to T.
func StructuredAs[T any](ctx context.Context, c StructuredCompleter, schema normalize.Schema, req models.CompletionRequest, hints normalize.Hints) (T, error) {
	var zero T
	out, err := c.Structured(ctx, schema, req, hints)
	if err != nil {
		return zero, err
	}
	typed, ok := out.(T)
	if !ok {
		return zero, fmt.Errorf("schema %s produced %T, want %T", schema, out, zero)
	}
	return typed, nil
}

// checkModel logs a sanity warning once per model identifier.
func (r *Router) checkModel(model string) {
	warning := translator.CheckModel(model)
	if warning == "" {
		return
	}
	if _, seen := r.warned.LoadOrStore(model, struct{}{}); seen {
		return
	}
	r.logger.Warn(warning, "model", model)
}
