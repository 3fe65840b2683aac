package router

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"casefile/internal/config"
	"casefile/internal/faults"
	"casefile/internal/metrics"
	"casefile/internal/models"
	"casefile/internal/normalize"
	"casefile/internal/provider"
	"casefile/internal/resilience"
)

type scriptedTransport struct {
	calls   atomic.Int32
	replies []func(ctx context.Context, body models.RequestBody) (*models.Completion, error)
	bodies  []models.RequestBody
}

func (s *scriptedTransport) Name() string { return "scripted" }

func (s *scriptedTransport) ListModels(ctx context.Context) ([]models.Model, error) {
	return []models.Model{{ID: "gpt-4o", Provider: "scripted"}}, nil
}

func (s *scriptedTransport) Send(ctx context.Context, body models.RequestBody) (*models.Completion, error) {
	n := int(s.calls.Add(1)) - 1
	s.bodies = append(s.bodies, body)
	if n >= len(s.replies) {
		n = len(s.replies) - 1
	}
	return s.replies[n](ctx, body)
}

func reply(content string) func(context.Context, models.RequestBody) (*models.Completion, error) {
	return func(context.Context, models.RequestBody) (*models.Completion, error) {
		return &models.Completion{Model: "gpt-4o", Content: content, Usage: models.Usage{PromptTokens: 3, CompletionTokens: 2}}, nil
	}
}

func fail(status int) func(context.Context, models.RequestBody) (*models.Completion, error) {
	return func(context.Context, models.RequestBody) (*models.Completion, error) {
		return nil, &faults.ProviderError{Status: status, HTTPStatus: status}
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

func newRouter(t *testing.T, tr provider.Transport, opts ...Option) *Router {
	t.Helper()
	reg := provider.NewRegistry()
	require.NoError(t, reg.RegisterProvider(context.Background(), tr, map[string]string{"detective": "gpt-4o"}))

	policy := resilience.DefaultRetryPolicy()
	policy.Sleep = noSleep
	base := []Option{
		WithRetryPolicy(policy),
		WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
	}
	return New(reg, append(base, opts...)...)
}

func userRequest(model string) models.CompletionRequest {
	temp := 0.7
	return models.CompletionRequest{
		Model:           model,
		Messages:        []models.Message{{Role: models.RoleUser, Content: "Write a case."}},
		Temperature:     &temp,
		MaxOutputTokens: 800,
	}
}

func TestComplete_PersistentUnavailableStopsAtCeiling(t *testing.T) {
	tr := &scriptedTransport{replies: []func(context.Context, models.RequestBody) (*models.Completion, error){
		fail(503), fail(503), fail(503), fail(503), fail(503),
	}}
	m := metrics.New()
	r := newRouter(t, tr, WithMetrics(m))

	_, err := r.Complete(context.Background(), userRequest("gpt-4o"))

	var perr *faults.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 503, perr.Status)
	assert.Equal(t, 3, faults.AttemptsOf(err))
	assert.EqualValues(t, 3, tr.calls.Load())

	stats := r.Breaker().Stats()
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, "closed", stats.State)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RetriesTotal.WithLabelValues("scripted")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("scripted", "provider_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CallsTotal.WithLabelValues("gpt-4o", "provider_error")))
}

func TestComplete_RecoversAfterTransientFailure(t *testing.T) {
	tr := &scriptedTransport{replies: []func(context.Context, models.RequestBody) (*models.Completion, error){
		fail(429), reply("done"),
	}}
	r := newRouter(t, tr)

	resp, err := r.Complete(context.Background(), userRequest("detective"))
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	assert.EqualValues(t, 2, tr.calls.Load())
	assert.Equal(t, 0, r.Breaker().Stats().Failures)

	require.Len(t, tr.bodies, 2)
	assert.Equal(t, "gpt-4o", tr.bodies[0].Model, "alias resolves to target model")
}

func TestComplete_UnauthorizedNeverRetried(t *testing.T) {
	tr := &scriptedTransport{replies: []func(context.Context, models.RequestBody) (*models.Completion, error){fail(401)}}
	r := newRouter(t, tr)

	_, err := r.Complete(context.Background(), userRequest("gpt-4o"))
	assert.Equal(t, faults.KindProviderError, faults.KindOf(err))
	assert.EqualValues(t, 1, tr.calls.Load())
}

func TestComplete_CircuitOpenShortCircuits(t *testing.T) {
	tr := &scriptedTransport{replies: []func(context.Context, models.RequestBody) (*models.Completion, error){fail(400)}}
	cb := resilience.NewCircuitBreaker(resilience.BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	r := newRouter(t, tr, WithBreaker(cb))

	_, err := r.Complete(context.Background(), userRequest("gpt-4o"))
	require.Error(t, err)

	_, err = r.Complete(context.Background(), userRequest("gpt-4o"))
	var open *faults.CircuitOpenError
	require.True(t, errors.As(err, &open))
	assert.Greater(t, open.RetryAfter, time.Duration(0))
	assert.EqualValues(t, 1, tr.calls.Load())
}

func TestComplete_InvalidRequestSkipsTransport(t *testing.T) {
	tr := &scriptedTransport{replies: []func(context.Context, models.RequestBody) (*models.Completion, error){reply("x")}}
	r := newRouter(t, tr)

	req := userRequest("gpt-4o")
	hot := 3.0
	req.Temperature = &hot

	_, err := r.Complete(context.Background(), req)
	assert.Equal(t, faults.KindInvalidRequest, faults.KindOf(err))
	assert.EqualValues(t, 0, tr.calls.Load())
	assert.EqualValues(t, 0, r.Breaker().Stats().TotalCalls)
}

func TestComplete_UnknownModelWithoutDefault(t *testing.T) {
	r := newRouter(t, &scriptedTransport{})

	_, err := r.Complete(context.Background(), userRequest("mystery"))
	assert.Equal(t, faults.KindInvalidRequest, faults.KindOf(err))
}

func TestComplete_DialectShaping(t *testing.T) {
	tr := &scriptedTransport{replies: []func(context.Context, models.RequestBody) (*models.Completion, error){reply("ok")}}
	r := newRouter(t, tr)
	require.NoError(t, r.registry.SetDefault("scripted"))

	_, err := r.Complete(context.Background(), userRequest("o3-mini"))
	require.NoError(t, err)

	body := tr.bodies[0]
	assert.Nil(t, body.Temperature)
	assert.Nil(t, body.MaxTokens)
	require.NotNil(t, body.MaxCompletionTokens)
	assert.Equal(t, 800, *body.MaxCompletionTokens)
}

func TestComplete_CallDeadlineBecomesTimeout(t *testing.T) {
	tr := &scriptedTransport{replies: []func(context.Context, models.RequestBody) (*models.Completion, error){
		func(ctx context.Context, _ models.RequestBody) (*models.Completion, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}
	r := newRouter(t, tr, WithCallTimeout(30*time.Millisecond))

	_, err := r.Complete(context.Background(), userRequest("gpt-4o"))

	var timeout *faults.TimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, 30*time.Millisecond, timeout.After)
	assert.Equal(t, 1, timeout.Attempts)
}

func TestComplete_AttemptTimeoutsKeepAttemptCount(t *testing.T) {
	hang := &scriptedTransport{replies: []func(context.Context, models.RequestBody) (*models.Completion, error){
		func(ctx context.Context, _ models.RequestBody) (*models.Completion, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}
	policy := resilience.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    20 * time.Millisecond,
		Sleep:       noSleep,
	}
	r := newRouter(t, provider.WithTimeout(hang, 50*time.Millisecond),
		WithRetryPolicy(policy),
		WithAttemptTimeout(50*time.Millisecond),
	)

	_, err := r.Complete(context.Background(), userRequest("gpt-4o"))

	require.Error(t, err)
	assert.Equal(t, faults.KindTransportTimeout, faults.KindOf(err))
	assert.Equal(t, 3, faults.AttemptsOf(err))
	assert.Equal(t, int32(3), hang.calls.Load())
}

func TestComplete_CallerCancelIsNotABreakerFailure(t *testing.T) {
	tr := &scriptedTransport{replies: []func(context.Context, models.RequestBody) (*models.Completion, error){
		func(ctx context.Context, _ models.RequestBody) (*models.Completion, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}
	r := newRouter(t, tr)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := r.Complete(ctx, userRequest("gpt-4o"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, r.Breaker().Stats().Failures)
}

func TestComplete_RecordsSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	tr := &scriptedTransport{replies: []func(context.Context, models.RequestBody) (*models.Completion, error){fail(500), reply("ok")}}
	r := newRouter(t, tr, WithTracerProvider(tp))

	_, err := r.Complete(context.Background(), userRequest("gpt-4o"))
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "completion.call", spans[0].Name())

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "gpt-4o", attrs["casefile.model"])
	assert.Equal(t, "standard", attrs["casefile.dialect"])
}

func TestComplete_UnknownModelWarnedOnce(t *testing.T) {
	var buf bytes.Buffer
	tr := &scriptedTransport{replies: []func(context.Context, models.RequestBody) (*models.Completion, error){reply("ok")}}
	r := newRouter(t, tr, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	require.NoError(t, r.registry.SetDefault("scripted"))

	for range 3 {
		_, err := r.Complete(context.Background(), userRequest("banana-7"))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, strings.Count(buf.String(), "is not recognised"))
}

func TestStructured_FencedReply(t *testing.T) {
	tr := &scriptedTransport{replies: []func(context.Context, models.RequestBody) (*models.Completion, error){
		reply("Sure! ```json\n{\"title\":\"X\"}\n```"),
	}}
	m := metrics.New()
	r := newRouter(t, tr, WithMetrics(m))

	got, err := StructuredAs[models.GeneratedCase](context.Background(), r, normalize.SchemaCase, userRequest("gpt-4o"), normalize.Hints{})
	require.NoError(t, err)

	assert.Equal(t, "X", got.Case.Title)
	assert.Equal(t, "medium", got.Case.Difficulty)
	assert.NotNil(t, got.Clues)
	assert.NotNil(t, got.Suspects)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExtractionsTotal.WithLabelValues("fenced")))
}

func TestStructured_ParseAndValidationErrors(t *testing.T) {
	tr := &scriptedTransport{replies: []func(context.Context, models.RequestBody) (*models.Completion, error){
		reply("I cannot help with that."),
	}}
	r := newRouter(t, tr)

	_, err := r.Structured(context.Background(), normalize.SchemaCase, userRequest("gpt-4o"), normalize.Hints{})
	var parseErr *faults.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, "I cannot help with that.", parseErr.Raw)

	tr2 := &scriptedTransport{replies: []func(context.Context, models.RequestBody) (*models.Completion, error){
		reply(`{"trustworthiness": 80}`),
	}}
	r2 := newRouter(t, tr2)
	_, err = r2.Structured(context.Background(), normalize.SchemaSuspectAnalysis, userRequest("gpt-4o"), normalize.Hints{})
	assert.Equal(t, faults.KindValidationError, faults.KindOf(err))

	_, err = r2.Structured(context.Background(), normalize.Schema("poem"), userRequest("gpt-4o"), normalize.Hints{})
	assert.Equal(t, faults.KindInvalidRequest, faults.KindOf(err))
}

func TestStructured_StrictModeFromRouterDefault(t *testing.T) {
	tr := &scriptedTransport{replies: []func(context.Context, models.RequestBody) (*models.Completion, error){
		reply("```json\n{\"title\":\"X\"}\n```"),
	}}
	r := newRouter(t, tr, WithResponseFormat("json_object"))

	_, err := r.Structured(context.Background(), normalize.SchemaCase, userRequest("gpt-4o"), normalize.Hints{})
	assert.Equal(t, faults.KindParseError, faults.KindOf(err))
	require.NotNil(t, tr.bodies[0].ResponseFormat)
	assert.Equal(t, "json_object", tr.bodies[0].ResponseFormat.Type)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Retry.MaxAttempts = 2
	cfg.Breaker.FailureThreshold = 1
	cfg.AttemptTimeout = 5 * time.Second
	cfg.Service.CulpritFallback = "none"

	tr := &scriptedTransport{replies: []func(context.Context, models.RequestBody) (*models.Completion, error){fail(400)}}
	reg := provider.NewRegistry()
	require.NoError(t, reg.RegisterProvider(context.Background(), tr, nil))

	m := metrics.New()
	r, err := FromConfig(reg, cfg, m, WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	require.NoError(t, err)

	assert.Equal(t, 2*5*time.Second+time.Second, r.Ceiling())
	assert.Equal(t, normalize.NoCulprit, r.normalizer.CulpritFallback)

	_, err = r.Complete(context.Background(), userRequest("gpt-4o"))
	require.Error(t, err)
	assert.Equal(t, "open", r.Breaker().Stats().State)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState))

	cfg.Retry.MaxAttempts = 0
	_, err = FromConfig(reg, cfg, m)
	assert.Error(t, err)
}
