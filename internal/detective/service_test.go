package detective

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casefile/internal/faults"
	"casefile/internal/metrics"
	"casefile/internal/models"
	"casefile/internal/normalize"
	"casefile/internal/provider"
	"casefile/internal/resilience"
	"casefile/internal/router"
)

type fakeEngine struct {
	mu         sync.Mutex
	requests   []models.CompletionRequest
	hints      []normalize.Hints
	structured func(schema normalize.Schema, req models.CompletionRequest, hints normalize.Hints) (any, error)
	complete   func(req models.CompletionRequest) (*models.Completion, error)
}

func (f *fakeEngine) Structured(ctx context.Context, schema normalize.Schema, req models.CompletionRequest, hints normalize.Hints) (any, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.hints = append(f.hints, hints)
	f.mu.Unlock()
	return f.structured(schema, req, hints)
}

func (f *fakeEngine) Complete(ctx context.Context, req models.CompletionRequest) (*models.Completion, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.complete(req)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func sampleSuspects() []models.Suspect {
	return []models.Suspect{
		{ID: "s1", Name: "Jamie", Description: "A classmate", IsGuilty: true},
		{ID: "s2", Name: "Ms. Rivera", Description: "The teacher"},
	}
}

func sampleClues() []models.Clue {
	return []models.Clue{
		{ID: "c1", Title: "Empty Hook", Description: "The hook is empty"},
		{ID: "c2", Title: "Dinosaur Sticker", Description: "A sticker on a desk"},
		{ID: "c3", Title: "Muddy Shoe", Description: "A shoe print"},
	}
}

func TestGenerateCase_EndToEndThroughRouter(t *testing.T) {
	var body models.RequestBody
	tr := &stubTransport{send: func(ctx context.Context, b models.RequestBody) (*models.Completion, error) {
		body = b
		return &models.Completion{Content: "Here you go!\n```json\n" + `{
			"case": {"title": "The Lost Lunchbox", "difficulty": "easy", "location": "Cafeteria"},
			"clues": [{"title": "Crumbs", "description": "Cookie crumbs on the bench"}],
			"suspects": [{"name": "Sam"}, {"name": "Lee"}],
			"solution": "Lee took the lunchbox home by mistake."
		}` + "\n```"}, nil
	}}
	svc := New(newTestRouter(t, tr), "gpt-4o", WithLogger(quietLogger()))

	got, err := svc.GenerateCase(context.Background(), CaseParams{Theme: "space", Language: "en"})
	require.NoError(t, err)

	assert.Equal(t, "The Lost Lunchbox", got.Case.Title)
	require.Len(t, got.Suspects, 2)
	guilty, ok := got.Guilty()
	require.True(t, ok)
	assert.Equal(t, "Lee", guilty.Name)

	require.NotNil(t, body.Temperature)
	assert.InDelta(t, 0.7, *body.Temperature, 1e-9)
	require.NotNil(t, body.MaxTokens)
	assert.Equal(t, 8192, *body.MaxTokens)
	assert.Contains(t, body.Messages[1].Content, "Create a easy detective case with a space theme")
}

func TestGenerateCase_FallbackOnProviderFailure(t *testing.T) {
	eng := &fakeEngine{structured: func(normalize.Schema, models.CompletionRequest, normalize.Hints) (any, error) {
		return nil, &faults.ProviderError{Status: 503, HTTPStatus: 503, Attempts: 3}
	}}
	var logs bytes.Buffer
	m := metrics.New()
	svc := New(eng, "gpt-4o",
		WithFallbacks(true),
		WithMetrics(m),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)

	got, err := svc.GenerateCase(context.Background(), CaseParams{Difficulty: "easy"})
	require.NoError(t, err)

	assert.Equal(t, "The Missing Backpack", got.Case.Title)
	assert.NotEmpty(t, got.Case.ID)
	require.NotEmpty(t, got.Clues)
	assert.Equal(t, got.Case.ID, got.Clues[0].CaseID)
	guilty, ok := got.Guilty()
	require.True(t, ok)
	assert.Equal(t, "Jamie", guilty.Name)

	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "operation=generate_case")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbacksTotal.WithLabelValues("generate_case")))
}

func TestGenerateCase_NoFallbackWhenDisabled(t *testing.T) {
	want := &faults.ParseError{Raw: "nope"}
	eng := &fakeEngine{structured: func(normalize.Schema, models.CompletionRequest, normalize.Hints) (any, error) {
		return nil, want
	}}
	svc := New(eng, "gpt-4o", WithLogger(quietLogger()))

	_, err := svc.GenerateCase(context.Background(), CaseParams{})
	assert.ErrorIs(t, err, want)
}

func TestGenerateCase_InvalidRequestIsNeverDegraded(t *testing.T) {
	eng := &fakeEngine{structured: func(normalize.Schema, models.CompletionRequest, normalize.Hints) (any, error) {
		return nil, faults.InvalidRequest("model must be provided")
	}}
	svc := New(eng, "", WithFallbacks(true), WithLogger(quietLogger()))

	_, err := svc.GenerateCase(context.Background(), CaseParams{})
	assert.Equal(t, faults.KindInvalidRequest, faults.KindOf(err))
}

func TestGenerateCase_ThaiPrompt(t *testing.T) {
	eng := &fakeEngine{structured: func(normalize.Schema, models.CompletionRequest, normalize.Hints) (any, error) {
		return models.GeneratedCase{}, nil
	}}
	svc := New(eng, "gpt-4o", WithLogger(quietLogger()))

	_, err := svc.GenerateCase(context.Background(), CaseParams{Difficulty: "medium", Location: "โรงเรียน", Language: "TH"})
	require.NoError(t, err)

	msgs := eng.requests[0].Messages
	assert.Equal(t, caseSystemTH, msgs[0].Content)
	assert.Contains(t, msgs[1].Content, "ที่เกิดขึ้นใน โรงเรียน")
}

func TestAnalyzeClue_PassesSuspectHints(t *testing.T) {
	eng := &fakeEngine{structured: func(schema normalize.Schema, _ models.CompletionRequest, hints normalize.Hints) (any, error) {
		assert.Equal(t, normalize.SchemaClueAnalysis, schema)
		return models.ClueAnalysis{Summary: "ok", NextSteps: []string{"look"}}, nil
	}}
	svc := New(eng, "gpt-4o", WithLogger(quietLogger()))

	got, err := svc.AnalyzeClue(context.Background(), ClueRequest{
		Case:       models.Case{Title: "Backpack"},
		Clue:       sampleClues()[0],
		Suspects:   sampleSuspects(),
		Discovered: sampleClues(),
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Summary)

	assert.Len(t, eng.hints[0].Suspects, 2)
	req := eng.requests[0]
	assert.Equal(t, 2048, req.MaxOutputTokens)
	assert.Contains(t, req.Messages[1].Content, "- Jamie: A classmate")
	assert.Contains(t, req.Messages[1].Content, "Other clues already found:")
	assert.NotContains(t, req.Messages[1].Content, "- Empty Hook:")
}

func TestAnalyzeClue_Fallback(t *testing.T) {
	eng := &fakeEngine{structured: func(normalize.Schema, models.CompletionRequest, normalize.Hints) (any, error) {
		return nil, &faults.CircuitOpenError{RetryAfter: time.Second}
	}}
	svc := New(eng, "gpt-4o", WithFallbacks(true), WithLogger(quietLogger()))

	got, err := svc.AnalyzeClue(context.Background(), ClueRequest{Clue: sampleClues()[0]})
	require.NoError(t, err)
	assert.Equal(t, fallbackClueAnalysis.Summary, got.Summary)
	assert.Equal(t, []string{"Continue investigating", "Look for more clues"}, got.NextSteps)
	assert.NotNil(t, got.Connections)
}

func TestAnalyzeClues_ParallelKeepsOrder(t *testing.T) {
	var inFlight, peak atomic.Int32
	eng := &fakeEngine{structured: func(_ normalize.Schema, req models.CompletionRequest, _ normalize.Hints) (any, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)

		for _, c := range sampleClues() {
			if strings.Contains(req.Messages[1].Content, "Title: "+c.Title) {
				return models.ClueAnalysis{Summary: c.ID}, nil
			}
		}
		return nil, errors.New("unknown clue")
	}}
	svc := New(eng, "gpt-4o", WithParallelism(2), WithLogger(quietLogger()))

	got, err := svc.AnalyzeClues(context.Background(), ClueRequest{Suspects: sampleSuspects()}, sampleClues())
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, "c1", got[0].Summary)
	assert.Equal(t, "c2", got[1].Summary)
	assert.Equal(t, "c3", got[2].Summary)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestAnalyzeClues_FirstErrorWins(t *testing.T) {
	eng := &fakeEngine{structured: func(normalize.Schema, models.CompletionRequest, normalize.Hints) (any, error) {
		return nil, &faults.ProviderError{Status: 401, HTTPStatus: 401}
	}}
	svc := New(eng, "gpt-4o", WithLogger(quietLogger()))

	_, err := svc.AnalyzeClues(context.Background(), ClueRequest{}, sampleClues())
	assert.Equal(t, faults.KindProviderError, faults.KindOf(err))
}

func TestAnalyzeSuspect(t *testing.T) {
	eng := &fakeEngine{structured: func(_ normalize.Schema, req models.CompletionRequest, hints normalize.Hints) (any, error) {
		assert.Equal(t, "s2", hints.SuspectID)
		assert.Contains(t, req.Messages[1].Content, "Q: Where were you?\nA: In the library.")
		assert.NotContains(t, req.Messages[1].Content, "Not asked yet")
		return models.SuspectAnalysis{SuspectID: "s2", Trustworthiness: 80}, nil
	}}
	svc := New(eng, "gpt-4o", WithLogger(quietLogger()))

	got, err := svc.AnalyzeSuspect(context.Background(), SuspectRequest{
		Suspect: sampleSuspects()[1],
		Clues:   sampleClues(),
		Interview: &models.Interview{SuspectID: "s2", Questions: []models.InterviewQuestion{
			{Question: "Where were you?", Answer: "In the library.", Asked: true},
			{Question: "Not asked yet", Asked: false},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 80, got.Trustworthiness)

	_, err = svc.AnalyzeSuspect(context.Background(), SuspectRequest{})
	assert.Equal(t, faults.KindInvalidRequest, faults.KindOf(err))
}

func TestAnalyzeSuspect_Fallback(t *testing.T) {
	eng := &fakeEngine{structured: func(normalize.Schema, models.CompletionRequest, normalize.Hints) (any, error) {
		return nil, &faults.TimeoutError{After: time.Minute}
	}}
	svc := New(eng, "gpt-4o", WithFallbacks(true), WithLogger(quietLogger()))

	got, err := svc.AnalyzeSuspect(context.Background(), SuspectRequest{Suspect: sampleSuspects()[0]})
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SuspectID)
	assert.Equal(t, 50, got.Trustworthiness)
	assert.Equal(t, []string{"What were you doing?", "Did you see anything?"}, got.SuggestedQuestions)
}

func TestInterviewSuspect_ReplaysHistory(t *testing.T) {
	eng := &fakeEngine{complete: func(req models.CompletionRequest) (*models.Completion, error) {
		return &models.Completion{Content: "  I was reading a book.  "}, nil
	}}
	svc := New(eng, "gpt-4o", WithLogger(quietLogger()))

	answer, err := svc.InterviewSuspect(context.Background(), InterviewRequest{
		Case:     models.Case{Title: "The Missing Backpack"},
		Suspect:  sampleSuspects()[0],
		Question: "Did you take it?",
		History: []models.InterviewQuestion{
			{Question: "Hi Jamie!", Answer: "Hello!"},
			{Question: "Blank answer", Answer: ""},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "I was reading a book.", answer)

	msgs := eng.requests[0].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, models.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "You did do it")
	assert.Equal(t, models.Message{Role: models.RoleUser, Content: "Hi Jamie!"}, msgs[1])
	assert.Equal(t, models.Message{Role: models.RoleAssistant, Content: "Hello!"}, msgs[2])
	assert.Equal(t, models.Message{Role: models.RoleUser, Content: "Did you take it?"}, msgs[3])
}

func TestInterviewSuspect_Errors(t *testing.T) {
	eng := &fakeEngine{complete: func(models.CompletionRequest) (*models.Completion, error) {
		return nil, &faults.ProviderError{Status: 500, HTTPStatus: 500}
	}}
	svc := New(eng, "gpt-4o", WithFallbacks(true), WithLogger(quietLogger()))

	_, err := svc.InterviewSuspect(context.Background(), InterviewRequest{Question: " "})
	assert.Equal(t, faults.KindInvalidRequest, faults.KindOf(err))

	_, err = svc.InterviewSuspect(context.Background(), InterviewRequest{Question: "Why?"})
	assert.Equal(t, faults.KindProviderError, faults.KindOf(err))
}

func TestSolveCase(t *testing.T) {
	eng := &fakeEngine{structured: func(_ normalize.Schema, req models.CompletionRequest, hints normalize.Hints) (any, error) {
		assert.Equal(t, "s2", hints.AccusedID)
		assert.Contains(t, req.Messages[1].Content, "Evidence: Empty Hook")
		assert.Contains(t, req.Messages[1].Content, "Real culprit: Jamie")
		return normalize.New(normalize.FirstSuspect).Solution(map[string]any{}, hints)
	}}
	svc := New(eng, "gpt-4o", WithLogger(quietLogger()))

	got, err := svc.SolveCase(context.Background(), SolveRequest{
		Suspects:    sampleSuspects(),
		Clues:       sampleClues(),
		AccusedID:   "s2",
		EvidenceIDs: []string{"c1"},
		Reasoning:   "She tidies the coat room.",
	})
	require.NoError(t, err)
	assert.False(t, got.Solved)
	assert.Equal(t, "s2", got.CulpritID)
	assert.Equal(t, normalize.FallbackNarrative(false, "en"), got.Narrative)
}

func TestSolveCase_LanguageHintIsCaseInsensitive(t *testing.T) {
	eng := &fakeEngine{structured: func(_ normalize.Schema, _ models.CompletionRequest, hints normalize.Hints) (any, error) {
		return normalize.New(normalize.FirstSuspect).Solution(map[string]any{}, hints)
	}}
	svc := New(eng, "gpt-4o", WithLogger(quietLogger()))

	got, err := svc.SolveCase(context.Background(), SolveRequest{
		Suspects:  sampleSuspects(),
		AccusedID: "s1",
		Language:  " TH ",
	})
	require.NoError(t, err)
	assert.True(t, got.Solved)
	assert.Equal(t, normalize.FallbackNarrative(true, "th"), got.Narrative)
	require.Len(t, eng.hints, 1)
	assert.Equal(t, "th", eng.hints[0].Language)
}

func TestSolveCase_ValidatesAccusation(t *testing.T) {
	svc := New(&fakeEngine{}, "gpt-4o", WithLogger(quietLogger()))

	_, err := svc.SolveCase(context.Background(), SolveRequest{Suspects: sampleSuspects(), AccusedID: "nobody"})
	assert.Equal(t, faults.KindInvalidRequest, faults.KindOf(err))

	innocent := []models.Suspect{{ID: "a", Name: "A"}}
	_, err = svc.SolveCase(context.Background(), SolveRequest{Suspects: innocent, AccusedID: "a"})
	assert.Equal(t, faults.KindInvalidRequest, faults.KindOf(err))
}

func TestSolveCase_Fallback(t *testing.T) {
	eng := &fakeEngine{structured: func(normalize.Schema, models.CompletionRequest, normalize.Hints) (any, error) {
		return nil, &faults.ProviderError{Status: 502, HTTPStatus: 502}
	}}
	svc := New(eng, "gpt-4o", WithFallbacks(true), WithLogger(quietLogger()))

	got, err := svc.SolveCase(context.Background(), SolveRequest{
		Suspects:  sampleSuspects(),
		AccusedID: "s1",
		Language:  "th",
	})
	require.NoError(t, err)
	assert.True(t, got.Solved)
	assert.Equal(t, normalize.FallbackNarrative(true, "th"), got.Narrative)
	assert.Equal(t, []string{}, got.EvidenceIDs)
}

func TestCanceledCallsAreNotDegraded(t *testing.T) {
	eng := &fakeEngine{structured: func(normalize.Schema, models.CompletionRequest, normalize.Hints) (any, error) {
		return nil, context.Canceled
	}}
	svc := New(eng, "gpt-4o", WithFallbacks(true), WithLogger(quietLogger()))

	_, err := svc.AnalyzeClue(context.Background(), ClueRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

type stubTransport struct {
	send func(ctx context.Context, body models.RequestBody) (*models.Completion, error)
}

func (s *stubTransport) Name() string { return "stub" }

func (s *stubTransport) ListModels(context.Context) ([]models.Model, error) {
	return []models.Model{{ID: "gpt-4o", Provider: "stub"}}, nil
}

func (s *stubTransport) Send(ctx context.Context, body models.RequestBody) (*models.Completion, error) {
	return s.send(ctx, body)
}

func newTestRouter(t *testing.T, tr provider.Transport) *router.Router {
	t.Helper()
	reg := provider.NewRegistry()
	require.NoError(t, reg.RegisterProvider(context.Background(), tr, nil))
	policy := resilience.DefaultRetryPolicy()
	policy.Sleep = func(context.Context, time.Duration) error { return nil }
	return router.New(reg, router.WithRetryPolicy(policy), router.WithLogger(quietLogger()))
}
