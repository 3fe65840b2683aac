// Package detective generates and reasons about children's detective cases
// on top of the structured completion router.
package detective

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"casefile/internal/faults"
	"casefile/internal/metrics"
	"casefile/internal/models"
	"casefile/internal/normalize"
	"casefile/internal/router"
)

const (
	generationTemperature = 0.7
	caseMaxTokens         = 8192
	analysisMaxTokens     = 2048
)

var (
	//go:embed fallback_case.json
	fallbackCaseJSON []byte

	fallbackClueAnalysis = models.ClueAnalysis{
		Summary:     "This is an important clue that can help solve the mystery.",
		Connections: []models.ClueConnection{},
		NextSteps:   []string{"Continue investigating", "Look for more clues"},
	}

	fallbackSuggestedQuestions = []string{"What were you doing?", "Did you see anything?"}
)

// Engine runs completion calls. *router.Router implements it.
type Engine interface {
	router.StructuredCompleter
	Complete(ctx context.Context, req models.CompletionRequest) (*models.Completion, error)
}

// CaseParams selects what kind of case to generate.
type CaseParams struct {
	Difficulty     string `json:"difficulty"`
	Theme          string `json:"theme"`
	Location       string `json:"location"`
	Era            string `json:"era"`
	Language       string `json:"language"`
	CustomScenario string `json:"customScenario"`
}

// ClueRequest asks for an analysis of one clue.
type ClueRequest struct {
	Case       models.Case      `json:"case"`
	Clue       models.Clue      `json:"clue"`
	Suspects   []models.Suspect `json:"suspects"`
	Discovered []models.Clue    `json:"discoveredClues"`
	Language   string           `json:"language"`
}

// SuspectRequest asks for an analysis of one suspect.
type SuspectRequest struct {
	Case      models.Case       `json:"case"`
	Suspect   models.Suspect    `json:"suspect"`
	Clues     []models.Clue     `json:"clues"`
	Interview *models.Interview `json:"interview,omitempty"`
	Language  string            `json:"language"`
}

// InterviewRequest puts one question to a suspect.
type InterviewRequest struct {
	Case     models.Case                `json:"case"`
	Suspect  models.Suspect             `json:"suspect"`
	Clues    []models.Clue              `json:"clues"`
	Question string                     `json:"question"`
	History  []models.InterviewQuestion `json:"previousQuestions"`
	Language string                     `json:"language"`
}

// SolveRequest submits an accusation for a verdict.
type SolveRequest struct {
	Case        models.Case      `json:"case"`
	Suspects    []models.Suspect `json:"suspects"`
	Clues       []models.Clue    `json:"clues"`
	AccusedID   string           `json:"accusedSuspectId"`
	EvidenceIDs []string         `json:"evidenceIds"`
	Reasoning   string           `json:"reasoning"`
	Language    string           `json:"language"`
}

// Service exposes the game operations.
type Service struct {
	engine      Engine
	model       string
	fallbacks   bool
	parallelism int
	normalizer  *normalize.Normalizer
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithFallbacks enables degraded responses when a call fails.
func WithFallbacks(enabled bool) Option {
	return func(s *Service) { s.fallbacks = enabled }
}

// WithParallelism bounds concurrent analyses in AnalyzeClues.
func WithParallelism(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// WithNormalizer sets the normalizer used for the fallback case.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(s *Service) { s.normalizer = n }
}

// WithMetrics counts fallbacks.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New returns a Service sending every call to model through engine.
func New(engine Engine, model string, opts ...Option) *Service {
	s := &Service{
		engine:      engine,
		model:       model,
		parallelism: 4,
		normalizer:  normalize.New(normalize.FirstSuspect),
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) request(messages []models.Message, maxTokens int) models.CompletionRequest {
	temp := generationTemperature
	return models.CompletionRequest{
		Model:           s.model,
		Messages:        messages,
		Temperature:     &temp,
		MaxOutputTokens: maxTokens,
	}
}

// degrade reports whether err may be replaced by a fallback value.
// Caller mistakes and cancellations are always surfaced.
func (s *Service) degrade(op string, err error) bool {
	if !s.fallbacks || errors.Is(err, context.Canceled) {
		return false
	}
	var invalid *faults.InvalidRequestError
	if errors.As(err, &invalid) {
		return false
	}
	s.logger.Warn("serving fallback", "operation", op, "kind", faults.KindOf(err), "error", err)
	s.metrics.ObserveFallback(op)
	return true
}

// GenerateCase creates a new case for params.
func (s *Service) GenerateCase(ctx context.Context, params CaseParams) (models.GeneratedCase, error) {
	if strings.TrimSpace(params.Difficulty) == "" {
		params.Difficulty = "easy"
	}
	req := s.request(casePrompt(params), caseMaxTokens)

	out, err := router.StructuredAs[models.GeneratedCase](ctx, s.engine, normalize.SchemaCase, req, normalize.Hints{Language: normalizeLanguage(params.Language)})
	if err == nil {
		return out, nil
	}
	if !s.degrade("generate_case", err) {
		return models.GeneratedCase{}, err
	}
	return s.FallbackCase()
}

// FallbackCase returns the built-in case with fresh identifiers.
func (s *Service) FallbackCase() (models.GeneratedCase, error) {
	var obj map[string]any
	if err := json.Unmarshal(fallbackCaseJSON, &obj); err != nil {
		return models.GeneratedCase{}, fmt.Errorf("decode fallback case: %w", err)
	}
	return s.normalizer.Case(obj, normalize.Hints{})
}

// AnalyzeClue explains one clue and links it to the suspects.
func (s *Service) AnalyzeClue(ctx context.Context, r ClueRequest) (models.ClueAnalysis, error) {
	req := s.request(cluePrompt(r), analysisMaxTokens)
	hints := normalize.Hints{Suspects: r.Suspects, Language: normalizeLanguage(r.Language)}

	out, err := router.StructuredAs[models.ClueAnalysis](ctx, s.engine, normalize.SchemaClueAnalysis, req, hints)
	if err == nil {
		return out, nil
	}
	if !s.degrade("analyze_clue", err) {
		return models.ClueAnalysis{}, err
	}
	fb := fallbackClueAnalysis
	fb.NextSteps = append([]string(nil), fallbackClueAnalysis.NextSteps...)
	return fb, nil
}

// AnalyzeClues analyses several clues of the same case concurrently. Results
// keep the order of clues.
func (s *Service) AnalyzeClues(ctx context.Context, base ClueRequest, clues []models.Clue) ([]models.ClueAnalysis, error) {
	out := make([]models.ClueAnalysis, len(clues))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, clue := range clues {
		r := base
		r.Clue = clue
		g.Go(func() error {
			analysis, err := s.AnalyzeClue(gctx, r)
			if err != nil {
				return fmt.Errorf("analyze clue %q: %w", clue.Title, err)
			}
			out[i] = analysis
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// AnalyzeSuspect rates a suspect's story against the clues and any
// interview answers so far.
func (s *Service) AnalyzeSuspect(ctx context.Context, r SuspectRequest) (models.SuspectAnalysis, error) {
	if strings.TrimSpace(r.Suspect.ID) == "" {
		return models.SuspectAnalysis{}, faults.InvalidRequest("suspect id must be provided")
	}
	req := s.request(suspectPrompt(r), analysisMaxTokens)
	hints := normalize.Hints{SuspectID: r.Suspect.ID, Clues: r.Clues, Language: normalizeLanguage(r.Language)}

	out, err := router.StructuredAs[models.SuspectAnalysis](ctx, s.engine, normalize.SchemaSuspectAnalysis, req, hints)
	if err == nil {
		return out, nil
	}
	if !s.degrade("analyze_suspect", err) {
		return models.SuspectAnalysis{}, err
	}
	return models.SuspectAnalysis{
		SuspectID:          r.Suspect.ID,
		Trustworthiness:    50,
		Inconsistencies:    []string{},
		Connections:        []models.SuspectConnection{},
		SuggestedQuestions: append([]string(nil), fallbackSuggestedQuestions...),
	}, nil
}

// InterviewSuspect answers question in character. The reply is plain text.
func (s *Service) InterviewSuspect(ctx context.Context, r InterviewRequest) (string, error) {
	if strings.TrimSpace(r.Question) == "" {
		return "", faults.InvalidRequest("question must not be empty")
	}
	resp, err := s.engine.Complete(ctx, s.request(interviewPrompt(r), analysisMaxTokens))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// SolveCase judges an accusation. The verdict is computed from the suspects'
// guilty flags; the reply only supplies the narrative.
func (s *Service) SolveCase(ctx context.Context, r SolveRequest) (models.CaseSolution, error) {
	accused, ok := findSuspect(r.Suspects, r.AccusedID)
	if !ok {
		return models.CaseSolution{}, faults.InvalidRequest("accused suspect %q not found", r.AccusedID)
	}
	guilty, ok := (models.GeneratedCase{Suspects: r.Suspects}).Guilty()
	if !ok {
		return models.CaseSolution{}, faults.InvalidRequest("case has no guilty suspect")
	}

	evidence := r.EvidenceIDs
	if evidence == nil {
		evidence = []string{}
	}
	hints := normalize.Hints{
		Suspects:    r.Suspects,
		Clues:       r.Clues,
		AccusedID:   accused.ID,
		EvidenceIDs: evidence,
		Reasoning:   r.Reasoning,
		Language:    normalizeLanguage(r.Language),
	}
	req := s.request(solutionPrompt(r, accused, guilty), analysisMaxTokens)

	out, err := router.StructuredAs[models.CaseSolution](ctx, s.engine, normalize.SchemaSolution, req, hints)
	if err == nil {
		return out, nil
	}
	if !s.degrade("solve_case", err) {
		return models.CaseSolution{}, err
	}
	correct := accused.ID == guilty.ID
	return models.CaseSolution{
		Solved:      correct,
		CulpritID:   accused.ID,
		Reasoning:   r.Reasoning,
		EvidenceIDs: append([]string{}, evidence...),
		Narrative:   normalize.FallbackNarrative(correct, normalizeLanguage(r.Language)),
	}, nil
}

func findSuspect(suspects []models.Suspect, id string) (models.Suspect, bool) {
	for _, s := range suspects {
		if s.ID == id {
			return s, true
		}
	}
	return models.Suspect{}, false
}
