package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"casefile/internal/detective"
	"casefile/internal/models"
)

type generateCaseRequest struct {
	Difficulty     string `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	Theme          string `json:"theme" validate:"max=100"`
	Location       string `json:"location" validate:"max=200"`
	Era            string `json:"era" validate:"max=100"`
	Language       string `json:"language" validate:"omitempty,oneof=en th"`
	CustomScenario string `json:"customScenario" validate:"max=2000"`
}

type analyzeClueRequest struct {
	Case       models.Case      `json:"case"`
	Clue       *models.Clue     `json:"clue" validate:"required_without=Clues"`
	Clues      []models.Clue    `json:"clues" validate:"required_without=Clue,max=20"`
	Suspects   []models.Suspect `json:"suspects"`
	Discovered []models.Clue    `json:"discoveredClues"`
	Language   string           `json:"language" validate:"omitempty,oneof=en th"`
}

type analyzeSuspectRequest struct {
	Case      models.Case       `json:"case"`
	Suspect   models.Suspect    `json:"suspect"`
	Clues     []models.Clue     `json:"clues"`
	Interview *models.Interview `json:"interview"`
	Language  string            `json:"language" validate:"omitempty,oneof=en th"`
}

type interviewRequest struct {
	Case     models.Case                `json:"case"`
	Suspect  models.Suspect             `json:"suspect"`
	Clues    []models.Clue              `json:"clues"`
	Question string                     `json:"question" validate:"required,max=500"`
	History  []models.InterviewQuestion `json:"previousQuestions" validate:"max=50"`
	Language string                     `json:"language" validate:"omitempty,oneof=en th"`
}

type solveCaseRequest struct {
	Case        models.Case      `json:"case"`
	Suspects    []models.Suspect `json:"suspects" validate:"required,min=1"`
	Clues       []models.Clue    `json:"clues"`
	AccusedID   string           `json:"accusedSuspectId" validate:"required"`
	EvidenceIDs []string         `json:"evidenceIds"`
	Reasoning   string           `json:"reasoning" validate:"max=2000"`
	Language    string           `json:"language" validate:"omitempty,oneof=en th"`
}

type suggestQuestionsRequest struct {
	Case    models.Case    `json:"case"`
	Suspect models.Suspect `json:"suspect"`
}

func (s *Server) handleHealth(c echo.Context) error {
	body := map[string]string{"status": "ok"}
	if s.breaker != nil {
		body["breaker"] = s.breaker.Stats().State
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) handleBreaker(c echo.Context) error {
	if s.breaker == nil {
		return requestError{
			Status:  http.StatusNotFound,
			Message: "no circuit breaker configured",
			Type:    "not_found",
		}
	}
	return c.JSON(http.StatusOK, s.breaker.Stats())
}

func (s *Server) handleGenerateCase(c echo.Context) error {
	var req generateCaseRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	out, err := s.service.GenerateCase(c.Request().Context(), detective.CaseParams{
		Difficulty:     req.Difficulty,
		Theme:          req.Theme,
		Location:       req.Location,
		Era:            req.Era,
		Language:       req.Language,
		CustomScenario: req.CustomScenario,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// handleAnalyzeClue accepts either one clue or a batch. A batch answers
// with analyses in request order.
func (s *Server) handleAnalyzeClue(c echo.Context) error {
	var req analyzeClueRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	base := detective.ClueRequest{
		Case:       req.Case,
		Suspects:   req.Suspects,
		Discovered: req.Discovered,
		Language:   req.Language,
	}
	ctx := c.Request().Context()

	if req.Clue != nil {
		base.Clue = *req.Clue
		out, err := s.service.AnalyzeClue(ctx, base)
		if err != nil {
			return toHTTPError(err)
		}
		return c.JSON(http.StatusOK, out)
	}

	out, err := s.service.AnalyzeClues(ctx, base, req.Clues)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"analyses": out})
}

func (s *Server) handleAnalyzeSuspect(c echo.Context) error {
	var req analyzeSuspectRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	out, err := s.service.AnalyzeSuspect(c.Request().Context(), detective.SuspectRequest{
		Case:      req.Case,
		Suspect:   req.Suspect,
		Clues:     req.Clues,
		Interview: req.Interview,
		Language:  req.Language,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleInterviewSuspect(c echo.Context) error {
	var req interviewRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	answer, err := s.service.InterviewSuspect(c.Request().Context(), detective.InterviewRequest{
		Case:     req.Case,
		Suspect:  req.Suspect,
		Clues:    req.Clues,
		Question: req.Question,
		History:  req.History,
		Language: req.Language,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"suspectId": req.Suspect.ID,
		"question":  req.Question,
		"answer":    answer,
	})
}

func (s *Server) handleSolveCase(c echo.Context) error {
	var req solveCaseRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	out, err := s.service.SolveCase(c.Request().Context(), detective.SolveRequest{
		Case:        req.Case,
		Suspects:    req.Suspects,
		Clues:       req.Clues,
		AccusedID:   req.AccusedID,
		EvidenceIDs: req.EvidenceIDs,
		Reasoning:   req.Reasoning,
		Language:    req.Language,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleSuggestQuestions(c echo.Context) error {
	var req suggestQuestionsRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"suspectId": req.Suspect.ID,
		"questions": detective.SuggestQuestions(req.Suspect, req.Case),
	})
}
