package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ballotd/internal/research"
	"github.com/fyrsmithlabs/ballotd/internal/scoring"
	"github.com/fyrsmithlabs/ballotd/internal/stance"
)

// ResearchRequest is the request body for POST /api/v1/research/candidate/:name.
type ResearchRequest struct {
	Issues               []string `json:"issues"`
	Depth                string   `json:"depth"`
	IncludeVotingRecords bool     `json:"include_voting_records"`
	MaxSources           int      `json:"max_sources"`
}

// ResearchAccepted is the response body for accepted research submissions.
type ResearchAccepted struct {
	ResearchID       string `json:"research_id"`
	Status           string `json:"status"`
	StreamURL        string `json:"stream_url"`
	EstimatedSeconds int    `json:"estimated_duration_seconds"`
}

// CompareRequest is the request body for POST /api/v1/research/compare.
type CompareRequest struct {
	Candidates          []string `json:"candidates"`
	Issue               string   `json:"issue"`
	Depth               string   `json:"depth"`
	GenerateStanceCards bool     `json:"generate_stance_cards"`
}

// MatchRequest is the request body for POST /api/v1/match. Choices are
// keyed by stance id.
type MatchRequest struct {
	Choices map[string]string `json:"choices"`
}

// MatchResponse is the response body for POST /api/v1/match.
type MatchResponse struct {
	Matches        []scoring.MatchResult `json:"matches"`
	StancesScored  int                   `json:"stances_scored"`
	StancesSkipped int                   `json:"stances_skipped"`
}

// httpError maps research errors onto HTTP status codes. Unmapped errors
// become opaque 500s; internals never leak to clients.
func (s *Server) httpError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, research.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, research.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, research.ErrCapacityExceeded):
		return echo.NewHTTPError(http.StatusTooManyRequests, "research capacity exceeded, try again shortly")
	default:
		s.logger.Error("request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleListCandidates(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"candidates": s.stances.Candidates(),
	})
}

func (s *Server) handleGetCandidate(c echo.Context) error {
	candidate, ok := s.stances.Lookup(c.Param("name"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown candidate")
	}
	return c.JSON(http.StatusOK, candidate)
}

func (s *Server) handleSubmitResearch(c echo.Context) error {
	var req ResearchRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid research request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	snap, err := s.orch.Submit(research.Request{
		Subject:              c.Param("name"),
		Issues:               req.Issues,
		Depth:                research.Depth(req.Depth),
		IncludeVotingRecords: req.IncludeVotingRecords,
		MaxSources:           req.MaxSources,
	})
	if err != nil {
		return s.httpError(c, err)
	}

	return c.JSON(http.StatusOK, ResearchAccepted{
		ResearchID:       snap.TaskID,
		Status:           "processing",
		StreamURL:        fmt.Sprintf("/api/v1/research/stream/%s", snap.TaskID),
		EstimatedSeconds: snap.Depth.EstimatedSeconds(),
	})
}

func (s *Server) handleSubmitComparison(c echo.Context) error {
	var req CompareRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid comparison request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	snap, err := s.orch.SubmitComparison(research.ComparisonRequest{
		Subjects:      req.Candidates,
		Issue:         req.Issue,
		Depth:         research.Depth(req.Depth),
		GenerateCards: req.GenerateStanceCards,
	})
	if err != nil {
		return s.httpError(c, err)
	}

	// A comparison researches each candidate in turn, so the estimate
	// scales with the roster rather than the depth budget.
	return c.JSON(http.StatusOK, ResearchAccepted{
		ResearchID:       snap.TaskID,
		Status:           "processing",
		StreamURL:        fmt.Sprintf("/api/v1/research/stream/%s", snap.TaskID),
		EstimatedSeconds: len(req.Candidates) * 60,
	})
}

func (s *Server) handleResearchStatus(c echo.Context) error {
	snap, err := s.orch.Status(c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleResearchResults(c echo.Context) error {
	res, err := s.orch.Result(c.Param("id"))
	if errors.Is(err, research.ErrNotReady) {
		snap, statusErr := s.orch.Status(c.Param("id"))
		if statusErr != nil {
			return s.httpError(c, statusErr)
		}
		return c.JSON(http.StatusAccepted, snap)
	}
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleListActive(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"active": s.orch.ListActive(),
	})
}

func (s *Server) handleCancelResearch(c echo.Context) error {
	if err := s.orch.Cancel(c.Param("id")); err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"research_id": c.Param("id"),
		"status":      "cancelled",
	})
}

func (s *Server) handleListStances(c echo.Context) error {
	cards := s.stances.Cards()
	return c.JSON(http.StatusOK, map[string]any{
		"stances": cards,
		"count":   len(cards),
	})
}

func (s *Server) handleMatch(c echo.Context) error {
	var req MatchRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid match request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Choices) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "choices are required")
	}

	choices := make(map[string]stance.Choice, len(req.Choices))
	skipped := 0
	for id, raw := range req.Choices {
		choice := stance.Choice(raw)
		if !choice.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("invalid choice %q for stance %s", raw, id))
		}
		if choice == stance.ChoiceSkip {
			skipped++
		}
		choices[id] = choice
	}

	matches := scoring.Score(s.stances.Cards(), choices)
	return c.JSON(http.StatusOK, MatchResponse{
		Matches:        matches,
		StancesScored:  len(choices) - skipped,
		StancesSkipped: skipped,
	})
}
