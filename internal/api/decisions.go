package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"perspective-engine/backend/internal/auth"
	"perspective-engine/backend/internal/repository"
	"perspective-engine/backend/internal/workflow"
	"perspective-engine/backend/pkg/models"
)

// GenericFailure is returned to /analyze callers when a run errors or does
// not finish in time. Internal details stay in the logs.
const GenericFailure = "Internal Workflow Error."

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Instances creates and reports workflow instances.
type Instances interface {
	Create(ctx context.Context, input models.AnalysisInput) (string, error)
	Status(ctx context.Context, id string) (*models.Instance, error)
}

// Server holds the dependencies for the decision API.
type Server struct {
	instances  Instances
	poller     *workflow.Poller
	history    repository.DecisionStore
	demoUserID string
	logger     Logger
}

// NewServer creates a new Server. Requests on the unauthenticated routes run
// as demoUserID.
func NewServer(instances Instances, poller *workflow.Poller, history repository.DecisionStore, demoUserID string, logger Logger) *Server {
	return &Server{
		instances:  instances,
		poller:     poller,
		history:    history,
		demoUserID: demoUserID,
		logger:     logger,
	}
}

// AnalyzeRequest is the body of POST /analyze and POST /api/v1/instances.
type AnalyzeRequest struct {
	Prompt string `json:"prompt"`
}

// AnalyzeResponse is the body returned by POST /analyze.
type AnalyzeResponse struct {
	Analysis string `json:"analysis"`
}

// InstanceCreated is returned by POST /api/v1/instances.
type InstanceCreated struct {
	ID     string        `json:"id"`
	Status models.Status `json:"status"`
}

// Analyze runs the decision pipeline for the demo user and waits for it
// (POST /analyze)
func (s *Server) Analyze(c echo.Context) error {
	ctx := c.Request().Context()

	// the bundled page posts without a content type, so the body is decoded directly
	var req AnalyzeRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusInternalServerError, AnalyzeResponse{Analysis: "Error: " + err.Error()})
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return c.JSON(http.StatusBadRequest, AnalyzeResponse{Analysis: "Error: prompt is required"})
	}

	id, err := s.instances.Create(ctx, models.AnalysisInput{Prompt: req.Prompt, UserID: s.demoUserID})
	if err != nil {
		s.logger.Error("failed to create instance", "error", err)
		return c.JSON(http.StatusInternalServerError, AnalyzeResponse{Analysis: "Error: " + err.Error()})
	}

	output, err := s.poller.Await(ctx, id)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, AnalyzeResponse{Analysis: output})
	case errors.Is(err, workflow.ErrWorkflowFailed):
		s.logger.Warn("instance errored", "instance_id", id)
		return c.JSON(http.StatusOK, AnalyzeResponse{Analysis: GenericFailure})
	case errors.Is(err, workflow.ErrPollTimeout):
		s.logger.Warn("instance still running after poll budget", "instance_id", id)
		return c.JSON(http.StatusOK, AnalyzeResponse{Analysis: GenericFailure})
	default:
		s.logger.Error("failed to await instance", "instance_id", id, "error", err)
		return c.JSON(http.StatusInternalServerError, AnalyzeResponse{Analysis: GenericFailure})
	}
}

// History returns the demo user's decisions, newest first
// (GET /history)
func (s *Server) History(c echo.Context) error {
	entries, err := s.history.ListDecisions(c.Request().Context(), s.demoUserID)
	if err != nil {
		s.logger.Error("failed to list history", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load history")
	}
	return c.JSON(http.StatusOK, entries)
}

// CreateInstance starts an analysis for the authenticated user without waiting
// (POST /api/v1/instances)
func (s *Server) CreateInstance(c echo.Context) error {
	userID, ok := auth.UserIDFromContext(c.Request().Context())
	if !ok {
		return writeError(c, http.StatusUnauthorized, "Unauthorized", "user not found in context")
	}

	var req AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "Invalid request body", err.Error())
	}
	input := models.AnalysisInput{Prompt: req.Prompt, UserID: userID}
	if err := input.Validate(); err != nil {
		return writeError(c, http.StatusBadRequest, "Invalid request body", err.Error())
	}

	id, err := s.instances.Create(c.Request().Context(), input)
	if err != nil {
		s.logger.Error("failed to create instance", "error", err)
		return writeError(c, http.StatusInternalServerError, "Internal Server Error", "failed to create instance")
	}
	return c.JSON(http.StatusAccepted, InstanceCreated{ID: id, Status: models.StatusRunning})
}

// GetInstance returns a status snapshot of one of the caller's instances
// (GET /api/v1/instances/:id)
func (s *Server) GetInstance(c echo.Context) error {
	userID, ok := auth.UserIDFromContext(c.Request().Context())
	if !ok {
		return writeError(c, http.StatusUnauthorized, "Unauthorized", "user not found in context")
	}

	id := c.Param("id")
	inst, err := s.instances.Status(c.Request().Context(), id)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && inst.Input.UserID != userID) {
		return writeError(c, http.StatusNotFound, "Not Found", "instance "+id+" does not exist")
	}
	if err != nil {
		s.logger.Error("failed to load instance", "instance_id", id, "error", err)
		return writeError(c, http.StatusInternalServerError, "Internal Server Error", "failed to load instance")
	}
	return c.JSON(http.StatusOK, inst)
}

// UserHistory returns the authenticated user's decisions, newest first
// (GET /api/v1/history)
func (s *Server) UserHistory(c echo.Context) error {
	userID, ok := auth.UserIDFromContext(c.Request().Context())
	if !ok {
		return writeError(c, http.StatusUnauthorized, "Unauthorized", "user not found in context")
	}

	entries, err := s.history.ListDecisions(c.Request().Context(), userID)
	if err != nil {
		s.logger.Error("failed to list history", "user_id", userID, "error", err)
		return writeError(c, http.StatusInternalServerError, "Internal Server Error", "failed to load history")
	}
	return c.JSON(http.StatusOK, entries)
}

// RegisterHandlers mounts the public routes on e and the authenticated routes
// on v1. analyze wraps POST /analyze, typically with a rate limiter.
func RegisterHandlers(e *echo.Echo, v1 *echo.Group, s *Server, analyze ...echo.MiddlewareFunc) {
	e.GET("/", Index)
	e.POST("/analyze", s.Analyze, analyze...)
	e.GET("/history", s.History)

	v1.POST("/instances", s.CreateInstance)
	v1.GET("/instances/:id", s.GetInstance)
	v1.GET("/history", s.UserHistory)
}
