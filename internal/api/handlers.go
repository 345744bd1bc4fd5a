// Package api contains the HTTP handlers for the workflow validation service
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"flowsentinel/backend/internal/catalog"
	"flowsentinel/backend/internal/services"
	"flowsentinel/backend/internal/validation"
	"flowsentinel/backend/pkg/models"

	sentinelerrors "flowsentinel/backend/pkg/errors"

	"github.com/labstack/echo/v4"
)

// Workflows is the validated mutation surface.
type Workflows interface {
	Validate(ctx context.Context, doc *models.WorkflowDocument, opts validation.Options) (validation.Verdict, bool, error)
	CreateWorkflow(ctx context.Context, doc *models.WorkflowDocument) (*services.MutationResult, error)
	UpdateWorkflow(ctx context.Context, id string, doc *models.WorkflowDocument) (*services.MutationResult, error)
}

// Catalog is the node-type catalog as served by the synchronizer.
type Catalog interface {
	Current() *catalog.View
	Status() catalog.Status
	SyncNow(ctx context.Context, force bool) (catalog.Result, error)
}

// Decider evaluates pattern evidence without persisting anything.
type Decider interface {
	Decide(ev models.PatternEvidence, prior *models.PriorDecision, conflicts []models.ConflictingPattern) models.PatternDecision
}

// Logger is the logging surface the handlers need.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Handler contains HTTP handlers for the REST API
type Handler struct {
	workflows Workflows
	catalog   Catalog
	decider   Decider
	logger    Logger
	version   string
}

// NewHandler creates a new Handler with required dependencies
func NewHandler(workflows Workflows, catalog Catalog, decider Decider, logger Logger, version string) *Handler {
	return &Handler{workflows: workflows, catalog: catalog, decider: decider, logger: logger, version: version}
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Service   string        `json:"service"`
	Version   string        `json:"version"`
	Catalog   catalog.State `json:"catalog"`
}

// HandleHealth returns basic health status (always returns 200 OK). A
// degraded catalog is reported but does not fail the check.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   "flowsentinel",
		Version:   h.version,
		Catalog:   h.catalog.Status().State,
	})
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`

	// Verdict is set when a workflow was rejected by validation.
	Verdict *validation.Verdict `json:"verdict,omitempty"`
}

// writeError writes an RFC 7807 Problem Details JSON error response
func writeError(c echo.Context, status int, title, detail string) error {
	return writeProblem(c, ProblemDetails{Title: title, Status: status, Detail: detail})
}

func writeProblem(c echo.Context, problem ProblemDetails) error {
	problem.Type = "about:blank"
	problem.Instance = c.Request().URL.Path
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(problem.Status, problem)
}

// handleError maps service errors onto problem responses.
func (h *Handler) handleError(c echo.Context, action string, err error) error {
	var (
		rejected    *services.RejectedError
		notFound    *sentinelerrors.NotFoundError
		unreachable *sentinelerrors.PlatformUnreachableError
		platformErr *sentinelerrors.PlatformError
	)
	switch {
	case errors.As(err, &rejected):
		return writeProblem(c, ProblemDetails{
			Title:   "Workflow Rejected",
			Status:  http.StatusUnprocessableEntity,
			Detail:  rejected.Error(),
			Verdict: &rejected.Verdict,
		})
	case errors.As(err, &notFound):
		return writeError(c, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, catalog.ErrSyncInProgress):
		return writeError(c, http.StatusConflict, "Sync In Progress", err.Error())
	case errors.As(err, &unreachable):
		h.logger.Warn("platform unreachable", "action", action, "error", err)
		return writeError(c, http.StatusBadGateway, "Platform Unreachable", err.Error())
	case errors.As(err, &platformErr):
		h.logger.Warn("platform rejected request", "action", action, "error", err)
		return writeError(c, http.StatusBadGateway, "Platform Error", err.Error())
	}
	h.logger.Error("request failed", "action", action, "error", err)
	return writeError(c, http.StatusInternalServerError, "Internal Server Error", "failed to "+action)
}
