package api

import (
	"net/http"

	"flowsentinel/backend/internal/validation"
	"flowsentinel/backend/pkg/models"

	"github.com/labstack/echo/v4"
)

// ValidateResponse is the body of a validation call.
type ValidateResponse struct {
	Verdict validation.Verdict `json:"verdict"`
	Cached  bool               `json:"cached"`
}

// ValidateWorkflow validates a workflow without changing anything
// (POST /api/v1/workflows/validate)
func (h *Handler) ValidateWorkflow(c echo.Context, params ValidateWorkflowParams) error {
	ctx := c.Request().Context()

	var doc models.WorkflowDocument
	if err := c.Bind(&doc); err != nil {
		return writeError(c, http.StatusBadRequest, "Bad Request", "Invalid request body: "+err.Error())
	}

	opts := validation.Options{Mode: validation.ModeFull}
	if params.Profile != nil {
		opts.Profile = validation.Profile(*params.Profile)
	}
	if params.Intent != nil {
		opts.Intent = validation.Intent(*params.Intent)
	}
	opts, err := opts.Normalize()
	if err != nil {
		return writeError(c, http.StatusBadRequest, "Bad Request", err.Error())
	}

	verdict, cached, err := h.workflows.Validate(ctx, &doc, opts)
	if err != nil {
		return h.handleError(c, "validate workflow", err)
	}
	return c.JSON(http.StatusOK, ValidateResponse{Verdict: verdict, Cached: cached})
}

// CreateWorkflow validates and creates a workflow
// (POST /api/v1/workflows)
func (h *Handler) CreateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	var doc models.WorkflowDocument
	if err := c.Bind(&doc); err != nil {
		return writeError(c, http.StatusBadRequest, "Bad Request", "Invalid request body: "+err.Error())
	}

	result, err := h.workflows.CreateWorkflow(ctx, &doc)
	if err != nil {
		return h.handleError(c, "create workflow", err)
	}
	return c.JSON(http.StatusCreated, result)
}

// UpdateWorkflow validates and replaces a workflow
// (PUT /api/v1/workflows/{id})
func (h *Handler) UpdateWorkflow(c echo.Context, id string) error {
	ctx := c.Request().Context()

	var doc models.WorkflowDocument
	if err := c.Bind(&doc); err != nil {
		return writeError(c, http.StatusBadRequest, "Bad Request", "Invalid request body: "+err.Error())
	}

	result, err := h.workflows.UpdateWorkflow(ctx, id, &doc)
	if err != nil {
		return h.handleError(c, "update workflow", err)
	}
	return c.JSON(http.StatusOK, result)
}
