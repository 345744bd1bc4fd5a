package api

import (
	"net/http"

	"flowsentinel/backend/pkg/models"

	"github.com/labstack/echo/v4"
)

// DecideRequest carries the inputs of a stateless pattern decision.
type DecideRequest struct {
	Evidence  models.PatternEvidence      `json:"evidence"`
	Prior     *models.PriorDecision       `json:"prior,omitempty"`
	Conflicts []models.ConflictingPattern `json:"conflicts,omitempty"`
}

// DecidePattern evaluates evidence without touching the knowledge graph
// (POST /api/v1/patterns/decide)
func (h *Handler) DecidePattern(c echo.Context) error {
	var req DecideRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "Bad Request", "Invalid request body: "+err.Error())
	}
	ev := req.Evidence
	if ev.PatternID == "" {
		return writeError(c, http.StatusBadRequest, "Bad Request", "evidence.patternId is required")
	}
	if ev.SuccessCount < 0 || ev.FailureCount < 0 {
		return writeError(c, http.StatusBadRequest, "Bad Request", "observation counts must not be negative")
	}

	return c.JSON(http.StatusOK, h.decider.Decide(ev, req.Prior, req.Conflicts))
}
