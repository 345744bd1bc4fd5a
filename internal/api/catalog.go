package api

import (
	"net/http"

	"flowsentinel/backend/internal/catalog"

	"github.com/labstack/echo/v4"
)

// CatalogResponse describes the active catalog.
type CatalogResponse struct {
	Status    catalog.Status `json:"status"`
	NodeTypes []string       `json:"nodeTypes"`
}

// GetCatalog returns the synchronizer status and the known node types
// (GET /api/v1/catalog)
func (h *Handler) GetCatalog(c echo.Context) error {
	names := h.catalog.Current().TypeNames()
	if names == nil {
		names = []string{}
	}
	return c.JSON(http.StatusOK, CatalogResponse{Status: h.catalog.Status(), NodeTypes: names})
}

// SyncCatalog runs one synchronization cycle
// (POST /api/v1/catalog/sync)
func (h *Handler) SyncCatalog(c echo.Context, params SyncCatalogParams) error {
	force := params.Force != nil && *params.Force

	result, err := h.catalog.SyncNow(c.Request().Context(), force)
	if err != nil {
		return h.handleError(c, "sync catalog", err)
	}
	return c.JSON(http.StatusOK, result)
}
