package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
)

// ValidateWorkflowParams defines parameters for ValidateWorkflow.
type ValidateWorkflowParams struct {
	Profile *string `form:"profile,omitempty" json:"profile,omitempty"`
	Intent  *string `form:"intent,omitempty" json:"intent,omitempty"`
}

// SyncCatalogParams defines parameters for SyncCatalog.
type SyncCatalogParams struct {
	Force *bool `form:"force,omitempty" json:"force,omitempty"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (POST /workflows/validate)
	ValidateWorkflow(ctx echo.Context, params ValidateWorkflowParams) error
	// (POST /workflows)
	CreateWorkflow(ctx echo.Context) error
	// (PUT /workflows/{id})
	UpdateWorkflow(ctx echo.Context, id string) error
	// (GET /catalog)
	GetCatalog(ctx echo.Context) error
	// (POST /catalog/sync)
	SyncCatalog(ctx echo.Context, params SyncCatalogParams) error
	// (POST /patterns/decide)
	DecidePattern(ctx echo.Context) error
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func (w *ServerInterfaceWrapper) ValidateWorkflow(ctx echo.Context) error {
	var params ValidateWorkflowParams

	err := runtime.BindQueryParameter("form", true, false, "profile", ctx.QueryParams(), &params.Profile)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter profile: %s", err))
	}
	err = runtime.BindQueryParameter("form", true, false, "intent", ctx.QueryParams(), &params.Intent)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter intent: %s", err))
	}

	return w.Handler.ValidateWorkflow(ctx, params)
}

func (w *ServerInterfaceWrapper) CreateWorkflow(ctx echo.Context) error {
	return w.Handler.CreateWorkflow(ctx)
}

func (w *ServerInterfaceWrapper) UpdateWorkflow(ctx echo.Context) error {
	var id string

	err := runtime.BindStyledParameterWithOptions("simple", "id", ctx.Param("id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter id: %s", err))
	}

	return w.Handler.UpdateWorkflow(ctx, id)
}

func (w *ServerInterfaceWrapper) GetCatalog(ctx echo.Context) error {
	return w.Handler.GetCatalog(ctx)
}

func (w *ServerInterfaceWrapper) SyncCatalog(ctx echo.Context) error {
	var params SyncCatalogParams

	err := runtime.BindQueryParameter("form", true, false, "force", ctx.QueryParams(), &params.Force)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter force: %s", err))
	}

	return w.Handler.SyncCatalog(ctx, params)
}

func (w *ServerInterfaceWrapper) DecidePattern(ctx echo.Context) error {
	return w.Handler.DecidePattern(ctx)
}

// EchoRouter is satisfied by both *echo.Echo and *echo.Group.
type EchoRouter interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	PUT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlers adds each server route to the router.
func RegisterHandlers(router EchoRouter, si ServerInterface) {
	RegisterHandlersWithBaseURL(router, si, "")
}

// RegisterHandlersWithBaseURL registers the routes under baseURL.
func RegisterHandlersWithBaseURL(router EchoRouter, si ServerInterface, baseURL string) {
	wrapper := ServerInterfaceWrapper{
		Handler: si,
	}

	router.POST(baseURL+"/workflows/validate", wrapper.ValidateWorkflow)
	router.POST(baseURL+"/workflows", wrapper.CreateWorkflow)
	router.PUT(baseURL+"/workflows/:id", wrapper.UpdateWorkflow)
	router.GET(baseURL+"/catalog", wrapper.GetCatalog)
	router.POST(baseURL+"/catalog/sync", wrapper.SyncCatalog)
	router.POST(baseURL+"/patterns/decide", wrapper.DecidePattern)
}
