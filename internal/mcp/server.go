// Package mcp exposes workflow validation, catalog and pattern tools to
// agents over the Model Context Protocol.
package mcp

import (
	"context"
	"net/http"

	"flowsentinel/backend/internal/catalog"
	"flowsentinel/backend/internal/services"
	"flowsentinel/backend/internal/validation"
	"flowsentinel/backend/pkg/models"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Workflows is the validated mutation surface.
type Workflows interface {
	Validate(ctx context.Context, doc *models.WorkflowDocument, opts validation.Options) (validation.Verdict, bool, error)
	CreateWorkflow(ctx context.Context, doc *models.WorkflowDocument) (*services.MutationResult, error)
	UpdateWorkflow(ctx context.Context, id string, doc *models.WorkflowDocument) (*services.MutationResult, error)
	ApplyOperations(ctx context.Context, id string, ops []services.PartialOperation) (*services.MutationResult, error)
}

// Patterns records outcomes and evaluates patterns.
type Patterns interface {
	RecordOutcome(ctx context.Context, obs services.Observation) (*models.PatternDecision, error)
	Evaluate(ctx context.Context, patternID string) (*models.PatternDecision, error)
}

// Catalog is the node-type catalog as served by the synchronizer.
type Catalog interface {
	Current() *catalog.View
	Status() catalog.Status
	SyncNow(ctx context.Context, force bool) (catalog.Result, error)
}

// Logger is the logging surface the tool handlers need.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type Server struct {
	mcpServer *server.MCPServer
	workflows Workflows
	patterns  Patterns
	catalog   Catalog
	logger    Logger
}

func NewServer(version string, workflows Workflows, patterns Patterns, catalog Catalog, logger Logger) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"FlowSentinel",
			version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		workflows: workflows,
		patterns:  patterns,
		catalog:   catalog,
		logger:    logger,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"validate_workflow",
			mcp.WithDescription("Validate an n8n workflow against the live node catalog without changing anything"),
			mcp.WithObject("workflow", mcp.Required(), mcp.Description("The workflow JSON: name, nodes, connections, settings")),
			mcp.WithString("profile", mcp.Description("Validation profile"),
				mcp.Enum(string(validation.ProfileMinimal), string(validation.ProfileRuntime),
					string(validation.ProfileAIFriendly), string(validation.ProfileStrict))),
			mcp.WithString("intent", mcp.Description("What the workflow is about to be used for"),
				mcp.Enum(string(validation.IntentCheck), string(validation.IntentCreate), string(validation.IntentReplace))),
		),
		s.handleValidateWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"create_workflow",
			mcp.WithDescription("Validate and create a workflow. Invalid workflows are rejected with the validation errors"),
			mcp.WithObject("workflow", mcp.Required(), mcp.Description("The workflow JSON without server-assigned fields")),
		),
		s.handleCreateWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"update_workflow",
			mcp.WithDescription("Validate and fully replace an existing workflow"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The workflow id")),
			mcp.WithObject("workflow", mcp.Required(), mcp.Description("The complete replacement workflow JSON")),
		),
		s.handleUpdateWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"update_partial_workflow",
			mcp.WithDescription("Apply incremental operations (addNode, removeNode, updateNode, addConnection, removeConnection, updateSettings, updateName) to a workflow; only the touched parts are re-validated"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The workflow id")),
			mcp.WithArray("operations", mcp.Required(), mcp.Description("Operations applied in order"),
				mcp.Items(map[string]any{"type": "object"})),
		),
		s.handleUpdatePartialWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_node_type",
			mcp.WithDescription("Describe a node type from the catalog: versions, properties, operations and credentials"),
			mcp.WithString("type", mcp.Required(), mcp.Description("Fully qualified node type, e.g. n8n-nodes-base.httpRequest")),
		),
		s.handleGetNodeType,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"catalog_status",
			mcp.WithDescription("Report the catalog synchronizer state, platform version and last diff"),
		),
		s.handleCatalogStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"sync_catalog",
			mcp.WithDescription("Synchronize the node catalog with the platform now"),
			mcp.WithBoolean("force", mcp.Description("Re-enumerate node types even if the platform version is unchanged")),
		),
		s.handleSyncCatalog,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"record_pattern_outcome",
			mcp.WithDescription("Record how an executed workflow went and re-evaluate its pattern"),
			mcp.WithObject("workflow", mcp.Required(), mcp.Description("The executed workflow JSON")),
			mcp.WithBoolean("success", mcp.Required(), mcp.Description("Whether the execution succeeded")),
			mcp.WithNumber("satisfaction", mcp.Description("User rating from 1 to 5"), mcp.Min(1), mcp.Max(5)),
			mcp.WithString("feedback", mcp.Description("Free-form user feedback")),
			mcp.WithString("workflow_id", mcp.Description("Platform id of the executed workflow")),
		),
		s.handleRecordPatternOutcome,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"evaluate_pattern",
			mcp.WithDescription("Re-run the promotion decision for a pattern from its stored evidence"),
			mcp.WithString("pattern_id", mcp.Required(), mcp.Description("The pattern id")),
		),
		s.handleEvaluatePattern,
	)
}

// MountHTTPHandlers serves the tools over streamable HTTP at /mcp and over
// the legacy SSE transport at /mcp/sse and /mcp/message.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	streamable := server.NewStreamableHTTPServer(mcpServer, server.WithEndpointPath("/mcp"))
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.Handle("/mcp", streamable)
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
