package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"flowsentinel/backend/internal/catalog"
	"flowsentinel/backend/internal/services"
	"flowsentinel/backend/internal/validation"
	"flowsentinel/backend/pkg/models"

	sentinelerrors "flowsentinel/backend/pkg/errors"

	"github.com/mark3labs/mcp-go/mcp"
)

// ValidateResult is returned by validate_workflow.
type ValidateResult struct {
	Verdict validation.Verdict `json:"verdict"`
	Cached  bool               `json:"cached"`
}

func (s *Server) handleValidateWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var doc models.WorkflowDocument
	if err := decodeArgument(request, "workflow", &doc); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	opts, err := validation.Options{
		Mode:    validation.ModeFull,
		Profile: validation.Profile(request.GetString("profile", "")),
		Intent:  validation.Intent(request.GetString("intent", "")),
	}.Normalize()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	verdict, cached, err := s.workflows.Validate(ctx, &doc, opts)
	if err != nil {
		return s.toolError("validate", err), nil
	}
	return jsonResult(ValidateResult{Verdict: verdict, Cached: cached})
}

func (s *Server) handleCreateWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var doc models.WorkflowDocument
	if err := decodeArgument(request, "workflow", &doc); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.workflows.CreateWorkflow(ctx, &doc)
	if err != nil {
		return s.toolError("create workflow", err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleUpdateWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}
	var doc models.WorkflowDocument
	if err := decodeArgument(request, "workflow", &doc); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.workflows.UpdateWorkflow(ctx, id, &doc)
	if err != nil {
		return s.toolError("update workflow", err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleUpdatePartialWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}
	var ops []services.PartialOperation
	if err := decodeArgument(request, "operations", &ops); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(ops) == 0 {
		return mcp.NewToolResultError("operations must not be empty"), nil
	}

	result, err := s.workflows.ApplyOperations(ctx, id, ops)
	if err != nil {
		return s.toolError("update workflow", err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleGetNodeType(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodeType, err := request.RequireString("type")
	if err != nil || nodeType == "" {
		return mcp.NewToolResultError("Missing required parameter: type"), nil
	}

	view := s.catalog.Current()
	if d, ok := view.NodeType(nodeType); ok {
		return jsonResult(d)
	}

	msg := fmt.Sprintf("node type %q is not in the catalog", nodeType)
	if view.Snapshot() == nil {
		msg += " (the catalog has not been synchronized yet)"
	} else if similar := sameLocalName(view, nodeType); len(similar) > 0 {
		msg += fmt.Sprintf("; similar types: %s", strings.Join(similar, ", "))
	}
	return mcp.NewToolResultError(msg), nil
}

func (s *Server) handleCatalogStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.catalog.Status())
}

func (s *Server) handleSyncCatalog(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.catalog.SyncNow(ctx, request.GetBool("force", false))
	if errors.Is(err, catalog.ErrSyncInProgress) {
		return mcp.NewToolResultError("A catalog sync is already running; retry shortly"), nil
	}
	if err != nil {
		return s.toolError("sync catalog", err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleRecordPatternOutcome(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var doc models.WorkflowDocument
	if err := decodeArgument(request, "workflow", &doc); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	success, err := request.RequireBool("success")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: success"), nil
	}

	decision, err := s.patterns.RecordOutcome(ctx, services.Observation{
		WorkflowID:   request.GetString("workflow_id", ""),
		Workflow:     &doc,
		Success:      success,
		Satisfaction: request.GetFloat("satisfaction", 0),
		Feedback:     request.GetString("feedback", ""),
	})
	if err != nil {
		return s.toolError("record outcome", err), nil
	}
	return jsonResult(decision)
}

func (s *Server) handleEvaluatePattern(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	patternID, err := request.RequireString("pattern_id")
	if err != nil || patternID == "" {
		return mcp.NewToolResultError("Missing required parameter: pattern_id"), nil
	}

	decision, err := s.patterns.Evaluate(ctx, patternID)
	if err != nil {
		return s.toolError("evaluate pattern", err), nil
	}
	return jsonResult(decision)
}

// toolError reports err to the calling agent. A rejected mutation carries
// the full verdict so the agent can correct the workflow.
func (s *Server) toolError(action string, err error) *mcp.CallToolResult {
	var rejected *services.RejectedError
	if errors.As(err, &rejected) {
		body, _ := json.Marshal(rejected.Verdict)
		return mcp.NewToolResultError(fmt.Sprintf("%s\n%s", rejected.Error(), body))
	}

	var (
		opErr       *services.OperationError
		notFound    *sentinelerrors.NotFoundError
		unreachable *sentinelerrors.PlatformUnreachableError
		platformErr *sentinelerrors.PlatformError
	)
	switch {
	case errors.As(err, &opErr), errors.As(err, &notFound), errors.As(err, &platformErr):
		s.logger.Warn("tool call failed", "action", action, "error", err)
	case errors.As(err, &unreachable):
		s.logger.Warn("platform unreachable", "action", action, "error", err)
	default:
		s.logger.Error("tool call failed", "action", action, "error", err)
	}
	return mcp.NewToolResultError(fmt.Sprintf("Failed to %s: %v", action, err))
}

// decodeArgument decodes an object or array argument into target. JSON
// passed as a string is accepted too.
func decodeArgument(request mcp.CallToolRequest, key string, target any) error {
	raw, ok := request.GetArguments()[key]
	if !ok || raw == nil {
		return fmt.Errorf("missing required parameter: %s", key)
	}

	var data []byte
	if str, isString := raw.(string); isString {
		data = []byte(str)
	} else {
		var err error
		if data, err = json.Marshal(raw); err != nil {
			return fmt.Errorf("invalid parameter %s: %v", key, err)
		}
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("invalid parameter %s: %v", key, err)
	}
	return nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func sameLocalName(view *catalog.View, nodeType string) []string {
	local := strings.ToLower(models.LocalName(nodeType))
	var similar []string
	for _, name := range view.TypeNames() {
		if strings.ToLower(models.LocalName(name)) == local {
			similar = append(similar, name)
		}
	}
	sort.Strings(similar)
	return similar
}
