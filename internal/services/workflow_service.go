package services

import (
	"context"
	"fmt"
	"strings"

	"flowsentinel/backend/internal/validation"
	"flowsentinel/backend/pkg/models"
)

// RejectedError is returned when a mutation fails validation. Nothing was
// sent to the platform.
type RejectedError struct {
	Verdict validation.Verdict
}

func (e *RejectedError) Error() string {
	if len(e.Verdict.Errors) == 0 {
		return "workflow rejected by validation"
	}
	msgs := make([]string, 0, min(3, len(e.Verdict.Errors)))
	for _, issue := range e.Verdict.Errors[:min(3, len(e.Verdict.Errors))] {
		msgs = append(msgs, issue.String())
	}
	s := fmt.Sprintf("workflow rejected by validation with %d error(s): %s", len(e.Verdict.Errors), strings.Join(msgs, "; "))
	if len(e.Verdict.Errors) > 3 {
		s += "; ..."
	}
	return s
}

// MutationResult is the outcome of an accepted mutation.
type MutationResult struct {
	Workflow *models.WorkflowDocument `json:"workflow"`
	Verdict  validation.Verdict       `json:"verdict"`
	// Cached reports whether the verdict came from the validation cache.
	Cached bool `json:"cached"`
}

// WorkflowService is the mutation boundary in front of the platform. Every
// create and update is validated first and rejected on any failure.
type WorkflowService struct {
	platform WorkflowPlatform
	gate     Preflighter
	profile  validation.Profile
	logger   Logger
}

// NewWorkflowService creates a new WorkflowService. profile is the
// validation profile applied to mutations.
func NewWorkflowService(platform WorkflowPlatform, gate Preflighter, profile validation.Profile, logger Logger) *WorkflowService {
	return &WorkflowService{platform: platform, gate: gate, profile: profile, logger: logger}
}

// Validate returns the verdict for doc without mutating anything.
func (s *WorkflowService) Validate(ctx context.Context, doc *models.WorkflowDocument, opts validation.Options) (validation.Verdict, bool, error) {
	if opts.Profile == "" {
		opts.Profile = s.profile
	}
	return s.gate.Preflight(ctx, doc, opts)
}

// CreateWorkflow validates doc and creates it on the platform.
func (s *WorkflowService) CreateWorkflow(ctx context.Context, doc *models.WorkflowDocument) (*MutationResult, error) {
	opts := validation.Options{Mode: validation.ModeFull, Profile: s.profile, Intent: validation.IntentCreate}
	verdict, cached, err := s.preflight(ctx, doc, opts)
	if err != nil {
		return nil, err
	}

	created, err := s.platform.CreateWorkflow(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}
	s.logger.Info("workflow created", "workflow", created.Name, "id", created.ID)
	return &MutationResult{Workflow: created, Verdict: verdict, Cached: cached}, nil
}

// UpdateWorkflow validates doc and replaces the workflow with the given id.
func (s *WorkflowService) UpdateWorkflow(ctx context.Context, id string, doc *models.WorkflowDocument) (*MutationResult, error) {
	if id == "" {
		return nil, fmt.Errorf("workflow id is required")
	}
	opts := validation.Options{Mode: validation.ModeFull, Profile: s.profile, Intent: validation.IntentReplace}
	verdict, cached, err := s.preflight(ctx, doc, opts)
	if err != nil {
		return nil, err
	}

	updated, err := s.platform.UpdateWorkflow(ctx, id, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow %s: %w", id, err)
	}
	s.logger.Info("workflow updated", "workflow", updated.Name, "id", id)
	return &MutationResult{Workflow: updated, Verdict: verdict, Cached: cached}, nil
}

// ApplyOperations fetches the workflow, applies the partial operations and
// submits the result. Only the layers and nodes the operations touched are
// validated.
func (s *WorkflowService) ApplyOperations(ctx context.Context, id string, ops []PartialOperation) (*MutationResult, error) {
	current, err := s.platform.GetWorkflow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch workflow %s: %w", id, err)
	}
	doc := current.StripServerFields()

	scope, err := applyOperations(&doc, ops)
	if err != nil {
		return nil, err
	}
	opts := validation.Options{Mode: validation.ModeOperation, Profile: s.profile, Intent: validation.IntentReplace, Scope: scope}
	verdict, cached, err := s.preflight(ctx, &doc, opts)
	if err != nil {
		return nil, err
	}

	updated, err := s.platform.UpdateWorkflow(ctx, id, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow %s: %w", id, err)
	}
	s.logger.Info("workflow partially updated", "workflow", updated.Name, "id", id, "operations", len(ops))
	return &MutationResult{Workflow: updated, Verdict: verdict, Cached: cached}, nil
}

// preflight returns a RejectedError for any invalid verdict.
func (s *WorkflowService) preflight(ctx context.Context, doc *models.WorkflowDocument, opts validation.Options) (validation.Verdict, bool, error) {
	verdict, cached, err := s.gate.Preflight(ctx, doc, opts)
	if err != nil {
		return validation.Verdict{}, false, fmt.Errorf("failed to validate workflow: %w", err)
	}
	if !verdict.Valid {
		s.logger.Warn("workflow rejected", "workflow", workflowName(doc), "errors", len(verdict.Errors), "cached", cached)
		return verdict, cached, &RejectedError{Verdict: verdict}
	}
	return verdict, cached, nil
}

func workflowName(doc *models.WorkflowDocument) string {
	if doc == nil {
		return ""
	}
	return doc.Name
}
