package services

import (
	"context"

	"flowsentinel/backend/internal/validation"
	"flowsentinel/backend/pkg/models"
)

// Logger is the logging surface the services need.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SemanticClient classifies workflows for pattern learning.
type SemanticClient interface {
	// Analyze returns the semantic reading of a workflow and its outcome.
	Analyze(ctx context.Context, req AnalyzeRequest) (*Analysis, error)
}

// WorkflowPlatform is the part of the platform client used for mutations.
type WorkflowPlatform interface {
	GetWorkflow(ctx context.Context, id string) (*models.WorkflowDocument, error)
	CreateWorkflow(ctx context.Context, doc *models.WorkflowDocument) (*models.WorkflowDocument, error)
	UpdateWorkflow(ctx context.Context, id string, doc *models.WorkflowDocument) (*models.WorkflowDocument, error)
}

// Preflighter returns the validation verdict a mutation must honour.
type Preflighter interface {
	Preflight(ctx context.Context, doc *models.WorkflowDocument, opts validation.Options) (validation.Verdict, bool, error)
}
