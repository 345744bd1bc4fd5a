package repository

import (
	"context"
	"time"

	"flowsentinel/backend/pkg/models"
)

// EvidenceDelta is one observed outcome to fold into a pattern's evidence.
type EvidenceDelta struct {
	PatternID     string
	Archetype     string
	NodeTypes     []string
	Relationships []models.Relationship
	Success       bool
	// EmbeddingConfidence and SemanticStability replace the stored values;
	// they reflect the latest semantic analysis.
	EmbeddingConfidence float64
	SemanticStability   float64
	// Satisfaction is a 1-5 rating, 0 when the outcome carried no feedback.
	Satisfaction float64
	ObservedAt   time.Time
}

// EvidenceStore accumulates pattern evidence. Counts only ever grow.
type EvidenceStore interface {
	// AppendEvidence folds delta into the pattern's evidence and returns
	// the updated totals.
	AppendEvidence(ctx context.Context, delta EvidenceDelta) (*models.PatternEvidence, error)
	// GetEvidence returns a NotFoundError for unknown patterns.
	GetEvidence(ctx context.Context, patternID string) (*models.PatternEvidence, error)
	ListPatternIDs(ctx context.Context) ([]string, error)
}

// DecisionStore keeps the audit trail of pattern decisions.
type DecisionStore interface {
	SaveDecision(ctx context.Context, decision models.PatternDecision) error
	// PriorDecision returns the latest decision that changed the pattern's
	// graph state, or nil when there is none. Holds are skipped.
	PriorDecision(ctx context.Context, patternID string) (*models.PriorDecision, error)
	ListDecisions(ctx context.Context, patternID string, limit int) ([]models.PatternDecision, error)
}

// GraphStore is the knowledge graph the decision engine updates.
type GraphStore interface {
	// ApplyUpdate applies every operation or none of them.
	ApplyUpdate(ctx context.Context, ops []models.GraphOp) error
	// InvalidateCache drops cached graph reads.
	InvalidateCache(ctx context.Context) error
	// ConflictSet returns the active relationships of every other pattern.
	ConflictSet(ctx context.Context, patternID string) ([]models.ConflictingPattern, error)
}
