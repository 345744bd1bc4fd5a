package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"flowsentinel/backend/internal/patterns"
	"flowsentinel/backend/internal/repository"
	"flowsentinel/backend/internal/telemetry"
	"flowsentinel/backend/pkg/models"

	"github.com/mitchellh/hashstructure/v2"
	"golang.org/x/sync/errgroup"
)

// feedsRelationship is the relationship kind derived from a main
// connection between two node types.
const feedsRelationship = "feeds"

// Observation is one executed workflow and how it went.
type Observation struct {
	WorkflowID string                   `json:"workflowId,omitempty"`
	Workflow   *models.WorkflowDocument `json:"workflow"`
	Success    bool                     `json:"success"`
	// Satisfaction is a 1-5 user rating, 0 when none was given.
	Satisfaction float64 `json:"satisfaction,omitempty"`
	Feedback     string  `json:"feedback,omitempty"`
}

// PatternStores groups the persistence the pattern service writes to.
type PatternStores struct {
	Evidence  repository.EvidenceStore
	Decisions repository.DecisionStore
	Graph     repository.GraphStore
}

// PatternService turns workflow outcomes into knowledge-graph decisions.
// Evaluations of one pattern are serialised; distinct patterns run in
// parallel.
type PatternService struct {
	semantic    SemanticClient
	stores      PatternStores
	engine      *patterns.Engine
	locks       patterns.KeyedMutex
	metrics     *telemetry.Metrics
	logger      Logger
	concurrency int
	now         func() time.Time
}

// NewPatternService creates a new PatternService. metrics may be nil.
func NewPatternService(semantic SemanticClient, stores PatternStores, engine *patterns.Engine, metrics *telemetry.Metrics, logger Logger, concurrency int) *PatternService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &PatternService{
		semantic:    semantic,
		stores:      stores,
		engine:      engine,
		metrics:     metrics,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// RecordOutcome classifies the observed workflow, folds the outcome into
// its pattern's evidence and re-evaluates the pattern.
func (s *PatternService) RecordOutcome(ctx context.Context, obs Observation) (*models.PatternDecision, error) {
	if obs.Workflow == nil || len(obs.Workflow.Nodes) == 0 {
		return nil, errors.New("observation requires a workflow with nodes")
	}
	if obs.Satisfaction != 0 && (obs.Satisfaction < 1 || obs.Satisfaction > 5) {
		return nil, fmt.Errorf("satisfaction must be between 1 and 5, got %v", obs.Satisfaction)
	}

	analysis, err := s.semantic.Analyze(ctx, AnalyzeRequest{
		Workflow: obs.Workflow,
		Outcome:  Outcome{Success: obs.Success, Satisfaction: obs.Satisfaction, Feedback: obs.Feedback},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic analysis failed: %w", err)
	}

	nodeTypes := workflowNodeTypes(obs.Workflow)
	relationships := analysis.RelationshipHints
	if len(relationships) == 0 {
		relationships = connectionRelationships(obs.Workflow)
	}
	patternID := analysis.PatternID
	if patternID == "" {
		patternID, err = PatternID(analysis.Archetype, nodeTypes)
		if err != nil {
			return nil, err
		}
	}

	unlock := s.locks.Lock(patternID)
	defer unlock()

	ev, err := s.stores.Evidence.AppendEvidence(ctx, repository.EvidenceDelta{
		PatternID:           patternID,
		Archetype:           analysis.Archetype,
		NodeTypes:           nodeTypes,
		Relationships:       relationships,
		Success:             obs.Success,
		EmbeddingConfidence: analysis.EmbeddingConfidence,
		SemanticStability:   analysis.SemanticStability,
		Satisfaction:        obs.Satisfaction,
		ObservedAt:          s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("recorded pattern outcome", "pattern_id", patternID, "workflow", obs.Workflow.Name,
		"success", obs.Success, "observations", ev.ObservationCount())
	return s.decide(ctx, ev)
}

// Evaluate re-runs the decision for one pattern from its stored evidence.
func (s *PatternService) Evaluate(ctx context.Context, patternID string) (*models.PatternDecision, error) {
	unlock := s.locks.Lock(patternID)
	defer unlock()

	ev, err := s.stores.Evidence.GetEvidence(ctx, patternID)
	if err != nil {
		return nil, err
	}
	return s.decide(ctx, ev)
}

// ReevaluateAll evaluates every known pattern, in parallel across
// patterns. Decisions are returned in pattern id order.
func (s *PatternService) ReevaluateAll(ctx context.Context) ([]models.PatternDecision, error) {
	ids, err := s.stores.Evidence.ListPatternIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}

	decisions := make([]models.PatternDecision, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			d, err := s.Evaluate(gctx, id)
			if err != nil {
				return fmt.Errorf("pattern %s: %w", id, err)
			}
			decisions[i] = *d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return decisions, nil
}

// Decide evaluates evidence without touching any store.
func (s *PatternService) Decide(ev models.PatternEvidence, prior *models.PriorDecision, conflicts []models.ConflictingPattern) models.PatternDecision {
	return s.engine.Decide(ev, prior, conflicts)
}

// History returns the latest decisions recorded for a pattern.
func (s *PatternService) History(ctx context.Context, patternID string, limit int) ([]models.PatternDecision, error) {
	return s.stores.Decisions.ListDecisions(ctx, patternID, limit)
}

// decide must be called with the pattern's lock held. Graph operations are
// applied before the decision is recorded, so a failed update is retried
// on the next evaluation.
func (s *PatternService) decide(ctx context.Context, ev *models.PatternEvidence) (*models.PatternDecision, error) {
	prior, err := s.stores.Decisions.PriorDecision(ctx, ev.PatternID)
	if err != nil {
		return nil, fmt.Errorf("failed to load prior decision: %w", err)
	}
	conflicts, err := s.stores.Graph.ConflictSet(ctx, ev.PatternID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conflict set: %w", err)
	}

	d := s.engine.Decide(*ev, prior, conflicts)
	if len(d.Operations) > 0 {
		if err := s.stores.Graph.ApplyUpdate(ctx, d.Operations); err != nil {
			return nil, fmt.Errorf("failed to apply graph update: %w", err)
		}
	}
	if err := s.stores.Decisions.SaveDecision(ctx, d); err != nil {
		return nil, err
	}
	s.metrics.RecordDecision(ctx, string(d.Type))

	switch d.Type {
	case models.DecisionFlagConflict:
		s.logger.Warn("pattern conflict needs operator resolution", "pattern_id", d.PatternID,
			"error", patterns.ConflictFor(d, *ev, conflicts))
	case models.DecisionHold:
		s.logger.Debug("pattern held", "pattern_id", d.PatternID, "confidence", d.Confidence)
	default:
		s.logger.Info("pattern decision", "pattern_id", d.PatternID, "decision", string(d.Type),
			"confidence", d.Confidence, "observations", d.ObservationCount)
	}
	return &d, nil
}

// PatternID identifies a pattern by its archetype and node-type set.
func PatternID(archetype string, nodeTypes []string) (string, error) {
	sorted := append([]string(nil), nodeTypes...)
	sort.Strings(sorted)
	h, err := hashstructure.Hash(sorted, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("failed to hash pattern: %w", err)
	}
	slug := strings.ToLower(strings.Join(strings.Fields(archetype), "-"))
	if slug == "" {
		slug = "pattern"
	}
	return fmt.Sprintf("%s-%016x", slug, h), nil
}

func workflowNodeTypes(doc *models.WorkflowDocument) []string {
	seen := map[string]bool{}
	var types []string
	for _, n := range doc.Nodes {
		if n.Type != "" && !seen[n.Type] {
			seen[n.Type] = true
			types = append(types, n.Type)
		}
	}
	sort.Strings(types)
	return types
}

// connectionRelationships derives node-type relationships from the main
// connections of a workflow.
func connectionRelationships(doc *models.WorkflowDocument) []models.Relationship {
	seen := map[models.Relationship]bool{}
	var rels []models.Relationship
	for _, e := range doc.Connections.Edges() {
		if e.ConnType != models.MainConnection {
			continue
		}
		src, ok := doc.NodeByName(e.Source)
		if !ok {
			continue
		}
		dst, ok := doc.NodeByName(e.Target.Node)
		if !ok {
			continue
		}
		r := models.Relationship{From: src.Type, To: dst.Type, Kind: feedsRelationship}
		if r.From == r.To || seen[r] {
			continue
		}
		seen[r] = true
		rels = append(rels, r)
	}
	sort.Slice(rels, func(i, j int) bool {
		if rels[i].From != rels[j].From {
			return rels[i].From < rels[j].From
		}
		return rels[i].To < rels[j].To
	})
	return rels
}
