package services

import (
	"context"
	"sort"
	"sync"

	"flowsentinel/backend/internal/repository"
	"flowsentinel/backend/internal/validation"
	"flowsentinel/backend/pkg/models"

	sentinelerrors "flowsentinel/backend/pkg/errors"

	"github.com/stretchr/testify/mock"
)

// NoOpLogger for testing
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, args ...any) {}
func (l *NoOpLogger) Info(msg string, args ...any)  {}
func (l *NoOpLogger) Warn(msg string, args ...any)  {}
func (l *NoOpLogger) Error(msg string, args ...any) {}

// MockPlatform satisfies WorkflowPlatform
type MockPlatform struct {
	mock.Mock
}

func (m *MockPlatform) GetWorkflow(ctx context.Context, id string) (*models.WorkflowDocument, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WorkflowDocument), args.Error(1)
}

func (m *MockPlatform) CreateWorkflow(ctx context.Context, doc *models.WorkflowDocument) (*models.WorkflowDocument, error) {
	args := m.Called(ctx, doc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WorkflowDocument), args.Error(1)
}

func (m *MockPlatform) UpdateWorkflow(ctx context.Context, id string, doc *models.WorkflowDocument) (*models.WorkflowDocument, error) {
	args := m.Called(ctx, id, doc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WorkflowDocument), args.Error(1)
}

// MockGate satisfies Preflighter
type MockGate struct {
	mock.Mock
}

func (m *MockGate) Preflight(ctx context.Context, doc *models.WorkflowDocument, opts validation.Options) (validation.Verdict, bool, error) {
	args := m.Called(ctx, doc, opts)
	return args.Get(0).(validation.Verdict), args.Bool(1), args.Error(2)
}

// MockSemantic satisfies SemanticClient
type MockSemantic struct {
	mock.Mock
}

func (m *MockSemantic) Analyze(ctx context.Context, req AnalyzeRequest) (*Analysis, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Analysis), args.Error(1)
}

// memStore is an in-memory evidence, decision and graph store.
type memStore struct {
	mu        sync.Mutex
	evidence  map[string]*models.PatternEvidence
	decisions []models.PatternDecision
	applied   [][]models.GraphOp
	active    map[string][]models.Relationship
}

func newMemStore() *memStore {
	return &memStore{evidence: map[string]*models.PatternEvidence{}, active: map[string][]models.Relationship{}}
}

func (s *memStore) stores() PatternStores {
	return PatternStores{Evidence: s, Decisions: s, Graph: s}
}

func (s *memStore) AppendEvidence(ctx context.Context, d repository.EvidenceDelta) (*models.PatternEvidence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.evidence[d.PatternID]
	if !ok {
		ev = &models.PatternEvidence{PatternID: d.PatternID}
		s.evidence[d.PatternID] = ev
	}
	ev.Archetype, ev.NodeTypes, ev.Relationships = d.Archetype, d.NodeTypes, d.Relationships
	if d.Success {
		ev.SuccessCount++
	} else {
		ev.FailureCount++
	}
	ev.RecentOutcomes = append(ev.RecentOutcomes, d.Success)
	ev.EmbeddingConfidence, ev.SemanticStability = d.EmbeddingConfidence, d.SemanticStability
	if d.Satisfaction > 0 {
		ev.UserSatisfactionAvg = (ev.UserSatisfactionAvg*float64(ev.FeedbackCount) + d.Satisfaction) / float64(ev.FeedbackCount+1)
		ev.FeedbackCount++
	}
	ev.UpdatedAt = d.ObservedAt
	cp := *ev
	return &cp, nil
}

func (s *memStore) GetEvidence(ctx context.Context, id string) (*models.PatternEvidence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.evidence[id]
	if !ok {
		return nil, &sentinelerrors.NotFoundError{Resource: "pattern", ID: id}
	}
	cp := *ev
	return &cp, nil
}

func (s *memStore) ListPatternIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.evidence))
	for id := range s.evidence {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memStore) SaveDecision(ctx context.Context, d models.PatternDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
	return nil
}

func (s *memStore) PriorDecision(ctx context.Context, id string) (*models.PriorDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.decisions) - 1; i >= 0; i-- {
		d := s.decisions[i]
		if d.PatternID == id && d.Type != models.DecisionHold {
			return &models.PriorDecision{PatternID: id, Type: d.Type, Confidence: d.Confidence,
				ObservationCount: d.ObservationCount, DecidedAt: d.DecidedAt}, nil
		}
	}
	return nil, nil
}

func (s *memStore) ListDecisions(ctx context.Context, id string, limit int) ([]models.PatternDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PatternDecision
	for i := len(s.decisions) - 1; i >= 0 && len(out) < limit; i-- {
		if s.decisions[i].PatternID == id {
			out = append(out, s.decisions[i])
		}
	}
	return out, nil
}

func (s *memStore) ApplyUpdate(ctx context.Context, ops []models.GraphOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, ops)
	for _, op := range ops {
		switch op.Kind {
		case models.OpUpsertRelationship:
			s.active[op.PatternID] = append(s.active[op.PatternID], *op.Relationship)
		case models.OpRetractRelationship:
			delete(s.active, op.PatternID)
		}
	}
	return nil
}

func (s *memStore) InvalidateCache(ctx context.Context) error { return nil }

func (s *memStore) ConflictSet(ctx context.Context, id string) ([]models.ConflictingPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var set []models.ConflictingPattern
	for other, rels := range s.active {
		if other != id {
			set = append(set, models.ConflictingPattern{PatternID: other, Relationships: rels})
		}
	}
	return set, nil
}
