package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sentinelerrors "flowsentinel/backend/pkg/errors"
	"flowsentinel/backend/pkg/models"

	"github.com/jackc/pgx/v5"
)

// maxRecentOutcomes bounds the outcome history kept per pattern.
const maxRecentOutcomes = 50

const evidenceColumns = `pattern_id, archetype, node_types, relationships, success_count, failure_count,
	recent_outcomes, embedding_confidence, semantic_stability, satisfaction_avg, feedback_count, updated_at`

// AppendEvidence folds one outcome into the pattern's evidence. Counts are
// incremented in place, never overwritten.
func (s *PostgresStore) AppendEvidence(ctx context.Context, delta EvidenceDelta) (*models.PatternEvidence, error) {
	nodeTypes, err := json.Marshal(nonNil(delta.NodeTypes))
	if err != nil {
		return nil, err
	}
	relationships, err := json.Marshal(nonNil(delta.Relationships))
	if err != nil {
		return nil, err
	}
	success, failure := 0, 1
	if delta.Success {
		success, failure = 1, 0
	}
	feedback := 0
	if delta.Satisfaction > 0 {
		feedback = 1
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO pattern_evidence (`+evidenceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, ARRAY[$7::boolean], $8, $9, $10, $11, $12)
		ON CONFLICT (pattern_id) DO UPDATE SET
			archetype = EXCLUDED.archetype,
			node_types = EXCLUDED.node_types,
			relationships = EXCLUDED.relationships,
			success_count = pattern_evidence.success_count + EXCLUDED.success_count,
			failure_count = pattern_evidence.failure_count + EXCLUDED.failure_count,
			recent_outcomes = (pattern_evidence.recent_outcomes || EXCLUDED.recent_outcomes)
				[greatest(1, cardinality(pattern_evidence.recent_outcomes) + 2 - $13::int):],
			embedding_confidence = EXCLUDED.embedding_confidence,
			semantic_stability = EXCLUDED.semantic_stability,
			satisfaction_avg = CASE WHEN EXCLUDED.feedback_count = 0 THEN pattern_evidence.satisfaction_avg
				ELSE (pattern_evidence.satisfaction_avg * pattern_evidence.feedback_count + EXCLUDED.satisfaction_avg)
					/ (pattern_evidence.feedback_count + 1) END,
			feedback_count = pattern_evidence.feedback_count + EXCLUDED.feedback_count,
			updated_at = EXCLUDED.updated_at
		RETURNING `+evidenceColumns,
		delta.PatternID, delta.Archetype, nodeTypes, relationships, success, failure, delta.Success,
		delta.EmbeddingConfidence, delta.SemanticStability, delta.Satisfaction, feedback, delta.ObservedAt,
		maxRecentOutcomes)

	ev, err := scanEvidence(row)
	if err != nil {
		return nil, fmt.Errorf("failed to append evidence for %s: %w", delta.PatternID, err)
	}
	return ev, nil
}

// GetEvidence returns the accumulated evidence for a pattern.
func (s *PostgresStore) GetEvidence(ctx context.Context, patternID string) (*models.PatternEvidence, error) {
	row := s.db.QueryRow(ctx, "SELECT "+evidenceColumns+" FROM pattern_evidence WHERE pattern_id = $1", patternID)
	ev, err := scanEvidence(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &sentinelerrors.NotFoundError{Resource: "pattern", ID: patternID}
	}
	return ev, err
}

// ListPatternIDs returns every pattern with recorded evidence.
func (s *PostgresStore) ListPatternIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, "SELECT pattern_id FROM pattern_evidence ORDER BY pattern_id")
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func scanEvidence(row pgx.Row) (*models.PatternEvidence, error) {
	var (
		ev            models.PatternEvidence
		nodeTypes     []byte
		relationships []byte
	)
	err := row.Scan(&ev.PatternID, &ev.Archetype, &nodeTypes, &relationships, &ev.SuccessCount, &ev.FailureCount,
		&ev.RecentOutcomes, &ev.EmbeddingConfidence, &ev.SemanticStability, &ev.UserSatisfactionAvg,
		&ev.FeedbackCount, &ev.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(nodeTypes, &ev.NodeTypes); err != nil {
		return nil, fmt.Errorf("failed to decode node types: %w", err)
	}
	if err := json.Unmarshal(relationships, &ev.Relationships); err != nil {
		return nil, fmt.Errorf("failed to decode relationships: %w", err)
	}
	return &ev, nil
}

// SaveDecision records a decision in the audit trail.
func (s *PostgresStore) SaveDecision(ctx context.Context, d models.PatternDecision) error {
	reasoning, err := json.Marshal(nonNil(d.Reasoning))
	if err != nil {
		return err
	}
	ops, err := json.Marshal(nonNil(d.Operations))
	if err != nil {
		return err
	}
	conflicts, err := json.Marshal(nonNil(d.ConflictsWith))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO pattern_decisions (id, pattern_id, type, confidence, observation_count, reasoning, operations, conflicts_with, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.PatternID, string(d.Type), d.Confidence, d.ObservationCount, reasoning, ops, conflicts, d.DecidedAt)
	if err != nil {
		return fmt.Errorf("failed to save decision for %s: %w", d.PatternID, err)
	}
	return nil
}

// PriorDecision returns the latest decision other than a hold.
func (s *PostgresStore) PriorDecision(ctx context.Context, patternID string) (*models.PriorDecision, error) {
	var (
		p   models.PriorDecision
		typ string
	)
	err := s.db.QueryRow(ctx, `
		SELECT pattern_id, type, confidence, observation_count, decided_at
		FROM pattern_decisions
		WHERE pattern_id = $1 AND type <> $2
		ORDER BY decided_at DESC
		LIMIT 1`, patternID, string(models.DecisionHold)).
		Scan(&p.PatternID, &typ, &p.Confidence, &p.ObservationCount, &p.DecidedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Type = models.DecisionType(typ)
	return &p, nil
}

// ListDecisions returns the most recent decisions for a pattern, newest
// first.
func (s *PostgresStore) ListDecisions(ctx context.Context, patternID string, limit int) ([]models.PatternDecision, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, pattern_id, type, confidence, observation_count, reasoning, operations, conflicts_with, decided_at
		FROM pattern_decisions
		WHERE pattern_id = $1
		ORDER BY decided_at DESC
		LIMIT $2`, patternID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []models.PatternDecision
	for rows.Next() {
		var (
			d                         models.PatternDecision
			id, typ                   string
			reasoning, ops, conflicts []byte
		)
		if err := rows.Scan(&id, &d.PatternID, &typ, &d.Confidence, &d.ObservationCount, &reasoning, &ops, &conflicts, &d.DecidedAt); err != nil {
			return nil, err
		}
		d.ID = id
		d.Type = models.DecisionType(typ)
		if err := json.Unmarshal(reasoning, &d.Reasoning); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(ops, &d.Operations); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(conflicts, &d.ConflictsWith); err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
