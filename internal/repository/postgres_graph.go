package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"flowsentinel/backend/pkg/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const upsertRelationship = `
	INSERT INTO kg_relationships (pattern_id, from_type, to_type, kind, confidence, active, updated_at)
	VALUES ($1, $2, $3, $4, $5, TRUE, $6)
	ON CONFLICT (pattern_id, from_type, to_type, kind) DO UPDATE SET
		confidence = EXCLUDED.confidence, active = TRUE, updated_at = EXCLUDED.updated_at`

const upsertPatternStatus = `
	INSERT INTO kg_patterns (pattern_id, status, confidence, updated_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (pattern_id) DO UPDATE SET
		status = EXCLUDED.status, confidence = EXCLUDED.confidence, updated_at = EXCLUDED.updated_at`

// ApplyUpdate applies graph operations in one transaction.
func (s *PostgresStore) ApplyUpdate(ctx context.Context, ops []models.GraphOp) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, op := range ops {
		if err := applyOp(ctx, tx, op, now); err != nil {
			return fmt.Errorf("failed to apply %s for %s: %w", op.Kind, op.PatternID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	return s.InvalidateCache(ctx)
}

func applyOp(ctx context.Context, tx pgx.Tx, op models.GraphOp, now time.Time) error {
	switch op.Kind {
	case models.OpSetPatternStatus:
		_, err := tx.Exec(ctx, upsertPatternStatus, op.PatternID, string(op.Status), op.Confidence, now)
		return err

	case models.OpUpsertRelationship, models.OpUpdateConfidence:
		r, err := relationshipOf(op)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, upsertRelationship, op.PatternID, r.From, r.To, r.Kind, op.Confidence, now)
		return err

	case models.OpRetractRelationship:
		r, err := relationshipOf(op)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE kg_relationships SET active = FALSE, updated_at = $5
			WHERE pattern_id = $1 AND from_type = $2 AND to_type = $3 AND kind = $4`,
			op.PatternID, r.From, r.To, r.Kind, now)
		return err

	case models.OpRecordConflict:
		with, err := json.Marshal(nonNil(op.ConflictWith))
		if err != nil {
			return err
		}
		id := op.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO kg_conflicts (id, pattern_id, conflicts_with, reason, created_at) VALUES ($1, $2, $3, $4, $5)",
			id, op.PatternID, with, op.Reason, now); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, upsertPatternStatus, op.PatternID, string(models.PatternConflict), op.Confidence, now)
		return err
	}
	return fmt.Errorf("unknown graph operation %q", op.Kind)
}

func relationshipOf(op models.GraphOp) (models.Relationship, error) {
	if op.Relationship == nil {
		return models.Relationship{}, fmt.Errorf("%s requires a relationship", op.Kind)
	}
	return *op.Relationship, nil
}

// InvalidateCache drops the cached active relationships.
func (s *PostgresStore) InvalidateCache(ctx context.Context) error {
	s.mu.Lock()
	s.active = nil
	s.activeGen++
	s.mu.Unlock()
	return nil
}

// ConflictSet returns the active relationships of every pattern except
// patternID, sorted by pattern id.
func (s *PostgresStore) ConflictSet(ctx context.Context, patternID string) ([]models.ConflictingPattern, error) {
	active, err := s.activeRelationships(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(active))
	for id := range active {
		if id != patternID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	set := make([]models.ConflictingPattern, 0, len(ids))
	for _, id := range ids {
		set = append(set, models.ConflictingPattern{PatternID: id, Relationships: active[id]})
	}
	return set, nil
}

// PatternStatus returns the graph status of a pattern, candidate when the
// graph does not know it.
func (s *PostgresStore) PatternStatus(ctx context.Context, patternID string) (models.PatternStatus, error) {
	var status string
	err := s.db.QueryRow(ctx, "SELECT status FROM kg_patterns WHERE pattern_id = $1", patternID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.PatternCandidate, nil
	}
	if err != nil {
		return "", err
	}
	return models.PatternStatus(status), nil
}

func (s *PostgresStore) activeRelationships(ctx context.Context) (map[string][]models.Relationship, error) {
	s.mu.RLock()
	active, gen := s.active, s.activeGen
	s.mu.RUnlock()
	if active != nil {
		return active, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT pattern_id, from_type, to_type, kind FROM kg_relationships
		WHERE active ORDER BY pattern_id, from_type, to_type, kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	active = make(map[string][]models.Relationship)
	for rows.Next() {
		var (
			id string
			r  models.Relationship
		)
		if err := rows.Scan(&id, &r.From, &r.To, &r.Kind); err != nil {
			return nil, err
		}
		active[id] = append(active[id], r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.cacheActive(gen, active)
	return active, nil
}

// cacheActive stores relationships loaded under generation gen, unless the
// cache was invalidated while they were read.
func (s *PostgresStore) cacheActive(gen uint64, active map[string][]models.Relationship) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeGen != gen {
		return false
	}
	s.active = active
	return true
}
