package repository

import (
	"context"
	"fmt"
	"sync"

	"flowsentinel/backend/pkg/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the catalog snapshot store, the evidence and
// decision stores and the knowledge graph on PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool

	mu sync.RWMutex
	// active caches the active relationships by pattern id; nil when not
	// loaded.
	active map[string][]models.Relationship
	// activeGen is bumped by InvalidateCache. A load started under an
	// older generation is not cached.
	activeGen uint64
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS catalog_snapshots (
	id BIGSERIAL PRIMARY KEY,
	platform_version TEXT NOT NULL,
	digest TEXT NOT NULL,
	node_types JSONB NOT NULL,
	diff JSONB NOT NULL,
	taken_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS pattern_evidence (
	pattern_id TEXT PRIMARY KEY,
	archetype TEXT NOT NULL,
	node_types JSONB NOT NULL DEFAULT '[]',
	relationships JSONB NOT NULL DEFAULT '[]',
	success_count INT NOT NULL DEFAULT 0,
	failure_count INT NOT NULL DEFAULT 0,
	recent_outcomes BOOLEAN[] NOT NULL DEFAULT '{}',
	embedding_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	semantic_stability DOUBLE PRECISION NOT NULL DEFAULT 0,
	satisfaction_avg DOUBLE PRECISION NOT NULL DEFAULT 0,
	feedback_count INT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS pattern_decisions (
	id UUID PRIMARY KEY,
	pattern_id TEXT NOT NULL,
	type TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	observation_count INT NOT NULL,
	reasoning JSONB NOT NULL,
	operations JSONB NOT NULL,
	conflicts_with JSONB NOT NULL DEFAULT '[]',
	decided_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS pattern_decisions_pattern_idx ON pattern_decisions (pattern_id, decided_at DESC);

CREATE TABLE IF NOT EXISTS kg_patterns (
	pattern_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS kg_relationships (
	pattern_id TEXT NOT NULL,
	from_type TEXT NOT NULL,
	to_type TEXT NOT NULL,
	kind TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (pattern_id, from_type, to_type, kind)
);

CREATE TABLE IF NOT EXISTS kg_conflicts (
	id UUID PRIMARY KEY,
	pattern_id TEXT NOT NULL,
	conflicts_with JSONB NOT NULL,
	reason TEXT NOT NULL,
	resolved BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
