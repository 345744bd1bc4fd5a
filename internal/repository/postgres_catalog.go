package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"flowsentinel/backend/internal/catalog"
	"flowsentinel/backend/pkg/models"

	"github.com/jackc/pgx/v5"
)

// snapshotHistory is the number of catalog snapshots kept.
const snapshotHistory = 10

// SaveSnapshot persists a synchronized catalog snapshot with the diff that
// produced it.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *catalog.Snapshot, diff models.CatalogDiff) error {
	descriptors := make([]models.NodeTypeDescriptor, 0, snap.Len())
	for _, name := range snap.TypeNames() {
		descriptors = append(descriptors, *snap.Types[name])
	}
	types, err := json.Marshal(descriptors)
	if err != nil {
		return fmt.Errorf("failed to marshal node types: %w", err)
	}
	diffJSON, err := json.Marshal(diff)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog diff: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		"INSERT INTO catalog_snapshots (platform_version, digest, node_types, diff, taken_at) VALUES ($1, $2, $3, $4, $5)",
		snap.PlatformVersion, snap.Digest, types, diffJSON, snap.TakenAt)
	if err != nil {
		return fmt.Errorf("failed to save catalog snapshot: %w", err)
	}
	_, err = tx.Exec(ctx,
		"DELETE FROM catalog_snapshots WHERE id NOT IN (SELECT id FROM catalog_snapshots ORDER BY id DESC LIMIT $1)",
		snapshotHistory)
	if err != nil {
		return fmt.Errorf("failed to prune catalog snapshots: %w", err)
	}
	return tx.Commit(ctx)
}

// LoadSnapshot returns the most recently saved snapshot with the diff that
// produced it, or nil when none was saved.
func (s *PostgresStore) LoadSnapshot(ctx context.Context) (*catalog.Snapshot, models.CatalogDiff, error) {
	var (
		version  string
		types    []byte
		diffJSON []byte
		takenAt  time.Time
		diff     models.CatalogDiff
	)
	err := s.db.QueryRow(ctx,
		"SELECT platform_version, node_types, diff, taken_at FROM catalog_snapshots ORDER BY id DESC LIMIT 1").
		Scan(&version, &types, &diffJSON, &takenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, diff, nil
	}
	if err != nil {
		return nil, diff, err
	}

	var descriptors []models.NodeTypeDescriptor
	if err := json.Unmarshal(types, &descriptors); err != nil {
		return nil, diff, fmt.Errorf("failed to decode node types: %w", err)
	}
	if err := json.Unmarshal(diffJSON, &diff); err != nil {
		return nil, models.CatalogDiff{}, fmt.Errorf("failed to decode catalog diff: %w", err)
	}
	snap, err := catalog.NewSnapshot(version, descriptors, takenAt)
	if err != nil {
		return nil, models.CatalogDiff{}, err
	}
	return snap, diff, nil
}
