package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"flowsentinel/backend/internal/catalog"
	sentinelerrors "flowsentinel/backend/pkg/errors"
	"flowsentinel/backend/pkg/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	store := NewPostgresStore(pool)
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrations are idempotent")
	require.NoError(t, store.Ping(ctx))
	return store, ctx
}

func descriptor(nodeType string, version float64) models.NodeTypeDescriptor {
	return models.NodeTypeDescriptor{
		Type:           nodeType,
		DisplayName:    models.LocalName(nodeType),
		CurrentVersion: version,
		Properties: []models.PropertySchema{
			{Name: "url", Type: models.PropertyString, Required: true},
			{Name: "method", Type: models.PropertyOptions, Default: "GET", Options: []string{"GET", "POST"}},
		},
	}
}

func TestPostgresStore(t *testing.T) {
	store, ctx := setupStore(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Catalog snapshots", func(t *testing.T) {
		loaded, diff, err := store.LoadSnapshot(ctx)
		require.NoError(t, err)
		assert.Nil(t, loaded)
		assert.True(t, diff.Empty())

		first, err := catalog.NewSnapshot("1.63.0", []models.NodeTypeDescriptor{
			descriptor("n8n-nodes-base.httpRequest", 4.1),
			descriptor("n8n-nodes-base.webhook", 2),
		}, now)
		require.NoError(t, err)
		require.NoError(t, store.SaveSnapshot(ctx, first, catalog.Diff(nil, first, now)))

		second, err := catalog.NewSnapshot("1.64.0", []models.NodeTypeDescriptor{
			descriptor("n8n-nodes-base.httpRequest", 4.2),
		}, now.Add(time.Hour))
		require.NoError(t, err)
		saved := catalog.Diff(first, second, now)
		require.NoError(t, store.SaveSnapshot(ctx, second, saved))

		loaded, diff, err = store.LoadSnapshot(ctx)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, "1.64.0", loaded.PlatformVersion)
		assert.Equal(t, second.TypeNames(), loaded.TypeNames())
		assert.Equal(t, second.Digest, loaded.Digest)
		assert.Equal(t, second.Version(), loaded.Version())
		assert.Equal(t, "1.63.0", diff.FromVersion)
		assert.Equal(t, "1.64.0", diff.ToVersion)
		assert.Equal(t, saved.Removed, diff.Removed)
		assert.Equal(t, saved.Modified, diff.Modified)
	})

	t.Run("Evidence accumulates", func(t *testing.T) {
		delta := EvidenceDelta{
			PatternID:           "api-ingest-1",
			Archetype:           "api-ingest",
			NodeTypes:           []string{"n8n-nodes-base.webhook", "n8n-nodes-base.httpRequest"},
			Relationships:       []models.Relationship{{From: "n8n-nodes-base.webhook", To: "n8n-nodes-base.httpRequest", Kind: "feeds"}},
			EmbeddingConfidence: 0.9,
			SemanticStability:   0.8,
			ObservedAt:          now,
		}
		outcomes := []struct {
			success      bool
			satisfaction float64
		}{{true, 5}, {true, 0}, {true, 4}, {false, 0}}

		var ev *models.PatternEvidence
		for _, o := range outcomes {
			d := delta
			d.Success, d.Satisfaction = o.success, o.satisfaction
			var err error
			ev, err = store.AppendEvidence(ctx, d)
			require.NoError(t, err)
		}

		assert.Equal(t, 3, ev.SuccessCount)
		assert.Equal(t, 1, ev.FailureCount)
		assert.Equal(t, []bool{true, true, true, false}, ev.RecentOutcomes)
		assert.Equal(t, 2, ev.FeedbackCount)
		assert.InDelta(t, 4.5, ev.UserSatisfactionAvg, 1e-9)
		assert.Equal(t, delta.Relationships, ev.Relationships)

		got, err := store.GetEvidence(ctx, "api-ingest-1")
		require.NoError(t, err)
		assert.Equal(t, ev.SuccessCount, got.SuccessCount)
		assert.Equal(t, delta.NodeTypes, got.NodeTypes)

		_, err = store.GetEvidence(ctx, "missing")
		assert.True(t, errors.Is(err, &sentinelerrors.NotFoundError{}))

		ids, err := store.ListPatternIDs(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, "api-ingest-1")
	})

	t.Run("Outcome history is bounded", func(t *testing.T) {
		var ev *models.PatternEvidence
		for i := 0; i < maxRecentOutcomes+5; i++ {
			var err error
			ev, err = store.AppendEvidence(ctx, EvidenceDelta{PatternID: "busy", Archetype: "etl", Success: i%2 == 0, ObservedAt: now})
			require.NoError(t, err)
		}
		assert.Len(t, ev.RecentOutcomes, maxRecentOutcomes)
		assert.Equal(t, maxRecentOutcomes+5, ev.ObservationCount())
		assert.True(t, ev.RecentOutcomes[len(ev.RecentOutcomes)-1], "the newest outcome is last")
	})

	t.Run("Decisions", func(t *testing.T) {
		prior, err := store.PriorDecision(ctx, "api-ingest-1")
		require.NoError(t, err)
		assert.Nil(t, prior)

		for i, typ := range []models.DecisionType{models.DecisionHold, models.DecisionPromote, models.DecisionHold} {
			require.NoError(t, store.SaveDecision(ctx, models.PatternDecision{
				ID:               uuid.NewString(),
				PatternID:        "api-ingest-1",
				Type:             typ,
				Confidence:       0.9 + float64(i)/100,
				ObservationCount: 3 + i,
				Reasoning:        []string{"decision: " + string(typ)},
				DecidedAt:        now.Add(time.Duration(i) * time.Minute),
			}))
		}

		prior, err = store.PriorDecision(ctx, "api-ingest-1")
		require.NoError(t, err)
		require.NotNil(t, prior)
		assert.Equal(t, models.DecisionPromote, prior.Type)
		assert.Equal(t, 4, prior.ObservationCount)
		assert.InDelta(t, 0.91, prior.Confidence, 1e-9)

		decisions, err := store.ListDecisions(ctx, "api-ingest-1", 10)
		require.NoError(t, err)
		require.Len(t, decisions, 3)
		assert.Equal(t, models.DecisionHold, decisions[0].Type)
		assert.Equal(t, 5, decisions[0].ObservationCount)
		assert.Equal(t, []string{"decision: hold"}, decisions[0].Reasoning)
		assert.Empty(t, decisions[0].Operations)
	})

	t.Run("Knowledge graph", func(t *testing.T) {
		ab := models.Relationship{From: "a", To: "b", Kind: "feeds"}
		cd := models.Relationship{From: "c", To: "d", Kind: "feeds"}

		require.NoError(t, store.ApplyUpdate(ctx, []models.GraphOp{
			{ID: uuid.NewString(), Kind: models.OpSetPatternStatus, PatternID: "p1", Status: models.PatternPromoted, Confidence: 0.9},
			{ID: uuid.NewString(), Kind: models.OpUpsertRelationship, PatternID: "p1", Relationship: &ab, Confidence: 0.9},
			{ID: uuid.NewString(), Kind: models.OpUpsertRelationship, PatternID: "p2", Relationship: &cd, Confidence: 0.8},
		}))

		set, err := store.ConflictSet(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, []models.ConflictingPattern{{PatternID: "p2", Relationships: []models.Relationship{cd}}}, set)

		status, err := store.PatternStatus(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, models.PatternPromoted, status)

		require.NoError(t, store.ApplyUpdate(ctx, []models.GraphOp{
			{Kind: models.OpRetractRelationship, PatternID: "p2", Relationship: &cd},
			{Kind: models.OpRecordConflict, PatternID: "p3", ConflictWith: []string{"p1"}, Reason: "b -feeds-> a"},
		}))

		set, err = store.ConflictSet(ctx, "p1")
		require.NoError(t, err)
		assert.Empty(t, set, "retracted relationships are not part of the conflict set")

		status, err = store.PatternStatus(ctx, "p3")
		require.NoError(t, err)
		assert.Equal(t, models.PatternConflict, status)
	})

	t.Run("Graph updates are atomic", func(t *testing.T) {
		err := store.ApplyUpdate(ctx, []models.GraphOp{
			{Kind: models.OpSetPatternStatus, PatternID: "p4", Status: models.PatternPromoted},
			{Kind: models.OpUpsertRelationship, PatternID: "p4"},
		})
		require.Error(t, err)

		status, err := store.PatternStatus(ctx, "p4")
		require.NoError(t, err)
		assert.Equal(t, models.PatternCandidate, status)
	})
}
