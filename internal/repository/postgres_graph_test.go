package repository

import (
	"context"
	"testing"

	"flowsentinel/backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheActive_SkipsLoadsStartedBeforeInvalidation(t *testing.T) {
	ctx := context.Background()
	store := NewPostgresStore(nil)
	stale := map[string][]models.Relationship{
		"api-ingest-1": {{From: "n8n-nodes-base.webhook", To: "n8n-nodes-base.httpRequest", Kind: "feeds"}},
	}

	gen := store.activeGen
	require.NoError(t, store.InvalidateCache(ctx))

	assert.False(t, store.cacheActive(gen, stale))
	assert.Nil(t, store.active, "rows read before the update must not be cached")

	fresh := map[string][]models.Relationship{}
	assert.True(t, store.cacheActive(store.activeGen, fresh))
	assert.NotNil(t, store.active)

	require.NoError(t, store.InvalidateCache(ctx))
	assert.Nil(t, store.active)
}
