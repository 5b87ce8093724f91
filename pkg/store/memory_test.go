package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typefold/newsrag/internal/models"
	"github.com/typefold/newsrag/internal/types"
	"github.com/typefold/newsrag/pkg/store"
)

func TestMemory_UpsertBatchDeduplicates(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	inserted, duplicates, err := s.UpsertBatch(ctx, []models.Article{
		{URL: "http://x.com/a", Title: "first"},
		{URL: "http://x.com/a/", Title: "trailing slash duplicate"},
		{URL: "http://x.com/b?z=1&a=2", Title: "second"},
		{URL: "http://x.com/b?a=2&z=1", Title: "query order duplicate"},
		{URL: "http://x.com/c", Title: "third"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)
	assert.Equal(t, 2, duplicates)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.WithoutEmbeddings)
}

func TestMemory_FetchMissingEmbeddingsOrder(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	_, _, err := s.UpsertBatch(ctx, []models.Article{
		{URL: "http://x.com/1"},
		{URL: "http://x.com/2"},
		{URL: "http://x.com/3"},
	})
	require.NoError(t, err)

	backlog, err := s.FetchMissingEmbeddings(ctx, 2)
	require.NoError(t, err)
	require.Len(t, backlog, 2)
	assert.Equal(t, "http://x.com/1", backlog[0].URL)
	assert.Equal(t, "http://x.com/2", backlog[1].URL)

	// Embedding the oldest moves the window forward
	require.NoError(t, s.AttachEmbedding(ctx, backlog[0].ID, []float32{1, 0}, "test-model"))

	backlog, err = s.FetchMissingEmbeddings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, backlog, 2)
	assert.Equal(t, "http://x.com/2", backlog[0].URL)
}

func TestMemory_AttachEmbeddingIdempotent(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	_, _, err := s.UpsertBatch(ctx, []models.Article{{URL: "http://x.com/a"}})
	require.NoError(t, err)

	backlog, err := s.FetchMissingEmbeddings(ctx, 1)
	require.NoError(t, err)
	id := backlog[0].ID

	vec := []float32{0.1, 0.2, 0.3}
	require.NoError(t, s.AttachEmbedding(ctx, id, vec, "model-a"))
	require.NoError(t, s.AttachEmbedding(ctx, id, vec, "model-a"))

	got, err := s.GetByIDs(ctx, []int64{id})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Embedded)
	assert.Equal(t, vec, got[0].Embedding)
	assert.Equal(t, "model-a", got[0].EmbeddingModel)

	// Re-embedding under a new model tag overwrites
	require.NoError(t, s.AttachEmbedding(ctx, id, []float32{9, 9, 9}, "model-b"))
	got, err = s.GetByIDs(ctx, []int64{id})
	require.NoError(t, err)
	assert.Equal(t, "model-b", got[0].EmbeddingModel)
	assert.Equal(t, []float32{9, 9, 9}, got[0].Embedding)
}

func TestMemory_AttachEmbeddingNotFound(t *testing.T) {
	s := store.NewMemory()
	err := s.AttachEmbedding(context.Background(), 42, []float32{1}, "m")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestMemory_ClaimPending(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	_, _, err := s.UpsertBatch(ctx, []models.Article{
		{URL: "http://x.com/1"},
		{URL: "http://x.com/2"},
	})
	require.NoError(t, err)

	first, err := s.ClaimPending(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	// A concurrent pass sees nothing while claims are live
	second, err := s.ClaimPending(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, second)

	// Releasing returns records to the backlog
	require.NoError(t, s.ReleaseClaims(ctx, []int64{first[0].ID}))
	third, err := s.ClaimPending(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, third, 1)
	assert.Equal(t, first[0].ID, third[0].ID)

	// An expired lease is claimable again
	_, err = s.ClaimPending(ctx, 10, -time.Second)
	require.NoError(t, err)
}

func TestMemory_ResetEmbeddings(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	_, _, err := s.UpsertBatch(ctx, []models.Article{{URL: "http://x.com/a"}})
	require.NoError(t, err)
	backlog, _ := s.FetchMissingEmbeddings(ctx, 1)
	require.NoError(t, s.AttachEmbedding(ctx, backlog[0].ID, []float32{1}, "m"))

	require.NoError(t, s.ResetEmbeddings(ctx))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.WithEmbeddings)
	assert.Equal(t, 1, stats.WithoutEmbeddings)
}

func TestMemory_SearchKeyword(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()

	now := time.Now()
	_, _, err := s.UpsertBatch(ctx, []models.Article{
		{URL: "http://x.com/old", Title: "Quantum computing advances", PublishedAt: now.Add(-48 * time.Hour)},
		{URL: "http://x.com/new", Title: "More QUANTUM news", PublishedAt: now},
		{URL: "http://x.com/other", Title: "Sports results", PublishedAt: now},
	})
	require.NoError(t, err)

	results, err := s.SearchKeyword(ctx, "quantum", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// Most recent first
	assert.Equal(t, "http://x.com/new", results[0].URL)
	assert.Equal(t, "http://x.com/old", results[1].URL)

	results, err = s.SearchKeyword(ctx, "quantum", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}
