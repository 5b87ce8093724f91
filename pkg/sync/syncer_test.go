package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typefold/newsrag/internal/models"
	"github.com/typefold/newsrag/pkg/index"
	"github.com/typefold/newsrag/pkg/processor"
	"github.com/typefold/newsrag/pkg/store"
)

type fakeEmbedder struct {
	dim     int
	tag     string
	calls   int
	failFor func(call int) error
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.failFor != nil {
		if err := f.failFor(f.calls); err != nil {
			return nil, err
		}
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dim)
		v[0] = 1
		vectors[i] = v
	}
	return vectors, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

func (f *fakeEmbedder) ModelTag() string {
	if f.tag == "" {
		return "fake-model:v1"
	}
	return f.tag
}

func seedArticles(t *testing.T, s *store.Memory, n int) {
	t.Helper()
	articles := make([]models.Article, n)
	for i := range articles {
		articles[i] = models.Article{
			URL:     fmt.Sprintf("https://example.com/article-%d", i),
			Title:   fmt.Sprintf("Article %d", i),
			Content: fmt.Sprintf("Body of article %d", i),
			Source:  "Example",
		}
	}
	inserted, _, err := s.UpsertBatch(context.Background(), articles)
	require.NoError(t, err)
	require.Equal(t, n, inserted)
}

func newTestSyncer(s *store.Memory, idx *index.Memory, emb *fakeEmbedder, opts Options) *Syncer {
	return New(s, idx, emb, processor.NewWithConfig(processor.ProcessorConfig{}), opts)
}

func TestRun_EmbedsWholeBacklog(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	idx := index.NewMemory(3)
	emb := &fakeEmbedder{dim: 3}
	seedArticles(t, s, 5)

	syncer := newTestSyncer(s, idx, emb, Options{BatchSize: 32})

	stats, err := syncer.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Embedded)
	assert.Equal(t, 0, stats.Failed)

	storeStats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, storeStats.WithEmbeddings)
	assert.Equal(t, 0, storeStats.WithoutEmbeddings)

	indexStats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, indexStats.Count)
}

func TestRun_NoBacklogIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	idx := index.NewMemory(3)
	emb := &fakeEmbedder{dim: 3}
	seedArticles(t, s, 2)

	syncer := newTestSyncer(s, idx, emb, Options{})
	_, err := syncer.Run(ctx)
	require.NoError(t, err)

	stats, err := syncer.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Embedded)
	assert.Equal(t, 0, stats.Batches)
	assert.Equal(t, 1, emb.calls, "second run must not call the adapter")
}

func TestRun_BatchSizeBoundsAdapterCalls(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	idx := index.NewMemory(3)
	emb := &fakeEmbedder{dim: 3}
	seedArticles(t, s, 4)

	syncer := newTestSyncer(s, idx, emb, Options{BatchSize: 2})

	stats, err := syncer.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Embedded)
	assert.Equal(t, 2, stats.Batches)
	assert.Equal(t, 2, emb.calls)
}

func TestRun_EmptyTextSkippedWithoutAbortingBatch(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	idx := index.NewMemory(3)
	emb := &fakeEmbedder{dim: 3}

	_, _, err := s.UpsertBatch(ctx, []models.Article{
		{URL: "https://example.com/a", Title: "Has text", Content: "Body"},
		{URL: "https://example.com/b"}, // nothing to embed
		{URL: "https://example.com/c", Title: "Also has text"},
	})
	require.NoError(t, err)

	syncer := newTestSyncer(s, idx, emb, Options{BatchSize: 10})

	stats, err := syncer.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Embedded)
	assert.Equal(t, 1, stats.Failed)

	storeStats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, storeStats.WithEmbeddings)
	assert.Equal(t, 1, storeStats.WithoutEmbeddings)
}

func TestRun_TransientAdapterFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	idx := index.NewMemory(3)
	emb := &fakeEmbedder{dim: 3, failFor: func(call int) error {
		if call <= 2 {
			return fmt.Errorf("adapter unavailable")
		}
		return nil
	}}
	seedArticles(t, s, 3)

	syncer := newTestSyncer(s, idx, emb, Options{
		BatchSize:  10,
		MaxRetries: 3,
		Backoff:    time.Millisecond,
	})

	stats, err := syncer.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Embedded)
	assert.Equal(t, 3, emb.calls)
}

func TestRun_AdapterFailureReleasesClaims(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	idx := index.NewMemory(3)
	emb := &fakeEmbedder{dim: 3, failFor: func(call int) error {
		return fmt.Errorf("adapter down")
	}}
	seedArticles(t, s, 3)

	syncer := newTestSyncer(s, idx, emb, Options{
		BatchSize:  10,
		MaxRetries: 2,
		Backoff:    time.Millisecond,
		ClaimLease: time.Hour,
	})

	_, err := syncer.Run(ctx)
	require.Error(t, err)

	// The claims were released, so a recovered adapter picks the records up
	// immediately instead of waiting out the lease.
	emb.failFor = nil
	stats, err := syncer.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Embedded)
}

func TestRun_OrphanIndexEntryIsOverwritten(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	idx := index.NewMemory(3)
	emb := &fakeEmbedder{dim: 3}
	seedArticles(t, s, 1)

	backlog, err := s.FetchMissingEmbeddings(ctx, 1)
	require.NoError(t, err)
	id := backlog[0].ID

	// Simulate a crash after the index write but before the store flag: the
	// index holds an entry for a record still marked un-embedded.
	require.NoError(t, idx.Upsert(ctx, []models.VectorEntry{
		{ID: id, Vector: []float32{0, 1, 0}, Title: "stale"},
	}))

	syncer := newTestSyncer(s, idx, emb, Options{})
	stats, err := syncer.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Embedded)

	indexStats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, indexStats.Count, "overwrite, not duplicate")

	matches, err := idx.Query(ctx, []float32{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, id, matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6, "fresh vector replaced the stale one")
}

func TestReembed_ReprocessesEverything(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	idx := index.NewMemory(3)
	emb := &fakeEmbedder{dim: 3, tag: "model-a:v1"}
	seedArticles(t, s, 3)

	syncer := newTestSyncer(s, idx, emb, Options{BatchSize: 10})
	_, err := syncer.Run(ctx)
	require.NoError(t, err)

	emb.tag = "model-b:v2"
	stats, err := syncer.Reembed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Embedded)
	assert.Equal(t, 2, emb.calls)

	articles, err := s.FetchMissingEmbeddings(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, articles)
}

func TestRun_CancelledContext(t *testing.T) {
	s := store.NewMemory()
	idx := index.NewMemory(3)
	emb := &fakeEmbedder{dim: 3}
	seedArticles(t, s, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	syncer := newTestSyncer(s, idx, emb, Options{})
	_, err := syncer.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, emb.calls)
}

func TestRun_ReportsProgress(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	idx := index.NewMemory(3)
	emb := &fakeEmbedder{dim: 3}
	seedArticles(t, s, 3)

	var seen []int
	syncer := newTestSyncer(s, idx, emb, Options{
		BatchSize:  2,
		OnProgress: func(n int) { seen = append(seen, n) },
	})

	_, err := syncer.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}
