package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/typefold/newsrag/internal/models"
	"github.com/typefold/newsrag/internal/types"
	"github.com/typefold/newsrag/pkg/processor"
)

type Options struct {
	BatchSize  int
	MaxRetries int           // attempts per batch for transient adapter failures
	Backoff    time.Duration // initial backoff, doubled per retry
	ClaimLease time.Duration
	OnProgress func(embedded int)
}

type Stats struct {
	Batches  int
	Embedded int
	Failed   int
}

// Syncer reconciles the record store and the vector index: it drives the
// backlog of un-embedded articles to zero by claiming bounded batches,
// embedding them, and writing index entry then store flag, in that order.
type Syncer struct {
	store    types.RecordStore
	index    types.VectorIndex
	embedder types.Embedder
	proc     processor.Processor
	opts     Options
}

func New(store types.RecordStore, index types.VectorIndex, embedder types.Embedder, proc processor.Processor, opts Options) *Syncer {
	if opts.BatchSize == 0 {
		opts.BatchSize = 32
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.Backoff == 0 {
		opts.Backoff = time.Second
	}
	if opts.ClaimLease == 0 {
		opts.ClaimLease = 5 * time.Minute
	}

	return &Syncer{
		store:    store,
		index:    index,
		embedder: embedder,
		proc:     proc,
		opts:     opts,
	}
}

// Run processes the backlog until it is empty or ctx is cancelled.
// Re-running with no backlog is a no-op.
func (s *Syncer) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		batch, err := s.store.ClaimPending(ctx, s.opts.BatchSize, s.opts.ClaimLease)
		if err != nil {
			return stats, fmt.Errorf("failed to claim backlog: %w", err)
		}
		if len(batch) == 0 {
			return stats, nil
		}

		stats.Batches++
		if err := s.processBatch(ctx, batch, &stats); err != nil {
			return stats, err
		}
	}
}

// Reembed forces a full pass over every record regardless of its flag, for
// model migration. Explicit only; a normal Run never re-embeds.
func (s *Syncer) Reembed(ctx context.Context) (Stats, error) {
	if err := s.store.ResetEmbeddings(ctx); err != nil {
		return Stats{}, err
	}
	return s.Run(ctx)
}

func (s *Syncer) processBatch(ctx context.Context, batch []models.Article, stats *Stats) error {
	// Records with no embeddable text are skipped but stay claimed, so the
	// pass terminates; the lease expiry returns them to the backlog.
	work := make([]models.Article, 0, len(batch))
	texts := make([]string, 0, len(batch))
	for _, a := range batch {
		text := s.proc.EmbedText(a.Title, a.Description, a.Content)
		if text == "" {
			log.Printf("sync: article %d has no embeddable text, skipping", a.ID)
			stats.Failed++
			continue
		}
		work = append(work, a)
		texts = append(texts, text)
	}
	if len(work) == 0 {
		return nil
	}

	vectors, err := s.embedWithRetry(ctx, texts)
	if err != nil {
		// Batch-level failure: release the claims so the next pass can
		// retry immediately, then surface it.
		ids := make([]int64, len(work))
		for i, a := range work {
			ids[i] = a.ID
		}
		if relErr := s.store.ReleaseClaims(ctx, ids); relErr != nil {
			log.Printf("sync: failed to release claims: %v", relErr)
		}
		return fmt.Errorf("batch embedding failed: %w", err)
	}

	for i, a := range work {
		entry := models.VectorEntry{
			ID:          a.ID,
			Vector:      vectors[i],
			Title:       a.Title,
			Source:      a.Source,
			PublishedAt: a.PublishedAt,
			Excerpt:     s.proc.Excerpt(a.Content),
		}

		if err := s.index.Upsert(ctx, []models.VectorEntry{entry}); err != nil {
			log.Printf("sync: index write for article %d failed: %v", a.ID, err)
			stats.Failed++
			continue
		}

		// The index write is confirmed before the flag flips. A crash
		// between the two leaves an orphan index entry, which the next
		// pass overwrites idempotently; the store flag never runs ahead
		// of the index.
		if err := s.store.AttachEmbedding(ctx, a.ID, vectors[i], s.embedder.ModelTag()); err != nil {
			log.Printf("sync: attach embedding for article %d failed: %v", a.ID, err)
			stats.Failed++
			continue
		}

		stats.Embedded++
		if s.opts.OnProgress != nil {
			s.opts.OnProgress(stats.Embedded)
		}
	}
	return nil
}

func (s *Syncer) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	backoff := s.opts.Backoff
	var lastErr error

	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
