package retrieval

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/typefold/newsrag/internal/models"
	"github.com/typefold/newsrag/internal/types"
)

// FloorDisabled turns the similarity floor off entirely: every hit the index
// returns is kept. Callers behind config-defaulted surfaces use it to ask for
// an explicit zero floor, since a zero MinSimilarity there means "unset".
const FloorDisabled float32 = -1

type Options struct {
	TopK          int
	MinSimilarity float32
	Source        string // restrict matches to one source, empty for all

	// KeywordFallback switches to the store's keyword search when the
	// vector path returns nothing above the floor.
	KeywordFallback bool
}

// Orchestrator answers queries by embedding them, probing the vector index,
// and resolving the hits back to full articles from the record store.
type Orchestrator struct {
	store    types.RecordStore
	index    types.VectorIndex
	embedder types.Embedder
}

func New(store types.RecordStore, index types.VectorIndex, embedder types.Embedder) *Orchestrator {
	return &Orchestrator{
		store:    store,
		index:    index,
		embedder: embedder,
	}
}

// Retrieve returns up to TopK articles ranked by similarity, most similar
// first. Matches below MinSimilarity are dropped, so fewer than TopK results
// is normal. Ties rank by recency.
func (o *Orchestrator) Retrieve(ctx context.Context, query string, opts Options) ([]models.Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, types.ErrEmptyText
	}
	topK := opts.TopK
	if topK == 0 {
		topK = 5
	}

	// A query embedded with a different dimension than the index was built
	// with can never produce meaningful scores. Fail loudly instead.
	if o.embedder.Dimension() != o.index.Dimension() {
		return nil, fmt.Errorf("%w: embedder produces %d dimensions, index expects %d",
			types.ErrModelMismatch, o.embedder.Dimension(), o.index.Dimension())
	}

	vector, err := o.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var filter *types.QueryFilter
	if opts.Source != "" {
		filter = &types.QueryFilter{Source: opts.Source}
	}

	hits, err := o.index.Query(ctx, vector, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("index query failed: %w", err)
	}

	kept := hits[:0]
	for _, h := range hits {
		if h.Score >= opts.MinSimilarity {
			kept = append(kept, h)
		}
	}

	if len(kept) == 0 {
		if opts.KeywordFallback {
			return o.keywordFallback(ctx, query, topK)
		}
		return []models.Match{}, nil
	}

	matches, err := o.resolve(ctx, kept)
	if err != nil {
		return nil, err
	}

	// Scores are only comparable when the query and the stored vectors come
	// from the same model. Same-dimension models make this invisible at the
	// index layer, so the check happens against the resolved records.
	tag := o.embedder.ModelTag()
	for _, m := range matches {
		if m.Article.EmbeddingModel != "" && m.Article.EmbeddingModel != tag {
			return nil, fmt.Errorf("article %d embedded with %q, query embedded with %q: %w",
				m.Article.ID, m.Article.EmbeddingModel, tag, types.ErrModelMismatch)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Article.PublishedAt.After(matches[j].Article.PublishedAt)
	})
	return matches, nil
}

// resolve maps index hits back to store records. A hit with no backing
// record is an orphan from an interrupted sync pass; it is skipped, not an
// error.
func (o *Orchestrator) resolve(ctx context.Context, hits []models.IndexMatch) ([]models.Match, error) {
	ids := make([]int64, len(hits))
	scoreByID := make(map[int64]float32, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		scoreByID[h.ID] = h.Score
	}

	articles, err := o.store.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve matches: %w", err)
	}

	found := make(map[int64]bool, len(articles))
	matches := make([]models.Match, 0, len(articles))
	for _, a := range articles {
		found[a.ID] = true
		matches = append(matches, models.Match{Article: a, Score: scoreByID[a.ID]})
	}
	for _, id := range ids {
		if !found[id] {
			log.Printf("retrieval: index entry %d has no backing record, skipping", id)
		}
	}
	return matches, nil
}

func (o *Orchestrator) keywordFallback(ctx context.Context, query string, limit int) ([]models.Match, error) {
	articles, err := o.store.SearchKeyword(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword fallback failed: %w", err)
	}
	matches := make([]models.Match, 0, len(articles))
	for _, a := range articles {
		matches = append(matches, models.Match{Article: a})
	}
	return matches, nil
}
