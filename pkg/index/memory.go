package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/typefold/newsrag/internal/models"
	"github.com/typefold/newsrag/internal/types"
)

// Memory is a brute-force cosine index for tests and small deployments.
// Scores match the pgvector implementation: 1 - cosine distance.
type Memory struct {
	mu        sync.RWMutex
	dimension int
	entries   map[int64]models.VectorEntry
}

func NewMemory(dimension int) *Memory {
	return &Memory{
		dimension: dimension,
		entries:   make(map[int64]models.VectorEntry),
	}
}

func (m *Memory) Dimension() int {
	return m.dimension
}

func (m *Memory) Upsert(ctx context.Context, entries []models.VectorEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		if len(e.Vector) != m.dimension {
			return fmt.Errorf("entry %d has dimension %d, index expects %d: %w",
				e.ID, len(e.Vector), m.dimension, types.ErrDimensionMismatch)
		}
		e.Vector = append([]float32(nil), e.Vector...)
		m.entries[e.ID] = e
	}
	return nil
}

func (m *Memory) Query(ctx context.Context, vector []float32, topK int, filter *types.QueryFilter) ([]models.IndexMatch, error) {
	if len(vector) != m.dimension {
		return nil, fmt.Errorf("query has dimension %d, index expects %d: %w",
			len(vector), m.dimension, types.ErrDimensionMismatch)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []models.IndexMatch
	for _, e := range m.entries {
		if filter != nil && filter.Source != "" && e.Source != filter.Source {
			continue
		}
		matches = append(matches, models.IndexMatch{
			ID:          e.ID,
			Score:       cosineSimilarity(vector, e.Vector),
			Title:       e.Title,
			Source:      e.Source,
			PublishedAt: e.PublishedAt,
			Excerpt:     e.Excerpt,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if topK < len(matches) {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *Memory) Delete(ctx context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

func (m *Memory) Stats(ctx context.Context) (models.IndexStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return models.IndexStats{
		Count:     len(m.entries),
		Dimension: m.dimension,
	}, nil
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
