package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/typefold/newsrag/internal/models"
	"github.com/typefold/newsrag/internal/types"
)

// Memory is an in-memory record store with the same semantics as Postgres.
// It backs tests and lets callers inject a store without a database.
type Memory struct {
	mu      sync.RWMutex
	nextID  int64
	byID    map[int64]*models.Article
	byURL   map[string]int64
	order   []int64 // insertion order
	claimed map[int64]time.Time
}

func NewMemory() *Memory {
	return &Memory{
		nextID:  1,
		byID:    make(map[int64]*models.Article),
		byURL:   make(map[string]int64),
		claimed: make(map[int64]time.Time),
	}
}

func (s *Memory) UpsertBatch(ctx context.Context, articles []models.Article) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var inserted, duplicates int
	for _, a := range articles {
		canonical, err := CanonicalURL(a.URL)
		if err != nil {
			continue
		}
		if _, ok := s.byURL[canonical]; ok {
			duplicates++
			continue
		}

		a.ID = s.nextID
		a.URL = canonical
		if a.FetchedAt.IsZero() {
			a.FetchedAt = time.Now()
		}
		a.Embedded = false
		a.Embedding = nil

		s.nextID++
		stored := a
		s.byID[stored.ID] = &stored
		s.byURL[canonical] = stored.ID
		s.order = append(s.order, stored.ID)
		inserted++
	}
	return inserted, duplicates, nil
}

func (s *Memory) FetchMissingEmbeddings(ctx context.Context, limit int) ([]models.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Article
	for _, id := range s.order {
		if len(out) >= limit {
			break
		}
		if a := s.byID[id]; !a.Embedded {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *Memory) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]models.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var out []models.Article
	for _, id := range s.order {
		if len(out) >= limit {
			break
		}
		a := s.byID[id]
		if a.Embedded {
			continue
		}
		if at, ok := s.claimed[id]; ok && now.Sub(at) < lease {
			continue
		}
		s.claimed[id] = now
		out = append(out, *a)
	}
	return out, nil
}

func (s *Memory) ReleaseClaims(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.claimed, id)
	}
	return nil
}

func (s *Memory) AttachEmbedding(ctx context.Context, id int64, vector []float32, modelTag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("article %d: %w", id, types.ErrNotFound)
	}
	a.Embedding = append([]float32(nil), vector...)
	a.Embedded = true
	a.EmbeddingModel = modelTag
	delete(s.claimed, id)
	return nil
}

func (s *Memory) ResetEmbeddings(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.byID {
		a.Embedded = false
		a.Embedding = nil
		a.EmbeddingModel = ""
	}
	s.claimed = make(map[int64]time.Time)
	return nil
}

func (s *Memory) GetByIDs(ctx context.Context, ids []int64) ([]models.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Article
	for _, id := range ids {
		if a, ok := s.byID[id]; ok {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *Memory) SearchKeyword(ctx context.Context, query string, limit int) ([]models.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(query)
	var out []models.Article
	for _, id := range s.order {
		a := s.byID[id]
		haystack := strings.ToLower(a.Title + " " + a.Description + " " + a.Content)
		if strings.Contains(haystack, needle) {
			out = append(out, *a)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PublishedAt.After(out[j].PublishedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) Stats(ctx context.Context) (models.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.StoreStats{BySource: make(map[string]int)}
	for _, a := range s.byID {
		stats.Total++
		if a.Embedded {
			stats.WithEmbeddings++
		}
		stats.BySource[a.Source]++
	}
	stats.WithoutEmbeddings = stats.Total - stats.WithEmbeddings
	return stats, nil
}

func (s *Memory) Close() {}
