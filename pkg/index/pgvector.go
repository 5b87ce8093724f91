package index

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/typefold/newsrag/internal/models"
	"github.com/typefold/newsrag/internal/types"
)

type PgvectorConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
}

// Pgvector is the similarity index backed by a pgvector table. Entries carry
// a metadata projection (title, source, timestamp, excerpt) so a hit can be
// displayed without a record store round-trip. The metric is cosine; scores
// are 1 - cosine distance.
type Pgvector struct {
	config PgvectorConfig
	pool   *pgxpool.Pool
}

func NewPgvector(ctx context.Context, config PgvectorConfig) (*Pgvector, error) {
	if config.TableName == "" {
		config.TableName = "article_vectors"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	idx := &Pgvector{
		config: config,
		pool:   pool,
	}

	if err := idx.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return idx, nil
}

func (idx *Pgvector) initialize(ctx context.Context) error {
	_, err := idx.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %v", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			published_at TIMESTAMPTZ,
			excerpt TEXT NOT NULL DEFAULT ''
		)`, idx.config.TableName, idx.config.VectorDim)

	if _, err := idx.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %v", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		idx.config.TableName, idx.config.TableName)

	if _, err := idx.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %v", err)
	}

	return nil
}

func (idx *Pgvector) Dimension() int {
	return idx.config.VectorDim
}

// Upsert writes entries, overwriting any existing vector for the same id.
// Overwrites are how interrupted sync passes converge, so they are not
// treated as conflicts.
func (idx *Pgvector) Upsert(ctx context.Context, entries []models.VectorEntry) error {
	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, title, source, published_at, excerpt)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			title = EXCLUDED.title,
			source = EXCLUDED.source,
			published_at = EXCLUDED.published_at,
			excerpt = EXCLUDED.excerpt`,
		idx.config.TableName)

	for _, e := range entries {
		if len(e.Vector) != idx.config.VectorDim {
			return fmt.Errorf("entry %d has dimension %d, index expects %d: %w",
				e.ID, len(e.Vector), idx.config.VectorDim, types.ErrDimensionMismatch)
		}

		var published *time.Time
		if !e.PublishedAt.IsZero() {
			published = &e.PublishedAt
		}

		_, err := idx.pool.Exec(ctx, stmt,
			e.ID, pgvector.NewVector(e.Vector), e.Title, e.Source, published, e.Excerpt)
		if err != nil {
			return fmt.Errorf("failed to upsert vector %d: %w", e.ID, err)
		}
	}
	return nil
}

func (idx *Pgvector) Query(ctx context.Context, vector []float32, topK int, filter *types.QueryFilter) ([]models.IndexMatch, error) {
	if len(vector) != idx.config.VectorDim {
		return nil, fmt.Errorf("query has dimension %d, index expects %d: %w",
			len(vector), idx.config.VectorDim, types.ErrDimensionMismatch)
	}

	where := ""
	args := []interface{}{pgvector.NewVector(vector), topK}
	if filter != nil && filter.Source != "" {
		where = "WHERE source = $3"
		args = append(args, filter.Source)
	}

	query := fmt.Sprintf(`
		SELECT id, title, source, published_at, excerpt,
		       1 - (embedding <=> $1) AS score
		FROM %s
		%s
		ORDER BY embedding <=> $1
		LIMIT $2`, idx.config.TableName, where)

	rows, err := idx.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	var matches []models.IndexMatch
	for rows.Next() {
		var m models.IndexMatch
		var published *time.Time
		if err := rows.Scan(&m.ID, &m.Title, &m.Source, &published, &m.Excerpt, &m.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		if published != nil {
			m.PublishedAt = *published
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (idx *Pgvector) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, idx.config.TableName)
	if _, err := idx.pool.Exec(ctx, stmt, ids); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	return nil
}

func (idx *Pgvector) Stats(ctx context.Context) (models.IndexStats, error) {
	stats := models.IndexStats{Dimension: idx.config.VectorDim}
	query := fmt.Sprintf(`SELECT count(*) FROM %s`, idx.config.TableName)
	if err := idx.pool.QueryRow(ctx, query).Scan(&stats.Count); err != nil {
		return stats, fmt.Errorf("failed to query index stats: %w", err)
	}
	return stats, nil
}

func (idx *Pgvector) Close() {
	if idx.pool != nil {
		idx.pool.Close()
	}
}
