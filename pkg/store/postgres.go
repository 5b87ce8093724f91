package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/typefold/newsrag/internal/models"
	"github.com/typefold/newsrag/internal/types"
)

type PostgresConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
}

// Postgres is the durable record store. The canonical URL carries a unique
// constraint; the embedding lives in a nullable vector column next to the
// embedded flag so the backlog is just "WHERE NOT embedded".
type Postgres struct {
	config PostgresConfig
	pool   *pgxpool.Pool
}

func NewPostgres(ctx context.Context, config PostgresConfig) (*Postgres, error) {
	if config.TableName == "" {
		config.TableName = "articles"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	s := &Postgres{
		config: config,
		pool:   pool,
	}

	if err := s.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *Postgres) initialize(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %v", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			canonical_url TEXT UNIQUE NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			published_at TIMESTAMPTZ,
			fetched_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			embedded BOOLEAN NOT NULL DEFAULT FALSE,
			embedding vector(%d),
			embedding_model TEXT NOT NULL DEFAULT '',
			claimed_at TIMESTAMPTZ
		)`, s.config.TableName, s.config.VectorDim)

	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %v", err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_backlog_idx ON %s (id) WHERE NOT embedded`,
			s.config.TableName, s.config.TableName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_source_idx ON %s (source)`,
			s.config.TableName, s.config.TableName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_published_idx ON %s (published_at)`,
			s.config.TableName, s.config.TableName),
	}
	for _, stmt := range indexes {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %v", err)
		}
	}

	return nil
}

const articleColumns = `id, canonical_url, title, description, content, source, author,
	image_url, published_at, fetched_at, embedded, embedding_model`

func scanArticle(row pgx.Row) (models.Article, error) {
	var a models.Article
	var published *time.Time
	err := row.Scan(&a.ID, &a.URL, &a.Title, &a.Description, &a.Content,
		&a.Source, &a.Author, &a.ImageURL, &published, &a.FetchedAt, &a.Embedded, &a.EmbeddingModel)
	if err != nil {
		return a, err
	}
	if published != nil {
		a.PublishedAt = *published
	}
	return a, nil
}

func (s *Postgres) collectArticles(rows pgx.Rows) ([]models.Article, error) {
	defer rows.Close()
	var articles []models.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// UpsertBatch inserts each article after canonicalizing its URL. A conflict
// on the canonical URL counts as a duplicate and is discarded; a malformed
// URL skips only that record. Connectivity errors abort with the counts
// accumulated so far.
func (s *Postgres) UpsertBatch(ctx context.Context, articles []models.Article) (int, int, error) {
	stmt := fmt.Sprintf(`
		INSERT INTO %s (canonical_url, title, description, content, source, author, image_url, published_at, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (canonical_url) DO NOTHING
		RETURNING id`, s.config.TableName)

	var inserted, duplicates int
	for _, a := range articles {
		canonical, err := CanonicalURL(a.URL)
		if err != nil {
			log.Printf("skipping article with bad url: %v", err)
			continue
		}

		var published *time.Time
		if !a.PublishedAt.IsZero() {
			published = &a.PublishedAt
		}
		fetched := a.FetchedAt
		if fetched.IsZero() {
			fetched = time.Now()
		}

		var id int64
		err = s.pool.QueryRow(ctx, stmt,
			canonical, a.Title, a.Description, a.Content, a.Source, a.Author, a.ImageURL, published, fetched,
		).Scan(&id)
		if err == pgx.ErrNoRows {
			duplicates++
			continue
		}
		if err != nil {
			return inserted, duplicates, fmt.Errorf("failed to insert article: %w", err)
		}
		inserted++
	}

	return inserted, duplicates, nil
}

func (s *Postgres) FetchMissingEmbeddings(ctx context.Context, limit int) ([]models.Article, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE NOT embedded
		ORDER BY id
		LIMIT $1`, articleColumns, s.config.TableName)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backlog: %w", err)
	}
	return s.collectArticles(rows)
}

// ClaimPending marks up to limit backlog records as claimed and returns
// them. The UPDATE is atomic, so concurrent sync passes never claim the same
// record; an expired lease makes records from crashed passes claimable again.
func (s *Postgres) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]models.Article, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET claimed_at = now()
		WHERE id IN (
			SELECT id FROM %s
			WHERE NOT embedded
			  AND (claimed_at IS NULL OR claimed_at < now() - make_interval(secs => $2))
			ORDER BY id
			LIMIT $1
		)
		RETURNING %s`, s.config.TableName, s.config.TableName, articleColumns)

	rows, err := s.pool.Query(ctx, query, limit, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to claim backlog: %w", err)
	}
	return s.collectArticles(rows)
}

func (s *Postgres) ReleaseClaims(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	stmt := fmt.Sprintf(`UPDATE %s SET claimed_at = NULL WHERE id = ANY($1)`, s.config.TableName)
	if _, err := s.pool.Exec(ctx, stmt, ids); err != nil {
		return fmt.Errorf("failed to release claims: %w", err)
	}
	return nil
}

// AttachEmbedding records the embedding and flips the embedded flag.
// Re-attaching the same vector is a no-op write; a different model tag
// overwrites the previous embedding.
func (s *Postgres) AttachEmbedding(ctx context.Context, id int64, vector []float32, modelTag string) error {
	stmt := fmt.Sprintf(`
		UPDATE %s
		SET embedding = $2, embedded = TRUE, embedding_model = $3, claimed_at = NULL
		WHERE id = $1`, s.config.TableName)

	tag, err := s.pool.Exec(ctx, stmt, id, pgvector.NewVector(vector), modelTag)
	if err != nil {
		return fmt.Errorf("failed to attach embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("article %d: %w", id, types.ErrNotFound)
	}
	return nil
}

func (s *Postgres) ResetEmbeddings(ctx context.Context) error {
	stmt := fmt.Sprintf(`
		UPDATE %s
		SET embedded = FALSE, embedding = NULL, embedding_model = '', claimed_at = NULL`,
		s.config.TableName)
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to reset embeddings: %w", err)
	}
	return nil
}

func (s *Postgres) GetByIDs(ctx context.Context, ids []int64) ([]models.Article, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ANY($1)`, articleColumns, s.config.TableName)

	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	found, err := s.collectArticles(rows)
	if err != nil {
		return nil, err
	}

	// Preserve caller order
	byID := make(map[int64]models.Article, len(found))
	for _, a := range found {
		byID[a.ID] = a
	}
	ordered := make([]models.Article, 0, len(found))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			ordered = append(ordered, a)
		}
	}
	return ordered, nil
}

func (s *Postgres) SearchKeyword(ctx context.Context, query string, limit int) ([]models.Article, error) {
	stmt := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE title ILIKE $1 OR description ILIKE $1 OR content ILIKE $1
		ORDER BY published_at DESC NULLS LAST
		LIMIT $2`, articleColumns, s.config.TableName)

	rows, err := s.pool.Query(ctx, stmt, "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search articles: %w", err)
	}
	return s.collectArticles(rows)
}

func (s *Postgres) Stats(ctx context.Context) (models.StoreStats, error) {
	var stats models.StoreStats

	countQuery := fmt.Sprintf(`
		SELECT count(*), count(*) FILTER (WHERE embedded)
		FROM %s`, s.config.TableName)
	if err := s.pool.QueryRow(ctx, countQuery).Scan(&stats.Total, &stats.WithEmbeddings); err != nil {
		return stats, fmt.Errorf("failed to query stats: %w", err)
	}
	stats.WithoutEmbeddings = stats.Total - stats.WithEmbeddings

	sourceQuery := fmt.Sprintf(`
		SELECT source, count(*) FROM %s
		GROUP BY source ORDER BY count(*) DESC`, s.config.TableName)
	rows, err := s.pool.Query(ctx, sourceQuery)
	if err != nil {
		return stats, fmt.Errorf("failed to query source stats: %w", err)
	}
	defer rows.Close()

	stats.BySource = make(map[string]int)
	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return stats, fmt.Errorf("failed to scan source stats: %v", err)
		}
		stats.BySource[source] = count
	}
	return stats, rows.Err()
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
