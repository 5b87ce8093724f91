package types

import (
	"context"
	"errors"
	"time"

	"github.com/typefold/newsrag/internal/models"
)

// Sentinel errors shared across components. Callers are expected to use
// errors.Is to decide between retry and abort.
var (
	// ErrNotFound means the referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDimensionMismatch marks a vector whose length does not match the
	// index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrModelMismatch marks a query embedded with a different model or
	// dimension than the index was built with.
	ErrModelMismatch = errors.New("embedding model mismatch")

	// ErrEmptyText marks input with no embeddable text.
	ErrEmptyText = errors.New("empty text")
)

// RecordStore is the system of record for articles. Uniqueness is defined on
// the canonical URL; implementations normalize URLs before comparison.
type RecordStore interface {
	// UpsertBatch inserts each article, counting unique-key violations as
	// duplicates. One bad record does not discard its siblings.
	UpsertBatch(ctx context.Context, articles []models.Article) (inserted, duplicates int, err error)

	// FetchMissingEmbeddings returns up to limit records with no current
	// embedding, oldest first.
	FetchMissingEmbeddings(ctx context.Context, limit int) ([]models.Article, error)

	// ClaimPending atomically claims up to limit un-embedded records for a
	// sync pass. A claim expires after lease so crashed passes are retried.
	ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]models.Article, error)

	// ReleaseClaims returns claimed records to the backlog without
	// attaching an embedding.
	ReleaseClaims(ctx context.Context, ids []int64) error

	// AttachEmbedding records the embedding for an article. Idempotent;
	// a different model tag overwrites the previous embedding.
	AttachEmbedding(ctx context.Context, id int64, vector []float32, modelTag string) error

	// ResetEmbeddings clears every embedding flag, turning the whole store
	// into backlog. Used by forced re-embedding passes.
	ResetEmbeddings(ctx context.Context) error

	GetByIDs(ctx context.Context, ids []int64) ([]models.Article, error)

	// SearchKeyword is the keyword fallback path, independent of the
	// vector index. Case-insensitive, most recent first.
	SearchKeyword(ctx context.Context, query string, limit int) ([]models.Article, error)

	Stats(ctx context.Context) (models.StoreStats, error)
	Close()
}

// QueryFilter restricts a vector index query by projection metadata.
type QueryFilter struct {
	Source string
}

// VectorIndex is a nearest-neighbor store keyed by article ID. All
// implementations use cosine similarity with scores in [0, 1], higher is
// closer, so scores are comparable across implementations.
type VectorIndex interface {
	Upsert(ctx context.Context, entries []models.VectorEntry) error
	Query(ctx context.Context, vector []float32, topK int, filter *QueryFilter) ([]models.IndexMatch, error)
	Delete(ctx context.Context, ids []int64) error
	Stats(ctx context.Context) (models.IndexStats, error)
	Dimension() int
}

// Embedder maps text to fixed-dimension vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	ModelTag() string
}

// RawDocument is the provider-shaped article before normalization. Nothing
// past the ingestion coordinator sees this type.
type RawDocument struct {
	Title       string
	Description string
	Content     string
	URL         string
	Source      string
	Author      string
	PublishedAt string
	ImageURL    string
}

// ProviderRequest selects which articles to fetch from the external provider.
type ProviderRequest struct {
	// Headlines selects the top-headlines endpoint instead of full search.
	Headlines bool

	Query    string
	Sources  string // comma-separated provider source IDs
	Category string
	Country  string
	From     time.Time
	To       time.Time
	SortBy   string
	Page     int
	PageSize int
}

// Provider fetches raw documents from the external content provider, one
// page at a time.
type Provider interface {
	Fetch(ctx context.Context, req ProviderRequest) ([]RawDocument, error)
}
