package pipeline

import (
	"context"
	"fmt"

	"github.com/typefold/newsrag/internal/models"
	"github.com/typefold/newsrag/internal/types"
	"github.com/typefold/newsrag/pkg/config"
	"github.com/typefold/newsrag/pkg/index"
	"github.com/typefold/newsrag/pkg/ingest"
	"github.com/typefold/newsrag/pkg/llm"
	"github.com/typefold/newsrag/pkg/processor"
	"github.com/typefold/newsrag/pkg/provider"
	"github.com/typefold/newsrag/pkg/retrieval"
	"github.com/typefold/newsrag/pkg/scraper"
	"github.com/typefold/newsrag/pkg/store"
	syncpkg "github.com/typefold/newsrag/pkg/sync"
)

// Pipeline wires the full system together: provider, record store, vector
// index, embedder and summarizer behind one surface shared by the CLI and
// the server.
type Pipeline struct {
	cfg *config.Config

	store      types.RecordStore
	index      types.VectorIndex
	embedder   types.Embedder
	summarizer *llm.Summarizer

	coordinator *ingest.Coordinator
	syncer      *syncpkg.Syncer
	retriever   *retrieval.Orchestrator

	closers []func()
}

// New builds a production pipeline from config: Postgres record store,
// pgvector index, Ollama embedder and summarizer, NewsAPI provider.
func New(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", errs[0].Error())
	}

	recordStore, err := store.NewPostgres(ctx, store.PostgresConfig{
		ConnString: cfg.Database.URL,
		TableName:  cfg.Database.TableName,
		VectorDim:  cfg.Embedding.Dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	vectorIndex, err := index.NewPgvector(ctx, index.PgvectorConfig{
		ConnString: cfg.Database.URL,
		TableName:  cfg.Index.TableName,
		VectorDim:  cfg.Embedding.Dimension,
	})
	if err != nil {
		recordStore.Close()
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		vectorIndex.Close()
		recordStore.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	summarizer, err := llm.NewSummarizerWithConfig(llm.SummarizerConfig{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		BaseURL:     cfg.LLM.BaseURL,
	})
	if err != nil {
		vectorIndex.Close()
		recordStore.Close()
		return nil, fmt.Errorf("failed to create summarizer: %w", err)
	}

	newsProvider, err := provider.NewClient(provider.ClientConfig{
		APIKey:   cfg.Provider.APIKey,
		BaseURL:  cfg.Provider.BaseURL,
		Language: cfg.Provider.Language,
		PageSize: cfg.Provider.PageSize,
	})
	if err != nil {
		vectorIndex.Close()
		recordStore.Close()
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	var sc *scraper.Scraper
	if cfg.Scraper.Enabled {
		sc = scraper.NewWithConfig(scraper.ScraperConfig{
			RateLimit: cfg.Scraper.RateLimit,
			Timeout:   cfg.Scraper.Timeout,
		})
	}

	p := build(cfg, recordStore, vectorIndex, embedder, summarizer, newsProvider, sc)
	p.closers = append(p.closers, recordStore.Close, vectorIndex.Close)
	return p, nil
}

// NewWithComponents wires a pipeline from preconstructed parts. Used by tests
// and by callers that want in-memory backends.
func NewWithComponents(cfg *config.Config, recordStore types.RecordStore, vectorIndex types.VectorIndex,
	embedder types.Embedder, summarizer *llm.Summarizer, newsProvider types.Provider, sc *scraper.Scraper) *Pipeline {
	return build(cfg, recordStore, vectorIndex, embedder, summarizer, newsProvider, sc)
}

func build(cfg *config.Config, recordStore types.RecordStore, vectorIndex types.VectorIndex,
	embedder types.Embedder, summarizer *llm.Summarizer, newsProvider types.Provider, sc *scraper.Scraper) *Pipeline {

	proc := processor.NewWithConfig(processor.ProcessorConfig{
		ExcerptBytes: cfg.Index.ExcerptBytes,
	})

	return &Pipeline{
		cfg:         cfg,
		store:       recordStore,
		index:       vectorIndex,
		embedder:    embedder,
		summarizer:  summarizer,
		coordinator: ingest.New(newsProvider, recordStore, sc),
		syncer: syncpkg.New(recordStore, vectorIndex, embedder, proc, syncpkg.Options{
			BatchSize:  cfg.Sync.BatchSize,
			MaxRetries: cfg.Sync.MaxRetries,
			Backoff:    cfg.Sync.Backoff,
			ClaimLease: cfg.Sync.ClaimLease,
		}),
		retriever: retrieval.New(recordStore, vectorIndex, embedder),
	}
}

func (p *Pipeline) Ingest(ctx context.Context, opts ingest.Options) (ingest.Stats, error) {
	if opts.EnrichTruncated && !p.cfg.Scraper.Enabled {
		opts.EnrichTruncated = false
	}
	return p.coordinator.Ingest(ctx, opts)
}

func (p *Pipeline) Refresh(ctx context.Context, topics []string, perTopic int) (ingest.Stats, error) {
	return p.coordinator.Refresh(ctx, topics, perTopic)
}

func (p *Pipeline) Sync(ctx context.Context) (syncpkg.Stats, error) {
	return p.syncer.Run(ctx)
}

func (p *Pipeline) Reembed(ctx context.Context) (syncpkg.Stats, error) {
	return p.syncer.Reembed(ctx)
}

// SetSyncProgress installs a per-record progress callback for Sync and
// Reembed. Must be called before the pass starts.
func (p *Pipeline) SetSyncProgress(fn func(embedded int)) {
	p.syncer = syncpkg.New(p.store, p.index, p.embedder,
		processor.NewWithConfig(processor.ProcessorConfig{ExcerptBytes: p.cfg.Index.ExcerptBytes}),
		syncpkg.Options{
			BatchSize:  p.cfg.Sync.BatchSize,
			MaxRetries: p.cfg.Sync.MaxRetries,
			Backoff:    p.cfg.Sync.Backoff,
			ClaimLease: p.cfg.Sync.ClaimLease,
			OnProgress: fn,
		})
}

// Retrieve answers a query with ranked matches, using configured defaults
// for any zero option. A floor of exactly zero is expressed with
// retrieval.FloorDisabled, since zero here means "use the configured floor".
func (p *Pipeline) Retrieve(ctx context.Context, query string, opts retrieval.Options) ([]models.Match, error) {
	if opts.TopK == 0 {
		opts.TopK = p.cfg.Retrieval.TopK
	}
	if opts.MinSimilarity == 0 {
		opts.MinSimilarity = p.cfg.Retrieval.MinSimilarity
	}
	return p.retriever.Retrieve(ctx, query, opts)
}

// Summarize retrieves matches for the topic and generates a grounded
// summary. Returns the summary and the matches it drew from.
func (p *Pipeline) Summarize(ctx context.Context, topic string, opts retrieval.Options) (string, []models.Match, error) {
	matches, err := p.Retrieve(ctx, topic, opts)
	if err != nil {
		return "", nil, err
	}
	if len(matches) == 0 {
		return "", nil, nil
	}
	summary, err := p.summarizer.Summarize(ctx, topic, matches)
	if err != nil {
		return "", matches, err
	}
	return summary, matches, nil
}

// SummarizeStream is the streaming variant: matches are returned up front
// and summary chunks arrive on the channel.
func (p *Pipeline) SummarizeStream(ctx context.Context, topic string, opts retrieval.Options) (<-chan string, []models.Match, error) {
	matches, err := p.Retrieve(ctx, topic, opts)
	if err != nil {
		return nil, nil, err
	}
	if len(matches) == 0 {
		return nil, nil, nil
	}
	ch, err := p.summarizer.SummarizeStream(ctx, topic, matches)
	if err != nil {
		return nil, matches, err
	}
	return ch, matches, nil
}

type Stats struct {
	Store models.StoreStats
	Index models.IndexStats
}

func (p *Pipeline) Stats(ctx context.Context) (Stats, error) {
	storeStats, err := p.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	indexStats, err := p.index.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Store: storeStats, Index: indexStats}, nil
}

func (p *Pipeline) Close() {
	for _, fn := range p.closers {
		fn()
	}
}
