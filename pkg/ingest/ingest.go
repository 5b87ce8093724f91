package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/typefold/newsrag/internal/models"
	"github.com/typefold/newsrag/internal/types"
	"github.com/typefold/newsrag/pkg/processor"
	"github.com/typefold/newsrag/pkg/scraper"
)

type Options struct {
	Headlines bool
	Query     string
	Sources   string
	Category  string
	Country   string
	From      time.Time
	To        time.Time
	SortBy    string

	// MaxArticles caps the total fetched across pages. Zero means one page.
	MaxArticles int
	PageSize    int

	// EnrichTruncated replaces provider-truncated bodies with scraped full
	// text. Requires a scraper; scrape failures keep the truncated body.
	EnrichTruncated bool
}

type Stats struct {
	Fetched    int
	Inserted   int
	Duplicates int
	Enriched   int
}

// Coordinator runs the fetch, normalize, dedup pipeline against the record
// store. It never writes to the vector index; the backlog picks new records
// up on the next sync pass.
type Coordinator struct {
	provider types.Provider
	store    types.RecordStore
	scraper  *scraper.Scraper
}

// New builds a coordinator. scraper may be nil, which disables enrichment.
func New(provider types.Provider, store types.RecordStore, sc *scraper.Scraper) *Coordinator {
	return &Coordinator{
		provider: provider,
		store:    store,
		scraper:  sc,
	}
}

// Ingest fetches pages until MaxArticles is reached or the provider runs dry,
// persisting each page before fetching the next. On a provider error the
// stats for already-persisted pages are returned alongside the error.
func (c *Coordinator) Ingest(ctx context.Context, opts Options) (Stats, error) {
	var stats Stats

	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = 20
	}
	limit := opts.MaxArticles
	if limit == 0 {
		limit = pageSize
	}

	for page := 1; stats.Fetched < limit; page++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		remaining := limit - stats.Fetched
		size := pageSize
		if remaining < size {
			size = remaining
		}

		docs, err := c.provider.Fetch(ctx, types.ProviderRequest{
			Headlines: opts.Headlines,
			Query:     opts.Query,
			Sources:   opts.Sources,
			Category:  opts.Category,
			Country:   opts.Country,
			From:      opts.From,
			To:        opts.To,
			SortBy:    opts.SortBy,
			Page:      page,
			PageSize:  size,
		})
		if err != nil {
			return stats, fmt.Errorf("provider fetch failed on page %d: %w", page, err)
		}
		if len(docs) == 0 {
			break
		}
		stats.Fetched += len(docs)

		articles := make([]models.Article, 0, len(docs))
		for _, doc := range docs {
			articles = append(articles, c.normalize(ctx, doc, opts.EnrichTruncated, &stats))
		}

		inserted, duplicates, err := c.store.UpsertBatch(ctx, articles)
		stats.Inserted += inserted
		stats.Duplicates += duplicates
		if err != nil {
			return stats, fmt.Errorf("failed to persist page %d: %w", page, err)
		}

		// A short page means the provider is out of results.
		if len(docs) < size {
			break
		}
	}
	return stats, nil
}

// Refresh runs one ingestion pass per topic. Per-topic failures are logged
// and do not stop the remaining topics.
func (c *Coordinator) Refresh(ctx context.Context, topics []string, perTopic int) (Stats, error) {
	var total Stats
	var firstErr error

	for _, topic := range topics {
		stats, err := c.Ingest(ctx, Options{
			Query:       topic,
			MaxArticles: perTopic,
			SortBy:      "publishedAt",
		})
		total.Fetched += stats.Fetched
		total.Inserted += stats.Inserted
		total.Duplicates += stats.Duplicates
		total.Enriched += stats.Enriched
		if err != nil {
			if ctx.Err() != nil {
				return total, err
			}
			log.Printf("ingest: topic %q failed: %v", topic, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return total, firstErr
}

func (c *Coordinator) normalize(ctx context.Context, doc types.RawDocument, enrich bool, stats *Stats) models.Article {
	content := doc.Content
	stripped := processor.StripTruncationMarker(content)
	truncated := stripped != content
	content = stripped

	if truncated && enrich && c.scraper != nil {
		if full, err := c.scraper.FetchArticle(ctx, doc.URL); err == nil && full != "" {
			content = full
			stats.Enriched++
		} else if err != nil {
			log.Printf("ingest: scrape of %s failed, keeping truncated body: %v", doc.URL, err)
		}
	}

	var publishedAt time.Time
	if doc.PublishedAt != "" {
		if t, err := time.Parse(time.RFC3339, doc.PublishedAt); err == nil {
			publishedAt = t.UTC()
		} else {
			log.Printf("ingest: unparseable publishedAt %q for %s", doc.PublishedAt, doc.URL)
		}
	}

	return models.Article{
		URL:         doc.URL,
		Title:       processor.CleanText(doc.Title),
		Description: processor.CleanText(doc.Description),
		Content:     processor.CleanText(content),
		Source:      doc.Source,
		Author:      doc.Author,
		ImageURL:    doc.ImageURL,
		PublishedAt: publishedAt,
		FetchedAt:   time.Now().UTC(),
	}
}
