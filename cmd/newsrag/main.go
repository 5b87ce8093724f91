package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/typefold/newsrag/pkg/config"
	"github.com/typefold/newsrag/pkg/ingest"
	"github.com/typefold/newsrag/pkg/pipeline"
	"github.com/typefold/newsrag/pkg/retrieval"
	"github.com/typefold/newsrag/server"
)

type cliOptions struct {
	configPath string

	ingestQuery string
	headlines   bool
	category    string
	country     string
	sources     string
	maxArticles int
	enrich      bool
	topics      string

	doSync  bool
	reembed bool
	query   string
	topK    int
	chat    bool
	stats   bool
	serve   string
}

func main() {
	opts := parseFlags()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() cliOptions {
	var opts cliOptions

	flag.StringVar(&opts.configPath, "config", "", "Path to config file")

	flag.StringVar(&opts.ingestQuery, "ingest", "", "Fetch articles matching this query")
	flag.BoolVar(&opts.headlines, "headlines", false, "Fetch top headlines instead of searching")
	flag.StringVar(&opts.category, "category", "", "Headline category (business, technology, ...)")
	flag.StringVar(&opts.country, "country", "", "Headline country code")
	flag.StringVar(&opts.sources, "sources", "", "Comma-separated provider source IDs")
	flag.IntVar(&opts.maxArticles, "max-articles", 100, "Maximum articles to fetch per run")
	flag.BoolVar(&opts.enrich, "enrich", false, "Scrape full bodies for truncated articles")
	flag.StringVar(&opts.topics, "topics", "", "Comma-separated topics for a refresh pass")

	flag.BoolVar(&opts.doSync, "sync", false, "Embed and index the backlog")
	flag.BoolVar(&opts.reembed, "reembed", false, "Re-embed every article with the current model")
	flag.StringVar(&opts.query, "query", "", "Retrieve articles for this query")
	flag.IntVar(&opts.topK, "top-k", 0, "Number of results to return")
	flag.BoolVar(&opts.chat, "chat", false, "Interactive summarization loop")
	flag.BoolVar(&opts.stats, "stats", false, "Print store and index statistics")
	flag.StringVar(&opts.serve, "serve", "", "Run the HTTP server on this address, e.g. :8080")
	flag.Parse()

	return opts
}

func run(ctx context.Context, opts cliOptions) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}

	p, err := pipeline.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	switch {
	case opts.ingestQuery != "" || opts.headlines:
		return runIngest(ctx, p, opts)
	case opts.topics != "":
		return runRefresh(ctx, p, opts)
	case opts.reembed:
		return runSync(ctx, p, true)
	case opts.doSync:
		return runSync(ctx, p, false)
	case opts.query != "":
		return runQuery(ctx, p, opts)
	case opts.chat:
		return runChat(ctx, p, opts)
	case opts.stats:
		return runStats(ctx, p)
	case opts.serve != "":
		return server.New(p).ListenAndServe(ctx, opts.serve)
	default:
		flag.Usage()
		return fmt.Errorf("no mode selected")
	}
}

func runIngest(ctx context.Context, p *pipeline.Pipeline, opts cliOptions) error {
	color.Blue("Fetching articles...")

	stats, err := p.Ingest(ctx, ingest.Options{
		Query:           opts.ingestQuery,
		Headlines:       opts.headlines,
		Category:        opts.category,
		Country:         opts.country,
		Sources:         opts.sources,
		MaxArticles:     opts.maxArticles,
		EnrichTruncated: opts.enrich,
	})
	if err != nil {
		return err
	}

	color.Green("✓ Fetched %d articles: %d new, %d already known",
		stats.Fetched, stats.Inserted, stats.Duplicates)
	if stats.Enriched > 0 {
		color.Green("✓ Enriched %d truncated bodies", stats.Enriched)
	}
	return nil
}

func runRefresh(ctx context.Context, p *pipeline.Pipeline, opts cliOptions) error {
	topics := strings.Split(opts.topics, ",")
	for i := range topics {
		topics[i] = strings.TrimSpace(topics[i])
	}

	color.Blue("Refreshing %d topics...", len(topics))
	stats, err := p.Refresh(ctx, topics, opts.maxArticles)
	if err != nil {
		color.Yellow("Some topics failed: %v", err)
	}
	color.Green("✓ Fetched %d articles: %d new, %d already known",
		stats.Fetched, stats.Inserted, stats.Duplicates)
	return nil
}

func runSync(ctx context.Context, p *pipeline.Pipeline, reembed bool) error {
	pStats, err := p.Stats(ctx)
	if err != nil {
		return err
	}

	pending := pStats.Store.WithoutEmbeddings
	if reembed {
		pending = pStats.Store.Total
	}
	if pending == 0 {
		color.Green("✓ Nothing to embed")
		return nil
	}

	bar := progressbar.NewOptions(pending,
		progressbar.OptionSetDescription(color.BlueString("Embedding articles...")),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
	p.SetSyncProgress(func(embedded int) {
		bar.Set(embedded)
	})

	if reembed {
		s, err := p.Reembed(ctx)
		if err != nil {
			return err
		}
		bar.Finish()
		fmt.Println()
		color.Green("✓ Re-embedded %d articles (%d failed)", s.Embedded, s.Failed)
		return nil
	}

	s, err := p.Sync(ctx)
	if err != nil {
		return err
	}
	bar.Finish()
	fmt.Println()
	color.Green("✓ Embedded %d articles (%d failed)", s.Embedded, s.Failed)
	return nil
}

func runQuery(ctx context.Context, p *pipeline.Pipeline, opts cliOptions) error {
	matches, err := p.Retrieve(ctx, opts.query, retrieval.Options{
		TopK:            opts.topK,
		Source:          opts.sources,
		KeywordFallback: true,
	})
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		color.Yellow("No matching articles")
		return nil
	}

	for i, m := range matches {
		color.Cyan("%d. %s", i+1, m.Article.Title)
		fmt.Printf("   %s", m.Article.Source)
		if !m.Article.PublishedAt.IsZero() {
			fmt.Printf("  %s", m.Article.PublishedAt.Format("2006-01-02"))
		}
		if m.Score > 0 {
			fmt.Printf("  score %.3f", m.Score)
		}
		fmt.Printf("\n   %s\n", m.Article.URL)
	}
	return nil
}

func runChat(ctx context.Context, p *pipeline.Pipeline, opts cliOptions) error {
	color.Cyan("Ask about the news (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		topic := scanner.Text()
		if strings.ToLower(topic) == "exit" {
			break
		}
		if strings.TrimSpace(topic) == "" {
			continue
		}

		stream, matches, err := p.SummarizeStream(ctx, topic, retrieval.Options{TopK: opts.topK})
		if err != nil {
			color.Red("Error: %v", err)
			continue
		}
		if len(matches) == 0 {
			color.Yellow("No relevant articles found")
			continue
		}

		fmt.Print("\n")
		assistantPrompt("Assistant: ")
		for chunk := range stream {
			if strings.HasPrefix(chunk, "Error:") {
				color.Red("\n%s", chunk)
				break
			}
			fmt.Print(chunk)
		}
		fmt.Print("\n\nSources:\n")
		for _, m := range matches {
			fmt.Printf("  - %s (%s)\n", m.Article.Title, m.Article.URL)
		}
	}
	return nil
}

func runStats(ctx context.Context, p *pipeline.Pipeline) error {
	stats, err := p.Stats(ctx)
	if err != nil {
		return err
	}

	color.Cyan("Record store")
	fmt.Printf("  articles:      %d\n", stats.Store.Total)
	fmt.Printf("  embedded:      %d\n", stats.Store.WithEmbeddings)
	fmt.Printf("  backlog:       %d\n", stats.Store.WithoutEmbeddings)
	if len(stats.Store.BySource) > 0 {
		fmt.Println("  by source:")
		for source, count := range stats.Store.BySource {
			fmt.Printf("    %-24s %d\n", source, count)
		}
	}

	color.Cyan("Vector index")
	fmt.Printf("  entries:       %d\n", stats.Index.Count)
	fmt.Printf("  dimension:     %d\n", stats.Index.Dimension)
	return nil
}
