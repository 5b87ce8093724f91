package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if c.Provider.PageSize < 1 || c.Provider.PageSize > 100 {
		errors = append(errors, ValidationError{
			Field:   "provider.page_size",
			Message: "page_size must be between 1 and 100",
		})
	}

	if _, err := url.Parse(c.Provider.BaseURL); err != nil || c.Provider.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "provider.base_url",
			Message: "invalid provider base URL",
		})
	}

	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Embedding.Dimension < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedding.dimension",
			Message: "dimension must be positive",
		})
	}

	if _, err := url.Parse(c.Embedding.BaseURL); err != nil || c.Embedding.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "embedding.base_url",
			Message: "invalid embedding base URL",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 4096",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.Sync.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "sync.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Sync.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "sync.max_retries",
			Message: "max_retries cannot be negative",
		})
	}

	if c.Scraper.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scraper.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	if c.Retrieval.TopK < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.top_k",
			Message: "top_k must be positive",
		})
	}

	if c.Retrieval.MinSimilarity < 0 || c.Retrieval.MinSimilarity > 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.min_similarity",
			Message: "min_similarity must be between 0 and 1",
		})
	}

	if c.Index.ExcerptBytes < 1 {
		errors = append(errors, ValidationError{
			Field:   "index.excerpt_bytes",
			Message: "excerpt_bytes must be positive",
		})
	}

	return errors
}
