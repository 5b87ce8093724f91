package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "https://newsapi.org/v2", cfg.Provider.BaseURL)
	assert.Equal(t, "en", cfg.Provider.Language)
	assert.Equal(t, 20, cfg.Provider.PageSize)
	assert.Equal(t, "articles", cfg.Database.TableName)
	assert.Equal(t, "article_vectors", cfg.Index.TableName)
	assert.Equal(t, 10240, cfg.Index.ExcerptBytes)
	assert.Equal(t, "nomic-embed-text:latest", cfg.Embedding.Model)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
	assert.Equal(t, "mistral", cfg.LLM.Model)
	assert.Equal(t, 32, cfg.Sync.BatchSize)
	assert.Equal(t, 5*time.Minute, cfg.Sync.ClaimLease)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.3, cfg.Retrieval.MinSimilarity, 1e-6)
}

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider:
  api_key: file-key
  page_size: 50
embedding:
  model: all-minilm
  dimension: 384
sync:
  batch_size: 8
  claim_lease: 2m
retrieval:
  top_k: 10
  min_similarity: 0.5
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "file-key", cfg.Provider.APIKey)
	assert.Equal(t, 50, cfg.Provider.PageSize)
	assert.Equal(t, "all-minilm", cfg.Embedding.Model)
	assert.Equal(t, 384, cfg.Embedding.Dimension)
	assert.Equal(t, 8, cfg.Sync.BatchSize)
	assert.Equal(t, 2*time.Minute, cfg.Sync.ClaimLease)
	assert.Equal(t, 10, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.5, cfg.Retrieval.MinSimilarity, 1e-6)

	// Unset fields still get defaults
	assert.Equal(t, "https://newsapi.org/v2", cfg.Provider.BaseURL)
	assert.Equal(t, "articles", cfg.Database.TableName)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider:
  api_key: file-key
database:
  url: postgres://file/db
`), 0644))

	t.Setenv("NEWSAPI_KEY", "env-key")
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("OLLAMA_BASE_URL", "http://ollama:11434")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Provider.APIKey)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, "http://ollama:11434", cfg.Embedding.BaseURL)
	assert.Equal(t, "http://ollama:11434", cfg.LLM.BaseURL)
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: [not a map"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Validate())
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"page size too large", func(c *Config) { c.Provider.PageSize = 500 }, "provider.page_size"},
		{"negative dimension", func(c *Config) { c.Embedding.Dimension = -1 }, "embedding.dimension"},
		{"temperature out of range", func(c *Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"max tokens out of range", func(c *Config) { c.LLM.MaxTokens = 100000 }, "llm.max_tokens"},
		{"zero batch size", func(c *Config) { c.Sync.BatchSize = -2 }, "sync.batch_size"},
		{"similarity above one", func(c *Config) { c.Retrieval.MinSimilarity = 1.5 }, "retrieval.min_similarity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig("")
			require.NoError(t, err)
			tt.mutate(cfg)

			errs := cfg.Validate()
			require.NotEmpty(t, errs)

			var fields []string
			for _, e := range errs {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}
