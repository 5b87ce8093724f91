package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type ProviderConfig struct {
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Sources  string `yaml:"sources"`
	Language string `yaml:"language"`
	PageSize int    `yaml:"page_size"`
}

type DatabaseConfig struct {
	URL       string `yaml:"url"`
	TableName string `yaml:"table_name"`
}

type IndexConfig struct {
	TableName    string `yaml:"table_name"`
	ExcerptBytes int    `yaml:"excerpt_bytes"`
}

type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type SyncConfig struct {
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	ClaimLease time.Duration `yaml:"claim_lease"`
}

type ScraperConfig struct {
	Enabled   bool          `yaml:"enabled"`
	RateLimit float64       `yaml:"rate_limit"`
	Timeout   time.Duration `yaml:"timeout"`
}

type RetrievalConfig struct {
	TopK          int     `yaml:"top_k"`
	MinSimilarity float32 `yaml:"min_similarity"`
}

type Config struct {
	Provider  ProviderConfig  `yaml:"provider"`
	Database  DatabaseConfig  `yaml:"database"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Sync      SyncConfig      `yaml:"sync"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/newsrag/config.yaml"),
			"/etc/newsrag/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Provider.BaseURL == "" {
		config.Provider.BaseURL = "https://newsapi.org/v2"
	}
	if config.Provider.Language == "" {
		config.Provider.Language = "en"
	}
	if config.Provider.PageSize == 0 {
		config.Provider.PageSize = 20
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "articles"
	}
	if config.Index.TableName == "" {
		config.Index.TableName = "article_vectors"
	}
	if config.Index.ExcerptBytes == 0 {
		config.Index.ExcerptBytes = 10240
	}

	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = "http://localhost:11434"
	}
	if config.Embedding.Model == "" {
		config.Embedding.Model = "nomic-embed-text:latest"
	}
	if config.Embedding.Dimension == 0 {
		config.Embedding.Dimension = 768
	}

	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.3
	}

	if config.Sync.BatchSize == 0 {
		config.Sync.BatchSize = 32
	}
	if config.Sync.MaxRetries == 0 {
		config.Sync.MaxRetries = 3
	}
	if config.Sync.Backoff == 0 {
		config.Sync.Backoff = time.Second
	}
	if config.Sync.ClaimLease == 0 {
		config.Sync.ClaimLease = 5 * time.Minute
	}

	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if config.Scraper.Timeout == 0 {
		config.Scraper.Timeout = 30 * time.Second
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 5
	}
	if config.Retrieval.MinSimilarity == 0 {
		config.Retrieval.MinSimilarity = 0.3
	}
}

func mergeWithEnv(config *Config) {
	if key := os.Getenv("NEWSAPI_KEY"); key != "" {
		config.Provider.APIKey = key
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.Embedding.BaseURL = baseURL
		config.LLM.BaseURL = baseURL
	}
}
