package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"

	"github.com/typefold/newsrag/internal/models"
)

// SummarizerConfig represents the configuration for the summarization engine.
type SummarizerConfig struct {
	Model          string
	Temperature    float64
	MaxTokens      int
	SystemTemplate string
	BaseURL        string // Ollama server URL
}

// Summarizer is the downstream generation step: it turns retrieved articles
// into a grounded summary for a topic.
type Summarizer struct {
	config SummarizerConfig
	llm    llms.Model
}

func NewSummarizerWithConfig(config SummarizerConfig) (*Summarizer, error) {
	if config.Model == "" {
		config.Model = "mistral"
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = "You are a news analyst. Summarize the provided articles accurately, " +
			"citing only facts that appear in them. Note disagreements between sources."
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	model, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &Summarizer{
		config: config,
		llm:    model,
	}, nil
}

// Summarize generates a summary of the matched articles for the given topic.
func (s *Summarizer) Summarize(ctx context.Context, topic string, matches []models.Match) (string, error) {
	content := s.buildMessages(topic, matches)

	response, err := s.llm.GenerateContent(ctx, content,
		llms.WithMaxTokens(s.config.MaxTokens),
		llms.WithTemperature(s.config.Temperature),
	)
	if err != nil {
		return "", fmt.Errorf("summarization error: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response from LLM")
	}
	return response.Choices[0].Content, nil
}

// SummarizeStream generates the summary as a stream of chunks. The channel
// is closed when generation finishes; a generation error closes the channel
// after an "Error:" chunk.
func (s *Summarizer) SummarizeStream(ctx context.Context, topic string, matches []models.Match) (<-chan string, error) {
	content := s.buildMessages(topic, matches)
	resultChan := make(chan string)

	go func() {
		defer close(resultChan)

		_, err := s.llm.GenerateContent(ctx, content,
			llms.WithMaxTokens(s.config.MaxTokens),
			llms.WithTemperature(s.config.Temperature),
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				select {
				case resultChan <- string(chunk):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}),
		)
		if err != nil {
			resultChan <- fmt.Sprintf("Error: %v", err)
		}
	}()

	return resultChan, nil
}

func (s *Summarizer) buildMessages(topic string, matches []models.Match) []llms.MessageContent {
	var contextBuilder strings.Builder
	for i, m := range matches {
		a := m.Article
		fmt.Fprintf(&contextBuilder, "Article %d:\nTitle: %s\nSource: %s\nURL: %s\n%s\n\n",
			i+1, a.Title, a.Source, a.URL, a.Content)
	}

	prompt := fmt.Sprintf("Topic: %s\n\nRelevant articles:\n%s", topic, contextBuilder.String())

	return []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, s.config.SystemTemplate),
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}
}

// Sources lists the distinct source URLs behind a summary, for citation.
func Sources(matches []models.Match) []string {
	var sources []string
	seen := make(map[string]bool)
	for _, m := range matches {
		if !seen[m.Article.URL] {
			sources = append(sources, m.Article.URL)
			seen[m.Article.URL] = true
		}
	}
	return sources
}
