package processor

import (
	"strings"
	"unicode/utf8"
)

type ProcessorConfig struct {
	// ExcerptBytes caps the body excerpt stored in the vector index
	// projection. Index backends enforce payload limits per entry.
	ExcerptBytes int
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ExcerptBytes == 0 {
		config.ExcerptBytes = 10240
	}
	return Processor{config: config}
}

// EmbedText builds the text an article is embedded from: title, description
// and body combined, truncation markers stripped, whitespace collapsed.
// Returns "" when the article has no embeddable text.
func (p *Processor) EmbedText(title, description, content string) string {
	var parts []string
	if title != "" {
		parts = append(parts, title)
	}
	if description != "" {
		parts = append(parts, description)
	}
	if content != "" {
		parts = append(parts, StripTruncationMarker(content))
	}
	return CleanText(strings.Join(parts, " "))
}

// Excerpt returns the body excerpt for the index projection, cut to the
// configured byte budget.
func (p *Processor) Excerpt(content string) string {
	content = CleanText(StripTruncationMarker(content))
	return TruncateBytes(content, p.config.ExcerptBytes)
}

// CleanText collapses whitespace and drops invalid UTF-8.
func CleanText(text string) string {
	text = sanitizeUTF8(text)
	return strings.Join(strings.Fields(text), " ")
}

// StripTruncationMarker removes the "[+N chars]" suffix the provider appends
// to truncated article bodies.
func StripTruncationMarker(content string) string {
	if i := strings.Index(content, "[+"); i >= 0 {
		return strings.TrimSpace(content[:i])
	}
	return content
}

// TruncateBytes cuts s to at most budget bytes without splitting a rune,
// appending an ellipsis when anything was cut.
func TruncateBytes(s string, budget int) string {
	if len(s) <= budget {
		return s
	}
	cut := budget
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			_, size := utf8.DecodeRuneInString(s[i:])
			if size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}
