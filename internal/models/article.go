package models

import "time"

// Article is the canonical document record. Exactly one exists per canonical
// URL; only the embedding fields are mutated after insert.
type Article struct {
	ID             int64
	URL            string // canonical source URL, unique
	Title          string
	Description    string
	Content        string
	Source         string
	Author         string
	ImageURL       string
	PublishedAt    time.Time
	FetchedAt      time.Time
	Embedded       bool
	Embedding      []float32 // nil until a sync pass attaches one
	EmbeddingModel string
}

// EmbedText combines the fields used for embedding, in the order the index
// was built with.
func (a Article) EmbedText() string {
	text := a.Title
	if a.Description != "" {
		text += " " + a.Description
	}
	if a.Content != "" {
		text += " " + a.Content
	}
	return text
}

// VectorEntry is the projection of an Article stored alongside its vector.
// Excerpt is truncated to the index payload budget.
type VectorEntry struct {
	ID          int64
	Vector      []float32
	Title       string
	Source      string
	PublishedAt time.Time
	Excerpt     string
}

// IndexMatch is a single vector index query hit.
type IndexMatch struct {
	ID          int64
	Score       float32
	Title       string
	Source      string
	PublishedAt time.Time
	Excerpt     string
}

// Match pairs a resolved article with its similarity score.
type Match struct {
	Article Article
	Score   float32
}

type StoreStats struct {
	Total             int
	WithEmbeddings    int
	WithoutEmbeddings int
	BySource          map[string]int
}

type IndexStats struct {
	Count     int
	Dimension int
}
