// Package search implements the knowledge base engine: a document index
// supporting semantic (cosine), keyword (BM25) and hybrid (weighted
// fusion) retrieval with deterministic ranking.
package search

import (
	"errors"
	"time"
)

// Sentinel errors for index operations.
var (
	// ErrDimensionMismatch is returned when a document's embedding does
	// not match the engine's fixed dimension. Mismatches fail loudly,
	// never truncate.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmptyID is returned for documents without an id.
	ErrEmptyID = errors.New("document id is required")
)

// Document is one indexed knowledge base entry. Source, URL and Tags are
// lifted out of Metadata at index time for filtering.
type Document struct {
	ID        string
	Title     string
	Content   string
	Embedding []float32
	Metadata  map[string]any

	Source    string
	URL       string
	Tags      []string
	IndexedAt time.Time
}

// Result is one ranked hit. Score semantics depend on the query mode:
// cosine-derived for semantic, BM25-derived for keyword, weighted sum
// for hybrid.
type Result struct {
	ID       string
	Title    string
	Content  string
	Score    float64
	Source   string
	URL      string
	Metadata map[string]any
}

// Stats describes the index.
type Stats struct {
	DocumentCount int `json:"document_count"`
	Dimension     int `json:"embedding_dimension"`
}
