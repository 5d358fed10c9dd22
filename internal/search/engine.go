package search

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Engine is the in-process knowledge base index. All operations are safe
// for concurrent use; reads take a shared lock.
type Engine struct {
	mu        sync.RWMutex
	dimension int
	docs      map[string]*Document
	keyword   *bm25Index
}

// NewEngine creates an empty index with a fixed embedding dimension.
func NewEngine(dimension int) *Engine {
	return &Engine{
		dimension: dimension,
		docs:      make(map[string]*Document),
		keyword:   newBM25Index(),
	}
}

// Dimension returns the fixed embedding dimension.
func (e *Engine) Dimension() int {
	return e.dimension
}

// Upsert indexes a document, replacing any previous version under the
// same id. A wrong-dimension embedding is rejected, never truncated.
func (e *Engine) Upsert(doc Document) error {
	if doc.ID == "" {
		return ErrEmptyID
	}
	if len(doc.Embedding) != e.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(doc.Embedding), e.dimension)
	}

	liftMetadata(&doc)
	doc.IndexedAt = time.Now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.docs[doc.ID] = &doc
	e.keyword.add(&doc)
	docsGauge.Set(float64(len(e.docs)))
	return nil
}

// UpsertBatch indexes documents independently: one bad document does not
// fail the batch. Returns indexed and failed counts plus per-document
// errors keyed by id.
func (e *Engine) UpsertBatch(docs []Document) (indexed int, failures map[string]error) {
	failures = make(map[string]error)
	for i, doc := range docs {
		if err := e.Upsert(doc); err != nil {
			key := doc.ID
			if key == "" {
				key = fmt.Sprintf("#%d", i)
			}
			failures[key] = err
			continue
		}
		indexed++
	}
	return indexed, failures
}

// Count returns the number of indexed documents.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.docs)
}

// Stats reports index size and dimension.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{DocumentCount: len(e.docs), Dimension: e.dimension}
}

// SemanticSearch ranks by cosine similarity shifted into [0, 2] so scores
// stay non-negative and fusion weighting keeps its meaning.
func (e *Engine) SemanticSearch(embedding []float32, topK int, filters map[string]any) ([]Result, error) {
	if len(embedding) != e.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), e.dimension)
	}
	searchesTotal.WithLabelValues("semantic").Inc()

	e.mu.RLock()
	defer e.mu.RUnlock()

	var results []Result
	for _, doc := range e.docs {
		if !matchesFilters(doc, filters) {
			continue
		}
		score := cosineSimilarity(embedding, doc.Embedding) + 1.0
		results = append(results, toResult(doc, score))
	}
	return rank(results, topK), nil
}

// KeywordSearch ranks by BM25 with title terms double-counted.
func (e *Engine) KeywordSearch(query string, topK int, filters map[string]any) []Result {
	searchesTotal.WithLabelValues("keyword").Inc()

	queryTerms := tokenize(query)

	e.mu.RLock()
	defer e.mu.RUnlock()

	var results []Result
	for _, doc := range e.docs {
		if !matchesFilters(doc, filters) {
			continue
		}
		score := e.keyword.score(doc.ID, queryTerms)
		if score == 0 {
			continue
		}
		results = append(results, toResult(doc, score))
	}
	return rank(results, topK)
}

// HybridSearch fans out to both branches at 2x topK, then fuses scores as
// semantic*w + keyword*(1-w). A document present in only one branch
// contributes zero from the missing side.
func (e *Engine) HybridSearch(query string, embedding []float32, topK int, filters map[string]any, semanticWeight float64) ([]Result, error) {
	searchesTotal.WithLabelValues("hybrid").Inc()

	fanout := topK * 2
	semantic, err := e.SemanticSearch(embedding, fanout, filters)
	if err != nil {
		return nil, err
	}
	keyword := e.KeywordSearch(query, fanout, filters)

	byID := make(map[string]Result)
	semScores := make(map[string]float64)
	kwScores := make(map[string]float64)
	for _, r := range semantic {
		byID[r.ID] = r
		semScores[r.ID] = r.Score
	}
	for _, r := range keyword {
		byID[r.ID] = r
		kwScores[r.ID] = r.Score
	}

	fused := make([]Result, 0, len(byID))
	for id, r := range byID {
		r.Score = semScores[id]*semanticWeight + kwScores[id]*(1-semanticWeight)
		fused = append(fused, r)
	}
	return rank(fused, topK), nil
}

// rank sorts by score descending with ascending id as the tie-break, so
// equal-score orderings are deterministic, then truncates to topK.
func rank(results []Result, topK int) []Result {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

func toResult(doc *Document, score float64) Result {
	return Result{
		ID:       doc.ID,
		Title:    doc.Title,
		Content:  doc.Content,
		Score:    score,
		Source:   doc.Source,
		URL:      doc.URL,
		Metadata: doc.Metadata,
	}
}

// cosineSimilarity over float32 vectors, accumulated in float64. Zero
// when either vector has zero norm.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// liftMetadata promotes well-known metadata keys into typed fields.
func liftMetadata(doc *Document) {
	if doc.Metadata == nil {
		return
	}
	if doc.Source == "" {
		if s, ok := doc.Metadata["source"].(string); ok {
			doc.Source = s
		}
	}
	if doc.URL == "" {
		if u, ok := doc.Metadata["url"].(string); ok {
			doc.URL = u
		}
	}
	if len(doc.Tags) == 0 {
		switch tags := doc.Metadata["tags"].(type) {
		case []string:
			doc.Tags = tags
		case []any:
			for _, t := range tags {
				if s, ok := t.(string); ok {
					doc.Tags = append(doc.Tags, s)
				}
			}
		}
	}
}
