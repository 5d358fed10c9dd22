package search

import (
	"math"
	"strings"
	"unicode"
)

// BM25 parameters. Standard Okapi values.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// tokenize lowercases and splits on non-alphanumeric runes.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// termStats holds per-document term frequencies with title terms counted
// twice, giving titles double weight in keyword ranking.
type termStats struct {
	freq   map[string]int
	length int
}

func newTermStats(doc *Document) termStats {
	ts := termStats{freq: make(map[string]int)}
	for _, term := range tokenize(doc.Title) {
		ts.freq[term] += 2
		ts.length += 2
	}
	for _, term := range tokenize(doc.Content) {
		ts.freq[term]++
		ts.length++
	}
	return ts
}

// bm25Index maintains corpus-wide statistics incrementally so keyword
// queries never rescan document bodies.
type bm25Index struct {
	stats       map[string]termStats
	docFreq     map[string]int
	totalLength int
}

func newBM25Index() *bm25Index {
	return &bm25Index{
		stats:   make(map[string]termStats),
		docFreq: make(map[string]int),
	}
}

func (idx *bm25Index) add(doc *Document) {
	if old, ok := idx.stats[doc.ID]; ok {
		idx.removeStats(old)
	}
	ts := newTermStats(doc)
	idx.stats[doc.ID] = ts
	idx.totalLength += ts.length
	for term := range ts.freq {
		idx.docFreq[term]++
	}
}

func (idx *bm25Index) removeStats(ts termStats) {
	idx.totalLength -= ts.length
	for term := range ts.freq {
		if idx.docFreq[term] <= 1 {
			delete(idx.docFreq, term)
		} else {
			idx.docFreq[term]--
		}
	}
}

func (idx *bm25Index) avgLength() float64 {
	if len(idx.stats) == 0 {
		return 0
	}
	return float64(idx.totalLength) / float64(len(idx.stats))
}

// score computes the Okapi BM25 score of one document against the query
// terms. Zero when no term matches.
func (idx *bm25Index) score(docID string, queryTerms []string) float64 {
	ts, ok := idx.stats[docID]
	if !ok || ts.length == 0 {
		return 0
	}

	n := float64(len(idx.stats))
	avgLen := idx.avgLength()
	norm := bm25K1 * (1 - bm25B + bm25B*float64(ts.length)/avgLen)

	var score float64
	for _, term := range queryTerms {
		tf := float64(ts.freq[term])
		if tf == 0 {
			continue
		}
		df := float64(idx.docFreq[term])
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		score += idf * tf * (bm25K1 + 1) / (tf + norm)
	}
	return score
}
