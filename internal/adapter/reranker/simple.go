package reranker

import (
	"context"
	"sort"

	"kbrag/internal/adapter/analyzer"
	"kbrag/internal/domain"
)

// SimpleReranker scores candidates by the share of query terms they
// contain. It needs no model and works on Chinese text through the
// analyzer's character bigrams.
type SimpleReranker struct {
	tokenizer *analyzer.Tokenizer
}

// NewSimpleReranker creates a term-overlap reranker.
func NewSimpleReranker() *SimpleReranker {
	return &SimpleReranker{tokenizer: analyzer.NewTokenizer()}
}

// Rerank returns every candidate by descending overlap. Equal scores keep
// the candidate order.
func (r *SimpleReranker) Rerank(_ context.Context, query string, candidates []string) ([]domain.RerankedText, error) {
	queryTerms := r.tokenizer.Terms(query)

	results := make([]domain.RerankedText, len(candidates))
	for i, doc := range candidates {
		score := 1.0 - float64(i)*0.001
		if len(queryTerms) > 0 {
			score = r.overlap(queryTerms, doc)
		}
		results[i] = domain.RerankedText{Text: doc, Score: score, Index: i}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

func (r *SimpleReranker) overlap(queryTerms map[string]int, doc string) float64 {
	docTerms := r.tokenizer.Terms(doc)
	if len(docTerms) == 0 {
		return 0
	}
	matches := 0
	for term := range queryTerms {
		if _, ok := docTerms[term]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(queryTerms))
}

// ModelName returns the model name.
func (r *SimpleReranker) ModelName() string {
	return "simple-overlap"
}
