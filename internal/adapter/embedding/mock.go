package embedding

import (
	"context"

	"kbrag/internal/adapter/analyzer"
	"kbrag/internal/adapter/fingerprint"
)

// MockEmbedder hashes terms into a fixed number of buckets. Texts sharing
// terms get similar vectors, which is enough for offline runs and tests.
type MockEmbedder struct {
	dimension int
	tokenizer *analyzer.Tokenizer
}

// NewMockEmbedder creates a mock embedder of the given dimension.
func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{dimension: dimension, tokenizer: analyzer.NewTokenizer()}
}

func (e *MockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, e.dimension)
		for term, n := range e.tokenizer.Terms(text) {
			sum, err := fingerprint.Sum64([]byte(term))
			if err != nil {
				return nil, err
			}
			v[sum%uint64(e.dimension)] += float32(n)
		}
		vectors[i] = Normalize(v)
	}
	return vectors, nil
}

func (e *MockEmbedder) Dimension() int {
	return e.dimension
}

func (e *MockEmbedder) ModelName() string {
	return "mock"
}
