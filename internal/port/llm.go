package port

import (
	"context"

	"kbrag/internal/domain"
)

// LLM represents a language model for text generation.
type LLM interface {
	// Generate generates text based on the prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateStream streams the answer. The last token sent has Done set.
	GenerateStream(ctx context.Context, prompt string) (<-chan StreamToken, error)

	// ModelName returns the name of the model.
	ModelName() string
}

// StreamToken is one fragment of a streamed generation.
type StreamToken struct {
	Content string
	Done    bool
	Error   error
}

// Reranker scores query-document pairs for relevance.
type Reranker interface {
	// Rerank scores the candidate texts against the query.
	// Returns texts sorted by relevance score (highest first). Scores are
	// only comparable within a single call.
	Rerank(ctx context.Context, query string, candidates []string) ([]domain.RerankedText, error)

	// ModelName returns the name of the reranking model.
	ModelName() string
}
