package port

import (
	"context"

	"kbrag/internal/domain"
)

// Retriever returns the chunks that best match a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]domain.ScoredChunk, error)
}
