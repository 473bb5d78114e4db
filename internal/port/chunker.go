package port

import "kbrag/internal/domain"

// Chunker turns cleaned documents into enriched chunks.
type Chunker interface {
	Process(docs []domain.Document) []domain.Chunk
}
