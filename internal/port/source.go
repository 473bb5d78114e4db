package port

import (
	"context"

	"kbrag/internal/domain"
)

// DocumentSource lists and fetches documents from the upstream knowledge base.
type DocumentSource interface {
	// ListDocumentSources returns the source (repository) IDs of a group.
	ListDocumentSources(ctx context.Context, groupID string) ([]string, error)

	// ListDocuments lists the documents of one source.
	ListDocuments(ctx context.Context, sourceID string) ([]domain.DocumentRef, error)

	// FetchDocumentBody returns a document body. Implementations retry
	// transient failures and return "" once retries are exhausted.
	FetchDocumentBody(ctx context.Context, sourceID, slug string) (string, error)
}
