package port

import "kbrag/internal/domain"

// Catalog records ingestion runs and per-document outcomes.
type Catalog interface {
	BeginRun(run domain.IngestRun) error

	PutDocumentStatuses(runID string, statuses []domain.DocumentStatus) error

	FinishRun(run domain.IngestRun) error

	LastRun() (*domain.IngestRun, error)

	DocumentStatuses(runID string) ([]domain.DocumentStatus, error)

	Close() error
}
