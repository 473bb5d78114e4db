package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"kbrag/internal/adapter/vectorindex"
	"kbrag/internal/domain"
	"kbrag/internal/port"
)

// SourceSelector picks what to ingest: one repository when Namespace is
// set, otherwise every repository of Group.
type SourceSelector struct {
	Group     string
	Namespace string
}

func (s SourceSelector) validate() error {
	if s.Namespace == "" && s.Group == "" {
		return errors.New("either a namespace or a group is required")
	}
	return nil
}

// Progress receives ingestion progress. Stages run one after another.
type Progress interface {
	Start(stage string, total int)
	Add(n int)
	Done()
}

type noopProgress struct{}

func (noopProgress) Start(string, int) {}
func (noopProgress) Add(int)           {}
func (noopProgress) Done()             {}

// IngestResult contains the results of an ingestion run.
type IngestResult struct {
	RunID            string
	DocumentsIndexed int
	DocumentsSkipped int
	Chunks           int
	Statuses         []domain.DocumentStatus
	Index            *vectorindex.FlatIndex
	Duration         time.Duration
}

// IngestUseCase rebuilds the vector index from a document source.
type IngestUseCase struct {
	source    port.DocumentSource
	chunker   port.Chunker
	embedder  port.Embedder
	catalog   port.Catalog        // optional
	handle    *vectorindex.Handle // optional; receives the new index
	indexBase string
	logger    *slog.Logger

	progress   Progress
	configHash string
	now        func() time.Time
}

// NewIngestUseCase creates a new ingest use case. catalog and handle may be nil.
func NewIngestUseCase(
	source port.DocumentSource,
	chunker port.Chunker,
	embedder port.Embedder,
	catalog port.Catalog,
	handle *vectorindex.Handle,
	indexBase string,
	logger *slog.Logger,
) *IngestUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestUseCase{
		source:    source,
		chunker:   chunker,
		embedder:  embedder,
		catalog:   catalog,
		handle:    handle,
		indexBase: indexBase,
		logger:    logger,
		progress:  noopProgress{},
		now:       time.Now,
	}
}

// WithProgress sets the progress reporter.
func (u *IngestUseCase) WithProgress(p Progress) *IngestUseCase {
	if p == nil {
		p = noopProgress{}
	}
	u.progress = p
	return u
}

// WithConfigHash records hash on every run written to the catalog.
func (u *IngestUseCase) WithConfigHash(hash string) *IngestUseCase {
	u.configHash = hash
	return u
}

type fetchedDoc struct {
	ref    domain.DocumentRef
	source string
	body   string
}

// Ingest fetches every selected document, chunks and embeds it, and
// replaces the persisted index. Documents with empty bodies are skipped.
// A run that fails after it was recorded is finished with its error.
func (u *IngestUseCase) Ingest(ctx context.Context, sel SourceSelector) (*IngestResult, error) {
	if err := sel.validate(); err != nil {
		return nil, err
	}
	start := u.now()
	run := domain.IngestRun{
		ID:         uuid.NewString(),
		StartedAt:  start.Unix(),
		ConfigHash: u.configHash,
		IndexPath:  u.indexBase,
	}
	if u.catalog != nil {
		if err := u.catalog.BeginRun(run); err != nil {
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
	}

	result, err := u.build(ctx, sel, run.ID)
	if err == nil && u.catalog != nil {
		err = u.catalog.PutDocumentStatuses(run.ID, result.Statuses)
		if err != nil {
			err = fmt.Errorf("failed to record document statuses: %w", err)
		}
	}
	if err != nil {
		u.failRun(run, err)
		return nil, err
	}
	result.Duration = u.now().Sub(start)

	if u.catalog != nil {
		run.FinishedAt = u.now().Unix()
		run.DocumentsIndexed = result.DocumentsIndexed
		run.DocumentsSkipped = result.DocumentsSkipped
		run.Chunks = result.Chunks
		if err := u.catalog.FinishRun(run); err != nil {
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
	}

	u.logger.Info("ingestion complete",
		"run", run.ID,
		"indexed", result.DocumentsIndexed,
		"skipped", result.DocumentsSkipped,
		"chunks", result.Chunks,
		"duration", result.Duration)
	return result, nil
}

func (u *IngestUseCase) failRun(run domain.IngestRun, cause error) {
	if u.catalog == nil {
		return
	}
	run.FinishedAt = u.now().Unix()
	run.Error = cause.Error()
	if err := u.catalog.FinishRun(run); err != nil {
		u.logger.Error("failed to record failed run", "run", run.ID, "error", err)
	}
}

// build runs the pipeline up to swapping the new index into the handle.
func (u *IngestUseCase) build(ctx context.Context, sel SourceSelector, runID string) (*IngestResult, error) {
	sources := []string{sel.Namespace}
	if sel.Namespace == "" {
		var err error
		sources, err = u.source.ListDocumentSources(ctx, sel.Group)
		if err != nil {
			return nil, fmt.Errorf("failed to list sources of %s: %w", sel.Group, err)
		}
	}

	type listed struct {
		source string
		ref    domain.DocumentRef
	}
	var refs []listed
	for _, src := range sources {
		docs, err := u.source.ListDocuments(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("failed to list documents of %s: %w", src, err)
		}
		for _, ref := range docs {
			refs = append(refs, listed{source: src, ref: ref})
		}
	}
	u.logger.Info("listed documents", "sources", len(sources), "documents", len(refs))

	result := &IngestResult{RunID: runID}

	u.progress.Start("fetching", len(refs))
	fetched := make([]fetchedDoc, 0, len(refs))
	for _, l := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		body, err := u.source.FetchDocumentBody(ctx, l.source, l.ref.Slug)
		u.progress.Add(1)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			result.skip(l.source, l.ref, err.Error())
			u.logger.Warn("skipping document", "repo", l.source, "slug", l.ref.Slug, "error", err)
			continue
		}
		if strings.TrimSpace(body) == "" {
			result.skip(l.source, l.ref, "empty body")
			u.logger.Warn("skipping document with empty body", "repo", l.source, "slug", l.ref.Slug)
			continue
		}
		fetched = append(fetched, fetchedDoc{ref: l.ref, source: l.source, body: body})
	}
	u.progress.Done()

	var chunks []domain.Chunk
	for _, f := range fetched {
		docChunks := u.chunker.Process([]domain.Document{{
			Body:     f.body,
			Metadata: documentMetadata(f.source, f.ref),
		}})
		if len(docChunks) == 0 {
			result.skip(f.source, f.ref, "no content after cleaning")
			continue
		}
		chunks = append(chunks, docChunks...)
		result.Statuses = append(result.Statuses, domain.DocumentStatus{
			DocID:      f.ref.ID,
			Repo:       f.source,
			Title:      title(f.ref),
			Status:     domain.StatusIndexed,
			ChunkCount: len(docChunks),
		})
		result.DocumentsIndexed++
	}
	if result.DocumentsSkipped > 0 {
		u.logger.Warn("documents skipped", "skipped", result.DocumentsSkipped)
	}

	vectors, err := u.embed(ctx, chunks)
	if err != nil {
		return nil, err
	}

	idx, err := vectorindex.New(u.embedder.Dimension())
	if err != nil {
		return nil, err
	}
	if err := idx.Create(); err != nil {
		return nil, err
	}
	if err := idx.Add(vectors, chunks); err != nil {
		return nil, fmt.Errorf("failed to add chunks to index: %w", err)
	}
	if len(chunks) == 0 {
		u.logger.Warn("ingestion produced no chunks; persisting an empty index")
	}
	if u.indexBase != "" {
		if err := idx.Save(ctx, u.indexBase); err != nil {
			return nil, fmt.Errorf("failed to save index: %w", err)
		}
	}
	if u.handle != nil {
		gen := u.handle.Swap(idx)
		u.logger.Debug("swapped index", "generation", gen)
	}

	result.Chunks = len(chunks)
	result.Index = idx
	return result, nil
}

func (u *IngestUseCase) embed(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	u.progress.Start("embedding", len(texts))
	vectors, err := u.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	u.progress.Add(len(texts))
	u.progress.Done()

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("failed to embed chunks: got %d vectors for %d texts", len(vectors), len(texts))
	}
	return vectors, nil
}

func (r *IngestResult) skip(source string, ref domain.DocumentRef, reason string) {
	r.Statuses = append(r.Statuses, domain.DocumentStatus{
		DocID:  ref.ID,
		Repo:   source,
		Title:  title(ref),
		Status: domain.StatusSkipped,
		Reason: reason,
	})
	r.DocumentsSkipped++
}

func title(ref domain.DocumentRef) string {
	if ref.Title != "" {
		return ref.Title
	}
	return ref.Slug
}

func documentMetadata(source string, ref domain.DocumentRef) map[string]any {
	return map[string]any{
		domain.MetaRepo:      source,
		domain.MetaDocID:     ref.ID,
		domain.MetaTitle:     title(ref),
		domain.MetaAuthor:    ref.Author,
		domain.MetaCreatedAt: ref.CreatedAt,
		domain.MetaSlug:      ref.Slug,
	}
}
