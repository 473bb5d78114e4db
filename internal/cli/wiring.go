package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"kbrag/config"
	"kbrag/internal/adapter/cache"
	"kbrag/internal/adapter/chunker"
	"kbrag/internal/adapter/embedding"
	"kbrag/internal/adapter/llm"
	"kbrag/internal/adapter/reranker"
	"kbrag/internal/adapter/source"
	"kbrag/internal/adapter/store"
	"kbrag/internal/adapter/vectorindex"
	"kbrag/internal/port"
	"kbrag/internal/usecase"
)

func newEmbedder(cfg *config.Config) (port.Embedder, error) {
	c := cfg.Embedding
	dim := cfg.Index.Dimension
	switch c.Provider {
	case "openai":
		return embedding.NewOpenAICompatibleEmbedder(c.APIKeyEnv, c.Model, c.BaseURL, dim, c.BatchSize)
	case "ollama":
		return embedding.NewOllamaEmbedder(c.Model, c.BaseURL, dim, c.BatchSize), nil
	case "mock":
		return embedding.NewMockEmbedder(dim), nil
	default:
		return nil, fmt.Errorf("%w: unsupported embedding provider: %s", config.ErrInvalidConfig, c.Provider)
	}
}

// newReranker returns nil when reranking is disabled.
func newReranker(cfg *config.Config) (port.Reranker, error) {
	c := cfg.Reranker
	switch c.Provider {
	case "cohere":
		r, err := reranker.NewCohereReranker(c.APIKeyEnv, c.Model, c.BaseURL)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "simple":
		return reranker.NewSimpleReranker(), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unsupported reranker provider: %s", config.ErrInvalidConfig, c.Provider)
	}
}

func newLLM(cfg *config.Config) (port.LLM, error) {
	c := cfg.LLM
	opts := llm.Options{
		Model:               c.Model,
		BaseURL:             c.BaseURL,
		MaxTokens:           c.MaxTokens,
		Temperature:         c.Temperature,
		TimezoneOffsetHours: c.TimezoneOffsetHours,
	}
	switch c.Provider {
	case "openai":
		return llm.NewOpenAILLMFromEnv(c.APIKeyEnv, opts)
	case "ollama":
		if opts.BaseURL == "" {
			opts.BaseURL = "http://localhost:11434/v1"
		}
		return llm.NewOpenAILLM(opts), nil
	default:
		return nil, fmt.Errorf("%w: unsupported llm provider: %s", config.ErrInvalidConfig, c.Provider)
	}
}

// newSource builds the document source and the selector to ingest.
func newSource(cfg *config.Config, dir string, logger *slog.Logger) (port.DocumentSource, usecase.SourceSelector, error) {
	c := cfg.Source
	sel := usecase.SourceSelector{Group: c.Group, Namespace: c.Namespace}

	switch c.Provider {
	case "yuque":
		src, err := source.NewYuqueSourceFromEnv(c.TokenEnv, source.YuqueOptions{
			BaseURL:     c.BaseURL,
			Timeout:     time.Duration(c.TimeoutSecs) * time.Second,
			MaxRetries:  c.MaxRetries,
			BackoffBase: time.Duration(c.BackoffBaseMS) * time.Millisecond,
			Logger:      logger,
		})
		if err != nil {
			return nil, sel, err
		}
		return src, sel, nil
	case "local":
		root := c.Dir
		if root == "" {
			root = dir
		} else if !filepath.IsAbs(root) {
			root = filepath.Join(dir, root)
		}
		src, err := source.NewLocalSource(root, c.Includes, c.Excludes)
		if err != nil {
			return nil, sel, err
		}
		if sel.Group == "" {
			sel.Group = source.RootSourceID
		}
		return src, sel, nil
	default:
		return nil, sel, fmt.Errorf("%w: unsupported source provider: %s", config.ErrInvalidConfig, c.Provider)
	}
}

// app holds the components shared by the query, ask and serve commands.
type app struct {
	cfg       *config.Config
	dir       string
	logger    *slog.Logger
	handle    *vectorindex.Handle
	embedder  port.Embedder
	retrieve  *usecase.RetrieveUseCase
	retriever port.Retriever
	cache     *cache.QueryCache
}

func newApp(cfg *config.Config, dir string, logger *slog.Logger) (*app, error) {
	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	rr, err := newReranker(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create reranker: %w", err)
	}

	handle := vectorindex.NewHandle(nil)
	retrieve := usecase.NewRetrieveUseCase(handle, embedder, rr,
		cfg.Retrieve.TopKInitial, cfg.Retrieve.TopKRerank, logger)

	a := &app{
		cfg:       cfg,
		dir:       dir,
		logger:    logger,
		handle:    handle,
		embedder:  embedder,
		retrieve:  retrieve,
		retriever: retrieve,
	}
	if cfg.Retrieve.CacheSize > 0 {
		a.cache = cache.NewQueryCache(cfg.Retrieve.CacheSize, time.Duration(cfg.Retrieve.CacheTTLSecs)*time.Second)
		a.retriever = cache.NewCachedRetriever(retrieve, a.cache, handle.Generation)
	}
	return a, nil
}

// openCatalog opens the ingestion catalog. It is held only while needed
// so that a running server does not lock out an ingest in another process.
func openCatalog(dir string) (*store.BoltCatalog, error) {
	if err := config.EnsureDataDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	catalog, err := store.NewBoltCatalog(config.CatalogPath(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	return catalog, nil
}

func (a *app) indexBase() string {
	return a.cfg.IndexBasePath(a.dir)
}

// loadIndex opens the persisted index and swaps it in.
func (a *app) loadIndex(ctx context.Context) error {
	idx, err := vectorindex.Open(ctx, a.indexBase(), a.cfg.Index.Dimension)
	if err != nil {
		return fmt.Errorf("failed to load index: %w", err)
	}
	gen := a.handle.Swap(idx)
	a.logger.Info("index loaded", "chunks", idx.Count(), "generation", gen)
	return nil
}

// ingest rebuilds the index from the configured source.
func (a *app) ingest(ctx context.Context, progress usecase.Progress) (*usecase.IngestResult, error) {
	src, sel, err := newSource(a.cfg, a.dir, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create source: %w", err)
	}
	pre, err := chunker.NewPreprocessor(a.cfg.Chunk.Size, a.cfg.Chunk.Overlap, a.cfg.Chunk.HardSplit)
	if err != nil {
		return nil, err
	}

	catalog, err := openCatalog(a.dir)
	if err != nil {
		return nil, err
	}
	defer catalog.Close()

	uc := usecase.NewIngestUseCase(src, pre, a.embedder, catalog, a.handle, a.indexBase(), a.logger).
		WithProgress(progress).
		WithConfigHash(store.ComputeConfigHash(a.cfg))
	result, err := uc.Ingest(ctx, sel)
	if err != nil {
		return nil, err
	}
	if err := catalog.Migrate(a.cfg); err != nil {
		return nil, fmt.Errorf("failed to update schema info: %w", err)
	}
	return result, nil
}

// prepareIndex loads the persisted index in QA mode, or rebuilds it when
// QA mode is off, the artifacts are missing or the configuration changed.
func (a *app) prepareIndex(ctx context.Context, progress usecase.Progress) error {
	exists := vectorindex.Exists(ctx, a.indexBase())
	catalog, err := openCatalog(a.dir)
	if err != nil {
		return err
	}
	rebuild, reason, err := catalog.NeedsRebuild(a.cfg)
	catalog.Close()
	if err != nil {
		return fmt.Errorf("failed to check catalog: %w", err)
	}

	switch {
	case !a.cfg.QAMode:
		reason = "qa mode is off"
	case !exists:
		reason = "no index found"
	case rebuild:
	default:
		return a.loadIndex(ctx)
	}

	a.logger.Info("rebuilding index", "reason", reason)
	_, err = a.ingest(ctx, progress)
	return err
}

// OpenRetriever loads the persisted index under dir and returns the
// uncached two-stage retriever configured by cfg.
func OpenRetriever(ctx context.Context, cfg *config.Config, dir string, logger *slog.Logger) (*usecase.RetrieveUseCase, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a, err := newApp(cfg, dir, logger)
	if err != nil {
		return nil, err
	}
	if !vectorindex.Exists(ctx, a.indexBase()) {
		return nil, fmt.Errorf("no index found under %s", dir)
	}
	if err := a.loadIndex(ctx); err != nil {
		return nil, err
	}
	return a.retrieve, nil
}
