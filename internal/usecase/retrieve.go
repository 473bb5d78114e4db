package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"kbrag/internal/adapter/vectorindex"
	"kbrag/internal/domain"
	"kbrag/internal/port"
)

// ErrIndexNotLoaded is returned when retrieval runs before any index was
// loaded or built.
var ErrIndexNotLoaded = errors.New("vector index not loaded")

// RetrieveUseCase runs two-stage retrieval: vector search for k1
// candidates, then reranking down to k2.
type RetrieveUseCase struct {
	handle   *vectorindex.Handle
	embedder port.Embedder
	reranker port.Reranker // nil disables the second stage
	k1       int
	k2       int
	logger   *slog.Logger

	misses atomic.Int64
}

// NewRetrieveUseCase creates a new retrieve use case.
func NewRetrieveUseCase(
	handle *vectorindex.Handle,
	embedder port.Embedder,
	reranker port.Reranker,
	k1, k2 int,
	logger *slog.Logger,
) *RetrieveUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrieveUseCase{
		handle:   handle,
		embedder: embedder,
		reranker: reranker,
		k1:       k1,
		k2:       k2,
		logger:   logger,
	}
}

// Retrieve returns at most k2 chunks for query, best first. Scores are the
// reranker's when a reranker is configured. An empty result is valid.
func (u *RetrieveUseCase) Retrieve(ctx context.Context, query string) ([]domain.ScoredChunk, error) {
	candidates, err := u.search(ctx, query, u.k1)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []domain.ScoredChunk{}, nil
	}

	if u.reranker == nil {
		if len(candidates) > u.k2 {
			candidates = candidates[:u.k2]
		}
		return candidates, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Chunk.Content
	}

	reranked, err := u.reranker.Rerank(ctx, query, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to rerank candidates: %w", err)
	}

	results, missed := Reconcile(reranked, candidates, u.k2)
	if missed > 0 {
		total := u.misses.Add(int64(missed))
		u.logger.Warn("dropped reranked entries with no matching candidate",
			"query", query, "missed", missed, "missed_total", total)
	}
	return results, nil
}

// RetrieveVectorOnly runs stage one only and returns the top k candidates
// with their similarity scores.
func (u *RetrieveUseCase) RetrieveVectorOnly(ctx context.Context, query string, k int) ([]domain.ScoredChunk, error) {
	return u.search(ctx, query, k)
}

func (u *RetrieveUseCase) search(ctx context.Context, query string, k int) ([]domain.ScoredChunk, error) {
	idx := u.handle.Index()
	if idx == nil {
		return nil, ErrIndexNotLoaded
	}
	if strings.TrimSpace(query) == "" || k <= 0 {
		return []domain.ScoredChunk{}, nil
	}

	vectors, err := u.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("failed to embed query: got %d vectors for 1 text", len(vectors))
	}

	results, err := idx.Search(vectors, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}
	return results[0], nil
}

// ReconciliationMisses reports how many reranked entries were dropped
// since the use case was created.
func (u *RetrieveUseCase) ReconciliationMisses() int64 {
	return u.misses.Load()
}

// Reconcile maps the first k reranked texts back to candidate chunks. A
// text matches a candidate whose content starts with it; the candidate at
// the reported index is tried first, then the first match in candidate
// order. Reranked order is kept and entries without a match are dropped.
// It returns the matched chunks, scored by the reranker, and the number
// dropped.
func Reconcile(reranked []domain.RerankedText, candidates []domain.ScoredChunk, k int) ([]domain.ScoredChunk, int) {
	if k > len(reranked) {
		k = len(reranked)
	}
	if k < 0 {
		k = 0
	}

	results := make([]domain.ScoredChunk, 0, k)
	missed := 0
	for _, r := range reranked[:k] {
		i := matchCandidate(r, candidates)
		if i < 0 {
			missed++
			continue
		}
		results = append(results, domain.ScoredChunk{
			Chunk: candidates[i].Chunk,
			Score: r.Score,
		})
	}
	return results, missed
}

func matchCandidate(r domain.RerankedText, candidates []domain.ScoredChunk) int {
	if r.Text == "" {
		return -1
	}
	if r.Index >= 0 && r.Index < len(candidates) &&
		strings.HasPrefix(candidates[r.Index].Chunk.Content, r.Text) {
		return r.Index
	}
	for i, c := range candidates {
		if strings.HasPrefix(c.Chunk.Content, r.Text) {
			return i
		}
	}
	return -1
}
