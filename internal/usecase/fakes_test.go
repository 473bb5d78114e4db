package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"kbrag/internal/adapter/vectorindex"
	"kbrag/internal/domain"
	"kbrag/internal/port"
)

// fakeEmbedder returns a fixed vector per text, or fallback for unknown texts.
type fakeEmbedder struct {
	dim      int
	vectors  map[string][]float32
	fallback []float32
	err      error
	calls    int
}

func (e *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := e.vectors[t]; ok {
			out[i] = v
			continue
		}
		if e.fallback != nil {
			out[i] = e.fallback
			continue
		}
		out[i] = make([]float32, e.dim)
		out[i][i%e.dim] = 1
	}
	return out, nil
}

func (e *fakeEmbedder) Dimension() int    { return e.dim }
func (e *fakeEmbedder) ModelName() string { return "fake" }

// fakeReranker returns a canned result.
type fakeReranker struct {
	results []domain.RerankedText
	err     error
	got     []string
}

func (r *fakeReranker) Rerank(_ context.Context, _ string, candidates []string) ([]domain.RerankedText, error) {
	r.got = candidates
	return r.results, r.err
}

func (r *fakeReranker) ModelName() string { return "fake" }

type fakeSource struct {
	repos  map[string][]domain.DocumentRef
	bodies map[string]string // keyed by repo/slug
	errs   map[string]error
}

func (s *fakeSource) ListDocumentSources(_ context.Context, group string) ([]string, error) {
	if group == "missing" {
		return nil, errors.New("group not found")
	}
	var out []string
	for repo := range s.repos {
		out = append(out, repo)
	}
	return out, nil
}

func (s *fakeSource) ListDocuments(_ context.Context, sourceID string) ([]domain.DocumentRef, error) {
	docs, ok := s.repos[sourceID]
	if !ok {
		return nil, errors.New("repo not found")
	}
	return docs, nil
}

func (s *fakeSource) FetchDocumentBody(_ context.Context, sourceID, slug string) (string, error) {
	key := sourceID + "/" + slug
	if err, ok := s.errs[key]; ok {
		return "", err
	}
	return s.bodies[key], nil
}

type fakeCatalog struct {
	mu       sync.Mutex
	begun    []domain.IngestRun
	finished []domain.IngestRun
	statuses map[string][]domain.DocumentStatus
}

func (c *fakeCatalog) BeginRun(run domain.IngestRun) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.begun = append(c.begun, run)
	return nil
}

func (c *fakeCatalog) PutDocumentStatuses(runID string, statuses []domain.DocumentStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statuses == nil {
		c.statuses = map[string][]domain.DocumentStatus{}
	}
	c.statuses[runID] = append(c.statuses[runID], statuses...)
	return nil
}

func (c *fakeCatalog) FinishRun(run domain.IngestRun) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = append(c.finished, run)
	return nil
}

func (c *fakeCatalog) LastRun() (*domain.IngestRun, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.finished) == 0 {
		return nil, nil
	}
	run := c.finished[len(c.finished)-1]
	return &run, nil
}

func (c *fakeCatalog) DocumentStatuses(runID string) ([]domain.DocumentStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses[runID], nil
}

func (c *fakeCatalog) Close() error { return nil }

// fakeChunker emits one chunk per non-empty body.
type fakeChunker struct{}

func (fakeChunker) Process(docs []domain.Document) []domain.Chunk {
	var out []domain.Chunk
	for _, d := range docs {
		if d.Body == "" {
			continue
		}
		out = append(out, domain.Chunk{Content: d.Body, Metadata: d.Metadata})
	}
	return out
}

type fakeLLM struct {
	prompt string
	answer string
	err    error
}

func (l *fakeLLM) Generate(_ context.Context, prompt string) (string, error) {
	l.prompt = prompt
	return l.answer, l.err
}

func (l *fakeLLM) GenerateStream(_ context.Context, prompt string) (<-chan port.StreamToken, error) {
	l.prompt = prompt
	if l.err != nil {
		return nil, l.err
	}
	ch := make(chan port.StreamToken, 3)
	ch <- port.StreamToken{Content: l.answer[:len(l.answer)/2]}
	ch <- port.StreamToken{Content: l.answer[len(l.answer)/2:]}
	ch <- port.StreamToken{Done: true}
	close(ch)
	return ch, nil
}

func (l *fakeLLM) ModelName() string { return "fake" }

type staticRetriever struct {
	chunks []domain.ScoredChunk
	err    error
	query  string
}

func (r *staticRetriever) Retrieve(_ context.Context, query string) ([]domain.ScoredChunk, error) {
	r.query = query
	return r.chunks, r.err
}

// populatedHandle builds a handle over an index holding chunks with vectors.
func populatedHandle(t testing.TB, vectors [][]float32, contents ...string) *vectorindex.Handle {
	idx, err := vectorindex.New(len(vectors[0]))
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Create(); err != nil {
		t.Fatal(err)
	}
	chunks := make([]domain.Chunk, len(contents))
	for i, c := range contents {
		chunks[i] = domain.Chunk{Content: c}
	}
	if err := idx.Add(vectors, chunks); err != nil {
		t.Fatal(err)
	}
	return vectorindex.NewHandle(idx)
}
