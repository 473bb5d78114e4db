// Package vectorindex stores chunk embeddings and answers inner-product
// nearest-neighbour queries.
package vectorindex

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"kbrag/internal/domain"
)

var (
	ErrUninitialized     = errors.New("vector index is not initialized")
	ErrAlreadyPopulated  = errors.New("vector index is already populated")
	ErrInvalidState      = errors.New("operation not allowed in the current index state")
	ErrLengthMismatch    = errors.New("vector and chunk counts differ")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrEmptyChunk        = errors.New("chunk content is empty")
	ErrArtifactMissing   = errors.New("index artifact missing")
	ErrCorrupt           = errors.New("index artifacts are corrupt")
)

// State is the lifecycle state of an index.
type State int

const (
	Uninitialized State = iota
	Created
	Populated
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Populated:
		return "populated"
	default:
		return "uninitialized"
	}
}

// FlatIndex is an exact inner-product index. Entry i owns the vector at
// vectors[i*dim:(i+1)*dim] and chunks[i]; both grow only through Add.
type FlatIndex struct {
	mu      sync.RWMutex
	dim     int
	state   State
	vectors []float32
	chunks  []domain.Chunk
}

// New returns an uninitialized index for vectors of the given dimension.
func New(dim int) (*FlatIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrDimensionMismatch, dim)
	}
	return &FlatIndex{dim: dim}, nil
}

// Create initializes an empty index. It fails on a populated index; call
// Reset first to rebuild.
func (x *FlatIndex) Create() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.state == Populated {
		return ErrAlreadyPopulated
	}
	x.vectors = x.vectors[:0]
	x.chunks = x.chunks[:0]
	x.state = Created
	return nil
}

// Reset drops every entry and returns the index to Uninitialized.
func (x *FlatIndex) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.vectors = nil
	x.chunks = nil
	x.state = Uninitialized
}

// Add appends vectors and chunks in lock-step. All input is validated
// before anything is appended, so a failed Add leaves the index unchanged.
func (x *FlatIndex) Add(vectors [][]float32, chunks []domain.Chunk) error {
	if len(vectors) != len(chunks) {
		return fmt.Errorf("%w: %d vectors, %d chunks", ErrLengthMismatch, len(vectors), len(chunks))
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.state == Uninitialized {
		return ErrUninitialized
	}
	for i, v := range vectors {
		if len(v) != x.dim {
			return fmt.Errorf("%w: vector %d has %d components, expected %d", ErrDimensionMismatch, i, len(v), x.dim)
		}
		if chunks[i].Content == "" {
			return fmt.Errorf("%w: chunk %d", ErrEmptyChunk, i)
		}
	}
	if len(vectors) == 0 {
		return nil
	}

	x.vectors = slices.Grow(x.vectors, len(vectors)*x.dim)
	for _, v := range vectors {
		x.vectors = append(x.vectors, v...)
	}
	x.chunks = append(x.chunks, chunks...)
	x.state = Populated
	return nil
}

// Search returns, for each query, the k entries with the highest inner
// product in descending order. Equal scores keep insertion order. With
// fewer than k entries every entry is returned.
func (x *FlatIndex) Search(queries [][]float32, k int) ([][]domain.ScoredChunk, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.state == Uninitialized {
		return nil, ErrUninitialized
	}
	for i, q := range queries {
		if len(q) != x.dim {
			return nil, fmt.Errorf("%w: query %d has %d components, expected %d", ErrDimensionMismatch, i, len(q), x.dim)
		}
	}

	results := make([][]domain.ScoredChunk, len(queries))
	for i, q := range queries {
		results[i] = x.searchOne(q, k)
	}
	return results, nil
}

type hit struct {
	ordinal int
	score   float64
}

func (x *FlatIndex) searchOne(query []float32, k int) []domain.ScoredChunk {
	n := len(x.chunks)
	if k > n {
		k = n
	}
	if k <= 0 {
		return []domain.ScoredChunk{}
	}

	hits := make([]hit, n)
	for i := 0; i < n; i++ {
		hits[i] = hit{ordinal: i, score: dot(query, x.vectors[i*x.dim:(i+1)*x.dim])}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].score > hits[b].score
	})

	out := make([]domain.ScoredChunk, k)
	for i := 0; i < k; i++ {
		out[i] = domain.ScoredChunk{Chunk: x.chunks[hits[i].ordinal], Score: hits[i].score}
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Count returns the number of entries.
func (x *FlatIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.chunks)
}

// Dimension returns the vector dimension.
func (x *FlatIndex) Dimension() int {
	return x.dim
}

// State returns the lifecycle state.
func (x *FlatIndex) State() State {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.state
}

// Chunk returns the chunk stored at ordinal.
func (x *FlatIndex) Chunk(ordinal int) (domain.Chunk, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if ordinal < 0 || ordinal >= len(x.chunks) {
		return domain.Chunk{}, false
	}
	return x.chunks[ordinal], true
}

// Chunks returns a copy of the stored chunks in insertion order.
func (x *FlatIndex) Chunks() []domain.Chunk {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]domain.Chunk, len(x.chunks))
	copy(out, x.chunks)
	return out
}
