package vectorindex

import "sync/atomic"

// Handle is the index reference shared by readers. Ingestion builds a new
// index and swaps it in; readers never see a partially built index.
type Handle struct {
	current    atomic.Pointer[FlatIndex]
	generation atomic.Uint64
}

// NewHandle returns a handle pointing at idx, which may be nil.
func NewHandle(idx *FlatIndex) *Handle {
	h := &Handle{}
	if idx != nil {
		h.current.Store(idx)
	}
	return h
}

// Index returns the current index, or nil before the first swap.
func (h *Handle) Index() *FlatIndex {
	return h.current.Load()
}

// Swap installs idx and returns the new generation.
func (h *Handle) Swap(idx *FlatIndex) uint64 {
	h.current.Store(idx)
	return h.generation.Add(1)
}

// Generation increases by one with every Swap.
func (h *Handle) Generation() uint64 {
	return h.generation.Load()
}

// Chunks returns the entry count of the current index, 0 when none is loaded.
func (h *Handle) Chunks() int {
	if idx := h.Index(); idx != nil {
		return idx.Count()
	}
	return 0
}
