package index

import (
	"sync"
	"sync/atomic"
)

// Holder owns the active index generation. Readers call Load and keep the
// returned snapshot for the duration of one query; a writer builds a new
// index and swaps it in with Publish.
type Holder struct {
	mu      sync.Mutex // serializes publishers
	current atomic.Pointer[ModuleIndex]
	next    uint64
}

// NewHolder returns a Holder serving an empty index.
func NewHolder() *Holder {
	h := &Holder{}
	h.current.Store(Empty())
	return h
}

// Load returns the active index. It never returns nil; a zero Holder serves
// an empty index.
func (h *Holder) Load() *ModuleIndex {
	if idx := h.current.Load(); idx != nil {
		return idx
	}
	return Empty()
}

// Publish assigns idx the next generation number and makes it active,
// returning the index it replaced. idx must not be published twice.
func (h *Holder) Publish(idx *ModuleIndex) *ModuleIndex {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	idx.generation = h.next
	if prev := h.current.Swap(idx); prev != nil {
		return prev
	}
	return Empty()
}
