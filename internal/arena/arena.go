// Package arena implements typed, monotonic slab allocators returning
// opaque handles instead of pointers, so that translation-local graphs
// (blocks, statements, x86 instructions) never need reference counting
// or a cycle collector: storage is reclaimed only by resetting or
// discarding the whole arena.
package arena

import (
	"bytes"
	"encoding/gob"
)

const pageSize = 256

// Handle is an opaque, arena-local reference to a value of type T.
// Handles from different Arena[T] instances are not comparable in any
// meaningful way even when T matches: callers are expected to thread
// the owning Arena alongside every Handle, exactly as spec.md §4.1
// requires ("access requires passing the arena explicitly").
type Handle[T any] struct {
	index int
}

// Valid reports whether h was ever produced by Insert. The zero Handle
// is never valid because index 0 is reserved as a sentinel.
func (h Handle[T]) Valid() bool { return h.index != 0 }

// Index returns the raw arena-local slot index, for debug rendering
// (e.g. DOT graphs) that needs a stable per-handle integer without
// otherwise exposing arena internals.
func (h Handle[T]) Index() int { return h.index }

// GobEncode/GobDecode let Handle cross the model loader's gob wire
// format (internal/model) despite its field being unexported: gob only
// walks exported fields by default, so every handle-shaped type in
// this package defines the codec explicitly rather than exporting
// `index` and breaking the "opaque index, not a pointer" contract
// spec.md §4.1 asks for.
func (h Handle[T]) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(h.index); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (h *Handle[T]) GobDecode(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(&h.index)
}

// Arena is a typed, append-only store of T, indexed by Handle[T].
type Arena[T any] struct {
	pages [][]T
	// next is the index reserved for the *next* Insert; 0 is never
	// handed out so Handle's zero value can mean "no handle".
	next int
}

// New returns an empty Arena ready for use.
func New[T any]() *Arena[T] {
	a := &Arena[T]{next: 1}
	a.pages = append(a.pages, make([]T, 1, pageSize)) // slot 0 burned as sentinel
	return a
}

// Insert stores v and returns a handle to it. Existing handles remain
// valid: Insert never moves previously inserted elements, because
// pages are fixed-capacity slabs appended to, never reallocated.
func (a *Arena[T]) Insert(v T) Handle[T] {
	page := a.next / pageSize
	offset := a.next % pageSize
	for page >= len(a.pages) {
		a.pages = append(a.pages, make([]T, 0, pageSize))
	}
	if offset >= len(a.pages[page]) {
		a.pages[page] = append(a.pages[page], v)
	} else {
		a.pages[page][offset] = v
	}
	h := Handle[T]{index: a.next}
	a.next++
	return h
}

// Get returns a copy of the value referenced by h.
func (a *Arena[T]) Get(h Handle[T]) T {
	page, offset := h.index/pageSize, h.index%pageSize
	return a.pages[page][offset]
}

// GetPtr returns a mutable pointer into arena storage for h. The
// pointer is valid for the lifetime of the arena: pages are never
// reallocated once appended (unlike a plain growing slice), so taking
// this pointer across further Insert calls is safe.
func (a *Arena[T]) GetPtr(h Handle[T]) *T {
	page, offset := h.index/pageSize, h.index%pageSize
	return &a.pages[page][offset]
}

// Set overwrites the value referenced by h.
func (a *Arena[T]) Set(h Handle[T], v T) {
	*a.GetPtr(h) = v
}

// Len returns the number of elements inserted so far.
func (a *Arena[T]) Len() int { return a.next - 1 }

// gobSnapshot is Arena's wire representation: a flat slice of every
// live element (slots 1..next-1 in order), from which Insert order
// (and therefore every previously issued Handle) can be reconstructed
// exactly on decode.
type gobSnapshot[T any] struct {
	Elems []T
}

func (a *Arena[T]) GobEncode() ([]byte, error) {
	snap := gobSnapshot[T]{Elems: make([]T, 0, a.Len())}
	for i := 1; i < a.next; i++ {
		snap.Elems = append(snap.Elems, a.Get(Handle[T]{index: i}))
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (a *Arena[T]) GobDecode(data []byte) error {
	var snap gobSnapshot[T]
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return err
	}
	*a = *New[T]()
	for _, e := range snap.Elems {
		a.Insert(e)
	}
	return nil
}

// Reset discards all stored elements but keeps backing pages allocated,
// mirroring ssa/pool.go's reset(): translations are short-lived and
// per-block, so reusing the backing storage across translations beats
// letting the GC reclaim and re-allocate every time.
func (a *Arena[T]) Reset() {
	for i := range a.pages {
		a.pages[i] = a.pages[i][:0]
	}
	a.pages[0] = append(a.pages[0], *new(T)) // re-burn sentinel slot 0
	a.next = 1
}
