package vm

import "github.com/tliron/commonlog"

var heapLog = commonlog.GetLogger("ember.heap")

// AllocationFastPath is the contract between the allocator and inline
// allocation code. Generated fast paths load the frontier through this
// interface instead of hardcoding allocator-internal addresses; if the
// embedding cannot guarantee exclusive frontier access, it supplies an
// implementation whose Inline method reports false and every
// allocation takes the runtime call.
type AllocationFastPath interface {
	// TopCell and LimitCell return the bump-pointer frontier cells the
	// generated code loads and stores.
	TopCell() *uint64
	LimitCell() *uint64

	// Inline reports whether inline allocation is permitted at all.
	Inline() bool
}

// NewSpace is the young-generation bump allocator.
type NewSpace struct {
	top    uint64
	limit  uint64
	base   uint64
	inline bool
}

// NewNewSpace returns a new space of the given byte size.
func NewNewSpace(size uint64, allowInline bool) *NewSpace {
	// Base is a synthetic address; runtime-side allocation only does
	// frontier arithmetic, objects themselves are registry handles.
	const newSpaceBase = 0x10000
	return &NewSpace{top: newSpaceBase, base: newSpaceBase, limit: newSpaceBase + size, inline: allowInline}
}

func (s *NewSpace) TopCell() *uint64   { return &s.top }
func (s *NewSpace) LimitCell() *uint64 { return &s.limit }
func (s *NewSpace) Inline() bool       { return s.inline }

// AllocateRaw bumps the frontier. ok is false when the space is
// exhausted; that is the expected slow-path branch, not an error.
func (s *NewSpace) AllocateRaw(size uint64) (addr uint64, ok bool) {
	size = (size + 7) &^ 7
	if s.top+size > s.limit {
		return 0, false
	}
	addr = s.top
	s.top += size
	return addr, true
}

// Reset empties the space (a scavenge from the allocator's view).
func (s *NewSpace) Reset() {
	s.top = s.base
}

// WriteRecord is one remembered-set entry: a pointer store into a
// tenured object that the next collection must treat as a root.
type WriteRecord struct {
	Object *HeapObject
	Value  Value
}

// Heap owns the allocation spaces and the remembered set. It is shared
// with the rest of the running program; the compiler core only ever
// calls it through allocation and write-barrier entry points.
type Heap struct {
	New *NewSpace

	objects    []*HeapObject
	remembered []WriteRecord

	// GCCount increments whenever a full-allocator fallback had to
	// collect. Tests use it to observe slow-path entries.
	GCCount int
}

// NewHeap returns a heap with a fresh new space.
func NewHeap() *Heap {
	return &Heap{New: NewNewSpace(1 << 20, true)}
}

func (h *Heap) track(o *HeapObject) {
	h.objects = append(h.objects, o)
}

// AllocateHeapNumber boxes f, preferring the bump fast path and
// falling back to a collect-and-retry, the same shape generated code
// follows through its deferred slow path.
func (h *Heap) AllocateHeapNumber(f float64) *HeapObject {
	const heapNumberSize = 16
	if _, ok := h.New.AllocateRaw(heapNumberSize); !ok {
		h.collectNewSpace()
		if _, ok := h.New.AllocateRaw(heapNumberSize); !ok {
			// A fresh space that still cannot fit one number means the
			// space is smaller than a single object; treat as fatal.
			panic("vm: new space exhausted after collection")
		}
	}
	o := NewHeapNumber(f)
	h.track(o)
	return o
}

func (h *Heap) collectNewSpace() {
	h.GCCount++
	h.New.Reset()
	heapLog.Debugf("scavenge %d", h.GCCount)
}

// WriteBarrier records a pointer store into a tenured object. Called
// by generated code after any heap-pointer field write; smi stores are
// elided at compile time.
func (h *Heap) WriteBarrier(obj *HeapObject, v Value) {
	if !obj.Old || !v.IsHeapObject() {
		return
	}
	h.remembered = append(h.remembered, WriteRecord{Object: obj, Value: v})
}

// RememberedSet returns the recorded old-to-new writes.
func (h *Heap) RememberedSet() []WriteRecord {
	return h.remembered
}
