package vm

import "testing"

func TestBumpAllocationAdvances(t *testing.T) {
	s := NewNewSpace(64, true)
	a, ok := s.AllocateRaw(16)
	if !ok {
		t.Fatal("first allocation failed")
	}
	b, ok := s.AllocateRaw(16)
	if !ok {
		t.Fatal("second allocation failed")
	}
	if b != a+16 {
		t.Errorf("frontier moved %d -> %d, want +16", a, b)
	}
}

func TestBumpAllocationRoundsSizeUp(t *testing.T) {
	s := NewNewSpace(64, true)
	a, _ := s.AllocateRaw(3)
	b, _ := s.AllocateRaw(8)
	if b != a+8 {
		t.Errorf("3-byte allocation advanced frontier by %d, want 8", b-a)
	}
}

func TestBumpAllocationExhaustionIsNotAnError(t *testing.T) {
	s := NewNewSpace(32, true)
	if _, ok := s.AllocateRaw(24); !ok {
		t.Fatal("allocation within limit failed")
	}
	if _, ok := s.AllocateRaw(24); ok {
		t.Fatal("allocation past limit succeeded")
	}
	s.Reset()
	if _, ok := s.AllocateRaw(24); !ok {
		t.Fatal("allocation after reset failed")
	}
}

func TestAllocateHeapNumberFallsBackToCollection(t *testing.T) {
	h := &Heap{New: NewNewSpace(32, true)}
	// Two 16-byte numbers fill the space; the third takes the slow
	// path: collect, then retry.
	h.AllocateHeapNumber(1)
	h.AllocateHeapNumber(2)
	if h.GCCount != 0 {
		t.Fatalf("premature collection, GCCount = %d", h.GCCount)
	}
	o := h.AllocateHeapNumber(3)
	if h.GCCount != 1 {
		t.Errorf("GCCount = %d after exhaustion, want 1", h.GCCount)
	}
	if o.Number != 3 {
		t.Errorf("boxed value %g, want 3", o.Number)
	}
}

func TestInlineAllocationDisabled(t *testing.T) {
	s := NewNewSpace(64, false)
	if s.Inline() {
		t.Error("fast path must report disabled")
	}
	var fp AllocationFastPath = s
	if fp.TopCell() == nil || fp.LimitCell() == nil {
		t.Error("frontier cells must still be exposed for the runtime path")
	}
}
