package vm

import (
	"math"
	"testing"
)

func TestSmiTaggingRoundTrip(t *testing.T) {
	cases := []int32{0, 1, -1, 42, -42, MaxSmi, MinSmi}
	for _, n := range cases {
		v := FromSmi(n)
		if !v.IsSmi() {
			t.Errorf("FromSmi(%d) is not a smi", n)
		}
		if got := v.Smi(); got != n {
			t.Errorf("Smi round trip: got %d, want %d", got, n)
		}
	}
}

func TestTryFromSmiOverflow(t *testing.T) {
	if _, ok := TryFromSmi(int64(MaxSmi) + 1); ok {
		t.Error("MaxSmi+1 must not fit the smi range")
	}
	if _, ok := TryFromSmi(int64(MinSmi) - 1); ok {
		t.Error("MinSmi-1 must not fit the smi range")
	}
	if v, ok := TryFromSmi(int64(MaxSmi)); !ok || v.Smi() != MaxSmi {
		t.Error("MaxSmi must round trip")
	}
}

func TestNewNumberPrefersSmi(t *testing.T) {
	v := NewNumber(7)
	if !v.IsSmi() || v.Smi() != 7 {
		t.Errorf("NewNumber(7) = %v, want smi 7", v)
	}
}

func TestNewNumberBoxesNegativeZero(t *testing.T) {
	v := NewNumber(math.Copysign(0, -1))
	if v.IsSmi() {
		t.Fatal("-0 must be boxed, smis cannot represent it")
	}
	f := v.NumberValue()
	if f != 0 || !math.Signbit(f) {
		t.Errorf("boxed -0 reads back as %g (signbit %v)", f, math.Signbit(f))
	}
}

func TestNewNumberBoxesNonIntegral(t *testing.T) {
	v := NewNumber(2.5)
	if v.IsSmi() {
		t.Fatal("2.5 must be boxed")
	}
	if got := v.NumberValue(); got != 2.5 {
		t.Errorf("NumberValue = %g, want 2.5", got)
	}
}

func TestHeapObjectRoundTrip(t *testing.T) {
	o := NewHeapNumber(3.25)
	v := FromHeapObject(o)
	if !v.IsHeapObject() {
		t.Fatal("heap reference not tagged as heap object")
	}
	if v.HeapObject() != o {
		t.Error("heap handle does not resolve to the original object")
	}
	// Tagging the same object twice yields the same value.
	if FromHeapObject(o) != v {
		t.Error("retagging produced a different value")
	}
}

func TestSingletonsDistinct(t *testing.T) {
	vals := []Value{Nil, True, False, TheHole}
	for i, a := range vals {
		for j, b := range vals {
			if i != j && a == b {
				t.Errorf("singletons %d and %d collide", i, j)
			}
		}
	}
}
