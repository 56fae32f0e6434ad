package vm

import (
	"fmt"
	"math"
)

// Value is a tagged runtime value.
//
// Encoding scheme (pointer-width word):
//   - Smi: low bit 0, signed 31-bit payload in bits 1..31. Arithmetic
//     on smis that would leave the 31-bit range must deoptimize, never
//     wrap.
//   - Heap reference: low bit 1, remaining bits a heap handle. Heap
//     numbers carry full IEEE-754 doubles, including -0 and NaN.
//   - A small set of special singletons (nil, true, false, the hole)
//     are heap references to canonical objects.
type Value uint64

const (
	// MaxSmi and MinSmi bound the inline small-integer range.
	MaxSmi int32 = 1<<30 - 1
	MinSmi int32 = -1 << 30

	heapTag uint64 = 1
)

// IsSmi reports whether v is an inline small integer.
func (v Value) IsSmi() bool {
	return uint64(v)&heapTag == 0
}

// IsHeapObject reports whether v references a heap object.
func (v Value) IsHeapObject() bool {
	return uint64(v)&heapTag != 0
}

// Smi returns the integer payload. Panics if v is not a smi.
func (v Value) Smi() int32 {
	if !v.IsSmi() {
		panic("vm: Value.Smi on non-smi")
	}
	return int32(uint64(v)) >> 1
}

// FromSmi tags a 31-bit integer. Panics if n is out of smi range;
// callers that may overflow use TryFromSmi.
func FromSmi(n int32) Value {
	if n > MaxSmi || n < MinSmi {
		panic(fmt.Sprintf("vm: FromSmi out of range: %d", n))
	}
	return Value(uint64(uint32(n)) << 1)
}

// TryFromSmi tags n if it fits the smi range.
func TryFromSmi(n int64) (Value, bool) {
	if n > int64(MaxSmi) || n < int64(MinSmi) {
		return 0, false
	}
	return Value(uint64(uint32(int32(n))) << 1), true
}

// Bits returns the raw encoding, for embedding in constant pools and
// translation literals.
func (v Value) Bits() uint64 { return uint64(v) }

// FromBits reinterprets raw encoding bits.
func FromBits(b uint64) Value { return Value(b) }

// ---------------------------------------------------------------------------
// Heap handles
// ---------------------------------------------------------------------------

// heapRegistry maps handles to objects. Generated code sees handles as
// opaque words; the runtime side resolves them here. Handle 0 is never
// issued.
var heapRegistry = newRegistry()

type registry struct {
	objects []*HeapObject
}

func newRegistry() *registry {
	return &registry{objects: make([]*HeapObject, 1)} // index 0 reserved
}

func (r *registry) add(o *HeapObject) uint64 {
	r.objects = append(r.objects, o)
	return uint64(len(r.objects) - 1)
}

func (r *registry) get(h uint64) *HeapObject {
	return r.objects[h]
}

// FromHeapObject tags a heap object handle.
func FromHeapObject(o *HeapObject) Value {
	if o.handle == 0 {
		o.handle = heapRegistry.add(o)
	}
	return Value(o.handle<<1 | heapTag)
}

// HeapObject resolves the heap reference. Panics on a smi.
func (v Value) HeapObject() *HeapObject {
	if !v.IsHeapObject() {
		panic("vm: Value.HeapObject on smi")
	}
	return heapRegistry.get(uint64(v) >> 1)
}

// ---------------------------------------------------------------------------
// Singletons
// ---------------------------------------------------------------------------

var (
	nilObject   = newOddball("nil")
	trueObject  = newOddball("true")
	falseObject = newOddball("false")
	holeObject  = newOddball("hole")

	// Nil, True, False are the language-level singletons. TheHole marks
	// uninitialized slots and deleted property cells; it is never
	// observable by running programs.
	Nil     = FromHeapObject(nilObject)
	True    = FromHeapObject(trueObject)
	False   = FromHeapObject(falseObject)
	TheHole = FromHeapObject(holeObject)
)

// FromBool tags a boolean singleton.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// ---------------------------------------------------------------------------
// Numbers
// ---------------------------------------------------------------------------

// NewNumber returns the canonical tagged representation of f: a smi
// when f is an integral value in smi range that is not -0, otherwise a
// boxed heap number.
func NewNumber(f float64) Value {
	i := int64(f)
	if float64(i) == f && !(f == 0 && math.Signbit(f)) {
		if v, ok := TryFromSmi(i); ok {
			return v
		}
	}
	return FromHeapObject(NewHeapNumber(f))
}

// NumberValue returns v as a float64. Panics if v is neither a smi nor
// a heap number.
func (v Value) NumberValue() float64 {
	if v.IsSmi() {
		return float64(v.Smi())
	}
	o := v.HeapObject()
	if o.Kind != KindHeapNumber {
		panic("vm: NumberValue on non-number")
	}
	return o.Number
}

// IsNumber reports whether v is a smi or heap number.
func (v Value) IsNumber() bool {
	return v.IsSmi() || v.HeapObject().Kind == KindHeapNumber
}

func (v Value) String() string {
	if v.IsSmi() {
		return fmt.Sprintf("%d", v.Smi())
	}
	o := v.HeapObject()
	switch o.Kind {
	case KindHeapNumber:
		return fmt.Sprintf("%g", o.Number)
	case KindOddball:
		return o.OddballName
	case KindString:
		return fmt.Sprintf("%q", o.Chars)
	default:
		return fmt.Sprintf("#<%s %d>", o.Kind, o.handle)
	}
}
