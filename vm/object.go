package vm

import (
	"fmt"
	"sync/atomic"
)

// ObjectKind discriminates heap object layouts.
type ObjectKind uint8

const (
	KindObject ObjectKind = iota
	KindHeapNumber
	KindOddball
	KindArray
	KindFunction
	KindGlobal
	KindPropertyCell
	KindString
)

func (k ObjectKind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindHeapNumber:
		return "heap-number"
	case KindOddball:
		return "oddball"
	case KindArray:
		return "array"
	case KindFunction:
		return "function"
	case KindGlobal:
		return "global"
	case KindPropertyCell:
		return "property-cell"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("ObjectKind(%d)", k)
	}
}

// HeapObject is the runtime-side view of a managed object. The first
// word of every heap object is its map; stubs compare map identity to
// validate shape assumptions.
type HeapObject struct {
	Kind ObjectKind
	Map  *Map

	handle uint64 // registry handle, assigned on first tagging

	// KindHeapNumber
	Number float64

	// KindOddball
	OddballName string

	// KindObject, KindGlobal, KindFunction: fast properties live in
	// InObject (up to the map's in-object capacity) then Extra; slow
	// (dictionary) properties live in Dict instead.
	InObject []Value
	Extra    []Value
	Dict     *StringDictionary

	// KindArray; Length doubles as the byte length for KindString.
	Elements []Value
	Length   int32

	// KindString: immutable character data.
	Chars string

	// KindFunction
	Construct *ConstructDescriptor
	Call      func(receiver Value, args []Value) (Value, error)
	Builtin   BuiltinID

	// Interceptor, when set, sees property access on this object before
	// normal lookup.
	Interceptor *NamedInterceptor

	// KindPropertyCell
	CellValue Value

	// Old reports that the object is tenured: pointer stores into it
	// need a write barrier.
	Old bool
}

// BuiltinID tags native functions the stub compiler recognizes and
// can replace with an inlined fast path.
type BuiltinID uint8

const (
	BuiltinNone BuiltinID = iota
	BuiltinArrayPush
	BuiltinArrayPop
	BuiltinStringCharAt
	BuiltinStringCharCodeAt
	BuiltinStringFromCharCode
	BuiltinMathFloor
	BuiltinMathAbs
)

// NewHeapNumber boxes a double.
func NewHeapNumber(f float64) *HeapObject {
	return &HeapObject{Kind: KindHeapNumber, Map: heapNumberMap, Number: f}
}

func newOddball(name string) *HeapObject {
	return &HeapObject{Kind: KindOddball, Map: oddballMap, OddballName: name}
}

// ConstructDescriptor is the shape information the construct stub
// validates: a simple initial map plus per-slot initializers.
type ConstructDescriptor struct {
	InitialMap *Map

	// Initializers has one entry per in-object slot. A nil entry means
	// the slot is filled from a constructor argument by position (see
	// ArgIndex); otherwise the entry is a constant initial value.
	Initializers []Value

	// ArgIndex maps in-object slot -> incoming argument position, valid
	// where Initializers is the zero Value. Missing arguments fall back
	// to nil (the undefined analogue).
	ArgIndex []int

	// Simple is false when the function is debuggable or has accessor
	// properties; the construct stub then always misses to the generic
	// path.
	Simple bool
}

// ---------------------------------------------------------------------------
// Maps (hidden classes)
// ---------------------------------------------------------------------------

// FieldDescriptor places one named fast property.
type FieldDescriptor struct {
	Name *Name

	// Index is the logical property index. Indices below the map's
	// InObjectCount live in the object body; the rest live in the
	// out-of-line Extra array at Index-InObjectCount.
	Index int32
}

var nextMapID atomic.Uint32

// Map is a hidden class: the shared layout descriptor of objects whose
// properties were added in the same order. Identity (the ID) is what
// stubs compare; two maps with equal contents are still distinct
// shapes.
type Map struct {
	ID           uint32
	InstanceType ObjectKind

	// Prototype is the next object in the lookup chain. Lookup stops at
	// any value that is not an ordinary receiver (Nil, a smi, or the
	// zero Value).
	Prototype Value

	// Fast property layout. Empty for dictionary-mode maps.
	Fields        []FieldDescriptor
	InObjectCount int32

	// DictionaryMode marks maps whose objects keep properties in a
	// hashed dictionary rather than at fixed offsets.
	DictionaryMode bool

	// AccessCheck marks global-scope proxies that require a same-origin
	// check before any property access.
	AccessCheck bool

	// Accessors are native callback properties keyed by name. They take
	// precedence over fields on the same holder.
	Accessors map[*Name]*Accessor

	// transitions: property name -> map after adding that property.
	transitions map[*Name]*Map
}

var (
	heapNumberMap = NewMap(KindHeapNumber, Value(0))
	oddballMap    = NewMap(KindOddball, Value(0))
)

// NewMap returns a fresh map with a unique identity.
func NewMap(kind ObjectKind, prototype Value) *Map {
	return &Map{
		ID:           nextMapID.Add(1),
		InstanceType: kind,
		Prototype:    prototype,
	}
}

// FieldIndex returns the logical index of a fast property, or -1.
func (m *Map) FieldIndex(name *Name) int32 {
	for _, f := range m.Fields {
		if f.Name == name {
			return f.Index
		}
	}
	return -1
}

// Transition returns the map reached by adding name as a fast
// property, creating it on first use. Objects sharing an addition
// order share the resulting maps.
func (m *Map) Transition(name *Name) *Map {
	if m.transitions == nil {
		m.transitions = make(map[*Name]*Map)
	}
	if t, ok := m.transitions[name]; ok {
		return t
	}
	t := NewMap(m.InstanceType, m.Prototype)
	t.InObjectCount = m.InObjectCount
	t.Fields = append(append([]FieldDescriptor(nil), m.Fields...),
		FieldDescriptor{Name: name, Index: int32(len(m.Fields))})
	m.transitions[name] = t
	return t
}

// NewObject allocates an object with the given map on heap h.
func NewObject(h *Heap, m *Map) *HeapObject {
	o := &HeapObject{
		Kind:     m.InstanceType,
		Map:      m,
		InObject: make([]Value, m.InObjectCount),
	}
	for i := range o.InObject {
		o.InObject[i] = Nil
	}
	if h != nil {
		h.track(o)
	}
	return o
}

// FastField reads the fast property at logical index i.
func (o *HeapObject) FastField(i int32) Value {
	if i < o.Map.InObjectCount {
		return o.InObject[i]
	}
	return o.Extra[i-o.Map.InObjectCount]
}

// SetFastField writes the fast property at logical index i, growing
// the out-of-line store as needed.
func (o *HeapObject) SetFastField(i int32, v Value) {
	if i < o.Map.InObjectCount {
		o.InObject[i] = v
		return
	}
	j := i - o.Map.InObjectCount
	for int32(len(o.Extra)) <= j {
		o.Extra = append(o.Extra, Nil)
	}
	o.Extra[j] = v
}

// NormalizeProperties switches the object to dictionary mode: fast
// fields move into a hashed dictionary under a fresh dictionary-mode
// map. Stubs compiled against the old map will miss afterwards.
func (o *HeapObject) NormalizeProperties() {
	if o.Map.DictionaryMode {
		return
	}
	dict := NewStringDictionary(len(o.Map.Fields) + 4)
	for _, f := range o.Map.Fields {
		dict.Set(f.Name, o.FastField(f.Index))
	}
	m := NewMap(o.Map.InstanceType, o.Map.Prototype)
	m.DictionaryMode = true
	m.AccessCheck = o.Map.AccessCheck
	o.Map = m
	o.Dict = dict
	o.InObject = nil
	o.Extra = nil
}
