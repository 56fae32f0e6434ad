package codegen

// Object layout constants shared between generated code, stub code and
// the runtime. The first word of any heap object is its map; maps keep
// their instance type at a fixed offset.
const (
	MapOffset          = 0
	InstanceTypeOffset = 8
	MapPrototypeOffset = 16

	// JSObject body
	PropertiesOffset  = 8  // out-of-line property array
	ElementsOffset    = 16 // array backing store
	InObjectOffset    = 24 // first in-object field
	ArrayLengthOffset = 16

	// Backing store (fixed array) layout
	FixedArrayLengthOffset = 8
	FixedArrayDataOffset   = 16

	// Heap number
	HeapNumberValueOffset = 8
	HeapNumberSize        = 16

	// Property cell
	PropertyCellValueOffset = 8

	// String: byte length then the character data pointer.
	StringLengthOffset = 8
	StringCharsOffset  = 16

	WordSize = 8
)

// ExternalRefs are the addresses of the runtime entry points generated
// code calls out to. The embedder fills them in before compilation;
// tests use recognizable synthetic values.
type ExternalRefs struct {
	DeoptEntry         int64
	TraceEntry         int64
	AllocateHeapNumber int64
	GenericCompare     int64
	LoadIC             int64
	StoreIC            int64
	KeyedLoadIC        int64
	CallIC             int64
	ConstructEntry     int64
	RecordWrite        int64
	AccessCheck        int64 // same-origin check for guarded objects
	Runtime            int64 // generic runtime call dispatcher
	StubEntry          int64
	ThrowEntry         int64

	// Allocator fast path: addresses of the new-space frontier cells
	// and the tagged heap-number map reference generated code embeds.
	AllocTop      int64
	AllocLimit    int64
	HeapNumberMap int64
}
