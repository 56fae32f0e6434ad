package vm

import (
	"errors"
	"math"
)

// ErrAccessDenied is returned when a same-origin access check rejects
// a property operation on a global-scope proxy.
var ErrAccessDenied = errors.New("vm: access check failed")

// ErrNonObjectReceiver is returned for property stores on values that
// cannot carry properties.
var ErrNonObjectReceiver = errors.New("vm: receiver is not an object")

// Accessor is a native accessor property: a callback pair invoked with
// a fixed marshaling convention instead of reading a field.
type Accessor struct {
	Getter func(receiver Value) (Value, error)
	Setter func(receiver Value, v Value) error
}

// NamedInterceptor intercepts property access on its holder. A false
// second result declines, and lookup continues down the chain.
type NamedInterceptor struct {
	Getter func(o *HeapObject, name *Name) (Value, bool)
	Setter func(o *HeapObject, name *Name, v Value) bool
}

// Runtime bundles the heap with the generic (non-inlined) handlers the
// miss paths of compiled stubs fall back into. These handlers are the
// semantic ground truth: any stub fast path must be observably
// indistinguishable from them.
type Runtime struct {
	Heap *Heap

	// AccessAllowed implements the same-origin check for maps with
	// AccessCheck set. Nil allows everything.
	AccessAllowed func(o *HeapObject) bool
}

// NewRuntime returns a runtime over a fresh heap.
func NewRuntime() *Runtime {
	return &Runtime{Heap: NewHeap()}
}

func (r *Runtime) allowed(o *HeapObject) bool {
	if !o.Map.AccessCheck || r.AccessAllowed == nil {
		return true
	}
	return r.AccessAllowed(o)
}

func isReceiver(v Value) bool {
	if !v.IsHeapObject() {
		return false
	}
	switch v.HeapObject().Kind {
	case KindObject, KindGlobal, KindArray, KindFunction, KindString:
		return true
	}
	return false
}

// lookupOwn finds name directly on o. The bool reports presence; a
// property cell holding the hole counts as absent.
func lookupOwn(o *HeapObject, name *Name) (Value, bool) {
	if o.Map.DictionaryMode || o.Dict != nil {
		if o.Dict == nil {
			return 0, false
		}
		v, ok := o.Dict.Get(name)
		if !ok {
			return 0, false
		}
		if v.IsHeapObject() {
			if cell := v.HeapObject(); cell.Kind == KindPropertyCell {
				if cell.CellValue == TheHole {
					return 0, false
				}
				return cell.CellValue, true
			}
		}
		return v, true
	}
	if idx := o.Map.FieldIndex(name); idx >= 0 {
		return o.FastField(idx), true
	}
	return 0, false
}

// LoadNamed is the generic named load: walk the prototype chain,
// honoring access checks, interceptors, accessors, dictionaries and
// global property cells. Absence yields Nil, not an error.
func (r *Runtime) LoadNamed(receiver Value, name *Name) (Value, error) {
	cur := receiver
	for isReceiver(cur) {
		o := cur.HeapObject()
		if !r.allowed(o) {
			return Nil, ErrAccessDenied
		}
		if o.Interceptor != nil && o.Interceptor.Getter != nil {
			if v, ok := o.Interceptor.Getter(o, name); ok {
				return v, nil
			}
		}
		if acc := o.Map.Accessors[name]; acc != nil && acc.Getter != nil {
			return acc.Getter(receiver)
		}
		if v, ok := lookupOwn(o, name); ok {
			return v, nil
		}
		cur = o.Map.Prototype
	}
	return Nil, nil
}

// StoreNamed is the generic named store.
func (r *Runtime) StoreNamed(receiver Value, name *Name, v Value) error {
	if !isReceiver(receiver) {
		return ErrNonObjectReceiver
	}
	o := receiver.HeapObject()
	if !r.allowed(o) {
		return ErrAccessDenied
	}
	if o.Interceptor != nil && o.Interceptor.Setter != nil {
		if o.Interceptor.Setter(o, name, v) {
			return nil
		}
	}
	if acc := o.Map.Accessors[name]; acc != nil && acc.Setter != nil {
		return acc.Setter(receiver, v)
	}

	if o.Map.DictionaryMode {
		if o.Dict == nil {
			o.Dict = NewStringDictionary(4)
		}
		if o.Kind == KindGlobal {
			r.storeGlobalCell(o, name, v)
			return nil
		}
		o.Dict.Set(name, v)
		return nil
	}

	if idx := o.Map.FieldIndex(name); idx >= 0 {
		o.SetFastField(idx, v)
		r.Heap.WriteBarrier(o, v)
		return nil
	}

	// New property: follow (or create) the map transition.
	o.Map = o.Map.Transition(name)
	o.SetFastField(o.Map.FieldIndex(name), v)
	r.Heap.WriteBarrier(o, v)
	return nil
}

// storeGlobalCell updates a global property through its cell so stubs
// holding the cell see the new value without recompilation.
func (r *Runtime) storeGlobalCell(o *HeapObject, name *Name, v Value) {
	if existing, ok := o.Dict.Get(name); ok && existing.IsHeapObject() {
		if cell := existing.HeapObject(); cell.Kind == KindPropertyCell {
			cell.CellValue = v
			r.Heap.WriteBarrier(cell, v)
			return
		}
	}
	cell := &HeapObject{Kind: KindPropertyCell, Map: NewMap(KindPropertyCell, Value(0)), CellValue: v}
	r.Heap.track(cell)
	o.Dict.Set(name, FromHeapObject(cell))
}

// GlobalCell returns the property cell for name on a global object,
// creating a holed cell if absent. Stubs embed the cell.
func (r *Runtime) GlobalCell(o *HeapObject, name *Name) *HeapObject {
	if o.Dict == nil {
		o.Dict = NewStringDictionary(4)
	}
	if existing, ok := o.Dict.Get(name); ok && existing.IsHeapObject() {
		if cell := existing.HeapObject(); cell.Kind == KindPropertyCell {
			return cell
		}
	}
	cell := &HeapObject{Kind: KindPropertyCell, Map: NewMap(KindPropertyCell, Value(0)), CellValue: TheHole}
	r.Heap.track(cell)
	o.Dict.Set(name, FromHeapObject(cell))
	return cell
}

// CallNamed looks the function up generically and invokes it.
func (r *Runtime) CallNamed(receiver Value, name *Name, args ...Value) (Value, error) {
	fn, err := r.LoadNamed(receiver, name)
	if err != nil {
		return Nil, err
	}
	if !fn.IsHeapObject() || fn.HeapObject().Kind != KindFunction || fn.HeapObject().Call == nil {
		return Nil, errors.New("vm: " + name.Str + " is not callable")
	}
	return fn.HeapObject().Call(receiver, args)
}

// ---------------------------------------------------------------------------
// Array built-ins (generic versions; stubs inline the fast paths)
// ---------------------------------------------------------------------------

// NewArray allocates a fast-mode array with the given backing-store
// capacity.
func NewArray(h *Heap, m *Map, capacity int) *HeapObject {
	o := &HeapObject{Kind: KindArray, Map: m, Elements: make([]Value, 0, capacity)}
	if h != nil {
		h.track(o)
	}
	return o
}

// ArrayPush appends v and returns the new length. This is the generic
// built-in; the compiled stub only handles the spare-capacity and
// contiguous-growth cases and falls back here otherwise.
func (r *Runtime) ArrayPush(arr *HeapObject, v Value) Value {
	arr.Elements = append(arr.Elements, v)
	arr.Length = int32(len(arr.Elements))
	r.Heap.WriteBarrier(arr, v)
	return FromSmi(arr.Length)
}

// ArrayPop removes and returns the last element, or Nil when empty.
func (r *Runtime) ArrayPop(arr *HeapObject) Value {
	if arr.Length == 0 {
		return Nil
	}
	v := arr.Elements[arr.Length-1]
	arr.Elements = arr.Elements[:arr.Length-1]
	arr.Length--
	return v
}

// ---------------------------------------------------------------------------
// String built-ins (generic versions; stubs inline the one-byte paths)
// ---------------------------------------------------------------------------

// NewString allocates a string with the given map. The map carries the
// prototype that holds the string methods.
func NewString(h *Heap, m *Map, s string) *HeapObject {
	o := &HeapObject{Kind: KindString, Map: m, Chars: s, Length: int32(len(s))}
	if h != nil {
		h.track(o)
	}
	return o
}

// StringCharAt returns the character at index i as a fresh one-rune
// string sharing the receiver's map, or the empty string out of range.
func (r *Runtime) StringCharAt(s *HeapObject, i int32) Value {
	runes := []rune(s.Chars)
	if i < 0 || int(i) >= len(runes) {
		return FromHeapObject(NewString(r.Heap, s.Map, ""))
	}
	return FromHeapObject(NewString(r.Heap, s.Map, string(runes[i])))
}

// StringCharCodeAt returns the code unit at index i as a number, or
// NaN out of range.
func (r *Runtime) StringCharCodeAt(s *HeapObject, i int32) Value {
	runes := []rune(s.Chars)
	if i < 0 || int(i) >= len(runes) {
		return NewNumber(math.NaN())
	}
	return NewNumber(float64(runes[i]))
}

// StringFromCharCode builds a string from numeric code units. The
// result uses the given map, normally the constructor's initial map.
func (r *Runtime) StringFromCharCode(m *Map, args []Value) Value {
	runes := make([]rune, 0, len(args))
	for _, a := range args {
		if !a.IsNumber() {
			runes = append(runes, 0)
			continue
		}
		runes = append(runes, rune(int32(a.NumberValue())))
	}
	return FromHeapObject(NewString(r.Heap, m, string(runes)))
}
