package vm

import (
	"errors"
	"math"
	"testing"
)

func newTestObject(r *Runtime, props map[string]int32) (*HeapObject, Value) {
	o := NewObject(r.Heap, NewMap(KindObject, Value(0)))
	v := FromHeapObject(o)
	for k, n := range props {
		if err := r.StoreNamed(v, Intern(k), FromSmi(n)); err != nil {
			panic(err)
		}
	}
	return o, v
}

func TestLoadNamedOwnProperty(t *testing.T) {
	r := NewRuntime()
	_, recv := newTestObject(r, map[string]int32{"x": 7})
	v, err := r.LoadNamed(recv, Intern("x"))
	if err != nil {
		t.Fatal(err)
	}
	if v.Smi() != 7 {
		t.Errorf("x = %v, want 7", v)
	}
}

func TestLoadNamedAbsentIsNil(t *testing.T) {
	r := NewRuntime()
	_, recv := newTestObject(r, nil)
	v, err := r.LoadNamed(recv, Intern("missing"))
	if err != nil {
		t.Fatal(err)
	}
	if v != Nil {
		t.Errorf("absent property = %v, want Nil", v)
	}
}

func TestLoadNamedWalksPrototypeChain(t *testing.T) {
	r := NewRuntime()
	holder, holderVal := newTestObject(r, map[string]int32{"inherited": 9})
	_ = holder

	mid := NewObject(r.Heap, NewMap(KindObject, holderVal))
	recvMap := NewMap(KindObject, FromHeapObject(mid))
	recv := FromHeapObject(NewObject(r.Heap, recvMap))

	v, err := r.LoadNamed(recv, Intern("inherited"))
	if err != nil {
		t.Fatal(err)
	}
	if v.Smi() != 9 {
		t.Errorf("inherited = %v, want 9", v)
	}
}

func TestAccessCheckDenied(t *testing.T) {
	r := NewRuntime()
	m := NewMap(KindGlobal, Value(0))
	m.AccessCheck = true
	o := NewObject(r.Heap, m)
	r.AccessAllowed = func(*HeapObject) bool { return false }

	_, err := r.LoadNamed(FromHeapObject(o), Intern("x"))
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}
}

func TestInterceptorCanDecline(t *testing.T) {
	r := NewRuntime()
	o, recv := newTestObject(r, map[string]int32{"x": 1})
	hits := 0
	o.Interceptor = &NamedInterceptor{
		Getter: func(_ *HeapObject, name *Name) (Value, bool) {
			hits++
			if name.Str == "magic" {
				return FromSmi(99), true
			}
			return 0, false // decline, lookup continues
		},
	}
	if v, _ := r.LoadNamed(recv, Intern("magic")); v.Smi() != 99 {
		t.Errorf("intercepted load = %v, want 99", v)
	}
	if v, _ := r.LoadNamed(recv, Intern("x")); v.Smi() != 1 {
		t.Errorf("declined interceptor must fall through to field, got %v", v)
	}
	if hits != 2 {
		t.Errorf("interceptor invoked %d times, want 2", hits)
	}
}

func TestAccessorProperty(t *testing.T) {
	r := NewRuntime()
	o, recv := newTestObject(r, nil)
	backing := FromSmi(0)
	o.Map.Accessors = map[*Name]*Accessor{
		Intern("acc"): {
			Getter: func(Value) (Value, error) { return backing, nil },
			Setter: func(_ Value, v Value) error { backing = v; return nil },
		},
	}
	if err := r.StoreNamed(recv, Intern("acc"), FromSmi(12)); err != nil {
		t.Fatal(err)
	}
	v, err := r.LoadNamed(recv, Intern("acc"))
	if err != nil {
		t.Fatal(err)
	}
	if v.Smi() != 12 {
		t.Errorf("accessor read %v, want 12", v)
	}
}

func TestGlobalCellStoreAndHole(t *testing.T) {
	r := NewRuntime()
	gm := NewMap(KindGlobal, Value(0))
	gm.DictionaryMode = true
	g := NewObject(r.Heap, gm)
	g.Kind = KindGlobal
	g.Dict = NewStringDictionary(4)
	recv := FromHeapObject(g)

	name := Intern("counter")
	cell := r.GlobalCell(g, name)
	if cell.CellValue != TheHole {
		t.Fatal("fresh global cell must hold the hole")
	}
	// A holed cell reads as absent.
	if v, _ := r.LoadNamed(recv, name); v != Nil {
		t.Errorf("holed cell read %v, want Nil", v)
	}

	if err := r.StoreNamed(recv, name, FromSmi(3)); err != nil {
		t.Fatal(err)
	}
	// The store went through the same cell the stub would embed.
	if cell.CellValue.Smi() != 3 {
		t.Errorf("cell holds %v, want 3", cell.CellValue)
	}
	if v, _ := r.LoadNamed(recv, name); v.Smi() != 3 {
		t.Errorf("global read %v, want 3", v)
	}
}

func TestStoreToNonObjectFails(t *testing.T) {
	r := NewRuntime()
	if err := r.StoreNamed(FromSmi(1), Intern("x"), FromSmi(2)); !errors.Is(err, ErrNonObjectReceiver) {
		t.Errorf("expected ErrNonObjectReceiver, got %v", err)
	}
}

func TestWriteBarrierRecordsOldToNewStores(t *testing.T) {
	r := NewRuntime()
	o, recv := newTestObject(r, nil)
	o.Old = true

	young := FromHeapObject(NewHeapNumber(1.5))
	if err := r.StoreNamed(recv, Intern("f"), young); err != nil {
		t.Fatal(err)
	}
	rs := r.Heap.RememberedSet()
	if len(rs) != 1 || rs[0].Object != o || rs[0].Value != young {
		t.Errorf("remembered set = %+v, want one record for the store", rs)
	}

	// Smi stores need no barrier.
	before := len(r.Heap.RememberedSet())
	if err := r.StoreNamed(recv, Intern("n"), FromSmi(1)); err != nil {
		t.Fatal(err)
	}
	if len(r.Heap.RememberedSet()) != before {
		t.Error("smi store must not grow the remembered set")
	}
}

func TestArrayPushPop(t *testing.T) {
	r := NewRuntime()
	arr := NewArray(r.Heap, NewMap(KindArray, Value(0)), 2)

	if l := r.ArrayPush(arr, FromSmi(10)); l.Smi() != 1 {
		t.Errorf("push returned length %v, want 1", l)
	}
	if l := r.ArrayPush(arr, FromSmi(20)); l.Smi() != 2 {
		t.Errorf("push returned length %v, want 2", l)
	}
	if v := r.ArrayPop(arr); v.Smi() != 20 {
		t.Errorf("pop = %v, want 20", v)
	}
	if v := r.ArrayPop(arr); v.Smi() != 10 {
		t.Errorf("pop = %v, want 10", v)
	}
	if v := r.ArrayPop(arr); v != Nil {
		t.Errorf("pop of empty array = %v, want Nil", v)
	}
}

func TestCallNamed(t *testing.T) {
	r := NewRuntime()
	o, recv := newTestObject(r, nil)
	fn := &HeapObject{
		Kind: KindFunction,
		Map:  NewMap(KindFunction, Value(0)),
		Call: func(_ Value, args []Value) (Value, error) {
			return FromSmi(args[0].Smi() + args[1].Smi()), nil
		},
	}
	_ = o
	if err := r.StoreNamed(recv, Intern("add"), FromHeapObject(fn)); err != nil {
		t.Fatal(err)
	}
	v, err := r.CallNamed(recv, Intern("add"), FromSmi(2), FromSmi(3))
	if err != nil {
		t.Fatal(err)
	}
	if v.Smi() != 5 {
		t.Errorf("add(2,3) = %v, want 5", v)
	}
}

func TestStringBuiltins(t *testing.T) {
	r := NewRuntime()
	sm := NewMap(KindString, Nil)
	s := NewString(r.Heap, sm, "abc")

	if v := r.StringCharCodeAt(s, 1); v != FromSmi('b') {
		t.Errorf("charCodeAt(1) = %v, want %d", v, 'b')
	}
	if v := r.StringCharCodeAt(s, 9); !v.IsHeapObject() || !math.IsNaN(v.HeapObject().Number) {
		t.Errorf("charCodeAt out of range = %v, want NaN", v)
	}
	one := r.StringCharAt(s, 0)
	if o := one.HeapObject(); o.Chars != "a" || o.Map != sm {
		t.Errorf("charAt(0) = %v", one)
	}
	if o := r.StringCharAt(s, -1).HeapObject(); o.Chars != "" {
		t.Errorf("charAt(-1) = %q, want empty", o.Chars)
	}
	hi := r.StringFromCharCode(sm, []Value{FromSmi('H'), FromSmi('i')})
	if o := hi.HeapObject(); o.Chars != "Hi" || o.Length != 2 {
		t.Errorf("fromCharCode = %v", hi)
	}

	wide := NewString(r.Heap, sm, "héllo")
	if v := r.StringCharCodeAt(wide, 1); v != FromSmi('é') {
		t.Errorf("charCodeAt on wide string = %v, want %d", v, 'é')
	}
}

func TestStringMethodLookupThroughPrototype(t *testing.T) {
	r := NewRuntime()
	upper := &HeapObject{
		Kind: KindFunction,
		Map:  NewMap(KindFunction, Value(0)),
		Call: func(receiver Value, _ []Value) (Value, error) {
			return FromSmi(int32(len(receiver.HeapObject().Chars))), nil
		},
	}
	pm := NewMap(KindObject, Nil).Transition(Intern("size"))
	proto := NewObject(r.Heap, pm)
	proto.SetFastField(pm.FieldIndex(Intern("size")), FromHeapObject(upper))

	sm := NewMap(KindString, FromHeapObject(proto))
	s := FromHeapObject(NewString(r.Heap, sm, "four"))
	v, err := r.CallNamed(s, Intern("size"))
	if err != nil || v != FromSmi(4) {
		t.Errorf("size() = %v, %v, want 4", v, err)
	}
}
