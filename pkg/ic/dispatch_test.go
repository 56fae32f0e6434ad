package ic

import (
	"bytes"
	"testing"

	"github.com/embervm/ember/pkg/codegen"
	"github.com/embervm/ember/vm"
)

// icTestRefs provides synthetic handler addresses; the Go-level stub
// forms never dereference them.
func icTestRefs() codegen.ExternalRefs {
	return codegen.ExternalRefs{
		Runtime:        0x1000,
		LoadIC:         0x1100,
		StoreIC:        0x1200,
		KeyedLoadIC:    0x1300,
		CallIC:         0x1400,
		ConstructEntry: 0x1500,
		RecordWrite:    0x1600,
		AccessCheck:    0x1700,
		AllocTop:       0x2000,
		AllocLimit:     0x2008,
		HeapNumberMap:  0x3001,
	}
}

func newTestICs() *ICs {
	return New(vm.NewRuntime(), icTestRefs())
}

func TestLoadFieldCachedAndTracksMutation(t *testing.T) {
	ics := newTestICs()
	o := newShapedObject(ics.Runtime, vm.Nil, "x")
	name := vm.Intern("x")
	recv := vm.FromHeapObject(o)
	o.SetFastField(o.Map.FieldIndex(name), vm.FromSmi(11))

	v, err := ics.LoadNamed(recv, name)
	if err != nil || v != vm.FromSmi(11) {
		t.Fatalf("first load = %v, %v", v, err)
	}
	if st := ics.Cache.Stats(); st.Inserts != 1 {
		t.Fatalf("first load inserted %d stubs, want 1", st.Inserts)
	}

	// The stub reads the live field, not a snapshot.
	o.SetFastField(o.Map.FieldIndex(name), vm.FromSmi(12))
	v, err = ics.LoadNamed(recv, name)
	if err != nil || v != vm.FromSmi(12) {
		t.Fatalf("cached load = %v, %v, want 12", v, err)
	}
	if st := ics.Cache.Stats(); st.Hits == 0 {
		t.Fatal("second load did not hit the cache")
	}
}

func TestLoadDifferentShapeMisses(t *testing.T) {
	ics := newTestICs()
	name := vm.Intern("n")
	a := newShapedObject(ics.Runtime, vm.Nil, "n")
	b := newShapedObject(ics.Runtime, vm.Nil, "other", "n")
	a.SetFastField(a.Map.FieldIndex(name), vm.FromSmi(1))
	b.SetFastField(b.Map.FieldIndex(name), vm.FromSmi(2))

	if v, _ := ics.LoadNamed(vm.FromHeapObject(a), name); v != vm.FromSmi(1) {
		t.Fatalf("load a = %v", v)
	}
	// Different map: the stub for a must not serve b.
	if v, _ := ics.LoadNamed(vm.FromHeapObject(b), name); v != vm.FromSmi(2) {
		t.Fatalf("load b = %v", v)
	}
	if v, _ := ics.LoadNamed(vm.FromHeapObject(a), name); v != vm.FromSmi(1) {
		t.Fatalf("reload a = %v", v)
	}
}

func TestLoadThroughPrototype(t *testing.T) {
	ics := newTestICs()
	name := vm.Intern("shared")
	proto := newShapedObject(ics.Runtime, vm.Nil, "shared")
	proto.SetFastField(proto.Map.FieldIndex(name), vm.FromSmi(99))
	recv := newShapedObject(ics.Runtime, vm.FromHeapObject(proto), "own")

	for i := 0; i < 3; i++ {
		if v, err := ics.LoadNamed(vm.FromHeapObject(recv), name); err != nil || v != vm.FromSmi(99) {
			t.Fatalf("load %d = %v, %v", i, v, err)
		}
	}

	// Shadowing on the receiver must invalidate the holder stub.
	if err := ics.StoreNamed(vm.FromHeapObject(recv), name, vm.FromSmi(5)); err != nil {
		t.Fatal(err)
	}
	if v, _ := ics.LoadNamed(vm.FromHeapObject(recv), name); v != vm.FromSmi(5) {
		t.Fatalf("load after shadowing = %v, want 5", v)
	}
}

func TestStoreFieldCached(t *testing.T) {
	ics := newTestICs()
	name := vm.Intern("f")
	o := newShapedObject(ics.Runtime, vm.Nil, "f")
	recv := vm.FromHeapObject(o)

	if err := ics.StoreNamed(recv, name, vm.FromSmi(1)); err != nil {
		t.Fatal(err)
	}
	if err := ics.StoreNamed(recv, name, vm.FromSmi(2)); err != nil {
		t.Fatal(err)
	}
	if o.FastField(o.Map.FieldIndex(name)) != vm.FromSmi(2) {
		t.Fatal("stored value not visible")
	}
	if st := ics.Cache.Stats(); st.Hits == 0 {
		t.Fatal("second store did not hit the cache")
	}
}

func TestStoreTransitionSharesMaps(t *testing.T) {
	ics := newTestICs()
	name := vm.Intern("added")
	base := vm.NewMap(vm.KindObject, vm.Nil)
	a := vm.NewObject(ics.Runtime.Heap, base)
	b := vm.NewObject(ics.Runtime.Heap, base)

	if err := ics.StoreNamed(vm.FromHeapObject(a), name, vm.FromSmi(1)); err != nil {
		t.Fatal(err)
	}
	if err := ics.StoreNamed(vm.FromHeapObject(b), name, vm.FromSmi(2)); err != nil {
		t.Fatal(err)
	}
	if a.Map != b.Map {
		t.Fatal("transition did not share the target map")
	}
	if a.FastField(a.Map.FieldIndex(name)) != vm.FromSmi(1) ||
		b.FastField(b.Map.FieldIndex(name)) != vm.FromSmi(2) {
		t.Fatal("transition store lost a value")
	}
}

func TestGlobalLoadThroughCell(t *testing.T) {
	ics := newTestICs()
	rt := ics.Runtime
	name := vm.Intern("counter")
	gm := vm.NewMap(vm.KindGlobal, vm.Nil)
	gm.DictionaryMode = true
	global := vm.NewObject(rt.Heap, gm)
	recv := vm.FromHeapObject(global)

	if err := rt.StoreNamed(recv, name, vm.FromSmi(1)); err != nil {
		t.Fatal(err)
	}
	if v, _ := ics.LoadNamed(recv, name); v != vm.FromSmi(1) {
		t.Fatalf("first global load = %v", v)
	}

	// A store through the cell is visible to the cached load without
	// recompilation.
	if err := rt.StoreNamed(recv, name, vm.FromSmi(2)); err != nil {
		t.Fatal(err)
	}
	if v, _ := ics.LoadNamed(recv, name); v != vm.FromSmi(2) {
		t.Fatalf("cached global load = %v, want 2", v)
	}
}

func TestAccessorInvokedEveryLoad(t *testing.T) {
	ics := newTestICs()
	name := vm.Intern("computed")
	calls := 0
	m := vm.NewMap(vm.KindObject, vm.Nil)
	m.Accessors = map[*vm.Name]*vm.Accessor{
		name: {Getter: func(receiver vm.Value) (vm.Value, error) {
			calls++
			return vm.FromSmi(int32(calls)), nil
		}},
	}
	recv := vm.FromHeapObject(vm.NewObject(ics.Runtime.Heap, m))

	for want := int32(1); want <= 3; want++ {
		if v, err := ics.LoadNamed(recv, name); err != nil || v != vm.FromSmi(want) {
			t.Fatalf("accessor load = %v, %v, want %d", v, err, want)
		}
	}
	if calls != 3 {
		t.Fatalf("getter ran %d times, want 3", calls)
	}
}

func TestInterceptorDeclineContinuesLookup(t *testing.T) {
	ics := newTestICs()
	name := vm.Intern("maybe")
	proto := newShapedObject(ics.Runtime, vm.Nil, "maybe")
	proto.SetFastField(proto.Map.FieldIndex(name), vm.FromSmi(42))

	o := vm.NewObject(ics.Runtime.Heap, vm.NewMap(vm.KindObject, vm.FromHeapObject(proto)))
	intercepted := false
	o.Interceptor = &vm.NamedInterceptor{
		Getter: func(obj *vm.HeapObject, n *vm.Name) (vm.Value, bool) {
			if intercepted {
				return vm.FromSmi(7), true
			}
			return vm.Nil, false
		},
	}
	recv := vm.FromHeapObject(o)

	if v, _ := ics.LoadNamed(recv, name); v != vm.FromSmi(42) {
		t.Fatalf("declined interceptor load = %v, want prototype value", v)
	}
	intercepted = true
	if v, _ := ics.LoadNamed(recv, name); v != vm.FromSmi(7) {
		t.Fatalf("intercepting load = %v, want 7", v)
	}
}

// arrayWithPush builds a fast array whose prototype carries push and
// pop as function properties backed by the generic built-ins.
func arrayWithPush(rt *vm.Runtime, capacity int) (*vm.HeapObject, vm.Value) {
	pushFn := &vm.HeapObject{
		Kind:    vm.KindFunction,
		Map:     vm.NewMap(vm.KindFunction, vm.Nil),
		Builtin: vm.BuiltinArrayPush,
		Call: func(receiver vm.Value, args []vm.Value) (vm.Value, error) {
			return rt.ArrayPush(receiver.HeapObject(), args[0]), nil
		},
	}
	popFn := &vm.HeapObject{
		Kind:    vm.KindFunction,
		Map:     vm.NewMap(vm.KindFunction, vm.Nil),
		Builtin: vm.BuiltinArrayPop,
		Call: func(receiver vm.Value, args []vm.Value) (vm.Value, error) {
			return rt.ArrayPop(receiver.HeapObject()), nil
		},
	}
	pm := vm.NewMap(vm.KindObject, vm.Nil)
	pm = pm.Transition(vm.Intern("push"))
	pm = pm.Transition(vm.Intern("pop"))
	proto := vm.NewObject(rt.Heap, pm)
	proto.SetFastField(pm.FieldIndex(vm.Intern("push")), vm.FromHeapObject(pushFn))
	proto.SetFastField(pm.FieldIndex(vm.Intern("pop")), vm.FromHeapObject(popFn))

	am := vm.NewMap(vm.KindArray, vm.FromHeapObject(proto))
	arr := vm.NewArray(rt.Heap, am, capacity)
	return arr, vm.FromHeapObject(arr)
}

func TestArrayPushFastPathAndGrowthFallback(t *testing.T) {
	ics := newTestICs()
	arr, recv := arrayWithPush(ics.Runtime, 4)

	// Pushes past the backing capacity must fall back and still
	// behave like the generic built-in.
	for i := int32(1); i <= 8; i++ {
		v, err := ics.CallNamed(recv, vm.Intern("push"), vm.FromSmi(i*10))
		if err != nil {
			t.Fatal(err)
		}
		if v != vm.FromSmi(i) {
			t.Fatalf("push %d returned %v, want new length %d", i, v, i)
		}
	}
	if arr.Length != 8 {
		t.Fatalf("final length = %d, want 8", arr.Length)
	}
	for i := int32(0); i < 8; i++ {
		if arr.Elements[i] != vm.FromSmi((i+1)*10) {
			t.Fatalf("element %d = %v", i, arr.Elements[i])
		}
	}
}

func TestArrayPopFastPathAndEmpty(t *testing.T) {
	ics := newTestICs()
	arr, recv := arrayWithPush(ics.Runtime, 4)
	ics.Runtime.ArrayPush(arr, vm.FromSmi(1))
	ics.Runtime.ArrayPush(arr, vm.FromSmi(2))

	if v, err := ics.CallNamed(recv, vm.Intern("pop")); err != nil || v != vm.FromSmi(2) {
		t.Fatalf("pop = %v, %v", v, err)
	}
	if v, err := ics.CallNamed(recv, vm.Intern("pop")); err != nil || v != vm.FromSmi(1) {
		t.Fatalf("pop = %v, %v", v, err)
	}
	// Empty: the fast path declines, the generic built-in yields nil.
	if v, err := ics.CallNamed(recv, vm.Intern("pop")); err != nil || v != vm.Nil {
		t.Fatalf("pop of empty = %v, %v, want nil", v, err)
	}
}

func TestCallConstantMethod(t *testing.T) {
	ics := newTestICs()
	name := vm.Intern("double")
	fn := &vm.HeapObject{
		Kind: vm.KindFunction,
		Map:  vm.NewMap(vm.KindFunction, vm.Nil),
		Call: func(receiver vm.Value, args []vm.Value) (vm.Value, error) {
			return vm.FromSmi(args[0].Smi() * 2), nil
		},
	}
	o := newShapedObject(ics.Runtime, vm.Nil, "double")
	o.SetFastField(o.Map.FieldIndex(name), vm.FromHeapObject(fn))
	recv := vm.FromHeapObject(o)

	for i := 0; i < 2; i++ {
		if v, err := ics.CallNamed(recv, name, vm.FromSmi(21)); err != nil || v != vm.FromSmi(42) {
			t.Fatalf("call %d = %v, %v", i, v, err)
		}
	}
	if st := ics.Cache.Stats(); st.Hits == 0 {
		t.Fatal("second call did not hit the cache")
	}

	// Replacing the method must invalidate the constant-target stub.
	other := &vm.HeapObject{
		Kind: vm.KindFunction,
		Map:  vm.NewMap(vm.KindFunction, vm.Nil),
		Call: func(receiver vm.Value, args []vm.Value) (vm.Value, error) {
			return vm.FromSmi(args[0].Smi() * 3), nil
		},
	}
	o.SetFastField(o.Map.FieldIndex(name), vm.FromHeapObject(other))
	if v, err := ics.CallNamed(recv, name, vm.FromSmi(10)); err != nil || v != vm.FromSmi(30) {
		t.Fatalf("call after method replacement = %v, %v, want 30", v, err)
	}
}

func TestConstructStub(t *testing.T) {
	ics := newTestICs()
	im := vm.NewMap(vm.KindObject, vm.Nil)
	im.InObjectCount = 2
	im.Fields = []vm.FieldDescriptor{
		{Name: vm.Intern("tag"), Index: 0},
		{Name: vm.Intern("value"), Index: 1},
	}
	fn := &vm.HeapObject{
		Kind: vm.KindFunction,
		Map:  vm.NewMap(vm.KindFunction, vm.Nil),
		Construct: &vm.ConstructDescriptor{
			InitialMap:   im,
			Initializers: []vm.Value{vm.FromSmi(7), vm.Value(0)},
			ArgIndex:     []int{0, 0},
			Simple:       true,
		},
	}

	for i := 0; i < 2; i++ {
		v, err := ics.Construct(fn, vm.Intern("Point"), vm.FromSmi(int32(i)))
		if err != nil {
			t.Fatal(err)
		}
		o := v.HeapObject()
		if o.Map != im {
			t.Fatalf("constructed object has map %v, want the initial map", o.Map)
		}
		if o.FastField(0) != vm.FromSmi(7) {
			t.Fatalf("constant slot = %v, want 7", o.FastField(0))
		}
		if o.FastField(1) != vm.FromSmi(int32(i)) {
			t.Fatalf("argument slot = %v, want %d", o.FastField(1), i)
		}
	}
	if st := ics.Cache.Stats(); st.Inserts != 1 {
		t.Fatalf("construct inserted %d stubs, want 1", st.Inserts)
	}

	// Flipping off Simple must disable the stub.
	fn.Construct.Simple = false
	v, err := ics.Construct(fn, vm.Intern("Point"), vm.FromSmi(9))
	if err != nil {
		t.Fatal(err)
	}
	if v.HeapObject().FastField(1) != vm.FromSmi(9) {
		t.Fatal("generic construct lost the argument")
	}
}

func TestConstructStubMachineCodeReadsMappedArguments(t *testing.T) {
	im := vm.NewMap(vm.KindObject, vm.Nil)
	im.InObjectCount = 2
	im.Fields = []vm.FieldDescriptor{
		{Name: vm.Intern("tag"), Index: 0},
		{Name: vm.Intern("value"), Index: 1},
	}
	fn := &vm.HeapObject{
		Kind: vm.KindFunction,
		Map:  vm.NewMap(vm.KindFunction, vm.Nil),
		Construct: &vm.ConstructDescriptor{
			InitialMap:   im,
			Initializers: []vm.Value{vm.FromSmi(7), vm.Value(0)},
			ArgIndex:     []int{0, 0},
			Simple:       true,
		},
	}

	c := NewCompiler(icTestRefs(), &StubCache{})
	stub, ok := c.CompileConstruct(vm.NewRuntime(), fn, vm.Intern("Point"))
	if !ok {
		t.Fatal("CompileConstruct failed")
	}
	code := stub.Code.Code
	// mov r11, [rsp+8] (4c 8b 5c 24 08): the parameter-mapped slot
	// reads argument 0 from above the return address instead of
	// unconditionally storing nil.
	if !bytes.Contains(code, []byte{0x4c, 0x8b, 0x5c, 0x24, 0x08}) {
		t.Fatalf("stub never reads the mapped argument: % x", code)
	}
	// mov rax, rsi (48 89 f0): the miss path restores the argument
	// count for the generic constructor.
	if !bytes.Contains(code, []byte{0x48, 0x89, 0xf0}) {
		t.Fatalf("miss path drops the argument count: % x", code)
	}
}

func TestConstructNonConstructable(t *testing.T) {
	ics := newTestICs()
	fn := &vm.HeapObject{Kind: vm.KindFunction, Map: vm.NewMap(vm.KindFunction, vm.Nil)}
	if _, err := ics.Construct(fn, vm.Intern("Broken")); err != ErrNotConstructable {
		t.Fatalf("err = %v, want ErrNotConstructable", err)
	}
}

func TestLoadKeyedArray(t *testing.T) {
	ics := newTestICs()
	arr, recv := arrayWithPush(ics.Runtime, 4)
	ics.Runtime.ArrayPush(arr, vm.FromSmi(5))

	if v, err := ics.LoadKeyed(recv, 0); err != nil || v != vm.FromSmi(5) {
		t.Fatalf("keyed load = %v, %v", v, err)
	}
	if v, err := ics.LoadKeyed(recv, 3); err != nil || v != vm.Nil {
		t.Fatalf("out-of-bounds keyed load = %v, %v, want nil", v, err)
	}
	if v, err := ics.LoadKeyed(recv, -1); err != nil || v != vm.Nil {
		t.Fatalf("negative keyed load = %v, %v, want nil", v, err)
	}
}

// TestDisabledCacheIsObservationallyEquivalent runs the same operation
// sequence through a caching and a non-caching dispatcher and demands
// identical observable results.
func TestDisabledCacheIsObservationallyEquivalent(t *testing.T) {
	run := func(disabled bool) []vm.Value {
		ics := newTestICs()
		ics.Disabled = disabled
		rt := ics.Runtime

		var out []vm.Value
		name := vm.Intern("v")
		o := newShapedObject(rt, vm.Nil, "v")
		recv := vm.FromHeapObject(o)

		for i := int32(0); i < 4; i++ {
			if err := ics.StoreNamed(recv, name, vm.FromSmi(i)); err != nil {
				t.Fatal(err)
			}
			v, err := ics.LoadNamed(recv, name)
			if err != nil {
				t.Fatal(err)
			}
			out = append(out, v)
		}

		arr, arecv := arrayWithPush(rt, 2)
		for i := int32(0); i < 4; i++ {
			v, err := ics.CallNamed(arecv, vm.Intern("push"), vm.FromSmi(i))
			if err != nil {
				t.Fatal(err)
			}
			out = append(out, v)
		}
		for i := 0; i < 5; i++ {
			v, err := ics.CallNamed(arecv, vm.Intern("pop"))
			if err != nil {
				t.Fatal(err)
			}
			out = append(out, v)
		}
		_ = arr
		return out
	}

	cached := run(false)
	generic := run(true)
	if len(cached) != len(generic) {
		t.Fatalf("result counts differ: %d vs %d", len(cached), len(generic))
	}
	for i := range cached {
		if cached[i] != generic[i] {
			t.Fatalf("result %d differs: cached %v, generic %v", i, cached[i], generic[i])
		}
	}
	if s := run(true); len(s) == 0 {
		t.Fatal("empty run")
	}
}

func TestClearCostsOnlyRecompilation(t *testing.T) {
	ics := newTestICs()
	name := vm.Intern("x")
	o := newShapedObject(ics.Runtime, vm.Nil, "x")
	o.SetFastField(o.Map.FieldIndex(name), vm.FromSmi(3))
	recv := vm.FromHeapObject(o)

	if v, _ := ics.LoadNamed(recv, name); v != vm.FromSmi(3) {
		t.Fatal("load before clear")
	}
	ics.Cache.Clear()
	if v, _ := ics.LoadNamed(recv, name); v != vm.FromSmi(3) {
		t.Fatal("load after clear changed behavior")
	}
	if st := ics.Cache.Stats(); st.Inserts < 2 {
		t.Fatalf("expected recompilation after clear, inserts = %d", st.Inserts)
	}
}

func TestCompileEntryProducesProbeCode(t *testing.T) {
	c := NewCompiler(icTestRefs(), &StubCache{})
	for _, k := range []Kind{KindLoad, KindStore, KindCall} {
		co := c.CompileEntry(k, 0x100000, 0x200000)
		if len(co.Code) == 0 {
			t.Fatalf("%v probe stub is empty", k)
		}
		if KindOf(co.Flags) != k {
			t.Fatalf("%v probe stub flags = %#x", k, co.Flags)
		}
	}
}
