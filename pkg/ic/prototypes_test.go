package ic

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/embervm/ember/vm"
)

// newShapedObject builds a fast-mode object with the named fields set
// to smi zero, sharing maps through the transition tree.
func newShapedObject(rt *vm.Runtime, proto vm.Value, names ...string) *vm.HeapObject {
	m := vm.NewMap(vm.KindObject, proto)
	for _, s := range names {
		m = m.Transition(vm.Intern(s))
	}
	o := vm.NewObject(rt.Heap, m)
	for _, s := range names {
		o.SetFastField(m.FieldIndex(vm.Intern(s)), vm.FromSmi(0))
	}
	return o
}

func TestChainCheckValidates(t *testing.T) {
	rt := vm.NewRuntime()
	proto := newShapedObject(rt, vm.Nil, "shared")
	recv := newShapedObject(rt, vm.FromHeapObject(proto), "own")

	chain, ok := BuildChainCheck(rt, vm.FromHeapObject(recv), proto, vm.Intern("shared"))
	if !ok {
		t.Fatal("BuildChainCheck failed on a plain chain")
	}
	if !chain.Validate(rt, vm.FromHeapObject(recv)) {
		t.Fatal("fresh chain did not validate")
	}
}

func TestReceiverMapChangeInvalidates(t *testing.T) {
	rt := vm.NewRuntime()
	proto := newShapedObject(rt, vm.Nil, "p")
	recv := newShapedObject(rt, vm.FromHeapObject(proto), "a")

	chain, _ := BuildChainCheck(rt, vm.FromHeapObject(recv), proto, vm.Intern("p"))
	// Adding a property moves the receiver to a new map.
	if err := rt.StoreNamed(vm.FromHeapObject(recv), vm.Intern("b"), vm.FromSmi(1)); err != nil {
		t.Fatal(err)
	}
	if chain.Validate(rt, vm.FromHeapObject(recv)) {
		t.Fatal("chain validated across a receiver map change")
	}
}

func TestPrototypeMapChangeInvalidates(t *testing.T) {
	rt := vm.NewRuntime()
	proto := newShapedObject(rt, vm.Nil, "p")
	recv := newShapedObject(rt, vm.FromHeapObject(proto), "a")

	chain, _ := BuildChainCheck(rt, vm.FromHeapObject(recv), proto, vm.Intern("p"))
	if err := rt.StoreNamed(vm.FromHeapObject(proto), vm.Intern("extra"), vm.FromSmi(1)); err != nil {
		t.Fatal(err)
	}
	if chain.Validate(rt, vm.FromHeapObject(recv)) {
		t.Fatal("chain validated across a prototype map change")
	}
}

func TestDictionaryLinkNeedsConclusiveAbsence(t *testing.T) {
	rt := vm.NewRuntime()
	holder := newShapedObject(rt, vm.Nil, "target")

	middle := vm.NewObject(rt.Heap, vm.NewMap(vm.KindObject, vm.FromHeapObject(holder)))
	middle.NormalizeProperties()
	recv := newShapedObject(rt, vm.FromHeapObject(middle), "own")

	name := vm.Intern("target")
	chain, ok := BuildChainCheck(rt, vm.FromHeapObject(recv), holder, name)
	if !ok {
		t.Fatal("chain over an empty dictionary link should build")
	}
	if !chain.Validate(rt, vm.FromHeapObject(recv)) {
		t.Fatal("fresh dictionary chain did not validate")
	}

	// Shadowing the name on the dictionary link must invalidate.
	middle.Dict.Set(name, vm.FromSmi(7))
	if chain.Validate(rt, vm.FromHeapObject(recv)) {
		t.Fatal("chain validated with the name shadowed on a dictionary link")
	}
}

func TestDictionaryLinkWithNamePresentNotCacheable(t *testing.T) {
	rt := vm.NewRuntime()
	holder := newShapedObject(rt, vm.Nil, "x")

	middle := vm.NewObject(rt.Heap, vm.NewMap(vm.KindObject, vm.FromHeapObject(holder)))
	middle.NormalizeProperties()
	middle.Dict.Set(vm.Intern("x"), vm.FromSmi(1))
	recv := newShapedObject(rt, vm.FromHeapObject(middle), "own")

	if _, ok := BuildChainCheck(rt, vm.FromHeapObject(recv), holder, vm.Intern("x")); ok {
		t.Fatal("chain built past a dictionary link that owns the name")
	}
}

func TestGlobalHoleCellInvalidatesWhenFilled(t *testing.T) {
	rt := vm.NewRuntime()
	holder := newShapedObject(rt, vm.Nil, "g")

	globalMap := vm.NewMap(vm.KindGlobal, vm.FromHeapObject(holder))
	globalMap.DictionaryMode = true
	global := vm.NewObject(rt.Heap, globalMap)
	recv := newShapedObject(rt, vm.FromHeapObject(global), "own")

	name := vm.Intern("g")
	chain, ok := BuildChainCheck(rt, vm.FromHeapObject(recv), holder, name)
	if !ok {
		t.Fatal("chain over a holed global should build")
	}
	if !chain.Validate(rt, vm.FromHeapObject(recv)) {
		t.Fatal("fresh global chain did not validate")
	}

	// Introducing the global property must shadow the holder.
	if err := rt.StoreNamed(vm.FromHeapObject(global), name, vm.FromSmi(3)); err != nil {
		t.Fatal(err)
	}
	if chain.Validate(rt, vm.FromHeapObject(recv)) {
		t.Fatal("chain validated after the global cell was filled")
	}
}

func TestAccessCheckRevocationInvalidates(t *testing.T) {
	rt := vm.NewRuntime()
	holder := newShapedObject(rt, vm.Nil, "f")

	checkedMap := vm.NewMap(vm.KindObject, vm.FromHeapObject(holder))
	checkedMap.AccessCheck = true
	checked := vm.NewObject(rt.Heap, checkedMap)
	recv := vm.FromHeapObject(checked)

	allowed := true
	rt.AccessAllowed = func(o *vm.HeapObject) bool { return allowed }

	chain, ok := BuildChainCheck(rt, recv, holder, vm.Intern("f"))
	if !ok {
		t.Fatal("chain over an access-checked link should build")
	}
	if !chain.Validate(rt, recv) {
		t.Fatal("chain did not validate while access is granted")
	}
	allowed = false
	if chain.Validate(rt, recv) {
		t.Fatal("chain validated after the access grant was revoked")
	}
}

func TestChainEmitProducesCode(t *testing.T) {
	rt := vm.NewRuntime()
	proto := newShapedObject(rt, vm.Nil, "m")
	recv := newShapedObject(rt, vm.FromHeapObject(proto), "own")

	chain, _ := BuildChainCheck(rt, vm.FromHeapObject(recv), proto, vm.Intern("m"))
	c := NewCompiler(icTestRefs(), &StubCache{})
	stub, ok := c.loadFieldStub(rt, vm.FromHeapObject(recv), proto,
		vm.Intern("m"), proto.Map.FieldIndex(vm.Intern("m")))
	if !ok {
		t.Fatal("loadFieldStub failed")
	}
	if stub.Code == nil || len(stub.Code.Code) == 0 {
		t.Fatal("stub carries no machine code")
	}
	if stub.Code.Kind != vm.CodeStub {
		t.Fatalf("stub code kind = %v, want stub", stub.Code.Kind)
	}
	_ = chain
}

// imm64Bytes is the little-endian form a 64-bit immediate takes inside
// emitted code.
func imm64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func TestAccessCheckedStubCallsSameOriginHelper(t *testing.T) {
	rt := vm.NewRuntime()
	recv := newShapedObject(rt, vm.Nil, "f")
	recv.Map.AccessCheck = true

	c := NewCompiler(icTestRefs(), &StubCache{})
	name := vm.Intern("f")
	stub, ok := c.loadFieldStub(rt, vm.FromHeapObject(recv), recv,
		name, recv.Map.FieldIndex(name))
	if !ok {
		t.Fatal("loadFieldStub failed")
	}
	code := stub.Code.Code
	// mov r10, helper (49 ba imm64) materializes the same-origin
	// helper's address for the indirect call.
	helper := append([]byte{0x49, 0xba}, imm64Bytes(uint64(icTestRefs().AccessCheck))...)
	if !bytes.Contains(code, helper) {
		t.Fatalf("stub never calls the same-origin helper: % x", code)
	}
	// The receiver register survives the call (52 / 5a: push/pop rdx).
	if !bytes.Contains(code, []byte{0x52}) || !bytes.Contains(code, []byte{0x5a}) {
		t.Fatalf("stub does not preserve the receiver register: % x", code)
	}
}

func TestNegativeLookupTracksDictionaryGeometry(t *testing.T) {
	rt := vm.NewRuntime()
	holder := newShapedObject(rt, vm.Nil, "deep")
	name := vm.Intern("deep")

	small := vm.NewObject(rt.Heap, vm.NewMap(vm.KindObject, vm.FromHeapObject(holder)))
	small.NormalizeProperties()
	big := vm.NewObject(rt.Heap, vm.NewMap(vm.KindObject, vm.FromHeapObject(holder)))
	big.NormalizeProperties()
	big.Dict = vm.NewStringDictionary(20)

	c := NewCompiler(icTestRefs(), &StubCache{})
	for _, mid := range []*vm.HeapObject{small, big} {
		recv := newShapedObject(rt, vm.FromHeapObject(mid), "own")
		stub, ok := c.loadFieldStub(rt, vm.FromHeapObject(recv), holder,
			name, holder.Map.FieldIndex(name))
		if !ok {
			t.Fatal("loadFieldStub failed over a dictionary link")
		}
		code := stub.Code.Code
		// cmp qword [r11+7], capacity (49 81 7b 07 imm32): the probe
		// offsets were computed against this table size, so the stub
		// must miss when the dictionary grows.
		capacity := uint32(mid.Dict.Capacity())
		guard := []byte{0x49, 0x81, 0x7b, 0x07,
			byte(capacity), byte(capacity >> 8), byte(capacity >> 16), byte(capacity >> 24)}
		if !bytes.Contains(code, guard) {
			t.Errorf("capacity-%d stub carries no table-size guard: % x", capacity, code)
		}
		// mov r10, identity (49 ba imm64): probes compare the stored
		// name word, not a truncated hash.
		id := append([]byte{0x49, 0xba}, imm64Bytes(uint64(name.Identity()))...)
		if !bytes.Contains(code, id) {
			t.Errorf("capacity-%d stub never compares name identity: % x", capacity, code)
		}
	}
}
