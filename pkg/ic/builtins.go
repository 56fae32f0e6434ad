package ic

import (
	"math"

	"github.com/embervm/ember/pkg/asm"
	"github.com/embervm/ember/pkg/codegen"
	"github.com/embervm/ember/vm"
)

// String and math built-in stubs. The inlined machine paths cover only
// the one-byte string subset and smi arithmetic; everything else
// misses into the generic built-in, which is the semantic ground
// truth.

// oneByte reports whether every code unit of s is a single byte, so
// byte indexing and code-unit indexing coincide.
func oneByte(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// emitStringIndexCheck loads the smi index argument untagged into
// cmpTmp and misses on non-smi or out-of-range values. The unsigned
// compare folds the negative case into the range check.
func emitStringIndexCheck(m *asm.Assembler, miss *asm.Label) {
	m.MovRegReg(cmpTmp, asm.ICValueReg)
	m.TestRegImm8(cmpTmp, 1)
	m.Jcc(asm.NotEqual, miss)
	m.SarRegImm(cmpTmp, 1)
	m.CmpRegMem(cmpTmp, asm.MemBase(asm.ICReceiverReg, codegen.StringLengthOffset-1))
	m.Jcc(asm.AboveEqual, miss)
}

// stringCharCodeAtStub inlines charCodeAt on a one-byte string with an
// in-range smi index: load the byte, tag it, done.
func (c *Compiler) stringCharCodeAtStub(rt *vm.Runtime, receiver vm.Value, holder *vm.HeapObject, name *vm.Name) (*Stub, bool) {
	chain, ok := BuildChainCheck(rt, receiver, holder, name)
	if !ok {
		return nil, false
	}
	m := asm.New()
	miss := &asm.Label{}
	chain.emit(m, miss, c.Refs)
	emitStringIndexCheck(m, miss)
	m.MovRegMem(mapTmp, asm.MemBase(asm.ICReceiverReg, codegen.StringCharsOffset-1))
	m.MovzxbRegMem(asm.ReturnReg, asm.MemIndex(mapTmp, cmpTmp, 1, 0))
	// A lead byte of a wider code unit cannot be answered here.
	m.TestRegImm8(asm.ReturnReg, 0x80)
	m.Jcc(asm.NotEqual, miss)
	m.ShlRegImm(asm.ReturnReg, 1)
	m.Ret()
	c.missTo(m, miss, c.Refs.Runtime)

	s := c.newStub(KindCall, name, receiver.HeapObject().Map.ID, finishStub(m, "string-char-code-at"))
	s.Guard = chain.Validate
	s.Call = func(rt *vm.Runtime, receiver vm.Value, args []vm.Value) (vm.Value, bool, error) {
		if len(args) != 1 || !args[0].IsSmi() {
			return vm.Nil, false, nil
		}
		str := receiver.HeapObject()
		i := args[0].Smi()
		if i < 0 || int(i) >= len(str.Chars) || !oneByte(str.Chars) {
			return vm.Nil, false, nil
		}
		return vm.FromSmi(int32(str.Chars[i])), true, nil
	}
	return s, true
}

// stringCharAtStub validates the receiver and index, then leaves the
// one-rune allocation to the trampoline; the string body is immutable
// so only the shape needs revalidation.
func (c *Compiler) stringCharAtStub(rt *vm.Runtime, receiver vm.Value, holder *vm.HeapObject, name *vm.Name) (*Stub, bool) {
	chain, ok := BuildChainCheck(rt, receiver, holder, name)
	if !ok {
		return nil, false
	}
	m := asm.New()
	miss := &asm.Label{}
	chain.emit(m, miss, c.Refs)
	emitStringIndexCheck(m, miss)
	m.MovRegImm64(asm.ScratchReg, c.Refs.CallIC)
	m.JmpReg(asm.ScratchReg)
	c.missTo(m, miss, c.Refs.Runtime)

	s := c.newStub(KindCall, name, receiver.HeapObject().Map.ID, finishStub(m, "string-char-at"))
	s.Guard = chain.Validate
	s.Call = func(rt *vm.Runtime, receiver vm.Value, args []vm.Value) (vm.Value, bool, error) {
		if len(args) != 1 || !args[0].IsSmi() {
			return vm.Nil, false, nil
		}
		str := receiver.HeapObject()
		i := args[0].Smi()
		if i < 0 || int(i) >= len(str.Chars) || !oneByte(str.Chars) {
			return vm.Nil, false, nil
		}
		one := vm.NewString(rt.Heap, str.Map, str.Chars[i:i+1])
		return vm.FromHeapObject(one), true, nil
	}
	return s, true
}

// fromCharCodeStub caches String.fromCharCode: the constructor's
// initial map supplies the shape of the result. Only cacheable when
// the function carries a string-typed construct descriptor.
func (c *Compiler) fromCharCodeStub(rt *vm.Runtime, receiver vm.Value, holder *vm.HeapObject, name *vm.Name, fn *vm.HeapObject) (*Stub, bool) {
	desc := fn.Construct
	if desc == nil || desc.InitialMap == nil || desc.InitialMap.InstanceType != vm.KindString {
		return nil, false
	}
	resultMap := desc.InitialMap
	chain, ok := BuildChainCheck(rt, receiver, holder, name)
	if !ok {
		return nil, false
	}
	idx := holder.Map.FieldIndex(name)
	if idx < 0 {
		return nil, false
	}
	m := asm.New()
	miss := &asm.Label{}
	chain.emit(m, miss, c.Refs)
	c.emitFieldLoad(m, holder, idx)
	m.MovRegImm64(cmpTmp, int64(vm.FromHeapObject(fn).Bits()))
	m.CmpRegReg(asm.ReturnReg, cmpTmp)
	m.Jcc(asm.NotEqual, miss)
	m.MovRegImm64(asm.ScratchReg, c.Refs.CallIC)
	m.JmpReg(asm.ScratchReg)
	c.missTo(m, miss, c.Refs.Runtime)

	s := c.newStub(KindCall, name, receiver.HeapObject().Map.ID, finishStub(m, "string-from-char-code"))
	s.Guard = func(rt *vm.Runtime, receiver vm.Value) bool {
		if !chain.Validate(rt, receiver) {
			return false
		}
		cur := chain.HolderFor(receiver).FastField(idx)
		return cur.IsHeapObject() && cur.HeapObject() == fn
	}
	s.Call = func(rt *vm.Runtime, receiver vm.Value, args []vm.Value) (vm.Value, bool, error) {
		for _, a := range args {
			if !a.IsSmi() || a.Smi() < 0 || a.Smi() > 0x7f {
				return vm.Nil, false, nil
			}
		}
		return rt.StringFromCharCode(resultMap, args), true, nil
	}
	return s, true
}

// mathUnaryStub inlines floor and abs for smi arguments: floor of an
// integer is itself, abs negates with an overflow miss for the one
// unrepresentable value. Heap-number arguments take the generic path.
func (c *Compiler) mathUnaryStub(rt *vm.Runtime, receiver vm.Value, holder *vm.HeapObject, name *vm.Name, fn *vm.HeapObject) (*Stub, bool) {
	abs := fn.Builtin == vm.BuiltinMathAbs
	chain, ok := BuildChainCheck(rt, receiver, holder, name)
	if !ok {
		return nil, false
	}
	idx := holder.Map.FieldIndex(name)
	if idx < 0 {
		return nil, false
	}
	m := asm.New()
	miss := &asm.Label{}
	chain.emit(m, miss, c.Refs)
	c.emitFieldLoad(m, holder, idx)
	m.MovRegImm64(cmpTmp, int64(vm.FromHeapObject(fn).Bits()))
	m.CmpRegReg(asm.ReturnReg, cmpTmp)
	m.Jcc(asm.NotEqual, miss)
	m.MovRegReg(asm.ReturnReg, asm.ICValueReg)
	m.TestRegImm8(asm.ReturnReg, 1)
	m.Jcc(asm.NotEqual, miss)
	if abs {
		done := &asm.Label{}
		m.TestlRegReg(asm.ReturnReg, asm.ReturnReg)
		m.Jcc(asm.NotSign, done)
		m.NeglReg(asm.ReturnReg)
		m.Jcc(asm.Overflow, miss)
		m.Movsxd(asm.ReturnReg, asm.ReturnReg)
		m.Bind(done)
	}
	m.Ret()
	c.missTo(m, miss, c.Refs.Runtime)

	label := "math-floor"
	if abs {
		label = "math-abs"
	}
	s := c.newStub(KindCall, name, receiver.HeapObject().Map.ID, finishStub(m, label))
	s.Guard = func(rt *vm.Runtime, receiver vm.Value) bool {
		if !chain.Validate(rt, receiver) {
			return false
		}
		cur := chain.HolderFor(receiver).FastField(idx)
		return cur.IsHeapObject() && cur.HeapObject() == fn
	}
	s.Call = func(rt *vm.Runtime, receiver vm.Value, args []vm.Value) (vm.Value, bool, error) {
		if len(args) != 1 || !args[0].IsNumber() {
			return vm.Nil, false, nil
		}
		x := args[0].NumberValue()
		if abs {
			x = math.Abs(x)
		} else {
			x = math.Floor(x)
		}
		return vm.NewNumber(x), true, nil
	}
	return s, true
}
