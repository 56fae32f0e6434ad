package ic

import (
	"github.com/embervm/ember/pkg/asm"
	"github.com/embervm/ember/pkg/codegen"
	"github.com/embervm/ember/vm"
)

// findCallable walks the chain looking for a plain function-valued
// property. Holders with interceptors or accessors in the way are not
// worth a call stub.
func findCallable(receiver vm.Value, name *vm.Name) (fn, holder *vm.HeapObject, ok bool) {
	cur := receiver
	for {
		o, isObj := receiverObject(cur)
		if !isObj {
			return nil, nil, false
		}
		if o.Interceptor != nil || o.Map.Accessors[name] != nil {
			return nil, nil, false
		}
		if o.Map.DictionaryMode || o.Dict != nil {
			if o.Dict != nil {
				if v, present := o.Dict.Get(name); present {
					if o.Kind != vm.KindGlobal {
						return nil, nil, false
					}
					if v.IsHeapObject() && v.HeapObject().Kind == vm.KindPropertyCell {
						fv := v.HeapObject().CellValue
						if fv.IsHeapObject() && fv.HeapObject().Kind == vm.KindFunction {
							return fv.HeapObject(), o, true
						}
						return nil, nil, false
					}
				}
			}
			cur = o.Map.Prototype
			continue
		}
		if idx := o.Map.FieldIndex(name); idx >= 0 {
			v := o.FastField(idx)
			if v.IsHeapObject() && v.HeapObject().Kind == vm.KindFunction {
				return v.HeapObject(), o, true
			}
			return nil, nil, false
		}
		cur = o.Map.Prototype
	}
}

// CompileCall builds a call stub for one observed monomorphic call
// site: a recognized built-in gets an inlined fast path, anything else
// a constant-function stub that revalidates the chain and the function
// identity before a direct invoke.
func (c *Compiler) CompileCall(rt *vm.Runtime, receiver vm.Value, name *vm.Name) (*Stub, bool) {
	fn, holder, ok := findCallable(receiver, name)
	if !ok || fn.Call == nil {
		return nil, false
	}
	o, isObj := receiverObject(receiver)
	switch fn.Builtin {
	case vm.BuiltinArrayPush:
		if isObj && o.Kind == vm.KindArray {
			return c.arrayPushStub(rt, receiver, holder, name)
		}
	case vm.BuiltinArrayPop:
		if isObj && o.Kind == vm.KindArray {
			return c.arrayPopStub(rt, receiver, holder, name)
		}
	case vm.BuiltinStringCharAt:
		if isObj && o.Kind == vm.KindString {
			return c.stringCharAtStub(rt, receiver, holder, name)
		}
	case vm.BuiltinStringCharCodeAt:
		if isObj && o.Kind == vm.KindString {
			return c.stringCharCodeAtStub(rt, receiver, holder, name)
		}
	case vm.BuiltinStringFromCharCode:
		if s, ok := c.fromCharCodeStub(rt, receiver, holder, name, fn); ok {
			return s, true
		}
	case vm.BuiltinMathFloor, vm.BuiltinMathAbs:
		if s, ok := c.mathUnaryStub(rt, receiver, holder, name, fn); ok {
			return s, true
		}
	}
	return c.callConstantStub(rt, receiver, holder, name, fn)
}

func (c *Compiler) callConstantStub(rt *vm.Runtime, receiver vm.Value, holder *vm.HeapObject, name *vm.Name, fn *vm.HeapObject) (*Stub, bool) {
	chain, ok := BuildChainCheck(rt, receiver, holder, name)
	if !ok {
		return nil, false
	}
	idx := holder.Map.FieldIndex(name)
	m := asm.New()
	miss := &asm.Label{}
	chain.emit(m, miss, c.Refs)
	// The cached target must still be the holder's current value.
	if idx >= 0 {
		c.emitFieldLoad(m, holder, idx)
	} else {
		cell := rt.GlobalCell(holder, name)
		m.MovRegImm64(asm.ScratchReg, int64(vm.FromHeapObject(cell).Bits()))
		m.MovRegMem(asm.ReturnReg,
			asm.MemBase(asm.ScratchReg, codegen.PropertyCellValueOffset-1))
	}
	m.MovRegImm64(cmpTmp, int64(vm.FromHeapObject(fn).Bits()))
	m.CmpRegReg(asm.ReturnReg, cmpTmp)
	m.Jcc(asm.NotEqual, miss)
	// Targets have no directly addressable entry here; the invoke goes
	// through the runtime call trampoline with the target validated.
	m.MovRegImm64(asm.ScratchReg, c.Refs.CallIC)
	m.JmpReg(asm.ScratchReg)
	c.missTo(m, miss, c.Refs.Runtime)

	s := c.newStub(KindCall, name, receiver.HeapObject().Map.ID, finishStub(m, "call-constant:"+name.Str))
	s.Guard = func(rt *vm.Runtime, receiver vm.Value) bool {
		if !chain.Validate(rt, receiver) {
			return false
		}
		h := chain.HolderFor(receiver)
		var cur vm.Value
		if idx >= 0 {
			cur = h.FastField(idx)
		} else {
			cur = rt.GlobalCell(h, name).CellValue
		}
		return cur.IsHeapObject() && cur.HeapObject() == fn
	}
	s.Call = func(rt *vm.Runtime, receiver vm.Value, args []vm.Value) (vm.Value, bool, error) {
		v, err := fn.Call(receiver, args)
		return v, true, err
	}
	return s, true
}

// arrayPushStub inlines push onto a fast array with spare backing
// capacity. Growth, extra arguments and anything else falls back to
// the generic built-in.
func (c *Compiler) arrayPushStub(rt *vm.Runtime, receiver vm.Value, holder *vm.HeapObject, name *vm.Name) (*Stub, bool) {
	chain, ok := BuildChainCheck(rt, receiver, holder, name)
	if !ok {
		return nil, false
	}
	m := asm.New()
	miss := &asm.Label{}
	chain.emit(m, miss, c.Refs)
	// walkReg holds the holder after the chain walk; the element
	// operations go against the receiver.
	m.MovRegMem(mapTmp, asm.MemBase(asm.ICReceiverReg, codegen.ElementsOffset-1))
	m.MovRegMem(cmpTmp, asm.MemBase(asm.ICReceiverReg, codegen.ArrayLengthOffset-1))
	m.CmpRegMem(cmpTmp, asm.MemBase(mapTmp, codegen.FixedArrayLengthOffset))
	m.Jcc(asm.GreaterEqual, miss) // backing store full
	m.MovMemReg(asm.MemIndex(mapTmp, cmpTmp, codegen.WordSize, codegen.FixedArrayDataOffset),
		asm.ICValueReg)
	m.AddRegImm(cmpTmp, 1)
	m.MovMemReg(asm.MemBase(asm.ICReceiverReg, codegen.ArrayLengthOffset-1), cmpTmp)
	skipBarrier := &asm.Label{}
	m.TestRegImm8(asm.ICValueReg, 1)
	m.Jcc(asm.Equal, skipBarrier)
	m.PushReg(asm.ICReceiverReg)
	m.PushReg(asm.ICValueReg)
	m.CallAddr(c.Refs.RecordWrite)
	m.AddRegImm(asm.StackPointer, 2*codegen.WordSize)
	m.Bind(skipBarrier)
	// Result: the new length as a smi.
	m.MovRegReg(asm.ReturnReg, cmpTmp)
	m.ShlRegImm(asm.ReturnReg, 1)
	m.Ret()
	c.missTo(m, miss, c.Refs.Runtime)

	s := c.newStub(KindCall, name, receiver.HeapObject().Map.ID, finishStub(m, "array-push"))
	s.Guard = chain.Validate
	s.Call = func(rt *vm.Runtime, receiver vm.Value, args []vm.Value) (vm.Value, bool, error) {
		if len(args) != 1 {
			return vm.Nil, false, nil
		}
		arr := receiver.HeapObject()
		if len(arr.Elements) >= cap(arr.Elements) {
			return vm.Nil, false, nil // needs growth: generic path
		}
		arr.Elements = append(arr.Elements, args[0])
		arr.Length = int32(len(arr.Elements))
		rt.Heap.WriteBarrier(arr, args[0])
		return vm.FromSmi(arr.Length), true, nil
	}
	return s, true
}

// arrayPopStub inlines pop from a non-empty fast array.
func (c *Compiler) arrayPopStub(rt *vm.Runtime, receiver vm.Value, holder *vm.HeapObject, name *vm.Name) (*Stub, bool) {
	chain, ok := BuildChainCheck(rt, receiver, holder, name)
	if !ok {
		return nil, false
	}
	m := asm.New()
	miss := &asm.Label{}
	chain.emit(m, miss, c.Refs)
	m.MovRegMem(cmpTmp, asm.MemBase(asm.ICReceiverReg, codegen.ArrayLengthOffset-1))
	m.TestRegReg(cmpTmp, cmpTmp)
	m.Jcc(asm.Equal, miss) // empty: generic path returns the nil value
	m.SubRegImm(cmpTmp, 1)
	m.MovRegMem(mapTmp, asm.MemBase(asm.ICReceiverReg, codegen.ElementsOffset-1))
	m.MovRegMem(asm.ReturnReg,
		asm.MemIndex(mapTmp, cmpTmp, codegen.WordSize, codegen.FixedArrayDataOffset))
	m.MovMemReg(asm.MemBase(asm.ICReceiverReg, codegen.ArrayLengthOffset-1), cmpTmp)
	m.Ret()
	c.missTo(m, miss, c.Refs.Runtime)

	s := c.newStub(KindCall, name, receiver.HeapObject().Map.ID, finishStub(m, "array-pop"))
	s.Guard = chain.Validate
	s.Call = func(rt *vm.Runtime, receiver vm.Value, args []vm.Value) (vm.Value, bool, error) {
		if len(args) != 0 {
			return vm.Nil, false, nil
		}
		arr := receiver.HeapObject()
		if arr.Length == 0 {
			return vm.Nil, false, nil
		}
		return rt.ArrayPop(arr), true, nil
	}
	return s, true
}

// CompileConstruct builds a construct stub for a simple constructor:
// inline-allocate an object with the recorded initial map and fill its
// slots from the descriptor. Non-simple constructors stay generic.
func (c *Compiler) CompileConstruct(rt *vm.Runtime, fn *vm.HeapObject, name *vm.Name) (*Stub, bool) {
	desc := fn.Construct
	if desc == nil || !desc.Simple || desc.InitialMap == nil {
		return nil, false
	}
	initialMap := desc.InitialMap
	size := int32(codegen.InObjectOffset + initialMap.InObjectCount*codegen.WordSize)

	m := asm.New()
	miss := &asm.Label{}
	// The constructor arrives in rdi, the argument count in rax, and
	// argument k sits at [rsp + (1+k)*WordSize] above the return
	// address. The count moves to rsi so allocation can reuse rax.
	m.MovRegReg(asm.RSI, asm.ReturnReg)
	// Identity check on the constructor.
	m.MovRegImm64(cmpTmp, int64(vm.FromHeapObject(fn).Bits()))
	m.CmpRegReg(asm.RDI, cmpTmp)
	m.Jcc(asm.NotEqual, miss)
	// Bump allocation with a limit check; exhaustion misses to the
	// generic constructor which can collect.
	m.MovRegImm64(asm.ScratchReg, c.Refs.AllocTop)
	m.MovRegMem(asm.ReturnReg, asm.MemBase(asm.ScratchReg, 0))
	m.MovRegReg(walkReg, asm.ReturnReg)
	m.AddRegImm(walkReg, size)
	m.MovRegImm64(mapTmp, c.Refs.AllocLimit)
	m.CmpRegMem(walkReg, asm.MemBase(mapTmp, 0))
	m.Jcc(asm.Above, miss)
	m.MovMemReg(asm.MemBase(asm.ScratchReg, 0), walkReg)
	// Install the map, then the slot initializers.
	m.MovRegImm64(cmpTmp, int64(initialMap.ID))
	m.MovMemReg(asm.MemBase(asm.ReturnReg, codegen.MapOffset), cmpTmp)
	for i, init := range desc.Initializers {
		off := codegen.InObjectOffset + int32(i)*codegen.WordSize
		if init != vm.Value(0) {
			m.MovRegImm64(cmpTmp, int64(init.Bits()))
			m.MovMemReg(asm.MemBase(asm.ReturnReg, off), cmpTmp)
			continue
		}
		// Parameter-mapped slot: read the incoming argument, or keep
		// the nil default when the caller passed too few.
		m.MovRegImm64(cmpTmp, int64(vm.Nil.Bits()))
		if i < len(desc.ArgIndex) {
			arg := desc.ArgIndex[i]
			short := &asm.Label{}
			m.CmpRegImm(asm.RSI, int32(arg))
			m.Jcc(asm.BelowEqual, short)
			m.MovRegMem(cmpTmp,
				asm.MemBase(asm.StackPointer, int32(codegen.WordSize*(1+arg))))
			m.Bind(short)
		}
		m.MovMemReg(asm.MemBase(asm.ReturnReg, off), cmpTmp)
	}
	// Tag and return the new object.
	m.OrRegImm(asm.ReturnReg, 1)
	m.Ret()
	// The generic entry expects the count back in rax.
	m.Bind(miss)
	m.MovRegReg(asm.ReturnReg, asm.RSI)
	m.MovRegImm64(asm.ScratchReg, c.Refs.ConstructEntry)
	m.JmpReg(asm.ScratchReg)

	s := c.newStub(KindConstruct, name, fn.Map.ID, finishStub(m, "construct:"+name.Str))
	s.Guard = func(rt *vm.Runtime, receiver vm.Value) bool {
		if !receiver.IsHeapObject() || receiver.HeapObject() != fn {
			return false
		}
		d := fn.Construct
		return d != nil && d.Simple && d.InitialMap == initialMap
	}
	s.Construct = func(rt *vm.Runtime, args []vm.Value) (vm.Value, bool) {
		o := vm.NewObject(rt.Heap, initialMap)
		for i := int32(0); i < initialMap.InObjectCount; i++ {
			if int(i) >= len(desc.Initializers) {
				break
			}
			init := desc.Initializers[i]
			if init != vm.Value(0) {
				o.SetFastField(i, init)
				continue
			}
			if int(i) < len(desc.ArgIndex) && desc.ArgIndex[i] < len(args) {
				o.SetFastField(i, args[desc.ArgIndex[i]])
			} else {
				o.SetFastField(i, vm.Nil)
			}
		}
		return vm.FromHeapObject(o), true
	}
	return s, true
}
