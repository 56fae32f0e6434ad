package ic

import (
	"github.com/embervm/ember/pkg/asm"
	"github.com/embervm/ember/pkg/codegen"
	"github.com/embervm/ember/vm"
)

// Compiler builds stub code objects. It holds the external reference
// block so emitted code can reach the generic handlers, and the cache
// stubs are published into.
type Compiler struct {
	Refs  codegen.ExternalRefs
	Cache *StubCache
}

func NewCompiler(refs codegen.ExternalRefs, cache *StubCache) *Compiler {
	return &Compiler{Refs: refs, Cache: cache}
}

// receiverObject unwraps a value usable as a property-access receiver.
func receiverObject(v vm.Value) (*vm.HeapObject, bool) {
	if !v.IsHeapObject() {
		return nil, false
	}
	o := v.HeapObject()
	switch o.Kind {
	case vm.KindObject, vm.KindGlobal, vm.KindArray, vm.KindFunction, vm.KindString:
		return o, true
	}
	return nil, false
}

// newStub fills the common fields and attaches the finished code.
func (c *Compiler) newStub(kind Kind, name *vm.Name, mapID uint32, code *vm.CodeObject) *Stub {
	flags := FlagsFor(kind, 0)
	code.Flags = flags
	return &Stub{Kind: kind, Name: name, MapID: mapID, Flags: flags, Code: code}
}

// missTo ends a stub body: transfer to the generic handler.
func (c *Compiler) missTo(m *asm.Assembler, miss *asm.Label, target int64) {
	m.Bind(miss)
	m.MovRegImm64(asm.ScratchReg, target)
	m.JmpReg(asm.ScratchReg)
}

func finishStub(m *asm.Assembler, name string) *vm.CodeObject {
	co := vm.NewCodeObject(vm.CodeStub, name)
	co.Code = m.Bytes()
	return co
}

// ---------------------------------------------------------------------------
// Load stubs
// ---------------------------------------------------------------------------

// CompileLoad picks the stub family for one observed (receiver, name)
// access: field, constant function, callback accessor, interceptor or
// global cell, depending on where and how the walk found the property.
// Receivers the fast forms cannot serve stay uncached.
func (c *Compiler) CompileLoad(rt *vm.Runtime, receiver vm.Value, name *vm.Name) (*Stub, bool) {
	if _, ok := receiverObject(receiver); !ok {
		return nil, false
	}
	cur := receiver
	for {
		o, ok := receiverObject(cur)
		if !ok {
			return nil, false
		}
		if o.Interceptor != nil && o.Interceptor.Getter != nil {
			return c.loadInterceptorStub(rt, receiver, o, name)
		}
		if acc := o.Map.Accessors[name]; acc != nil && acc.Getter != nil {
			return c.loadCallbackStub(rt, receiver, o, name, acc)
		}
		if o.Kind == vm.KindGlobal {
			cell := rt.GlobalCell(o, name)
			if cell.CellValue != vm.TheHole {
				return c.loadGlobalStub(rt, receiver, o, name, cell)
			}
			cur = o.Map.Prototype
			continue
		}
		if o.Map.DictionaryMode || o.Dict != nil {
			if o.Dict != nil {
				if _, present := o.Dict.Get(name); present {
					// Slow-properties holder: not worth a stub.
					return nil, false
				}
			}
			cur = o.Map.Prototype
			continue
		}
		if idx := o.Map.FieldIndex(name); idx >= 0 {
			v := o.FastField(idx)
			// Constant tracking only pays off on shared prototype
			// holders; own properties vary per object.
			if fn, isFn := receiverObject(v); isFn && fn.Kind == vm.KindFunction &&
				o != receiver.HeapObject() {
				return c.loadConstantStub(rt, receiver, o, name, idx, v)
			}
			return c.loadFieldStub(rt, receiver, o, name, idx)
		}
		cur = o.Map.Prototype
	}
}

func (c *Compiler) loadFieldStub(rt *vm.Runtime, receiver vm.Value, holder *vm.HeapObject, name *vm.Name, idx int32) (*Stub, bool) {
	chain, ok := BuildChainCheck(rt, receiver, holder, name)
	if !ok {
		return nil, false
	}
	m := asm.New()
	miss := &asm.Label{}
	chain.emit(m, miss, c.Refs)
	c.emitFieldLoad(m, holder, idx)
	m.Ret()
	c.missTo(m, miss, c.Refs.Runtime)

	s := c.newStub(KindLoad, name, receiver.HeapObject().Map.ID, finishStub(m, "load-field:"+name.Str))
	s.Guard = chain.Validate
	s.Load = func(rt *vm.Runtime, receiver vm.Value) (vm.Value, bool, error) {
		return chain.HolderFor(receiver).FastField(idx), true, nil
	}
	return s, true
}

// emitFieldLoad reads a fast field from the validated holder left in
// the walk register.
func (c *Compiler) emitFieldLoad(m *asm.Assembler, holder *vm.HeapObject, idx int32) {
	if idx < holder.Map.InObjectCount {
		m.MovRegMem(asm.ReturnReg,
			asm.MemBase(walkReg, codegen.InObjectOffset+idx*codegen.WordSize-1))
		return
	}
	out := idx - holder.Map.InObjectCount
	m.MovRegMem(asm.ReturnReg, asm.MemBase(walkReg, codegen.PropertiesOffset-1))
	m.MovRegMem(asm.ReturnReg,
		asm.MemBase(asm.ReturnReg, codegen.FixedArrayDataOffset+out*codegen.WordSize-1))
}

func (c *Compiler) loadConstantStub(rt *vm.Runtime, receiver vm.Value, holder *vm.HeapObject, name *vm.Name, idx int32, constant vm.Value) (*Stub, bool) {
	chain, ok := BuildChainCheck(rt, receiver, holder, name)
	if !ok {
		return nil, false
	}
	m := asm.New()
	miss := &asm.Label{}
	chain.emit(m, miss, c.Refs)
	m.MovRegImm64(asm.ReturnReg, int64(constant.Bits()))
	m.Ret()
	c.missTo(m, miss, c.Refs.Runtime)

	s := c.newStub(KindLoad, name, receiver.HeapObject().Map.ID, finishStub(m, "load-constant:"+name.Str))
	s.Guard = func(rt *vm.Runtime, receiver vm.Value) bool {
		// The embedded constant must still be the holder's value.
		return chain.Validate(rt, receiver) && holder.FastField(idx) == constant
	}
	s.Load = func(rt *vm.Runtime, receiver vm.Value) (vm.Value, bool, error) {
		return constant, true, nil
	}
	return s, true
}

func (c *Compiler) loadCallbackStub(rt *vm.Runtime, receiver vm.Value, holder *vm.HeapObject, name *vm.Name, acc *vm.Accessor) (*Stub, bool) {
	chain, ok := BuildChainCheck(rt, receiver, holder, name)
	if !ok {
		return nil, false
	}
	m := asm.New()
	miss := &asm.Label{}
	chain.emit(m, miss, c.Refs)
	// Marshal (receiver, name) and invoke the native getter through
	// the runtime entry.
	m.PushReg(asm.ICReceiverReg)
	m.PushReg(asm.ICNameReg)
	m.CallAddr(c.Refs.Runtime)
	m.AddRegImm(asm.StackPointer, 2*codegen.WordSize)
	m.Ret()
	c.missTo(m, miss, c.Refs.Runtime)

	s := c.newStub(KindLoad, name, receiver.HeapObject().Map.ID, finishStub(m, "load-callback:"+name.Str))
	s.Guard = chain.Validate
	s.Load = func(rt *vm.Runtime, receiver vm.Value) (vm.Value, bool, error) {
		v, err := acc.Getter(receiver)
		return v, true, err
	}
	return s, true
}

func (c *Compiler) loadInterceptorStub(rt *vm.Runtime, receiver vm.Value, holder *vm.HeapObject, name *vm.Name) (*Stub, bool) {
	chain, ok := BuildChainCheck(rt, receiver, holder, name)
	if !ok {
		return nil, false
	}
	m := asm.New()
	miss := &asm.Label{}
	chain.emit(m, miss, c.Refs)
	m.CallAddr(c.Refs.Runtime)
	// A declined interceptor continues the generic walk.
	m.TestRegReg(asm.ReturnReg, asm.ReturnReg)
	m.Jcc(asm.Equal, miss)
	m.Ret()
	c.missTo(m, miss, c.Refs.Runtime)

	s := c.newStub(KindLoad, name, receiver.HeapObject().Map.ID, finishStub(m, "load-interceptor:"+name.Str))
	s.Guard = chain.Validate
	s.Load = func(rt *vm.Runtime, receiver vm.Value) (vm.Value, bool, error) {
		h := chain.HolderFor(receiver)
		// Interceptors are per-object; a same-shaped holder without
		// one, or a declined getter, continues generically.
		if h.Interceptor == nil || h.Interceptor.Getter == nil {
			return vm.Nil, false, nil
		}
		if v, handled := h.Interceptor.Getter(h, name); handled {
			return v, true, nil
		}
		return vm.Nil, false, nil
	}
	return s, true
}

func (c *Compiler) loadGlobalStub(rt *vm.Runtime, receiver vm.Value, holder *vm.HeapObject, name *vm.Name, cell *vm.HeapObject) (*Stub, bool) {
	chain, ok := BuildChainCheck(rt, receiver, holder, name)
	if !ok {
		return nil, false
	}
	m := asm.New()
	miss := &asm.Label{}
	chain.emit(m, miss, c.Refs)
	m.MovRegImm64(asm.ScratchReg, int64(vm.FromHeapObject(cell).Bits()))
	m.MovRegMem(asm.ReturnReg, asm.MemBase(asm.ScratchReg, codegen.PropertyCellValueOffset-1))
	m.MovRegImm64(asm.ScratchReg, int64(vm.TheHole.Bits()))
	m.CmpRegReg(asm.ReturnReg, asm.ScratchReg)
	m.Jcc(asm.Equal, miss)
	m.Ret()
	c.missTo(m, miss, c.Refs.Runtime)

	s := c.newStub(KindLoad, name, receiver.HeapObject().Map.ID, finishStub(m, "load-global:"+name.Str))
	s.Guard = chain.Validate
	s.Load = func(rt *vm.Runtime, receiver vm.Value) (vm.Value, bool, error) {
		if cell.CellValue == vm.TheHole {
			return vm.Nil, false, nil // deleted since compilation
		}
		return cell.CellValue, true, nil
	}
	return s, true
}

// ---------------------------------------------------------------------------
// Store stubs
// ---------------------------------------------------------------------------

// CompileStore builds a stub for one observed store. Stores only ever
// specialize on the receiver itself: field write, map-transition
// write, global cell update, callback or interceptor.
func (c *Compiler) CompileStore(rt *vm.Runtime, receiver vm.Value, name *vm.Name) (*Stub, bool) {
	o, ok := receiverObject(receiver)
	if !ok {
		return nil, false
	}
	if o.Interceptor != nil && o.Interceptor.Setter != nil {
		return c.storeInterceptorStub(rt, receiver, o, name)
	}
	if acc := o.Map.Accessors[name]; acc != nil && acc.Setter != nil {
		return c.storeCallbackStub(rt, receiver, o, name, acc)
	}
	if o.Map.DictionaryMode {
		if o.Kind != vm.KindGlobal {
			return nil, false
		}
		return c.storeGlobalCellStub(rt, receiver, o, name)
	}
	if idx := o.Map.FieldIndex(name); idx >= 0 {
		return c.storeFieldStub(rt, receiver, o, name, idx, nil)
	}
	// New property: specialize on the map transition.
	target := o.Map.Transition(name)
	return c.storeFieldStub(rt, receiver, o, name, target.FieldIndex(name), target)
}

// storeFieldStub writes a fast field; with a non-nil transition it
// also installs the new map, the growth of the backing store included.
func (c *Compiler) storeFieldStub(rt *vm.Runtime, receiver vm.Value, o *vm.HeapObject, name *vm.Name, idx int32, transition *vm.Map) (*Stub, bool) {
	chain, ok := BuildChainCheck(rt, receiver, o, name)
	if !ok {
		return nil, false
	}
	m := asm.New()
	miss := &asm.Label{}
	chain.emit(m, miss, c.Refs)
	if transition != nil {
		m.MovRegImm64(cmpTmp, int64(transition.ID))
		m.MovMemReg(asm.MemBase(walkReg, codegen.MapOffset-1), cmpTmp)
	}
	c.emitFieldStore(m, o, idx)
	m.Ret()
	c.missTo(m, miss, c.Refs.Runtime)

	s := c.newStub(KindStore, name, o.Map.ID, finishStub(m, "store-field:"+name.Str))
	s.Guard = chain.Validate
	s.Store = func(rt *vm.Runtime, receiver vm.Value, v vm.Value) (bool, error) {
		obj := receiver.HeapObject()
		if transition != nil {
			obj.Map = transition
		}
		obj.SetFastField(idx, v)
		rt.Heap.WriteBarrier(obj, v)
		return true, nil
	}
	return s, true
}

// emitFieldStore writes the IC value register to a fast field and
// emits the write barrier, elided for smi values.
func (c *Compiler) emitFieldStore(m *asm.Assembler, o *vm.HeapObject, idx int32) {
	if idx < o.Map.InObjectCount {
		m.MovMemReg(asm.MemBase(walkReg, codegen.InObjectOffset+idx*codegen.WordSize-1),
			asm.ICValueReg)
	} else {
		out := idx - o.Map.InObjectCount
		m.MovRegMem(mapTmp, asm.MemBase(walkReg, codegen.PropertiesOffset-1))
		m.MovMemReg(asm.MemBase(mapTmp, codegen.FixedArrayDataOffset+out*codegen.WordSize-1),
			asm.ICValueReg)
	}
	done := &asm.Label{}
	m.TestRegImm8(asm.ICValueReg, 1)
	m.Jcc(asm.Equal, done)
	m.PushReg(walkReg)
	m.PushReg(asm.ICValueReg)
	m.CallAddr(c.Refs.RecordWrite)
	m.AddRegImm(asm.StackPointer, 2*codegen.WordSize)
	m.Bind(done)
}

func (c *Compiler) storeGlobalCellStub(rt *vm.Runtime, receiver vm.Value, o *vm.HeapObject, name *vm.Name) (*Stub, bool) {
	cell := rt.GlobalCell(o, name)
	if cell.CellValue == vm.TheHole {
		// The property does not exist yet; its introduction must go
		// through the generic path.
		return nil, false
	}
	chain, ok := BuildChainCheck(rt, receiver, o, name)
	if !ok {
		return nil, false
	}
	m := asm.New()
	miss := &asm.Label{}
	chain.emit(m, miss, c.Refs)
	m.MovRegImm64(asm.ScratchReg, int64(vm.FromHeapObject(cell).Bits()))
	m.CmpMemImm32(asm.MemBase(asm.ScratchReg, codegen.PropertyCellValueOffset-1),
		int32(vm.TheHole.Bits()))
	m.Jcc(asm.Equal, miss)
	m.MovMemReg(asm.MemBase(asm.ScratchReg, codegen.PropertyCellValueOffset-1),
		asm.ICValueReg)
	m.Ret()
	c.missTo(m, miss, c.Refs.Runtime)

	s := c.newStub(KindStore, name, o.Map.ID, finishStub(m, "store-global:"+name.Str))
	s.Guard = chain.Validate
	s.Store = func(rt *vm.Runtime, receiver vm.Value, v vm.Value) (bool, error) {
		if cell.CellValue == vm.TheHole {
			return false, nil
		}
		cell.CellValue = v
		rt.Heap.WriteBarrier(cell, v)
		return true, nil
	}
	return s, true
}

func (c *Compiler) storeCallbackStub(rt *vm.Runtime, receiver vm.Value, o *vm.HeapObject, name *vm.Name, acc *vm.Accessor) (*Stub, bool) {
	chain, ok := BuildChainCheck(rt, receiver, o, name)
	if !ok {
		return nil, false
	}
	m := asm.New()
	miss := &asm.Label{}
	chain.emit(m, miss, c.Refs)
	m.PushReg(asm.ICReceiverReg)
	m.PushReg(asm.ICNameReg)
	m.PushReg(asm.ICValueReg)
	m.CallAddr(c.Refs.Runtime)
	m.AddRegImm(asm.StackPointer, 3*codegen.WordSize)
	m.Ret()
	c.missTo(m, miss, c.Refs.Runtime)

	s := c.newStub(KindStore, name, o.Map.ID, finishStub(m, "store-callback:"+name.Str))
	s.Guard = chain.Validate
	s.Store = func(rt *vm.Runtime, receiver vm.Value, v vm.Value) (bool, error) {
		return true, acc.Setter(receiver, v)
	}
	return s, true
}

func (c *Compiler) storeInterceptorStub(rt *vm.Runtime, receiver vm.Value, o *vm.HeapObject, name *vm.Name) (*Stub, bool) {
	chain, ok := BuildChainCheck(rt, receiver, o, name)
	if !ok {
		return nil, false
	}
	m := asm.New()
	miss := &asm.Label{}
	chain.emit(m, miss, c.Refs)
	m.CallAddr(c.Refs.Runtime)
	m.TestRegReg(asm.ReturnReg, asm.ReturnReg)
	m.Jcc(asm.Equal, miss)
	m.Ret()
	c.missTo(m, miss, c.Refs.Runtime)

	s := c.newStub(KindStore, name, o.Map.ID, finishStub(m, "store-interceptor:"+name.Str))
	s.Guard = chain.Validate
	s.Store = func(rt *vm.Runtime, receiver vm.Value, v vm.Value) (bool, error) {
		h := receiver.HeapObject()
		if h.Interceptor == nil || h.Interceptor.Setter == nil {
			return false, nil
		}
		if h.Interceptor.Setter(h, name, v) {
			return true, nil
		}
		return false, nil
	}
	return s, true
}
