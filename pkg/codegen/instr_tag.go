package codegen

import (
	"math"

	"github.com/embervm/ember/pkg/asm"
	"github.com/embervm/ember/pkg/lir"
)

// Smis are tagged as value<<1 with the low bit clear; heap references
// carry a set low bit. Tagging an int32 therefore overflows exactly
// when the value leaves the 31-bit smi range.

func (g *Generator) doSmiTag(in *lir.Instr) {
	out, ok := g.twoAddress(in)
	if !ok {
		return
	}
	g.masm.AddlRegReg(out, out)
	if in.Flags&lir.FlagCanOverflow != 0 {
		g.DeoptimizeIf(asm.Overflow, in.EnvIndex)
	}
	g.masm.Movsxd(out, out)
}

func (g *Generator) doSmiUntag(in *lir.Instr) {
	out, ok := g.twoAddress(in)
	if !ok {
		return
	}
	g.masm.SarRegImm(out, 1)
}

// doTaggedToI converts a tagged value known (or hoped) to be a smi.
// A heap reference deoptimizes; the unoptimized tier handles the
// boxed-number case.
func (g *Generator) doTaggedToI(in *lir.Instr) {
	out, ok := g.twoAddress(in)
	if !ok {
		return
	}
	g.masm.TestRegImm8(out, 1)
	g.DeoptimizeIf(asm.NotEqual, in.EnvIndex)
	g.masm.SarRegImm(out, 1)
}

// doNumberTagI tags an int32 that may not fit the smi range. The smi
// path is a single add; overflow takes a deferred path that boxes the
// value as a heap number instead of deoptimizing.
func (g *Generator) doNumberTagI(in *lir.Instr) {
	out, ok := g.twoAddress(in)
	if !ok {
		return
	}
	m := g.masm

	entry, exit := g.addDeferred(func(g *Generator) {
		g.deferredNumberTagI(in, out)
	})
	m.AddlRegReg(out, out)
	m.Jcc(asm.Overflow, entry)
	m.Movsxd(out, out)
	m.Bind(exit)
}

func (g *Generator) deferredNumberTagI(in *lir.Instr, out asm.Reg) {
	m := g.masm

	// The wrapped sum shifted back with its sign bit flipped is the
	// original value.
	m.SarlRegImm(out, 1)
	m.XorlRegImm(out, math.MinInt32)
	m.SubRegImm(asm.StackPointer, WordSize)
	m.MovMemReg(asm.MemBase(asm.StackPointer, 0), out)

	g.pushSafepointRegisters()
	m.CallAddr(g.refs.AllocateHeapNumber)
	g.RecordSafepointWithRegisters(in.PointerMap, NoDeoptIndex)
	g.storeToSafepointSlot(out, asm.ReturnReg)
	g.popSafepointRegisters()

	m.MovRegMem(asm.ScratchReg, asm.MemBase(asm.StackPointer, 0))
	m.AddRegImm(asm.StackPointer, WordSize)
	m.Cvtsi2sd(asm.ScratchDouble, asm.ScratchReg)
	m.MovsdMemReg(fieldMem(out, HeapNumberValueOffset), asm.ScratchDouble)
}

// doNumberTagD boxes an untagged double. The fast path bump-allocates
// from the new-space frontier; exhaustion branches to a deferred call
// into the allocator, made under the registers-pushed convention since
// it can collect.
func (g *Generator) doNumberTagD(in *lir.Instr) {
	src := g.ToXMM(in.Inputs[0])
	out := g.ToReg(in.Output)
	if len(in.Temps) == 0 {
		g.Abort("number-tag-d needs a temp register")
		return
	}
	tmp := g.ToReg(in.Temps[0])
	m := g.masm

	entry, exit := g.addDeferred(func(g *Generator) {
		g.deferredNumberTagD(in, src, out)
	})

	if g.cfg.DisableInlineAllocation {
		m.Jmp(entry)
	} else {
		m.MovRegImm64(asm.ScratchReg, g.refs.AllocTop)
		m.MovRegMem(out, asm.MemBase(asm.ScratchReg, 0))
		m.AddRegImm(out, HeapNumberSize)
		m.MovRegImm64(tmp, g.refs.AllocLimit)
		m.CmpRegMem(out, asm.MemBase(tmp, 0))
		m.Jcc(asm.Above, entry)
		m.MovMemReg(asm.MemBase(asm.ScratchReg, 0), out)
		m.SubRegImm(out, HeapNumberSize)
		m.MovRegImm64(tmp, g.refs.HeapNumberMap)
		m.MovMemReg(asm.MemBase(out, MapOffset), tmp)
	}
	m.Bind(exit)
	// Both paths leave the untagged object address in out.
	m.MovsdMemReg(asm.MemBase(out, HeapNumberValueOffset), src)
	m.OrRegImm(out, 1)
}

func (g *Generator) deferredNumberTagD(in *lir.Instr, src asm.XMM, out asm.Reg) {
	m := g.masm

	// The allocator may clobber XMM state; keep the double on the
	// stack across the call.
	m.SubRegImm(asm.StackPointer, WordSize)
	m.MovsdMemReg(asm.MemBase(asm.StackPointer, 0), src)

	g.pushSafepointRegisters()
	m.CallAddr(g.refs.AllocateHeapNumber)
	g.RecordSafepointWithRegisters(in.PointerMap, NoDeoptIndex)
	// Strip the tag; the join point re-tags after the value store.
	m.SubRegImm(asm.ReturnReg, 1)
	g.storeToSafepointSlot(out, asm.ReturnReg)
	g.popSafepointRegisters()

	m.MovsdRegMem(src, asm.MemBase(asm.StackPointer, 0))
	m.AddRegImm(asm.StackPointer, WordSize)
}

// doNumberUntagD unboxes a tagged number into an XMM register. Smis
// convert directly; anything else must be a heap number, checked by
// map identity when a deopt environment is available.
func (g *Generator) doNumberUntagD(in *lir.Instr) {
	src := g.ToReg(in.Inputs[0])
	out := g.ToXMM(in.Output)
	m := g.masm

	heap := &asm.Label{}
	done := &asm.Label{}
	m.TestRegImm8(src, 1)
	m.Jcc(asm.NotEqual, heap)

	m.MovRegReg(asm.ScratchReg, src)
	m.SarRegImm(asm.ScratchReg, 1)
	m.Cvtsi2sd(out, asm.ScratchReg)
	m.Jmp(done)

	m.Bind(heap)
	if in.HasEnvironment() {
		m.MovRegImm64(asm.ScratchReg, g.refs.HeapNumberMap)
		m.CmpRegMem(asm.ScratchReg, fieldMem(src, MapOffset))
		g.DeoptimizeIf(asm.NotEqual, in.EnvIndex)
	}
	m.MovsdRegMem(out, fieldMem(src, HeapNumberValueOffset))
	m.Bind(done)
}

// ---------------------------------------------------------------------------
// Registers-pushed call convention
// ---------------------------------------------------------------------------

// pushSafepointRegisters spills every allocatable register to a fixed
// stack layout so the collector can locate pointers during the call.
func (g *Generator) pushSafepointRegisters() {
	for _, r := range asm.AllocationOrder {
		g.masm.PushReg(r)
	}
}

func (g *Generator) popSafepointRegisters() {
	for i := len(asm.AllocationOrder) - 1; i >= 0; i-- {
		g.masm.PopReg(asm.AllocationOrder[i])
	}
}

// storeToSafepointSlot writes src into target's spilled slot, so the
// following pops restore target to the new value.
func (g *Generator) storeToSafepointSlot(target, src asm.Reg) {
	idx := -1
	for i, r := range asm.AllocationOrder {
		if r == target {
			idx = i
			break
		}
	}
	if idx < 0 {
		g.Abort("safepoint slot for non-allocatable register")
		return
	}
	disp := int32(len(asm.AllocationOrder)-1-idx) * WordSize
	g.masm.MovMemReg(asm.MemBase(asm.StackPointer, disp), src)
}
