package codegen

import (
	"github.com/embervm/ember/pkg/asm"
	"github.com/embervm/ember/pkg/lir"
	"github.com/embervm/ember/vm"
)

// ---------------------------------------------------------------------------
// Fields with statically known layout
// ---------------------------------------------------------------------------

func (g *Generator) doLoadNamedField(in *lir.Instr) {
	obj := g.ToReg(in.Inputs[0])
	out := g.ToReg(in.Output)
	m := g.masm
	if in.InObject {
		m.MovRegMem(out, fieldMem(obj, in.FieldOffset))
		return
	}
	m.MovRegMem(out, fieldMem(obj, PropertiesOffset))
	m.MovRegMem(out, fieldMem(out, in.FieldOffset))
}

func (g *Generator) doStoreNamedField(in *lir.Instr) {
	obj := g.ToReg(in.Inputs[0])
	val := g.ToReg(in.Inputs[1])
	m := g.masm
	if in.InObject {
		m.MovMemReg(fieldMem(obj, in.FieldOffset), val)
	} else {
		m.MovRegMem(asm.ScratchReg, fieldMem(obj, PropertiesOffset))
		m.MovMemReg(fieldMem(asm.ScratchReg, in.FieldOffset), val)
	}

	// Write barrier, skipped for smi values. The barrier takes its
	// arguments on the stack so no live register is disturbed.
	done := &asm.Label{}
	m.TestRegImm8(val, 1)
	m.Jcc(asm.Equal, done)
	m.PushReg(obj)
	m.PushReg(val)
	m.CallAddr(g.refs.RecordWrite)
	m.AddRegImm(asm.StackPointer, 2*WordSize)
	m.Bind(done)
}

// ---------------------------------------------------------------------------
// Generic property and call operations
//
// These place their operands in the fixed IC registers (receiver in
// rdx, name/key in rcx, value in rax), call the shared cache entry,
// and record a safepoint plus lazy deoptimization data so the callee
// can unwind into the unoptimized tier.
// ---------------------------------------------------------------------------

// loadICName materializes the interned name's hash, the identity the
// cache entry resolves.
func (g *Generator) loadICName(name string) {
	g.masm.MovRegImm64(asm.ICNameReg, int64(vm.Intern(name).Hash))
}

func (g *Generator) icCall(in *lir.Instr, target int64) {
	g.masm.CallAddr(target)
	g.RecordSafepoint(in.PointerMap, g.lazyDeoptIndex(in))
}

// icTarget picks the cache probe entry, or the direct generic handler
// when the stub cache is disabled.
func (g *Generator) icTarget(probe int64) int64 {
	if g.cfg.DisableStubCache {
		return g.refs.Runtime
	}
	return probe
}

func (g *Generator) doLoadNamedGeneric(in *lir.Instr) {
	g.LoadOperand(asm.ICReceiverReg, in.Inputs[0])
	g.loadICName(in.Name)
	g.icCall(in, g.icTarget(g.refs.LoadIC))
}

func (g *Generator) doStoreNamedGeneric(in *lir.Instr) {
	g.LoadOperand(asm.ICReceiverReg, in.Inputs[0])
	g.LoadOperand(asm.ICValueReg, in.Inputs[1])
	g.loadICName(in.Name)
	g.icCall(in, g.icTarget(g.refs.StoreIC))
}

func (g *Generator) doLoadKeyedGeneric(in *lir.Instr) {
	g.LoadOperand(asm.ICReceiverReg, in.Inputs[0])
	g.LoadOperand(asm.ICValueReg, in.Inputs[1]) // key
	g.icCall(in, g.icTarget(g.refs.KeyedLoadIC))
}

func (g *Generator) doCallNamed(in *lir.Instr) {
	g.LoadOperand(asm.ICReceiverReg, in.Inputs[0])
	g.loadICName(in.Name)
	g.masm.MovRegImm32(asm.ReturnReg, int32(in.Imm)) // argument count
	g.icCall(in, g.icTarget(g.refs.CallIC))
}

// doCallKnownGlobal calls a function whose identity was pinned by the
// optimizer; Imm carries its entry address.
func (g *Generator) doCallKnownGlobal(in *lir.Instr) {
	g.masm.MovRegImm64(asm.ScratchReg, in.Imm)
	g.masm.CallReg(asm.ScratchReg)
	g.RecordSafepoint(in.PointerMap, g.lazyDeoptIndex(in))
}

func (g *Generator) doCallNew(in *lir.Instr) {
	g.LoadOperand(asm.RDI, in.Inputs[0]) // constructor
	g.masm.MovRegImm32(asm.ReturnReg, int32(in.Imm))
	g.icCall(in, g.refs.ConstructEntry)
}

// ---------------------------------------------------------------------------
// Runtime transfers
// ---------------------------------------------------------------------------

func (g *Generator) doCallRuntime(in *lir.Instr) {
	g.masm.MovRegImm32(asm.ReturnReg, int32(len(in.Inputs)))
	g.masm.MovRegImm64(asm.ICNameReg, in.Imm) // runtime function id
	g.icCall(in, g.refs.Runtime)
}

func (g *Generator) doCallStub(in *lir.Instr) {
	g.masm.MovRegImm64(asm.ICNameReg, in.Imm) // stub id
	g.icCall(in, g.refs.StubEntry)
}

// doThrow never returns; the safepoint carries no deoptimization
// index and the trailing trap documents unreachability.
func (g *Generator) doThrow(in *lir.Instr) {
	g.LoadOperand(asm.ReturnReg, in.Inputs[0])
	g.masm.CallAddr(g.refs.ThrowEntry)
	g.RecordSafepoint(in.PointerMap, NoDeoptIndex)
	g.masm.Int3()
}
