package codegen

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/embervm/ember/pkg/asm"
	"github.com/embervm/ember/pkg/deopt"
	"github.com/embervm/ember/pkg/lir"
	"github.com/embervm/ember/vm"
)

var log = commonlog.GetLogger("ember.codegen")

// ErrAborted is returned when a compilation gave up. The function
// keeps running in the unoptimized tier; nothing was published.
var ErrAborted = errors.New("codegen: compilation aborted")

// Generator owns all state of one in-progress compilation. It is used
// from a single goroutine and either completes or aborts; the abort
// flag is sticky and checked between phases.
type Generator struct {
	masm  *asm.Assembler
	chunk *lir.Chunk
	plan  *lir.EmitPlan
	refs  ExternalRefs
	cfg   Config

	aborted bool
	reason  string

	current      int   // instruction index being emitted
	currentBlock int32 // block id of the last bound label

	safepoints  SafepointTable
	blockLabels map[int32]*asm.Label
	deferred    []*deferredBlock

	// Deoptimization bookkeeping. Environment registration order
	// assigns deoptimization indices.
	translations deopt.TranslationBuffer
	deoptEnvs    []*lir.Environment
	deoptLabels  []*asm.Label // indexed by deoptimization index
	literalIndex map[int32]int32
	literals     []lir.Constant
	deoptSeen    int
}

// New prepares a generator for one chunk. The chunk is owned by the
// generator until GenerateCode returns.
func New(chunk *lir.Chunk, refs ExternalRefs, cfg Config) *Generator {
	return &Generator{
		masm:         asm.New(),
		chunk:        chunk,
		refs:         refs,
		cfg:          cfg,
		blockLabels:  map[int32]*asm.Label{},
		literalIndex: map[int32]int32{},
	}
}

// Abort abandons the compilation with a reason. It does not unwind;
// emission keeps consuming instructions but the result is discarded.
func (g *Generator) Abort(reason string) {
	if g.aborted {
		return
	}
	g.aborted = true
	g.reason = reason
	log.Infof("aborting %s: %s", g.chunk.FunctionName, reason)
}

// Aborted reports whether the compilation has been abandoned.
func (g *Generator) Aborted() bool { return g.aborted }

// GenerateCode runs the four phases in order: prologue, body, deferred
// code, table emission. Any abort short-circuits to ErrAborted.
func (g *Generator) GenerateCode() (*vm.CodeObject, error) {
	if err := g.chunk.Validate(); err != nil {
		return nil, err
	}
	g.plan = g.chunk.BuildEmitPlan()

	g.emitPrologue()
	if g.aborted {
		return nil, fmt.Errorf("%w: %s", ErrAborted, g.reason)
	}
	g.emitBody()
	if g.aborted {
		return nil, fmt.Errorf("%w: %s", ErrAborted, g.reason)
	}
	g.emitDeferred()
	g.emitDeoptJumpTable()
	if g.aborted {
		return nil, fmt.Errorf("%w: %s", ErrAborted, g.reason)
	}
	return g.finish()
}

// ---------------------------------------------------------------------------
// Phase 1: prologue
// ---------------------------------------------------------------------------

// The caller arrives with the function object in RDI and the current
// context in the context register. The prologue builds the fixed
// three-word header and reserves the spill area.
func (g *Generator) emitPrologue() {
	m := g.masm
	m.PushReg(asm.FramePointer)
	m.MovRegReg(asm.FramePointer, asm.StackPointer)
	m.PushReg(asm.RDI)        // function
	m.PushReg(asm.ContextReg) // context

	slots := g.chunk.SpillSlotCount
	if slots > 0 {
		m.SubRegImm(asm.StackPointer, slots*WordSize)
		if g.cfg.DebugFillSlots {
			for i := int32(0); i < slots; i++ {
				m.MovMemImm32(StackSlotMem(i), SlotSentinel)
			}
		}
	}
	if g.cfg.Trace {
		m.CallAddr(g.refs.TraceEntry)
	}
}

// ---------------------------------------------------------------------------
// Phase 2: body
// ---------------------------------------------------------------------------

func (g *Generator) emitBody() {
	for i, in := range g.chunk.Instructions {
		if g.aborted {
			return
		}
		g.current = i
		if !g.plan.Emit[i] {
			continue
		}
		g.emitInstr(in)
	}
}

func (g *Generator) emitInstr(in *lir.Instr) {
	switch in.Op {
	case lir.OpNop:
	case lir.OpLabel:
		g.currentBlock = in.BlockID
		g.masm.Bind(g.blockLabel(in.BlockID))
	case lir.OpGap:
		for _, mv := range ResolveMoves(in.Moves) {
			g.emitMove(mv)
		}
	case lir.OpGoto:
		g.emitGoto(in.TrueBlock)
	case lir.OpReturn:
		g.doReturn(in)

	case lir.OpConstantI, lir.OpConstantT:
		g.LoadOperand(g.ToReg(in.Output), lir.ConstantOperand(in.ConstantIdx))
	case lir.OpConstantD:
		g.doConstantD(in)

	case lir.OpAddI, lir.OpSubI, lir.OpAndI, lir.OpOrI, lir.OpXorI:
		g.doArithI(in)
	case lir.OpMulI:
		g.doMulI(in)
	case lir.OpShlI, lir.OpShrI, lir.OpSarI:
		g.doShiftI(in)

	case lir.OpSmiTag:
		g.doSmiTag(in)
	case lir.OpSmiUntag:
		g.doSmiUntag(in)
	case lir.OpTaggedToI:
		g.doTaggedToI(in)
	case lir.OpNumberTagI:
		g.doNumberTagI(in)
	case lir.OpNumberTagD:
		g.doNumberTagD(in)
	case lir.OpNumberUntagD:
		g.doNumberUntagD(in)

	case lir.OpBranch:
		g.doBranch(in)
	case lir.OpCmpAndBranch:
		g.doCmpAndBranch(in)
	case lir.OpIsSmiAndBranch:
		g.doIsSmiAndBranch(in)
	case lir.OpIsNullAndBranch:
		g.doIsNullAndBranch(in)
	case lir.OpHasInstanceTypeAndBranch:
		g.doHasInstanceTypeAndBranch(in)
	case lir.OpCmpT:
		g.doCmpT(in)

	case lir.OpLoadNamedField:
		g.doLoadNamedField(in)
	case lir.OpStoreNamedField:
		g.doStoreNamedField(in)

	case lir.OpLoadNamedGeneric:
		g.doLoadNamedGeneric(in)
	case lir.OpStoreNamedGeneric:
		g.doStoreNamedGeneric(in)
	case lir.OpLoadKeyedGeneric:
		g.doLoadKeyedGeneric(in)
	case lir.OpCallNamed:
		g.doCallNamed(in)
	case lir.OpCallKnownGlobal:
		g.doCallKnownGlobal(in)
	case lir.OpCallNew:
		g.doCallNew(in)

	case lir.OpCallRuntime:
		g.doCallRuntime(in)
	case lir.OpCallStub:
		g.doCallStub(in)
	case lir.OpThrow:
		g.doThrow(in)
	case lir.OpDeoptimize:
		g.DeoptimizeIf(asm.Always, in.EnvIndex)

	default:
		g.Abort(fmt.Sprintf("unsupported instruction %s", in.Op))
	}
}

func (g *Generator) blockLabel(id int32) *asm.Label {
	if l, ok := g.blockLabels[id]; ok {
		return l
	}
	l := &asm.Label{}
	g.blockLabels[id] = l
	return l
}

// nextEmittedBlock returns the block id of the next label that will
// actually be emitted after the current instruction, or -1 at the end
// of the stream. Used to elide jumps to the fallthrough block.
func (g *Generator) nextEmittedBlock() int32 {
	for i := g.current + 1; i < len(g.chunk.Instructions); i++ {
		in := g.chunk.Instructions[i]
		if in.Op == lir.OpLabel && g.plan.Emit[i] {
			return in.BlockID
		}
	}
	return -1
}

func (g *Generator) emitGoto(block int32) {
	target := g.plan.Target(block)
	if target != g.nextEmittedBlock() {
		g.masm.Jmp(g.blockLabel(target))
	}
}

// emitBranch emits a conditional transfer to trueBlock/falseBlock,
// skipping whichever jump coincides with fallthrough.
func (g *Generator) emitBranch(cc asm.CC, trueBlock, falseBlock int32) {
	t := g.plan.Target(trueBlock)
	f := g.plan.Target(falseBlock)
	next := g.nextEmittedBlock()
	switch {
	case f == next:
		g.masm.Jcc(cc, g.blockLabel(t))
	case t == next:
		g.masm.Jcc(cc.Negate(), g.blockLabel(f))
	default:
		g.masm.Jcc(cc, g.blockLabel(t))
		g.masm.Jmp(g.blockLabel(f))
	}
}

// ---------------------------------------------------------------------------
// Moves
// ---------------------------------------------------------------------------

func (g *Generator) gpOf(op lir.Operand) asm.Reg {
	if isScratch(op) {
		return asm.ScratchReg
	}
	return g.ToReg(op)
}

func (g *Generator) xmmOf(op lir.Operand) asm.XMM {
	if isScratch(op) {
		return asm.ScratchDouble
	}
	return g.ToXMM(op)
}

// emitMove performs one already-sequenced move. Memory-to-memory
// forms route through the scratch registers.
func (g *Generator) emitMove(m lir.MovePair) {
	switch {
	case m.To.Kind == lir.OperandRegister:
		dst := g.gpOf(m.To)
		if m.From.Kind == lir.OperandRegister {
			src := g.gpOf(m.From)
			if src != dst {
				g.masm.MovRegReg(dst, src)
			}
			return
		}
		g.LoadOperand(dst, m.From)

	case m.To.Kind == lir.OperandDoubleRegister:
		dst := g.xmmOf(m.To)
		switch m.From.Kind {
		case lir.OperandDoubleRegister:
			src := g.xmmOf(m.From)
			if src != dst {
				g.masm.MovsdRegReg(dst, src)
			}
		case lir.OperandDoubleStackSlot:
			g.masm.MovsdRegMem(dst, g.ToMem(m.From))
		case lir.OperandConstant:
			g.loadDoubleConstant(dst, m.From.Index)
		default:
			g.Abort(fmt.Sprintf("bad move %v -> %v", m.From, m.To))
		}

	case m.To.Kind == lir.OperandStackSlot:
		dst := g.ToMem(m.To)
		switch m.From.Kind {
		case lir.OperandRegister:
			g.masm.MovMemReg(dst, g.gpOf(m.From))
		case lir.OperandStackSlot, lir.OperandArgument:
			g.masm.MovRegMem(asm.ScratchReg, g.ToMem(m.From))
			g.masm.MovMemReg(dst, asm.ScratchReg)
		case lir.OperandConstant:
			c := g.chunk.Constants.At(m.From.Index)
			if c.Rep == lir.RepInt32 {
				g.masm.MovMemImm32(dst, c.Int32)
				return
			}
			g.LoadOperand(asm.ScratchReg, m.From)
			g.masm.MovMemReg(dst, asm.ScratchReg)
		default:
			g.Abort(fmt.Sprintf("bad move %v -> %v", m.From, m.To))
		}

	case m.To.Kind == lir.OperandDoubleStackSlot:
		dst := g.ToMem(m.To)
		switch m.From.Kind {
		case lir.OperandDoubleRegister:
			g.masm.MovsdMemReg(dst, g.xmmOf(m.From))
		case lir.OperandDoubleStackSlot:
			// No register-free slot-to-slot form; go through the
			// double scratch.
			g.masm.MovsdRegMem(asm.ScratchDouble, g.ToMem(m.From))
			g.masm.MovsdMemReg(dst, asm.ScratchDouble)
		case lir.OperandConstant:
			g.loadDoubleConstant(asm.ScratchDouble, m.From.Index)
			g.masm.MovsdMemReg(dst, asm.ScratchDouble)
		default:
			g.Abort(fmt.Sprintf("bad move %v -> %v", m.From, m.To))
		}

	default:
		g.Abort(fmt.Sprintf("bad move destination %v", m.To))
	}
}

// ---------------------------------------------------------------------------
// Safepoints
// ---------------------------------------------------------------------------

// RecordSafepoint keys a safepoint to the current offset, which must
// be the return address of the call just emitted.
func (g *Generator) RecordSafepoint(pm *lir.PointerMap, deoptIndex int32) {
	g.safepoints.DefineSafepoint(g.masm.Offset(), pm, deoptIndex)
}

// RecordSafepointWithRegisters is the variant for calls made under the
// all-registers-pushed convention.
func (g *Generator) RecordSafepointWithRegisters(pm *lir.PointerMap, deoptIndex int32) {
	g.safepoints.DefineSafepointWithRegisters(g.masm.Offset(), pm, deoptIndex)
}

// lazyDeoptIndex registers the instruction's environment, if any, and
// returns the index a lazy deoptimization at this call should use.
func (g *Generator) lazyDeoptIndex(in *lir.Instr) int32 {
	if !in.HasEnvironment() {
		return NoDeoptIndex
	}
	g.RegisterEnvironment(in.EnvIndex)
	return g.chunk.Environments[in.EnvIndex].DeoptIndex
}

// ---------------------------------------------------------------------------
// Phase 4: finish
// ---------------------------------------------------------------------------

func (g *Generator) finish() (*vm.CodeObject, error) {
	co := vm.NewCodeObject(vm.CodeOptimized, g.chunk.FunctionName)
	co.Code = g.masm.Bytes()
	co.StackSlots = g.chunk.SpillSlotCount
	co.SafepointTable = g.safepoints.Emit(g.chunk.SpillSlotCount)

	meta, err := g.PopulateDeoptimizationData()
	if err != nil {
		return nil, err
	}
	co.DeoptMeta = meta
	return co, nil
}
