package codegen

import (
	"fmt"

	"github.com/embervm/ember/pkg/asm"
	"github.com/embervm/ember/pkg/lir"
)

// Integer instructions operate on untagged 32-bit values kept
// sign-extended in 64-bit registers. The 32-bit instruction forms are
// used so the overflow flag reflects int32 wraparound.

// twoAddress checks the allocator's contract that the output aliases
// the first input, and returns the shared register.
func (g *Generator) twoAddress(in *lir.Instr) (asm.Reg, bool) {
	out := g.ToReg(in.Output)
	if g.ToReg(in.Inputs[0]) != out {
		g.Abort(fmt.Sprintf("%s output must alias the first input", in.Op))
		return 0, false
	}
	return out, true
}

func (g *Generator) doArithI(in *lir.Instr) {
	out, ok := g.twoAddress(in)
	if !ok {
		return
	}
	right := in.Inputs[1]
	m := g.masm

	type forms struct {
		rr func(dst, src asm.Reg)
		ri func(dst asm.Reg, imm int32)
	}
	var f forms
	switch in.Op {
	case lir.OpAddI:
		f = forms{m.AddlRegReg, m.AddlRegImm}
	case lir.OpSubI:
		f = forms{m.SublRegReg, m.SublRegImm}
	case lir.OpAndI:
		f = forms{m.AndlRegReg, m.AndlRegImm}
	case lir.OpOrI:
		f = forms{m.OrlRegReg, m.OrlRegImm}
	case lir.OpXorI:
		f = forms{m.XorlRegReg, m.XorlRegImm}
	}

	switch right.Kind {
	case lir.OperandRegister:
		f.rr(out, g.ToReg(right))
	case lir.OperandConstant:
		c := g.chunk.Constants.At(right.Index)
		if c.Rep != lir.RepInt32 {
			g.Abort(fmt.Sprintf("%s needs an int32 constant", in.Op))
			return
		}
		f.ri(out, c.Int32)
	case lir.OperandStackSlot:
		m.MovlRegMem(asm.ScratchReg, g.ToMem(right))
		f.rr(out, asm.ScratchReg)
	default:
		g.Abort(fmt.Sprintf("%s cannot use operand %v", in.Op, right))
		return
	}

	if in.Flags&lir.FlagCanOverflow != 0 {
		g.DeoptimizeIf(asm.Overflow, in.EnvIndex)
	}
	m.Movsxd(out, out)
}

func (g *Generator) doMulI(in *lir.Instr) {
	out, ok := g.twoAddress(in)
	if !ok {
		return
	}
	right := in.Inputs[1]
	minusZero := in.Flags&lir.FlagBailoutOnMinusZero != 0
	m := g.masm

	// The multiply clobbers the left operand, but the minus-zero check
	// needs its original sign.
	if minusZero {
		m.MovRegReg(asm.ScratchReg, out)
	}

	switch right.Kind {
	case lir.OperandRegister:
		m.ImullRegReg(out, g.ToReg(right))
	case lir.OperandConstant:
		c := g.chunk.Constants.At(right.Index)
		if c.Rep != lir.RepInt32 {
			g.Abort("mul-i needs an int32 constant")
			return
		}
		m.ImullRegRegImm(out, out, c.Int32)
	default:
		g.Abort(fmt.Sprintf("mul-i cannot use operand %v", right))
		return
	}

	if in.Flags&lir.FlagCanOverflow != 0 {
		g.DeoptimizeIf(asm.Overflow, in.EnvIndex)
	}

	if minusZero {
		// A zero result is -0 exactly when the sign bits of the
		// operands differ, i.e. their OR is negative.
		done := &asm.Label{}
		m.TestlRegReg(out, out)
		m.Jcc(asm.NotEqual, done)
		switch right.Kind {
		case lir.OperandRegister:
			m.OrlRegReg(asm.ScratchReg, g.ToReg(right))
		case lir.OperandConstant:
			c := g.chunk.Constants.At(right.Index)
			if c.Int32 < 0 {
				// negative constant: any zero product means left was 0.
				g.DeoptimizeIf(asm.Always, in.EnvIndex)
				m.Bind(done)
				m.Movsxd(out, out)
				return
			}
			if c.Int32 > 0 {
				m.Bind(done)
				m.Movsxd(out, out)
				return
			}
			// multiply by 0: sign comes from the left operand alone.
			m.TestlRegReg(asm.ScratchReg, asm.ScratchReg)
		}
		g.DeoptimizeIf(asm.Sign, in.EnvIndex)
		m.Bind(done)
	}
	m.Movsxd(out, out)
}

func (g *Generator) doShiftI(in *lir.Instr) {
	out, ok := g.twoAddress(in)
	if !ok {
		return
	}
	right := in.Inputs[1]
	m := g.masm

	if right.Kind == lir.OperandConstant {
		c := g.chunk.Constants.At(right.Index)
		n := uint8(c.Int32 & 0x1f)
		switch in.Op {
		case lir.OpShlI:
			if n > 0 {
				m.ShllRegImm(out, n)
			}
		case lir.OpSarI:
			if n > 0 {
				m.SarlRegImm(out, n)
			}
		case lir.OpShrI:
			if n > 0 {
				m.ShrlRegImm(out, n)
			} else if in.Flags&lir.FlagCanOverflow != 0 {
				// shr by zero: a set sign bit means the value is only
				// representable as an unsigned quantity.
				m.TestlRegReg(out, out)
				g.DeoptimizeIf(asm.Sign, in.EnvIndex)
			}
		}
		m.Movsxd(out, out)
		return
	}

	// Variable shifts take the count in cl.
	if g.ToReg(right) != asm.RCX {
		g.Abort("variable shift count must be allocated to rcx")
		return
	}
	switch in.Op {
	case lir.OpShlI:
		m.ShllRegCl(out)
	case lir.OpSarI:
		m.SarlRegCl(out)
	case lir.OpShrI:
		m.ShrlRegCl(out)
		if in.Flags&lir.FlagCanOverflow != 0 {
			m.TestlRegReg(out, out)
			g.DeoptimizeIf(asm.Sign, in.EnvIndex)
		}
	}
	m.Movsxd(out, out)
}

func (g *Generator) doConstantD(in *lir.Instr) {
	g.loadDoubleConstant(g.ToXMM(in.Output), in.ConstantIdx)
}

func (g *Generator) doReturn(in *lir.Instr) {
	if len(in.Inputs) > 0 {
		g.LoadOperand(asm.ReturnReg, in.Inputs[0])
	}
	m := g.masm
	m.MovRegReg(asm.StackPointer, asm.FramePointer)
	m.PopReg(asm.FramePointer)
	m.Ret()
}
