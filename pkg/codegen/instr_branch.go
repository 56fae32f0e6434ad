package codegen

import (
	"fmt"

	"github.com/embervm/ember/pkg/asm"
	"github.com/embervm/ember/pkg/lir"
)

func condToCC(c lir.Condition) asm.CC {
	switch c {
	case lir.CondEqual:
		return asm.Equal
	case lir.CondNotEqual:
		return asm.NotEqual
	case lir.CondLess:
		return asm.Less
	case lir.CondLessEqual:
		return asm.LessEqual
	case lir.CondGreater:
		return asm.Greater
	case lir.CondGreaterEqual:
		return asm.GreaterEqual
	default:
		panic(fmt.Sprintf("codegen: unknown condition %d", c))
	}
}

func (g *Generator) doBranch(in *lir.Instr) {
	v := in.Inputs[0]
	switch v.Kind {
	case lir.OperandRegister:
		g.masm.CmplRegImm(g.ToReg(v), 0)
	case lir.OperandStackSlot:
		g.masm.CmpMemImm32(g.ToMem(v), 0)
	default:
		g.Abort(fmt.Sprintf("branch cannot test operand %v", v))
		return
	}
	g.emitBranch(asm.NotEqual, in.TrueBlock, in.FalseBlock)
}

func (g *Generator) doCmpAndBranch(in *lir.Instr) {
	left := g.ToReg(in.Inputs[0])
	right := in.Inputs[1]
	m := g.masm
	switch right.Kind {
	case lir.OperandRegister:
		m.CmplRegReg(left, g.ToReg(right))
	case lir.OperandConstant:
		c := g.chunk.Constants.At(right.Index)
		if c.Rep != lir.RepInt32 {
			g.Abort("cmp-and-branch needs an int32 constant")
			return
		}
		m.CmplRegImm(left, c.Int32)
	case lir.OperandStackSlot:
		m.CmpRegMem(left, g.ToMem(right))
	default:
		g.Abort(fmt.Sprintf("cmp-and-branch cannot use operand %v", right))
		return
	}
	g.emitBranch(condToCC(in.Cond), in.TrueBlock, in.FalseBlock)
}

func (g *Generator) doIsSmiAndBranch(in *lir.Instr) {
	v := in.Inputs[0]
	reg := asm.ScratchReg
	if v.Kind == lir.OperandRegister {
		reg = g.ToReg(v)
	} else {
		g.masm.MovRegMem(reg, g.ToMem(v))
	}
	g.masm.TestRegImm8(reg, 1)
	// low bit clear means smi
	g.emitBranch(asm.Equal, in.TrueBlock, in.FalseBlock)
}

func (g *Generator) doIsNullAndBranch(in *lir.Instr) {
	g.masm.CmpRegImm(g.ToReg(in.Inputs[0]), int32(in.Imm))
	g.emitBranch(asm.Equal, in.TrueBlock, in.FalseBlock)
}

func (g *Generator) doHasInstanceTypeAndBranch(in *lir.Instr) {
	obj := g.ToReg(in.Inputs[0])
	m := g.masm
	m.MovRegMem(asm.ScratchReg, fieldMem(obj, MapOffset))
	m.CmpMemImm32(asm.MemBase(asm.ScratchReg, InstanceTypeOffset), int32(in.Imm))
	g.emitBranch(asm.Equal, in.TrueBlock, in.FalseBlock)
}

// doCmpT hands a comparison on arbitrary tagged values to the generic
// compare routine and branches on its integer result.
func (g *Generator) doCmpT(in *lir.Instr) {
	g.LoadOperand(asm.ICReceiverReg, in.Inputs[0])
	g.LoadOperand(asm.ICValueReg, in.Inputs[1])
	g.masm.CallAddr(g.refs.GenericCompare)
	g.RecordSafepoint(in.PointerMap, g.lazyDeoptIndex(in))
	g.masm.CmpRegImm(asm.ReturnReg, 0)
	g.emitBranch(condToCC(in.Cond), in.TrueBlock, in.FalseBlock)
}
