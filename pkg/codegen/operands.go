package codegen

import (
	"fmt"
	"math"

	"github.com/embervm/ember/pkg/asm"
	"github.com/embervm/ember/pkg/lir"
)

// Frame layout. The prologue pushes the caller's frame pointer, the
// function object and the context, forming a three-word header below
// the return address. Spill slots follow.
//
//	rbp+16+8n  incoming argument n (last pushed first)
//	rbp+8      return address
//	rbp+0      saved frame pointer
//	rbp-8      function
//	rbp-16     context
//	rbp-24     spill slot 0
const frameHeaderWords = 3

// StackSlotMem returns the frame-relative address of a stack slot.
// Non-negative indices are spill slots below the header; negative
// indices address incoming parameters above the return address.
func StackSlotMem(index int32) asm.Mem {
	if index >= 0 {
		return asm.MemBase(asm.FramePointer, -(index+frameHeaderWords)*WordSize)
	}
	// index -1 is the first parameter.
	return asm.MemBase(asm.FramePointer, WordSize+(-index)*WordSize)
}

// FunctionSlot and ContextSlot address the fixed header words.
func FunctionSlot() asm.Mem {
	return asm.MemBase(asm.FramePointer, -1*WordSize)
}

func ContextSlot() asm.Mem {
	return asm.MemBase(asm.FramePointer, -2*WordSize)
}

// ToReg resolves an operand that must be a general register. Any
// other variant is a bug in the upstream allocator.
func (g *Generator) ToReg(op lir.Operand) asm.Reg {
	if op.Kind != lir.OperandRegister {
		panic(fmt.Sprintf("codegen: operand %v is not a register", op))
	}
	return asm.FromAllocationIndex(int(op.Index))
}

// ToXMM resolves an operand that must be a double register.
func (g *Generator) ToXMM(op lir.Operand) asm.XMM {
	if op.Kind != lir.OperandDoubleRegister {
		panic(fmt.Sprintf("codegen: operand %v is not a double register", op))
	}
	return asm.DoubleFromAllocationIndex(int(op.Index))
}

// ToMem resolves a stack-slot or argument operand to its address.
func (g *Generator) ToMem(op lir.Operand) asm.Mem {
	switch op.Kind {
	case lir.OperandStackSlot, lir.OperandDoubleStackSlot:
		return StackSlotMem(op.Index)
	case lir.OperandArgument:
		return StackSlotMem(-(op.Index + 1))
	default:
		panic(fmt.Sprintf("codegen: operand %v has no memory address", op))
	}
}

// fieldMem addresses a field of a tagged heap pointer; the low tag bit
// is folded into the displacement.
func fieldMem(base asm.Reg, offset int32) asm.Mem {
	return asm.MemBase(base, offset-1)
}

// loadDoubleConstant materializes a double pool entry into an XMM
// register, going through the scratch GP register for the bit pattern.
func (g *Generator) loadDoubleConstant(dst asm.XMM, poolIndex int32) {
	c := g.chunk.Constants.At(poolIndex)
	if c.Rep != lir.RepDouble {
		g.Abort(fmt.Sprintf("constant %d is not a double", poolIndex))
		return
	}
	bits := math.Float64bits(c.Double)
	if bits == 0 {
		g.masm.Xorpd(dst, dst)
		return
	}
	g.masm.MovRegImm64(asm.ScratchReg, int64(bits))
	g.masm.MovqXmmReg(dst, asm.ScratchReg)
}

// LoadOperand materializes any non-double operand into dst. Constants
// that cannot be encoded inline abort the compilation.
func (g *Generator) LoadOperand(dst asm.Reg, op lir.Operand) {
	switch op.Kind {
	case lir.OperandRegister:
		src := g.ToReg(op)
		if src != dst {
			g.masm.MovRegReg(dst, src)
		}
	case lir.OperandStackSlot, lir.OperandArgument:
		g.masm.MovRegMem(dst, g.ToMem(op))
	case lir.OperandConstant:
		c := g.chunk.Constants.At(op.Index)
		switch c.Rep {
		case lir.RepInt32:
			g.masm.MovRegImm32(dst, c.Int32)
		case lir.RepTagged:
			g.masm.MovRegImm64(dst, int64(c.Tagged))
		default:
			g.Abort(fmt.Sprintf("unsupported constant representation %v in register load", c.Rep))
		}
	default:
		g.Abort(fmt.Sprintf("unsupported operand %v in register load", op))
	}
}
